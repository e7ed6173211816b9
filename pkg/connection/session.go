package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/sigweihq/solwallet/pkg/constants"
	"github.com/sigweihq/solwallet/pkg/events"
	"github.com/sigweihq/solwallet/pkg/poller"
	"github.com/sigweihq/solwallet/pkg/state"
	"github.com/sigweihq/solwallet/pkg/wallet"
)

// SessionAccount is an address in a session and the wallet account behind it
type SessionAccount struct {
	Address string
	Account wallet.Account
}

// Session is the live record of one connection. The selected account is
// always one of Accounts.
type Session struct {
	ID          string
	ConnectorID string
	Wallet      wallet.Wallet

	manager *Manager

	mu        sync.RWMutex
	accounts  []SessionAccount
	selected  SessionAccount
	nextID    int
	listeners map[int]func([]SessionAccount)
}

func newSession(m *Manager, connectorID string, w wallet.Wallet, accounts []wallet.Account, preferred string) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		ConnectorID: connectorID,
		Wallet:      w,
		manager:     m,
		listeners:   make(map[int]func([]SessionAccount)),
	}
	s.accounts = toSessionAccounts(accounts)
	s.selected = s.accounts[0]
	for _, a := range s.accounts {
		if preferred != "" && a.Address == preferred {
			s.selected = a
			break
		}
	}
	return s
}

func toSessionAccounts(accounts []wallet.Account) []SessionAccount {
	out := make([]SessionAccount, len(accounts))
	for i, a := range accounts {
		out[i] = SessionAccount{Address: a.Address, Account: a}
	}
	return out
}

// Accounts returns the session's accounts
func (s *Session) Accounts() []SessionAccount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SessionAccount(nil), s.accounts...)
}

// Selected returns the account used for signing
func (s *Session) Selected() SessionAccount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// SelectAccount switches the selected account through the manager
func (s *Session) SelectAccount(ctx context.Context, address string) error {
	return s.manager.SelectAccount(ctx, address)
}

// OnAccountsChanged registers fn for account list changes
func (s *Session) OnAccountsChanged(fn func([]SessionAccount)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Session) walletAccounts() []wallet.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]wallet.Account, len(s.accounts))
	for i, a := range s.accounts {
		out[i] = a.Account
	}
	return out
}

func (s *Session) find(address string) (SessionAccount, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.Address == address {
			return a, true
		}
	}
	return SessionAccount{}, false
}

// update replaces the account list, keeping the selection when possible.
// Reports whether the selection moved.
func (s *Session) update(accounts []wallet.Account) (SessionAccount, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = toSessionAccounts(accounts)
	for _, a := range s.accounts {
		if a.Address == s.selected.Address {
			s.selected = a
			return a, false
		}
	}
	s.selected = s.accounts[0]
	return s.selected, true
}

func (s *Session) selectAddress(address string) (SessionAccount, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Address == address {
			changed := s.selected.Address != address
			s.selected = a
			return a, changed
		}
	}
	return SessionAccount{}, false
}

func (s *Session) notify() {
	s.mu.RLock()
	accounts := append([]SessionAccount(nil), s.accounts...)
	fns := make([]func([]SessionAccount), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(accounts)
	}
}

// HandleAccountsChanged applies an account list reported by the wallet. An
// empty list means access was revoked and disconnects.
func (m *Manager) HandleAccountsChanged(accounts []wallet.Account) {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()
	if token == nil {
		return
	}
	m.handleAccountsChanged(token, accounts)
}

func (m *Manager) handleAccountsChanged(token *attemptToken, accounts []wallet.Account) {
	accounts = mergeAccounts(accounts)
	if len(accounts) == 0 {
		if token.current() {
			m.logger.Info("wallet revoked all accounts, disconnecting")
			m.Disconnect(context.Background())
		}
		return
	}

	var (
		session  *Session
		selected SessionAccount
		changed  bool
	)
	if !m.commit(token, func() func(*state.Snapshot) {
		if session = m.session; session == nil {
			return nil
		}
		selected, changed = session.update(accounts)
		return func(s *state.Snapshot) {
			s.Accounts = session.walletAccounts()
			s.SelectedAddress = selected.Address
		}
	}) || session == nil {
		return
	}

	session.notify()
	if changed {
		m.opts.Bus.Emit(events.Event{Type: events.AccountChanged, ConnectorID: session.ConnectorID, Address: selected.Address})
		m.rememberAccount(token, selected.Address)
	}
}

// SelectAccount makes address the selected account. An unknown address
// triggers one silent reconnect to refresh the account list.
func (m *Manager) SelectAccount(ctx context.Context, address string) error {
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return fmt.Errorf("invalid account address %q: %w", address, err)
	}

	m.mu.Lock()
	token, session := m.token, m.session
	m.mu.Unlock()
	if token == nil || session == nil {
		return ErrNotConnected
	}

	if _, ok := session.find(address); !ok {
		if err := m.refreshAccounts(ctx, token, session); err != nil {
			return err
		}
		if _, ok := session.find(address); !ok {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, address)
		}
	}

	var (
		selected SessionAccount
		changed  bool
	)
	if !m.commit(token, func() func(*state.Snapshot) {
		selected, changed = session.selectAddress(address)
		return func(s *state.Snapshot) { s.SelectedAddress = selected.Address }
	}) {
		return ErrSuperseded
	}

	if changed {
		m.opts.Bus.Emit(events.Event{Type: events.AccountChanged, ConnectorID: session.ConnectorID, Address: selected.Address})
		m.rememberAccount(token, selected.Address)
	}
	return nil
}

// refreshAccounts asks the wallet for its accounts without prompting
func (m *Manager) refreshAccounts(ctx context.Context, token *attemptToken, session *Session) error {
	feature, ok := wallet.Feature[wallet.ConnectFeature](session.Wallet, constants.FeatureStandardConnect)
	if !ok {
		return ErrConnectRequired
	}
	out, err := feature.Connect(ctx, wallet.ConnectInput{Silent: true})
	if err != nil {
		return fmt.Errorf("failed to refresh accounts: %w", err)
	}

	accounts := mergeAccounts(outputAccounts(out), session.Wallet.Accounts())
	if len(accounts) == 0 {
		return fmt.Errorf("failed to refresh accounts: %w", ErrNoAccounts)
	}
	if !m.commit(token, func() func(*state.Snapshot) {
		selected, _ := session.update(accounts)
		return func(s *state.Snapshot) {
			s.Accounts = session.walletAccounts()
			s.SelectedAddress = selected.Address
		}
	}) {
		return ErrSuperseded
	}
	session.notify()
	return nil
}

// watchAccounts subscribes to wallet change events, or polls the wallet's
// accounts when it has no events feature
func (m *Manager) watchAccounts(token *attemptToken, w wallet.Wallet) {
	if feature, ok := wallet.Feature[wallet.EventsFeature](w, constants.FeatureStandardEvents); ok {
		unsub, err := subscribe(feature, func(ev wallet.ChangeEvent) {
			if ev.Accounts == nil || !token.current() {
				return
			}
			m.handleAccountsChanged(token, ev.Accounts)
		})
		if err == nil {
			if !m.commit(token, func() func(*state.Snapshot) {
				m.unsubscribe = unsub
				return nil
			}) {
				unsub()
			}
			return
		}
		m.logger.Warn("wallet event subscription failed, polling accounts", "wallet", w.Name(), "error", err)
	}

	task := poller.New(func(ctx context.Context) bool {
		if !token.current() {
			return false
		}
		accounts := mergeAccounts(w.Accounts())
		if len(accounts) == 0 {
			return false
		}
		if session := m.Session(); session != nil && sameAddresses(session.walletAccounts(), accounts) {
			return true
		}
		m.handleAccountsChanged(token, accounts)
		return true
	}, m.opts.Poll)

	m.commit(token, func() func(*state.Snapshot) {
		m.poll = task
		task.Start(token.ctx)
		return nil
	})
}

func sameAddresses(a, b []wallet.Account) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Address != b[i].Address {
			return false
		}
	}
	return true
}

func subscribe(feature wallet.EventsFeature, fn func(wallet.ChangeEvent)) (unsub func(), err error) {
	defer func() {
		if r := recover(); r != nil {
			unsub, err = nil, fmt.Errorf("events subscription panicked: %v", r)
		}
	}()
	unsub, err = feature.On("change", fn)
	if err == nil && unsub == nil {
		unsub = func() {}
	}
	return unsub, err
}
