package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sigweihq/solwallet/pkg/constants"
	"github.com/sigweihq/solwallet/pkg/events"
	"github.com/sigweihq/solwallet/pkg/poller"
	"github.com/sigweihq/solwallet/pkg/state"
	"github.com/sigweihq/solwallet/pkg/storage"
	"github.com/sigweihq/solwallet/pkg/wallet"
)

// Status is the connection state machine value
type Status struct {
	Kind        state.StatusKind
	ConnectorID string
	Session     *Session // set when connected
	Err         *Error   // set on error
}

// ConnectOptions controls a connect attempt
type ConnectOptions struct {
	// Silent asks the wallet not to prompt the user
	Silent bool
	// AllowInteractiveFallback retries with a prompt when a silent connect
	// fails or yields no accounts
	AllowInteractiveFallback bool
	// PreferredAccount is selected when the wallet returns it
	PreferredAccount string
}

// Options configures a Manager
type Options struct {
	Store        *state.Store
	Bus          *events.Bus
	NameStorage  storage.Storage[string]
	StateStorage storage.Storage[storage.WalletState]
	Poll         poller.Options
	Logger       *slog.Logger
	Now          func() time.Time
}

// attemptToken identifies one connect attempt. It stops being current once
// a newer attempt starts or the manager disconnects.
type attemptToken struct {
	id     uint64
	gen    *atomic.Uint64
	ctx    context.Context // cancelled when superseded
	cancel context.CancelFunc
}

func (t *attemptToken) current() bool {
	return t.gen.Load() == t.id
}

// Manager owns at most one wallet connection
type Manager struct {
	opts   Options
	logger *slog.Logger
	gen    atomic.Uint64

	// publishMu orders state changes with their store publication and
	// persistence. Readers never take it.
	publishMu sync.Mutex

	mu          sync.Mutex
	token       *attemptToken
	status      Status
	wallet      wallet.Wallet
	walletName  string
	session     *Session
	unsubscribe func()
	poll        *poller.Task
	cluster     string
}

func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Store == nil {
		opts.Store = state.NewStore(constants.NetworkSolana)
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus(opts.Logger)
	}
	if opts.NameStorage == nil {
		opts.NameStorage = storage.NewMemory[string]()
	}
	if opts.StateStorage == nil {
		opts.StateStorage = storage.NewMemory[storage.WalletState]()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Manager{
		opts:    opts,
		logger:  opts.Logger,
		status:  Status{Kind: state.StatusDisconnected},
		cluster: opts.Store.Snapshot().Cluster,
	}
}

// Status returns the current state machine value
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Session returns the active session, or nil when not connected
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Wallet returns the connected (or connecting) wallet
func (m *Manager) Wallet() wallet.Wallet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallet
}

// Cluster returns the active cluster name
func (m *Manager) Cluster() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cluster
}

// SetCluster switches the active cluster
func (m *Manager) SetCluster(cluster string) {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.mu.Lock()
	m.cluster = cluster
	m.mu.Unlock()
	m.opts.Store.Update(func(s *state.Snapshot) { s.Cluster = cluster })
}

// Store returns the shared state store the manager publishes to. Snapshots
// are delivered without the manager's lock held, so subscribers may read the
// manager back; they must not change it from the delivering goroutine.
func (m *Manager) Store() *state.Store {
	return m.opts.Store
}

// Bus returns the event bus the manager emits on
func (m *Manager) Bus() *events.Bus {
	return m.opts.Bus
}

// NameStorage holds the legacy persisted wallet name
func (m *Manager) NameStorage() storage.Storage[string] {
	return m.opts.NameStorage
}

// StateStorage holds the persisted wallet state
func (m *Manager) StateStorage() storage.Storage[storage.WalletState] {
	return m.opts.StateStorage
}

// begin starts a new attempt, invalidating any previous one and tearing down
// the previous connection's subscription or poller
func (m *Manager) begin(w wallet.Wallet, connectorID string) *attemptToken {
	ctx, cancel := context.WithCancel(context.Background())

	m.publishMu.Lock()
	m.mu.Lock()
	if m.token != nil {
		m.token.cancel()
	}
	token := &attemptToken{id: m.gen.Add(1), gen: &m.gen, ctx: ctx, cancel: cancel}
	m.token = token
	unsub, poll := m.detachLocked()

	m.wallet = w
	m.walletName = w.Name()
	m.session = nil
	m.status = Status{Kind: state.StatusConnecting, ConnectorID: connectorID}
	m.mu.Unlock()
	m.opts.Store.Update(func(s *state.Snapshot) {
		s.ResetConnection()
		s.Status = state.StatusConnecting
		s.ConnectorID = connectorID
		s.SelectedWallet = w.Name()
		s.Connecting = true
	})
	m.publishMu.Unlock()

	stopWatching(unsub, poll)
	m.opts.Bus.Emit(events.Event{Type: events.WalletConnecting, ConnectorID: connectorID, WalletName: w.Name()})
	return token
}

// commit runs fn under the lock if token is still current, then publishes
// the store update fn returns, if any, after the lock is released
func (m *Manager) commit(token *attemptToken, fn func() func(*state.Snapshot)) bool {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.mu.Lock()
	if !token.current() {
		m.mu.Unlock()
		return false
	}
	update := fn()
	m.mu.Unlock()

	if update != nil {
		m.opts.Store.Update(update)
	}
	return true
}

// guard runs fn if token is still current. fn runs in order with commits and
// a disconnect, without the lock held.
func (m *Manager) guard(token *attemptToken, fn func()) bool {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()
	if !token.current() {
		return false
	}
	fn()
	return true
}

// detachLocked removes the account watcher; the caller stops it after
// releasing the lock
func (m *Manager) detachLocked() (func(), *poller.Task) {
	unsub, poll := m.unsubscribe, m.poll
	m.unsubscribe, m.poll = nil, nil
	return unsub, poll
}

func stopWatching(unsub func(), poll *poller.Task) {
	if unsub != nil {
		unsub()
	}
	if poll != nil {
		poll.Stop()
	}
}

// ConnectWallet connects w under connectorID. Only the most recent attempt
// can change state; an overtaken attempt returns ErrSuperseded.
func (m *Manager) ConnectWallet(ctx context.Context, w wallet.Wallet, connectorID string, opts ConnectOptions) (*Session, error) {
	if w == nil {
		return nil, fmt.Errorf("connect %s: %w", connectorID, ErrNotConnected)
	}
	return m.connect(ctx, w, connectorID, opts, true)
}

// Connect is the name-keyed path kept for callers that predate connector
// ids. It always prompts and only persists the wallet name.
func (m *Manager) Connect(ctx context.Context, w wallet.Wallet, name string) error {
	if w == nil {
		return fmt.Errorf("connect %s: %w", name, ErrNotConnected)
	}
	_, err := m.connect(ctx, w, wallet.ConnectorID(name), ConnectOptions{}, false)
	return err
}

func (m *Manager) connect(ctx context.Context, w wallet.Wallet, connectorID string, opts ConnectOptions, persistState bool) (*Session, error) {
	token := m.begin(w, connectorID)

	// the wallet call ends early when this attempt is overtaken
	callCtx, cancelCall := context.WithCancel(ctx)
	stop := context.AfterFunc(token.ctx, cancelCall)
	defer func() {
		stop()
		cancelCall()
	}()

	session, err := m.establish(callCtx, token, w, connectorID, opts, persistState)
	if err == nil {
		return session, nil
	}
	if errors.Is(err, ErrSuperseded) {
		return nil, err
	}

	connErr := newError(err, connectorID)
	failed := m.commit(token, func() func(*state.Snapshot) {
		m.status = Status{Kind: state.StatusError, ConnectorID: connectorID, Err: connErr}
		m.session = nil
		m.wallet = nil
		m.walletName = ""
		return func(s *state.Snapshot) {
			s.ResetConnection()
			s.Status = state.StatusError
			s.ConnectorID = connectorID
			s.Err = connErr
			s.Recoverable = connErr.Recoverable
		}
	})
	if !failed {
		return nil, ErrSuperseded
	}

	m.logger.Warn("wallet connection failed", "connectorId", connectorID, "recoverable", connErr.Recoverable, "error", err)
	m.opts.Bus.Emit(events.Event{Type: events.ConnectionFailed, ConnectorID: connectorID, WalletName: w.Name(), Err: connErr})
	return nil, connErr
}

func (m *Manager) establish(ctx context.Context, token *attemptToken, w wallet.Wallet, connectorID string, opts ConnectOptions, persistState bool) (*Session, error) {
	accounts, err := m.requestAccounts(ctx, w, opts)
	if !token.current() {
		return nil, ErrSuperseded
	}
	if err != nil {
		return nil, err
	}

	session := newSession(m, connectorID, w, accounts, opts.PreferredAccount)
	selected := session.Selected()

	if !m.commit(token, func() func(*state.Snapshot) {
		m.session = session
		m.status = Status{Kind: state.StatusConnected, ConnectorID: connectorID, Session: session}
		return func(s *state.Snapshot) {
			s.Status = state.StatusConnected
			s.ConnectorID = connectorID
			s.Err = nil
			s.Recoverable = false
			s.SelectedWallet = w.Name()
			s.Connected = true
			s.Connecting = false
			s.Accounts = session.walletAccounts()
			s.SelectedAddress = selected.Address
		}
	}) {
		return nil, ErrSuperseded
	}

	m.opts.Bus.Emit(events.Event{
		Type:        events.WalletConnected,
		ConnectorID: connectorID,
		WalletName:  w.Name(),
		Address:     selected.Address,
	})
	m.logger.Info("wallet connected", "connectorId", connectorID, "wallet", w.Name(), "accounts", len(accounts))

	if !m.persist(token, w.Name(), connectorID, selected.Address, persistState) {
		return nil, ErrSuperseded
	}
	m.watchAccounts(token, w)
	return session, nil
}

// requestAccounts runs the silent-first connect and merges the returned
// accounts with those the wallet already exposes
func (m *Manager) requestAccounts(ctx context.Context, w wallet.Wallet, opts ConnectOptions) ([]wallet.Account, error) {
	feature, ok := wallet.Feature[wallet.ConnectFeature](w, constants.FeatureStandardConnect)
	if !ok {
		return nil, ErrConnectRequired
	}

	interactive := func() ([]wallet.Account, error) {
		out, err := feature.Connect(ctx, wallet.ConnectInput{Silent: false})
		if err != nil {
			return nil, err
		}
		accounts := mergeAccounts(outputAccounts(out), w.Accounts())
		if len(accounts) == 0 {
			return nil, ErrNoAccounts
		}
		return accounts, nil
	}

	if !opts.Silent {
		return interactive()
	}

	out, err := feature.Connect(ctx, wallet.ConnectInput{Silent: true})
	if err != nil {
		if !opts.AllowInteractiveFallback {
			return nil, fmt.Errorf("silent connect failed: %w", err)
		}
		m.logger.Debug("silent connect failed, prompting", "wallet", w.Name(), "error", err)
		return interactive()
	}

	accounts := mergeAccounts(outputAccounts(out), w.Accounts())
	if len(accounts) > 0 {
		return accounts, nil
	}
	if !opts.AllowInteractiveFallback {
		return nil, ErrSilentNoAccounts
	}
	return interactive()
}

func outputAccounts(out *wallet.ConnectOutput) []wallet.Account {
	if out == nil {
		return nil
	}
	return out.Accounts
}

// mergeAccounts combines account lists keyed by address. Order follows the
// first appearance of each address; the last entry for an address wins.
func mergeAccounts(lists ...[]wallet.Account) []wallet.Account {
	index := make(map[string]int)
	var out []wallet.Account
	for _, list := range lists {
		for _, a := range list {
			if a.Address == "" {
				continue
			}
			if i, ok := index[a.Address]; ok {
				out[i] = a
				continue
			}
			index[a.Address] = len(out)
			out = append(out, a)
		}
	}
	return out
}

// persist records the connection for auto-connect unless the attempt has
// been overtaken, so a disconnect is never undone by a late write
func (m *Manager) persist(token *attemptToken, name, connectorID, address string, persistState bool) bool {
	return m.guard(token, func() { m.persistCurrent(name, connectorID, address, persistState) })
}

func (m *Manager) persistCurrent(name, connectorID, address string, persistState bool) {
	if storage.IsAvailable(m.opts.NameStorage) {
		if err := m.opts.NameStorage.Set(name); err != nil {
			m.logger.Warn("failed to persist wallet name", "wallet", name, "error", err)
		}
	}
	if !persistState || !storage.IsAvailable(m.opts.StateStorage) {
		return
	}
	ws := storage.WalletState{
		Version:       constants.WalletStateVersion,
		ConnectorID:   connectorID,
		LastAccount:   address,
		AutoConnect:   true,
		LastConnected: m.opts.Now().UnixMilli(),
	}
	if err := m.opts.StateStorage.Set(ws); err != nil {
		m.logger.Warn("failed to persist wallet state", "connectorId", connectorID, "error", err)
	}
}

// rememberAccount updates the last selected account in the persisted state
func (m *Manager) rememberAccount(token *attemptToken, address string) {
	m.guard(token, func() {
		ws, ok := m.opts.StateStorage.Get()
		if !ok || ws.LastAccount == address || !storage.IsAvailable(m.opts.StateStorage) {
			return
		}
		ws.LastAccount = address
		if err := m.opts.StateStorage.Set(ws); err != nil {
			m.logger.Warn("failed to persist selected account", "error", err)
		}
	})
}

// Disconnect tears the connection down. Local state is reset before the
// wallet is told, and the wallet's own disconnect error is ignored.
func (m *Manager) Disconnect(ctx context.Context) {
	m.publishMu.Lock()
	m.mu.Lock()
	gen := m.gen.Add(1)
	if m.token != nil {
		m.token.cancel()
		m.token = nil
	}
	unsub, poll := m.detachLocked()
	w, connectorID := m.wallet, m.status.ConnectorID
	m.wallet = nil
	m.walletName = ""
	m.session = nil
	m.status = Status{Kind: state.StatusDisconnected}
	m.mu.Unlock()
	m.opts.Store.Update(func(s *state.Snapshot) { s.ResetConnection() })
	m.publishMu.Unlock()

	stopWatching(unsub, poll)
	m.opts.Bus.Emit(events.Event{Type: events.WalletDisconnected, ConnectorID: connectorID})

	// a connect started since then owns the storage
	m.publishMu.Lock()
	if m.gen.Load() == gen {
		if err := m.opts.NameStorage.Clear(); err != nil {
			m.logger.Warn("failed to clear wallet name", "error", err)
		}
		if err := m.opts.StateStorage.Clear(); err != nil {
			m.logger.Warn("failed to clear wallet state", "error", err)
		}
	}
	m.publishMu.Unlock()

	if w == nil {
		return
	}
	if feature, ok := wallet.Feature[wallet.DisconnectFeature](w, constants.FeatureStandardDisconnect); ok {
		if err := feature.Disconnect(ctx); err != nil {
			m.logger.Debug("wallet disconnect failed", "wallet", w.Name(), "error", err)
		}
	}
}
