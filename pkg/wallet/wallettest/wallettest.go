// Package wallettest provides scriptable in-memory wallets for tests
package wallettest

import (
	"context"
	"sync"

	"github.com/sigweihq/solwallet/pkg/constants"
	"github.com/sigweihq/solwallet/pkg/wallet"
)

// Wallet is a fake wallet whose features are plain functions
type Wallet struct {
	mu       sync.Mutex
	name     string
	icon     string
	chains   []string
	accounts []wallet.Account
	features map[string]any
}

var _ wallet.Wallet = (*Wallet)(nil)

type Option func(*Wallet)

func WithChains(chains ...string) Option {
	return func(w *Wallet) { w.chains = chains }
}

func WithIcon(icon string) Option {
	return func(w *Wallet) { w.icon = icon }
}

// WithAccounts sets the accounts the wallet already exposes
func WithAccounts(addresses ...string) Option {
	return func(w *Wallet) { w.accounts = Accounts(addresses...) }
}

// WithFeature installs or replaces a feature. A nil feature removes it.
func WithFeature(name string, feature any) Option {
	return func(w *Wallet) {
		if feature == nil {
			delete(w.features, name)
			return
		}
		w.features[name] = feature
	}
}

// New creates a solana wallet whose connect feature returns its exposed
// accounts
func New(name string, opts ...Option) *Wallet {
	w := &Wallet{
		name:     name,
		chains:   []string{constants.ChainMainnet, constants.ChainDevnet},
		features: make(map[string]any),
	}
	w.features[constants.FeatureStandardConnect] = ConnectFunc(func(ctx context.Context, _ wallet.ConnectInput) (*wallet.ConnectOutput, error) {
		return &wallet.ConnectOutput{Accounts: w.Accounts()}, nil
	})
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Wallet) Name() string { return w.name }

func (w *Wallet) Icon() string { return w.icon }

func (w *Wallet) Chains() []string { return w.chains }

func (w *Wallet) Accounts() []wallet.Account {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]wallet.Account(nil), w.accounts...)
}

// SetAccounts replaces the exposed accounts
func (w *Wallet) SetAccounts(addresses ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.accounts = Accounts(addresses...)
}

func (w *Wallet) Features() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]any, len(w.features))
	for k, v := range w.features {
		out[k] = v
	}
	return out
}

// SetFeature installs or removes a feature after construction
func (w *Wallet) SetFeature(name string, feature any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	WithFeature(name, feature)(w)
}

// Accounts builds wallet accounts for the given addresses
func Accounts(addresses ...string) []wallet.Account {
	out := make([]wallet.Account, len(addresses))
	for i, a := range addresses {
		out[i] = wallet.Account{Address: a, Chains: []string{constants.ChainMainnet}}
	}
	return out
}

type ConnectFunc func(ctx context.Context, input wallet.ConnectInput) (*wallet.ConnectOutput, error)

func (f ConnectFunc) Connect(ctx context.Context, input wallet.ConnectInput) (*wallet.ConnectOutput, error) {
	return f(ctx, input)
}

type DisconnectFunc func(ctx context.Context) error

func (f DisconnectFunc) Disconnect(ctx context.Context) error { return f(ctx) }

type SignTransactionFunc func(ctx context.Context, input wallet.SignTransactionInput) (any, error)

func (f SignTransactionFunc) SignTransaction(ctx context.Context, input wallet.SignTransactionInput) (any, error) {
	return f(ctx, input)
}

type SignAllTransactionsFunc func(ctx context.Context, input wallet.SignAllTransactionsInput) (any, error)

func (f SignAllTransactionsFunc) SignAllTransactions(ctx context.Context, input wallet.SignAllTransactionsInput) (any, error) {
	return f(ctx, input)
}

type SignAndSendTransactionFunc func(ctx context.Context, input wallet.SignAndSendTransactionInput) (any, error)

func (f SignAndSendTransactionFunc) SignAndSendTransaction(ctx context.Context, input wallet.SignAndSendTransactionInput) (any, error) {
	return f(ctx, input)
}

type SignMessageFunc func(ctx context.Context, input wallet.SignMessageInput) (*wallet.SignMessageOutput, error)

func (f SignMessageFunc) SignMessage(ctx context.Context, input wallet.SignMessageInput) (*wallet.SignMessageOutput, error) {
	return f(ctx, input)
}

// Events is a standard:events feature that tests drive with Emit
type Events struct {
	mu       sync.Mutex
	next     int
	handlers map[int]func(wallet.ChangeEvent)

	// Err is returned from On when set
	Err error
}

var _ wallet.EventsFeature = (*Events)(nil)

func (e *Events) On(event string, fn func(wallet.ChangeEvent)) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	if e.handlers == nil {
		e.handlers = make(map[int]func(wallet.ChangeEvent))
	}
	id := e.next
	e.next++
	e.handlers[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.handlers, id)
	}, nil
}

// Emit delivers ev to every listener
func (e *Events) Emit(ev wallet.ChangeEvent) {
	e.mu.Lock()
	handlers := make([]func(wallet.ChangeEvent), 0, len(e.handlers))
	for _, h := range e.handlers {
		handlers = append(handlers, h)
	}
	e.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Listeners returns the number of active subscriptions
func (e *Events) Listeners() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handlers)
}
