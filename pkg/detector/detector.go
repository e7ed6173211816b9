package detector

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/sigweihq/solwallet/pkg/constants"
	"github.com/sigweihq/solwallet/pkg/events"
	"github.com/sigweihq/solwallet/pkg/registry"
	"github.com/sigweihq/solwallet/pkg/state"
	"github.com/sigweihq/solwallet/pkg/wallet"
)

// Options configures a Detector
type Options struct {
	Registry *registry.Adapter
	Store    *state.Store
	Bus      *events.Bus

	// AdditionalWallets are injected wallets that are not in the registry,
	// such as remote-signing bridges
	AdditionalWallets []wallet.Wallet
	// Icons replaces wallet icons by wallet name
	Icons map[string]string

	// Globals and Verifier are used by DetectDirectWallet
	Globals  Globals
	Verifier AuthenticityVerifier

	DeferredDelay time.Duration
	Logger        *slog.Logger
}

// Detector keeps the connector id to wallet map in sync with the registry
type Detector struct {
	opts   Options
	logger *slog.Logger

	mu          sync.RWMutex
	connectors  map[string]wallet.Wallet
	wallets     []wallet.Wallet
	lastCount   int
	initialized bool
	unsubs      []registry.Unsubscribe
	deferred    *time.Timer
}

func New(opts Options) *Detector {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = registry.NewAdapter(nil, opts.Logger)
	}
	if opts.Store == nil {
		opts.Store = state.NewStore(constants.NetworkSolana)
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus(opts.Logger)
	}
	if opts.Verifier == nil {
		opts.Verifier = HeuristicVerifier{}
	}
	if opts.DeferredDelay <= 0 {
		opts.DeferredDelay = constants.DeferredDetectDelay
	}

	return &Detector{
		opts:       opts,
		logger:     opts.Logger,
		connectors: make(map[string]wallet.Wallet),
	}
}

// Detect runs one detection pass and returns the published connectors
func (d *Detector) Detect() (published []wallet.ConnectorMetadata) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("wallet detection pass panicked", "panic", r)
			published = d.Connectors()
		}
	}()

	candidates := slices.Concat(d.opts.Registry.Get(), d.opts.AdditionalWallets)

	seen := make(map[string]struct{}, len(candidates))
	kept := make([]wallet.Wallet, 0, len(candidates))
	for _, w := range candidates {
		if w == nil || !wallet.SupportsSolana(w.Chains()) {
			continue
		}
		if _, dup := seen[w.Name()]; dup {
			continue
		}
		seen[w.Name()] = struct{}{}
		kept = append(kept, wallet.WithIcon(w, d.opts.Icons[w.Name()]))
	}

	connectors := make(map[string]wallet.Wallet, len(kept))
	infos := make([]wallet.Info, 0, len(kept))
	metas := make([]wallet.ConnectorMetadata, 0, len(kept))
	for _, w := range kept {
		meta := wallet.Metadata(w)
		connectors[meta.ID] = w
		metas = append(metas, meta)
		infos = append(infos, wallet.Info{Name: w.Name(), Icon: w.Icon(), Installed: true})
	}

	d.mu.Lock()
	d.connectors = connectors
	d.wallets = kept
	changed := len(kept) != d.lastCount
	d.lastCount = len(kept)
	d.mu.Unlock()

	d.opts.Store.Update(func(s *state.Snapshot) {
		s.Wallets = infos
		s.Connectors = metas
	})

	if changed && len(kept) > 0 {
		d.opts.Bus.Emit(events.Event{Type: events.WalletsDetected, Wallets: infos})
	}
	d.logger.Debug("wallet detection pass", "wallets", len(kept), "changed", changed)
	return metas
}

// Initialize subscribes to registry changes, runs a pass now and schedules
// one deferred pass for wallets that register late
func (d *Detector) Initialize(ctx context.Context) {
	d.mu.Lock()
	if d.initialized {
		d.mu.Unlock()
		return
	}
	d.initialized = true
	d.mu.Unlock()

	onChange := func(wallet.Wallet) { d.Detect() }
	unsubs := []registry.Unsubscribe{
		d.opts.Registry.On(registry.EventRegister, onChange),
		d.opts.Registry.On(registry.EventUnregister, onChange),
	}

	d.Detect()

	timer := time.AfterFunc(d.opts.DeferredDelay, func() {
		if ctx.Err() != nil {
			return
		}
		if d.opts.Store.Snapshot().Status == state.StatusDisconnected {
			d.Detect()
		}
	})

	d.mu.Lock()
	d.unsubs = unsubs
	d.deferred = timer
	d.mu.Unlock()
}

// InitializeAsync waits for the registry to become ready before initializing
func (d *Detector) InitializeAsync(ctx context.Context) error {
	select {
	case <-d.opts.Registry.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}
	d.Initialize(ctx)
	return nil
}

// Close removes registry listeners and cancels the deferred pass
func (d *Detector) Close() {
	d.mu.Lock()
	unsubs, timer := d.unsubs, d.deferred
	d.unsubs, d.deferred = nil, nil
	d.initialized = false
	d.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	for _, unsub := range unsubs {
		unsub()
	}
}

// Wallet resolves a connector id to its live wallet
func (d *Detector) Wallet(connectorID string) (wallet.Wallet, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	w, ok := d.connectors[connectorID]
	return w, ok
}

// WalletByName finds a detected wallet by display name
func (d *Detector) WalletByName(name string) (wallet.Wallet, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, w := range d.wallets {
		if w.Name() == name {
			return w, true
		}
	}
	return nil, false
}

// Wallets returns the detected wallets in detection order
func (d *Detector) Wallets() []wallet.Wallet {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]wallet.Wallet(nil), d.wallets...)
}

// Connectors returns metadata for the detected wallets
func (d *Detector) Connectors() []wallet.ConnectorMetadata {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]wallet.ConnectorMetadata, 0, len(d.wallets))
	for _, w := range d.wallets {
		out = append(out, wallet.Metadata(w))
	}
	return out
}
