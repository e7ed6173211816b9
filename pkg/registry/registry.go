package registry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sigweihq/solwallet/pkg/wallet"
)

// EventName is a registry notification kind
type EventName string

const (
	EventRegister   EventName = "register"
	EventUnregister EventName = "unregister"
)

// Unsubscribe removes a listener
type Unsubscribe func()

func noop() {}

// Platform is the host-provided wallet registry
type Platform interface {
	Get() []wallet.Wallet
	On(event EventName, fn func(wallet.Wallet)) Unsubscribe
}

// Loader obtains the platform registry, possibly asynchronously
type Loader func(ctx context.Context) (Platform, error)

// Adapter wraps a platform registry and degrades to an empty registry when
// none is available. Platform failures are logged and never propagated.
type Adapter struct {
	mu       sync.RWMutex
	platform Platform
	logger   *slog.Logger

	initOnce *sync.Once
	ready    chan struct{}
}

// NewAdapter creates an adapter. A non-nil platform makes it ready
// immediately; otherwise call Initialize.
func NewAdapter(platform Platform, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{logger: logger}
	a.Reset()
	if platform != nil {
		a.Initialize(context.Background(), func(context.Context) (Platform, error) {
			return platform, nil
		})
	}
	return a
}

// Initialize runs loader once and then closes the ready channel, also when
// loading fails. Later calls are no-ops until Reset.
func (a *Adapter) Initialize(ctx context.Context, loader Loader) {
	a.mu.RLock()
	once, ready := a.initOnce, a.ready
	a.mu.RUnlock()

	once.Do(func() {
		defer close(ready)
		if loader == nil {
			return
		}

		platform, err := a.load(ctx, loader)
		if err != nil {
			a.logger.Warn("wallet registry unavailable", "error", err)
			return
		}

		a.mu.Lock()
		a.platform = platform
		a.mu.Unlock()
	})
}

func (a *Adapter) load(ctx context.Context, loader Loader) (p Platform, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("wallet registry loader panicked", "panic", r)
			p, err = nil, nil
		}
	}()
	return loader(ctx)
}

// Ready is closed once initialization has finished
func (a *Adapter) Ready() <-chan struct{} {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ready
}

// Get returns the registered wallets, or none when no platform is loaded
func (a *Adapter) Get() (wallets []wallet.Wallet) {
	a.mu.RLock()
	platform := a.platform
	a.mu.RUnlock()
	if platform == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("wallet registry get panicked", "panic", r)
			wallets = nil
		}
	}()
	return platform.Get()
}

// On registers a listener. Without a platform the returned function is a
// no-op.
func (a *Adapter) On(event EventName, fn func(wallet.Wallet)) (unsub Unsubscribe) {
	a.mu.RLock()
	platform := a.platform
	a.mu.RUnlock()
	if platform == nil {
		return noop
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("wallet registry subscribe panicked", "event", event, "panic", r)
			unsub = noop
		}
	}()
	if unsub = platform.On(event, fn); unsub == nil {
		return noop
	}
	return unsub
}

// Reset drops the platform and re-arms initialization (useful for testing)
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.platform = nil
	a.initOnce = &sync.Once{}
	a.ready = make(chan struct{})
}
