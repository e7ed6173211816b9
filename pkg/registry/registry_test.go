package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sigweihq/solwallet/pkg/wallet"
	"github.com/sigweihq/solwallet/pkg/wallet/wallettest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type panickingPlatform struct{}

func (panickingPlatform) Get() []wallet.Wallet { panic("registry exploded") }

func (panickingPlatform) On(EventName, func(wallet.Wallet)) Unsubscribe { panic("registry exploded") }

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestAdapterWithoutPlatform(t *testing.T) {
	adapter := NewAdapter(nil, nil)

	assert.Empty(t, adapter.Get())
	unsub := adapter.On(EventRegister, func(wallet.Wallet) {})
	require.NotNil(t, unsub)
	assert.NotPanics(t, func() { unsub() })
	assert.False(t, isClosed(adapter.Ready()))
}

func TestAdapterWithPlatformIsReady(t *testing.T) {
	reg := NewMemoryRegistry()
	reg.Register(wallettest.New("Phantom"))

	adapter := NewAdapter(reg, nil)
	assert.True(t, isClosed(adapter.Ready()))
	require.Len(t, adapter.Get(), 1)
	assert.Equal(t, "Phantom", adapter.Get()[0].Name())
}

func TestAdapterInitialize(t *testing.T) {
	tests := []struct {
		name        string
		loader      Loader
		wantWallets int
	}{
		{
			name: "loader succeeds",
			loader: func(context.Context) (Platform, error) {
				reg := NewMemoryRegistry()
				reg.Register(wallettest.New("Phantom"))
				return reg, nil
			},
			wantWallets: 1,
		},
		{
			name: "loader fails",
			loader: func(context.Context) (Platform, error) {
				return nil, errors.New("module failed to load")
			},
		},
		{
			name:   "loader panics",
			loader: func(context.Context) (Platform, error) { panic("boom") },
		},
		{
			name: "nil loader",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := NewAdapter(nil, nil)
			adapter.Initialize(context.Background(), tt.loader)

			// ready resolves even when loading fails
			assert.True(t, isClosed(adapter.Ready()))
			assert.Len(t, adapter.Get(), tt.wantWallets)
		})
	}
}

func TestAdapterInitializeRunsOnce(t *testing.T) {
	adapter := NewAdapter(nil, nil)
	calls := 0
	loader := func(context.Context) (Platform, error) {
		calls++
		return nil, errors.New("unavailable")
	}

	adapter.Initialize(context.Background(), loader)
	adapter.Initialize(context.Background(), loader)
	assert.Equal(t, 1, calls)

	adapter.Reset()
	assert.False(t, isClosed(adapter.Ready()))
	adapter.Initialize(context.Background(), loader)
	assert.Equal(t, 2, calls)
}

func TestAdapterReadyWaitsForAsyncLoad(t *testing.T) {
	adapter := NewAdapter(nil, nil)
	release := make(chan struct{})

	go adapter.Initialize(context.Background(), func(context.Context) (Platform, error) {
		<-release
		return NewMemoryRegistry(), nil
	})

	// not ready while the loader is blocked
	select {
	case <-adapter.Ready():
		t.Fatal("ready closed before loader finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-adapter.Ready():
	case <-time.After(time.Second):
		t.Fatal("ready never closed")
	}
}

func TestAdapterRecoversPlatformPanics(t *testing.T) {
	adapter := NewAdapter(panickingPlatform{}, nil)

	assert.NotPanics(t, func() {
		assert.Empty(t, adapter.Get())
		unsub := adapter.On(EventRegister, func(wallet.Wallet) {})
		unsub()
	})
}

func TestMemoryRegistryNotifications(t *testing.T) {
	reg := NewMemoryRegistry()
	var mu sync.Mutex
	var registered, unregistered []string

	stopRegister := reg.On(EventRegister, func(w wallet.Wallet) {
		mu.Lock()
		defer mu.Unlock()
		registered = append(registered, w.Name())
	})
	reg.On(EventUnregister, func(w wallet.Wallet) {
		mu.Lock()
		defer mu.Unlock()
		unregistered = append(unregistered, w.Name())
	})

	phantom := wallettest.New("Phantom")
	unregisterPhantom := reg.Register(phantom)
	reg.Register(wallettest.New("Solflare"))
	assert.Len(t, reg.Get(), 2)

	unregisterPhantom()
	unregisterPhantom() // second call is a no-op
	assert.Len(t, reg.Get(), 1)

	stopRegister()
	reg.Register(wallettest.New("Backpack"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Phantom", "Solflare"}, registered)
	assert.Equal(t, []string{"Phantom"}, unregistered)
}

func TestMemoryRegistryUnknownEvent(t *testing.T) {
	reg := NewMemoryRegistry()
	unsub := reg.On(EventName("bogus"), func(wallet.Wallet) {})
	assert.NotPanics(t, func() { unsub() })
}
