package registry

import (
	"sync"

	"github.com/sigweihq/solwallet/pkg/wallet"
)

// MemoryRegistry is an in-process wallet registry that wallets announce
// themselves to
type MemoryRegistry struct {
	mu        sync.RWMutex
	wallets   []wallet.Wallet
	nextID    int
	listeners map[EventName]map[int]func(wallet.Wallet)
}

var _ Platform = (*MemoryRegistry)(nil)

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		listeners: map[EventName]map[int]func(wallet.Wallet){
			EventRegister:   {},
			EventUnregister: {},
		},
	}
}

// Register adds w (replacing a wallet with the same handle) and notifies
// register listeners. The returned function unregisters it.
func (r *MemoryRegistry) Register(w wallet.Wallet) Unsubscribe {
	r.mu.Lock()
	for i, existing := range r.wallets {
		if existing == w {
			r.wallets = append(r.wallets[:i], r.wallets[i+1:]...)
			break
		}
	}
	r.wallets = append(r.wallets, w)
	r.mu.Unlock()

	r.notify(EventRegister, w)

	var once sync.Once
	return func() {
		once.Do(func() { r.unregister(w) })
	}
}

func (r *MemoryRegistry) unregister(w wallet.Wallet) {
	r.mu.Lock()
	removed := false
	for i, existing := range r.wallets {
		if existing == w {
			r.wallets = append(r.wallets[:i], r.wallets[i+1:]...)
			removed = true
			break
		}
	}
	r.mu.Unlock()

	if removed {
		r.notify(EventUnregister, w)
	}
}

// Get returns the registered wallets in registration order
func (r *MemoryRegistry) Get() []wallet.Wallet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]wallet.Wallet(nil), r.wallets...)
}

func (r *MemoryRegistry) On(event EventName, fn func(wallet.Wallet)) Unsubscribe {
	r.mu.Lock()
	defer r.mu.Unlock()

	listeners, ok := r.listeners[event]
	if !ok || fn == nil {
		return noop
	}
	id := r.nextID
	r.nextID++
	listeners[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.listeners[event], id)
	}
}

func (r *MemoryRegistry) notify(event EventName, w wallet.Wallet) {
	r.mu.RLock()
	fns := make([]func(wallet.Wallet), 0, len(r.listeners[event]))
	for _, fn := range r.listeners[event] {
		fns = append(fns, fn)
	}
	r.mu.RUnlock()

	for _, fn := range fns {
		fn(w)
	}
}
