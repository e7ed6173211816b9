package state

import (
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"github.com/sigweihq/solwallet/pkg/wallet"
)

// StatusKind is the coarse connection status mirrored for readers
type StatusKind string

const (
	StatusDisconnected StatusKind = "disconnected"
	StatusConnecting   StatusKind = "connecting"
	StatusConnected    StatusKind = "connected"
	StatusError        StatusKind = "error"
)

// Snapshot is the shared connection, account and cluster view.
// The flat fields (SelectedWallet through SelectedAddress) are kept for
// readers that predate connector ids.
type Snapshot struct {
	Wallets    []wallet.Info
	Connectors []wallet.ConnectorMetadata

	Status      StatusKind
	ConnectorID string
	Err         error
	Recoverable bool

	SelectedWallet  string
	Connected       bool
	Connecting      bool
	Accounts        []wallet.Account
	SelectedAddress string

	Cluster string
}

func (s Snapshot) clone() Snapshot {
	s.Wallets = slices.Clone(s.Wallets)
	s.Connectors = slices.Clone(s.Connectors)
	s.Accounts = slices.Clone(s.Accounts)
	return s
}

// ResetConnection clears the connection fields back to disconnected
func (s *Snapshot) ResetConnection() {
	s.Status = StatusDisconnected
	s.ConnectorID = ""
	s.Err = nil
	s.Recoverable = false
	s.SelectedWallet = ""
	s.Connected = false
	s.Connecting = false
	s.Accounts = nil
	s.SelectedAddress = ""
}

// Store owns the single mutable snapshot. All writers go through Update.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot
	feed event.FeedOf[Snapshot]
}

func NewStore(cluster string) *Store {
	return &Store{snap: Snapshot{Status: StatusDisconnected, Cluster: cluster}}
}

// Snapshot returns a copy of the current state
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.clone()
}

// Update applies fn to a copy of the state, stores it and notifies
// subscribers after the lock is released
func (s *Store) Update(fn func(*Snapshot)) Snapshot {
	s.mu.Lock()
	next := s.snap.clone()
	fn(&next)
	s.snap = next
	out := next.clone()
	s.mu.Unlock()

	s.feed.Send(out)
	return out
}

// Subscribe delivers every new snapshot to ch
func (s *Store) Subscribe(ch chan<- Snapshot) event.Subscription {
	return s.feed.Subscribe(ch)
}
