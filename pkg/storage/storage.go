package storage

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"github.com/sigweihq/solwallet/pkg/constants"
)

// Storage is a durable slot holding a single value
type Storage[T any] interface {
	Get() (T, bool)
	Set(value T) error
	Clear() error
}

// Availability is implemented by backends that can be unusable at runtime,
// for example a read-only or missing data directory
type Availability interface {
	IsAvailable() bool
}

// Subscribable is implemented by backends that report external changes
type Subscribable[T any] interface {
	Subscribe(ch chan<- T) event.Subscription
}

// IsAvailable reports whether s may be written to. Backends without an
// availability probe are assumed available.
func IsAvailable(s any) bool {
	if s == nil {
		return false
	}
	if a, ok := s.(Availability); ok {
		return a.IsAvailable()
	}
	return true
}

// WalletState is the versioned record used to restore a session on startup
type WalletState struct {
	Version       int    `json:"version"`
	ConnectorID   string `json:"connectorId"`
	LastAccount   string `json:"lastAccount,omitempty"`
	AutoConnect   bool   `json:"autoConnect"`
	LastConnected int64  `json:"lastConnected,omitempty"` // unix milliseconds
}

// ValidateWalletState rejects records from other versions or without a connector
func ValidateWalletState(s WalletState) error {
	if s.Version != constants.WalletStateVersion {
		return fmt.Errorf("unsupported wallet state version %d", s.Version)
	}
	if s.ConnectorID == "" {
		return fmt.Errorf("wallet state has no connector id")
	}
	return nil
}

// Memory keeps the value in process memory
type Memory[T any] struct {
	mu          sync.RWMutex
	value       T
	set         bool
	unavailable bool
	feed        event.FeedOf[T]
}

var (
	_ Storage[string]      = (*Memory[string])(nil)
	_ Availability         = (*Memory[string])(nil)
	_ Subscribable[string] = (*Memory[string])(nil)
)

func NewMemory[T any]() *Memory[T] {
	return &Memory[T]{}
}

func (m *Memory[T]) Get() (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.value, m.set
}

func (m *Memory[T]) Set(value T) error {
	m.mu.Lock()
	if m.unavailable {
		m.mu.Unlock()
		return fmt.Errorf("storage unavailable")
	}
	m.value, m.set = value, true
	m.mu.Unlock()

	m.feed.Send(value)
	return nil
}

func (m *Memory[T]) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	m.value, m.set = zero, false
	return nil
}

func (m *Memory[T]) IsAvailable() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.unavailable
}

// SetAvailable toggles availability, simulating restricted storage
func (m *Memory[T]) SetAvailable(available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = !available
}

func (m *Memory[T]) Subscribe(ch chan<- T) event.Subscription {
	return m.feed.Subscribe(ch)
}

// EnhanceOptions configures the Enhance decorator
type EnhanceOptions[T any] struct {
	// Validate rejects values on read and write
	Validate func(T) error
	// Fallback is returned when the stored value is missing or invalid
	Fallback    T
	HasFallback bool
	// OnError observes failures that Get cannot return
	OnError func(op string, err error)
	Logger  *slog.Logger
}

type enhanced[T any] struct {
	base Storage[T]
	opts EnhanceOptions[T]
}

// Enhance wraps base with validation, a fallback value and an error hook
func Enhance[T any](base Storage[T], opts EnhanceOptions[T]) Storage[T] {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &enhanced[T]{base: base, opts: opts}
}

func (e *enhanced[T]) fallback() (T, bool) {
	if e.opts.HasFallback {
		return e.opts.Fallback, true
	}
	var zero T
	return zero, false
}

func (e *enhanced[T]) report(op string, err error) {
	e.opts.Logger.Warn("storage operation failed", "op", op, "error", err)
	if e.opts.OnError != nil {
		e.opts.OnError(op, err)
	}
}

func (e *enhanced[T]) Get() (value T, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.report("get", fmt.Errorf("panic: %v", r))
			value, ok = e.fallback()
		}
	}()

	value, ok = e.base.Get()
	if !ok {
		return e.fallback()
	}
	if e.opts.Validate != nil {
		if err := e.opts.Validate(value); err != nil {
			e.report("validate", err)
			return e.fallback()
		}
	}
	return value, true
}

func (e *enhanced[T]) Set(value T) error {
	if e.opts.Validate != nil {
		if err := e.opts.Validate(value); err != nil {
			return fmt.Errorf("invalid value: %w", err)
		}
	}
	if err := e.base.Set(value); err != nil {
		e.report("set", err)
		return err
	}
	return nil
}

func (e *enhanced[T]) Clear() error {
	if err := e.base.Clear(); err != nil {
		e.report("clear", err)
		return err
	}
	return nil
}

func (e *enhanced[T]) IsAvailable() bool {
	return IsAvailable(e.base)
}
