package events

import (
	"log/slog"

	"github.com/ethereum/go-ethereum/event"
	"github.com/sigweihq/solwallet/pkg/wallet"
)

// Type names a lifecycle event
type Type string

const (
	WalletsDetected    Type = "wallets:detected"
	WalletConnecting   Type = "wallet:connecting"
	WalletConnected    Type = "wallet:connected"
	ConnectionFailed   Type = "connection:failed"
	AccountChanged     Type = "account:changed"
	WalletDisconnected Type = "wallet:disconnected"
)

// Event is a single lifecycle notification. Only the fields relevant to the
// type are set.
type Event struct {
	Type        Type
	ConnectorID string
	WalletName  string
	Address     string
	Wallets     []wallet.Info
	Err         error
}

// Bus fans lifecycle events out to subscribers.
// Send blocks until every subscriber has received the event, so subscribers
// should use buffered channels and never emit from their receive loop.
type Bus struct {
	feed   event.FeedOf[Event]
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe delivers events to ch until the subscription is closed
func (b *Bus) Subscribe(ch chan<- Event) event.Subscription {
	return b.feed.Subscribe(ch)
}

// Emit publishes ev and returns the number of subscribers that received it
func (b *Bus) Emit(ev Event) int {
	n := b.feed.Send(ev)
	b.logger.Debug("event emitted", "type", ev.Type, "connectorId", ev.ConnectorID, "subscribers", n)
	return n
}
