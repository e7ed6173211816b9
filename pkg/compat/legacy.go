// Package compat maps the transaction signer onto the shapes older and newer
// transaction libraries expect
package compat

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gagliardetto/solana-go"
	"github.com/sigweihq/solwallet/pkg/connection"
	"github.com/sigweihq/solwallet/pkg/signer"
	"github.com/sigweihq/solwallet/pkg/state"
	"github.com/sigweihq/solwallet/pkg/transport"
	"github.com/sigweihq/solwallet/pkg/types"
	"github.com/sigweihq/solwallet/pkg/wallet"
)

// Sender submits signed wire transactions. *transport.Client implements it.
type Sender interface {
	SendTransaction(ctx context.Context, wire []byte, opts transport.SendOptions) (string, error)
}

var _ Sender = (*transport.Client)(nil)

// LegacyOptions configures a LegacyAdapter
type LegacyOptions struct {
	Manager *connection.Manager
	Wallet  wallet.Wallet
	// Sender submits transactions for wallets without sign-and-send
	Sender Sender
	Logger *slog.Logger
}

// LegacyAdapter is the single-signer wallet shape: one wallet, one public
// key, connect and disconnect on the adapter itself
type LegacyAdapter struct {
	manager       *connection.Manager
	wallet        wallet.Wallet
	connectorID   string
	sender        Sender
	logger        *slog.Logger
	disconnecting atomic.Bool
}

func NewLegacyAdapter(opts LegacyOptions) *LegacyAdapter {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &LegacyAdapter{
		manager:     opts.Manager,
		wallet:      opts.Wallet,
		connectorID: wallet.ConnectorID(opts.Wallet.Name()),
		sender:      opts.Sender,
		logger:      opts.Logger,
	}
}

// session returns the manager's session when it belongs to this adapter's
// wallet
func (a *LegacyAdapter) session() *connection.Session {
	session := a.manager.Session()
	if session == nil || session.ConnectorID != a.connectorID {
		return nil
	}
	return session
}

func (a *LegacyAdapter) signer() (*signer.Signer, error) {
	return signer.FromSession(a.session(), a.manager.Cluster(), a.logger)
}

// PublicKey returns the selected account's key, or nil when not connected
func (a *LegacyAdapter) PublicKey() *solana.PublicKey {
	session := a.session()
	if session == nil {
		return nil
	}
	key, err := solana.PublicKeyFromBase58(session.Selected().Address)
	if err != nil {
		return nil
	}
	return &key
}

func (a *LegacyAdapter) Connected() bool {
	return a.session() != nil
}

func (a *LegacyAdapter) Connecting() bool {
	status := a.manager.Status()
	return status.Kind == state.StatusConnecting && status.ConnectorID == a.connectorID
}

func (a *LegacyAdapter) Disconnecting() bool {
	return a.disconnecting.Load()
}

// Connect prompts the wallet for approval
func (a *LegacyAdapter) Connect(ctx context.Context) error {
	_, err := a.manager.ConnectWallet(ctx, a.wallet, a.connectorID, connection.ConnectOptions{})
	return err
}

// Disconnect ends the session if it belongs to this adapter
func (a *LegacyAdapter) Disconnect(ctx context.Context) {
	if a.session() == nil && !a.Connecting() {
		return
	}
	a.disconnecting.Store(true)
	defer a.disconnecting.Store(false)
	a.manager.Disconnect(ctx)
}

func (a *LegacyAdapter) SignTransaction(ctx context.Context, tx types.Transaction) (types.Transaction, error) {
	s, err := a.signer()
	if err != nil {
		return nil, err
	}
	return s.SignTransaction(ctx, tx)
}

func (a *LegacyAdapter) SignAllTransactions(ctx context.Context, txs []types.Transaction) ([]types.Transaction, error) {
	s, err := a.signer()
	if err != nil {
		return nil, err
	}
	return s.SignAllTransactions(ctx, txs)
}

// SendTransaction lets the wallet sign and submit when it can. Otherwise the
// transaction is signed by the wallet and submitted through the Sender.
func (a *LegacyAdapter) SendTransaction(ctx context.Context, tx types.Transaction, opts transport.SendOptions) (string, error) {
	s, err := a.signer()
	if err != nil {
		return "", err
	}
	if s.Capabilities().CanSend {
		return s.SignAndSendTransaction(ctx, tx, opts.Map())
	}
	if a.sender == nil {
		return "", &signer.Error{
			Code:    signer.CodeFeatureNotSupported,
			Message: "wallet " + a.wallet.Name() + " cannot send transactions and no RPC sender is configured",
		}
	}

	signed, err := s.SignTransaction(ctx, tx)
	if err != nil {
		return "", err
	}
	wire, err := signed.Serialize()
	if err != nil {
		return "", &signer.Error{Code: signer.CodeSendFailed, Message: "failed to serialize signed transaction", Cause: err}
	}
	sig, err := a.sender.SendTransaction(ctx, wire, opts)
	if err != nil {
		return "", &signer.Error{Code: signer.CodeSendFailed, Message: "failed to submit transaction", Cause: err}
	}
	a.logger.Debug("transaction submitted over rpc", "wallet", a.wallet.Name(), "signature", sig)
	return sig, nil
}

// MessageSigner returns the message signing function when the connected
// wallet supports it
func (a *LegacyAdapter) MessageSigner() (signer.MessageSignFunc, bool) {
	s, err := a.signer()
	if err != nil {
		return nil, false
	}
	return s.MessageSigner()
}
