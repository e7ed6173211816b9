// Package signer exposes a uniform signing interface over a connected
// wallet account
package signer

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/sigweihq/solwallet/pkg/connection"
	"github.com/sigweihq/solwallet/pkg/constants"
	"github.com/sigweihq/solwallet/pkg/types"
	"github.com/sigweihq/solwallet/pkg/wallet"
)

// Config selects the wallet and account to sign with
type Config struct {
	Wallet  wallet.Wallet
	Account wallet.Account
	// Cluster is a cluster name or a solana:* chain id
	Cluster string
	Logger  *slog.Logger
}

// Capabilities is derived once from the wallet's features
type Capabilities struct {
	CanSign              bool
	CanSend              bool
	CanSignMessage       bool
	SupportsBatchSigning bool
}

// MessageSignFunc signs an arbitrary message and returns the signature
type MessageSignFunc func(ctx context.Context, message []byte) ([]byte, error)

// Signer signs transactions with one wallet account. A nil *Signer reports
// WALLET_NOT_CONNECTED from every operation.
type Signer struct {
	wallet  wallet.Wallet
	account wallet.Account
	cluster string
	chain   string
	caps    Capabilities
	logger  *slog.Logger

	sign    wallet.SignTransactionFeature
	signAll wallet.SignAllTransactionsFeature
	send    wallet.SignAndSendTransactionFeature
	message wallet.SignMessageFeature
}

// New returns nil when the wallet or account is missing
func New(cfg Config) *Signer {
	if cfg.Wallet == nil || cfg.Account.Address == "" {
		return nil
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Signer{
		wallet:  cfg.Wallet,
		account: cfg.Account,
		cluster: cfg.Cluster,
		chain:   chainFor(cfg.Cluster),
		logger:  cfg.Logger,
	}
	s.sign, s.caps.CanSign = wallet.Feature[wallet.SignTransactionFeature](cfg.Wallet, constants.FeatureSignTransaction)
	s.signAll, s.caps.SupportsBatchSigning = wallet.Feature[wallet.SignAllTransactionsFeature](cfg.Wallet, constants.FeatureSignAllTransactions)
	s.send, s.caps.CanSend = wallet.Feature[wallet.SignAndSendTransactionFeature](cfg.Wallet, constants.FeatureSignAndSendTransaction)
	s.message, s.caps.CanSignMessage = wallet.Feature[wallet.SignMessageFeature](cfg.Wallet, constants.FeatureSignMessage)
	return s
}

// FromSession builds a signer for the session's selected account
func FromSession(session *connection.Session, cluster string, logger *slog.Logger) (*Signer, error) {
	if session == nil {
		return nil, newError(CodeWalletNotConnected, nil, "no wallet session")
	}
	s := New(Config{
		Wallet:  session.Wallet,
		Account: session.Selected().Account,
		Cluster: cluster,
		Logger:  logger,
	})
	if s == nil {
		return nil, newError(CodeWalletNotConnected, nil, "session has no selected account")
	}
	return s, nil
}

// chainFor maps a cluster name to its chain id; chain ids pass through
func chainFor(cluster string) string {
	if strings.HasPrefix(cluster, constants.ChainFamilyPrefix) {
		return cluster
	}
	return constants.ClusterToChain[cluster]
}

// Capabilities returns the capability snapshot taken at construction
func (s *Signer) Capabilities() Capabilities {
	if s == nil {
		return Capabilities{}
	}
	return s.caps
}

func (s *Signer) Wallet() wallet.Wallet   { return s.wallet }
func (s *Signer) Account() wallet.Account { return s.account }
func (s *Signer) Address() string         { return s.account.Address }
func (s *Signer) Cluster() string         { return s.cluster }

// Chain is the wallet-standard chain id requests are tagged with
func (s *Signer) Chain() string { return s.chain }

func (s *Signer) walletName() string {
	return s.wallet.Name()
}

// SignTransaction signs tx without sending it. The result has the same
// representation as tx.
func (s *Signer) SignTransaction(ctx context.Context, tx types.Transaction) (types.Transaction, error) {
	if s == nil {
		return nil, newError(CodeWalletNotConnected, nil, "wallet not connected")
	}
	if !s.caps.CanSign {
		return nil, newError(CodeFeatureNotSupported, nil, "wallet %s does not support %s", s.walletName(), constants.FeatureSignTransaction)
	}
	if tx == nil {
		return nil, newError(CodeSigningFailed, nil, "transaction is nil")
	}

	wire, err := tx.Serialize()
	if err != nil {
		return nil, newError(CodeSigningFailed, err, "failed to serialize transaction")
	}

	resp, err := s.requestSignature(ctx, wire)
	if err != nil {
		return nil, newError(CodeSigningFailed, err, "wallet %s failed to sign transaction", s.walletName())
	}

	signed, err := signedSingle(resp)
	if err != nil {
		return nil, newError(CodeSigningFailed, err, "unexpected response from wallet %s", s.walletName())
	}
	out, err := types.DecodeAs(tx, signed)
	if err != nil {
		return nil, newError(CodeSigningFailed, err, "failed to decode signed transaction")
	}
	return out, nil
}

// requestSignature tries the batch-field request shape first, then the
// single-field one. The second error is the one returned.
func (s *Signer) requestSignature(ctx context.Context, wire []byte) (any, error) {
	resp, err := s.sign.SignTransaction(ctx, wallet.SignTransactionInput{
		Account:      s.account,
		Chain:        s.chain,
		Transactions: [][]byte{wire},
	})
	if err == nil {
		return resp, nil
	}
	s.logger.Debug("sign request rejected, retrying with single transaction field", "wallet", s.walletName(), "error", err)

	return s.sign.SignTransaction(ctx, wallet.SignTransactionInput{
		Account:     s.account,
		Chain:       s.chain,
		Transaction: wire,
	})
}

// SignAllTransactions signs txs in one wallet call when the wallet supports
// batches, otherwise one at a time in order
func (s *Signer) SignAllTransactions(ctx context.Context, txs []types.Transaction) ([]types.Transaction, error) {
	if s == nil {
		return nil, newError(CodeWalletNotConnected, nil, "wallet not connected")
	}
	if len(txs) == 0 {
		return []types.Transaction{}, nil
	}
	if s.caps.SupportsBatchSigning {
		return s.signBatch(ctx, txs)
	}
	if !s.caps.CanSign {
		return nil, newError(CodeFeatureNotSupported, nil, "wallet %s does not support %s", s.walletName(), constants.FeatureSignTransaction)
	}

	out := make([]types.Transaction, len(txs))
	for i, tx := range txs {
		signed, err := s.SignTransaction(ctx, tx)
		if err != nil {
			return nil, newError(CodeSigningFailed, err, "failed to sign transaction %d of %d", i+1, len(txs))
		}
		out[i] = signed
	}
	return out, nil
}

func (s *Signer) signBatch(ctx context.Context, txs []types.Transaction) ([]types.Transaction, error) {
	wires := make([][]byte, len(txs))
	for i, tx := range txs {
		if tx == nil {
			return nil, newError(CodeSigningFailed, nil, "transaction %d of %d is nil", i+1, len(txs))
		}
		wire, err := tx.Serialize()
		if err != nil {
			return nil, newError(CodeSigningFailed, err, "failed to serialize transaction %d of %d", i+1, len(txs))
		}
		wires[i] = wire
	}

	resp, err := s.signAll.SignAllTransactions(ctx, wallet.SignAllTransactionsInput{
		Account:      s.account,
		Chain:        s.chain,
		Transactions: wires,
	})
	if err != nil {
		return nil, newError(CodeSigningFailed, err, "wallet %s failed to sign batch of %d transactions", s.walletName(), len(txs))
	}

	signed, err := signedBatch(resp)
	if err != nil {
		return nil, newError(CodeSigningFailed, err, "unexpected batch response from wallet %s", s.walletName())
	}
	if len(signed) != len(txs) {
		return nil, newError(CodeSigningFailed, nil, "wallet %s returned %d signed transactions for a batch of %d", s.walletName(), len(signed), len(txs))
	}

	out := make([]types.Transaction, len(txs))
	for i, tx := range txs {
		if out[i], err = types.DecodeAs(tx, signed[i]); err != nil {
			return nil, newError(CodeSigningFailed, err, "failed to decode signed transaction %d of %d", i+1, len(txs))
		}
	}
	return out, nil
}

// SignAndSendTransaction has the wallet sign and submit tx and returns the
// base58 transaction signature
func (s *Signer) SignAndSendTransaction(ctx context.Context, tx types.Transaction, opts map[string]any) (string, error) {
	if s == nil {
		return "", newError(CodeWalletNotConnected, nil, "wallet not connected")
	}
	if !s.caps.CanSend {
		return "", newError(CodeFeatureNotSupported, nil, "wallet %s does not support %s", s.walletName(), constants.FeatureSignAndSendTransaction)
	}
	if tx == nil {
		return "", newError(CodeSendFailed, nil, "transaction is nil")
	}

	wire, err := tx.Serialize()
	if err != nil {
		return "", newError(CodeSendFailed, err, "failed to serialize transaction")
	}

	resp, err := s.send.SignAndSendTransaction(ctx, wallet.SignAndSendTransactionInput{
		Account:     s.account,
		Chain:       s.chain,
		Transaction: wire,
		Options:     s.sendOptions(opts),
	})
	if err != nil {
		return "", newError(CodeSendFailed, err, "wallet %s failed to send transaction", s.walletName())
	}

	sig, err := normalizeSignature(resp)
	if err != nil {
		return "", newError(CodeSendFailed, err, "unexpected send response from wallet %s", s.walletName())
	}
	s.logger.Debug("transaction sent", "wallet", s.walletName(), "signature", sig)
	return sig, nil
}

// sendOptions copies opts and tags them with the active chain unless the
// caller already set one
func (s *Signer) sendOptions(opts map[string]any) map[string]any {
	merged := maps.Clone(opts)
	if merged == nil {
		merged = make(map[string]any)
	}
	if _, ok := merged["chain"]; !ok && s.chain != "" {
		merged["chain"] = s.chain
	}
	return merged
}

// SignAndSendTransactions sends txs one at a time in order
func (s *Signer) SignAndSendTransactions(ctx context.Context, txs []types.Transaction, opts map[string]any) ([]string, error) {
	if s == nil {
		return nil, newError(CodeWalletNotConnected, nil, "wallet not connected")
	}
	if len(txs) == 0 {
		return []string{}, nil
	}
	if !s.caps.CanSend {
		return nil, newError(CodeFeatureNotSupported, nil, "wallet %s does not support %s", s.walletName(), constants.FeatureSignAndSendTransaction)
	}

	sigs := make([]string, len(txs))
	for i, tx := range txs {
		sig, err := s.SignAndSendTransaction(ctx, tx, opts)
		if err != nil {
			return nil, newError(CodeSendFailed, err, "failed to send transaction %d of %d", i+1, len(txs))
		}
		sigs[i] = sig
	}
	return sigs, nil
}

// MessageSigner returns the message signing function, which only exists when
// the wallet supports message signing
func (s *Signer) MessageSigner() (MessageSignFunc, bool) {
	if s == nil || !s.caps.CanSignMessage {
		return nil, false
	}
	return s.SignMessage, true
}

// SignMessage signs an arbitrary message with the selected account
func (s *Signer) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	if s == nil {
		return nil, newError(CodeWalletNotConnected, nil, "wallet not connected")
	}
	if !s.caps.CanSignMessage {
		return nil, newError(CodeFeatureNotSupported, nil, "wallet %s does not support %s", s.walletName(), constants.FeatureSignMessage)
	}

	out, err := s.message.SignMessage(ctx, wallet.SignMessageInput{Account: s.account, Message: message})
	if err != nil {
		return nil, newError(CodeSigningFailed, err, "wallet %s failed to sign message", s.walletName())
	}
	if out == nil || len(out.Signature) == 0 {
		return nil, newError(CodeSigningFailed, nil, "wallet %s returned no message signature", s.walletName())
	}
	return out.Signature, nil
}

func (c Capabilities) String() string {
	return fmt.Sprintf("sign=%t send=%t signMessage=%t batch=%t", c.CanSign, c.CanSend, c.CanSignMessage, c.SupportsBatchSigning)
}
