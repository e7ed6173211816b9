package detector

import (
	"context"
	"fmt"
	"sync"

	"github.com/sigweihq/solwallet/pkg/constants"
	"github.com/sigweihq/solwallet/pkg/wallet"
)

// Optional capabilities of legacy providers
type (
	LegacyTransactionSigner interface {
		SignTransaction(ctx context.Context, tx []byte) ([]byte, error)
	}
	LegacyBatchSigner interface {
		SignAllTransactions(ctx context.Context, txs [][]byte) ([][]byte, error)
	}
	LegacySender interface {
		SignAndSendTransaction(ctx context.Context, tx []byte) (signature string, err error)
	}
	LegacyMessageSigner interface {
		SignMessage(ctx context.Context, message []byte) (signature []byte, err error)
	}
	LegacyIcon interface {
		Icon() string
	}
)

// legacyShim presents a legacy provider as a standard wallet
type legacyShim struct {
	name     string
	provider LegacyProvider
	features map[string]any

	mu      sync.RWMutex
	address string
}

var _ wallet.Wallet = (*legacyShim)(nil)

func newLegacyShim(name string, provider LegacyProvider) *legacyShim {
	s := &legacyShim{name: name, provider: provider}
	s.features = map[string]any{
		constants.FeatureStandardConnect:    shimConnect{s},
		constants.FeatureStandardDisconnect: shimDisconnect{s},
	}
	if signer, ok := provider.(LegacyTransactionSigner); ok {
		s.features[constants.FeatureSignTransaction] = shimSign{signer}
	}
	if batch, ok := provider.(LegacyBatchSigner); ok {
		s.features[constants.FeatureSignAllTransactions] = shimSignAll{batch}
	}
	if sender, ok := provider.(LegacySender); ok {
		s.features[constants.FeatureSignAndSendTransaction] = shimSend{sender}
	}
	if ms, ok := provider.(LegacyMessageSigner); ok {
		s.features[constants.FeatureSignMessage] = shimSignMessage{ms}
	}
	return s
}

func (s *legacyShim) Name() string { return s.name }

func (s *legacyShim) Icon() string {
	if i, ok := s.provider.(LegacyIcon); ok {
		return i.Icon()
	}
	return ""
}

func (s *legacyShim) Chains() []string {
	return []string{constants.ChainMainnet, constants.ChainDevnet, constants.ChainTestnet}
}

func (s *legacyShim) Accounts() []wallet.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.address == "" {
		return nil
	}
	return []wallet.Account{{Address: s.address, Chains: s.Chains()}}
}

func (s *legacyShim) Features() map[string]any { return s.features }

type shimConnect struct{ s *legacyShim }

func (c shimConnect) Connect(ctx context.Context, input wallet.ConnectInput) (*wallet.ConnectOutput, error) {
	address, err := c.s.provider.Connect(ctx, input.Silent)
	if err != nil {
		return nil, err
	}
	c.s.mu.Lock()
	c.s.address = address
	c.s.mu.Unlock()
	return &wallet.ConnectOutput{Accounts: c.s.Accounts()}, nil
}

type shimDisconnect struct{ s *legacyShim }

func (d shimDisconnect) Disconnect(ctx context.Context) error {
	d.s.mu.Lock()
	d.s.address = ""
	d.s.mu.Unlock()
	return d.s.provider.Disconnect(ctx)
}

type shimSign struct{ signer LegacyTransactionSigner }

func (s shimSign) SignTransaction(ctx context.Context, input wallet.SignTransactionInput) (any, error) {
	tx := input.Transaction
	if tx == nil && len(input.Transactions) > 0 {
		tx = input.Transactions[0]
	}
	if tx == nil {
		return nil, fmt.Errorf("no transaction to sign")
	}
	return s.signer.SignTransaction(ctx, tx)
}

type shimSignAll struct{ signer LegacyBatchSigner }

func (s shimSignAll) SignAllTransactions(ctx context.Context, input wallet.SignAllTransactionsInput) (any, error) {
	signed, err := s.signer.SignAllTransactions(ctx, input.Transactions)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(signed))
	for i, tx := range signed {
		out[i] = tx
	}
	return wallet.SignedTransactionsOutput{SignedTransactions: out}, nil
}

type shimSend struct{ sender LegacySender }

func (s shimSend) SignAndSendTransaction(ctx context.Context, input wallet.SignAndSendTransactionInput) (any, error) {
	sig, err := s.sender.SignAndSendTransaction(ctx, input.Transaction)
	if err != nil {
		return nil, err
	}
	return wallet.SignatureOutput{Signature: sig}, nil
}

type shimSignMessage struct{ signer LegacyMessageSigner }

func (s shimSignMessage) SignMessage(ctx context.Context, input wallet.SignMessageInput) (*wallet.SignMessageOutput, error) {
	sig, err := s.signer.SignMessage(ctx, input.Message)
	if err != nil {
		return nil, err
	}
	return &wallet.SignMessageOutput{SignedMessage: input.Message, Signature: sig}, nil
}
