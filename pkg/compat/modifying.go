package compat

import (
	"context"
	"fmt"
	"maps"

	"github.com/sigweihq/solwallet/pkg/codec"
	"github.com/sigweihq/solwallet/pkg/signer"
	"github.com/sigweihq/solwallet/pkg/types"
)

// ModifyingSigner is the multi-signer shape: the wallet may rewrite a
// transaction (e.g. add priority fees) while signing it
type ModifyingSigner struct {
	signer *signer.Signer
}

func NewModifyingSigner(s *signer.Signer) *ModifyingSigner {
	return &ModifyingSigner{signer: s}
}

func (m *ModifyingSigner) Address() string {
	if m.signer == nil {
		return ""
	}
	return m.signer.Address()
}

// ModifyAndSignTransactions sends every transaction, with the signatures it
// already carries, to the wallet in one request.
//
// A response whose length differs from the request was modified by the
// wallet and is returned as decoded, keeping the draft's lifetime
// constraint. A same-length response only contributes this signer's
// signature; the original message is kept.
func (m *ModifyingSigner) ModifyAndSignTransactions(ctx context.Context, txs []*types.CompiledTransaction) ([]*types.CompiledTransaction, error) {
	if m.signer == nil {
		return nil, signer.ErrWalletNotConnected
	}
	if len(txs) == 0 {
		return []*types.CompiledTransaction{}, nil
	}

	wires := make([][]byte, len(txs))
	requests := make([]types.Transaction, len(txs))
	for i, tx := range txs {
		wire, err := tx.Serialize()
		if err != nil {
			return nil, fmt.Errorf("failed to build wire frame for transaction %d: %w", i, err)
		}
		wires[i] = wire
		requests[i] = types.RawTransaction(wire)
	}

	signed, err := m.signer.SignAllTransactions(ctx, requests)
	if err != nil {
		return nil, err
	}
	if len(signed) != len(txs) {
		return nil, fmt.Errorf("wallet returned %d transactions for %d requests", len(signed), len(txs))
	}

	out := make([]*types.CompiledTransaction, len(txs))
	for i, tx := range txs {
		wire, err := signed[i].Serialize()
		if err != nil {
			return nil, fmt.Errorf("failed to read signed transaction %d: %w", i, err)
		}
		if out[i], err = m.reconcile(tx, wires[i], wire); err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
	}
	return out, nil
}

func (m *ModifyingSigner) reconcile(original *types.CompiledTransaction, sent, received []byte) (*types.CompiledTransaction, error) {
	if len(received) != len(sent) {
		decoded, err := types.DecodeCompiledTransaction(received)
		if err != nil {
			return nil, fmt.Errorf("failed to decode modified transaction: %w", err)
		}
		decoded.LifetimeConstraint = original.LifetimeConstraint
		return decoded, nil
	}

	keys, err := original.SignerKeys()
	if err != nil {
		return nil, err
	}
	index := -1
	for i, key := range keys {
		if key.String() == m.signer.Address() {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, fmt.Errorf("%s is not a required signer", m.signer.Address())
	}

	sig, err := codec.ExtractSignatureAt(received, index)
	if err != nil {
		return nil, err
	}
	if codec.IsZeroSignature(sig) {
		return nil, fmt.Errorf("wallet did not sign for %s", m.signer.Address())
	}

	out := &types.CompiledTransaction{
		MessageBytes:       original.MessageBytes,
		Signatures:         maps.Clone(original.Signatures),
		LifetimeConstraint: original.LifetimeConstraint,
	}
	if out.Signatures == nil {
		out.Signatures = make(map[string][]byte, len(keys))
	}
	out.Signatures[m.signer.Address()] = sig
	return out, nil
}
