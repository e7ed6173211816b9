// Package payment turns wallet-signed Solana transactions into x402 payment
// payloads and settles them through facilitators
package payment

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	x402types "github.com/coinbase/x402/go/pkg/types"
	"github.com/sigweihq/solwallet/pkg/codec"
	"github.com/sigweihq/solwallet/pkg/signer"
	"github.com/sigweihq/solwallet/pkg/types"
	"github.com/sigweihq/solwallet/pkg/utils"
	"github.com/sigweihq/solwallet/pkg/validator"
)

const (
	X402Version = 1
	SchemeExact = "exact"
)

// BuildSolanaPayment signs tx with the connected wallet, without sending it,
// and wraps it in an exact-scheme payload for requirements. The facilitator
// named in the requirements must be the transaction's fee payer.
func BuildSolanaPayment(ctx context.Context, s *signer.Signer, tx types.Transaction, requirements *x402types.PaymentRequirements) (*types.SolanaPaymentPayload, error) {
	if s == nil {
		return nil, &signer.Error{Code: signer.CodeWalletNotConnected, Message: "wallet not connected"}
	}
	if requirements == nil {
		return nil, fmt.Errorf("payment requirements are required")
	}
	if requirements.Scheme != "" && requirements.Scheme != SchemeExact {
		return nil, fmt.Errorf("unsupported payment scheme %q", requirements.Scheme)
	}
	if !utils.IsSolanaNetwork(requirements.Network) {
		return nil, fmt.Errorf("network %s is not a solana network", requirements.Network)
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction is nil")
	}

	wire, err := tx.Serialize()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}
	if err := checkSigners(wire, requirements, s.Address()); err != nil {
		return nil, err
	}
	if err := validator.AssertValid(wire, validator.Options{Logger: slog.Default()}); err != nil {
		return nil, err
	}

	signed, err := s.SignTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	signedWire, err := signed.Serialize()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize signed transaction: %w", err)
	}

	return &types.SolanaPaymentPayload{
		X402Version: X402Version,
		Scheme:      SchemeExact,
		Network:     requirements.Network,
		Payload: &types.ExactSolanaPayload{
			Transaction: base64.StdEncoding.EncodeToString(signedWire),
		},
	}, nil
}

// checkSigners ensures the facilitator pays the fees and the payer is one
// of the transaction's signers
func checkSigners(wire []byte, requirements *x402types.PaymentRequirements, payer string) error {
	want, err := utils.RequiredFeePayer(requirements)
	if err != nil {
		return err
	}
	got, err := utils.ExtractFeePayer(wire)
	if err != nil {
		return fmt.Errorf("failed to read fee payer: %w", err)
	}
	if got != want {
		return fmt.Errorf("fee payer mismatch: transaction has %s but requirements name %s", got, want)
	}

	_, message, err := codec.ParseWireTransaction(wire)
	if err != nil {
		return err
	}
	keys, err := codec.MessageSignerKeys(message)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if key.String() == payer {
			return nil
		}
	}
	return fmt.Errorf("%s is not a signer of the payment transaction", payer)
}
