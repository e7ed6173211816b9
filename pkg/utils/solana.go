package utils

import (
	"encoding/json"
	"fmt"
	"strings"

	x402types "github.com/coinbase/x402/go/pkg/types"
	"github.com/gagliardetto/solana-go"
	"github.com/sigweihq/solwallet/pkg/codec"
	"github.com/sigweihq/solwallet/pkg/constants"
)

// IsSolanaNetwork reports whether network names a Solana cluster or chain
func IsSolanaNetwork(network string) bool {
	if strings.HasPrefix(network, constants.ChainFamilyPrefix) {
		return true
	}
	_, ok := constants.ClusterToChain[network]
	return ok
}

// ValidateAddress checks that address is a base58 encoded 32-byte public key
func ValidateAddress(address string) error {
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return fmt.Errorf("invalid solana address %q: %w", address, err)
	}
	return nil
}

// DerivePaymentRequirementsSolana creates payment requirements for Solana.
// payTo is the wallet address; the facilitator derives the token account.
func DerivePaymentRequirementsSolana(
	network string,
	toAddress string,
	amount uint64,
	resourceURL string,
	asset string,
	feePayer string,
) (*x402types.PaymentRequirements, error) {
	extraJSON, err := json.Marshal(map[string]any{"feePayer": feePayer})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extra data: %w", err)
	}
	extraRaw := json.RawMessage(extraJSON)

	return &x402types.PaymentRequirements{
		Scheme:            "exact",
		Network:           network,
		MaxAmountRequired: fmt.Sprintf("%d", amount),
		Resource:          resourceURL,
		Description:       fmt.Sprintf("Payment for POST %s", resourceURL),
		MimeType:          "application/json",
		PayTo:             toAddress,
		MaxTimeoutSeconds: 60,
		Asset:             asset,
		Extra:             &extraRaw,
	}, nil
}

// RequiredFeePayer reads the feePayer entry of the requirements' extra data
func RequiredFeePayer(requirements *x402types.PaymentRequirements) (string, error) {
	if requirements == nil || requirements.Extra == nil {
		return "", fmt.Errorf("payment requirements have no extra data")
	}
	var extra struct {
		FeePayer string `json:"feePayer"`
	}
	if err := json.Unmarshal(*requirements.Extra, &extra); err != nil {
		return "", fmt.Errorf("failed to parse extra data: %w", err)
	}
	if extra.FeePayer == "" {
		return "", fmt.Errorf("payment requirements do not name a fee payer")
	}
	return extra.FeePayer, nil
}

// GetSolanaUSDCMintAddress returns the USDC mint address for a Solana network
func GetSolanaUSDCMintAddress(network string) (string, error) {
	address, ok := constants.NetworkToUSDCAddress[network]
	if !ok {
		return "", fmt.Errorf("no USDC address configured for network %s", network)
	}
	return address, nil
}

// ExtractFeePayer returns the fee payer (first account key) of a wire
// transaction
func ExtractFeePayer(wire []byte) (string, error) {
	_, message, err := codec.ParseWireTransaction(wire)
	if err != nil {
		return "", err
	}

	// The fee payer is always the first account key in a Solana transaction
	keys, err := codec.MessageSignerKeys(message)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("transaction has no signers")
	}
	return keys[0].String(), nil
}
