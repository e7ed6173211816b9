package types

import (
	"encoding/json"
)

// ExactSolanaPayload represents the Solana-specific payment payload
type ExactSolanaPayload struct {
	Transaction string `json:"transaction"` // Base64-encoded signed transaction
}

// SolanaPaymentPayload is the x402 payment payload for the exact scheme on
// Solana networks
type SolanaPaymentPayload struct {
	X402Version int                 `json:"x402Version"`
	Scheme      string              `json:"scheme"`
	Network     string              `json:"network"`
	Payload     *ExactSolanaPayload `json:"payload"`
}

// ToJSON converts SolanaPaymentPayload to JSON bytes
func (p *SolanaPaymentPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}
