package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	x402types "github.com/coinbase/x402/go/pkg/types"
	"github.com/sigweihq/solwallet/pkg/constants"
	"github.com/sigweihq/solwallet/pkg/transport"
	"github.com/sigweihq/solwallet/pkg/types"
	"github.com/sigweihq/solwallet/pkg/utils"
)

// SupportedResponse lists the scheme/network pairs a facilitator accepts
type SupportedResponse struct {
	Kinds []NetworkKind `json:"kinds"`
}

// NetworkKind contains information about a supported scheme/network combination
type NetworkKind struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}

// Supports reports whether the facilitator accepts scheme on network
func (r *SupportedResponse) Supports(scheme, network string) bool {
	for _, kind := range r.Kinds {
		if kind.Scheme == scheme && kind.Network == network {
			return true
		}
	}
	return false
}

// Facilitator talks to an x402 facilitator's verify, settle and supported
// endpoints with Solana payloads
type Facilitator struct {
	URL               string
	HTTPClient        *http.Client
	CreateAuthHeaders func() (map[string]map[string]string, error)
}

// NewFacilitator creates a facilitator client. The URL must use HTTPS unless
// it points at localhost.
func NewFacilitator(config *x402types.FacilitatorConfig) (*Facilitator, error) {
	if config == nil {
		return nil, fmt.Errorf("facilitator config is required")
	}
	if err := utils.ValidateEndpointURL(config.URL); err != nil {
		return nil, err
	}
	return &Facilitator{
		URL:               config.URL,
		HTTPClient:        utils.NewHTTPClient(constants.FacilitatorTimeout),
		CreateAuthHeaders: config.CreateAuthHeaders,
	}, nil
}

// Supported lists what the facilitator accepts
func (f *Facilitator) Supported(ctx context.Context) (*SupportedResponse, error) {
	return jsonRequest[SupportedResponse](ctx, f, http.MethodGet, "supported", nil)
}

// Verify checks a payment without settling it
func (f *Facilitator) Verify(ctx context.Context, payload *types.SolanaPaymentPayload, requirements *x402types.PaymentRequirements) (*x402types.VerifyResponse, error) {
	return jsonRequest[x402types.VerifyResponse](ctx, f, http.MethodPost, "verify", requestBody(payload, requirements))
}

// Settle submits a payment on chain
func (f *Facilitator) Settle(ctx context.Context, payload *types.SolanaPaymentPayload, requirements *x402types.PaymentRequirements) (*x402types.SettleResponse, error) {
	return jsonRequest[x402types.SettleResponse](ctx, f, http.MethodPost, "settle", requestBody(payload, requirements))
}

func requestBody(payload *types.SolanaPaymentPayload, requirements *x402types.PaymentRequirements) map[string]any {
	return map[string]any{
		"x402Version":         X402Version,
		"paymentPayload":      payload,
		"paymentRequirements": requirements,
	}
}

// jsonRequest sends body to the endpoint and decodes a JSON response. Auth
// headers are looked up by endpoint name.
func jsonRequest[T any](ctx context.Context, f *Facilitator, method, endpoint string, body any) (*T, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fmt.Sprintf("%s/%s", f.URL, endpoint), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if f.CreateAuthHeaders != nil {
		headers, err := f.CreateAuthHeaders()
		if err != nil {
			return nil, fmt.Errorf("failed to create auth headers: %w", err)
		}
		for key, value := range headers[endpoint] {
			req.Header.Set(key, value)
		}
	}

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send %s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	limitedReader := io.LimitReader(resp.Body, int64(constants.MaxResponseBodySize))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(limitedReader)
		return nil, &transport.HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       bodyBytes,
		}
	}

	var result T
	if err := json.NewDecoder(limitedReader).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return &result, nil
}
