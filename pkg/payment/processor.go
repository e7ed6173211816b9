package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/coinbase/x402/go/pkg/coinbasefacilitator"
	x402types "github.com/coinbase/x402/go/pkg/types"
	"github.com/gagliardetto/solana-go"
	"github.com/sigweihq/solwallet/pkg/transport"
	"github.com/sigweihq/solwallet/pkg/types"
)

// SignatureStatusChecker looks up a transaction signature on chain.
// *transport.Client implements it.
type SignatureStatusChecker interface {
	GetSignatureStatus(ctx context.Context, signature string) (*transport.SignatureStatus, error)
}

var _ SignatureStatusChecker = (*transport.Client)(nil)

// ProcessorConfig lists the facilitators to try per network, in order.
// CDP credentials replace the list with the Coinbase facilitator.
type ProcessorConfig struct {
	FacilitatorURLs map[string][]string
	CDPAPIKeyID     string
	CDPAPIKeySecret string
	// Chain confirms settled transactions when set
	Chain  SignatureStatusChecker
	Logger *slog.Logger
}

// Processor verifies and settles Solana payments, failing over between
// facilitators on infrastructure errors
type Processor struct {
	config ProcessorConfig
	logger *slog.Logger
}

func NewProcessor(config ProcessorConfig) *Processor {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Processor{config: config, logger: config.Logger}
}

func (p *Processor) facilitatorConfigs(network string) []*x402types.FacilitatorConfig {
	if p.config.CDPAPIKeyID != "" && p.config.CDPAPIKeySecret != "" {
		return []*x402types.FacilitatorConfig{
			coinbasefacilitator.CreateFacilitatorConfig(p.config.CDPAPIKeyID, p.config.CDPAPIKeySecret),
		}
	}

	urls := p.config.FacilitatorURLs[network]
	configs := make([]*x402types.FacilitatorConfig, len(urls))
	for i, url := range urls {
		configs[i] = &x402types.FacilitatorConfig{URL: url}
	}
	return configs
}

// shouldTryNextFacilitator is true for network failures, 5xx and auth
// failures. Rejected payments are final.
func shouldTryNextFacilitator(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *transport.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= http.StatusInternalServerError ||
			httpErr.StatusCode == http.StatusUnauthorized ||
			httpErr.StatusCode == http.StatusForbidden
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// ProcessPayment verifies and settles payload, calling onVerified between
// the two steps when it is set
func (p *Processor) ProcessPayment(
	ctx context.Context,
	payload *types.SolanaPaymentPayload,
	requirements *x402types.PaymentRequirements,
	onVerified func(*types.SolanaPaymentPayload, *x402types.PaymentRequirements) error,
) (*x402types.SettleResponse, error) {
	if payload == nil || requirements == nil {
		return nil, fmt.Errorf("payment payload and requirements are required")
	}
	configs := p.facilitatorConfigs(payload.Network)
	if len(configs) == 0 {
		return nil, fmt.Errorf("no facilitator configured for network %s", payload.Network)
	}

	var lastErr error
	for i, config := range configs {
		p.logger.Info("trying facilitator", "index", i+1, "total", len(configs), "url", config.URL, "network", payload.Network)

		settleResp, err := p.tryFacilitator(ctx, config, payload, requirements, onVerified)
		if err == nil {
			p.logger.Info("facilitator succeeded", "url", config.URL, "transaction", settleResp.Transaction)
			if err := p.confirmSettlement(ctx, settleResp, requirements); err != nil {
				return nil, err
			}
			return settleResp, nil
		}

		retry := shouldTryNextFacilitator(err)
		p.logger.Warn("facilitator attempt failed", "url", config.URL, "error", err, "willRetry", retry)
		lastErr = err
		if !retry || ctx.Err() != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("all facilitators failed, last error: %w", lastErr)
}

func (p *Processor) tryFacilitator(
	ctx context.Context,
	config *x402types.FacilitatorConfig,
	payload *types.SolanaPaymentPayload,
	requirements *x402types.PaymentRequirements,
	onVerified func(*types.SolanaPaymentPayload, *x402types.PaymentRequirements) error,
) (*x402types.SettleResponse, error) {
	facilitator, err := NewFacilitator(config)
	if err != nil {
		return nil, err
	}

	verifyResp, err := facilitator.Verify(ctx, payload, requirements)
	if err != nil {
		return nil, fmt.Errorf("payment verification failed: %w", err)
	}
	if !verifyResp.IsValid {
		reason := "unknown"
		if verifyResp.InvalidReason != nil {
			reason = *verifyResp.InvalidReason
		}
		return nil, fmt.Errorf("payment verification failed: %s", reason)
	}

	if onVerified != nil {
		if err := onVerified(payload, requirements); err != nil {
			return nil, fmt.Errorf("verification callback failed: %w", err)
		}
	}

	settleResp, err := facilitator.Settle(ctx, payload, requirements)
	if err != nil {
		return nil, fmt.Errorf("payment settlement failed: %w", err)
	}
	if !settleResp.Success {
		reason := "unknown"
		if settleResp.ErrorReason != nil {
			reason = *settleResp.ErrorReason
		}
		return nil, fmt.Errorf("payment settlement failed: %s", reason)
	}
	return settleResp, nil
}

// confirmSettlement checks that the settled transaction is on the required
// network, landed and succeeded
func (p *Processor) confirmSettlement(ctx context.Context, settleResp *x402types.SettleResponse, requirements *x402types.PaymentRequirements) error {
	if p.config.Chain == nil {
		return nil
	}
	if settleResp.Network != "" && settleResp.Network != requirements.Network {
		return fmt.Errorf("network mismatch: settle response has %s but payment requirements has %s",
			settleResp.Network, requirements.Network)
	}
	if settleResp.Transaction == "" {
		return fmt.Errorf("settle response has no transaction signature")
	}
	if _, err := solana.SignatureFromBase58(settleResp.Transaction); err != nil {
		return fmt.Errorf("invalid transaction signature %q: %w", settleResp.Transaction, err)
	}

	status, err := p.config.Chain.GetSignatureStatus(ctx, settleResp.Transaction)
	if err != nil {
		return fmt.Errorf("blockchain verification failed: %w", err)
	}
	if status == nil {
		return fmt.Errorf("transaction %s not found on chain", settleResp.Transaction)
	}
	if !status.Succeeded() {
		return fmt.Errorf("transaction %s failed on chain: %v", settleResp.Transaction, status.Err)
	}
	return nil
}
