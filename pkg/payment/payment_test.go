package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	x402types "github.com/coinbase/x402/go/pkg/types"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/sigweihq/solwallet/pkg/codec"
	"github.com/sigweihq/solwallet/pkg/constants"
	"github.com/sigweihq/solwallet/pkg/signer"
	"github.com/sigweihq/solwallet/pkg/transport"
	"github.com/sigweihq/solwallet/pkg/types"
	"github.com/sigweihq/solwallet/pkg/utils"
	"github.com/sigweihq/solwallet/pkg/wallet"
	"github.com/sigweihq/solwallet/pkg/wallet/wallettest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	walletSignature = bytes.Repeat([]byte{7}, constants.SignatureLength)
	settledSig      = solana.Signature{5}.String()
)

// paymentTx is a transfer from payer whose fees are paid by feePayer
func paymentTx(t *testing.T, feePayer, payer solana.PublicKey) *types.LegacyTransaction {
	t.Helper()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1000, payer, solana.NewWallet().PublicKey()).Build()},
		solana.Hash{8},
		solana.TransactionPayer(feePayer),
	)
	require.NoError(t, err)
	return types.NewLegacyTransaction(tx)
}

// payerSigner signs slot 1, where payer sits behind the fee payer
func payerSigner(t *testing.T, payer solana.PublicKey) *signer.Signer {
	t.Helper()
	w := wallettest.New("Phantom",
		wallettest.WithAccounts(payer.String()),
		wallettest.WithFeature(constants.FeatureSignTransaction, wallettest.SignTransactionFunc(
			func(_ context.Context, in wallet.SignTransactionInput) (any, error) {
				wire := in.Transaction
				if len(in.Transactions) > 0 {
					wire = in.Transactions[0]
				}
				return codec.InjectSignatureAt(wire, 1, walletSignature)
			},
		)),
	)
	s := signer.New(signer.Config{Wallet: w, Account: w.Accounts()[0], Cluster: constants.NetworkSolanaDevnet})
	require.NotNil(t, s)
	return s
}

func requirements(t *testing.T, network, feePayer string) *x402types.PaymentRequirements {
	t.Helper()
	req, err := utils.DerivePaymentRequirementsSolana(
		network,
		solana.NewWallet().PublicKey().String(),
		1000,
		"https://api.example.com/resource",
		constants.USDCAddressSolanaDevnet,
		feePayer,
	)
	require.NoError(t, err)
	return req
}

func TestBuildSolanaPayment(t *testing.T) {
	feePayer := solana.NewWallet().PublicKey()
	payer := solana.NewWallet().PublicKey()
	req := requirements(t, constants.NetworkSolanaDevnet, feePayer.String())

	payload, err := BuildSolanaPayment(context.Background(), payerSigner(t, payer), paymentTx(t, feePayer, payer), req)
	require.NoError(t, err)

	assert.Equal(t, X402Version, payload.X402Version)
	assert.Equal(t, SchemeExact, payload.Scheme)
	assert.Equal(t, constants.NetworkSolanaDevnet, payload.Network)

	wire, err := base64.StdEncoding.DecodeString(payload.Payload.Transaction)
	require.NoError(t, err)
	sigs, _, err := codec.ParseWireTransaction(wire)
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	assert.True(t, codec.IsZeroSignature(sigs[0]), "fee payer slot is left for the facilitator")
	assert.Equal(t, walletSignature, sigs[1])

	got, err := utils.ExtractFeePayer(wire)
	require.NoError(t, err)
	assert.Equal(t, feePayer.String(), got)

	raw, err := payload.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"scheme":"exact"`)
}

func TestBuildSolanaPaymentRejects(t *testing.T) {
	feePayer := solana.NewWallet().PublicKey()
	payer := solana.NewWallet().PublicKey()
	stranger := solana.NewWallet().PublicKey()

	tests := []struct {
		name    string
		signer  *signer.Signer
		tx      types.Transaction
		req     *x402types.PaymentRequirements
		wantErr string
	}{
		{
			name:    "not connected",
			tx:      paymentTx(t, feePayer, payer),
			req:     requirements(t, constants.NetworkSolana, feePayer.String()),
			wantErr: "wallet not connected",
		},
		{
			name:    "missing requirements",
			signer:  payerSigner(t, payer),
			tx:      paymentTx(t, feePayer, payer),
			wantErr: "requirements are required",
		},
		{
			name:    "evm network",
			signer:  payerSigner(t, payer),
			tx:      paymentTx(t, feePayer, payer),
			req:     requirements(t, "base", feePayer.String()),
			wantErr: "not a solana network",
		},
		{
			name:    "fee payer mismatch",
			signer:  payerSigner(t, payer),
			tx:      paymentTx(t, feePayer, payer),
			req:     requirements(t, constants.NetworkSolana, stranger.String()),
			wantErr: "fee payer mismatch",
		},
		{
			name:    "no fee payer in requirements",
			signer:  payerSigner(t, payer),
			tx:      paymentTx(t, feePayer, payer),
			req:     requirements(t, constants.NetworkSolana, ""),
			wantErr: "do not name a fee payer",
		},
		{
			name:    "payer does not sign",
			signer:  payerSigner(t, stranger),
			tx:      paymentTx(t, feePayer, payer),
			req:     requirements(t, constants.NetworkSolana, feePayer.String()),
			wantErr: "is not a signer",
		},
		{
			name:    "nil transaction",
			signer:  payerSigner(t, payer),
			req:     requirements(t, constants.NetworkSolana, feePayer.String()),
			wantErr: "transaction is nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildSolanaPayment(context.Background(), tt.signer, tt.tx, tt.req)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	t.Run("unsupported scheme", func(t *testing.T) {
		req := requirements(t, constants.NetworkSolana, feePayer.String())
		req.Scheme = "upto"
		_, err := BuildSolanaPayment(context.Background(), payerSigner(t, payer), paymentTx(t, feePayer, payer), req)
		assert.ErrorContains(t, err, "unsupported payment scheme")
	})
}

// facilitatorServer serves /verify, /settle and /supported
func facilitatorServer(t *testing.T, verify, settle func(w http.ResponseWriter)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var settles atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/supported":
			_ = json.NewEncoder(w).Encode(SupportedResponse{Kinds: []NetworkKind{
				{X402Version: 1, Scheme: SchemeExact, Network: constants.NetworkSolanaDevnet},
			}})
		case "/verify":
			var body map[string]json.RawMessage
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Contains(t, body, "paymentPayload")
			assert.Contains(t, body, "paymentRequirements")
			verify(w)
		case "/settle":
			settles.Add(1)
			settle(w)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &settles
}

func valid(w http.ResponseWriter) { _, _ = w.Write([]byte(`{"isValid":true}`)) }

func settled(w http.ResponseWriter) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":     true,
		"transaction": settledSig,
		"network":     constants.NetworkSolanaDevnet,
	})
}

func testPayload() *types.SolanaPaymentPayload {
	return &types.SolanaPaymentPayload{
		X402Version: X402Version,
		Scheme:      SchemeExact,
		Network:     constants.NetworkSolanaDevnet,
		Payload:     &types.ExactSolanaPayload{Transaction: "AQID"},
	}
}

func TestFacilitator(t *testing.T) {
	srv, _ := facilitatorServer(t, valid, settled)

	var authCalls []string
	f, err := NewFacilitator(&x402types.FacilitatorConfig{
		URL: srv.URL,
		CreateAuthHeaders: func() (map[string]map[string]string, error) {
			authCalls = append(authCalls, "called")
			return map[string]map[string]string{"verify": {"Authorization": "Bearer token"}}, nil
		},
	})
	require.NoError(t, err)

	supported, err := f.Supported(context.Background())
	require.NoError(t, err)
	assert.True(t, supported.Supports(SchemeExact, constants.NetworkSolanaDevnet))
	assert.False(t, supported.Supports(SchemeExact, constants.NetworkSolana))

	req := requirements(t, constants.NetworkSolanaDevnet, "fee")
	verifyResp, err := f.Verify(context.Background(), testPayload(), req)
	require.NoError(t, err)
	assert.True(t, verifyResp.IsValid)

	settleResp, err := f.Settle(context.Background(), testPayload(), req)
	require.NoError(t, err)
	assert.True(t, settleResp.Success)
	assert.Equal(t, settledSig, settleResp.Transaction)
	assert.Len(t, authCalls, 3)

	_, err = NewFacilitator(&x402types.FacilitatorConfig{URL: "http://facilitator.example.com"})
	assert.ErrorContains(t, err, "must use HTTPS")
	_, err = NewFacilitator(nil)
	assert.Error(t, err)
}

func TestFacilitatorHTTPError(t *testing.T) {
	srv, _ := facilitatorServer(t, func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid payload"}`))
	}, settled)

	f, err := NewFacilitator(&x402types.FacilitatorConfig{URL: srv.URL})
	require.NoError(t, err)

	_, err = f.Verify(context.Background(), testPayload(), requirements(t, constants.NetworkSolanaDevnet, "fee"))
	var httpErr *transport.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.Equal(t, "HTTP 400: invalid payload", err.Error())
}

func TestShouldTryNextFacilitator(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "server error", err: &transport.HTTPError{StatusCode: 502}, want: true},
		{name: "unauthorized", err: &transport.HTTPError{StatusCode: 401}, want: true},
		{name: "bad request", err: &transport.HTTPError{StatusCode: 400}, want: false},
		{name: "wrapped server error", err: errors.Join(errors.New("verify"), &transport.HTTPError{StatusCode: 503}), want: true},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "rejected payment", err: errors.New("payment verification failed: insufficient_funds"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shouldTryNextFacilitator(tt.err))
		})
	}
}

type fakeChain struct {
	status *transport.SignatureStatus
	err    error
	seen   []string
}

func (f *fakeChain) GetSignatureStatus(_ context.Context, signature string) (*transport.SignatureStatus, error) {
	f.seen = append(f.seen, signature)
	return f.status, f.err
}

func TestProcessPaymentFailover(t *testing.T) {
	down, downSettles := facilitatorServer(t, func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, settled)
	up, upSettles := facilitatorServer(t, valid, settled)

	chain := &fakeChain{status: &transport.SignatureStatus{Slot: 5, ConfirmationStatus: "confirmed"}}
	p := NewProcessor(ProcessorConfig{
		FacilitatorURLs: map[string][]string{constants.NetworkSolanaDevnet: {down.URL, up.URL}},
		Chain:           chain,
	})

	var verified bool
	resp, err := p.ProcessPayment(context.Background(), testPayload(), requirements(t, constants.NetworkSolanaDevnet, "fee"),
		func(*types.SolanaPaymentPayload, *x402types.PaymentRequirements) error {
			verified = true
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, settledSig, resp.Transaction)
	assert.True(t, verified)
	assert.Equal(t, int32(0), downSettles.Load())
	assert.Equal(t, int32(1), upSettles.Load())
	assert.Equal(t, []string{settledSig}, chain.seen)
}

func TestProcessPaymentFailures(t *testing.T) {
	invalid := func(w http.ResponseWriter) {
		_, _ = w.Write([]byte(`{"isValid":false,"invalidReason":"insufficient_funds"}`))
	}
	unsettled := func(w http.ResponseWriter) {
		_, _ = w.Write([]byte(`{"success":false,"errorReason":"blockhash_expired","transaction":""}`))
	}

	tests := []struct {
		name       string
		verify     func(http.ResponseWriter)
		settle     func(http.ResponseWriter)
		chain      *fakeChain
		onVerified error
		wantErr    string
	}{
		{name: "verification rejected", verify: invalid, settle: settled, wantErr: "insufficient_funds"},
		{name: "settlement rejected", verify: valid, settle: unsettled, wantErr: "blockhash_expired"},
		{name: "callback fails", verify: valid, settle: settled, onVerified: errors.New("quota"), wantErr: "verification callback failed"},
		{name: "not on chain", verify: valid, settle: settled, chain: &fakeChain{}, wantErr: "not found on chain"},
		{
			name:   "other network",
			verify: valid,
			settle: func(w http.ResponseWriter) {
				_, _ = w.Write([]byte(`{"success":true,"transaction":"` + settledSig + `","network":"solana"}`))
			},
			chain:   &fakeChain{},
			wantErr: "network mismatch",
		},
		{
			name:   "malformed signature",
			verify: valid,
			settle: func(w http.ResponseWriter) {
				_, _ = w.Write([]byte(`{"success":true,"transaction":"0xabc","network":"solana-devnet"}`))
			},
			chain:   &fakeChain{},
			wantErr: "invalid transaction signature",
		},
		{
			name:    "failed on chain",
			verify:  valid,
			settle:  settled,
			chain:   &fakeChain{status: &transport.SignatureStatus{Err: map[string]any{"InstructionError": 0}}},
			wantErr: "failed on chain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, _ := facilitatorServer(t, tt.verify, tt.settle)
			second, secondSettles := facilitatorServer(t, valid, settled)

			config := ProcessorConfig{
				FacilitatorURLs: map[string][]string{constants.NetworkSolanaDevnet: {first.URL, second.URL}},
			}
			if tt.chain != nil {
				config.Chain = tt.chain
			}

			_, err := NewProcessor(config).ProcessPayment(context.Background(), testPayload(), requirements(t, constants.NetworkSolanaDevnet, "fee"),
				func(*types.SolanaPaymentPayload, *x402types.PaymentRequirements) error { return tt.onVerified })
			assert.ErrorContains(t, err, tt.wantErr)
			assert.Equal(t, int32(0), secondSettles.Load(), "rejections do not fail over")
		})
	}

	t.Run("no facilitator", func(t *testing.T) {
		_, err := NewProcessor(ProcessorConfig{}).ProcessPayment(context.Background(), testPayload(), requirements(t, constants.NetworkSolanaDevnet, "fee"), nil)
		assert.ErrorContains(t, err, "no facilitator configured")
	})

	t.Run("all down", func(t *testing.T) {
		down, _ := facilitatorServer(t, func(w http.ResponseWriter) { w.WriteHeader(http.StatusBadGateway) }, settled)
		p := NewProcessor(ProcessorConfig{FacilitatorURLs: map[string][]string{constants.NetworkSolanaDevnet: {down.URL, down.URL}}})
		_, err := p.ProcessPayment(context.Background(), testPayload(), requirements(t, constants.NetworkSolanaDevnet, "fee"), nil)
		assert.ErrorContains(t, err, "all facilitators failed")
	})
}
