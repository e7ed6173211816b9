package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/sigweihq/solwallet/pkg/constants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transferWire(t *testing.T, payer solana.PublicKey) []byte {
	t.Helper()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1000, payer, solana.NewWallet().PublicKey()).Build()},
		solana.Hash{1},
		solana.TransactionPayer(payer),
	)
	require.NoError(t, err)
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	wire, err := tx.MarshalBinary()
	require.NoError(t, err)
	return wire
}

func TestExtractFeePayer(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	wire := transferWire(t, payer)

	got, err := ExtractFeePayer(wire)
	require.NoError(t, err)
	assert.Equal(t, payer.String(), got)

	_, err = ExtractFeePayer([]byte{1, 2})
	assert.Error(t, err)

	_, err = ExtractFeePayer(nil)
	assert.Error(t, err)
}

func TestDerivePaymentRequirementsSolana(t *testing.T) {
	feePayer := solana.NewWallet().PublicKey().String()
	payTo := solana.NewWallet().PublicKey().String()

	req, err := DerivePaymentRequirementsSolana(
		constants.NetworkSolanaDevnet,
		payTo,
		1500,
		"https://api.example.com/resource",
		constants.USDCAddressSolanaDevnet,
		feePayer,
	)
	require.NoError(t, err)

	assert.Equal(t, "exact", req.Scheme)
	assert.Equal(t, constants.NetworkSolanaDevnet, req.Network)
	assert.Equal(t, "1500", req.MaxAmountRequired)
	assert.Equal(t, payTo, req.PayTo)
	assert.Equal(t, "Payment for POST https://api.example.com/resource", req.Description)
	require.NotNil(t, req.Extra)

	var extra map[string]string
	require.NoError(t, json.Unmarshal(*req.Extra, &extra))
	assert.Equal(t, feePayer, extra["feePayer"])

	got, err := RequiredFeePayer(req)
	require.NoError(t, err)
	assert.Equal(t, feePayer, got)
}

func TestRequiredFeePayerErrors(t *testing.T) {
	_, err := RequiredFeePayer(nil)
	assert.Error(t, err)

	req, err := DerivePaymentRequirementsSolana(constants.NetworkSolana, "x", 1, "r", "a", "")
	require.NoError(t, err)
	_, err = RequiredFeePayer(req)
	assert.ErrorContains(t, err, "do not name a fee payer")

	bad := json.RawMessage(`[1,2]`)
	req.Extra = &bad
	_, err = RequiredFeePayer(req)
	assert.ErrorContains(t, err, "failed to parse extra data")
}

func TestGetSolanaUSDCMintAddress(t *testing.T) {
	addr, err := GetSolanaUSDCMintAddress(constants.NetworkSolana)
	require.NoError(t, err)
	assert.Equal(t, constants.USDCAddressSolana, addr)

	_, err = GetSolanaUSDCMintAddress(constants.NetworkLocalnet)
	assert.Error(t, err)
}

func TestIsSolanaNetwork(t *testing.T) {
	tests := []struct {
		network string
		want    bool
	}{
		{network: constants.NetworkSolana, want: true},
		{network: "devnet", want: true},
		{network: constants.ChainTestnet, want: true},
		{network: "solana:custom", want: true},
		{network: "base", want: false},
		{network: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.network, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSolanaNetwork(tt.network))
		})
	}
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress(solana.NewWallet().PublicKey().String()))
	assert.Error(t, ValidateAddress("0x1234"))
	assert.Error(t, ValidateAddress(""))
}

func TestEndpointForCluster(t *testing.T) {
	endpoint, err := EndpointForCluster(constants.NetworkSolanaDevnet)
	require.NoError(t, err)
	assert.Equal(t, "https://api.devnet.solana.com", endpoint)

	_, err = EndpointForCluster("unknown")
	assert.Error(t, err)
}

func TestNewHTTPClient(t *testing.T) {
	client := NewHTTPClient(0)
	assert.Equal(t, constants.RPCRequestTimeout, client.Timeout)
	assert.Equal(t, 2*time.Second, NewHTTPClient(2*time.Second).Timeout)

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	redirect := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	defer redirect.Close()

	resp, err := client.Get(redirect.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}
