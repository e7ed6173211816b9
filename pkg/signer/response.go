package signer

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/sigweihq/solwallet/pkg/constants"
	"github.com/sigweihq/solwallet/pkg/types"
	"github.com/sigweihq/solwallet/pkg/wallet"
)

// responseKind tags the shapes wallets return from signing features
type responseKind int

const (
	kindUnknown       responseKind = iota
	kindBytes                      // bare wire bytes
	kindSerializable               // an object that serializes itself
	kindWrappedSingle              // {signedTransaction: ...}
	kindWrappedBatch               // {signedTransactions: [...]}
	kindArray                      // bare list of any of the above
)

func (k responseKind) String() string {
	switch k {
	case kindBytes:
		return "bytes"
	case kindSerializable:
		return "serializable"
	case kindWrappedSingle:
		return "wrapped-single"
	case kindWrappedBatch:
		return "wrapped-batch"
	case kindArray:
		return "array"
	default:
		return "unknown"
	}
}

// maxNesting bounds {signedTransaction: {signedTransaction: ...}} unwrapping
const maxNesting = 4

var errEmptyResponse = errors.New("wallet returned no signed transactions")

func classify(resp any) responseKind {
	switch v := resp.(type) {
	case []byte, types.RawTransaction:
		return kindBytes
	case *solana.Transaction, types.Transaction:
		return kindSerializable
	case wallet.SignedTransactionOutput, *wallet.SignedTransactionOutput:
		return kindWrappedSingle
	case wallet.SignedTransactionsOutput, *wallet.SignedTransactionsOutput:
		return kindWrappedBatch
	case []any, [][]byte, []types.Transaction, []*solana.Transaction:
		return kindArray
	case map[string]any:
		// JSON-decoded responses from bridged wallets
		if _, ok := v["signedTransactions"]; ok {
			return kindWrappedBatch
		}
		if _, ok := v["signedTransaction"]; ok {
			return kindWrappedSingle
		}
	}
	return kindUnknown
}

// signedBatch reduces a signing response to the list of wire transactions it
// carries
func signedBatch(resp any) ([][]byte, error) {
	return normalize(resp, 0)
}

// signedSingle reduces a signing response to one wire transaction
func signedSingle(resp any) ([]byte, error) {
	out, err := normalize(resp, 0)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func normalize(resp any, depth int) ([][]byte, error) {
	if depth > maxNesting {
		return nil, fmt.Errorf("signing response nested more than %d levels", maxNesting)
	}

	kind := classify(resp)
	var (
		out [][]byte
		err error
	)
	switch kind {
	case kindBytes:
		out, err = normalizeBytes(resp)
	case kindSerializable:
		out, err = normalizeSerializable(resp)
	case kindWrappedSingle:
		out, err = normalizeWrappedSingle(resp, depth)
	case kindWrappedBatch:
		out, err = normalizeWrappedBatch(resp, depth)
	case kindArray:
		out, err = normalizeArray(resp, depth)
	default:
		return nil, fmt.Errorf("unrecognized signing response of type %T", resp)
	}
	if err != nil {
		return nil, fmt.Errorf("%s response: %w", kind, err)
	}
	if len(out) == 0 {
		return nil, errEmptyResponse
	}
	return out, nil
}

func normalizeBytes(resp any) ([][]byte, error) {
	var b []byte
	switch v := resp.(type) {
	case []byte:
		b = v
	case types.RawTransaction:
		b = v
	}
	if len(b) == 0 {
		return nil, errEmptyResponse
	}
	return [][]byte{append([]byte(nil), b...)}, nil
}

func normalizeSerializable(resp any) ([][]byte, error) {
	var tx types.Transaction
	switch v := resp.(type) {
	case *solana.Transaction:
		tx = types.NewLegacyTransaction(v)
	case types.Transaction:
		tx = v
	}
	b, err := tx.Serialize()
	if err != nil {
		return nil, err
	}
	return [][]byte{b}, nil
}

func normalizeWrappedSingle(resp any, depth int) ([][]byte, error) {
	var inner any
	switch v := resp.(type) {
	case wallet.SignedTransactionOutput:
		inner = v.SignedTransaction
	case *wallet.SignedTransactionOutput:
		if v != nil {
			inner = v.SignedTransaction
		}
	case map[string]any:
		inner = v["signedTransaction"]
	}
	if inner == nil {
		return nil, errEmptyResponse
	}
	return normalize(inner, depth+1)
}

func normalizeWrappedBatch(resp any, depth int) ([][]byte, error) {
	var inner []any
	switch v := resp.(type) {
	case wallet.SignedTransactionsOutput:
		inner = v.SignedTransactions
	case *wallet.SignedTransactionsOutput:
		if v != nil {
			inner = v.SignedTransactions
		}
	case map[string]any:
		list, ok := v["signedTransactions"].([]any)
		if !ok {
			return nil, fmt.Errorf("signedTransactions is %T", v["signedTransactions"])
		}
		inner = list
	}
	return normalizeList(inner, depth)
}

func normalizeArray(resp any, depth int) ([][]byte, error) {
	var items []any
	switch v := resp.(type) {
	case []any:
		items = v
	case [][]byte:
		for _, b := range v {
			items = append(items, b)
		}
	case []types.Transaction:
		for _, t := range v {
			items = append(items, t)
		}
	case []*solana.Transaction:
		for _, t := range v {
			items = append(items, t)
		}
	}
	return normalizeList(items, depth)
}

func normalizeList(items []any, depth int) ([][]byte, error) {
	out := make([][]byte, 0, len(items))
	for i, item := range items {
		// each element is a single transaction, possibly wrapped
		b, err := normalize(item, depth+1)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, b[0])
	}
	return out, nil
}

// normalizeSignature reduces a sign-and-send response to a base58 signature.
// Byte signatures are always base58 encoded, never formatted with %v.
func normalizeSignature(resp any) (string, error) {
	return signatureString(resp, 0)
}

func signatureString(resp any, depth int) (string, error) {
	if depth > maxNesting {
		return "", fmt.Errorf("signature response nested more than %d levels", maxNesting)
	}

	switch v := resp.(type) {
	case string:
		if v == "" {
			return "", errors.New("wallet returned an empty signature")
		}
		return v, nil
	case solana.Signature:
		return v.String(), nil
	case *solana.Signature:
		if v == nil {
			return "", errors.New("wallet returned a nil signature")
		}
		return v.String(), nil
	case [constants.SignatureLength]byte:
		return base58.Encode(v[:]), nil
	case []byte:
		if len(v) != constants.SignatureLength {
			return "", fmt.Errorf("signature has %d bytes, want %d", len(v), constants.SignatureLength)
		}
		return base58.Encode(v), nil
	case wallet.SignatureOutput:
		return signatureString(v.Signature, depth+1)
	case *wallet.SignatureOutput:
		if v == nil {
			return "", errors.New("wallet returned a nil signature output")
		}
		return signatureString(v.Signature, depth+1)
	case []wallet.SignatureOutput:
		if len(v) == 0 {
			return "", errors.New("wallet returned no signatures")
		}
		return signatureString(v[0].Signature, depth+1)
	case []any:
		if len(v) == 0 {
			return "", errors.New("wallet returned no signatures")
		}
		return signatureString(v[0], depth+1)
	case map[string]any:
		sig, ok := v["signature"]
		if !ok {
			return "", errors.New("signature response has no signature field")
		}
		return signatureString(sig, depth+1)
	default:
		return "", fmt.Errorf("unrecognized signature response of type %T", resp)
	}
}
