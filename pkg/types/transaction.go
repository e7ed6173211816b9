package types

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/sigweihq/solwallet/pkg/codec"
	"github.com/sigweihq/solwallet/pkg/constants"
)

// Transaction is anything that can be reduced to wire bytes
type Transaction interface {
	Serialize() ([]byte, error)
}

var (
	_ Transaction = RawTransaction(nil)
	_ Transaction = (*LegacyTransaction)(nil)
	_ Transaction = (*CompiledTransaction)(nil)
)

// RawTransaction is a fully serialized wire transaction
type RawTransaction []byte

// Serialize returns a copy of the wire bytes
func (t RawTransaction) Serialize() ([]byte, error) {
	return append([]byte(nil), t...), nil
}

// LegacyTransaction wraps a solana-go transaction object
type LegacyTransaction struct {
	Tx *solana.Transaction
}

// NewLegacyTransaction wraps tx
func NewLegacyTransaction(tx *solana.Transaction) *LegacyTransaction {
	return &LegacyTransaction{Tx: tx}
}

// Serialize encodes the transaction in wire format. Unsigned or partially
// signed transactions get zeroed slots for the missing signatures.
func (t *LegacyTransaction) Serialize() ([]byte, error) {
	if t == nil || t.Tx == nil {
		return nil, fmt.Errorf("legacy transaction is nil")
	}

	message, err := t.Tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	count, err := codec.MessageSignerCount(message)
	if err != nil {
		return nil, err
	}

	wire := codec.CreateTransactionBytesForSigning(message, count)
	for i, sig := range t.Tx.Signatures {
		if i >= count {
			break
		}
		if codec.IsZeroSignature(sig[:]) {
			continue
		}
		if wire, err = codec.InjectSignatureAt(wire, i, sig[:]); err != nil {
			return nil, err
		}
	}
	return wire, nil
}

// SignaturePair is a required signer and the signature in its slot
type SignaturePair struct {
	PublicKey solana.PublicKey
	Signature solana.Signature
}

// SignaturePairs lists each required signer with its signature slot
func (t *LegacyTransaction) SignaturePairs() []SignaturePair {
	if t == nil || t.Tx == nil {
		return nil
	}

	count := int(t.Tx.Message.Header.NumRequiredSignatures)
	if count > len(t.Tx.Message.AccountKeys) {
		count = len(t.Tx.Message.AccountKeys)
	}

	pairs := make([]SignaturePair, count)
	for i := 0; i < count; i++ {
		pairs[i].PublicKey = t.Tx.Message.AccountKeys[i]
		if i < len(t.Tx.Signatures) {
			pairs[i].Signature = t.Tx.Signatures[i]
		}
	}
	return pairs
}

// DecodeLegacyTransaction parses wire bytes into a solana-go transaction
func DecodeLegacyTransaction(wire []byte) (*LegacyTransaction, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(wire))
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return &LegacyTransaction{Tx: tx}, nil
}

// LifetimeConstraint is the expiry metadata attached to a draft. It is not
// part of the wire format and has to be carried alongside it.
type LifetimeConstraint struct {
	Blockhash            string `json:"blockhash,omitempty"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight,omitempty"`
	Nonce                string `json:"nonce,omitempty"`
}

// CompiledTransaction is a compiled message plus signatures keyed by base58
// signer address. A nil signature marks a signer that has not signed yet.
type CompiledTransaction struct {
	MessageBytes       []byte
	Signatures         map[string][]byte
	LifetimeConstraint *LifetimeConstraint
}

// NewCompiledTransaction creates an unsigned transaction with an empty slot
// for every signer the message header declares
func NewCompiledTransaction(message []byte, lifetime *LifetimeConstraint) (*CompiledTransaction, error) {
	keys, err := codec.MessageSignerKeys(message)
	if err != nil {
		return nil, err
	}

	sigs := make(map[string][]byte, len(keys))
	for _, key := range keys {
		sigs[key.String()] = nil
	}
	return &CompiledTransaction{
		MessageBytes:       append([]byte(nil), message...),
		Signatures:         sigs,
		LifetimeConstraint: lifetime,
	}, nil
}

// SignerKeys returns the required signers in slot order
func (t *CompiledTransaction) SignerKeys() ([]solana.PublicKey, error) {
	return codec.MessageSignerKeys(t.MessageBytes)
}

// Serialize builds the wire frame, placing each known signature in its slot
func (t *CompiledTransaction) Serialize() ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("compiled transaction is nil")
	}

	keys, err := codec.MessageSignerKeys(t.MessageBytes)
	if err != nil {
		return nil, err
	}

	wire := codec.CreateTransactionBytesForSigning(t.MessageBytes, len(keys))
	for i, key := range keys {
		sig := t.Signatures[key.String()]
		if len(sig) == 0 {
			continue
		}
		if len(sig) != constants.SignatureLength {
			return nil, fmt.Errorf("signature for %s has %d bytes", key, len(sig))
		}
		if wire, err = codec.InjectSignatureAt(wire, i, sig); err != nil {
			return nil, err
		}
	}
	return wire, nil
}

// DecodeCompiledTransaction splits a wire transaction back into its message
// and signature map. Empty slots decode to nil signatures.
func DecodeCompiledTransaction(wire []byte) (*CompiledTransaction, error) {
	sigs, message, err := codec.ParseWireTransaction(wire)
	if err != nil {
		return nil, err
	}
	keys, err := codec.MessageSignerKeys(message)
	if err != nil {
		return nil, err
	}
	if len(keys) != len(sigs) {
		return nil, fmt.Errorf("wire declares %d signatures but message requires %d", len(sigs), len(keys))
	}

	out := &CompiledTransaction{
		MessageBytes: message,
		Signatures:   make(map[string][]byte, len(keys)),
	}
	for i, key := range keys {
		if codec.IsZeroSignature(sigs[i]) {
			out.Signatures[key.String()] = nil
			continue
		}
		out.Signatures[key.String()] = sigs[i]
	}
	return out, nil
}

// DecodeAs decodes wire bytes into the same representation as like.
// Compiled transactions keep the lifetime constraint of like.
func DecodeAs(like Transaction, wire []byte) (Transaction, error) {
	switch orig := like.(type) {
	case RawTransaction:
		return RawTransaction(append([]byte(nil), wire...)), nil
	case *LegacyTransaction:
		return DecodeLegacyTransaction(wire)
	case *CompiledTransaction:
		decoded, err := DecodeCompiledTransaction(wire)
		if err != nil {
			return nil, err
		}
		if orig != nil {
			decoded.LifetimeConstraint = orig.LifetimeConstraint
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("unsupported transaction type %T", like)
	}
}
