package codec

import (
	"github.com/gagliardetto/solana-go"
	"github.com/sigweihq/solwallet/pkg/constants"
)

// Wire layout: [shortvec(signature_count), signature_count * 64-byte slots, message]

// MessageSignerCount returns the number of required signatures declared in a
// compiled message header. An unsigned draft has no signatures yet, so this
// count decides how many empty slots a wire frame gets.
func MessageSignerCount(message []byte) (int, error) {
	count, _, err := parseMessagePrefix(message)
	return count, err
}

// MessageSignerKeys returns the static account keys that must sign the
// message, in signature slot order
func MessageSignerKeys(message []byte) ([]solana.PublicKey, error) {
	count, keysOffset, err := parseMessagePrefix(message)
	if err != nil {
		return nil, err
	}

	keys := make([]solana.PublicKey, count)
	for i := 0; i < count; i++ {
		start := keysOffset + i*constants.PublicKeyLength
		keys[i] = solana.PublicKeyFromBytes(message[start : start+constants.PublicKeyLength])
	}
	return keys, nil
}

// parseMessagePrefix reads the header and validates the static account key
// region. Returns the signer count and the offset of the first account key.
func parseMessagePrefix(message []byte) (int, int, error) {
	if len(message) == 0 {
		return 0, 0, errorf(CodeInvalidMessage, "empty message")
	}

	offset := 0
	// versioned messages start with a byte that has the high bit set
	if message[0]&0x80 != 0 {
		offset = 1
	}

	if len(message) < offset+constants.MessageHeaderLength {
		return 0, 0, errorf(CodeInvalidMessage, "message too short for header: %d bytes", len(message))
	}
	signerCount := int(message[offset])
	offset += constants.MessageHeaderLength

	keyCount, n, err := DecodeShortVecLength(message[offset:])
	if err != nil {
		return 0, 0, err
	}
	offset += n

	if keyCount > (len(message)-offset)/constants.PublicKeyLength {
		return 0, 0, errorf(CodeInvalidMessage, "static account keys truncated: want %d keys", keyCount)
	}
	if signerCount > keyCount {
		return 0, 0, errorf(CodeInvalidMessage, "header declares %d signers but only %d account keys", signerCount, keyCount)
	}

	return signerCount, offset, nil
}

// CreateTransactionBytesForSigning builds the wire frame a wallet expects for
// an unsigned transaction: the signature count, zeroed slots, then the message
func CreateTransactionBytesForSigning(message []byte, signerCount int) []byte {
	prefix := EncodeShortVecLength(signerCount)
	out := make([]byte, 0, len(prefix)+signerCount*constants.SignatureLength+len(message))
	out = append(out, prefix...)
	out = append(out, make([]byte, signerCount*constants.SignatureLength)...)
	return append(out, message...)
}

// signatureRegion returns the declared signature count and the offset of the
// first signature slot
func signatureRegion(wire []byte) (int, int, error) {
	count, n, err := DecodeShortVecLength(wire)
	if err != nil {
		return 0, 0, err
	}
	if count > (len(wire)-n)/constants.SignatureLength {
		return 0, 0, errorf(CodeInvalidEncoding, "signature region truncated: %d signatures declared, %d bytes available", count, len(wire)-n)
	}
	return count, n, nil
}

func slotOffset(wire []byte, index int) (int, error) {
	count, start, err := signatureRegion(wire)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, errorf(CodeMissingSignatures, "transaction declares no signatures")
	}
	if index < 0 || index >= count {
		return 0, errorf(CodeIndexOutOfRange, "signature index %d out of range (transaction has %d signatures)", index, count)
	}
	return start + index*constants.SignatureLength, nil
}

// ExtractSignature returns the first signature slot of a wire transaction
func ExtractSignature(wire []byte) ([]byte, error) {
	return ExtractSignatureAt(wire, 0)
}

// ExtractSignatureAt returns a copy of the 64-byte signature slot at index
func ExtractSignatureAt(wire []byte, index int) ([]byte, error) {
	offset, err := slotOffset(wire, index)
	if err != nil {
		return nil, err
	}
	sig := make([]byte, constants.SignatureLength)
	copy(sig, wire[offset:offset+constants.SignatureLength])
	return sig, nil
}

// InjectSignatureAt returns a copy of wire with the slot at index replaced by sig
func InjectSignatureAt(wire []byte, index int, sig []byte) ([]byte, error) {
	if len(sig) != constants.SignatureLength {
		return nil, errorf(CodeInvalidSignature, "signature must be %d bytes, got %d", constants.SignatureLength, len(sig))
	}
	offset, err := slotOffset(wire, index)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(wire))
	copy(out, wire)
	copy(out[offset:offset+constants.SignatureLength], sig)
	return out, nil
}

// ParseWireTransaction splits a wire transaction into its signature slots and
// message bytes
func ParseWireTransaction(wire []byte) ([][]byte, []byte, error) {
	count, start, err := signatureRegion(wire)
	if err != nil {
		return nil, nil, err
	}

	sigs := make([][]byte, count)
	for i := 0; i < count; i++ {
		offset := start + i*constants.SignatureLength
		sigs[i] = append([]byte(nil), wire[offset:offset+constants.SignatureLength]...)
	}

	message := wire[start+count*constants.SignatureLength:]
	if len(message) == 0 {
		return nil, nil, errorf(CodeInvalidMessage, "wire transaction has no message bytes")
	}
	return sigs, append([]byte(nil), message...), nil
}

// IsZeroSignature reports whether sig is an empty slot
func IsZeroSignature(sig []byte) bool {
	for _, b := range sig {
		if b != 0 {
			return false
		}
	}
	return true
}
