package codec

import (
	"math"

	"github.com/sigweihq/solwallet/pkg/constants"
)

// EncodeShortVecLength encodes n as a shortvec: 7 data bits per byte,
// least significant group first, 0x80 marks a continuation.
// It panics if n is negative.
func EncodeShortVecLength(n int) []byte {
	if n < 0 {
		panic("codec: negative shortvec length")
	}

	out := make([]byte, 0, 3)
	rem := uint64(n)
	for {
		b := byte(rem & 0x7f)
		rem >>= 7
		if rem == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

// DecodeShortVecLength decodes a shortvec prefix from the start of buf and
// returns the value and the number of bytes consumed. Values that do not fit
// in an int are rejected.
func DecodeShortVecLength(buf []byte) (length int, consumed int, err error) {
	var value uint64
	for i := 0; ; i++ {
		if i > constants.MaxShortVecContinuation {
			return 0, 0, errorf(CodeInvalidEncoding, "shortvec has more than %d continuation bytes", constants.MaxShortVecContinuation)
		}
		if i >= len(buf) {
			return 0, 0, errorf(CodeInvalidEncoding, "buffer ended after %d shortvec bytes without a terminating byte", i)
		}

		b := buf[i]
		group := uint64(b & 0x7f)
		shift := 7 * uint(i)
		if group > uint64(math.MaxInt)>>shift {
			return 0, 0, errorf(CodeInvalidEncoding, "shortvec value overflows at byte %d", i)
		}
		value |= group << shift
		if b&0x80 == 0 {
			return int(value), i + 1, nil
		}
	}
}
