// Package validator runs pre-flight size and shape checks on transactions
// before they are handed to a wallet
package validator

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/sigweihq/solwallet/pkg/constants"
	"github.com/sigweihq/solwallet/pkg/types"
)

// Options tunes the checks. Zero sizes use the protocol defaults.
type Options struct {
	MinSize int
	MaxSize int
	// Strict turns every warning into an error
	Strict bool
	// CheckDuplicateSigners warns when a signer key repeats
	CheckDuplicateSigners bool
	Logger                *slog.Logger
}

// Result is the outcome of Validate. Size is zero when the transaction could
// not be serialized.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Size     int      `json:"size,omitempty"`
}

// signaturePairer is implemented by representations that expose each
// signer next to its signature
type signaturePairer interface {
	SignaturePairs() []types.SignaturePair
}

func (o Options) withDefaults() Options {
	if o.MinSize <= 0 {
		o.MinSize = constants.MinTransactionSize
	}
	if o.MaxSize <= 0 {
		o.MaxSize = constants.MaxTransactionSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Validate checks tx and never panics
func Validate(tx any, opts Options) (result Result) {
	opts = opts.withDefaults()
	defer func() {
		if r := recover(); r != nil {
			result = Result{Errors: []string{fmt.Sprintf("validation panicked: %v", r)}}
		}
	}()

	var errs, warnings []string
	wire, err := wireBytes(tx)
	if err != nil {
		errs = append(errs, err.Error())
		return finish(errs, warnings, 0, opts)
	}

	size := len(wire)
	switch {
	case size == 0:
		errs = append(errs, "transaction is empty")
	case size > opts.MaxSize:
		errs = append(errs, fmt.Sprintf("transaction size %d bytes exceeds maximum of %d", size, opts.MaxSize))
	default:
		if size < opts.MinSize {
			warnings = append(warnings, fmt.Sprintf("transaction is very small (%d bytes)", size))
		}
		if opts.MaxSize-size < constants.ApproachingSizeLimit {
			warnings = append(warnings, fmt.Sprintf("transaction size %d bytes is approaching the limit of %d", size, opts.MaxSize))
		}
		warnings = append(warnings, patternWarnings(wire)...)
	}

	if opts.CheckDuplicateSigners {
		warnings = append(warnings, duplicateSignerWarnings(tx)...)
	}
	return finish(errs, warnings, size, opts)
}

func finish(errs, warnings []string, size int, opts Options) Result {
	if opts.Strict && len(warnings) > 0 {
		errs = append(errs, warnings...)
		warnings = nil
	}
	return Result{
		Valid:    len(errs) == 0,
		Errors:   errs,
		Warnings: warnings,
		Size:     size,
	}
}

// wireBytes reduces the accepted inputs to wire bytes
func wireBytes(tx any) ([]byte, error) {
	switch v := tx.(type) {
	case nil:
		return nil, errors.New("transaction is nil")
	case []byte:
		return v, nil
	case types.Transaction:
		if isNilTransaction(v) {
			return nil, errors.New("transaction is nil")
		}
		wire, err := v.Serialize()
		if err != nil {
			return nil, fmt.Errorf("failed to serialize transaction: %w", err)
		}
		return wire, nil
	default:
		return nil, fmt.Errorf("transaction type %T not recognized", tx)
	}
}

func isNilTransaction(tx types.Transaction) bool {
	switch v := tx.(type) {
	case *types.LegacyTransaction:
		return v == nil
	case *types.CompiledTransaction:
		return v == nil
	}
	return false
}

func patternWarnings(wire []byte) []string {
	var counts [256]int
	for _, b := range wire {
		counts[b]++
	}

	switch {
	case counts[0x00] == len(wire):
		return []string{"transaction bytes are all zero"}
	case counts[0xFF] == len(wire):
		return []string{"transaction bytes are all 0xFF"}
	}
	for value, n := range counts {
		if n*2 > len(wire) {
			return []string{fmt.Sprintf("byte 0x%02X makes up %d of %d bytes", value, n, len(wire))}
		}
	}
	return nil
}

func duplicateSignerWarnings(tx any) []string {
	switch v := tx.(type) {
	case *types.CompiledTransaction:
		// keys of the signature map are unique by construction
		return []string{"duplicate signer check skipped for compiled transactions"}
	case signaturePairer:
		seen := make(map[string]bool)
		var out []string
		for _, pair := range v.SignaturePairs() {
			key := pair.PublicKey.String()
			if seen[key] {
				out = append(out, fmt.Sprintf("duplicate signer %s", key))
			}
			seen[key] = true
		}
		return out
	}
	return nil
}

// AssertValid returns an error joining every validation error. Warnings on
// an otherwise valid transaction are logged.
func AssertValid(tx any, opts Options) error {
	opts = opts.withDefaults()
	result := Validate(tx, opts)
	if !result.Valid {
		errs := make([]error, len(result.Errors))
		for i, msg := range result.Errors {
			errs[i] = errors.New(msg)
		}
		return fmt.Errorf("invalid transaction: %w", errors.Join(errs...))
	}
	if len(result.Warnings) > 0 {
		opts.Logger.Warn("transaction validation warnings", "size", result.Size, "warnings", result.Warnings)
	}
	return nil
}

// ValidateBatch validates each transaction independently
func ValidateBatch(txs []any, opts Options) []Result {
	out := make([]Result, len(txs))
	for i, tx := range txs {
		out[i] = Validate(tx, opts)
	}
	return out
}
