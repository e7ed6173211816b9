package wallet

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/sigweihq/solwallet/pkg/constants"
)

// Wallet is a capability-bearing handle announced through a registry
type Wallet interface {
	Name() string
	Icon() string
	Chains() []string
	Accounts() []Account
	// Features maps feature names such as "standard:connect" to feature
	// objects implementing the interfaces below
	Features() map[string]any
}

// Account is an account exposed by a wallet
type Account struct {
	Address  string   `json:"address"`
	Label    string   `json:"label,omitempty"`
	Icon     string   `json:"icon,omitempty"`
	Chains   []string `json:"chains,omitempty"`
	Features []string `json:"features,omitempty"`
	Raw      any      `json:"-"`
}

type ConnectInput struct {
	Silent bool
}

type ConnectOutput struct {
	Accounts []Account
}

type ConnectFeature interface {
	Connect(ctx context.Context, input ConnectInput) (*ConnectOutput, error)
}

type DisconnectFeature interface {
	Disconnect(ctx context.Context) error
}

// ChangeEvent is delivered by the "change" event of standard:events. A nil
// Accounts field means accounts did not change.
type ChangeEvent struct {
	Accounts []Account
	Chains   []string
}

type EventsFeature interface {
	On(event string, fn func(ChangeEvent)) (unsubscribe func(), err error)
}

// SignTransactionInput carries either a single transaction or a batch;
// wallets disagree on which field they read
type SignTransactionInput struct {
	Account      Account
	Chain        string
	Transaction  []byte
	Transactions [][]byte
}

type SignTransactionFeature interface {
	SignTransaction(ctx context.Context, input SignTransactionInput) (any, error)
}

type SignAllTransactionsInput struct {
	Account      Account
	Chain        string
	Transactions [][]byte
}

type SignAllTransactionsFeature interface {
	SignAllTransactions(ctx context.Context, input SignAllTransactionsInput) (any, error)
}

type SignAndSendTransactionInput struct {
	Account     Account
	Chain       string
	Transaction []byte
	Options     map[string]any
}

type SignAndSendTransactionFeature interface {
	SignAndSendTransaction(ctx context.Context, input SignAndSendTransactionInput) (any, error)
}

type SignMessageInput struct {
	Account Account
	Message []byte
}

type SignMessageOutput struct {
	SignedMessage []byte
	Signature     []byte
}

type SignMessageFeature interface {
	SignMessage(ctx context.Context, input SignMessageInput) (*SignMessageOutput, error)
}

// Response shapes some wallets return from signing features

// SignedTransactionsOutput is the batch response {signedTransactions: [...]}
type SignedTransactionsOutput struct {
	SignedTransactions []any
}

// SignedTransactionOutput is the single response {signedTransaction: ...}.
// SignedTransaction may itself be nested one level deeper.
type SignedTransactionOutput struct {
	SignedTransaction any
}

// SignatureOutput is the sign-and-send response {signature: ...}
type SignatureOutput struct {
	Signature any
}

// ConnectorMetadata is the serializable projection of a wallet
type ConnectorMetadata struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Icon     string   `json:"icon,omitempty"`
	Chains   []string `json:"chains"`
	Features []string `json:"features"`
	Ready    bool     `json:"ready"`
}

// Info is the flat wallet description published for legacy readers
type Info struct {
	Name      string `json:"name"`
	Icon      string `json:"icon,omitempty"`
	Installed bool   `json:"installed"`
}

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// ConnectorID derives the stable connector id used as the persistence key
func ConnectorID(name string) string {
	normalized := nonAlphanumeric.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	return constants.ConnectorIDPrefix + strings.Trim(normalized, "-")
}

// SupportsSolana reports whether any chain belongs to the solana family
func SupportsSolana(chains []string) bool {
	for _, c := range chains {
		if strings.HasPrefix(c, constants.ChainFamilyPrefix) {
			return true
		}
	}
	return false
}

// HasFeature reports whether w exposes the named feature
func HasFeature(w Wallet, name string) bool {
	if w == nil {
		return false
	}
	f, ok := w.Features()[name]
	return ok && f != nil
}

// Feature returns the named feature of w as T
func Feature[T any](w Wallet, name string) (T, bool) {
	var zero T
	if w == nil {
		return zero, false
	}
	f, ok := w.Features()[name].(T)
	if !ok {
		return zero, false
	}
	return f, true
}

// Metadata projects w into connector metadata
func Metadata(w Wallet) ConnectorMetadata {
	features := make([]string, 0, len(w.Features()))
	for name := range w.Features() {
		features = append(features, name)
	}
	sort.Strings(features)

	return ConnectorMetadata{
		ID:       ConnectorID(w.Name()),
		Name:     w.Name(),
		Icon:     w.Icon(),
		Chains:   append([]string(nil), w.Chains()...),
		Features: features,
		Ready:    HasFeature(w, constants.FeatureStandardConnect) && SupportsSolana(w.Chains()),
	}
}

// withIcon overrides the icon of a wallet and forwards everything else
type withIcon struct {
	Wallet
	icon string
}

func (w withIcon) Icon() string { return w.icon }

// WithIcon decorates w with a replacement icon without touching the wallet
func WithIcon(w Wallet, icon string) Wallet {
	if icon == "" || w == nil {
		return w
	}
	return withIcon{Wallet: w, icon: icon}
}
