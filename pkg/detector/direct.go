package detector

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sigweihq/solwallet/pkg/constants"
	"github.com/sigweihq/solwallet/pkg/wallet"
)

// Globals is the host's global object namespace where pre-registry wallets
// inject themselves
type Globals interface {
	Lookup(key string) (any, bool)
	Keys() []string
}

// MapGlobals is a Globals backed by a map
type MapGlobals map[string]any

func (g MapGlobals) Lookup(key string) (any, bool) {
	v, ok := g[key]
	return v, ok
}

func (g MapGlobals) Keys() []string {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Named is implemented by injected providers that report a name
type Named interface {
	Name() string
}

// Flagged is implemented by injected providers that announce themselves with
// boolean flags such as isPhantom
type Flagged interface {
	Flags() map[string]bool
}

// LegacyProvider is a wallet injected before the registry existed
type LegacyProvider interface {
	Connect(ctx context.Context, onlyIfTrusted bool) (publicKey string, err error)
	Disconnect(ctx context.Context) error
}

// AuthenticityVerifier rejects injected objects that impersonate a wallet
type AuthenticityVerifier interface {
	Verify(name string, candidate any) error
}

// VerifierFunc adapts a function to AuthenticityVerifier
type VerifierFunc func(name string, candidate any) error

func (f VerifierFunc) Verify(name string, candidate any) error { return f(name, candidate) }

// HeuristicVerifier rejects candidates that claim to be several wallets at
// once or that announce no solana chain
type HeuristicVerifier struct {
	// MaxIdentityFlags is the number of distinct is<Wallet> flags tolerated
	MaxIdentityFlags int
}

func (v HeuristicVerifier) Verify(name string, candidate any) error {
	if candidate == nil {
		return fmt.Errorf("no candidate for %s", name)
	}

	limit := v.MaxIdentityFlags
	if limit <= 0 {
		limit = 2
	}
	if f, ok := candidate.(Flagged); ok {
		identities := 0
		for flag, set := range f.Flags() {
			if set && strings.HasPrefix(flag, "is") {
				identities++
			}
		}
		if identities > limit {
			return fmt.Errorf("candidate for %s claims %d wallet identities", name, identities)
		}
	}

	if w, ok := candidate.(wallet.Wallet); ok && !wallet.SupportsSolana(w.Chains()) {
		return fmt.Errorf("candidate for %s does not support solana", name)
	}
	return nil
}

// nestedKey is where multi-chain providers expose their solana object
const nestedKey = "solana"

// DetectDirectWallet looks for a wallet injected into the global namespace
// under a well-known key. Injected legacy providers are wrapped so they
// behave like registry wallets.
func (d *Detector) DetectDirectWallet(name string) (wallet.Wallet, bool) {
	globals := d.opts.Globals
	if globals == nil || name == "" {
		return nil, false
	}

	lower := strings.ToLower(name)
	keys := []string{name, lower, name + "Wallet", lower + "Wallet", nestedKey}
	for _, key := range globals.Keys() {
		if strings.Contains(strings.ToLower(key), lower) {
			keys = append(keys, key)
		}
	}

	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		value, ok := globals.Lookup(key)
		if !ok || value == nil {
			continue
		}
		for _, candidate := range expand(value) {
			if w, ok := d.accept(name, key, candidate); ok {
				return w, true
			}
		}
	}
	return nil, false
}

// expand returns value and, for namespaced providers, its solana object
func expand(value any) []any {
	out := []any{value}
	if ns, ok := value.(Globals); ok {
		if inner, ok := ns.Lookup(nestedKey); ok && inner != nil {
			out = append(out, inner)
		}
	}
	return out
}

func (d *Detector) accept(name, key string, candidate any) (w wallet.Wallet, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("direct wallet probe panicked", "key", key, "panic", r)
			w, ok = nil, false
		}
	}()

	if !matchesName(name, candidate) {
		return nil, false
	}
	if err := d.opts.Verifier.Verify(name, candidate); err != nil {
		d.logger.Warn("rejected injected wallet", "name", name, "key", key, "error", err)
		return nil, false
	}

	switch c := candidate.(type) {
	case wallet.Wallet:
		if !wallet.HasFeature(c, constants.FeatureStandardConnect) {
			return nil, false
		}
		return c, true
	case LegacyProvider:
		return newLegacyShim(name, c), true
	default:
		return nil, false
	}
}

func matchesName(name string, candidate any) bool {
	if n, ok := candidate.(Named); ok && strings.EqualFold(n.Name(), name) {
		return true
	}
	if f, ok := candidate.(Flagged); ok {
		compact := strings.ReplaceAll(name, " ", "")
		for flag, set := range f.Flags() {
			if set && (strings.EqualFold(flag, "is"+compact) || strings.EqualFold(flag, "is"+compact+"Wallet")) {
				return true
			}
		}
	}
	return false
}
