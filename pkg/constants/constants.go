package constants

import "time"

const (
	RPCRequestTimeout   = 15 * time.Second       // default timeout for a single JSON-RPC request
	RPCMaxAttempts      = 3                      // default number of attempts for a JSON-RPC request
	RPCBaseDelay        = 200 * time.Millisecond // base delay between RPC attempts
	RPCMaxDelay         = 5 * time.Second        // cap for backoff delay
	HealthCheckTimeout  = 3 * time.Second        // timeout for getHealth probes
	FacilitatorTimeout  = 30 * time.Second       // timeout for x402 facilitator requests
	MaxResponseBodySize = 10 * 1024 * 1024       // maximum response body size in bytes (10MB)
)

// Wire format limits
const (
	SignatureLength         = 64
	PublicKeyLength         = 32
	MessageHeaderLength     = 3
	MaxShortVecContinuation = 10   // continuation bytes allowed before the terminating byte
	MinTransactionSize      = 64   // below this a transaction is suspiciously small
	MaxTransactionSize      = 1232 // IPv6 MTU minus headers, the practical packet limit
	ApproachingSizeLimit    = 100  // warn when within this many bytes of the maximum
)

// Wallet Standard feature names
const (
	FeatureStandardConnect        = "standard:connect"
	FeatureStandardDisconnect     = "standard:disconnect"
	FeatureStandardEvents         = "standard:events"
	FeatureSignTransaction        = "solana:signTransaction"
	FeatureSignAllTransactions    = "solana:signAllTransactions"
	FeatureSignAndSendTransaction = "solana:signAndSendTransaction"
	FeatureSignMessage            = "solana:signMessage"
)

// Chain identifiers
const (
	ChainFamilyPrefix = "solana:"
	ChainMainnet      = "solana:mainnet"
	ChainDevnet       = "solana:devnet"
	ChainTestnet      = "solana:testnet"
	ChainLocalnet     = "solana:localnet"
)

// Cluster names
const (
	NetworkSolana        = "solana"
	NetworkSolanaDevnet  = "solana-devnet"
	NetworkSolanaTestnet = "solana-testnet"
	NetworkLocalnet      = "localnet"
)

// ClusterToChain maps cluster names to wallet-standard chain identifiers.
var ClusterToChain = map[string]string{
	NetworkSolana:        ChainMainnet,
	"mainnet-beta":       ChainMainnet,
	NetworkSolanaDevnet:  ChainDevnet,
	"devnet":             ChainDevnet,
	NetworkSolanaTestnet: ChainTestnet,
	"testnet":            ChainTestnet,
	NetworkLocalnet:      ChainLocalnet,
}

var OfficialRPCEndpoints = map[string][]string{
	NetworkSolana:        {"https://api.mainnet-beta.solana.com"},
	NetworkSolanaDevnet:  {"https://api.devnet.solana.com"},
	NetworkSolanaTestnet: {"https://api.testnet.solana.com"},
	NetworkLocalnet:      {"http://127.0.0.1:8899"},
}

const (
	USDCAddressSolana       = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDCAddressSolanaDevnet = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
)

var NetworkToUSDCAddress = map[string]string{
	NetworkSolana:       USDCAddressSolana,
	NetworkSolanaDevnet: USDCAddressSolanaDevnet,
}

// Connection lifecycle
const (
	ConnectorIDPrefix     = "wallet-standard:"
	DeferredDetectDelay   = 1 * time.Second // follow-up detection pass for late registrations
	MaxPollAttempts       = 20
	WalletStateVersion    = 1
	StorageKeyWalletName  = "walletName"
	StorageKeyWalletState = "walletState"
)

// PollSchedule is the account polling schedule; the final interval repeats.
var PollSchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	3 * time.Second,
	5 * time.Second,
	5 * time.Second,
}
