// Package config loads runtime settings from a YAML file and WALLETKIT_*
// environment variables and turns them into component options
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sigweihq/solwallet/pkg/connection"
	"github.com/sigweihq/solwallet/pkg/constants"
	"github.com/sigweihq/solwallet/pkg/events"
	"github.com/sigweihq/solwallet/pkg/payment"
	"github.com/sigweihq/solwallet/pkg/poller"
	"github.com/sigweihq/solwallet/pkg/state"
	"github.com/sigweihq/solwallet/pkg/storage"
	"github.com/sigweihq/solwallet/pkg/transport"
	"github.com/sigweihq/solwallet/pkg/utils"
	"github.com/sigweihq/solwallet/pkg/validator"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. WALLETKIT_RPC_ENDPOINT
const EnvPrefix = "WALLETKIT"

type Config struct {
	Cluster     string            `mapstructure:"cluster"`
	RPC         RPCConfig         `mapstructure:"rpc"`
	Validator   ValidatorConfig   `mapstructure:"validator"`
	Connection  ConnectionConfig  `mapstructure:"connection"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Facilitator FacilitatorConfig `mapstructure:"facilitator"`
}

// RPCConfig configures the JSON-RPC transport. An empty endpoint uses the
// official endpoint of the cluster.
type RPCConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     string        `mapstructure:"backoff"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      bool          `mapstructure:"jitter"`
}

type ValidatorConfig struct {
	MinSize               int  `mapstructure:"min_size"`
	MaxSize               int  `mapstructure:"max_size"`
	Strict                bool `mapstructure:"strict"`
	CheckDuplicateSigners bool `mapstructure:"check_duplicate_signers"`
}

type ConnectionConfig struct {
	PollSchedule    []time.Duration `mapstructure:"poll_schedule"`
	MaxPollAttempts int             `mapstructure:"max_poll_attempts"`
}

// StorageConfig selects where the wallet name and session record persist.
// An empty Dir keeps them in memory.
type StorageConfig struct {
	Dir string `mapstructure:"dir"`
}

type FacilitatorConfig struct {
	URLs            map[string][]string `mapstructure:"urls"`
	CDPAPIKeyID     string              `mapstructure:"cdp_api_key_id"`
	CDPAPIKeySecret string              `mapstructure:"cdp_api_key_secret"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cluster", constants.NetworkSolana)

	v.SetDefault("rpc.endpoint", "")
	v.SetDefault("rpc.timeout", constants.RPCRequestTimeout)
	v.SetDefault("rpc.max_attempts", constants.RPCMaxAttempts)
	v.SetDefault("rpc.backoff", string(transport.BackoffExponential))
	v.SetDefault("rpc.base_delay", constants.RPCBaseDelay)
	v.SetDefault("rpc.max_delay", constants.RPCMaxDelay)
	v.SetDefault("rpc.jitter", true)

	v.SetDefault("validator.min_size", constants.MinTransactionSize)
	v.SetDefault("validator.max_size", constants.MaxTransactionSize)
	v.SetDefault("validator.strict", false)
	v.SetDefault("validator.check_duplicate_signers", false)

	v.SetDefault("connection.poll_schedule", constants.PollSchedule)
	v.SetDefault("connection.max_poll_attempts", constants.MaxPollAttempts)

	v.SetDefault("storage.dir", "")

	v.SetDefault("facilitator.cdp_api_key_id", "")
	v.SetDefault("facilitator.cdp_api_key_secret", "")
}

// Load reads path, when set, on top of the defaults and applies environment
// overrides. A missing file named by path is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values a component would otherwise reject later
func (c *Config) Validate() error {
	var errs []error
	if _, ok := constants.ClusterToChain[c.Cluster]; !ok {
		errs = append(errs, fmt.Errorf("unknown cluster %q", c.Cluster))
	}
	if c.RPC.Endpoint != "" {
		if err := utils.ValidateEndpointURL(c.RPC.Endpoint); err != nil {
			errs = append(errs, err)
		}
	}
	switch transport.Backoff(c.RPC.Backoff) {
	case "", transport.BackoffExponential, transport.BackoffLinear:
	default:
		errs = append(errs, fmt.Errorf("unknown rpc backoff %q", c.RPC.Backoff))
	}
	if c.Validator.MaxSize > 0 && c.Validator.MinSize > c.Validator.MaxSize {
		errs = append(errs, fmt.Errorf("validator min_size %d exceeds max_size %d", c.Validator.MinSize, c.Validator.MaxSize))
	}
	for _, d := range c.Connection.PollSchedule {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("poll schedule intervals must be positive, got %s", d))
			break
		}
	}
	return errors.Join(errs...)
}

// RPCEndpoint returns the configured endpoint or the cluster's official one
func (c *Config) RPCEndpoint() (string, error) {
	if c.RPC.Endpoint != "" {
		return c.RPC.Endpoint, nil
	}
	return utils.EndpointForCluster(c.Cluster)
}

func (c *Config) TransportOptions() transport.Options {
	return transport.Options{
		Timeout:     c.RPC.Timeout,
		MaxAttempts: c.RPC.MaxAttempts,
		Backoff:     transport.Backoff(c.RPC.Backoff),
		BaseDelay:   c.RPC.BaseDelay,
		MaxDelay:    c.RPC.MaxDelay,
		Jitter:      c.RPC.Jitter,
	}
}

// NewTransport creates an RPC client for the configured endpoint
func (c *Config) NewTransport(logger *slog.Logger) (*transport.Client, error) {
	endpoint, err := c.RPCEndpoint()
	if err != nil {
		return nil, err
	}
	return transport.NewClient(endpoint, c.TransportOptions(), logger)
}

func (c *Config) ValidatorOptions(logger *slog.Logger) validator.Options {
	return validator.Options{
		MinSize:               c.Validator.MinSize,
		MaxSize:               c.Validator.MaxSize,
		Strict:                c.Validator.Strict,
		CheckDuplicateSigners: c.Validator.CheckDuplicateSigners,
		Logger:                logger,
	}
}

// ConnectionOptions builds manager options with storage for the configured
// location. The session record is validated on read and write.
func (c *Config) ConnectionOptions(logger *slog.Logger) connection.Options {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		names  storage.Storage[string]
		states storage.Storage[storage.WalletState]
	)
	if c.Storage.Dir != "" {
		names = storage.NewFile[string](c.Storage.Dir, constants.StorageKeyWalletName, logger)
		states = storage.NewFile[storage.WalletState](c.Storage.Dir, constants.StorageKeyWalletState, logger)
	} else {
		names = storage.NewMemory[string]()
		states = storage.NewMemory[storage.WalletState]()
	}

	return connection.Options{
		Store:       state.NewStore(c.Cluster),
		Bus:         events.NewBus(logger),
		NameStorage: names,
		StateStorage: storage.Enhance(states, storage.EnhanceOptions[storage.WalletState]{
			Validate: storage.ValidateWalletState,
			Logger:   logger,
		}),
		Poll: poller.Options{
			Schedule:    c.Connection.PollSchedule,
			MaxAttempts: c.Connection.MaxPollAttempts,
		},
		Logger: logger,
	}
}

// ProcessorConfig builds payment processor settings. chain confirms settled
// transactions and may be nil.
func (c *Config) ProcessorConfig(chain payment.SignatureStatusChecker, logger *slog.Logger) payment.ProcessorConfig {
	return payment.ProcessorConfig{
		FacilitatorURLs: c.Facilitator.URLs,
		CDPAPIKeyID:     c.Facilitator.CDPAPIKeyID,
		CDPAPIKeySecret: c.Facilitator.CDPAPIKeySecret,
		Chain:           chain,
		Logger:          logger,
	}
}
