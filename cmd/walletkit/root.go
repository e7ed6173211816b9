package main

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/sigweihq/solwallet/pkg/config"
	"github.com/sigweihq/solwallet/pkg/transport"
	"github.com/spf13/cobra"
)

const (
	encodingBase64 = "base64"
	encodingBase58 = "base58"
)

// app carries state shared by every subcommand
type app struct {
	configPath string
	endpoint   string
	encoding   string
	verbose    bool

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "walletkit",
		Short: "Inspect, validate and submit Solana transactions",
		Long: `walletkit works on serialized Solana transactions as produced by
browser wallets: signature slots followed by the message.

Settings come from an optional YAML file and WALLETKIT_* environment
variables, e.g. WALLETKIT_RPC_ENDPOINT.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (YAML)")
	flags.StringVar(&a.endpoint, "rpc", "", "RPC endpoint, overrides the config")
	flags.StringVar(&a.encoding, "encoding", encodingBase64, "transaction argument encoding: base64 or base58")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newInspectCmd(a),
		newValidateCmd(a),
		newHealthCmd(a),
		newSendCmd(a),
		newStatusCmd(a),
		newRequirementsCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.endpoint != "" {
		cfg.RPC.Endpoint = a.endpoint
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	a.cfg = cfg
	return nil
}

func (a *app) transport() (*transport.Client, error) {
	client, err := a.cfg.NewTransport(a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client: %w", err)
	}
	return client, nil
}

// decode reads a transaction argument in the selected encoding
func (a *app) decode(arg string) ([]byte, error) {
	arg = strings.TrimSpace(arg)
	switch a.encoding {
	case encodingBase64:
		wire, err := base64.StdEncoding.DecodeString(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 transaction: %w", err)
		}
		return wire, nil
	case encodingBase58:
		wire, err := base58.Decode(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid base58 transaction: %w", err)
		}
		return wire, nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", a.encoding)
	}
}
