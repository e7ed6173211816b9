package main

import (
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/sigweihq/solwallet/pkg/codec"
	"github.com/sigweihq/solwallet/pkg/transport"
	"github.com/sigweihq/solwallet/pkg/utils"
	"github.com/sigweihq/solwallet/pkg/validator"
	"github.com/spf13/cobra"
)

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <transaction>",
		Short: "Show the signers and signature slots of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wire, err := a.decode(args[0])
			if err != nil {
				return err
			}
			sigs, message, err := codec.ParseWireTransaction(wire)
			if err != nil {
				return err
			}
			keys, err := codec.MessageSignerKeys(message)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "size: %d bytes (message %d bytes)\n", len(wire), len(message))
			fmt.Fprintf(out, "signers: %d\n", len(keys))
			for i, key := range keys {
				sig := "<empty>"
				if i < len(sigs) && !codec.IsZeroSignature(sigs[i]) {
					sig = base58.Encode(sigs[i])
				}
				role := ""
				if i == 0 {
					role = " (fee payer)"
				}
				fmt.Fprintf(out, "  [%d] %s%s\n      %s\n", i, key, role, sig)
			}
			return nil
		},
	}
}

func newValidateCmd(a *app) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate <transaction>",
		Short: "Check a transaction against size and pattern rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wire, err := a.decode(args[0])
			if err != nil {
				return err
			}
			opts := a.cfg.ValidatorOptions(a.logger)
			if cmd.Flags().Changed("strict") {
				opts.Strict = strict
			}

			result := validator.Validate(wire, opts)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if !result.Valid {
				return fmt.Errorf("transaction is invalid")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "treat warnings as errors")
	return cmd
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the RPC node is healthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.transport()
			if err != nil {
				return err
			}
			if err := client.GetHealth(cmd.Context()); err != nil {
				return err
			}
			blockhash, height, err := client.GetLatestBlockhash(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\nblockhash: %s (valid until height %d)\n", client.Endpoint(), blockhash, height)
			return nil
		},
	}
}

func newSendCmd(a *app) *cobra.Command {
	var (
		skipPreflight bool
		maxRetries    uint
	)
	cmd := &cobra.Command{
		Use:   "send <transaction>",
		Short: "Submit a signed transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wire, err := a.decode(args[0])
			if err != nil {
				return err
			}
			if err := validator.AssertValid(wire, a.cfg.ValidatorOptions(a.logger)); err != nil {
				return err
			}
			client, err := a.transport()
			if err != nil {
				return err
			}

			opts := transport.SendOptions{SkipPreflight: skipPreflight}
			if cmd.Flags().Changed("max-retries") {
				opts.MaxRetries = &maxRetries
			}
			signature, err := client.SendTransaction(cmd.Context(), wire, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signature)
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "skip the preflight simulation")
	cmd.Flags().UintVar(&maxRetries, "max-retries", 0, "times the node retries the broadcast")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <signature>",
		Short: "Look up a transaction signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.transport()
			if err != nil {
				return err
			}
			status, err := client.GetSignatureStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if status == nil {
				fmt.Fprintln(out, "not found")
				return nil
			}
			result := "succeeded"
			if !status.Succeeded() {
				result = fmt.Sprintf("failed: %v", status.Err)
			}
			fmt.Fprintf(out, "slot %d, %s, %s\n", status.Slot, status.ConfirmationStatus, result)
			return nil
		},
	}
}

func newRequirementsCmd(a *app) *cobra.Command {
	var (
		payTo    string
		feePayer string
		amount   uint64
		resource string
		asset    string
	)
	cmd := &cobra.Command{
		Use:   "requirements",
		Short: "Print x402 payment requirements for the configured cluster",
		Long: `Print exact-scheme x402 payment requirements as JSON. The asset defaults
to the USDC mint of the configured cluster.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, addr := range []string{payTo, feePayer} {
				if err := utils.ValidateAddress(addr); err != nil {
					return err
				}
			}
			if asset == "" {
				mint, err := utils.GetSolanaUSDCMintAddress(a.cfg.Cluster)
				if err != nil {
					return fmt.Errorf("%w, pass --asset", err)
				}
				asset = mint
			} else if err := utils.ValidateAddress(asset); err != nil {
				return err
			}

			req, err := utils.DerivePaymentRequirementsSolana(a.cfg.Cluster, payTo, amount, resource, asset, feePayer)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(req)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&payTo, "pay-to", "", "wallet address that receives the payment")
	flags.StringVar(&feePayer, "fee-payer", "", "facilitator address that pays the transaction fee")
	flags.Uint64Var(&amount, "amount", 0, "amount in the asset's base units")
	flags.StringVar(&resource, "resource", "", "URL of the paid resource")
	flags.StringVar(&asset, "asset", "", "token mint, defaults to USDC")
	for _, name := range []string{"pay-to", "fee-payer", "amount", "resource"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}
