// Command checkoutctl drives the subscription checkout from a terminal: it
// lists plans, runs a purchase in a local browser, verifies returned orders
// and inspects the device's pending payment record.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	adapterports "github.com/kevin07696/subscription-checkout/internal/adapters/ports"
	"github.com/kevin07696/subscription-checkout/internal/adapters/secrets"
	"github.com/kevin07696/subscription-checkout/internal/adapters/settlement"
	"github.com/kevin07696/subscription-checkout/internal/config"
	"github.com/kevin07696/subscription-checkout/internal/domain/ports"
	"github.com/kevin07696/subscription-checkout/pkg/logging"
)

var Version = "dev"

// globalFlags are shared by every subcommand
type globalFlags struct {
	envFile string
	userID  string
	json    bool
	verbose bool
}

// env is what a subcommand needs to talk to the settlement backend
type env struct {
	cfg        *config.Config
	logger     *zap.Logger
	portLogger ports.Logger
	secrets    adapterports.SecretManagerAdapter
	settlement *settlement.Client
	out        io.Writer
	flags      *globalFlags
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "checkoutctl",
		Short:         "Subscription checkout from the command line",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Environment file to load before reading configuration")
	rootCmd.PersistentFlags().StringVarP(&flags.userID, "user", "u", os.Getenv("CHECKOUT_USER_ID"), "User ID to act as")
	rootCmd.PersistentFlags().BoolVar(&flags.json, "json", false, "Print JSON instead of text")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Log to stderr")

	rootCmd.AddCommand(plansCmd(flags))
	rootCmd.AddCommand(statusCmd(flags))
	rootCmd.AddCommand(cancelCmd(flags))
	rootCmd.AddCommand(buyCmd(flags))
	rootCmd.AddCommand(verifyCmd(flags))
	rootCmd.AddCommand(pendingCmd(flags))
	rootCmd.AddCommand(tokenCmd(flags))

	return rootCmd
}

// loadEnv reads configuration and builds the settlement client
func loadEnv(ctx context.Context, cmd *cobra.Command, flags *globalFlags) (*env, error) {
	cfg, err := config.Load(flags.envFile)
	if err != nil {
		return nil, err
	}

	logger := zap.NewNop()
	if flags.verbose {
		if logger, err = logging.New(cfg.Logger.Level, true); err != nil {
			return nil, err
		}
	}

	sm, err := secrets.NewFromConfig(ctx, cfg.Secrets, logger)
	if err != nil {
		return nil, fmt.Errorf("secret manager: %w", err)
	}

	portLogger := logging.NewZapLogger(logger)
	client, err := settlement.NewFromConfig(cfg.Settlement, sm, portLogger)
	if err != nil {
		return nil, err
	}

	return &env{
		cfg:        cfg,
		logger:     logger,
		portLogger: portLogger,
		secrets:    sm,
		settlement: client,
		out:        cmd.OutOrStdout(),
		flags:      flags,
	}, nil
}

// requireUser returns the --user value or an error naming the flag
func (e *env) requireUser() (string, error) {
	if e.flags.userID == "" {
		return "", fmt.Errorf("--user (or CHECKOUT_USER_ID) is required")
	}
	return e.flags.userID, nil
}

// printJSON writes v indented when --json is set and reports whether it did
func (e *env) printJSON(v interface{}) (bool, error) {
	if !e.flags.json {
		return false, nil
	}
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return true, enc.Encode(v)
}
