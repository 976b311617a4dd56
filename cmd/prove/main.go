// Command prove builds the shared circuit resources, generates a verified
// proof per requested subject, and records each proof in the registry.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Loan-ZKML/Ezkl-ML/config"
	"github.com/Loan-ZKML/Ezkl-ML/pkg/circuit"
	"github.com/Loan-ZKML/Ezkl-ML/pkg/ezkl"
	"github.com/Loan-ZKML/Ezkl-ML/pkg/features"
	"github.com/Loan-ZKML/Ezkl-ML/pkg/pipeline"
	"github.com/Loan-ZKML/Ezkl-ML/pkg/prover"
	"github.com/Loan-ZKML/Ezkl-ML/pkg/registry"
)

var (
	configPath       string
	dataPath         string
	generateContract bool
	verbose          bool
)

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()
}

func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

func newProveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prove [address...]",
		Short: "Generate and register credit score proofs",
		Long: `prove builds the shared circuit resources once, then generates,
verifies and registers a proof for each requested address. With no
addresses, every address in the feature data file is proved.`,
		RunE: runProve,
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	cmd.Flags().StringVarP(&dataPath, "data", "d", "credit_data.json", "feature data file")
	cmd.Flags().BoolVar(&generateContract, "generate-contract", false,
		"also produce the EVM verifier and calldata for the configured contract subject")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	cmd.AddCommand(newRegistryCmd())
	return cmd
}

func newRegistryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "registry <address>",
		Short: "Look up the stored registry entry for an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			writer := registry.NewWriter(cfg.RegistryDir, zerolog.Nop())
			entry, err := writer.Read(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("subject:       %s\n", entry.Subject)
			fmt.Printf("credit score:  %d\n", entry.CreditScore)
			fmt.Printf("proof hash:    %s\n", entry.ProofHash)
			fmt.Printf("model version: %s\n", entry.ModelVersion)
			fmt.Printf("score source:  %s\n", entry.ScoreSource)
			if entry.Degraded {
				fmt.Println("WARNING: score came from the degraded default, not the proof")
			}
			return nil
		},
	}
}

func runProve(cmd *cobra.Command, args []string) error {
	log := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	src, err := features.LoadFile(dataPath)
	if err != nil {
		return fmt.Errorf("load feature data: %w", err)
	}

	tool := ezkl.New(cfg.EzklBinary, cfg.StageTimeout.Std(), cfg.SRSTimeout.Std(), log)
	model := &circuit.PythonModelBuilder{
		Python:  cfg.PythonBinary,
		Script:  cfg.ModelScript,
		Cmd:     ezkl.ExecCommander{},
		Timeout: cfg.StageTimeout.Std(),
	}
	builder := circuit.NewBuilder(tool, model, cfg.SharedDir, log)
	runner := prover.NewRunner(tool, log)
	writer := registry.NewWriter(cfg.RegistryDir, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := pipeline.New(cfg, src, builder, runner, writer, log)
	sum, err := p.Run(ctx, args, generateContract)
	if err != nil {
		return err
	}

	for _, f := range sum.Failures {
		log.Error().Err(f.Err).Str("subject", f.Subject).Msg("proof not generated")
	}
	if len(sum.Failures) > 0 {
		return fmt.Errorf("%d of %d subjects failed", len(sum.Failures), len(sum.Failures)+len(sum.Entries))
	}
	return nil
}

func main() {
	if err := newProveCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
