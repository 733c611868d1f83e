// Command solstice runs an L2 sequencer node.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/solstice-l2/solstice/config"
	"github.com/solstice-l2/solstice/core/rawdb"
	"github.com/solstice-l2/solstice/crypto"
	"github.com/solstice-l2/solstice/log"
	"github.com/solstice-l2/solstice/node"
	"github.com/solstice-l2/solstice/settlement"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		dataDir    string
		logLevel   string
	)
	cmd := &cobra.Command{
		Use:   "solstice",
		Short: "Solstice L2 sequencer node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			applyFlagOverrides(cmd.Flags(), cfg, dataDir, logLevel)
			return run(cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "database directory (empty for in-memory)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "debug, info, warn, or error")
	return cmd
}

func applyFlagOverrides(flags *pflag.FlagSet, cfg *config.Config, dataDir, logLevel string) {
	if flags.Changed("data-dir") {
		cfg.Node.DataDir = dataDir
	}
	if flags.Changed("log-level") {
		cfg.Node.LogLevel = logLevel
	}
}

func run(cfg *config.Config) error {
	logger, err := log.New(cfg.Node.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var db rawdb.Database
	if cfg.Node.DataDir != "" {
		ldb, err := rawdb.NewLevelDB(cfg.Node.DataDir)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		db = ldb
	} else {
		logger.Warn("no data directory configured, running in-memory")
		db = rawdb.NewMemoryDatabase()
	}

	var key crypto.PrivateKey
	if cfg.Node.SequencerSeed != "" {
		seed, err := hex.DecodeString(cfg.Node.SequencerSeed)
		if err != nil {
			return fmt.Errorf("decode sequencer seed: %w", err)
		}
		_, key, err = crypto.NewKeyFromSeed(seed)
		if err != nil {
			return err
		}
	}

	n, err := node.New(cfg, db, &loggingSubmitter{log: logger.Named("submitter")}, key, logger, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	n.Start(ctx)

	<-ctx.Done()
	logger.Info("shutting down")
	return n.Stop()
}

// loggingSubmitter stands in for the external L1 submitter transport: it
// acknowledges every batch locally. Wire a real submitter here when the L1
// client integration is deployed.
type loggingSubmitter struct {
	log *zap.Logger
	seq uint64
}

func (s *loggingSubmitter) Submit(ctx context.Context, rec *settlement.Record) (string, error) {
	s.seq++
	handle := fmt.Sprintf("local-%d", s.seq)
	s.log.Info("batch accepted",
		zap.Uint64("batch", rec.BatchID),
		zap.Uint64("startBlock", rec.StartBlock),
		zap.Uint64("endBlock", rec.EndBlock),
		zap.Int("payloadBytes", len(rec.CompressedBlocks)),
		zap.String("handle", handle),
	)
	return handle, nil
}
