// Command validator is the validator node's entry point: the
// "run" subcommand runs the full service shell, and
// "test-indexer" drives the watcher alone against a live RPC endpoint
// for diagnosing event decoding without submitting any transactions,
// per spec.md §6's CLI surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/shieldnet/validator/chain"
	"github.com/shieldnet/validator/config"
	"github.com/shieldnet/validator/node"
	"github.com/shieldnet/validator/store"
	"github.com/shieldnet/validator/watcher"
)

// exitCodes match spec.md §6: 0 clean shutdown, 1 fatal error, 130
// SIGINT.
const (
	exitClean = 0
	exitFatal = 1
	exitSIGINT = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "building logger:", err)
		return exitFatal
	}
	defer logger.Sync()

	app := &cli.App{
		Name:  "validator",
		Usage: "FROST threshold-signature validator node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Required: true, Usage: "path to the JSON configuration file"},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the validator: watcher, state machine, action queue, and metrics",
				Action: func(c *cli.Context) error {
					return runValidator(c, logger)
				},
			},
			{
				Name:  "test-indexer",
				Usage: "diagnostic: stream decoded watcher events without submitting any transactions",
				Action: func(c *cli.Context) error {
					return runTestIndexer(c, logger)
				},
			},
		},
	}

	ctx, cancel := signalContext()
	defer cancel()

	err = app.RunContext(ctx, os.Args)
	return exitCodeFor(ctx, err, logger)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM,
// triggering the graceful stop spec.md §6 describes: drain the
// in-flight action, flush storage, unsubscribe the watcher.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func exitCodeFor(ctx context.Context, err error, logger *zap.Logger) int {
	if ctx.Err() != nil {
		return exitSIGINT
	}
	if err != nil {
		logger.Error("fatal error", zap.Error(err))
		return exitFatal
	}
	return exitClean
}

func runValidator(c *cli.Context, logger *zap.Logger) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	n, err := node.New(c.Context, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := n.Close(); cerr != nil {
			logger.Error("error during shutdown", zap.Error(cerr))
		}
	}()

	return n.Run(c.Context)
}

// runTestIndexer wires a watcher alone against a throwaway in-memory
// store, so repeated runs always replay from genesis, and logs every
// decoded event it observes instead of driving the state machine.
func runTestIndexer(c *cli.Context, logger *zap.Logger) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	privateKey, err := cfg.PrivateKey()
	if err != nil {
		return err
	}

	chainClient, err := chain.NewClient(c.Context, cfg.RPCURL, privateKey, cfg.ChainID, cfg.GasLimit)
	if err != nil {
		return err
	}
	defer chainClient.Close()

	s := store.NewMemory()
	watcherCfg := watcher.DefaultConfig(common.Address(cfg.CoordinatorAddress), common.Address(cfg.ConsensusAddress))
	w := watcher.New(chainClient, s, watcherCfg)

	ctx := c.Context
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		update, err := w.Next(ctx)
		if err != nil {
			logger.Warn("test-indexer watcher step failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if update == nil {
			time.Sleep(time.Second)
			continue
		}
		for _, event := range update.Events {
			logger.Info("decoded event",
				zap.String("kind", string(event.Kind)),
				zap.Uint64("block", event.Block),
				zap.Uint64("index", event.Index),
			)
		}
		if err := s.PutCursor(store.WatcherCursor{BlockNumber: update.To}); err != nil {
			return err
		}
	}
}
