// Package node wires every other package into the validator's service
// shell: it owns the signing key, opens persistent storage, dials the
// chain, builds the dkg/signing clients and the state-machine driver,
// and supervises the three cooperative tasks spec.md §5 describes
// (watcher loop, action-queue worker, check-pending timer) behind a
// single golang.org/x/sync/errgroup, each task talking to the others
// only through store and queue.
//
// Grounded stylistically on the teacher's RunRoastCh (protocol.go), the
// one place in the teacher that drives several goroutines against a
// shared Coordinator for the lifetime of a run; generalized here from a
// single in-process round to a long-lived, crash-resumable process.
package node

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shieldnet/validator/chain"
	"github.com/shieldnet/validator/config"
	"github.com/shieldnet/validator/dkg"
	"github.com/shieldnet/validator/frost"
	"github.com/shieldnet/validator/queue"
	"github.com/shieldnet/validator/signing"
	"github.com/shieldnet/validator/statemachine"
	"github.com/shieldnet/validator/store"
	"github.com/shieldnet/validator/verify"
	"github.com/shieldnet/validator/watcher"
)

// Node is one running validator process: every component SPEC_FULL.md's
// service shell names, already wired together.
type Node struct {
	cfg    *config.Config
	logger *zap.Logger

	store   store.Store
	chain   *chain.Client
	driver  *statemachine.Driver
	worker  *queue.Worker
	submit  *queue.Submitter
	watch   watchStepper
	metrics *Metrics
}

// watchStepper is the slice of *watcher.Watcher the watch loop depends
// on, narrowed to an interface so tests can drive runWatchLoop against
// a scripted fake instead of a live chain.
type watchStepper interface {
	Start(ctx context.Context) (*watcher.BlockUpdate, error)
	Next(ctx context.Context) (*watcher.BlockUpdate, error)
}

var _ watchStepper = (*watcher.Watcher)(nil)

// New opens storage, dials the chain, and wires every component cfg
// describes. The returned Node is ready for Run but has performed no
// I/O beyond opening the store and dialing the RPC endpoint.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Node, error) {
	privateKey, err := cfg.PrivateKey()
	if err != nil {
		return nil, errors.Wrap(err, "decoding private key")
	}

	s, err := openStore(cfg, privateKey)
	if err != nil {
		return nil, errors.Wrap(err, "opening store")
	}

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL, privateKey, cfg.ChainID, cfg.GasLimit)
	if err != nil {
		return nil, errors.Wrap(err, "dialing chain")
	}

	self, err := cfg.OwnParticipant()
	if err != nil {
		return nil, err
	}

	ciphersuite := frost.NewBip340Ciphersuite()
	dkgClient := dkg.NewClient(s, ciphersuite, self.Address)
	signingClient := signing.NewClient(s, ciphersuite, cfg.NonceBatchSize)
	registry := verify.NewRegistry()

	worker := queue.NewWorker(s, logger, nil)
	submitter := queue.NewSubmitter(s, chainClient, logger)
	handlers := queue.NewHandlers(s, dkgClient, signingClient, submitter, cfg.CoordinatorAddress, cfg.ConsensusAddress, cfg.GasLimit)
	handlers.RegisterAll(worker)

	driver := statemachine.NewDriver(s, dkgClient, signingClient, registry, cfg, worker)

	watcherCfg := watcher.DefaultConfig(common.Address(cfg.CoordinatorAddress), common.Address(cfg.ConsensusAddress))
	w := watcher.New(chainClient, s, watcherCfg)

	return &Node{
		cfg:     cfg,
		logger:  logger,
		store:   s,
		chain:   chainClient,
		driver:  driver,
		worker:  worker,
		submit:  submitter,
		watch:   w,
		metrics: NewMetrics(),
	}, nil
}

// openStore opens cfg's configured backend. A Bolt-backed store has its
// secret shares and signing shares encrypted at rest under a key derived
// from the node's own private key, so a stolen data directory alone does
// not leak key material; an in-memory store has no disk footprint to
// protect.
func openStore(cfg *config.Config, privateKey *ecdsa.PrivateKey) (store.Store, error) {
	if cfg.DataDir == "" {
		return store.NewMemory(), nil
	}

	b, err := store.OpenBolt(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	b.SetEncryptionKey(storageKeyFromPrivateKey(privateKey))
	return b, nil
}

// storageKeyFromPrivateKey derives a 32-byte storage encryption key from
// the node's own ECDSA private key, tagged so it can never collide with a
// key used for a different purpose even if the same curve scalar were
// ever hashed elsewhere.
func storageKeyFromPrivateKey(privateKey *ecdsa.PrivateKey) [32]byte {
	return sha256.Sum256(append([]byte("shieldnet-validator-storage-key-v1"), privateKey.D.Bytes()...))
}

// Run supervises the three cooperative tasks until ctx is cancelled or
// one of them returns a non-context error, at which point it cancels
// the rest and waits for them to unwind. Per spec.md §6, a clean
// shutdown driven by ctx cancellation (SIGINT/SIGTERM) is not itself an
// error; Run only returns an error for a genuine task failure.
func (n *Node) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error { return n.worker.Run(groupCtx) })
	group.Go(func() error { return n.submit.Run(groupCtx, queue.DefaultPollInterval, queue.DefaultResubmitAfter) })
	group.Go(func() error { return n.runWatchLoop(groupCtx) })
	if n.cfg.MetricsPort != 0 {
		group.Go(func() error { return n.serveMetrics(groupCtx) })
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// serveMetrics runs the Prometheus HTTP endpoint until ctx is
// cancelled, then shuts it down gracefully.
func (n *Node) serveMetrics(ctx context.Context) error {
	server := n.metrics.Serve(fmt.Sprintf(":%d", n.cfg.MetricsPort))

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		_ = server.Shutdown(context.Background())
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Close closes the store and the chain client, returning any error from
// closing the store. It does not itself drain the action worker or stop
// the watcher loop; both stop with Run's context. cmd/validator defers
// Close so it runs after Run has returned.
func (n *Node) Close() error {
	var result *multierror.Error
	if err := n.store.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "closing store"))
	}
	n.chain.Close()
	return result.ErrorOrNil()
}
