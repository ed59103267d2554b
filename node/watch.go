package node

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/shieldnet/validator/statemachine"
	"github.com/shieldnet/validator/store"
	"github.com/shieldnet/validator/watcher"
)

// watchBackoffBase and watchBackoffMax bound the retry schedule applied
// to transient RPC failures from the watcher, per spec.md §7.
const (
	watchBackoffBase = 500 * time.Millisecond
	watchBackoffMax  = 30 * time.Second
)

// runWatchLoop drives the watcher from its persisted cursor to the
// chain head indefinitely, feeding every decoded event and block tick
// through n.driver.Apply in order and persisting the cursor after each
// step succeeds, so a crash between steps only ever replays work
// already proven idempotent rather than skipping it.
func (n *Node) runWatchLoop(ctx context.Context) error {
	backoff := watcher.NewBackoff(watchBackoffBase, watchBackoffMax)

	startUpdate, err := n.watch.Start(ctx)
	if err != nil {
		return errors.Wrap(err, "watcher startup recovery")
	}
	if startUpdate != nil {
		if err := n.applyUpdate(startUpdate); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		update, err := n.watch.Next(ctx)
		if err != nil {
			n.logger.Warn("watcher step failed, backing off", zap.Error(err))
			if werr := backoff.Next(ctx); werr != nil {
				return werr
			}
			continue
		}
		backoff.Reset()

		if update == nil {
			if werr := backoff.Next(ctx); werr != nil {
				return werr
			}
			continue
		}

		if err := n.applyUpdate(update); err != nil {
			return errors.Wrap(err, "applying watcher update")
		}
	}
}

// applyUpdate commits one BlockUpdate's effects against the driver and
// advances the persisted cursor. An Uncle update carries no events of
// its own: rolling the cursor back to one block before the uncled
// block is the entire rollback, since every subsequent Next call
// naturally re-delivers (and re-applies, idempotently) the blocks that
// followed it.
func (n *Node) applyUpdate(update *watcher.BlockUpdate) error {
	if update.Kind == watcher.UpdateUncle {
		return n.store.PutCursor(store.WatcherCursor{BlockNumber: update.From - 1})
	}

	byBlock := make(map[uint64][]statemachine.Event, update.To-update.From+1)
	for _, event := range update.Events {
		byBlock[event.Block] = append(byBlock[event.Block], event)
	}

	for block := update.From; block <= update.To; block++ {
		for _, event := range byBlock[block] {
			if err := n.applyEvent(event); err != nil {
				return errors.Wrapf(err, "applying %s event at block %d", event.Kind, block)
			}
			n.metrics.ObserveEvent(block, event.Index)
		}

		if err := n.applyEvent(statemachine.Event{Kind: statemachine.EventBlockTick, Block: block}); err != nil {
			return errors.Wrapf(err, "applying block tick at block %d", block)
		}

		deadlines, err := n.driver.ScanDeadlines(block)
		if err != nil {
			return errors.Wrapf(err, "scanning deadlines at block %d", block)
		}
		for _, timeout := range deadlines {
			if err := n.applyEvent(timeout); err != nil {
				return errors.Wrapf(err, "applying timeout at block %d", block)
			}
		}

		n.metrics.ObserveBlock(block)
	}

	return n.store.PutCursor(store.WatcherCursor{BlockNumber: update.To})
}

// applyEvent runs one event through the driver and records its outcome
// on the transitions{result} counter spec.md §4.10 names.
func (n *Node) applyEvent(event statemachine.Event) error {
	_, err := n.driver.Apply(event)
	if err != nil {
		n.metrics.Transition("error")
		return err
	}
	n.metrics.Transition("ok")
	return nil
}
