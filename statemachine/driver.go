package statemachine

import (
	"github.com/pkg/errors"

	"github.com/shieldnet/validator/config"
	"github.com/shieldnet/validator/dkg"
	"github.com/shieldnet/validator/queue"
	"github.com/shieldnet/validator/signing"
	"github.com/shieldnet/validator/store"
	"github.com/shieldnet/validator/verify"
)

// Driver owns the clients a transition handler needs and commits the
// StateDiff a handler returns. Handlers themselves never touch the
// store directly, per spec.md §4.8's "pure function" contract; only
// Driver.Apply's final commit step does. That step writes each part of
// the diff with its own store call, and the caller (typically package
// node) advances the watcher cursor with a further store call after
// Apply returns successfully; the diff and the cursor advance are not
// committed in one transaction.
type Driver struct {
	store   store.Store
	dkg     *dkg.Client
	signing *signing.Client
	verify  *verify.Registry
	config  *config.Config
	worker  *queue.Worker
}

// NewDriver builds a Driver over the given clients, config, and the
// action worker diffs enqueue onto.
func NewDriver(s store.Store, dkgClient *dkg.Client, signingClient *signing.Client, registry *verify.Registry, cfg *config.Config, worker *queue.Worker) *Driver {
	return &Driver{store: s, dkg: dkgClient, signing: signingClient, verify: registry, config: cfg, worker: worker}
}

// Apply routes event to the handler for the relevant machine's current
// state, then commits the returned diff. A nil diff (or one with every
// field empty) is a valid, idempotent no-op result.
func (d *Driver) Apply(event Event) (*StateDiff, error) {
	diff, err := d.route(event)
	if err != nil {
		return nil, err
	}
	if diff.Empty() {
		return diff, nil
	}
	if err := d.applyDiff(diff); err != nil {
		return nil, errors.Wrap(err, "applying state diff")
	}
	return diff, nil
}

func (d *Driver) route(event Event) (*StateDiff, error) {
	switch event.Kind {
	case EventKeyGen:
		return d.handleKeyGen(event)
	case EventKeyGenCommitted, EventKeyGenSecretShared, EventKeyGenComplaintSubmitted,
		EventKeyGenComplaintResponded, EventKeyGenConfirmed:
		return d.handleRolloverEvent(event)
	case EventSign:
		return d.handleSign(event)
	case EventNonceCommitmentsHash, EventNonceCommitments, EventSignatureShare, EventSigned:
		return d.handleSigningEvent(event)
	case EventEpochProposed:
		return d.handleEpochProposed(event)
	case EventEpochStaged:
		return d.handleEpochStaged(event)
	case EventTransactionProposed:
		return d.handleTransactionProposed(event)
	case EventBlockTick:
		return d.handleBlockTick(event)
	case EventActionTimeout:
		return d.handleActionTimeout(event)
	default:
		return nil, errors.Errorf("unhandled event kind %q", event.Kind)
	}
}

// applyDiff commits every populated field of diff to the store.
func (d *Driver) applyDiff(diff *StateDiff) error {
	if diff.Consensus != nil {
		if err := d.applyConsensusDelta(diff.Consensus); err != nil {
			return err
		}
	}
	if diff.Rollover != nil && diff.Rollover.State != nil {
		if err := d.store.PutRolloverState(diff.Rollover.State); err != nil {
			return err
		}
	}
	if diff.Signing != nil {
		if diff.Signing.State == nil {
			if err := d.store.DeleteSigningState(diff.Signing.Message); err != nil {
				return err
			}
		} else {
			if err := d.store.PutSigningState(diff.Signing.State); err != nil {
				return err
			}
		}
	}
	for _, action := range diff.Actions {
		if err := d.worker.Enqueue(action.Kind, action.Payload); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) applyConsensusDelta(delta *ConsensusDelta) error {
	state, err := d.store.GetConsensusState()
	if err != nil {
		return err
	}
	if delta.ActiveEpoch != nil {
		state.ActiveEpoch = *delta.ActiveEpoch
	}
	if delta.StagedEpoch != nil {
		state.StagedEpoch = *delta.StagedEpoch
	}
	if delta.RolloverBlock != nil {
		state.RolloverBlock = *delta.RolloverBlock
	}
	if delta.GenesisGroupID != nil {
		state.GenesisGroupID = delta.GenesisGroupID
	}
	if delta.NewEpochGroup != nil && delta.EpochNumber != nil {
		if state.EpochGroups == nil {
			state.EpochGroups = make(map[uint64]store.EpochGroup)
		}
		state.EpochGroups[*delta.EpochNumber] = *delta.NewEpochGroup
	}
	if delta.SignatureID != nil && delta.SignatureMessage != nil {
		if state.SignatureMessages == nil {
			state.SignatureMessages = make(map[[32]byte][32]byte)
		}
		state.SignatureMessages[*delta.SignatureID] = *delta.SignatureMessage
	}
	return d.store.PutConsensusState(state)
}

// responsibleParticipant implements the deterministic round-robin
// rotation decided for the Open Question in spec.md §4.8: the signer
// at index (block mod len(signers)) is responsible for driving the
// next action for this block.
func responsibleParticipant(signers []uint64, block uint64) uint64 {
	if len(signers) == 0 {
		return 0
	}
	return signers[block%uint64(len(signers))]
}
