package statemachine

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/shieldnet/validator/dkg"
	"github.com/shieldnet/validator/queue"
	"github.com/shieldnet/validator/store"
)

// epochContext derives the DKG context for a non-genesis rollover: the
// genesis salt bound to the target epoch number, so every validator
// computes the same group id for the same rollover independently.
func epochContext(epoch uint64, genesisSalt [32]byte) []byte {
	buf := make([]byte, 8+32)
	binary.BigEndian.PutUint64(buf[:8], epoch)
	copy(buf[8:], genesisSalt[:])
	hash := crypto.Keccak256Hash(buf)
	return hash[:]
}

// handleBlockTick implements spec.md §4.8's block-tick duties (a) and
// (b): advancing active_epoch once the rollover block passes, and
// kicking off the next rollover's DKG once the previous one is settled.
// Duty (c), deadline scanning, is exposed separately via ScanDeadlines
// so a single tick can yield any number of ActionTimeout events instead
// of being squeezed into one StateDiff.
func (d *Driver) handleBlockTick(event Event) (*StateDiff, error) {
	consensus, err := d.store.GetConsensusState()
	if err != nil {
		return nil, err
	}

	diff := &StateDiff{}

	if consensus.RolloverBlock != 0 && event.Block >= consensus.RolloverBlock && consensus.ActiveEpoch != consensus.StagedEpoch {
		newActive := consensus.StagedEpoch
		diff.Consensus = &ConsensusDelta{ActiveEpoch: &newActive}
	}

	rollover, err := d.store.GetRolloverState()
	if err != nil {
		return nil, err
	}

	if consensus.GenesisGroupID != nil && rollover != nil &&
		(rollover.State == "WaitingForRollover" || rollover.State == "EpochStaged") {
		nextEpoch := consensus.ActiveEpoch + 1
		if _, already := consensus.EpochGroups[nextEpoch]; !already {
			context := epochContext(nextEpoch, d.config.GenesisSalt)
			groupID := dkg.DeriveGroupID(d.config.Participants, d.config.Threshold, context)

			self, err := d.config.OwnParticipant()
			if err != nil {
				return nil, err
			}

			next := &store.RolloverMachineState{
				State:             "CollectingCommitments",
				GroupID:           groupID,
				ThisParticipantID: self.ID,
				NextEpoch:         nextEpoch,
				Deadline:          event.Block + d.config.KeyGenTimeout,
				ConfirmationsFrom: map[uint64]struct{}{},
				ComplaintsFrom:    map[uint64]uint64{},
			}
			diff.Rollover = &RolloverDiff{State: next}
			diff.Actions = enqueue(diff.Actions, store.ActionStartKeyGen, queue.StartKeyGen{
				Participants: d.config.Participants,
				Threshold:    d.config.Threshold,
				Context:      context,
				GroupID:      groupID,
			})
		}
	}

	return diff, nil
}

// ScanDeadlines reports every rollover or signing state whose deadline
// block has passed, as ActionTimeout events ready for the caller (the
// watcher-driven tick loop) to feed back through Apply one at a time.
func (d *Driver) ScanDeadlines(block uint64) ([]Event, error) {
	var events []Event

	rollover, err := d.store.GetRolloverState()
	if err != nil {
		return nil, err
	}
	if rollover != nil && rollover.Deadline != noDeadline && rollover.Deadline != 0 && block >= rollover.Deadline &&
		rollover.State != "WaitingForRollover" && rollover.State != "EpochStaged" {
		events = append(events, Event{Kind: EventActionTimeout, Block: block, TimeoutFor: rollover.State})
	}

	states, err := d.store.ListSigningStates()
	if err != nil {
		return nil, err
	}
	for _, s := range states {
		if s.Deadline != 0 && block >= s.Deadline {
			events = append(events, Event{Kind: EventActionTimeout, Block: block, Message: s.Message, TimeoutFor: s.State})
		}
	}

	return events, nil
}

// handleActionTimeout routes a deadline-breach event to the rollover or
// signing timeout branch, keyed by whether it carries a message (a
// zero-value Message selects the rollover machine, which has no
// message of its own).
func (d *Driver) handleActionTimeout(event Event) (*StateDiff, error) {
	if event.Message == ([32]byte{}) {
		return d.rolloverTimeout(event)
	}
	return d.signingTimeout(event)
}

// rolloverTimeout implements spec.md §4.8's DKG timeout branches.
func (d *Driver) rolloverTimeout(event Event) (*StateDiff, error) {
	rollover, err := d.store.GetRolloverState()
	if err != nil {
		return nil, err
	}
	if rollover == nil {
		return &StateDiff{}, nil
	}

	group, err := d.store.GetGroup(rollover.GroupID)
	if err != nil {
		return nil, errors.Wrap(err, "loading timed-out group")
	}

	switch rollover.State {
	case "CollectingCommitments":
		responded, err := d.store.ListGroupParticipants(rollover.GroupID)
		if err != nil {
			return nil, err
		}
		return d.restartDKG(rollover, group, respondedIDs(responded)), nil

	case "CollectingShares":
		var responded []uint64
		for id, gp := range group.ParticipantsByID {
			if id == group.ThisParticipantID || gp.SecretShare != nil {
				responded = append(responded, id)
			}
		}
		return d.restartDKG(rollover, group, responded), nil

	case "CollectingConfirmations":
		return d.confirmationTimeout(rollover, group, event)

	default:
		return &StateDiff{}, nil
	}
}

func (d *Driver) confirmationTimeout(rollover *store.RolloverMachineState, group *store.GroupRecord, event Event) (*StateDiff, error) {
	next := cloneRollover(rollover)

	if rollover.ConfirmPhase < 2 {
		if rollover.ConfirmPhase == 0 && len(rollover.ComplaintsFrom) > 0 {
			var survivors []uint64
			for id := range group.ParticipantsByID {
				if _, accused := rollover.ComplaintsFrom[id]; !accused {
					survivors = append(survivors, id)
				}
			}
			return d.restartDKG(rollover, group, survivors), nil
		}
		next.ConfirmPhase++
		next.Deadline = event.Block + d.config.KeyGenTimeout
		return &StateDiff{Rollover: &RolloverDiff{State: next}}, nil
	}

	var confirmed []uint64
	for id := range rollover.ConfirmationsFrom {
		confirmed = append(confirmed, id)
	}
	return d.restartDKG(rollover, group, confirmed), nil
}

// restartDKG builds the StateDiff that re-opens CollectingCommitments
// with a fresh group derivation over only the surviving ids.
func (d *Driver) restartDKG(rollover *store.RolloverMachineState, group *store.GroupRecord, survivingIDs []uint64) *StateDiff {
	var survivors []store.Participant
	for _, p := range group.Participants {
		if containsID(survivingIDs, p.ID) {
			survivors = append(survivors, p)
		}
	}

	groupID := dkg.DeriveGroupID(survivors, group.Threshold, group.Context)

	next := cloneRollover(rollover)
	next.State = "CollectingCommitments"
	next.GroupID = groupID
	next.Deadline = noDeadline
	if rollover.NextEpoch != 0 {
		next.Deadline = rollover.Deadline + d.config.KeyGenTimeout
	}
	next.ConfirmPhase = 0
	next.ConfirmationsFrom = map[uint64]struct{}{}
	next.ComplaintsFrom = map[uint64]uint64{}

	actions := enqueue(nil, store.ActionStartKeyGen, queue.StartKeyGen{
		Participants: survivors,
		Threshold:    group.Threshold,
		Context:      group.Context,
		GroupID:      groupID,
	})

	return &StateDiff{Rollover: &RolloverDiff{State: next}, Actions: actions}
}

func respondedIDs(participants []*store.GroupParticipant) []uint64 {
	ids := make([]uint64, len(participants))
	for i, p := range participants {
		ids[i] = p.ID
	}
	return ids
}

// signingTimeout implements spec.md §4.8's signing timeout branch.
func (d *Driver) signingTimeout(event Event) (*StateDiff, error) {
	state, err := d.store.GetSigningState(event.Message)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return &StateDiff{}, nil
	}

	switch state.State {
	case "WaitingForRequest":
		if len(state.Signers) < d.config.Threshold {
			return &StateDiff{Signing: &SigningDiff{Message: event.Message, State: nil}}, nil
		}
		next := cloneSigning(state)
		next.Deadline = event.Block + d.config.SigningTimeout
		actions := enqueue(nil, store.ActionRequestSignature, queue.RequestSignature{
			GroupID: state.GroupID,
			Message: state.Message,
		})
		return &StateDiff{Signing: &SigningDiff{Message: event.Message, State: next}, Actions: actions}, nil

	case "CollectNonceCommitments", "CollectSigningShares":
		remaining, err := d.remainingSigners(state)
		if err != nil {
			return nil, err
		}
		if len(remaining) < d.config.Threshold {
			return &StateDiff{Signing: &SigningDiff{Message: event.Message, State: nil}}, nil
		}
		next := cloneSigning(state)
		next.State = "WaitingForRequest"
		next.Signers = remaining
		next.SharesFrom = map[uint64]struct{}{}
		return &StateDiff{Signing: &SigningDiff{Message: event.Message, State: next}}, nil

	case "WaitingForAttestation":
		return d.waitingForAttestationTimeout(state, event)

	default:
		return &StateDiff{}, nil
	}
}

// waitingForAttestationTimeout implements spec.md §4.8's tie-break rule
// for the terminal action: the responsible participant for this block
// emits it; once any validator has already re-escalated (LastParticipant
// set), anyone may retry so a single absent validator can't stall it.
func (d *Driver) waitingForAttestationTimeout(state *store.SigningMachineState, event Event) (*StateDiff, error) {
	self, err := d.config.OwnParticipant()
	if err != nil {
		return nil, err
	}
	if state.LastParticipant == 0 && responsibleParticipant(state.Signers, event.Block) != self.ID {
		return &StateDiff{}, nil
	}

	next := cloneSigning(state)
	next.LastParticipant = self.ID
	next.Deadline = event.Block + d.config.SigningTimeout

	var actions []QueuedAction
	switch state.Purpose {
	case "rollover":
		actions = enqueue(actions, store.ActionStageEpoch, queue.StageEpoch{
			ProposedEpoch: state.Epoch,
			RolloverBlock: state.RolloverBlock,
			GroupID:       state.GroupID,
			SignatureID:   state.SignatureID,
		})
	case "transaction":
		actions = enqueue(actions, store.ActionAttestTransaction, queue.AttestTransaction{
			Epoch:           state.Epoch,
			TransactionHash: state.TransactionHash,
			SignatureID:     state.SignatureID,
		})
	}

	return &StateDiff{Signing: &SigningDiff{Message: event.Message, State: next}, Actions: actions}, nil
}

// remainingSigners computes which signers have responded so far in
// state's current collection phase, falling back to the full signer
// set when none have responded yet (nothing to reduce against). The
// two phases track responses in different places: CollectSigningShares
// writes to SharesFrom directly (signing.go's collectSigningShares),
// but CollectNonceCommitments never does -- that phase's responses
// live in signing.Client's own store-backed
// SignatureRequest.NonceCommitmentsByID, so this reduction has to query
// the store rather than the signing state's own fields.
func (d *Driver) remainingSigners(state *store.SigningMachineState) ([]uint64, error) {
	if state.State == "CollectNonceCommitments" {
		req, err := d.store.GetSignatureRequest(state.SignatureID)
		if err != nil {
			if err == store.ErrNotFound {
				return state.Signers, nil
			}
			return nil, err
		}
		if len(req.NonceCommitmentsByID) == 0 {
			return state.Signers, nil
		}
		var remaining []uint64
		for _, id := range state.Signers {
			if _, ok := req.NonceCommitmentsByID[id]; ok {
				remaining = append(remaining, id)
			}
		}
		return remaining, nil
	}

	if len(state.SharesFrom) == 0 {
		return state.Signers, nil
	}
	var remaining []uint64
	for _, id := range state.Signers {
		if _, ok := state.SharesFrom[id]; ok {
			remaining = append(remaining, id)
		}
	}
	return remaining, nil
}
