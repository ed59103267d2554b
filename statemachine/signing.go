package statemachine

import (
	"github.com/pkg/errors"

	"github.com/shieldnet/validator/queue"
	"github.com/shieldnet/validator/signing"
	"github.com/shieldnet/validator/store"
)

// requestSignatureAction builds the QueuedAction that asks this
// validator's own handler to submit sign(group_id, message) on-chain:
// the action a freshly opened WaitingForRequest state needs regardless
// of whether it is signing a rollover packet or a safe transaction.
func requestSignatureAction(groupID, message [32]byte) QueuedAction {
	return QueuedAction{Kind: store.ActionRequestSignature, Payload: queue.RequestSignature{GroupID: groupID, Message: message}}
}

func cloneSigning(s *store.SigningMachineState) *store.SigningMachineState {
	next := *s
	next.Signers = append([]uint64{}, s.Signers...)
	next.SharesFrom = make(map[uint64]struct{}, len(s.SharesFrom))
	for k := range s.SharesFrom {
		next.SharesFrom[k] = struct{}{}
	}
	return &next
}

// handleSign implements signing transition 1 for a fresh Sign event:
// bind signature_id to message, register the signature request with
// the chosen signer set, and move WaitingForRequest to
// CollectNonceCommitments. If this validator is itself a signer and has
// unburned nonces, it reveals them immediately.
func (d *Driver) handleSign(event Event) (*StateDiff, error) {
	state, err := d.store.GetSigningState(event.Message)
	if err != nil {
		return nil, err
	}
	if state == nil || state.State != "WaitingForRequest" {
		return &StateDiff{}, nil
	}

	if err := d.signing.RegisterSignatureRequest(event.SignatureID, event.GroupID, event.Message, state.Signers, event.Index); err != nil {
		return nil, errors.Wrap(err, "registering signature request")
	}

	next := cloneSigning(state)
	next.State = "CollectNonceCommitments"
	next.Deadline = event.Block + d.config.SigningTimeout
	next.LastParticipant = 0
	next.SignatureID = event.SignatureID

	var actions []QueuedAction
	self, err := d.config.OwnParticipant()
	if err == nil && containsID(state.Signers, self.ID) {
		if has, err := d.store.HasUnburnedLeaf(event.GroupID); err == nil && has {
			actions = enqueue(actions, store.ActionRevealNonceCommitments, queue.RevealNonceCommitments{
				SignatureID: event.SignatureID,
				GroupID:     event.GroupID,
			})
		}
	}

	signatureID := event.SignatureID
	message := event.Message
	return &StateDiff{
		Consensus: &ConsensusDelta{SignatureID: &signatureID, SignatureMessage: &message},
		Signing:   &SigningDiff{Message: event.Message, State: next},
		Actions:   actions,
	}, nil
}

// handleSigningEvent dispatches a NonceCommitmentsHash/NonceCommitments/
// SignatureShare/Signed event to whichever signing-state handler
// matches that message's persisted current state.
func (d *Driver) handleSigningEvent(event Event) (*StateDiff, error) {
	state, err := d.store.GetSigningState(event.Message)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return &StateDiff{}, nil
	}

	switch state.State {
	case "CollectNonceCommitments":
		return d.collectNonceCommitments(state, event)
	case "CollectSigningShares":
		return d.collectSigningShares(state, event)
	case "WaitingForAttestation":
		return d.waitingForAttestation(state, event)
	default:
		return &StateDiff{}, nil
	}
}

// collectNonceCommitments implements signing transition 2.
func (d *Driver) collectNonceCommitments(state *store.SigningMachineState, event Event) (*StateDiff, error) {
	if event.Kind == EventNonceCommitmentsHash {
		if err := d.signing.HandleNonceCommitmentsHash(event.GroupID, event.ParticipantID, event.Root, event.Chunk); err != nil {
			return nil, errors.Wrap(err, "linking nonce commitment hash")
		}
		return &StateDiff{}, nil
	}
	if event.Kind != EventNonceCommitments {
		return &StateDiff{}, nil
	}

	hiding := decodePoint(event.Commitments[0])
	binding := decodePoint(event.Commitments[1])
	outcome, err := d.signing.HandleNonceCommitments(event.SignatureID, event.ParticipantID, hiding, binding)
	if err != nil {
		return nil, errors.Wrap(err, "handling nonce commitments")
	}

	next := cloneSigning(state)
	next.LastParticipant = event.ParticipantID

	if outcome != signing.Complete {
		return &StateDiff{Signing: &SigningDiff{Message: event.Message, State: next}}, nil
	}

	next.State = "CollectSigningShares"
	next.SharesFrom = map[uint64]struct{}{}

	var actions []QueuedAction
	self, err := d.config.OwnParticipant()
	if err == nil && containsID(state.Signers, self.ID) {
		actions = enqueue(actions, store.ActionPublishSignatureShare, queue.PublishSignatureShare{
			SignatureID: event.SignatureID,
		})
	}

	return &StateDiff{Signing: &SigningDiff{Message: event.Message, State: next}, Actions: actions}, nil
}

// collectSigningShares implements signing transition 3.
func (d *Driver) collectSigningShares(state *store.SigningMachineState, event Event) (*StateDiff, error) {
	if event.Kind == EventSigned {
		next := cloneSigning(state)
		next.State = "WaitingForAttestation"
		next.Deadline = event.Block + d.config.SigningTimeout
		return &StateDiff{Signing: &SigningDiff{Message: event.Message, State: next}}, nil
	}
	if event.Kind != EventSignatureShare {
		return &StateDiff{}, nil
	}

	next := cloneSigning(state)
	next.SharesFrom[event.ParticipantID] = struct{}{}
	next.LastParticipant = event.ParticipantID

	if len(next.SharesFrom) < len(state.Signers) {
		return &StateDiff{Signing: &SigningDiff{Message: event.Message, State: next}}, nil
	}

	next.State = "WaitingForAttestation"
	next.Deadline = event.Block + d.config.SigningTimeout

	return &StateDiff{Signing: &SigningDiff{Message: event.Message, State: next}}, nil
}

// waitingForAttestation implements signing transition 4's non-timeout
// path: the terminal on-chain event (TransactionAttested surfaces as
// Signed re-delivery for a safe-tx message; EpochStaged for a rollover
// message, handled by handleEpochStaged) closes the signing state.
func (d *Driver) waitingForAttestation(state *store.SigningMachineState, event Event) (*StateDiff, error) {
	if event.Kind != EventSigned {
		return &StateDiff{}, nil
	}
	return &StateDiff{Signing: &SigningDiff{Message: event.Message, State: nil}}, nil
}

func containsID(ids []uint64, id uint64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
