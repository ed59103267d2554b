package statemachine

import (
	"github.com/pkg/errors"

	"github.com/shieldnet/validator/store"
)

// handleTransactionProposed implements the safe-transaction half of
// spec.md §4.8's signing FSM, the counterpart to handleKeyGenConfirmed's
// rollover half: recompute safe_tx_hash from the proposal through the
// verification registry, open a WaitingForRequest{Purpose:"transaction"}
// signing state for the epoch's active group, and request the first
// signature the same way a rollover's SignRollover transition does.
func (d *Driver) handleTransactionProposed(event Event) (*StateDiff, error) {
	if event.Proposal == nil {
		return &StateDiff{}, nil
	}

	consensus, err := d.store.GetConsensusState()
	if err != nil {
		return nil, err
	}
	epochGroup, ok := consensus.EpochGroups[event.ProposedEpoch]
	if !ok {
		// No local record of the group that signs for this epoch (it
		// predates this validator joining, or the epoch is unknown);
		// nothing to do.
		return &StateDiff{}, nil
	}

	group, err := d.store.GetGroup(epochGroup.GroupID)
	if err != nil {
		return nil, errors.Wrap(err, "loading signing group for proposed transaction")
	}

	result, err := d.verify.Verify("SafeTransactionPacket", *event.Proposal)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, errors.Errorf("constructed safe transaction packet failed verification: %s", result.Reason)
	}
	if result.PacketID != event.SafeTxHash {
		return nil, errors.New("decoded safe_tx_hash does not match the recomputed EIP-712 hash")
	}

	signers := participantIDs(group.Participants)
	state := &store.SigningMachineState{
		Message:         result.PacketID,
		State:           "WaitingForRequest",
		Deadline:        event.Block + d.config.SigningTimeout,
		Signers:         signers,
		Purpose:         "transaction",
		GroupID:         group.GroupID,
		Epoch:           event.ProposedEpoch,
		TransactionHash: result.PacketID,
	}

	actions := []QueuedAction{requestSignatureAction(group.GroupID, result.PacketID)}

	return &StateDiff{
		Signing: &SigningDiff{Message: result.PacketID, State: state},
		Actions: actions,
	}, nil
}
