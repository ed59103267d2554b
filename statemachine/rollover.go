package statemachine

import (
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/shieldnet/validator/dkg"
	"github.com/shieldnet/validator/frost"
	"github.com/shieldnet/validator/queue"
	"github.com/shieldnet/validator/store"
	"github.com/shieldnet/validator/verify"
)

// noDeadline marks a rollover/signing state that never times out on its
// own (genesis's CollectingCommitments, per spec.md §4.8).
const noDeadline = math.MaxUint64

// handleKeyGen reacts to the genesis KeyGenAndCommit event: once the
// group id derived from the configured participants, threshold and
// genesis salt matches the event's group id, the rollover
// machine opens CollectingCommitments for epoch 0 and this validator
// enqueues its own StartKeyGen so it registers a commitment too.
func (d *Driver) handleKeyGen(event Event) (*StateDiff, error) {
	consensus, err := d.store.GetConsensusState()
	if err != nil {
		return nil, err
	}
	if !(consensus.ActiveEpoch == 0 && consensus.StagedEpoch == 0 && consensus.GenesisGroupID == nil) {
		return &StateDiff{}, nil
	}

	expected := dkg.DeriveGroupID(d.config.Participants, d.config.Threshold, d.config.GenesisSalt[:])
	if expected != event.GroupID {
		return &StateDiff{}, nil
	}

	rollover, err := d.store.GetRolloverState()
	if err != nil {
		return nil, err
	}
	if rollover != nil && rollover.State != "WaitingForRollover" {
		return &StateDiff{}, nil
	}

	self, err := d.config.OwnParticipant()
	if err != nil {
		return nil, err
	}

	groupID := event.GroupID
	state := &store.RolloverMachineState{
		State:             "CollectingCommitments",
		GroupID:           groupID,
		ThisParticipantID: self.ID,
		NextEpoch:         0,
		Deadline:          noDeadline,
		ConfirmationsFrom: map[uint64]struct{}{},
		ComplaintsFrom:    map[uint64]uint64{},
	}

	actions := enqueue(nil, store.ActionStartKeyGen, queue.StartKeyGen{
		Participants: d.config.Participants,
		Threshold:    d.config.Threshold,
		Context:      d.config.GenesisSalt[:],
		GroupID:      groupID,
	})

	return &StateDiff{
		Consensus: &ConsensusDelta{GenesisGroupID: &groupID},
		Rollover:  &RolloverDiff{State: state},
		Actions:   actions,
	}, nil
}

// handleRolloverEvent dispatches a KeyGenCommitted/KeyGenSecretShared/
// KeyGenComplaint*/KeyGenConfirmed event to whichever rollover-state
// handler matches the machine's persisted current state.
func (d *Driver) handleRolloverEvent(event Event) (*StateDiff, error) {
	rollover, err := d.store.GetRolloverState()
	if err != nil {
		return nil, err
	}
	if rollover == nil {
		return &StateDiff{}, nil
	}

	switch rollover.State {
	case "CollectingCommitments":
		return d.collectingCommitments(rollover, event)
	case "CollectingShares":
		return d.collectingShares(rollover, event)
	case "CollectingConfirmations":
		return d.collectingConfirmations(rollover, event)
	default:
		return &StateDiff{}, nil
	}
}

func cloneRollover(s *store.RolloverMachineState) *store.RolloverMachineState {
	next := *s
	next.ConfirmationsFrom = make(map[uint64]struct{}, len(s.ConfirmationsFrom))
	for k := range s.ConfirmationsFrom {
		next.ConfirmationsFrom[k] = struct{}{}
	}
	next.ComplaintsFrom = make(map[uint64]uint64, len(s.ComplaintsFrom))
	for k, v := range s.ComplaintsFrom {
		next.ComplaintsFrom[k] = v
	}
	return &next
}

// collectingCommitments implements rollover transition 1: feed an
// arriving commitment to the KeyGen client; once every participant's
// commitment is in, compute this validator's secret shares and move on
// to CollectingShares.
func (d *Driver) collectingCommitments(rollover *store.RolloverMachineState, event Event) (*StateDiff, error) {
	if event.Kind != EventKeyGenCommitted {
		return &StateDiff{}, nil
	}

	commitments, err := decodeCommitments(event.Commitments)
	if err != nil {
		return nil, errors.Wrap(err, "decoding commitment vector")
	}
	pok := &frost.PoK{R: decodePoint(event.PoKR), Mu: event.PoKMu}

	complete, err := d.dkg.HandleCommitment(event.GroupID, event.ParticipantID, commitments, pok)
	if err != nil {
		return nil, errors.Wrap(err, "handling commitment")
	}
	if !complete {
		return &StateDiff{}, nil
	}

	if _, err := d.dkg.CreateSecretShares(event.GroupID); err != nil {
		return nil, errors.Wrap(err, "creating secret shares")
	}

	next := cloneRollover(rollover)
	next.State = "CollectingShares"
	next.Deadline = event.Block + d.config.KeyGenTimeout

	actions := enqueue(nil, store.ActionPublishSecretShares, queue.PublishSecretShares{GroupID: event.GroupID})

	return &StateDiff{Rollover: &RolloverDiff{State: next}, Actions: actions}, nil
}

// collectingShares implements rollover transition 2: feed an arriving
// share to the KeyGen client. An Invalid outcome means the sender's
// share never arrived or failed verification and is complained against;
// a Completed outcome on this validator's own inbound shares moves on
// to CollectingConfirmations with the three-deadline ladder.
func (d *Driver) collectingShares(rollover *store.RolloverMachineState, event Event) (*StateDiff, error) {
	if event.Kind != EventKeyGenSecretShared {
		return &StateDiff{}, nil
	}
	if !event.Shared {
		actions := enqueue(nil, store.ActionComplain, queue.Complain{
			GroupID:   event.GroupID,
			AccusedID: event.ParticipantID,
		})
		return &StateDiff{Actions: actions}, nil
	}

	outcome, err := d.dkg.HandleSecrets(event.GroupID, event.ParticipantID, event.EncryptedShare)
	if err != nil && outcome != dkg.Invalid {
		return nil, errors.Wrap(err, "handling secret share")
	}

	switch outcome {
	case dkg.Invalid:
		actions := enqueue(nil, store.ActionComplain, queue.Complain{
			GroupID:   event.GroupID,
			AccusedID: event.ParticipantID,
		})
		return &StateDiff{Actions: actions}, nil
	case dkg.Pending:
		return &StateDiff{}, nil
	}

	group, err := d.store.GetGroup(event.GroupID)
	if err != nil {
		return nil, err
	}

	var callback *queue.KeyGenCallback
	if rollover.NextEpoch != 0 {
		callback = &queue.KeyGenCallback{Target: d.config.ConsensusAddress, Context: group.Context}
	}

	next := cloneRollover(rollover)
	next.State = "CollectingConfirmations"
	next.Deadline = event.Block + d.config.KeyGenTimeout // complaint window
	next.ConfirmPhase = 0
	next.ConfirmationsFrom = map[uint64]struct{}{}
	next.ComplaintsFrom = map[uint64]uint64{}

	actions := enqueue(nil, store.ActionConfirmKeyGen, queue.ConfirmKeyGen{
		GroupID:  event.GroupID,
		Callback: callback,
	})

	return &StateDiff{Rollover: &RolloverDiff{State: next}, Actions: actions}, nil
}

// collectingConfirmations implements rollover transition 3: complaint
// and complaint-response bookkeeping, and the final fan-in on
// KeyGenConfirmed that, for a non-genesis rollover, builds the signed
// epoch-rollover packet and opens its signing state.
func (d *Driver) collectingConfirmations(rollover *store.RolloverMachineState, event Event) (*StateDiff, error) {
	switch event.Kind {
	case EventKeyGenComplaintSubmitted:
		return d.handleComplaintSubmitted(rollover, event)
	case EventKeyGenComplaintResponded:
		return d.handleComplaintResponded(rollover, event)
	case EventKeyGenConfirmed:
		return d.handleKeyGenConfirmed(rollover, event)
	default:
		return &StateDiff{}, nil
	}
}

func (d *Driver) handleComplaintSubmitted(rollover *store.RolloverMachineState, event Event) (*StateDiff, error) {
	next := cloneRollover(rollover)
	next.ComplaintsFrom[event.AccusedID] = event.PlaintiffID

	var actions []QueuedAction
	self, err := d.config.OwnParticipant()
	if err != nil {
		return nil, err
	}
	if event.AccusedID == self.ID {
		share, err := d.dkg.CreateSecretShare(event.GroupID, event.PlaintiffID)
		if err != nil {
			return nil, errors.Wrap(err, "recomputing accused share")
		}
		actions = enqueue(actions, store.ActionComplaintResponse, queue.ComplaintResponse{
			GroupID:     event.GroupID,
			PlaintiffID: event.PlaintiffID,
			Share:       share,
		})
	}

	return &StateDiff{Rollover: &RolloverDiff{State: next}, Actions: actions}, nil
}

func (d *Driver) handleComplaintResponded(rollover *store.RolloverMachineState, event Event) (*StateDiff, error) {
	self, err := d.config.OwnParticipant()
	if err != nil {
		return nil, err
	}

	valid, err := d.dkg.VerifySecretShare(event.GroupID, event.AccusedID, event.PlaintiffID, event.Share)
	if err != nil {
		return nil, errors.Wrap(err, "verifying complaint response share")
	}

	next := cloneRollover(rollover)
	delete(next.ComplaintsFrom, event.AccusedID)

	if event.PlaintiffID == self.ID && valid {
		// This validator was missing the accused's share; HandleSecrets
		// treats a plain (unencrypted) share identically to one unwrapped
		// from ciphertext, since both land on the same VSS equation.
		if _, err := d.dkg.HandleSecrets(event.GroupID, event.AccusedID, nil); err != nil {
			return nil, errors.Wrap(err, "registering plaintext share")
		}
	}

	if !valid {
		group, err := d.store.GetGroup(event.GroupID)
		if err != nil {
			return nil, err
		}
		restarted := removeParticipant(group.Participants, event.AccusedID)
		groupID := dkg.DeriveGroupID(restarted, group.Threshold, group.Context)
		actions := enqueue(nil, store.ActionStartKeyGen, queue.StartKeyGen{
			Participants: restarted,
			Threshold:    group.Threshold,
			Context:      group.Context,
			GroupID:      groupID,
		})
		next.State = "WaitingForRollover"
		return &StateDiff{Rollover: &RolloverDiff{State: next}, Actions: actions}, nil
	}

	return &StateDiff{Rollover: &RolloverDiff{State: next}}, nil
}

func (d *Driver) handleKeyGenConfirmed(rollover *store.RolloverMachineState, event Event) (*StateDiff, error) {
	next := cloneRollover(rollover)
	next.ConfirmationsFrom[event.ParticipantID] = struct{}{}

	group, err := d.store.GetGroup(event.GroupID)
	if err != nil {
		return nil, err
	}
	if len(next.ConfirmationsFrom) < len(group.Participants) {
		return &StateDiff{Rollover: &RolloverDiff{State: next}}, nil
	}

	if rollover.NextEpoch == 0 {
		next.State = "WaitingForRollover"
		epochNumber := uint64(0)
		return &StateDiff{
			Consensus: &ConsensusDelta{
				EpochNumber:   &epochNumber,
				NewEpochGroup: &store.EpochGroup{GroupID: rollover.GroupID, ParticipantID: rollover.ThisParticipantID},
			},
			Rollover: &RolloverDiff{State: next},
		}, nil
	}

	consensus, err := d.store.GetConsensusState()
	if err != nil {
		return nil, err
	}
	rolloverBlock := event.Block + d.config.BlocksPerEpoch
	packet := verify.EpochRolloverPacket{
		ChainID:       d.config.ChainID,
		Consensus:     common.Address(d.config.ConsensusAddress),
		ActiveEpoch:   consensus.ActiveEpoch,
		ProposedEpoch: rollover.NextEpoch,
		RolloverBlock: rolloverBlock,
		GroupKeyX:     group.PublicKey.X,
		GroupKeyY:     group.PublicKey.Y,
	}
	result, err := d.verify.Verify("EpochRolloverPacket", packet)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, errors.New("constructed epoch rollover packet failed verification")
	}

	next.State = "SignRollover"

	signers := participantIDs(group.Participants)
	signingState := &store.SigningMachineState{
		Message:       result.PacketID,
		State:         "WaitingForRequest",
		Deadline:      event.Block + d.config.SigningTimeout,
		Signers:       signers,
		Purpose:       "rollover",
		GroupID:       rollover.GroupID,
		Epoch:         rollover.NextEpoch,
		RolloverBlock: rolloverBlock,
	}

	actions := []QueuedAction{requestSignatureAction(rollover.GroupID, result.PacketID)}

	return &StateDiff{
		Rollover: &RolloverDiff{State: next},
		Signing:  &SigningDiff{Message: result.PacketID, State: signingState},
		Actions:  actions,
	}, nil
}

// handleEpochProposed records a Consensus-contract EpochProposed event;
// the rollover machine itself only reacts on EpochStaged, so this is
// currently tracked for metrics/observability only.
func (d *Driver) handleEpochProposed(event Event) (*StateDiff, error) {
	return &StateDiff{}, nil
}

// handleEpochStaged implements rollover transition 4: close out
// SignRollover once the proposed epoch is confirmed staged on-chain.
func (d *Driver) handleEpochStaged(event Event) (*StateDiff, error) {
	rollover, err := d.store.GetRolloverState()
	if err != nil {
		return nil, err
	}
	if rollover == nil || rollover.State != "SignRollover" {
		return &StateDiff{}, nil
	}

	staged := event.ProposedEpoch
	next := cloneRollover(rollover)
	next.State = "EpochStaged"

	epochNumber := staged
	rolloverBlock := event.RolloverBlock
	return &StateDiff{
		Consensus: &ConsensusDelta{
			StagedEpoch:   &staged,
			RolloverBlock: &rolloverBlock,
			EpochNumber:   &epochNumber,
			NewEpochGroup: &store.EpochGroup{GroupID: rollover.GroupID, ParticipantID: rollover.ThisParticipantID},
		},
		Rollover: &RolloverDiff{State: next},
		Signing:  nil,
	}, nil
}

func decodeCommitments(raw [][]byte) ([]*frost.Point, error) {
	curve := frost.NewBip340Ciphersuite().Curve()
	points := make([]*frost.Point, 0, len(raw))
	for _, b := range raw {
		p := curve.DeserializePoint(b)
		if p == nil {
			return nil, errors.New("invalid serialized commitment point")
		}
		points = append(points, p)
	}
	return points, nil
}

func decodePoint(b []byte) *frost.Point {
	if b == nil {
		return nil
	}
	return frost.NewBip340Ciphersuite().Curve().DeserializePoint(b)
}

func removeParticipant(participants []store.Participant, id uint64) []store.Participant {
	out := make([]store.Participant, 0, len(participants))
	for _, p := range participants {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

func participantIDs(participants []store.Participant) []uint64 {
	ids := make([]uint64, len(participants))
	for i, p := range participants {
		ids[i] = p.ID
	}
	slices.Sort(ids)
	return ids
}

