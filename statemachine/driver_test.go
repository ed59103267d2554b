package statemachine

import (
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/shieldnet/validator/config"
	"github.com/shieldnet/validator/dkg"
	"github.com/shieldnet/validator/frost"
	"github.com/shieldnet/validator/queue"
	"github.com/shieldnet/validator/signing"
	"github.com/shieldnet/validator/store"
	"github.com/shieldnet/validator/verify"
)

// testOwnAddress is the address derived from private key 1, used so
// OwnParticipant() has a real participant to resolve to.
var testOwnAddress = ethcommon.HexToAddress("0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf")

func testParticipants() []store.Participant {
	return []store.Participant{
		{ID: 1, Address: [20]byte(testOwnAddress)},
		{ID: 2, Address: [20]byte{2}},
		{ID: 3, Address: [20]byte{3}},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		ChainID:            big.NewInt(1337),
		PrivateKeyHex:      "0000000000000000000000000000000000000000000000000000000000000001",
		ConsensusAddress:   [20]byte{0xc0},
		CoordinatorAddress: [20]byte{0xc1},
		Participants:       testParticipants(),
		Threshold:          2,
		BlocksPerEpoch:     100,
		KeyGenTimeout:      10,
		SigningTimeout:     10,
		GenesisSalt:        [32]byte{0xAA},
	}
}

func newTestDriver(t *testing.T) (*Driver, store.Store) {
	t.Helper()
	s := store.NewMemory()
	cs := frost.NewBip340Ciphersuite()
	dkgClient := dkg.NewClient(s, cs, [20]byte{1})
	signingClient := signing.NewClient(s, cs, 4)
	registry := verify.NewRegistry()
	cfg := testConfig()
	worker := queue.NewWorker(s, zap.NewNop(), func() int64 { return 0 })
	return NewDriver(s, dkgClient, signingClient, registry, cfg, worker), s
}

func TestGenesisKeyGenOpensCollectingCommitments(t *testing.T) {
	d, s := newTestDriver(t)
	cfg := testConfig()
	groupID := dkg.DeriveGroupID(cfg.Participants, cfg.Threshold, cfg.GenesisSalt[:])

	diff, err := d.Apply(Event{Kind: EventKeyGen, GroupID: groupID})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if diff.Empty() {
		t.Fatalf("expected a non-empty diff for the genesis KeyGen event")
	}

	rollover, err := s.GetRolloverState()
	if err != nil {
		t.Fatalf("GetRolloverState: %v", err)
	}
	if rollover == nil || rollover.State != "CollectingCommitments" {
		t.Fatalf("expected CollectingCommitments, got %+v", rollover)
	}

	consensus, err := s.GetConsensusState()
	if err != nil {
		t.Fatalf("GetConsensusState: %v", err)
	}
	if consensus.GenesisGroupID == nil || *consensus.GenesisGroupID != groupID {
		t.Fatalf("expected genesis_group_id to be set to %x", groupID)
	}

	entry, err := s.PeekAction()
	if err != nil {
		t.Fatalf("PeekAction: %v", err)
	}
	if entry.Kind != store.ActionStartKeyGen {
		t.Fatalf("expected a queued StartKeyGen action, got %q", entry.Kind)
	}
}

func TestGenesisKeyGenReplayIsEmpty(t *testing.T) {
	d, _ := newTestDriver(t)
	cfg := testConfig()
	groupID := dkg.DeriveGroupID(cfg.Participants, cfg.Threshold, cfg.GenesisSalt[:])

	if _, err := d.Apply(Event{Kind: EventKeyGen, GroupID: groupID}); err != nil {
		t.Fatalf("first Apply: %v", err)
	}

	diff, err := d.Apply(Event{Kind: EventKeyGen, GroupID: groupID})
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if !diff.Empty() {
		t.Fatalf("expected re-feeding an already-processed genesis event to produce an empty diff, got %+v", diff)
	}
}

func TestGenesisKeyGenIgnoresWrongGroupID(t *testing.T) {
	d, s := newTestDriver(t)

	diff, err := d.Apply(Event{Kind: EventKeyGen, GroupID: [32]byte{0xFF}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !diff.Empty() {
		t.Fatalf("expected a mismatched genesis derivation to be a no-op, got %+v", diff)
	}

	rollover, err := s.GetRolloverState()
	if err != nil {
		t.Fatalf("GetRolloverState: %v", err)
	}
	if rollover.State != "WaitingForRollover" {
		t.Fatalf("expected no rollover state to have been created")
	}
}

func TestScanDeadlinesReportsExpiredSigningState(t *testing.T) {
	d, s := newTestDriver(t)

	message := [32]byte{0x42}
	if err := s.PutSigningState(&store.SigningMachineState{
		Message:  message,
		State:    "CollectNonceCommitments",
		Deadline: 50,
		Signers:  []uint64{1, 2},
	}); err != nil {
		t.Fatalf("PutSigningState: %v", err)
	}

	events, err := d.ScanDeadlines(49)
	if err != nil {
		t.Fatalf("ScanDeadlines: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no expired states before the deadline, got %d", len(events))
	}

	events, err = d.ScanDeadlines(50)
	if err != nil {
		t.Fatalf("ScanDeadlines: %v", err)
	}
	if len(events) != 1 || events[0].Message != message {
		t.Fatalf("expected one ActionTimeout event for %x, got %+v", message, events)
	}
}

func TestSigningTimeoutDropsRequestBelowThreshold(t *testing.T) {
	d, s := newTestDriver(t)

	message := [32]byte{0x7}
	if err := s.PutSigningState(&store.SigningMachineState{
		Message:  message,
		State:    "WaitingForRequest",
		Deadline: 10,
		Signers:  []uint64{1},
	}); err != nil {
		t.Fatalf("PutSigningState: %v", err)
	}

	if _, err := d.Apply(Event{Kind: EventActionTimeout, Block: 10, Message: message, TimeoutFor: "WaitingForRequest"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	state, err := s.GetSigningState(message)
	if err != store.ErrNotFound {
		t.Fatalf("GetSigningState: expected store.ErrNotFound, got %v", err)
	}
	if state != nil {
		t.Fatalf("expected the signing state to be dropped once below threshold, got %+v", state)
	}
}

func TestWaitingForAttestationTimeoutEmitsStageEpochForResponsibleParticipant(t *testing.T) {
	d, s := newTestDriver(t)

	message := [32]byte{0x9}
	groupID := [32]byte{0x10}
	if err := s.PutSigningState(&store.SigningMachineState{
		Message:       message,
		State:         "WaitingForAttestation",
		Deadline:      20,
		Signers:       []uint64{1, 2, 3},
		Purpose:       "rollover",
		GroupID:       groupID,
		Epoch:         5,
		RolloverBlock: 1000,
	}); err != nil {
		t.Fatalf("PutSigningState: %v", err)
	}

	// self is participant 1 (testConfig's private key 1 derives
	// testOwnAddress, testParticipants()'s first entry). Block 21 over
	// three signers makes responsibleParticipant select id 1.
	diff, err := d.Apply(Event{Kind: EventActionTimeout, Block: 21, Message: message, TimeoutFor: "WaitingForAttestation"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if diff.Empty() {
		t.Fatalf("expected the responsible participant to emit a terminal action")
	}

	entry, err := s.PeekAction()
	if err != nil {
		t.Fatalf("PeekAction: %v", err)
	}
	if entry.Kind != store.ActionStageEpoch {
		t.Fatalf("expected a queued StageEpoch action, got %q", entry.Kind)
	}
}
