package watcher

import (
	"context"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/shieldnet/validator/chain"
	"github.com/shieldnet/validator/internal/testutils"
	"github.com/shieldnet/validator/statemachine"
	"github.com/shieldnet/validator/store"
	"github.com/shieldnet/validator/verify"
)

var (
	testCoordinator = common.Address{0xc0}
	testConsensus   = common.Address{0xc1}
)

// fakeChain is a scripted ChainReader: headers/blocks are keyed by block
// number, FilterLogs answers from a flat log list filtered by range, and
// filterErr lets a test simulate an RPC failure for page-size halving.
type fakeChain struct {
	headers   map[uint64]*gethtypes.Header
	blocks    map[uint64]*gethtypes.Block
	logs      []gethtypes.Log
	filterErr func(q ethereum.FilterQuery) error
	headNum   uint64
}

func newFakeChain() *fakeChain {
	return &fakeChain{headers: make(map[uint64]*gethtypes.Header), blocks: make(map[uint64]*gethtypes.Block)}
}

func (f *fakeChain) setBlock(number uint64, parentHash common.Hash) common.Hash {
	h := &gethtypes.Header{Number: new(big.Int).SetUint64(number), ParentHash: parentHash, Time: 1}
	f.headers[number] = h
	f.blocks[number] = gethtypes.NewBlockWithHeader(h)
	return f.blocks[number].Hash()
}

func (f *fakeChain) HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error) {
	if number == nil {
		return f.headers[f.headNum], nil
	}
	h, ok := f.headers[number.Uint64()]
	if !ok {
		return nil, errNotFound
	}
	return h, nil
}

func (f *fakeChain) BlockByNumber(ctx context.Context, number *big.Int) (*gethtypes.Block, error) {
	if number == nil {
		return f.blocks[f.headNum], nil
	}
	b, ok := f.blocks[number.Uint64()]
	if !ok {
		return nil, errNotFound
	}
	return b, nil
}

func (f *fakeChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	if f.filterErr != nil {
		if err := f.filterErr(q); err != nil {
			return nil, err
		}
	}
	var out []gethtypes.Log
	for _, l := range f.logs {
		if l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		if len(q.Topics) > 0 && len(q.Topics[0]) > 0 && !containsTopic(q.Topics[0], l.Topics[0]) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func containsTopic(topics []common.Hash, want common.Hash) bool {
	for _, t := range topics {
		if t == want {
			return true
		}
	}
	return false
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errNotFound = fakeErr("not found")

func testConfig() Config {
	cfg := DefaultConfig(testCoordinator, testConsensus)
	cfg.MaxReorgDepth = 2
	cfg.PropagationDelay = 0
	cfg.WarpPageSize = 4
	cfg.BlockSingleQueryRetryCount = 2
	return cfg
}

func signedLog(blockNumber uint64, index uint, signatureID, message [32]byte) gethtypes.Log {
	ev := chain.CoordinatorABI().Events["Signed"]
	data, err := ev.Inputs.NonIndexed().Pack(message)
	if err != nil {
		panic(err)
	}
	return gethtypes.Log{
		Address:     testCoordinator,
		Topics:      []common.Hash{ev.ID, common.Hash(signatureID)},
		Data:        data,
		BlockNumber: blockNumber,
		Index:       index,
	}
}

func keyGenStartedLog(blockNumber uint64, index uint, groupID [32]byte) gethtypes.Log {
	ev := chain.CoordinatorABI().Events["KeyGenStarted"]
	return gethtypes.Log{
		Address:     testCoordinator,
		Topics:      []common.Hash{ev.ID, common.Hash(groupID)},
		BlockNumber: blockNumber,
		Index:       index,
	}
}

func TestStartEmitsNoUnclesOnFreshCursor(t *testing.T) {
	fc := newFakeChain()
	s := store.NewMemory()
	w := New(fc, s, testConfig())

	update, err := w.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	testutils.AssertBoolsEqual(t, "a fresh cursor produces no startup uncle", true, update == nil)
}

func TestStartUnclesMaxReorgDepthBlocksBehindCursor(t *testing.T) {
	fc := newFakeChain()
	var parent common.Hash
	for i := uint64(0); i <= 10; i++ {
		parent = fc.setBlock(i, parent)
	}
	s := store.NewMemory()
	if err := s.PutCursor(store.WatcherCursor{BlockNumber: 10}); err != nil {
		t.Fatalf("PutCursor: %v", err)
	}
	w := New(fc, s, testConfig())

	update, err := w.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if update == nil {
		t.Fatalf("expected a startup uncle")
	}
	testutils.AssertBoolsEqual(t, "startup recovery reports UpdateUncle", true, update.Kind == UpdateUncle)
	// baseline = cursor(10) - MaxReorgDepth(2) = 8; the uncle lands one
	// past it, matching spec.md's S3 scenario (cursor 900, depth 2 ->
	// UncleBlock(899)).
	testutils.AssertUintsEqual(t, "uncle lands one block past the rollback baseline", 9, update.From)
}

func TestNextReturnsNilWhenCursorIsAtHead(t *testing.T) {
	fc := newFakeChain()
	fc.setBlock(5, common.Hash{})
	fc.headNum = 5
	s := store.NewMemory()
	if err := s.PutCursor(store.WatcherCursor{BlockNumber: 5}); err != nil {
		t.Fatalf("PutCursor: %v", err)
	}
	w := New(fc, s, testConfig())

	update, err := w.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	testutils.AssertBoolsEqual(t, "nothing new past the chain head", true, update == nil)
}

func TestNextDeliversSingleTipBlockWithBloomSkip(t *testing.T) {
	fc := newFakeChain()
	parent := fc.setBlock(5, common.Hash{})
	fc.setBlock(6, parent)
	fc.headNum = 6
	s := store.NewMemory()
	if err := s.PutCursor(store.WatcherCursor{BlockNumber: 5}); err != nil {
		t.Fatalf("PutCursor: %v", err)
	}
	w := New(fc, s, testConfig())
	w.lastHash = fc.blocks[5].Hash()

	update, err := w.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if update == nil {
		t.Fatalf("expected a New update for the tip block")
	}
	testutils.AssertBoolsEqual(t, "tip delivery reports UpdateNew", true, update.Kind == UpdateNew)
	testutils.AssertUintsEqual(t, "tip delivery covers exactly the new block", 6, update.From)
	testutils.AssertBoolsEqual(t, "an empty bloom filter yields no fetched events", true, len(update.Events) == 0)
}

func TestNextDetectsReorgAtTipViaParentHashMismatch(t *testing.T) {
	fc := newFakeChain()
	fc.setBlock(5, common.Hash{})
	fc.setBlock(6, common.Hash{0xDE, 0xAD})
	fc.headNum = 6
	s := store.NewMemory()
	if err := s.PutCursor(store.WatcherCursor{BlockNumber: 5}); err != nil {
		t.Fatalf("PutCursor: %v", err)
	}
	w := New(fc, s, testConfig())
	// lastHash records a block 5 this watcher delivered that is NOT the
	// parent the chain now reports for block 6: a reorg replaced it.
	w.lastHash = common.Hash{0x01}

	update, err := w.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if update == nil {
		t.Fatalf("expected an uncle update on reorg detection")
	}
	testutils.AssertBoolsEqual(t, "a parent-hash mismatch reports UpdateUncle", true, update.Kind == UpdateUncle)
	testutils.AssertUintsEqual(t, "the uncled block is the prior tip", 5, update.From)
}

func TestNextWarpsOverAFinalizedRangeAndHalvesPageSizeOnFailure(t *testing.T) {
	fc := newFakeChain()
	var parent common.Hash
	groupID := [32]byte{0x42}
	for i := uint64(0); i <= 20; i++ {
		parent = fc.setBlock(i, parent)
	}
	fc.logs = []gethtypes.Log{keyGenStartedLog(3, 0, groupID)}
	fc.filterErr = func(q ethereum.FilterQuery) error {
		from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
		if to-from+1 > 2 {
			return fakeErr("rpc: query returned more than limit")
		}
		return nil
	}
	fc.headNum = 20
	s := store.NewMemory()
	if err := s.PutCursor(store.WatcherCursor{BlockNumber: 0}); err != nil {
		t.Fatalf("PutCursor: %v", err)
	}
	w := New(fc, s, testConfig())

	update, err := w.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if update == nil {
		t.Fatalf("expected a warp update")
	}
	testutils.AssertBoolsEqual(t, "a too-large page halves down to a size the fake RPC accepts", true, update.Kind == UpdateWarp && update.To-update.From+1 <= 2)
}

func TestFetchBlockEventsFallsBackToPerTopicQueriesAfterRetries(t *testing.T) {
	fc := newFakeChain()
	fc.setBlock(0, common.Hash{})
	groupID := [32]byte{0x7}
	fc.logs = []gethtypes.Log{keyGenStartedLog(0, 0, groupID)}
	attempts := 0
	fc.filterErr = func(q ethereum.FilterQuery) error {
		// The combined-topic retry path queries with every topic in one
		// Topics[0] slice; the per-topic fallback queries one at a time.
		if len(q.Topics) > 0 && len(q.Topics[0]) > 1 {
			attempts++
			return fakeErr("combined-topic filter rejected")
		}
		return nil
	}
	s := store.NewMemory()
	w := New(fc, s, testConfig())

	events, err := w.fetchBlockEvents(context.Background(), 0)
	if err != nil {
		t.Fatalf("fetchBlockEvents: %v", err)
	}
	testutils.AssertUintsEqual(t, "retries exhausted before the per-topic fallback engages", uint64(w.cfg.BlockSingleQueryRetryCount), uint64(attempts))
	testutils.AssertUintsEqual(t, "the per-topic fallback still recovers the log", 1, uint64(len(events)))
	testutils.AssertBoolsEqual(t, "the recovered event decodes to KeyGen", true, events[0].Kind == statemachine.EventKeyGen)
}

func TestDecodeLogMapsSignedEventFields(t *testing.T) {
	idx := buildEventIndex()
	var sigID, msg [32]byte
	sigID[0] = 0x1
	msg[0] = 0x2
	log := signedLog(10, 3, sigID, msg)

	event, err := decodeLog(idx, log, func([32]byte) ([32]byte, bool) { return [32]byte{}, false })
	if err != nil {
		t.Fatalf("decodeLog: %v", err)
	}
	if event == nil {
		t.Fatalf("expected a decoded event")
	}
	testutils.AssertBoolsEqual(t, "Signed decodes to EventSigned", true, event.Kind == statemachine.EventSigned)
	testutils.AssertBoolsEqual(t, "signature id round-trips from the indexed topic", true, event.SignatureID == sigID)
	testutils.AssertBoolsEqual(t, "message round-trips from the non-indexed data", true, event.Message == msg)
}

func TestDecodeLogSkipsUnknownTopic(t *testing.T) {
	idx := buildEventIndex()
	log := gethtypes.Log{Topics: []common.Hash{{0xFF}}, BlockNumber: 1}

	event, err := decodeLog(idx, log, nil)
	if err != nil {
		t.Fatalf("decodeLog: %v", err)
	}
	testutils.AssertBoolsEqual(t, "an unrecognized topic0 is skipped, not an error", true, event == nil)
}

func TestDecodeLogResolvesTransactionAttestedViaStoredSignatureMessage(t *testing.T) {
	s := store.NewMemory()
	var sigID, msg [32]byte
	sigID[0] = 0x5
	msg[0] = 0x6
	state, err := s.GetConsensusState()
	if err != nil {
		t.Fatalf("GetConsensusState: %v", err)
	}
	state.SignatureMessages[sigID] = msg
	if err := s.PutConsensusState(state); err != nil {
		t.Fatalf("PutConsensusState: %v", err)
	}

	idx := buildEventIndex()
	ev := chain.ConsensusABI().Events["TransactionAttested"]
	var txHash [32]byte
	txHash[0] = 0x7
	data, err := ev.Inputs.NonIndexed().Pack(txHash, sigID)
	if err != nil {
		t.Fatalf("packing TransactionAttested data: %v", err)
	}
	log := gethtypes.Log{
		Address: testConsensus,
		Topics:  []common.Hash{ev.ID, {0x01}}, // epoch, indexed
		Data:    data,
	}

	event, err := decodeLog(idx, log, newResolver(s))
	if err != nil {
		t.Fatalf("decodeLog: %v", err)
	}
	if event == nil {
		t.Fatalf("expected the locally known signature id to resolve")
	}
	testutils.AssertBoolsEqual(t, "TransactionAttested resolves to EventSigned", true, event.Kind == statemachine.EventSigned)
	testutils.AssertBoolsEqual(t, "the resolved message matches the stored mapping", true, event.Message == msg)
}

func TestDecodeLogDecodesTransactionProposed(t *testing.T) {
	idx := buildEventIndex()
	ev := chain.ConsensusABI().Events["TransactionProposed"]

	data, err := ev.Inputs.NonIndexed().Pack(
		big.NewInt(1),
		common.Address{0xA1},
		common.Address{0xA2},
		big.NewInt(100),
		[]byte{0xDE, 0xAD},
		uint8(verify.OperationDelegateCall),
		big.NewInt(1),
		big.NewInt(2),
		big.NewInt(3),
		common.Address{},
		common.Address{},
		big.NewInt(7),
	)
	if err != nil {
		t.Fatalf("packing TransactionProposed data: %v", err)
	}

	var safeTxHash common.Hash
	safeTxHash[0] = 0x9
	log := gethtypes.Log{
		Address: testConsensus,
		Topics:  []common.Hash{ev.ID, {0x03}, safeTxHash}, // epoch, safeTxHash
		Data:    data,
	}

	event, err := decodeLog(idx, log, nil)
	if err != nil {
		t.Fatalf("decodeLog: %v", err)
	}
	if event == nil {
		t.Fatalf("expected a decoded event")
	}
	testutils.AssertBoolsEqual(t, "TransactionProposed decodes to EventTransactionProposed", true, event.Kind == statemachine.EventTransactionProposed)
	testutils.AssertBoolsEqual(t, "safe_tx_hash round-trips from the indexed topic", true, event.SafeTxHash == [32]byte(safeTxHash))
	if event.Proposal == nil {
		t.Fatalf("expected a decoded proposal")
	}
	testutils.AssertBoolsEqual(t, "operation round-trips", true, event.Proposal.Operation == verify.OperationDelegateCall)
	testutils.AssertBoolsEqual(t, "nonce round-trips", true, event.Proposal.Nonce.Cmp(big.NewInt(7)) == 0)
}

func TestDecodeLogSkipsTransactionAttestedForUnknownSignatureID(t *testing.T) {
	s := store.NewMemory()
	idx := buildEventIndex()
	ev := chain.ConsensusABI().Events["TransactionAttested"]
	data, err := ev.Inputs.NonIndexed().Pack([32]byte{0x7}, [32]byte{0x99})
	if err != nil {
		t.Fatalf("packing TransactionAttested data: %v", err)
	}
	log := gethtypes.Log{Topics: []common.Hash{ev.ID, {0x01}}, Data: data}

	event, err := decodeLog(idx, log, newResolver(s))
	if err != nil {
		t.Fatalf("decodeLog: %v", err)
	}
	testutils.AssertBoolsEqual(t, "an unknown signature id is a no-op skip", true, event == nil)
}

func TestSortEventsOrdersByBlockThenIndex(t *testing.T) {
	events := []statemachine.Event{
		{Block: 2, Index: 0},
		{Block: 1, Index: 5},
		{Block: 1, Index: 1},
	}
	sortEvents(events)
	testutils.AssertUintsEqual(t, "lowest block sorts first", 1, events[0].Block)
	testutils.AssertUintsEqual(t, "within a block, lowest log index sorts first", 1, events[0].Index)
	testutils.AssertUintsEqual(t, "second block-1 event follows", 5, events[1].Index)
	testutils.AssertUintsEqual(t, "the later block sorts last", 2, events[2].Block)
}
