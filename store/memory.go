package store

import (
	"math/big"
	"sort"
	"sync"
)

// Memory is an in-memory Store, a direct generalization of the teacher's
// gjkr.messageStorage (a mutex-guarded map with set-once put semantics)
// to the full family set this validator needs. Used in tests and for
// development runs where durability is not required.
type Memory struct {
	mu sync.Mutex

	groups       map[[32]byte]*GroupRecord
	nonceTrees   map[[32]byte]map[[32]byte]*NonceTree // groupID -> root -> tree
	nonceLinks   map[[32]byte]map[uint64]*NonceLink   // groupID -> (participantID<<32 | chunk) -> link
	sigRequests  map[[32]byte]*SignatureRequest
	actionQueue  []*ActionQueueEntry
	nextSequence uint64
	txStore      map[uint64]*TxStoreEntry
	consensus    *ConsensusState
	rollover     *RolloverMachineState
	signing      map[[32]byte]*SigningMachineState
	cursor       WatcherCursor
}

// NewMemory returns an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{
		groups:      make(map[[32]byte]*GroupRecord),
		nonceTrees:  make(map[[32]byte]map[[32]byte]*NonceTree),
		nonceLinks:  make(map[[32]byte]map[uint64]*NonceLink),
		sigRequests: make(map[[32]byte]*SignatureRequest),
		txStore:     make(map[uint64]*TxStoreEntry),
		signing:     make(map[[32]byte]*SigningMachineState),
	}
}

func (m *Memory) InsertGroup(g *GroupRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[g.GroupID]; ok {
		return ErrAlreadyExists
	}
	if g.ParticipantsByID == nil {
		g.ParticipantsByID = make(map[uint64]*GroupParticipant)
	}
	m.groups[g.GroupID] = g
	return nil
}

func (m *Memory) GetGroup(groupID [32]byte) (*GroupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[groupID]
	if !ok {
		return nil, ErrNotFound
	}
	return g, nil
}

func (m *Memory) SetGroupPublicKey(groupID [32]byte, pk *Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[groupID]
	if !ok {
		return ErrNotFound
	}
	if g.PublicKey != nil {
		return ErrAlreadySet
	}
	g.PublicKey = pk
	return nil
}

func (m *Memory) SetGroupVerificationShare(groupID [32]byte, vs *Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[groupID]
	if !ok {
		return ErrNotFound
	}
	if g.VerificationShare != nil {
		return ErrAlreadySet
	}
	g.VerificationShare = vs
	return nil
}

func (m *Memory) SetGroupSigningShare(groupID [32]byte, ss *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[groupID]
	if !ok {
		return ErrNotFound
	}
	if g.SigningShare != nil {
		return ErrAlreadySet
	}
	g.SigningShare = ss
	return nil
}

func (m *Memory) ClearGroupCoefficients(groupID [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[groupID]
	if !ok {
		return ErrNotFound
	}
	if own, ok := g.ParticipantsByID[g.ThisParticipantID]; ok {
		own.Coefficients = nil
	}
	return nil
}

func (m *Memory) DeleteGroup(groupID [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.groups, groupID)
	delete(m.nonceTrees, groupID)
	delete(m.nonceLinks, groupID)
	return nil
}

func (m *Memory) PutGroupParticipant(groupID [32]byte, gp *GroupParticipant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[groupID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := g.ParticipantsByID[gp.ID]; ok {
		return ErrAlreadyExists
	}
	g.ParticipantsByID[gp.ID] = gp
	return nil
}

func (m *Memory) GetGroupParticipant(groupID [32]byte, id uint64) (*GroupParticipant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[groupID]
	if !ok {
		return nil, ErrNotFound
	}
	gp, ok := g.ParticipantsByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return gp, nil
}

func (m *Memory) ListGroupParticipants(groupID [32]byte) ([]*GroupParticipant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[groupID]
	if !ok {
		return nil, ErrNotFound
	}

	ids := make([]uint64, 0, len(g.ParticipantsByID))
	for id := range g.ParticipantsByID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]*GroupParticipant, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.ParticipantsByID[id])
	}
	return out, nil
}

func (m *Memory) SetParticipantSecretShare(groupID [32]byte, id uint64, share *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[groupID]
	if !ok {
		return ErrNotFound
	}
	gp, ok := g.ParticipantsByID[id]
	if !ok {
		return ErrNotFound
	}
	if gp.SecretShare != nil {
		return ErrAlreadySet
	}
	gp.SecretShare = share
	return nil
}

func (m *Memory) InsertNonceTree(tree *NonceTree) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byRoot, ok := m.nonceTrees[tree.GroupID]
	if !ok {
		byRoot = make(map[[32]byte]*NonceTree)
		m.nonceTrees[tree.GroupID] = byRoot
	}
	if _, ok := byRoot[tree.Root]; ok {
		return ErrAlreadyExists
	}
	byRoot[tree.Root] = tree
	return nil
}

func (m *Memory) GetNonceTree(groupID, root [32]byte) (*NonceTree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byRoot, ok := m.nonceTrees[groupID]
	if !ok {
		return nil, ErrNotFound
	}
	tree, ok := byRoot[root]
	if !ok {
		return nil, ErrNotFound
	}
	return tree, nil
}

func (m *Memory) BurnNonce(groupID, root [32]byte, leafIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byRoot, ok := m.nonceTrees[groupID]
	if !ok {
		return ErrNotFound
	}
	tree, ok := byRoot[root]
	if !ok {
		return ErrNotFound
	}
	if leafIndex < 0 || leafIndex >= len(tree.Pairs) {
		return ErrNotFound
	}
	pair := tree.Pairs[leafIndex]
	if pair.Burned() {
		return ErrNonceBurned
	}
	pair.HidingScalar = nil
	pair.BindingScalar = nil
	return nil
}

// NextUnburnedLeaf reserves and returns the next leaf neither burned nor
// already reserved by an earlier, still in-flight call, so two concurrent
// RevealNonces calls for the same group never hand out the same nonce pair.
func (m *Memory) NextUnburnedLeaf(groupID [32]byte) (*NonceTree, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byRoot, ok := m.nonceTrees[groupID]
	if !ok {
		return nil, 0, ErrNotFound
	}

	roots := make([][32]byte, 0, len(byRoot))
	for r := range byRoot {
		roots = append(roots, r)
	}
	sort.Slice(roots, func(i, j int) bool {
		return string(roots[i][:]) < string(roots[j][:])
	})

	for _, r := range roots {
		tree := byRoot[r]
		for i, pair := range tree.Pairs {
			if !pair.Burned() && !pair.Reserved {
				pair.Reserved = true
				return tree, i, nil
			}
		}
	}
	return nil, 0, ErrNotFound
}

// HasUnburnedLeaf reports whether groupID has any leaf that is neither
// burned nor already reserved, without reserving it. Use this for a pure
// availability check; NextUnburnedLeaf itself claims what it returns.
func (m *Memory) HasUnburnedLeaf(groupID [32]byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byRoot, ok := m.nonceTrees[groupID]
	if !ok {
		return false, nil
	}
	for _, tree := range byRoot {
		for _, pair := range tree.Pairs {
			if !pair.Burned() && !pair.Reserved {
				return true, nil
			}
		}
	}
	return false, nil
}

func (m *Memory) InsertNonceLink(link *NonceLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byChunk, ok := m.nonceLinks[link.GroupID]
	if !ok {
		byChunk = make(map[uint64]*NonceLink)
		m.nonceLinks[link.GroupID] = byChunk
	}
	key := link.ParticipantID<<32 | link.Chunk
	if _, ok := byChunk[key]; ok {
		return ErrAlreadyExists
	}
	byChunk[key] = link
	return nil
}

func (m *Memory) GetNonceLink(groupID [32]byte, participantID, chunk uint64) (*NonceLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byChunk, ok := m.nonceLinks[groupID]
	if !ok {
		return nil, ErrNotFound
	}
	link, ok := byChunk[participantID<<32|chunk]
	if !ok {
		return nil, ErrNotFound
	}
	return link, nil
}

func (m *Memory) InsertSignatureRequest(req *SignatureRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sigRequests[req.SignatureID]; ok {
		return ErrAlreadyExists
	}
	m.sigRequests[req.SignatureID] = req
	return nil
}

func (m *Memory) GetSignatureRequest(sigID [32]byte) (*SignatureRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.sigRequests[sigID]
	if !ok {
		return nil, ErrNotFound
	}
	return req, nil
}

func (m *Memory) UpdateSignatureRequest(req *SignatureRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sigRequests[req.SignatureID]; !ok {
		return ErrNotFound
	}
	m.sigRequests[req.SignatureID] = req
	return nil
}

func (m *Memory) DeleteSignatureRequest(sigID [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sigRequests, sigID)
	return nil
}

func (m *Memory) EnqueueAction(entry *ActionQueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSequence++
	entry.Sequence = m.nextSequence
	m.actionQueue = append(m.actionQueue, entry)
	return nil
}

func (m *Memory) PeekAction() (*ActionQueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.actionQueue) == 0 {
		return nil, ErrNotFound
	}
	return m.actionQueue[0], nil
}

func (m *Memory) PopAction(sequence uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.actionQueue) == 0 || m.actionQueue[0].Sequence != sequence {
		return ErrNotFound
	}
	m.actionQueue = m.actionQueue[1:]
	return nil
}

func (m *Memory) InsertTxStoreEntry(e *TxStoreEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.txStore[e.Nonce]; ok {
		return ErrAlreadyExists
	}
	m.txStore[e.Nonce] = e
	return nil
}

func (m *Memory) MaxTxNonce() (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.txStore) == 0 {
		return 0, false, nil
	}
	var max uint64
	for n := range m.txStore {
		if n > max {
			max = n
		}
	}
	return max, true, nil
}

func (m *Memory) ListTxStoreEntries() ([]*TxStoreEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	nonces := make([]uint64, 0, len(m.txStore))
	for n := range m.txStore {
		nonces = append(nonces, n)
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })

	out := make([]*TxStoreEntry, 0, len(nonces))
	for _, n := range nonces {
		out = append(out, m.txStore[n])
	}
	return out, nil
}

func (m *Memory) SetTxHash(nonce uint64, hash [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.txStore[nonce]
	if !ok {
		return ErrNotFound
	}
	e.Hash = &hash
	return nil
}

func (m *Memory) DeleteTxStoreEntry(nonce uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.txStore, nonce)
	return nil
}

func (m *Memory) GetConsensusState() (*ConsensusState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.consensus == nil {
		return &ConsensusState{
			GroupPendingNonces: make(map[[32]byte]struct{}),
			EpochGroups:        make(map[uint64]EpochGroup),
			SignatureMessages:  make(map[[32]byte][32]byte),
		}, nil
	}
	return m.consensus, nil
}

func (m *Memory) PutConsensusState(s *ConsensusState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consensus = s
	return nil
}

func (m *Memory) GetRolloverState() (*RolloverMachineState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rollover == nil {
		return &RolloverMachineState{
			State:             "WaitingForRollover",
			ConfirmationsFrom: make(map[uint64]struct{}),
			ComplaintsFrom:    make(map[uint64]uint64),
		}, nil
	}
	return m.rollover, nil
}

func (m *Memory) PutRolloverState(s *RolloverMachineState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollover = s
	return nil
}

func (m *Memory) GetSigningState(message [32]byte) (*SigningMachineState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.signing[message]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *Memory) PutSigningState(s *SigningMachineState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.signing[s.Message] = s
	return nil
}

func (m *Memory) DeleteSigningState(message [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.signing, message)
	return nil
}

func (m *Memory) ListSigningStates() ([]*SigningMachineState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*SigningMachineState, 0, len(m.signing))
	for _, s := range m.signing {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].Message[:]) < string(out[j].Message[:])
	})
	return out, nil
}

func (m *Memory) GetCursor() (*WatcherCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.cursor
	return &c, nil
}

func (m *Memory) PutCursor(c WatcherCursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cursor = c
	return nil
}

func (m *Memory) Close() error { return nil }
