package store

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"math/big"
	"sort"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/shieldnet/validator/ephemeral"
)

var (
	bucketGroups        = []byte("groups")
	bucketNonceTrees     = []byte("nonces")
	bucketNonceLinks     = []byte("nonce_links")
	bucketSigRequests    = []byte("signature_requests")
	bucketActionQueue    = []byte("action_queue")
	bucketTxStore        = []byte("tx_store")
	bucketConsensusState = []byte("consensus_state")
	bucketRolloverState  = []byte("rollover_state")
	bucketSigningStates  = []byte("signing_states")
	bucketWatcherCursor  = []byte("watcher_cursor")

	allBuckets = [][]byte{
		bucketGroups, bucketNonceTrees, bucketNonceLinks, bucketSigRequests,
		bucketActionQueue, bucketTxStore, bucketConsensusState,
		bucketRolloverState, bucketSigningStates, bucketWatcherCursor,
	}

	keyCursor       = []byte("cursor")
	keyConsensus    = []byte("state")
	keyRollover     = []byte("state")
	keySequence     = []byte("__sequence")
)

// Bolt is the production Store, backed by a single go.etcd.io/bbolt file
// with one bucket per family, grounded on gjkr.messageStorage's "insert
// fails if already present" contract but durable across process restarts.
// Every record is gob-encoded and, when secretBox is set, sealed with it
// before being written: a stolen data directory alone should not leak a
// participant's secret shares and signing share.
type Bolt struct {
	db        *bolt.DB
	secretBox *ephemeral.Box
}

// OpenBolt opens (creating if absent) a bbolt database at path and
// ensures every family bucket exists.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "opening bbolt database")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating buckets")
	}

	return &Bolt{db: db}, nil
}

func (b *Bolt) Close() error {
	return b.db.Close()
}

// SetEncryptionKey enables at-rest encryption of every record this Bolt
// reads and writes from here on, sealed under key. It must be called
// before any other method, and with the same key on every subsequent
// open of the same database file, or existing records will fail to
// decrypt.
func (b *Bolt) SetEncryptionKey(key [32]byte) {
	b.secretBox = ephemeral.NewBox(key)
}

func (b *Bolt) encodeRecord(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, errors.Wrap(err, "encoding record")
	}
	if b.secretBox == nil {
		return buf.Bytes(), nil
	}
	return b.secretBox.Encrypt(buf.Bytes())
}

func (b *Bolt) decodeRecord(data []byte, v interface{}) error {
	if b.secretBox != nil {
		plaintext, err := b.secretBox.Decrypt(data)
		if err != nil {
			return errors.Wrap(err, "decrypting record")
		}
		data = plaintext
	}
	return errors.Wrap(gob.NewDecoder(bytes.NewReader(data)).Decode(v), "decoding record")
}

func (b *Bolt) InsertGroup(g *GroupRecord) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketGroups)
		if bkt.Get(g.GroupID[:]) != nil {
			return ErrAlreadyExists
		}
		if g.ParticipantsByID == nil {
			g.ParticipantsByID = make(map[uint64]*GroupParticipant)
		}
		data, err := b.encodeRecord(g)
		if err != nil {
			return err
		}
		return bkt.Put(g.GroupID[:], data)
	})
}

func (b *Bolt) getGroupTx(tx *bolt.Tx, groupID [32]byte) (*GroupRecord, error) {
	data := tx.Bucket(bucketGroups).Get(groupID[:])
	if data == nil {
		return nil, ErrNotFound
	}
	var g GroupRecord
	if err := b.decodeRecord(data, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (b *Bolt) putGroupTx(tx *bolt.Tx, g *GroupRecord) error {
	data, err := b.encodeRecord(g)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketGroups).Put(g.GroupID[:], data)
}

func (b *Bolt) GetGroup(groupID [32]byte) (*GroupRecord, error) {
	var g *GroupRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		var err error
		g, err = b.getGroupTx(tx, groupID)
		return err
	})
	return g, err
}

func (b *Bolt) SetGroupPublicKey(groupID [32]byte, pk *Point) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		g, err := b.getGroupTx(tx, groupID)
		if err != nil {
			return err
		}
		if g.PublicKey != nil {
			return ErrAlreadySet
		}
		g.PublicKey = pk
		return b.putGroupTx(tx, g)
	})
}

func (b *Bolt) SetGroupVerificationShare(groupID [32]byte, vs *Point) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		g, err := b.getGroupTx(tx, groupID)
		if err != nil {
			return err
		}
		if g.VerificationShare != nil {
			return ErrAlreadySet
		}
		g.VerificationShare = vs
		return b.putGroupTx(tx, g)
	})
}

func (b *Bolt) SetGroupSigningShare(groupID [32]byte, ss *big.Int) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		g, err := b.getGroupTx(tx, groupID)
		if err != nil {
			return err
		}
		if g.SigningShare != nil {
			return ErrAlreadySet
		}
		g.SigningShare = ss
		return b.putGroupTx(tx, g)
	})
}

func (b *Bolt) ClearGroupCoefficients(groupID [32]byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		g, err := b.getGroupTx(tx, groupID)
		if err != nil {
			return err
		}
		if own, ok := g.ParticipantsByID[g.ThisParticipantID]; ok {
			own.Coefficients = nil
		}
		return b.putGroupTx(tx, g)
	})
}

func (b *Bolt) DeleteGroup(groupID [32]byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGroups).Delete(groupID[:])
	})
}

func (b *Bolt) PutGroupParticipant(groupID [32]byte, gp *GroupParticipant) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		g, err := b.getGroupTx(tx, groupID)
		if err != nil {
			return err
		}
		if _, ok := g.ParticipantsByID[gp.ID]; ok {
			return ErrAlreadyExists
		}
		g.ParticipantsByID[gp.ID] = gp
		return b.putGroupTx(tx, g)
	})
}

func (b *Bolt) GetGroupParticipant(groupID [32]byte, id uint64) (*GroupParticipant, error) {
	g, err := b.GetGroup(groupID)
	if err != nil {
		return nil, err
	}
	gp, ok := g.ParticipantsByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return gp, nil
}

func (b *Bolt) ListGroupParticipants(groupID [32]byte) ([]*GroupParticipant, error) {
	g, err := b.GetGroup(groupID)
	if err != nil {
		return nil, err
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

func (b *Bolt) SetParticipantSecretShare(groupID [32]byte, id uint64, share *big.Int) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		g, err := b.getGroupTx(tx, groupID)
		if err != nil {
			return err
		}
		gp, ok := g.ParticipantsByID[id]
		if !ok {
			return ErrNotFound
		}
		if gp.SecretShare != nil {
			return ErrAlreadySet
		}
		gp.SecretShare = share
		return b.putGroupTx(tx, g)
	})
}

func nonceTreeKey(groupID, root [32]byte) []byte {
	key := make([]byte, 64)
	copy(key[:32], groupID[:])
	copy(key[32:], root[:])
	return key
}

func (b *Bolt) InsertNonceTree(tree *NonceTree) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketNonceTrees)
		key := nonceTreeKey(tree.GroupID, tree.Root)
		if bkt.Get(key) != nil {
			return ErrAlreadyExists
		}
		data, err := b.encodeRecord(tree)
		if err != nil {
			return err
		}
		return bkt.Put(key, data)
	})
}

func (b *Bolt) GetNonceTree(groupID, root [32]byte) (*NonceTree, error) {
	var tree NonceTree
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNonceTrees).Get(nonceTreeKey(groupID, root))
		if data == nil {
			return ErrNotFound
		}
		return b.decodeRecord(data, &tree)
	})
	if err != nil {
		return nil, err
	}
	return &tree, nil
}

func (b *Bolt) BurnNonce(groupID, root [32]byte, leafIndex int) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketNonceTrees)
		key := nonceTreeKey(groupID, root)
		data := bkt.Get(key)
		if data == nil {
			return ErrNotFound
		}
		var tree NonceTree
		if err := b.decodeRecord(data, &tree); err != nil {
			return err
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

		encoded, err := b.encodeRecord(&tree)
		if err != nil {
			return err
		}
		return bkt.Put(key, encoded)
	})
}

// NextUnburnedLeaf reserves and returns the next leaf neither burned nor
// already reserved by an earlier, still in-flight call, so two concurrent
// RevealNonces calls for the same group never hand out the same nonce pair.
func (b *Bolt) NextUnburnedLeaf(groupID [32]byte) (*NonceTree, int, error) {
	var result *NonceTree
	var leafIdx int

	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketNonceTrees)
		c := bkt.Cursor()
		prefix := groupID[:]
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var tree NonceTree
			if err := b.decodeRecord(v, &tree); err != nil {
				return err
			}
			for i, pair := range tree.Pairs {
				if !pair.Burned() && !pair.Reserved {
					pair.Reserved = true
					encoded, err := b.encodeRecord(&tree)
					if err != nil {
						return err
					}
					if err := bkt.Put(k, encoded); err != nil {
						return err
					}
					result = &tree
					leafIdx = i
					return nil
				}
			}
		}
		return ErrNotFound
	})
	if err != nil {
		return nil, 0, err
	}
	return result, leafIdx, nil
}

// HasUnburnedLeaf reports whether groupID has any leaf that is neither
// burned nor already reserved, without reserving it. Use this for a pure
// availability check; NextUnburnedLeaf itself claims what it returns.
func (b *Bolt) HasUnburnedLeaf(groupID [32]byte) (bool, error) {
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketNonceTrees).Cursor()
		prefix := groupID[:]
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var tree NonceTree
			if err := b.decodeRecord(v, &tree); err != nil {
				return err
			}
			for _, pair := range tree.Pairs {
				if !pair.Burned() && !pair.Reserved {
					found = true
					return nil
				}
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

func (b *Bolt) InsertNonceLink(link *NonceLink) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketNonceLinks)
		key := make([]byte, 48)
		copy(key[:32], link.GroupID[:])
		binary.BigEndian.PutUint64(key[32:40], link.ParticipantID)
		binary.BigEndian.PutUint64(key[40:48], link.Chunk)
		if bkt.Get(key) != nil {
			return ErrAlreadyExists
		}
		data, err := b.encodeRecord(link)
		if err != nil {
			return err
		}
		return bkt.Put(key, data)
	})
}

func (b *Bolt) GetNonceLink(groupID [32]byte, participantID, chunk uint64) (*NonceLink, error) {
	key := make([]byte, 48)
	copy(key[:32], groupID[:])
	binary.BigEndian.PutUint64(key[32:40], participantID)
	binary.BigEndian.PutUint64(key[40:48], chunk)

	var link NonceLink
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNonceLinks).Get(key)
		if data == nil {
			return ErrNotFound
		}
		return b.decodeRecord(data, &link)
	})
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (b *Bolt) InsertSignatureRequest(req *SignatureRequest) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketSigRequests)
		if bkt.Get(req.SignatureID[:]) != nil {
			return ErrAlreadyExists
		}
		data, err := b.encodeRecord(req)
		if err != nil {
			return err
		}
		return bkt.Put(req.SignatureID[:], data)
	})
}

func (b *Bolt) GetSignatureRequest(sigID [32]byte) (*SignatureRequest, error) {
	var req SignatureRequest
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSigRequests).Get(sigID[:])
		if data == nil {
			return ErrNotFound
		}
		return b.decodeRecord(data, &req)
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (b *Bolt) UpdateSignatureRequest(req *SignatureRequest) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketSigRequests)
		if bkt.Get(req.SignatureID[:]) == nil {
			return ErrNotFound
		}
		data, err := b.encodeRecord(req)
		if err != nil {
			return err
		}
		return bkt.Put(req.SignatureID[:], data)
	})
}

func (b *Bolt) DeleteSignatureRequest(sigID [32]byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSigRequests).Delete(sigID[:])
	})
}

func (b *Bolt) EnqueueAction(entry *ActionQueueEntry) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketActionQueue)
		seq, _ := bkt.NextSequence()
		entry.Sequence = seq
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		data, err := b.encodeRecord(entry)
		if err != nil {
			return err
		}
		return bkt.Put(key, data)
	})
}

func (b *Bolt) PeekAction() (*ActionQueueEntry, error) {
	var entry ActionQueueEntry
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketActionQueue).Cursor()
		k, v := c.First()
		if k == nil {
			return ErrNotFound
		}
		return b.decodeRecord(v, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (b *Bolt) PopAction(sequence uint64) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketActionQueue)
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, sequence)
		if bkt.Get(key) == nil {
			return ErrNotFound
		}
		return bkt.Delete(key)
	})
}

func (b *Bolt) InsertTxStoreEntry(e *TxStoreEntry) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketTxStore)
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, e.Nonce)
		if bkt.Get(key) != nil {
			return ErrAlreadyExists
		}
		data, err := b.encodeRecord(e)
		if err != nil {
			return err
		}
		return bkt.Put(key, data)
	})
}

func (b *Bolt) MaxTxNonce() (uint64, bool, error) {
	var max uint64
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTxStore).Cursor()
		k, _ := c.Last()
		if k == nil {
			return nil
		}
		found = true
		max = binary.BigEndian.Uint64(k)
		return nil
	})
	return max, found, err
}

func (b *Bolt) ListTxStoreEntries() ([]*TxStoreEntry, error) {
	var out []*TxStoreEntry
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTxStore).ForEach(func(k, v []byte) error {
			var e TxStoreEntry
			if err := b.decodeRecord(v, &e); err != nil {
				return err
			}
			out = append(out, &e)
			return nil
		})
	})
	return out, err
}

func (b *Bolt) SetTxHash(nonce uint64, hash [32]byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketTxStore)
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, nonce)
		data := bkt.Get(key)
		if data == nil {
			return ErrNotFound
		}
		var e TxStoreEntry
		if err := b.decodeRecord(data, &e); err != nil {
			return err
		}
		e.Hash = &hash
		encoded, err := b.encodeRecord(&e)
		if err != nil {
			return err
		}
		return bkt.Put(key, encoded)
	})
}

func (b *Bolt) DeleteTxStoreEntry(nonce uint64) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, nonce)
		return tx.Bucket(bucketTxStore).Delete(key)
	})
}

func (b *Bolt) GetConsensusState() (*ConsensusState, error) {
	var s ConsensusState
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketConsensusState).Get(keyConsensus)
		if data == nil {
			return nil
		}
		return b.decodeRecord(data, &s)
	})
	if err != nil {
		return nil, err
	}
	if s.GroupPendingNonces == nil {
		s.GroupPendingNonces = make(map[[32]byte]struct{})
	}
	if s.EpochGroups == nil {
		s.EpochGroups = make(map[uint64]EpochGroup)
	}
	if s.SignatureMessages == nil {
		s.SignatureMessages = make(map[[32]byte][32]byte)
	}
	return &s, nil
}

func (b *Bolt) PutConsensusState(s *ConsensusState) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		data, err := b.encodeRecord(s)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketConsensusState).Put(keyConsensus, data)
	})
}

func (b *Bolt) GetRolloverState() (*RolloverMachineState, error) {
	var s RolloverMachineState
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRolloverState).Get(keyRollover)
		if data == nil {
			return nil
		}
		found = true
		return b.decodeRecord(data, &s)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		s.State = "WaitingForRollover"
	}
	if s.ConfirmationsFrom == nil {
		s.ConfirmationsFrom = make(map[uint64]struct{})
	}
	if s.ComplaintsFrom == nil {
		s.ComplaintsFrom = make(map[uint64]uint64)
	}
	return &s, nil
}

func (b *Bolt) PutRolloverState(s *RolloverMachineState) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		data, err := b.encodeRecord(s)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRolloverState).Put(keyRollover, data)
	})
}

func (b *Bolt) GetSigningState(message [32]byte) (*SigningMachineState, error) {
	var s SigningMachineState
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSigningStates).Get(message[:])
		if data == nil {
			return ErrNotFound
		}
		return b.decodeRecord(data, &s)
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (b *Bolt) PutSigningState(s *SigningMachineState) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		data, err := b.encodeRecord(s)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSigningStates).Put(s.Message[:], data)
	})
}

func (b *Bolt) DeleteSigningState(message [32]byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSigningStates).Delete(message[:])
	})
}

func (b *Bolt) ListSigningStates() ([]*SigningMachineState, error) {
	var out []*SigningMachineState
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSigningStates).ForEach(func(k, v []byte) error {
			var s SigningMachineState
			if err := b.decodeRecord(v, &s); err != nil {
				return err
			}
			out = append(out, &s)
			return nil
		})
	})
	return out, err
}

func (b *Bolt) GetCursor() (*WatcherCursor, error) {
	var c WatcherCursor
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWatcherCursor).Get(keyCursor)
		if data == nil {
			return nil
		}
		return b.decodeRecord(data, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// PutCursor advances the watcher cursor in its own transaction.
func (b *Bolt) PutCursor(c WatcherCursor) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		data, err := b.encodeRecord(c)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketWatcherCursor).Put(keyCursor, data)
	})
}

// WithCursorAdvance runs mutate and, if it succeeds, advances the watcher
// cursor to c. The two are separate transactions: a crash after mutate
// returns and before the cursor write leaves the mutation applied and the
// cursor at its previous position.
func (b *Bolt) WithCursorAdvance(c WatcherCursor, mutate func() error) error {
	if err := mutate(); err != nil {
		return err
	}
	return b.PutCursor(c)
}
