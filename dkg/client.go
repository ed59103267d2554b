// Package dkg implements the FROST distributed key generation protocol:
// commitment collection, Pedersen verifiable-secret-sharing share
// encryption/decryption, complaint verification, and signing-share
// reconstruction.
//
// The client generalizes the teacher's gjkr package (a per-phase chain of
// member types: ephemeralKeyPairGeneratingMember ->
// symmetricKeyGeneratingMember -> ...) into a single stateful Client, since
// this validator is a single long-lived process driving many groups
// concurrently rather than a test harness stepping one group through
// phases.
package dkg

import (
	"math/big"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/shieldnet/validator/frost"
	"github.com/shieldnet/validator/store"
)

// Sentinel errors mirroring spec.md §4.4's error conditions.
var (
	ErrUnknownGroup     = errors.New("unknown group")
	ErrAlreadyRegistered = errors.New("sender already registered")
	ErrInvalidPoK        = errors.New("invalid proof of knowledge")
	ErrInvalidShare      = errors.New("invalid secret share")
	ErrIncompletePrereqs = errors.New("incomplete prerequisites")
)

// Outcome is the three-valued result of handle_secrets per spec.md §4.4.
type Outcome int

const (
	Invalid Outcome = iota
	Pending
	Completed
)

// SetupResult is returned by SetupGroup.
type SetupResult struct {
	GroupID     [32]byte
	Root        [32]byte
	ThisID      uint64
	Commitments []*frost.Point
	PoK         *frost.PoK
	PoAP        [][32]byte // Merkle proof of attestation participation
}

// SecretSharesResult is returned by CreateSecretShares.
type SecretSharesResult struct {
	VerificationShare *frost.Point
	// SharesByTarget holds the ECDH+XOR-encrypted share for every other
	// participant, keyed by their id (self excluded).
	SharesByTarget map[uint64][]byte
}

// Client drives DKG for any number of groups concurrently, keeping each
// group's material behind the store so a crash at any point resumes from
// the last durable checkpoint.
type Client struct {
	store       store.Store
	ciphersuite frost.Ciphersuite
	address     [20]byte
}

// NewClient builds a DKG client writing through the given store, using
// ciphersuite for all scalar/point arithmetic, identifying this
// validator's on-chain account as address.
func NewClient(s store.Store, ciphersuite frost.Ciphersuite, address [20]byte) *Client {
	return &Client{store: s, ciphersuite: ciphersuite, address: address}
}

// Address returns this validator's on-chain account address, used to
// locate its own participant id within a group's participant list.
func (c *Client) Address() [20]byte { return c.address }

// SetupGroup persists a new group, draws this participant's polynomial,
// computes its commitments and proof of knowledge, and the Merkle proof
// of participation over the group's sorted (id, address) leaves.
func (c *Client) SetupGroup(
	groupID [32]byte,
	participants []store.Participant,
	threshold int,
	thisID uint64,
	context []byte,
) (*SetupResult, error) {
	curve := c.ciphersuite.Curve()

	coefficients, err := frost.GeneratePolynomial(curve, threshold)
	if err != nil {
		return nil, errors.Wrap(err, "generating polynomial")
	}
	commitments := frost.Commit(curve, coefficients)

	pok, err := frost.ProveKnowledge(c.ciphersuite, thisID, coefficients[0], commitments[0])
	if err != nil {
		return nil, errors.Wrap(err, "proving knowledge of secret")
	}

	record := &store.GroupRecord{
		GroupID:           groupID,
		Participants:      participants,
		Threshold:         threshold,
		ThisParticipantID: thisID,
		Context:           context,
		ParticipantsByID:  make(map[uint64]*store.GroupParticipant),
	}
	if err := c.store.InsertGroup(record); err != nil {
		return nil, err
	}

	storeCommitments := toStoreCommitments(commitments)
	own := &store.GroupParticipant{
		ID:           thisID,
		Coefficients: coefficients,
		Commitments:  storeCommitments,
		PoKR:         &store.Point{X: pok.R.X, Y: pok.R.Y},
		PoKMu:        pok.Mu,
	}
	if err := c.store.PutGroupParticipant(groupID, own); err != nil {
		return nil, err
	}

	root, proof := participationProof(participants, thisID)

	return &SetupResult{
		GroupID:     groupID,
		Root:        root,
		ThisID:      thisID,
		Commitments: commitments,
		PoK:         pok,
		PoAP:        proof,
	}, nil
}

// HandleCommitment validates a sender's PoK and records their commitments.
// It returns whether commitments from every group participant have now
// arrived.
func (c *Client) HandleCommitment(
	groupID [32]byte,
	senderID uint64,
	commitments []*frost.Point,
	pok *frost.PoK,
) (bool, error) {
	record, err := c.store.GetGroup(groupID)
	if err != nil {
		return false, ErrUnknownGroup
	}

	if _, ok := record.ParticipantsByID[senderID]; ok {
		return false, ErrAlreadyRegistered
	}

	if !frost.VerifyKnowledge(c.ciphersuite, senderID, commitments[0], pok) {
		return false, ErrInvalidPoK
	}

	gp := &store.GroupParticipant{
		ID:          senderID,
		Commitments: toStoreCommitments(commitments),
		PoKR:        &store.Point{X: pok.R.X, Y: pok.R.Y},
		PoKMu:       pok.Mu,
	}
	if err := c.store.PutGroupParticipant(groupID, gp); err != nil {
		return false, err
	}

	participants, err := c.store.ListGroupParticipants(groupID)
	if err != nil {
		return false, err
	}

	return len(participants) == len(record.Participants), nil
}

// CreateSecretShares computes, once every participant's commitments have
// arrived, this participant's encrypted share for every peer plus the
// group's verification share contribution and public key, persisting
// both.
func (c *Client) CreateSecretShares(groupID [32]byte) (*SecretSharesResult, error) {
	record, err := c.store.GetGroup(groupID)
	if err != nil {
		return nil, ErrUnknownGroup
	}

	participants, err := c.store.ListGroupParticipants(groupID)
	if err != nil {
		return nil, err
	}
	if len(participants) != len(record.Participants) {
		return nil, ErrIncompletePrereqs
	}

	curve := c.ciphersuite.Curve()

	own, ok := record.ParticipantsByID[record.ThisParticipantID]
	if !ok || own.Coefficients == nil {
		return nil, ErrIncompletePrereqs
	}

	groupPublicKey := curve.Identity()
	verificationShare := curve.Identity()
	shares := make(map[uint64][]byte)

	for _, gp := range participants {
		c0 := toFrostPoint(gp.Commitments[0])
		groupPublicKey = curve.EcAdd(groupPublicKey, c0)

		commitments := toFrostPoints(gp.Commitments)
		verificationShare = curve.EcAdd(
			verificationShare,
			frost.EvalCommitment(curve, commitments, record.ThisParticipantID),
		)

		if gp.ID == record.ThisParticipantID {
			continue
		}

		share := frost.EvalPoly(curve, own.Coefficients, gp.ID)
		peerC0 := toFrostPoint(gp.Commitments[0])

		encrypted, err := encryptShare(curve, own.Coefficients[0], peerC0, share)
		if err != nil {
			return nil, errors.Wrap(err, "encrypting secret share")
		}
		shares[gp.ID] = encrypted
	}

	if err := c.store.SetGroupPublicKey(groupID, &store.Point{X: groupPublicKey.X, Y: groupPublicKey.Y}); err != nil {
		return nil, err
	}
	if err := c.store.SetGroupVerificationShare(groupID, &store.Point{X: verificationShare.X, Y: verificationShare.Y}); err != nil {
		return nil, err
	}

	return &SecretSharesResult{
		VerificationShare: verificationShare,
		SharesByTarget:    shares,
	}, nil
}

// HandleSecrets decrypts the share addressed to this participant by
// senderID, verifies it against the sender's commitments, and stores it.
// Once shares from every participant (including self) have arrived, it
// reconstructs the signing share, checks g*signing_share ==
// verification_share, and clears transient DKG material.
func (c *Client) HandleSecrets(
	groupID [32]byte,
	senderID uint64,
	encryptedShare []byte,
) (Outcome, error) {
	record, err := c.store.GetGroup(groupID)
	if err != nil {
		return Invalid, ErrUnknownGroup
	}

	own, ok := record.ParticipantsByID[record.ThisParticipantID]
	if !ok || own.Coefficients == nil {
		return Invalid, ErrIncompletePrereqs
	}

	sender, ok := record.ParticipantsByID[senderID]
	if !ok {
		return Invalid, ErrUnknownGroup
	}

	curve := c.ciphersuite.Curve()
	senderC0 := toFrostPoint(sender.Commitments[0])

	share, err := decryptShare(curve, own.Coefficients[0], senderC0, encryptedShare)
	if err != nil {
		return Invalid, errors.Wrap(err, "decrypting secret share")
	}

	senderCommitments := toFrostPoints(sender.Commitments)
	expected := frost.EvalCommitment(curve, senderCommitments, record.ThisParticipantID)
	actual := curve.EcBaseMul(share)
	if !actual.Equals(expected) {
		return Invalid, ErrInvalidShare
	}

	if err := c.store.SetParticipantSecretShare(groupID, senderID, share); err != nil {
		return Invalid, err
	}

	participants, err := c.store.ListGroupParticipants(groupID)
	if err != nil {
		return Invalid, err
	}

	for _, gp := range participants {
		if gp.ID == record.ThisParticipantID {
			continue
		}
		if gp.SecretShare == nil {
			return Pending, nil
		}
	}

	signingShare := big.NewInt(0)
	order := curve.Order()
	for _, gp := range participants {
		var contribution *big.Int
		if gp.ID == record.ThisParticipantID {
			contribution = frost.EvalPoly(curve, own.Coefficients, record.ThisParticipantID)
		} else {
			contribution = gp.SecretShare
		}
		signingShare.Add(signingShare, contribution)
		signingShare.Mod(signingShare, order)
	}

	record, err = c.store.GetGroup(groupID)
	if err != nil {
		return Invalid, err
	}
	if record.VerificationShare == nil {
		return Invalid, ErrIncompletePrereqs
	}
	verificationShare := toFrostPoint(record.VerificationShare)
	if !curve.EcBaseMul(signingShare).Equals(verificationShare) {
		return Invalid, ErrInvalidShare
	}

	if err := c.store.SetGroupSigningShare(groupID, signingShare); err != nil {
		return Invalid, err
	}
	if err := c.store.ClearGroupCoefficients(groupID); err != nil {
		return Invalid, err
	}

	return Completed, nil
}

// VerifySecretShare is used by the complaint/response sub-protocol: it
// checks whether the plaintext share a sender published for target
// matches the sender's broadcast commitments.
func (c *Client) VerifySecretShare(
	groupID [32]byte,
	sender, target uint64,
	share *big.Int,
) (bool, error) {
	record, err := c.store.GetGroup(groupID)
	if err != nil {
		return false, ErrUnknownGroup
	}
	senderGp, ok := record.ParticipantsByID[sender]
	if !ok {
		return false, ErrUnknownGroup
	}

	curve := c.ciphersuite.Curve()
	commitments := toFrostPoints(senderGp.Commitments)
	expected := frost.EvalCommitment(curve, commitments, target)
	actual := curve.EcBaseMul(share)
	return actual.Equals(expected), nil
}

// CreateSecretShare recomputes, in the clear, the share this participant
// owes to target -- used to answer a complaint by revealing the
// plaintext share that was otherwise only ever sent encrypted.
func (c *Client) CreateSecretShare(groupID [32]byte, target uint64) (*big.Int, error) {
	record, err := c.store.GetGroup(groupID)
	if err != nil {
		return nil, ErrUnknownGroup
	}
	own, ok := record.ParticipantsByID[record.ThisParticipantID]
	if !ok || own.Coefficients == nil {
		return nil, ErrIncompletePrereqs
	}

	curve := c.ciphersuite.Curve()
	return frost.EvalPoly(curve, own.Coefficients, target), nil
}

// encryptShare implements spec.md §4.2's VSS mask: enc_{i->j} =
// evalPoly(a, j) XOR (C_{j,0} . a_0).x, the ECDH-derived mask being the
// x-coordinate of the sender's degree-0 secret multiplied by the peer's
// degree-0 commitment point.
func encryptShare(curve frost.Curve, a0 *big.Int, peerC0 *frost.Point, share *big.Int) ([]byte, error) {
	mask := curve.EcMul(peerC0, a0)
	shareBytes := leftPad32(share.Bytes())
	maskBytes := leftPad32(mask.X.Bytes())

	out := make([]byte, 32)
	for i := range out {
		out[i] = shareBytes[i] ^ maskBytes[i]
	}
	return out, nil
}

// decryptShare is symmetric to encryptShare: the recipient recomputes the
// same mask using its own degree-0 secret against the sender's degree-0
// commitment.
func decryptShare(curve frost.Curve, ownA0 *big.Int, senderC0 *frost.Point, encrypted []byte) (*big.Int, error) {
	if len(encrypted) != 32 {
		return nil, errors.New("encrypted share must be 32 bytes")
	}

	mask := curve.EcMul(senderC0, ownA0)
	maskBytes := leftPad32(mask.X.Bytes())

	out := make([]byte, 32)
	for i := range out {
		out[i] = encrypted[i] ^ maskBytes[i]
	}

	share := new(big.Int).SetBytes(out)
	share.Mod(share, curve.Order())
	return share, nil
}

func leftPad32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func toStoreCommitments(points []*frost.Point) []*store.Point {
	out := make([]*store.Point, len(points))
	for i, p := range points {
		out[i] = &store.Point{X: p.X, Y: p.Y}
	}
	return out
}

func toFrostPoints(points []*store.Point) []*frost.Point {
	out := make([]*frost.Point, len(points))
	for i, p := range points {
		out[i] = toFrostPoint(p)
	}
	return out
}

func toFrostPoint(p *store.Point) *frost.Point {
	return &frost.Point{X: p.X, Y: p.Y}
}

// participationProof builds the sorted keccak256(id||address) leaf set
// used both for group_id derivation and for a single participant's proof
// of attestation participation, matching spec.md §3's "participants_root"
// definition.
func participationProof(participants []store.Participant, thisID uint64) ([32]byte, [][32]byte) {
	leaves := make(map[uint64][32]byte, len(participants))
	ids := make([]uint64, 0, len(participants))
	for _, p := range participants {
		leaves[p.ID] = leafHash(p)
		ids = append(ids, p.ID)
	}
	slices.Sort(ids)

	sorted := make([][32]byte, len(ids))
	for i, id := range ids {
		sorted[i] = leaves[id]
	}

	root, proof := merkleProof(sorted, indexOf(ids, thisID))
	return root, proof
}

func indexOf(ids []uint64, id uint64) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
