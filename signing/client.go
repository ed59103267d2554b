// Package signing implements FROST's second round: nonce pre-processing
// into fixed-size Merkle-committed batches, signature-request
// registration, nonce reveal, and signature-share creation, built on top
// of frost.Signer/frost.Coordinator for the cryptographic core.
package signing

import (
	"crypto/rand"
	"math/big"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/shieldnet/validator/frost"
	"github.com/shieldnet/validator/merkle"
	"github.com/shieldnet/validator/store"
)

// DefaultBatchSize is the nonce-tree batch size B: fixed at 32 per group
// per pre-processing round, matching the Coordinator's 32-leaf chunking
// convention (a depth-5 tree). Configurable via Config.NonceBatchSize.
const DefaultBatchSize = 32

// Outcome is the two-valued result of handle_nonce_commitments.
type Outcome int

const (
	Pending Outcome = iota
	Complete
)

// RevealResult is returned by RevealNonces. HidingScalar/BindingScalar stay
// local to this signer (they back Nonce, passed to CreateSignatureShare);
// only the points and the inclusion proof are meant to be broadcast.
type RevealResult struct {
	HidingScalar  *big.Int
	BindingScalar *big.Int
	HidingPoint   *frost.Point
	BindingPoint  *frost.Point
	MerkleProof   [][32]byte
	LeafIndex     int
	Root          [32]byte
}

// Nonce reconstructs the frost.Nonce this reveal corresponds to, for
// passing into CreateSignatureShare.
func (r *RevealResult) Nonce() *frost.Nonce {
	return frost.NewNonce(r.HidingScalar, r.BindingScalar)
}

// ShareResult is returned by CreateSignatureShare. SignersRoot/SignersProof
// commit to the exact signer set this share was computed against, so an
// aggregator (or an on-chain verifier) can confirm it before combining
// shares into a signature.
type ShareResult struct {
	Share        *big.Int
	SignersRoot  [32]byte
	SignersProof [][32]byte
}

// Client drives nonce pre-processing and signing for any number of
// groups, writing through the store so nonce burns and signature shares
// survive a crash.
type Client struct {
	store       store.Store
	ciphersuite frost.Ciphersuite
	batchSize   int
}

// NewClient builds a signing client. batchSize <= 0 defaults to
// DefaultBatchSize.
func NewClient(s store.Store, ciphersuite frost.Ciphersuite, batchSize int) *Client {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Client{store: s, ciphersuite: ciphersuite, batchSize: batchSize}
}

// GenerateNonceTree draws a fresh batch of B random (hiding, binding)
// nonce pairs for a group, builds their commitment Merkle tree, and
// persists it unlinked (not yet associated with an external chunk
// index).
func (c *Client) GenerateNonceTree(groupID [32]byte) ([32]byte, error) {
	curve := c.ciphersuite.Curve()
	order := curve.Order()

	pairs := make([]*store.NonceCommitmentPair, c.batchSize)
	leaves := make([][32]byte, c.batchSize)

	for i := 0; i < c.batchSize; i++ {
		hidingScalar, err := rand.Int(rand.Reader, order)
		if err != nil {
			return [32]byte{}, err
		}
		bindingScalar, err := rand.Int(rand.Reader, order)
		if err != nil {
			return [32]byte{}, err
		}

		hidingPoint := curve.EcBaseMul(hidingScalar)
		bindingPoint := curve.EcBaseMul(bindingScalar)

		pairs[i] = &store.NonceCommitmentPair{
			HidingScalar:  hidingScalar,
			HidingPoint:   &store.Point{X: hidingPoint.X, Y: hidingPoint.Y},
			BindingScalar: bindingScalar,
			BindingPoint:  &store.Point{X: bindingPoint.X, Y: bindingPoint.Y},
		}
		leaves[i] = leafHash(curve, hidingPoint, bindingPoint)
	}

	root, _ := merkle.Build(leaves)

	tree := &store.NonceTree{
		GroupID: groupID,
		Root:    root,
		Leaves:  leaves,
		Pairs:   pairs,
	}
	if err := c.store.InsertNonceTree(tree); err != nil {
		return [32]byte{}, err
	}

	return root, nil
}

// HandleNonceCommitmentsHash links a nonce-tree root announced by an
// external participant to a chunk index within a group's pre-processing
// round.
func (c *Client) HandleNonceCommitmentsHash(
	groupID [32]byte,
	participantID uint64,
	root [32]byte,
	chunk uint64,
) error {
	return c.store.InsertNonceLink(&store.NonceLink{
		GroupID:       groupID,
		ParticipantID: participantID,
		Chunk:         chunk,
		Root:          root,
	})
}

// RegisterSignatureRequest opens a new signing ceremony.
func (c *Client) RegisterSignatureRequest(
	signatureID, groupID, message [32]byte,
	signers []uint64,
	sequence uint64,
) error {
	sorted := append([]uint64{}, signers...)
	slices.Sort(sorted)

	return c.store.InsertSignatureRequest(&store.SignatureRequest{
		SignatureID:          signatureID,
		GroupID:              groupID,
		Message:              message,
		Signers:              sorted,
		Sequence:             sequence,
		NonceCommitmentsByID: make(map[uint64]*store.NonceCommitmentPair),
		SignatureSharesByID:  make(map[uint64]*big.Int),
	})
}

// RevealNonces selects this signer's next unburned leaf for groupID,
// marks it pending reveal, and returns its public commitments plus a
// Merkle proof of inclusion.
func (c *Client) RevealNonces(groupID [32]byte) (*RevealResult, error) {
	tree, leafIndex, err := c.store.NextUnburnedLeaf(groupID)
	if err != nil {
		return nil, err
	}

	_, levels := merkle.Build(tree.Leaves)
	proof := merkle.Proof(levels, leafIndex)

	pair := tree.Pairs[leafIndex]
	return &RevealResult{
		HidingScalar:  pair.HidingScalar,
		BindingScalar: pair.BindingScalar,
		HidingPoint:   &frost.Point{X: pair.HidingPoint.X, Y: pair.HidingPoint.Y},
		BindingPoint:  &frost.Point{X: pair.BindingPoint.X, Y: pair.BindingPoint.Y},
		MerkleProof:   proof,
		LeafIndex:     leafIndex,
		Root:          tree.Root,
	}, nil
}

// HandleNonceCommitments registers a signer's revealed (hiding, binding)
// nonce commitments against a signature request, returning whether every
// expected signer has now revealed.
func (c *Client) HandleNonceCommitments(
	signatureID [32]byte,
	signerID uint64,
	hiding, binding *frost.Point,
) (Outcome, error) {
	req, err := c.store.GetSignatureRequest(signatureID)
	if err != nil {
		return Pending, err
	}

	req.NonceCommitmentsByID[signerID] = &store.NonceCommitmentPair{
		HidingPoint:  &store.Point{X: hiding.X, Y: hiding.Y},
		BindingPoint: &store.Point{X: binding.X, Y: binding.Y},
	}
	if err := c.store.UpdateSignatureRequest(req); err != nil {
		return Pending, err
	}

	for _, signer := range req.Signers {
		if _, ok := req.NonceCommitmentsByID[signer]; !ok {
			return Pending, nil
		}
	}
	return Complete, nil
}

// CreateSignatureShare computes this signer's FROST signature share for
// signatureID once every signer's nonce commitments are present, by
// delegating to frost.Signer.Round2 for the binding-factor, group-commitment
// and Lagrange-coefficient math, then burns the nonce pair this signer
// revealed from groupRoot at leafIndex so it can never be reused.
func (c *Client) CreateSignatureShare(
	signatureID [32]byte,
	signerIndex uint64,
	signingShare *big.Int,
	publicKey *frost.Point,
	ownNonce *frost.Nonce,
	groupID, groupRoot [32]byte,
	leafIndex int,
) (*ShareResult, error) {
	req, err := c.store.GetSignatureRequest(signatureID)
	if err != nil {
		return nil, err
	}

	commitments := make([]*frost.NonceCommitment, 0, len(req.Signers))
	for _, signer := range req.Signers {
		pair, ok := req.NonceCommitmentsByID[signer]
		if !ok {
			return nil, errors.Errorf("missing nonce commitments from signer [%d]", signer)
		}
		commitments = append(commitments, frost.NewNonceCommitment(
			signer,
			&frost.Point{X: pair.HidingPoint.X, Y: pair.HidingPoint.Y},
			&frost.Point{X: pair.BindingPoint.X, Y: pair.BindingPoint.Y},
		))
	}
	slices.SortFunc(commitments, func(a, b *frost.NonceCommitment) int {
		return int(a.SignerIndex()) - int(b.SignerIndex())
	})

	signer := frost.NewSigner(c.ciphersuite, publicKey, signerIndex, signingShare)
	share, err := signer.Round2(req.Message[:], ownNonce, commitments)
	if err != nil {
		return nil, err
	}

	if err := c.store.BurnNonce(groupID, groupRoot, leafIndex); err != nil {
		return nil, err
	}

	root, levels := merkle.Build(signerLeaves(req.Signers))
	proof := merkle.Proof(levels, indexOfUint64(req.Signers, signerIndex))

	return &ShareResult{
		Share:        share,
		SignersRoot:  root,
		SignersProof: proof,
	}, nil
}

func indexOfUint64(values []uint64, v uint64) int {
	for i, x := range values {
		if x == v {
			return i
		}
	}
	return -1
}

func signerLeaves(signers []uint64) [][32]byte {
	leaves := make([][32]byte, len(signers))
	for i, s := range signers {
		var leaf [32]byte
		b := big.NewInt(0).SetUint64(s).Bytes()
		copy(leaf[32-len(b):], b)
		leaves[i] = leaf
	}
	return leaves
}
