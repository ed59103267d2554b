package queue

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/shieldnet/validator/chain"
	"github.com/shieldnet/validator/dkg"
	"github.com/shieldnet/validator/frost"
	"github.com/shieldnet/validator/signing"
	"github.com/shieldnet/validator/store"
)

// Handlers wires the action queue's typed payloads to the dkg/signing
// clients, chain calldata encoding, and the tx_store submitter,
// implementing the handler side of spec.md §4.6's contract: "Action
// handlers encode the call" and submit it through the nonce-reserving
// store.
type Handlers struct {
	store              store.Store
	dkg                *dkg.Client
	signing            *signing.Client
	submitter          *Submitter
	coordinatorAddress [20]byte
	consensusAddress   [20]byte
	gas                uint64
}

// NewHandlers builds a Handlers bound to one validator's clients and the
// two on-chain contract addresses it submits against.
func NewHandlers(
	s store.Store,
	dkgClient *dkg.Client,
	signingClient *signing.Client,
	submitter *Submitter,
	coordinatorAddress, consensusAddress [20]byte,
	gas uint64,
) *Handlers {
	return &Handlers{
		store:              s,
		dkg:                dkgClient,
		signing:            signingClient,
		submitter:          submitter,
		coordinatorAddress: coordinatorAddress,
		consensusAddress:   consensusAddress,
		gas:                gas,
	}
}

// thisIDIn returns the caller's own participant id within participants,
// looked up by the dkg client's configured on-chain address.
func (h *Handlers) thisIDIn(participants []store.Participant) (uint64, error) {
	address := h.dkg.Address()
	for _, p := range participants {
		if p.Address == address {
			return p.ID, nil
		}
	}
	return 0, errors.New("this validator's address is not a participant of the group")
}

// RegisterAll installs every action handler on w.
func (h *Handlers) RegisterAll(w *Worker) {
	w.Register(store.ActionStartKeyGen, h.handleStartKeyGen)
	w.Register(store.ActionPublishSecretShares, h.handlePublishSecretShares)
	w.Register(store.ActionConfirmKeyGen, h.handleConfirmKeyGen)
	w.Register(store.ActionComplain, h.handleComplain)
	w.Register(store.ActionComplaintResponse, h.handleComplaintResponse)
	w.Register(store.ActionRequestSignature, h.handleRequestSignature)
	w.Register(store.ActionRegisterNonceCommitments, h.handleRegisterNonceCommitments)
	w.Register(store.ActionRevealNonceCommitments, h.handleRevealNonceCommitments)
	w.Register(store.ActionPublishSignatureShare, h.handlePublishSignatureShare)
	w.Register(store.ActionAttestTransaction, h.handleAttestTransaction)
	w.Register(store.ActionStageEpoch, h.handleStageEpoch)
}

func (h *Handlers) submitCoordinator(ctx context.Context, calldata []byte) error {
	_, err := h.submitter.Submit(ctx, h.coordinatorAddress, big.NewInt(0), h.gas, calldata)
	return err
}

func (h *Handlers) submitConsensus(ctx context.Context, calldata []byte) error {
	_, err := h.submitter.Submit(ctx, h.consensusAddress, big.NewInt(0), h.gas, calldata)
	return err
}

func (h *Handlers) handleStartKeyGen(ctx context.Context, payload []byte) error {
	var action StartKeyGen
	if err := decode(payload, &action); err != nil {
		return err
	}
	if isZero32(action.GroupID) {
		return errors.New("group id must be derived before enqueueing StartKeyGen")
	}

	thisID, err := h.thisIDIn(action.Participants)
	if err != nil {
		return err
	}

	result, err := h.dkg.SetupGroup(action.GroupID, action.Participants, action.Threshold, thisID, action.Context)
	if err != nil {
		return errors.Wrap(err, "setting up group")
	}

	commitment := chain.Commitment{
		C:  concatPoints(result.Commitments),
		R:  serializePoint(result.PoK.R),
		Mu: result.PoK.Mu,
	}

	calldata, err := chain.PackKeyGenCommit(action.GroupID, thisID, result.PoAP, commitment)
	if err != nil {
		return errors.Wrap(err, "packing keyGenCommit calldata")
	}

	return h.submitCoordinator(ctx, calldata)
}

func (h *Handlers) handlePublishSecretShares(ctx context.Context, payload []byte) error {
	var action PublishSecretShares
	if err := decode(payload, &action); err != nil {
		return err
	}

	result, err := h.dkg.CreateSecretShares(action.GroupID)
	if err != nil {
		return errors.Wrap(err, "creating secret shares")
	}

	for _, encrypted := range result.SharesByTarget {
		calldata, err := chain.PackKeyGenSecretShare(action.GroupID, chain.SecretShareArg{Y: encrypted})
		if err != nil {
			return errors.Wrap(err, "packing keyGenSecretShare calldata")
		}
		if err := h.submitCoordinator(ctx, calldata); err != nil {
			return err
		}
	}

	return nil
}

func (h *Handlers) handleConfirmKeyGen(ctx context.Context, payload []byte) error {
	var action ConfirmKeyGen
	if err := decode(payload, &action); err != nil {
		return err
	}

	var calldata []byte
	var err error
	if action.Callback != nil {
		calldata, err = chain.PackKeyGenConfirmWithCallback(action.GroupID, chain.Callback{
			Target:  common.Address(action.Callback.Target),
			Context: action.Callback.Context,
		})
	} else {
		calldata, err = chain.PackKeyGenConfirm(action.GroupID)
	}
	if err != nil {
		return errors.Wrap(err, "packing keyGenConfirm calldata")
	}

	return h.submitCoordinator(ctx, calldata)
}

func (h *Handlers) handleComplain(ctx context.Context, payload []byte) error {
	var action Complain
	if err := decode(payload, &action); err != nil {
		return err
	}
	calldata, err := chain.PackKeyGenComplain(action.GroupID, action.AccusedID)
	if err != nil {
		return errors.Wrap(err, "packing keyGenComplain calldata")
	}
	return h.submitCoordinator(ctx, calldata)
}

func (h *Handlers) handleComplaintResponse(ctx context.Context, payload []byte) error {
	var action ComplaintResponse
	if err := decode(payload, &action); err != nil {
		return err
	}
	calldata, err := chain.PackKeyGenComplaintResponse(action.GroupID, action.PlaintiffID, action.Share)
	if err != nil {
		return errors.Wrap(err, "packing keyGenComplaintResponse calldata")
	}
	return h.submitCoordinator(ctx, calldata)
}

func (h *Handlers) handleRequestSignature(ctx context.Context, payload []byte) error {
	var action RequestSignature
	if err := decode(payload, &action); err != nil {
		return err
	}
	calldata, err := chain.PackSign(action.GroupID, action.Message)
	if err != nil {
		return errors.Wrap(err, "packing sign calldata")
	}
	return h.submitCoordinator(ctx, calldata)
}

func (h *Handlers) handleRegisterNonceCommitments(ctx context.Context, payload []byte) error {
	var action RegisterNonceCommitments
	if err := decode(payload, &action); err != nil {
		return err
	}
	calldata, err := chain.PackPreprocess(action.GroupID, action.Root)
	if err != nil {
		return errors.Wrap(err, "packing preprocess calldata")
	}
	return h.submitCoordinator(ctx, calldata)
}

func (h *Handlers) handleRevealNonceCommitments(ctx context.Context, payload []byte) error {
	var action RevealNonceCommitments
	if err := decode(payload, &action); err != nil {
		return err
	}

	reveal, err := h.signing.RevealNonces(action.GroupID)
	if err != nil {
		return errors.Wrap(err, "revealing nonces")
	}

	req, err := h.store.GetSignatureRequest(action.SignatureID)
	if err != nil {
		return errors.Wrap(err, "loading signature request")
	}
	req.OwnNonceRoot = reveal.Root
	req.OwnNonceLeafIndex = reveal.LeafIndex
	req.OwnNonceReserved = true
	if err := h.store.UpdateSignatureRequest(req); err != nil {
		return errors.Wrap(err, "recording reserved nonce leaf")
	}

	curve := frost.NewBip340Ciphersuite().Curve()
	calldata, err := chain.PackSignRevealNonces(action.SignatureID, chain.NonceArg{
		D: curve.SerializePoint(reveal.HidingPoint),
		E: curve.SerializePoint(reveal.BindingPoint),
	}, reveal.MerkleProof)
	if err != nil {
		return errors.Wrap(err, "packing signRevealNonces calldata")
	}

	return h.submitCoordinator(ctx, calldata)
}

func (h *Handlers) handlePublishSignatureShare(ctx context.Context, payload []byte) error {
	var action PublishSignatureShare
	if err := decode(payload, &action); err != nil {
		return err
	}

	req, err := h.store.GetSignatureRequest(action.SignatureID)
	if err != nil {
		return errors.Wrap(err, "loading signature request")
	}

	group, err := h.store.GetGroup(req.GroupID)
	if err != nil {
		return errors.Wrap(err, "loading group")
	}
	if group.SigningShare == nil {
		return errors.New("signing share not yet available")
	}

	if !req.OwnNonceReserved {
		return errors.New("no nonce leaf reserved for this signature request yet")
	}
	pending, err := h.store.GetNonceTree(req.GroupID, req.OwnNonceRoot)
	if err != nil {
		return errors.Wrap(err, "loading reserved nonce tree")
	}
	leafIndex := req.OwnNonceLeafIndex

	publicKey := &frost.Point{X: group.PublicKey.X, Y: group.PublicKey.Y}
	pair := pending.Pairs[leafIndex]
	nonce := frost.NewNonce(pair.HidingScalar, pair.BindingScalar)

	result, err := h.signing.CreateSignatureShare(
		action.SignatureID,
		group.ThisParticipantID,
		group.SigningShare,
		publicKey,
		nonce,
		req.GroupID,
		pending.Root,
		leafIndex,
	)
	if err != nil {
		return errors.Wrap(err, "creating signature share")
	}

	ownCommitment := serializePoint(&frost.Point{X: pair.HidingPoint.X, Y: pair.HidingPoint.Y})

	calldata, err := chain.PackSignShare(
		action.SignatureID,
		chain.RootArg{R: req.Message, Root: pending.Root},
		chain.ShareArg{R: ownCommitment, Z: result.Share, L: big.NewInt(int64(group.ThisParticipantID))},
		result.SignersProof,
	)
	if err != nil {
		return errors.Wrap(err, "packing signShare calldata")
	}

	return h.submitCoordinator(ctx, calldata)
}

func (h *Handlers) handleAttestTransaction(ctx context.Context, payload []byte) error {
	var action AttestTransaction
	if err := decode(payload, &action); err != nil {
		return err
	}
	calldata, err := chain.PackAttestTransaction(action.Epoch, action.TransactionHash, action.SignatureID)
	if err != nil {
		return errors.Wrap(err, "packing attestTransaction calldata")
	}
	return h.submitConsensus(ctx, calldata)
}

func (h *Handlers) handleStageEpoch(ctx context.Context, payload []byte) error {
	var action StageEpoch
	if err := decode(payload, &action); err != nil {
		return err
	}
	calldata, err := chain.PackStageEpoch(action.ProposedEpoch, action.RolloverBlock, action.GroupID, action.SignatureID)
	if err != nil {
		return errors.Wrap(err, "packing stageEpoch calldata")
	}
	return h.submitConsensus(ctx, calldata)
}

func isZero32(b [32]byte) bool {
	return b == [32]byte{}
}

func concatPoints(points []*frost.Point) []byte {
	curve := frost.NewBip340Ciphersuite().Curve()
	var out []byte
	for _, p := range points {
		out = append(out, curve.SerializePoint(p)...)
	}
	return out
}

func serializePoint(p *frost.Point) []byte {
	return frost.NewBip340Ciphersuite().Curve().SerializePoint(p)
}
