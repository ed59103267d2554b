// Package chain encodes calldata for the on-chain Coordinator and
// Consensus contracts and submits signed transactions against them. ABI
// encoding uses go-ethereum's accounts/abi package the way the teacher
// would have had to, had its FROST prototype ever left protocol.go for a
// real chain: the teacher pack carries no ABI-encoding example of its
// own, so this is grounded directly on go-ethereum's own Pack/Unpack
// API rather than on any pack repo.
package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const coordinatorABIJSON = `[
  {"type":"function","name":"keyGenAndCommit","stateMutability":"nonpayable","inputs":[
    {"name":"participantsRoot","type":"bytes32"},
    {"name":"n","type":"uint8"},
    {"name":"t","type":"uint8"},
    {"name":"context","type":"bytes32"},
    {"name":"id","type":"uint64"},
    {"name":"poap","type":"bytes32[]"},
    {"name":"commitment","type":"tuple","components":[
      {"name":"c","type":"bytes"},
      {"name":"r","type":"bytes"},
      {"name":"mu","type":"uint256"}
    ]}
  ],"outputs":[]},
  {"type":"function","name":"keyGenCommit","stateMutability":"nonpayable","inputs":[
    {"name":"groupId","type":"bytes32"},
    {"name":"id","type":"uint64"},
    {"name":"poap","type":"bytes32[]"},
    {"name":"commitment","type":"tuple","components":[
      {"name":"c","type":"bytes"},
      {"name":"r","type":"bytes"},
      {"name":"mu","type":"uint256"}
    ]}
  ],"outputs":[]},
  {"type":"function","name":"keyGenSecretShare","stateMutability":"nonpayable","inputs":[
    {"name":"groupId","type":"bytes32"},
    {"name":"share","type":"tuple","components":[
      {"name":"y","type":"bytes"},
      {"name":"f","type":"bytes"}
    ]}
  ],"outputs":[]},
  {"type":"function","name":"keyGenComplain","stateMutability":"nonpayable","inputs":[
    {"name":"groupId","type":"bytes32"},
    {"name":"accusedId","type":"uint64"}
  ],"outputs":[]},
  {"type":"function","name":"keyGenComplaintResponse","stateMutability":"nonpayable","inputs":[
    {"name":"groupId","type":"bytes32"},
    {"name":"plaintiffId","type":"uint64"},
    {"name":"secretShare","type":"uint256"}
  ],"outputs":[]},
  {"type":"function","name":"keyGenConfirm","stateMutability":"nonpayable","inputs":[
    {"name":"groupId","type":"bytes32"}
  ],"outputs":[]},
  {"type":"function","name":"keyGenConfirmWithCallback","stateMutability":"nonpayable","inputs":[
    {"name":"groupId","type":"bytes32"},
    {"name":"callback","type":"tuple","components":[
      {"name":"target","type":"address"},
      {"name":"context","type":"bytes"}
    ]}
  ],"outputs":[]},
  {"type":"function","name":"sign","stateMutability":"nonpayable","inputs":[
    {"name":"groupId","type":"bytes32"},
    {"name":"message","type":"bytes32"}
  ],"outputs":[{"name":"signatureId","type":"bytes32"}]},
  {"type":"function","name":"preprocess","stateMutability":"nonpayable","inputs":[
    {"name":"groupId","type":"bytes32"},
    {"name":"commitmentRoot","type":"bytes32"}
  ],"outputs":[{"name":"chunk","type":"uint64"}]},
  {"type":"function","name":"signRevealNonces","stateMutability":"nonpayable","inputs":[
    {"name":"signatureId","type":"bytes32"},
    {"name":"nonce","type":"tuple","components":[
      {"name":"d","type":"bytes"},
      {"name":"e","type":"bytes"}
    ]},
    {"name":"merkleProof","type":"bytes32[]"}
  ],"outputs":[]},
  {"type":"function","name":"signShare","stateMutability":"nonpayable","inputs":[
    {"name":"sid","type":"bytes32"},
    {"name":"root","type":"tuple","components":[
      {"name":"r","type":"bytes32"},
      {"name":"root","type":"bytes32"}
    ]},
    {"name":"share","type":"tuple","components":[
      {"name":"r","type":"bytes"},
      {"name":"z","type":"uint256"},
      {"name":"l","type":"uint256"}
    ]},
    {"name":"proof","type":"bytes32[]"}
  ],"outputs":[]},
  {"type":"function","name":"signShareWithCallback","stateMutability":"nonpayable","inputs":[
    {"name":"sid","type":"bytes32"},
    {"name":"root","type":"tuple","components":[
      {"name":"r","type":"bytes32"},
      {"name":"root","type":"bytes32"}
    ]},
    {"name":"share","type":"tuple","components":[
      {"name":"r","type":"bytes"},
      {"name":"z","type":"uint256"},
      {"name":"l","type":"uint256"}
    ]},
    {"name":"proof","type":"bytes32[]"},
    {"name":"callback","type":"tuple","components":[
      {"name":"target","type":"address"},
      {"name":"context","type":"bytes"}
    ]}
  ],"outputs":[]},
  {"type":"event","name":"KeyGenStarted","anonymous":false,"inputs":[
    {"name":"groupId","type":"bytes32","indexed":true}
  ]},
  {"type":"event","name":"KeyGenCommitted","anonymous":false,"inputs":[
    {"name":"groupId","type":"bytes32","indexed":true},
    {"name":"id","type":"uint64","indexed":false},
    {"name":"commitments","type":"bytes[]","indexed":false},
    {"name":"pokR","type":"bytes","indexed":false},
    {"name":"pokMu","type":"uint256","indexed":false}
  ]},
  {"type":"event","name":"KeyGenSecretShared","anonymous":false,"inputs":[
    {"name":"groupId","type":"bytes32","indexed":true},
    {"name":"id","type":"uint64","indexed":false},
    {"name":"shared","type":"bool","indexed":false},
    {"name":"share","type":"bytes","indexed":false}
  ]},
  {"type":"event","name":"KeyGenComplaintSubmitted","anonymous":false,"inputs":[
    {"name":"groupId","type":"bytes32","indexed":true},
    {"name":"accusedId","type":"uint64","indexed":false},
    {"name":"plaintiffId","type":"uint64","indexed":false}
  ]},
  {"type":"event","name":"KeyGenComplaintResponded","anonymous":false,"inputs":[
    {"name":"groupId","type":"bytes32","indexed":true},
    {"name":"accusedId","type":"uint64","indexed":false},
    {"name":"plaintiffId","type":"uint64","indexed":false},
    {"name":"share","type":"uint256","indexed":false}
  ]},
  {"type":"event","name":"KeyGenConfirmed","anonymous":false,"inputs":[
    {"name":"groupId","type":"bytes32","indexed":true},
    {"name":"id","type":"uint64","indexed":false}
  ]},
  {"type":"event","name":"SignRequested","anonymous":false,"inputs":[
    {"name":"groupId","type":"bytes32","indexed":true},
    {"name":"signatureId","type":"bytes32","indexed":false},
    {"name":"message","type":"bytes32","indexed":false},
    {"name":"index","type":"uint64","indexed":false}
  ]},
  {"type":"event","name":"NonceCommitmentsHashed","anonymous":false,"inputs":[
    {"name":"groupId","type":"bytes32","indexed":true},
    {"name":"id","type":"uint64","indexed":false},
    {"name":"root","type":"bytes32","indexed":false},
    {"name":"chunk","type":"uint64","indexed":false}
  ]},
  {"type":"event","name":"NonceCommitmentsRevealed","anonymous":false,"inputs":[
    {"name":"signatureId","type":"bytes32","indexed":true},
    {"name":"id","type":"uint64","indexed":false},
    {"name":"hiding","type":"bytes","indexed":false},
    {"name":"binding","type":"bytes","indexed":false}
  ]},
  {"type":"event","name":"SignatureShared","anonymous":false,"inputs":[
    {"name":"signatureId","type":"bytes32","indexed":true},
    {"name":"id","type":"uint64","indexed":false}
  ]},
  {"type":"event","name":"Signed","anonymous":false,"inputs":[
    {"name":"signatureId","type":"bytes32","indexed":true},
    {"name":"message","type":"bytes32","indexed":false}
  ]}
]`

const consensusABIJSON = `[
  {"type":"function","name":"proposeEpoch","stateMutability":"nonpayable","inputs":[
    {"name":"proposedEpoch","type":"uint64"},
    {"name":"rolloverBlock","type":"uint64"},
    {"name":"groupId","type":"bytes32"}
  ],"outputs":[]},
  {"type":"function","name":"stageEpoch","stateMutability":"nonpayable","inputs":[
    {"name":"proposedEpoch","type":"uint64"},
    {"name":"rolloverBlock","type":"uint64"},
    {"name":"groupId","type":"bytes32"},
    {"name":"signatureId","type":"bytes32"}
  ],"outputs":[]},
  {"type":"function","name":"attestTransaction","stateMutability":"nonpayable","inputs":[
    {"name":"epoch","type":"uint64"},
    {"name":"transactionHash","type":"bytes32"},
    {"name":"signatureId","type":"bytes32"}
  ],"outputs":[]},
  {"type":"event","name":"EpochProposed","anonymous":false,"inputs":[
    {"name":"proposedEpoch","type":"uint64","indexed":true},
    {"name":"rolloverBlock","type":"uint64","indexed":false},
    {"name":"groupId","type":"bytes32","indexed":false}
  ]},
  {"type":"event","name":"EpochStaged","anonymous":false,"inputs":[
    {"name":"proposedEpoch","type":"uint64","indexed":true},
    {"name":"rolloverBlock","type":"uint64","indexed":false},
    {"name":"groupId","type":"bytes32","indexed":false},
    {"name":"signatureId","type":"bytes32","indexed":false}
  ]},
  {"type":"event","name":"TransactionProposed","anonymous":false,"inputs":[
    {"name":"epoch","type":"uint64","indexed":true},
    {"name":"safeTxHash","type":"bytes32","indexed":true},
    {"name":"chainId","type":"uint256","indexed":false},
    {"name":"safe","type":"address","indexed":false},
    {"name":"to","type":"address","indexed":false},
    {"name":"value","type":"uint256","indexed":false},
    {"name":"data","type":"bytes","indexed":false},
    {"name":"operation","type":"uint8","indexed":false},
    {"name":"safeTxGas","type":"uint256","indexed":false},
    {"name":"baseGas","type":"uint256","indexed":false},
    {"name":"gasPrice","type":"uint256","indexed":false},
    {"name":"gasToken","type":"address","indexed":false},
    {"name":"refundReceiver","type":"address","indexed":false},
    {"name":"nonce","type":"uint256","indexed":false}
  ]},
  {"type":"event","name":"TransactionAttested","anonymous":false,"inputs":[
    {"name":"epoch","type":"uint64","indexed":true},
    {"name":"transactionHash","type":"bytes32","indexed":false},
    {"name":"signatureId","type":"bytes32","indexed":false}
  ]}
]`

var coordinatorABI abi.ABI
var consensusABI abi.ABI

func init() {
	var err error
	coordinatorABI, err = abi.JSON(strings.NewReader(coordinatorABIJSON))
	if err != nil {
		panic(errors.Wrap(err, "parsing coordinator ABI"))
	}
	consensusABI, err = abi.JSON(strings.NewReader(consensusABIJSON))
	if err != nil {
		panic(errors.Wrap(err, "parsing consensus ABI"))
	}
}

// Commitment mirrors the Coordinator's {c, r, mu} tuple: c is the
// concatenated serialized commitment vector, r/mu the PoK.
type Commitment struct {
	C  []byte
	R  []byte
	Mu *big.Int
}

// SecretShareArg mirrors the Coordinator's {y, f} tuple: y the
// encrypted share, f an (optional) correctness proof blob.
type SecretShareArg struct {
	Y []byte
	F []byte
}

// Callback mirrors the {target, context} callback tuple accepted by
// keyGenConfirmWithCallback/signShareWithCallback.
type Callback struct {
	Target  common.Address
	Context []byte
}

// NonceArg mirrors the Coordinator's {d, e} reveal tuple.
type NonceArg struct {
	D []byte
	E []byte
}

// RootArg mirrors the Coordinator's {r, root} signing-share tuple.
type RootArg struct {
	R    [32]byte
	Root [32]byte
}

// ShareArg mirrors the Coordinator's {r, z, l} signature-share tuple.
type ShareArg struct {
	R []byte
	Z *big.Int
	L *big.Int
}

func PackKeyGenAndCommit(participantsRoot [32]byte, n, t uint8, context [32]byte, id uint64, poap [][32]byte, commitment Commitment) ([]byte, error) {
	return coordinatorABI.Pack("keyGenAndCommit", participantsRoot, n, t, context, id, poap, commitment)
}

func PackKeyGenCommit(groupID [32]byte, id uint64, poap [][32]byte, commitment Commitment) ([]byte, error) {
	return coordinatorABI.Pack("keyGenCommit", groupID, id, poap, commitment)
}

func PackKeyGenSecretShare(groupID [32]byte, share SecretShareArg) ([]byte, error) {
	return coordinatorABI.Pack("keyGenSecretShare", groupID, share)
}

func PackKeyGenComplain(groupID [32]byte, accusedID uint64) ([]byte, error) {
	return coordinatorABI.Pack("keyGenComplain", groupID, accusedID)
}

func PackKeyGenComplaintResponse(groupID [32]byte, plaintiffID uint64, secretShare *big.Int) ([]byte, error) {
	return coordinatorABI.Pack("keyGenComplaintResponse", groupID, plaintiffID, secretShare)
}

func PackKeyGenConfirm(groupID [32]byte) ([]byte, error) {
	return coordinatorABI.Pack("keyGenConfirm", groupID)
}

func PackKeyGenConfirmWithCallback(groupID [32]byte, callback Callback) ([]byte, error) {
	return coordinatorABI.Pack("keyGenConfirmWithCallback", groupID, callback)
}

func PackSign(groupID [32]byte, message [32]byte) ([]byte, error) {
	return coordinatorABI.Pack("sign", groupID, message)
}

func PackPreprocess(groupID [32]byte, commitmentRoot [32]byte) ([]byte, error) {
	return coordinatorABI.Pack("preprocess", groupID, commitmentRoot)
}

func PackSignRevealNonces(signatureID [32]byte, nonce NonceArg, merkleProof [][32]byte) ([]byte, error) {
	return coordinatorABI.Pack("signRevealNonces", signatureID, nonce, merkleProof)
}

func PackSignShare(sid [32]byte, root RootArg, share ShareArg, proof [][32]byte) ([]byte, error) {
	return coordinatorABI.Pack("signShare", sid, root, share, proof)
}

func PackSignShareWithCallback(sid [32]byte, root RootArg, share ShareArg, proof [][32]byte, callback Callback) ([]byte, error) {
	return coordinatorABI.Pack("signShareWithCallback", sid, root, share, proof, callback)
}

func PackProposeEpoch(proposedEpoch, rolloverBlock uint64, groupID [32]byte) ([]byte, error) {
	return consensusABI.Pack("proposeEpoch", proposedEpoch, rolloverBlock, groupID)
}

func PackStageEpoch(proposedEpoch, rolloverBlock uint64, groupID, signatureID [32]byte) ([]byte, error) {
	return consensusABI.Pack("stageEpoch", proposedEpoch, rolloverBlock, groupID, signatureID)
}

func PackAttestTransaction(epoch uint64, transactionHash, signatureID [32]byte) ([]byte, error) {
	return consensusABI.Pack("attestTransaction", epoch, transactionHash, signatureID)
}

// CoordinatorABI and ConsensusABI expose the parsed ABIs so package
// watcher can look up events by name/topic without re-parsing the JSON.
func CoordinatorABI() abi.ABI { return coordinatorABI }
func ConsensusABI() abi.ABI   { return consensusABI }

// CoordinatorEventNames and ConsensusEventNames list every event each
// contract's ABI defines, in the order watcher should try them when
// building a bloom-filtered topic set.
var CoordinatorEventNames = []string{
	"KeyGenStarted", "KeyGenCommitted", "KeyGenSecretShared",
	"KeyGenComplaintSubmitted", "KeyGenComplaintResponded", "KeyGenConfirmed",
	"SignRequested", "NonceCommitmentsHashed", "NonceCommitmentsRevealed",
	"SignatureShared", "Signed",
}

var ConsensusEventNames = []string{
	"EpochProposed", "EpochStaged", "TransactionProposed", "TransactionAttested",
}
