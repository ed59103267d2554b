package verify

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Operation is a Safe transaction's call kind.
type Operation uint8

const (
	OperationCall Operation = iota
	OperationDelegateCall
)

// SafeTransactionPacket mirrors spec.md §3's TransactionProposal: the
// typed fields a Gnosis Safe's EIP-712 SafeTx struct hash is computed
// over, plus the domain fields (chain id, safe address) the surrounding
// EIP712Domain separator needs.
type SafeTransactionPacket struct {
	ChainID        *big.Int
	Safe           common.Address
	To             common.Address
	Value          *big.Int
	Data           []byte
	Operation      Operation
	SafeTxGas      *big.Int
	BaseGas        *big.Int
	GasPrice       *big.Int
	GasToken       common.Address
	RefundReceiver common.Address
	Nonce          *big.Int
}

// safeTxTypeHash and domainTypeHash are computed, not hardcoded, from
// their EIP-712 type strings -- the standard construction, so this
// stays correct independent of any particular chain's deployed Safe
// version.
var (
	safeTxTypeHash = crypto.Keccak256Hash([]byte(
		"SafeTx(address to,uint256 value,bytes data,uint8 operation,uint256 safeTxGas,uint256 baseGas,uint256 gasPrice,address gasToken,address refundReceiver,uint256 nonce)",
	))
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(uint256 chainId,address verifyingContract)",
	))
)

// HashSafeTransactionPacket computes safe_tx_hash per EIP-712:
// keccak256(0x19 0x01 || domainSeparator || structHash), where
// domainSeparator binds chain id and the Safe's own address, and
// structHash binds every SafeTx field (dynamic `data` hashed first,
// per EIP-712's rule for bytes/string members).
func HashSafeTransactionPacket(p SafeTransactionPacket) [32]byte {
	domainSeparator := crypto.Keccak256Hash(
		domainTypeHash[:],
		leftPad32(p.ChainID.Bytes()),
		leftPad32(p.Safe.Bytes()),
	)

	dataHash := crypto.Keccak256Hash(p.Data)

	structHash := crypto.Keccak256Hash(
		safeTxTypeHash[:],
		leftPad32(p.To.Bytes()),
		leftPad32(p.Value.Bytes()),
		dataHash[:],
		leftPad32([]byte{byte(p.Operation)}),
		leftPad32(p.SafeTxGas.Bytes()),
		leftPad32(p.BaseGas.Bytes()),
		leftPad32(p.GasPrice.Bytes()),
		leftPad32(p.GasToken.Bytes()),
		leftPad32(p.RefundReceiver.Bytes()),
		leftPad32(p.Nonce.Bytes()),
	)

	return crypto.Keccak256Hash([]byte{0x19, 0x01}, domainSeparator[:], structHash[:])
}

// MultiSendTransaction is one packed call within a MultiSend batch:
// operation(1 byte) || to(20 bytes) || value(32 bytes) ||
// dataLength(32 bytes) || data(dataLength bytes), per the Safe
// MultiSend contract's packed encoding.
type MultiSendTransaction struct {
	Operation Operation
	To        common.Address
	Value     *big.Int
	Data      []byte
}

// EncodeMultiSend packs txs into the single `bytes` blob the MultiSend
// contract's multiSend(bytes) expects: the packed calls concatenated
// with no inter-call padding (each call is self-delimiting via its own
// 32-byte length prefix), followed by the padding spec.md §8 requires
// on the result as a whole so it lands on a 32-byte ABI word boundary:
// zero padding when already aligned, 1-31 bytes otherwise.
func EncodeMultiSend(txs []MultiSendTransaction) []byte {
	var packed []byte
	for _, tx := range txs {
		packed = append(packed, byte(tx.Operation))
		packed = append(packed, tx.To.Bytes()...)
		packed = append(packed, leftPad32(tx.Value.Bytes())...)
		packed = append(packed, leftPad32(big.NewInt(int64(len(tx.Data))).Bytes())...)
		packed = append(packed, tx.Data...)
	}
	return PadTo32Boundary(packed)
}

// PadTo32Boundary implements spec.md §8's MultiSend padding boundary:
// data whose length is already a multiple of 32 is returned with zero
// bytes appended (i.e. unchanged, since the residue is zero);
// otherwise it is right-padded with between 1 and 31 zero bytes to
// reach the next multiple of 32.
func PadTo32Boundary(data []byte) []byte {
	residue := len(data) % 32
	if residue == 0 {
		return data
	}
	padding := 32 - residue
	return append(data, make([]byte, padding)...)
}
