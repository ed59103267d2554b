package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	pkgerrors "github.com/pkg/errors"
)

// Client wraps an ethclient.Client with the validator's own ECDSA
// signing key, owning transaction construction and submission the way
// accounts/abi/bind.TransactOpts does for a generated contract binding,
// without requiring generated bindings for the Coordinator/Consensus
// ABIs above.
type Client struct {
	eth        *ethclient.Client
	privateKey *ecdsa.PrivateKey
	chainID    *big.Int
	from       common.Address
	gasLimit   uint64
}

// NewClient dials rpcURL and derives the sender address from privateKey.
func NewClient(ctx context.Context, rpcURL string, privateKey *ecdsa.PrivateKey, chainID *big.Int, gasLimit uint64) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "dialing rpc endpoint")
	}

	from := crypto.PubkeyToAddress(privateKey.PublicKey)

	return &Client{
		eth:        eth,
		privateKey: privateKey,
		chainID:    chainID,
		from:       from,
		gasLimit:   gasLimit,
	}, nil
}

// From returns the validator's on-chain account address.
func (c *Client) From() common.Address { return c.from }

// PendingNonceAt returns the account's next usable nonce per the
// node's mempool view, the starting point for tx_store's reservation.
func (c *Client) PendingNonceAt(ctx context.Context) (uint64, error) {
	return c.eth.PendingNonceAt(ctx, c.from)
}

// SuggestGasPrice fetches the node's current gas price suggestion.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.eth.SuggestGasPrice(ctx)
}

// SendSignedTx signs a legacy transaction {to, value, calldata, nonce}
// with the validator's key and broadcasts it, returning its hash.
func (c *Client) SendSignedTx(ctx context.Context, to common.Address, value *big.Int, nonce uint64, calldata []byte) ([32]byte, error) {
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return [32]byte{}, pkgerrors.Wrap(err, "suggesting gas price")
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      c.gasLimit,
		GasPrice: gasPrice,
		Data:     calldata,
	})

	signer := types.NewEIP155Signer(c.chainID)
	signedTx, err := types.SignTx(tx, signer, c.privateKey)
	if err != nil {
		return [32]byte{}, pkgerrors.Wrap(err, "signing transaction")
	}

	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		return [32]byte{}, pkgerrors.Wrap(err, "broadcasting transaction")
	}

	return signedTx.Hash(), nil
}

// TransactionReceipt returns the mined receipt for hash, or
// ethereum.NotFound if it has not yet been mined.
func (c *Client) TransactionReceipt(ctx context.Context, hash [32]byte) (*types.Receipt, error) {
	return c.eth.TransactionReceipt(ctx, common.BytesToHash(hash[:]))
}

// IsNotFound reports whether err is go-ethereum's not-found sentinel,
// the expected result of polling for a receipt before it is mined.
func IsNotFound(err error) bool {
	return errors.Is(err, ethereum.NotFound)
}

// HeaderByNumber returns the block header at number, or the latest
// header if number is nil.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.eth.HeaderByNumber(ctx, number)
}

// BlockByNumber returns the full block at number.
func (c *Client) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	return c.eth.BlockByNumber(ctx, number)
}

// FilterLogs fetches logs matching q.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return c.eth.FilterLogs(ctx, q)
}

// Close releases the underlying RPC connection.
func (c *Client) Close() { c.eth.Close() }
