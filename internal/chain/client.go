// Package chain abstracts one JSON-RPC endpoint per configured network.
// It exposes exactly the surface the deposit scanner, the confirmation
// trackers and the payout executor need, and classifies endpoint
// failures as transient so callers back off instead of condemning a
// deposit or payout.
package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrReceiptNotFound reports that the transaction is not yet mined (or
// the node has not seen it). It is not transient: the caller decides
// whether to keep polling or give up.
var ErrReceiptNotFound = errors.New("chain: receipt not found")

// Backend is the ethclient surface the Client consumes. Tests plug a
// fake; production wraps *ethclient.Client.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Client is one chain's RPC access point.
type Client struct {
	// Slug is the chain's short name, e.g. "ethereum".
	Slug string
	// EVMChainID is the numeric chain id used for transaction signing.
	EVMChainID *big.Int

	backend Backend
}

// Dial connects to rawurl and returns a Client for it.
func Dial(ctx context.Context, slug string, evmChainID int64, rawurl string) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rawurl)
	if err != nil {
		return nil, transient("dial "+slug, err)
	}
	return NewClient(slug, evmChainID, ec), nil
}

// NewClient wraps an existing backend.
func NewClient(slug string, evmChainID int64, backend Backend) *Client {
	return &Client{Slug: slug, EVMChainID: big.NewInt(evmChainID), backend: backend}
}

// CurrentBlock returns the head block number.
func (c *Client) CurrentBlock(ctx context.Context) (int64, error) {
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, transient("block number", err)
	}
	return int64(n), nil
}

// Logs queries event logs for one contract over [fromBlock, toBlock].
// Callers chunk their ranges; this issues a single filter call.
func (c *Client) Logs(ctx context.Context, contract common.Address, topics [][]common.Hash, fromBlock, toBlock int64) ([]types.Log, error) {
	logs, err := c.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: big.NewInt(fromBlock),
		ToBlock:   big.NewInt(toBlock),
		Addresses: []common.Address{contract},
		Topics:    topics,
	})
	if err != nil {
		return nil, transient("filter logs", err)
	}
	return logs, nil
}

// Receipt fetches the receipt for txHash. A missing receipt is
// ErrReceiptNotFound, not a transient error.
func (c *Client) Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	r, err := c.backend.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, transient("receipt", err)
	}
	return r, nil
}

// Balance returns the native-coin balance of address at head.
func (c *Client) Balance(ctx context.Context, address common.Address) (*big.Int, error) {
	b, err := c.backend.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, transient("balance", err)
	}
	return b, nil
}

// PendingNonce returns the next nonce for account including pending
// transactions. The payout executor serializes per chain, so this is
// race-free for the treasury wallet.
func (c *Client) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	n, err := c.backend.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, transient("pending nonce", err)
	}
	return n, nil
}

// GasPrice returns the endpoint's suggested gas price.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	p, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, transient("gas price", err)
	}
	return p, nil
}

// EstimateGas estimates the gas for call, with a fallback left to the
// caller when the node refuses to estimate.
func (c *Client) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	g, err := c.backend.EstimateGas(ctx, call)
	if err != nil {
		return 0, transient("estimate gas", err)
	}
	return g, nil
}

// Send broadcasts a signed transaction and returns its hash.
func (c *Client) Send(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, transient("send transaction", err)
	}
	return tx.Hash(), nil
}
