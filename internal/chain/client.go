package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru"

	"stakeScope/internal/contracts"
	"stakeScope/internal/model"
)

const maxCachedTimestamps = 4096

// Client wraps go-ethereum RPC and provides helper methods.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
	tsCache   *lru.Cache
}

// NewClient creates a new chain client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	tsCache, err := lru.New(maxCachedTimestamps)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}

	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
		tsCache:   tsCache,
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// GetChainID returns the chain ID.
func (c *Client) GetChainID(ctx context.Context) (*big.Int, error) {
	return c.ethClient.ChainID(ctx)
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// BlockRef returns the canonical hash and timestamp of a block number.
func (c *Client) BlockRef(ctx context.Context, number uint64) (model.BlockRef, error) {
	header, err := c.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return model.BlockRef{}, err
	}
	return model.BlockRef{
		Number:    number,
		Hash:      strings.ToLower(header.Hash().Hex()),
		Timestamp: header.Time,
	}, nil
}

// BlockTimestamp returns the timestamp of a block by hash. Hash keys keep the
// cache valid across reorgs.
func (c *Client) BlockTimestamp(ctx context.Context, hash common.Hash) (uint64, error) {
	if cached, ok := c.tsCache.Get(hash); ok {
		return cached.(uint64), nil
	}

	header, err := c.ethClient.HeaderByHash(ctx, hash)
	if err != nil {
		return 0, err
	}

	c.tsCache.Add(hash, header.Time)
	return header.Time, nil
}

// FilterLogs returns logs in the given range for addresses and topic0 filters.
func (c *Client) FilterLogs(
	ctx context.Context,
	fromBlock uint64,
	toBlock uint64,
	addresses []common.Address,
	topic0 []common.Hash,
) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
	}
	if len(topic0) > 0 {
		query.Topics = [][]common.Hash{topic0}
	}
	return c.ethClient.FilterLogs(ctx, query)
}

// TotalSupply calls totalSupply() on the token at the given block, or at the
// head when blockNumber is zero.
func (c *Client) TotalSupply(ctx context.Context, token common.Address, blockNumber uint64) (*big.Int, error) {
	input, err := contracts.PackTotalSupply()
	if err != nil {
		return nil, err
	}
	var at *big.Int
	if blockNumber > 0 {
		at = new(big.Int).SetUint64(blockNumber)
	}
	output, err := c.ethClient.CallContract(ctx, ethereum.CallMsg{To: &token, Data: input}, at)
	if err != nil {
		return nil, fmt.Errorf("call totalSupply: %w", err)
	}
	return contracts.UnpackTotalSupply(output)
}
