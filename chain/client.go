// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	ethereum "github.com/luxfi/geth"
	"github.com/luxfi/geth/accounts/abi"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/ethclient"
	log "github.com/luxfi/log"
)

// erc20MetadataABI covers the three optional metadata views. Tokens that
// revert or return garbage fall back to defaults at the call site.
const erc20MetadataABI = `[
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`

const headerCacheSize = 4096

// Reader is the chain access surface the ingest pipeline consumes. It is
// satisfied by Client and by test fakes.
type Reader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, poolManager common.Address, from, to uint64) ([]types.Log, error)
	SubscribeLogs(ctx context.Context, poolManager common.Address, ch chan<- types.Log) (ethereum.Subscription, error)
	BlockTimestamp(ctx context.Context, number uint64) (time.Time, error)
	TokenMetadata(ctx context.Context, token common.Address) (uint8, string, string)
}

// Client wraps an RPC endpoint with the queries the indexer needs. Block
// timestamps are memoized since every log in a block shares one.
type Client struct {
	eth     *ethclient.Client
	erc20   abi.ABI
	headers *lru.Cache[uint64, time.Time]
	log     log.Logger
}

// Dial connects to rawurl. A websocket endpoint is required for the live
// subscription; historical filtering works over either transport.
func Dial(ctx context.Context, rawurl string, logger log.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rawurl)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawurl, err)
	}
	return NewClient(eth, logger)
}

// NewClient wraps an already connected ethclient.
func NewClient(eth *ethclient.Client, logger log.Logger) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20MetadataABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	headers, err := lru.New[uint64, time.Time](headerCacheSize)
	if err != nil {
		return nil, err
	}
	return &Client{eth: eth, erc20: parsed, headers: headers, log: logger}, nil
}

// BlockNumber returns the current chain head.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// FilterLogs fetches pool manager logs for [from, to] in one query, filtered
// to the three event signatures. Nodes return logs ordered by block number
// and log index, which the pipeline relies on.
func (c *Client) FilterLogs(ctx context.Context, poolManager common.Address, from, to uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{poolManager},
		Topics:    EventTopics(),
	}
	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("filter logs [%d,%d]: %w", from, to, err)
	}
	return logs, nil
}

// SubscribeLogs opens a live subscription for pool manager logs.
func (c *Client) SubscribeLogs(ctx context.Context, poolManager common.Address, ch chan<- types.Log) (ethereum.Subscription, error) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{poolManager},
		Topics:    EventTopics(),
	}
	sub, err := c.eth.SubscribeFilterLogs(ctx, query, ch)
	if err != nil {
		return nil, fmt.Errorf("subscribe logs: %w", err)
	}
	return sub, nil
}

// BlockTimestamp returns the timestamp of the given block, cached.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (time.Time, error) {
	if ts, ok := c.headers.Get(number); ok {
		return ts, nil
	}
	header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, fmt.Errorf("header %d: %w", number, err)
	}
	ts := time.Unix(int64(header.Time), 0).UTC()
	c.headers.Add(number, ts)
	return ts, nil
}

// TokenMetadata reads decimals, symbol and name from an ERC-20 contract.
// Failures are not errors: tokens without metadata views get defaults so a
// bad token cannot stall ingestion.
func (c *Client) TokenMetadata(ctx context.Context, token common.Address) (uint8, string, string) {
	const (
		defaultDecimals = uint8(18)
		defaultSymbol   = "UNKNOWN"
		defaultName     = "Unknown Token"
	)

	decimals := defaultDecimals
	if out, err := c.callView(ctx, token, "decimals"); err == nil {
		var d uint8
		if err := c.erc20.UnpackIntoInterface(&d, "decimals", out); err == nil {
			decimals = d
		}
	} else {
		c.log.Debug("token decimals call failed, using default", "token", token, "err", err)
	}

	symbol := defaultSymbol
	if out, err := c.callView(ctx, token, "symbol"); err == nil {
		var s string
		if err := c.erc20.UnpackIntoInterface(&s, "symbol", out); err == nil && s != "" {
			symbol = s
		}
	}

	name := defaultName
	if out, err := c.callView(ctx, token, "name"); err == nil {
		var n string
		if err := c.erc20.UnpackIntoInterface(&n, "name", out); err == nil && n != "" {
			name = n
		}
	}

	return decimals, symbol, name
}

func (c *Client) callView(ctx context.Context, to common.Address, method string) ([]byte, error) {
	data, err := c.erc20.Pack(method)
	if err != nil {
		return nil, err
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty return", method)
	}
	return out, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

var _ Reader = (*Client)(nil)
