// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package chain reads a Uniswap v4-style pool manager over JSON-RPC:
// batched historical log fetches, a live log subscription, block timestamp
// lookups and ERC-20 metadata calls. Logs are decoded into typed records
// for the three pool manager events.
package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
)

// Event signature hashes (topic[0]).
var (
	InitializeTopic      = common.Keccak256Hash([]byte("Initialize(bytes32,address,address,uint24,int24,address,uint160,int24)"))
	SwapTopic            = common.Keccak256Hash([]byte("Swap(bytes32,address,int128,int128,uint160,uint128,int24,uint24)"))
	ModifyLiquidityTopic = common.Keccak256Hash([]byte("ModifyLiquidity(bytes32,address,int24,int24,int256,bytes32)"))
)

// EventTopics is the single topic[0] OR-filter covering all three events,
// so that historical ordering across event kinds is preserved by one query.
func EventTopics() [][]common.Hash {
	return [][]common.Hash{{InitializeTopic, SwapTopic, ModifyLiquidityTopic}}
}

// Decode errors
var (
	ErrUnknownEvent = errors.New("chain: unknown event signature")
	ErrMalformedLog = errors.New("chain: malformed log")
)

// Decoded is one typed pool manager event.
type Decoded interface {
	poolManagerEvent()
}

// Initialize is the pool creation event.
type Initialize struct {
	PoolID       common.Hash
	Currency0    common.Address
	Currency1    common.Address
	Fee          uint32
	TickSpacing  int32
	Hooks        common.Address
	SqrtPriceX96 *big.Int
	Tick         int32
}

// Swap is one executed swap. Amounts follow the pool manager sign
// convention: positive into the pool, negative out.
type Swap struct {
	PoolID       common.Hash
	Sender       common.Address
	Amount0      *big.Int // int128
	Amount1      *big.Int // int128
	SqrtPriceX96 *big.Int // uint160, post-swap
	Liquidity    *big.Int // uint128, post-swap
	Tick         int32
	Fee          uint32
}

// ModifyLiquidity is a position add or remove.
type ModifyLiquidity struct {
	PoolID         common.Hash
	Sender         common.Address
	TickLower      int32
	TickUpper      int32
	LiquidityDelta *big.Int // int256, signed
	Salt           common.Hash
}

func (Initialize) poolManagerEvent()      {}
func (Swap) poolManagerEvent()            {}
func (ModifyLiquidity) poolManagerEvent() {}

// DecodeLog decodes a pool manager log into its typed record.
func DecodeLog(lg *types.Log) (Decoded, error) {
	if len(lg.Topics) == 0 {
		return nil, fmt.Errorf("%w: no topics", ErrMalformedLog)
	}
	switch lg.Topics[0] {
	case InitializeTopic:
		return decodeInitialize(lg)
	case SwapTopic:
		return decodeSwap(lg)
	case ModifyLiquidityTopic:
		return decodeModifyLiquidity(lg)
	default:
		return nil, ErrUnknownEvent
	}
}

func decodeInitialize(lg *types.Log) (Decoded, error) {
	if len(lg.Topics) != 4 || len(lg.Data) != 5*32 {
		return nil, fmt.Errorf("%w: Initialize shape", ErrMalformedLog)
	}
	return Initialize{
		PoolID:       lg.Topics[1],
		Currency0:    common.BytesToAddress(lg.Topics[2][12:]),
		Currency1:    common.BytesToAddress(lg.Topics[3][12:]),
		Fee:          uint32(wordU256(lg.Data, 0).Uint64()),
		TickSpacing:  wordInt24(lg.Data, 1),
		Hooks:        wordAddress(lg.Data, 2),
		SqrtPriceX96: wordU256(lg.Data, 3).ToBig(),
		Tick:         wordInt24(lg.Data, 4),
	}, nil
}

func decodeSwap(lg *types.Log) (Decoded, error) {
	if len(lg.Topics) != 3 || len(lg.Data) != 6*32 {
		return nil, fmt.Errorf("%w: Swap shape", ErrMalformedLog)
	}
	return Swap{
		PoolID:       lg.Topics[1],
		Sender:       common.BytesToAddress(lg.Topics[2][12:]),
		Amount0:      wordSigned(lg.Data, 0),
		Amount1:      wordSigned(lg.Data, 1),
		SqrtPriceX96: wordU256(lg.Data, 2).ToBig(),
		Liquidity:    wordU256(lg.Data, 3).ToBig(),
		Tick:         wordInt24(lg.Data, 4),
		Fee:          uint32(wordU256(lg.Data, 5).Uint64()),
	}, nil
}

func decodeModifyLiquidity(lg *types.Log) (Decoded, error) {
	if len(lg.Topics) != 3 || len(lg.Data) != 4*32 {
		return nil, fmt.Errorf("%w: ModifyLiquidity shape", ErrMalformedLog)
	}
	return ModifyLiquidity{
		PoolID:         lg.Topics[1],
		Sender:         common.BytesToAddress(lg.Topics[2][12:]),
		TickLower:      wordInt24(lg.Data, 0),
		TickUpper:      wordInt24(lg.Data, 1),
		LiquidityDelta: wordSigned(lg.Data, 2),
		Salt:           common.BytesToHash(word(lg.Data, 3)),
	}, nil
}

// word returns the i-th 32-byte word of ABI-encoded data.
func word(data []byte, i int) []byte {
	return data[i*32 : (i+1)*32]
}

// wordU256 reads an unsigned word.
func wordU256(data []byte, i int) *uint256.Int {
	return new(uint256.Int).SetBytes(word(data, i))
}

var twoPow256 = new(big.Int).Lsh(big.NewInt(1), 256)

// wordSigned reads a two's-complement signed word.
func wordSigned(data []byte, i int) *big.Int {
	v := new(big.Int).SetBytes(word(data, i))
	if v.Bit(255) == 1 {
		v.Sub(v, twoPow256)
	}
	return v
}

// wordInt24 reads a sign-extended int24/int32 word.
func wordInt24(data []byte, i int) int32 {
	return int32(wordSigned(data, i).Int64())
}

func wordAddress(data []byte, i int) common.Address {
	return common.BytesToAddress(word(data, i)[12:])
}
