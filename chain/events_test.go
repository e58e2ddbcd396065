// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"math/big"
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/stretchr/testify/require"
)

// abiWord encodes v as a 32-byte two's-complement word.
func abiWord(v *big.Int) []byte {
	enc := new(big.Int).Mod(v, twoPow256)
	out := make([]byte, 32)
	enc.FillBytes(out)
	return out
}

func abiWords(vs ...*big.Int) []byte {
	out := make([]byte, 0, 32*len(vs))
	for _, v := range vs {
		out = append(out, abiWord(v)...)
	}
	return out
}

func addrWord(a common.Address) *big.Int {
	return new(big.Int).SetBytes(a.Bytes())
}

func TestDecodeInitialize(t *testing.T) {
	poolID := common.HexToHash("0x11")
	c0 := common.HexToAddress("0xa0")
	c1 := common.HexToAddress("0xb0")
	hooks := common.HexToAddress("0xc0")
	sqrt := new(big.Int).Lsh(big.NewInt(1), 96)

	lg := &types.Log{
		Topics: []common.Hash{
			InitializeTopic,
			poolID,
			common.BytesToHash(c0.Bytes()),
			common.BytesToHash(c1.Bytes()),
		},
		Data: abiWords(
			big.NewInt(3000),   // fee
			big.NewInt(60),     // tickSpacing
			addrWord(hooks),    // hooks
			sqrt,               // sqrtPriceX96
			big.NewInt(-10000), // tick
		),
	}

	dec, err := DecodeLog(lg)
	require.NoError(t, err)
	ev, ok := dec.(Initialize)
	require.True(t, ok)
	require.Equal(t, poolID, ev.PoolID)
	require.Equal(t, c0, ev.Currency0)
	require.Equal(t, c1, ev.Currency1)
	require.Equal(t, uint32(3000), ev.Fee)
	require.Equal(t, int32(60), ev.TickSpacing)
	require.Equal(t, hooks, ev.Hooks)
	require.Equal(t, sqrt.String(), ev.SqrtPriceX96.String())
	require.Equal(t, int32(-10000), ev.Tick)
}

func TestDecodeSwapSignedAmounts(t *testing.T) {
	poolID := common.HexToHash("0x22")
	sender := common.HexToAddress("0xdd")
	amount0 := big.NewInt(1_000_000)
	amount1 := big.NewInt(-995_000) // out of the pool
	sqrt := new(big.Int).Lsh(big.NewInt(1), 96)
	liq := big.NewInt(500_000)

	lg := &types.Log{
		Topics: []common.Hash{
			SwapTopic,
			poolID,
			common.BytesToHash(sender.Bytes()),
		},
		Data: abiWords(
			amount0,
			amount1,
			sqrt,
			liq,
			big.NewInt(-887272), // tick at the lower bound
			big.NewInt(500),     // fee
		),
	}

	dec, err := DecodeLog(lg)
	require.NoError(t, err)
	ev, ok := dec.(Swap)
	require.True(t, ok)
	require.Equal(t, poolID, ev.PoolID)
	require.Equal(t, sender, ev.Sender)
	require.Equal(t, "1000000", ev.Amount0.String())
	require.Equal(t, "-995000", ev.Amount1.String())
	require.Equal(t, liq.String(), ev.Liquidity.String())
	require.Equal(t, int32(-887272), ev.Tick)
	require.Equal(t, uint32(500), ev.Fee)
}

func TestDecodeModifyLiquidity(t *testing.T) {
	poolID := common.HexToHash("0x33")
	sender := common.HexToAddress("0xee")
	salt := common.HexToHash("0x0badc0de")

	lg := &types.Log{
		Topics: []common.Hash{
			ModifyLiquidityTopic,
			poolID,
			common.BytesToHash(sender.Bytes()),
		},
		Data: abiWords(
			big.NewInt(-120),
			big.NewInt(180),
			big.NewInt(-42_000_000), // removal
			new(big.Int).SetBytes(salt.Bytes()),
		),
	}

	dec, err := DecodeLog(lg)
	require.NoError(t, err)
	ev, ok := dec.(ModifyLiquidity)
	require.True(t, ok)
	require.Equal(t, int32(-120), ev.TickLower)
	require.Equal(t, int32(180), ev.TickUpper)
	require.Equal(t, "-42000000", ev.LiquidityDelta.String())
	require.Equal(t, salt, ev.Salt)
}

func TestDecodeUnknownAndMalformed(t *testing.T) {
	_, err := DecodeLog(&types.Log{Topics: []common.Hash{common.HexToHash("0xffff")}})
	require.ErrorIs(t, err, ErrUnknownEvent)

	_, err = DecodeLog(&types.Log{})
	require.ErrorIs(t, err, ErrMalformedLog)

	// swap with truncated data
	_, err = DecodeLog(&types.Log{
		Topics: []common.Hash{SwapTopic, common.HexToHash("0x22"), common.HexToHash("0x01")},
		Data:   make([]byte, 3*32),
	})
	require.ErrorIs(t, err, ErrMalformedLog)
}

func TestEventTopicsCoverAllSignatures(t *testing.T) {
	topics := EventTopics()
	require.Len(t, topics, 1)
	require.ElementsMatch(t,
		[]common.Hash{InitializeTopic, SwapTopic, ModifyLiquidityTopic},
		topics[0])
}
