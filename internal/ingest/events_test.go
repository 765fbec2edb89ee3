package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solmirror/mirrorbot/internal/jupiter"
)

func TestDecodeEvents_ArrayAndSingleObject(t *testing.T) {
	array := `[{"signature": "s1", "type": "SWAP", "feePayer": "actor1"},
	           {"signature": "s2", "type": "SWAP", "feePayer": "actor2"}]`
	events, err := DecodeEvents(strings.NewReader(array))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "s1", events[0].Signature)
	assert.Equal(t, "actor2", events[1].FeePayer)

	single := `{"signature": "s3", "type": "SWAP", "feePayer": "actor3"}`
	events, err = DecodeEvents(strings.NewReader(single))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "s3", events[0].Signature)
}

func TestDecodeEvents_RejectsGarbage(t *testing.T) {
	_, err := DecodeEvents(strings.NewReader(""))
	assert.Error(t, err)

	_, err = DecodeEvents(strings.NewReader("not json"))
	assert.Error(t, err)
}

func TestAggregateLegs_NetsTransfersPerMint(t *testing.T) {
	event := SwapEvent{
		Signature: "sig",
		FeePayer:  "actor",
		TokenTransfers: []TokenTransfer{
			// actor swaps SOL for mintX in two route hops
			{Mint: jupiter.WSOLMint, TokenAmount: 0.5, FromUserAccount: "actor", ToUserAccount: "pool"},
			{Mint: "mintX", TokenAmount: 70, FromUserAccount: "pool", ToUserAccount: "actor"},
			{Mint: "mintX", TokenAmount: 30, FromUserAccount: "pool2", ToUserAccount: "actor"},
			// unrelated transfer between third parties
			{Mint: "mintY", TokenAmount: 5, FromUserAccount: "other1", ToUserAccount: "other2"},
		},
	}

	legs := AggregateLegs(event, "actor")
	require.Len(t, legs, 1)
	assert.Equal(t, "mintX", legs[0].Mint)
	assert.Equal(t, 100.0, legs[0].Amount)
}

func TestAggregateLegs_SellIsNegative(t *testing.T) {
	event := SwapEvent{
		FeePayer: "actor",
		TokenTransfers: []TokenTransfer{
			{Mint: "mintX", TokenAmount: 40, FromUserAccount: "actor", ToUserAccount: "pool"},
			{Mint: jupiter.WSOLMint, TokenAmount: 0.2, FromUserAccount: "pool", ToUserAccount: "actor"},
		},
	}

	legs := AggregateLegs(event, "actor")
	require.Len(t, legs, 1)
	assert.Equal(t, -40.0, legs[0].Amount)
}

func TestAggregateLegs_CounterAssetsSkipped(t *testing.T) {
	event := SwapEvent{
		FeePayer: "actor",
		TokenTransfers: []TokenTransfer{
			{Mint: jupiter.WSOLMint, TokenAmount: 1, FromUserAccount: "actor", ToUserAccount: "pool"},
			{Mint: jupiter.USDCMint, TokenAmount: 150, FromUserAccount: "pool", ToUserAccount: "actor"},
		},
	}
	assert.Empty(t, AggregateLegs(event, "actor"))
}
