package wire

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTripsProposeParams(t *testing.T) {
	params := &ProposeParams{
		ChannelNonce:     1,
		AppDefinition:    common.HexToAddress("0xaa"),
		DefaultTimeout:   1000,
		InitialState:     []byte{1, 2, 3},
		Token:            common.Address{},
		InitiatorAddress: common.HexToAddress("0xbb"),
		ResponderAddress: common.HexToAddress("0xcc"),
		InitiatorDeposit: big.NewInt(100),
		ResponderDeposit: big.NewInt(100),
	}

	env, err := NewEnvelope("proc-1", 1, "bob", "alice", params)
	require.NoError(t, err)
	require.Equal(t, ProtocolPropose, env.Protocol)

	decoded, err := env.DecodeParams()
	require.NoError(t, err)

	got, ok := decoded.(*ProposeParams)
	require.True(t, ok)
	require.Equal(t, params.ChannelNonce, got.ChannelNonce)
	require.Equal(t, params.InitiatorDeposit, got.InitiatorDeposit)
	require.Equal(t, params.InitialState, got.InitialState)
}

func TestEnvelopeRejectsUnknownProtocol(t *testing.T) {
	env := &Envelope{Protocol: ProtocolType(999), Params: []byte(`{}`)}
	_, err := env.DecodeParams()
	require.Error(t, err)

	var unknown *UnknownProtocol
	require.ErrorAs(t, err, &unknown)
}

func TestAbiEncodingsHintRoundTrips(t *testing.T) {
	hint := []byte(`[{"name":"latestState","type":"tuple"}]`)

	encoded, err := EncodeAbiEncodingsHint(hint)
	require.NoError(t, err)

	decoded, err := DecodeAbiEncodingsHint(encoded)
	require.NoError(t, err)
	require.Equal(t, hint, decoded)
}

func TestAbiEncodingsHintAbsentReturnsNil(t *testing.T) {
	decoded, err := DecodeAbiEncodingsHint(nil)
	require.NoError(t, err)
	require.Nil(t, decoded)
}
