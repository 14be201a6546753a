package watcher

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func TestDecodeChallengeUpdatedRoundTrips(t *testing.T) {
	identityHash := common.HexToHash("0xaa")

	data, err := challengeUpdatedDataArgs.Pack(
		uint8(StatusInDispute),
		[32]byte(common.HexToHash("0xbb")),
		big.NewInt(4),
		big.NewInt(1000),
	)
	require.NoError(t, err)

	log := types.Log{
		Topics: []common.Hash{challengeUpdatedTopic, identityHash},
		Data:   data,
	}

	decoded, err := decodeLog(log)
	require.NoError(t, err)

	ev, ok := decoded.(*ChallengeUpdatedEvent)
	require.True(t, ok)
	require.Equal(t, identityHash, ev.IdentityHash)
	require.Equal(t, StatusInDispute, ev.Status)
	require.Equal(t, uint64(4), ev.VersionNumber)
	require.Equal(t, uint64(1000), ev.FinalizesAt)
}

func TestDecodeStateProgressedRoundTrips(t *testing.T) {
	identityHash := common.HexToHash("0xcc")
	turnTaker := common.HexToAddress("0xdd")

	data, err := stateProgressedDataArgs.Pack(
		[]byte("action-bytes"),
		big.NewInt(7),
		big.NewInt(2000),
		turnTaker,
	)
	require.NoError(t, err)

	log := types.Log{
		Topics: []common.Hash{stateProgressedTopic, identityHash},
		Data:   data,
	}

	decoded, err := decodeLog(log)
	require.NoError(t, err)

	ev, ok := decoded.(*StateProgressedEvent)
	require.True(t, ok)
	require.Equal(t, identityHash, ev.IdentityHash)
	require.Equal(t, []byte("action-bytes"), ev.Action)
	require.Equal(t, uint64(7), ev.VersionNumber)
	require.Equal(t, turnTaker, ev.TurnTaker)
}

func TestDecodeLogRejectsUnknownTopic(t *testing.T) {
	log := types.Log{Topics: []common.Hash{common.HexToHash("0xdead")}}
	_, err := decodeLog(log)
	require.Error(t, err)
}
