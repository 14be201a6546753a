// Package watcher subscribes to the ChallengeRegistry's on-chain log
// events and turns them into typed notifications, the same role
// chainntnfs.ChainNotifier plays for Bitcoin confirmations and spends —
// except here the "chain" is an EVM log stream rather than a block and
// UTXO set, so the watcher decodes ABI-encoded event data instead of
// parsing scriptPubKeys.
package watcher

import (
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	challengeUpdatedSignature = []byte("ChallengeUpdated(bytes32,uint8,bytes32,uint256,uint256)")
	stateProgressedSignature  = []byte("StateProgressed(bytes32,bytes,uint256,uint256,address)")

	challengeUpdatedTopic = crypto.Keccak256Hash(challengeUpdatedSignature)
	stateProgressedTopic  = crypto.Keccak256Hash(stateProgressedSignature)

	challengeUpdatedDataArgs = abi.Arguments{
		{Type: mustAbiType("uint8")},
		{Type: mustAbiType("bytes32")},
		{Type: mustAbiType("uint256")},
		{Type: mustAbiType("uint256")},
	}

	stateProgressedDataArgs = abi.Arguments{
		{Type: mustAbiType("bytes")},
		{Type: mustAbiType("uint256")},
		{Type: mustAbiType("uint256")},
		{Type: mustAbiType("address")},
	}
)

func mustAbiType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// ChallengeStatus mirrors the ChallengeRegistry's on-chain status enum
// for a dispute in progress.
type ChallengeStatus uint8

const (
	StatusNone ChallengeStatus = iota
	StatusInDispute
	StatusDisputed
	StatusOutcomeSet
)

// ChallengeUpdatedEvent is the decoded form of the registry's
// ChallengeUpdated log: an app's on-chain dispute status changed.
type ChallengeUpdatedEvent struct {
	IdentityHash  common.Hash
	Status        ChallengeStatus
	AppStateHash  common.Hash
	VersionNumber uint64
	FinalizesAt   uint64
	Raw           types.Log
}

// StateProgressedEvent is the decoded form of the registry's
// StateProgressed log: someone submitted an action on-chain that
// advanced an app's state via its applyAction entrypoint, typically
// because their counterparty vanished mid-TakeAction.
type StateProgressedEvent struct {
	IdentityHash  common.Hash
	Action        []byte
	VersionNumber uint64
	Timeout       uint64
	TurnTaker     common.Address
	Raw           types.Log
}

// FilterQuery builds the eth_getLogs / eth_subscribe query this watcher
// needs: both event topics at the ChallengeRegistry address.
func FilterQuery(challengeRegistry common.Address, fromBlock, toBlock *big.Int) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Addresses: []common.Address{challengeRegistry},
		Topics:    [][]common.Hash{{challengeUpdatedTopic, stateProgressedTopic}},
	}
}

func decodeLog(log types.Log) (interface{}, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("watcher: log has no topics")
	}

	switch log.Topics[0] {
	case challengeUpdatedTopic:
		return decodeChallengeUpdated(log)
	case stateProgressedTopic:
		return decodeStateProgressed(log)
	default:
		return nil, fmt.Errorf("watcher: unrecognized topic %s", log.Topics[0])
	}
}

func decodeChallengeUpdated(log types.Log) (*ChallengeUpdatedEvent, error) {
	if len(log.Topics) < 2 {
		return nil, fmt.Errorf("watcher: ChallengeUpdated missing indexed identityHash")
	}

	values, err := challengeUpdatedDataArgs.Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("watcher: decode ChallengeUpdated data: %w", err)
	}

	status, ok := values[0].(uint8)
	if !ok {
		return nil, fmt.Errorf("watcher: ChallengeUpdated status decode")
	}
	appStateHash, ok := values[1].([32]byte)
	if !ok {
		return nil, fmt.Errorf("watcher: ChallengeUpdated appStateHash decode")
	}
	versionNumber, ok := values[2].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("watcher: ChallengeUpdated versionNumber decode")
	}
	finalizesAt, ok := values[3].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("watcher: ChallengeUpdated finalizesAt decode")
	}

	return &ChallengeUpdatedEvent{
		IdentityHash:  log.Topics[1],
		Status:        ChallengeStatus(status),
		AppStateHash:  appStateHash,
		VersionNumber: versionNumber.Uint64(),
		FinalizesAt:   finalizesAt.Uint64(),
		Raw:           log,
	}, nil
}

func decodeStateProgressed(log types.Log) (*StateProgressedEvent, error) {
	if len(log.Topics) < 2 {
		return nil, fmt.Errorf("watcher: StateProgressed missing indexed identityHash")
	}

	values, err := stateProgressedDataArgs.Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("watcher: decode StateProgressed data: %w", err)
	}

	action, ok := values[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("watcher: StateProgressed action decode")
	}
	versionNumber, ok := values[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("watcher: StateProgressed versionNumber decode")
	}
	timeout, ok := values[2].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("watcher: StateProgressed timeout decode")
	}
	turnTaker, ok := values[3].(common.Address)
	if !ok {
		return nil, fmt.Errorf("watcher: StateProgressed turnTaker decode")
	}

	return &StateProgressedEvent{
		IdentityHash:  log.Topics[1],
		Action:        action,
		VersionNumber: versionNumber.Uint64(),
		Timeout:       timeout.Uint64(),
		TurnTaker:     turnTaker,
		Raw:           log,
	}, nil
}
