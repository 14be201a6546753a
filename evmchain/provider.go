// Package evmchain narrows the go-ethereum client surface down to the two
// shapes this engine actually needs: a read-only contract caller for
// computeStateTransition, and a log filterer for the chain listener. Both
// are satisfied by *ethclient.Client without requiring it as a concrete
// dependency anywhere outside cmd/scnoded's wiring.
package evmchain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// MinimalTransaction is the broadcast-ready output of every commitment
// builder's getSignedTransaction(): a destination, a wei value, and
// calldata. It carries no gas parameters — fee bidding belongs to the
// broadcaster, not the protocol engine.
type MinimalTransaction struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// ContractCaller is the read-only subset of bind.ContractCaller used by
// computeStateTransition to invoke an app definition's pure applyAction.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// LogFilterer is the subset of ethclient.Client the chain listener needs:
// a way to ask "what's the current head" and a way to pull historical and
// live logs matching a query.
type LogFilterer interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Provider is the full EVM boundary the engine depends on. A production
// binary satisfies it with *ethclient.Client; tests satisfy it with a
// stub.
type Provider interface {
	ContractCaller
	LogFilterer
}
