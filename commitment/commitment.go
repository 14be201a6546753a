// Package commitment builds the signed off-chain commitments this engine
// exchanges: Setup, SetState, ConditionalTransaction, and Withdraw. Every
// builder is a pure, side-effect-free encoder — the digests and calldata
// layouts here are fixed by the on-chain contracts that would enforce
// them on dispute, so deviation here is a correctness bug, never a style
// choice.
package commitment

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/statechan/scnode/evmchain"
)

// Commitment is the contract every commitment builder implements:
// deterministic encoding, a hash-to-sign digest, signature accumulation
// with on-chain ordering enforced at the boundary, and a broadcast-ready
// transaction.
type Commitment interface {
	// Encode returns the canonical calldata bytes for this commitment's
	// target contract call.
	Encode() ([]byte, error)

	// HashToSign returns the 32-byte digest participants sign.
	HashToSign() (common.Hash, error)

	// AddSignatures attaches one or two signatures, re-ordering them
	// ascending by recovered address and rejecting anything that doesn't
	// recover to a distinct channel participant.
	AddSignatures(sigs ...Signature) error

	// GetSignedTransaction returns the broadcast-ready transaction. It
	// is an error to call this before AddSignatures has been satisfied.
	GetSignedTransaction() (evmchain.MinimalTransaction, error)
}

// Operation mirrors Gnosis-Safe-style multisig call operations.
type Operation uint8

const (
	OperationCall         Operation = 0
	OperationDelegateCall Operation = 1
)
