package protocol

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MultisigDomain is the per-channel multisig configuration negotiated
// once during Setup and thereafter held by the engine rather than
// re-sent on every subsequent protocol round.
type MultisigDomain struct {
	Multisig      common.Address
	DomainName    string
	DomainVersion string
	ChainID       *big.Int
	Salt          common.Hash
}
