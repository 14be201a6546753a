package commitment

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ConditionalTransactionCommitment routes an installed app's outcome
// through its own outcome interpreter via the multisig, the mechanism by
// which an off-chain app instance ultimately moves value inside the
// channel's multisig wallet.
type ConditionalTransactionCommitment struct {
	*MultisigTransaction

	AppIdentityHash   common.Hash
	InterpreterParams []byte
}

// NewConditionalTransactionCommitment builds a ConditionalTransaction
// commitment for the app identified by appIdentityHash, whose encoded
// outcome is encodedOutcome and which resolves through interpreterAddress
// configured by interpreterParams.
func NewConditionalTransactionCommitment(multisigAddress common.Address, owners []common.Address,
	interpreterAddress common.Address, appIdentityHash common.Hash, encodedOutcome, interpreterParams []byte,
	domainName, domainVersion string, chainID *big.Int, salt common.Hash, nonce uint64,
) (*ConditionalTransactionCommitment, error) {

	data, err := encodeInterpreterCall(encodedOutcome, interpreterParams)
	if err != nil {
		return nil, err
	}

	return &ConditionalTransactionCommitment{
		MultisigTransaction: &MultisigTransaction{
			MultisigAddress: multisigAddress,
			Owners:          owners,
			To:              interpreterAddress,
			Value:           new(big.Int),
			Data:            data,
			Operation:       OperationCall,
			DomainName:      domainName,
			DomainVersion:   domainVersion,
			ChainID:         chainID,
			DomainSalt:      salt,
			Nonce:           nonce,
		},
		AppIdentityHash:   appIdentityHash,
		InterpreterParams: interpreterParams,
	}, nil
}
