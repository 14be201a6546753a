package commitment

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// interpretOutcomeSelector is shared by Setup and ConditionalTransaction:
// both route their inner call through an outcome interpreter's
//
//	interpretOutcomeAndExecuteEffect(bytes encodedOutcome, bytes interpreterParams)
var interpretOutcomeSelector = mustSelector("interpretOutcomeAndExecuteEffect(bytes,bytes)")

var interpretOutcomeArgs = abi.Arguments{
	{Type: mustType("bytes")},
	{Type: mustType("bytes")},
}

func encodeInterpreterCall(encodedOutcome, interpreterParams []byte) ([]byte, error) {
	packed, err := interpretOutcomeArgs.Pack(encodedOutcome, interpreterParams)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, interpretOutcomeSelector...), packed...), nil
}

// SetupCommitment initializes a channel's free balance on-chain: an
// execTransaction routed through the free balance interpreter, carrying
// the free balance app's identity hash as its (still-empty) outcome.
type SetupCommitment struct {
	*MultisigTransaction

	FreeBalanceIdentityHash common.Hash
}

// NewSetupCommitment builds the Setup commitment. interpreterParams is
// the opaque, interpreter-specific configuration blob (token allow-list,
// outcome type, etc.) negotiated during Setup.
func NewSetupCommitment(multisigAddress common.Address, owners []common.Address,
	freeBalanceInterpreter common.Address, freeBalanceIdentityHash common.Hash,
	interpreterParams []byte, domainName, domainVersion string, chainID *big.Int,
	salt common.Hash, nonce uint64) (*SetupCommitment, error) {

	data, err := encodeInterpreterCall(freeBalanceIdentityHash.Bytes(), interpreterParams)
	if err != nil {
		return nil, err
	}

	return &SetupCommitment{
		MultisigTransaction: &MultisigTransaction{
			MultisigAddress: multisigAddress,
			Owners:          owners,
			To:              freeBalanceInterpreter,
			Value:           new(big.Int),
			Data:            data,
			Operation:       OperationCall,
			DomainName:      domainName,
			DomainVersion:   domainVersion,
			ChainID:         chainID,
			DomainSalt:      salt,
			Nonce:           nonce,
		},
		FreeBalanceIdentityHash: freeBalanceIdentityHash,
	}, nil
}
