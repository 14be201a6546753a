package commitment

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// erc20TransferSelector and its argument tuple back WithdrawCommitment's
// ERC20 path: transfer(address,uint256).
var erc20TransferSelector = mustSelector("transfer(address,uint256)")

var erc20TransferArgs = abi.Arguments{
	{Type: mustType("address")},
	{Type: mustType("uint256")},
}

// WithdrawCommitment moves funds out of the multisig directly to a
// recipient: for the native asset this is a zero-data transfer of value
// out of the multisig; for an ERC20 token it's an execTransaction whose
// inner call targets the token contract's transfer function.
type WithdrawCommitment struct {
	*MultisigTransaction

	Token     common.Address
	Recipient common.Address
	Amount    *big.Int
}

// NewWithdrawCommitment builds a Withdraw commitment. token being the
// zero address means the native asset.
func NewWithdrawCommitment(multisigAddress common.Address, owners []common.Address,
	token, recipient common.Address, amount *big.Int,
	domainName, domainVersion string, chainID *big.Int, salt common.Hash, nonce uint64,
) (*WithdrawCommitment, error) {

	var (
		to    = recipient
		value = new(big.Int).Set(amount)
		data  []byte
	)

	if (token != common.Address{}) {
		packed, err := erc20TransferArgs.Pack(recipient, amount)
		if err != nil {
			return nil, err
		}
		to = token
		value = new(big.Int)
		data = append(append([]byte{}, erc20TransferSelector...), packed...)
	}

	return &WithdrawCommitment{
		MultisigTransaction: &MultisigTransaction{
			MultisigAddress: multisigAddress,
			Owners:          owners,
			To:              to,
			Value:           value,
			Data:            data,
			Operation:       OperationCall,
			DomainName:      domainName,
			DomainVersion:   domainVersion,
			ChainID:         chainID,
			DomainSalt:      salt,
			Nonce:           nonce,
		},
		Token:     token,
		Recipient: recipient,
		Amount:    amount,
	}, nil
}
