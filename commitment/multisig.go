package commitment

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/statechan/scnode/evmchain"
)

// execTransactionArgs mirrors the multisig's
//
//	execTransaction(address to, uint256 value, bytes data, uint8 operation,
//	    string domainName, string domainVersion, uint256 chainId,
//	    bytes32 domainSalt, uint256 nonce, bytes signatures)
var execTransactionSelector = mustSelector(
	"execTransaction(address,uint256,bytes,uint8,string,string,uint256,bytes32,uint256,bytes)",
)

var execTransactionArgs = abi.Arguments{
	{Type: mustType("address")},
	{Type: mustType("uint256")},
	{Type: mustType("bytes")},
	{Type: mustType("uint8")},
	{Type: mustType("string")},
	{Type: mustType("string")},
	{Type: mustType("uint256")},
	{Type: mustType("bytes32")},
	{Type: mustType("uint256")},
	{Type: mustType("bytes")},
}

// MultisigTransaction is the shared shape of every commitment that routes
// through the multisig's execTransaction (Setup, ConditionalTransaction,
// Withdraw): an inner call plus the domain-separated, replay-protected
// signature envelope the multisig itself verifies.
type MultisigTransaction struct {
	MultisigAddress common.Address
	Owners          []common.Address // ascending, len 2

	To        common.Address
	Value     *big.Int
	Data      []byte
	Operation Operation

	DomainName    string
	DomainVersion string
	ChainID       *big.Int
	DomainSalt    common.Hash
	Nonce         uint64

	signatures []Signature
}

// domainSeparator computes
//
//	keccak256(abi.encodePacked(keccak256(name), keccak256(version),
//	    chainId, address(multisig), salt))
func (m *MultisigTransaction) domainSeparator() common.Hash {
	return evmchain.Keccak256(evmchain.PackedConcat(
		evmchain.Keccak256([]byte(m.DomainName)).Bytes(),
		evmchain.Keccak256([]byte(m.DomainVersion)).Bytes(),
		evmchain.Uint256(m.ChainID),
		m.MultisigAddress.Bytes(),
		m.DomainSalt.Bytes(),
	))
}

// HashToSign computes
//
//	keccak256(abi.encodePacked(0x19, owners[], to, value, keccak256(data),
//	    uint8(op), domainSeparatorHash, nonce))
func (m *MultisigTransaction) HashToSign() (common.Hash, error) {
	if len(m.Owners) != 2 {
		return common.Hash{}, fmt.Errorf("commitment: multisig transaction requires exactly 2 owners, got %d", len(m.Owners))
	}

	ownersPacked := make([][]byte, len(m.Owners))
	for i, o := range m.Owners {
		ownersPacked[i] = o.Bytes()
	}

	dataHash := evmchain.Keccak256(m.Data)
	domainHash := m.domainSeparator()

	packed := evmchain.PackedConcat(
		append(
			append([][]byte{{0x19}}, ownersPacked...),
			m.To.Bytes(),
			evmchain.Uint256(m.Value),
			dataHash.Bytes(),
			evmchain.PackedUint8(uint8(m.Operation)),
			domainHash.Bytes(),
			evmchain.Uint256FromUint64(m.Nonce),
		)...,
	)

	return evmchain.Keccak256(packed), nil
}

// AddSignatures orders and attaches signatures, verifying each recovers
// to a distinct member of Owners.
func (m *MultisigTransaction) AddSignatures(sigs ...Signature) error {
	digest, err := m.HashToSign()
	if err != nil {
		return err
	}
	ordered, err := OrderSignatures(digest, sigs, m.Owners)
	if err != nil {
		return err
	}
	m.signatures = ordered
	return nil
}

// Encode returns the execTransaction calldata. Signatures must already be
// attached via AddSignatures.
func (m *MultisigTransaction) Encode() ([]byte, error) {
	if len(m.signatures) == 0 {
		return nil, fmt.Errorf("commitment: cannot encode multisig transaction without signatures")
	}

	packedArgs, err := execTransactionArgs.Pack(
		m.To,
		valueOrZero(m.Value),
		m.Data,
		uint8(m.Operation),
		m.DomainName,
		m.DomainVersion,
		valueOrZero(m.ChainID),
		m.DomainSalt,
		new(big.Int).SetUint64(m.Nonce),
		ConcatSignatures(m.signatures),
	)
	if err != nil {
		return nil, fmt.Errorf("commitment: encode execTransaction: %w", err)
	}

	return append(append([]byte{}, execTransactionSelector...), packedArgs...), nil
}

// GetSignedTransaction returns the broadcast-ready transaction targeting
// the multisig itself, value zero (value moves inside the inner call, not
// the outer execTransaction envelope).
func (m *MultisigTransaction) GetSignedTransaction() (evmchain.MinimalTransaction, error) {
	data, err := m.Encode()
	if err != nil {
		return evmchain.MinimalTransaction{}, err
	}
	return evmchain.MinimalTransaction{
		To:    m.MultisigAddress,
		Value: new(big.Int),
		Data:  data,
	}, nil
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func mustSelector(signature string) []byte {
	return evmchain.Keccak256([]byte(signature)).Bytes()[:4]
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}
