package commitment

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/statechan/scnode/evmchain"
)

// setStateSelector mirrors the challenge registry's
//
//	setState(AppIdentity identity, SignedStateHashUpdate update)
//
// where SignedStateHashUpdate is (uint256 versionNumber, uint256
// stateTimeout, bytes32 appStateHash, bytes signatures).
var setStateSelector = mustSelector(
	"setState((uint256,address[],address,uint256),(uint256,uint256,bytes32,bytes))",
)

var appIdentityTupleType = mustTupleType(
	[]string{"channelNonce", "participants", "appDefinition", "defaultTimeout"},
	[]string{"uint256", "address[]", "address", "uint256"},
)

var signedStateHashUpdateTupleType = mustTupleType(
	[]string{"versionNumber", "stateTimeout", "appStateHash", "signatures"},
	[]string{"uint256", "uint256", "bytes32", "bytes"},
)

var setStateArgs = abi.Arguments{
	{Type: appIdentityTupleType},
	{Type: signedStateHashUpdateTupleType},
}

func mustTupleType(names, types []string) abi.Type {
	components := make([]abi.ArgumentMarshaling, len(names))
	for i := range names {
		components[i] = abi.ArgumentMarshaling{Name: names[i], Type: types[i]}
	}
	typ, err := abi.NewType("tuple", "", components)
	if err != nil {
		panic(err)
	}
	return typ
}

type abiAppIdentity struct {
	ChannelNonce   *big.Int
	Participants   []common.Address
	AppDefinition  common.Address
	DefaultTimeout *big.Int
}

type abiSignedStateHashUpdate struct {
	VersionNumber *big.Int
	StateTimeout  *big.Int
	AppStateHash  [32]byte
	Signatures    []byte
}

// SetStateCommitment targets the challenge registry's setState directly
// (it does not route through the multisig): the on-chain record of an
// app's latest off-chain state, used to start or advance a dispute.
type SetStateCommitment struct {
	ChallengeRegistry common.Address

	ChannelNonce   uint64
	Participants   []common.Address
	AppDefinition  common.Address
	DefaultTimeout uint64

	VersionNumber uint64
	StateTimeout  uint64
	AppStateHash  common.Hash

	signatures []Signature
}

// NewSetStateCommitment builds a SetState commitment for the given app
// identity fields and state digest.
func NewSetStateCommitment(challengeRegistry common.Address, channelNonce uint64,
	participants []common.Address, appDefinition common.Address, defaultTimeout uint64,
	versionNumber, stateTimeout uint64, appStateHash common.Hash) *SetStateCommitment {

	return &SetStateCommitment{
		ChallengeRegistry: challengeRegistry,
		ChannelNonce:      channelNonce,
		Participants:      participants,
		AppDefinition:     appDefinition,
		DefaultTimeout:    defaultTimeout,
		VersionNumber:     versionNumber,
		StateTimeout:      stateTimeout,
		AppStateHash:      appStateHash,
	}
}

func (c *SetStateCommitment) identityHash() (common.Hash, error) {
	return evmchain.IdentityHash(c.ChannelNonce, c.Participants, c.AppDefinition, c.DefaultTimeout)
}

// HashToSign computes
//
//	keccak256(abi.encodePacked(0x19, identityHash, versionNumber,
//	    stateTimeout, appStateHash))
func (c *SetStateCommitment) HashToSign() (common.Hash, error) {
	identityHash, err := c.identityHash()
	if err != nil {
		return common.Hash{}, err
	}

	packed := evmchain.PackedConcat(
		[]byte{0x19},
		identityHash.Bytes(),
		evmchain.Uint256FromUint64(c.VersionNumber),
		evmchain.Uint256FromUint64(c.StateTimeout),
		c.AppStateHash.Bytes(),
	)
	return evmchain.Keccak256(packed), nil
}

// AddSignatures orders and attaches signatures, verifying each recovers
// to a distinct channel participant.
func (c *SetStateCommitment) AddSignatures(sigs ...Signature) error {
	digest, err := c.HashToSign()
	if err != nil {
		return err
	}
	ordered, err := OrderSignatures(digest, sigs, c.Participants)
	if err != nil {
		return err
	}
	c.signatures = ordered
	return nil
}

// Encode returns the setState calldata.
func (c *SetStateCommitment) Encode() ([]byte, error) {
	if len(c.signatures) == 0 {
		return nil, fmt.Errorf("commitment: cannot encode setState without signatures")
	}

	packed, err := setStateArgs.Pack(
		abiAppIdentity{
			ChannelNonce:   new(big.Int).SetUint64(c.ChannelNonce),
			Participants:   c.Participants,
			AppDefinition:  c.AppDefinition,
			DefaultTimeout: new(big.Int).SetUint64(c.DefaultTimeout),
		},
		abiSignedStateHashUpdate{
			VersionNumber: new(big.Int).SetUint64(c.VersionNumber),
			StateTimeout:  new(big.Int).SetUint64(c.StateTimeout),
			AppStateHash:  c.AppStateHash,
			Signatures:    ConcatSignatures(c.signatures),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("commitment: encode setState: %w", err)
	}

	return append(append([]byte{}, setStateSelector...), packed...), nil
}

// GetSignedTransaction returns the broadcast-ready transaction targeting
// the challenge registry, value zero.
func (c *SetStateCommitment) GetSignedTransaction() (evmchain.MinimalTransaction, error) {
	data, err := c.Encode()
	if err != nil {
		return evmchain.MinimalTransaction{}, err
	}
	return evmchain.MinimalTransaction{
		To:    c.ChallengeRegistry,
		Value: new(big.Int),
		Data:  data,
	}, nil
}
