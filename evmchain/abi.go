package evmchain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// appIdentityArgs mirrors the on-chain AppIdentity struct:
//
//	struct AppIdentity {
//	    uint256 channelNonce;
//	    address[] participants;
//	    address appDefinition;
//	    uint256 defaultTimeout;
//	}
//
// abi.encode(identity) for a single struct argument is exactly Pack()
// against these four components in order.
var appIdentityArgs = mustArguments(
	mustType("uint256"),
	mustType("address[]"),
	mustType("address"),
	mustType("uint256"),
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

func mustArguments(types ...abi.Type) abi.Arguments {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		args[i] = abi.Argument{Type: t}
	}
	return args
}

// EncodeAppIdentity ABI-encodes the AppIdentity tuple the way
// abi.encode(identity) does on-chain. This is the bytes hashed to produce
// identityHash.
func EncodeAppIdentity(channelNonce uint64, participants []common.Address,
	appDefinition common.Address, defaultTimeout uint64) ([]byte, error) {

	return appIdentityArgs.Pack(
		new(big.Int).SetUint64(channelNonce),
		participants,
		appDefinition,
		new(big.Int).SetUint64(defaultTimeout),
	)
}

// IdentityHash computes keccak256(abi.encode(identity)), the canonical key
// identifying an app instance across the engine and on-chain contracts.
func IdentityHash(channelNonce uint64, participants []common.Address,
	appDefinition common.Address, defaultTimeout uint64) (common.Hash, error) {

	encoded, err := EncodeAppIdentity(channelNonce, participants, appDefinition, defaultTimeout)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

// Uint256 left-pads n into a 32-byte big-endian word, the packed encoding
// Solidity uses for a uint256 inside abi.encodePacked.
func Uint256(n *big.Int) []byte {
	if n == nil {
		n = new(big.Int)
	}
	return common.LeftPadBytes(n.Bytes(), 32)
}

// Uint256FromUint64 is the common case of Uint256 for small counters
// (versionNumber, channelNonce, stateTimeout) that are always non-negative
// and fit in a uint64 in practice.
func Uint256FromUint64(n uint64) []byte {
	return Uint256(new(big.Int).SetUint64(n))
}

// PackedUint8 returns n as a single raw byte, the packed encoding
// Solidity uses for a uint8 inside abi.encodePacked (no left-padding).
func PackedUint8(n uint8) []byte {
	return []byte{n}
}

// PackedConcat concatenates byte slices the way abi.encodePacked does for
// already-encoded fixed-size fields: no length prefixes, no padding beyond
// what each component already carries.
func PackedConcat(parts ...[]byte) []byte {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Keccak256 is a thin re-export so callers outside this package never need
// to import go-ethereum's crypto package directly just to hash a digest.
func Keccak256(data ...[]byte) common.Hash {
	return crypto.Keccak256Hash(data...)
}
