// Package identity derives the canonical on-chain signer address for a
// state channel participant from their BIP32 extended public key, and
// orders participant lists the way the multisig and its owners array
// expect: ascending by derived address.
package identity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	bip32 "github.com/FactomProject/go-bip32"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ExtendedPublicKey is a neutered (public-only) BIP32 extended key, the
// identifier a participant advertises to its counterparty and the engine
// persists as userIdentifiers.
type ExtendedPublicKey struct {
	raw *bip32.Key
	b58 string
}

// ParseExtendedPublicKey decodes a base58check-encoded extended public key
// (an "xpub"-shaped string). It rejects extended *private* keys: a
// participant identifier must never carry signing material.
func ParseExtendedPublicKey(b58 string) (*ExtendedPublicKey, error) {
	key, err := bip32.B58Deserialize(b58)
	if err != nil {
		return nil, fmt.Errorf("identity: invalid extended key: %w", err)
	}
	if key.IsPrivate {
		return nil, fmt.Errorf("identity: extended key must be neutered (public)")
	}

	return &ExtendedPublicKey{raw: key, b58: b58}, nil
}

// String returns the original base58check encoding.
func (k *ExtendedPublicKey) String() string {
	return k.b58
}

// MarshalJSON persists the key as its base58check string, the same form
// it is exchanged and parsed in — nothing else about the decoded key
// needs to survive a round trip through storage.
func (k *ExtendedPublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.b58)
}

// UnmarshalJSON reverses MarshalJSON via ParseExtendedPublicKey, so a
// stored channel decodes back into a usable key rather than a bare
// string.
func (k *ExtendedPublicKey) UnmarshalJSON(data []byte) error {
	var b58 string
	if err := json.Unmarshal(data, &b58); err != nil {
		return err
	}
	parsed, err := ParseExtendedPublicKey(b58)
	if err != nil {
		return err
	}
	*k = *parsed
	return nil
}

// Equal reports whether two extended public keys encode the same node.
func (k *ExtendedPublicKey) Equal(other *ExtendedPublicKey) bool {
	if k == nil || other == nil {
		return k == other
	}
	return bytes.Equal(k.raw.Key, other.raw.Key) &&
		bytes.Equal(k.raw.ChainCode, other.raw.ChainCode)
}

// firstChildPublicKey derives child index 0, the child whose compressed
// public key is the basis for the signer address. Channels never reuse
// index 0 for anything else, so this derivation is stable for the
// lifetime of the identifier.
func (k *ExtendedPublicKey) firstChildPublicKey() (*bip32.Key, error) {
	child, err := k.raw.NewChildKey(0)
	if err != nil {
		return nil, fmt.Errorf("identity: derive child 0: %w", err)
	}
	return child, nil
}

// DeriveAddress computes the canonical 20-byte signer address: the
// Ethereum-style keccak256(pubkey)[12:] address of the first child public
// key, exactly the way the multisig's owners array and every commitment's
// participant list identify this party on-chain.
func (k *ExtendedPublicKey) DeriveAddress() (common.Address, error) {
	child, err := k.firstChildPublicKey()
	if err != nil {
		return common.Address{}, err
	}

	pub, err := crypto.DecompressPubkey(child.Key)
	if err != nil {
		return common.Address{}, fmt.Errorf("identity: decompress child pubkey: %w", err)
	}

	return crypto.PubkeyToAddress(*pub), nil
}

// Participant pairs an extended public key with the address derived from
// it, so downstream code never has to re-derive (and risk mismatching) the
// address used to key multisigOwners, app identity participants, and
// signature-ordering checks.
type Participant struct {
	Identifier *ExtendedPublicKey
	Address    common.Address
}

// NewParticipant derives a Participant from an extended public key.
func NewParticipant(key *ExtendedPublicKey) (Participant, error) {
	addr, err := key.DeriveAddress()
	if err != nil {
		return Participant{}, err
	}
	return Participant{Identifier: key, Address: addr}, nil
}

// SortParticipants returns participants ordered ascending by derived
// address. Every on-chain surface in this engine — multisig owners,
// AppIdentity.participants, commitment signature arrays — requires this
// exact ordering; deriving it once here means every caller gets it right
// by construction instead of re-implementing the comparison.
func SortParticipants(participants []Participant) []Participant {
	sorted := make([]Participant, len(participants))
	copy(sorted, participants)

	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Address.Bytes(), sorted[j].Address.Bytes()) < 0
	})

	return sorted
}

// Addresses extracts the derived addresses, in the slice's existing order.
func Addresses(participants []Participant) []common.Address {
	addrs := make([]common.Address, len(participants))
	for i, p := range participants {
		addrs[i] = p.Address
	}
	return addrs
}
