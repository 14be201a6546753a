package engine

import (
	"crypto/ecdsa"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/statechan/scnode/commitment"
)

// KeyRing holds every private key this node signs with: the identity key
// that signs as a channel's own multisig owner, plus any keyOverride
// keys a protocol step asks for by address (the free balance app's
// dedicated signing key, when it differs from the owner key). This plays
// the role the teacher's keychain.KeyRing interface plays for on-chain
// wallet signing, narrowed to the single digest-signing operation this
// engine's commitments need.
type KeyRing struct {
	mu          sync.RWMutex
	keys        map[common.Address]*ecdsa.PrivateKey
	defaultAddr common.Address
}

// NewKeyRing builds a KeyRing whose default signing key, used whenever a
// protocol step passes a nil keyOverride, is derived from defaultKey.
func NewKeyRing(defaultKey *ecdsa.PrivateKey) *KeyRing {
	addr := crypto.PubkeyToAddress(defaultKey.PublicKey)
	r := &KeyRing{keys: make(map[common.Address]*ecdsa.PrivateKey)}
	r.keys[addr] = defaultKey
	r.defaultAddr = addr
	return r
}

// Add registers an additional key this node can sign with when a
// protocol step names its address explicitly.
func (r *KeyRing) Add(key *ecdsa.PrivateKey) common.Address {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[addr] = key
	return addr
}

// Sign implements protocol.Signer.
func (r *KeyRing) Sign(digest common.Hash, keyOverride *common.Address) (commitment.Signature, error) {
	addr := r.defaultAddr
	if keyOverride != nil {
		addr = *keyOverride
	}

	r.mu.RLock()
	key, ok := r.keys[addr]
	r.mu.RUnlock()
	if !ok {
		return commitment.Signature{}, fmt.Errorf("engine: no key registered for %s", addr.Hex())
	}

	return commitment.SignDigest(digest, key)
}
