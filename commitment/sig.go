package commitment

import (
	"crypto/ecdsa"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signature is a 65-byte ECDSA signature over a commitment's hash-to-sign,
// kept internally in go-ethereum's native recovery-id format (V in
// {0, 1}) and only normalized to the on-chain {27, 28} convention at
// encoding time.
type Signature struct {
	R, S [32]byte
	V    byte
}

// SignDigest signs digest with key and returns the resulting Signature.
func SignDigest(digest common.Hash, key *ecdsa.PrivateKey) (Signature, error) {
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return Signature{}, fmt.Errorf("commitment: sign digest: %w", err)
	}
	return SignatureFromBytes(sig)
}

// SignatureFromBytes parses a 65-byte R||S||V signature, V in {0,1}.
func SignatureFromBytes(b []byte) (Signature, error) {
	if len(b) != 65 {
		return Signature{}, fmt.Errorf("commitment: signature must be 65 bytes, got %d", len(b))
	}
	var sig Signature
	copy(sig.R[:], b[:32])
	copy(sig.S[:], b[32:64])
	sig.V = b[64]
	return sig, nil
}

// SignatureFromOnChainBytes parses a 65-byte R||S||V signature in the
// on-chain {27,28} convention, normalizing V back to go-ethereum's
// native {0,1} for internal use.
func SignatureFromOnChainBytes(b []byte) (Signature, error) {
	sig, err := SignatureFromBytes(b)
	if err != nil {
		return Signature{}, err
	}
	if sig.V < 27 {
		return Signature{}, fmt.Errorf("commitment: on-chain signature V must be 27 or 28, got %d", sig.V)
	}
	sig.V -= 27
	return sig, nil
}

// Bytes returns the signature in go-ethereum's native 65-byte layout
// (V in {0,1}), the format crypto.SigToPub expects.
func (s Signature) Bytes() []byte {
	out := make([]byte, 65)
	copy(out[:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.V
	return out
}

// OnChainBytes returns the signature with V normalized to {27,28}, the
// convention Solidity's ecrecover precompile expects and therefore the
// layout that belongs in any calldata this package produces.
func (s Signature) OnChainBytes() []byte {
	out := s.Bytes()
	out[64] += 27
	return out
}

// RecoverAddress recovers the signer address from digest.
func (s Signature) RecoverAddress(digest common.Hash) (common.Address, error) {
	pub, err := crypto.SigToPub(digest[:], s.Bytes())
	if err != nil {
		return common.Address{}, fmt.Errorf("commitment: recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// OrderSignatures recovers the signer of each signature against digest,
// verifies every recovered address is a distinct member of participants,
// and returns the signatures re-ordered ascending by recovered address —
// the order every on-chain verifier in this system enforces.
func OrderSignatures(digest common.Hash, sigs []Signature, participants []common.Address) ([]Signature, error) {
	if len(sigs) == 0 {
		return nil, fmt.Errorf("commitment: no signatures to order")
	}

	type recovered struct {
		sig  Signature
		addr common.Address
	}

	recs := make([]recovered, len(sigs))
	seen := make(map[common.Address]bool, len(sigs))

	for i, sig := range sigs {
		addr, err := sig.RecoverAddress(digest)
		if err != nil {
			return nil, err
		}
		if !isParticipant(addr, participants) {
			return nil, fmt.Errorf("commitment: recovered address %s is not a channel participant", addr.Hex())
		}
		if seen[addr] {
			return nil, fmt.Errorf("commitment: duplicate signature from %s", addr.Hex())
		}
		seen[addr] = true
		recs[i] = recovered{sig: sig, addr: addr}
	}

	sort.Slice(recs, func(i, j int) bool {
		return lessAddress(recs[i].addr, recs[j].addr)
	})

	ordered := make([]Signature, len(recs))
	for i, r := range recs {
		ordered[i] = r.sig
	}
	return ordered, nil
}

func isParticipant(addr common.Address, participants []common.Address) bool {
	for _, p := range participants {
		if p == addr {
			return true
		}
	}
	return false
}

func lessAddress(a, b common.Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// ConcatSignatures packs ordered signatures into the single calldata blob
// format Solidity's multi-sig verifiers expect: 65 on-chain-format bytes
// per signature, concatenated in order.
func ConcatSignatures(sigs []Signature) []byte {
	out := make([]byte, 0, len(sigs)*65)
	for _, s := range sigs {
		out = append(out, s.OnChainBytes()...)
	}
	return out
}
