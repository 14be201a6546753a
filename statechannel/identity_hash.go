package statechannel

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/statechan/scnode/evmchain"
)

// ConventionForETHTokenAddress is the sentinel token address free-balance
// bookkeeping uses for the chain's native asset, matching the convention
// named in the spec's end-to-end vectors.
var ConventionForETHTokenAddress = common.Address{}

// AppIdentity uniquely names an app instance: the tuple that is ABI-encoded
// and hashed to produce identityHash.
type AppIdentity struct {
	ChannelNonce   uint64
	Participants   []common.Address // ascending, len 2
	AppDefinition  common.Address
	DefaultTimeout uint64
}

// Hash computes keccak256(abi.encode(identity)).
func (id AppIdentity) Hash() (common.Hash, error) {
	return evmchain.IdentityHash(
		id.ChannelNonce, id.Participants, id.AppDefinition, id.DefaultTimeout,
	)
}

// Clone returns a deep copy so callers holding a Channel snapshot can't
// observe mutation through an AppIdentity slice alias.
func (id AppIdentity) Clone() AppIdentity {
	participants := make([]common.Address, len(id.Participants))
	copy(participants, id.Participants)
	id.Participants = participants
	return id
}

// FreeBalanceEntry is one participant's balance of one token.
type FreeBalanceEntry struct {
	Token       common.Address
	Participant common.Address
	Amount      *big.Int
}

// FreeBalanceState is the latestState schema owned by the free balance app
// definition: per-token, per-participant balances. Unlike AppIdentity and
// the commitment digests (which must match an external, already-deployed
// ChallengeRegistry byte-for-byte), the free balance app definition is
// this engine's own contract, so its state schema is free to use a simple
// canonical binary layout rather than full Solidity ABI encoding. Encoding
// sorts entries canonically (by token then participant) so that two
// states with the same logical balances always hash identically.
type FreeBalanceState struct {
	Entries []FreeBalanceEntry
}

const freeBalanceEntrySize = 20 + 20 + 32 // token + participant + amount

var errInvalidFreeBalanceEncoding = fmt.Errorf("statechannel: invalid free balance encoding")

func (s FreeBalanceState) sorted() []FreeBalanceEntry {
	out := make([]FreeBalanceEntry, len(s.Entries))
	copy(out, s.Entries)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Token != out[j].Token {
			return lessAddress(out[i].Token, out[j].Token)
		}
		return lessAddress(out[i].Participant, out[j].Participant)
	})
	return out
}

func lessAddress(a, b common.Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Encode serializes the free balance as its canonical latestState bytes:
// a 4-byte big-endian entry count followed by, per entry, 20 bytes token
// address + 20 bytes participant address + 32 bytes big-endian amount.
func (s FreeBalanceState) Encode() ([]byte, error) {
	sorted := s.sorted()

	out := make([]byte, 4, 4+len(sorted)*freeBalanceEntrySize)
	binary.BigEndian.PutUint32(out, uint32(len(sorted)))

	for _, e := range sorted {
		amt := e.Amount
		if amt == nil {
			amt = new(big.Int)
		}
		if amt.Sign() < 0 {
			return nil, fmt.Errorf("statechannel: negative free balance entry for %s/%s",
				e.Token.Hex(), e.Participant.Hex())
		}

		out = append(out, e.Token.Bytes()...)
		out = append(out, e.Participant.Bytes()...)
		out = append(out, evmchain.Uint256(amt)...)
	}

	return out, nil
}

// DecodeFreeBalanceState decodes latestState bytes back into a
// FreeBalanceState, the inverse of Encode. An empty input decodes to an
// empty state (the free balance before any deposit is recorded).
func DecodeFreeBalanceState(data []byte) (FreeBalanceState, error) {
	if len(data) == 0 {
		return FreeBalanceState{}, nil
	}
	if len(data) < 4 {
		return FreeBalanceState{}, errInvalidFreeBalanceEncoding
	}

	count := binary.BigEndian.Uint32(data[:4])
	rest := data[4:]
	if uint64(len(rest)) != uint64(count)*freeBalanceEntrySize {
		return FreeBalanceState{}, errInvalidFreeBalanceEncoding
	}

	entries := make([]FreeBalanceEntry, count)
	for i := uint32(0); i < count; i++ {
		off := int(i) * freeBalanceEntrySize
		entries[i] = FreeBalanceEntry{
			Token:       common.BytesToAddress(rest[off : off+20]),
			Participant: common.BytesToAddress(rest[off+20 : off+40]),
			Amount:      new(big.Int).SetBytes(rest[off+40 : off+72]),
		}
	}

	return FreeBalanceState{Entries: entries}, nil
}

// Get returns the balance for (token, participant), or zero if absent.
func (s FreeBalanceState) Get(token, participant common.Address) *big.Int {
	for _, e := range s.Entries {
		if e.Token == token && e.Participant == participant {
			return new(big.Int).Set(e.Amount)
		}
	}
	return new(big.Int)
}

// WithDelta returns a new FreeBalanceState with delta added to
// (token, participant)'s balance (delta may be negative).
func (s FreeBalanceState) WithDelta(token, participant common.Address, delta *big.Int) FreeBalanceState {
	out := FreeBalanceState{Entries: make([]FreeBalanceEntry, 0, len(s.Entries)+1)}
	found := false
	for _, e := range s.Entries {
		if e.Token == token && e.Participant == participant {
			out.Entries = append(out.Entries, FreeBalanceEntry{
				Token:       token,
				Participant: participant,
				Amount:      new(big.Int).Add(e.Amount, delta),
			})
			found = true
			continue
		}
		out.Entries = append(out.Entries, FreeBalanceEntry{
			Token:       e.Token,
			Participant: e.Participant,
			Amount:      new(big.Int).Set(e.Amount),
		})
	}
	if !found {
		out.Entries = append(out.Entries, FreeBalanceEntry{
			Token:       token,
			Participant: participant,
			Amount:      new(big.Int).Set(delta),
		})
	}
	return out
}
