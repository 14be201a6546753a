// Package statechannel holds the channel and app-instance value types and
// the pure transitions over them. Apart from ComputeStateTransition,
// which makes an eth_call through the supplied ContractCaller, nothing
// in this package performs I/O.
package statechannel

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/statechan/scnode/identity"
)

// AppInstance is a sub-agreement within a channel: identity, latest state,
// version, dispute timeout, and an optional pending action awaiting
// counter-signature.
type AppInstance struct {
	Identity      AppIdentity
	LatestState   []byte
	VersionNumber uint64
	StateTimeout  uint64

	// LatestAction is non-nil only while a TakeAction is in flight on the
	// initiator's side: the action that, applied to LatestState, yields
	// the state the pending single-signed commitment covers. LatestState
	// is not replaced by that result while the action is pending. It is
	// retained so a vanished counterparty's progressState can be proven
	// on-chain.
	LatestAction []byte
}

// IdentityHash is a convenience wrapper over Identity.Hash().
func (a AppInstance) IdentityHash() (common.Hash, error) {
	return a.Identity.Hash()
}

// LatestStateHash computes keccak256(latestState).
func (a AppInstance) LatestStateHash() common.Hash {
	return hashBytes(a.LatestState)
}

// Clone deep-copies the mutable fields so a caller can't mutate a
// persisted snapshot through a returned AppInstance.
func (a AppInstance) Clone() AppInstance {
	a.Identity = a.Identity.Clone()

	state := make([]byte, len(a.LatestState))
	copy(state, a.LatestState)
	a.LatestState = state

	if a.LatestAction != nil {
		action := make([]byte, len(a.LatestAction))
		copy(action, a.LatestAction)
		a.LatestAction = action
	}

	return a
}

// Proposal is a not-yet-installed app: an accepted-but-uninstalled
// agreement to create an AppInstance at Install time.
type Proposal struct {
	Identity         AppIdentity
	InitialState     []byte
	Token            common.Address
	InitiatorAddress common.Address
	ResponderAddress common.Address
	InitiatorDeposit *big.Int
	ResponderDeposit *big.Int
}

// IdentityHash is a convenience wrapper over Identity.Hash().
func (p Proposal) IdentityHash() (common.Hash, error) {
	return p.Identity.Hash()
}

// Clone deep-copies the mutable fields.
func (p Proposal) Clone() Proposal {
	p.Identity = p.Identity.Clone()

	state := make([]byte, len(p.InitialState))
	copy(state, p.InitialState)
	p.InitialState = state

	if p.InitiatorDeposit != nil {
		p.InitiatorDeposit = new(big.Int).Set(p.InitiatorDeposit)
	}
	if p.ResponderDeposit != nil {
		p.ResponderDeposit = new(big.Int).Set(p.ResponderDeposit)
	}

	return p
}

// Channel is the channel's logical state, keyed by multisigAddress.
// Values of this type are treated as immutable: every transition in
// transitions.go returns a new Channel rather than mutating the
// receiver.
type Channel struct {
	MultisigAddress common.Address

	// UserIdentifiers is the sort-stable ordered pair of extended public
	// keys, index-aligned with MultisigOwners.
	UserIdentifiers [2]*identity.ExtendedPublicKey
	MultisigOwners  [2]common.Address

	// FreeBalanceAppInstance is nil only before Setup completes.
	FreeBalanceAppInstance *AppInstance

	AppInstances         map[common.Hash]AppInstance
	ProposedAppInstances map[common.Hash]Proposal

	MonotonicNumProposedApps uint64
	SchemaVersion            uint32
}

// NewChannel constructs the zero-value channel for a pair of participants,
// prior to Setup. multisigOwners must already be in ascending order
// (identity.SortParticipants guarantees this upstream).
func NewChannel(multisig common.Address, userIdentifiers [2]*identity.ExtendedPublicKey,
	multisigOwners [2]common.Address) Channel {

	return Channel{
		MultisigAddress:          multisig,
		UserIdentifiers:          userIdentifiers,
		MultisigOwners:           multisigOwners,
		AppInstances:             make(map[common.Hash]AppInstance),
		ProposedAppInstances:     make(map[common.Hash]Proposal),
		MonotonicNumProposedApps: 0,
		SchemaVersion:            1,
	}
}

// Clone deep-copies a Channel so a transition can mutate its working copy
// freely without the original snapshot observing the change.
func (c Channel) Clone() Channel {
	out := c

	if c.FreeBalanceAppInstance != nil {
		fb := c.FreeBalanceAppInstance.Clone()
		out.FreeBalanceAppInstance = &fb
	}

	out.AppInstances = make(map[common.Hash]AppInstance, len(c.AppInstances))
	for k, v := range c.AppInstances {
		out.AppInstances[k] = v.Clone()
	}

	out.ProposedAppInstances = make(map[common.Hash]Proposal, len(c.ProposedAppInstances))
	for k, v := range c.ProposedAppInstances {
		out.ProposedAppInstances[k] = v.Clone()
	}

	return out
}

// FreeBalanceState decodes the free balance app's latestState, or returns
// an empty state if the free balance hasn't been initialized.
func (c Channel) FreeBalanceState() (FreeBalanceState, error) {
	if c.FreeBalanceAppInstance == nil {
		return FreeBalanceState{}, nil
	}
	return DecodeFreeBalanceState(c.FreeBalanceAppInstance.LatestState)
}

// App looks up an installed app by identityHash.
func (c Channel) App(identityHash common.Hash) (AppInstance, bool) {
	app, ok := c.AppInstances[identityHash]
	return app, ok
}

// ProposalByHash looks up a proposal by identityHash.
func (c Channel) ProposalByHash(identityHash common.Hash) (Proposal, bool) {
	p, ok := c.ProposedAppInstances[identityHash]
	return p, ok
}

func hashBytes(b []byte) common.Hash {
	return evmKeccak(b)
}
