package statechannel

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/statechan/scnode/evmchain"
)

func evmKeccak(data []byte) common.Hash {
	return evmchain.Keccak256(data)
}

// InitFreeBalance initializes the channel's free balance app instance at
// versionNumber 1, the terminal step of the Setup protocol.
// freeBalanceAppDefinition is the (engine-owned) app definition address
// the free balance's AppIdentity names.
func InitFreeBalance(c Channel, freeBalanceAppDefinition common.Address,
	defaultTimeout uint64) (Channel, error) {

	out := c.Clone()

	identityArgs := AppIdentity{
		ChannelNonce:   0,
		Participants:   append([]common.Address{}, c.MultisigOwners[:]...),
		AppDefinition:  freeBalanceAppDefinition,
		DefaultTimeout: defaultTimeout,
	}

	state, err := FreeBalanceState{}.Encode()
	if err != nil {
		return Channel{}, err
	}

	out.FreeBalanceAppInstance = &AppInstance{
		Identity:      identityArgs,
		LatestState:   state,
		VersionNumber: 1,
		StateTimeout:  defaultTimeout,
	}

	return out, nil
}

// ProposeApp inserts a Proposal whose channelNonce exceeds
// MonotonicNumProposedApps and advances the counter to that nonce. It
// rejects a proposal whose identityHash is already installed or already
// proposed.
func ProposeApp(c Channel, proposal Proposal) (Channel, common.Hash, error) {
	out := c.Clone()

	if proposal.Identity.ChannelNonce <= out.MonotonicNumProposedApps {
		return Channel{}, common.Hash{}, ErrNonceNotMonotonic
	}

	identityHash, err := proposal.IdentityHash()
	if err != nil {
		return Channel{}, common.Hash{}, err
	}

	if _, exists := out.AppInstances[identityHash]; exists {
		return Channel{}, common.Hash{}, ErrAppAlreadyInstalled
	}
	if _, exists := out.ProposedAppInstances[identityHash]; exists {
		return Channel{}, common.Hash{}, ErrAppAlreadyProposed
	}

	out.ProposedAppInstances[identityHash] = proposal.Clone()
	out.MonotonicNumProposedApps = proposal.Identity.ChannelNonce

	return out, identityHash, nil
}

// InstallApp removes a proposal and inserts the corresponding app
// instance, debiting the free balance by the sum of both deposits under
// the proposal's token. versionNumber starts at 1 for every newly
// installed app.
func InstallApp(c Channel, identityHash common.Hash) (Channel, error) {
	out := c.Clone()

	proposal, ok := out.ProposedAppInstances[identityHash]
	if !ok {
		return Channel{}, ErrProposalNotFound
	}
	if out.FreeBalanceAppInstance == nil {
		return Channel{}, ErrFreeBalanceNotInitialized
	}

	fb, err := out.FreeBalanceState()
	if err != nil {
		return Channel{}, err
	}

	initiatorBal := fb.Get(proposal.Token, proposal.InitiatorAddress)
	responderBal := fb.Get(proposal.Token, proposal.ResponderAddress)
	if initiatorBal.Cmp(proposal.InitiatorDeposit) < 0 ||
		responderBal.Cmp(proposal.ResponderDeposit) < 0 {
		return Channel{}, ErrInsufficientFreeBalance
	}

	fb = fb.WithDelta(proposal.Token, proposal.InitiatorAddress, new(big.Int).Neg(proposal.InitiatorDeposit))
	fb = fb.WithDelta(proposal.Token, proposal.ResponderAddress, new(big.Int).Neg(proposal.ResponderDeposit))

	fbState, err := fb.Encode()
	if err != nil {
		return Channel{}, err
	}
	out.FreeBalanceAppInstance.LatestState = fbState
	out.FreeBalanceAppInstance.VersionNumber++

	delete(out.ProposedAppInstances, identityHash)
	out.AppInstances[identityHash] = AppInstance{
		Identity:      proposal.Identity,
		LatestState:   append([]byte{}, proposal.InitialState...),
		VersionNumber: 1,
		StateTimeout:  proposal.Identity.DefaultTimeout,
	}

	return out, nil
}

// Redistribution names how an uninstalled app's escrowed deposits are
// returned to the free balance, the outcome an app definition's
// interpreter computes.
type Redistribution struct {
	Token            common.Address
	InitiatorAddress common.Address
	ResponderAddress common.Address
	InitiatorAmount  *big.Int
	ResponderAmount  *big.Int
}

// UninstallApp removes an app and credits the free balance per
// redistribution.
func UninstallApp(c Channel, identityHash common.Hash, redistribution Redistribution) (Channel, error) {
	out := c.Clone()

	if _, ok := out.AppInstances[identityHash]; !ok {
		return Channel{}, ErrAppNotFound
	}
	if out.FreeBalanceAppInstance == nil {
		return Channel{}, ErrFreeBalanceNotInitialized
	}

	fb, err := out.FreeBalanceState()
	if err != nil {
		return Channel{}, err
	}

	fb = fb.WithDelta(redistribution.Token, redistribution.InitiatorAddress, redistribution.InitiatorAmount)
	fb = fb.WithDelta(redistribution.Token, redistribution.ResponderAddress, redistribution.ResponderAmount)

	fbState, err := fb.Encode()
	if err != nil {
		return Channel{}, err
	}
	out.FreeBalanceAppInstance.LatestState = fbState
	out.FreeBalanceAppInstance.VersionNumber++

	delete(out.AppInstances, identityHash)

	return out, nil
}

// SetState replaces an app's latest state with newState at a strictly
// higher versionNumber and timeout. The caller (protocol.Runner) is
// responsible for having already validated the state-transition and
// signatures; this function only enforces the monotonic version-number
// invariant.
func SetState(c Channel, identityHash common.Hash, newState []byte,
	newVersionNumber, timeout uint64) (Channel, error) {

	out := c.Clone()

	app, ok := out.AppInstances[identityHash]
	if !ok {
		return Channel{}, ErrAppNotFound
	}
	if newVersionNumber <= app.VersionNumber {
		return Channel{}, ErrVersionNumberReplay
	}

	app.LatestState = append([]byte{}, newState...)
	app.VersionNumber = newVersionNumber
	app.StateTimeout = timeout
	app.LatestAction = nil
	out.AppInstances[identityHash] = app

	return out, nil
}

// SetPendingAction records the initiator-only single-signed intermediate
// step of TakeAction: the app is marked with the action whose post-image
// newState represents, without yet bumping versionNumber — that happens
// only once both signatures are in hand, via SetState.
func SetPendingAction(c Channel, identityHash common.Hash, action []byte) (Channel, error) {
	out := c.Clone()

	app, ok := out.AppInstances[identityHash]
	if !ok {
		return Channel{}, ErrAppNotFound
	}
	app.LatestAction = append([]byte{}, action...)
	out.AppInstances[identityHash] = app

	return out, nil
}

// FreeBalanceConservation computes the total balance of a token across the
// free balance only (app-escrowed funds are tracked separately by the
// caller summing AppInstances' own interpreter state) — used by
// conservation checks asserting the sum of token balances in the free
// balance plus all installed apps never changes across a transition.
func (c Channel) FreeBalanceConservation(token common.Address) (*big.Int, error) {
	fb, err := c.FreeBalanceState()
	if err != nil {
		return nil, err
	}
	total := new(big.Int)
	for _, e := range fb.Entries {
		if e.Token == token {
			total.Add(total, e.Amount)
		}
	}
	return total, nil
}
