package statechannel

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	addrA  = common.HexToAddress("0xAAAA00000000000000000000000000000000AA")
	addrB  = common.HexToAddress("0xBBBB00000000000000000000000000000000BB")
	appDef = common.HexToAddress("0xCCCC00000000000000000000000000000000CC")
	fbDef  = common.HexToAddress("0xFBFB00000000000000000000000000000000FB")
)

func baseChannel() Channel {
	c := Channel{
		MultisigAddress:      common.HexToAddress("0x1234"),
		MultisigOwners:       [2]common.Address{addrA, addrB},
		AppInstances:         map[common.Hash]AppInstance{},
		ProposedAppInstances: map[common.Hash]Proposal{},
	}
	return c
}

func TestInitFreeBalanceSetsVersionOne(t *testing.T) {
	c := baseChannel()

	c2, err := InitFreeBalance(c, fbDef, 100)
	require.NoError(t, err)
	require.NotNil(t, c2.FreeBalanceAppInstance)
	require.EqualValues(t, 1, c2.FreeBalanceAppInstance.VersionNumber)

	fb, err := c2.FreeBalanceState()
	require.NoError(t, err)
	require.Empty(t, fb.Entries)
}

func TestProposeAppEnforcesMonotonicNonce(t *testing.T) {
	c := baseChannel()

	proposal := Proposal{
		Identity: AppIdentity{
			ChannelNonce:   1,
			Participants:   []common.Address{addrA, addrB},
			AppDefinition:  appDef,
			DefaultTimeout: 10,
		},
		Token:            ConventionForETHTokenAddress,
		InitiatorAddress: addrA,
		ResponderAddress: addrB,
		InitiatorDeposit: big.NewInt(100),
		ResponderDeposit: big.NewInt(100),
	}

	c2, hash, err := ProposeApp(c, proposal)
	require.NoError(t, err)
	require.EqualValues(t, 1, c2.MonotonicNumProposedApps)
	_, ok := c2.ProposalByHash(hash)
	require.True(t, ok)

	// Re-proposing at the same or lower nonce is rejected.
	_, _, err = ProposeApp(c2, proposal)
	require.ErrorIs(t, err, ErrNonceNotMonotonic)
}

func TestInstallAppDebitsFreeBalance(t *testing.T) {
	c := baseChannel()
	c, err := InitFreeBalance(c, fbDef, 100)
	require.NoError(t, err)

	fb, _ := c.FreeBalanceState()
	fb = fb.WithDelta(ConventionForETHTokenAddress, addrA, big.NewInt(1000))
	fb = fb.WithDelta(ConventionForETHTokenAddress, addrB, big.NewInt(1000))
	state, err := fb.Encode()
	require.NoError(t, err)
	c.FreeBalanceAppInstance.LatestState = state

	proposal := Proposal{
		Identity: AppIdentity{
			ChannelNonce:   1,
			Participants:   []common.Address{addrA, addrB},
			AppDefinition:  appDef,
			DefaultTimeout: 10,
		},
		InitialState:     []byte{0x00},
		Token:            ConventionForETHTokenAddress,
		InitiatorAddress: addrA,
		ResponderAddress: addrB,
		InitiatorDeposit: big.NewInt(100),
		ResponderDeposit: big.NewInt(100),
	}

	c, identityHash, err := ProposeApp(c, proposal)
	require.NoError(t, err)

	c, err = InstallApp(c, identityHash)
	require.NoError(t, err)

	app, ok := c.App(identityHash)
	require.True(t, ok)
	require.EqualValues(t, 1, app.VersionNumber)

	fbAfter, err := c.FreeBalanceState()
	require.NoError(t, err)
	require.Zero(t, fbAfter.Get(ConventionForETHTokenAddress, addrA).Cmp(big.NewInt(900)))
	require.Zero(t, fbAfter.Get(ConventionForETHTokenAddress, addrB).Cmp(big.NewInt(900)))

	_, stillProposed := c.ProposalByHash(identityHash)
	require.False(t, stillProposed)
}

func TestSetStateRejectsVersionReplay(t *testing.T) {
	c := baseChannel()
	identity := AppIdentity{
		ChannelNonce:   1,
		Participants:   []common.Address{addrA, addrB},
		AppDefinition:  appDef,
		DefaultTimeout: 10,
	}
	hash, err := identity.Hash()
	require.NoError(t, err)

	c.AppInstances[hash] = AppInstance{
		Identity:      identity,
		LatestState:   []byte{0x01},
		VersionNumber: 2,
		StateTimeout:  10,
	}

	_, err = SetState(c, hash, []byte{0x02}, 2, 10)
	require.ErrorIs(t, err, ErrVersionNumberReplay)

	c2, err := SetState(c, hash, []byte{0x02}, 3, 10)
	require.NoError(t, err)
	app, _ := c2.App(hash)
	require.EqualValues(t, 3, app.VersionNumber)
}

func TestUninstallAppCreditsFreeBalance(t *testing.T) {
	c := baseChannel()
	c, err := InitFreeBalance(c, fbDef, 100)
	require.NoError(t, err)

	identity := AppIdentity{
		ChannelNonce:   1,
		Participants:   []common.Address{addrA, addrB},
		AppDefinition:  appDef,
		DefaultTimeout: 10,
	}
	hash, err := identity.Hash()
	require.NoError(t, err)
	c.AppInstances[hash] = AppInstance{Identity: identity, LatestState: []byte{0x03}, VersionNumber: 4, StateTimeout: 10}

	c2, err := UninstallApp(c, hash, Redistribution{
		Token:            ConventionForETHTokenAddress,
		InitiatorAddress: addrA,
		ResponderAddress: addrB,
		InitiatorAmount:  big.NewInt(60),
		ResponderAmount:  big.NewInt(140),
	})
	require.NoError(t, err)

	_, ok := c2.App(hash)
	require.False(t, ok)

	fb, err := c2.FreeBalanceState()
	require.NoError(t, err)
	require.Zero(t, fb.Get(ConventionForETHTokenAddress, addrA).Cmp(big.NewInt(60)))
	require.Zero(t, fb.Get(ConventionForETHTokenAddress, addrB).Cmp(big.NewInt(140)))
}
