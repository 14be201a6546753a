package engine

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/statechan/scnode/channeldb/boltstore"
	"github.com/statechan/scnode/identity"
	"github.com/statechan/scnode/wire"
)

// loopbackTransport hands an envelope straight from one Engine's PeerBus
// to the other's on a fresh goroutine, the in-process equivalent of a pair of
// directly-dialed peers. There's no framing or socket in between because
// this test exercises the engine's protocol wiring, not a transport.
type loopbackTransport struct {
	peers   map[string]*PeerBus
	engines map[string]*Engine

	// testMultisig stands in for the per-connection session lookup a
	// real Transport would use to resolve which multisig an unsolicited
	// envelope concerns; see HandleEnvelope's doc comment.
	testMultisig common.Address
}

func (t *loopbackTransport) SendEnvelope(_ context.Context, to string, env *wire.Envelope) error {
	dest, ok := t.peers[to]
	if !ok {
		return nil
	}
	go dest.Deliver(env, func(unsolicited *wire.Envelope) {
		eng := t.engines[to]
		if eng == nil {
			return
		}
		_ = eng.HandleEnvelope(context.Background(), t.testMultisig, unsolicited)
	})
	return nil
}

func newTwoEngineHarness(t *testing.T) (alice, bob *Engine, multisig common.Address, owners [2]common.Address,
	aliceKey, bobKey *ecdsa.PrivateKey) {

	t.Helper()

	aliceKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	bobKey, err = crypto.GenerateKey()
	require.NoError(t, err)

	aliceAddr := crypto.PubkeyToAddress(aliceKey.PublicKey)
	bobAddr := crypto.PubkeyToAddress(bobKey.PublicKey)

	if bytesLess(bobAddr.Bytes(), aliceAddr.Bytes()) {
		owners = [2]common.Address{bobAddr, aliceAddr}
	} else {
		owners = [2]common.Address{aliceAddr, bobAddr}
	}

	multisig = common.HexToAddress("0xabc0000000000000000000000000000000000a")

	aliceStore, err := boltstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = aliceStore.Close() })

	bobStore, err := boltstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bobStore.Close() })

	params := Params{
		FreeBalanceAppDefinition: common.HexToAddress("0xf1"),
		ChallengeRegistry:        common.HexToAddress("0xc4"),
		DefaultTimeoutBlocks:     100,
		SendAndWaitTimeout:       5 * time.Second,
	}

	transport := &loopbackTransport{
		peers:        make(map[string]*PeerBus),
		engines:      make(map[string]*Engine),
		testMultisig: multisig,
	}

	aliceBus := NewPeerBus(transport, 16)
	bobBus := NewPeerBus(transport, 16)
	t.Cleanup(aliceBus.Stop)
	t.Cleanup(bobBus.Stop)

	transport.peers["alice"] = aliceBus
	transport.peers["bob"] = bobBus

	alice = New("alice", aliceStore, NewKeyRing(aliceKey), aliceBus, nil, nil, params)
	bob = New("bob", bobStore, NewKeyRing(bobKey), bobBus, nil, nil, params)

	transport.engines["alice"] = alice
	transport.engines["bob"] = bob

	var ids [2]*identity.ExtendedPublicKey

	require.Nil(t, alice.ChanCreate(multisig, ids, owners))
	require.Nil(t, bob.ChanCreate(multisig, ids, owners))

	return alice, bob, multisig, owners, aliceKey, bobKey
}

func bytesLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func TestEngineSetupLoopback(t *testing.T) {
	alice, _, multisig, owners, _, _ := newTwoEngineHarness(t)

	setupParams := &wire.SetupParams{
		Multisig:                multisig,
		Owners:                  owners[:],
		FreeBalanceInterpreter:  common.HexToAddress("0xf2"),
		FreeBalanceIdentityHash: common.HexToHash("0x01"),
		InterpreterParams:       []byte("free-balance-params"),
		DomainName:              "statechan",
		DomainVersion:           "1",
		ChainID:                 big.NewInt(1337),
		DomainSalt:              common.HexToHash("0x02"),
		Nonce:                   0,
	}

	result, err := alice.ChanSetup(multisig, "bob", "process-1", 1, setupParams, nil)
	require.Nil(t, err)
	require.NotNil(t, result)
	require.Equal(t, wire.ProtocolSetup, result.Protocol)

	domain, ok := alice.DomainFor(multisig)
	require.True(t, ok)
	require.Equal(t, "statechan", domain.DomainName)

	aliceState, stateErr := alice.ChanGetState(multisig)
	require.Nil(t, stateErr)
	require.NotNil(t, aliceState.FreeBalanceAppInstance)
}

func TestEngineSetupThenNonceAgreement(t *testing.T) {
	alice, bob, multisig, owners, _, _ := newTwoEngineHarness(t)

	setupParams := &wire.SetupParams{
		Multisig:                multisig,
		Owners:                  owners[:],
		FreeBalanceInterpreter:  common.HexToAddress("0xf2"),
		FreeBalanceIdentityHash: common.HexToHash("0x01"),
		InterpreterParams:       []byte("free-balance-params"),
		DomainName:              "statechan",
		DomainVersion:           "1",
		ChainID:                 big.NewInt(1337),
		DomainSalt:              common.HexToHash("0x02"),
	}

	_, err := alice.ChanSetup(multisig, "bob", "process-1", 1, setupParams, nil)
	require.Nil(t, err)

	bobDomain, ok := bob.DomainFor(multisig)
	require.True(t, ok, "bob should have learned the domain by handling alice's unsolicited Setup envelope")
	require.Equal(t, "statechan", bobDomain.DomainName)

	// Setup feeds no nonce into either side's counter, so each side's
	// first locally minted nonce for the channel is 0 and the two agree.
	aliceNonce := alice.NextNonce(multisig)
	bobNonce := bob.NextNonce(multisig)
	require.Equal(t, uint64(0), aliceNonce)
	require.Equal(t, uint64(0), bobNonce)
}
