package protocol

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"

	"github.com/statechan/scnode/commitment"
	"github.com/statechan/scnode/identity"
	"github.com/statechan/scnode/statechannel"
	"github.com/statechan/scnode/wire"
)

type keySigner struct{ key *ecdsa.PrivateKey }

func (s *keySigner) Sign(digest common.Hash, _ *common.Address) (commitment.Signature, error) {
	return commitment.SignDigest(digest, s.key)
}

type allowValidator struct{}

func (allowValidator) Validate(wire.ProtocolType, interface{}) error { return nil }

type recordingStore struct{ batches []interface{} }

func (s *recordingStore) Persist(kind string, batch interface{}) error {
	s.batches = append(s.batches, batch)
	return nil
}

// directBus lets a test wire an initiator's SendAndWait directly into a
// responder's Drive call running against its own bus, without a real
// transport — the loopback equivalent of two peers on a network.
type directBus struct {
	onSend        func(to string, msg *wire.Envelope) error
	onSendAndWait func(to string, msg *wire.Envelope) (*wire.Envelope, error)
}

func (b *directBus) Send(_ context.Context, to string, msg *wire.Envelope) error {
	return b.onSend(to, msg)
}

func (b *directBus) SendAndWait(_ context.Context, to string, msg *wire.Envelope) (*wire.Envelope, error) {
	return b.onSendAndWait(to, msg)
}

func twoPartyChannel(t *testing.T) (statechannel.Channel, *ecdsa.PrivateKey, *ecdsa.PrivateKey) {
	t.Helper()

	aliceKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	bobKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	alice := crypto.PubkeyToAddress(aliceKey.PublicKey)
	bob := crypto.PubkeyToAddress(bobKey.PublicKey)

	var owners [2]common.Address
	if addressLess(alice, bob) {
		owners = [2]common.Address{alice, bob}
	} else {
		owners = [2]common.Address{bob, alice}
	}

	var ids [2]*identity.ExtendedPublicKey
	multisig := common.HexToAddress("0xabc0000000000000000000000000000000000a")

	return statechannel.NewChannel(multisig, ids, owners), aliceKey, bobKey
}

func addressLess(a, b common.Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func TestSetupProtocolEndToEnd(t *testing.T) {
	chanState, aliceKey, bobKey := twoPartyChannel(t)

	interpreter := common.HexToAddress("0xdef0000000000000000000000000000000000d")
	fbAppDef := common.HexToAddress("0xfee0000000000000000000000000000000000f")

	params := &wire.SetupParams{
		Multisig:                chanState.MultisigAddress,
		Owners:                  chanState.MultisigOwners[:],
		FreeBalanceInterpreter:  interpreter,
		FreeBalanceIdentityHash: common.HexToHash("0x01"),
		InterpreterParams:       []byte("params"),
		DomainName:              "statechan",
		DomainVersion:           "1",
		ChainID:                 big.NewInt(1),
		DomainSalt:              common.Hash{},
		Nonce:                   0,
	}

	responderStore := &recordingStore{}
	initiatorStore := &recordingStore{}

	bobBus := &directBus{}
	var capturedReply *wire.Envelope
	bobBus.onSend = func(_ string, msg *wire.Envelope) error {
		capturedReply = msg
		return nil
	}

	aliceBus := &directBus{}
	aliceBus.onSendAndWait = func(_ string, msg *wire.Envelope) (*wire.Envelope, error) {
		decoded, err := msg.DecodeParams()
		require.NoError(t, err)
		setupParams := decoded.(*wire.SetupParams)

		bobCtx := Context{Channel: chanState, ProcessID: "p1", LocalIdentifier: "bob", PeerIdentifier: "alice"}
		bobRunner := NewRunner(Dependencies{
			Signer: &keySigner{key: bobKey}, Validator: allowValidator{},
			Bus: bobBus, Store: responderStore, Clock: clock.NewDefaultClock(),
		})
		step := NewSetupResponder(bobCtx, setupParams, msg.CustomData.Signature, fbAppDef, 1000)
		_, perr := bobRunner.Drive(context.Background(), step)
		if perr != nil {
			return nil, perr
		}
		return capturedReply, nil
	}

	aliceCtx := Context{Channel: chanState, ProcessID: "p1", LocalIdentifier: "alice", PeerIdentifier: "bob"}
	aliceRunner := NewRunner(Dependencies{
		Signer: &keySigner{key: aliceKey}, Validator: allowValidator{},
		Bus: aliceBus, Store: initiatorStore, Clock: clock.NewDefaultClock(),
	})

	step := NewSetupInitiator(aliceCtx, params, fbAppDef, 1000)
	result, perr := aliceRunner.Drive(context.Background(), step)
	require.Nil(t, perr)
	require.Equal(t, wire.ProtocolSetup, result.Protocol)

	require.Len(t, initiatorStore.batches, 1)
	require.Len(t, responderStore.batches, 1)

	aliceBatch := initiatorStore.batches[0].(SetupBatch)
	require.NotNil(t, aliceBatch.Channel.FreeBalanceAppInstance)
	require.Equal(t, uint64(1), aliceBatch.Channel.FreeBalanceAppInstance.VersionNumber)
}
