package commitment

import (
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestSetStateCommitmentHashIsStableAndSignable(t *testing.T) {
	aliceKey, bobKey := mustTwoKeys(t)
	alice := crypto.PubkeyToAddress(aliceKey.PublicKey)
	bob := crypto.PubkeyToAddress(bobKey.PublicKey)
	participants := orderedPair(alice, bob)

	registry := common.HexToAddress("0xfeed000000000000000000000000000000beef")
	appDef := common.HexToAddress("0xdead000000000000000000000000000000cafe")
	stateHash := crypto.Keccak256Hash([]byte("state-one"))

	c := NewSetStateCommitment(registry, 1, participants, appDef, 1000, 1, 500, stateHash)

	digest1, err := c.HashToSign()
	require.NoError(t, err)
	digest2, err := c.HashToSign()
	require.NoError(t, err)
	require.Equal(t, digest1, digest2, "hash-to-sign must be deterministic")

	sigA, err := SignDigest(digest1, aliceKey)
	require.NoError(t, err)
	sigB, err := SignDigest(digest1, bobKey)
	require.NoError(t, err)

	require.NoError(t, c.AddSignatures(sigA, sigB))

	tx, err := c.GetSignedTransaction()
	require.NoError(t, err)
	require.Equal(t, registry, tx.To)
	require.Equal(t, new(big.Int), tx.Value)
	require.True(t, len(tx.Data) > 4)
	require.Equal(t, setStateSelector, tx.Data[:4])
}

func TestSetStateCommitmentRejectsForeignSigner(t *testing.T) {
	aliceKey, bobKey := mustTwoKeys(t)
	mallory, err := crypto.GenerateKey()
	require.NoError(t, err)

	alice := crypto.PubkeyToAddress(aliceKey.PublicKey)
	bob := crypto.PubkeyToAddress(bobKey.PublicKey)
	participants := orderedPair(alice, bob)

	c := NewSetStateCommitment(common.HexToAddress("0x01"), 1, participants,
		common.HexToAddress("0x02"), 1000, 1, 500, crypto.Keccak256Hash([]byte("s")))

	digest, err := c.HashToSign()
	require.NoError(t, err)

	sigA, err := SignDigest(digest, aliceKey)
	require.NoError(t, err)
	sigM, err := SignDigest(digest, mallory)
	require.NoError(t, err)

	err = c.AddSignatures(sigA, sigM)
	require.Error(t, err)
}

func TestSetupCommitmentTargetsFreeBalanceInterpreter(t *testing.T) {
	aliceKey, bobKey := mustTwoKeys(t)
	alice := crypto.PubkeyToAddress(aliceKey.PublicKey)
	bob := crypto.PubkeyToAddress(bobKey.PublicKey)
	owners := orderedPair(alice, bob)

	multisig := common.HexToAddress("0x1111111111111111111111111111111111111111")
	interpreter := common.HexToAddress("0x2222222222222222222222222222222222222222")
	fbHash := crypto.Keccak256Hash([]byte("free-balance"))

	c, err := NewSetupCommitment(multisig, owners, interpreter, fbHash, []byte("params"),
		"statechan", "1", big.NewInt(1337), common.Hash{}, 0)
	require.NoError(t, err)
	require.Equal(t, interpreter, c.To)

	digest, err := c.HashToSign()
	require.NoError(t, err)

	sigA, err := SignDigest(digest, aliceKey)
	require.NoError(t, err)
	sigB, err := SignDigest(digest, bobKey)
	require.NoError(t, err)
	require.NoError(t, c.AddSignatures(sigA, sigB))

	tx, err := c.GetSignedTransaction()
	require.NoError(t, err)
	require.Equal(t, multisig, tx.To)
	require.Equal(t, execTransactionSelector, tx.Data[:4])
}

func TestConditionalTransactionCommitmentSignatureOrdering(t *testing.T) {
	aliceKey, bobKey := mustTwoKeys(t)
	alice := crypto.PubkeyToAddress(aliceKey.PublicKey)
	bob := crypto.PubkeyToAddress(bobKey.PublicKey)
	owners := orderedPair(alice, bob)

	multisig := common.HexToAddress("0x8888888888888888888888888888888888888888")
	interpreter := common.HexToAddress("0x9999999999999999999999999999999999999999")
	appHash := crypto.Keccak256Hash([]byte("app-one"))

	c, err := NewConditionalTransactionCommitment(multisig, owners, interpreter, appHash,
		[]byte("encoded-outcome"), []byte("interpreter-params"),
		"statechan", "1", big.NewInt(1), common.Hash{}, 5)
	require.NoError(t, err)

	digest, err := c.HashToSign()
	require.NoError(t, err)

	sigA, err := SignDigest(digest, aliceKey)
	require.NoError(t, err)
	sigB, err := SignDigest(digest, bobKey)
	require.NoError(t, err)

	// Signatures supplied out of address order must still verify and be
	// re-ordered ascending before encoding.
	if lessAddress(alice, bob) {
		require.NoError(t, c.AddSignatures(sigB, sigA))
	} else {
		require.NoError(t, c.AddSignatures(sigA, sigB))
	}

	_, err = c.GetSignedTransaction()
	require.NoError(t, err)
}

func TestWithdrawCommitmentERC20RoutesThroughTokenTransfer(t *testing.T) {
	aliceKey, bobKey := mustTwoKeys(t)
	alice := crypto.PubkeyToAddress(aliceKey.PublicKey)
	bob := crypto.PubkeyToAddress(bobKey.PublicKey)
	owners := orderedPair(alice, bob)

	multisig := common.HexToAddress("0x3333333333333333333333333333333333333333")
	token := common.HexToAddress("0x4444444444444444444444444444444444444444")
	recipient := common.HexToAddress("0x5555555555555555555555555555555555555555")

	c, err := NewWithdrawCommitment(multisig, owners, token, recipient, big.NewInt(42),
		"statechan", "1", big.NewInt(1), common.Hash{}, 3)
	require.NoError(t, err)
	require.Equal(t, token, c.To)
	require.Equal(t, new(big.Int), c.Value)

	digest, err := c.HashToSign()
	require.NoError(t, err)
	sigA, err := SignDigest(digest, aliceKey)
	require.NoError(t, err)
	sigB, err := SignDigest(digest, bobKey)
	require.NoError(t, err)
	require.NoError(t, c.AddSignatures(sigA, sigB))

	_, err = c.GetSignedTransaction()
	require.NoError(t, err)
	require.Equal(t, erc20TransferSelector, c.Data[:4])
}

func TestWithdrawCommitmentNativeAssetCarriesValue(t *testing.T) {
	aliceKey, bobKey := mustTwoKeys(t)
	alice := crypto.PubkeyToAddress(aliceKey.PublicKey)
	bob := crypto.PubkeyToAddress(bobKey.PublicKey)
	owners := orderedPair(alice, bob)

	multisig := common.HexToAddress("0x6666666666666666666666666666666666666666")
	recipient := common.HexToAddress("0x7777777777777777777777777777777777777777")

	c, err := NewWithdrawCommitment(multisig, owners, common.Address{}, recipient, big.NewInt(100),
		"statechan", "1", big.NewInt(1), common.Hash{}, 1)
	require.NoError(t, err)
	require.Equal(t, recipient, c.To)
	require.Equal(t, big.NewInt(100), c.Value)
	require.Empty(t, c.Data)
}

func mustTwoKeys(t *testing.T) (*ecdsa.PrivateKey, *ecdsa.PrivateKey) {
	t.Helper()
	a, err := crypto.GenerateKey()
	require.NoError(t, err)
	b, err := crypto.GenerateKey()
	require.NoError(t, err)
	return a, b
}

func orderedPair(a, b common.Address) []common.Address {
	if lessAddress(a, b) {
		return []common.Address{a, b}
	}
	return []common.Address{b, a}
}
