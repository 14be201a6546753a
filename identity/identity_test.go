package identity

import (
	"testing"

	bip32 "github.com/FactomProject/go-bip32"
	"github.com/stretchr/testify/require"
)

func mustMasterKey(t *testing.T, seed byte) *ExtendedPublicKey {
	t.Helper()

	seedBytes := bytes32(seed)
	master, err := bip32.NewMasterKey(seedBytes)
	require.NoError(t, err)

	pub := master.PublicKey()
	key, err := ParseExtendedPublicKey(pub.B58Serialize())
	require.NoError(t, err)

	return key
}

func bytes32(fill byte) []byte {
	b := make([]byte, 32)
	for i := range b {
		b[i] = fill
	}
	return b
}

func TestParseExtendedPublicKeyRejectsPrivate(t *testing.T) {
	master, err := bip32.NewMasterKey(bytes32(0x01))
	require.NoError(t, err)

	_, err = ParseExtendedPublicKey(master.B58Serialize())
	require.Error(t, err)
}

func TestDeriveAddressIsStable(t *testing.T) {
	key := mustMasterKey(t, 0xAA)

	addr1, err := key.DeriveAddress()
	require.NoError(t, err)

	addr2, err := key.DeriveAddress()
	require.NoError(t, err)

	require.Equal(t, addr1, addr2)
	require.NotEqual(t, addr1.Hex(), "0x0000000000000000000000000000000000000000")
}

func TestSortParticipantsAscendingByAddress(t *testing.T) {
	keyA := mustMasterKey(t, 0x01)
	keyB := mustMasterKey(t, 0x02)

	pA, err := NewParticipant(keyA)
	require.NoError(t, err)
	pB, err := NewParticipant(keyB)
	require.NoError(t, err)

	sorted := SortParticipants([]Participant{pB, pA})
	if sorted[0].Address.Hex() > sorted[1].Address.Hex() {
		t.Fatalf("participants not sorted ascending: %v", sorted)
	}

	// Sorting twice is idempotent.
	again := SortParticipants(sorted)
	require.Equal(t, sorted, again)
}
