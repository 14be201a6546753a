package sweep

import (
	"context"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/statechan/scnode/commitment"
)

type fixedGasEstimator struct {
	gas      uint64
	gasPrice *big.Int
}

func (f fixedGasEstimator) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.gas, nil
}

func (f fixedGasEstimator) SuggestGasPrice(context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

func nativeWithdrawal(t *testing.T, multisig common.Address, amount *big.Int) PendingWithdrawal {
	t.Helper()

	key1, err := crypto.GenerateKey()
	require.NoError(t, err)
	key2, err := crypto.GenerateKey()
	require.NoError(t, err)

	addr1 := crypto.PubkeyToAddress(key1.PublicKey)
	addr2 := crypto.PubkeyToAddress(key2.PublicKey)
	owners := []common.Address{addr1, addr2}
	if !lessAddr(addr1, addr2) {
		owners = []common.Address{addr2, addr1}
	}

	recipient := common.HexToAddress("0x00000000000000000000000000000000000bee")
	c, err := commitment.NewWithdrawCommitment(
		multisig, owners, common.Address{}, recipient, amount,
		"statechan", "1", big.NewInt(1), common.Hash{}, 0,
	)
	require.NoError(t, err)

	digest, err := c.HashToSign()
	require.NoError(t, err)

	sig1, err := commitment.SignDigest(digest, key1)
	require.NoError(t, err)
	sig2, err := commitment.SignDigest(digest, key2)
	require.NoError(t, err)
	require.NoError(t, c.AddSignatures(sig1, sig2))

	return PendingWithdrawal{Token: common.Address{}, Recipient: recipient, Amount: amount, Commitment: c}
}

func lessAddr(a, b common.Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func TestPlanSweepsSkipsDustBelowGasCost(t *testing.T) {
	estimator := fixedGasEstimator{gas: 100000, gasPrice: big.NewInt(1_000_000_000)}
	gasCost := new(big.Int).Mul(big.NewInt(100000), estimator.gasPrice)
	multisig := common.HexToAddress("0x00000000000000000000000000000000000111")

	tiny := nativeWithdrawal(t, multisig, new(big.Int).Div(gasCost, big.NewInt(2)))
	ample := nativeWithdrawal(t, multisig, new(big.Int).Mul(gasCost, big.NewInt(10)))

	sweeps, dust, err := PlanSweeps(context.Background(), estimator, []PendingWithdrawal{tiny, ample})
	require.NoError(t, err)
	require.Len(t, sweeps, 1)
	require.Len(t, dust, 1)
	require.Equal(t, ample.Amount, sweeps[0].Amount)
}

func TestPlanSweepsOrdersByYieldDescending(t *testing.T) {
	estimator := fixedGasEstimator{gas: 21000, gasPrice: big.NewInt(1_000_000_000)}
	gasCost := new(big.Int).Mul(big.NewInt(21000), estimator.gasPrice)
	multisig := common.HexToAddress("0x00000000000000000000000000000000000222")

	small := nativeWithdrawal(t, multisig, new(big.Int).Mul(gasCost, big.NewInt(2)))
	large := nativeWithdrawal(t, multisig, new(big.Int).Mul(gasCost, big.NewInt(20)))

	sweeps, _, err := PlanSweeps(context.Background(), estimator, []PendingWithdrawal{small, large})
	require.NoError(t, err)
	require.Len(t, sweeps, 2)
	require.Equal(t, large.Amount, sweeps[0].Amount)
	require.Equal(t, small.Amount, sweeps[1].Amount)
}

func TestBuildTransactionsProducesOneTxPerSweep(t *testing.T) {
	multisig := common.HexToAddress("0x00000000000000000000000000000000000333")
	w := nativeWithdrawal(t, multisig, big.NewInt(5000))

	txs, err := BuildTransactions([]PendingWithdrawal{w})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, multisig, txs[0].To)
}
