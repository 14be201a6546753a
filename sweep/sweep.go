// Package sweep turns pending withdrawals into broadcast-ready
// transactions, the EVM-side counterpart of sweep/txgenerator.go's
// batching and dust-filtering of UTXOs into Bitcoin sweep transactions.
// There is no UTXO set and no witness-size weight estimate here — a
// withdrawal is a single Gnosis-Safe-style execTransaction call — so
// the part of txgenerator.go this package keeps is its dust-and-yield
// discipline: don't generate a transaction whose gas cost would eat the
// value it is meant to deliver.
package sweep

import (
	"context"
	"math/big"
	"sort"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/statechan/scnode/commitment"
	"github.com/statechan/scnode/evmchain"
)

// DefaultMaxWithdrawalsPerRound bounds how many pending withdrawals a
// single sweep pass will turn into transactions, mirroring
// txgenerator.go's DefaultMaxInputsPerTx — a ceiling against
// unboundedly large batches, not a throughput target.
const DefaultMaxWithdrawalsPerRound = 100

// PendingWithdrawal is a free-balance withdrawal awaiting broadcast: a
// recipient, a token (the zero address for the native asset), and an
// amount already agreed via the Uninstall/Withdraw commitment.
type PendingWithdrawal struct {
	IdentityHash common.Hash
	Token        common.Address
	Recipient    common.Address
	Amount       *big.Int
	Commitment   *commitment.WithdrawCommitment
}

// GasEstimator is the narrow slice of bind.ContractTransactor this
// package needs to price a withdrawal before deciding whether it clears
// the dust threshold.
type GasEstimator interface {
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// PlanSweeps partitions pending withdrawals of the native asset into
// those worth broadcasting and those to skip as dust, the same two-pass
// shape as generateInputPartitionings: estimate cost, sort by yield
// (amount minus its own gas cost), and keep taking from the top while
// yield stays positive and the round isn't full.
//
// Only native-asset withdrawals are yield-filtered here, since gas is
// always paid in the native asset — comparing an ERC-20 amount against
// a native-asset gas cost needs a price oracle this package doesn't
// have. ERC-20 withdrawals are swept whenever their amount is positive;
// filtering their dust is future work once a price feed exists.
func PlanSweeps(ctx context.Context, estimator GasEstimator, pending []PendingWithdrawal) (sweeps, dust []PendingWithdrawal, err error) {
	gasPrice, err := estimator.SuggestGasPrice(ctx)
	if err != nil {
		return nil, nil, err
	}

	var nativeAsset, erc20 []PendingWithdrawal
	for _, w := range pending {
		if w.Token == (common.Address{}) {
			nativeAsset = append(nativeAsset, w)
		} else {
			erc20 = append(erc20, w)
		}
	}

	type costed struct {
		w    PendingWithdrawal
		cost *big.Int
		net  *big.Int
	}
	costedWithdrawals := make([]costed, 0, len(nativeAsset))
	for _, w := range nativeAsset {
		tx, encodeErr := w.Commitment.GetSignedTransaction()
		if encodeErr != nil {
			return nil, nil, encodeErr
		}

		gas, estErr := estimator.EstimateGas(ctx, ethereum.CallMsg{
			To: &tx.To, Value: tx.Value, Data: tx.Data,
		})
		if estErr != nil {
			return nil, nil, estErr
		}

		cost := new(big.Int).Mul(new(big.Int).SetUint64(gas), gasPrice)
		net := new(big.Int).Sub(w.Amount, cost)
		costedWithdrawals = append(costedWithdrawals, costed{w, cost, net})
	}

	sort.Slice(costedWithdrawals, func(i, j int) bool {
		return costedWithdrawals[i].net.Cmp(costedWithdrawals[j].net) > 0
	})

	for _, c := range costedWithdrawals {
		if c.net.Sign() <= 0 {
			dust = append(dust, c.w)
			continue
		}
		if len(sweeps) >= DefaultMaxWithdrawalsPerRound {
			dust = append(dust, c.w)
			continue
		}
		sweeps = append(sweeps, c.w)
	}

	for _, w := range erc20 {
		if w.Amount == nil || w.Amount.Sign() <= 0 {
			dust = append(dust, w)
			continue
		}
		if len(sweeps) >= DefaultMaxWithdrawalsPerRound {
			dust = append(dust, w)
			continue
		}
		sweeps = append(sweeps, w)
	}

	return sweeps, dust, nil
}

// BuildTransactions converts each planned withdrawal into its
// broadcast-ready transaction, in the order PlanSweeps returned them.
func BuildTransactions(sweeps []PendingWithdrawal) ([]evmchain.MinimalTransaction, error) {
	txs := make([]evmchain.MinimalTransaction, 0, len(sweeps))
	for _, w := range sweeps {
		tx, err := w.Commitment.GetSignedTransaction()
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}
