package provider

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/edr-go/provider/provider/blockchain"
	"github.com/edr-go/provider/provider/evmstate"
)

// EstimateGas implements C10's estimate_gas (spec.md §4.10): an initial
// trial at the block gas limit, a check at the theoretical minimum, then
// binary search over the remainder. All trials share one transient state
// overlay; nothing is persisted.
func (e *Engine) EstimateGas(tx *types.Transaction, sender common.Address, spec BlockSpec, overrides *evmstate.State) (uint64, error) {
	state, err := e.stateAt(spec)
	if err != nil {
		return 0, err
	}
	number, _, err := e.resolveBlockNumber(spec)
	if err != nil {
		return 0, err
	}
	header := e.headerForEstimate(number)
	hfSpec := e.chain.SpecAtBlockNumber(number)
	chainID := e.chain.ChainID()
	blockGasLimit := header.GasLimit

	run := func(gas uint64) (uint64, error, []any) {
		trial := withGas(tx, gas)
		res, err := e.gateway.RunCall(context.Background(), trial, sender, state, overrides, header, hfSpec, chainID)
		if err != nil {
			return 0, err, nil
		}
		if failure := callResultFailure(res); failure != nil {
			return res.GasUsed, failure, toAnySlice(res.ConsoleLogs)
		}
		return res.GasUsed, nil, nil
	}

	initialGasUsed, failure, consoleLogs := run(blockGasLimit)
	if failure != nil {
		return 0, &EstimateGasFailureError{ConsoleLogs: consoleLogs, Failure: failure}
	}

	minimumCost, err := core.IntrinsicGas(tx.Data(), tx.AccessList(), tx.To() == nil, true, true, hfSpec >= blockchain.SpecShanghai)
	if err != nil {
		return 0, err
	}
	initial := initialGasUsed
	if minimumCost+1 > initial {
		initial = minimumCost + 1
	}

	if _, failure, _ := run(initial); failure == nil {
		return initial, nil
	}

	lo, hi := initial, blockGasLimit
	for lo+1 < hi {
		mid := lo + (hi-lo)/2
		if _, failure, _ := run(mid); failure == nil {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi, nil
}

// headerForEstimate builds the header gas trials execute against: the real
// header at blockNumber if committed, or a header shaped like the parent's
// otherwise (used for a "pending" blockSpec, where stateAt has already
// materialized a throwaway next state).
func (e *Engine) headerForEstimate(blockNumber uint64) *types.Header {
	if block, ok := e.chain.BlockByNumber(blockNumber); ok {
		return block.Header()
	}
	parent := e.chain.LastBlock()
	h := *parent.Header()
	return &h
}

func toAnySlice[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

// withGas returns a copy of tx with its gas limit replaced by gas. The copy
// is never signed or submitted: run_call resolves its sender explicitly
// (see provider/mempool's doc comment on the same convention), so an
// unsigned trial transaction is sufficient here.
func withGas(tx *types.Transaction, gas uint64) *types.Transaction {
	switch tx.Type() {
	case types.DynamicFeeTxType:
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:    tx.ChainId(),
			Nonce:      tx.Nonce(),
			GasTipCap:  tx.GasTipCap(),
			GasFeeCap:  tx.GasFeeCap(),
			Gas:        gas,
			To:         tx.To(),
			Value:      tx.Value(),
			Data:       tx.Data(),
			AccessList: tx.AccessList(),
		})
	case types.AccessListTxType:
		return types.NewTx(&types.AccessListTx{
			ChainID:    tx.ChainId(),
			Nonce:      tx.Nonce(),
			GasPrice:   tx.GasPrice(),
			Gas:        gas,
			To:         tx.To(),
			Value:      tx.Value(),
			Data:       tx.Data(),
			AccessList: tx.AccessList(),
		})
	default:
		return types.NewTx(&types.LegacyTx{
			Nonce:    tx.Nonce(),
			GasPrice: tx.GasPrice(),
			Gas:      gas,
			To:       tx.To(),
			Value:    tx.Value(),
			Data:     tx.Data(),
		})
	}
}
