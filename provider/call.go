package provider

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/edr-go/provider/provider/evmgateway"
	"github.com/edr-go/provider/provider/evmstate"
)

// Call implements C9's run_call (spec.md §4.9): executes tx against the
// state at spec with an overlay of transient overrides, never mutating
// blockchain or mempool.
func (e *Engine) Call(tx *types.Transaction, sender common.Address, spec BlockSpec, overrides *evmstate.State) (*evmgateway.CallResult, error) {
	state, err := e.stateAt(spec)
	if err != nil {
		return nil, err
	}
	number, _, err := e.resolveBlockNumber(spec)
	if err != nil {
		return nil, err
	}
	header := e.headerForEstimate(number)
	hfSpec := e.chain.SpecAtBlockNumber(number)

	res, err := e.gateway.RunCall(context.Background(), tx, sender, state, overrides, header, hfSpec, e.chain.ChainID())
	if err != nil {
		return nil, err
	}
	if e.config.BailOnCallFailure {
		if failure := callResultFailure(res); failure != nil {
			return res, failure
		}
	}
	return res, nil
}

// DebugTraceTransaction implements C9's debug_trace_transaction (spec.md
// §4.9): loads the block containing hash, replays every preceding
// transaction over the parent state, then traces the target transaction.
func (e *Engine) DebugTraceTransaction(hash common.Hash, tracerConfig any) (*evmgateway.TraceResult, error) {
	target, _, found := e.TransactionByHash(hash)
	if !found {
		return nil, &InvalidBlockSpecError{Detail: "transaction " + hash.String() + " not found"}
	}

	var block *types.Block
	for n := e.chain.LastBlockNumber(); ; n-- {
		b, ok := e.chain.BlockByNumber(n)
		if ok {
			for _, t := range b.Transactions() {
				if t.Hash() == hash {
					block = b
				}
			}
		}
		if block != nil || n == 0 {
			break
		}
	}
	if block == nil {
		return nil, &InvalidBlockSpecError{Detail: "block for transaction " + hash.String() + " not found"}
	}

	parentNumber := block.NumberU64()
	if parentNumber > 0 {
		parentNumber--
	}
	parentState, err := e.chain.StateAtBlockNumber(parentNumber)
	if err != nil {
		return nil, err
	}
	parentState = e.irregular.ApplyThrough(parentState, parentNumber)

	return e.gateway.DebugTraceTransaction(context.Background(), block, parentState, target, tracerConfig)
}
