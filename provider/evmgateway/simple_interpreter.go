package evmgateway

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/edr-go/provider/provider/console"
	"github.com/edr-go/provider/provider/evmstate"
)

// SimpleInterpreter is a reference Interpreter sufficient for exercising
// this gateway's wiring and for tests: it executes plain value transfers (to
// a non-contract recipient, zero calldata) by debiting the sender and
// crediting the recipient, and recognizes calls to console.sol's fixed
// address as console.log calls, decoding and surfacing them via
// CallResult/MineResult's ConsoleLogs rather than attempting a transfer. A
// real deployment injects a full bytecode EVM instead; this package never
// assumes one.
type SimpleInterpreter struct{}

func (SimpleInterpreter) RunCall(_ context.Context, in RunCallInput) (*CallResult, error) {
	state := in.State.Clone()
	if in.Overrides != nil {
		for _, addr := range in.Overrides.Addresses() {
			state.SetAccount(addr, in.Overrides.Account(addr))
		}
	}
	if log, ok := decodeConsoleCall(in.Tx); ok {
		return &CallResult{GasUsed: params21000, ConsoleLogs: []console.Input{*log}}, nil
	}
	if err := transfer(state, in.Sender, in.Tx); err != nil {
		return &CallResult{Reverted: true, RevertReason: err.Error(), GasUsed: params21000}, nil
	}
	return &CallResult{GasUsed: params21000}, nil
}

func (SimpleInterpreter) MineBlock(_ context.Context, in MineBlockInput) (*MineResult, error) {
	state := in.State.Clone()
	diff := evmstate.Diff{}
	var receipts types.Receipts
	var results []*CallResult
	var consoleLogs [][]console.Input
	var gasUsed uint64

	for _, tx := range in.Pending {
		if gasUsed+params21000 > in.Block.GasLimit {
			break
		}
		if log, ok := decodeConsoleCall(tx); ok {
			gasUsed += params21000
			results = append(results, &CallResult{GasUsed: params21000, ConsoleLogs: []console.Input{*log}})
			consoleLogs = append(consoleLogs, []console.Input{*log})
			receipts = append(receipts, &types.Receipt{
				Type:              tx.Type(),
				Status:            types.ReceiptStatusSuccessful,
				CumulativeGasUsed: gasUsed,
				TxHash:            tx.Hash(),
				GasUsed:           params21000,
			})
			continue
		}
		sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
		if err != nil {
			continue
		}
		if err := transfer(state, sender, tx); err != nil {
			results = append(results, &CallResult{Reverted: true, RevertReason: err.Error()})
			continue
		}
		gasUsed += params21000
		results = append(results, &CallResult{GasUsed: params21000})
		consoleLogs = append(consoleLogs, nil)
		receipts = append(receipts, &types.Receipt{
			Type:              tx.Type(),
			Status:            types.ReceiptStatusSuccessful,
			CumulativeGasUsed: gasUsed,
			TxHash:            tx.Hash(),
			GasUsed:           params21000,
		})
	}
	// Diff.Apply replaces an account wholesale, so recording every touched
	// address's final value (rather than computing a minimal delta) is
	// sufficient and simpler.
	for _, addr := range state.Addresses() {
		diff.Accounts = append(diff.Accounts, evmstate.AccountDiff{Address: addr, Info: state.Account(addr)})
	}

	header := &types.Header{
		Number:     in.Block.Number,
		Coinbase:   in.Block.Coinbase,
		Time:       in.Block.Timestamp,
		GasLimit:   in.Block.GasLimit,
		GasUsed:    gasUsed,
		Difficulty: in.Block.Difficulty,
		MixDigest:  in.Block.PrevRandao,
	}
	if in.Block.BaseFee != nil && !in.Block.BaseFee.IsZero() {
		header.BaseFee = in.Block.BaseFee.ToBig()
	}
	block := types.NewBlockWithHeader(header).WithBody(types.Body{Transactions: in.Pending})
	return &MineResult{
		Block:       block,
		Diff:        diff,
		Receipts:    receipts,
		Results:     results,
		ConsoleLogs: consoleLogs,
		PostState:   state,
	}, nil
}

func (SimpleInterpreter) DebugTraceTransaction(_ context.Context, in DebugTraceInput) (*TraceResult, error) {
	return &TraceResult{Target: in.Target.Hash(), Steps: nil}, nil
}

const params21000 = 21000

// decodeConsoleCall recognizes a call targeting console.sol's fixed address
// (C9 "captured console-log inputs") and decodes it, so a run_call or
// mine_block exercising a console.log call surfaces it on the result
// instead of being rejected as an unsupported contract call.
func decodeConsoleCall(tx *types.Transaction) (*console.Input, bool) {
	to := tx.To()
	if to == nil || *to != console.Address {
		return nil, false
	}
	return console.Decode(tx.Data())
}

func transfer(state *evmstate.State, sender common.Address, tx *types.Transaction) error {
	to := tx.To()
	if to == nil || len(tx.Data()) > 0 {
		return fmt.Errorf("SimpleInterpreter only executes plain value transfers")
	}
	cost, overflow := uint256.FromBig(tx.Cost())
	if overflow {
		return fmt.Errorf("transaction cost overflows 256 bits")
	}
	from := state.Account(sender)
	if from == nil {
		from = &evmstate.AccountInfo{Balance: uint256.NewInt(0)}
	}
	if from.Balance.Lt(cost) {
		return fmt.Errorf("insufficient balance for transfer")
	}
	value, _ := uint256.FromBig(tx.Value())
	from.Balance = new(uint256.Int).Sub(from.Balance, cost)
	from.Nonce++
	state.SetAccount(sender, from)

	recipient := state.Account(*to)
	if recipient == nil {
		recipient = &evmstate.AccountInfo{Balance: uint256.NewInt(0)}
	}
	recipient.Balance = new(uint256.Int).Add(recipient.Balance, value)
	state.SetAccount(*to, recipient)
	return nil
}
