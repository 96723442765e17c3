// Package evmgateway implements the EVM Execution Gateway (C9, spec.md
// §4.9): it assembles the CfgEnv/BlockEnv the interpreter needs and
// delegates actual bytecode execution to an injected Interpreter
// collaborator. The interpreter itself is an external, pluggable
// dependency (spec.md §1, §6) — this package never executes EVM bytecode.
//
// Grounded on how the teacher's miner.worker assembles a vm.BlockContext
// from a header before handing it to core.NewEVM (see
// _examples/other_examples/0e53a7ab_..._miner-worker.go.go), generalized so
// the actual core.NewEVM/vm.EVM call is the Interpreter's job, not this
// package's.
package evmgateway

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/edr-go/provider/provider/blockchain"
	"github.com/edr-go/provider/provider/console"
	"github.com/edr-go/provider/provider/evmstate"
	"github.com/edr-go/provider/provider/mempool"
)

// CfgEnv is the chain-level execution policy, constant for a given spec and
// configuration.
type CfgEnv struct {
	ChainID               *big.Int
	Spec                  blockchain.Spec
	LimitContractCodeSize bool // true = no limit (allowUnlimitedContractSize)
	DisableEIP3607        bool
}

// BlockEnv is the per-block execution context derived from a header:
// {number, coinbase, timestamp, gasLimit, basefee, difficulty, prevRandao,
// blobExcessGasAndPrice}.
type BlockEnv struct {
	Number        *big.Int
	Coinbase      common.Address
	Timestamp     uint64
	GasLimit      uint64
	BaseFee       *uint256.Int // zero pre-London
	Difficulty    *big.Int
	PrevRandao    common.Hash // post-Merge only
	BlobExcessGas uint64
	BlobBaseFee   *uint256.Int
}

// BlockEnvFromHeader derives a BlockEnv the way the teacher's worker builds
// a vm.BlockContext from a just-assembled header.
func BlockEnvFromHeader(h *types.Header, spec blockchain.Spec) BlockEnv {
	env := BlockEnv{
		Number:    new(big.Int).Set(h.Number),
		Coinbase:  h.Coinbase,
		Timestamp: h.Time,
		GasLimit:  h.GasLimit,
	}
	if spec >= blockchain.SpecLondon && h.BaseFee != nil {
		env.BaseFee, _ = uint256.FromBig(h.BaseFee)
	} else {
		env.BaseFee = uint256.NewInt(0)
	}
	if spec >= blockchain.SpecMerge {
		env.PrevRandao = h.MixDigest
	} else {
		env.Difficulty = new(big.Int).Set(h.Difficulty)
	}
	if h.ExcessBlobGas != nil {
		env.BlobExcessGas = *h.ExcessBlobGas
	}
	return env
}

func cfgEnv(chainID *big.Int, spec blockchain.Spec, unlimitedCodeSize bool) CfgEnv {
	return CfgEnv{
		ChainID:               chainID,
		Spec:                  spec,
		LimitContractCodeSize: unlimitedCodeSize,
		// disable_eip3607 is always on in this engine: a dev provider must
		// let calls originate "from" contract addresses (impersonation,
		// scripted deploys), per spec.md §4.9.
		DisableEIP3607: true,
	}
}

// CallResult is run_call's and a mined transaction's execution outcome.
type CallResult struct {
	ReturnData   []byte
	GasUsed      uint64
	Reverted     bool
	RevertReason string
	Logs         []*types.Log
	ConsoleLogs  []console.Input
	Trace        any // interpreter-defined trace payload (e.g. a struct logger's steps)
}

// MineResult is mine_block's output: the new block, its state diff,
// receipts, per-tx traces, captured console-log inputs, and the resulting
// post-mining state.
type MineResult struct {
	Block       *types.Block
	Diff        evmstate.Diff
	Receipts    types.Receipts
	Results     []*CallResult
	ConsoleLogs [][]console.Input
	PostState   *evmstate.State
}

// RunCallInput is everything run_call needs.
type RunCallInput struct {
	Tx        *types.Transaction
	Sender    common.Address
	State     *evmstate.State
	Overrides *evmstate.State // transient overlay; never persisted
	Block     BlockEnv
	Cfg       CfgEnv
}

// MineBlockInput is everything mine_block needs: the current state (taken
// by deep copy so the interpreter may mutate freely), the candidate
// transactions in mempool order, and mining policy.
type MineBlockInput struct {
	State              *evmstate.State
	Pending            []*types.Transaction
	SenderOf           func(common.Address) common.Address // identity unless impersonated; kept for symmetry with mempool's explicit-sender convention
	Block              BlockEnv
	Cfg                CfgEnv
	MinGasPrice        *uint256.Int
	Order              mempool.Order
	Reward             *uint256.Int // per-block miner reward, 0 in a PoS/dev chain
	NextBaseFee        *uint256.Int
	DaoActivationBlock *uint64
}

// DebugTraceInput is everything debug_trace_transaction needs.
type DebugTraceInput struct {
	Block           *types.Block
	PrecedingTxs    []*types.Transaction
	ParentState     *evmstate.State
	Target          *types.Transaction
	TracerConfig    any
}

// TraceResult is an EIP-3155-shaped structured trace, left as an
// interpreter-defined payload since this gateway never interprets bytecode
// itself.
type TraceResult struct {
	Target common.Hash
	Steps  any
}

// Interpreter is the external EVM collaborator (spec.md §6): mine_block,
// run_call, and debug_trace_transaction are all delegated here once this
// gateway has assembled their environment.
type Interpreter interface {
	RunCall(ctx context.Context, in RunCallInput) (*CallResult, error)
	MineBlock(ctx context.Context, in MineBlockInput) (*MineResult, error)
	DebugTraceTransaction(ctx context.Context, in DebugTraceInput) (*TraceResult, error)
}

// Gateway assembles execution environments and forwards to an injected
// Interpreter; it never executes bytecode itself.
type Gateway struct {
	interpreter       Interpreter
	unlimitedCodeSize bool
}

// New creates a Gateway delegating to interpreter.
func New(interpreter Interpreter, unlimitedCodeSize bool) *Gateway {
	return &Gateway{interpreter: interpreter, unlimitedCodeSize: unlimitedCodeSize}
}

// RunCall executes tx against state at header/spec with an overlay of
// transient overrides; never mutates blockchain or mempool.
func (g *Gateway) RunCall(ctx context.Context, tx *types.Transaction, sender common.Address, state *evmstate.State, overrides *evmstate.State, header *types.Header, spec blockchain.Spec, chainID *big.Int) (*CallResult, error) {
	return g.interpreter.RunCall(ctx, RunCallInput{
		Tx:        tx,
		Sender:    sender,
		State:     state,
		Overrides: overrides,
		Block:     BlockEnvFromHeader(header, spec),
		Cfg:       cfgEnv(chainID, spec, g.unlimitedCodeSize),
	})
}

// MineBlock consumes state by deep copy, drains as many pending
// transactions as fit under policy, and delegates to the interpreter.
func (g *Gateway) MineBlock(ctx context.Context, state *evmstate.State, pending []*types.Transaction, header *types.Header, spec blockchain.Spec, chainID *big.Int, minGasPrice, reward, nextBaseFee *uint256.Int, order mempool.Order, daoActivationBlock *uint64) (*MineResult, error) {
	return g.interpreter.MineBlock(ctx, MineBlockInput{
		State:              state.Clone(),
		Pending:            pending,
		Block:              BlockEnvFromHeader(header, spec),
		Cfg:                cfgEnv(chainID, spec, g.unlimitedCodeSize),
		MinGasPrice:        minGasPrice,
		Order:              order,
		Reward:             reward,
		NextBaseFee:        nextBaseFee,
		DaoActivationBlock: daoActivationBlock,
	})
}

// DebugTraceTransaction replays every transaction preceding target in
// block, over the parent state, then traces target with an EIP-3155
// tracer.
func (g *Gateway) DebugTraceTransaction(ctx context.Context, block *types.Block, parentState *evmstate.State, target *types.Transaction, tracerConfig any) (*TraceResult, error) {
	var preceding []*types.Transaction
	for _, tx := range block.Transactions() {
		if tx.Hash() == target.Hash() {
			break
		}
		preceding = append(preceding, tx)
	}
	return g.interpreter.DebugTraceTransaction(ctx, DebugTraceInput{
		Block:        block,
		PrecedingTxs: preceding,
		ParentState:  parentState,
		Target:       target,
		TracerConfig: tracerConfig,
	})
}

// PendingOverlay wraps a Chain, exposing a materialized pending block as
// the latest, so reads against a "pending" block spec observe it without
// ever persisting it (spec.md §4.9 "Pending-block execution").
type PendingOverlay struct {
	blockchain.Chain
	pendingBlock *types.Block
	pendingState *evmstate.State
}

// NewPendingOverlay wraps base so LastBlock/LastBlockNumber/BlockByNumber/
// StateAtBlockNumber observe pendingBlock as if it were committed, without
// mutating base.
func NewPendingOverlay(base blockchain.Chain, pendingBlock *types.Block, pendingState *evmstate.State) *PendingOverlay {
	return &PendingOverlay{Chain: base, pendingBlock: pendingBlock, pendingState: pendingState}
}

func (p *PendingOverlay) LastBlock() *types.Block { return p.pendingBlock }
func (p *PendingOverlay) LastBlockNumber() uint64 { return p.pendingBlock.NumberU64() }

func (p *PendingOverlay) BlockByNumber(number uint64) (*types.Block, bool) {
	if number == p.pendingBlock.NumberU64() {
		return p.pendingBlock, true
	}
	return p.Chain.BlockByNumber(number)
}

func (p *PendingOverlay) StateAtBlockNumber(number uint64) (*evmstate.State, error) {
	if number == p.pendingBlock.NumberU64() {
		return p.pendingState, nil
	}
	return p.Chain.StateAtBlockNumber(number)
}
