package provider

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/edr-go/provider/provider/blockchain"
	"github.com/edr-go/provider/provider/clock"
	"github.com/edr-go/provider/provider/console"
	"github.com/edr-go/provider/provider/evmgateway"
	"github.com/edr-go/provider/provider/mempool"
	"github.com/edr-go/provider/provider/pfilters"
)

// EIP-1559 base-fee adjustment constants, grounded on
// consensus/misc/eip1559's BaseFeeChangeDenominator/ElasticityMultiplier
// (reimplemented directly over uint256 rather than importing the
// consensus package, which drags in a full chain-config/engine
// dependency this dev-mode engine does not otherwise need).
const (
	baseFeeChangeDenominator = 8
	elasticityMultiplier     = 2
)

func calculateNextBaseFee(parentBaseFee *uint256.Int, parentGasUsed, parentGasLimit uint64) *uint256.Int {
	if parentBaseFee == nil || parentGasLimit == 0 {
		return uint256.NewInt(DefaultInitialBaseFeePerGas)
	}
	target := parentGasLimit / elasticityMultiplier
	if target == 0 || parentGasUsed == target {
		return new(uint256.Int).Set(parentBaseFee)
	}
	if parentGasUsed > target {
		delta := parentGasUsed - target
		change := new(uint256.Int).Mul(parentBaseFee, uint256.NewInt(delta))
		change.Div(change, uint256.NewInt(target))
		change.Div(change, uint256.NewInt(baseFeeChangeDenominator))
		if change.IsZero() {
			change = uint256.NewInt(1)
		}
		return new(uint256.Int).Add(parentBaseFee, change)
	}
	delta := target - parentGasUsed
	change := new(uint256.Int).Mul(parentBaseFee, uint256.NewInt(delta))
	change.Div(change, uint256.NewInt(target))
	change.Div(change, uint256.NewInt(baseFeeChangeDenominator))
	if change.Cmp(parentBaseFee) >= 0 {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Sub(parentBaseFee, change)
}

// nextBaseFee resolves the next block's base fee: the sticky
// next_block_base_fee_per_gas if set, else computed from the latest
// header, per spec.md §4.11 step 6 / §3 invariant 5.
func (e *Engine) nextBaseFee() (*uint256.Int, error) {
	if e.nextBlockBaseFeePerGas != nil {
		return e.nextBlockBaseFeePerGas, nil
	}
	latest := e.chain.LastBlock()
	var parentBaseFee *uint256.Int
	if latest.BaseFee() != nil {
		parentBaseFee, _ = uint256.FromBig(latest.BaseFee())
	}
	return calculateNextBaseFee(parentBaseFee, latest.GasUsed(), latest.GasLimit()), nil
}

// SetNextBlockBaseFeePerGas primes the sticky base fee for the next mined
// block; errors pre-London (spec.md §7 "Unsupported config").
func (e *Engine) SetNextBlockBaseFeePerGas(fee *uint256.Int) error {
	if e.chain.SpecAtBlockNumber(e.chain.LastBlockNumber()+1) < blockchain.SpecLondon {
		return &UnsupportedConfigError{Detail: "set_next_block_base_fee_per_gas requires London"}
	}
	e.nextBlockBaseFeePerGas = fee
	return nil
}

// SetNextBlockTimestamp primes the sticky timestamp for the next mined
// block (spec.md §4.1 step 3).
func (e *Engine) SetNextBlockTimestamp(ts uint64) error {
	latest := e.chain.LastBlock().Time()
	if ts <= latest && !e.config.AllowBlocksWithSameTimestamp {
		return &clock.TimestampLowerThanPreviousError{Requested: ts, Latest: latest}
	}
	e.nextBlockTimestamp = &ts
	return nil
}

// SetNextPrevRandao primes the next post-Merge randomness value.
func (e *Engine) SetNextPrevRandao(value [32]byte) error {
	if e.chain.SpecAtBlockNumber(e.chain.LastBlockNumber()+1) < blockchain.SpecMerge {
		return &UnsupportedConfigError{Detail: "set_next_prev_randao requires the Merge"}
	}
	e.randao.SetNext(value)
	return nil
}

// SetAutoMining flips the auto-mine state machine (spec.md §4.12).
func (e *Engine) SetAutoMining(on bool) { e.autoMine = on }

// AutoMining reports the current auto-mine flag.
func (e *Engine) AutoMining() bool { return e.autoMine }

// SetBlockGasLimit updates the mempool's admission/mining limit.
func (e *Engine) SetBlockGasLimit(limit uint64) {
	e.config.BlockGasLimit = limit
	e.mempool.SetBlockGasLimit(limit)
}

// SetMinGasPrice updates the pre-London admission floor; errors post-London
// (spec.md §7 "Unsupported config").
func (e *Engine) SetMinGasPrice(price *uint256.Int) error {
	if e.chain.SpecAtBlockNumber(e.chain.LastBlockNumber()) >= blockchain.SpecLondon {
		return &UnsupportedConfigError{Detail: "set_min_gas_price is unsupported post-London"}
	}
	e.config.MinGasPrice = price
	return nil
}

// nextTimestamp picks the next block's timestamp via the clock algorithm
// (spec.md §4.1), consuming any sticky value (cleared by the caller on
// successful commit).
func (e *Engine) nextTimestamp(requested *uint64) (uint64, error) {
	return e.clock.NextTimestamp(clock.TimestampRequest{
		Latest:             e.chain.LastBlock().Time(),
		Requested:          requested,
		Sticky:             e.nextBlockTimestamp,
		AllowSameTimestamp: e.config.AllowBlocksWithSameTimestamp,
	})
}

// mineOneBlock runs the gateway's mine_block over the current committed
// state and mempool contents, without inserting or reconciling anything
// (the shared core of mine-and-commit, throwaway pending-block
// materialization, and fee-history's throwaway pending block).
func (e *Engine) mineOneBlock(requestedTimestamp *uint64, requestedRandao *[32]byte) (*evmgateway.MineResult, *types.Header, error) {
	state, err := e.currentState()
	if err != nil {
		return nil, nil, err
	}
	timestamp, err := e.nextTimestamp(requestedTimestamp)
	if err != nil {
		return nil, nil, err
	}

	parent := e.chain.LastBlock()
	number := parent.NumberU64() + 1
	spec := e.chain.SpecAtBlockNumber(number)

	var randao [32]byte
	if requestedRandao != nil {
		randao = *requestedRandao
	} else if spec >= blockchain.SpecMerge {
		randao = e.randao.Next()
	}

	header := &types.Header{
		ParentHash: parent.Hash(),
		Number:     new(big.Int).SetUint64(number),
		Coinbase:   e.coinbase,
		Time:       timestamp,
		GasLimit:   e.blockGasLimit(),
		MixDigest:  randao,
	}
	if spec < blockchain.SpecMerge {
		header.Difficulty = big.NewInt(1)
	}

	var baseFee *uint256.Int
	if spec >= blockchain.SpecLondon {
		baseFee, err = e.nextBaseFee()
		if err != nil {
			return nil, nil, err
		}
		header.BaseFee = baseFee.ToBig()
	}

	minGasPrice := e.config.MinGasPrice
	if minGasPrice == nil {
		minGasPrice = uint256.NewInt(0)
	}

	result, err := e.gateway.MineBlock(
		context.Background(),
		state,
		e.mempool.Pending(baseFee),
		header,
		spec,
		e.chain.ChainID(),
		minGasPrice,
		uint256.NewInt(0), // reward: 0 in this PoS/dev chain (spec.md §4.9)
		baseFee,
		e.config.MempoolOrder,
		e.daoActivationBlock(),
	)
	if err != nil {
		return nil, nil, err
	}
	return result, header, nil
}

func (e *Engine) blockGasLimit() uint64 {
	if e.config.BlockGasLimit != 0 {
		return e.config.BlockGasLimit
	}
	return e.chain.LastBlock().GasLimit()
}

// daoActivationBlock resolves the DAO fork activation height for the
// currently configured chain id from the per-chain schedule (spec.md §6
// "chains"), if present.
func (e *Engine) daoActivationBlock() *uint64 {
	cfg, ok := e.config.Chains[e.chain.ChainID().Uint64()]
	if !ok || cfg.DAOForkBlock == nil {
		return nil
	}
	n := cfg.DAOForkBlock.Uint64()
	return &n
}

// mineThrowawayBlock mines a candidate block without inserting or
// reconciling the mempool against it, used for pending-block reads
// (spec.md §4.9) and fee-history's throwaway pending block (spec.md §4.11
// step 3).
func (e *Engine) mineThrowawayBlock(requestedTimestamp *uint64, requestedRandao *[32]byte) (*evmgateway.MineResult, error) {
	result, _, err := e.mineOneBlock(requestedTimestamp, requestedRandao)
	return result, err
}

// DebugMineBlockResult is mine_and_commit_block's result (spec.md §4.12).
type DebugMineBlockResult struct {
	Block              *types.Block
	TransactionResults []*evmgateway.CallResult
	ConsoleLogInputs   [][]console.Input
}

// MineAndCommitBlock implements spec.md §4.12's mine_and_commit_block:
// mine at the next timestamp, insert, reconcile the mempool, fan out to
// filters, prune expired filters, cache the post-mining state, and clear
// the sticky next-block fields.
func (e *Engine) MineAndCommitBlock(requestedTimestamp *uint64) (*DebugMineBlockResult, error) {
	result, header, err := e.mineOneBlock(requestedTimestamp, nil)
	if err != nil {
		return nil, err
	}
	block := types.NewBlockWithHeader(header).WithBody(types.Body{Transactions: result.Block.Transactions()})
	if _, err := e.chain.InsertBlock(block, result.Diff, result.Receipts); err != nil {
		return nil, err
	}
	e.nextBlockBaseFeePerGas = nil
	e.nextBlockTimestamp = nil

	e.mempool.Update(mempool.AccountInfoNonce(result.PostState), mempool.AccountInfoBalance(result.PostState))

	bloom := types.CreateBloom(result.Receipts)
	commitErr := e.filters.NotifyCommit(pfilters.CommitInput{
		BlockHash: block.Hash(),
		Bloom:     bloom,
		Logs: func() ([]*types.Log, error) {
			var logs []*types.Log
			for _, r := range result.Receipts {
				logs = append(logs, r.Logs...)
			}
			return logs, nil
		},
	})
	if commitErr != nil {
		log.Warn("filter notification failed", "err", commitErr)
	}
	e.filters.PruneExpired()

	e.cache.Add(result.PostState, block.NumberU64())
	e.newHeadFeed.Send(block)

	if err := e.config.Logger.LogIntervalMined(e.chain.SpecAtBlockNumber(block.NumberU64()).String(), result); err != nil {
		log.Warn("logger error reporting mined block", "err", err)
	}

	return &DebugMineBlockResult{
		Block:              block,
		TransactionResults: result.Results,
		ConsoleLogInputs:   result.ConsoleLogs,
	}, nil
}

// MineAndCommitBlocks implements spec.md §4.12's bulk-mining algorithm:
// mine the first block with no interval, keep mining at +interval while the
// mempool still has pending transactions, bracket the gap with one more
// block, then either mine the remainder one by one (if fewer than
// ReservationThreshold remain) or snapshot + reserve the bulk of the gap in
// O(1) and mine a final bracketing block.
func (e *Engine) MineAndCommitBlocks(n uint64, interval uint64) ([]*DebugMineBlockResult, error) {
	if n == 0 {
		return nil, nil
	}
	var results []*DebugMineBlockResult

	first, err := e.MineAndCommitBlock(nil)
	if err != nil {
		return nil, err
	}
	results = append(results, first)
	mined := uint64(1)

	for mined < n && e.mempool.Len() > 0 {
		ts := e.chain.LastBlock().Time() + interval
		r, err := e.MineAndCommitBlock(&ts)
		if err != nil {
			return results, err
		}
		results = append(results, r)
		mined++
	}

	if mined < n {
		ts := e.chain.LastBlock().Time() + interval
		r, err := e.MineAndCommitBlock(&ts)
		if err != nil {
			return results, err
		}
		results = append(results, r)
		mined++
	}

	remaining := n - mined
	if remaining == 0 {
		return results, nil
	}
	if remaining < ReservationThreshold {
		for i := uint64(0); i < remaining; i++ {
			ts := e.chain.LastBlock().Time() + interval
			r, err := e.MineAndCommitBlock(&ts)
			if err != nil {
				return results, err
			}
			results = append(results, r)
		}
		return results, nil
	}

	state, err := e.currentState()
	if err != nil {
		return results, err
	}
	preReserveID := e.cache.Add(state, e.chain.LastBlockNumber())
	if err := e.chain.ReserveBlocks(remaining-1, interval); err != nil {
		return results, err
	}
	e.cache.AliasBlock(e.chain.LastBlockNumber(), preReserveID)

	ts := e.chain.LastBlock().Time() + interval
	final, err := e.MineAndCommitBlock(&ts)
	if err != nil {
		return results, err
	}
	results = append(results, final)
	return results, nil
}

// IntervalMine mines and commits exactly one block on an automatic
// interval-mine tick.
func (e *Engine) IntervalMine() (*DebugMineBlockResult, error) {
	return e.MineAndCommitBlock(nil)
}

// SubscribeNewHeads registers ch to receive every committed block, the
// internal counterpart to pfilters' JSON-RPC-shaped block filters/
// subscriptions (SPEC_FULL.md §11).
func (e *Engine) SubscribeNewHeads(ch chan<- *types.Block) event.Subscription {
	return e.newHeadFeed.Subscribe(ch)
}
