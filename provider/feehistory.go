package provider

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"

	"github.com/edr-go/provider/provider/blockchain"
)

// FeeHistoryResult is fee_history's output (spec.md §4.11): one entry per
// height in [oldestBlock, oldestBlock+len(GasUsedRatio)-1], plus the next
// block's projected base fee appended to BaseFeePerGas.
type FeeHistoryResult struct {
	OldestBlock   uint64
	BaseFeePerGas []*uint256.Int
	GasUsedRatio  []float64
	Reward        [][]*uint256.Int
}

// FeeHistory implements C11's fee_history (spec.md §4.11).
func (e *Engine) FeeHistory(blockCount uint64, newestBlockSpec BlockSpec, percentiles []float64) (*FeeHistoryResult, error) {
	newestNumber, isPending, err := e.resolveBlockNumber(newestBlockSpec)
	if err != nil {
		return nil, err
	}
	currentSpec := e.chain.SpecAtBlockNumber(e.chain.LastBlockNumber())
	if currentSpec < blockchain.SpecLondon {
		return nil, &UnmetHardforkError{Op: "fee_history", MinSpec: blockchain.SpecLondon.String(), Current: currentSpec.String()}
	}

	var oldestBlockNumber uint64
	if newestNumber+1 > blockCount {
		oldestBlockNumber = newestNumber + 1 - blockCount
	}
	result := &FeeHistoryResult{OldestBlock: oldestBlockNumber}

	// Step 3: materialize the pending block as a throwaway, never committed.
	var pendingHeader *types.Header
	var pendingTxs types.Transactions
	if isPending {
		mined, err := e.mineThrowawayBlock(nil, nil)
		if err != nil {
			return nil, err
		}
		pendingHeader = mined.Block.Header()
		pendingTxs = mined.Block.Transactions()
	}

	from := oldestBlockNumber

	// Step 4: delegate the pre-fork prefix to the remote node.
	if forked, ok := e.chain.(*blockchain.Forked); ok && from <= forked.ForkBlockNumber() {
		remoteTo := newestNumber
		if remoteTo > forked.ForkBlockNumber() {
			remoteTo = forked.ForkBlockNumber()
		}
		remote, err := forked.RPCClient().FeeHistory(context.Background(), remoteTo-from+1, rpc.BlockNumber(remoteTo), percentiles)
		if err != nil {
			return nil, err
		}
		// The remote response ends with its projection for the block after
		// remoteTo; that entry comes from the local window instead.
		remoteFees := remote.BaseFeePerGas
		if len(remoteFees) > len(remote.GasUsedRatio) {
			remoteFees = remoteFees[:len(remote.GasUsedRatio)]
		}
		for _, b := range remoteFees {
			v, _ := uint256.FromBig(b)
			result.BaseFeePerGas = append(result.BaseFeePerGas, v)
		}
		result.GasUsedRatio = append(result.GasUsedRatio, remote.GasUsedRatio...)
		for _, row := range remote.Reward {
			var r []*uint256.Int
			for _, x := range row {
				v, _ := uint256.FromBig(x)
				r = append(r, v)
			}
			result.Reward = append(result.Reward, r)
		}
		from = forked.ForkBlockNumber() + 1
	}

	// Step 5: local heights up to and including newestNumber.
	for h := from; h <= newestNumber; h++ {
		block, ok := e.chain.BlockByNumber(h)
		if !ok {
			continue
		}
		header := block.Header()
		appendFeeHistoryEntry(result, header, block.Transactions(), percentiles)
	}

	// The pending block, if requested, with reward always zeroed.
	if isPending {
		appendFeeHistoryEntry(result, pendingHeader, pendingTxs, nil)
		if len(percentiles) > 0 {
			zeros := make([]*uint256.Int, len(percentiles))
			for i := range zeros {
				zeros[i] = uint256.NewInt(0)
			}
			result.Reward = append(result.Reward, zeros)
		}
	}

	// Step 6: the base fee of the block after the newest one in the window.
	var lastHeader *types.Header
	if isPending {
		lastHeader = pendingHeader
	} else if block, ok := e.chain.BlockByNumber(newestNumber); ok {
		lastHeader = block.Header()
	}
	var lastBaseFee *uint256.Int
	var lastGasUsed, lastGasLimit uint64
	if lastHeader != nil {
		lastBaseFee = headerBaseFee(lastHeader)
		lastGasUsed, lastGasLimit = lastHeader.GasUsed, lastHeader.GasLimit
	} else {
		lastBaseFee = uint256.NewInt(0)
	}
	result.BaseFeePerGas = append(result.BaseFeePerGas, calculateNextBaseFee(lastBaseFee, lastGasUsed, lastGasLimit))

	return result, nil
}

func appendFeeHistoryEntry(result *FeeHistoryResult, header *types.Header, txs types.Transactions, percentiles []float64) {
	baseFee := headerBaseFee(header)
	result.BaseFeePerGas = append(result.BaseFeePerGas, baseFee)

	var ratio float64
	if header.GasLimit > 0 {
		ratio = float64(header.GasUsed) / float64(header.GasLimit)
	}
	result.GasUsedRatio = append(result.GasUsedRatio, ratio)

	if len(percentiles) > 0 {
		result.Reward = append(result.Reward, computeRewards(txs, baseFee, percentiles))
	}
}

func headerBaseFee(h *types.Header) *uint256.Int {
	if h == nil || h.BaseFee == nil {
		return uint256.NewInt(0)
	}
	v, _ := uint256.FromBig(h.BaseFee)
	return v
}

// computeRewards implements spec.md §4.11 step 5's per-tx reward
// computation: the effective priority fee actually paid by each
// transaction in the block, picked out at the requested percentiles.
func computeRewards(txs types.Transactions, baseFee *uint256.Int, percentiles []float64) []*uint256.Int {
	tips := make([]*uint256.Int, 0, len(txs))
	for _, tx := range txs {
		gasTipCap, _ := uint256.FromBig(tx.GasTipCap())
		gasFeeCap, _ := uint256.FromBig(tx.GasFeeCap())
		headroom := new(uint256.Int)
		if gasFeeCap.Cmp(baseFee) > 0 {
			headroom.Sub(gasFeeCap, baseFee)
		}
		tip := gasTipCap
		if headroom.Cmp(gasTipCap) < 0 {
			tip = headroom
		}
		tips = append(tips, tip)
	}
	sort.Slice(tips, func(i, j int) bool { return tips[i].Cmp(tips[j]) < 0 })

	out := make([]*uint256.Int, len(percentiles))
	for i := range percentiles {
		if len(tips) == 0 {
			out[i] = uint256.NewInt(0)
			continue
		}
		idx := int(percentiles[i] / 100 * float64(len(tips)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(tips) {
			idx = len(tips) - 1
		}
		out[i] = tips[idx]
	}
	return out
}
