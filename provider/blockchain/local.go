package blockchain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"

	"github.com/edr-go/provider/provider/evmstate"
)

// Local is the non-forked Chain variant: every block from genesis is
// materialized and held in memory, grounded on the in-memory block/receipt
// slices _examples/other_examples/3577daa1_..._simulated.go.go's
// SimulatedBackend keeps for its dev chain.
type Local struct {
	chainID    *big.Int
	config     *params.ChainConfig
	baseHeight uint64 // height of blocks[0]; 0 for a from-genesis chain, forkBlockNumber for Forked's local tail

	genesis  *evmstate.State
	blocks   []*types.Block // index i holds height baseHeight+i
	diffs    []evmstate.Diff
	receipts [][]*types.Receipt

	spans []span
}

// NewLocal constructs a from-genesis Local chain seeded with genesis and
// its state.
func NewLocal(chainID *big.Int, config *params.ChainConfig, genesisBlock *types.Block, genesisState *evmstate.State) *Local {
	return newLocalAt(chainID, config, 0, genesisBlock, genesisState)
}

// newLocalAt constructs a Local chain whose first stored block sits at
// baseHeight, used by Forked to host the locally-mined tail above the fork
// point.
func newLocalAt(chainID *big.Int, config *params.ChainConfig, baseHeight uint64, baseBlock *types.Block, baseState *evmstate.State) *Local {
	return &Local{
		chainID:    chainID,
		config:     config,
		baseHeight: baseHeight,
		genesis:    baseState,
		blocks:     []*types.Block{baseBlock},
		diffs:      []evmstate.Diff{{}},
		receipts:   [][]*types.Receipt{nil},
	}
}

func (l *Local) ChainID() *big.Int { return l.chainID }

func (l *Local) SpecAtBlockNumber(number uint64) Spec {
	ts := uint64(0)
	if b, ok := l.BlockByNumber(number); ok {
		ts = b.Time()
	}
	return SpecAtBlockNumber(l.config, number, ts)
}

// realHeight is the highest height actually materialized (not synthesized).
func (l *Local) realHeight() uint64 { return l.baseHeight + uint64(len(l.blocks)) - 1 }

func (l *Local) LastBlockNumber() uint64 {
	if len(l.spans) == 0 {
		return l.realHeight()
	}
	return l.spans[len(l.spans)-1].lastHeight()
}

func (l *Local) LastBlock() *types.Block {
	b, _ := l.BlockByNumber(l.LastBlockNumber())
	return b
}

func (l *Local) BlockByNumber(number uint64) (*types.Block, bool) {
	if number >= l.baseHeight && number <= l.realHeight() {
		return l.blocks[number-l.baseHeight], true
	}
	for _, s := range l.spans {
		if number >= s.startHeight && number <= s.lastHeight() {
			return types.NewBlockWithHeader(s.synthesize(number)), true
		}
	}
	return nil, false
}

func (l *Local) BlockByHash(hash common.Hash) (*types.Block, bool) {
	for _, b := range l.blocks {
		if b.Hash() == hash {
			return b, true
		}
	}
	for _, s := range l.spans {
		for n := s.startHeight; n <= s.lastHeight(); n++ {
			h := s.synthesize(n)
			if h.Hash() == hash {
				return types.NewBlockWithHeader(h), true
			}
		}
	}
	return nil, false
}

// InsertBlock appends block with its state diff and receipts, the one
// insertion path blocks ever go through (spec.md §3 "inserted once; never
// modified"). Reservations are cleared: insertion only happens once the
// mempool has transactions again, ending the empty-block span.
func (l *Local) InsertBlock(block *types.Block, diff evmstate.Diff, receipts types.Receipts) (*BlockAndTotalDifficulty, error) {
	if len(l.spans) != 0 {
		return nil, fmt.Errorf("cannot insert block %d while reservations are pending; reconcile spans first", block.NumberU64())
	}
	want := l.realHeight() + 1
	if block.NumberU64() != want {
		return nil, fmt.Errorf("non-contiguous insert: chain at height %d, got block %d", want-1, block.NumberU64())
	}
	l.blocks = append(l.blocks, block)
	l.diffs = append(l.diffs, diff)
	l.receipts = append(l.receipts, receipts)
	return &BlockAndTotalDifficulty{Block: block, TotalDifficulty: big.NewInt(0)}, nil
}

// localIndex converts a height to an index into blocks/diffs/receipts;
// callers must have already checked baseHeight <= height <= realHeight().
func (l *Local) localIndex(height uint64) uint64 { return height - l.baseHeight }

// ReserveBlocks records count conceptually-empty blocks in O(1), per
// spec.md §4.6. Callers are responsible for only reserving while the
// mempool is empty.
func (l *Local) ReserveBlocks(count uint64, interval uint64) error {
	if count == 0 {
		return nil
	}
	parent := l.LastBlock()
	state, err := l.StateAtBlockNumber(l.LastBlockNumber())
	if err != nil {
		return err
	}
	l.spans = append(l.spans, span{
		startHeight:    l.LastBlockNumber() + 1,
		count:          count,
		interval:       interval,
		baseTimestamp:  parent.Time(),
		basePrevRandao: parent.MixDigest(),
		parentHash:     parent.Hash(),
		stateRoot:      state.Root(),
	})
	log.Debug("reserved empty block span", "start", l.LastBlockNumber()-count+1, "count", count)
	return nil
}

// RevertToBlock discards every block above n, including shrinking or
// dropping reservation spans that extend past n.
func (l *Local) RevertToBlock(number uint64) error {
	if number > l.LastBlockNumber() {
		return &InvalidBlockSpecError{Detail: fmt.Sprintf("cannot revert forward to block %d", number)}
	}
	if number >= l.baseHeight && number <= l.realHeight() {
		end := l.localIndex(number) + 1
		l.blocks = l.blocks[:end]
		l.diffs = l.diffs[:end]
		l.receipts = l.receipts[:end]
		l.spans = nil
		return nil
	}
	var kept []span
	for _, s := range l.spans {
		if s.lastHeight() <= number {
			kept = append(kept, s)
			continue
		}
		if number >= s.startHeight {
			s.count = number - s.startHeight + 1
			kept = append(kept, s)
		}
		break
	}
	l.spans = kept
	return nil
}

// ReceiptsAtBlockNumber returns the receipts produced when number was
// inserted, or false for a synthesized reservation-span height (which never
// carries transactions) or an out-of-range height.
func (l *Local) ReceiptsAtBlockNumber(number uint64) (types.Receipts, bool) {
	if number < l.baseHeight || number > l.realHeight() {
		return nil, false
	}
	return l.receipts[l.localIndex(number)], true
}

func (l *Local) Logs(fromBlock, toBlock uint64, addresses []common.Address, topics [][]common.Hash) ([]*types.Log, error) {
	if toBlock > l.realHeight() {
		toBlock = l.realHeight()
	}
	if fromBlock < l.baseHeight {
		fromBlock = l.baseHeight
	}
	var out []*types.Log
	for n := fromBlock; n <= toBlock && n <= l.realHeight(); n++ {
		for _, r := range l.receipts[l.localIndex(n)] {
			for _, lg := range r.Logs {
				if matchAddr(lg.Address, addresses) && matchTopics(lg.Topics, topics) {
					out = append(out, lg)
				}
			}
		}
	}
	return out, nil
}

func matchAddr(addr common.Address, addresses []common.Address) bool {
	if len(addresses) == 0 {
		return true
	}
	for _, a := range addresses {
		if a == addr {
			return true
		}
	}
	return false
}

func matchTopics(logTopics []common.Hash, criteria [][]common.Hash) bool {
	if len(criteria) > len(logTopics) {
		return false
	}
	for i, sub := range criteria {
		if len(sub) == 0 {
			continue
		}
		found := false
		for _, want := range sub {
			if want == logTopics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// StateAtBlockNumber replays diffs from genesis cumulatively up to n. A
// height inside a reservation span carries no diff of its own (spans are
// only created while the mempool is empty), so it shares the state of the
// span's starting height.
func (l *Local) StateAtBlockNumber(number uint64) (*evmstate.State, error) {
	target := number
	if target > l.realHeight() {
		for _, s := range l.spans {
			if number >= s.startHeight && number <= s.lastHeight() {
				target = s.startHeight - 1
				break
			}
		}
	}
	if target > l.realHeight() {
		return nil, &InvalidBlockSpecError{Detail: fmt.Sprintf("block %d not found", number)}
	}
	state := l.genesis.Clone()
	for n := l.baseHeight + 1; n <= target; n++ {
		state = l.diffs[l.localIndex(n)].Apply(state)
	}
	return state, nil
}
