package provider

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/edr-go/provider/provider/clock"
	"github.com/edr-go/provider/provider/irregular"
	"github.com/edr-go/provider/provider/mempool"
	"github.com/edr-go/provider/provider/statecache"
)

// snapshotRecord is a developer-visible Snapshot (C8, spec.md §4.8),
// distinct from an EVM state snapshot: a restorable checkpoint of the
// entire engine state rather than just an account/storage map.
type snapshotRecord struct {
	blockNumber            uint64
	blockNumberToStateID   map[uint64]statecache.StateId
	blockTimeOffsetSeconds int64
	coinbase               common.Address
	irregularState         *irregular.IrregularState
	mempool                *mempool.Pool
	nextBlockBaseFeePerGas *uint256.Int
	nextBlockTimestamp     *uint64
	randaoSeed             [32]byte
	randaoCalls            uint64
	wallClockAnchor        time.Time
}

// MakeSnapshot captures the engine's full mutable state, keyed by a 64-bit
// id starting at 1 and incremented per snapshot (spec.md §4.8).
func (e *Engine) MakeSnapshot() uint64 {
	e.nextSnapshotID++
	id := e.nextSnapshotID
	e.snapshots[id] = &snapshotRecord{
		blockNumber:            e.chain.LastBlockNumber(),
		blockNumberToStateID:   e.cache.Snapshot(),
		blockTimeOffsetSeconds: e.clock.OffsetSeconds(),
		coinbase:               e.coinbase,
		irregularState:         e.irregular.Clone(),
		mempool:                e.mempool.Clone(),
		nextBlockBaseFeePerGas: e.nextBlockBaseFeePerGas,
		nextBlockTimestamp:     e.nextBlockTimestamp,
		randaoSeed:             e.randao.Seed(),
		randaoCalls:            e.randao.CallCount(),
		wallClockAnchor:        e.config.nowFunc()(),
	}
	return id
}

// RevertToSnapshot implements spec.md §4.8's revert_to_snapshot: drop all
// snapshots with id >= target, reconstruct the offset relative to elapsed
// wall-clock time, revert the chain, and restore every captured field.
// Reports false (without error) if target was never captured or has already
// been consumed.
func (e *Engine) RevertToSnapshot(target uint64) (bool, error) {
	rec, ok := e.snapshots[target]
	if !ok {
		return false, nil
	}
	for id := range e.snapshots {
		if id >= target {
			delete(e.snapshots, id)
		}
	}

	elapsed := e.config.nowFunc()().Sub(rec.wallClockAnchor)
	e.clock.SetOffsetSeconds(rec.blockTimeOffsetSeconds + int64(elapsed.Truncate(time.Second).Seconds()))

	if err := e.chain.RevertToBlock(rec.blockNumber); err != nil {
		return false, err
	}

	e.cache.Restore(rec.blockNumberToStateID)
	e.coinbase = rec.coinbase
	e.irregular.Restore(rec.irregularState)
	e.mempool.Restore(rec.mempool)
	e.nextBlockBaseFeePerGas = rec.nextBlockBaseFeePerGas
	e.nextBlockTimestamp = rec.nextBlockTimestamp
	e.randao = clock.Restore(rec.randaoSeed, rec.randaoCalls)

	return true, nil
}
