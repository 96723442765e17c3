package blockchain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// span is the reserve_blocks descriptor from spec.md §4.6: a range of
// conceptually-empty blocks recorded in O(1) instead of materialized. A
// later lookup inside [startHeight, startHeight+count-1] synthesizes a
// placeholder header deterministically from this descriptor.
type span struct {
	startHeight    uint64 // height of the first reserved block
	count          uint64
	interval       uint64
	baseTimestamp  uint64 // timestamp of startHeight-1, the block the span extends
	basePrevRandao common.Hash
	parentHash     common.Hash // hash of startHeight-1's block
	stateRoot      common.Hash // every reserved block shares the pre-reservation state root
}

// lastHeight is the highest height this span covers.
func (s span) lastHeight() uint64 { return s.startHeight + s.count - 1 }

// synthesize deterministically derives the placeholder header for height n,
// which must satisfy s.startHeight <= n <= s.lastHeight().
func (s span) synthesize(n uint64) *types.Header {
	offset := n - s.startHeight
	return &types.Header{
		ParentHash: s.hashAt(offset),
		Number:     new(big.Int).SetUint64(n),
		Time:       s.baseTimestamp + (offset+1)*s.interval,
		MixDigest:  s.basePrevRandao,
		Root:       s.stateRoot,
		GasLimit:   0,
		Difficulty: big.NewInt(0),
	}
}

// hashAt returns the parent hash a synthesized header at offset would carry:
// the real parent for the first reserved block, or the deterministic hash
// of the previous synthesized header otherwise.
func (s span) hashAt(offset uint64) common.Hash {
	if offset == 0 {
		return s.parentHash
	}
	prev := s.synthesize(s.startHeight + offset - 1)
	return prev.Hash()
}
