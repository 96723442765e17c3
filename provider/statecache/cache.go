// Package statecache implements the LRU-bounded, content-addressed cache of
// historical states described as C3 in spec.md §4.3: a mapping from an
// opaque, monotonically increasing StateId to an immutable state snapshot,
// plus a BlockNumber -> StateId index used to resolve "give me the state at
// height N".
//
// Grounded on the teacher's habitual choice of an LRU for bounded caches
// (e.g. core/state/snapshot's account/storage read caches); here the
// concrete library is github.com/hashicorp/golang-lru/v2, generically typed
// over StateId -> *evmstate.State.
package statecache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/edr-go/provider/provider/evmstate"
)

// DefaultCapacity is the fixed LRU capacity named in spec.md §6.
const DefaultCapacity = 64

// StateId is the opaque, strictly monotonic tag identifying a cached
// snapshot (spec.md §3). It is never reused and is not a stable identifier:
// eviction simply means the next lookup for that block number mints a new
// one (spec.md §9 "State cache evictions vs. the block index").
type StateId uint64

// Materializer recomputes the state for a block height that is no longer
// (or never was) present in the cache, by replaying the blockchain and the
// irregular-state overlay from the nearest ancestor (spec.md §4.3).
type Materializer interface {
	MaterializeState(blockNumber uint64) (*evmstate.State, error)
}

// Cache implements C3. It is not safe for concurrent use; the provider
// engine is the only caller and serializes all access (spec.md §5).
type Cache struct {
	capacity   int
	nextID     StateId
	lru        *lru.Cache[StateId, *evmstate.State]
	blockToID  map[uint64]StateId
}

// New creates a Cache with the given capacity. Use DefaultCapacity unless a
// test needs a smaller cache to exercise eviction cheaply.
func New(capacity int) *Cache {
	l, err := lru.New[StateId, *evmstate.State](capacity)
	if err != nil {
		// Only returns an error for a non-positive size, which is a
		// construction-time programmer error.
		panic(err)
	}
	return &Cache{
		capacity:  capacity,
		lru:       l,
		blockToID: make(map[uint64]StateId),
	}
}

// Add mints a fresh StateId, inserts state into the LRU (silently evicting
// the least-recently-used entry if at capacity), and records
// blockNumber -> id. A fresh id is minted even if blockNumber already had
// one, per invariant 2 in spec.md §3 ("a new id is minted on every
// insertion even when the logical block is unchanged").
func (c *Cache) Add(state *evmstate.State, blockNumber uint64) StateId {
	c.nextID++
	id := c.nextID
	c.lru.Add(id, state)
	c.blockToID[blockNumber] = id
	return id
}

// AliasBlock points blockNumber at an already-cached id without minting a
// new one, used by the reserve-blocks optimization (spec.md §9) to alias
// the pre-reservation snapshot to the final reserved height.
func (c *Cache) AliasBlock(blockNumber uint64, id StateId) {
	c.blockToID[blockNumber] = id
}

// Get returns the state for id if still resident in the LRU.
func (c *Cache) Get(id StateId) (*evmstate.State, bool) {
	return c.lru.Get(id)
}

// GetOrCompute implements the C3 contract: consult blockNumber -> StateId;
// if present and the cache still has the id, return it, otherwise ask m to
// recompute and re-insert.
func (c *Cache) GetOrCompute(blockNumber uint64, m Materializer) (*evmstate.State, StateId, error) {
	if id, ok := c.blockToID[blockNumber]; ok {
		if state, ok := c.lru.Get(id); ok {
			return state, id, nil
		}
	}
	state, err := m.MaterializeState(blockNumber)
	if err != nil {
		return nil, 0, err
	}
	id := c.Add(state, blockNumber)
	return state, id, nil
}

// BlockStateID reports the StateId currently recorded for blockNumber, if
// any, without forcing recomputation.
func (c *Cache) BlockStateID(blockNumber uint64) (StateId, bool) {
	id, ok := c.blockToID[blockNumber]
	return id, ok
}

// Snapshot captures the BlockNumber -> StateId index for inclusion in a
// developer-visible Snapshot (C8); the LRU contents themselves are not
// copied, only referenced by id, since ids remain valid (or harmlessly
// recomputable) regardless of which Cache instance looks them up.
func (c *Cache) Snapshot() map[uint64]StateId {
	out := make(map[uint64]StateId, len(c.blockToID))
	for k, v := range c.blockToID {
		out[k] = v
	}
	return out
}

// Restore replaces the BlockNumber -> StateId index wholesale, used by
// revert_to_snapshot (C8).
func (c *Cache) Restore(index map[uint64]StateId) {
	c.blockToID = make(map[uint64]StateId, len(index))
	for k, v := range index {
		c.blockToID[k] = v
	}
}

// DropBlocksFrom removes every BlockNumber -> StateId entry at or above
// blockNumber, used when the blockchain facade reverts to an earlier block
// (revert_to_block) and those heights no longer exist.
func (c *Cache) DropBlocksFrom(blockNumber uint64) {
	for k := range c.blockToID {
		if k >= blockNumber {
			delete(c.blockToID, k)
		}
	}
}
