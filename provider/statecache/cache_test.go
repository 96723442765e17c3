package statecache

import (
	"errors"
	"testing"

	"github.com/edr-go/provider/provider/evmstate"
)

type fakeMaterializer struct {
	calls int
}

func (f *fakeMaterializer) MaterializeState(blockNumber uint64) (*evmstate.State, error) {
	f.calls++
	return evmstate.New(), nil
}

type erroringMaterializer struct{}

func (erroringMaterializer) MaterializeState(blockNumber uint64) (*evmstate.State, error) {
	return nil, errors.New("boom")
}

func TestAddMintsMonotonicIDs(t *testing.T) {
	c := New(DefaultCapacity)
	s := evmstate.New()
	id1 := c.Add(s, 1)
	id2 := c.Add(s, 1) // same block, must still mint a fresh id
	if id2 <= id1 {
		t.Fatalf("expected strictly increasing ids, got %d then %d", id1, id2)
	}
}

func TestGetOrComputeRecomputesOnEviction(t *testing.T) {
	c := New(1) // capacity 1 forces eviction
	m := &fakeMaterializer{}

	if _, _, err := c.GetOrCompute(1, m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Evict block 1's cached id by materializing block 2.
	if _, _, err := c.GetOrCompute(2, m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.calls != 2 {
		t.Fatalf("want 2 materializations so far, got %d", m.calls)
	}

	// block 1 still has an index entry, but its id was evicted: must recompute.
	if _, _, err := c.GetOrCompute(1, m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.calls != 3 {
		t.Fatalf("want recomputation on eviction, got %d calls", m.calls)
	}
}

func TestGetOrComputeCacheHit(t *testing.T) {
	c := New(DefaultCapacity)
	m := &fakeMaterializer{}
	_, id1, err := c.GetOrCompute(5, m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, id2, err := c.GetOrCompute(5, m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("want cache hit to reuse id %d, got %d", id1, id2)
	}
	if m.calls != 1 {
		t.Fatalf("want exactly one materialization, got %d", m.calls)
	}
}

func TestGetOrComputePropagatesError(t *testing.T) {
	c := New(DefaultCapacity)
	if _, _, err := c.GetOrCompute(1, erroringMaterializer{}); err == nil {
		t.Fatal("expected error to propagate")
	}
}

func TestDropBlocksFrom(t *testing.T) {
	c := New(DefaultCapacity)
	m := &fakeMaterializer{}
	c.GetOrCompute(1, m)
	c.GetOrCompute(2, m)
	c.GetOrCompute(3, m)

	c.DropBlocksFrom(2)

	if _, ok := c.BlockStateID(1); !ok {
		t.Fatal("block 1 should remain")
	}
	if _, ok := c.BlockStateID(2); ok {
		t.Fatal("block 2 should be dropped")
	}
	if _, ok := c.BlockStateID(3); ok {
		t.Fatal("block 3 should be dropped")
	}
}

func TestAliasBlock(t *testing.T) {
	c := New(DefaultCapacity)
	s := evmstate.New()
	id := c.Add(s, 10)
	c.AliasBlock(11, id)
	got, ok := c.BlockStateID(11)
	if !ok || got != id {
		t.Fatalf("expected block 11 aliased to %d, got %d (ok=%v)", id, got, ok)
	}
}
