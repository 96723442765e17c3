package pfilters

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestFilterIDsStartAtOneAndIncrease(t *testing.T) {
	r := New(nil)
	id1 := r.AddBlockFilter()
	id2 := r.AddLogFilter(Criteria{})
	if id1 != 1 {
		t.Fatalf("want first id 1, got %d", id1)
	}
	if id2 != 2 {
		t.Fatalf("want second id 2, got %d", id2)
	}
}

func TestGetFilterChangesClearsAccumulator(t *testing.T) {
	r := New(nil)
	id := r.AddBlockFilter()
	hash := common.HexToHash("0x1")
	if err := r.NotifyCommit(CommitInput{BlockHash: hash, Logs: func() ([]*types.Log, error) { return nil, nil }}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	changes, err := r.GetFilterChanges(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hashes := changes.([]common.Hash)
	if len(hashes) != 1 || hashes[0] != hash {
		t.Fatalf("unexpected changes: %v", hashes)
	}

	changesAgain, err := r.GetFilterChanges(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changesAgain.([]common.Hash) != nil {
		t.Fatal("second GetFilterChanges should return nothing new")
	}
}

func TestGetFilterLogsWrongKindErrors(t *testing.T) {
	r := New(nil)
	id := r.AddBlockFilter()
	_, err := r.GetFilterLogs(id)
	if _, ok := err.(*InvalidFilterSubscriptionTypeError); !ok {
		t.Fatalf("want InvalidFilterSubscriptionTypeError, got %v", err)
	}
}

func TestLogSubscriptionReceivesMatchingLog(t *testing.T) {
	r := New(nil)
	addr := common.HexToAddress("0xaa")
	var got *types.Log
	r.AddLogSubscription(Criteria{Addresses: []common.Address{addr}}, func(event any) {
		got = event.(*types.Log)
	})

	logs := []*types.Log{{Address: addr}}
	bloom := types.CreateBloom(types.Receipts{{Logs: logs}})
	err := r.NotifyCommit(CommitInput{
		BlockHash: common.HexToHash("0x2"),
		Bloom:     bloom,
		Logs:      func() ([]*types.Log, error) { return logs, nil },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.Address != addr {
		t.Fatalf("subscriber did not receive matching log")
	}
}

func TestPruneExpiredRemovesIdleNonSubscriptionFilters(t *testing.T) {
	now := time.Unix(1000, 0)
	r := New(func() time.Time { return now })
	id := r.AddBlockFilter()

	now = now.Add(DefaultTTL + time.Second)
	r.PruneExpired()

	if r.Remove(id) {
		t.Fatal("expected filter to already be pruned")
	}
}

func TestBloomContainsLogFilterNoAddressMatch(t *testing.T) {
	addr := common.HexToAddress("0xbb")
	other := common.HexToAddress("0xcc")
	bloom := types.CreateBloom(types.Receipts{{Logs: []*types.Log{{Address: addr}}}})
	if BloomContainsLogFilter(bloom, Criteria{Addresses: []common.Address{other}}) {
		t.Fatal("bloom should not match an address never logged")
	}
}
