package irregular

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/edr-go/provider/provider/evmstate"
)

func TestApplyThroughOrdersByBlockNumber(t *testing.T) {
	is := New()
	var addr common.Address
	addr[0] = 1

	is.ApplyAccountChange(5, addr, &evmstate.AccountInfo{Balance: uint256.NewInt(1)}, common.Hash{})
	is.ApplyAccountChange(2, addr, &evmstate.AccountInfo{Balance: uint256.NewInt(2)}, common.Hash{})
	is.ApplyAccountChange(10, addr, &evmstate.AccountInfo{Balance: uint256.NewInt(3)}, common.Hash{})

	base := evmstate.New()
	result := is.ApplyThrough(base, 5)

	// Only overrides at keys <= 5 apply, in ascending order: 2 then 5.
	if got := result.Account(addr).Balance.Uint64(); got != 1 {
		t.Fatalf("want balance 1 (last applied <= 5), got %d", got)
	}
	if base.Account(addr) != nil {
		t.Fatal("ApplyThrough must not mutate its base argument")
	}
}

func TestApplyThroughExcludesFutureOverrides(t *testing.T) {
	is := New()
	var addr common.Address
	addr[1] = 9
	is.ApplyAccountChange(100, addr, &evmstate.AccountInfo{Balance: uint256.NewInt(1)}, common.Hash{})

	result := is.ApplyThrough(evmstate.New(), 10)
	if result.Account(addr) != nil {
		t.Fatal("override at a future block number must not apply")
	}
}

func TestDropBlocksFrom(t *testing.T) {
	is := New()
	is.StateOverrideAtBlockNumber(1)
	is.StateOverrideAtBlockNumber(2)
	is.StateOverrideAtBlockNumber(3)

	is.DropBlocksFrom(2)

	if _, ok := is.overrides[1]; !ok {
		t.Fatal("block 1 override should remain")
	}
	if _, ok := is.overrides[2]; ok {
		t.Fatal("block 2 override should be dropped")
	}
	if _, ok := is.overrides[3]; ok {
		t.Fatal("block 3 override should be dropped")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	is := New()
	var addr common.Address
	addr[2] = 7
	is.ApplyAccountChange(1, addr, &evmstate.AccountInfo{Balance: uint256.NewInt(1)}, common.Hash{})

	clone := is.Clone()
	clone.ApplyAccountChange(1, addr, &evmstate.AccountInfo{Balance: uint256.NewInt(2)}, common.Hash{})

	if len(is.overrides[1].AccountChanges) != 1 {
		t.Fatalf("original override must be unaffected by clone mutation, got %d changes", len(is.overrides[1].AccountChanges))
	}
}
