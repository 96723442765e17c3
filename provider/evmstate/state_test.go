package evmstate

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestCloneIsIndependent(t *testing.T) {
	s := New()
	var addr common.Address
	addr[0] = 1
	s.SetBalance(addr, uint256.NewInt(100))

	clone := s.Clone()
	clone.SetBalance(addr, uint256.NewInt(200))

	if got := s.Account(addr).Balance.Uint64(); got != 100 {
		t.Fatalf("original state mutated: want 100 got %d", got)
	}
	if got := clone.Account(addr).Balance.Uint64(); got != 200 {
		t.Fatalf("clone not updated: want 200 got %d", got)
	}
}

func TestSetStorageReturnsOldValue(t *testing.T) {
	s := New()
	var addr common.Address
	addr[1] = 2
	key := common.HexToHash("0x1")
	first := common.HexToHash("0xa")
	second := common.HexToHash("0xb")

	if old := s.SetStorage(addr, key, first); old != (common.Hash{}) {
		t.Fatalf("want zero old value, got %x", old)
	}
	if old := s.SetStorage(addr, key, second); old != first {
		t.Fatalf("want old value %x, got %x", first, old)
	}
	if got := s.StorageAt(addr, key); got != second {
		t.Fatalf("want %x, got %x", second, got)
	}
}

func TestRootIsDeterministicAndSensitiveToState(t *testing.T) {
	s1 := New()
	s2 := New()
	if s1.Root() != s2.Root() {
		t.Fatal("two empty states should share a root")
	}

	var addr common.Address
	addr[0] = 9
	s1.SetBalance(addr, uint256.NewInt(1))
	if s1.Root() == s2.Root() {
		t.Fatal("mutated state should not share a root with the empty state")
	}

	s3 := New()
	s3.SetBalance(addr, uint256.NewInt(1))
	if s1.Root() != s3.Root() {
		t.Fatal("identical states should produce identical roots")
	}
}
