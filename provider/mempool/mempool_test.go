package mempool

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

func legacyTx(nonce uint64, gas uint64, gasPrice int64) *types.Transaction {
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		Gas:      gas,
		GasPrice: big.NewInt(gasPrice),
		To:       &common.Address{},
		Value:    big.NewInt(0),
	})
}

func zeroNonce(common.Address) uint64   { return 0 }
func ample(common.Address) *uint256.Int { return uint256.NewInt(1_000_000_000_000) }

func TestAddRejectsGasOverLimit(t *testing.T) {
	p := New(21000, OrderFIFO)
	tx := legacyTx(0, 50000, 1)
	var sender common.Address
	err := p.Add(tx, sender, zeroNonce, ample)
	if _, ok := err.(*GasLimitExceededError); !ok {
		t.Fatalf("want GasLimitExceededError, got %v", err)
	}
}

func TestAddRejectsNonceTooLow(t *testing.T) {
	p := New(21000, OrderFIFO)
	tx := legacyTx(0, 21000, 1)
	var sender common.Address
	committedAtOne := func(common.Address) uint64 { return 1 }
	err := p.Add(tx, sender, committedAtOne, ample)
	if _, ok := err.(*NonceTooLowError); !ok {
		t.Fatalf("want NonceTooLowError, got %v", err)
	}
}

func TestAddRejectsDuplicateHash(t *testing.T) {
	p := New(21000, OrderFIFO)
	tx := legacyTx(0, 21000, 1)
	var sender common.Address
	if err := p.Add(tx, sender, zeroNonce, ample); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := p.Add(tx, sender, zeroNonce, ample)
	if _, ok := err.(*DuplicateHashError); !ok {
		t.Fatalf("want DuplicateHashError, got %v", err)
	}
}

func TestAccountNextNonceContiguity(t *testing.T) {
	p := New(1_000_000, OrderFIFO)
	var sender common.Address
	for n := uint64(0); n < 3; n++ {
		if err := p.Add(legacyTx(n, 21000, 1), sender, zeroNonce, ample); err != nil {
			t.Fatalf("unexpected error at nonce %d: %v", n, err)
		}
	}
	if got := p.AccountNextNonce(sender, zeroNonce); got != 3 {
		t.Fatalf("want next nonce 3, got %d", got)
	}

	// Nonce 5 leaves a gap at nonces 3-4; the next nonce must stay 3.
	if err := p.Add(legacyTx(5, 21000, 1), sender, zeroNonce, ample); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.AccountNextNonce(sender, zeroNonce); got != 3 {
		t.Fatalf("want next nonce still 3 across the gap, got %d", got)
	}
}

func TestUpdateDropsClosedNonceGap(t *testing.T) {
	p := New(1_000_000, OrderFIFO)
	var sender common.Address
	tx := legacyTx(0, 21000, 1)
	if err := p.Add(tx, sender, zeroNonce, ample); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Update(func(common.Address) uint64 { return 1 }, ample)
	if p.Len() != 0 {
		t.Fatalf("want pool empty after nonce caught up, got %d", p.Len())
	}
}

func TestPendingFIFOOrder(t *testing.T) {
	p := New(1_000_000, OrderFIFO)
	var a, b common.Address
	a[0], b[0] = 1, 2
	txA := legacyTx(0, 21000, 5)
	txB := legacyTx(0, 21000, 1)
	p.Add(txA, a, zeroNonce, ample)
	p.Add(txB, b, zeroNonce, ample)

	pending := p.Pending(nil)
	if len(pending) != 2 || pending[0].Hash() != txA.Hash() {
		t.Fatalf("expected FIFO order (txA first), got %v", pending)
	}
}

func TestPendingPriorityOrder(t *testing.T) {
	p := New(1_000_000, OrderPriority)
	var a, b common.Address
	a[0], b[0] = 1, 2
	low := legacyTx(0, 21000, 1)
	high := legacyTx(0, 21000, 10)
	p.Add(low, a, zeroNonce, ample)
	p.Add(high, b, zeroNonce, ample)

	pending := p.Pending(nil)
	if pending[0].Hash() != high.Hash() {
		t.Fatalf("expected higher gas price tx first under priority order")
	}
}
