// Package mempool implements the pending-transaction pool (C5, spec.md
// §4.5): an insertion-ordered pool with secondary indexes by sender/nonce
// and by hash, nonce/gas-limit admission checks, and post-commit
// reconciliation against a freshly committed state.
//
// Grounded on the shape of the teacher's core/txpool.TxPool (see
// _examples/other_examples/1f7ff58a_luxfi-evm__core-txpool-txpool.go.go for
// the real implementation this mirrors: Add/Get/Pending/Nonce/Content/
// Locals), simplified to the single in-process, single-subpool case this
// engine needs — no remote/local split, no background reorg loop, since
// spec.md §5 makes the engine itself single-threaded with no concurrent
// reorg source.
//
// The pool never recovers a sender from a signature itself: the caller (the
// provider engine) already resolved the sender via its signer/keyring,
// which is also what lets impersonated transactions (a forged signature
// whose recovered caller would not validate) be admitted at all. Every
// method therefore takes sender explicitly.
package mempool

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/edr-go/provider/provider/evmstate"
)

// Order selects the mempool's ordering policy for mining, mirroring the
// config key mining.memPool.order (spec.md §6).
type Order int

const (
	OrderFIFO Order = iota
	OrderPriority
)

// NonceTooLowError is returned when tx.nonce is below the sender's
// committed-state nonce.
type NonceTooLowError struct {
	Sender common.Address
	Nonce  uint64
	Want   uint64
}

func (e *NonceTooLowError) Error() string {
	return fmt.Sprintf("nonce too low: address %s, tx nonce %d, next expected nonce %d", e.Sender, e.Nonce, e.Want)
}

// GasLimitExceededError is returned when tx.gasLimit exceeds the configured
// block gas limit.
type GasLimitExceededError struct {
	GasLimit      uint64
	BlockGasLimit uint64
}

func (e *GasLimitExceededError) Error() string {
	return fmt.Sprintf("transaction gas limit %d exceeds block gas limit %d", e.GasLimit, e.BlockGasLimit)
}

// DuplicateHashError is returned when a transaction with the same hash is
// already pending.
type DuplicateHashError struct {
	Hash common.Hash
}

func (e *DuplicateHashError) Error() string {
	return fmt.Sprintf("known transaction: %s", e.Hash)
}

// InsufficientFundsError is returned when the sender's committed balance
// cannot cover the transaction's upfront cost.
type InsufficientFundsError struct {
	Sender common.Address
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds for transaction: address %s", e.Sender)
}

// entry is one pooled transaction plus its arrival order, used to support
// stable FIFO iteration independent of map ordering.
type entry struct {
	tx     *types.Transaction
	sender common.Address
	seq    uint64
}

// Pool is the mempool itself.
type Pool struct {
	blockGasLimit uint64
	order         Order

	seq      uint64
	byHash   map[common.Hash]*entry
	bySender map[common.Address]map[uint64]*entry // sender -> nonce -> entry
}

// New creates an empty pool admitting transactions up to blockGasLimit.
func New(blockGasLimit uint64, order Order) *Pool {
	return &Pool{
		blockGasLimit: blockGasLimit,
		order:         order,
		byHash:        make(map[common.Hash]*entry),
		bySender:      make(map[common.Address]map[uint64]*entry),
	}
}

// CommittedNonceFunc resolves a sender's committed-state nonce; injected so
// the pool need not depend on the blockchain facade directly.
type CommittedNonceFunc func(common.Address) uint64

// BalanceFunc resolves a sender's committed-state balance.
type BalanceFunc func(common.Address) *uint256.Int

// SetBlockGasLimit updates the admission limit and re-validates all pending
// entries, dropping any that now exceed it (spec.md §4.5).
func (p *Pool) SetBlockGasLimit(limit uint64) {
	p.blockGasLimit = limit
	for hash, e := range p.byHash {
		if e.tx.Gas() > limit {
			p.removeByHash(hash)
		}
	}
}

// AccountNextNonce implements spec.md §4.5's
// account_next_nonce(sender) = committedNonce + count(pending for sender
// with contiguous nonces starting from committedNonce).
func (p *Pool) AccountNextNonce(sender common.Address, committed CommittedNonceFunc) uint64 {
	next := committed(sender)
	byNonce := p.bySender[sender]
	for {
		if _, ok := byNonce[next]; !ok {
			break
		}
		next++
	}
	return next
}

// Add validates and admits tx from sender, implementing the checks in
// spec.md §4.5.
func (p *Pool) Add(tx *types.Transaction, sender common.Address, committed CommittedNonceFunc, balance BalanceFunc) error {
	hash := tx.Hash()
	if _, exists := p.byHash[hash]; exists {
		return &DuplicateHashError{Hash: hash}
	}
	if tx.Gas() > p.blockGasLimit {
		return &GasLimitExceededError{GasLimit: tx.Gas(), BlockGasLimit: p.blockGasLimit}
	}
	committedNonce := committed(sender)
	if tx.Nonce() < committedNonce {
		return &NonceTooLowError{Sender: sender, Nonce: tx.Nonce(), Want: committedNonce}
	}
	if bal := balance(sender); bal != nil {
		cost, overflow := uint256.FromBig(tx.Cost())
		if overflow || bal.Lt(cost) {
			return &InsufficientFundsError{Sender: sender}
		}
	}

	p.seq++
	e := &entry{tx: tx, sender: sender, seq: p.seq}
	p.byHash[hash] = e
	if p.bySender[sender] == nil {
		p.bySender[sender] = make(map[uint64]*entry)
	}
	p.bySender[sender][tx.Nonce()] = e
	return nil
}

// Get returns the pending transaction for hash, if any.
func (p *Pool) Get(hash common.Hash) (*types.Transaction, bool) {
	e, ok := p.byHash[hash]
	if !ok {
		return nil, false
	}
	return e.tx, true
}

// Len reports the number of pending transactions.
func (p *Pool) Len() int {
	return len(p.byHash)
}

// Pending returns pending transactions in pool order: insertion order for
// OrderFIFO, effective-gas-price descending for OrderPriority. Ties break by
// insertion order in both cases, matching the teacher's stable-sort
// convention for mempool ordering.
func (p *Pool) Pending(baseFee *uint256.Int) []*types.Transaction {
	entries := make([]*entry, 0, len(p.byHash))
	for _, e := range p.byHash {
		entries = append(entries, e)
	}
	switch p.order {
	case OrderPriority:
		sort.SliceStable(entries, func(i, j int) bool {
			pi := effectiveTip(entries[i].tx, baseFee)
			pj := effectiveTip(entries[j].tx, baseFee)
			if pi.Cmp(pj) != 0 {
				return pi.Cmp(pj) > 0
			}
			return entries[i].seq < entries[j].seq
		})
	default:
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	}
	out := make([]*types.Transaction, len(entries))
	for i, e := range entries {
		out[i] = e.tx
	}
	return out
}

func effectiveTip(tx *types.Transaction, baseFee *uint256.Int) *uint256.Int {
	gasTipCap, _ := uint256.FromBig(tx.GasTipCap())
	gasFeeCap, _ := uint256.FromBig(tx.GasFeeCap())
	if baseFee == nil {
		return gasFeeCap
	}
	headroom := new(uint256.Int)
	if gasFeeCap.Cmp(baseFee) > 0 {
		headroom.Sub(gasFeeCap, baseFee)
	}
	if headroom.Cmp(gasTipCap) > 0 {
		return gasTipCap
	}
	return headroom
}

// Update reconciles the pool against newly committed state, dropping
// entries invalidated by it: nonce gaps closed (committed nonce now past the
// entry's nonce) or insufficient balance.
func (p *Pool) Update(committed CommittedNonceFunc, balance BalanceFunc) {
	for hash, e := range p.byHash {
		if e.tx.Nonce() < committed(e.sender) {
			p.removeByHash(hash)
			continue
		}
		if bal := balance(e.sender); bal != nil {
			cost, overflow := uint256.FromBig(e.tx.Cost())
			if overflow || bal.Lt(cost) {
				p.removeByHash(hash)
			}
		}
	}
}

// Remove drops the transaction for hash, reporting whether it was present.
func (p *Pool) Remove(hash common.Hash) bool {
	if _, ok := p.byHash[hash]; !ok {
		return false
	}
	p.removeByHash(hash)
	return true
}

func (p *Pool) removeByHash(hash common.Hash) {
	e, ok := p.byHash[hash]
	if !ok {
		return
	}
	delete(p.byHash, hash)
	if byNonce := p.bySender[e.sender]; byNonce != nil {
		delete(byNonce, e.tx.Nonce())
		if len(byNonce) == 0 {
			delete(p.bySender, e.sender)
		}
	}
}

// Clone deep-copies the pool's indexes for inclusion in a developer-visible
// Snapshot (C8). Transactions themselves are shared, since types.Transaction
// is treated as immutable once signed.
func (p *Pool) Clone() *Pool {
	out := New(p.blockGasLimit, p.order)
	out.seq = p.seq
	for hash, e := range p.byHash {
		clone := &entry{tx: e.tx, sender: e.sender, seq: e.seq}
		out.byHash[hash] = clone
		if out.bySender[e.sender] == nil {
			out.bySender[e.sender] = make(map[uint64]*entry)
		}
		out.bySender[e.sender][e.tx.Nonce()] = clone
	}
	return out
}

// Restore replaces this pool's contents wholesale with other's, used by
// revert_to_snapshot.
func (p *Pool) Restore(other *Pool) {
	clone := other.Clone()
	p.blockGasLimit = clone.blockGasLimit
	p.order = clone.order
	p.seq = clone.seq
	p.byHash = clone.byHash
	p.bySender = clone.bySender
}

// AccountInfoBalance adapts an evmstate.State lookup into a BalanceFunc, a
// small convenience used by the provider engine wiring this pool to the
// state cache.
func AccountInfoBalance(state *evmstate.State) BalanceFunc {
	return func(addr common.Address) *uint256.Int {
		info := state.Account(addr)
		if info == nil {
			return uint256.NewInt(0)
		}
		return info.Balance
	}
}

// AccountInfoNonce adapts an evmstate.State lookup into a
// CommittedNonceFunc.
func AccountInfoNonce(state *evmstate.State) CommittedNonceFunc {
	return func(addr common.Address) uint64 {
		info := state.Account(addr)
		if info == nil {
			return 0
		}
		return info.Nonce
	}
}
