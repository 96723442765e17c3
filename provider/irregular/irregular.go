// Package irregular implements the irregular-state overlay (C4, spec.md
// §4.4): a per-block-number table of developer-forced account and storage
// changes layered on top of real blocks, consulted whenever a state is
// reconstructed for a given height.
package irregular

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/edr-go/provider/provider/evmstate"
)

// AccountChange is one entry in an override's diff: the account's new
// balance/nonce/code at the time the change was made.
type AccountChange struct {
	Address common.Address
	Info    *evmstate.AccountInfo
}

// StorageChange is one entry in an override's diff.
type StorageChange struct {
	Address common.Address
	Key     common.Hash
	Value   common.Hash
}

// Override is the StateOverride entity from spec.md §3: a state root
// (recomputed as changes are appended) plus the ordered diff that produced
// it.
type Override struct {
	StateRoot      common.Hash
	AccountChanges []AccountChange
	StorageChanges []StorageChange
}

// IrregularState holds one Override per block number that has ever been
// touched by an admin mutation (set_balance, set_code, set_nonce,
// set_account_storage_slot).
type IrregularState struct {
	overrides map[uint64]*Override
}

// New creates an empty overlay.
func New() *IrregularState {
	return &IrregularState{overrides: make(map[uint64]*Override)}
}

// StateOverrideAtBlockNumber returns the override for n, creating a fresh
// empty one if absent, matching spec.md §4.4's
// state_override_at_block_number.
func (is *IrregularState) StateOverrideAtBlockNumber(n uint64) *Override {
	o, ok := is.overrides[n]
	if !ok {
		o = &Override{}
		is.overrides[n] = o
	}
	return o
}

// ApplyAccountChange appends an account-level change to n's override and
// records the new root.
func (is *IrregularState) ApplyAccountChange(n uint64, addr common.Address, info *evmstate.AccountInfo, newRoot common.Hash) {
	o := is.StateOverrideAtBlockNumber(n)
	o.AccountChanges = append(o.AccountChanges, AccountChange{Address: addr, Info: info.Clone()})
	o.StateRoot = newRoot
}

// ApplyStorageChange appends a storage-level change to n's override and
// records the new root.
func (is *IrregularState) ApplyStorageChange(n uint64, addr common.Address, key, value common.Hash, newRoot common.Hash) {
	o := is.StateOverrideAtBlockNumber(n)
	o.StorageChanges = append(o.StorageChanges, StorageChange{Address: addr, Key: key, Value: value})
	o.StateRoot = newRoot
}

// ApplyThrough replays every override whose key is <= n, in ascending
// order, onto a clone of base, implementing the reconstruction rule in
// spec.md §4.4: "begin with the blockchain-native state at height n, then
// apply every override whose key <= n in ascending order." base itself is
// left untouched, preserving the copy-on-write invariant of spec.md §9.
func (is *IrregularState) ApplyThrough(base *evmstate.State, n uint64) *evmstate.State {
	keys := make([]uint64, 0, len(is.overrides))
	for k := range is.overrides {
		if k <= n {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	result := base.Clone()
	for _, k := range keys {
		o := is.overrides[k]
		for _, ac := range o.AccountChanges {
			result.SetAccount(ac.Address, ac.Info)
		}
		for _, sc := range o.StorageChanges {
			result.SetStorage(sc.Address, sc.Key, sc.Value)
		}
	}
	return result
}

// Clone deep-copies the overlay, used when capturing a developer-visible
// Snapshot (C8).
func (is *IrregularState) Clone() *IrregularState {
	out := New()
	for k, o := range is.overrides {
		clone := &Override{StateRoot: o.StateRoot}
		clone.AccountChanges = append(clone.AccountChanges, o.AccountChanges...)
		clone.StorageChanges = append(clone.StorageChanges, o.StorageChanges...)
		out.overrides[k] = clone
	}
	return out
}

// Restore replaces the overlay wholesale, used by revert_to_snapshot.
func (is *IrregularState) Restore(other *IrregularState) {
	is.overrides = other.Clone().overrides
}

// DropBlocksFrom removes overrides recorded at or above blockNumber; used
// when the blockchain facade reverts to an earlier block and invalidates
// later overrides.
func (is *IrregularState) DropBlocksFrom(blockNumber uint64) {
	for k := range is.overrides {
		if k >= blockNumber {
			delete(is.overrides, k)
		}
	}
}
