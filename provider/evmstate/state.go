// Package evmstate implements the State Snapshot entity (spec.md §3): an
// immutable {Address -> AccountInfo, (Address,slot) -> value} map with a
// derivable state root, cloned copy-on-write so the engine never mutates a
// snapshot in place (spec.md §9 "Shared snapshots without aliased
// mutation").
//
// The root is a content hash over the account set, not a production Merkle
// Patricia Trie: this engine never participates in consensus or talks to a
// real trie database, so byte-compatibility with mainnet state roots is out
// of scope (spec.md §1 Non-goals). It is produced the teacher's way —
// canonical RLP encoding hashed with Keccak256 (github.com/ethereum/go-ethereum/rlp,
// github.com/ethereum/go-ethereum/crypto) — so it is still a real,
// deterministic, collision-resistant digest of the state.
package evmstate

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// AccountInfo mirrors the account-level fields spec.md §3 names: balance,
// nonce, codeHash (plus the code bytes themselves, needed to serve
// eth_getCode without a separate code store).
type AccountInfo struct {
	Balance  *uint256.Int
	Nonce    uint64
	CodeHash common.Hash
	Code     []byte
}

// Clone returns a deep copy so callers can mutate the result without
// affecting the snapshot it came from.
func (a *AccountInfo) Clone() *AccountInfo {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Balance != nil {
		clone.Balance = new(uint256.Int).Set(a.Balance)
	}
	if a.Code != nil {
		clone.Code = append([]byte(nil), a.Code...)
	}
	return &clone
}

// rlpAccount is the canonical encoding fed into the state-root hash.
type rlpAccount struct {
	Address  common.Address
	Balance  *uint256.Int
	Nonce    uint64
	CodeHash common.Hash
	Storage  []rlpSlot
}

type rlpSlot struct {
	Key   common.Hash
	Value common.Hash
}

// RemoteFetchFunc resolves an account not yet present locally, used by a
// forked chain's below-the-fork-point state to pull accounts from the
// remote node lazily, on first touch, instead of up front.
type RemoteFetchFunc func(addr common.Address) (*AccountInfo, error)

// State is an immutable snapshot. Zero value is an empty state (as at
// genesis with no accounts).
type State struct {
	accounts map[common.Address]*AccountInfo
	storage  map[common.Address]map[common.Hash]common.Hash
	fetch    RemoteFetchFunc
}

// New creates an empty state.
func New() *State {
	return &State{
		accounts: make(map[common.Address]*AccountInfo),
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
	}
}

// NewRemoteBacked creates an empty state whose Account misses fall back to
// fetch, caching the result locally so a given address is only fetched
// once per snapshot.
func NewRemoteBacked(fetch RemoteFetchFunc) *State {
	s := New()
	s.fetch = fetch
	return s
}

// Clone performs the copy-on-write deep copy spec.md §3 requires before any
// mutation: "the engine never mutates a snapshot in place."
func (s *State) Clone() *State {
	out := New()
	out.fetch = s.fetch
	for addr, info := range s.accounts {
		out.accounts[addr] = info.Clone()
	}
	for addr, slots := range s.storage {
		cp := make(map[common.Hash]common.Hash, len(slots))
		for k, v := range slots {
			cp[k] = v
		}
		out.storage[addr] = cp
	}
	return out
}

// Account returns the account info for addr, or nil if it does not exist.
// The returned value is a copy; mutating it has no effect on the state. If
// this state is remote-backed and addr has not been touched yet, it is
// fetched now and cached for subsequent lookups.
func (s *State) Account(addr common.Address) *AccountInfo {
	info, ok := s.accounts[addr]
	if !ok {
		if s.fetch == nil {
			return nil
		}
		fetched, err := s.fetch(addr)
		if err != nil || fetched == nil {
			return nil
		}
		s.accounts[addr] = fetched
		info = fetched
	}
	return info.Clone()
}

// SetAccount installs info for addr, replacing any existing account.
func (s *State) SetAccount(addr common.Address, info *AccountInfo) {
	s.accounts[addr] = info.Clone()
}

// SetBalance sets addr's balance, creating the account if absent.
func (s *State) SetBalance(addr common.Address, balance *uint256.Int) {
	info := s.ensure(addr)
	info.Balance = new(uint256.Int).Set(balance)
}

// SetNonce sets addr's nonce, creating the account if absent.
func (s *State) SetNonce(addr common.Address, nonce uint64) {
	info := s.ensure(addr)
	info.Nonce = nonce
}

// SetCode sets addr's code and recomputes its code hash, creating the
// account if absent.
func (s *State) SetCode(addr common.Address, code []byte) {
	info := s.ensure(addr)
	info.Code = append([]byte(nil), code...)
	info.CodeHash = crypto.Keccak256Hash(code)
}

// StorageAt returns the stored value at (addr, key), or the zero hash if
// unset.
func (s *State) StorageAt(addr common.Address, key common.Hash) common.Hash {
	slots, ok := s.storage[addr]
	if !ok {
		return common.Hash{}
	}
	return slots[key]
}

// SetStorage sets the value at (addr, key) and returns the previous value,
// matching the "old, new" shape spec.md's StorageSlot entity needs for
// irregular-state overrides.
func (s *State) SetStorage(addr common.Address, key, value common.Hash) common.Hash {
	old := s.StorageAt(addr, key)
	slots, ok := s.storage[addr]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		s.storage[addr] = slots
	}
	slots[key] = value
	return old
}

func (s *State) ensure(addr common.Address) *AccountInfo {
	info, ok := s.accounts[addr]
	if !ok {
		info = &AccountInfo{Balance: new(uint256.Int)}
		s.accounts[addr] = info
	}
	return info
}

// Addresses returns the set of accounts present in the state, sorted for
// deterministic iteration (root hashing, dumps).
func (s *State) Addresses() []common.Address {
	out := make([]common.Address, 0, len(s.accounts))
	for a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Root computes the content-addressed state root described in the package
// doc comment.
func (s *State) Root() common.Hash {
	addrs := s.Addresses()
	encoded := make([]rlpAccount, 0, len(addrs))
	for _, addr := range addrs {
		info := s.accounts[addr]
		balance := info.Balance
		if balance == nil {
			balance = new(uint256.Int)
		}
		slots := s.storage[addr]
		keys := make([]common.Hash, 0, len(slots))
		for k := range slots {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].Cmp(keys[j]) < 0 })
		rlpSlots := make([]rlpSlot, 0, len(keys))
		for _, k := range keys {
			rlpSlots = append(rlpSlots, rlpSlot{Key: k, Value: slots[k]})
		}
		encoded = append(encoded, rlpAccount{
			Address:  addr,
			Balance:  balance,
			Nonce:    info.Nonce,
			CodeHash: info.CodeHash,
			Storage:  rlpSlots,
		})
	}
	data, err := rlp.EncodeToBytes(encoded)
	if err != nil {
		// Encoding a slice of plain value types never fails.
		panic(err)
	}
	return crypto.Keccak256Hash(data)
}

// Diff is the state-diff entity threaded through
// blockchain.insert_block(block, stateDiff) (spec.md §4.6): the account and
// storage changes a mined block's execution produced, independent of how
// those changes were derived (the EVM interpreter itself is an external
// collaborator per spec.md §1).
type Diff struct {
	Accounts []AccountDiff
	Storage  []StorageDiff
}

// AccountDiff records the post-execution AccountInfo for one touched
// address.
type AccountDiff struct {
	Address common.Address
	Info    *AccountInfo
}

// StorageDiff records one touched storage slot's new value.
type StorageDiff struct {
	Address common.Address
	Key     common.Hash
	Value   common.Hash
}

// Apply returns a new state equal to base with d's changes layered on top,
// preserving the copy-on-write invariant (spec.md §9).
func (d Diff) Apply(base *State) *State {
	out := base.Clone()
	for _, a := range d.Accounts {
		out.SetAccount(a.Address, a.Info)
	}
	for _, s := range d.Storage {
		out.SetStorage(s.Address, s.Key, s.Value)
	}
	return out
}
