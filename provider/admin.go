package provider

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/edr-go/provider/provider/evmstate"
	"github.com/edr-go/provider/provider/mempool"
	"github.com/edr-go/provider/provider/pfilters"
)

// applyAdminMutation implements the shared shape of set_balance/set_code/
// set_nonce/set_account_storage_slot (spec.md §4.4, §4.2): mutate a clone of
// the current state, re-key the state cache at the current block number to
// the new snapshot, and reconcile the mempool against it. Recording the
// change in the irregular-state overlay is left to each caller.
func (e *Engine) applyAdminMutation(mutate func(s *evmstate.State)) (common.Hash, error) {
	state, err := e.currentState()
	if err != nil {
		return common.Hash{}, err
	}
	next := state.Clone()
	mutate(next)
	root := next.Root()

	blockNumber := e.chain.LastBlockNumber()
	e.cache.Add(next, blockNumber)
	e.mempool.Update(mempool.AccountInfoNonce(next), mempool.AccountInfoBalance(next))
	return root, nil
}

// SetBalance implements hardhat_setBalance (spec.md §4.4).
func (e *Engine) SetBalance(addr common.Address, balance *uint256.Int) error {
	blockNumber := e.chain.LastBlockNumber()
	root, err := e.applyAdminMutation(func(s *evmstate.State) {
		s.SetBalance(addr, balance)
	})
	if err != nil {
		return err
	}
	state, err := e.currentState()
	if err != nil {
		return err
	}
	info := state.Account(addr)
	if info == nil {
		info = &evmstate.AccountInfo{Balance: balance}
	}
	e.irregular.ApplyAccountChange(blockNumber, addr, info, root)
	return nil
}

// SetCode implements hardhat_setCode.
func (e *Engine) SetCode(addr common.Address, code []byte) error {
	blockNumber := e.chain.LastBlockNumber()
	root, err := e.applyAdminMutation(func(s *evmstate.State) {
		s.SetCode(addr, code)
	})
	if err != nil {
		return err
	}
	state, err := e.currentState()
	if err != nil {
		return err
	}
	info := state.Account(addr)
	e.irregular.ApplyAccountChange(blockNumber, addr, info, root)
	return nil
}

// SetNonce implements hardhat_setNonce, rejecting a requested nonce below
// the account's current nonce or any change while the account has pending
// transactions (spec.md §7 "Admin" errors, invariant that a committed
// nonce may never move backward under a pending transaction).
func (e *Engine) SetNonce(addr common.Address, nonce uint64) error {
	state, err := e.currentState()
	if err != nil {
		return err
	}
	current := state.Account(addr)
	var currentNonce uint64
	if current != nil {
		currentNonce = current.Nonce
	}
	if nonce < currentNonce {
		return &AdminSetNonceBelowCurrentError{Address: addr, Current: currentNonce, Wanted: nonce}
	}
	if e.mempool.AccountNextNonce(addr, mempool.AccountInfoNonce(state)) != currentNonce {
		return &AdminSetNonceWithPendingTxError{Address: addr}
	}

	blockNumber := e.chain.LastBlockNumber()
	root, err := e.applyAdminMutation(func(s *evmstate.State) {
		s.SetNonce(addr, nonce)
	})
	if err != nil {
		return err
	}
	next, err := e.currentState()
	if err != nil {
		return err
	}
	e.irregular.ApplyAccountChange(blockNumber, addr, next.Account(addr), root)
	return nil
}

// SetAccountStorageSlot implements hardhat_setStorageAt. Two calls in the
// same block against the same slot are treated as one logical write:
// ApplyStorageChange simply appends another entry to the same block's
// override and the latest entry wins on replay, so no special-casing is
// needed here (spec.md §9 Open Question 1).
func (e *Engine) SetAccountStorageSlot(addr common.Address, key, value common.Hash) error {
	blockNumber := e.chain.LastBlockNumber()
	root, err := e.applyAdminMutation(func(s *evmstate.State) {
		s.SetStorage(addr, key, value)
	})
	if err != nil {
		return err
	}
	e.irregular.ApplyStorageChange(blockNumber, addr, key, value, root)
	return nil
}

// AddBlockFilter, AddLogFilter, AddPendingTxFilter, RemoveFilter,
// GetFilterChanges, and GetFilterLogs pass through to the filter registry
// (C7), the engine's only caller.

func (e *Engine) AddBlockFilter() pfilters.ID { return e.filters.AddBlockFilter() }

func (e *Engine) AddLogFilter(criteria pfilters.Criteria) pfilters.ID {
	return e.filters.AddLogFilter(criteria)
}

func (e *Engine) AddPendingTxFilter() pfilters.ID { return e.filters.AddPendingTxFilter() }

func (e *Engine) AddBlockSubscription(sub pfilters.SubscriberFunc) pfilters.ID {
	return e.filters.AddBlockSubscription(sub)
}

func (e *Engine) AddLogSubscription(criteria pfilters.Criteria, sub pfilters.SubscriberFunc) pfilters.ID {
	return e.filters.AddLogSubscription(criteria, sub)
}

func (e *Engine) AddPendingTxSubscription(sub pfilters.SubscriberFunc) pfilters.ID {
	return e.filters.AddPendingTxSubscription(sub)
}

func (e *Engine) RemoveFilter(id pfilters.ID) bool { return e.filters.Remove(id) }

func (e *Engine) GetFilterChanges(id pfilters.ID) (any, error) { return e.filters.GetFilterChanges(id) }

func (e *Engine) GetFilterLogs(id pfilters.ID) ([]*types.Log, error) { return e.filters.GetFilterLogs(id) }
