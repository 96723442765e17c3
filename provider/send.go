package provider

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/edr-go/provider/provider/blockchain"
	"github.com/edr-go/provider/provider/evmstate"
	"github.com/edr-go/provider/provider/mempool"
)

// SendTransaction implements spec.md §4.12's send_transaction: validate,
// admit to the mempool, and — when auto-mine is on — mine and commit blocks
// until tx appears, then drain whatever else is pending, rolling back to a
// throwaway snapshot on any error.
func (e *Engine) SendTransaction(tx *types.Transaction, sender common.Address) (common.Hash, error) {
	state, err := e.currentState()
	if err != nil {
		return common.Hash{}, err
	}

	if !e.autoMine {
		if err := e.mempool.Add(tx, sender, mempool.AccountInfoNonce(state), mempool.AccountInfoBalance(state)); err != nil {
			return common.Hash{}, err
		}
		e.filters.NotifyPendingTx(tx.Hash())
		return tx.Hash(), nil
	}

	if err := e.validateForAutoMine(tx, sender, state); err != nil {
		return common.Hash{}, err
	}

	snapshotID := e.MakeSnapshot()
	if err := e.sendWithAutoMine(tx, sender); err != nil {
		e.RevertToSnapshot(snapshotID)
		return common.Hash{}, err
	}
	delete(e.snapshots, snapshotID)
	return tx.Hash(), nil
}

// validateForAutoMine implements spec.md §7's auto-mine admission gate
// (spec.md §8 scenario 6): nonce must equal the account's expected next
// nonce exactly (neither a gap nor a replay), the priority fee must meet
// the configured minimum, and post-London the fee cap must cover the next
// block's base fee.
func (e *Engine) validateForAutoMine(tx *types.Transaction, sender common.Address, state *evmstate.State) error {
	expected := e.mempool.AccountNextNonce(sender, mempool.AccountInfoNonce(state))
	if tx.Nonce() < expected {
		return &AutoMineNonceTooLowError{Expected: expected, Actual: tx.Nonce()}
	}
	if tx.Nonce() > expected {
		return &AutoMineNonceTooHighError{Expected: expected, Actual: tx.Nonce()}
	}

	minPriority := e.config.MinGasPrice
	if minPriority == nil {
		minPriority = uint256.NewInt(0)
	}
	tip, overflow := uint256.FromBig(tx.GasTipCap())
	if !overflow && tip.Lt(minPriority) {
		return &AutoMinePriorityFeeTooLowError{Minimum: minPriority.Uint64(), Actual: tip.Uint64()}
	}

	if e.chain.SpecAtBlockNumber(e.chain.LastBlockNumber()+1) >= blockchain.SpecLondon {
		nextBase, err := e.nextBaseFee()
		if err != nil {
			return err
		}
		feeCap, overflow := uint256.FromBig(tx.GasFeeCap())
		if !overflow && feeCap.Lt(nextBase) {
			return &AutoMineMaxFeeTooLowError{NextBaseFee: nextBase.Uint64(), Actual: feeCap.Uint64()}
		}
	}
	return nil
}

// sendWithAutoMine admits tx then mines and commits blocks until tx lands,
// then drains whatever else is pending (spec.md §4.12).
func (e *Engine) sendWithAutoMine(tx *types.Transaction, sender common.Address) error {
	state, err := e.currentState()
	if err != nil {
		return err
	}
	if err := e.mempool.Add(tx, sender, mempool.AccountInfoNonce(state), mempool.AccountInfoBalance(state)); err != nil {
		return err
	}
	e.filters.NotifyPendingTx(tx.Hash())

	for {
		_, pending, found := e.TransactionByHash(tx.Hash())
		if found && !pending {
			break
		}
		if _, err := e.MineAndCommitBlock(nil); err != nil {
			return err
		}
	}

	for e.mempool.Len() > 0 {
		if _, err := e.MineAndCommitBlock(nil); err != nil {
			return err
		}
	}
	return nil
}
