// Package blockchain implements the polymorphic blockchain facade (C6): a
// shared contract with two variants, Local and Forked, over an
// insertion-ordered, never-mutated sequence of blocks.
//
// Grounded on the BlockChain/SimulatedBackend shape in
// _examples/other_examples/3577daa1_..._simulated.go.go (block insertion,
// chain_id, state-at-height) and on the variant split modeled by
// _examples/other_examples/92737615_..._simulated_beacon.go.go's withdrawal
// queue / header assembly for the Local case. Header and transaction types
// are github.com/ethereum/go-ethereum/core/types directly; the hardfork
// schedule is github.com/ethereum/go-ethereum/params.ChainConfig.
package blockchain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"

	"github.com/edr-go/provider/provider/evmstate"
)

// Spec identifies the active hard-fork rule set at a given height, derived
// from params.ChainConfig the way core/state_processor.go consults it
// (IsLondon, IsShanghai, IsCancun, DAOForkBlock).
type Spec int

const (
	SpecFrontier Spec = iota
	SpecHomestead
	SpecDAO
	SpecByzantium
	SpecConstantinople
	SpecIstanbul
	SpecBerlin
	SpecLondon
	SpecMerge
	SpecShanghai
	SpecCancun
)

var specNames = [...]string{
	"Frontier", "Homestead", "DAO", "Byzantium", "Constantinople",
	"Istanbul", "Berlin", "London", "Merge", "Shanghai", "Cancun",
}

// String renders Spec the way spec.md's error messages name hardforks
// ("requires a hardfork >= London").
func (s Spec) String() string {
	if int(s) < 0 || int(s) >= len(specNames) {
		return "unknown"
	}
	return specNames[s]
}

// SpecAtBlockNumber resolves the active Spec for height n under config,
// consulting it the way the teacher's state processors branch on
// IsLondon/IsShanghai/IsCancun rather than hand-rolling our own activation
// table.
func SpecAtBlockNumber(config *params.ChainConfig, number uint64, timestamp uint64) Spec {
	n := new(big.Int).SetUint64(number)
	switch {
	case config.IsCancun(n, timestamp):
		return SpecCancun
	case config.IsShanghai(n, timestamp):
		return SpecShanghai
	case config.MergeNetsplitBlock != nil && config.MergeNetsplitBlock.Cmp(n) <= 0:
		return SpecMerge
	case config.IsLondon(n):
		return SpecLondon
	case config.IsBerlin(n):
		return SpecBerlin
	case config.IsIstanbul(n):
		return SpecIstanbul
	case config.IsConstantinople(n):
		return SpecConstantinople
	case config.IsByzantium(n):
		return SpecByzantium
	case config.DAOForkSupport && config.DAOForkBlock != nil && config.DAOForkBlock.Cmp(n) <= 0:
		return SpecDAO
	case config.IsHomestead(n):
		return SpecHomestead
	default:
		return SpecFrontier
	}
}

// InvalidBlockSpecError reports a block number, hash, or tag that does not
// resolve to a known block.
type InvalidBlockSpecError struct {
	Detail string
}

func (e *InvalidBlockSpecError) Error() string { return "invalid block spec: " + e.Detail }

// BlockAndTotalDifficulty is the result of InsertBlock, mirroring the pair
// the teacher's BlockChain.WriteBlockAndSetHead returns to its caller.
type BlockAndTotalDifficulty struct {
	Block           *types.Block
	TotalDifficulty *big.Int
}

// Chain is the shared contract of spec.md §4.6 between the Local and Forked
// variants.
type Chain interface {
	BlockByHash(hash common.Hash) (*types.Block, bool)
	BlockByNumber(number uint64) (*types.Block, bool)
	LastBlock() *types.Block
	LastBlockNumber() uint64
	ChainID() *big.Int
	SpecAtBlockNumber(number uint64) Spec
	InsertBlock(block *types.Block, diff evmstate.Diff, receipts types.Receipts) (*BlockAndTotalDifficulty, error)
	ReserveBlocks(count uint64, interval uint64) error
	RevertToBlock(number uint64) error
	Logs(fromBlock, toBlock uint64, addresses []common.Address, topics [][]common.Hash) ([]*types.Log, error)
	StateAtBlockNumber(number uint64) (*evmstate.State, error)
	ReceiptsAtBlockNumber(number uint64) (types.Receipts, bool)
}
