package provider

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/edr-go/provider/provider/blockchain"
)

// BlockTag names a symbolic block, grounded on
// github.com/ethereum/go-ethereum/rpc.BlockNumber's pending/latest/earliest/
// safe/finalized sentinels, extended here with the four-tag split
// original_source's BlockSpec enum uses (spec.md §12 "last_block_hash/
// block_by_block_spec across Number/Hash/Tag/Eip1898").
type BlockTag int

const (
	TagLatest BlockTag = iota
	TagEarliest
	TagPending
	TagSafe
	TagFinalized
)

// BlockSpec resolves a JSON-RPC-style block reference. Exactly one of
// Number, Hash, or Tag should be set; Eip1898 additionally requires
// RequireCanonical only be honored when Hash is set.
type BlockSpec struct {
	Number           *uint64
	Hash             *common.Hash
	Tag              *BlockTag
	RequireCanonical bool
}

// BlockSpecNumber builds a BlockSpec pinned to an explicit height.
func BlockSpecNumber(n uint64) BlockSpec { return BlockSpec{Number: &n} }

// BlockSpecHash builds a BlockSpec pinned to a block hash.
func BlockSpecHash(h common.Hash) BlockSpec { return BlockSpec{Hash: &h} }

// BlockSpecTag builds a BlockSpec naming a symbolic block.
func BlockSpecTag(t BlockTag) BlockSpec { return BlockSpec{Tag: &t} }

// resolveBlockNumber turns spec into a concrete height against e's current
// chain, special-casing "pending" (latest+1, spec.md glossary) and failing
// safe/finalized pre-Merge per spec.md §7 "Invalid block spec".
func (e *Engine) resolveBlockNumber(spec BlockSpec) (uint64, bool /*isPending*/, error) {
	switch {
	case spec.Number != nil:
		if *spec.Number > e.chain.LastBlockNumber() {
			return 0, false, &InvalidBlockSpecError{Detail: fmt.Sprintf("block %d does not exist yet", *spec.Number)}
		}
		return *spec.Number, false, nil
	case spec.Hash != nil:
		b, ok := e.chain.BlockByHash(*spec.Hash)
		if !ok {
			return 0, false, &InvalidBlockSpecError{Detail: fmt.Sprintf("block hash %s not found", spec.Hash)}
		}
		return b.NumberU64(), false, nil
	case spec.Tag != nil:
		switch *spec.Tag {
		case TagPending:
			return e.chain.LastBlockNumber() + 1, true, nil
		case TagEarliest:
			return 0, false, nil
		case TagSafe, TagFinalized:
			if e.chain.SpecAtBlockNumber(e.chain.LastBlockNumber()) < blockchain.SpecMerge {
				return 0, false, &InvalidBlockSpecError{Detail: "safe/finalized block tags require a post-Merge chain"}
			}
			return e.chain.LastBlockNumber(), false, nil
		default:
			return e.chain.LastBlockNumber(), false, nil
		}
	default:
		return e.chain.LastBlockNumber(), false, nil
	}
}

// InvalidBlockSpecError mirrors provider/blockchain's error of the same
// shape at the engine's public surface, so callers need not import the
// blockchain package to type-switch on it.
type InvalidBlockSpecError struct {
	Detail string
}

func (e *InvalidBlockSpecError) Error() string { return "invalid block spec: " + e.Detail }
