package rpcclient

import (
	"encoding/binary"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/edr-go/provider/provider/evmstate"
)

// Cache keeps remote reads below the fork point, keyed by (address, block
// number): those reads are immutable once a block is final, so nothing ever
// invalidates an entry. NewCache reloads whatever an earlier SaveToFile
// wrote to the same directory. Backed by
// github.com/VictoriaMetrics/fastcache, the same disk-backed byte cache the
// teacher's trie/triedb layer uses for its clean-state cache.
type Cache struct {
	c *fastcache.Cache
}

// NewCache opens (or creates) a cache rooted at dir.
func NewCache(dir string) *Cache {
	return &Cache{c: fastcache.LoadFromFileOrNew(dir, 64*1024*1024)}
}

type cachedAccount struct {
	Balance  *uint256.Int
	Nonce    uint64
	CodeHash common.Hash
	Code     []byte
}

func accountKey(addr common.Address, blockNumber uint64) []byte {
	key := make([]byte, common.AddressLength+8)
	copy(key, addr[:])
	binary.BigEndian.PutUint64(key[common.AddressLength:], blockNumber)
	return key
}

// GetAccount returns a previously cached account, if any.
func (c *Cache) GetAccount(addr common.Address, blockNumber uint64) (*evmstate.AccountInfo, bool) {
	raw, ok := c.c.HasGet(nil, accountKey(addr, blockNumber))
	if !ok {
		return nil, false
	}
	var cached cachedAccount
	if err := rlp.DecodeBytes(raw, &cached); err != nil {
		return nil, false
	}
	return &evmstate.AccountInfo{
		Balance:  cached.Balance,
		Nonce:    cached.Nonce,
		CodeHash: cached.CodeHash,
		Code:     cached.Code,
	}, true
}

// PutAccount stores info for (addr, blockNumber).
func (c *Cache) PutAccount(addr common.Address, blockNumber uint64, info *evmstate.AccountInfo) {
	balance := info.Balance
	if balance == nil {
		balance = new(uint256.Int)
	}
	data, err := rlp.EncodeToBytes(cachedAccount{
		Balance:  balance,
		Nonce:    info.Nonce,
		CodeHash: info.CodeHash,
		Code:     info.Code,
	})
	if err != nil {
		return
	}
	c.c.Set(accountKey(addr, blockNumber), data)
}

// SaveToFile persists the cache to disk. The engine does not call it;
// entries reach disk only when a caller does.
func (c *Cache) SaveToFile(dir string) error {
	return c.c.SaveToFile(dir)
}
