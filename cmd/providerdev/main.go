// Command providerdev is a thin demonstration of wiring a provider.Engine
// to a JSON-RPC transport, the way cmd/geth's main assembles a node.Node
// from eth.Ethereum. The transport and method dispatch are intentionally
// minimal: this binary exists only to show the engine is runnable, not to
// be a production JSON-RPC server.
package main

import (
	"flag"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"

	"github.com/edr-go/provider/provider"
)

// ethAPI exposes a handful of eth_*/hardhat_* methods over the engine,
// registered by method name the way rpc.Server derives "eth_getBalance"
// from ethAPI.GetBalance.
type ethAPI struct {
	engine *provider.Engine
}

func (a *ethAPI) GetBalance(addr common.Address, blockNumber rpc.BlockNumberOrHash) (*uint256.Int, error) {
	spec := blockSpecFromRPC(blockNumber)
	return a.engine.Balance(addr, spec)
}

func (a *ethAPI) GetTransactionCount(addr common.Address, blockNumber rpc.BlockNumberOrHash) (uint64, error) {
	spec := blockSpecFromRPC(blockNumber)
	return a.engine.TransactionCount(addr, spec)
}

func (a *ethAPI) ChainId() *uint64 {
	id := a.engine.ChainID().Uint64()
	return &id
}

func (a *ethAPI) Accounts() []common.Address { return a.engine.Accounts() }

type hardhatAPI struct {
	engine *provider.Engine
}

func (a *hardhatAPI) Mine(blocks *uint64, interval *uint64) (bool, error) {
	n := uint64(1)
	if blocks != nil {
		n = *blocks
	}
	iv := uint64(0)
	if interval != nil {
		iv = *interval
	}
	_, err := a.engine.MineAndCommitBlocks(n, iv)
	return err == nil, err
}

func (a *hardhatAPI) SetBalance(addr common.Address, balance *uint256.Int) error {
	return a.engine.SetBalance(addr, balance)
}

func blockSpecFromRPC(b rpc.BlockNumberOrHash) provider.BlockSpec {
	if hash, ok := b.Hash(); ok {
		return provider.BlockSpecHash(hash)
	}
	if number, ok := b.Number(); ok {
		if number >= 0 {
			n := uint64(number.Int64())
			return provider.BlockSpecNumber(n)
		}
		tag := provider.TagLatest
		switch number {
		case rpc.PendingBlockNumber:
			tag = provider.TagPending
		case rpc.EarliestBlockNumber:
			tag = provider.TagEarliest
		case rpc.SafeBlockNumber:
			tag = provider.TagSafe
		case rpc.FinalizedBlockNumber:
			tag = provider.TagFinalized
		}
		return provider.BlockSpecTag(tag)
	}
	return provider.BlockSpecTag(provider.TagLatest)
}

func main() {
	addr := flag.String("http.addr", "127.0.0.1:8545", "HTTP-RPC server listening address")
	chainID := flag.Uint64("chain-id", 31337, "chain id for the local dev chain")
	flag.Parse()

	engine, err := provider.New(provider.Config{
		ChainID: *chainID,
		Accounts: []provider.InitialAccount{
			{Balance: uint256.MustFromDecimal("10000000000000000000000")}, // 10000 ETH
		},
		AutoMine: true,
	})
	if err != nil {
		log.Crit("failed to construct provider engine", "err", err)
	}

	server := rpc.NewServer()
	if err := server.RegisterName("eth", &ethAPI{engine: engine}); err != nil {
		log.Crit("failed to register eth namespace", "err", err)
	}
	if err := server.RegisterName("hardhat", &hardhatAPI{engine: engine}); err != nil {
		log.Crit("failed to register hardhat namespace", "err", err)
	}

	log.Info("providerdev listening", "addr", *addr, "chainId", *chainID)
	if err := http.ListenAndServe(*addr, server); err != nil {
		log.Crit("http server exited", "err", err)
	}
}
