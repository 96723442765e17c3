// Package rpcclient implements the forked-mode RpcClient collaborator
// (spec.md §6): fee_history and get_account_infos against a remote node,
// plus a byte cache for historical reads below the fork point.
//
// Grounded on github.com/ethereum/go-ethereum/rpc.Client's JSON-RPC-over-HTTP
// dial, as used by the teacher's own ethclient, and on the remote fallback
// shape in original_source's rethnet_eth/src/remote/eth.rs (RpcClientError
// taxonomy, get_account_infos batching).
package rpcclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"

	"github.com/edr-go/provider/provider/evmstate"
)

// RpcClientError wraps a failure talking to the upstream node, carrying the
// method name for diagnosis.
type RpcClientError struct {
	Method string
	Err    error
}

func (e *RpcClientError) Error() string {
	return fmt.Sprintf("rpc client error calling %s: %v", e.Method, e.Err)
}

func (e *RpcClientError) Unwrap() error { return e.Err }

// FeeHistoryResult mirrors eth_feeHistory's response shape.
type FeeHistoryResult struct {
	OldestBlock   uint64
	BaseFeePerGas []*big.Int
	GasUsedRatio  []float64
	Reward        [][]*big.Int
}

// Client is the RpcClient collaborator of spec.md §6.
type Client interface {
	FeeHistory(ctx context.Context, count uint64, newestBlock rpc.BlockNumber, percentiles []float64) (*FeeHistoryResult, error)
	GetAccountInfos(ctx context.Context, addresses []common.Address, blockNumber rpc.BlockNumber) ([]*evmstate.AccountInfo, error)
	GetStorageAt(ctx context.Context, addr common.Address, key common.Hash, blockNumber rpc.BlockNumber) (common.Hash, error)
	GetBlockByNumber(ctx context.Context, number rpc.BlockNumber) (map[string]any, error)
	GetLogs(ctx context.Context, fromBlock, toBlock rpc.BlockNumber, addresses []common.Address, topics [][]common.Hash) ([]map[string]any, error)
}

// HTTPClient is a real JSON-RPC-over-HTTP Client built on
// github.com/ethereum/go-ethereum/rpc.Client, the same transport the
// teacher's ethclient.Client wraps.
type HTTPClient struct {
	rpc     *rpc.Client
	headers map[string]string
	cache   *Cache
}

// Dial connects to url (an http(s) JSON-RPC endpoint), optionally attaching
// extra HTTP headers and an on-disk response cache for historical,
// immutable reads below the fork point.
func Dial(ctx context.Context, url string, headers map[string]string, cacheDir string) (*HTTPClient, error) {
	opts := make([]rpc.ClientOption, 0, len(headers))
	for k, v := range headers {
		opts = append(opts, rpc.WithHeader(k, v))
	}
	c, err := rpc.DialOptions(ctx, url, opts...)
	if err != nil {
		return nil, &RpcClientError{Method: "dial", Err: err}
	}
	var cache *Cache
	if cacheDir != "" {
		cache = NewCache(cacheDir)
	}
	return &HTTPClient{rpc: c, headers: headers, cache: cache}, nil
}

func (h *HTTPClient) FeeHistory(ctx context.Context, count uint64, newestBlock rpc.BlockNumber, percentiles []float64) (*FeeHistoryResult, error) {
	var raw struct {
		OldestBlock   hexutil.Uint64   `json:"oldestBlock"`
		BaseFeePerGas []*hexutil.Big   `json:"baseFeePerGas"`
		GasUsedRatio  []float64        `json:"gasUsedRatio"`
		Reward        [][]*hexutil.Big `json:"reward"`
	}
	if err := h.rpc.CallContext(ctx, &raw, "eth_feeHistory", hexutil.Uint64(count), newestBlock, percentiles); err != nil {
		return nil, &RpcClientError{Method: "eth_feeHistory", Err: err}
	}
	out := &FeeHistoryResult{OldestBlock: uint64(raw.OldestBlock), GasUsedRatio: raw.GasUsedRatio}
	for _, b := range raw.BaseFeePerGas {
		out.BaseFeePerGas = append(out.BaseFeePerGas, b.ToInt())
	}
	for _, row := range raw.Reward {
		var rewards []*big.Int
		for _, r := range row {
			rewards = append(rewards, r.ToInt())
		}
		out.Reward = append(out.Reward, rewards)
	}
	return out, nil
}

func (h *HTTPClient) GetAccountInfos(ctx context.Context, addresses []common.Address, blockNumber rpc.BlockNumber) ([]*evmstate.AccountInfo, error) {
	out := make([]*evmstate.AccountInfo, len(addresses))
	for i, addr := range addresses {
		info, err := h.getAccountInfo(ctx, addr, blockNumber)
		if err != nil {
			return nil, err
		}
		out[i] = info
	}
	return out, nil
}

func (h *HTTPClient) getAccountInfo(ctx context.Context, addr common.Address, blockNumber rpc.BlockNumber) (*evmstate.AccountInfo, error) {
	if h.cache != nil && blockNumber >= 0 {
		if cached, ok := h.cache.GetAccount(addr, uint64(blockNumber)); ok {
			return cached, nil
		}
	}
	var balanceHex hexutil.Big
	var nonceHex hexutil.Uint64
	var codeHex hexutil.Bytes
	if err := h.rpc.CallContext(ctx, &balanceHex, "eth_getBalance", addr, blockNumber); err != nil {
		return nil, &RpcClientError{Method: "eth_getBalance", Err: err}
	}
	if err := h.rpc.CallContext(ctx, &nonceHex, "eth_getTransactionCount", addr, blockNumber); err != nil {
		return nil, &RpcClientError{Method: "eth_getTransactionCount", Err: err}
	}
	if err := h.rpc.CallContext(ctx, &codeHex, "eth_getCode", addr, blockNumber); err != nil {
		return nil, &RpcClientError{Method: "eth_getCode", Err: err}
	}
	balance, overflow := uint256.FromBig(balanceHex.ToInt())
	if overflow {
		return nil, &RpcClientError{Method: "eth_getBalance", Err: fmt.Errorf("balance overflows 256 bits")}
	}
	info := &evmstate.AccountInfo{
		Balance: balance,
		Nonce:   uint64(nonceHex),
		Code:    codeHex,
	}
	if h.cache != nil && blockNumber >= 0 {
		h.cache.PutAccount(addr, uint64(blockNumber), info)
	}
	log.Debug("fetched remote account", "address", addr, "block", blockNumber)
	return info, nil
}

func (h *HTTPClient) GetStorageAt(ctx context.Context, addr common.Address, key common.Hash, blockNumber rpc.BlockNumber) (common.Hash, error) {
	var out common.Hash
	if err := h.rpc.CallContext(ctx, &out, "eth_getStorageAt", addr, key, blockNumber); err != nil {
		return common.Hash{}, &RpcClientError{Method: "eth_getStorageAt", Err: err}
	}
	return out, nil
}

func (h *HTTPClient) GetBlockByNumber(ctx context.Context, number rpc.BlockNumber) (map[string]any, error) {
	var out map[string]any
	if err := h.rpc.CallContext(ctx, &out, "eth_getBlockByNumber", number, false); err != nil {
		return nil, &RpcClientError{Method: "eth_getBlockByNumber", Err: err}
	}
	return out, nil
}

func (h *HTTPClient) GetLogs(ctx context.Context, fromBlock, toBlock rpc.BlockNumber, addresses []common.Address, topics [][]common.Hash) ([]map[string]any, error) {
	filter := map[string]any{
		"fromBlock": fromBlock,
		"toBlock":   toBlock,
		"address":   addresses,
		"topics":    topics,
	}
	var out []map[string]any
	if err := h.rpc.CallContext(ctx, &out, "eth_getLogs", filter); err != nil {
		return nil, &RpcClientError{Method: "eth_getLogs", Err: err}
	}
	return out, nil
}
