package blockchain

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"

	"github.com/edr-go/provider/provider/evmstate"
	"github.com/edr-go/provider/provider/rpcclient"
)

type fakeRPC struct {
	balances map[common.Address]*uint256.Int
}

func (f *fakeRPC) FeeHistory(context.Context, uint64, rpc.BlockNumber, []float64) (*rpcclient.FeeHistoryResult, error) {
	return &rpcclient.FeeHistoryResult{}, nil
}

func (f *fakeRPC) GetAccountInfos(_ context.Context, addresses []common.Address, _ rpc.BlockNumber) ([]*evmstate.AccountInfo, error) {
	out := make([]*evmstate.AccountInfo, len(addresses))
	for i, addr := range addresses {
		bal := f.balances[addr]
		if bal == nil {
			bal = uint256.NewInt(0)
		}
		out[i] = &evmstate.AccountInfo{Balance: bal}
	}
	return out, nil
}

func (f *fakeRPC) GetStorageAt(context.Context, common.Address, common.Hash, rpc.BlockNumber) (common.Hash, error) {
	return common.Hash{}, nil
}

func (f *fakeRPC) GetBlockByNumber(context.Context, rpc.BlockNumber) (map[string]any, error) {
	return map[string]any{"number": "0x5", "timestamp": "0x64"}, nil
}

func (f *fakeRPC) GetLogs(context.Context, rpc.BlockNumber, rpc.BlockNumber, []common.Address, [][]common.Hash) ([]map[string]any, error) {
	return nil, nil
}

func newTestForked(t *testing.T, rpcClient rpcclient.Client) *Forked {
	t.Helper()
	forkBlock := types.NewBlockWithHeader(&types.Header{Number: big.NewInt(100), Time: 5000})
	return NewForked(big.NewInt(1), params.TestChainConfig, rpcClient, 100, forkBlock.Hash(), forkBlock)
}

func TestForkedLocalHeightsDelegateToEmbeddedLocal(t *testing.T) {
	f := newTestForked(t, &fakeRPC{})
	if f.LastBlockNumber() != 100 {
		t.Fatalf("want last block number 100 at construction, got %d", f.LastBlockNumber())
	}
	header := &types.Header{ParentHash: f.LastBlock().Hash(), Number: big.NewInt(101), Time: 5001}
	block := types.NewBlockWithHeader(header)
	if _, err := f.InsertBlock(block, evmstate.Diff{}, nil); err != nil {
		t.Fatalf("InsertBlock: %v", err)
	}
	if f.LastBlockNumber() != 101 {
		t.Fatalf("want last block number 101 after insert, got %d", f.LastBlockNumber())
	}
}

func TestForkedStateBelowForkFetchesRemotely(t *testing.T) {
	addr := common.HexToAddress("0xaa")
	rpcc := &fakeRPC{balances: map[common.Address]*uint256.Int{addr: uint256.NewInt(42)}}
	f := newTestForked(t, rpcc)

	state, err := f.StateAtBlockNumber(50)
	if err != nil {
		t.Fatalf("StateAtBlockNumber: %v", err)
	}
	info := state.Account(addr)
	if info == nil || info.Balance.Uint64() != 42 {
		t.Fatalf("expected remote-fetched balance 42, got %+v", info)
	}
}

func TestForkedRevertBelowForkPointRejected(t *testing.T) {
	f := newTestForked(t, &fakeRPC{})
	if err := f.RevertToBlock(50); err == nil {
		t.Fatal("expected an error reverting below the fork point")
	}
}
