package provider

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"

	"github.com/edr-go/provider/provider/console"
	"github.com/edr-go/provider/provider/evmstate"
	"github.com/edr-go/provider/provider/rpcclient"
)

// encodeConsoleLogString builds the calldata console.sol's log(string)
// overload sends, the way _examples-grounded console_test.go does for its
// own package-internal tests.
func encodeConsoleLogString(t *testing.T, msg string) []byte {
	t.Helper()
	stringType, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatalf("abi.NewType: %v", err)
	}
	packed, err := abi.Arguments{{Type: stringType}}.Pack(msg)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	selector := crypto.Keccak256([]byte("log(string)"))[:4]
	return append(selector, packed...)
}

func testChainConfig() *params.ChainConfig {
	return &params.ChainConfig{
		ChainID:             big.NewInt(1337),
		HomesteadBlock:      big.NewInt(0),
		EIP150Block:         big.NewInt(0),
		EIP155Block:         big.NewInt(0),
		EIP158Block:         big.NewInt(0),
		ByzantiumBlock:      big.NewInt(0),
		ConstantinopleBlock: big.NewInt(0),
		PetersburgBlock:     big.NewInt(0),
		IstanbulBlock:       big.NewInt(0),
		MuirGlacierBlock:    big.NewInt(0),
		BerlinBlock:         big.NewInt(0),
		LondonBlock:         big.NewInt(0),
	}
}

// newTestEngine builds an Engine seeded with one local account holding 1
// ether, on a deterministic clock, matching the newTestChain() helper
// convention in provider/blockchain's own tests.
func newTestEngine(t *testing.T, mutate func(*Config)) *Engine {
	t.Helper()
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{
		ChainID:     1337,
		ChainConfig: testChainConfig(),
		Accounts: []InitialAccount{
			{Balance: uint256.MustFromDecimal("1000000000000000000")},
		},
		BlockGasLimit: 30_000_000,
		now:           func() time.Time { return fixedNow },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestDefaultAccountHasConfiguredBalance(t *testing.T) {
	e := newTestEngine(t, nil)
	accts := e.Accounts()
	if len(accts) != 1 {
		t.Fatalf("want 1 local account, got %d", len(accts))
	}

	bal, err := e.Balance(accts[0], BlockSpecTag(TagLatest))
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	want := uint256.MustFromDecimal("1000000000000000000")
	if bal.Cmp(want) != 0 {
		t.Fatalf("balance = %s, want %s", bal, want)
	}
}

func TestPendingTransactionRoundTrip(t *testing.T) {
	e := newTestEngine(t, nil)
	sender := e.Accounts()[0]
	recipient := common.HexToAddress("0x0000000000000000000000000000000000000002")

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    0,
		To:       &recipient,
		Value:    big.NewInt(1000),
		Gas:      21000,
		GasPrice: big.NewInt(2_000_000_000),
	})

	hash, err := e.SendTransaction(tx, sender)
	if err != nil {
		t.Fatalf("SendTransaction: %v", err)
	}
	if hash != tx.Hash() {
		t.Fatalf("returned hash %s does not match tx hash %s", hash, tx.Hash())
	}

	if _, pending, found := e.TransactionByHash(tx.Hash()); !found || !pending {
		t.Fatalf("expected tx pending in mempool, found=%v pending=%v", found, pending)
	}

	if _, err := e.MineAndCommitBlock(nil); err != nil {
		t.Fatalf("MineAndCommitBlock: %v", err)
	}

	if _, pending, found := e.TransactionByHash(tx.Hash()); !found || pending {
		t.Fatalf("expected tx mined, found=%v pending=%v", found, pending)
	}

	bal, err := e.Balance(recipient, BlockSpecTag(TagLatest))
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal.Uint64() != 1000 {
		t.Fatalf("recipient balance = %s, want 1000", bal)
	}
}

func TestRunCallDoesNotMutateState(t *testing.T) {
	e := newTestEngine(t, nil)
	sender := e.Accounts()[0]
	recipient := common.HexToAddress("0x0000000000000000000000000000000000000003")

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    0,
		To:       &recipient,
		Value:    big.NewInt(500),
		Gas:      21000,
		GasPrice: big.NewInt(2_000_000_000),
	})

	res, err := e.Call(tx, sender, BlockSpecTag(TagLatest), nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Reverted {
		t.Fatalf("call reverted: %s", res.RevertReason)
	}

	bal, err := e.Balance(recipient, BlockSpecTag(TagLatest))
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !bal.IsZero() {
		t.Fatalf("run_call must not mutate committed state, recipient balance = %s", bal)
	}

	nonce, err := e.TransactionCount(sender, BlockSpecTag(TagLatest))
	if err != nil {
		t.Fatalf("TransactionCount: %v", err)
	}
	if nonce != 0 {
		t.Fatalf("run_call must not consume a nonce, got %d", nonce)
	}
}

// TestRunCallSurfacesConsoleLog exercises spec.md §8 scenario 3: calling a
// console.log site via run_call returns one console_log_input equal to the
// expected encoded calldata.
func TestRunCallSurfacesConsoleLog(t *testing.T) {
	e := newTestEngine(t, nil)
	sender := e.Accounts()[0]
	calldata := encodeConsoleLogString(t, "hello")

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    0,
		To:       &console.Address,
		Gas:      21000,
		GasPrice: big.NewInt(2_000_000_000),
		Data:     calldata,
	})

	res, err := e.Call(tx, sender, BlockSpecTag(TagLatest), nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Reverted {
		t.Fatalf("call reverted: %s", res.RevertReason)
	}
	if len(res.ConsoleLogs) != 1 {
		t.Fatalf("want exactly 1 console log input, got %d", len(res.ConsoleLogs))
	}

	want, ok := console.Decode(calldata)
	if !ok {
		t.Fatalf("test calldata did not decode as a known console.log selector")
	}
	got := res.ConsoleLogs[0]
	if got.Selector != want.Selector || len(got.Args) != 1 || got.Args[0].(string) != "hello" {
		t.Fatalf("console log input = %+v, want %+v", got, want)
	}

	formatted, err := console.Format(&got)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if formatted != "hello" {
		t.Fatalf("formatted console log = %q, want %q", formatted, "hello")
	}
}

func TestSnapshotRevertRestoresBalanceAndHeight(t *testing.T) {
	e := newTestEngine(t, nil)
	addr := e.Accounts()[0]

	for i := 0; i < 3; i++ {
		if _, err := e.MineAndCommitBlock(nil); err != nil {
			t.Fatalf("MineAndCommitBlock[%d]: %v", i, err)
		}
	}
	if e.chain.LastBlockNumber() != 3 {
		t.Fatalf("height = %d, want 3", e.chain.LastBlockNumber())
	}

	originalBalance, err := e.Balance(addr, BlockSpecTag(TagLatest))
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}

	snap := e.MakeSnapshot()

	if err := e.SetBalance(addr, uint256.NewInt(1)); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := e.MineAndCommitBlock(nil); err != nil {
			t.Fatalf("MineAndCommitBlock after snapshot[%d]: %v", i, err)
		}
	}
	if e.chain.LastBlockNumber() != 5 {
		t.Fatalf("height after extra mining = %d, want 5", e.chain.LastBlockNumber())
	}

	ok, err := e.RevertToSnapshot(snap)
	if err != nil {
		t.Fatalf("RevertToSnapshot: %v", err)
	}
	if !ok {
		t.Fatalf("RevertToSnapshot reported false for a live snapshot")
	}

	if e.chain.LastBlockNumber() != 3 {
		t.Fatalf("height after revert = %d, want 3", e.chain.LastBlockNumber())
	}
	restored, err := e.Balance(addr, BlockSpecTag(TagLatest))
	if err != nil {
		t.Fatalf("Balance after revert: %v", err)
	}
	if restored.Cmp(originalBalance) != 0 {
		t.Fatalf("balance after revert = %s, want %s", restored, originalBalance)
	}

	if ok, err := e.RevertToSnapshot(snap); err != nil || ok {
		t.Fatalf("reverting a consumed snapshot should report false, got ok=%v err=%v", ok, err)
	}
}

func TestAutoMineRejectsNonceTooHigh(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.AutoMine = true })
	sender := e.Accounts()[0]
	recipient := common.HexToAddress("0x0000000000000000000000000000000000000004")

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.ChainID(),
		Nonce:     2, // current nonce is 0; skipping ahead is a gap
		To:        &recipient,
		Value:     big.NewInt(1),
		Gas:       21000,
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(3_000_000_000),
	})

	_, err := e.SendTransaction(tx, sender)
	if err == nil {
		t.Fatalf("expected AutoMineNonceTooHighError, got nil")
	}
	nonceErr, ok := err.(*AutoMineNonceTooHighError)
	if !ok {
		t.Fatalf("expected *AutoMineNonceTooHighError, got %T (%v)", err, err)
	}
	if nonceErr.Expected != 0 || nonceErr.Actual != 2 {
		t.Fatalf("unexpected nonce error fields: %+v", nonceErr)
	}

	if e.mempool.Len() != 0 {
		t.Fatalf("rejected transaction must not be admitted to the mempool")
	}
	if e.chain.LastBlockNumber() != 0 {
		t.Fatalf("rejected auto-mine submission must not mine any block, height = %d", e.chain.LastBlockNumber())
	}
}

// fakeRPCClient is a minimal rpcclient.Client stand-in for exercising the
// forked Chain variant without a real JSON-RPC endpoint.
type fakeRPCClient struct {
	balances map[common.Address]*uint256.Int
}

func (f *fakeRPCClient) FeeHistory(context.Context, uint64, rpc.BlockNumber, []float64) (*rpcclient.FeeHistoryResult, error) {
	return &rpcclient.FeeHistoryResult{OldestBlock: 0}, nil
}

func (f *fakeRPCClient) GetAccountInfos(_ context.Context, addresses []common.Address, _ rpc.BlockNumber) ([]*evmstate.AccountInfo, error) {
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

func (f *fakeRPCClient) GetStorageAt(context.Context, common.Address, common.Hash, rpc.BlockNumber) (common.Hash, error) {
	return common.Hash{}, nil
}

func (f *fakeRPCClient) GetBlockByNumber(context.Context, rpc.BlockNumber) (map[string]any, error) {
	return map[string]any{
		"number":    "0x64",
		"timestamp": "0x0",
		"gasLimit":  "0x1c9c380",
	}, nil
}

func (f *fakeRPCClient) GetLogs(context.Context, rpc.BlockNumber, rpc.BlockNumber, []common.Address, [][]common.Hash) ([]map[string]any, error) {
	return nil, nil
}

func TestResetToForkReadsRemoteBalance(t *testing.T) {
	e := newTestEngine(t, nil)

	remoteAddr := common.HexToAddress("0x0000000000000000000000000000000000000005")
	client := &fakeRPCClient{balances: map[common.Address]*uint256.Int{
		remoteAddr: uint256.MustFromDecimal("5000000000000000000"),
	}}
	forkBlock := uint64(100)

	e.config.Fork = &ForkConfig{BlockNumber: &forkBlock}
	e.config.RPCClient = client
	e.initialConfig.Fork = e.config.Fork
	e.initialConfig.RPCClient = client

	if err := e.Reset(e.config.Fork); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	// forkBlock itself is represented locally (the local tail's base
	// height); only heights strictly below it are resolved from the remote
	// node, so read at forkBlock-1.
	bal, err := e.Balance(remoteAddr, BlockSpecNumber(forkBlock-1))
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	want := uint256.MustFromDecimal("5000000000000000000")
	if bal.Cmp(want) != 0 {
		t.Fatalf("remote balance = %s, want %s", bal, want)
	}
}
