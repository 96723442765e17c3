package provider

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/edr-go/provider/provider/blockchain"
	"github.com/edr-go/provider/provider/clock"
	"github.com/edr-go/provider/provider/evmgateway"
	"github.com/edr-go/provider/provider/evmstate"
	"github.com/edr-go/provider/provider/irregular"
	"github.com/edr-go/provider/provider/keyring"
	"github.com/edr-go/provider/provider/mempool"
	"github.com/edr-go/provider/provider/pfilters"
	"github.com/edr-go/provider/provider/statecache"
)

// Engine is the Provider Engine (C12): the single object owning every
// other component and serializing all mutations to them (spec.md §5 "single-
// threaded with cooperative suspension"). Nothing outside this package
// mutates the blockchain, mempool, state cache, or irregular state
// directly.
type Engine struct {
	initialConfig Config
	config        Config

	instanceID string // uuid, used only to correlate log lines across a run

	clock  *clock.Clock
	randao *clock.RandaoGenerator

	keys       *keyring.Keyring
	cache      *statecache.Cache
	irregular  *irregular.IrregularState
	mempool    *mempool.Pool
	chain      blockchain.Chain
	filters    *pfilters.Registry
	gateway    *evmgateway.Gateway

	// newHeadFeed is an internal, push-only notification of every
	// successfully committed block, independent of the JSON-RPC-shaped
	// pfilters registry; grounded on the teacher's
	// core.BlockChain.SubscribeChainHeadEvent / eth/catalyst's withdrawal
	// queue use of github.com/ethereum/go-ethereum/event.Feed for the same
	// kind of internal fan-out (SPEC_FULL.md §11).
	newHeadFeed event.Feed

	coinbase common.Address

	autoMine bool

	nextBlockBaseFeePerGas *uint256.Int
	nextBlockTimestamp     *uint64

	snapshots      map[uint64]*snapshotRecord
	nextSnapshotID uint64
}

// New constructs an Engine from cfg. It performs no network I/O itself: a
// forked Config must already carry a dialed RPCClient and a resolved fork
// block (see rpcclient.Dial), so construction stays hermetic and testable.
func New(cfg Config) (*Engine, error) {
	cfg = cfg.clone()
	if cfg.ChainConfig == nil {
		cfg.ChainConfig = params.AllEthashProtocolChanges
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	e := &Engine{
		initialConfig: cfg.clone(),
		config:        cfg,
		instanceID:    uuid.NewString(),
		clock:         clock.New(cfg.nowFunc()),
		randao:        clock.NewRandaoGenerator(randaoSeed(cfg)),
		keys:          keyring.New(),
		cache:         statecache.New(statecache.DefaultCapacity),
		irregular:     irregular.New(),
		filters:       pfilters.New(cfg.nowFunc()),
		snapshots:     make(map[uint64]*snapshotRecord),
	}

	interp := cfg.Interpreter
	if interp == nil {
		interp = evmgateway.SimpleInterpreter{}
	}
	e.gateway = evmgateway.New(interp, cfg.AllowUnlimitedContractSize)

	genesisState := evmstate.New()
	for _, acct := range cfg.Accounts {
		priv := acct.SecretKey
		if priv == nil {
			addr, err := e.keys.GenerateKey()
			if err != nil {
				return nil, &ConstructionError{Detail: "generating local account key", Err: err}
			}
			bal := acct.Balance
			if bal == nil {
				bal = uint256.NewInt(0)
			}
			genesisState.SetBalance(addr, bal)
			continue
		}
		addr := e.keys.AddKey(priv)
		bal := acct.Balance
		if bal == nil {
			bal = uint256.NewInt(0)
		}
		genesisState.SetBalance(addr, bal)
	}

	if cfg.Coinbase != nil {
		e.coinbase = *cfg.Coinbase
	} else if accts := e.keys.Accounts(); len(accts) > 0 {
		e.coinbase = accts[0]
	}

	e.mempool = mempool.New(cfg.BlockGasLimit, cfg.MempoolOrder)
	e.autoMine = cfg.AutoMine

	if cfg.InitialDate != nil {
		e.clock.SetOffsetSeconds(cfg.InitialDate.Unix() - e.clock.NowSeconds())
	}

	chainID := new(big.Int).SetUint64(cfg.ChainID)

	if cfg.Fork != nil {
		if cfg.RPCClient == nil {
			return nil, &ConstructionError{Detail: "forked config requires a dialed RPCClient", Err: fmt.Errorf("rpc client is nil")}
		}
		var forkNumber uint64
		if cfg.Fork.BlockNumber != nil {
			forkNumber = *cfg.Fork.BlockNumber
		}
		forkHeader := &types.Header{Number: new(big.Int).SetUint64(forkNumber), Time: uint64(e.clock.NowSeconds())}
		forkBlock := types.NewBlockWithHeader(forkHeader)
		e.chain = blockchain.NewForked(chainID, cfg.ChainConfig, cfg.RPCClient, forkNumber, forkBlock.Hash(), forkBlock)
	} else {
		genesisHeader := &types.Header{
			Number:   big.NewInt(0),
			Time:     uint64(e.clock.NowSeconds()),
			GasLimit: cfg.BlockGasLimit,
		}
		if cfg.ChainConfig.IsLondon(big.NewInt(0)) {
			baseFee := cfg.InitialBaseFeePerGas
			if baseFee == nil {
				baseFee = uint256.NewInt(DefaultInitialBaseFeePerGas)
			}
			genesisHeader.BaseFee = baseFee.ToBig()
		}
		genesisBlock := types.NewBlockWithHeader(genesisHeader)
		e.chain = blockchain.NewLocal(chainID, cfg.ChainConfig, genesisBlock, genesisState)
	}

	e.cache.Add(genesisState, e.chain.LastBlockNumber())

	log.Info("provider engine constructed", "instance", e.instanceID, "chainId", cfg.ChainID, "forked", cfg.Fork != nil)
	return e, nil
}

// randaoSeed derives the prev-randao stream's seed deterministically from
// the chain id, so two engines constructed with the same config produce the
// same post-Merge randomness sequence (spec.md §4.1 "reproducible ... given
// the same call count").
func randaoSeed(cfg Config) [32]byte {
	var seed [32]byte
	copy(seed[:], []byte(fmt.Sprintf("edr-provider-seed-%d", cfg.ChainID)))
	return seed
}

// Reset rebuilds the engine from its initial configuration, optionally
// replacing the fork config, and swaps it in wholesale (spec.md §4.12
// reset, §9 "this is the correct teardown boundary").
func (e *Engine) Reset(fork *ForkConfig) error {
	next := e.initialConfig.clone()
	next.Fork = fork
	if fork != nil && next.RPCClient == nil {
		return &ConstructionError{Detail: "reset with a fork config requires a dialed RPCClient on the new config", Err: fmt.Errorf("rpc client is nil")}
	}
	fresh, err := New(next)
	if err != nil {
		return err
	}
	*e = *fresh
	return nil
}

// materializer adapts the engine's chain+irregular state into the
// statecache.Materializer contract C3 calls when a block-number lookup
// misses the cache.
type materializer struct{ e *Engine }

func (m materializer) MaterializeState(blockNumber uint64) (*evmstate.State, error) {
	base, err := m.e.chain.StateAtBlockNumber(blockNumber)
	if err != nil {
		return nil, err
	}
	return m.e.irregular.ApplyThrough(base, blockNumber), nil
}

// stateAt resolves the state for spec, handling the "pending" case by
// materializing a throwaway next block via the gateway and never persisting
// it (spec.md §4.9 "Pending-block execution").
func (e *Engine) stateAt(spec BlockSpec) (*evmstate.State, error) {
	number, pending, err := e.resolveBlockNumber(spec)
	if err != nil {
		return nil, err
	}
	if !pending {
		state, _, err := e.cache.GetOrCompute(number, materializer{e})
		return state, err
	}
	result, err := e.mineThrowawayBlock(nil, nil)
	if err != nil {
		return nil, err
	}
	return result.PostState, nil
}

// currentState returns the state for the latest committed block.
func (e *Engine) currentState() (*evmstate.State, error) {
	state, _, err := e.cache.GetOrCompute(e.chain.LastBlockNumber(), materializer{e})
	return state, err
}

// Balance returns the balance of addr at spec.
func (e *Engine) Balance(addr common.Address, spec BlockSpec) (*uint256.Int, error) {
	state, err := e.stateAt(spec)
	if err != nil {
		return nil, err
	}
	info := state.Account(addr)
	if info == nil {
		return uint256.NewInt(0), nil
	}
	return info.Balance, nil
}

// TransactionCount returns addr's nonce at spec.
func (e *Engine) TransactionCount(addr common.Address, spec BlockSpec) (uint64, error) {
	state, err := e.stateAt(spec)
	if err != nil {
		return 0, err
	}
	info := state.Account(addr)
	if info == nil {
		return 0, nil
	}
	return info.Nonce, nil
}

// Code returns addr's code at spec.
func (e *Engine) Code(addr common.Address, spec BlockSpec) ([]byte, error) {
	state, err := e.stateAt(spec)
	if err != nil {
		return nil, err
	}
	info := state.Account(addr)
	if info == nil {
		return nil, nil
	}
	return info.Code, nil
}

// StorageAt returns the value of slot key at addr at spec.
func (e *Engine) StorageAt(addr common.Address, key common.Hash, spec BlockSpec) (common.Hash, error) {
	state, err := e.stateAt(spec)
	if err != nil {
		return common.Hash{}, err
	}
	return state.StorageAt(addr, key), nil
}

// Accounts returns the locally held account addresses, insertion order.
func (e *Engine) Accounts() []common.Address { return e.keys.Accounts() }

// ImpersonateAccount marks addr as impersonated (spec.md §4.2).
func (e *Engine) ImpersonateAccount(addr common.Address) { e.keys.Impersonate(addr) }

// StopImpersonatingAccount removes addr from the impersonated set.
func (e *Engine) StopImpersonatingAccount(addr common.Address) bool {
	return e.keys.StopImpersonating(addr)
}

// IsImpersonatedAccount reports whether addr is currently impersonated.
func (e *Engine) IsImpersonatedAccount(addr common.Address) bool { return e.keys.IsImpersonated(addr) }

// Sign computes an ECDSA signature over digest using addr's local key (C2's
// Signer collaborator, spec.md §6).
func (e *Engine) Sign(addr common.Address, digest []byte) ([]byte, error) {
	return e.keys.Sign(addr, digest)
}

// SignTypedData computes an EIP-712 signature over a typed-data payload
// using addr's local key, the Signer collaborator's "encode_eip712"
// operation (spec.md §6).
func (e *Engine) SignTypedData(addr common.Address, data apitypes.TypedData) ([]byte, error) {
	return e.keys.SignTypedData(addr, data)
}

// ChainID returns the configured chain id.
func (e *Engine) ChainID() *big.Int { return e.chain.ChainID() }

// NetworkID returns the configured network id string (net_version).
func (e *Engine) NetworkID() string {
	if e.config.NetworkID != "" {
		return e.config.NetworkID
	}
	return e.chain.ChainID().String()
}

// Coinbase returns the default mining beneficiary.
func (e *Engine) Coinbase() common.Address { return e.coinbase }

// SetCoinbase overrides the default mining beneficiary.
func (e *Engine) SetCoinbase(addr common.Address) { e.coinbase = addr }

// GasPrice returns the suggested gas price: the next block's base fee plus
// DefaultPriorityFeePerGas post-London, or PreEIP1559GasPrice pre-London
// (spec.md §6 Constants).
func (e *Engine) GasPrice() (*uint256.Int, error) {
	spec := e.chain.SpecAtBlockNumber(e.chain.LastBlockNumber())
	if spec < blockchain.SpecLondon {
		return uint256.NewInt(PreEIP1559GasPrice), nil
	}
	base, err := e.nextBaseFee()
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Add(base, uint256.NewInt(DefaultPriorityFeePerGas)), nil
}

// MaxPriorityFeePerGas returns the suggested priority fee.
func (e *Engine) MaxPriorityFeePerGas() *uint256.Int { return uint256.NewInt(DefaultPriorityFeePerGas) }

// TransactionByHash resolves a transaction either from the mempool (the
// original's pending-vs-mined dual lookup, SPEC_FULL.md §12) or from the
// chain, reporting whether it is still pending.
func (e *Engine) TransactionByHash(hash common.Hash) (tx *types.Transaction, isPending bool, found bool) {
	if tx, ok := e.mempool.Get(hash); ok {
		return tx, true, true
	}
	for n := e.chain.LastBlockNumber(); ; n-- {
		block, ok := e.chain.BlockByNumber(n)
		if ok {
			for _, t := range block.Transactions() {
				if t.Hash() == hash {
					return t, false, true
				}
			}
		}
		if n == 0 {
			break
		}
	}
	return nil, false, false
}
