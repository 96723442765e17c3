package provider

import (
	"crypto/ecdsa"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/edr-go/provider/provider/evmgateway"
	"github.com/edr-go/provider/provider/mempool"
	"github.com/edr-go/provider/provider/rpcclient"
)

// Constants named in spec.md §6.
const (
	DefaultInitialBaseFeePerGas = 1_000_000_000
	PreEIP1559GasPrice          = 8_000_000_000
	DefaultPriorityFeePerGas    = 1_000_000_000
	ReservationThreshold        = 6
)

// InitialAccount seeds one local account at genesis, mirroring the
// Accounts list a dev-mode node's genesis.json / --account flag produces.
type InitialAccount struct {
	SecretKey *ecdsa.PrivateKey // generated if nil
	Balance   *uint256.Int
}

// ForkConfig carries the fork.* keys from spec.md §6.
type ForkConfig struct {
	JSONRPCURL  string
	BlockNumber *uint64 // nil means "latest at dial time"
	HTTPHeaders map[string]string
	CacheDir    string
}

// Config mirrors the recognized options table in spec.md §6. It is
// retained verbatim (as InitialConfig) so reset(None) can rebuild an
// identical instance.
type Config struct {
	ChainID     uint64
	NetworkID   string
	ChainConfig *params.ChainConfig
	// Chains is the per-chain hard-fork activation schedule (spec.md §6
	// "chains"), consulted for the DAO fork height when forking to a
	// network other than the locally configured one.
	Chains map[uint64]*params.ChainConfig

	Accounts []InitialAccount
	Coinbase *common.Address // defaults to Accounts[0] if nil

	AutoMine     bool
	MempoolOrder mempool.Order

	BlockGasLimit        uint64
	MinGasPrice          *uint256.Int // pre-London admission floor
	InitialBaseFeePerGas *uint256.Int // post-London initial base fee
	InitialBlobGas       *uint64

	InitialDate                  *time.Time
	AllowBlocksWithSameTimestamp bool
	AllowUnlimitedContractSize   bool

	BailOnCallFailure        bool
	BailOnTransactionFailure bool

	Fork *ForkConfig

	// Interpreter is the external EVM collaborator (spec.md §6). Defaults
	// to evmgateway.SimpleInterpreter{} when nil, sufficient for plain
	// value transfers and for exercising this engine's own wiring; a real
	// deployment injects a full bytecode EVM.
	Interpreter evmgateway.Interpreter

	// RPCClient is the forked-mode remote collaborator. If nil and Fork is
	// set, Dial is expected to have been called by the caller beforehand
	// (New/Reset never perform network I/O themselves so that unit tests
	// stay hermetic); see rpcclient.Dial.
	RPCClient rpcclient.Client

	Logger Logger

	// now is overridable for deterministic tests; defaults to time.Now.
	now func() time.Time
}

// nowFunc returns c.now, defaulting to time.Now.
func (c *Config) nowFunc() func() time.Time {
	if c.now != nil {
		return c.now
	}
	return time.Now
}

// Logger is the external collaborator from spec.md §6:
// log_interval_mined(specId, result). Errors are surfaced but never abort
// mining (spec.md §7 "Fatal ... logger errors").
type Logger interface {
	LogIntervalMined(specID string, result *evmgateway.MineResult) error
}

// noopLogger is used when Config.Logger is nil.
type noopLogger struct{}

func (noopLogger) LogIntervalMined(string, *evmgateway.MineResult) error { return nil }

// clone returns a deep-enough copy of c for retention as initialConfig:
// scalar/pointer fields are shared (they are never mutated in place by
// this engine; e.g. ChainConfig, Fork, Interpreter, RPCClient), but the
// Accounts slice is copied so that later engine-internal key generation
// (e.g. provider.New filling in nil SecretKeys) does not retroactively
// change what reset(None) replays.
func (c Config) clone() Config {
	out := c
	out.Accounts = append([]InitialAccount(nil), c.Accounts...)
	return out
}
