// Package provider implements the Provider Engine (C12, spec.md §4.12): the
// single object that owns every other component (blockchain, mempool,
// state cache, irregular state, filters, snapshots, keyring, clock) and
// exposes the public operation surface a JSON-RPC dispatcher would call
// into. The dispatcher itself, request decoding, and the EVM interpreter
// are external collaborators (spec.md §1, §6) — nothing in this package
// decodes wire requests or interprets bytecode.
package provider

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/edr-go/provider/provider/evmgateway"
)

// The Signing taxonomy entry (spec.md §7: unknown address, typed-data
// encoding error) is provider/keyring.UnknownAddressError and
// provider/keyring.TypedDataEncodingError, returned directly by Engine.Sign
// and Engine.SignTypedData.

// UnmetHardforkError reports an operation that requires at least minSpec
// but the engine is configured below it (spec.md §7 "Unmet hardfork").
type UnmetHardforkError struct {
	Op      string
	MinSpec string
	Current string
}

func (e *UnmetHardforkError) Error() string {
	return fmt.Sprintf("%s requires a hardfork >= %s, current is %s", e.Op, e.MinSpec, e.Current)
}

// UnsupportedConfigError reports a configuration change that is invalid
// under the active hardfork, e.g. set_min_gas_price post-London or
// set_next_block_base_fee_per_gas pre-London (spec.md §7 "Unsupported
// config").
type UnsupportedConfigError struct {
	Detail string
}

func (e *UnsupportedConfigError) Error() string { return "unsupported config: " + e.Detail }

// AutoMineNonceTooLowError is returned when auto-mine is on and a
// submitted transaction's nonce is below the account's current nonce.
type AutoMineNonceTooLowError struct {
	Expected, Actual uint64
}

func (e *AutoMineNonceTooLowError) Error() string {
	return fmt.Sprintf("nonce too low, expected %d, got %d", e.Expected, e.Actual)
}

// AutoMineNonceTooHighError is returned when auto-mine is on and a
// submitted transaction's nonce is above the account's current nonce
// (spec.md §8 scenario 6).
type AutoMineNonceTooHighError struct {
	Expected, Actual uint64
}

func (e *AutoMineNonceTooHighError) Error() string {
	return fmt.Sprintf("nonce too high, expected %d, got %d", e.Expected, e.Actual)
}

// AutoMinePriorityFeeTooLowError is returned when auto-mine is on and a
// submitted EIP-1559 transaction's priority fee is below the configured
// minimum.
type AutoMinePriorityFeeTooLowError struct {
	Minimum, Actual uint64
}

func (e *AutoMinePriorityFeeTooLowError) Error() string {
	return fmt.Sprintf("max priority fee per gas %d is lower than the minimum %d", e.Actual, e.Minimum)
}

// AutoMineMaxFeeTooLowError is returned when auto-mine is on and a
// submitted EIP-1559 transaction's max fee is below the next block's base
// fee.
type AutoMineMaxFeeTooLowError struct {
	NextBaseFee, Actual uint64
}

func (e *AutoMineMaxFeeTooLowError) Error() string {
	return fmt.Sprintf("max fee per gas %d is lower than the next block's base fee %d", e.Actual, e.NextBaseFee)
}

// AdminSetNonceBelowCurrentError is returned by set_nonce when the
// requested nonce is below the account's current committed nonce.
type AdminSetNonceBelowCurrentError struct {
	Address        common.Address
	Current, Wanted uint64
}

func (e *AdminSetNonceBelowCurrentError) Error() string {
	return fmt.Sprintf("new nonce %d must not be less than current nonce %d for %s", e.Wanted, e.Current, e.Address)
}

// AdminSetNonceWithPendingTxError is returned by set_nonce when the account
// has pending transactions: changing the committed nonce under a pending
// transaction would desynchronize the pool's admission invariant.
type AdminSetNonceWithPendingTxError struct {
	Address common.Address
}

func (e *AdminSetNonceWithPendingTxError) Error() string {
	return fmt.Sprintf("cannot set nonce for %s: account has pending transactions", e.Address)
}

// FilterNotFoundError is returned for an operation against an unknown
// filter or subscription id.
type FilterNotFoundError struct {
	ID uint64
}

func (e *FilterNotFoundError) Error() string { return fmt.Sprintf("filter %d not found", e.ID) }

// InvalidInitialDateError is returned when Config.InitialDate cannot be
// interpreted as a construction-time offset.
type InvalidInitialDateError struct {
	Detail string
}

func (e *InvalidInitialDateError) Error() string { return "invalid initial date: " + e.Detail }

// InvalidHTTPHeadersError is returned when Config.Fork.HTTPHeaders carries a
// malformed header name or value.
type InvalidHTTPHeadersError struct {
	Detail string
}

func (e *InvalidHTTPHeadersError) Error() string { return "invalid http headers: " + e.Detail }

// ConstructionError wraps a failure building the local or forked chain at
// New/Reset time (spec.md §7 "Creation").
type ConstructionError struct {
	Detail string
	Err    error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("failed to construct provider: %s: %v", e.Detail, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// TransactionRevertedError reports a call or mined transaction that
// reverted, carrying the decoded reason, a trace, and any console.log
// inputs captured along the way (spec.md §7 "Transaction failure").
type TransactionRevertedError struct {
	Reason      string
	ConsoleLogs []any
	Trace       any
}

func (e *TransactionRevertedError) Error() string { return "execution reverted: " + e.Reason }

// TransactionHaltedError reports a call or mined transaction that halted
// (ran out of gas, invalid opcode, ...) rather than explicitly reverting.
type TransactionHaltedError struct {
	Reason string
	Trace  any
}

func (e *TransactionHaltedError) Error() string { return "execution halted: " + e.Reason }

// EstimateGasFailureError is estimate_gas's error result when the initial
// trial at the block gas limit itself fails (spec.md §4.10 step 1).
type EstimateGasFailureError struct {
	ConsoleLogs []any
	Failure     error // a *TransactionRevertedError or *TransactionHaltedError
}

func (e *EstimateGasFailureError) Error() string {
	return fmt.Sprintf("gas estimation failed: %v", e.Failure)
}

func (e *EstimateGasFailureError) Unwrap() error { return e.Failure }

// callResultFailure converts a reverted CallResult into a typed
// TransactionRevertedError, or returns nil if the call did not revert.
func callResultFailure(res *evmgateway.CallResult) error {
	if res == nil || !res.Reverted {
		return nil
	}
	return &TransactionRevertedError{Reason: res.RevertReason, Trace: res.Trace}
}
