// Package console decodes console.log calldata captured from a run_call or
// mine_block trace (C9's "captured console-log inputs") into printable
// values, the way Hardhat's own console.sol shim works: a fixed table of
// known 4-byte selectors, each mapped to its argument ABI, decoded with
// github.com/ethereum/go-ethereum/accounts/abi.
package console

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Address is the fixed address console.sol calls into
// (0x000000000000000000636F6e736F6c652e6c6f67, the ASCII bytes of
// "console.log" right-aligned into the 20 address bytes). A call targeting it
// is never a value transfer or contract invocation; an interpreter treats
// it as a no-op and hands the calldata here for decoding.
var Address = common.HexToAddress("0x000000000000000000000000636F6e736F6c652e6c6f67")

// Input is one captured console.log call, keyed by the selector that
// identified which overload fired.
type Input struct {
	Selector [4]byte
	Args     []any
}

// signature describes one console.log overload: its argument types, in the
// order console.sol declares them.
type signature struct {
	types abi.Arguments
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

func sig(types ...string) signature {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		args[i] = abi.Argument{Type: mustType(t)}
	}
	return signature{types: args}
}

// selectors maps console.log's well-known 4-byte selectors to their
// argument signatures. console.sol defines dozens of overloads; this
// covers the common single- and two-argument ones actually exercised by
// run_call traces.
var selectors = map[[4]byte]signature{
	selectorOf("log(string)"):                    sig("string"),
	selectorOf("log(uint256)"):                   sig("uint256"),
	selectorOf("log(int256)"):                    sig("int256"),
	selectorOf("log(bool)"):                      sig("bool"),
	selectorOf("log(address)"):                   sig("address"),
	selectorOf("log(bytes)"):                     sig("bytes"),
	selectorOf("log(string,uint256)"):             sig("string", "uint256"),
	selectorOf("log(string,string)"):              sig("string", "string"),
	selectorOf("log(string,address)"):             sig("string", "address"),
	selectorOf("log(string,bool)"):                sig("string", "bool"),
	selectorOf("log(uint256,uint256)"):            sig("uint256", "uint256"),
}

func selectorOf(signature string) [4]byte {
	var out [4]byte
	copy(out[:], crypto.Keccak256([]byte(signature))[:4])
	return out
}

// Decode identifies the console.log overload calldata belongs to by its
// 4-byte selector and ABI-decodes the remaining arguments. Calldata that
// does not match a known selector is not a console.log call and returns
// ok=false.
func Decode(calldata []byte) (*Input, bool) {
	if len(calldata) < 4 {
		return nil, false
	}
	var selector [4]byte
	copy(selector[:], calldata[:4])
	s, ok := selectors[selector]
	if !ok {
		return nil, false
	}
	values, err := s.types.UnpackValues(calldata[4:])
	if err != nil {
		return nil, false
	}
	return &Input{Selector: selector, Args: values}, true
}

// Format renders a decoded Input the way Hardhat prints console.log output:
// each argument stringified, space-joined.
func Format(in *Input) (string, error) {
	parts := make([]string, len(in.Args))
	for i, a := range in.Args {
		parts[i] = stringify(a)
	}
	return strings.Join(parts, " "), nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case common.Address:
		return x.Hex()
	case []byte:
		return common.Bytes2Hex(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
