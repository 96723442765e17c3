package console

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

func bigOne() *big.Int { return big.NewInt(1) }

func encode(t *testing.T, signature string, types []string, args ...any) []byte {
	t.Helper()
	arguments := make(abi.Arguments, len(types))
	for i, ty := range types {
		typ, err := abi.NewType(ty, "", nil)
		if err != nil {
			t.Fatalf("bad type %s: %v", ty, err)
		}
		arguments[i] = abi.Argument{Type: typ}
	}
	packed, err := arguments.Pack(args...)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	selector := selectorOf(signature)
	return append(selector[:], packed...)
}

func TestDecodeStringLog(t *testing.T) {
	data := encode(t, "log(string)", []string{"string"}, "hello")
	in, ok := Decode(data)
	if !ok {
		t.Fatal("expected a known selector")
	}
	if len(in.Args) != 1 || in.Args[0].(string) != "hello" {
		t.Fatalf("unexpected args: %v", in.Args)
	}
}

func TestDecodeUnknownSelectorReturnsFalse(t *testing.T) {
	if _, ok := Decode([]byte{0xde, 0xad, 0xbe, 0xef, 0x01}); ok {
		t.Fatal("expected unknown selector to be rejected")
	}
}

func TestFormatJoinsArguments(t *testing.T) {
	data := encode(t, "log(string,uint256)", []string{"string", "uint256"}, "balance", bigOne())
	in, ok := Decode(data)
	if !ok {
		t.Fatal("expected a known selector")
	}
	out, err := Format(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "balance 1" {
		t.Fatalf("unexpected formatted output: %q", out)
	}
}

func TestStringifyAddress(t *testing.T) {
	addr := common.HexToAddress("0x1234567890123456789012345678901234567890")
	if got := stringify(addr); got != addr.Hex() {
		t.Fatalf("unexpected stringify: %s", got)
	}
}
