package keyring

import (
	"testing"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

func testTypedData() apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Person": {
				{Name: "name", Type: "string"},
				{Name: "wallet", Type: "address"},
			},
		},
		PrimaryType: "Person",
		Domain: apitypes.TypedDataDomain{
			Name:              "Ether Mail",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(1),
			VerifyingContract: "0xCcCCccccCCCCcCCCCCCcCcCccCcCCCcCcccccccC",
		},
		Message: apitypes.TypedDataMessage{
			"name":   "Bob",
			"wallet": "0xb0B0b0b0b0b0B000000000000000000000000000",
		},
	}
}

func TestGenerateKeyAndSign(t *testing.T) {
	kr := New()
	addr, err := kr.GenerateKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !kr.HasKey(addr) {
		t.Fatalf("expected keyring to hold generated key")
	}
	digest := make([]byte, 32)
	if _, err := kr.Sign(addr, digest); err != nil {
		t.Fatalf("unexpected sign error: %v", err)
	}
}

func TestSignUnknownAddress(t *testing.T) {
	kr := New()
	other, _ := kr.GenerateKey()
	kr.StopImpersonating(other) // no-op, but exercises the path
	var unknown [20]byte
	unknown[0] = 0xAB
	_, err := kr.Sign(unknown, make([]byte, 32))
	if err == nil {
		t.Fatal("expected UnknownAddressError")
	}
	if _, ok := err.(*UnknownAddressError); !ok {
		t.Fatalf("unexpected error type: %T", err)
	}
}

func TestAccountsPreservesInsertionOrder(t *testing.T) {
	kr := New()
	var want []struct{}
	_ = want
	var addrs [3][20]byte
	for i := range addrs {
		a, err := kr.GenerateKey()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		addrs[i] = a
	}
	got := kr.Accounts()
	if len(got) != 3 {
		t.Fatalf("want 3 accounts, got %d", len(got))
	}
	for i, a := range addrs {
		if got[i] != a {
			t.Fatalf("accounts out of order at %d: want %x got %x", i, a, got[i])
		}
	}
}

func TestSignTypedData(t *testing.T) {
	kr := New()
	addr, err := kr.GenerateKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data := testTypedData()
	sig, err := kr.SignTypedData(addr, data)
	if err != nil {
		t.Fatalf("SignTypedData: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("want a 65-byte signature, got %d bytes", len(sig))
	}

	hash, err := EncodeEIP712(data)
	if err != nil {
		t.Fatalf("EncodeEIP712: %v", err)
	}
	wantSig, err := kr.Sign(addr, hash)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if string(sig) != string(wantSig) {
		t.Fatalf("SignTypedData did not sign EncodeEIP712's hash")
	}
}

func TestSignTypedDataUnknownAddress(t *testing.T) {
	kr := New()
	var unknown [20]byte
	unknown[0] = 0xCD
	_, err := kr.SignTypedData(unknown, testTypedData())
	if err == nil {
		t.Fatal("expected UnknownAddressError")
	}
	if _, ok := err.(*UnknownAddressError); !ok {
		t.Fatalf("unexpected error type: %T", err)
	}
}

func TestEncodeEIP712MismatchedMessageValue(t *testing.T) {
	data := testTypedData()
	// "wallet" is declared as an address; a non-address string can't be
	// encoded against that type and must surface as a TypedDataEncodingError.
	data.Message["wallet"] = "not-an-address"
	if _, err := EncodeEIP712(data); err == nil {
		t.Fatal("expected a TypedDataEncodingError for a message value that doesn't match its declared type")
	} else if _, ok := err.(*TypedDataEncodingError); !ok {
		t.Fatalf("unexpected error type: %T", err)
	}
}

func TestImpersonation(t *testing.T) {
	kr := New()
	var addr [20]byte
	addr[0] = 1
	if kr.IsImpersonated(addr) {
		t.Fatal("should not be impersonated yet")
	}
	kr.Impersonate(addr)
	if !kr.IsImpersonated(addr) {
		t.Fatal("expected impersonated")
	}
	if !kr.StopImpersonating(addr) {
		t.Fatal("expected StopImpersonating to report removal")
	}
	if kr.IsImpersonated(addr) {
		t.Fatal("should no longer be impersonated")
	}
	if kr.StopImpersonating(addr) {
		t.Fatal("second StopImpersonating should report no-op")
	}
}
