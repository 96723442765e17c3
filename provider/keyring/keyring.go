// Package keyring holds the provider engine's local signing keys and its set
// of impersonated addresses (C2 in the component design).
package keyring

import (
	"crypto/ecdsa"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// UnknownAddressError is returned when signing is requested for an address
// the keyring does not hold a key for.
type UnknownAddressError struct {
	Address common.Address
}

func (e *UnknownAddressError) Error() string {
	return fmt.Sprintf("unknown account %s", e.Address)
}

// TypedDataEncodingError is returned when an EIP-712 typed-data payload
// cannot be hashed, e.g. a domain/message that doesn't match its declared
// types (spec.md §7 "Signing: typed-data encoding error").
type TypedDataEncodingError struct {
	Err error
}

func (e *TypedDataEncodingError) Error() string {
	return fmt.Sprintf("typed-data encoding error: %v", e.Err)
}

func (e *TypedDataEncodingError) Unwrap() error { return e.Err }

// EncodeEIP712 computes the signing hash of an EIP-712 typed-data payload,
// using github.com/ethereum/go-ethereum/signer/core/apitypes the way the
// teacher's own eth_signTypedData handler
// (signer/core.SignerAPI.SignTypedData) does, rather than hand-rolling the
// "\x19\x01" domain/struct hash concatenation.
func EncodeEIP712(data apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, &TypedDataEncodingError{Err: err}
	}
	return hash, nil
}

// Keyring holds local accounts and impersonated addresses. Every method
// takes the internal RWMutex, so it is safe for concurrent use.
type Keyring struct {
	mu           sync.RWMutex
	order        []common.Address
	keys         map[common.Address]*ecdsa.PrivateKey
	impersonated map[common.Address]struct{}
}

// New creates an empty keyring.
func New() *Keyring {
	return &Keyring{
		keys:         make(map[common.Address]*ecdsa.PrivateKey),
		impersonated: make(map[common.Address]struct{}),
	}
}

// AddKey inserts a local account derived from priv, preserving insertion
// order for Accounts().
func (k *Keyring) AddKey(priv *ecdsa.PrivateKey) common.Address {
	k.mu.Lock()
	defer k.mu.Unlock()

	addr := crypto.PubkeyToAddress(priv.PublicKey)
	if _, exists := k.keys[addr]; !exists {
		k.order = append(k.order, addr)
	}
	k.keys[addr] = priv
	return addr
}

// GenerateKey creates a fresh secp256k1 key, grounded on the teacher's use
// of github.com/btcsuite/btcd/btcec/v2 for secp256k1 primitives, and adds it
// to the keyring.
func (k *Keyring) GenerateKey() (common.Address, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return common.Address{}, err
	}
	return k.AddKey(priv.ToECDSA()), nil
}

// Accounts returns local addresses in insertion order.
func (k *Keyring) Accounts() []common.Address {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := make([]common.Address, len(k.order))
	copy(out, k.order)
	return out
}

// HasKey reports whether a local key exists for addr.
func (k *Keyring) HasKey(addr common.Address) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()

	_, ok := k.keys[addr]
	return ok
}

// Sign computes an ECDSA signature over digest using the key for addr.
func (k *Keyring) Sign(addr common.Address, digest []byte) ([]byte, error) {
	k.mu.RLock()
	priv, ok := k.keys[addr]
	k.mu.RUnlock()
	if !ok {
		return nil, &UnknownAddressError{Address: addr}
	}
	return crypto.Sign(digest, priv)
}

// SignTypedData computes an EIP-712 signature over a typed-data payload,
// the Signer collaborator's "encode_eip712" operation (spec.md §6) composed
// with Sign: hash the payload, then sign the hash exactly as Sign does.
func (k *Keyring) SignTypedData(addr common.Address, data apitypes.TypedData) ([]byte, error) {
	hash, err := EncodeEIP712(data)
	if err != nil {
		return nil, err
	}
	return k.Sign(addr, hash)
}

// Impersonate marks addr as impersonated: the EVM gateway is expected to
// accept transactions whose recovered caller is an impersonated address even
// without a valid signature from that address.
func (k *Keyring) Impersonate(addr common.Address) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.impersonated[addr] = struct{}{}
}

// StopImpersonating removes addr from the impersonated set.
func (k *Keyring) StopImpersonating(addr common.Address) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.impersonated[addr]; !ok {
		return false
	}
	delete(k.impersonated, addr)
	return true
}

// IsImpersonated reports whether addr is currently impersonated.
func (k *Keyring) IsImpersonated(addr common.Address) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.impersonated[addr]
	return ok
}

// ImpersonatedAccounts returns the current impersonated set, order
// unspecified.
func (k *Keyring) ImpersonatedAccounts() []common.Address {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]common.Address, 0, len(k.impersonated))
	for a := range k.impersonated {
		out = append(out, a)
	}
	return out
}
