// Package keystore adapts Web3 Secret Storage keystores to the account
// registry: it encrypts fresh keys, decrypts stored blobs into signing
// capabilities and validates raw keystore text.
package keystore

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"math/big"
	"sync"

	"github.com/Aurorachain/dappshell/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

const (
	StandardScryptN = keystore.StandardScryptN
	StandardScryptP = keystore.StandardScryptP
	LightScryptN    = keystore.LightScryptN
	LightScryptP    = keystore.LightScryptP
)

// ErrDestroyed is returned when signing with a wallet whose key was wiped.
var ErrDestroyed = errors.New("wallet destroyed")

// KeyStore encrypts and decrypts keystore blobs with fixed scrypt parameters
// and hands out wallets signing for one chain.
type KeyStore struct {
	scryptN int
	scryptP int
	signer  types.Signer
}

// New creates a keystore adapter. Wallets it produces sign with replay
// protection for chainID.
func New(scryptN, scryptP int, chainID *big.Int) *KeyStore {
	return &KeyStore{
		scryptN: scryptN,
		scryptP: scryptP,
		signer:  types.LatestSignerForChainID(chainID),
	}
}

// NormalizePassword applies NFKC normalisation so the same password typed on
// different input methods unlocks the same keystore.
func NormalizePassword(password string) string {
	return norm.NFKC.String(password)
}

// NewWallet generates a fresh random key.
func (ks *KeyStore) NewWallet() (*Wallet, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return ks.wallet(privateKey)
}

// ImportECDSA wraps an existing private key.
func (ks *KeyStore) ImportECDSA(privateKey *ecdsa.PrivateKey) (*Wallet, error) {
	return ks.wallet(privateKey)
}

func (ks *KeyStore) wallet(privateKey *ecdsa.PrivateKey) (*Wallet, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	key := &keystore.Key{
		Id:         id,
		Address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		PrivateKey: privateKey,
	}
	return &Wallet{key: key, signer: ks.signer}, nil
}

// Encrypt serialises w into a keystore blob protected by password.
func (ks *KeyStore) Encrypt(ctx context.Context, w *Wallet, password string, progress accounts.ProgressFunc) ([]byte, error) {
	w.mu.RLock()
	key := w.key
	w.mu.RUnlock()
	if key == nil {
		return nil, ErrDestroyed
	}
	if ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}
	report(progress, 0)

	type result struct {
		blob []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		blob, err := keystore.EncryptKey(key, NormalizePassword(password), ks.scryptN, ks.scryptP)
		done <- result{blob, err}
	}()
	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		report(progress, 1)
		return res.blob, nil
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// Decrypt opens blob with password. Wrong passwords yield
// accounts.ErrInvalidPassword; malformed blobs accounts.ErrDecryption. If ctx
// ends first, the key decrypted afterwards is wiped and dropped.
func (ks *KeyStore) Decrypt(ctx context.Context, blob []byte, password string, progress accounts.ProgressFunc) (accounts.Signer, error) {
	if !IsValid(blob) {
		return nil, pkgerrors.Wrap(accounts.ErrDecryption, "invalid keystore")
	}
	if ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}
	report(progress, 0)

	type result struct {
		key *keystore.Key
		err error
	}
	done := make(chan result, 1)
	go func() {
		key, err := keystore.DecryptKey(blob, NormalizePassword(password))
		done <- result{key, err}
	}()
	select {
	case res := <-done:
		switch {
		case errors.Is(res.err, keystore.ErrDecrypt):
			return nil, accounts.ErrInvalidPassword
		case res.err != nil:
			return nil, pkgerrors.Wrap(accounts.ErrDecryption, res.err.Error())
		}
		report(progress, 1)
		return &Wallet{key: res.key, signer: ks.signer}, nil

	case <-ctx.Done():
		go func() {
			if res := <-done; res.key != nil {
				zeroKey(res.key.PrivateKey)
			}
		}()
		return nil, context.Cause(ctx)
	}
}

// Address returns the address a keystore blob declares.
func (ks *KeyStore) Address(blob []byte) (common.Address, error) {
	return Address(blob)
}

func report(progress accounts.ProgressFunc, p float64) {
	if progress != nil {
		progress(p)
	}
}

type keyJSON struct {
	Address string          `json:"address"`
	Crypto  json.RawMessage `json:"crypto"`
	Legacy  json.RawMessage `json:"Crypto"`
	Version int             `json:"version"`
}

// Address extracts the declared address of a raw keystore blob.
func Address(blob []byte) (common.Address, error) {
	var k keyJSON
	if err := json.Unmarshal(blob, &k); err != nil {
		return common.Address{}, pkgerrors.Wrap(accounts.ErrDecryption, err.Error())
	}
	addr := k.Address
	if len(addr) == 40 {
		addr = "0x" + addr
	}
	if !common.IsHexAddress(addr) {
		return common.Address{}, pkgerrors.Wrap(accounts.ErrDecryption, "missing address")
	}
	return common.HexToAddress(addr), nil
}

// IsValid reports whether blob looks like a version 3 keystore.
func IsValid(blob []byte) bool {
	var k keyJSON
	if err := json.Unmarshal(blob, &k); err != nil {
		return false
	}
	if k.Version != 3 || (len(k.Crypto) == 0 && len(k.Legacy) == 0) {
		return false
	}
	_, err := Address(blob)
	return err == nil
}

// Wallet is an unlocked key. It implements accounts.Signer.
type Wallet struct {
	mu     sync.RWMutex
	key    *keystore.Key
	signer types.Signer
}

func (w *Wallet) Address() common.Address {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.key == nil {
		return common.Address{}
	}
	return w.key.Address
}

// SignTx signs tx. Signatures are deterministic for a given key and
// transaction.
func (w *Wallet) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.key == nil {
		return nil, ErrDestroyed
	}
	return types.SignTx(tx, w.signer, w.key.PrivateKey)
}

// Destroy wipes the private key from memory.
func (w *Wallet) Destroy() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.key != nil {
		zeroKey(w.key.PrivateKey)
		w.key = nil
	}
}

// zeroKey zeroes a private key in memory.
func zeroKey(k *ecdsa.PrivateKey) {
	b := k.D.Bits()
	for i := range b {
		b[i] = 0
	}
}
