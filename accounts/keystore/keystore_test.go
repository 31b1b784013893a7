package keystore

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/Aurorachain/dappshell/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func tmpKeyStore() *KeyStore {
	return New(LightScryptN, LightScryptP, big.NewInt(1337))
}

func testTx() *types.Transaction {
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	return types.NewTransaction(3, to, big.NewInt(1e15), 21000, big.NewInt(2e9), nil)
}

func TestEncryptDecrypt(t *testing.T) {
	ks := tmpKeyStore()
	w, err := ks.NewWallet()
	if err != nil {
		t.Fatal(err)
	}
	var reports []float64
	blob, err := ks.Encrypt(context.Background(), w, "foo", func(p float64) { reports = append(reports, p) })
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if len(reports) != 2 || reports[0] != 0 || reports[1] != 1 {
		t.Fatalf("progress reports: have %v, want [0 1]", reports)
	}
	if !IsValid(blob) {
		t.Fatalf("encrypted blob rejected: %s", blob)
	}
	addr, err := Address(blob)
	if err != nil || addr != w.Address() {
		t.Fatalf("declared address: have %x %v, want %x", addr, err, w.Address())
	}

	signer, err := ks.Decrypt(context.Background(), blob, "foo", nil)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if signer.Address() != w.Address() {
		t.Fatalf("decrypted address: have %x, want %x", signer.Address(), w.Address())
	}

	want, err := w.SignTx(testTx())
	if err != nil {
		t.Fatal(err)
	}
	have, err := signer.SignTx(testTx())
	if err != nil {
		t.Fatal(err)
	}
	if have.Hash() != want.Hash() {
		t.Fatalf("signatures differ: %x != %x", have.Hash(), want.Hash())
	}
}

func TestDecryptErrors(t *testing.T) {
	ks := tmpKeyStore()
	w, _ := ks.NewWallet()
	blob, err := ks.Encrypt(context.Background(), w, "right", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ks.Decrypt(context.Background(), blob, "wrong", nil); err != accounts.ErrInvalidPassword {
		t.Fatalf("wrong password: have %v, want %v", err, accounts.ErrInvalidPassword)
	}
	if _, err := ks.Decrypt(context.Background(), []byte(`{"version":3}`), "right", nil); !errors.Is(err, accounts.ErrDecryption) {
		t.Fatalf("malformed blob: have %v, want %v", err, accounts.ErrDecryption)
	}
}

func TestNormalizedPassword(t *testing.T) {
	ks := tmpKeyStore()
	w, _ := ks.NewWallet()
	// U+FB01 (fi ligature) normalises to "fi" under NFKC.
	blob, err := ks.Encrypt(context.Background(), w, "ﬁsh", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ks.Decrypt(context.Background(), blob, "fish", nil); err != nil {
		t.Fatalf("NFKC equivalent password rejected: %v", err)
	}
}

func TestDecryptCancelled(t *testing.T) {
	ks := tmpKeyStore()
	w, _ := ks.NewWallet()
	blob, err := ks.Encrypt(context.Background(), w, "foo", nil)
	if err != nil {
		t.Fatal(err)
	}
	cause := errors.New("purged")
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(cause)
	if _, err := ks.Decrypt(ctx, blob, "foo", nil); err != cause {
		t.Fatalf("cancelled decrypt: have %v, want %v", err, cause)
	}
}

func TestDestroy(t *testing.T) {
	w, _ := tmpKeyStore().NewWallet()
	w.Destroy()
	if _, err := w.SignTx(testTx()); err != ErrDestroyed {
		t.Fatalf("sign after destroy: have %v, want %v", err, ErrDestroyed)
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		blob  string
		valid bool
	}{
		{`not json`, false},
		{`{"version":3,"address":"008aeeda4d805471df9b2a5b0f38a0c3bcba786b","crypto":{}}`, true},
		{`{"version":3,"address":"0x008aeeda4d805471df9b2a5b0f38a0c3bcba786b","Crypto":{}}`, true},
		{`{"version":1,"address":"008aeeda4d805471df9b2a5b0f38a0c3bcba786b","crypto":{}}`, false},
		{`{"version":3,"crypto":{}}`, false},
		{`{"version":3,"address":"008aeeda4d805471df9b2a5b0f38a0c3bcba786b"}`, false},
	}
	for i, tt := range tests {
		if got := IsValid([]byte(tt.blob)); got != tt.valid {
			t.Errorf("test %d: IsValid = %v, want %v", i, got, tt.valid)
		}
	}
}
