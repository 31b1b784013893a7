// Package accounts implements the account registry: the set of known
// accounts, the active account and the signing capabilities of unlocked
// accounts.
package accounts

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/Aurorachain/dappshell/provider"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// Method records how an account came into existence.
type Method string

const (
	MethodCreated  Method = "created"
	MethodImported Method = "imported"
)

func (m Method) valid() bool {
	return m == MethodCreated || m == MethodImported
}

// ProgressFunc receives the completed fraction (0..1) of a long running
// keystore operation.
type ProgressFunc func(progress float64)

// Signer is the in-memory signing capability of an unlocked account.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction) (*types.Transaction, error)

	// Destroy wipes the key material. The signer is unusable afterwards.
	Destroy()
}

// Keystore decrypts stored keystore blobs into signing capabilities.
type Keystore interface {
	Decrypt(ctx context.Context, blob []byte, password string, progress ProgressFunc) (Signer, error)

	// Address extracts the address declared by a raw keystore blob.
	Address(blob []byte) (common.Address, error)
}

// Watcher is the provider side of balance tracking.
type Watcher interface {
	WatchAccount(addr common.Address)
	UnwatchAccount(addr common.Address)
	SubscribeAccounts(ch chan<- provider.AccountInfo) event.Subscription
}

// Account is a key-pair identity known to the registry. There is at most one
// Account value per address in a process.
type Account struct {
	Address  common.Address
	Keystore []byte
	Created  time.Time
	Method   Method

	mu       sync.RWMutex
	nickname string
	balance  *big.Int
}

func (a *Account) Nickname() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.nickname
}

// Balance returns the last balance pushed by the provider, zero if none.
func (a *Account) Balance() *big.Int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.balance == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.balance)
}

func (a *Account) String() string {
	if nick := a.Nickname(); nick != "" {
		return nick + " (" + a.Address.Hex() + ")"
	}
	return a.Address.Hex()
}

// ActiveChangeEvent is posted whenever the active account is assigned, and
// when the active account's nickname changes. New and Old may be nil.
type ActiveChangeEvent struct {
	New *Account
	Old *Account
}

// BalanceChangeEvent is posted when an account's balance differs from the
// previously stored value.
type BalanceChangeEvent struct {
	Account *Account
	Balance *big.Int
}
