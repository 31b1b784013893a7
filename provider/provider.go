// Package provider defines the blockchain access the shell consumes: chain
// reads, gas and nonce lookups, broadcasting, log filters and the block and
// balance push feeds.
package provider

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

var (
	// ErrNotFound is returned for unknown filter ids.
	ErrNotFound = errors.New("not found")

	// ErrNoFaucet is returned by FundAccount when no faucet is configured.
	ErrNoFaucet = errors.New("no faucet available")
)

// Transaction is an unsigned transaction draft. Nil pointer fields are unset
// and get filled in by the pipeline or the node.
type Transaction struct {
	From     common.Address
	To       *common.Address
	Data     []byte
	Value    *big.Int
	Nonce    *uint64
	GasPrice *big.Int
	GasLimit *uint64
}

// Copy returns a deep copy of tx.
func (tx *Transaction) Copy() *Transaction {
	cpy := &Transaction{From: tx.From, Data: append([]byte(nil), tx.Data...)}
	if tx.To != nil {
		to := *tx.To
		cpy.To = &to
	}
	if tx.Value != nil {
		cpy.Value = new(big.Int).Set(tx.Value)
	}
	if tx.Nonce != nil {
		n := *tx.Nonce
		cpy.Nonce = &n
	}
	if tx.GasPrice != nil {
		cpy.GasPrice = new(big.Int).Set(tx.GasPrice)
	}
	if tx.GasLimit != nil {
		g := *tx.GasLimit
		cpy.GasLimit = &g
	}
	return cpy
}

// FilterQuery selects logs. Topics follow the eth_getLogs positional
// semantics: a nil or empty entry matches anything.
type FilterQuery struct {
	Addresses []common.Address
	Topics    [][]common.Hash
}

// FilterID identifies a registered filter.
type FilterID uint64

// AccountInfo is pushed when a watched account is refreshed.
type AccountInfo struct {
	Address common.Address
	Balance *big.Int
}

// Provider is the blockchain backend. Block, transaction and receipt lookups
// return the JSON object decoded into a map, nil when the node has none.
type Provider interface {
	GasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, tx *Transaction) (uint64, error)
	TransactionCount(ctx context.Context, addr common.Address, blockTag string) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error)
	Call(ctx context.Context, tx *Transaction, blockTag string) ([]byte, error)
	Balance(ctx context.Context, addr common.Address, blockTag string) (*big.Int, error)
	Block(ctx context.Context, ref string) (map[string]interface{}, error)
	Transaction(ctx context.Context, hash common.Hash) (map[string]interface{}, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (map[string]interface{}, error)

	// RegisterFilter installs a log filter; cb is invoked for every match
	// until UnregisterFilter is called.
	RegisterFilter(q FilterQuery, cb func(types.Log)) (FilterID, error)
	UnregisterFilter(id FilterID) error

	FundAccount(ctx context.Context, addr common.Address) (common.Hash, error)

	// BlockNumber and LatestGasPrice are the last values seen by the poller.
	BlockNumber() uint64
	LatestGasPrice() *big.Int

	WatchAccount(addr common.Address)
	UnwatchAccount(addr common.Address)

	SubscribeNewBlock(ch chan<- uint64) event.Subscription
	SubscribeAccounts(ch chan<- AccountInfo) event.Subscription
}
