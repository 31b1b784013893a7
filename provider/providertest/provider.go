// Package providertest provides an in-memory provider.Provider for tests.
package providertest

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/Aurorachain/dappshell/provider"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// ErrFailure is returned by calls configured to fail.
var ErrFailure = errors.New("provider failure")

// Provider is a scriptable provider. The zero value is not usable, use New.
type Provider struct {
	mu sync.Mutex

	GasPriceValue *big.Int
	GasEstimate   uint64
	PendingNonce  uint64
	Balances      map[common.Address]*big.Int
	Blocks        map[string]map[string]interface{}
	Txs           map[common.Hash]map[string]interface{}
	Receipts      map[common.Hash]map[string]interface{}
	CallResult    []byte
	FundHash      common.Hash

	// Gate, when set, blocks the estimate bundle calls (gas price, gas
	// estimate, transaction count) until it is closed.
	Gate chan struct{}

	// FailSend makes SendTransaction fail.
	FailSend bool

	// FailEstimate makes EstimateGas fail.
	FailEstimate bool

	// Unpolled makes LatestGasPrice report nothing, as before the first poll.
	Unpolled bool

	Sent          []*types.Transaction
	Registered    int
	Unregistered  int
	filters       map[provider.FilterID]filterEntry
	lastFilter    provider.FilterID
	watched       map[common.Address]bool
	blockNumber   uint64
	estimateCalls int

	blockFeed   event.Feed
	accountFeed event.Feed
}

type filterEntry struct {
	query provider.FilterQuery
	cb    func(types.Log)
}

// New returns a provider with sensible default answers.
func New() *Provider {
	return &Provider{
		GasPriceValue: big.NewInt(20e9),
		GasEstimate:   21000,
		Balances:      make(map[common.Address]*big.Int),
		Blocks:        make(map[string]map[string]interface{}),
		Txs:           make(map[common.Hash]map[string]interface{}),
		Receipts:      make(map[common.Hash]map[string]interface{}),
		filters:       make(map[provider.FilterID]filterEntry),
		watched:       make(map[common.Address]bool),
	}
}

func (p *Provider) wait(ctx context.Context) error {
	p.mu.Lock()
	gate := p.Gate
	p.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provider) GasPrice(ctx context.Context) (*big.Int, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.GasPriceValue == nil {
		return nil, nil
	}
	return new(big.Int).Set(p.GasPriceValue), nil
}

func (p *Provider) EstimateGas(ctx context.Context, tx *provider.Transaction) (uint64, error) {
	if err := p.wait(ctx); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.estimateCalls++
	if p.FailEstimate {
		return 0, ErrFailure
	}
	return p.GasEstimate, nil
}

// EstimateCalls returns how many times EstimateGas was called.
func (p *Provider) EstimateCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.estimateCalls
}

func (p *Provider) TransactionCount(ctx context.Context, addr common.Address, blockTag string) (uint64, error) {
	if err := p.wait(ctx); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PendingNonce, nil
}

func (p *Provider) SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailSend {
		return common.Hash{}, ErrFailure
	}
	p.Sent = append(p.Sent, tx)
	return tx.Hash(), nil
}

// SentTransactions returns a copy of every broadcast transaction.
func (p *Provider) SentTransactions() []*types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*types.Transaction(nil), p.Sent...)
}

func (p *Provider) Call(ctx context.Context, tx *provider.Transaction, blockTag string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CallResult, nil
}

func (p *Provider) Balance(ctx context.Context, addr common.Address, blockTag string) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.Balances[addr]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (p *Provider) Block(ctx context.Context, ref string) (map[string]interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Blocks[ref], nil
}

func (p *Provider) Transaction(ctx context.Context, hash common.Hash) (map[string]interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Txs[hash], nil
}

func (p *Provider) TransactionReceipt(ctx context.Context, hash common.Hash) (map[string]interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Receipts[hash], nil
}

func (p *Provider) RegisterFilter(q provider.FilterQuery, cb func(types.Log)) (provider.FilterID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastFilter++
	p.filters[p.lastFilter] = filterEntry{query: q, cb: cb}
	p.Registered++
	return p.lastFilter, nil
}

func (p *Provider) UnregisterFilter(id provider.FilterID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.filters[id]; !ok {
		return provider.ErrNotFound
	}
	delete(p.filters, id)
	p.Unregistered++
	return nil
}

// LiveFilters returns the number of registered filters.
func (p *Provider) LiveFilters() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.filters)
}

// Counts returns how many filters were registered and unregistered.
func (p *Provider) Counts() (registered, unregistered int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Registered, p.Unregistered
}

// EmitLog delivers l to every registered filter.
func (p *Provider) EmitLog(l types.Log) {
	p.mu.Lock()
	cbs := make([]func(types.Log), 0, len(p.filters))
	for _, f := range p.filters {
		cbs = append(cbs, f.cb)
	}
	p.mu.Unlock()
	for _, cb := range cbs {
		cb(l)
	}
}

func (p *Provider) FundAccount(ctx context.Context, addr common.Address) (common.Hash, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.FundHash, nil
}

func (p *Provider) BlockNumber() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blockNumber
}

func (p *Provider) LatestGasPrice() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Unpolled {
		return nil
	}
	return new(big.Int).Set(p.GasPriceValue)
}

// SetBlock records n as the head and announces it.
func (p *Provider) SetBlock(n uint64) {
	p.mu.Lock()
	p.blockNumber = n
	p.mu.Unlock()
	p.blockFeed.Send(n)
}

// PushBalance announces a balance for addr, whether watched or not.
func (p *Provider) PushBalance(addr common.Address, balance *big.Int) {
	p.accountFeed.Send(provider.AccountInfo{Address: addr, Balance: balance})
}

func (p *Provider) WatchAccount(addr common.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watched[addr] = true
}

func (p *Provider) UnwatchAccount(addr common.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.watched, addr)
}

// Watched reports whether addr is being watched.
func (p *Provider) Watched(addr common.Address) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watched[addr]
}

func (p *Provider) SubscribeNewBlock(ch chan<- uint64) event.Subscription {
	return p.blockFeed.Subscribe(ch)
}

func (p *Provider) SubscribeAccounts(ch chan<- provider.AccountInfo) event.Subscription {
	return p.accountFeed.Subscribe(ch)
}
