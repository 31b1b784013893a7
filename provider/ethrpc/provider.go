// Package ethrpc implements provider.Provider over an Ethereum JSON-RPC
// endpoint. New blocks are discovered by polling; on each new block the
// watched balances are refreshed and log filters are evaluated.
package ethrpc

import (
	"context"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/Aurorachain/dappshell/log"
	"github.com/Aurorachain/dappshell/provider"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	lru "github.com/hashicorp/golang-lru"
	"gopkg.in/fatih/set.v0"
)

const (
	defaultPollInterval   = 4 * time.Second
	defaultBlockCacheSize = 64
	requestTimeout        = 10 * time.Second
)

// Config tunes a Provider.
type Config struct {
	PollInterval   time.Duration
	BlockCacheSize int
	FaucetURL      string
}

type filter struct {
	query provider.FilterQuery
	cb    func(types.Log)
	next  uint64 // first block not yet scanned, 0 until the first poll
}

// Provider is a polling JSON-RPC provider.
type Provider struct {
	client *Client
	config Config
	http   *http.Client
	blocks *lru.Cache

	mu          sync.RWMutex
	blockNumber uint64
	seen        bool
	gasPrice    *big.Int
	watched     *set.SetNonTS
	filters     map[provider.FilterID]*filter
	lastFilter  provider.FilterID

	blockFeed   event.Feed
	accountFeed event.Feed
	scope       event.SubscriptionScope

	quit chan chan error
	wg   sync.WaitGroup
}

// New creates a provider on top of client. Polling starts with Start.
func New(client *Client, config Config) *Provider {
	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollInterval
	}
	if config.BlockCacheSize <= 0 {
		config.BlockCacheSize = defaultBlockCacheSize
	}
	blocks, _ := lru.New(config.BlockCacheSize)
	return &Provider{
		client:  client,
		config:  config,
		http:    &http.Client{Timeout: requestTimeout},
		blocks:  blocks,
		watched: set.NewNonTS(),
		filters: make(map[provider.FilterID]*filter),
		quit:    make(chan chan error),
	}
}

// Start launches the block poller.
func (p *Provider) Start() {
	p.wg.Add(1)
	go p.loop()
}

// Stop terminates the poller and every feed subscription.
func (p *Provider) Stop() error {
	errc := make(chan error)
	p.quit <- errc
	err := <-errc
	p.wg.Wait()
	p.scope.Close()
	p.client.Close()
	return err
}

func (p *Provider) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.poll()
	for {
		select {
		case <-ticker.C:
			p.poll()
		case errc := <-p.quit:
			errc <- nil
			return
		}
	}
}

func (p *Provider) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	number, err := p.client.BlockNumber(ctx)
	if err != nil {
		log.Debug("Block number poll failed", "err", err)
		return
	}
	p.mu.Lock()
	if p.seen && number <= p.blockNumber {
		p.mu.Unlock()
		return
	}
	p.blockNumber, p.seen = number, true
	p.mu.Unlock()

	if price, err := p.client.SuggestGasPrice(ctx); err == nil {
		p.mu.Lock()
		p.gasPrice = price
		p.mu.Unlock()
	} else {
		log.Debug("Gas price poll failed", "err", err)
	}
	log.Trace("New block", "number", number)
	p.blockFeed.Send(number)

	p.refreshAccounts(ctx)
	p.runFilters(ctx, number)
}

func (p *Provider) refreshAccounts(ctx context.Context) {
	p.mu.RLock()
	watched := p.watched.List()
	p.mu.RUnlock()

	for _, item := range watched {
		addr := item.(common.Address)
		balance, err := p.client.BalanceAt(ctx, addr, "latest")
		if err != nil {
			log.Debug("Balance refresh failed", "address", addr, "err", err)
			continue
		}
		p.accountFeed.Send(provider.AccountInfo{Address: addr, Balance: balance})
	}
}

func (p *Provider) runFilters(ctx context.Context, head uint64) {
	type job struct {
		id   provider.FilterID
		f    *filter
		from uint64
	}
	var jobs []job
	p.mu.Lock()
	for id, f := range p.filters {
		if f.next == 0 {
			f.next = head + 1
			continue
		}
		if f.next <= head {
			jobs = append(jobs, job{id, f, f.next})
			f.next = head + 1
		}
	}
	p.mu.Unlock()

	for _, j := range jobs {
		logs, err := p.client.FilterLogs(ctx, j.f.query, j.from, head)
		if err != nil {
			log.Debug("Log filter failed", "id", j.id, "err", err)
			continue
		}
		for _, l := range logs {
			p.mu.RLock()
			live := p.filters[j.id] == j.f
			p.mu.RUnlock()
			if !live {
				break
			}
			j.f.cb(l)
		}
	}
}

func (p *Provider) GasPrice(ctx context.Context) (*big.Int, error) {
	return p.client.SuggestGasPrice(ctx)
}

func (p *Provider) EstimateGas(ctx context.Context, tx *provider.Transaction) (uint64, error) {
	return p.client.EstimateGas(ctx, tx)
}

func (p *Provider) TransactionCount(ctx context.Context, addr common.Address, blockTag string) (uint64, error) {
	return p.client.NonceAt(ctx, addr, blockTag)
}

func (p *Provider) SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	return p.client.SendTransaction(ctx, tx)
}

func (p *Provider) Call(ctx context.Context, tx *provider.Transaction, blockTag string) ([]byte, error) {
	return p.client.CallContract(ctx, tx, blockTag)
}

func (p *Provider) Balance(ctx context.Context, addr common.Address, blockTag string) (*big.Int, error) {
	return p.client.BalanceAt(ctx, addr, blockTag)
}

// Block looks up a block by number, tag or hash. Blocks are cached by hash.
func (p *Provider) Block(ctx context.Context, ref string) (map[string]interface{}, error) {
	if isHash(ref) {
		if cached, ok := p.blocks.Get(ref); ok {
			return cached.(map[string]interface{}), nil
		}
	}
	block, err := p.client.BlockByRef(ctx, ref)
	if err != nil || block == nil {
		return block, err
	}
	if hash, ok := block["hash"].(string); ok && isHash(hash) {
		p.blocks.Add(hash, block)
	}
	return block, nil
}

func (p *Provider) Transaction(ctx context.Context, hash common.Hash) (map[string]interface{}, error) {
	return p.client.TransactionByHash(ctx, hash)
}

func (p *Provider) TransactionReceipt(ctx context.Context, hash common.Hash) (map[string]interface{}, error) {
	return p.client.TransactionReceipt(ctx, hash)
}

// RegisterFilter installs a client side log filter evaluated from the next
// block on.
func (p *Provider) RegisterFilter(q provider.FilterQuery, cb func(types.Log)) (provider.FilterID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastFilter++
	f := &filter{query: q, cb: cb}
	if p.seen {
		f.next = p.blockNumber + 1
	}
	p.filters[p.lastFilter] = f
	return p.lastFilter, nil
}

func (p *Provider) UnregisterFilter(id provider.FilterID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.filters[id]; !ok {
		return provider.ErrNotFound
	}
	delete(p.filters, id)
	return nil
}

func (p *Provider) BlockNumber() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.blockNumber
}

func (p *Provider) LatestGasPrice() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.gasPrice == nil {
		return nil
	}
	return new(big.Int).Set(p.gasPrice)
}

func (p *Provider) WatchAccount(addr common.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watched.Add(addr)
}

func (p *Provider) UnwatchAccount(addr common.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watched.Remove(addr)
}

func (p *Provider) SubscribeNewBlock(ch chan<- uint64) event.Subscription {
	return p.scope.Track(p.blockFeed.Subscribe(ch))
}

func (p *Provider) SubscribeAccounts(ch chan<- provider.AccountInfo) event.Subscription {
	return p.scope.Track(p.accountFeed.Subscribe(ch))
}
