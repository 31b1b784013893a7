package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/Aurorachain/dappshell/log"
	"github.com/Aurorachain/dappshell/provider"
	"github.com/Aurorachain/dappshell/storedb"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/pkg/errors"
)

const (
	recordPrefix   = "account-"
	extendedPrefix = "x-account-"
	settingsPrefix = "settings-"

	activeAddressKey = "activeAddress"
	nicknameKey      = "nickname"
	balanceKey       = "balance"

	recordVersion = 1
)

// record is the persisted form of an account.
type record struct {
	Address     string `json:"address"`
	CreatedDate int64  `json:"createdDate"`
	JSON        string `json:"json"`
	Method      Method `json:"method"`
	Version     int    `json:"version"`
}

// Registry owns the known accounts, the active account and the signing
// capabilities of unlocked accounts.
type Registry struct {
	keystore Keystore
	watcher  Watcher

	records  storedb.Database
	extended storedb.Database
	settings storedb.Database

	accounts map[common.Address]*Account
	unlocked map[common.Address]Signer
	active   *Account

	activeFeed  event.Feed
	balanceFeed event.Feed
	scope       event.SubscriptionScope

	updates chan provider.AccountInfo
	updater event.Subscription
	quit    chan chan error
	closed  sync.Once

	lock sync.RWMutex
}

// NewRegistry loads every persisted account from db and, when watcher is not
// nil, starts tracking their balances.
func NewRegistry(db storedb.Database, ks Keystore, watcher Watcher) (*Registry, error) {
	r := &Registry{
		keystore: ks,
		watcher:  watcher,
		records:  storedb.NewTable(db, recordPrefix),
		extended: storedb.NewTable(db, extendedPrefix),
		settings: storedb.NewTable(db, settingsPrefix),
		accounts: make(map[common.Address]*Account),
		unlocked: make(map[common.Address]Signer),
		quit:     make(chan chan error),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	if watcher != nil {
		r.updates = make(chan provider.AccountInfo, 16)
		r.updater = watcher.SubscribeAccounts(r.updates)
		for addr := range r.accounts {
			watcher.WatchAccount(addr)
		}
	}
	go r.update()
	return r, nil
}

func recordKey(addr common.Address) []byte {
	return []byte(strings.ToLower(addr.Hex()))
}

func extendedKey(addr common.Address, field string) []byte {
	return []byte(strings.ToLower(addr.Hex()) + "-" + field)
}

func (r *Registry) load() error {
	it := r.records.NewIteratorWithPrefix(nil)
	defer it.Release()

	for it.Next() {
		var rec record
		if err := json.Unmarshal(it.Value(), &rec); err != nil {
			log.Warn("Skipping unreadable account record", "key", string(it.Key()), "err", err)
			continue
		}
		if !common.IsHexAddress(rec.Address) || !rec.Method.valid() {
			log.Warn("Skipping invalid account record", "key", string(it.Key()))
			continue
		}
		addr := common.HexToAddress(rec.Address)
		a := &Account{
			Address:  addr,
			Keystore: []byte(rec.JSON),
			Created:  time.UnixMilli(rec.CreatedDate),
			Method:   rec.Method,
		}
		if nick, err := r.extended.Get(extendedKey(addr, nicknameKey)); err == nil {
			a.nickname = string(nick)
		}
		if bal, err := r.extended.Get(extendedKey(addr, balanceKey)); err == nil {
			if v, ok := new(big.Int).SetString(string(bal), 10); ok {
				a.balance = v
			}
		}
		r.accounts[addr] = a
	}
	if err := it.Error(); err != nil {
		return errors.Wrap(err, "account scan failed")
	}
	active, err := r.settings.Get([]byte(activeAddressKey))
	switch {
	case err == nil:
		if common.IsHexAddress(string(active)) {
			r.active = r.accounts[common.HexToAddress(string(active))]
		}
	case !errors.Is(err, storedb.ErrNotFound):
		return errors.Wrap(err, "active account lookup failed")
	}
	log.Debug("Loaded account registry", "accounts", len(r.accounts), "active", r.active != nil)
	return nil
}

// Close stops balance tracking, ends every event subscription and wipes all
// held signing capabilities.
func (r *Registry) Close() error {
	var err error
	r.closed.Do(func() {
		// Unsubscribe first so a stalled sink can't hold up the update loop.
		r.scope.Close()
		errc := make(chan error)
		r.quit <- errc
		err = <-errc
	})

	r.lock.Lock()
	defer r.lock.Unlock()
	for addr, signer := range r.unlocked {
		signer.Destroy()
		delete(r.unlocked, addr)
	}
	return err
}

func (r *Registry) update() {
	var errs <-chan error
	if r.updater != nil {
		defer r.updater.Unsubscribe()
		errs = r.updater.Err()
	}
	for {
		select {
		case info := <-r.updates:
			r.UpdateBalance(info.Address, info.Balance)

		case err := <-errs:
			if err != nil {
				log.Warn("Balance tracking stopped", "err", err)
			}
			errs = nil

		case errc := <-r.quit:
			errc <- nil
			return
		}
	}
}

// Create registers a new account for blob, holding signer as its signing
// capability. The first account created becomes active.
func (r *Registry) Create(blob []byte, signer Signer, method Method) (*Account, error) {
	if !method.valid() {
		return nil, ErrInvalidMethod
	}
	addr := signer.Address()
	declared, err := r.keystore.Address(blob)
	if err != nil {
		return nil, err
	}
	if declared != addr {
		return nil, ErrAddressMismatch
	}

	r.lock.Lock()
	if has, err := r.records.Has(recordKey(addr)); err != nil {
		r.lock.Unlock()
		return nil, err
	} else if has {
		r.lock.Unlock()
		return nil, ErrDuplicateAccount
	}
	created := time.Now().Truncate(time.Millisecond)
	rec, _ := json.Marshal(record{
		Address:     addr.Hex(),
		CreatedDate: created.UnixMilli(),
		JSON:        string(blob),
		Method:      method,
		Version:     recordVersion,
	})
	if err := r.records.Put(recordKey(addr), rec); err != nil {
		r.lock.Unlock()
		return nil, errors.Wrap(err, "account persist failed")
	}
	a := &Account{
		Address:  addr,
		Keystore: append([]byte{}, blob...),
		Created:  created,
		Method:   method,
	}
	r.accounts[addr] = a
	r.unlocked[addr] = signer

	var ev *ActiveChangeEvent
	if r.active == nil {
		if ev, err = r.setActive(a); err != nil {
			r.lock.Unlock()
			return nil, err
		}
	}
	r.lock.Unlock()

	log.Info("Account created", "address", addr, "method", method)
	if r.watcher != nil {
		r.watcher.WatchAccount(addr)
	}
	if ev != nil {
		r.activeFeed.Send(*ev)
	}
	return a, nil
}

// Get returns the account for addr, or nil if none is registered.
func (r *Registry) Get(addr common.Address) *Account {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.accounts[addr]
}

// List returns every account ordered by creation time.
func (r *Registry) List() []*Account {
	r.lock.RLock()
	list := make([]*Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		list = append(list, a)
	}
	r.lock.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if !list[i].Created.Equal(list[j].Created) {
			return list[i].Created.Before(list[j].Created)
		}
		return strings.ToLower(list[i].Address.Hex()) < strings.ToLower(list[j].Address.Hex())
	})
	return list
}

// Remove forgets an account together with its held signing capability. If
// it was active, the first account in persisted key order becomes active.
func (r *Registry) Remove(a *Account) error {
	r.lock.Lock()
	if r.accounts[a.Address] != a {
		r.lock.Unlock()
		return ErrUnknownAccount
	}
	if err := r.records.Delete(recordKey(a.Address)); err != nil {
		r.lock.Unlock()
		return err
	}
	if err := storedb.DeletePrefix(r.extended, extendedKey(a.Address, "")); err != nil {
		log.Warn("Failed to clear account data", "address", a.Address, "err", err)
	}
	delete(r.accounts, a.Address)
	if signer, ok := r.unlocked[a.Address]; ok {
		signer.Destroy()
		delete(r.unlocked, a.Address)
	}

	var (
		ev  *ActiveChangeEvent
		err error
	)
	if r.active == a {
		if ev, err = r.setActive(r.firstPersisted()); err != nil {
			r.lock.Unlock()
			return err
		}
	}
	r.lock.Unlock()

	log.Info("Account removed", "address", a.Address)
	if r.watcher != nil {
		r.watcher.UnwatchAccount(a.Address)
	}
	if ev != nil {
		r.activeFeed.Send(*ev)
	}
	return nil
}

// firstPersisted returns the account stored under the lowest record key.
func (r *Registry) firstPersisted() *Account {
	it := r.records.NewIteratorWithPrefix(nil)
	defer it.Release()

	for it.Next() {
		key := string(it.Key())
		if !common.IsHexAddress(key) {
			continue
		}
		if a := r.accounts[common.HexToAddress(key)]; a != nil {
			return a
		}
	}
	return nil
}

// Active returns the active account, nil if there is none.
func (r *Registry) Active() *Account {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.active
}

// SetActive persists a as the active account and posts an ActiveChangeEvent.
// A nil account clears the selection.
func (r *Registry) SetActive(a *Account) error {
	r.lock.Lock()
	if a != nil && r.accounts[a.Address] != a {
		r.lock.Unlock()
		return ErrUnknownAccount
	}
	ev, err := r.setActive(a)
	r.lock.Unlock()
	if err != nil {
		return err
	}
	r.activeFeed.Send(*ev)
	return nil
}

// setActive must be called with the lock held. The returned event is to be
// sent once the lock is released.
func (r *Registry) setActive(a *Account) (*ActiveChangeEvent, error) {
	var err error
	if a == nil {
		err = r.settings.Delete([]byte(activeAddressKey))
	} else {
		err = r.settings.Put([]byte(activeAddressKey), []byte(a.Address.Hex()))
	}
	if err != nil {
		return nil, errors.Wrap(err, "active account persist failed")
	}
	old := r.active
	r.active = a
	return &ActiveChangeEvent{New: a, Old: old}, nil
}

// Locked reports whether no signing capability is held for a.
func (r *Registry) Locked(a *Account) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()
	_, ok := r.unlocked[a.Address]
	return !ok
}

// Lock wipes the signing capability held for a, if any.
func (r *Registry) Lock(a *Account) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if signer, ok := r.unlocked[a.Address]; ok {
		signer.Destroy()
		delete(r.unlocked, a.Address)
	}
}

// Unlock decrypts the keystore of a with password and holds the resulting
// signing capability. Concurrent unlocks of the same account are allowed, the
// last one to finish wins. Nothing is retained if ctx ends first.
func (r *Registry) Unlock(ctx context.Context, a *Account, password string, progress ProgressFunc) error {
	if r.Get(a.Address) != a {
		return ErrUnknownAccount
	}
	signer, err := r.keystore.Decrypt(ctx, a.Keystore, password, progress)
	if err != nil {
		return err
	}
	if signer.Address() != a.Address {
		signer.Destroy()
		return ErrAddressMismatch
	}
	if ctx.Err() != nil {
		signer.Destroy()
		return context.Cause(ctx)
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	if r.accounts[a.Address] != a {
		signer.Destroy()
		return ErrUnknownAccount
	}
	if prev, ok := r.unlocked[a.Address]; ok {
		prev.Destroy()
	}
	r.unlocked[a.Address] = signer
	log.Debug("Account unlocked", "address", a.Address)
	return nil
}

// Sign signs tx with the capability held for a.
func (r *Registry) Sign(a *Account, tx *types.Transaction) (*types.Transaction, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	signer, ok := r.unlocked[a.Address]
	if !ok {
		return nil, ErrAccountLocked
	}
	return signer.SignTx(tx)
}

// SetNickname changes the display label of a. Renaming the active account
// posts an ActiveChangeEvent with New and Old both set to a.
func (r *Registry) SetNickname(a *Account, nickname string) error {
	nickname = strings.TrimSpace(nickname)
	if !validNickname(nickname) {
		return ErrInvalidNickname
	}
	r.lock.Lock()
	if r.accounts[a.Address] != a {
		r.lock.Unlock()
		return ErrUnknownAccount
	}
	if err := r.extended.Put(extendedKey(a.Address, nicknameKey), []byte(nickname)); err != nil {
		r.lock.Unlock()
		return err
	}
	a.mu.Lock()
	a.nickname = nickname
	a.mu.Unlock()
	isActive := r.active == a
	r.lock.Unlock()

	if isActive {
		r.activeFeed.Send(ActiveChangeEvent{New: a, Old: a})
	}
	return nil
}

func validNickname(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if unicode.IsControl(c) {
			return false
		}
	}
	return true
}

// UniqueNickname returns prefix, or "prefix #n" for the smallest n >= 2
// that no account uses yet.
func (r *Registry) UniqueNickname(prefix string) string {
	taken := make(map[string]bool)
	r.lock.RLock()
	for _, a := range r.accounts {
		taken[a.Nickname()] = true
	}
	r.lock.RUnlock()

	if !taken[prefix] {
		return prefix
	}
	for i := 2; ; i++ {
		name := fmt.Sprintf("%s #%d", prefix, i)
		if !taken[name] {
			return name
		}
	}
}

// UpdateBalance stores a balance pushed by the provider. A BalanceChangeEvent
// is posted only when the value differs from the stored one.
func (r *Registry) UpdateBalance(addr common.Address, balance *big.Int) bool {
	if balance == nil {
		return false
	}
	r.lock.RLock()
	a := r.accounts[addr]
	r.lock.RUnlock()
	if a == nil {
		return false
	}
	value := balance.String()

	a.mu.Lock()
	if a.balance != nil && a.balance.String() == value {
		a.mu.Unlock()
		return false
	}
	a.balance = new(big.Int).Set(balance)
	a.mu.Unlock()

	if err := r.extended.Put(extendedKey(addr, balanceKey), []byte(value)); err != nil {
		log.Warn("Failed to persist balance", "address", addr, "err", err)
	}
	r.balanceFeed.Send(BalanceChangeEvent{Account: a, Balance: new(big.Int).Set(balance)})
	return true
}

// SubscribeActiveChange registers a sink for ActiveChangeEvents. The sink
// must be drained, account changes block until it takes the event.
func (r *Registry) SubscribeActiveChange(ch chan<- ActiveChangeEvent) event.Subscription {
	return r.scope.Track(r.activeFeed.Subscribe(ch))
}

// SubscribeBalanceChange registers a sink for BalanceChangeEvents. The sink
// must be drained, balance tracking stalls until it takes the event. Close
// ends the subscription even when the sink is stalled.
func (r *Registry) SubscribeBalanceChange(ch chan<- BalanceChangeEvent) event.Subscription {
	return r.scope.Track(r.balanceFeed.Subscribe(ch))
}
