package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/Aurorachain/dappshell/accounts"
	"github.com/Aurorachain/dappshell/params"
	"github.com/Aurorachain/dappshell/provider"
	"github.com/Aurorachain/dappshell/provider/providertest"
	"github.com/Aurorachain/dappshell/sandbox"
	"github.com/Aurorachain/dappshell/txpipe"
	"github.com/Aurorachain/dappshell/ui"
	"github.com/davecgh/go-spew/spew"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

const testOrigin = "https://app.example.org"

// testApp records what the host posts to an application.
type testApp struct {
	posted chan map[string]interface{}
}

func newTestApp() *testApp {
	return &testApp{posted: make(chan map[string]interface{}, 64)}
}

func (a *testApp) Start()       {}
func (a *testApp) Close() error { return nil }
func (a *testApp) Post(msg []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(msg, &m); err != nil {
		return err
	}
	a.posted <- m
	return nil
}

func (a *testApp) expect(t *testing.T) map[string]interface{} {
	t.Helper()
	select {
	case m := <-a.posted:
		if m["ethers"] != params.ProtocolTag {
			t.Fatalf("message without protocol tag: %s", spew.Sdump(m))
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message")
	}
	return nil
}

func (a *testApp) expectNone(t *testing.T) {
	t.Helper()
	select {
	case m := <-a.posted:
		t.Fatalf("unexpected message: %s", spew.Sdump(m))
	case <-time.After(50 * time.Millisecond):
	}
}

type testAccounts struct {
	mu     sync.Mutex
	active *accounts.Account
	feed   event.Feed
}

func (ta *testAccounts) Active() *accounts.Account {
	ta.mu.Lock()
	defer ta.mu.Unlock()
	return ta.active
}

func (ta *testAccounts) SubscribeActiveChange(ch chan<- accounts.ActiveChangeEvent) event.Subscription {
	return ta.feed.Subscribe(ch)
}

func (ta *testAccounts) setActive(a *accounts.Account) {
	ta.mu.Lock()
	old := ta.active
	ta.active = a
	ta.mu.Unlock()
	ta.feed.Send(accounts.ActiveChangeEvent{New: a, Old: old})
}

// testPipeline answers submissions after release is closed, or right away
// when it is nil.
type testPipeline struct {
	mu      sync.Mutex
	release chan struct{}
	txs     []*provider.Transaction
	opts    []txpipe.Options
	err     error
}

func (p *testPipeline) Submit(ctx context.Context, a *accounts.Account, tx *provider.Transaction, opts txpipe.Options) (*txpipe.Result, error) {
	p.mu.Lock()
	p.txs = append(p.txs, tx)
	p.opts = append(p.opts, opts)
	release, err := p.release, p.err
	p.mu.Unlock()

	if release != nil {
		<-release
	}
	if err != nil {
		return nil, err
	}
	res := &txpipe.Result{Hash: common.HexToHash("0xabcd")}
	if tx.To != nil {
		res.Address = *tx.To
	} else {
		res.Address = common.HexToAddress("0xc0ffee")
	}
	return res, nil
}

type testNotifier struct {
	notes chan [2]string
}

func (n *testNotifier) Notify(title, message string) {
	n.notes <- [2]string{title, message}
}

type testEnv struct {
	h        *Handler
	backend  *providertest.Provider
	accounts *testAccounts
	pipeline *testPipeline
	notifier *testNotifier
	app      *testApp
	nextID   uint64
}

func newTestEnv(t *testing.T, network params.Network) *testEnv {
	env := &testEnv{
		backend:  providertest.New(),
		accounts: new(testAccounts),
		pipeline: new(testPipeline),
		notifier: &testNotifier{notes: make(chan [2]string, 4)},
	}
	env.h = New(network, env.backend, env.accounts, env.pipeline, env.notifier)
	t.Cleanup(env.h.Stop)
	env.attach()
	return env
}

// attach loads a fresh application.
func (env *testEnv) attach() *testApp {
	env.nextID++
	env.app = newTestApp()
	env.h.Attach(Info{ID: env.nextID, Name: testOrigin, Origin: testOrigin, URL: testOrigin + "/"}, env.app)
	return env.app
}

func (env *testEnv) send(id interface{}, action string, params interface{}) {
	env.sendFrom(env.app, testOrigin, id, action, params)
}

func (env *testEnv) sendFrom(from sandbox.Context, origin string, id interface{}, action string, p interface{}) {
	msg := map[string]interface{}{"ethers": params.ProtocolTag, "action": action}
	if id != nil {
		msg["id"] = id
	}
	if p != nil {
		msg["params"] = p
	}
	data, _ := json.Marshal(msg)
	env.h.HandleMessage(from, origin, data)
}

func (env *testEnv) ready(t *testing.T) {
	t.Helper()
	env.send(nil, "ready", map[string]interface{}{"title": "Test App"})
	if m := env.app.expect(t); m["action"] != "ready" {
		t.Fatalf("expected ready echo, got %v", m)
	}
	if m := env.app.expect(t); m["action"] != "block" {
		t.Fatalf("expected block after ready, got %v", m)
	}
}

func testAccount(b byte) *accounts.Account {
	return &accounts.Account{Address: common.BytesToAddress([]byte{b})}
}

func TestScenarioReplies(t *testing.T) {
	env := newTestEnv(t, params.MainnetNetwork)

	env.send(1, "getAccount", nil)
	m := env.app.expect(t)
	if result, ok := m["result"]; !ok || result != nil || m["id"] != float64(1) {
		t.Fatalf("getAccount without active account: %v", m)
	}

	env.send(2, "fundAccount", map[string]interface{}{"address": "0x00000000000000000000000000000000000000aa"})
	if m := env.app.expect(t); m["error"] != "invalid network" || m["id"] != float64(2) {
		t.Fatalf("fundAccount on mainnet: %v", m)
	}

	env.send("x", "frobnicate", nil)
	if m := env.app.expect(t); m["error"] != "invalid command" || m["id"] != "x" {
		t.Fatalf("unknown action: %v", m)
	}

	env.send(3, "getNetwork", nil)
	if m := env.app.expect(t); m["result"] != "homestead" {
		t.Fatalf("getNetwork: %v", m)
	}

	a := testAccount(0x42)
	env.accounts.setActive(a)
	env.send(4, "getAccount", nil)
	if m := env.app.expect(t); m["result"] != a.Address.Hex() {
		t.Fatalf("getAccount: %v", m)
	}
}

func TestDropsInvalidMessages(t *testing.T) {
	env := newTestEnv(t, params.MainnetNetwork)

	// Foreign sender.
	env.sendFrom(newTestApp(), testOrigin, 1, "getNetwork", nil)
	// Foreign origin.
	env.sendFrom(env.app, "https://evil.example.org", 2, "getNetwork", nil)
	// Missing tag.
	data, _ := json.Marshal(map[string]interface{}{"id": 3, "action": "getNetwork"})
	env.h.HandleMessage(env.app, testOrigin, data)
	// Garbage.
	env.h.HandleMessage(env.app, testOrigin, []byte("not json"))

	env.app.expectNone(t)

	// A superseded context is ignored too.
	old := env.app
	env.attach()
	env.sendFrom(old, testOrigin, 4, "getNetwork", nil)
	old.expectNone(t)
	env.app.expectNone(t)
}

func TestBlockNotifications(t *testing.T) {
	env := newTestEnv(t, params.MainnetNetwork)
	env.backend.SetBlock(7)
	env.app.expectNone(t)

	env.send(nil, "ready", nil)
	if m := env.app.expect(t); m["action"] != "ready" {
		t.Fatalf("ready echo: %v", m)
	}
	if m := env.app.expect(t); m["action"] != "block" || m["blockNumber"] != float64(7) {
		t.Fatalf("block after ready: %v", m)
	}

	env.backend.SetBlock(7)
	env.app.expectNone(t)

	env.backend.SetBlock(8)
	env.backend.SetBlock(8)
	if m := env.app.expect(t); m["blockNumber"] != float64(8) {
		t.Fatalf("block: %v", m)
	}
	env.app.expectNone(t)

	// A new session starts its dedup state over.
	env.attach()
	env.ready(t)
	env.backend.SetBlock(8)
	env.app.expectNone(t)
}

func TestAccountNotifications(t *testing.T) {
	env := newTestEnv(t, params.MainnetNetwork)
	a, b := testAccount(1), testAccount(2)

	env.accounts.setActive(a)
	env.app.expectNone(t)
	env.ready(t)

	env.accounts.setActive(b)
	env.accounts.setActive(b)
	if m := env.app.expect(t); m["action"] != "accountChanged" || m["account"] != b.Address.Hex() {
		t.Fatalf("account change: %v", m)
	}
	env.app.expectNone(t)

	env.accounts.setActive(nil)
	m := env.app.expect(t)
	if account, ok := m["account"]; !ok || account != nil {
		t.Fatalf("cleared account: %v", m)
	}
}

func TestReadyTitle(t *testing.T) {
	env := newTestEnv(t, params.MainnetNetwork)
	sessions := make(chan Info, 4)
	sub := env.h.SubscribeSessions(sessions)
	defer sub.Unsubscribe()

	env.ready(t)
	info := <-sessions
	if !info.Ready || info.Name != "Test App" || info.ID != 1 {
		t.Fatalf("session after ready: %+v", info)
	}

	env.send(nil, "notify", map[string]interface{}{"message": "hello"})
	select {
	case note := <-env.notifier.notes:
		if note != [2]string{"Application - Test App", "hello"} {
			t.Fatalf("notification: %v", note)
		}
	case <-time.After(time.Second):
		t.Fatal("notification not relayed")
	}
	env.app.expectNone(t)

	env.send(5, "notify", map[string]interface{}{"message": 12})
	if m := env.app.expect(t); m["error"] != "unknown error" {
		t.Fatalf("bad notify: %v", m)
	}
}

func TestEventSubscriptions(t *testing.T) {
	env := newTestEnv(t, params.MainnetNetwork)
	env.ready(t)

	topic := common.HexToHash("0x01").Hex()
	for i, topics := range [][]interface{}{{topic}, {nil, []interface{}{topic}}} {
		env.send(i, "setupEvent", map[string]interface{}{"eventId": 1, "topics": topics})
		if m := env.app.expect(t); m["result"] != true {
			t.Fatalf("setupEvent: %v", m)
		}
	}
	if reg, unreg := env.backend.Counts(); reg != 2 || unreg != 1 || env.backend.LiveFilters() != 1 {
		t.Fatalf("filters after re-subscribe: registered %d, unregistered %d, live %d", reg, unreg, env.backend.LiveFilters())
	}

	env.backend.EmitLog(types.Log{Address: common.HexToAddress("0x01"), BlockNumber: 3})
	m := env.app.expect(t)
	if m["action"] != "event" || m["eventId"] != float64(1) {
		t.Fatalf("event: %v", m)
	}
	if data, ok := m["data"].(map[string]interface{}); !ok || data["blockNumber"] != "0x3" {
		t.Fatalf("event data: %v", m["data"])
	}

	for _, id := range []interface{}{-1, 1.5, "1"} {
		env.send(9, "setupEvent", map[string]interface{}{"eventId": id})
		if m := env.app.expect(t); m["error"] != "unknown error" {
			t.Fatalf("setupEvent %v: %v", id, m)
		}
	}

	env.send(10, "teardownEvent", map[string]interface{}{"eventId": 1})
	if m := env.app.expect(t); m["result"] != true {
		t.Fatalf("teardownEvent: %v", m)
	}
	env.send(11, "teardownEvent", map[string]interface{}{"eventId": 1})
	if m := env.app.expect(t); m["result"] != true {
		t.Fatalf("repeated teardownEvent: %v", m)
	}
	if env.backend.LiveFilters() != 0 {
		t.Fatal("filter left after teardown")
	}

	// Filters never outlive their session.
	env.send(12, "setupEvent", map[string]interface{}{"eventId": 2})
	env.app.expect(t)
	env.attach()
	if env.backend.LiveFilters() != 0 {
		t.Fatal("filter outlived its session")
	}
}

func TestSubmitActions(t *testing.T) {
	env := newTestEnv(t, params.MainnetNetwork)

	env.send(1, "send", map[string]interface{}{"address": "0x00000000000000000000000000000000000000aa", "amountWei": "0x10"})
	if m := env.app.expect(t); m["error"] != "cancelled" {
		t.Fatalf("send without active account: %v", m)
	}

	a := testAccount(1)
	env.accounts.setActive(a)

	env.send(2, "send", map[string]interface{}{"address": "0x00000000000000000000000000000000000000aa", "amountWei": "0x10"})
	if m := env.app.expect(t); m["result"] != common.HexToHash("0xabcd").Hex() {
		t.Fatalf("send: %v", m)
	}
	env.send(3, "deployContract", map[string]interface{}{"bytecode": "0x6000"})
	m := env.app.expect(t)
	result, _ := m["result"].(map[string]interface{})
	if result["address"] != common.HexToAddress("0xc0ffee").Hex() || result["hash"] == nil {
		t.Fatalf("deployContract: %v", m)
	}
	env.send(4, "sendTransaction", map[string]interface{}{"transaction": map[string]interface{}{
		"to": "0x00000000000000000000000000000000000000bb", "gasLimit": 50000, "value": "0x1", "bogus": 1,
	}})
	env.app.expect(t)

	env.pipeline.mu.Lock()
	if len(env.pipeline.txs) != 3 {
		t.Fatalf("submissions: %d", len(env.pipeline.txs))
	}
	send, deploy, tx := env.pipeline.txs[0], env.pipeline.txs[1], env.pipeline.txs[2]
	if send.Value.Int64() != 16 || !env.pipeline.opts[0].SkipPreview {
		t.Fatalf("send draft: %+v %+v", send, env.pipeline.opts[0])
	}
	if deploy.To != nil || len(deploy.Data) != 2 {
		t.Fatalf("deploy draft: %+v", deploy)
	}
	if *tx.GasLimit != 50000 || tx.Value.Int64() != 1 || env.pipeline.opts[2].SkipPreview {
		t.Fatalf("transaction draft: %+v", tx)
	}
	env.pipeline.err = ui.ErrPurged
	env.pipeline.mu.Unlock()

	env.send(5, "sendTransaction", map[string]interface{}{"transaction": map[string]interface{}{}})
	if m := env.app.expect(t); m["error"] != "cancelled" {
		t.Fatalf("purged submission: %v", m)
	}

	env.send(6, "sendTransaction", map[string]interface{}{"transaction": map[string]interface{}{
		"from": testAccount(2).Address.Hex(),
	}})
	if m := env.app.expect(t); m["error"] != "unknown error" {
		t.Fatalf("foreign sender: %v", m)
	}
}

func TestStaleSessionSuppression(t *testing.T) {
	env := newTestEnv(t, params.MainnetNetwork)
	env.accounts.setActive(testAccount(1))

	release := make(chan struct{})
	env.pipeline.mu.Lock()
	env.pipeline.release = release
	env.pipeline.mu.Unlock()

	old := env.app
	env.send(1, "send", map[string]interface{}{"address": "0x00000000000000000000000000000000000000aa", "amountWei": "0x1"})
	env.attach()
	close(release)

	old.expectNone(t)
	env.app.expectNone(t)
}

func TestReadOnlyActions(t *testing.T) {
	env := newTestEnv(t, params.TestnetNetwork)
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	hash := common.HexToHash("0x1234")
	env.backend.Balances[addr] = big.NewInt(255)
	env.backend.PendingNonce = 3
	env.backend.CallResult = []byte{0xbe, 0xef}
	env.backend.FundHash = hash
	env.backend.Blocks["0x5"] = map[string]interface{}{"number": "0x5", "hash": hash.Hex(), "miner": "0x00"}
	env.backend.Txs[hash] = map[string]interface{}{"hash": hash.Hex(), "r": "0x1", "nonce": "0x0"}
	env.backend.SetBlock(9)

	tests := []struct {
		action string
		params map[string]interface{}
		want   interface{}
	}{
		{"getBalance", map[string]interface{}{"address": addr.Hex()}, "0xff"},
		{"getTransactionCount", map[string]interface{}{"address": addr.Hex(), "blockTag": "pending"}, float64(3)},
		{"call", map[string]interface{}{"transaction": map[string]interface{}{"to": addr.Hex()}}, "0xbeef"},
		{"estimateGas", map[string]interface{}{"transaction": map[string]interface{}{"to": addr.Hex()}}, "0x5208"},
		{"getBlockNumber", nil, float64(9)},
		{"getGasPrice", nil, "0x4a817c800"},
		{"fundAccount", map[string]interface{}{"address": addr.Hex()}, hash.Hex()},
		{"getNetwork", nil, "morden"},
		{"getTransactionReceipt", map[string]interface{}{"hash": common.HexToHash("0x99").Hex()}, nil},
	}
	for i, tt := range tests {
		env.send(i, tt.action, tt.params)
		m := env.app.expect(t)
		if result, ok := m["result"]; !ok || result != tt.want {
			t.Errorf("%s: have %v, want %v", tt.action, spew.Sdump(m), tt.want)
		}
	}

	env.send(100, "getBlock", map[string]interface{}{"block": 5})
	block, _ := env.app.expect(t)["result"].(map[string]interface{})
	if block["hash"] != hash.Hex() || len(block) != len(blockFields) {
		t.Fatalf("getBlock: %v", block)
	}
	if _, ok := block["miner"]; ok {
		t.Fatal("getBlock leaked a field outside the whitelist")
	}

	env.send(101, "getTransaction", map[string]interface{}{"hash": hash.Hex()})
	tx, _ := env.app.expect(t)["result"].(map[string]interface{})
	if _, ok := tx["r"]; ok || tx["hash"] != hash.Hex() {
		t.Fatalf("getTransaction: %v", tx)
	}

	env.send(102, "getBalance", map[string]interface{}{"address": "nope"})
	if m := env.app.expect(t); m["error"] != "unknown error" {
		t.Fatalf("bad address: %v", m)
	}
}

func TestGasPriceBeforeFirstPoll(t *testing.T) {
	env := newTestEnv(t, params.MainnetNetwork)
	env.backend.Unpolled = true

	env.send(1, "getGasPrice", nil)
	if m := env.app.expect(t); m["result"] != "0x4a817c800" {
		t.Fatalf("getGasPrice: %v", spew.Sdump(m))
	}

	env.backend.GasPriceValue = nil
	env.send(2, "getGasPrice", nil)
	if m, ok := env.app.expect(t)["result"]; !ok || m != nil {
		t.Fatalf("getGasPrice without a price: %v", m)
	}
}

func TestWireErrors(t *testing.T) {
	tests := []struct {
		err  error
		want WireError
	}{
		{ui.ErrCancelled, ErrCancelled},
		{ui.ErrPurged, ErrCancelled},
		{fmt.Errorf("wrapped: %w", ui.ErrPurged), ErrCancelled},
		{ErrInvalidNetwork, ErrInvalidNetwork},
		{accounts.ErrAccountLocked, ErrUnknown},
		{txpipe.ErrBroadcast, ErrUnknown},
	}
	for _, tt := range tests {
		if got := wireError(tt.err); got != tt.want {
			t.Errorf("%v: have %q, want %q", tt.err, got, tt.want)
		}
	}
}
