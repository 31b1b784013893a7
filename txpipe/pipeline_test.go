package txpipe

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/Aurorachain/dappshell/accounts"
	"github.com/Aurorachain/dappshell/accounts/keystore"
	"github.com/Aurorachain/dappshell/params"
	"github.com/Aurorachain/dappshell/provider"
	"github.com/Aurorachain/dappshell/provider/providertest"
	"github.com/Aurorachain/dappshell/storedb/memorydb"
	"github.com/Aurorachain/dappshell/ui"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var testRecipient = common.HexToAddress("0x00000000000000000000000000000000000000aa")

// scriptedConfirmer answers prompts from canned replies.
type scriptedConfirmer struct {
	mu        sync.Mutex
	buttons   []string
	passwords []string
	notes     []string

	confirm func(ctx context.Context, req *Request) error
}

func (c *scriptedConfirmer) Confirm(ctx context.Context, req *Request) error {
	c.mu.Lock()
	c.buttons = append(c.buttons, req.Button)
	fn := c.confirm
	c.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return nil
}

func (c *scriptedConfirmer) Password(ctx context.Context, a *accounts.Account) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.passwords) == 0 {
		return "", ui.ErrCancelled
	}
	pw := c.passwords[0]
	c.passwords = c.passwords[1:]
	return pw, nil
}

func (c *scriptedConfirmer) Progress(title string) accounts.ProgressFunc {
	return nil
}

func (c *scriptedConfirmer) Notify(title, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, message)
}

func (c *scriptedConfirmer) shown() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.buttons...)
}

type testEnv struct {
	backend *providertest.Provider
	reg     *accounts.Registry
	conf    *scriptedConfirmer
	pipe    *Pipeline
	account *accounts.Account
}

func newTestEnv(t *testing.T, locked bool) *testEnv {
	ks := keystore.New(keystore.LightScryptN, keystore.LightScryptP, big.NewInt(1337))
	reg, err := accounts.NewRegistry(memorydb.New(), ks, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })

	w, err := ks.NewWallet()
	if err != nil {
		t.Fatal(err)
	}
	blob, err := ks.Encrypt(context.Background(), w, "secret", nil)
	if err != nil {
		t.Fatal(err)
	}
	a, err := reg.Create(blob, w, accounts.MethodCreated)
	if err != nil {
		t.Fatal(err)
	}
	if locked {
		reg.Lock(a)
	}
	env := &testEnv{
		backend: providertest.New(),
		reg:     reg,
		conf:    new(scriptedConfirmer),
		account: a,
	}
	env.backend.PendingNonce = 5
	env.pipe = New(env.backend, reg, env.conf, nil)
	return env
}

func valueTx(wei int64) *provider.Transaction {
	to := testRecipient
	return &provider.Transaction{To: &to, Value: big.NewInt(wei)}
}

func TestSubmitUnlocked(t *testing.T) {
	env := newTestEnv(t, false)

	// The estimate is still outstanding while the user confirms.
	env.backend.Gate = make(chan struct{})
	env.conf.confirm = func(ctx context.Context, req *Request) error {
		select {
		case <-req.Estimate.Done():
			t.Error("estimate resolved before confirmation")
		default:
		}
		if req.Tx.From != env.account.Address || *req.Tx.GasLimit != params.DefaultGasLimit {
			t.Errorf("draft not completed: %+v", req.Tx)
		}
		close(env.backend.Gate)
		return nil
	}

	res, err := env.pipe.Submit(context.Background(), env.account, valueTx(1000), Options{})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	sent := env.backend.SentTransactions()
	if len(sent) != 1 {
		t.Fatalf("broadcast count: have %d, want 1", len(sent))
	}
	tx := sent[0]
	if tx.Nonce() != 5 || tx.GasPrice().Int64() != 20e9 || tx.Gas() != params.DefaultGasLimit || tx.Value().Int64() != 1000 {
		t.Fatalf("broadcast tx: nonce %d price %v gas %d value %v", tx.Nonce(), tx.GasPrice(), tx.Gas(), tx.Value())
	}
	if res.Hash != tx.Hash() || res.Address != testRecipient {
		t.Fatalf("result: %+v", res)
	}
	if got := env.conf.shown(); len(got) != 1 || got[0] != ButtonConfirm {
		t.Fatalf("prompts: %v", got)
	}
	if env.backend.EstimateCalls() != 1 {
		t.Fatalf("estimate calls: %d", env.backend.EstimateCalls())
	}
}

func TestSubmitKeepsExplicitFields(t *testing.T) {
	env := newTestEnv(t, false)
	tx := valueTx(1)
	nonce, gas := uint64(42), uint64(50000)
	tx.Nonce, tx.GasLimit, tx.GasPrice = &nonce, &gas, big.NewInt(7)

	if _, err := env.pipe.Submit(context.Background(), env.account, tx, Options{}); err != nil {
		t.Fatal(err)
	}
	sent := env.backend.SentTransactions()[0]
	if sent.Nonce() != 42 || sent.Gas() != 50000 || sent.GasPrice().Int64() != 7 {
		t.Fatalf("explicit fields overridden: nonce %d gas %d price %v", sent.Nonce(), sent.Gas(), sent.GasPrice())
	}
	if *tx.Nonce != 42 || tx.From != (common.Address{}) {
		t.Fatal("caller's draft was modified")
	}
}

func TestSubmitDeploy(t *testing.T) {
	env := newTestEnv(t, false)
	res, err := env.pipe.Submit(context.Background(), env.account, &provider.Transaction{Data: []byte{0x60, 0x00}}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	want := crypto.CreateAddress(env.account.Address, 5)
	if res.Address != want {
		t.Fatalf("contract address: have %x, want %x", res.Address, want)
	}
	if sent := env.backend.SentTransactions(); len(sent) != 1 || sent[0].To() != nil {
		t.Fatal("deployment not broadcast as contract creation")
	}
}

func TestSubmitLocked(t *testing.T) {
	env := newTestEnv(t, true)
	env.conf.passwords = []string{"wrong", "secret"}

	if _, err := env.pipe.Submit(context.Background(), env.account, valueTx(1), Options{}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	got := env.conf.shown()
	if len(got) != 2 || got[0] != ButtonUnlock || got[1] != ButtonConfirm {
		t.Fatalf("prompts: %v", got)
	}
	if len(env.conf.notes) != 1 || env.conf.notes[0] != "Incorrect password, please try again." {
		t.Fatalf("notifications: %v", env.conf.notes)
	}
	if env.reg.Locked(env.account) {
		t.Fatal("account not left unlocked")
	}
	if len(env.backend.SentTransactions()) != 1 {
		t.Fatal("transaction not broadcast")
	}
}

func TestSubmitSkipPreview(t *testing.T) {
	env := newTestEnv(t, true)
	env.conf.passwords = []string{"secret"}

	if _, err := env.pipe.Submit(context.Background(), env.account, valueTx(1), Options{SkipPreview: true}); err != nil {
		t.Fatal(err)
	}
	if got := env.conf.shown(); len(got) != 1 || got[0] != ButtonConfirm {
		t.Fatalf("prompts: %v", got)
	}
}

func TestSubmitDeclined(t *testing.T) {
	env := newTestEnv(t, false)
	env.conf.confirm = func(ctx context.Context, req *Request) error { return ui.ErrCancelled }

	_, err := env.pipe.Submit(context.Background(), env.account, valueTx(1), Options{})
	if err != ui.ErrCancelled {
		t.Fatalf("declined submit: have %v, want %v", err, ui.ErrCancelled)
	}
	if Outcome(err) != StateCancelled {
		t.Fatalf("outcome: %v", Outcome(err))
	}
	if len(env.backend.SentTransactions()) != 0 {
		t.Fatal("declined transaction was broadcast")
	}

	// Declining the password prompt cancels as well.
	locked := newTestEnv(t, true)
	if _, err := locked.pipe.Submit(context.Background(), locked.account, valueTx(1), Options{SkipPreview: true}); err != ui.ErrCancelled {
		t.Fatalf("declined unlock: have %v, want %v", err, ui.ErrCancelled)
	}
}

func TestSubmitPurged(t *testing.T) {
	env := newTestEnv(t, false)

	waiting := make(chan struct{})
	env.conf.confirm = func(ctx context.Context, req *Request) error {
		close(waiting)
		<-ctx.Done()
		// Report a plain decline, the purge must still win.
		return ui.ErrCancelled
	}
	errc := make(chan error, 1)
	go func() {
		_, err := env.pipe.Submit(context.Background(), env.account, valueTx(1), Options{})
		errc <- err
	}()
	<-waiting

	env.conf.mu.Lock()
	env.conf.confirm = nil
	env.conf.mu.Unlock()
	if _, err := env.pipe.Submit(context.Background(), env.account, valueTx(2), Options{}); err != nil {
		t.Fatalf("second submit: %v", err)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, ui.ErrPurged) {
			t.Fatalf("first submit: have %v, want %v", err, ui.ErrPurged)
		}
		if Outcome(err) != StateCancelled {
			t.Fatalf("outcome: %v", Outcome(err))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("purged submit did not return")
	}
	sent := env.backend.SentTransactions()
	if len(sent) != 1 || sent[0].Value().Int64() != 2 {
		t.Fatalf("only the second request may be broadcast, have %d", len(sent))
	}
}

func TestSubmitBroadcastFailure(t *testing.T) {
	env := newTestEnv(t, false)
	env.backend.FailSend = true

	_, err := env.pipe.Submit(context.Background(), env.account, valueTx(1), Options{})
	if !errors.Is(err, ErrBroadcast) || !errors.Is(err, providertest.ErrFailure) {
		t.Fatalf("broadcast failure not reported: %v", err)
	}
	if want := "broadcast failed: " + providertest.ErrFailure.Error(); err.Error() != want {
		t.Fatalf("error text %q, want %q", err, want)
	}
	if Outcome(err) != StateFailed {
		t.Fatalf("outcome: %v", Outcome(err))
	}
}

func TestSubmitEstimateFailure(t *testing.T) {
	env := newTestEnv(t, false)
	env.backend.FailEstimate = true

	_, err := env.pipe.Submit(context.Background(), env.account, valueTx(1), Options{})
	if err == nil || Outcome(err) != StateFailed {
		t.Fatalf("estimate failure: have %v", err)
	}
	if !errors.Is(err, ErrEstimate) || !errors.Is(err, providertest.ErrFailure) {
		t.Fatalf("estimate failure lost its cause: %v", err)
	}
	if len(env.backend.SentTransactions()) != 0 {
		t.Fatal("transaction broadcast without an estimate")
	}
}
