package node

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/Aurorachain/dappshell/accounts"
	"github.com/Aurorachain/dappshell/provider/providertest"
	"github.com/Aurorachain/dappshell/txpipe"
	"github.com/Aurorachain/dappshell/ui"
)

type testPresenter struct{}

func (testPresenter) Confirm(ctx context.Context, req *txpipe.Request) error { return ui.ErrCancelled }
func (testPresenter) Password(ctx context.Context, a *accounts.Account) (string, error) {
	return "", ui.ErrCancelled
}
func (testPresenter) Progress(string) accounts.ProgressFunc { return nil }
func (testPresenter) Notify(title, message string)          {}

type testProvider struct {
	*providertest.Provider
}

func (testProvider) Start()      {}
func (testProvider) Stop() error { return nil }

func testNode(t *testing.T, conf *Config) (*Node, *providertest.Provider) {
	t.Helper()
	if conf.Name == "" {
		conf.Name = "unit-test"
	}
	conf.LightKDF = true
	stack, err := New(conf, testPresenter{})
	if err != nil {
		t.Fatal(err)
	}
	backend := providertest.New()
	stack.dial = func(ctx context.Context, conf *Config) (Provider, error) {
		return testProvider{backend}, nil
	}
	return stack, backend
}

func createAccount(t *testing.T, stack *Node) *accounts.Account {
	t.Helper()
	reg, ks, err := stack.OpenAccounts()
	if err != nil {
		t.Fatal(err)
	}
	w, err := ks.NewWallet()
	if err != nil {
		t.Fatal(err)
	}
	blob, err := ks.Encrypt(context.Background(), w, "foobar", nil)
	if err != nil {
		t.Fatal(err)
	}
	a, err := reg.Create(blob, w, accounts.MethodCreated)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestDatadirLock(t *testing.T) {
	dir := t.TempDir()
	first, _ := testNode(t, &Config{DataDir: dir})
	if _, _, err := first.OpenAccounts(); err != nil {
		t.Fatal(err)
	}
	second, _ := testNode(t, &Config{DataDir: dir})
	if _, _, err := second.OpenAccounts(); err != ErrDatadirUsed {
		t.Fatalf("second instance: have %v, want %v", err, ErrDatadirUsed)
	}
	first.Close()
	if _, _, err := second.OpenAccounts(); err != nil {
		t.Fatalf("after release: %v", err)
	}
	second.Close()
}

func TestStoreBackends(t *testing.T) {
	for _, backend := range []string{"leveldb", "sqlite"} {
		dir := t.TempDir()
		stack, _ := testNode(t, &Config{DataDir: dir, StoreBackend: backend})
		a := createAccount(t, stack)
		if err := stack.Close(); err != nil {
			t.Fatalf("%s: close: %v", backend, err)
		}

		stack, _ = testNode(t, &Config{DataDir: dir, StoreBackend: backend})
		reg, _, err := stack.OpenAccounts()
		if err != nil {
			t.Fatalf("%s: reopen: %v", backend, err)
		}
		if reg.Get(a.Address) == nil || reg.Active() == nil || reg.Active().Address != a.Address {
			t.Fatalf("%s: account not persisted", backend)
		}
		stack.Close()
	}

	stack, _ := testNode(t, &Config{DataDir: t.TempDir(), StoreBackend: "memory"})
	createAccount(t, stack)
	stack.Close()
	reg, _, err := stack.OpenAccounts()
	if err != nil {
		t.Fatal(err)
	}
	defer stack.Close()
	if len(reg.List()) != 0 {
		t.Fatal("memory store persisted accounts")
	}
}

func TestStartStop(t *testing.T) {
	stack, backend := testNode(t, &Config{
		StoreBackend: "memory",
		HTTPHost:     "127.0.0.1",
		App:          "#!/app-link/example.org/app/",
	})
	backend.SetBlock(42)
	if err := stack.Stop(); err != ErrNodeStopped {
		t.Fatalf("stop before start: %v", err)
	}
	if err := stack.Start(); err != nil {
		t.Fatal(err)
	}
	if err := stack.Start(); err != ErrNodeRunning {
		t.Fatalf("double start: %v", err)
	}
	if err := stack.Close(); err != ErrNodeRunning {
		t.Fatalf("close while running: %v", err)
	}

	info := stack.Sessions().Current()
	if info.ID != 1 || info.URL != "https://example.org/app/" {
		t.Fatalf("configured application not loaded: %+v", info)
	}

	resp, err := http.Get("http://" + stack.HTTPEndpoint() + "/status")
	if err != nil {
		t.Fatal(err)
	}
	var st Status
	err = json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if st.Network != "homestead" || st.ChainID != 1 || st.BlockNumber != 42 || st.Session.ID != 1 {
		t.Fatalf("status: %+v", st)
	}

	resp, err = http.Get("http://" + stack.HTTPEndpoint() + "/bridge/unknown")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown bridge session: %s", resp.Status)
	}

	waited := make(chan struct{})
	go func() {
		stack.Wait()
		close(waited)
	}()
	if err := stack.Stop(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Stop")
	}
	if stack.Sessions() != nil {
		t.Fatal("session controller survived stop")
	}
}
