// Package node assembles the shell: it owns the data directory, the store,
// the keystore adapter, the provider and every component serving the loaded
// application, and exposes them over a local HTTP endpoint.
package node

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Aurorachain/dappshell/accounts"
	"github.com/Aurorachain/dappshell/accounts/keystore"
	"github.com/Aurorachain/dappshell/bridge"
	"github.com/Aurorachain/dappshell/log"
	"github.com/Aurorachain/dappshell/metrics"
	"github.com/Aurorachain/dappshell/params"
	"github.com/Aurorachain/dappshell/provider"
	"github.com/Aurorachain/dappshell/provider/ethrpc"
	"github.com/Aurorachain/dappshell/sandbox"
	"github.com/Aurorachain/dappshell/sandbox/jsvm"
	"github.com/Aurorachain/dappshell/sandbox/wsapp"
	"github.com/Aurorachain/dappshell/session"
	"github.com/Aurorachain/dappshell/storedb"
	"github.com/Aurorachain/dappshell/storedb/leveldb"
	"github.com/Aurorachain/dappshell/storedb/memorydb"
	"github.com/Aurorachain/dappshell/storedb/sqlitedb"
	"github.com/Aurorachain/dappshell/txpipe"
	"github.com/Aurorachain/dappshell/ui"
	"github.com/prometheus/prometheus/util/flock"
)

const (
	dialTimeout  = 10 * time.Second
	fetchTimeout = 30 * time.Second
)

// Provider is a provider the node starts and stops.
type Provider interface {
	provider.Provider
	Start()
	Stop() error
}

// Node is the running shell.
type Node struct {
	config    *Config
	network   params.Network
	presenter txpipe.Confirmer

	// dial connects the chain backend. Replaced in tests.
	dial func(ctx context.Context, conf *Config) (Provider, error)

	instanceDirLock flock.Releaser
	db              storedb.Database
	keystore        *keystore.KeyStore
	registry        *accounts.Registry

	provider Provider
	slot     *ui.Slot
	pipeline *txpipe.Pipeline
	bridge   *bridge.Handler
	pages    *wsapp.Launcher
	sessions *session.Controller

	httpEndpoint string
	httpListener net.Listener
	httpServer   *http.Server

	running bool
	stop    chan struct{}
	lock    sync.RWMutex

	log log.Logger
}

// New creates a node. Nothing is opened until Start or OpenAccounts.
// presenter answers the prompts of transaction flows and shows application
// notifications.
func New(conf *Config, presenter txpipe.Confirmer) (*Node, error) {
	confCopy := *conf
	conf = &confCopy
	if conf.DataDir != "" {
		absdatadir, err := filepath.Abs(conf.DataDir)
		if err != nil {
			return nil, err
		}
		conf.DataDir = absdatadir
	}
	if strings.ContainsAny(conf.Name, `/\`) {
		return nil, errors.New(`Config.Name must not contain '/' or '\'`)
	}
	switch conf.StoreBackend {
	case "", "leveldb", "sqlite", "memory":
	default:
		return nil, errors.New("unknown store backend " + conf.StoreBackend)
	}
	network, err := conf.NetworkParams()
	if err != nil {
		return nil, err
	}
	return &Node{
		config:       conf,
		network:      network,
		presenter:    presenter,
		dial:         dialProvider,
		httpEndpoint: conf.HTTPEndpoint(),
		log:          log.New("network", network.Name),
	}, nil
}

func dialProvider(ctx context.Context, conf *Config) (Provider, error) {
	client, err := ethrpc.Dial(ctx, conf.ProviderURL)
	if err != nil {
		return nil, err
	}
	return ethrpc.New(client, ethrpc.Config{
		PollInterval:   conf.pollInterval(),
		BlockCacheSize: conf.BlockCacheSize,
		FaucetURL:      conf.FaucetURL,
	}), nil
}

// OpenAccounts opens the account registry without a chain backend, for
// offline account management. Close releases it.
func (n *Node) OpenAccounts() (*accounts.Registry, *keystore.KeyStore, error) {
	n.lock.Lock()
	defer n.lock.Unlock()

	if n.running {
		return n.registry, n.keystore, nil
	}
	if n.registry != nil {
		return n.registry, n.keystore, nil
	}
	if err := n.openDataDir(); err != nil {
		return nil, nil, err
	}
	if err := n.openAccounts(nil); err != nil {
		n.closeStorage()
		return nil, nil, err
	}
	return n.registry, n.keystore, nil
}

// Close releases what OpenAccounts opened.
func (n *Node) Close() error {
	n.lock.Lock()
	defer n.lock.Unlock()

	if n.running {
		return ErrNodeRunning
	}
	return n.closeStorage()
}

// Start opens the data directory and the store, connects the chain backend
// and starts serving applications.
func (n *Node) Start() error {
	n.lock.Lock()
	defer n.lock.Unlock()

	if n.running {
		return ErrNodeRunning
	}
	if n.presenter == nil {
		return errors.New("node has no presenter")
	}
	if n.registry != nil {
		n.closeStorage()
	}
	if err := n.openDataDir(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	backend, err := n.dial(ctx, n.config)
	cancel()
	if err != nil {
		n.closeStorage()
		return err
	}
	backend.Start()
	if err := n.openAccounts(backend); err != nil {
		backend.Stop()
		n.closeStorage()
		return err
	}

	n.provider = backend
	n.slot = new(ui.Slot)
	n.pipeline = txpipe.New(backend, n.registry, n.presenter, n.slot)
	n.bridge = bridge.New(n.network, backend, n.registry, n.pipeline, n.presenter)
	n.pages = wsapp.NewLauncher()
	launcher := &sandbox.Mux{
		Script: jsvm.NewLauncher(jsvm.HTTPFetcher(&http.Client{Timeout: fetchTimeout})),
		Page:   n.pages,
	}
	n.sessions = session.NewController(launcher, n.bridge)

	if err := n.startHTTP(n.httpEndpoint, n.config.HTTPCors); err != nil {
		n.stopServices()
		n.closeStorage()
		return err
	}
	n.stop = make(chan struct{})
	n.running = true
	if n.config.Metrics {
		go metrics.CollectProcessMetrics(3*time.Second, n.stop)
	}
	n.log.Info("Shell started", "provider", n.config.ProviderURL, "chainid", n.network.ChainID)

	if n.config.App != "" {
		url, err := session.ResolveApp(n.config.App)
		if err == nil {
			_, err = n.sessions.Load(url)
		}
		if err != nil {
			n.log.Warn("Failed to load configured application", "app", n.config.App, "err", err)
		}
	}
	return nil
}

func (n *Node) openDataDir() error {
	if n.config.DataDir == "" {
		return nil
	}
	instdir := n.config.instanceDir()
	if err := os.MkdirAll(instdir, 0700); err != nil {
		return err
	}
	release, _, err := flock.New(filepath.Join(instdir, datadirLockFile))
	if err != nil {
		return convertFileLockError(err)
	}
	n.instanceDirLock = release
	return nil
}

// openAccounts must be called with n.lock held, after openDataDir.
func (n *Node) openAccounts(watcher accounts.Watcher) error {
	db, err := n.OpenDatabase(datadirStore)
	if err != nil {
		return err
	}
	ks := n.config.newKeystore(n.network)
	reg, err := accounts.NewRegistry(db, ks, watcher)
	if err != nil {
		db.Close()
		return err
	}
	n.db, n.keystore, n.registry = db, ks, reg
	return nil
}

// OpenDatabase opens the named store with the configured backend. Without a
// data directory the store lives in memory.
func (n *Node) OpenDatabase(name string) (storedb.Database, error) {
	if n.config.DataDir == "" || n.config.StoreBackend == "memory" {
		return memorydb.New(), nil
	}
	path := n.config.resolvePath(name)
	if n.config.StoreBackend == "sqlite" {
		db, err := sqlitedb.New(path + ".sqlite")
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	db, err := leveldb.New(path, 16, 16)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// stopServices must be called with n.lock held.
func (n *Node) stopServices() map[string]error {
	failures := make(map[string]error)
	if n.sessions != nil {
		n.sessions.Terminate()
		n.sessions = nil
	}
	if n.bridge != nil {
		n.bridge.Stop()
		n.bridge = nil
	}
	if n.slot != nil {
		n.slot.Purge()
		n.slot = nil
	}
	n.pipeline, n.pages = nil, nil
	if n.provider != nil {
		if err := n.provider.Stop(); err != nil {
			failures["provider"] = err
		}
		n.provider = nil
	}
	return failures
}

// closeStorage must be called with n.lock held.
func (n *Node) closeStorage() error {
	var err error
	if n.registry != nil {
		err = n.registry.Close()
		n.registry, n.keystore = nil, nil
	}
	if n.db != nil {
		if cerr := n.db.Close(); err == nil {
			err = cerr
		}
		n.db = nil
	}
	if n.instanceDirLock != nil {
		if rerr := n.instanceDirLock.Release(); rerr != nil {
			n.log.Error("Can't release datadir lock", "err", rerr)
		}
		n.instanceDirLock = nil
	}
	return err
}

// Stop tears down the loaded application and every component.
func (n *Node) Stop() error {
	n.lock.Lock()
	defer n.lock.Unlock()

	if !n.running {
		return ErrNodeStopped
	}
	n.stopHTTP()
	failure := &StopError{Components: n.stopServices()}
	if err := n.closeStorage(); err != nil {
		failure.Components["store"] = err
	}
	n.running = false
	close(n.stop)

	if len(failure.Components) > 0 {
		return failure
	}
	return nil
}

// Wait blocks until the node is stopped.
func (n *Node) Wait() {
	n.lock.RLock()
	if !n.running {
		n.lock.RUnlock()
		return
	}
	stop := n.stop
	n.lock.RUnlock()

	<-stop
}

func (n *Node) DataDir() string {
	return n.config.DataDir
}

func (n *Node) Network() params.Network {
	return n.network
}

func (n *Node) HTTPEndpoint() string {
	n.lock.RLock()
	defer n.lock.RUnlock()
	return n.httpEndpoint
}

// Registry returns the account registry of a running node.
func (n *Node) Registry() *accounts.Registry {
	n.lock.RLock()
	defer n.lock.RUnlock()
	return n.registry
}

// Keystore returns the keystore adapter of a running node.
func (n *Node) Keystore() *keystore.KeyStore {
	n.lock.RLock()
	defer n.lock.RUnlock()
	return n.keystore
}

// Sessions returns the session controller of a running node.
func (n *Node) Sessions() *session.Controller {
	n.lock.RLock()
	defer n.lock.RUnlock()
	return n.sessions
}

// Provider returns the chain backend of a running node.
func (n *Node) Provider() provider.Provider {
	n.lock.RLock()
	defer n.lock.RUnlock()
	if n.provider == nil {
		return nil
	}
	return n.provider
}
