package node

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Aurorachain/dappshell/accounts/keystore"
	"github.com/Aurorachain/dappshell/params"
)

const (
	datadirStore    = "store"
	datadirLockFile = "LOCK"
)

// Config is the shell's configuration. Field names are used verbatim as TOML
// keys.
type Config struct {
	// Name is the instance directory under DataDir.
	Name string `toml:"-"`

	// DataDir holds the store and the datadir lock. Without one the shell
	// keeps everything in memory.
	DataDir string

	// StoreBackend is one of leveldb, sqlite or memory.
	StoreBackend string `toml:",omitempty"`

	// Network is homestead or morden; ChainID overrides the network's
	// default id when non-zero.
	Network string
	ChainID uint64 `toml:",omitempty"`

	ProviderURL    string
	FaucetURL      string `toml:",omitempty"`
	PollSeconds    int    `toml:",omitempty"`
	BlockCacheSize int    `toml:",omitempty"`

	HTTPHost string   `toml:",omitempty"`
	HTTPPort int      `toml:",omitempty"`
	HTTPCors []string `toml:",omitempty"`

	// LightKDF encrypts new keystores with the light scrypt parameters.
	LightKDF bool `toml:",omitempty"`

	// App is loaded at start up. Either a URL or an app-link fragment.
	App string `toml:",omitempty"`

	LogLevel string `toml:",omitempty"`
	Metrics  bool   `toml:",omitempty"`
}

func (c *Config) HTTPEndpoint() string {
	if c.HTTPHost == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.HTTPHost, c.HTTPPort)
}

func DefaultHTTPEndpoint() string {
	config := &Config{HTTPHost: DefaultHTTPHost, HTTPPort: DefaultHTTPPort}
	return config.HTTPEndpoint()
}

// NetworkParams resolves the configured network.
func (c *Config) NetworkParams() (params.Network, error) {
	return params.LookupNetwork(c.Network, c.ChainID)
}

// KeystoreParams returns the scrypt parameters new keystores are written
// with.
func (c *Config) KeystoreParams() (int, int) {
	if c.LightKDF {
		return keystore.LightScryptN, keystore.LightScryptP
	}
	return keystore.StandardScryptN, keystore.StandardScryptP
}

func (c *Config) pollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

func (c *Config) name() string {
	if c.Name == "" {
		progname := strings.TrimSuffix(filepath.Base(os.Args[0]), ".exe")
		if progname == "" {
			panic("empty executable name, set Config.Name")
		}
		return progname
	}
	return c.Name
}

func (c *Config) resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if c.DataDir == "" {
		return ""
	}
	return filepath.Join(c.instanceDir(), path)
}

func (c *Config) instanceDir() string {
	if c.DataDir == "" {
		return ""
	}
	return filepath.Join(c.DataDir, c.name())
}

func (c *Config) newKeystore(network params.Network) *keystore.KeyStore {
	n, p := c.KeystoreParams()
	return keystore.New(n, p, new(big.Int).Set(network.ChainID))
}
