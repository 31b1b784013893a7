package node

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"

	"github.com/Aurorachain/dappshell/params"
)

const (
	DefaultHTTPHost = "localhost"
	DefaultHTTPPort = 8645
)

var DefaultConfig = Config{
	DataDir:        DefaultDataDir(),
	StoreBackend:   "leveldb",
	Network:        params.MainnetNetwork.Name,
	ProviderURL:    "http://localhost:8545",
	PollSeconds:    4,
	BlockCacheSize: 64,
	HTTPHost:       DefaultHTTPHost,
	HTTPPort:       DefaultHTTPPort,
	LogLevel:       "info",
}

func DefaultDataDir() string {
	home := homeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "DappShell")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "DappShell")
		} else {
			return filepath.Join(home, ".dappshell")
		}
	}
	return ""
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}
