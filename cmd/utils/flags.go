// Package utils contains internal helper functions for dappshell commands.
package utils

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aurorachain/dappshell/metrics"
	"github.com/Aurorachain/dappshell/node"
	"github.com/Aurorachain/dappshell/params"
	"gopkg.in/urfave/cli.v1"
)

// NewApp creates an app with sane defaults.
func NewApp(gitCommit, usage string) *cli.App {
	app := cli.NewApp()
	app.Name = filepath.Base(os.Args[0])
	app.Author = ""
	app.Email = ""
	app.Version = params.VersionWithCommit(gitCommit)
	app.Usage = usage
	return app
}

var (
	DataDirFlag = cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the account store and the datadir lock",
		Value: node.DefaultDataDir(),
	}
	StoreFlag = cli.StringFlag{
		Name:  "store",
		Usage: "Account store backend (leveldb, sqlite, memory)",
		Value: node.DefaultConfig.StoreBackend,
	}
	NetworkFlag = cli.StringFlag{
		Name:  "network",
		Usage: "Network the shell signs for (homestead, morden)",
		Value: node.DefaultConfig.Network,
	}
	TestnetFlag = cli.BoolFlag{
		Name:  "testnet",
		Usage: "Shorthand for --network " + params.TestnetNetwork.Name,
	}
	ChainIDFlag = cli.Uint64Flag{
		Name:  "chainid",
		Usage: "Override the chain id of the selected network",
	}
	ProviderFlag = cli.StringFlag{
		Name:  "provider",
		Usage: "JSON-RPC endpoint of the chain backend",
		Value: node.DefaultConfig.ProviderURL,
	}
	FaucetFlag = cli.StringFlag{
		Name:  "faucet",
		Usage: "Faucet URL used to fund test network accounts",
	}
	PollFlag = cli.IntFlag{
		Name:  "poll",
		Usage: "Seconds between chain polls",
		Value: node.DefaultConfig.PollSeconds,
	}
	HTTPListenAddrFlag = cli.StringFlag{
		Name:  "httpaddr",
		Usage: "Listening interface of the status and bridge endpoint (empty disables it)",
		Value: node.DefaultHTTPHost,
	}
	HTTPPortFlag = cli.IntFlag{
		Name:  "httpport",
		Usage: "Listening port of the status and bridge endpoint",
		Value: node.DefaultHTTPPort,
	}
	HTTPCORSDomainFlag = cli.StringFlag{
		Name:  "httpcorsdomain",
		Usage: "Comma separated list of domains from which to accept cross origin status requests",
	}
	LightKDFFlag = cli.BoolFlag{
		Name:  "lightkdf",
		Usage: "Reduce key-derivation RAM & CPU usage at some expense of KDF strength",
	}
	AppFlag = cli.StringFlag{
		Name:  "app",
		Usage: "Application URL or app-link fragment to load at start up",
	}
	LogLevelFlag = cli.StringFlag{
		Name:  "loglevel",
		Usage: "Logging verbosity: trace, debug, info, warn, error, crit",
		Value: node.DefaultConfig.LogLevel,
	}
	MetricsEnabledFlag = cli.BoolFlag{
		Name:  metrics.MetricsEnabledFlag,
		Usage: "Enable metrics collection and reporting on /debug/metrics",
	}
	PasswordFileFlag = cli.StringFlag{
		Name:  "password",
		Usage: "Password file to use for non-interactive password input",
	}
)

// SetNodeConfig applies node-related command line flags to the config.
func SetNodeConfig(ctx *cli.Context, cfg *node.Config) {
	if ctx.GlobalIsSet(DataDirFlag.Name) {
		cfg.DataDir = ctx.GlobalString(DataDirFlag.Name)
	}
	if ctx.GlobalIsSet(StoreFlag.Name) {
		cfg.StoreBackend = ctx.GlobalString(StoreFlag.Name)
	}
	switch {
	case ctx.GlobalIsSet(NetworkFlag.Name):
		cfg.Network = ctx.GlobalString(NetworkFlag.Name)
	case ctx.GlobalBool(TestnetFlag.Name):
		cfg.Network = params.TestnetNetwork.Name
	}
	if ctx.GlobalIsSet(ChainIDFlag.Name) {
		cfg.ChainID = ctx.GlobalUint64(ChainIDFlag.Name)
	}
	if ctx.GlobalIsSet(ProviderFlag.Name) {
		cfg.ProviderURL = ctx.GlobalString(ProviderFlag.Name)
	}
	if ctx.GlobalIsSet(FaucetFlag.Name) {
		cfg.FaucetURL = ctx.GlobalString(FaucetFlag.Name)
	}
	if ctx.GlobalIsSet(PollFlag.Name) {
		cfg.PollSeconds = ctx.GlobalInt(PollFlag.Name)
	}
	if ctx.GlobalIsSet(HTTPListenAddrFlag.Name) {
		cfg.HTTPHost = ctx.GlobalString(HTTPListenAddrFlag.Name)
	}
	if ctx.GlobalIsSet(HTTPPortFlag.Name) {
		cfg.HTTPPort = ctx.GlobalInt(HTTPPortFlag.Name)
	}
	if ctx.GlobalIsSet(HTTPCORSDomainFlag.Name) {
		cfg.HTTPCors = splitAndTrim(ctx.GlobalString(HTTPCORSDomainFlag.Name))
	}
	if ctx.GlobalIsSet(LightKDFFlag.Name) {
		cfg.LightKDF = ctx.GlobalBool(LightKDFFlag.Name)
	}
	if ctx.GlobalIsSet(AppFlag.Name) {
		cfg.App = ctx.GlobalString(AppFlag.Name)
	}
	if ctx.GlobalIsSet(LogLevelFlag.Name) {
		cfg.LogLevel = ctx.GlobalString(LogLevelFlag.Name)
	}
	if ctx.GlobalIsSet(MetricsEnabledFlag.Name) {
		cfg.Metrics = ctx.GlobalBool(MetricsEnabledFlag.Name)
	}
}

// MakePasswordList reads password lines from the file specified by the global
// --password flag.
func MakePasswordList(ctx *cli.Context) []string {
	path := ctx.GlobalString(PasswordFileFlag.Name)
	if path == "" {
		return nil
	}
	text, err := ioutil.ReadFile(path)
	if err != nil {
		Fatalf("Failed to read password file: %v", err)
	}
	lines := strings.Split(string(text), "\n")
	// Sanitise DOS line endings.
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], "\r")
	}
	return lines
}

func splitAndTrim(input string) []string {
	var result []string
	for _, r := range strings.Split(input, ",") {
		if r = strings.TrimSpace(r); r != "" {
			result = append(result, r)
		}
	}
	return result
}

// MigrateFlags sets the global flag from a local flag when it's set, so
// command-local flags feed the same configuration path as global ones.
//
// e.g. dappshell account new --datadir /tmp/shell --lightkdf
//
// is equivalent to
//
// dappshell --datadir /tmp/shell --lightkdf account new
func MigrateFlags(action func(ctx *cli.Context) error) func(*cli.Context) error {
	return func(ctx *cli.Context) error {
		for _, name := range ctx.FlagNames() {
			if ctx.IsSet(name) {
				ctx.GlobalSet(name, ctx.String(name))
			}
		}
		return action(ctx)
	}
}
