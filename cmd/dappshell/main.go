// dappshell is the command line interface of the application host shell.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/Aurorachain/dappshell/cmd/utils"
	"github.com/Aurorachain/dappshell/console"
	"github.com/Aurorachain/dappshell/log"
	"github.com/Aurorachain/dappshell/node"
	"github.com/Aurorachain/dappshell/params"
	"gopkg.in/urfave/cli.v1"
)

const (
	clientIdentifier = "dappshell"
)

var (
	// Git SHA1 commit hash of the release (set via linker flags)
	gitCommit = ""

	app = utils.NewApp(gitCommit, "the application host shell command line interface")

	nodeFlags = []cli.Flag{
		configFileFlag,
		utils.DataDirFlag,
		utils.StoreFlag,
		utils.NetworkFlag,
		utils.TestnetFlag,
		utils.ChainIDFlag,
		utils.ProviderFlag,
		utils.FaucetFlag,
		utils.PollFlag,
		utils.HTTPListenAddrFlag,
		utils.HTTPPortFlag,
		utils.HTTPCORSDomainFlag,
		utils.LightKDFFlag,
		utils.AppFlag,
		utils.LogLevelFlag,
		utils.MetricsEnabledFlag,
	}

	consoleFlags = []cli.Flag{
		utils.PasswordFileFlag,
		execFlag,
	}

	execFlag = cli.StringFlag{
		Name:  "exec",
		Usage: "Execute a shell command once the shell is started, then exit",
	}

	versionCommand = cli.Command{
		Action:    utils.MigrateFlags(version),
		Name:      "version",
		Usage:     "Print version numbers",
		ArgsUsage: " ",
		Category:  "MISCELLANEOUS COMMANDS",
		Description: `
The output of this command is supposed to be machine-readable.
`,
	}
)

func init() {
	// Initialize the CLI app and start the shell
	app.Action = dappshell
	app.HideVersion = true // we have a command to print the version
	app.Commands = []cli.Command{
		accountCommand,
		dumpConfigCommand,
		versionCommand,
	}
	sort.Sort(cli.CommandsByName(app.Commands))

	app.Flags = append(app.Flags, nodeFlags...)
	app.Flags = append(app.Flags, consoleFlags...)

	app.Before = func(ctx *cli.Context) error {
		runtime.GOMAXPROCS(runtime.NumCPU())
		log.SetLevel(ctx.GlobalString(utils.LogLevelFlag.Name))
		return nil
	}

	app.After = func(ctx *cli.Context) error {
		console.CloseStdin()
		log.Sync()
		return nil
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// dappshell is the main entry point into the system if no special subcommand
// is run. It starts the shell, runs the command prompt on the terminal and
// tears everything down once the user exits.
func dappshell(ctx *cli.Context) error {
	if args := ctx.Args(); len(args) > 0 {
		return fmt.Errorf("invalid command: %q", args[0])
	}
	cfg := makeConfig(ctx)

	var historyDir string
	if cfg.Node.DataDir != "" {
		historyDir = filepath.Join(cfg.Node.DataDir, clientIdentifier)
	}
	shell, err := console.New(console.Config{DataDir: historyDir})
	if err != nil {
		utils.Fatalf("Failed to start the terminal: %v", err)
	}
	defer shell.Stop()

	stack, err := node.New(&cfg.Node, shell)
	if err != nil {
		utils.Fatalf("Failed to create the shell: %v", err)
	}
	utils.StartNode(stack)
	defer stack.Stop()

	if cmd := ctx.GlobalString(execFlag.Name); cmd != "" {
		return shell.Execute(stack.Sessions(), stack.Registry(), cmd)
	}
	fmt.Printf("Welcome to the dappshell %s on %s!\n", params.Version, stack.Network())
	fmt.Println("Type 'help' for the list of commands.")
	fmt.Println()

	shell.Interactive(stack.Sessions(), stack.Registry())
	return nil
}

func version(ctx *cli.Context) error {
	fmt.Println(strings.Title(clientIdentifier))
	fmt.Println("Version:", params.Version)
	if gitCommit != "" {
		fmt.Println("Git Commit:", gitCommit)
	}
	fmt.Println("Architecture:", runtime.GOARCH)
	fmt.Println("Go Version:", runtime.Version())
	fmt.Println("Operating System:", runtime.GOOS)
	fmt.Printf("GOPATH=%s\n", os.Getenv("GOPATH"))
	fmt.Printf("GOROOT=%s\n", runtime.GOROOT())
	return nil
}
