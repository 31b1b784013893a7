// Package console is the terminal presentation layer. It answers the
// confirmation and password prompts of transaction flows and runs a small
// command shell for loading applications and managing accounts.
package console

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/Aurorachain/dappshell/accounts"
	"github.com/Aurorachain/dappshell/bridge"
	"github.com/Aurorachain/dappshell/params"
	"github.com/Aurorachain/dappshell/session"
	"github.com/Aurorachain/dappshell/txpipe"
	"github.com/Aurorachain/dappshell/ui"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/peterh/liner"
)

var (
	onlyWhitespace = regexp.MustCompile(`^\s*$`)
	exit           = regexp.MustCompile(`^\s*exit\s*$`)
)

const HistoryFile = "history"

const DefaultPrompt = "dappshell> "

var (
	titleColor = color.New(color.FgCyan, color.Bold)
	labelColor = color.New(color.Faint)
	warnColor  = color.New(color.FgYellow)
)

// Host is the session controller the shell drives.
type Host interface {
	Load(url string) (uint64, error)
	Terminate()
	Current() bridge.Info
}

// Wallet is the account registry the shell manages.
type Wallet interface {
	List() []*accounts.Account
	Active() *accounts.Account
	SetActive(a *accounts.Account) error
	Lock(a *accounts.Account)
}

type Config struct {
	DataDir  string
	Prompt   string
	Prompter UserPrompter
	Printer  io.Writer
}

type answer struct {
	line string
	err  error
}

// request is one line the console waits for.
type request struct {
	prompt   string
	password bool
	shell    bool
	reply    chan answer
}

// Console serialises every terminal read through a single reader. Flow
// prompts take precedence over the shell prompt.
type Console struct {
	prompt   string
	prompter UserPrompter
	printer  io.Writer
	histPath string
	history  []string

	mu      sync.Mutex
	pending []*request
	shell   *request
	wake    chan struct{}
	quit    chan struct{}
	once    sync.Once
}

// New creates a console and starts its terminal reader.
func New(config Config) (*Console, error) {
	if config.Prompter == nil {
		config.Prompter = Stdin()
	}
	if config.Prompt == "" {
		config.Prompt = DefaultPrompt
	}
	if config.Printer == nil {
		config.Printer = colorable.NewColorableStdout()
	}
	c := &Console{
		prompt:   config.Prompt,
		prompter: config.Prompter,
		printer:  config.Printer,
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
	}
	if config.DataDir != "" {
		if err := os.MkdirAll(config.DataDir, 0700); err != nil {
			return nil, err
		}
		c.histPath = filepath.Join(config.DataDir, HistoryFile)
		if content, err := ioutil.ReadFile(c.histPath); err != nil {
			c.prompter.SetHistory(nil)
		} else {
			c.history = strings.Split(string(content), "\n")
			c.prompter.SetHistory(c.history)
		}
	}
	c.prompter.SetWordCompleter(c.completeCommand)
	go c.readLoop()
	return c, nil
}

// Stop ends the terminal reader and saves the command history.
func (c *Console) Stop() error {
	c.once.Do(func() { close(c.quit) })
	if c.histPath == "" {
		return nil
	}
	if err := ioutil.WriteFile(c.histPath, []byte(strings.Join(c.history, "\n")), 0600); err != nil {
		return err
	}
	return os.Chmod(c.histPath, 0600)
}

func (c *Console) next() *request {
	for {
		c.mu.Lock()
		var req *request
		if len(c.pending) > 0 {
			req = c.pending[0]
		} else {
			req = c.shell
		}
		c.mu.Unlock()
		if req != nil {
			return req
		}
		select {
		case <-c.wake:
		case <-c.quit:
			return nil
		}
	}
}

func (c *Console) readLoop() {
	for {
		req := c.next()
		if req == nil {
			return
		}
		var (
			line string
			err  error
		)
		if req.password {
			line, err = c.prompter.PromptPassword(req.prompt)
		} else {
			line, err = c.prompter.PromptInput(req.prompt)
		}
		c.mu.Lock()
		if req.shell && len(c.pending) > 0 {
			// A flow prompt arrived while reading a command; the line
			// answered neither.
			c.mu.Unlock()
			continue
		}
		c.withdraw(req)
		c.mu.Unlock()
		req.reply <- answer{line, err}
	}
}

// withdraw must be called with c.mu held.
func (c *Console) withdraw(req *request) {
	if c.shell == req {
		c.shell = nil
		return
	}
	for i, p := range c.pending {
		if p == req {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

func (c *Console) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// ask waits for the user to answer prompt. Once ctx ends the prompt is
// withdrawn and ctx's cause returned.
func (c *Console) ask(ctx context.Context, prompt string, password bool) (string, error) {
	req := &request{prompt: prompt, password: password, reply: make(chan answer, 1)}
	c.mu.Lock()
	reading := c.shell != nil
	c.pending = append(c.pending, req)
	c.mu.Unlock()
	c.signal()
	if reading {
		warnColor.Fprintln(c.printer, "\nPress enter to respond.")
	}

	select {
	case a := <-req.reply:
		return a.line, a.err
	case <-ctx.Done():
		c.mu.Lock()
		c.withdraw(req)
		c.mu.Unlock()
		warnColor.Fprintln(c.printer, "\nRequest withdrawn.")
		return "", context.Cause(ctx)
	case <-c.quit:
		return "", ui.ErrCancelled
	}
}

// readCommand waits for a shell line.
func (c *Console) readCommand() (string, error) {
	req := &request{prompt: c.prompt, shell: true, reply: make(chan answer, 1)}
	c.mu.Lock()
	c.shell = req
	c.mu.Unlock()
	c.signal()

	select {
	case a := <-req.reply:
		return a.line, a.err
	case <-c.quit:
		return "", io.EOF
	}
}

// Confirm shows req and asks for its button.
func (c *Console) Confirm(ctx context.Context, req *txpipe.Request) error {
	fmt.Fprintln(c.printer)
	titleColor.Fprintln(c.printer, req.Title)
	c.field("From", req.Account.String())
	switch {
	case req.Tx.To != nil:
		c.field("To", req.Tx.To.Hex())
	default:
		c.field("To", "(new contract)")
	}
	if req.Tx.Value != nil {
		c.field("Value", params.FormatEther(req.Tx.Value)+" ether")
	}
	if len(req.Tx.Data) > 0 {
		c.field("Data", fmt.Sprintf("%d bytes", len(req.Tx.Data)))
	}
	if req.Tx.GasLimit != nil {
		c.field("Gas limit", fmt.Sprint(*req.Tx.GasLimit))
	}
	if req.Estimate != nil {
		select {
		case <-req.Estimate.Done():
			if est, err := req.Estimate.Result(); err == nil {
				gwei := new(big.Int).Div(est.GasPrice, big.NewInt(params.GWei))
				c.field("Gas price", gwei.String()+" gwei")
				c.field("Nonce", fmt.Sprint(est.Nonce))
			} else {
				c.field("Estimate", "unavailable")
			}
		default:
			c.field("Estimate", "pending")
		}
	}

	line, err := c.ask(ctx, req.Button+" [y/N] ", false)
	if err != nil {
		return promptError(err)
	}
	if len(line) > 0 && strings.ToUpper(line[:1]) == "Y" {
		return nil
	}
	return ui.ErrCancelled
}

// Password asks for the password of a.
func (c *Console) Password(ctx context.Context, a *accounts.Account) (string, error) {
	line, err := c.ask(ctx, fmt.Sprintf("Password for %s: ", a), true)
	if err != nil {
		return "", promptError(err)
	}
	return line, nil
}

// Progress returns a reporter printing percentages under title.
func (c *Console) Progress(title string) accounts.ProgressFunc {
	var mu sync.Mutex
	last := -1
	return func(progress float64) {
		mu.Lock()
		defer mu.Unlock()
		pct := int(progress * 100)
		if pct == last {
			return
		}
		last = pct
		fmt.Fprintf(c.printer, "\r%s... %3d%%", title, pct)
		if pct >= 100 {
			fmt.Fprintln(c.printer)
		}
	}
}

// Notify prints a message from an application or a flow.
func (c *Console) Notify(title, message string) {
	fmt.Fprintln(c.printer)
	titleColor.Fprintln(c.printer, title)
	fmt.Fprintln(c.printer, message)
}

func (c *Console) field(label, value string) {
	labelColor.Fprintf(c.printer, "  %-10s ", label)
	fmt.Fprintln(c.printer, value)
}

// promptError maps terminal failures to a declined prompt. Context causes
// pass through.
func promptError(err error) error {
	if err == liner.ErrPromptAborted || err == io.EOF {
		return ui.ErrCancelled
	}
	return err
}

var commands = []string{"accounts", "close", "exit", "help", "link", "load", "lock", "status", "use"}

func (c *Console) completeCommand(line string, pos int) (string, []string, string) {
	if strings.Contains(line[:pos], " ") {
		return line[:pos], nil, line[pos:]
	}
	var out []string
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, line[:pos]) {
			out = append(out, cmd+" ")
		}
	}
	return "", out, line[pos:]
}

// Interactive runs the command shell until exit, end of input or an
// interrupt.
func (c *Console) Interactive(host Host, wallet Wallet) {
	var (
		lines = make(chan answer, 1)
		next  = make(chan struct{})
	)
	go func() {
		defer close(lines)
		for range next {
			line, err := c.readCommand()
			lines <- answer{line, err}
		}
	}()
	defer close(next)

	abort := make(chan os.Signal, 1)
	signal.Notify(abort, os.Interrupt)
	defer signal.Stop(abort)

	for {
		next <- struct{}{}
		select {
		case <-abort:
			fmt.Fprintln(c.printer, "caught interrupt, exiting")
			return
		case a := <-lines:
			if a.err == liner.ErrPromptAborted {
				continue
			}
			if a.err != nil || exit.MatchString(a.line) {
				return
			}
			if onlyWhitespace.MatchString(a.line) {
				continue
			}
			command := strings.TrimSpace(a.line)
			if len(c.history) == 0 || command != c.history[len(c.history)-1] {
				c.history = append(c.history, command)
				c.prompter.AppendHistory(command)
			}
			if err := c.Execute(host, wallet, command); err != nil {
				warnColor.Fprintln(c.printer, "error:", err)
			}
		}
	}
}

// Execute runs a single shell command.
func (c *Console) Execute(host Host, wallet Wallet, command string) error {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil
	}
	args := fields[1:]
	switch fields[0] {
	case "help":
		fmt.Fprintln(c.printer, "commands: "+strings.Join(commands, " "))

	case "load":
		if len(args) != 1 {
			return fmt.Errorf("usage: load <url|app-link>")
		}
		url, err := session.ResolveApp(args[0])
		if err != nil {
			return err
		}
		id, err := host.Load(url)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.printer, "session %d: %s\n", id, url)

	case "close":
		host.Terminate()

	case "status":
		info := host.Current()
		if info.ID == 0 {
			fmt.Fprintln(c.printer, "no application loaded")
		} else {
			c.field("Session", fmt.Sprint(info.ID))
			c.field("Name", info.Name)
			c.field("URL", info.URL)
			c.field("Ready", fmt.Sprint(info.Ready))
		}
		if a := wallet.Active(); a != nil {
			c.field("Account", a.String())
		}

	case "link":
		info := host.Current()
		if info.ID == 0 {
			return fmt.Errorf("no application loaded")
		}
		fragment, err := session.EncodeFragment(info.URL)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.printer, fragment)

	case "accounts":
		active := wallet.Active()
		for _, a := range wallet.List() {
			marker := " "
			if a == active {
				marker = "*"
			}
			fmt.Fprintf(c.printer, "%s %s  %s ether\n", marker, a, params.FormatEther(a.Balance()))
		}

	case "use":
		if len(args) == 0 {
			return fmt.Errorf("usage: use <address|nickname>")
		}
		a := findAccount(wallet, strings.Join(args, " "))
		if a == nil {
			return accounts.ErrUnknownAccount
		}
		return wallet.SetActive(a)

	case "lock":
		if a := wallet.Active(); a != nil {
			wallet.Lock(a)
		}

	default:
		return fmt.Errorf("unknown command %q, try help", fields[0])
	}
	return nil
}

func findAccount(wallet Wallet, key string) *accounts.Account {
	for _, a := range wallet.List() {
		if common.IsHexAddress(key) && a.Address == common.HexToAddress(key) {
			return a
		}
		if a.Nickname() == key {
			return a
		}
	}
	return nil
}
