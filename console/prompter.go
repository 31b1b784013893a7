package console

import (
	"fmt"
	"strings"
	"sync"

	"github.com/peterh/liner"
)

var (
	stdin     *terminalPrompter
	stdinOnce sync.Once
)

// Stdin returns the prompter reading from the process terminal.
func Stdin() UserPrompter {
	stdinOnce.Do(func() { stdin = newTerminalPrompter() })
	return stdin
}

// CloseStdin restores the terminal if Stdin was used.
func CloseStdin() error {
	var err error
	stdinOnce.Do(func() {})
	if stdin != nil {
		err = stdin.Close()
	}
	return err
}

// UserPrompter reads lines and passwords from the user.
type UserPrompter interface {
	PromptInput(prompt string) (string, error)

	// PromptPassword reads a line without echoing it where the terminal
	// allows.
	PromptPassword(prompt string) (string, error)

	SetHistory(history []string)
	AppendHistory(command string)
	ClearHistory()
	SetWordCompleter(completer WordCompleter)
}

type WordCompleter func(line string, pos int) (string, []string, string)

type terminalPrompter struct {
	*liner.State
	warned     bool
	supported  bool
	normalMode liner.ModeApplier
	rawMode    liner.ModeApplier
}

func newTerminalPrompter() *terminalPrompter {
	p := new(terminalPrompter)

	normalMode, _ := liner.TerminalMode()

	p.State = liner.NewLiner()
	rawMode, err := liner.TerminalMode()
	if err != nil || !liner.TerminalSupported() {
		p.supported = false
	} else {
		p.supported = true
		p.normalMode = normalMode
		p.rawMode = rawMode
		normalMode.ApplyMode()
	}
	p.SetCtrlCAborts(true)
	p.SetTabCompletionStyle(liner.TabPrints)
	return p
}

func (p *terminalPrompter) PromptInput(prompt string) (string, error) {
	if p.supported {
		p.rawMode.ApplyMode()
		defer p.normalMode.ApplyMode()
	} else {
		fmt.Print(prompt)
		prompt = ""
		defer fmt.Println()
	}
	return p.State.Prompt(prompt)
}

func (p *terminalPrompter) PromptPassword(prompt string) (string, error) {
	if p.supported {
		p.rawMode.ApplyMode()
		defer p.normalMode.ApplyMode()
		return p.State.PasswordPrompt(prompt)
	}
	if !p.warned {
		fmt.Println("!! Unsupported terminal, password will be echoed.")
		p.warned = true
	}
	fmt.Print(prompt)
	passwd, err := p.State.Prompt("")
	fmt.Println()
	return passwd, err
}

func (p *terminalPrompter) SetHistory(history []string) {
	p.State.ReadHistory(strings.NewReader(strings.Join(history, "\n")))
}

func (p *terminalPrompter) AppendHistory(command string) {
	p.State.AppendHistory(command)
}

func (p *terminalPrompter) ClearHistory() {
	p.State.ClearHistory()
}

func (p *terminalPrompter) SetWordCompleter(completer WordCompleter) {
	p.State.SetWordCompleter(liner.WordCompleter(completer))
}
