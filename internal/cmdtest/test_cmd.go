// Package cmdtest drives a command re-executed from the test binary: it feeds
// stdin line by line and matches stdout against templates or regular
// expressions.
package cmdtest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"text/template"
	"time"

	"github.com/docker/docker/pkg/reexec"
)

// DefaultKillTimeout bounds every wait on the child's output.
const DefaultKillTimeout = 10 * time.Second

// TestCmd is a running child command.
type TestCmd struct {
	// For total convenience, all testing methods are available.
	*testing.T

	Func        template.FuncMap
	Data        interface{}
	Cleanup     func()
	KillTimeout time.Duration

	cmd    *exec.Cmd
	stdout *bufio.Reader
	stdin  io.WriteCloser
	stderr *stderrLog
	err    error
}

// NewTestCmd creates a command wrapper. data is handed to every Expect
// template.
func NewTestCmd(t *testing.T, data interface{}) *TestCmd {
	return &TestCmd{T: t, Data: data, KillTimeout: DefaultKillTimeout}
}

// Run starts the command registered with reexec under name.
func (tt *TestCmd) Run(name string, args ...string) {
	tt.stderr = &stderrLog{t: tt.T}
	tt.cmd = &exec.Cmd{
		Path:   reexec.Self(),
		Args:   append([]string{name}, args...),
		Stderr: tt.stderr,
	}
	stdout, err := tt.cmd.StdoutPipe()
	if err != nil {
		tt.Fatal(err)
	}
	tt.stdout = bufio.NewReader(stdout)
	if tt.stdin, err = tt.cmd.StdinPipe(); err != nil {
		tt.Fatal(err)
	}
	if err := tt.cmd.Start(); err != nil {
		tt.Fatal(err)
	}
}

// InputLine writes s followed by a newline to stdin. It returns the empty
// string so it can be called from Expect templates.
func (tt *TestCmd) InputLine(s string) string {
	io.WriteString(tt.stdin, s+"\n")
	return ""
}

// SetTemplateFunc makes fn callable from Expect templates.
func (tt *TestCmd) SetTemplateFunc(name string, fn interface{}) {
	if tt.Func == nil {
		tt.Func = make(map[string]interface{})
	}
	tt.Func[name] = fn
}

// Expect runs its argument as a template, then expects the child process to
// output the result of the template within the kill timeout. A single leading
// newline of the template is ignored.
func (tt *TestCmd) Expect(tplsource string) {
	tpl := template.Must(template.New("").Funcs(tt.Func).Parse(tplsource))
	wantbuf := new(bytes.Buffer)
	if err := tpl.Execute(wantbuf, tt.Data); err != nil {
		panic(err)
	}
	want := bytes.TrimPrefix(wantbuf.Bytes(), []byte("\n"))
	if err := tt.matchExactOutput(want); err != nil {
		tt.Fatal(err)
	}
	tt.Logf("Matched stdout text:\n%s", want)
}

func (tt *TestCmd) matchExactOutput(want []byte) error {
	buf := make([]byte, len(want))
	n := 0
	tt.withKillTimeout(func() { n, _ = io.ReadFull(tt.stdout, buf) })
	buf = buf[:n]
	if n == len(want) && bytes.Equal(buf, want) {
		return nil
	}
	// Grab any additional buffered output in case of mismatch because it
	// might help with debugging.
	extra := make([]byte, tt.stdout.Buffered())
	tt.stdout.Read(extra)
	buf = append(buf, extra...)

	for i := 0; i < n; i++ {
		if want[i] != buf[i] {
			return fmt.Errorf("output mismatch at ◊:\n---------------- (stdout text)\n%s◊%s\n---------------- (expected text)\n%s",
				buf[:i], buf[i:], want)
		}
	}
	return fmt.Errorf("not enough output, got until ◊:\n---------------- (stdout text)\n%s\n---------------- (expected text)\n%s◊%s",
		buf, want[:n], want[n:])
}

// ExpectRegexp expects the child process to output text matching the given
// regular expression within the kill timeout. It returns the submatches.
//
// Note that an arbitrary amount of output may be consumed by the regular
// expression. This usually means that expect cannot be used after
// ExpectRegexp.
func (tt *TestCmd) ExpectRegexp(regex string) []string {
	regex = strings.TrimPrefix(regex, "\n")
	var (
		re      = regexp.MustCompile(regex)
		rtee    = &runeTee{in: tt.stdout}
		matches []int
	)
	tt.withKillTimeout(func() { matches = re.FindReaderSubmatchIndex(rtee) })
	output := rtee.buf.Bytes()
	if matches == nil {
		tt.Fatalf("Output did not match:\n---------------- (stdout text)\n%s\n---------------- (regular expression)\n%s",
			output, regex)
		return nil
	}
	tt.Logf("Matched stdout text:\n%s", output)
	var submatches []string
	for i := 0; i < len(matches); i += 2 {
		if matches[i] < 0 {
			submatches = append(submatches, "")
			continue
		}
		submatches = append(submatches, string(output[matches[i]:matches[i+1]]))
	}
	return submatches
}

// ExpectExit expects the child process to exit within the kill timeout
// without printing any additional text on stdout.
func (tt *TestCmd) ExpectExit() {
	var output []byte
	tt.withKillTimeout(func() {
		output, _ = ioutil.ReadAll(tt.stdout)
	})
	tt.WaitExit()
	if tt.Cleanup != nil {
		tt.Cleanup()
	}
	if len(output) > 0 {
		tt.Errorf("Unmatched stdout text:\n%s", output)
	}
}

// ExpectFailure expects the child process to exit with a non-zero status and
// returns what it wrote to stdout.
func (tt *TestCmd) ExpectFailure() string {
	var output []byte
	tt.withKillTimeout(func() {
		output, _ = ioutil.ReadAll(tt.stdout)
	})
	tt.WaitExit()
	if tt.Cleanup != nil {
		tt.Cleanup()
	}
	if tt.ExitStatus() == 0 {
		tt.Errorf("command succeeded, output:\n%s", output)
	}
	return string(output)
}

// WaitExit waits for the child process to exit.
func (tt *TestCmd) WaitExit() {
	tt.err = tt.cmd.Wait()
}

// ExitStatus returns the exit code of a finished child, -1 if unknown.
func (tt *TestCmd) ExitStatus() int {
	if tt.cmd.ProcessState == nil {
		return -1
	}
	return tt.cmd.ProcessState.ExitCode()
}

func (tt *TestCmd) Interrupt() {
	tt.cmd.Process.Signal(os.Interrupt)
}

// StderrText returns any stderr output written so far.
func (tt *TestCmd) StderrText() string {
	tt.stderr.mu.Lock()
	defer tt.stderr.mu.Unlock()
	return tt.stderr.buf.String()
}

func (tt *TestCmd) CloseStdin() {
	tt.stdin.Close()
}

func (tt *TestCmd) Kill() {
	tt.cmd.Process.Kill()
	if tt.Cleanup != nil {
		tt.Cleanup()
	}
}

func (tt *TestCmd) withKillTimeout(fn func()) {
	timeout := time.AfterFunc(tt.KillTimeout, func() {
		tt.Log("killing the child process (timeout)")
		tt.Kill()
	})
	defer timeout.Stop()
	fn()
}

// stderrLog forwards the child's stderr to the test log and keeps a copy.
type stderrLog struct {
	t   *testing.T
	mu  sync.Mutex
	buf bytes.Buffer
}

func (sl *stderrLog) Write(b []byte) (int, error) {
	for _, line := range bytes.Split(b, []byte("\n")) {
		if len(line) > 0 {
			sl.t.Logf("(stderr) %s", line)
		}
	}
	sl.mu.Lock()
	sl.buf.Write(b)
	sl.mu.Unlock()
	return len(b), nil
}

// runeTee collects text read through it into buf.
type runeTee struct {
	in interface {
		io.Reader
		io.ByteReader
		io.RuneReader
	}
	buf bytes.Buffer
}

func (rtee *runeTee) Read(b []byte) (n int, err error) {
	n, err = rtee.in.Read(b)
	rtee.buf.Write(b[:n])
	return n, err
}

func (rtee *runeTee) ReadRune() (r rune, size int, err error) {
	r, size, err = rtee.in.ReadRune()
	if err == nil {
		rtee.buf.WriteRune(r)
	}
	return r, size, err
}

func (rtee *runeTee) ReadByte() (b byte, err error) {
	b, err = rtee.in.ReadByte()
	if err == nil {
		rtee.buf.WriteByte(b)
	}
	return b, err
}
