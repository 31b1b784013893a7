// Package jsvm runs script applications in an otto JavaScript VM. Each
// application gets its own VM driven by a single event loop goroutine that
// serves timers and host messages.
package jsvm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Aurorachain/dappshell/log"
	"github.com/Aurorachain/dappshell/sandbox"
	"github.com/robertkrimen/otto"
)

// HostOrigin is the origin host messages carry inside the VM.
const HostOrigin = "dappshell:"

const (
	inboxSize    = 1024
	fetchTimeout = 30 * time.Second
	maxScript    = 8 << 20
)

var (
	errInterrupted = errors.New("interrupted")
	errInboxFull   = errors.New("sandbox inbox full")
)

// Fetcher loads the source of a script application.
type Fetcher func(ctx context.Context, url string) ([]byte, error)

// HTTPFetcher fetches scripts with client.
func HTTPFetcher(client *http.Client) Fetcher {
	return func(ctx context.Context, url string) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetching %s: %s", url, resp.Status)
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxScript))
	}
}

// Launcher creates script sandboxes.
type Launcher struct {
	fetch Fetcher
}

// NewLauncher creates a launcher loading scripts through fetch.
func NewLauncher(fetch Fetcher) *Launcher {
	if fetch == nil {
		fetch = HTTPFetcher(http.DefaultClient)
	}
	return &Launcher{fetch: fetch}
}

func (l *Launcher) Launch(url, origin string, inbox sandbox.Inbox) (sandbox.Context, error) {
	return &VM{
		url:       url,
		origin:    origin,
		fetch:     l.fetch,
		inbox:     inbox,
		log:       log.New("app", url),
		posted:    make(chan []byte, inboxSize),
		interrupt: make(chan func(), 1),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}, nil
}

// VM is a running script application.
type VM struct {
	url    string
	origin string
	fetch  Fetcher
	inbox  sandbox.Inbox
	log    log.Logger

	posted    chan []byte
	interrupt chan func()
	stop      chan struct{}
	stopped   chan struct{}

	mu      sync.Mutex
	started bool
	closing bool
}

type jsTimer struct {
	timer    *time.Timer
	duration time.Duration
	interval bool
	call     otto.FunctionCall
}

// Start fetches the script and runs it.
func (v *VM) Start() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.started || v.closing {
		return
	}
	v.started = true
	go v.runEventLoop()
}

// Post queues msg for the application's onmessage handler.
func (v *VM) Post(msg []byte) error {
	select {
	case <-v.stop:
		return sandbox.ErrClosed
	default:
	}
	select {
	case v.posted <- msg:
		return nil
	default:
		return errInboxFull
	}
}

// Close interrupts running code and stops the event loop.
func (v *VM) Close() error {
	v.mu.Lock()
	if v.closing {
		v.mu.Unlock()
		return nil
	}
	v.closing = true
	started := v.started
	close(v.stop)
	v.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case v.interrupt <- func() { panic(errInterrupted) }:
	default:
	}
	<-v.stopped
	return nil
}

// Done is closed once the event loop has exited.
func (v *VM) Done() <-chan struct{} {
	return v.stopped
}

// call runs fn in the VM, turning an interrupt into an error.
func (v *VM) call(fn func() error) (err error) {
	defer func() {
		if caught := recover(); caught != nil {
			if caught == errInterrupted {
				err = errInterrupted
				return
			}
			panic(caught)
		}
	}()
	return fn()
}

func (v *VM) runEventLoop() {
	defer close(v.stopped)

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	go func() {
		select {
		case <-v.stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	source, err := v.fetch(ctx, v.url)
	cancel()
	if err != nil {
		v.log.Warn("Failed to fetch application", "err", err)
		return
	}

	vm := otto.New()
	vm.Interrupt = v.interrupt

	registry := map[*jsTimer]*jsTimer{}
	ready := make(chan *jsTimer)

	newTimer := func(call otto.FunctionCall, interval bool) (*jsTimer, otto.Value) {
		delay, _ := call.Argument(1).ToInteger()
		if 0 >= delay {
			delay = 1
		}
		timer := &jsTimer{
			duration: time.Duration(delay) * time.Millisecond,
			call:     call,
			interval: interval,
		}
		registry[timer] = timer

		timer.timer = time.AfterFunc(timer.duration, func() {
			select {
			case ready <- timer:
			case <-v.stopped:
			}
		})

		value, err := call.Otto.ToValue(timer)
		if err != nil {
			panic(err)
		}
		return timer, value
	}
	setTimeout := func(call otto.FunctionCall) otto.Value {
		_, value := newTimer(call, false)
		return value
	}
	setInterval := func(call otto.FunctionCall) otto.Value {
		_, value := newTimer(call, true)
		return value
	}
	clearTimeout := func(call otto.FunctionCall) otto.Value {
		timer, _ := call.Argument(0).Export()
		if timer, ok := timer.(*jsTimer); ok {
			timer.timer.Stop()
			delete(registry, timer)
		}
		return otto.UndefinedValue()
	}
	postMessage := func(call otto.FunctionCall) otto.Value {
		encoded, err := call.Otto.Call("JSON.stringify", nil, call.Argument(0))
		if err != nil {
			v.log.Debug("Unserialisable application message", "err", err)
			return otto.UndefinedValue()
		}
		v.inbox(v, v.origin, []byte(encoded.String()))
		return otto.UndefinedValue()
	}
	consoleLog := func(call otto.FunctionCall) otto.Value {
		args := make([]interface{}, 0, len(call.ArgumentList))
		for _, arg := range call.ArgumentList {
			args = append(args, arg.String())
		}
		v.log.Debug("Application console", "args", args)
		return otto.UndefinedValue()
	}

	err = v.call(func() error {
		vm.Set("_setTimeout", setTimeout)
		vm.Set("_setInterval", setInterval)
		vm.Set("clearTimeout", clearTimeout)
		vm.Set("clearInterval", clearTimeout)
		vm.Set("_postMessage", postMessage)
		vm.Set("_log", consoleLog)
		_, err := vm.Run(prelude)
		if err != nil {
			return err
		}
		script, err := vm.Compile(v.url, source)
		if err != nil {
			return err
		}
		_, err = vm.Run(script)
		return err
	})
	if err == errInterrupted {
		return
	}
	if err != nil {
		v.log.Warn("Application script failed", "err", err)
	}

	defer func() {
		for _, timer := range registry {
			timer.timer.Stop()
			delete(registry, timer)
		}
	}()
	for {
		select {
		case timer := <-ready:
			if _, ok := registry[timer]; !ok {
				continue
			}
			var arguments []interface{}
			if len(timer.call.ArgumentList) > 2 {
				tmp := timer.call.ArgumentList[2:]
				arguments = make([]interface{}, 2+len(tmp))
				for i, value := range tmp {
					arguments[i+2] = value
				}
			} else {
				arguments = make([]interface{}, 1)
			}
			arguments[0] = timer.call.ArgumentList[0]
			err := v.call(func() error {
				_, err := vm.Call(`Function.call.call`, nil, arguments...)
				return err
			})
			if err == errInterrupted {
				return
			}
			if err != nil {
				v.log.Debug("Application timer failed", "err", err)
			}
			if _, inreg := registry[timer]; timer.interval && inreg {
				timer.timer.Reset(timer.duration)
			} else {
				delete(registry, timer)
			}

		case msg := <-v.posted:
			err := v.call(func() error {
				_, err := vm.Call("_deliver", nil, string(msg), HostOrigin)
				return err
			})
			if err == errInterrupted {
				return
			}
			if err != nil {
				v.log.Debug("Application message handler failed", "err", err)
			}

		case <-v.stop:
			return
		}
	}
}

// prelude installs the browser-like globals applications rely on.
const prelude = `
var window = this, self = this;
var console = {log: function() { _log.apply(null, arguments); }};
console.error = console.warn = console.info = console.debug = console.log;
var setTimeout = function() {
	if (arguments.length < 1) {
		throw TypeError("Failed to execute 'setTimeout': 1 argument required, but only 0 present.");
	}
	return _setTimeout.apply(this, arguments);
};
var setInterval = function() {
	if (arguments.length < 1) {
		throw TypeError("Failed to execute 'setInterval': 1 argument required, but only 0 present.");
	}
	return _setInterval.apply(this, arguments);
};
var ethers = {postMessage: function(message) { _postMessage(message); }};
var onmessage = null;
var _deliver = function(data, origin) {
	if (typeof(onmessage) === 'function') {
		onmessage({data: JSON.parse(data), origin: origin});
	}
};
`
