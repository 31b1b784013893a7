// Package session owns which sandboxed application is loaded. Every load
// gets a new session id; the previous application and everything it
// started are torn down.
package session

import (
	"sync"

	"github.com/Aurorachain/dappshell/bridge"
	"github.com/Aurorachain/dappshell/log"
	"github.com/Aurorachain/dappshell/sandbox"
	"github.com/ethereum/go-ethereum/event"
)

// Handler is the bridge side of a session.
type Handler interface {
	Attach(info bridge.Info, app sandbox.Context)
	Detach()
	Info() bridge.Info
	HandleMessage(from sandbox.Context, origin string, data []byte)
	SubscribeSessions(ch chan<- bridge.Info) event.Subscription
}

// Controller loads and terminates applications.
type Controller struct {
	launcher sandbox.Launcher
	handler  Handler

	mu     sync.Mutex
	nextID uint64
	app    sandbox.Context
}

// NewController creates a controller that runs applications through
// launcher and serves them with handler.
func NewController(launcher sandbox.Launcher, handler Handler) *Controller {
	return &Controller{
		launcher: launcher,
		handler:  handler,
		nextID:   1,
	}
}

// Load replaces the current application with the one at url. It fails with
// ErrInvalidURL if url has no http(s) origin, in which case the current
// application keeps running.
func (c *Controller) Load(url string) (uint64, error) {
	origin, err := Origin(url)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.teardown()

	app, err := c.launcher.Launch(url, origin, c.handler.HandleMessage)
	if err != nil {
		log.Warn("Failed to launch application", "url", url, "err", err)
		return 0, err
	}
	c.app = app
	c.handler.Attach(bridge.Info{ID: id, Name: origin, Origin: origin, URL: url}, app)
	log.Info("Loading application", "session", id, "url", url)

	app.Start()
	return id, nil
}

// Terminate tears down the current application, if any.
func (c *Controller) Terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardown()
}

// teardown must be called with c.mu held.
func (c *Controller) teardown() {
	if c.app == nil {
		return
	}
	c.handler.Detach()
	if err := c.app.Close(); err != nil {
		log.Debug("Application close failed", "err", err)
	}
	c.app = nil
}

// Current returns the loaded session. The zero Info means none.
func (c *Controller) Current() bridge.Info {
	return c.handler.Info()
}

// Subscribe announces loaded, readied and terminated sessions. Termination
// is announced as the zero Info.
func (c *Controller) Subscribe(ch chan<- bridge.Info) event.Subscription {
	return c.handler.SubscribeSessions(ch)
}
