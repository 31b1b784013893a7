// Package wsapp runs page applications outside the host. The page is opened
// by a browser and talks to the host over a websocket at /bridge/:session.
package wsapp

import (
	"errors"
	"net/http"
	"sync"

	"github.com/Aurorachain/dappshell/log"
	"github.com/Aurorachain/dappshell/sandbox"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/net/websocket"
)

// PathPrefix is where application endpoints are served.
const PathPrefix = "/bridge/"

const queueSize = 256

var (
	errQueueFull = errors.New("application queue full")
	errConnected = errors.New("application already connected")
)

// Launcher creates websocket sandboxes and serves their endpoints.
type Launcher struct {
	mu   sync.Mutex
	apps map[string]*App
}

// NewLauncher creates an empty launcher.
func NewLauncher() *Launcher {
	return &Launcher{apps: make(map[string]*App)}
}

func (l *Launcher) Launch(url, origin string, inbox sandbox.Inbox) (sandbox.Context, error) {
	app := &App{
		id:       uuid.New().String(),
		url:      url,
		origin:   origin,
		inbox:    inbox,
		launcher: l,
		out:      make(chan []byte, queueSize),
		stop:     make(chan struct{}),
	}
	app.log = log.New("app", url, "endpoint", app.Endpoint())

	l.mu.Lock()
	l.apps[app.id] = app
	l.mu.Unlock()
	return app, nil
}

func (l *Launcher) lookup(id string) *App {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.apps[id]
}

func (l *Launcher) remove(app *App) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.apps[app.id] == app {
		delete(l.apps, app.id)
	}
}

// Serve handles GET /bridge/:session.
func (l *Launcher) Serve(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	app := l.lookup(ps.ByName("session"))
	if app == nil {
		http.NotFound(w, r)
		return
	}
	if !app.claim() {
		http.Error(w, errConnected.Error(), http.StatusConflict)
		return
	}
	srv := websocket.Server{
		Handshake: func(config *websocket.Config, r *http.Request) error {
			if r.Header.Get("Origin") == "" {
				return errors.New("missing origin")
			}
			return nil
		},
		Handler: app.serve,
	}
	srv.ServeHTTP(w, r)
	app.release()
}

// App is a page application and its single websocket connection.
type App struct {
	id       string
	url      string
	origin   string
	inbox    sandbox.Inbox
	launcher *Launcher
	log      log.Logger

	out  chan []byte
	stop chan struct{}

	mu        sync.Mutex
	started   bool
	connected bool
	closed    bool
}

// Endpoint returns the path the page connects to.
func (a *App) Endpoint() string {
	return PathPrefix + a.id
}

// Start makes the endpoint available.
func (a *App) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started || a.closed {
		return
	}
	a.started = true
	a.log.Info("Waiting for application to connect")
}

// Post queues msg for the page. Messages are held until the page connects.
func (a *App) Post(msg []byte) error {
	select {
	case <-a.stop:
		return sandbox.ErrClosed
	default:
	}
	select {
	case a.out <- msg:
		return nil
	default:
		return errQueueFull
	}
}

// Close drops the connection and retires the endpoint.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	close(a.stop)
	a.launcher.remove(a)
	return nil
}

func (a *App) claim() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started || a.closed || a.connected {
		return false
	}
	a.connected = true
	return true
}

func (a *App) release() {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
}

func (a *App) serve(conn *websocket.Conn) {
	defer conn.Close()
	origin := conn.Request().Header.Get("Origin")
	a.log.Debug("Application connected", "origin", origin)

	done := make(chan struct{})
	defer close(done)
	go a.writeLoop(conn, done)

	for {
		var msg []byte
		if err := websocket.Message.Receive(conn, &msg); err != nil {
			a.log.Debug("Application disconnected", "err", err)
			return
		}
		select {
		case <-a.stop:
			return
		default:
		}
		a.inbox(a, origin, msg)
	}
}

func (a *App) writeLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		select {
		case msg := <-a.out:
			if err := websocket.Message.Send(conn, string(msg)); err != nil {
				a.log.Debug("Failed to send to application", "err", err)
				conn.Close()
				return
			}
		case <-a.stop:
			conn.Close()
			return
		case <-done:
			return
		}
	}
}
