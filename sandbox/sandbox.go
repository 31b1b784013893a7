// Package sandbox defines the execution contexts untrusted applications run
// in and the launchers that create them.
package sandbox

import (
	"errors"
	"strings"
)

// ErrClosed is returned when posting to a context that was torn down.
var ErrClosed = errors.New("sandbox closed")

// Context is one running application. Post delivers a message to the
// application; messages posted before Start are held until it runs.
type Context interface {
	Start()
	Post(msg []byte) error
	Close() error
}

// Inbox receives the messages an application sends to the host, together
// with the origin the application runs under.
type Inbox func(from Context, origin string, data []byte)

// Launcher creates execution contexts. The returned context is not started.
type Launcher interface {
	Launch(url, origin string, inbox Inbox) (Context, error)
}

// Mux runs scripts in the Script launcher and everything else in the Page
// launcher.
type Mux struct {
	Script Launcher
	Page   Launcher
}

func (m *Mux) Launch(url, origin string, inbox Inbox) (Context, error) {
	path := url
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if strings.HasSuffix(path, ".js") && m.Script != nil {
		return m.Script.Launch(url, origin, inbox)
	}
	return m.Page.Launch(url, origin, inbox)
}
