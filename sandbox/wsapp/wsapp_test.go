package wsapp

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Aurorachain/dappshell/sandbox"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/net/websocket"
)

type received struct {
	from   sandbox.Context
	origin string
	data   string
}

func newServer(t *testing.T) (*Launcher, *httptest.Server) {
	l := NewLauncher()
	router := httprouter.New()
	router.GET(PathPrefix+":session", l.Serve)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return l, srv
}

func dial(srv *httptest.Server, path, origin string) (*websocket.Conn, error) {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	return websocket.Dial(url, "", origin)
}

func TestRoundTrip(t *testing.T) {
	l, srv := newServer(t)
	msgs := make(chan received, 4)
	ctx, err := l.Launch("https://app.example.org/", "https://app.example.org", func(from sandbox.Context, origin string, data []byte) {
		msgs <- received{from, origin, string(data)}
	})
	if err != nil {
		t.Fatal(err)
	}
	app := ctx.(*App)

	if _, err := dial(srv, app.Endpoint(), "https://app.example.org"); err == nil {
		t.Fatal("connected before start")
	}
	if err := app.Post([]byte(`{"queued":true}`)); err != nil {
		t.Fatal(err)
	}
	app.Start()

	conn, err := dial(srv, app.Endpoint(), "https://app.example.org")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var msg string
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := websocket.Message.Receive(conn, &msg); err != nil || msg != `{"queued":true}` {
		t.Fatalf("queued message: %q %v", msg, err)
	}

	if _, err := dial(srv, app.Endpoint(), "https://app.example.org"); err == nil {
		t.Fatal("second connection accepted")
	}

	websocket.Message.Send(conn, `{"action":"ready"}`)
	select {
	case m := <-msgs:
		if m.from != app || m.origin != "https://app.example.org" || m.data != `{"action":"ready"}` {
			t.Fatalf("inbox got %+v", m)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered to host")
	}

	app.Close()
	if err := app.Post([]byte(`{}`)); err != sandbox.ErrClosed {
		t.Fatalf("post after close: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := websocket.Message.Receive(conn, &msg); err == nil {
		t.Fatal("connection survived close")
	}
	if l.lookup(app.id) != nil {
		t.Fatal("closed endpoint still registered")
	}
}

func TestReportedOrigin(t *testing.T) {
	l, srv := newServer(t)
	msgs := make(chan received, 1)
	ctx, _ := l.Launch("https://app.example.org/", "https://app.example.org", func(from sandbox.Context, origin string, data []byte) {
		msgs <- received{from, origin, string(data)}
	})
	ctx.Start()
	defer ctx.Close()

	conn, err := dial(srv, ctx.(*App).Endpoint(), "https://evil.example.org")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	websocket.Message.Send(conn, `{}`)
	select {
	case m := <-msgs:
		if m.origin != "https://evil.example.org" {
			t.Fatalf("origin: %q", m.origin)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestQueueBound(t *testing.T) {
	l := NewLauncher()
	ctx, _ := l.Launch("https://app.example.org/", "https://app.example.org", nil)
	for i := 0; i < queueSize; i++ {
		if err := ctx.Post([]byte(`{}`)); err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
	}
	if err := ctx.Post([]byte(`{}`)); err != errQueueFull {
		t.Fatalf("overflow: have %v, want %v", err, errQueueFull)
	}
}

func TestUnknownSession(t *testing.T) {
	_, srv := newServer(t)
	if _, err := dial(srv, PathPrefix+"nope", "https://app.example.org"); err == nil {
		t.Fatal("unknown session accepted")
	}
}
