// Package bridge mediates between the wallet and the sandboxed application
// of the current session: it validates inbound requests, dispatches them to
// the registry, the subscription manager, the transaction pipeline and the
// provider, and pushes block, account and event notifications.
package bridge

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Aurorachain/dappshell/accounts"
	"github.com/Aurorachain/dappshell/filters"
	"github.com/Aurorachain/dappshell/log"
	"github.com/Aurorachain/dappshell/metrics"
	"github.com/Aurorachain/dappshell/params"
	"github.com/Aurorachain/dappshell/provider"
	"github.com/Aurorachain/dappshell/sandbox"
	"github.com/Aurorachain/dappshell/txpipe"
	"github.com/Aurorachain/dappshell/ui"
	"github.com/ethereum/go-ethereum/event"
)

var (
	acceptedMeter = metrics.NewMeter("bridge/inbound/accepted")
	droppedMeter  = metrics.NewMeter("bridge/inbound/dropped")
	outboundMeter = metrics.NewMeter("bridge/outbound")
)

// Accounts is the part of the account registry the bridge reads.
type Accounts interface {
	Active() *accounts.Account
	SubscribeActiveChange(ch chan<- accounts.ActiveChangeEvent) event.Subscription
}

// Submitter runs transactions through confirmation and broadcast.
type Submitter interface {
	Submit(ctx context.Context, account *accounts.Account, tx *provider.Transaction, opts txpipe.Options) (*txpipe.Result, error)
}

// Notifier relays plain messages to the user.
type Notifier interface {
	Notify(title, message string)
}

// Info describes the session the bridge serves.
type Info struct {
	ID     uint64
	Name   string
	Origin string
	URL    string
	Ready  bool
}

// session is the per-application state. Its context is cancelled with
// ui.ErrPurged once the session is detached, which aborts every flow it
// started.
type session struct {
	info    Info
	app     sandbox.Context
	ctx     context.Context
	cancel  context.CancelCauseFunc
	filters *filters.Manager
	log     log.Logger

	// Guarded by Handler.mu.
	lastBlock   int64
	lastAccount *accounts.Account
}

// Handler is the bridge protocol handler. At most one session is attached at
// a time; replies and notifications for a detached session are dropped.
type Handler struct {
	network  params.Network
	provider provider.Provider
	accounts Accounts
	pipeline Submitter
	notifier Notifier

	mu      sync.Mutex
	current *session

	sessionFeed event.Feed
	scope       event.SubscriptionScope

	quit chan struct{}
	wg   sync.WaitGroup
}

// New creates a handler and starts pushing block and account notifications.
func New(network params.Network, backend provider.Provider, accts Accounts, pipeline Submitter, notifier Notifier) *Handler {
	h := &Handler{
		network:  network,
		provider: backend,
		accounts: accts,
		pipeline: pipeline,
		notifier: notifier,
		quit:     make(chan struct{}),
	}
	blocks := make(chan uint64, 16)
	changes := make(chan accounts.ActiveChangeEvent, 16)
	blockSub := backend.SubscribeNewBlock(blocks)
	changeSub := accts.SubscribeActiveChange(changes)

	h.wg.Add(1)
	go h.loop(blocks, blockSub, changes, changeSub)
	return h
}

// Stop detaches the current session and stops the notification loop.
func (h *Handler) Stop() {
	h.Detach()
	close(h.quit)
	h.wg.Wait()
	h.scope.Close()
}

func (h *Handler) loop(blocks chan uint64, blockSub event.Subscription, changes chan accounts.ActiveChangeEvent, changeSub event.Subscription) {
	defer h.wg.Done()
	defer blockSub.Unsubscribe()
	defer changeSub.Unsubscribe()

	for {
		select {
		case n := <-blocks:
			h.pushBlock(n)
		case ev := <-changes:
			h.pushAccount(ev.New)
		case <-blockSub.Err():
			return
		case <-changeSub.Err():
			return
		case <-h.quit:
			return
		}
	}
}

// Attach makes app the execution context of a new session, detaching the
// previous one. Dedup state starts over.
func (h *Handler) Attach(info Info, app sandbox.Context) {
	info.Ready = false
	ctx, cancel := context.WithCancelCause(context.Background())
	logger := log.New("session", info.ID)
	s := &session{
		info:      info,
		app:       app,
		ctx:       ctx,
		cancel:    cancel,
		filters:   filters.NewManager(h.provider, logger),
		log:       logger,
		lastBlock: -1,
	}
	h.mu.Lock()
	prev := h.current
	h.current = s
	h.mu.Unlock()

	if prev != nil {
		prev.teardown()
	}
	s.log.Debug("Session attached", "origin", info.Origin, "url", info.URL)
	h.sessionFeed.Send(info)
}

// Detach ends the current session, if any.
func (h *Handler) Detach() {
	h.mu.Lock()
	prev := h.current
	h.current = nil
	h.mu.Unlock()

	if prev != nil {
		prev.teardown()
		prev.log.Debug("Session detached")
		h.sessionFeed.Send(Info{})
	}
}

func (s *session) teardown() {
	s.cancel(ui.ErrPurged)
	s.filters.UnsubscribeAll()
}

// Info returns the attached session. The zero Info means none.
func (h *Handler) Info() Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil {
		return Info{}
	}
	return h.current.info
}

// SubscribeSessions announces attached, readied and detached sessions. A
// detach is announced as the zero Info. Announcements are sent while the
// caller of Attach or Detach waits, so the sink must be drained and must not
// call back into whoever attaches sessions.
func (h *Handler) SubscribeSessions(ch chan<- Info) event.Subscription {
	return h.scope.Track(h.sessionFeed.Subscribe(ch))
}

// live reports whether s is still the attached session. Must be called with
// h.mu held.
func (h *Handler) live(s *session) bool {
	return h.current == s
}

// post delivers msg to s unless s was detached in the meantime. A message
// racing a detach ends up at the closed context of s, never at its
// successor.
func (h *Handler) post(s *session, msg []byte) {
	h.mu.Lock()
	live := h.live(s)
	h.mu.Unlock()
	if !live {
		s.log.Trace("Dropping message for stale session")
		return
	}
	if err := s.app.Post(msg); err != nil {
		s.log.Debug("Failed to post to application", "err", err)
		return
	}
	outboundMeter.Mark(1)
}

func (h *Handler) reply(s *session, id json.RawMessage, result interface{}) {
	msg, err := encodeResult(id, result)
	if err != nil {
		s.log.Warn("Failed to encode reply", "err", err)
		msg = encodeError(id, ErrUnknown)
	}
	h.post(s, msg)
}

// fail replies with the wire form of err. Internal detail stays in the log.
func (h *Handler) fail(s *session, id json.RawMessage, action Action, err error) {
	reason := wireError(err)
	if reason == ErrUnknown {
		s.log.Debug("Request failed", "action", action, "err", err)
	}
	h.post(s, encodeError(id, reason))
}

func (h *Handler) notify(s *session, action string, payload map[string]interface{}) {
	msg, err := encodeNotification(action, payload)
	if err != nil {
		s.log.Warn("Failed to encode notification", "action", action, "err", err)
		return
	}
	h.post(s, msg)
}

func (h *Handler) pushBlock(n uint64) {
	h.mu.Lock()
	s := h.current
	if s == nil || !s.info.Ready || s.lastBlock == int64(n) {
		h.mu.Unlock()
		return
	}
	s.lastBlock = int64(n)
	h.mu.Unlock()

	h.notify(s, notifyBlock, map[string]interface{}{"blockNumber": n})
}

func (h *Handler) pushAccount(a *accounts.Account) {
	h.mu.Lock()
	s := h.current
	if s == nil || !s.info.Ready || s.lastAccount == a {
		h.mu.Unlock()
		return
	}
	s.lastAccount = a
	h.mu.Unlock()

	var addr interface{}
	if a != nil {
		addr = a.Address.Hex()
	}
	h.notify(s, notifyAccountChanged, map[string]interface{}{"account": addr})
}

// HandleMessage is the sandbox inbox. Messages not sent by the attached
// session's context, not carrying the protocol tag, or not coming from the
// session's origin are dropped without a reply.
func (h *Handler) HandleMessage(from sandbox.Context, origin string, data []byte) {
	h.mu.Lock()
	s := h.current
	h.mu.Unlock()

	if s == nil || s.app != from {
		droppedMeter.Mark(1)
		return
	}
	req, err := decodeRequest(data)
	if err != nil || req.Tag != params.ProtocolTag {
		droppedMeter.Mark(1)
		return
	}
	if origin != s.info.Origin {
		s.log.Debug("Dropping message from foreign origin", "origin", origin)
		droppedMeter.Mark(1)
		return
	}
	acceptedMeter.Mark(1)
	h.dispatch(s, req)
}
