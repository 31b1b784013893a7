// Package filters manages the log subscriptions a sandboxed application
// holds, keyed by the application's own event ids.
package filters

import (
	"errors"
	"sync"

	"github.com/Aurorachain/dappshell/log"
	"github.com/Aurorachain/dappshell/provider"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrInvalidEventID is returned for event ids that are not non-negative
// integers.
var ErrInvalidEventID = errors.New("invalid event id")

// Backend installs and removes provider level filters.
type Backend interface {
	RegisterFilter(q provider.FilterQuery, cb func(types.Log)) (provider.FilterID, error)
	UnregisterFilter(id provider.FilterID) error
}

// Callback receives the logs matched for an event id.
type Callback func(eventID int64, l types.Log)

// Manager maps event ids to provider filters. A Manager belongs to a single
// session; UnsubscribeAll is called when the session ends.
type Manager struct {
	backend Backend
	log     log.Logger

	mu      sync.Mutex
	filters map[int64]provider.FilterID
	closed  bool
}

// NewManager creates an empty manager on top of backend.
func NewManager(backend Backend, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.Root()
	}
	return &Manager{
		backend: backend,
		log:     logger,
		filters: make(map[int64]provider.FilterID),
	}
}

// Subscribe installs a filter for eventID, replacing any filter the id
// already had. Matches are delivered to cb tagged with eventID.
func (m *Manager) Subscribe(eventID int64, q provider.FilterQuery, cb Callback) error {
	if eventID < 0 {
		return ErrInvalidEventID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.unsubscribe(eventID)
	id, err := m.backend.RegisterFilter(q, func(l types.Log) { cb(eventID, l) })
	if err != nil {
		return err
	}
	m.filters[eventID] = id
	m.log.Debug("Installed event filter", "event", eventID, "filter", id)
	return nil
}

// Unsubscribe removes the filter of eventID. Unknown ids are ignored.
func (m *Manager) Unsubscribe(eventID int64) error {
	if eventID < 0 {
		return ErrInvalidEventID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unsubscribe(eventID)
	return nil
}

func (m *Manager) unsubscribe(eventID int64) {
	id, ok := m.filters[eventID]
	if !ok {
		return
	}
	delete(m.filters, eventID)
	if err := m.backend.UnregisterFilter(id); err != nil {
		m.log.Warn("Failed to remove event filter", "event", eventID, "filter", id, "err", err)
		return
	}
	m.log.Debug("Removed event filter", "event", eventID, "filter", id)
}

// UnsubscribeAll removes every filter and refuses further subscriptions.
func (m *Manager) UnsubscribeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for eventID := range m.filters {
		m.unsubscribe(eventID)
	}
	m.closed = true
}

// Len returns the number of live subscriptions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.filters)
}
