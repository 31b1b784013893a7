package txpipe

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// senderLocks hands out one mutex per sending address so the nonce
// back-fill, signing and broadcast of two flows from the same account never
// interleave. Entries are dropped once nobody holds or waits for them.
type senderLocks struct {
	mu    sync.Mutex
	locks map[common.Address]*senderLock
}

type senderLock struct {
	sync.Mutex
	refs int
}

// acquire blocks until addr is free and returns the release function.
func (l *senderLocks) acquire(addr common.Address) (release func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[common.Address]*senderLock)
	}
	sl := l.locks[addr]
	if sl == nil {
		sl = new(senderLock)
		l.locks[addr] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.Lock()
	return func() {
		sl.Unlock()
		l.mu.Lock()
		if sl.refs--; sl.refs == 0 {
			delete(l.locks, addr)
		}
		l.mu.Unlock()
	}
}

// pending reports how many flows hold or wait for addr.
func (l *senderLocks) pending(addr common.Address) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sl := l.locks[addr]; sl != nil {
		return sl.refs
	}
	return 0
}
