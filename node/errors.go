package node

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	ErrDatadirUsed = errors.New("datadir already used by another process")
	ErrNodeStopped = errors.New("node not started")
	ErrNodeRunning = errors.New("node already running")

	datadirInUseErrnos = map[uint]bool{11: true, 32: true, 35: true}
)

func convertFileLockError(err error) error {
	if errno, ok := err.(syscall.Errno); ok && datadirInUseErrnos[uint(errno)] {
		return ErrDatadirUsed
	}
	return err
}

// StopError collects the failures of the components torn down by Stop.
type StopError struct {
	Components map[string]error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("components: %v", e.Components)
}
