// Package source provides the transaction producers: a PaySim-like
// simulator and a replayer for PaySim CSV logs stored locally or in S3.
package source

import (
	"sync"

	pgerrors "github.com/paygraph/paygraph/pkg/errors"
)

type state uint8

const (
	stateIdle state = iota
	stateRunning
	stateAborted
)

// lifecycle guards the run/abort transitions shared by all producers.
type lifecycle struct {
	mu    sync.Mutex
	name  string
	state state
}

func (l *lifecycle) start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case stateRunning:
		return pgerrors.New(pgerrors.CodeAlreadyRunning, "producer already running").
			WithContext("producer", l.name)
	case stateAborted:
		return pgerrors.AlreadyAborted(l.name)
	}
	l.state = stateRunning
	return nil
}

// abort moves to the aborted state. The second call fails.
func (l *lifecycle) abort() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == stateAborted {
		return pgerrors.AlreadyAborted(l.name)
	}
	l.state = stateAborted
	return nil
}

func (l *lifecycle) running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == stateRunning
}
