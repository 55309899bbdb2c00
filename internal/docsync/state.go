// Package docsync enforces the per-document save/load discipline: at most
// one operation in flight, explicit acknowledgement after failures, and
// debounced save scheduling.
package docsync

import (
	"fmt"
	"sync"

	"github.com/mesh-intelligence/trestle/pkg/types"
)

// StateMachine serializes saves and loads for one document. A second
// operation requested while one is outstanding fails fast with
// ErrInvalidStateTransition; nothing is queued. After a failure the
// machine stays in the error state until acknowledged or retried.
type StateMachine struct {
	mu     sync.Mutex
	state  types.SyncState
	reason error
}

// NewStateMachine returns a machine in the idle state.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: types.SyncIdle}
}

// State returns the current state.
func (m *StateMachine) State() types.SyncState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reason returns the failure that put the machine in the error state,
// nil otherwise.
func (m *StateMachine) Reason() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// BeginSave moves idle to saving. From the error state it is the retry
// transition. Any other start is rejected with no side effect.
func (m *StateMachine) BeginSave() error {
	return m.begin(types.SyncSaving)
}

// EndSave completes the in-flight save: back to idle on success, to the
// error state carrying err otherwise.
func (m *StateMachine) EndSave(err error) {
	m.end(types.SyncSaving, err)
}

// BeginLoad moves idle to loading, or retries out of the error state.
func (m *StateMachine) BeginLoad() error {
	return m.begin(types.SyncLoading)
}

// EndLoad completes the in-flight load.
func (m *StateMachine) EndLoad(err error) {
	m.end(types.SyncLoading, err)
}

// Acknowledge clears the error state back to idle without retrying.
func (m *StateMachine) Acknowledge() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != types.SyncError {
		return fmt.Errorf("%w: acknowledge from %s", types.ErrInvalidStateTransition, m.state)
	}
	m.state = types.SyncIdle
	m.reason = nil
	return nil
}

func (m *StateMachine) begin(next types.SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != types.SyncIdle && m.state != types.SyncError {
		return fmt.Errorf("%w: %s while %s", types.ErrInvalidStateTransition, next, m.state)
	}
	m.state = next
	m.reason = nil
	return nil
}

func (m *StateMachine) end(from types.SyncState, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return
	}
	if err != nil {
		m.state = types.SyncError
		m.reason = err
		return
	}
	m.state = types.SyncIdle
	m.reason = nil
}
