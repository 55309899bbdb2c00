// Package compute runs derived-value functions in the background. Every
// request carries the generation captured at submission; results are
// checked against the live generation before compute and again before
// delivery, so an edit that lands mid-computation silently wins. Dropping
// the stale result is the cancellation mechanism: there is no cancel
// call.
package compute

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/mesh-intelligence/trestle/internal/generation"
	"github.com/mesh-intelligence/trestle/pkg/types"
)

// Function computes one derived value from a row snapshot.
type Function func(types.Row) (any, error)

// Executor owns the computation queue and worker pool. Requests for
// visible rows are taken ahead of offscreen ones.
type Executor struct {
	tracker *generation.Tracker
	workers int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []types.ComputationRequest
	closed bool

	fnMu sync.RWMutex
	fns  map[string]Function

	results  chan types.ComputationResult
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewExecutor returns an Executor with the given worker count. Results
// are delivered on the channel returned by Results; the buffer absorbs
// bursts while the consumer catches up.
func NewExecutor(tracker *generation.Tracker, workers, resultBuffer int) *Executor {
	e := &Executor{
		tracker: tracker,
		workers: workers,
		fns:     make(map[string]Function),
		results: make(chan types.ComputationResult, resultBuffer),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Register makes fn available under name, replacing any previous
// registration.
func (e *Executor) Register(name string, fn Function) {
	e.fnMu.Lock()
	defer e.fnMu.Unlock()
	e.fns[name] = fn
}

// Results delivers completed, still-fresh computations. Closed by Stop
// once the workers have drained.
func (e *Executor) Results() <-chan types.ComputationResult {
	return e.results
}

// Submit queues a request. Visible rows jump ahead of offscreen ones.
// The function must be registered and the executor not stopped.
func (e *Executor) Submit(req types.ComputationRequest) error {
	e.fnMu.RLock()
	_, ok := e.fns[req.Function]
	e.fnMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrFunctionUnknown, req.Function)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return types.ErrDetached
	}
	if req.Visible {
		e.queue = append([]types.ComputationRequest{req}, e.queue...)
	} else {
		e.queue = append(e.queue, req)
	}
	e.cond.Signal()
	return nil
}

// QueueLen returns the number of queued requests.
func (e *Executor) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Clear drops every queued request, returning how many were dropped.
// In-flight computations finish and still pass the staleness gate.
func (e *Executor) Clear() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	dropped := len(e.queue)
	e.queue = nil
	return dropped
}

// Start launches the worker pool.
func (e *Executor) Start() {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.work()
	}
}

// Stop drops queued requests, waits for in-flight computations, and
// closes the results channel. Idempotent.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.queue = nil
		e.cond.Broadcast()
		e.mu.Unlock()

		e.wg.Wait()
		close(e.results)
	})
}

func (e *Executor) work() {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		req := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.process(req)
	}
}

// process runs one request through both staleness gates.
func (e *Executor) process(req types.ComputationRequest) {
	if current := e.tracker.Current(req.Key); current != req.Generation {
		slog.Info("discarding stale computation before compute",
			"path", req.Key.Path, "row", req.Key.Index, "function", req.Function,
			"captured", req.Generation, "current", current)
		return
	}

	e.fnMu.RLock()
	fn := e.fns[req.Function]
	e.fnMu.RUnlock()

	value, err := call(fn, req)

	// The row may have been edited while the function ran; a stale
	// result is dropped, never delivered.
	if current := e.tracker.Current(req.Key); current != req.Generation {
		slog.Info("discarding stale computation after compute",
			"path", req.Key.Path, "row", req.Key.Index, "function", req.Function,
			"captured", req.Generation, "current", current)
		return
	}

	e.results <- types.ComputationResult{
		Key:        req.Key,
		Function:   req.Function,
		Value:      value,
		Generation: req.Generation,
		Err:        err,
	}
}

// call invokes fn, converting a panic into an error result so one bad
// function cannot take down a worker.
func call(fn Function, req types.ComputationRequest) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("function %s panicked: %v", req.Function, r)
		}
	}()
	return fn(req.RowData)
}
