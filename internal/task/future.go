// Package task provides futures: deferred computations over cty values with
// cooperative cancellation.
//
// A Future is settled at most once. Callbacks registered with Conclude are
// reference-counted: when the last one is cancelled while the future is still
// pending, the future's cancellation token fires and any late settlement is
// discarded.
//
//	Start(exec, fn) ──► goroutine runs fn(ctx)
//	                          │
//	                          ▼
//	                exec.Post(settle) ──► Conclude callbacks (engine goroutine)
package task

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/zclconf/go-cty/cty"
)

// ErrCancelled is reported by Settled for futures cancelled before settling.
var ErrCancelled = errors.New("task cancelled")

// State is the lifecycle state of a Future.
type State int

const (
	StatePending State = iota
	StateFulfilled
	StateRejected
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFulfilled:
		return "fulfilled"
	case StateRejected:
		return "rejected"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Settle completes a promise. Calls after the first are ignored.
type Settle func(v cty.Value, err error)

// Future is a single deferred result.
type Future struct {
	exec Executor

	mu       sync.Mutex
	state    State
	val      cty.Value
	err      error
	subs     map[uint64]func(cty.Value, error)
	nextID   uint64
	ctx      context.Context
	cancel   context.CancelFunc
	onCancel []func()
}

func newFuture(exec Executor) *Future {
	if exec == nil {
		exec = Inline{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Future{
		exec:   exec,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[uint64]func(cty.Value, error)),
	}
}

// NewPromise creates a pending future and the function settling it. The
// settlement is posted through exec.
func NewPromise(exec Executor) (*Future, Settle) {
	f := newFuture(exec)
	return f, func(v cty.Value, err error) {
		f.exec.Post(func() { f.settle(v, err) })
	}
}

// Start runs fn on a new goroutine. fn should observe ctx; it is cancelled
// when the future is.
func Start(exec Executor, fn func(ctx context.Context) (cty.Value, error)) *Future {
	f := newFuture(exec)
	go func() {
		v, err := fn(f.ctx)
		f.exec.Post(func() { f.settle(v, err) })
	}()
	return f
}

// Resolved returns a future already fulfilled with v.
func Resolved(v cty.Value) *Future {
	f := newFuture(nil)
	f.settle(v, nil)
	return f
}

// Rejected returns a future already rejected with err.
func Rejected(err error) *Future {
	f := newFuture(nil)
	f.settle(cty.NilVal, err)
	return f
}

// After fulfills with v once d has elapsed.
func After(exec Executor, d time.Duration, v cty.Value) *Future {
	f := newFuture(exec)
	timer := time.AfterFunc(d, func() {
		f.exec.Post(func() { f.settle(v, nil) })
	})
	f.addOnCancel(func() { timer.Stop() })
	return f
}

// State returns the current state.
func (f *Future) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// InProgress reports whether the future is still pending.
func (f *Future) InProgress() bool {
	return f.State() == StatePending
}

// Settled returns the outcome once the future is no longer pending.
func (f *Future) Settled() (cty.Value, error, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case StateFulfilled, StateRejected:
		return f.val, f.err, true
	case StateCancelled:
		return cty.NilVal, ErrCancelled, true
	}
	return cty.NilVal, nil, false
}

// Context is cancelled when the future is cancelled or settled.
func (f *Future) Context() context.Context {
	return f.ctx
}

// Conclude registers cb for the outcome. A settled future calls cb
// synchronously. The returned function unregisters cb; unregistering the last
// callback of a pending future cancels it. Cancelled futures never call cb.
func (f *Future) Conclude(cb func(cty.Value, error)) (cancel func()) {
	f.mu.Lock()
	switch f.state {
	case StateFulfilled, StateRejected:
		v, err := f.val, f.err
		f.mu.Unlock()
		cb(v, err)
		return func() {}
	case StateCancelled:
		f.mu.Unlock()
		return func() {}
	}

	id := f.nextID
	f.nextID++
	f.subs[id] = cb
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		if _, ok := f.subs[id]; !ok {
			f.mu.Unlock()
			return
		}
		delete(f.subs, id)
		last := len(f.subs) == 0 && f.state == StatePending
		f.mu.Unlock()

		if last {
			f.Cancel()
		}
	}
}

// Cancel abandons a pending future. It is a no-op once settled.
func (f *Future) Cancel() {
	f.mu.Lock()
	if f.state != StatePending {
		f.mu.Unlock()
		return
	}
	f.state = StateCancelled
	f.subs = nil
	hooks := f.onCancel
	f.onCancel = nil
	f.mu.Unlock()

	f.cancel()
	for _, hook := range hooks {
		hook()
	}
}

func (f *Future) addOnCancel(fn func()) {
	f.mu.Lock()
	if f.state == StateCancelled {
		f.mu.Unlock()
		fn()
		return
	}
	if f.state == StatePending {
		f.onCancel = append(f.onCancel, fn)
	}
	f.mu.Unlock()
}

func (f *Future) settle(v cty.Value, err error) {
	f.mu.Lock()
	if f.state != StatePending {
		f.mu.Unlock()
		return
	}
	if err != nil {
		f.state = StateRejected
	} else {
		f.state = StateFulfilled
	}
	f.val, f.err = v, err
	subs := f.subs
	f.subs = nil
	f.onCancel = nil
	f.mu.Unlock()

	f.cancel()

	ids := make([]uint64, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		subs[id](v, err)
	}
}
