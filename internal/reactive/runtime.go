// Package reactive is the dependency-tracking substrate of the engine.
//
// Subjects (Atom, Box, Computed, Map) record which derivation read them during
// its last run. A change marks direct readers stale and the readers of
// computeds "possibly stale"; the enclosing batch then flushes reactions in
// height order, so a reaction runs only after the reactions writing what it
// reads. A possibly-stale reaction first refreshes its computed sources and is
// skipped when none of them actually moved.
//
//	Box.Set ─► Atom.ReportChanged ─► mark observers ─► queue reactions
//	                                                       │
//	                         Batch end ─► flush (lowest height first) ─► run
package reactive

import (
	"container/heap"
	"context"
	"log/slog"

	"github.com/vk/gridcalc/internal/ctxlog"
)

// DefaultMaxIterations bounds the number of reaction runs in one flush.
const DefaultMaxIterations = 100000

// Runtime owns tracking state for one engine instance. It is not safe for
// concurrent use; all reads and writes happen on the engine goroutine.
type Runtime struct {
	logger *slog.Logger

	tracking   *derivation
	batchDepth int
	flushing   bool
	queue      reactionQueue
	queueSeq   uint64
	sequence   uint64

	MaxIterations int
}

// NewRuntime creates a runtime logging through ctx's logger.
func NewRuntime(ctx context.Context) *Runtime {
	return &Runtime{
		logger:        ctxlog.FromContext(ctx),
		MaxIterations: DefaultMaxIterations,
	}
}

// Tracking reports whether a derivation is currently recording reads.
func (rt *Runtime) Tracking() bool {
	return rt.tracking != nil
}

// Sequence is incremented every time a derivation runs. Callers use it as a
// generation counter for caches that must be stable within one run.
func (rt *Runtime) Sequence() uint64 {
	return rt.sequence
}

// Batch runs fn and defers reaction flushing until the outermost batch ends.
func (rt *Runtime) Batch(fn func()) {
	rt.batchDepth++
	defer func() {
		rt.batchDepth--
		if rt.batchDepth == 0 {
			rt.flush()
		}
	}()
	fn()
}

// Untracked runs fn without recording reads into the current derivation.
func (rt *Runtime) Untracked(fn func()) {
	prev := rt.tracking
	rt.tracking = nil
	defer func() { rt.tracking = prev }()
	fn()
}

func (rt *Runtime) enqueue(r *Reaction) {
	if r.queued || r.disposed {
		return
	}
	r.queued = true
	rt.queueSeq++
	heap.Push(&rt.queue, queued{r: r, seq: rt.queueSeq})
}

func (rt *Runtime) flush() {
	if rt.flushing {
		return
	}
	rt.flushing = true
	defer func() { rt.flushing = false }()

	iterations := 0
	for rt.queue.Len() > 0 {
		r := heap.Pop(&rt.queue).(queued).r
		r.queued = false

		if r.disposed || r.d.state == upToDate {
			continue
		}
		if r.d.state == possiblyStale && !r.d.sourcesChanged() {
			r.d.state = upToDate
			continue
		}

		iterations++
		if rt.MaxIterations > 0 && iterations > rt.MaxIterations {
			rt.logger.Warn("Reaction flush aborted, possible cycle.", "reaction", r.d.name, "iterations", iterations)
			for rt.queue.Len() > 0 {
				heap.Pop(&rt.queue).(queued).r.queued = false
			}
			return
		}
		r.run()
	}
}

// --- derivations ---

type derivationState int

const (
	upToDate derivationState = iota
	possiblyStale
	stale
)

// source is anything a derivation can depend on.
type source interface {
	version() uint64
	refresh()
	level() int
	addObserver(d *derivation)
	removeObserver(d *derivation)
}

// derivation is the tracking half shared by Reaction and Computed.
type derivation struct {
	rt      *Runtime
	name    string
	state   derivationState
	deps    map[source]uint64
	newDeps map[source]uint64
	height  int

	// onStale is called when the derivation leaves the up-to-date state.
	onStale func()
}

func (d *derivation) track(fn func()) {
	rt := d.rt
	prev := rt.tracking
	rt.tracking = d
	rt.sequence++

	d.newDeps = make(map[source]uint64)
	d.state = upToDate

	defer func() {
		rt.tracking = prev
		d.bindSources()
	}()
	fn()
}

func (d *derivation) record(s source) {
	if _, ok := d.newDeps[s]; !ok {
		d.newDeps[s] = s.version()
	}
}

func (d *derivation) bindSources() {
	newDeps := d.newDeps
	d.newDeps = nil

	height := 0
	for s, seen := range newDeps {
		if _, ok := d.deps[s]; !ok {
			s.addObserver(d)
		}
		if h := s.level(); h > height {
			height = h
		}
		if s.version() != seen {
			d.markStale(true)
		}
	}
	for s := range d.deps {
		if _, ok := newDeps[s]; !ok {
			s.removeObserver(d)
		}
	}
	d.deps = newDeps
	d.height = height + 1
}

func (d *derivation) unbind() {
	for s := range d.deps {
		s.removeObserver(d)
	}
	d.deps = nil
}

func (d *derivation) markStale(direct bool) {
	prev := d.state
	switch {
	case direct && prev != stale:
		d.state = stale
	case !direct && prev == upToDate:
		d.state = possiblyStale
	default:
		return
	}
	if prev == upToDate && d.onStale != nil {
		d.onStale()
	}
}

func (d *derivation) sourcesChanged() bool {
	for s, seen := range d.deps {
		s.refresh()
		if s.version() != seen {
			return true
		}
	}
	return false
}

// --- reaction queue ---

type queued struct {
	r   *Reaction
	seq uint64
}

type reactionQueue []queued

func (q reactionQueue) Len() int { return len(q) }
func (q reactionQueue) Less(i, j int) bool {
	if q[i].r.d.height != q[j].r.d.height {
		return q[i].r.d.height < q[j].r.d.height
	}
	return q[i].seq < q[j].seq
}
func (q reactionQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *reactionQueue) Push(x any)   { *q = append(*q, x.(queued)) }
func (q *reactionQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
