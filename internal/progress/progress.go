// Package progress rescales nested sub-operation progress into the caller's
// 0-100 range.
//
// A Reporter owns a band [lower, upper] of its parent. Report takes a local
// 0-100 value, keeps it non-decreasing for that reporter and forwards
// lower+local*(upper-lower)/100 upward until the root callback is reached.
// Stage marks the start of a new stage: it is the only way a reporter's value
// may go back down, and the emitted status carries the StagePrefix so callers
// can tell a reset from a regression.
package progress

import (
	"strings"
	"sync"
	"sync/atomic"
)

// StagePrefix is prepended to the status of the first report of a new stage
const StagePrefix = "new stage started: "

// Func is the raw top-level progress callback
type Func func(percent float64, status string)

type sink struct {
	fn     Func
	mu     sync.Mutex
	closed atomic.Bool
}

func (s *sink) emit(percent float64, status string) {
	if s.fn == nil || s.closed.Load() {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}
	s.fn(percent, status)
}

// Reporter delivers progress for one band of the overall operation.
// A nil *Reporter discards everything.
type Reporter struct {
	root   *sink
	parent *Reporter
	lower  float64
	upper  float64
	muted  *atomic.Bool

	mu    sync.Mutex
	floor float64
}

// New returns the root reporter spanning 0-100
func New(fn Func) *Reporter {
	return &Reporter{root: &sink{fn: fn}, lower: 0, upper: 100}
}

// Scope returns a child reporter whose local 0-100 maps onto [lower, upper]
// of this reporter's local range
func (r *Reporter) Scope(lower, upper float64) *Reporter {
	if r == nil {
		return nil
	}
	lower, upper = clamp(lower), clamp(upper)
	if upper < lower {
		lower, upper = upper, lower
	}
	return &Reporter{root: r.root, parent: r, lower: lower, upper: upper}
}

// Guard returns a full-range child and a function that permanently silences it
// and every reporter scoped from it
func (r *Reporter) Guard() (*Reporter, func()) {
	if r == nil {
		return nil, func() {}
	}
	child := r.Scope(0, 100)
	child.muted = &atomic.Bool{}
	return child, func() { child.muted.Store(true) }
}

// Report emits a local percentage with a status line
func (r *Reporter) Report(localPercent float64, status string) {
	if r == nil {
		return
	}
	local := clamp(localPercent)
	r.mu.Lock()
	if local < r.floor {
		local = r.floor
	}
	r.floor = local
	r.mu.Unlock()
	r.forward(local, status)
}

// Stage resets this reporter's floor and announces a new stage
func (r *Reporter) Stage(status string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.floor = 0
	r.mu.Unlock()
	if !strings.HasPrefix(status, StagePrefix) {
		status = StagePrefix + status
	}
	r.forward(0, status)
}

// Close drops every later report on the whole reporter tree. It waits for a
// callback already in progress, so none runs after Close returns. Close must
// not be called from inside the callback.
func (r *Reporter) Close() {
	if r == nil {
		return
	}
	r.root.mu.Lock()
	defer r.root.mu.Unlock()
	r.root.closed.Store(true)
}

// forward maps a local value up through every ancestor band. Parent bands are
// shared by concurrent siblings, so only the reporting leaf enforces its floor.
func (r *Reporter) forward(local float64, status string) {
	value := local
	for cur := r; cur != nil; cur = cur.parent {
		if cur.muted != nil && cur.muted.Load() {
			return
		}
		value = cur.lower + value*(cur.upper-cur.lower)/100
	}
	r.root.emit(value, status)
}

func clamp(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
