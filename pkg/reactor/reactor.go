// Package reactor implements the output-side event multiplexer of spec
// §4.5: wait simultaneously on FIFO activity, device-driven readiness, and
// scheduled timers. The original multiplexes raw file descriptors; since
// idiomatic Go has no portable non-cgo fd-poll primitive, this translates
// "Input" to mean "a channel that becomes ready," with reflect.Select
// providing the dynamic fan-in a fixed-arity select can't (grounded on
// original_source/src/gap/ap_output_thread.h's reactor/timer-list fields;
// no teacher file multiplexes anything, so the channel-based shape here is
// this package's own idiomatic translation).
package reactor

import (
	"reflect"
	"sort"
	"time"
)

// Input is a readiness source: Ready fires whenever OnSignal should be
// invoked. The output stage registers its own FIFO's Wake() channel as one
// Input so a single reactor wait suspends on work of any origin.
type Input struct {
	Name     string
	Ready    <-chan struct{}
	OnSignal func() error
}

type timerEntry struct {
	id       uint64
	deadline time.Time
	fn       func()
}

// Reactor is a single-threaded multiplexer; it must only be driven from
// the owning goroutine (the output stage).
type Reactor struct {
	inputs      []*Input
	timers      []timerEntry
	deferred    []func()
	nextTimerID uint64
}

// New returns an empty reactor.
func New() *Reactor { return &Reactor{} }

// AddInput registers in for future RunOnce/RunPending calls.
func (r *Reactor) AddInput(in *Input) { r.inputs = append(r.inputs, in) }

// RemoveInput drops a previously registered input.
func (r *Reactor) RemoveInput(in *Input) {
	for i, x := range r.inputs {
		if x == in {
			r.inputs = append(r.inputs[:i], r.inputs[i+1:]...)
			return
		}
	}
}

// AddTimer schedules fn to run no earlier than delay from now, returning an
// id usable with RemoveTimer.
func (r *Reactor) AddTimer(delay time.Duration, fn func()) uint64 {
	r.nextTimerID++
	id := r.nextTimerID
	r.timers = append(r.timers, timerEntry{id: id, deadline: time.Now().Add(delay), fn: fn})
	return id
}

// RemoveTimer cancels a previously scheduled timer; a no-op if it already
// fired.
func (r *Reactor) RemoveTimer(id uint64) {
	for i, t := range r.timers {
		if t.id == id {
			r.timers = append(r.timers[:i], r.timers[i+1:]...)
			return
		}
	}
}

// AddDeferred queues fn to run at the very start of the next RunOnce,
// before any poll -- the zero-delay callback of spec §4.5.
func (r *Reactor) AddDeferred(fn func()) { r.deferred = append(r.deferred, fn) }

// RunPending drains deferred callbacks and any already-expired timers
// without blocking.
func (r *Reactor) RunPending() {
	for r.RunOnce(0) {
	}
}

// RunOnce executes one iteration of spec §4.5's three-step loop: run
// deferred callbacks (returning immediately if any ran), otherwise wait on
// every input and the earliest timer deadline up to timeout, then dispatch
// whatever fired. It reports whether anything ran.
func (r *Reactor) RunOnce(timeout time.Duration) bool {
	if len(r.deferred) > 0 {
		pending := r.deferred
		r.deferred = nil
		for _, fn := range pending {
			fn()
		}
		return true
	}

	wait := timeout
	if len(r.timers) > 0 {
		sort.Slice(r.timers, func(i, j int) bool { return r.timers[i].deadline.Before(r.timers[j].deadline) })
		untilFirst := time.Until(r.timers[0].deadline)
		if untilFirst < 0 {
			untilFirst = 0
		}
		if untilFirst < wait {
			wait = untilFirst
		}
	}
	if wait < 0 {
		wait = 0
	}

	fired := r.waitAndDispatch(wait)

	now := time.Now()
	remaining := r.timers[:0:0]
	for _, t := range r.timers {
		if !now.Before(t.deadline) {
			t.fn()
			fired = true
		} else {
			remaining = append(remaining, t)
		}
	}
	r.timers = remaining

	return fired
}

func (r *Reactor) waitAndDispatch(wait time.Duration) bool {
	cases := make([]reflect.SelectCase, 0, len(r.inputs)+1)
	for _, in := range r.inputs {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(in.Ready)})
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(timer.C)})

	chosen, _, _ := reflect.Select(cases)
	if chosen >= len(r.inputs) {
		return false
	}
	in := r.inputs[chosen]
	if in.OnSignal != nil {
		in.OnSignal()
	}
	return true
}
