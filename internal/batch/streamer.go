// Package batch implements the Batch Streamer of spec.md §4.3: a
// three-state machine that accepts a host-planned multi-axis velocity
// trajectory and paces it out to the Motion Controller one
// micro-step at a time.
package batch

import (
	"errors"
)

// Subdivisions is the fixed number of micro-steps per slice
// (spec.md §3: "SUBDIVISIONS is a build-time constant (50)").
const Subdivisions = 50

// MaxSegments is the batch capacity (spec.md §3).
const MaxSegments = 500

// State enumerates the streamer's three states.
type State uint8

const (
	Idle State = iota
	Loading
	Executing
)

var (
	ErrInvalidCountOrDt = errors.New("batch: invalid count or dt")
	ErrTooMany          = errors.New("batch: too many segments")
	ErrBadLength        = errors.New("batch: segment length mismatch")
	ErrNotLoadingBatch  = errors.New("batch: not loading a batch")
)

// Segment carries N signed velocities (deg/s) and N non-negative
// accelerations (deg/s^2) for one slice.
type Segment struct {
	V []float64
	A []float64
}

// Mover is the narrow motion surface the streamer drives.
type Mover interface {
	FeedVelocitySlice(vDegS, aDegS2 []float64) error
	SetAllJogZero(aDegS2 float64) error
}

// Clock abstracts monotonic time so tests can fake it.
type Clock interface {
	NowSeconds() float64
}

// Streamer is the Batch Streamer of spec.md §4.3.
type Streamer struct {
	mover Mover
	clock Clock
	axes  int

	state State

	count    int
	dt       float64
	segments []Segment

	cursor int
	micro  int

	prevV         []float64
	accelPerMicro []float64

	lastTick float64

	onSegmentLoaded func(index int)
	onExecStart     func()
	onComplete      func()
	onAborted       func()
}

// Callbacks are pure notification side-effects matching the async
// notifications of spec.md §6.
type Callbacks struct {
	OnSegmentLoaded func(index int)
	OnExecStart     func()
	OnComplete      func()
	OnAborted       func()
}

// New constructs a Streamer for the given axis count.
func New(mover Mover, clock Clock, axes int, cb Callbacks) *Streamer {
	return &Streamer{
		mover: mover, clock: clock, axes: axes,
		onSegmentLoaded: cb.OnSegmentLoaded,
		onExecStart:     cb.OnExecStart,
		onComplete:      cb.OnComplete,
		onAborted:       cb.OnAborted,
	}
}

// State returns the current streamer state. The Command Dispatcher
// uses this to decide whether to keep parsing incoming lines
// (spec.md §4.3: "While EXECUTING... must not parse new lines").
func (s *Streamer) State() State {
	return s.state
}

// BeginBatch transitions IDLE -> LOADING.
func (s *Streamer) BeginBatch(count int, dt float64) error {
	if s.state != Idle {
		return ErrNotLoadingBatch
	}
	if count <= 0 || count > MaxSegments || dt <= 0 {
		return ErrInvalidCountOrDt
	}
	s.count = count
	s.dt = dt
	s.segments = s.segments[:0]
	s.cursor = 0
	s.micro = 0
	s.prevV = make([]float64, s.axes)
	s.accelPerMicro = make([]float64, s.axes)
	s.state = Loading

	// Put all axes into velocity plans at zero with a conservative
	// accel so subsequent slice updates are in-mode.
	_ = s.mover.SetAllJogZero(1)
	return nil
}

// Segment appends one loaded segment while LOADING. A segment that
// arrives after the batch is full (EXECUTING) is rejected with
// ErrTooMany.
func (s *Streamer) Segment(seg Segment) error {
	if s.state == Executing {
		return ErrTooMany
	}
	if s.state != Loading {
		return ErrNotLoadingBatch
	}
	if len(s.segments) >= s.count {
		return ErrTooMany
	}
	if len(seg.V) != s.axes || len(seg.A) != s.axes {
		return ErrBadLength
	}
	s.segments = append(s.segments, seg)
	if s.onSegmentLoaded != nil {
		s.onSegmentLoaded(len(s.segments) - 1)
	}
	if len(s.segments) == s.count {
		s.state = Executing
		s.lastTick = s.clock.NowSeconds()
		if s.onExecStart != nil {
			s.onExecStart()
		}
	}
	return nil
}

// AbortBatch cancels a LOADING or EXECUTING batch, commands all axes
// to zero velocity, and returns to IDLE.
func (s *Streamer) AbortBatch() error {
	if s.state == Idle {
		return ErrNotLoadingBatch
	}
	s.state = Idle
	_ = s.mover.SetAllJogZero(1)
	if s.onAborted != nil {
		s.onAborted()
	}
	return nil
}

// Tick drives the execution state machine from the cooperative main
// loop. It is a no-op unless EXECUTING and at least Δt/SUBDIVISIONS
// has elapsed since the last micro-step.
func (s *Streamer) Tick() {
	if s.state != Executing {
		return
	}
	now := s.clock.NowSeconds()
	microPeriod := s.dt / Subdivisions
	// The small tolerance keeps floating-point rounding of an exactly
	// elapsed micro-period from skipping a micro-step.
	if now-s.lastTick < microPeriod*(1-1e-9) {
		return
	}
	s.lastTick = now

	seg := s.segments[s.cursor]
	if s.micro == 0 {
		for j := 0; j < s.axes; j++ {
			// Per-micro-step velocity delta is derived from the actual
			// endpoint-to-endpoint change over the slice (prevV[j] ->
			// seg.V[j]), not from the segment's stated acceleration:
			// the two agree only when the host's A[j] exactly matches
			// (seg.V[j]-prevV[j])/dt, so a[j] below can genuinely
			// diverge from seg.A[j] (resolves spec.md §9's Open
			// Question).
			s.accelPerMicro[j] = (seg.V[j] - s.prevV[j]) / Subdivisions
		}
	}

	v := make([]float64, s.axes)
	a := make([]float64, s.axes)
	for j := 0; j < s.axes; j++ {
		next := s.prevV[j] + s.accelPerMicro[j]*float64(s.micro+1)
		delta := next - v0(s.prevV[j], s.accelPerMicro[j], s.micro)
		if delta < 0 {
			delta = -delta
		}
		v[j] = next
		a[j] = delta / microPeriod
	}
	_ = s.mover.FeedVelocitySlice(v, a)

	s.micro++
	if s.micro >= Subdivisions {
		for j := 0; j < s.axes; j++ {
			s.prevV[j] = seg.V[j]
		}
		s.micro = 0
		s.cursor++
		if s.cursor >= s.count {
			s.state = Idle
			_ = s.mover.SetAllJogZero(1)
			if s.onComplete != nil {
				s.onComplete()
			}
		}
	}
}

// v0 returns the velocity value one micro-step earlier than `micro`,
// used only to compute the actual applied delta for the per-slice
// acceleration magnitude.
func v0(prevV, accelPerMicro float64, micro int) float64 {
	if micro == 0 {
		return prevV
	}
	return prevV + accelPerMicro*float64(micro)
}

// EstopAbort is called by the Safety Arbiter on estop assertion while
// EXECUTING: it behaves like AbortBatch but never returns an error
// even from IDLE (estop may race with a just-completed batch).
func (s *Streamer) EstopAbort() {
	if s.state == Idle {
		return
	}
	_ = s.AbortBatch()
}
