// Package homing implements the two-stage homing procedure of
// spec.md §4.4: a five-phase state machine that composes jogs and
// moves against a limit switch to establish an absolute zero.
package homing

import "errors"

// Phase enumerates the homing state machine's states.
type Phase uint8

const (
	Idle Phase = iota
	FastApproach
	Backoff
	SlowApproach
	FinalOffset
)

// ErrAlreadyHoming is returned when Start is called while a job is
// already active, or while estopped.
var ErrAlreadyHoming = errors.New("homing: already active or estopped")

// Mover is the narrow motion surface the homing controller drives.
type Mover interface {
	Jog(axis int, vSignedDegS, aDegS2 float64) error
	StopJog(axis int) error
	Move(axis int, currentPosDeg, targetDeg, vMaxDegS, aMaxDegS2 float64, ignoreLimits bool) error
	ResetPosition(axis int, posDeg float64) error
	AxisIdle(axis int) (bool, error)
}

// Limits is the axis-scoped configuration homing needs, read once at
// Start.
type Limits struct {
	CfgMin       float64
	CfgMax       float64
	CfgHomeOffset float64
	BackoffDeg   float64
}

// EstopSource reports the Safety Arbiter's latch.
type EstopSource interface {
	Estopped() bool
}

// Result is published on FinalOffset -> Idle.
type Result struct {
	Axis   int
	MinPos float64
	MaxPos float64
}

// job tracks one in-progress homing run.
type job struct {
	axis   int
	phase  Phase
	limits Limits

	fastSpeed float64
	slowSpeed float64

	backoffCleared bool // one-tick debounce latch between BACKOFF and SLOW_APPROACH
}

// Controller is the Homing Controller of spec.md §4.4. Exactly one
// axis may home at a time.
type Controller struct {
	mover Mover
	estop EstopSource

	active *job

	onHomed func(Result)

	// pendingMin/pendingMax carry the computed user-space limits from
	// SlowApproach to FinalOffset, where they are published.
	pendingMin float64
	pendingMax float64
}

// New constructs a Controller. onHomed, if non-nil, is invoked
// synchronously from Update when a job completes.
func New(mover Mover, estop EstopSource, onHomed func(Result)) *Controller {
	return &Controller{mover: mover, estop: estop, onHomed: onHomed}
}

// IsHoming reports whether a job is currently active.
func (c *Controller) IsHoming() bool {
	return c.active != nil
}

// ActiveAxis returns the axis currently homing, if any. The main loop
// uses this to know which limit switch to debounce for Update.
func (c *Controller) ActiveAxis() (int, bool) {
	if c.active == nil {
		return 0, false
	}
	return c.active.axis, true
}

// Start begins homing axis. Rejects if a job is already active or the
// safety latch is set.
func (c *Controller) Start(axis int, limits Limits, speedFast, speedSlow float64) error {
	if c.active != nil {
		return ErrAlreadyHoming
	}
	if c.estop != nil && c.estop.Estopped() {
		return ErrAlreadyHoming
	}
	fast := speedFast
	if fast <= 0 {
		fast = 1
	}
	slow := speedSlow
	if slow <= 0 {
		slow = 1
	}
	c.active = &job{axis: axis, phase: FastApproach, limits: limits, fastSpeed: fast, slowSpeed: slow}
	// Negative direction per spec.md §4.4: jog toward the switch.
	accel := limits.CfgMax - limits.CfgMin
	if accel <= 0 {
		accel = 1
	}
	return c.mover.Jog(axis, -fast, accel)
}

// Abort cancels the active job (operator abort or estop) and returns
// to Idle.
func (c *Controller) Abort() {
	if c.active == nil {
		return
	}
	_ = c.mover.StopJog(c.active.axis)
	c.active = nil
}

// Update advances the state machine by one main-loop tick. limitActive
// is the debounced limit-switch state for the active job's axis.
func (c *Controller) Update(limitActive bool) {
	if c.active == nil {
		return
	}
	if c.estop != nil && c.estop.Estopped() {
		c.Abort()
		return
	}

	j := c.active
	switch j.phase {
	case FastApproach:
		if limitActive {
			_ = c.mover.StopJog(j.axis)
			_ = c.mover.ResetPosition(j.axis, j.limits.CfgMin)
			accel := j.limits.CfgMax - j.limits.CfgMin
			if accel <= 0 {
				accel = 1
			}
			_ = c.mover.Move(j.axis, j.limits.CfgMin, j.limits.CfgMin+j.limits.BackoffDeg, j.fastSpeed, accel, true)
			j.phase = Backoff
			j.backoffCleared = false
		}

	case Backoff:
		if idle, _ := c.mover.AxisIdle(j.axis); !idle {
			return
		}
		if !limitActive {
			if j.backoffCleared {
				accel := j.limits.CfgMax - j.limits.CfgMin
				if accel <= 0 {
					accel = 1
				}
				_ = c.mover.Jog(j.axis, -j.slowSpeed, accel)
				j.phase = SlowApproach
			} else {
				// One full tick of "cleared" required before trusting it,
				// defeating a single debounced glitch.
				j.backoffCleared = true
			}
		} else {
			j.backoffCleared = false
		}

	case SlowApproach:
		if limitActive {
			_ = c.mover.StopJog(j.axis)
			_ = c.mover.ResetPosition(j.axis, j.limits.CfgMin)
			c.pendingMin = j.limits.CfgMin - j.limits.CfgHomeOffset
			c.pendingMax = j.limits.CfgMax - j.limits.CfgHomeOffset
			accel := j.limits.CfgMax - j.limits.CfgMin
			if accel <= 0 {
				accel = 1
			}
			_ = c.mover.Move(j.axis, j.limits.CfgMin, j.limits.CfgHomeOffset, j.slowSpeed, accel, true)
			j.phase = FinalOffset
		}

	case FinalOffset:
		if idle, _ := c.mover.AxisIdle(j.axis); !idle {
			return
		}
		_ = c.mover.ResetPosition(j.axis, 0)
		res := Result{Axis: j.axis, MinPos: c.pendingMin, MaxPos: c.pendingMax}
		c.active = nil
		if c.onHomed != nil {
			c.onHomed(res)
		}

	case Idle:
		// no-op
	}
}
