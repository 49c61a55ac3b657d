// Package stepengine generates step pulses for N stepper axes at a
// fixed tick rate and owns each axis's authoritative integer step
// position. It is the lowest layer of the motion stack: the Motion
// Controller, Batch Streamer and Homing Controller all submit plans
// here and never touch GPIO directly.
package stepengine

import (
	"errors"
	"sync/atomic"

	"github.com/sixar/motion-firmware/internal/hal"
)

// ErrInvalidAxis is returned by any submission API call naming an axis
// index outside [0, N).
var ErrInvalidAxis = errors.New("stepengine: invalid axis index")

// AxisPins names the two GPIO lines a stepper driver needs.
type AxisPins struct {
	Step      hal.Pin
	Dir       hal.Pin
	InvertDir bool
}

// axis holds everything the tick context needs for one stepper,
// mutated only by Tick and by the submission API under a critical
// section (spec.md §5: single-writer discipline, no general locking).
type axis struct {
	pins AxisPins

	active kind
	pos    positionPlan
	vel    velocityPlan

	accum float64 // fractional step accumulator, in [0,1)

	position int64 // authoritative integer step position
	lastDir  int8  // last direction sign written to the pin; 0 = unknown

	stepAsserted bool // true if the step pin is high from the previous tick
}

// Engine drives step pulses for all axes at a fixed tick period.
type Engine struct {
	gpio   hal.GPIODriver
	axes   []axis
	dt     float64 // seconds per tick
	freqHz float64
}

// New constructs an Engine for len(pins) axes, ticking at freqHz.
func New(gpio hal.GPIODriver, pins []AxisPins, freqHz float64) *Engine {
	e := &Engine{
		gpio:   gpio,
		axes:   make([]axis, len(pins)),
		dt:     1.0 / freqHz,
		freqHz: freqHz,
	}
	for i := range pins {
		e.axes[i].pins = pins[i]
		if gpio != nil {
			_ = gpio.ConfigureOutput(pins[i].Step)
			_ = gpio.ConfigureOutput(pins[i].Dir)
		}
	}
	return e
}

// NumAxes returns the number of configured axes.
func (e *Engine) NumAxes() int { return len(e.axes) }

func (e *Engine) valid(ax int) bool {
	return ax >= 0 && ax < len(e.axes)
}

// Tick runs one period of the real-time step-generation loop. It must
// be called at the Engine's configured frequency from either a
// hardware timer interrupt (tinygo target) or a dedicated goroutine
// paced by a ticker (host simulation).
func (e *Engine) Tick() {
	state := hal.EnterCritical()
	defer hal.ExitCritical(state)

	dt := e.dt
	for i := range e.axes {
		ax := &e.axes[i]

		// 1. Deassert any step pin left high from the previous tick
		// (one-tick pulse width).
		if ax.stepAsserted {
			if e.gpio != nil {
				_ = e.gpio.SetPin(ax.pins.Step, false)
			}
			ax.stepAsserted = false
		}

		if ax.active == kindNone {
			continue
		}

		dir, v := e.tickProfile(ax, dt)
		if v <= 0 && ax.active == kindVelocity {
			// Idle velocity plan: nothing to integrate, but keep the
			// plan installed so a future SetJogTarget resumes smoothly.
			continue
		}

		// 3. Write the direction pin before any step assertion, only
		// on an actual change.
		if dir != ax.lastDir && dir != 0 {
			if e.gpio != nil {
				_ = e.gpio.SetPin(ax.pins.Dir, dirHigh(dir, ax.pins.InvertDir))
			}
			ax.lastDir = dir
		}

		ax.accum += v * dt
		pulses := int64(ax.accum)
		if pulses <= 0 {
			continue
		}
		ax.accum -= float64(pulses)

		if ax.active == kindPosition {
			remaining := int64(ax.pos.totalSteps - ax.pos.doneSteps)
			if pulses > remaining {
				pulses = remaining
			}
			ax.pos.doneSteps += uint32(pulses)
			if ax.pos.done() {
				ax.active = kindNone
			}
		}

		if pulses > 0 {
			if e.gpio != nil {
				_ = e.gpio.SetPin(ax.pins.Step, true)
			}
			ax.stepAsserted = true
			ax.position += int64(dir) * pulses
			atomic.AddInt64(&totalStepCount, pulses)
		}
	}
}

// tickProfile advances the active profile by dt and returns the
// direction and scalar speed (steps/s) to integrate this tick.
func (e *Engine) tickProfile(ax *axis, dt float64) (dir int8, v float64) {
	switch ax.active {
	case kindPosition:
		ax.pos.elapsed += dt
		v = ax.pos.velocityAt(ax.pos.elapsed)
		if ax.pos.elapsed >= ax.pos.tTotal {
			// Time-complete; any remaining whole steps go out at one
			// step per tick, capped by the clamp in Tick, after which
			// the plan is marked done.
			v = 1 / dt
		}
		return ax.pos.dir, v
	case kindVelocity:
		return ax.vel.step(dt)
	default:
		return 0, 0
	}
}

func dirHigh(dir int8, invert bool) bool {
	high := dir > 0
	if invert {
		high = !high
	}
	return high
}

// ---- Submission API (non-ISR context; caller serializes its own calls) ----

// StartPosition cancels any existing profile on axis and installs a
// trapezoidal move of deltaSteps signed steps under the given caps.
// deltaSteps == 0 is a no-op success.
func (e *Engine) StartPosition(ax int, deltaSteps int64, vMax, aMax float64) error {
	if !e.valid(ax) {
		return ErrInvalidAxis
	}
	if deltaSteps == 0 {
		state := hal.EnterCritical()
		e.axes[ax].active = kindNone
		hal.ExitCritical(state)
		return nil
	}

	dir := int8(1)
	steps := deltaSteps
	if deltaSteps < 0 {
		dir = -1
		steps = -deltaSteps
	}
	plan := newPositionPlan(dir, uint32(steps), vMax, aMax)

	state := hal.EnterCritical()
	a := &e.axes[ax]
	a.active = kindPosition
	a.pos = plan
	a.accum = 0
	if dir != a.lastDir && e.gpio != nil {
		_ = e.gpio.SetPin(a.pins.Dir, dirHigh(dir, a.pins.InvertDir))
		a.lastDir = dir
	}
	hal.ExitCritical(state)
	return nil
}

// StartJog cancels any existing profile on axis and installs a
// velocity plan starting from zero, slewing toward vMax in the given
// sign.
func (e *Engine) StartJog(ax int, sign int8, vMax, accel float64) error {
	if !e.valid(ax) {
		return ErrInvalidAxis
	}
	if sign > 0 {
		sign = 1
	} else {
		sign = -1
	}
	state := hal.EnterCritical()
	a := &e.axes[ax]
	a.active = kindVelocity
	a.accum = 0
	a.vel = velocityPlan{dir: sign, targetDir: sign, targetV: vMax, accel: accel, currentV: 0}
	hal.ExitCritical(state)
	return nil
}

// SetJogTarget updates the running velocity plan's target in place. If
// no velocity plan is active on axis, one is installed with current
// velocity 0.
func (e *Engine) SetJogTarget(ax int, vSigned, accel float64) error {
	if !e.valid(ax) {
		return ErrInvalidAxis
	}
	sign := int8(1)
	if vSigned < 0 {
		sign = -1
	}
	mag := vSigned
	if mag < 0 {
		mag = -mag
	}

	state := hal.EnterCritical()
	a := &e.axes[ax]
	if a.active != kindVelocity {
		a.active = kindVelocity
		a.accum = 0
		a.vel = velocityPlan{dir: sign, currentV: 0}
	}
	a.vel.targetDir = sign
	a.vel.targetV = mag
	a.vel.accel = accel
	hal.ExitCritical(state)
	return nil
}

// SetAllJogTargets updates every axis's velocity target atomically:
// either all updates are visible on the next tick, or none are.
func (e *Engine) SetAllJogTargets(vSigned, accel []float64) error {
	if len(vSigned) != len(e.axes) || len(accel) != len(e.axes) {
		return ErrInvalidAxis
	}
	state := hal.EnterCritical()
	for i := range e.axes {
		sign := int8(1)
		if vSigned[i] < 0 {
			sign = -1
		}
		mag := vSigned[i]
		if mag < 0 {
			mag = -mag
		}
		a := &e.axes[i]
		if a.active != kindVelocity {
			a.active = kindVelocity
			a.accum = 0
			a.vel = velocityPlan{dir: sign, currentV: 0}
		}
		a.vel.targetDir = sign
		a.vel.targetV = mag
		a.vel.accel = accel[i]
	}
	hal.ExitCritical(state)
	return nil
}

// StopJog clears the profile on a single axis.
func (e *Engine) StopJog(ax int) error {
	if !e.valid(ax) {
		return ErrInvalidAxis
	}
	state := hal.EnterCritical()
	e.axes[ax].active = kindNone
	hal.ExitCritical(state)
	return nil
}

// EmergencyStop clears every plan on every axis immediately.
func (e *Engine) EmergencyStop() {
	state := hal.EnterCritical()
	for i := range e.axes {
		e.axes[i].active = kindNone
		if e.axes[i].stepAsserted && e.gpio != nil {
			_ = e.gpio.SetPin(e.axes[i].pins.Step, false)
		}
		e.axes[i].stepAsserted = false
	}
	hal.ExitCritical(state)
}

// ResetPosition atomically writes the authoritative position.
func (e *Engine) ResetPosition(ax int, steps int64) error {
	if !e.valid(ax) {
		return ErrInvalidAxis
	}
	state := hal.EnterCritical()
	e.axes[ax].position = steps
	hal.ExitCritical(state)
	return nil
}

// Position returns the authoritative step position, read under a
// critical section on single-core hardware.
func (e *Engine) Position(ax int) (int64, error) {
	if !e.valid(ax) {
		return 0, ErrInvalidAxis
	}
	state := hal.EnterCritical()
	p := e.axes[ax].position
	hal.ExitCritical(state)
	return p, nil
}

// TargetSteps returns startPos + dir*totalSteps if a position plan is
// active, else the current position.
func (e *Engine) TargetSteps(ax int) (int64, error) {
	if !e.valid(ax) {
		return 0, ErrInvalidAxis
	}
	state := hal.EnterCritical()
	a := &e.axes[ax]
	var target int64
	if a.active == kindPosition {
		startPos := a.position - int64(a.pos.dir)*int64(a.pos.doneSteps)
		target = startPos + int64(a.pos.dir)*int64(a.pos.totalSteps)
	} else {
		target = a.position
	}
	hal.ExitCritical(state)
	return target, nil
}

// CurrentVelocity returns the signed scalar velocity (steps/s).
func (e *Engine) CurrentVelocity(ax int) (float64, error) {
	if !e.valid(ax) {
		return 0, ErrInvalidAxis
	}
	state := hal.EnterCritical()
	a := &e.axes[ax]
	var v float64
	switch a.active {
	case kindPosition:
		v = float64(a.pos.dir) * a.pos.velocityAt(a.pos.elapsed)
	case kindVelocity:
		v = float64(a.vel.dir) * a.vel.currentV
	}
	hal.ExitCritical(state)
	return v, nil
}

// CurrentAccel returns the signed scalar acceleration (steps/s^2)
// implied by the active profile's current phase.
func (e *Engine) CurrentAccel(ax int) (float64, error) {
	if !e.valid(ax) {
		return 0, ErrInvalidAxis
	}
	state := hal.EnterCritical()
	a := &e.axes[ax]
	var acc float64
	switch a.active {
	case kindPosition:
		t := a.pos.elapsed
		switch {
		case t < a.pos.tAccel:
			acc = a.pos.aMax
		case t < a.pos.tAccel+a.pos.tCruise:
			acc = 0
		case t < a.pos.tTotal:
			acc = -a.pos.aMax
		}
		acc *= float64(a.pos.dir)
	case kindVelocity:
		if a.vel.currentV < a.vel.targetV {
			acc = a.vel.accel
		} else if a.vel.currentV > a.vel.targetV {
			acc = -a.vel.accel
		}
		acc *= float64(a.vel.dir)
	}
	hal.ExitCritical(state)
	return acc, nil
}

// IsIdle is true iff no axis has an active profile with nonzero work
// remaining.
func (e *Engine) IsIdle() bool {
	state := hal.EnterCritical()
	defer hal.ExitCritical(state)
	for i := range e.axes {
		if !e.axisIdleLocked(i) {
			return false
		}
	}
	return true
}

// AxisIdle reports whether a single axis has an active profile with
// nonzero work remaining. Used by callers (homing) that must wait on
// one axis without being blocked by unrelated axes still moving.
func (e *Engine) AxisIdle(ax int) (bool, error) {
	if !e.valid(ax) {
		return false, ErrInvalidAxis
	}
	state := hal.EnterCritical()
	defer hal.ExitCritical(state)
	return e.axisIdleLocked(ax), nil
}

func (e *Engine) axisIdleLocked(i int) bool {
	a := &e.axes[i]
	switch a.active {
	case kindPosition:
		return a.pos.done()
	case kindVelocity:
		return a.vel.currentV == 0 && a.vel.targetV == 0
	}
	return true
}

// totalStepCount is a monotonically increasing diagnostic counter,
// incremented from Tick; exposed for logging/telemetry only.
var totalStepCount int64

// TotalStepCount returns the process-lifetime pulse count across all
// axes, for diagnostics.
func TotalStepCount() int64 {
	return atomic.LoadInt64(&totalStepCount)
}
