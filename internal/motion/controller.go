// Package motion translates engineering units (degrees, deg/s, deg/s^2)
// to steps, enforces soft limits, and routes submissions to the step
// engine. It owns the per-axis derived-cache discipline described in
// spec.md §4.2.
package motion

import (
	"errors"
	"fmt"
	"math"

	"github.com/sixar/motion-firmware/internal/stepengine"
)

// ErrInvalidAxis, ErrEstopped and ErrOutOfRange are returned by
// Controller methods that reject a submission synchronously.
var (
	ErrInvalidAxis = errors.New("motion: invalid axis index")
	ErrEstopped    = errors.New("motion: estopped")
	ErrOutOfRange  = errors.New("motion: target outside soft limits")
)

// Tunables are the mutable-via-configuration parameters of one axis.
type Tunables struct {
	MaxSpeedDegS     float64
	MaxAccelDegS2    float64
	HomingSpeedDegS  float64
	SlowHomingDegS   float64
	JointMinDeg      float64
	JointMaxDeg      float64
	HomeOffsetDeg    float64
	PositionFactor   float64
}

// Mechanical are the immutable-after-boot constants of one axis.
type Mechanical struct {
	StepsPerRev   float64
	GearboxRatio  float64
	InvertDir     bool
}

// cache is the derived, dirty-bit-invalidated view of one axis.
type cache struct {
	dirty          bool
	stepsPerDeg    float64
	userMinDeg     float64
	userMaxDeg     float64
	tunables       Tunables
}

// ConfigSource is the external collaborator (spec.md §1) that owns
// persisted tunables. Controller reads through it on a dirty cache.
type ConfigSource interface {
	AxisTunables(axis int) (Tunables, error)
}

// EstopSource reports the Safety Arbiter's latch without this package
// importing it directly (it only needs the boolean).
type EstopSource interface {
	Estopped() bool
}

// Controller is the Motion Controller of spec.md §4.2.
type Controller struct {
	engine *stepengine.Engine
	cfg    ConfigSource
	estop  EstopSource
	mech   []Mechanical
	cache  []cache
}

// New constructs a Controller for len(mech) axes.
func New(engine *stepengine.Engine, cfg ConfigSource, estop EstopSource, mech []Mechanical) *Controller {
	c := &Controller{
		engine: engine,
		cfg:    cfg,
		estop:  estop,
		mech:   mech,
		cache:  make([]cache, len(mech)),
	}
	for i := range c.cache {
		c.cache[i].dirty = true
	}
	return c
}

func (c *Controller) valid(axis int) bool {
	return axis >= 0 && axis < len(c.mech)
}

// MarkDirty invalidates the derived cache for one axis. Called by the
// Command Dispatcher after it writes a joint<N>.<param> value.
func (c *Controller) MarkDirty(axis int) {
	if c.valid(axis) {
		c.cache[axis].dirty = true
	}
}

// refresh reloads and recomputes the derived cache for axis if dirty.
// Grounded on JointManager.cpp::_reloadCache's exact derivation order.
func (c *Controller) refresh(axis int) error {
	ca := &c.cache[axis]
	if !ca.dirty {
		return nil
	}
	t, err := c.cfg.AxisTunables(axis)
	if err != nil {
		return fmt.Errorf("motion: reloading axis %d cache: %w", axis, err)
	}
	ca.tunables = t

	factor := t.PositionFactor
	if factor == 0 {
		factor = 1
	}
	m := c.mech[axis]
	ca.stepsPerDeg = (m.StepsPerRev * m.GearboxRatio / 360.0) / factor
	ca.userMinDeg = t.JointMinDeg - t.HomeOffsetDeg
	ca.userMaxDeg = t.JointMaxDeg - t.HomeOffsetDeg
	ca.dirty = false
	return nil
}

// Move submits a trapezoidal point-to-point move. currentPosDeg is the
// axis's current position in user-space degrees.
func (c *Controller) Move(axis int, currentPosDeg, targetDeg, vMaxDegS, aMaxDegS2 float64, ignoreLimits bool) error {
	if !c.valid(axis) {
		return ErrInvalidAxis
	}
	if c.estop != nil && c.estop.Estopped() {
		return ErrEstopped
	}
	if err := c.refresh(axis); err != nil {
		return err
	}
	ca := &c.cache[axis]
	if !ignoreLimits && (targetDeg < ca.userMinDeg || targetDeg > ca.userMaxDeg) {
		return ErrOutOfRange
	}

	deltaDeg := targetDeg - currentPosDeg
	deltaSteps := int64(math.Round(deltaDeg * ca.stepsPerDeg))
	vMaxSteps := vMaxDegS * ca.stepsPerDeg
	aMaxSteps := aMaxDegS2 * ca.stepsPerDeg
	if vMaxSteps < 0 {
		vMaxSteps = -vMaxSteps
	}
	if aMaxSteps < 0 {
		aMaxSteps = -aMaxSteps
	}
	return c.engine.StartPosition(axis, deltaSteps, vMaxSteps, aMaxSteps)
}

// MoveMultiple iterates Move per axis; the aggregate result is the
// logical AND of per-axis results (no coordinated time-sync between
// axes).
func (c *Controller) MoveMultiple(axes []int, currentPosDeg, targets, speeds, accels []float64, ignoreLimits bool) error {
	if len(axes) != len(targets) || len(axes) != len(speeds) || len(axes) != len(accels) || len(axes) != len(currentPosDeg) {
		return errors.New("motion: length mismatch")
	}
	var firstErr error
	for i, ax := range axes {
		if err := c.Move(ax, currentPosDeg[i], targets[i], speeds[i], accels[i], ignoreLimits); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Jog submits a velocity plan with the sign of vSignedDegS.
func (c *Controller) Jog(axis int, vSignedDegS, aDegS2 float64) error {
	if !c.valid(axis) {
		return ErrInvalidAxis
	}
	if c.estop != nil && c.estop.Estopped() {
		return ErrEstopped
	}
	if err := c.refresh(axis); err != nil {
		return err
	}
	ca := &c.cache[axis]
	sign := int8(1)
	if vSignedDegS < 0 {
		sign = -1
	}
	vSteps := math.Abs(vSignedDegS) * ca.stepsPerDeg
	aSteps := math.Abs(aDegS2) * ca.stepsPerDeg
	return c.engine.StartJog(axis, sign, vSteps, aSteps)
}

// FeedVelocitySlice translates a per-axis deg/s and deg/s^2 slice and
// calls SetAllJogTargets atomically.
func (c *Controller) FeedVelocitySlice(vDegS, aDegS2 []float64) error {
	if len(vDegS) != len(c.mech) || len(aDegS2) != len(c.mech) {
		return errors.New("motion: length mismatch")
	}
	vSteps := make([]float64, len(vDegS))
	aSteps := make([]float64, len(aDegS2))
	for i := range vDegS {
		if err := c.refresh(i); err != nil {
			return err
		}
		ca := &c.cache[i]
		vSteps[i] = vDegS[i] * ca.stepsPerDeg
		aSteps[i] = math.Abs(aDegS2[i]) * ca.stepsPerDeg
	}
	return c.engine.SetAllJogTargets(vSteps, aSteps)
}

// SetAllJogZero targets every axis toward zero velocity at aDegS2.
func (c *Controller) SetAllJogZero(aDegS2 float64) error {
	v := make([]float64, len(c.mech))
	a := make([]float64, len(c.mech))
	for i := range c.mech {
		if err := c.refresh(i); err != nil {
			return err
		}
		a[i] = math.Abs(aDegS2) * c.cache[i].stepsPerDeg
	}
	return c.engine.SetAllJogTargets(v, a)
}

// StopAll proxies EmergencyStop on the engine without touching the
// safety latch.
func (c *Controller) StopAll() {
	c.engine.EmergencyStop()
}

// StopJog clears one axis's running plan.
func (c *Controller) StopJog(axis int) error {
	if !c.valid(axis) {
		return ErrInvalidAxis
	}
	return c.engine.StopJog(axis)
}

// ResetPosition writes the engine's authoritative steps from a
// user-space degree value.
func (c *Controller) ResetPosition(axis int, posDeg float64) error {
	if !c.valid(axis) {
		return ErrInvalidAxis
	}
	if err := c.refresh(axis); err != nil {
		return err
	}
	steps := int64(math.Round(posDeg * c.cache[axis].stepsPerDeg))
	return c.engine.ResetPosition(axis, steps)
}

// PositionDeg returns an axis's current position in user-space degrees.
func (c *Controller) PositionDeg(axis int) (float64, error) {
	if !c.valid(axis) {
		return 0, ErrInvalidAxis
	}
	if err := c.refresh(axis); err != nil {
		return 0, err
	}
	steps, err := c.engine.Position(axis)
	if err != nil {
		return 0, err
	}
	return float64(steps) / c.cache[axis].stepsPerDeg, nil
}

// TargetDeg returns an axis's planned end position in degrees.
func (c *Controller) TargetDeg(axis int) (float64, error) {
	if !c.valid(axis) {
		return 0, ErrInvalidAxis
	}
	if err := c.refresh(axis); err != nil {
		return 0, err
	}
	steps, err := c.engine.TargetSteps(axis)
	if err != nil {
		return 0, err
	}
	return float64(steps) / c.cache[axis].stepsPerDeg, nil
}

// VelocityDegS returns an axis's current signed velocity in deg/s.
func (c *Controller) VelocityDegS(axis int) (float64, error) {
	if !c.valid(axis) {
		return 0, ErrInvalidAxis
	}
	if err := c.refresh(axis); err != nil {
		return 0, err
	}
	v, err := c.engine.CurrentVelocity(axis)
	if err != nil {
		return 0, err
	}
	return v / c.cache[axis].stepsPerDeg, nil
}

// AccelDegS2 returns an axis's current signed acceleration in deg/s^2.
func (c *Controller) AccelDegS2(axis int) (float64, error) {
	if !c.valid(axis) {
		return 0, ErrInvalidAxis
	}
	if err := c.refresh(axis); err != nil {
		return 0, err
	}
	a, err := c.engine.CurrentAccel(axis)
	if err != nil {
		return 0, err
	}
	return a / c.cache[axis].stepsPerDeg, nil
}

// IsIdle reports whether the underlying engine has any axis with work
// remaining.
func (c *Controller) IsIdle() bool {
	return c.engine.IsIdle()
}

// AxisIdle reports whether a single axis has finished its active
// profile, without being blocked by unrelated axes still moving.
func (c *Controller) AxisIdle(axis int) (bool, error) {
	if !c.valid(axis) {
		return false, ErrInvalidAxis
	}
	return c.engine.AxisIdle(axis)
}

// SoftLimits returns the axis's user-space [min, max] in degrees.
func (c *Controller) SoftLimits(axis int) (min, max float64, err error) {
	if !c.valid(axis) {
		return 0, 0, ErrInvalidAxis
	}
	if err := c.refresh(axis); err != nil {
		return 0, 0, err
	}
	ca := &c.cache[axis]
	return ca.userMinDeg, ca.userMaxDeg, nil
}
