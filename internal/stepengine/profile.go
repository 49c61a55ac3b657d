package stepengine

import "math"

// kind tags which profile variant, if any, is active on an axis.
type kind uint8

const (
	kindNone kind = iota
	kindPosition
	kindVelocity
)

// positionPlan is a trapezoidal (or degenerate triangular) move to a
// fixed number of steps in one direction.
type positionPlan struct {
	dir        int8 // +1 or -1
	totalSteps uint32
	doneSteps  uint32
	vMax       float64 // steps/s, peak of this plan (may be clamped below the axis's configured vMax)
	aMax       float64 // steps/s^2
	tAccel     float64
	tCruise    float64
	tTotal     float64
	elapsed    float64
}

// newPositionPlan derives the trapezoid/triangle shape for totalSteps
// steps under the given velocity and acceleration caps. Mirrors
// spec.md §4.1's "Trapezoid vs triangle choice" exactly.
func newPositionPlan(dir int8, totalSteps uint32, vMax, aMax float64) positionPlan {
	p := positionPlan{dir: dir, totalSteps: totalSteps, vMax: vMax, aMax: aMax}
	if totalSteps == 0 || aMax <= 0 {
		p.tTotal = 0
		return p
	}

	tAccelFull := vMax / aMax
	dAFull := 0.5 * aMax * tAccelFull * tAccelFull

	if float64(totalSteps) < 2*dAFull {
		// Triangular: never reaches vMax.
		p.vMax = math.Sqrt(float64(totalSteps) * aMax)
		p.tAccel = p.vMax / aMax
		p.tCruise = 0
	} else {
		p.tAccel = tAccelFull
		p.tCruise = (float64(totalSteps) - 2*dAFull) / vMax
	}
	p.tTotal = 2*p.tAccel + p.tCruise
	return p
}

func (p positionPlan) done() bool {
	return p.totalSteps == 0 || p.doneSteps >= p.totalSteps
}

// velocityAt returns the commanded scalar speed (steps/s, unsigned) at
// elapsed time t, per the phase curve in spec.md §4.1.
func (p positionPlan) velocityAt(t float64) float64 {
	switch {
	case t < p.tAccel:
		return p.aMax * t
	case t < p.tAccel+p.tCruise:
		return p.vMax
	case t < p.tTotal:
		v := p.vMax - p.aMax*(t-p.tAccel-p.tCruise)
		if v < 0 {
			return 0
		}
		return v
	default:
		return 0
	}
}

// velocityPlan is a continuously slewed target velocity (jog or batch
// micro-step) under an acceleration cap.
//
// dir is the direction currently being applied (and written to the
// direction pin); targetDir/targetV describe where the plan is headed.
// They can differ for the duration of a reversal: the axis keeps
// decelerating in dir until currentV reaches zero, and only then does
// dir snap to targetDir. This is the spec's resolved Open Question:
// the direction pin flips exactly at the v=0 crossing.
type velocityPlan struct {
	dir      int8
	targetDir int8
	targetV  float64 // unsigned magnitude
	accel    float64
	currentV float64 // unsigned magnitude
}

// step advances currentV toward targetV by at most accel*dt, flipping
// dir to targetDir exactly when currentV reaches zero during a
// reversal. Returns the direction and magnitude to apply this tick.
func (vp *velocityPlan) step(dt float64) (dir int8, v float64) {
	dv := vp.accel * dt

	if vp.targetDir != vp.dir {
		// Reversing: decelerate to zero in the old direction first.
		if vp.currentV <= dv {
			vp.currentV = 0
			vp.dir = vp.targetDir
		} else {
			vp.currentV -= dv
		}
		return vp.dir, vp.currentV
	}

	if math.Abs(vp.targetV-vp.currentV) <= dv {
		vp.currentV = vp.targetV
	} else if vp.currentV < vp.targetV {
		vp.currentV += dv
	} else {
		vp.currentV -= dv
	}
	if vp.currentV < 0 {
		vp.currentV = 0
	}
	return vp.dir, vp.currentV
}
