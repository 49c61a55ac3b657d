package stepengine

import (
	"math"
	"testing"

	"github.com/sixar/motion-firmware/internal/hal"
)

// fakeGPIO records pin writes without touching real hardware.
type fakeGPIO struct {
	values map[hal.Pin]bool
}

func newFakeGPIO() *fakeGPIO {
	return &fakeGPIO{values: make(map[hal.Pin]bool)}
}

func (f *fakeGPIO) ConfigureOutput(pin hal.Pin) error         { return nil }
func (f *fakeGPIO) ConfigureInputPullUp(pin hal.Pin) error    { return nil }
func (f *fakeGPIO) ConfigureInputPullDown(pin hal.Pin) error  { return nil }
func (f *fakeGPIO) SetPin(pin hal.Pin, value bool) error      { f.values[pin] = value; return nil }
func (f *fakeGPIO) ReadPin(pin hal.Pin) bool                  { return f.values[pin] }

func newTestEngine(n int, freqHz float64) (*Engine, *fakeGPIO) {
	g := newFakeGPIO()
	pins := make([]AxisPins, n)
	for i := range pins {
		pins[i] = AxisPins{Step: hal.Pin(i * 2), Dir: hal.Pin(i*2 + 1)}
	}
	return New(g, pins, freqHz), g
}

func runUntilIdle(t *testing.T, e *Engine, maxTicks int) int {
	t.Helper()
	for i := 0; i < maxTicks; i++ {
		if e.IsIdle() {
			return i
		}
		e.Tick()
	}
	t.Fatalf("engine did not reach idle within %d ticks", maxTicks)
	return -1
}

func TestStartPositionZeroDeltaIsNoop(t *testing.T) {
	e, _ := newTestEngine(1, 1000)
	if err := e.StartPosition(0, 0, 100, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !e.IsIdle() {
		t.Fatalf("expected idle after zero-delta move")
	}
	pos, _ := e.Position(0)
	if pos != 0 {
		t.Fatalf("position changed on zero-delta move: %d", pos)
	}
}

func TestPositionPlanReachesExactTarget(t *testing.T) {
	e, _ := newTestEngine(1, 10000)
	const steps = 1000
	if err := e.StartPosition(0, steps, 500, 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runUntilIdle(t, e, 100000)
	pos, _ := e.Position(0)
	if pos != steps {
		t.Fatalf("expected position %d, got %d", steps, pos)
	}
}

func TestPositionPlanNegativeDirection(t *testing.T) {
	e, _ := newTestEngine(1, 10000)
	if err := e.StartPosition(0, -500, 500, 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	runUntilIdle(t, e, 100000)
	pos, _ := e.Position(0)
	if pos != -500 {
		t.Fatalf("expected position -500, got %d", pos)
	}
}

func TestInvalidAxisRejected(t *testing.T) {
	e, _ := newTestEngine(2, 1000)
	if err := e.StartPosition(5, 10, 1, 1); err != ErrInvalidAxis {
		t.Fatalf("expected ErrInvalidAxis, got %v", err)
	}
	if _, err := e.Position(-1); err != ErrInvalidAxis {
		t.Fatalf("expected ErrInvalidAxis, got %v", err)
	}
}

func TestVelocityPlanSlewsTowardTarget(t *testing.T) {
	e, _ := newTestEngine(1, 1000)
	if err := e.StartJog(0, 1, 100, 50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		e.Tick()
	}
	v, _ := e.CurrentVelocity(0)
	// After 10 ticks @ 1kHz (10ms) with accel 50 steps/s^2, v should be ~0.5 steps/s.
	if v < 0 || v > 5 {
		t.Fatalf("velocity out of expected range: %v", v)
	}
}

func TestJogReversalFlipsAtZeroCrossing(t *testing.T) {
	e, _ := newTestEngine(1, 1000)
	if err := e.SetJogTarget(0, 10, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Run long enough to approach +10.
	for i := 0; i < 2000; i++ {
		e.Tick()
	}
	v, _ := e.CurrentVelocity(0)
	if math.Abs(v-10) > 0.5 {
		t.Fatalf("expected v~=10, got %v", v)
	}

	// Reverse target.
	if err := e.SetJogTarget(0, -10, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sawZero := false
	for i := 0; i < 4000; i++ {
		e.Tick()
		cv, _ := e.CurrentVelocity(0)
		if sawZero && cv > 0 {
			t.Fatalf("velocity went positive again before settling on new direction: %v", cv)
		}
		if math.Abs(cv) < 1e-9 {
			sawZero = true
		}
	}
	v, _ = e.CurrentVelocity(0)
	if math.Abs(v-(-10)) > 0.5 {
		t.Fatalf("expected v~=-10 after reversal settles, got %v", v)
	}
}

func TestEmergencyStopClearsAllAxes(t *testing.T) {
	e, _ := newTestEngine(3, 1000)
	_ = e.StartPosition(0, 1000000, 10, 10)
	_ = e.StartJog(1, 1, 10, 10)
	e.Tick()
	if e.IsIdle() {
		t.Fatalf("expected engine busy before emergency stop")
	}
	e.EmergencyStop()
	if !e.IsIdle() {
		t.Fatalf("expected idle immediately after emergency stop")
	}
}

func TestResetPosition(t *testing.T) {
	e, _ := newTestEngine(1, 1000)
	if err := e.ResetPosition(0, 42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos, _ := e.Position(0)
	if pos != 42 {
		t.Fatalf("expected 42, got %d", pos)
	}
}

func TestTriangularBoundarySelectsCorrectBranch(t *testing.T) {
	aMax := 1000.0
	vMax := 100.0
	tAccelFull := vMax / aMax
	dAFull := 0.5 * aMax * tAccelFull * tAccelFull

	p := newPositionPlan(1, uint32(2*dAFull), vMax, aMax)
	if p.tCruise != 0 {
		t.Fatalf("expected trapezoidal-with-zero-cruise at exact boundary, got tCruise=%v", p.tCruise)
	}

	p2 := newPositionPlan(1, uint32(2*dAFull)-1, vMax, aMax)
	if p2.vMax >= vMax {
		t.Fatalf("expected triangular branch to clamp below vMax, got %v", p2.vMax)
	}
}

func TestSetAllJogTargetsAtomicLength(t *testing.T) {
	e, _ := newTestEngine(3, 1000)
	if err := e.SetAllJogTargets([]float64{1, 2}, []float64{1, 1}); err == nil {
		t.Fatalf("expected error for mismatched slice length")
	}
	if err := e.SetAllJogTargets([]float64{1, -1, 0}, []float64{10, 10, 10}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
