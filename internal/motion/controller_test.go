package motion

import (
	"math"
	"testing"

	"github.com/sixar/motion-firmware/internal/hal"
	"github.com/sixar/motion-firmware/internal/stepengine"
)

type fakeGPIO struct{ values map[hal.Pin]bool }

func newFakeGPIO() *fakeGPIO { return &fakeGPIO{values: make(map[hal.Pin]bool)} }

func (f *fakeGPIO) ConfigureOutput(pin hal.Pin) error        { return nil }
func (f *fakeGPIO) ConfigureInputPullUp(pin hal.Pin) error   { return nil }
func (f *fakeGPIO) ConfigureInputPullDown(pin hal.Pin) error { return nil }
func (f *fakeGPIO) SetPin(pin hal.Pin, v bool) error         { f.values[pin] = v; return nil }
func (f *fakeGPIO) ReadPin(pin hal.Pin) bool                 { return f.values[pin] }

type fakeConfig struct {
	t []Tunables
}

func (f *fakeConfig) AxisTunables(axis int) (Tunables, error) {
	return f.t[axis], nil
}

type fakeEstop struct{ v bool }

func (f *fakeEstop) Estopped() bool { return f.v }

func newTestController(n int) (*Controller, *stepengine.Engine, *fakeConfig, *fakeEstop) {
	pins := make([]stepengine.AxisPins, n)
	g := newFakeGPIO()
	eng := stepengine.New(g, pins, 10000)

	mech := make([]Mechanical, n)
	tun := make([]Tunables, n)
	for i := range mech {
		mech[i] = Mechanical{StepsPerRev: 200, GearboxRatio: 100}
		tun[i] = Tunables{
			MaxSpeedDegS: 100, MaxAccelDegS2: 100,
			JointMinDeg: -90, JointMaxDeg: 90, HomeOffsetDeg: 0, PositionFactor: 1,
		}
	}
	cfg := &fakeConfig{t: tun}
	estop := &fakeEstop{}
	return New(eng, cfg, estop, mech), eng, cfg, estop
}

func TestMoveRejectsOutOfRange(t *testing.T) {
	c, _, _, _ := newTestController(1)
	err := c.Move(0, 0, 91, 10, 10, false)
	if err != ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestMoveRejectedWhileEstopped(t *testing.T) {
	c, _, _, estop := newTestController(1)
	estop.v = true
	err := c.Move(0, 0, 10, 10, 10, false)
	if err != ErrEstopped {
		t.Fatalf("expected ErrEstopped, got %v", err)
	}
}

func TestMoveReachesApproximateTarget(t *testing.T) {
	c, eng, _, _ := newTestController(1)
	if err := c.Move(0, 0, 10, 50, 50, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 1000000 && !eng.IsIdle(); i++ {
		eng.Tick()
	}
	pos, err := c.PositionDeg(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(pos-10) > 0.1 {
		t.Fatalf("expected ~10 degrees, got %v", pos)
	}
}

func TestInvalidAxisRejected(t *testing.T) {
	c, _, _, _ := newTestController(1)
	if err := c.Move(5, 0, 1, 1, 1, false); err != ErrInvalidAxis {
		t.Fatalf("expected ErrInvalidAxis, got %v", err)
	}
}

func TestDirtyCacheRefreshesOnNextSubmission(t *testing.T) {
	c, _, cfg, _ := newTestController(1)
	min0, max0, _ := c.SoftLimits(0)
	if min0 != -90 || max0 != 90 {
		t.Fatalf("unexpected initial limits: %v %v", min0, max0)
	}
	cfg.t[0].JointMaxDeg = 45
	c.MarkDirty(0)
	_, max1, _ := c.SoftLimits(0)
	if max1 != 45 {
		t.Fatalf("expected refreshed max 45, got %v", max1)
	}
}
