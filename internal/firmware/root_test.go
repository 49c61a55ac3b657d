package firmware

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/sixar/motion-firmware/internal/config"
	"github.com/sixar/motion-firmware/internal/hal"
	"github.com/sixar/motion-firmware/internal/ioboard"
	"github.com/sixar/motion-firmware/internal/motion"
	"github.com/sixar/motion-firmware/internal/stepengine"
)

type fakeGPIO struct{ pins map[hal.Pin]bool }

func newFakeGPIO() *fakeGPIO { return &fakeGPIO{pins: map[hal.Pin]bool{}} }

func (f *fakeGPIO) ConfigureOutput(pin hal.Pin) error        { return nil }
func (f *fakeGPIO) ConfigureInputPullUp(pin hal.Pin) error   { return nil }
func (f *fakeGPIO) ConfigureInputPullDown(pin hal.Pin) error { return nil }
func (f *fakeGPIO) SetPin(pin hal.Pin, v bool) error         { f.pins[pin] = v; return nil }
func (f *fakeGPIO) ReadPin(pin hal.Pin) bool                 { return f.pins[pin] }

type fakeClock struct{ us uint64 }

func (c *fakeClock) NowMicros() uint64 { return c.us }
func (c *fakeClock) advance(us uint64) { c.us += us }

type memStorage struct {
	data []byte
}

func (m *memStorage) Load() ([]byte, error) { return m.data, nil }
func (m *memStorage) Save(data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.data = cp
	return nil
}

func testDefaults() [Joints]config.Defaults {
	specs := []struct{ maxSpeed, maxAccel, homeFast, homeSlow, min, max, offset, factor float64 }{
		{25, 25, 8, 3, 0, 180, 37, 1},
		{60, 25, 5, 2, 0, 170, 10, 1},
		{80, 150, 10, 2, 0, 250, 29.5, 1},
		{150, 1800, 20, 3, 0, 350, 213.5, 1},
		{250, 250, 20, 3, 0, 240, 120, 1},
		{700, 5600, 50, 3, 0, 345, 147, 1},
	}
	var d [Joints]config.Defaults
	for i, s := range specs {
		d[i] = config.Defaults{
			PositionFactor: s.factor, MaxAccel: s.maxAccel, MaxSpeed: s.maxSpeed,
			HomingSpeed: s.homeFast, SlowHomingSpeed: s.homeSlow,
			JointMin: s.min, JointMax: s.max, HomeOffset: s.offset,
		}
	}
	return d
}

func testMechanical() [Joints]motion.Mechanical {
	specs := []struct {
		stepsPerRev, gearbox float64
	}{
		{6400, 136.0 / 24.0},
		{400, 75.0 / 24.0 * 5.0 * 27.0},
		{400, 75.0 / 24.0 * 5.0 * 27.0},
		{1600, 27.0},
		{1600, 20.0},
		{1600, 10.0},
	}
	var m [Joints]motion.Mechanical
	for i, s := range specs {
		m[i] = motion.Mechanical{StepsPerRev: s.stepsPerRev, GearboxRatio: s.gearbox}
	}
	return m
}

func testIOConfigs() ([ioboard.InputCount]ioboard.InputConfig, [ioboard.OutputCount]ioboard.OutputConfig) {
	var in [ioboard.InputCount]ioboard.InputConfig
	for i := range in {
		in[i] = ioboard.InputConfig{Pin: hal.Pin(1000 + i), ActiveLow: true, DebounceUs: 20000}
	}
	// The e-stop line is wired normally-closed and active-high in this
	// fixture so a freshly booted board reads "not estopped".
	in[ioboard.EstopIndex] = ioboard.InputConfig{Pin: hal.Pin(1000 + ioboard.EstopIndex), ActiveLow: false, DebounceUs: 20000}
	var out [ioboard.OutputCount]ioboard.OutputConfig
	for i := range out {
		out[i] = ioboard.OutputConfig{Pin: hal.Pin(2000 + i)}
	}
	return in, out
}

func newTestRoot(t *testing.T) (*Root, *fakeGPIO, *fakeClock) {
	t.Helper()
	gpio := newFakeGPIO()
	clk := &fakeClock{}
	inputs, outputs := testIOConfigs()

	// Every digital input is wired through a pull-up in this fixture, so
	// an unconnected/unpressed line reads high by default (matching the
	// original board's real wiring) regardless of active-low polarity.
	for _, cfg := range inputs {
		gpio.pins[cfg.Pin] = true
	}

	var axisPins [Joints]stepengine.AxisPins
	for i := range axisPins {
		axisPins[i] = stepengine.AxisPins{Step: hal.Pin(3000 + 2*i), Dir: hal.Pin(3001 + 2*i)}
	}

	r := New(Params{
		GPIO:            gpio,
		Clock:           clk,
		ConfigStorage:   &memStorage{},
		PositionStorage: &memStorage{},
		AxisPins:        axisPins,
		Mechanical:      testMechanical(),
		Defaults:        testDefaults(),
		Inputs:          inputs,
		Outputs:         outputs,
		TickFreqHz:      10000,
	})

	// Estop input starts active-high/not-estopped per the fixture; run
	// one tick so the debounce layer settles and the ready output
	// reflects it before tests submit motion.
	clk.advance(30000)
	r.Tick()
	return r, gpio, clk
}

func decodeLine(t *testing.T, raw []byte) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("invalid reply JSON %s: %v", raw, err)
	}
	return m
}

// runTicks drives both concurrency contexts the way two independent
// timers would on real hardware: the step engine's tick context at
// the same rate as the main-loop iterations under test.
func runTicks(r *Root, clk *fakeClock, dt uint64, n int) {
	for i := 0; i < n; i++ {
		clk.advance(dt)
		r.engine.Tick()
		r.Tick()
	}
}

func TestSimpleMoveEndToEnd(t *testing.T) {
	r, _, clk := newTestRoot(t)

	r.Ingest(`{"cmd":"MoveTo","id":7,"joint":1,"target":1,"speed":10,"accel":10}`)
	runTicks(r, clk, 100, 1)

	replies := r.Drain()
	if len(replies) != 1 {
		t.Fatalf("expected exactly one reply, got %d", len(replies))
	}
	reply := decodeLine(t, replies[0])
	if reply["status"] != "ok" || reply["cmd"] != "moveTo" {
		t.Fatalf("unexpected reply: %v", reply)
	}

	// Drive the tick loop until the move settles (stepsPerDeg for
	// joint 1: 6400*(136/24)/360 ~= 100.74).
	runTicks(r, clk, 100, 20000)

	pos, err := r.motion.PositionDeg(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos < 0.9 || pos > 1.1 {
		t.Fatalf("expected joint 1 position near 1.0 deg, got %v", pos)
	}
}

func TestHomingEndToEndPublishesLimits(t *testing.T) {
	r, gpio, clk := newTestRoot(t)

	r.Ingest(`{"cmd":"Home","joint":1,"speedFast":8,"speedSlow":3}`)
	runTicks(r, clk, 100, 1)
	ackReplies := r.Drain()
	if len(ackReplies) != 1 || decodeLine(t, ackReplies[0])["status"] != "ok" {
		t.Fatalf("expected home ack, got %v", ackReplies)
	}

	limitPin := hal.Pin(1000 + ioboard.LimitIndex(0))

	// FAST_APPROACH: assert the limit switch (active-low: pull low).
	gpio.pins[limitPin] = false
	runTicks(r, clk, 100, 400)

	// BACKOFF: release the switch and let the 5deg backoff move settle
	// (at fastSpeed=8deg/s, aMax=180deg/s^2 that's ~0.67s of sim time),
	// then require two consecutive clear polls before SLOW_APPROACH
	// begins.
	gpio.pins[limitPin] = true
	runTicks(r, clk, 100, 10000)

	// SLOW_APPROACH: re-assert the limit switch to trigger FINAL_OFFSET,
	// a 37deg move at slowSpeed=3deg/s (~12.3s of sim time).
	gpio.pins[limitPin] = false
	runTicks(r, clk, 100, 130000)

	var homedLine []byte
	for _, line := range r.Drain() {
		if strings.Contains(string(line), `"homed"`) {
			homedLine = line
		}
	}
	if homedLine == nil {
		t.Fatalf("expected a homed notification")
	}
	note := decodeLine(t, homedLine)
	data := note["data"].(map[string]interface{})
	if data["joint"].(float64) != 1 {
		t.Fatalf("unexpected homed joint: %v", data)
	}
	if data["min"].(float64) != -37 || data["max"].(float64) != 143 {
		t.Fatalf("unexpected published limits: %v", data)
	}
}

func TestEstopRejectsSubmission(t *testing.T) {
	r, gpio, clk := newTestRoot(t)

	estopPin := hal.Pin(1000 + ioboard.EstopIndex)
	gpio.pins[estopPin] = false // active-high config: low means broken loop => estopped
	// One iteration sees the edge, the next commits it after the debounce
	// window, and the third latches it in the Safety Arbiter.
	runTicks(r, clk, 30000, 3)

	r.Ingest(`{"cmd":"MoveTo","joint":1,"target":10,"speed":10,"accel":10}`)
	runTicks(r, clk, 100, 1)

	replies := r.Drain()
	if len(replies) != 1 {
		t.Fatalf("expected one reply, got %d", len(replies))
	}
	reply := decodeLine(t, replies[0])
	if reply["status"] != "error" {
		t.Fatalf("expected rejection while estopped, got %v", reply)
	}
}
