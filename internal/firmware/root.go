// Package firmware wires every component into the single root
// structure described by SPEC_FULL.md §4.11: the boot sequence and
// the main-loop order that drives the rest of the tree.
package firmware

import (
	"encoding/json"
	"fmt"

	"github.com/sixar/motion-firmware/internal/batch"
	"github.com/sixar/motion-firmware/internal/config"
	"github.com/sixar/motion-firmware/internal/dispatch"
	"github.com/sixar/motion-firmware/internal/hal"
	"github.com/sixar/motion-firmware/internal/homing"
	"github.com/sixar/motion-firmware/internal/ioboard"
	"github.com/sixar/motion-firmware/internal/motion"
	"github.com/sixar/motion-firmware/internal/nvram"
	"github.com/sixar/motion-firmware/internal/safety"
	"github.com/sixar/motion-firmware/internal/stepengine"
)

// Joints is the fixed axis count this firmware drives.
const Joints = 6

// Params bundles everything boot-time wiring needs. Restart and Log may
// be nil; every other field is used as given and New does not check
// them.
type Params struct {
	GPIO  hal.GPIODriver
	Clock hal.Clock

	ConfigStorage   config.Storage
	PositionStorage nvram.Storage

	AxisPins   [Joints]stepengine.AxisPins
	Mechanical [Joints]motion.Mechanical
	Defaults   [Joints]config.Defaults

	Inputs  [ioboard.InputCount]ioboard.InputConfig
	Outputs [ioboard.OutputCount]ioboard.OutputConfig

	TickFreqHz float64

	// Restart is invoked synchronously when a Restart command arrives,
	// after joint positions have been persisted. The rp2040 target
	// calls machine.CPUReset; the host targets exit the process.
	Restart func()

	// Log receives a line of diagnostic text, mirroring the original
	// firmware's sendLog notification.
	Log func(line string)
}

// Root is the firmware's single top-level structure. It owns every
// other component and exposes the two entry points a platform main
// needs: Tick (one main-loop iteration) and Ingest (one received
// line).
type Root struct {
	engine   *stepengine.Engine
	motion   *motion.Controller
	cfg      *config.Store
	pos      *nvram.Store
	io       *ioboard.Board
	safety   *safety.Arbiter
	homing   *homing.Controller
	batch    *batch.Streamer
	dispatch *dispatch.Dispatcher

	rawQueue *dispatch.RawQueue

	outbox     [][]byte
	wasIdle    bool
	logFn      func(string)

	lastHomed *homing.Result
}

type microClock struct{ hal.Clock }

func (m microClock) NowSeconds() float64 {
	return float64(m.NowMicros()) / 1e6
}

// New wires every component in the order SPEC_FULL.md §4.11 specifies:
// Config Store, Position Store, I/O Board, Step Engine, Motion
// Controller, Homing Controller, Safety Arbiter, Batch Streamer,
// Command Dispatcher, raw-line queue, then the persisted positions are
// loaded into the Motion Controller.
func New(p Params) *Root {
	r := &Root{logFn: p.Log}

	r.cfg = config.New(p.ConfigStorage, p.Defaults)
	r.pos = nvram.New(p.PositionStorage)

	r.io = ioboard.New(p.GPIO, p.Clock, p.Inputs, p.Outputs)

	r.engine = stepengine.New(p.GPIO, p.AxisPins[:], p.TickFreqHz)

	r.motion = motion.New(r.engine, r.cfg, estopView{r}, p.Mechanical[:])

	r.homing = homing.New(r.motion, estopView{r}, r.onHomed)

	r.safety = safety.New(r.engine, r.homing, safety.Callbacks{
		SetLED: func(s safety.LEDState) { r.driveLED(s) },
		OnEnter: func() {
			r.batch.EstopAbort()
			r.logf("estop asserted")
		},
		OnExit: func() { r.logf("estop cleared") },
	})

	r.batch = batch.New(r.motion, microClock{p.Clock}, Joints, batch.Callbacks{
		OnSegmentLoaded: func(i int) { r.notify(map[string]interface{}{"cmd": "SegmentLoaded", "data": i}) },
		OnExecStart:     func() { r.notify(map[string]interface{}{"cmd": "BatchExecStart"}) },
		OnComplete:      func() { r.notify(map[string]interface{}{"cmd": "BatchComplete"}) },
		OnAborted:       func() { r.notify(map[string]interface{}{"cmd": "BatchAborted"}) },
	})

	restart := p.Restart
	r.dispatch = dispatch.New(r.motion, r.homing, r.batch, r.safety, r.cfg, r.io, Joints, func() {
		r.Shutdown()
		if restart != nil {
			restart()
		}
	})

	r.rawQueue = dispatch.NewRawQueue(400)

	if positions, ok := r.pos.Load(); ok {
		for axis, deg := range positions {
			_ = r.motion.ResetPosition(axis, deg)
		}
	}

	r.wasIdle = r.motion.IsIdle()
	return r
}

// estopView adapts Root to the ConfigSource-adjacent EstopSource
// interfaces motion and homing each declare independently.
type estopView struct{ r *Root }

func (e estopView) Estopped() bool { return e.r.safety.Estopped() }

func (r *Root) onHomed(res homing.Result) {
	r.lastHomed = &res
	r.notify(map[string]interface{}{
		"cmd":  "homed",
		"data": map[string]interface{}{"joint": res.Axis + 1, "min": res.MinPos, "max": res.MaxPos},
	})
}

func (r *Root) driveLED(s safety.LEDState) {
	switch s {
	case safety.LEDOff:
		r.io.SetOutput(1, false)
	case safety.LEDBlink:
		r.io.SetOutput(1, true)
	case safety.LEDSteady:
		r.io.SetOutput(1, true)
	}
}

func (r *Root) logf(format string, args ...interface{}) {
	if r.logFn != nil {
		r.logFn(fmt.Sprintf(format, args...))
	}
}

func (r *Root) notify(v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	r.outbox = append(r.outbox, raw)
}

// Ingest enqueues one raw received line (spec.md §5: "polls serial
// input into a raw-line queue"). Overflow drops the newest line.
func (r *Root) Ingest(line string) {
	r.rawQueue.Push(line)
}

// Drain returns and clears every pending outbound notification/reply
// line produced since the last Drain call.
func (r *Root) Drain() [][]byte {
	out := r.outbox
	r.outbox = nil
	return out
}

// TickStepEngine runs one period of the Step Engine's tick context.
// This belongs to a different concurrency domain than Tick (spec.md
// §5): a hardware timer ISR on the tinygo target, or a dedicated
// goroutine paced by a ticker in a host simulation. Platform mains own
// calling this at the configured TickFreqHz; Tick itself never does.
func (r *Root) TickStepEngine() {
	r.engine.Tick()
}

// Tick runs exactly one main-loop iteration in the order SPEC_FULL.md
// §4.11 specifies: dispatch one buffered line (unless executing a
// batch), safety checks, batch execution, homing, config/position
// write-back, and debounced input update.
func (r *Root) Tick() {
	if r.batch.State() != batch.Executing {
		if line, ok := r.rawQueue.Pop(); ok {
			reply := r.dispatch.Dispatch([]byte(line))
			r.outbox = append(r.outbox, reply)
		}
	}

	ack := r.io.InputActive(0)
	r.safety.RunChecks(r.io.Estopped(), ack)

	r.batch.Tick()

	if axis, ok := r.homing.ActiveAxis(); ok {
		r.homing.Update(r.io.LimitActive(axis))
	}

	if r.cfg.Dirty() {
		if err := r.cfg.Save(); err != nil {
			r.logf("config save failed: %v", err)
		}
	}

	idleNow := r.motion.IsIdle()
	if idleNow && !r.wasIdle {
		r.savePositions()
	}
	r.wasIdle = idleNow

	r.io.Poll()
}

func (r *Root) savePositions() {
	var positions [nvram.Joints]float64
	for axis := 0; axis < Joints; axis++ {
		deg, err := r.motion.PositionDeg(axis)
		if err != nil {
			continue
		}
		positions[axis] = deg
	}
	if err := r.pos.Save(positions); err != nil {
		r.logf("position save failed: %v", err)
	}
}

// Shutdown persists positions unconditionally, for an explicit
// restart request.
func (r *Root) Shutdown() {
	r.savePositions()
}
