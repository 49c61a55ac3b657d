// Package dispatch implements the Command Dispatcher of spec.md §4.6
// and SPEC_FULL.md §4.10: a map-based JSON line-protocol router that
// replaces the original firmware's hash-switch `dispatchCommand`.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sixar/motion-firmware/internal/batch"
	"github.com/sixar/motion-firmware/internal/homing"
	"github.com/sixar/motion-firmware/internal/ioboard"
	"github.com/sixar/motion-firmware/internal/motion"
)

// DefaultBackoffDeg is the fixed backoff angle used between the fast
// and slow homing approaches. The original firmware hardcodes this as
// a per-job constructor default rather than a persisted parameter, so
// it is not one of the Config Store's eight tunables.
const DefaultBackoffDeg = 5.0

// Motion is the narrow motion surface the dispatcher drives.
type Motion interface {
	Move(axis int, currentPosDeg, targetDeg, vMaxDegS, aMaxDegS2 float64, ignoreLimits bool) error
	MoveMultiple(axes []int, currentPosDeg, targets, speeds, accels []float64, ignoreLimits bool) error
	Jog(axis int, vSignedDegS, aDegS2 float64) error
	StopJog(axis int) error
	StopAll()
	PositionDeg(axis int) (float64, error)
	TargetDeg(axis int) (float64, error)
	VelocityDegS(axis int) (float64, error)
	AccelDegS2(axis int) (float64, error)
	SoftLimits(axis int) (float64, float64, error)
	IsIdle() bool
	MarkDirty(axis int)
}

// Homing is the narrow homing surface the dispatcher drives.
type Homing interface {
	Start(axis int, limits homing.Limits, speedFast, speedSlow float64) error
	Abort()
	IsHoming() bool
}

// Batch is the narrow batch-streaming surface the dispatcher drives.
type Batch interface {
	BeginBatch(count int, dt float64) error
	Segment(seg batch.Segment) error
	AbortBatch() error
	State() batch.State
}

// SafetyLatch reports the Safety Arbiter's latch.
type SafetyLatch interface {
	Estopped() bool
}

// ParamStore is the narrow configuration surface the dispatcher
// drives for SetParam/GetParam and the named tunable shortcuts.
type ParamStore interface {
	GetParam(key string, defaultValue float64) float64
	SetParam(key string, value float64)
	AxisTunables(axis int) (motion.Tunables, error)
	SetHomeOffset(axis int, value float64)
	GetHomeOffset(axis int) float64
	SetPositionFactor(axis int, value float64)
	GetPositionFactor(axis int) float64
	ListParameters() map[string]float64
}

// IOBoard is the narrow I/O surface the dispatcher drives.
type IOBoard interface {
	Inputs() [ioboard.InputCount]bool
	Outputs() [ioboard.OutputCount]bool
	SetOutput(idx int, high bool) bool
}

// Dispatcher routes newline-delimited JSON command lines to the
// firmware's components and produces newline-delimited JSON replies.
type Dispatcher struct {
	motion  Motion
	homing  Homing
	batch   Batch
	safety  SafetyLatch
	cfg     ParamStore
	io      IOBoard
	joints  int
	restart func()
}

// New constructs a Dispatcher for a joints-axis machine.
func New(m Motion, h Homing, b Batch, s SafetyLatch, cfg ParamStore, io IOBoard, joints int, restart func()) *Dispatcher {
	return &Dispatcher{motion: m, homing: h, batch: b, safety: s, cfg: cfg, io: io, joints: joints, restart: restart}
}

// Reply is the JSON envelope sent back to the host, covering both the
// control shape (status/error) and the data shape (spec.md §6).
type Reply struct {
	Cmd    string      `json:"cmd"`
	Status string      `json:"status,omitempty"`
	ID     *int        `json:"id,omitempty"`
	Error  string      `json:"error,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

type envelope struct {
	Cmd string `json:"cmd"`
	ID  *int   `json:"id,omitempty"`
}

type handlerFunc func(d *Dispatcher, line []byte, id *int) Reply

var handlers map[string]handlerFunc

func init() {
	handlers = map[string]handlerFunc{
		"Move":                handleMoveTo,
		"MoveTo":              handleMoveTo,
		"MoveBy":              handleMoveBy,
		"MoveMultiple":        handleMoveMultiple,
		"Jog":                 handleJog,
		"Stop":                handleStop,
		"StopAll":             handleStopAll,
		"Home":                handleHome,
		"AbortHoming":         handleAbortHoming,
		"IsHoming":            handleIsHoming,
		"BeginBatch":          handleBeginBatch,
		"M":                   handleSegment,
		"AbortBatch":          handleAbortBatch,
		"SetSoftLimits":       handleSetSoftLimits,
		"GetSoftLimits":       handleGetSoftLimits,
		"SetMaxSpeed":         handleSetMaxSpeed,
		"GetMaxSpeed":         handleGetMaxSpeed,
		"SetMaxAccel":         handleSetMaxAccel,
		"GetMaxAccel":         handleGetMaxAccel,
		"SetHomeOffset":       handleSetHomeOffset,
		"GetHomeOffset":       handleGetHomeOffset,
		"SetPositionFactor":   handleSetPositionFactor,
		"GetPositionFactor":   handleGetPositionFactor,
		"SetParam":            handleSetParam,
		"GetParam":            handleGetParam,
		"ListParameters":      handleListParameters,
		"GetInputs":           handleGetInputs,
		"GetOutputs":          handleGetOutputs,
		"Output":              handleOutput,
		"GetSystemStatus":     handleGetSystemStatus,
		"GetJointStatus":      handleGetJointStatus,
		"GetJointStatusAll":   handleGetJointStatusAll,
		"Restart":             handleRestart,
	}
}

// Dispatch parses one line and returns its JSON reply line (without a
// trailing newline). A malformed line yields a parseFailed reply with
// no cmd/id (they could not be recovered).
func (d *Dispatcher) Dispatch(line []byte) []byte {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return mustMarshal(Reply{Status: "error", Error: "parseFailed"})
	}
	h, ok := handlers[env.Cmd]
	if !ok {
		return mustMarshal(d.errReply(env.Cmd, env.ID, "unknownCmd"))
	}
	return mustMarshal(h(d, line, env.ID))
}

func mustMarshal(r Reply) []byte {
	raw, err := json.Marshal(r)
	if err != nil {
		return []byte(`{"status":"error","error":"parseFailed"}`)
	}
	return raw
}

func (d *Dispatcher) okReply(cmd string, id *int) Reply {
	return Reply{Cmd: cmd, Status: "ok", ID: id}
}

func (d *Dispatcher) errReply(cmd string, id *int, tag string) Reply {
	return Reply{Cmd: cmd, Status: "error", ID: id, Error: tag}
}

func (d *Dispatcher) dataReply(cmd string, id *int, data interface{}) Reply {
	return Reply{Cmd: cmd, ID: id, Data: data}
}

func (d *Dispatcher) axisValid(axis int) bool {
	return axis >= 0 && axis < d.joints
}

func motionErrTag(err error) string {
	switch {
	case errors.Is(err, motion.ErrInvalidAxis):
		return "invalid joint"
	case errors.Is(err, motion.ErrEstopped), errors.Is(err, motion.ErrOutOfRange):
		return "invalid/moving/estop"
	default:
		return "invalid/moving/estop"
	}
}

func jointKey(axis int, param string) string {
	return fmt.Sprintf("joint%d.%s", axis+1, param)
}

// parseJointAxis extracts the 0-based axis index from a "joint<N>.*"
// key, for SetParam/GetParam's generic key form.
func parseJointAxis(key string) (int, bool) {
	if !strings.HasPrefix(key, "joint") {
		return 0, false
	}
	rest := key[len("joint"):]
	dot := strings.IndexByte(rest, '.')
	if dot <= 0 {
		return 0, false
	}
	n, err := strconv.Atoi(rest[:dot])
	if err != nil {
		return 0, false
	}
	return n - 1, true
}
