package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/sixar/motion-firmware/internal/batch"
	"github.com/sixar/motion-firmware/internal/homing"
	"github.com/sixar/motion-firmware/internal/ioboard"
	"github.com/sixar/motion-firmware/internal/motion"
)

type fakeMotion struct {
	positions  map[int]float64
	moveErr    error
	moveCalls  int
	stopAllN   int
	dirtyAxes  []int
	softMin    float64
	softMax    float64
}

func newFakeMotion() *fakeMotion {
	return &fakeMotion{positions: map[int]float64{}}
}

func (f *fakeMotion) Move(axis int, cur, target, speed, accel float64, ignoreLimits bool) error {
	f.moveCalls++
	if f.moveErr != nil {
		return f.moveErr
	}
	f.positions[axis] = target
	return nil
}
func (f *fakeMotion) MoveMultiple(axes []int, cur, targets, speeds, accels []float64, ignoreLimits bool) error {
	for i, ax := range axes {
		f.positions[ax] = targets[i]
	}
	return nil
}
func (f *fakeMotion) Jog(axis int, v, a float64) error        { return f.moveErr }
func (f *fakeMotion) StopJog(axis int) error                  { return nil }
func (f *fakeMotion) StopAll()                                { f.stopAllN++ }
func (f *fakeMotion) PositionDeg(axis int) (float64, error)   { return f.positions[axis], nil }
func (f *fakeMotion) TargetDeg(axis int) (float64, error)     { return f.positions[axis], nil }
func (f *fakeMotion) VelocityDegS(axis int) (float64, error)  { return 0, nil }
func (f *fakeMotion) AccelDegS2(axis int) (float64, error)    { return 0, nil }
func (f *fakeMotion) SoftLimits(axis int) (float64, float64, error) {
	return f.softMin, f.softMax, nil
}
func (f *fakeMotion) IsIdle() bool        { return true }
func (f *fakeMotion) MarkDirty(axis int)  { f.dirtyAxes = append(f.dirtyAxes, axis) }

type fakeHoming struct {
	startErr error
	started  bool
	aborted  bool
	active   bool
	limits   homing.Limits
}

func (f *fakeHoming) Start(axis int, limits homing.Limits, fast, slow float64) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	f.limits = limits
	return nil
}
func (f *fakeHoming) Abort()          { f.aborted = true }
func (f *fakeHoming) IsHoming() bool  { return f.active }

type fakeBatch struct {
	state     batch.State
	beginErr  error
	segErr    error
	abortErr  error
}

func (f *fakeBatch) BeginBatch(count int, dt float64) error { return f.beginErr }
func (f *fakeBatch) Segment(seg batch.Segment) error        { return f.segErr }
func (f *fakeBatch) AbortBatch() error                      { return f.abortErr }
func (f *fakeBatch) State() batch.State                     { return f.state }

type fakeSafety struct{ estopped bool }

func (f *fakeSafety) Estopped() bool { return f.estopped }

type fakeCfg struct {
	values map[string]float64
}

func newFakeCfg() *fakeCfg { return &fakeCfg{values: map[string]float64{}} }

func (f *fakeCfg) GetParam(k string, def float64) float64 {
	if v, ok := f.values[k]; ok {
		return v
	}
	return def
}
func (f *fakeCfg) SetParam(k string, v float64) { f.values[k] = v }
func (f *fakeCfg) AxisTunables(axis int) (motion.Tunables, error) {
	return motion.Tunables{MaxSpeedDegS: 90, MaxAccelDegS2: 500, JointMinDeg: -90, JointMaxDeg: 90}, nil
}
func (f *fakeCfg) SetHomeOffset(axis int, v float64)      { f.values[jointKey(axis, "homeOffset")] = v }
func (f *fakeCfg) GetHomeOffset(axis int) float64         { return f.values[jointKey(axis, "homeOffset")] }
func (f *fakeCfg) SetPositionFactor(axis int, v float64)  { f.values[jointKey(axis, "positionFactor")] = v }
func (f *fakeCfg) GetPositionFactor(axis int) float64     { return f.values[jointKey(axis, "positionFactor")] }
func (f *fakeCfg) ListParameters() map[string]float64 {
	out := make(map[string]float64, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out
}

type fakeIO struct {
	outputs [ioboard.OutputCount]bool
}

func (f *fakeIO) Inputs() [ioboard.InputCount]bool   { return [ioboard.InputCount]bool{} }
func (f *fakeIO) Outputs() [ioboard.OutputCount]bool { return f.outputs }
func (f *fakeIO) SetOutput(idx int, high bool) bool {
	if idx < 0 || idx >= ioboard.OutputCount {
		return false
	}
	f.outputs[idx] = high
	return true
}

func newTestDispatcher() (*Dispatcher, *fakeMotion, *fakeHoming, *fakeBatch, *fakeSafety, *fakeCfg, *fakeIO) {
	m := newFakeMotion()
	h := &fakeHoming{}
	b := &fakeBatch{}
	s := &fakeSafety{}
	cfg := newFakeCfg()
	io := &fakeIO{}
	d := New(m, h, b, s, cfg, io, 6, nil)
	return d, m, h, b, s, cfg, io
}

func decode(t *testing.T, raw []byte) Reply {
	t.Helper()
	var r Reply
	if err := json.Unmarshal(raw, &r); err != nil {
		t.Fatalf("invalid reply JSON %s: %v", raw, err)
	}
	return r
}

func TestMoveToHappyPath(t *testing.T) {
	d, _, _, _, _, _, _ := newTestDispatcher()
	reply := decode(t, d.Dispatch([]byte(`{"cmd":"MoveTo","id":1,"joint":1,"target":10,"speed":5,"accel":5}`)))
	if reply.Status != "ok" || reply.Cmd != "moveTo" || reply.ID == nil || *reply.ID != 1 {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestMoveToInvalidJoint(t *testing.T) {
	d, _, _, _, _, _, _ := newTestDispatcher()
	reply := decode(t, d.Dispatch([]byte(`{"cmd":"MoveTo","joint":99,"target":10,"speed":5,"accel":5}`)))
	if reply.Status != "error" || reply.Error != "invalid joint" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestMoveMultipleLengthMismatch(t *testing.T) {
	d, _, _, _, _, _, _ := newTestDispatcher()
	reply := decode(t, d.Dispatch([]byte(`{"cmd":"MoveMultiple","joints":[1,2],"targets":[1],"speeds":[1,1],"accels":[1,1]}`)))
	if reply.Status != "error" || reply.Error != "length mismatch" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestUnknownCmd(t *testing.T) {
	d, _, _, _, _, _, _ := newTestDispatcher()
	reply := decode(t, d.Dispatch([]byte(`{"cmd":"Bogus","id":5}`)))
	if reply.Status != "error" || reply.Error != "unknownCmd" || reply.ID == nil || *reply.ID != 5 {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestParseFailed(t *testing.T) {
	d, _, _, _, _, _, _ := newTestDispatcher()
	reply := decode(t, d.Dispatch([]byte(`not json`)))
	if reply.Status != "error" || reply.Error != "parseFailed" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestBeginBatchInvalidCountOrDtTag(t *testing.T) {
	d, _, _, b, _, _, _ := newTestDispatcher()
	b.beginErr = batch.ErrInvalidCountOrDt
	reply := decode(t, d.Dispatch([]byte(`{"cmd":"BeginBatch","count":0,"dt":0.02}`)))
	if reply.Error != "invalidCountOrDt" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestHomeWiresConfigIntoLimits(t *testing.T) {
	d, _, h, _, _, _, _ := newTestDispatcher()
	reply := decode(t, d.Dispatch([]byte(`{"cmd":"Home","joint":1,"speedFast":8,"speedSlow":3}`)))
	if reply.Status != "ok" || !h.started {
		t.Fatalf("expected homing to start, reply=%+v", reply)
	}
	if h.limits.CfgMin != -90 || h.limits.CfgMax != 90 || h.limits.BackoffDeg != DefaultBackoffDeg {
		t.Fatalf("expected config limits passed to homing, got %+v", h.limits)
	}
}

func TestSetMaxSpeedMarksAxisDirty(t *testing.T) {
	d, m, _, _, _, _, _ := newTestDispatcher()
	_ = decode(t, d.Dispatch([]byte(`{"cmd":"SetMaxSpeed","joint":2,"value":42}`)))
	if len(m.dirtyAxes) != 1 || m.dirtyAxes[0] != 1 {
		t.Fatalf("expected axis 1 marked dirty, got %v", m.dirtyAxes)
	}
}

func TestOutputOutOfRange(t *testing.T) {
	d, _, _, _, _, _, _ := newTestDispatcher()
	reply := decode(t, d.Dispatch([]byte(`{"cmd":"Output","index":99,"high":true}`)))
	if reply.Status != "error" {
		t.Fatalf("expected error reply, got %+v", reply)
	}
}

func TestGetSystemStatusReflectsEstop(t *testing.T) {
	d, _, _, _, s, _, _ := newTestDispatcher()
	s.estopped = true
	reply := decode(t, d.Dispatch([]byte(`{"cmd":"GetSystemStatus"}`)))
	if reply.Data == nil {
		t.Fatalf("expected data payload")
	}
	if st, ok := reply.Data.(map[string]interface{}); !ok || st["estopped"] != true {
		t.Fatalf("expected estopped=true in system status, got %+v", reply.Data)
	}
}

func TestRawQueueDropsNewestOnOverflow(t *testing.T) {
	q := NewRawQueue(2)
	q.Push("a")
	q.Push("b")
	q.Push("c")
	if q.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", q.Dropped())
	}
	first, _ := q.Pop()
	second, _ := q.Pop()
	if first != "a" || second != "b" {
		t.Fatalf("expected a,b in order, got %s,%s", first, second)
	}
	if _, ok := q.Pop(); ok {
		t.Fatalf("expected queue empty")
	}
}
