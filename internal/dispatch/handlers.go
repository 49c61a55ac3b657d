package dispatch

import (
	"encoding/json"

	"github.com/sixar/motion-firmware/internal/batch"
	"github.com/sixar/motion-firmware/internal/homing"
)

func handleMoveTo(d *Dispatcher, line []byte, id *int) Reply {
	var req struct {
		Joint  int     `json:"joint"`
		Target float64 `json:"target"`
		Speed  float64 `json:"speed"`
		Accel  float64 `json:"accel"`
	}
	if err := json.Unmarshal(line, &req); err != nil {
		return d.errReply("moveTo", id, "parseFailed")
	}
	axis := req.Joint - 1
	if !d.axisValid(axis) {
		return d.errReply("moveTo", id, "invalid joint")
	}
	cur, err := d.motion.PositionDeg(axis)
	if err != nil {
		return d.errReply("moveTo", id, motionErrTag(err))
	}
	if err := d.motion.Move(axis, cur, req.Target, req.Speed, req.Accel, false); err != nil {
		return d.errReply("moveTo", id, motionErrTag(err))
	}
	return d.okReply("moveTo", id)
}

func handleMoveBy(d *Dispatcher, line []byte, id *int) Reply {
	var req struct {
		Joint int     `json:"joint"`
		Delta float64 `json:"delta"`
		Speed float64 `json:"speed"`
		Accel float64 `json:"accel"`
	}
	if err := json.Unmarshal(line, &req); err != nil {
		return d.errReply("moveBy", id, "parseFailed")
	}
	axis := req.Joint - 1
	if !d.axisValid(axis) {
		return d.errReply("moveBy", id, "invalid joint")
	}
	cur, err := d.motion.PositionDeg(axis)
	if err != nil {
		return d.errReply("moveBy", id, motionErrTag(err))
	}
	if err := d.motion.Move(axis, cur, cur+req.Delta, req.Speed, req.Accel, false); err != nil {
		return d.errReply("moveBy", id, motionErrTag(err))
	}
	return d.okReply("moveBy", id)
}

func handleMoveMultiple(d *Dispatcher, line []byte, id *int) Reply {
	var req struct {
		Joints  []int     `json:"joints"`
		Targets []float64 `json:"targets"`
		Speeds  []float64 `json:"speeds"`
		Accels  []float64 `json:"accels"`
	}
	if err := json.Unmarshal(line, &req); err != nil {
		return d.errReply("moveMultiple", id, "parseFailed")
	}
	n := len(req.Joints)
	if n != len(req.Targets) || n != len(req.Speeds) || n != len(req.Accels) {
		return d.errReply("moveMultiple", id, "length mismatch")
	}
	axes := make([]int, n)
	current := make([]float64, n)
	for i, j := range req.Joints {
		axes[i] = j - 1
		if !d.axisValid(axes[i]) {
			return d.errReply("moveMultiple", id, "invalid joint")
		}
		cur, err := d.motion.PositionDeg(axes[i])
		if err != nil {
			return d.errReply("moveMultiple", id, motionErrTag(err))
		}
		current[i] = cur
	}
	if err := d.motion.MoveMultiple(axes, current, req.Targets, req.Speeds, req.Accels, false); err != nil {
		return d.errReply("moveMultiple", id, motionErrTag(err))
	}
	return d.okReply("moveMultiple", id)
}

func handleJog(d *Dispatcher, line []byte, id *int) Reply {
	var req struct {
		Joint  int     `json:"joint"`
		Target float64 `json:"target"`
		Accel  float64 `json:"accel"`
	}
	if err := json.Unmarshal(line, &req); err != nil {
		return d.errReply("jog", id, "parseFailed")
	}
	axis := req.Joint - 1
	if !d.axisValid(axis) {
		return d.errReply("jog", id, "invalid joint")
	}
	if err := d.motion.Jog(axis, req.Target, req.Accel); err != nil {
		return d.errReply("jog", id, motionErrTag(err))
	}
	return d.okReply("jog", id)
}

func handleStop(d *Dispatcher, line []byte, id *int) Reply {
	var req struct {
		Joint int `json:"joint"`
	}
	if err := json.Unmarshal(line, &req); err != nil {
		return d.errReply("stop", id, "parseFailed")
	}
	axis := req.Joint - 1
	if !d.axisValid(axis) {
		return d.errReply("stop", id, "invalid joint")
	}
	if err := d.motion.StopJog(axis); err != nil {
		return d.errReply("stop", id, motionErrTag(err))
	}
	return d.okReply("stop", id)
}

func handleStopAll(d *Dispatcher, line []byte, id *int) Reply {
	d.motion.StopAll()
	return d.okReply("stopAll", id)
}

func handleHome(d *Dispatcher, line []byte, id *int) Reply {
	var req struct {
		Joint     int     `json:"joint"`
		SpeedFast float64 `json:"speedFast"`
		SpeedSlow float64 `json:"speedSlow"`
	}
	if err := json.Unmarshal(line, &req); err != nil {
		return d.errReply("home", id, "parseFailed")
	}
	axis := req.Joint - 1
	if !d.axisValid(axis) {
		return d.errReply("home", id, "invalid joint")
	}
	t, err := d.cfg.AxisTunables(axis)
	if err != nil {
		return d.errReply("home", id, "invalid joint")
	}
	limits := homing.Limits{
		CfgMin:        t.JointMinDeg,
		CfgMax:        t.JointMaxDeg,
		CfgHomeOffset: t.HomeOffsetDeg,
		BackoffDeg:    DefaultBackoffDeg,
	}
	if err := d.homing.Start(axis, limits, req.SpeedFast, req.SpeedSlow); err != nil {
		return d.errReply("home", id, "invalid/moving/estop")
	}
	return d.okReply("home", id)
}

func handleAbortHoming(d *Dispatcher, line []byte, id *int) Reply {
	d.homing.Abort()
	return d.okReply("abortHoming", id)
}

func handleIsHoming(d *Dispatcher, line []byte, id *int) Reply {
	v := 0
	if d.homing.IsHoming() {
		v = 1
	}
	return d.dataReply("isHoming", id, v)
}

func handleBeginBatch(d *Dispatcher, line []byte, id *int) Reply {
	var req struct {
		Count int     `json:"count"`
		Dt    float64 `json:"dt"`
	}
	if err := json.Unmarshal(line, &req); err != nil {
		return d.errReply("BeginBatch", id, "parseFailed")
	}
	if err := d.batch.BeginBatch(req.Count, req.Dt); err != nil {
		return d.errReply("BeginBatch", id, batchErrTag(err))
	}
	return d.okReply("BeginBatch", id)
}

func handleSegment(d *Dispatcher, line []byte, id *int) Reply {
	var req struct {
		S []float64 `json:"s"`
		A []float64 `json:"a"`
	}
	if err := json.Unmarshal(line, &req); err != nil {
		return d.errReply("SegmentLoaded", id, "parseFailed")
	}
	if err := d.batch.Segment(batch.Segment{V: req.S, A: req.A}); err != nil {
		return d.errReply("SegmentLoaded", id, batchErrTag(err))
	}
	if d.batch.State() == batch.Executing {
		return d.okReply("BatchExecStart", id)
	}
	return d.okReply("SegmentLoaded", id)
}

func handleAbortBatch(d *Dispatcher, line []byte, id *int) Reply {
	if err := d.batch.AbortBatch(); err != nil {
		return d.errReply("BatchAborted", id, batchErrTag(err))
	}
	return d.okReply("BatchAborted", id)
}

func batchErrTag(err error) string {
	switch err {
	case batch.ErrInvalidCountOrDt:
		return "invalidCountOrDt"
	case batch.ErrTooMany:
		return "tooMany"
	case batch.ErrBadLength:
		return "badLength"
	case batch.ErrNotLoadingBatch:
		return "notLoadingBatch"
	default:
		return "notLoadingBatch"
	}
}

func handleSetSoftLimits(d *Dispatcher, line []byte, id *int) Reply {
	var req struct {
		Joint int     `json:"joint"`
		Min   float64 `json:"min"`
		Max   float64 `json:"max"`
	}
	if err := json.Unmarshal(line, &req); err != nil {
		return d.errReply("SetSoftLimits", id, "parseFailed")
	}
	axis := req.Joint - 1
	if !d.axisValid(axis) {
		return d.errReply("SetSoftLimits", id, "invalid joint")
	}
	d.cfg.SetParam(jointKey(axis, "jointMin"), req.Min)
	d.cfg.SetParam(jointKey(axis, "jointMax"), req.Max)
	d.motion.MarkDirty(axis)
	return d.okReply("SetSoftLimits", id)
}

func handleGetSoftLimits(d *Dispatcher, line []byte, id *int) Reply {
	var req struct {
		Joint int `json:"joint"`
	}
	if err := json.Unmarshal(line, &req); err != nil {
		return d.errReply("GetSoftLimits", id, "parseFailed")
	}
	axis := req.Joint - 1
	if !d.axisValid(axis) {
		return d.errReply("GetSoftLimits", id, "invalid joint")
	}
	min, max, err := d.motion.SoftLimits(axis)
	if err != nil {
		return d.errReply("GetSoftLimits", id, motionErrTag(err))
	}
	return d.dataReply("GetSoftLimits", id, map[string]float64{"min": min, "max": max})
}

func handleSetMaxSpeed(d *Dispatcher, line []byte, id *int) Reply {
	return setNamedParam(d, line, id, "SetMaxSpeed", "maxSpeed")
}

func handleGetMaxSpeed(d *Dispatcher, line []byte, id *int) Reply {
	return getNamedParam(d, line, id, "GetMaxSpeed", "maxSpeed")
}

func handleSetMaxAccel(d *Dispatcher, line []byte, id *int) Reply {
	return setNamedParam(d, line, id, "SetMaxAccel", "maxAccel")
}

func handleGetMaxAccel(d *Dispatcher, line []byte, id *int) Reply {
	return getNamedParam(d, line, id, "GetMaxAccel", "maxAccel")
}

func setNamedParam(d *Dispatcher, line []byte, id *int, cmd, param string) Reply {
	var req struct {
		Joint int     `json:"joint"`
		Value float64 `json:"value"`
	}
	if err := json.Unmarshal(line, &req); err != nil {
		return d.errReply(cmd, id, "parseFailed")
	}
	axis := req.Joint - 1
	if !d.axisValid(axis) {
		return d.errReply(cmd, id, "invalid joint")
	}
	d.cfg.SetParam(jointKey(axis, param), req.Value)
	d.motion.MarkDirty(axis)
	return d.okReply(cmd, id)
}

func getNamedParam(d *Dispatcher, line []byte, id *int, cmd, param string) Reply {
	var req struct {
		Joint int `json:"joint"`
	}
	if err := json.Unmarshal(line, &req); err != nil {
		return d.errReply(cmd, id, "parseFailed")
	}
	axis := req.Joint - 1
	if !d.axisValid(axis) {
		return d.errReply(cmd, id, "invalid joint")
	}
	t, err := d.cfg.AxisTunables(axis)
	if err != nil {
		return d.errReply(cmd, id, "invalid joint")
	}
	var v float64
	switch param {
	case "maxSpeed":
		v = t.MaxSpeedDegS
	case "maxAccel":
		v = t.MaxAccelDegS2
	}
	return d.dataReply(cmd, id, v)
}

func handleSetHomeOffset(d *Dispatcher, line []byte, id *int) Reply {
	var req struct {
		Joint int     `json:"joint"`
		Value float64 `json:"value"`
	}
	if err := json.Unmarshal(line, &req); err != nil {
		return d.errReply("SetHomeOffset", id, "parseFailed")
	}
	axis := req.Joint - 1
	if !d.axisValid(axis) {
		return d.errReply("SetHomeOffset", id, "invalid joint")
	}
	d.cfg.SetHomeOffset(axis, req.Value)
	d.motion.MarkDirty(axis)
	return d.okReply("SetHomeOffset", id)
}

func handleGetHomeOffset(d *Dispatcher, line []byte, id *int) Reply {
	var req struct {
		Joint int `json:"joint"`
	}
	if err := json.Unmarshal(line, &req); err != nil {
		return d.errReply("GetHomeOffset", id, "parseFailed")
	}
	axis := req.Joint - 1
	if !d.axisValid(axis) {
		return d.errReply("GetHomeOffset", id, "invalid joint")
	}
	return d.dataReply("GetHomeOffset", id, d.cfg.GetHomeOffset(axis))
}

func handleSetPositionFactor(d *Dispatcher, line []byte, id *int) Reply {
	var req struct {
		Joint int     `json:"joint"`
		Value float64 `json:"value"`
	}
	if err := json.Unmarshal(line, &req); err != nil {
		return d.errReply("SetPositionFactor", id, "parseFailed")
	}
	axis := req.Joint - 1
	if !d.axisValid(axis) {
		return d.errReply("SetPositionFactor", id, "invalid joint")
	}
	d.cfg.SetPositionFactor(axis, req.Value)
	d.motion.MarkDirty(axis)
	return d.okReply("SetPositionFactor", id)
}

func handleGetPositionFactor(d *Dispatcher, line []byte, id *int) Reply {
	var req struct {
		Joint int `json:"joint"`
	}
	if err := json.Unmarshal(line, &req); err != nil {
		return d.errReply("GetPositionFactor", id, "parseFailed")
	}
	axis := req.Joint - 1
	if !d.axisValid(axis) {
		return d.errReply("GetPositionFactor", id, "invalid joint")
	}
	return d.dataReply("GetPositionFactor", id, d.cfg.GetPositionFactor(axis))
}

func handleSetParam(d *Dispatcher, line []byte, id *int) Reply {
	var req struct {
		Key   string  `json:"key"`
		Value float64 `json:"value"`
	}
	if err := json.Unmarshal(line, &req); err != nil {
		return d.errReply("SetParam", id, "parseFailed")
	}
	d.cfg.SetParam(req.Key, req.Value)
	if axis, ok := parseJointAxis(req.Key); ok && d.axisValid(axis) {
		d.motion.MarkDirty(axis)
	}
	return d.okReply("SetParam", id)
}

func handleGetParam(d *Dispatcher, line []byte, id *int) Reply {
	var req struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(line, &req); err != nil {
		return d.errReply("GetParam", id, "parseFailed")
	}
	return d.dataReply("GetParam", id, d.cfg.GetParam(req.Key, 0))
}

func handleListParameters(d *Dispatcher, line []byte, id *int) Reply {
	return d.dataReply("ListParameters", id, d.cfg.ListParameters())
}

func handleGetInputs(d *Dispatcher, line []byte, id *int) Reply {
	return d.dataReply("inputStatus", id, d.io.Inputs())
}

func handleGetOutputs(d *Dispatcher, line []byte, id *int) Reply {
	return d.dataReply("GetOutputs", id, d.io.Outputs())
}

func handleOutput(d *Dispatcher, line []byte, id *int) Reply {
	var req struct {
		Index int  `json:"index"`
		High  bool `json:"high"`
	}
	if err := json.Unmarshal(line, &req); err != nil {
		return d.errReply("Output", id, "parseFailed")
	}
	if !d.io.SetOutput(req.Index, req.High) {
		return d.errReply("Output", id, "invalid joint")
	}
	return d.okReply("Output", id)
}

// systemStatus is the GetSystemStatus data payload.
type systemStatus struct {
	Estopped   bool       `json:"estopped"`
	Homing     bool       `json:"homing"`
	BatchState batch.State `json:"batchState"`
	Idle       bool       `json:"idle"`
}

func handleGetSystemStatus(d *Dispatcher, line []byte, id *int) Reply {
	return d.dataReply("systemStatus", id, systemStatus{
		Estopped:   d.safety.Estopped(),
		Homing:     d.homing.IsHoming(),
		BatchState: d.batch.State(),
		Idle:       d.motion.IsIdle(),
	})
}

// jointStatus is the GetJointStatus/GetJointStatusAll data payload for
// one axis, numbered back to the host's 1-based joint convention.
type jointStatus struct {
	Joint    int     `json:"joint"`
	Position float64 `json:"position"`
	Target   float64 `json:"target"`
	Velocity float64 `json:"velocity"`
	Accel    float64 `json:"accel"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
}

func (d *Dispatcher) jointStatusFor(axis int) (jointStatus, error) {
	pos, err := d.motion.PositionDeg(axis)
	if err != nil {
		return jointStatus{}, err
	}
	target, err := d.motion.TargetDeg(axis)
	if err != nil {
		return jointStatus{}, err
	}
	vel, err := d.motion.VelocityDegS(axis)
	if err != nil {
		return jointStatus{}, err
	}
	accel, err := d.motion.AccelDegS2(axis)
	if err != nil {
		return jointStatus{}, err
	}
	min, max, err := d.motion.SoftLimits(axis)
	if err != nil {
		return jointStatus{}, err
	}
	return jointStatus{Joint: axis + 1, Position: pos, Target: target, Velocity: vel, Accel: accel, Min: min, Max: max}, nil
}

func handleGetJointStatus(d *Dispatcher, line []byte, id *int) Reply {
	var req struct {
		Joint int `json:"joint"`
	}
	if err := json.Unmarshal(line, &req); err != nil {
		return d.errReply("jointStatus", id, "parseFailed")
	}
	axis := req.Joint - 1
	if !d.axisValid(axis) {
		return d.errReply("jointStatus", id, "invalid joint")
	}
	st, err := d.jointStatusFor(axis)
	if err != nil {
		return d.errReply("jointStatus", id, motionErrTag(err))
	}
	return d.dataReply("jointStatus", id, st)
}

func handleGetJointStatusAll(d *Dispatcher, line []byte, id *int) Reply {
	all := make([]jointStatus, 0, d.joints)
	for axis := 0; axis < d.joints; axis++ {
		st, err := d.jointStatusFor(axis)
		if err != nil {
			continue
		}
		all = append(all, st)
	}
	return d.dataReply("jointStatusAll", id, all)
}

func handleRestart(d *Dispatcher, line []byte, id *int) Reply {
	if d.restart != nil {
		d.restart()
	}
	return d.okReply("Restart", id)
}
