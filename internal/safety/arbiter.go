// Package safety implements the single authoritative emergency-stop
// latch described in spec.md §4.5: a pure state machine with
// side-effecting callbacks for LED indication and host notification.
package safety

// LEDState is the visible indicator state driven by runChecks.
type LEDState uint8

const (
	LEDOff LEDState = iota
	LEDBlink
	LEDSteady
)

// Engine is the narrow surface the Safety Arbiter needs from the step
// engine: an unconditional halt.
type Engine interface {
	EmergencyStop()
}

// Homing is the narrow surface needed to abort an in-progress homing
// job on estop assertion.
type Homing interface {
	Abort()
}

// Callbacks are pure side effects invoked on state transitions.
type Callbacks struct {
	SetLED  func(LEDState)
	OnEnter func()
	OnExit  func()
}

// Arbiter is the Safety Arbiter of spec.md §4.5.
type Arbiter struct {
	engine Engine
	homing Homing
	cb     Callbacks

	estopped bool
	led      LEDState
}

// New constructs an Arbiter wired to the engine and homing controller
// it must halt/abort on assertion.
func New(engine Engine, homing Homing, cb Callbacks) *Arbiter {
	return &Arbiter{engine: engine, homing: homing, cb: cb}
}

// Estopped reports the latch state; satisfies motion.EstopSource.
func (a *Arbiter) Estopped() bool {
	return a.estopped
}

// Enter asserts the latch. Idempotent: a second call while already
// latched is a no-op beyond re-running the halt (which is itself
// idempotent on the engine).
func (a *Arbiter) Enter() {
	a.engine.EmergencyStop()
	if a.homing != nil {
		a.homing.Abort()
	}
	if a.estopped {
		return
	}
	a.estopped = true
	if a.cb.OnEnter != nil {
		a.cb.OnEnter()
	}
}

// Exit clears the latch. Callers must have already confirmed the
// physical estop input is inactive and the operator acknowledged.
func (a *Arbiter) Exit() {
	if !a.estopped {
		return
	}
	a.estopped = false
	if a.cb.OnExit != nil {
		a.cb.OnExit()
	}
}

// RunChecks is polled once per main-loop iteration. inputActive is the
// debounced estop line (true = physically held); ack is the debounced
// operator-acknowledgment button. Drives the LED per spec.md §4.5 and
// performs clearance when both conditions are met.
func (a *Arbiter) RunChecks(inputActive, ack bool) {
	if inputActive {
		a.Enter()
	}

	if a.estopped && !inputActive && ack {
		a.Exit()
	}

	switch {
	case !a.estopped:
		a.setLED(LEDOff)
	case inputActive:
		a.setLED(LEDBlink)
	default:
		a.setLED(LEDSteady)
	}
}

func (a *Arbiter) setLED(s LEDState) {
	if s == a.led {
		return
	}
	a.led = s
	if a.cb.SetLED != nil {
		a.cb.SetLED(s)
	}
}
