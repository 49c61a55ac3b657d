// Package ioboard implements the I/O Board of SPEC_FULL.md §4.7:
// debounced digital inputs (operator buttons, the e-stop line, and
// six limit switches) and relay/LED outputs, polled cooperatively
// from the main loop rather than from an ISR.
package ioboard

import "github.com/sixar/motion-firmware/internal/hal"

// ButtonCount, LimitCount and OutputCount mirror the original
// controller's fixed panel layout.
const (
	ButtonCount = 12
	LimitCount  = 6
	// InputCount is buttons + the single e-stop line + limit switches.
	InputCount  = ButtonCount + 1 + LimitCount
	OutputCount = 9

	// EstopIndex is the digital input slot immediately after the last
	// button.
	EstopIndex = ButtonCount

	// ReadyOutput is the output index driven by Poll to reflect
	// "not estopped".
	ReadyOutput = 0
)

// LimitIndex maps a 0-based limit switch number (joint 1..6) to its
// slot in the digital input table.
func LimitIndex(limitIdx int) int {
	return ButtonCount + 1 + limitIdx
}

// InputConfig describes one digital input's wiring.
type InputConfig struct {
	Name       string
	Pin        hal.Pin
	ActiveLow  bool
	DebounceUs uint64
}

// OutputConfig describes one output's wiring.
type OutputConfig struct {
	Name      string
	Pin       hal.Pin
	InitState bool
}

type inputState struct {
	cfg          InputConfig
	stable       bool
	lastReading  bool
	lastChangeUs uint64
}

// Board is the I/O Board. Poll must be called once per main-loop
// iteration; it is the only place debounce state changes.
type Board struct {
	gpio    hal.GPIODriver
	clock   hal.Clock
	inputs  [InputCount]inputState
	outputs [OutputCount]bool
	outCfg  [OutputCount]OutputConfig
}

// New constructs a Board and configures its pins. inputs must have
// exactly InputCount entries, outputs exactly OutputCount.
func New(gpio hal.GPIODriver, clock hal.Clock, inputs [InputCount]InputConfig, outputs [OutputCount]OutputConfig) *Board {
	b := &Board{gpio: gpio, clock: clock, outCfg: outputs}
	now := clock.NowMicros()
	for i, cfg := range inputs {
		_ = gpio.ConfigureInputPullUp(cfg.Pin)
		raw := gpio.ReadPin(cfg.Pin)
		active := raw
		if cfg.ActiveLow {
			active = !raw
		}
		b.inputs[i] = inputState{cfg: cfg, stable: active, lastReading: active, lastChangeUs: now}
	}
	for i, cfg := range outputs {
		_ = gpio.ConfigureOutput(cfg.Pin)
		_ = gpio.SetPin(cfg.Pin, cfg.InitState)
		b.outputs[i] = cfg.InitState
	}
	return b
}

// Poll re-samples every input and commits a new stable state once it
// has held steady for at least its configured debounce window
// (time-based debounce, not oversampling — the board is polled from a
// cooperative loop rather than a fixed-rate ISR).
func (b *Board) Poll() {
	now := b.clock.NowMicros()
	for i := range b.inputs {
		in := &b.inputs[i]
		raw := b.gpio.ReadPin(in.cfg.Pin)
		active := raw
		if in.cfg.ActiveLow {
			active = !raw
		}
		if active != in.lastReading {
			in.lastReading = active
			in.lastChangeUs = now
		} else if now-in.lastChangeUs >= in.cfg.DebounceUs {
			in.stable = in.lastReading
		}
	}
	b.outputs[ReadyOutput] = !b.Estopped()
	_ = b.gpio.SetPin(b.outCfg[ReadyOutput].Pin, b.outputs[ReadyOutput])
}

// InputActive returns the debounced state of input idx.
func (b *Board) InputActive(idx int) bool {
	if idx < 0 || idx >= InputCount {
		return false
	}
	return b.inputs[idx].stable
}

// Estopped reports the debounced e-stop line.
func (b *Board) Estopped() bool {
	return !b.InputActive(EstopIndex)
}

// LimitActive reports the debounced state of limit switch limitIdx
// (0-based, joint 1..6).
func (b *Board) LimitActive(limitIdx int) bool {
	if limitIdx < 0 || limitIdx >= LimitCount {
		return false
	}
	return b.InputActive(LimitIndex(limitIdx))
}

// SetOutput drives output idx. Returns false if idx is out of range.
func (b *Board) SetOutput(idx int, high bool) bool {
	if idx < 0 || idx >= OutputCount {
		return false
	}
	b.outputs[idx] = high
	_ = b.gpio.SetPin(b.outCfg[idx].Pin, high)
	return true
}

// Output returns the last commanded state of output idx.
func (b *Board) Output(idx int) bool {
	if idx < 0 || idx >= OutputCount {
		return false
	}
	return b.outputs[idx]
}

// Inputs returns a snapshot of every debounced input, for the
// GetInputs command.
func (b *Board) Inputs() [InputCount]bool {
	var out [InputCount]bool
	for i := range b.inputs {
		out[i] = b.inputs[i].stable
	}
	return out
}

// Outputs returns a snapshot of every output, for the GetOutputs
// command.
func (b *Board) Outputs() [OutputCount]bool {
	return b.outputs
}
