//go:build rp2040

// Command firmware-rp2040 is the tinygo target: real GPIO on an rp2040
// with step pulses driven directly through machine.Pin, USB CDC
// carrying the JSON line protocol, and a RAM-only placeholder for
// config/position storage (see flash.go).
package main

import (
	"bufio"
	"machine"

	"github.com/sixar/motion-firmware/internal/config"
	"github.com/sixar/motion-firmware/internal/firmware"
	"github.com/sixar/motion-firmware/internal/hal"
	"github.com/sixar/motion-firmware/internal/ioboard"
	"github.com/sixar/motion-firmware/internal/motion"
	"github.com/sixar/motion-firmware/internal/stepengine"
)

const tickFreqHz = 20000

func main() {
	InitUSB()

	err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})
	if err != nil {
		return
	}

	gpio := newRP2040GPIO()

	root := firmware.New(firmware.Params{
		GPIO:            gpio,
		Clock:           hal.SystemClock{},
		ConfigStorage:   &flashStorage{region: configRegion},
		PositionStorage: &flashStorage{region: positionsRegion},
		AxisPins:        boardAxisPins(),
		Mechanical:      boardMechanical(),
		Defaults:        boardDefaults(),
		Inputs:          boardInputs(),
		Outputs:         boardOutputs(),
		TickFreqHz:      tickFreqHz,
		Restart:         func() { machine.CPUReset() },
		Log:             func(line string) { machine.Serial.Write([]byte("log: " + line + "\n")) },
	})

	runSuperLoop(root)
}

// runSuperLoop is the single-threaded embedded main loop: the hardware
// microsecond timer is polled to decide when a step-tick period has
// elapsed (the tick context), everything else runs once per outer
// iteration (the main context). tinygo's cooperative scheduler makes
// two true goroutines viable too, but a super-loop avoids any
// scheduling jitter in the pulse-generation path.
func runSuperLoop(root *firmware.Root) {
	const tickPeriodUs = uint64(1_000_000 / tickFreqHz)
	lastStepTick := hal.SystemClock{}.NowMicros()
	lastMainTick := lastStepTick

	reader := bufio.NewReader(machine.Serial)
	for {
		now := hal.SystemClock{}.NowMicros()

		if now-lastStepTick >= tickPeriodUs {
			lastStepTick = now
			root.TickStepEngine()
		}

		if USBAvailable() > 0 {
			if line, err := reader.ReadString('\n'); err == nil {
				root.Ingest(line)
			}
		}

		// Main-loop work runs at roughly 1kHz; the step tick above
		// dominates CPU time at 20kHz regardless.
		if now-lastMainTick >= 1000 {
			lastMainTick = now
			root.Tick()
			for _, line := range root.Drain() {
				machine.Serial.Write(line)
				machine.Serial.Write([]byte("\n"))
			}
		}
	}
}

// rp2040GPIO implements hal.GPIODriver directly over tinygo's machine
// package, the same per-call pin-configuration style the rp2350 board
// target uses (core/gpio_hal.go's RPGPIODriver), generalized to the
// six-axis pin layout below instead of the teacher's fixed OID table.
type rp2040GPIO struct {
	configured map[hal.Pin]bool
}

func newRP2040GPIO() *rp2040GPIO {
	return &rp2040GPIO{configured: map[hal.Pin]bool{}}
}

func (g *rp2040GPIO) machinePin(p hal.Pin) machine.Pin {
	return machine.Pin(p)
}

func (g *rp2040GPIO) ConfigureOutput(pin hal.Pin) error {
	g.machinePin(pin).Configure(machine.PinConfig{Mode: machine.PinOutput})
	g.configured[pin] = true
	return nil
}

func (g *rp2040GPIO) ConfigureInputPullUp(pin hal.Pin) error {
	g.machinePin(pin).Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	g.configured[pin] = true
	return nil
}

func (g *rp2040GPIO) ConfigureInputPullDown(pin hal.Pin) error {
	g.machinePin(pin).Configure(machine.PinConfig{Mode: machine.PinInputPulldown})
	g.configured[pin] = true
	return nil
}

func (g *rp2040GPIO) SetPin(pin hal.Pin, v bool) error {
	g.machinePin(pin).Set(v)
	return nil
}

func (g *rp2040GPIO) ReadPin(pin hal.Pin) bool {
	return g.machinePin(pin).Get()
}

func boardAxisPins() [firmware.Joints]stepengine.AxisPins {
	pins := []struct{ step, dir uint8 }{
		{2, 3}, {4, 5}, {6, 7}, {8, 9}, {10, 11}, {12, 13},
	}
	var out [firmware.Joints]stepengine.AxisPins
	for i, p := range pins {
		out[i] = stepengine.AxisPins{Step: hal.Pin(p.step), Dir: hal.Pin(p.dir)}
	}
	return out
}

func boardMechanical() [firmware.Joints]motion.Mechanical {
	specs := []struct{ stepsPerRev, gearbox float64 }{
		{6400, 136.0 / 24.0},
		{400, 75.0 / 24.0 * 5.0 * 27.0},
		{400, 75.0 / 24.0 * 5.0 * 27.0},
		{1600, 27.0},
		{1600, 20.0},
		{1600, 10.0},
	}
	var m [firmware.Joints]motion.Mechanical
	for i, s := range specs {
		m[i] = motion.Mechanical{StepsPerRev: s.stepsPerRev, GearboxRatio: s.gearbox}
	}
	return m
}

func boardDefaults() [firmware.Joints]config.Defaults {
	specs := []struct{ maxSpeed, maxAccel, fast, slow, min, max, offset float64 }{
		{25, 25, 8, 3, 0, 180, 37},
		{60, 25, 5, 2, 0, 170, 10},
		{80, 150, 10, 2, 0, 250, 29.5},
		{150, 1800, 20, 3, 0, 350, 213.5},
		{250, 250, 20, 3, 0, 240, 120},
		{700, 5600, 50, 3, 0, 345, 147},
	}
	var d [firmware.Joints]config.Defaults
	for i, s := range specs {
		d[i] = config.Defaults{
			PositionFactor: 1, MaxAccel: s.maxAccel, MaxSpeed: s.maxSpeed,
			HomingSpeed: s.fast, SlowHomingSpeed: s.slow,
			JointMin: s.min, JointMax: s.max, HomeOffset: s.offset,
		}
	}
	return d
}

func boardInputs() [ioboard.InputCount]ioboard.InputConfig {
	var in [ioboard.InputCount]ioboard.InputConfig
	for i := range in {
		in[i] = ioboard.InputConfig{Pin: hal.Pin(14 + i), ActiveLow: true, DebounceUs: 5000}
	}
	in[ioboard.EstopIndex] = ioboard.InputConfig{Pin: hal.Pin(14 + ioboard.EstopIndex), ActiveLow: false, DebounceUs: 5000}
	return in
}

func boardOutputs() [ioboard.OutputCount]ioboard.OutputConfig {
	var out [ioboard.OutputCount]ioboard.OutputConfig
	for i := range out {
		out[i] = ioboard.OutputConfig{Pin: hal.Pin(26 + i)}
	}
	return out
}
