//go:build linux

// Command firmware-rpi runs the motion firmware on a Raspberry Pi,
// driving real GPIO through go-rpio and serving the JSON line protocol
// over a USB-serial link to the host.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/stianeikeland/go-rpio/v4"

	"github.com/sixar/motion-firmware/host/serial"
	"github.com/sixar/motion-firmware/internal/config"
	"github.com/sixar/motion-firmware/internal/firmware"
	"github.com/sixar/motion-firmware/internal/hal"
	"github.com/sixar/motion-firmware/internal/ioboard"
	"github.com/sixar/motion-firmware/internal/motion"
	"github.com/sixar/motion-firmware/internal/stepengine"
)

var (
	device     = flag.String("device", "/dev/ttyGS0", "Serial device path (USB gadget CDC ACM)")
	baud       = flag.Int("baud", 250000, "Baud rate (ignored over USB CDC)")
	configPath = flag.String("config", "/var/lib/motion-firmware/config.json", "Config Store file")
	posPath    = flag.String("positions", "/var/lib/motion-firmware/positions.bin", "Position Store file")
	tickHz     = flag.Float64("tick-hz", 10000, "Step Engine tick frequency")
)

func main() {
	flag.Parse()

	if err := rpio.Open(); err != nil {
		fmt.Fprintf(os.Stderr, "firmware-rpi: failed to open GPIO: %v (are you running as root?)\n", err)
		os.Exit(1)
	}
	defer rpio.Close()

	port, err := serial.Open(&serial.Config{Device: *device, Baud: *baud, ReadTimeout: 100})
	if err != nil {
		fmt.Fprintf(os.Stderr, "firmware-rpi: %v\n", err)
		os.Exit(1)
	}
	defer port.Close()

	gpio := newRPiGPIO()
	defer gpio.resetAll()

	root := firmware.New(firmware.Params{
		GPIO:            gpio,
		Clock:           hal.SystemClock{},
		ConfigStorage:   &fileStorage{path: *configPath},
		PositionStorage: &fileStorage{path: *posPath},
		AxisPins:        rpiAxisPins(),
		Mechanical:      rpiMechanical(),
		Defaults:        rpiDefaults(),
		Inputs:          rpiInputs(),
		Outputs:         rpiOutputs(),
		TickFreqHz:      *tickHz,
		Restart:         func() { fmt.Fprintln(os.Stderr, "firmware-rpi: restart requested, exiting"); os.Exit(0) },
		Log:             func(line string) { fmt.Fprintln(os.Stderr, "log:", line) },
	})

	stop := make(chan struct{})
	go func() {
		period := time.Duration(float64(time.Second) / *tickHz)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				root.TickStepEngine()
			case <-stop:
				return
			}
		}
	}()
	defer close(stop)

	var mu sync.Mutex
	scanner := bufio.NewScanner(port)
	go func() {
		for scanner.Scan() {
			mu.Lock()
			root.Ingest(scanner.Text())
			mu.Unlock()
		}
	}()

	mainTick := time.NewTicker(time.Millisecond)
	defer mainTick.Stop()
	for range mainTick.C {
		mu.Lock()
		root.Tick()
		lines := root.Drain()
		mu.Unlock()
		for _, line := range lines {
			port.Write(append(line, '\n'))
		}
	}
}

// rpiGPIO implements hal.GPIODriver over go-rpio's memory-mapped
// register access, the same driver shape as a real-hardware GPIO
// backend in the example pack's Raspberry Pi build.
type rpiGPIO struct {
	mu   sync.Mutex
	pins map[hal.Pin]rpio.Pin
}

func newRPiGPIO() *rpiGPIO {
	return &rpiGPIO{pins: map[hal.Pin]rpio.Pin{}}
}

func (g *rpiGPIO) pin(p hal.Pin) rpio.Pin {
	g.mu.Lock()
	defer g.mu.Unlock()
	rp, ok := g.pins[p]
	if !ok {
		rp = rpio.Pin(p)
		g.pins[p] = rp
	}
	return rp
}

func (g *rpiGPIO) ConfigureOutput(pin hal.Pin) error {
	g.pin(pin).Output()
	return nil
}

func (g *rpiGPIO) ConfigureInputPullUp(pin hal.Pin) error {
	p := g.pin(pin)
	p.Input()
	p.PullUp()
	return nil
}

func (g *rpiGPIO) ConfigureInputPullDown(pin hal.Pin) error {
	p := g.pin(pin)
	p.Input()
	p.PullDown()
	return nil
}

func (g *rpiGPIO) SetPin(pin hal.Pin, v bool) error {
	p := g.pin(pin)
	if v {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

func (g *rpiGPIO) ReadPin(pin hal.Pin) bool {
	return g.pin(pin).Read() == rpio.High
}

func (g *rpiGPIO) resetAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.pins {
		p.Input()
	}
}

func rpiAxisPins() [firmware.Joints]stepengine.AxisPins {
	// BCM pin numbers for six step/dir pairs on a 40-pin header,
	// leaving GPIO2/3 (I2C) and GPIO14/15 (UART) free.
	bcm := []struct{ step, dir int }{
		{17, 27}, {22, 23}, {24, 25}, {5, 6}, {12, 13}, {16, 19},
	}
	var pins [firmware.Joints]stepengine.AxisPins
	for i, p := range bcm {
		pins[i] = stepengine.AxisPins{Step: hal.Pin(p.step), Dir: hal.Pin(p.dir)}
	}
	return pins
}

func rpiMechanical() [firmware.Joints]motion.Mechanical {
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

func rpiDefaults() [firmware.Joints]config.Defaults {
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

func rpiInputs() [ioboard.InputCount]ioboard.InputConfig {
	// GPIO26 carries the normally-closed e-stop loop (active-high:
	// reads low the instant the loop breaks). Buttons and limit
	// switches are given placeholder pin numbers 500 and up, outside
	// the header's BCM range, configured active-low with pull-ups.
	var in [ioboard.InputCount]ioboard.InputConfig
	for i := range in {
		in[i] = ioboard.InputConfig{Pin: hal.Pin(500 + i), ActiveLow: true, DebounceUs: 10000}
	}
	in[ioboard.EstopIndex] = ioboard.InputConfig{Pin: hal.Pin(26), ActiveLow: false, DebounceUs: 10000}
	return in
}

func rpiOutputs() [ioboard.OutputCount]ioboard.OutputConfig {
	var out [ioboard.OutputCount]ioboard.OutputConfig
	for i := range out {
		out[i] = ioboard.OutputConfig{Pin: hal.Pin(600 + i)}
	}
	return out
}

// fileStorage backs both the Config Store and the Position Store.
type fileStorage struct {
	path string
}

func (f *fileStorage) Load() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

func (f *fileStorage) Save(data []byte) error {
	return os.WriteFile(f.path, data, 0o644)
}
