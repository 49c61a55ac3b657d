// Command firmware-sim runs the motion firmware as a regular-Go host
// process: a loopback-GPIO simulation stands in for real stepper/limit
// hardware, and the JSON line protocol is served over a real serial
// port using the same tarm/serial transport the host tooling uses to
// talk to a real board.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sixar/motion-firmware/host/serial"
	"github.com/sixar/motion-firmware/internal/config"
	"github.com/sixar/motion-firmware/internal/firmware"
	"github.com/sixar/motion-firmware/internal/hal"
	"github.com/sixar/motion-firmware/internal/ioboard"
	"github.com/sixar/motion-firmware/internal/motion"
	"github.com/sixar/motion-firmware/internal/stepengine"
)

var (
	device     = flag.String("device", "", "Serial device path; empty runs against stdin/stdout")
	baud       = flag.Int("baud", 250000, "Baud rate (ignored over USB CDC)")
	configPath = flag.String("config", "firmware-sim.config.json", "Config Store file")
	posPath    = flag.String("positions", "firmware-sim.positions.bin", "Position Store file")
	tickHz     = flag.Float64("tick-hz", 20000, "Step Engine tick frequency")
)

func main() {
	flag.Parse()

	port, err := openPort()
	if err != nil {
		fmt.Fprintf(os.Stderr, "firmware-sim: %v\n", err)
		os.Exit(1)
	}
	defer port.Close()

	gpio := newLoopbackGPIO()
	clk := hal.SystemClock{}

	root := firmware.New(firmware.Params{
		GPIO:            gpio,
		Clock:           clk,
		ConfigStorage:   &fileStorage{path: *configPath},
		PositionStorage: &fileStorage{path: *posPath},
		AxisPins:        simAxisPins(),
		Mechanical:      simMechanical(),
		Defaults:        simDefaults(),
		Inputs:          simInputs(),
		Outputs:         simOutputs(),
		TickFreqHz:      *tickHz,
		Restart:         func() { fmt.Fprintln(os.Stderr, "firmware-sim: restart requested, exiting"); os.Exit(0) },
		Log:             func(line string) { fmt.Fprintln(os.Stderr, "log:", line) },
	})

	engine := &stepTicker{root: root, freqHz: *tickHz, stop: make(chan struct{})}
	go engine.run()
	defer engine.close()

	runIOLoop(root, port)
}

func openPort() (readWriteFlusher, error) {
	if *device == "" {
		return stdioPort{}, nil
	}
	return serial.Open(&serial.Config{Device: *device, Baud: *baud, ReadTimeout: 100})
}

type readWriteFlusher interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
}

type stdioPort struct{}

func (stdioPort) Read(b []byte) (int, error)  { return os.Stdin.Read(b) }
func (stdioPort) Write(b []byte) (int, error) { return os.Stdout.Write(b) }
func (stdioPort) Close() error                { return nil }

// stepTicker drives the Step Engine's tick context from a dedicated
// goroutine paced by a ticker, per stepengine.Engine.Tick's contract:
// one concurrency context distinct from the main loop below.
type stepTicker struct {
	root   *firmware.Root
	freqHz float64
	stop   chan struct{}
}

func (s *stepTicker) run() {
	period := time.Duration(float64(time.Second) / s.freqHz)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.root.TickStepEngine()
		case <-s.stop:
			return
		}
	}
}

func (s *stepTicker) close() { close(s.stop) }

// runIOLoop is the main context: read lines from the port into the raw
// queue, drive the main loop, write replies back out.
func runIOLoop(root *firmware.Root, port readWriteFlusher) {
	var mu sync.Mutex
	scanner := bufio.NewScanner(port)
	go func() {
		for scanner.Scan() {
			mu.Lock()
			root.Ingest(scanner.Text())
			mu.Unlock()
		}
	}()

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		mu.Lock()
		root.Tick()
		lines := root.Drain()
		mu.Unlock()
		for _, line := range lines {
			port.Write(append(line, '\n'))
		}
	}
}

func simAxisPins() [firmware.Joints]stepengine.AxisPins {
	var pins [firmware.Joints]stepengine.AxisPins
	for i := range pins {
		pins[i] = stepengine.AxisPins{Step: hal.Pin(10 + 2*i), Dir: hal.Pin(11 + 2*i)}
	}
	return pins
}

func simMechanical() [firmware.Joints]motion.Mechanical {
	// Gearbox ratios and steps-per-rev lifted from the reference
	// controller's per-joint mechanical table.
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

func simDefaults() [firmware.Joints]config.Defaults {
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

func simInputs() [ioboard.InputCount]ioboard.InputConfig {
	var in [ioboard.InputCount]ioboard.InputConfig
	for i := range in {
		in[i] = ioboard.InputConfig{Pin: hal.Pin(100 + i), ActiveLow: true, DebounceUs: 5000}
	}
	in[ioboard.EstopIndex] = ioboard.InputConfig{Pin: hal.Pin(100 + ioboard.EstopIndex), ActiveLow: false, DebounceUs: 5000}
	return in
}

func simOutputs() [ioboard.OutputCount]ioboard.OutputConfig {
	var out [ioboard.OutputCount]ioboard.OutputConfig
	for i := range out {
		out[i] = ioboard.OutputConfig{Pin: hal.Pin(200 + i)}
	}
	return out
}

// loopbackGPIO simulates hardware by echoing every write back as the
// next read on the same pin, so limit switches and the e-stop line can
// be driven by the operator over a side channel in future builds; for
// now it just lets the firmware boot and run without a real board.
type loopbackGPIO struct {
	mu   sync.Mutex
	pins map[hal.Pin]bool
}

func newLoopbackGPIO() *loopbackGPIO {
	return &loopbackGPIO{pins: map[hal.Pin]bool{}}
}

func (g *loopbackGPIO) ConfigureOutput(pin hal.Pin) error        { return nil }
func (g *loopbackGPIO) ConfigureInputPullUp(pin hal.Pin) error   { g.set(pin, true); return nil }
func (g *loopbackGPIO) ConfigureInputPullDown(pin hal.Pin) error { g.set(pin, false); return nil }

func (g *loopbackGPIO) SetPin(pin hal.Pin, v bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pins[pin] = v
	return nil
}

func (g *loopbackGPIO) ReadPin(pin hal.Pin) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pins[pin]
}

func (g *loopbackGPIO) set(pin hal.Pin, v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.pins[pin]; !exists {
		g.pins[pin] = v
	}
}

// fileStorage backs both the Config Store and the Position Store with
// a plain file, matching their shared Load()/Save([]byte) shape.
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
