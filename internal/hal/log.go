package hal

// Writer is a function type for emitting a single log line. Platforms
// redirect this to UART, USB-CDC, or stdout.
type Writer func(line string)

// Level orders log severity, cheapest first.
type Level uint8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

const ringSize = 32

// Event captures a single log line for the post-mortem ring buffer.
type Event struct {
	Level Level
	Tag   string
	Msg   string
}

var (
	writer  Writer = func(string) {}
	minimum        = LevelInfo

	ring     [ringSize]Event
	ringHead uint8

	asyncCh chan Event
)

// SetWriter sets the platform-specific log sink. Called once at boot.
func SetWriter(w Writer) {
	if w != nil {
		writer = w
	}
}

// SetMinLevel filters out log calls below the given level.
func SetMinLevel(l Level) {
	minimum = l
}

// StartAsync launches a background goroutine that drains queued log
// lines without blocking the main loop. Not available in tinygo
// builds without a scheduler; call only on the host/RPi targets.
func StartAsync() {
	asyncCh = make(chan Event, 32)
	go func() {
		for evt := range asyncCh {
			emit(evt)
		}
	}()
}

// Log records an event in the ring buffer and, if at or above the
// minimum level, emits it (asynchronously if StartAsync was called).
func Log(level Level, tag, msg string) {
	evt := Event{Level: level, Tag: tag, Msg: msg}
	ring[ringHead] = evt
	ringHead = (ringHead + 1) % ringSize

	if level < minimum {
		return
	}
	if asyncCh != nil {
		select {
		case asyncCh <- evt:
		default:
			// full, drop rather than block the main loop
		}
		return
	}
	emit(evt)
}

func emit(evt Event) {
	writer("[" + evt.Level.String() + "] " + evt.Tag + ": " + evt.Msg)
}

// Debugf, Infof, Warnf, Errorf are thin convenience wrappers.
func Debugf(tag, msg string) { Log(LevelDebug, tag, msg) }
func Infof(tag, msg string)  { Log(LevelInfo, tag, msg) }
func Warnf(tag, msg string)  { Log(LevelWarn, tag, msg) }
func Errorf(tag, msg string) { Log(LevelError, tag, msg) }

// DumpRing returns the ring buffer contents oldest-first, for
// post-mortem inspection after a fault.
func DumpRing() []Event {
	out := make([]Event, 0, ringSize)
	for i := uint8(0); i < ringSize; i++ {
		idx := (ringHead + i) % ringSize
		if ring[idx].Tag == "" && ring[idx].Msg == "" {
			continue
		}
		out = append(out, ring[idx])
	}
	return out
}
