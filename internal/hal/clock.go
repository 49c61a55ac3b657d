package hal

// Clock abstracts wall time as an integer microsecond counter, so step
// timing math stays in fixed-point-friendly integers on the tinygo
// target and is trivially fakeable in tests.
type Clock interface {
	// NowMicros returns a monotonically increasing microsecond count.
	NowMicros() uint64
}

// SystemClock is the default Clock backed by the platform's monotonic
// clock. Regular-Go and tinygo each provide their own nowMicros.
type SystemClock struct{}

func (SystemClock) NowMicros() uint64 {
	return nowMicros()
}
