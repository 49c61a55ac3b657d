//go:build !tinygo

package hal

import "time"

var bootTime = time.Now()

// nowMicros returns microseconds elapsed since process start.
func nowMicros() uint64 {
	return uint64(time.Since(bootTime).Microseconds())
}
