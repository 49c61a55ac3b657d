//go:build !tinygo

package hal

import "sync"

// CriticalState is unused on regular Go; the mutex below stands in for
// real interrupt disablement since the step engine's tick runs on its
// own goroutine rather than a hardware ISR under go test.
type CriticalState uintptr

var criticalMu sync.Mutex

// EnterCritical serializes against the simulated tick goroutine.
func EnterCritical() CriticalState {
	criticalMu.Lock()
	return 0
}

// ExitCritical releases the critical section entered by EnterCritical.
func ExitCritical(state CriticalState) {
	criticalMu.Unlock()
}
