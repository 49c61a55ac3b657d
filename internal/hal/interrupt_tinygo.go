//go:build tinygo

package hal

import "runtime/interrupt"

// CriticalState captures the interrupt enable state prior to EnterCritical.
type CriticalState = interrupt.State

// EnterCritical disables interrupts and returns the previous state, for
// the single-writer critical sections the step engine's submission API
// needs when installing a new profile or resetting a position.
func EnterCritical() CriticalState {
	return interrupt.Disable()
}

// ExitCritical restores the interrupt state captured by EnterCritical.
func ExitCritical(state CriticalState) {
	interrupt.Restore(state)
}
