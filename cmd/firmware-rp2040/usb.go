//go:build rp2040

package main

import "machine"

// InitUSB brings up the USB CDC-ACM serial link tinygo's runtime exposes
// as machine.Serial on rp2040 boards.
func InitUSB() {
	machine.Serial.Configure(machine.UARTConfig{})
}

// USBAvailable returns the number of bytes buffered and ready to read.
func USBAvailable() int {
	return machine.Serial.Buffered()
}
