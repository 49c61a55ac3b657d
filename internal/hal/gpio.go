// Package hal abstracts the GPIO, clock and critical-section primitives
// the rest of the firmware needs, so the same component code runs under
// go test, under tinygo on an rp2040/rp2350, and on a Linux/Raspberry Pi
// target.
package hal

// Pin identifies a hardware GPIO pin number.
type Pin uint32

// GPIODriver is the abstract GPIO interface component code uses.
// Platform-specific implementations handle actual hardware control.
type GPIODriver interface {
	// ConfigureOutput configures a pin as a digital output.
	ConfigureOutput(pin Pin) error

	// ConfigureInputPullUp configures a pin as a digital input with a pull-up.
	ConfigureInputPullUp(pin Pin) error

	// ConfigureInputPullDown configures a pin as a digital input with a pull-down.
	ConfigureInputPullDown(pin Pin) error

	// SetPin drives the pin high (true) or low (false).
	SetPin(pin Pin, value bool) error

	// ReadPin reads the current pin state.
	ReadPin(pin Pin) bool
}

var gpioDriver GPIODriver

// SetGPIODriver registers the platform-specific driver. Called once at boot.
func SetGPIODriver(d GPIODriver) {
	gpioDriver = d
}

// MustGPIO returns the configured driver or panics if none was registered.
func MustGPIO() GPIODriver {
	if gpioDriver == nil {
		panic("hal: GPIO driver not configured")
	}
	return gpioDriver
}
