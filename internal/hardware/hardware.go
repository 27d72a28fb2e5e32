// Package hardware defines the sensor and driver interfaces the control core
// consumes, and provides a simulated rig for development and tests.
package hardware

// LevelSensor reads the distance from the sensor head down to the water
// surface. Larger readings mean less water. A negative value signals an
// invalid reading; no error is raised.
type LevelSensor interface {
	ReadLevelMM() int
}

// PowerMonitor reports the instantaneous electrical readings of the rig.
// Used for energy accounting and telemetry only.
type PowerMonitor interface {
	ReadPowerMW() float64
	ReadVoltageMV() float64
	ReadCurrentMA() float64
}
