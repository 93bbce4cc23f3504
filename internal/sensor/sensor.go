package sensor

import "errors"

// Raw electrical and environmental quantities as a front end delivers them,
// before any RMS aggregation or derived-metric math.
type RawSample struct {
	Voltage   float64 // instantaneous V
	Current   float64 // instantaneous A
	Frequency float64 // Hz
}

// Environment is the slow-moving ambient reading taken once per cycle.
type Environment struct {
	Temperature float64 // °C
	Humidity    float64 // %
}

var (
	// ErrSensorTimeout is returned when the front end does not answer in time.
	ErrSensorTimeout = errors.New("sensor: read timed out")
	// ErrSensorRange is returned when a reading is outside the physically
	// plausible envelope and must be discarded.
	ErrSensorRange = errors.New("sensor: reading out of range")
)

// Reader is the metering front end. ReadWindow returns n consecutive raw
// samples taken over one mains observation window; ReadEnvironment returns
// the ambient conditions. Implementations decide their own pacing.
type Reader interface {
	ReadWindow(n int) ([]RawSample, error)
	ReadEnvironment() (Environment, error)
}
