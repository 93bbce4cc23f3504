package sensor

import (
	"math"
	"math/rand"
	"sync"
)

// SimulatedReader synthesizes a plausible single-phase mains feed so the rest
// of the pipeline can run without metering hardware. The waveform is a sine at
// the configured base RMS with small random drift plus a third-harmonic
// component, which gives the downstream THD estimate something real to chew on.
type SimulatedReader struct {
	mu sync.Mutex

	rng *rand.Rand

	baseVoltage   float64 // RMS V the simulation hovers around
	baseFrequency float64 // Hz
	baseLoad      float64 // RMS A
	harmonicShare float64 // third-harmonic amplitude as a share of fundamental

	temperature float64
	humidity    float64

	// fault, when set, is returned by the next read and then cleared.
	fault error
}

// NewSimulatedReader returns a reader centered on the given mains profile.
func NewSimulatedReader(baseVoltage, baseFrequency float64) *SimulatedReader {
	return &SimulatedReader{
		rng:           rand.New(rand.NewSource(rand.Int63())),
		baseVoltage:   baseVoltage,
		baseFrequency: baseFrequency,
		baseLoad:      6.0,
		harmonicShare: 0.02,
		temperature:   28.0,
		humidity:      55.0,
	}
}

// InjectFault makes the next read fail with err; used to exercise the
// sampler's carry-forward and escalation paths.
func (r *SimulatedReader) InjectFault(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fault = err
}

// SetLoad changes the simulated RMS current draw.
func (r *SimulatedReader) SetLoad(amps float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baseLoad = amps
}

func (r *SimulatedReader) ReadWindow(n int) ([]RawSample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fault != nil {
		err := r.fault
		r.fault = nil
		return nil, err
	}

	// Slow per-window drift, bounded so the feed stays inside a healthy band.
	vRMS := r.baseVoltage + r.rng.Float64()*4 - 2
	freq := r.baseFrequency + r.rng.Float64()*0.1 - 0.05
	iRMS := r.baseLoad + r.rng.Float64()*0.5 - 0.25
	if iRMS < 0 {
		iRMS = 0
	}

	vPeak := vRMS * math.Sqrt2
	iPeak := iRMS * math.Sqrt2

	samples := make([]RawSample, n)
	for k := range samples {
		phase := 2 * math.Pi * float64(k) / float64(n)
		v := vPeak*math.Sin(phase) + vPeak*r.harmonicShare*math.Sin(3*phase)
		i := iPeak * math.Sin(phase)
		samples[k] = RawSample{
			Voltage:   v + r.rng.Float64()*0.6 - 0.3,
			Current:   i + r.rng.Float64()*0.05 - 0.025,
			Frequency: freq,
		}
	}
	return samples, nil
}

func (r *SimulatedReader) ReadEnvironment() (Environment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fault != nil {
		err := r.fault
		r.fault = nil
		return Environment{}, err
	}

	r.temperature += r.rng.Float64()*0.2 - 0.1
	r.humidity += r.rng.Float64()*0.4 - 0.2
	if r.humidity < 20 {
		r.humidity = 20
	}
	if r.humidity > 90 {
		r.humidity = 90
	}
	return Environment{Temperature: r.temperature, Humidity: r.humidity}, nil
}
