package service

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"

	"gridmeter"
	"gridmeter/internal/config"
	"gridmeter/internal/sensor"
)

// stabilityWindows is how many recent window RMS values feed the
// coefficient-of-variation estimate.
const stabilityWindows = 10

// SamplerService turns raw sensor windows into one Measurement per cycle.
// Energy accumulates against the actual wall-clock delta between samples, so
// scheduler jitter does not skew the totals.
type SamplerService struct {
	cfg      config.Sampler
	deviceID string
	reader   sensor.Reader
	clk      clock.Clock

	last         gridmeter.Measurement
	lastSampleAt time.Time
	failures     int
	rmsHistory   []float64

	energyKWh   float64
	producedKWh float64
	consumedKWh float64
}

func NewSamplerService(cfg config.Sampler, deviceID string, reader sensor.Reader, clk clock.Clock) *SamplerService {
	return &SamplerService{
		cfg:      cfg,
		deviceID: deviceID,
		reader:   reader,
		clk:      clk,
	}
}

// Sample acquires one window and derives the cycle's measurement. It never
// fails: on acquisition trouble the last known-good electrical values are
// carried forward with DataValid=false.
func (s *SamplerService) Sample() gridmeter.Measurement {
	now := s.clk.Now().UTC()

	window, err := s.reader.ReadWindow(s.cfg.WindowSize)
	var env sensor.Environment
	if err == nil {
		env, err = s.reader.ReadEnvironment()
	}
	if err != nil {
		return s.carryForward(now)
	}

	w := analyzeWindow(window)
	if !plausible(w) {
		return s.carryForward(now)
	}
	s.failures = 0

	s.rmsHistory = append(s.rmsHistory, w.vRMS)
	if len(s.rmsHistory) > stabilityWindows {
		s.rmsHistory = s.rmsHistory[1:]
	}

	power := w.vRMS * w.iRMS * s.cfg.AssumedPowerFactor
	if w.meanP < 0 {
		power = -power // net export
	}
	s.accumulate(now, power)

	m := gridmeter.Measurement{
		Voltage:          w.vRMS,
		Current:          w.iRMS,
		Power:            power,
		Energy:           s.energyKWh,
		EnergyProduced:   s.producedKWh,
		EnergyConsumed:   s.consumedKWh,
		PowerFactor:      s.cfg.AssumedPowerFactor,
		Frequency:        w.freq,
		THDVoltage:       w.thdV,
		THDCurrent:       w.thdI,
		VoltageStability: coefficientOfVariation(s.rmsHistory),
		Temperature:      env.Temperature,
		Humidity:         env.Humidity,
		Timestamp:        now,
		DeviceID:         s.deviceID,
		DataValid:        true,
	}
	s.last = m
	return m
}

// SensorFaulted reports whether consecutive acquisition failures have reached
// the escalation threshold.
func (s *SamplerService) SensorFaulted() bool {
	return s.failures >= s.cfg.MaxSensorFailures
}

// Restore seeds the accumulators from a persisted measurement at startup.
func (s *SamplerService) Restore(m gridmeter.Measurement) {
	if m.Timestamp.IsZero() {
		return
	}
	s.last = m
	s.energyKWh = m.Energy
	s.producedKWh = m.EnergyProduced
	s.consumedKWh = m.EnergyConsumed
}

// ResetDaily zeroes the energy accumulators at the calendar-day rollover.
func (s *SamplerService) ResetDaily() {
	s.energyKWh = 0
	s.producedKWh = 0
	s.consumedKWh = 0
	s.last.Energy = 0
	s.last.EnergyProduced = 0
	s.last.EnergyConsumed = 0
}

func (s *SamplerService) carryForward(now time.Time) gridmeter.Measurement {
	s.failures++
	// Keep accumulating with the carried-forward power so the daily energy
	// totals do not stall during a short sensor outage.
	s.accumulate(now, s.last.Power)

	m := s.last
	m.Energy = s.energyKWh
	m.EnergyProduced = s.producedKWh
	m.EnergyConsumed = s.consumedKWh
	m.Timestamp = now
	m.DeviceID = s.deviceID
	m.DataValid = false
	s.last = m
	return m
}

func (s *SamplerService) accumulate(now time.Time, powerW float64) {
	if !s.lastSampleAt.IsZero() {
		if hours := now.Sub(s.lastSampleAt).Hours(); hours > 0 {
			kwh := math.Abs(powerW) / 1000 * hours
			s.energyKWh += kwh
			if powerW < 0 {
				s.producedKWh += kwh
			} else {
				s.consumedKWh += kwh
			}
		}
	}
	s.lastSampleAt = now
}

// windowStats are the derived quantities of one acquisition window.
type windowStats struct {
	vRMS, iRMS float64
	freq       float64
	thdV, thdI float64
	meanP      float64 // mean instantaneous power, sign gives direction
}

// analyzeWindow computes RMS values and a single-bin harmonic estimate. The
// projection assumes the window spans exactly one fundamental cycle, which is
// the acquisition contract of sensor.Reader.ReadWindow.
func analyzeWindow(samples []sensor.RawSample) windowStats {
	n := float64(len(samples))
	if n == 0 {
		return windowStats{}
	}

	var sumV2, sumI2, sumF, sumP float64
	var av, bv, ai, bi float64
	for k, sm := range samples {
		sumV2 += sm.Voltage * sm.Voltage
		sumI2 += sm.Current * sm.Current
		sumF += sm.Frequency
		sumP += sm.Voltage * sm.Current

		phase := 2 * math.Pi * float64(k) / n
		sin, cos := math.Sincos(phase)
		av += sm.Voltage * sin
		bv += sm.Voltage * cos
		ai += sm.Current * sin
		bi += sm.Current * cos
	}

	w := windowStats{
		vRMS:  math.Sqrt(sumV2 / n),
		iRMS:  math.Sqrt(sumI2 / n),
		freq:  sumF / n,
		meanP: sumP / n,
	}
	w.thdV = thdPercent(w.vRMS, fundamentalRMS(av, bv, n))
	w.thdI = thdPercent(w.iRMS, fundamentalRMS(ai, bi, n))
	return w
}

// fundamentalRMS recovers the RMS of the fundamental component from the
// sin/cos projections over one cycle of n samples.
func fundamentalRMS(a, b, n float64) float64 {
	return math.Sqrt2 * math.Sqrt(a*a+b*b) / n
}

// thdPercent is the residual harmonic content relative to the fundamental.
func thdPercent(totalRMS, fundRMS float64) float64 {
	if fundRMS <= 0 {
		return 0
	}
	residual := totalRMS*totalRMS - fundRMS*fundRMS
	if residual <= 0 {
		return 0
	}
	return math.Sqrt(residual) / fundRMS * 100
}

func coefficientOfVariation(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if mean == 0 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss/float64(len(xs))) / mean * 100
}

// plausible rejects physically impossible windows so a glitching front end is
// treated as a sensor fault rather than poisoning downstream checks.
func plausible(w windowStats) bool {
	for _, x := range []float64{w.vRMS, w.iRMS, w.freq, w.meanP} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	if w.vRMS <= 0 || w.vRMS > 500 {
		return false
	}
	if w.iRMS < 0 || w.iRMS > 200 {
		return false
	}
	if w.freq < 40 || w.freq > 70 {
		return false
	}
	return true
}
