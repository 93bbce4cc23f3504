package service

import (
	"math"

	"gridmeter"
	"gridmeter/internal/config"
)

// Composite weights; they sum to 1.0.
const (
	weightVoltage   = 0.4
	weightFrequency = 0.3
	weightHarmonic  = 0.2
	weightStability = 0.1
)

// Per-metric penalty slopes. Each component score is 100 minus slope times
// the deviation, clamped to [0,100].
const (
	slopeVoltagePerDevPct = 4.0  // per % deviation from nominal voltage
	slopeFrequencyPerHz   = 10.0 // per Hz deviation from nominal frequency
	slopeTHDPerPct        = 2.0  // per % total harmonic distortion
	slopeStabilityPerPct  = 20.0 // per % coefficient of variation
)

// Classification thresholds on the composite score.
const (
	classExcellentMin = 90.0
	classGoodMin      = 75.0
	classFairMin      = 60.0
)

type QualityService struct {
	nominalVoltage   float64
	nominalFrequency float64
}

func NewQualityService(cfg config.Sampler) *QualityService {
	return &QualityService{
		nominalVoltage:   cfg.NominalVoltage,
		nominalFrequency: cfg.NominalFrequency,
	}
}

// Score derives the weighted power-quality composite from one measurement.
// The function is total: NaN/Inf inputs count as worst-case deviation for
// their component instead of poisoning the composite.
func (s *QualityService) Score(m gridmeter.Measurement) gridmeter.QualityAssessment {
	voltageDevPct := math.Abs(m.Voltage-s.nominalVoltage) / s.nominalVoltage * 100
	frequencyDevHz := math.Abs(m.Frequency - s.nominalFrequency)

	q := gridmeter.QualityAssessment{
		VoltageScore:   componentScore(voltageDevPct, slopeVoltagePerDevPct),
		FrequencyScore: componentScore(frequencyDevHz, slopeFrequencyPerHz),
		HarmonicScore:  componentScore(m.THDVoltage, slopeTHDPerPct),
		StabilityScore: componentScore(m.VoltageStability, slopeStabilityPerPct),
	}
	q.Score = weightVoltage*q.VoltageScore +
		weightFrequency*q.FrequencyScore +
		weightHarmonic*q.HarmonicScore +
		weightStability*q.StabilityScore
	q.Class = classify(q.Score)
	return q
}

func componentScore(deviation, slope float64) float64 {
	if math.IsNaN(deviation) || math.IsInf(deviation, 0) || deviation < 0 {
		return 0
	}
	score := 100 - slope*deviation
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func classify(score float64) gridmeter.QualityClass {
	switch {
	case score >= classExcellentMin:
		return gridmeter.QualityExcellent
	case score >= classGoodMin:
		return gridmeter.QualityGood
	case score >= classFairMin:
		return gridmeter.QualityFair
	default:
		return gridmeter.QualityPoor
	}
}
