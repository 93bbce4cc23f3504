package service

import (
	"fmt"

	"gridmeter"
	"gridmeter/internal/config"
)

// Violation condition names, also used for one-shot alert dedup.
const (
	condOvervoltage   = "OVERVOLTAGE"
	condUndervoltage  = "UNDERVOLTAGE"
	condOvercurrent   = "OVERCURRENT"
	condOverpower     = "OVERPOWER"
	condOvertemp      = "OVERTEMPERATURE"
	condFrequencyHigh = "FREQUENCY_HIGH"
	condFrequencyLow  = "FREQUENCY_LOW"
	condQualityLow    = "QUALITY_LOW"
	condSensorHealth  = "SENSOR_HEALTH"
)

type violation struct {
	condition string
	severity  gridmeter.SafetyState // WARNING or LOCKOUT
	value     float64
	threshold float64
}

// SafetyDecision is the outcome of one cycle's evaluation.
type SafetyDecision struct {
	State      gridmeter.SafetyState
	Previous   gridmeter.SafetyState
	Changed    bool
	Violations []string
	// NewAlerts are the one-shot records for conditions that tripped this
	// cycle. A condition that stays tripped does not alert again until it
	// clears and trips anew.
	NewAlerts []gridmeter.SafetyAlert
}

// SafetyService is the interlock state machine. Escalation is immediate;
// de-escalation needs consecutive clean cycles (hysteresis prevents chatter),
// and LOCKOUT can never jump straight back to NORMAL.
type SafetyService struct {
	cfg config.Safety

	state       gridmeter.SafetyState
	cleanCycles int
	active      map[string]bool
}

func NewSafetyService(cfg config.Safety) *SafetyService {
	return &SafetyService{
		cfg:    cfg,
		state:  gridmeter.SafetyNormal,
		active: make(map[string]bool),
	}
}

func (s *SafetyService) State() gridmeter.SafetyState { return s.state }

// Evaluate folds one cycle's measurement and quality assessment into the
// state machine. sensorFault marks an escalated acquisition failure from the
// sampler; it is a warning-level condition, not a lockout, because the
// carried-forward values themselves are last known good.
func (s *SafetyService) Evaluate(m gridmeter.Measurement, q gridmeter.QualityAssessment, sensorFault bool) SafetyDecision {
	violations := s.check(m, q, sensorFault)

	hard := false
	warn := false
	for _, v := range violations {
		if v.severity == gridmeter.SafetyLockout {
			hard = true
		} else {
			warn = true
		}
	}

	prev := s.state
	switch {
	case hard:
		s.state = gridmeter.SafetyLockout
		s.cleanCycles = 0
	case s.state == gridmeter.SafetyLockout:
		// Hard conditions cleared; count down toward WARNING. Only cycles
		// with valid data count as evidence that conditions really cleared.
		if m.DataValid {
			s.cleanCycles++
			if s.cleanCycles >= s.cfg.LockoutClearCycles {
				s.state = gridmeter.SafetyWarning
				s.cleanCycles = 0
			}
		}
	case warn:
		s.state = gridmeter.SafetyWarning
		s.cleanCycles = 0
	case s.state == gridmeter.SafetyWarning:
		if m.DataValid {
			s.cleanCycles++
			if s.cleanCycles >= s.cfg.WarningClearCycles {
				s.state = gridmeter.SafetyNormal
				s.cleanCycles = 0
			}
		}
	}

	dec := SafetyDecision{
		State:    s.state,
		Previous: prev,
		Changed:  s.state != prev,
	}

	current := make(map[string]bool, len(violations))
	for _, v := range violations {
		current[v.condition] = true
		dec.Violations = append(dec.Violations, v.condition)
		if !s.active[v.condition] {
			dec.NewAlerts = append(dec.NewAlerts, gridmeter.SafetyAlert{
				Condition: v.condition,
				Severity:  v.severity,
				Value:     v.value,
				Threshold: v.threshold,
				RaisedAt:  m.Timestamp,
			})
		}
	}
	s.active = current

	return dec
}

func (s *SafetyService) check(m gridmeter.Measurement, q gridmeter.QualityAssessment, sensorFault bool) []violation {
	var out []violation
	add := func(cond string, sev gridmeter.SafetyState, value, threshold float64) {
		out = append(out, violation{condition: cond, severity: sev, value: value, threshold: threshold})
	}

	if sensorFault {
		add(condSensorHealth, gridmeter.SafetyWarning, 0, 0)
	}
	// Threshold checks only run against validated data; carried-forward
	// values were already judged the cycle they were measured.
	if !m.DataValid {
		return out
	}

	c := s.cfg
	switch {
	case m.Voltage > c.VoltageHardMax:
		add(condOvervoltage, gridmeter.SafetyLockout, m.Voltage, c.VoltageHardMax)
	case m.Voltage > c.VoltageWarnMax:
		add(condOvervoltage, gridmeter.SafetyWarning, m.Voltage, c.VoltageWarnMax)
	case m.Voltage < c.VoltageHardMin:
		add(condUndervoltage, gridmeter.SafetyLockout, m.Voltage, c.VoltageHardMin)
	case m.Voltage < c.VoltageWarnMin:
		add(condUndervoltage, gridmeter.SafetyWarning, m.Voltage, c.VoltageWarnMin)
	}

	switch {
	case m.Current > c.CurrentHardMax:
		add(condOvercurrent, gridmeter.SafetyLockout, m.Current, c.CurrentHardMax)
	case m.Current > c.CurrentWarnMax:
		add(condOvercurrent, gridmeter.SafetyWarning, m.Current, c.CurrentWarnMax)
	}

	power := m.Power
	if power < 0 {
		power = -power // export direction trips the same limits
	}
	switch {
	case power > c.PowerHardMax:
		add(condOverpower, gridmeter.SafetyLockout, power, c.PowerHardMax)
	case power > c.PowerWarnMax:
		add(condOverpower, gridmeter.SafetyWarning, power, c.PowerWarnMax)
	}

	switch {
	case m.Temperature > c.TempHardMax:
		add(condOvertemp, gridmeter.SafetyLockout, m.Temperature, c.TempHardMax)
	case m.Temperature > c.TempWarnMax:
		add(condOvertemp, gridmeter.SafetyWarning, m.Temperature, c.TempWarnMax)
	}

	switch {
	case m.Frequency > c.FrequencyHardMax:
		add(condFrequencyHigh, gridmeter.SafetyLockout, m.Frequency, c.FrequencyHardMax)
	case m.Frequency > c.FrequencyWarnMax:
		add(condFrequencyHigh, gridmeter.SafetyWarning, m.Frequency, c.FrequencyWarnMax)
	case m.Frequency < c.FrequencyHardMin:
		add(condFrequencyLow, gridmeter.SafetyLockout, m.Frequency, c.FrequencyHardMin)
	case m.Frequency < c.FrequencyWarnMin:
		add(condFrequencyLow, gridmeter.SafetyWarning, m.Frequency, c.FrequencyWarnMin)
	}

	if q.Score < c.QualityWarnFloor {
		add(condQualityLow, gridmeter.SafetyWarning, q.Score, c.QualityWarnFloor)
	}

	return out
}

// DescribeTransition renders a transition for the event log.
func DescribeTransition(dec SafetyDecision) string {
	return fmt.Sprintf("safety state %s -> %s", dec.Previous, dec.State)
}
