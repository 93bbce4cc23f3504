package repository

import (
	"context"
	"database/sql"

	"gridmeter"
)

type ReadingSQLite struct {
	db *sql.DB
}

func NewReadingSQLite(db *sql.DB) *ReadingSQLite { return &ReadingSQLite{db: db} }

// Ensure implementation of ReadingRepo interface at compile time.
var _ ReadingRepo = (*ReadingSQLite)(nil)

const (
	insertReadingSQL = `
		INSERT INTO meter_readings (device_id, ts, voltage, current, power, energy,
			energy_produced, energy_consumed, power_factor, frequency,
			thd_voltage, thd_current, voltage_stability, temperature, humidity,
			quality_score, data_valid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectRecentReadingsSQL = `
		SELECT device_id, ts, voltage, current, power, energy,
			energy_produced, energy_consumed, power_factor, frequency,
			thd_voltage, thd_current, voltage_stability, temperature, humidity,
			quality_score, data_valid
		FROM meter_readings ORDER BY ts DESC LIMIT ?
	`
)

// Insert appends one sampling cycle's measurement.
func (r *ReadingSQLite) Insert(ctx context.Context, m gridmeter.Measurement) error {
	_, err := r.db.ExecContext(ctx, insertReadingSQL,
		m.DeviceID,
		m.Timestamp.UTC(),
		m.Voltage,
		m.Current,
		m.Power,
		m.Energy,
		m.EnergyProduced,
		m.EnergyConsumed,
		m.PowerFactor,
		m.Frequency,
		m.THDVoltage,
		m.THDCurrent,
		m.VoltageStability,
		m.Temperature,
		m.Humidity,
		m.QualityScore,
		m.DataValid,
	)
	return err
}

// ListRecent returns up to limit measurements, newest first.
func (r *ReadingSQLite) ListRecent(ctx context.Context, limit int) ([]gridmeter.Measurement, error) {
	rows, err := r.db.QueryContext(ctx, selectRecentReadingsSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]gridmeter.Measurement, 0, limit)
	for rows.Next() {
		var m gridmeter.Measurement
		if err := rows.Scan(
			&m.DeviceID,
			&m.Timestamp,
			&m.Voltage,
			&m.Current,
			&m.Power,
			&m.Energy,
			&m.EnergyProduced,
			&m.EnergyConsumed,
			&m.PowerFactor,
			&m.Frequency,
			&m.THDVoltage,
			&m.THDCurrent,
			&m.VoltageStability,
			&m.Temperature,
			&m.Humidity,
			&m.QualityScore,
			&m.DataValid,
		); err != nil {
			return nil, err
		}
		m.Timestamp = m.Timestamp.UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
