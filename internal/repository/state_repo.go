package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"gridmeter"
)

type StateSQLite struct {
	db *sql.DB
}

func NewStateSQLite(db *sql.DB) *StateSQLite {
	return &StateSQLite{db: db}
}

// constants and helpers for clarity and reuse
const (
	meterStateRowID = 1

	insertOrUpdateStateSQL = `
		INSERT INTO meter_state (id, measurement, quality, safety, auto_trading,
			daily_bought_kwh, daily_sold_kwh, daily_revenue,
			pending_buy, pending_sell, conn, consecutive_errors, last_sync_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			measurement=excluded.measurement,
			quality=excluded.quality,
			safety=excluded.safety,
			auto_trading=excluded.auto_trading,
			daily_bought_kwh=excluded.daily_bought_kwh,
			daily_sold_kwh=excluded.daily_sold_kwh,
			daily_revenue=excluded.daily_revenue,
			pending_buy=excluded.pending_buy,
			pending_sell=excluded.pending_sell,
			conn=excluded.conn,
			consecutive_errors=excluded.consecutive_errors,
			last_sync_at=excluded.last_sync_at,
			updated_at=excluded.updated_at
	`

	selectStateSQL = `
		SELECT id, measurement, quality, safety, auto_trading,
			daily_bought_kwh, daily_sold_kwh, daily_revenue,
			pending_buy, pending_sell, conn, consecutive_errors, last_sync_at, updated_at
		FROM meter_state WHERE id=?
	`
)

// Save updates or inserts the meter_state row (id always 1). Measurement and
// quality sub-structs are stored as JSON; decimals as exact strings.
func (r *StateSQLite) Save(ctx context.Context, s gridmeter.MeterState) error {
	measurementJSON, err := json.Marshal(s.Measurement)
	if err != nil {
		return err
	}
	qualityJSON, err := json.Marshal(s.Quality)
	if err != nil {
		return err
	}

	// ensure UpdatedAt is always persisted as UTC; set if zero
	tsUTC := s.UpdatedAt
	if tsUTC.IsZero() {
		tsUTC = time.Now().UTC()
	} else {
		tsUTC = tsUTC.UTC()
	}

	var lastSync any
	if !s.LastSyncAt.IsZero() {
		lastSync = s.LastSyncAt.UTC()
	}

	_, err = r.db.ExecContext(ctx, insertOrUpdateStateSQL,
		meterStateRowID,
		string(measurementJSON),
		string(qualityJSON),
		string(s.Safety),
		s.AutoTrading,
		s.DailyBoughtKWh.String(),
		s.DailySoldKWh.String(),
		s.DailyRevenue.String(),
		s.PendingBuyOrders,
		s.PendingSellOrders,
		string(s.Conn),
		s.ConsecutiveErrors,
		lastSync,
		tsUTC,
	)
	return err
}

// Load fetches the single meter_state row (id=1).
func (r *StateSQLite) Load(ctx context.Context) (gridmeter.MeterState, error) {
	row := r.db.QueryRowContext(ctx, selectStateSQL, meterStateRowID)

	var (
		s                     gridmeter.MeterState
		measurementJSON       string
		qualityJSON           string
		safety, conn          string
		bought, sold, revenue string
		lastSync              sql.NullTime
	)
	if err := row.Scan(
		&s.ID,
		&measurementJSON,
		&qualityJSON,
		&safety,
		&s.AutoTrading,
		&bought,
		&sold,
		&revenue,
		&s.PendingBuyOrders,
		&s.PendingSellOrders,
		&conn,
		&s.ConsecutiveErrors,
		&lastSync,
		&s.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return gridmeter.MeterState{}, nil // no state yet
		}
		return gridmeter.MeterState{}, err
	}

	if err := json.Unmarshal([]byte(measurementJSON), &s.Measurement); err != nil {
		return gridmeter.MeterState{}, err
	}
	if err := json.Unmarshal([]byte(qualityJSON), &s.Quality); err != nil {
		return gridmeter.MeterState{}, err
	}

	s.Safety = gridmeter.SafetyState(safety)
	s.Conn = gridmeter.ConnState(conn)

	var err error
	if s.DailyBoughtKWh, err = decimal.NewFromString(bought); err != nil {
		return gridmeter.MeterState{}, err
	}
	if s.DailySoldKWh, err = decimal.NewFromString(sold); err != nil {
		return gridmeter.MeterState{}, err
	}
	if s.DailyRevenue, err = decimal.NewFromString(revenue); err != nil {
		return gridmeter.MeterState{}, err
	}

	if lastSync.Valid {
		s.LastSyncAt = lastSync.Time.UTC()
	}
	s.UpdatedAt = s.UpdatedAt.UTC()

	return s, nil
}
