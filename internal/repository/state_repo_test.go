package repository_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"reflect"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"gridmeter"
	"gridmeter/internal/repository"
)

func TestStateSQLite_Save_SetsUTCWhenTimeZero(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New(): %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := repository.NewStateSQLite(db)

	state := gridmeter.MeterState{
		Measurement: gridmeter.Measurement{
			Voltage:  220.5,
			DeviceID: "GRID_METER_001",
		},
		Quality:           gridmeter.QualityAssessment{Score: 92, Class: gridmeter.QualityExcellent},
		Safety:            gridmeter.SafetyNormal,
		AutoTrading:       true,
		DailyBoughtKWh:    decimal.RequireFromString("0.5"),
		DailySoldKWh:      decimal.RequireFromString("1.25"),
		DailyRevenue:      decimal.RequireFromString("5625"),
		PendingBuyOrders:  1,
		PendingSellOrders: 2,
		Conn:              gridmeter.ConnConnected,
		ConsecutiveErrors: 0,
		// UpdatedAt is zero
	}

	measurementJSON, _ := json.Marshal(state.Measurement)
	qualityJSON, _ := json.Marshal(state.Quality)

	isUTCRecent := sqlmockArgumentFunc(func(v driver.Value) bool {
		tm, ok := v.(time.Time)
		if !ok {
			return false
		}
		if tm.Location() != time.UTC {
			return false
		}
		now := time.Now().UTC()
		return !tm.Before(now.Add(-5*time.Second)) && !tm.After(now.Add(5*time.Second))
	})

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO meter_state")).
		WithArgs(
			1, // id constant
			string(measurementJSON),
			string(qualityJSON),
			"NORMAL",
			state.AutoTrading,
			"0.5",
			"1.25",
			"5625",
			state.PendingBuyOrders,
			state.PendingSellOrders,
			"CONNECTED",
			state.ConsecutiveErrors,
			nil,         // zero LastSyncAt stored as NULL
			isUTCRecent, // UpdatedAt written as UTC "now"
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Save(context.Background(), state); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStateSQLite_Save_ExecErrorIsPropagated(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New(): %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := repository.NewStateSQLite(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO meter_state")).
		WillReturnError(errors.New("db down"))

	if err := repo.Save(context.Background(), gridmeter.MeterState{}); err == nil {
		t.Fatalf("Save() expected error, got nil")
	}
}

func TestStateSQLite_Load_NoRowsReturnsZeroValueAndNilError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New(): %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := repository.NewStateSQLite(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, measurement, quality, safety")).
		WithArgs(1).
		WillReturnError(sql.ErrNoRows)

	got, err := repo.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	var zero gridmeter.MeterState
	if !reflect.DeepEqual(got, zero) {
		t.Fatalf("Load() expected zero state, got: %+v", got)
	}
}

func TestStateSQLite_Load_HappyPath_UnmarshalsAndUTC(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New(): %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := repository.NewStateSQLite(db)

	cols := []string{
		"id", "measurement", "quality", "safety", "auto_trading",
		"daily_bought_kwh", "daily_sold_kwh", "daily_revenue",
		"pending_buy", "pending_sell", "conn", "consecutive_errors",
		"last_sync_at", "updated_at",
	}
	locNY, _ := time.LoadLocation("America/New_York")
	nonUTC := time.Date(2026, 2, 1, 8, 30, 0, 0, locNY)

	rows := sqlmock.NewRows(cols).
		AddRow(
			1,
			`{"voltage":231.2,"device_id":"GRID_METER_001","data_valid":true}`,
			`{"score":88.5,"class":"GOOD"}`,
			"WARNING",
			true,
			"0",
			"2.4",
			"10800",
			0,
			3,
			"DISCONNECTED",
			4,
			nonUTC,
			nonUTC, // DB gives a non-UTC time; Load should convert to UTC
		)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, measurement, quality, safety")).
		WithArgs(1).
		WillReturnRows(rows)

	got, err := repo.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	if got.ID != 1 ||
		got.Measurement.Voltage != 231.2 ||
		got.Quality.Class != gridmeter.QualityGood ||
		got.Safety != gridmeter.SafetyWarning ||
		got.Conn != gridmeter.ConnDisconnected ||
		got.ConsecutiveErrors != 4 {
		t.Fatalf("Load() unexpected fields: %+v", got)
	}
	if !got.DailySoldKWh.Equal(decimal.RequireFromString("2.4")) {
		t.Fatalf("Load() DailySoldKWh mismatch: %v", got.DailySoldKWh)
	}
	if got.UpdatedAt.Location() != time.UTC || got.LastSyncAt.Location() != time.UTC {
		t.Fatalf("Load() timestamps not UTC: %v / %v", got.UpdatedAt, got.LastSyncAt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStateSQLite_Load_InvalidMeasurementJSON_ReturnsError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New(): %v", err)
	}
	defer func() { _ = db.Close() }()

	repo := repository.NewStateSQLite(db)

	cols := []string{
		"id", "measurement", "quality", "safety", "auto_trading",
		"daily_bought_kwh", "daily_sold_kwh", "daily_revenue",
		"pending_buy", "pending_sell", "conn", "consecutive_errors",
		"last_sync_at", "updated_at",
	}
	rows := sqlmock.NewRows(cols).
		AddRow(1, `{not json`, `{}`, "NORMAL", false, "0", "0", "0", 0, 0, "CONNECTED", 0, nil, time.Now())

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, measurement, quality, safety")).
		WithArgs(1).
		WillReturnRows(rows)

	if _, err := repo.Load(context.Background()); err == nil {
		t.Fatalf("Load() expected error due to invalid measurement JSON, got nil")
	}
}

// Helpers

type sqlmockArgumentFunc func(v driver.Value) bool

func (f sqlmockArgumentFunc) Match(v driver.Value) bool {
	return f(v)
}
