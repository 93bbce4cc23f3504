package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"gridmeter"
	"gridmeter/internal/repository"
)

// Listing limits for the read-only API.
const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// TelemetryService is the read-only window into the meter plus the snapshot
// writer the orchestrator publishes through. The API layer never mutates
// core state via this service.
type TelemetryService struct {
	stateRepo   repository.StateRepo
	readingRepo repository.ReadingRepo
	orderRepo   repository.OrderRepo
}

func NewTelemetryService(stateRepo repository.StateRepo, readingRepo repository.ReadingRepo, orderRepo repository.OrderRepo) *TelemetryService {
	return &TelemetryService{
		stateRepo:   stateRepo,
		readingRepo: readingRepo,
		orderRepo:   orderRepo,
	}
}

// GetState returns the latest snapshot, or a baseline one before the first
// cycle has published anything.
func (s *TelemetryService) GetState(ctx context.Context) (gridmeter.MeterState, error) {
	st, err := s.stateRepo.Load(ctx)
	if err != nil {
		return gridmeter.MeterState{}, err
	}
	if st.ID == 0 {
		return s.baselineState(), nil
	}
	st.UpdatedAt = normalizeToUTC(st.UpdatedAt)
	st.LastSyncAt = normalizeToUTC(st.LastSyncAt)
	return st, nil
}

// SaveState persists the per-cycle snapshot (single row).
func (s *TelemetryService) SaveState(ctx context.Context, st gridmeter.MeterState) error {
	st.ID = 1
	return s.stateRepo.Save(ctx, st)
}

// RecordReading appends one measurement to the history table.
func (s *TelemetryService) RecordReading(ctx context.Context, m gridmeter.Measurement) error {
	return s.readingRepo.Insert(ctx, m)
}

// ListReadings returns recent measurements, newest first.
func (s *TelemetryService) ListReadings(ctx context.Context, limit int) ([]gridmeter.Measurement, error) {
	return s.readingRepo.ListRecent(ctx, clampLimit(limit))
}

// ListOrders returns recent orders, newest first.
func (s *TelemetryService) ListOrders(ctx context.Context, limit int) ([]gridmeter.Order, error) {
	return s.orderRepo.ListRecent(ctx, clampLimit(limit))
}

// baselineState is what the API reports before the first published cycle:
// nothing measured, nothing traded, not yet connected.
func (s *TelemetryService) baselineState() gridmeter.MeterState {
	return gridmeter.MeterState{
		ID:             1,
		Safety:         gridmeter.SafetyNormal,
		Conn:           gridmeter.ConnDisconnected,
		DailyBoughtKWh: decimal.Zero,
		DailySoldKWh:   decimal.Zero,
		DailyRevenue:   decimal.Zero,
		UpdatedAt:      time.Now().UTC(),
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
