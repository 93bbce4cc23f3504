package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"gridmeter"
	"gridmeter/internal/logger"
	"gridmeter/internal/repository"
)

// LogFilter narrows an event-log query.
type LogFilter struct {
	From time.Time
	To   time.Time
	Type string
}

type EventLogService struct {
	eventRepo repository.EventRepo
	log       *logger.Logger
}

func NewEventLogService(eventRepo repository.EventRepo, log *logger.Logger) *EventLogService {
	return &EventLogService{eventRepo: eventRepo, log: log}
}

var errInvalidTimeRange = errors.New("invalid time range: From must be <= To")

// normalizeToUTC returns t in UTC, preserving zero time values.
func normalizeToUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// normalizeEventType trims spaces and uppercases the event type filter.
func normalizeEventType(s string) string {
	return strings.TrimSpace(strings.ToUpper(s))
}

// normalizeAndValidateFilter prepares query parameters and validates the time range.
func normalizeAndValidateFilter(f LogFilter) (time.Time, time.Time, string, error) {
	from := normalizeToUTC(f.From)
	to := normalizeToUTC(f.To)

	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return time.Time{}, time.Time{}, "", errInvalidTimeRange
	}

	eventType := normalizeEventType(f.Type)
	return from, to, eventType, nil
}

// Record appends one event. Persistence trouble is logged, never propagated:
// an event that cannot be stored must not take the control loop down with it.
func (s *EventLogService) Record(ctx context.Context, typ, description string, metadata any) {
	err := s.eventRepo.Append(ctx, gridmeter.MeterEvent{
		OccurredAt:  time.Now().UTC(),
		Type:        typ,
		Description: description,
		Metadata:    metadata,
	})
	if err != nil {
		s.log.Warnw("event append failed", "type", typ, "err", err)
	}
}

func (s *EventLogService) List(ctx context.Context, f LogFilter) ([]gridmeter.MeterEvent, error) {
	from, to, typ, err := normalizeAndValidateFilter(f)
	if err != nil {
		return nil, err
	}
	return s.eventRepo.List(ctx, from, to, typ)
}
