package repository

import (
	"context"
	"database/sql"
	"time"

	"gridmeter"
)

type Authorization interface {
	Create(username, hash string) (int, error)
	GetByUsername(username string) (*gridmeter.User, error)
}

type StateRepo interface {
	Save(ctx context.Context, s gridmeter.MeterState) error
	Load(ctx context.Context) (gridmeter.MeterState, error)
}

type ReadingRepo interface {
	Insert(ctx context.Context, m gridmeter.Measurement) error
	ListRecent(ctx context.Context, limit int) ([]gridmeter.Measurement, error)
}

type OrderRepo interface {
	Upsert(ctx context.Context, o gridmeter.Order) error
	GetByID(ctx context.Context, id string) (*gridmeter.Order, error)
	ListPending(ctx context.Context) ([]gridmeter.Order, error)
	ListRecent(ctx context.Context, limit int) ([]gridmeter.Order, error)
}

type EventRepo interface {
	Append(ctx context.Context, e gridmeter.MeterEvent) error
	List(ctx context.Context, from, to time.Time, typ string) ([]gridmeter.MeterEvent, error)
}

type Repository struct {
	StateRepo   StateRepo
	ReadingRepo ReadingRepo
	OrderRepo   OrderRepo
	EventRepo   EventRepo
	Auth        Authorization
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		StateRepo:   NewStateSQLite(db),
		ReadingRepo: NewReadingSQLite(db),
		OrderRepo:   NewOrderSQLite(db),
		EventRepo:   NewEventSQLite(db),
		Auth:        NewUserRepository(db),
	}
}
