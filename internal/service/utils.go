package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/venue-payments/internal/events"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Page bounds a listing query.
type Page struct {
	Limit  int32
	Offset int32
}

func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageSize
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows", operation, rows)
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// publish sends an event for a committed change. Delivery failures are logged,
// never returned: the database is the source of truth.
func publish(ctx context.Context, publisher events.Publisher, event events.SettlementEvent) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		zap.L().Warn("failed to publish settlement event",
			zap.Error(err),
			zap.String("type", event.Type),
			zap.String("entity_id", event.EntityID.String()),
		)
	}
}
