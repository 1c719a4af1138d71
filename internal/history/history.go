// Package history keeps a log of every portal check in sqlite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"portalwatch-backend/internal/components/assert"
	"portalwatch-backend/internal/components/chrono"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("portalwatch/internal/history")

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Entry is a single recorded check.
type Entry struct {
	ID        int64         `json:"id"`
	System    string        `json:"system"`
	Success   bool          `json:"success"`
	Message   string        `json:"message"`
	Detail    string        `json:"detail,omitempty"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}

// Store records checks, it is safe for concurrent use.
type Store struct {
	db      *sql.DB
	qry     *Queries
	timeAPI chrono.TimeAPI
}

// Open applies the schema to db and returns a store backed by it.
func Open(ctx context.Context, db *sql.DB, timeAPI chrono.TimeAPI) (*Store, error) {
	assert.NotNil(db, "db")
	assert.NotNil(timeAPI, "time api")

	_, err := db.ExecContext(ctx, Schema)
	if err != nil {
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &Store{db: db, qry: New(db), timeAPI: timeAPI}, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Record saves a check that started at `started` and finished now.
func (s *Store) Record(ctx context.Context, system string, success bool, message, detail string, started time.Time) (Entry, error) {
	ctx, span := tracer.Start(ctx, "Record")
	defer span.End()
	span.SetAttributes(
		attribute.String("system", system),
		attribute.Bool("success", success),
	)

	duration := s.timeAPI.Now().Sub(started)
	id, err := s.qry.InsertCheck(ctx, InsertCheckParams{
		System:     system,
		Success:    boolToInt(success),
		Message:    message,
		Detail:     detail,
		StartedAt:  started.UnixMilli(),
		DurationMs: duration.Milliseconds(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Entry{}, err
	}

	return Entry{
		ID:        id,
		System:    system,
		Success:   success,
		Message:   message,
		Detail:    detail,
		StartedAt: time.UnixMilli(started.UnixMilli()),
		Duration:  time.Duration(duration.Milliseconds()) * time.Millisecond,
	}, nil
}

// List returns the most recent checks first, optionally limited to a single
// system. A limit outside of (0, MaxLimit] is replaced by DefaultLimit.
func (s *Store) List(ctx context.Context, system string, limit int) ([]Entry, error) {
	ctx, span := tracer.Start(ctx, "List")
	defer span.End()

	if limit <= 0 || limit > MaxLimit {
		limit = DefaultLimit
	}

	rows, err := s.qry.ListChecks(ctx, ListChecksParams{System: system, Limit: int64(limit)})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := make([]Entry, len(rows))
	for i, row := range rows {
		out[i] = Entry{
			ID:        row.ID,
			System:    row.System,
			Success:   row.Success != 0,
			Message:   row.Message,
			Detail:    row.Detail,
			StartedAt: time.UnixMilli(row.StartedAt),
			Duration:  time.Duration(row.DurationMs) * time.Millisecond,
		}
	}
	return out, nil
}

// Prune removes every check older than retention.
func (s *Store) Prune(ctx context.Context, retention time.Duration) error {
	ctx, span := tracer.Start(ctx, "Prune")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer tx.Rollback()

	before := s.timeAPI.Now().Add(-retention).UnixMilli()
	err = s.qry.WithTx(tx).DeleteChecksBefore(ctx, before)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return tx.Commit()
}
