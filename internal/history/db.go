package history

import (
	"context"
	"database/sql"
	_ "embed"
)

//go:embed schema.sql
var Schema string

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{
		db: tx,
	}
}

type PortalCheck struct {
	ID         int64
	System     string
	Success    int64
	Message    string
	Detail     string
	StartedAt  int64
	DurationMs int64
}

const insertCheck = `
insert into portal_check (system, success, message, detail, started_at, duration_ms)
values (?, ?, ?, ?, ?, ?)
returning id
`

type InsertCheckParams struct {
	System     string
	Success    int64
	Message    string
	Detail     string
	StartedAt  int64
	DurationMs int64
}

func (q *Queries) InsertCheck(ctx context.Context, arg InsertCheckParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, insertCheck,
		arg.System,
		arg.Success,
		arg.Message,
		arg.Detail,
		arg.StartedAt,
		arg.DurationMs,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const listChecks = `
select id, system, success, message, detail, started_at, duration_ms
from portal_check
where (?1 = '' or system = ?1)
order by started_at desc, id desc
limit ?2
`

type ListChecksParams struct {
	System string
	Limit  int64
}

func (q *Queries) ListChecks(ctx context.Context, arg ListChecksParams) ([]PortalCheck, error) {
	rows, err := q.db.QueryContext(ctx, listChecks, arg.System, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PortalCheck
	for rows.Next() {
		var i PortalCheck
		if err := rows.Scan(
			&i.ID,
			&i.System,
			&i.Success,
			&i.Message,
			&i.Detail,
			&i.StartedAt,
			&i.DurationMs,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteChecksBefore = `
delete from portal_check where started_at < ?
`

func (q *Queries) DeleteChecksBefore(ctx context.Context, before int64) error {
	_, err := q.db.ExecContext(ctx, deleteChecksBefore, before)
	return err
}
