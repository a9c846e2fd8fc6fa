// source: query.sql

package db

import (
	"context"
)

const createJournal = `-- name: CreateJournal :exec
insert into journal (
    id, name, host, username, password, default_submission_id, created_at, updated_at
) values (?, ?, ?, ?, ?, ?, ?, ?)
`

type CreateJournalParams struct {
	ID                  string
	Name                string
	Host                string
	Username            string
	Password            string
	DefaultSubmissionID string
	CreatedAt           int64
	UpdatedAt           int64
}

func (q *Queries) CreateJournal(ctx context.Context, arg CreateJournalParams) error {
	_, err := q.db.ExecContext(ctx, createJournal,
		arg.ID,
		arg.Name,
		arg.Host,
		arg.Username,
		arg.Password,
		arg.DefaultSubmissionID,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return err
}

const deleteJournal = `-- name: DeleteJournal :execrows
delete from journal where id = ?
`

func (q *Queries) DeleteJournal(ctx context.Context, id string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteJournal, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const getJournal = `-- name: GetJournal :one
select id, name, host, username, password, default_submission_id, created_at, updated_at from journal where id = ?
`

func (q *Queries) GetJournal(ctx context.Context, id string) (Journal, error) {
	row := q.db.QueryRowContext(ctx, getJournal, id)
	var i Journal
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Host,
		&i.Username,
		&i.Password,
		&i.DefaultSubmissionID,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const listJournals = `-- name: ListJournals :many
select id, name, host, username, password, default_submission_id, created_at, updated_at from journal order by name, id
`

func (q *Queries) ListJournals(ctx context.Context) ([]Journal, error) {
	rows, err := q.db.QueryContext(ctx, listJournals)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Journal
	for rows.Next() {
		var i Journal
		if err := rows.Scan(
			&i.ID,
			&i.Name,
			&i.Host,
			&i.Username,
			&i.Password,
			&i.DefaultSubmissionID,
			&i.CreatedAt,
			&i.UpdatedAt,
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

const updateJournal = `-- name: UpdateJournal :execrows
update journal set
    name = ?,
    host = ?,
    username = ?,
    password = ?,
    default_submission_id = ?,
    updated_at = ?
where id = ?
`

type UpdateJournalParams struct {
	Name                string
	Host                string
	Username            string
	Password            string
	DefaultSubmissionID string
	UpdatedAt           int64
	ID                  string
}

func (q *Queries) UpdateJournal(ctx context.Context, arg UpdateJournalParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateJournal,
		arg.Name,
		arg.Host,
		arg.Username,
		arg.Password,
		arg.DefaultSubmissionID,
		arg.UpdatedAt,
		arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
