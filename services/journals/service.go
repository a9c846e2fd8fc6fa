// Package journals keeps the OJS sites and credentials runs upload with.
package journals

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"ojsbot-backend/internal/components/assert"
	"ojsbot-backend/internal/components/chrono"
	"ojsbot-backend/internal/runner"
	"ojsbot-backend/services/journals/db"

	"dario.cat/mergo"
	"github.com/google/uuid"
)

var (
	ErrJournalNotFound  = errors.New("journal not found")
	ErrInvalidJournal   = errors.New("invalid journal")
	ErrDuplicateJournal = errors.New("a journal with this host and username already exists")
)

type Journal struct {
	Id                  string
	Name                string
	Host                string
	Username            string
	Password            string
	DefaultSubmissionId string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Target is the journal as something a run can upload to.
func (j Journal) Target() runner.JournalTarget {
	return runner.JournalTarget{
		Host:                j.Host,
		Username:            j.Username,
		Password:            j.Password,
		DefaultSubmissionId: j.DefaultSubmissionId,
	}
}

// Input holds the editable fields of a journal. On update, empty fields keep
// their stored value.
type Input struct {
	Name                string
	Host                string
	Username            string
	Password            string
	DefaultSubmissionId string
}

type Store struct {
	qry   *db.Queries
	clock chrono.API
}

func NewStore(database *sql.DB, clock chrono.API) Store {
	assert.NotNil(database)
	assert.NotNil(clock)
	return Store{qry: db.New(database), clock: clock}
}

func fromRow(row db.Journal) Journal {
	return Journal{
		Id:                  row.ID,
		Name:                row.Name,
		Host:                row.Host,
		Username:            row.Username,
		Password:            row.Password,
		DefaultSubmissionId: row.DefaultSubmissionID,
		CreatedAt:           time.Unix(row.CreatedAt, 0),
		UpdatedAt:           time.Unix(row.UpdatedAt, 0),
	}
}

// NormalizeHost trims the host and its trailing slashes, only absolute http
// and https urls are accepted.
func NormalizeHost(host string) (string, error) {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	parsed, err := url.Parse(host)
	if err != nil {
		return "", fmt.Errorf("%w: host: %w", ErrInvalidJournal, err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", fmt.Errorf("%w: host must be an http or https url, got %q", ErrInvalidJournal, host)
	}
	return host, nil
}

func (in Input) normalize() (Input, error) {
	host, err := NormalizeHost(in.Host)
	if err != nil {
		return Input{}, err
	}
	in.Host = host
	in.Username = strings.TrimSpace(in.Username)
	in.Name = strings.TrimSpace(in.Name)
	in.DefaultSubmissionId = strings.TrimSpace(in.DefaultSubmissionId)
	if in.Username == "" {
		return Input{}, fmt.Errorf("%w: username is required", ErrInvalidJournal)
	}
	if in.Password == "" {
		return Input{}, fmt.Errorf("%w: password is required", ErrInvalidJournal)
	}
	if in.Name == "" {
		in.Name = strings.TrimPrefix(strings.TrimPrefix(in.Host, "https://"), "http://")
	}
	return in, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s Store) Add(ctx context.Context, in Input) (Journal, error) {
	in, err := in.normalize()
	if err != nil {
		return Journal{}, err
	}

	now := s.clock.Now().Unix()
	row := db.Journal{
		ID:                  uuid.NewString()[:8],
		Name:                in.Name,
		Host:                in.Host,
		Username:            in.Username,
		Password:            in.Password,
		DefaultSubmissionID: in.DefaultSubmissionId,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	err = s.qry.CreateJournal(ctx, db.CreateJournalParams(row))
	if isUniqueViolation(err) {
		return Journal{}, ErrDuplicateJournal
	}
	if err != nil {
		return Journal{}, fmt.Errorf("create journal: %w", err)
	}
	return fromRow(row), nil
}

func (s Store) Get(ctx context.Context, id string) (Journal, error) {
	row, err := s.qry.GetJournal(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Journal{}, ErrJournalNotFound
	}
	if err != nil {
		return Journal{}, fmt.Errorf("get journal: %w", err)
	}
	return fromRow(row), nil
}

func (s Store) List(ctx context.Context) ([]Journal, error) {
	rows, err := s.qry.ListJournals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list journals: %w", err)
	}
	out := make([]Journal, len(rows))
	for i, row := range rows {
		out[i] = fromRow(row)
	}
	return out, nil
}

// Update changes the journal with the non-empty fields of in.
func (s Store) Update(ctx context.Context, id string, in Input) (Journal, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return Journal{}, err
	}

	err = mergo.Merge(&in, Input{
		Name:                existing.Name,
		Host:                existing.Host,
		Username:            existing.Username,
		Password:            existing.Password,
		DefaultSubmissionId: existing.DefaultSubmissionId,
	})
	if err != nil {
		return Journal{}, err
	}
	in, err = in.normalize()
	if err != nil {
		return Journal{}, err
	}

	now := s.clock.Now().Unix()
	affected, err := s.qry.UpdateJournal(ctx, db.UpdateJournalParams{
		ID:                  id,
		Name:                in.Name,
		Host:                in.Host,
		Username:            in.Username,
		Password:            in.Password,
		DefaultSubmissionID: in.DefaultSubmissionId,
		UpdatedAt:           now,
	})
	if isUniqueViolation(err) {
		return Journal{}, ErrDuplicateJournal
	}
	if err != nil {
		return Journal{}, fmt.Errorf("update journal: %w", err)
	}
	if affected == 0 {
		return Journal{}, ErrJournalNotFound
	}

	return Journal{
		Id:                  id,
		Name:                in.Name,
		Host:                in.Host,
		Username:            in.Username,
		Password:            in.Password,
		DefaultSubmissionId: in.DefaultSubmissionId,
		CreatedAt:           existing.CreatedAt,
		UpdatedAt:           time.Unix(now, 0),
	}, nil
}

func (s Store) Delete(ctx context.Context, id string) error {
	affected, err := s.qry.DeleteJournal(ctx, id)
	if err != nil {
		return fmt.Errorf("delete journal: %w", err)
	}
	if affected == 0 {
		return ErrJournalNotFound
	}
	return nil
}
