package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/voicekey/internal/history"
)

// Sink writes dictation events to PostgreSQL.
type Sink struct {
	db *sql.DB
}

// New opens a PostgreSQL history sink. No connection is made until the
// schema is ensured or the first event is sent.
func New(dsn string) (*Sink, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &Sink{db: d}, nil
}

func (s *Sink) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS dictation_history(
			id TEXT PRIMARY KEY,
			occurred_at TIMESTAMPTZ NOT NULL,
			type TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			pid INTEGER NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL DEFAULT '',
			duration TEXT NOT NULL DEFAULT '',
			error TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_dictation_history_occurred ON dictation_history(occurred_at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Close() error { return s.db.Close() }

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	var errStr sql.NullString
	if e.Error != "" {
		errStr = sql.NullString{String: e.Error, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dictation_history(id, occurred_at, type, source, pid, outcome, duration, error)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT(id) DO NOTHING;`,
		e.ID, e.OccurredAt.UTC(), string(e.Type), e.Source, e.PID, e.Outcome, e.Duration, errStr)
	return err
}

// Recent returns up to n events, newest first.
func (s *Sink) Recent(ctx context.Context, n int) ([]history.Event, error) {
	if n <= 0 {
		n = history.DefaultRingSize
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, occurred_at, type, source, pid, outcome, duration, error
		FROM dictation_history
		ORDER BY occurred_at DESC, id DESC
		LIMIT $1;`, n)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

// PurgeOlderThan deletes events recorded before the cutoff.
func (s *Sink) PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dictation_history WHERE occurred_at < $1;`, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanEvents(rows *sql.Rows) ([]history.Event, error) {
	out := make([]history.Event, 0)
	for rows.Next() {
		var (
			e      history.Event
			typ    string
			errStr sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.OccurredAt, &typ, &e.Source, &e.PID, &e.Outcome, &e.Duration, &errStr); err != nil {
			return nil, err
		}
		e.Type = history.EventType(typ)
		e.Error = errStr.String
		out = append(out, e)
	}
	return out, rows.Err()
}
