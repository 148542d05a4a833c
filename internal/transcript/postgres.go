package transcript

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists transcripts in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcript_turns (
			id TEXT PRIMARY KEY,
			interview_id TEXT NOT NULL,
			speaker TEXT NOT NULL,
			text TEXT NOT NULL,
			kind TEXT NOT NULL,
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			spoken_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transcript_turns_interview ON transcript_turns (interview_id, spoken_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveTranscript(ctx context.Context, interviewID string, records []Record) error {
	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.SpokenAt.IsZero() {
			r.SpokenAt = time.Now().UTC()
		}

		_, err := s.pool.Exec(ctx,
			`INSERT INTO transcript_turns (id, interview_id, speaker, text, kind, pii_redacted, spoken_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.ID,
			interviewID,
			r.Speaker,
			r.Text,
			r.Kind,
			r.PIIRedacted,
			r.SpokenAt,
		)
		if err != nil {
			return fmt.Errorf("save transcript turn: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetTranscript(ctx context.Context, interviewID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, interview_id, speaker, text, kind, pii_redacted, spoken_at
		 FROM transcript_turns WHERE interview_id=$1 ORDER BY spoken_at ASC`,
		interviewID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.InterviewID, &r.Speaker, &r.Text, &r.Kind, &r.PIIRedacted, &r.SpokenAt); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
