package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zoobzio/clockz"
)

// PgStore is a Postgres-backed Store. The event append is the atomic
// unit: a best-effort secondary insert into the artifact-dedup table is
// attempted afterwards but a failure there is only logged, never rolled
// back against the event it describes.
type PgStore struct {
	pool  *pgxpool.Pool
	clock clockz.Clock
}

// NewPgStore wraps an already-migrated pgxpool.Pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool, clock: clockz.RealClock}
}

// WithClock overrides the retry-backoff clock, for deterministic tests.
func (s *PgStore) WithClock(c clockz.Clock) *PgStore {
	s.clock = c
	return s
}

const maxAppendRetries = 3

// isSerializationConflict reports whether err is a Postgres serialization
// failure (SQLSTATE 40001), the only condition append retries.
func isSerializationConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	return false
}

// withRetry retries f up to maxAppendRetries times on a serialization
// conflict, sleeping 15ms * attempt between tries (linear backoff).
func (s *PgStore) withRetry(ctx context.Context, f func() error) error {
	attempt := 0
	for {
		err := f()
		if err == nil || !isSerializationConflict(err) || attempt >= maxAppendRetries {
			return err
		}
		attempt++
		log.Printf("eventlog: retrying append after serialization conflict, attempt %d", attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(time.Duration(15*attempt) * time.Millisecond):
		}
	}
}

func (s *PgStore) Append(ctx context.Context, flowID string, kind Kind, payload any) (Event, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("eventlog: marshal payload: %w", err)
	}

	var seq int
	var ts time.Time
	err = s.withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("eventlog: begin tx: %w", err)
		}
		defer tx.Rollback(ctx) //nolint:errcheck

		row := tx.QueryRow(ctx,
			`INSERT INTO event_log (flow_id, seq, event_type, payload)
			 VALUES ($1, (SELECT COALESCE(MAX(seq) + 1, 0) FROM event_log WHERE flow_id = $1), $2, $3)
			 RETURNING seq, ts`,
			flowID, string(kind), payloadJSON,
		)
		if err := row.Scan(&seq, &ts); err != nil {
			return fmt.Errorf("eventlog: insert event: %w", err)
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return Event{}, fmt.Errorf("eventlog: append: %w", err)
	}

	// Best-effort artifact-row insert, outside the event transaction. A
	// failure here is only logged: Append still returns the committed
	// event and no error, and the event is never unwound.
	if kind == KindStepFinished {
		if fin, derr := DecodePayload[StepFinishedPayload](payload); derr == nil {
			s.insertArtifactRows(ctx, fin.Outputs, seq)
		}
	}

	return Event{Seq: seq, FlowID: flowID, Kind: kind, TS: ts, Payload: payload}, nil
}

func (s *PgStore) insertArtifactRows(ctx context.Context, hashes []string, producedInSeq int) {
	for _, h := range hashes {
		if len(h) != 64 {
			log.Printf("eventlog: skip artifact dedup row, hash length != 64: %q", h)
			continue
		}
		_, err := s.pool.Exec(ctx,
			`INSERT INTO workflow_step_artifacts (artifact_hash, produced_in_seq)
			 VALUES ($1, $2)
			 ON CONFLICT (artifact_hash) DO NOTHING`,
			h, producedInSeq,
		)
		if err != nil {
			log.Printf("eventlog: artifact dedup insert failed hash=%s seq=%d err=%v", h, producedInSeq, err)
		}
	}
}

func (s *PgStore) List(ctx context.Context, flowID string) ([]Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, flow_id, ts, event_type, payload
		 FROM event_log
		 WHERE flow_id = $1
		 ORDER BY seq ASC`,
		flowID,
	)
	if err != nil {
		return nil, fmt.Errorf("eventlog: list: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			seq      int
			fid      string
			ts       time.Time
			typ      string
			rawBytes []byte
		)
		if err := rows.Scan(&seq, &fid, &ts, &typ, &rawBytes); err != nil {
			return nil, fmt.Errorf("eventlog: scan event row: %w", err)
		}
		var payload any
		if err := json.Unmarshal(rawBytes, &payload); err != nil {
			return nil, fmt.Errorf("eventlog: unmarshal payload: %w", err)
		}
		out = append(out, Event{Seq: seq, FlowID: fid, Kind: Kind(typ), TS: ts, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: list rows: %w", err)
	}
	return out, nil
}

// Migrate applies the minimal schema this store needs. A real deployment
// would drive this from a migration tool; it is exposed directly here so
// PgStore is usable against a bare database in tests and small
// deployments that would rather run migrations once at startup than wire
// up a separate migration step.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS event_log (
			seq        BIGINT NOT NULL,
			flow_id    TEXT NOT NULL,
			ts         TIMESTAMPTZ NOT NULL DEFAULT now(),
			event_type TEXT NOT NULL,
			payload    JSONB NOT NULL,
			PRIMARY KEY (flow_id, seq)
		);
		CREATE TABLE IF NOT EXISTS workflow_step_artifacts (
			artifact_hash    TEXT PRIMARY KEY,
			produced_in_seq  BIGINT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("eventlog: migrate: %w", err)
	}
	return nil
}
