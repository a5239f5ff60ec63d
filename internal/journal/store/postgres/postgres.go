package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"authkernel/internal/journal"
	"authkernel/internal/kernel/models"
	"authkernel/pkg/platform/sentinel"
	txcontext "authkernel/pkg/platform/tx"
)

// uniqueViolation is the SQLSTATE Postgres reports for a duplicate key.
const uniqueViolation = "23505"

const schema = `
	CREATE TABLE IF NOT EXISTS kernel_journal (
		run_id         TEXT        NOT NULL,
		seq            INTEGER     NOT NULL,
		event_type     TEXT        NOT NULL,
		output_type    TEXT        NOT NULL,
		event_index    INTEGER     NOT NULL,
		state_hash     TEXT        NOT NULL,
		details        JSONB       NOT NULL DEFAULT '{}',
		is_primary     BOOLEAN     NOT NULL,
		failure        TEXT        NOT NULL DEFAULT '',
		deadlock       TEXT        NOT NULL DEFAULT '',
		recorded_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (run_id, seq)
	)
`

// Store persists journal entries in PostgreSQL, one row per output.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL journal store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the journal table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate kernel_journal: %w", err)
	}
	return nil
}

// Append inserts entries in a single transaction, joining the one carried by
// ctx when there is one.
func (s *Store) Append(ctx context.Context, entries ...journal.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return txcontext.RunInTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		query := `
			INSERT INTO kernel_journal (
				run_id, seq, event_type, output_type, event_index, state_hash,
				details, is_primary, failure, deadlock
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (run_id, seq) DO NOTHING
		`
		for _, e := range entries {
			details, err := json.Marshal(e.Output.Details)
			if err != nil {
				return fmt.Errorf("marshal journal details: %w", err)
			}
			if e.Output.Details == nil {
				details = []byte("{}")
			}
			res, err := tx.ExecContext(ctx, query,
				string(e.RunID),
				e.Seq,
				string(e.EventType),
				string(e.Output.OutputType),
				e.Output.EventIndex,
				e.Output.StateHash,
				details,
				e.Primary,
				string(e.Failure),
				string(e.Deadlock),
			)
			if err != nil {
				var pqErr *pq.Error
				if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
					return fmt.Errorf("journal entry %s/%d: %w", e.RunID, e.Seq, sentinel.ErrConflict)
				}
				return fmt.Errorf("insert journal entry: %w", err)
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return fmt.Errorf("journal entry %s/%d: %w", e.RunID, e.Seq, sentinel.ErrConflict)
			}
		}
		return nil
	})
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) queryer(ctx context.Context) queryer {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// ListByRun returns a run's entries ordered by seq.
func (s *Store) ListByRun(ctx context.Context, run journal.RunID) ([]journal.Entry, error) {
	query := `
		SELECT run_id, seq, event_type, output_type, event_index, state_hash,
			details, is_primary, failure, deadlock
		FROM kernel_journal
		WHERE run_id = $1
		ORDER BY seq
	`
	rows, err := s.queryer(ctx).QueryContext(ctx, query, string(run))
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer rows.Close()

	entries := []journal.Entry{}
	for rows.Next() {
		var (
			e                            journal.Entry
			runID, eventType, outputType string
			failure, deadlock            string
			details                      []byte
		)
		if err := rows.Scan(
			&runID, &e.Seq, &eventType, &outputType, &e.Output.EventIndex, &e.Output.StateHash,
			&details, &e.Primary, &failure, &deadlock,
		); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		if err := json.Unmarshal(details, &e.Output.Details); err != nil {
			return nil, fmt.Errorf("unmarshal journal details: %w", err)
		}
		e.RunID = journal.RunID(runID)
		e.EventType = models.EventType(eventType)
		e.Output.OutputType = models.OutputType(outputType)
		e.Failure = models.FailureCode(failure)
		e.Deadlock = models.DeadlockKind(deadlock)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal entries: %w", err)
	}
	return entries, nil
}
