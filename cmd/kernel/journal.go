package main

import (
	"context"
	"database/sql"
	"fmt"

	"authkernel/internal/journal"
	"authkernel/internal/journal/store/memory"
	"authkernel/internal/journal/store/postgres"
	journalredis "authkernel/internal/journal/store/redis"
	"authkernel/internal/platform/config"
	kredis "authkernel/internal/platform/redis"
	"authkernel/pkg/platform/circuit"
)

// openJournal builds the configured journal backend. The returned close
// function releases its connections. The none backend still records into
// memory so the result stream can be written out.
func openJournal(ctx context.Context, cfg config.Config) (journal.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Journal.Backend {
	case config.JournalNone, config.JournalMemory:
		return memory.NewInMemoryStore(), noop, nil
	case config.JournalPostgres:
		db, err := sql.Open("postgres", cfg.Journal.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres journal: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("postgres journal ping failed: %w", err)
		}
		store := postgres.New(db)
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, db.Close, nil
	case config.JournalRedis:
		client, err := kredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return journalredis.New(client), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown journal backend %q", cfg.Journal.Backend)
	}
}

// journalBreaker guards the worker's appends. It is named after the backend
// so log lines identify which store tripped it.
func journalBreaker(cfg config.JournalConfig) *circuit.Breaker {
	return circuit.New("journal-"+cfg.Backend, circuit.WithFailureThreshold(cfg.BreakerThreshold))
}
