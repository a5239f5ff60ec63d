package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"authkernel/internal/journal"
	kredis "authkernel/internal/platform/redis"
	"authkernel/pkg/platform/sentinel"
)

// Store keeps each run as a Redis list of JSON entries under the client's key
// prefix. The list index of an entry equals its Seq.
type Store struct {
	client *kredis.Client
}

// New creates a Redis journal store.
func New(client *kredis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) key(run journal.RunID) string {
	return s.client.KeyPrefix() + string(run)
}

// Append pushes entries onto their runs' lists. The first entry of a batch
// must carry the run's current length as its Seq and the rest must follow
// contiguously; a Seq already written is ErrConflict, a gap is
// ErrInvalidState. Concurrent writers to one run lose the WATCH race with
// ErrConflict.
func (s *Store) Append(ctx context.Context, entries ...journal.Entry) error {
	var order []journal.RunID
	byRun := make(map[journal.RunID][]journal.Entry)
	for _, e := range entries {
		if _, ok := byRun[e.RunID]; !ok {
			order = append(order, e.RunID)
		}
		byRun[e.RunID] = append(byRun[e.RunID], e)
	}
	for _, run := range order {
		if err := s.appendRun(ctx, run, byRun[run]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) appendRun(ctx context.Context, run journal.RunID, entries []journal.Entry) error {
	key := s.key(run)
	payloads := make([]any, len(entries))
	for i, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal journal entry: %w", err)
		}
		payloads[i] = data
	}

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.LLen(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("read journal length: %w", err)
		}
		for i, e := range entries {
			want := int(n) + i
			switch {
			case e.Seq < want:
				return fmt.Errorf("journal entry %s/%d: %w", run, e.Seq, sentinel.ErrConflict)
			case e.Seq > want:
				return fmt.Errorf("journal entry %s/%d, expected seq %d: %w", run, e.Seq, want, sentinel.ErrInvalidState)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, key, payloads...)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("journal run %s modified concurrently: %w", run, sentinel.ErrConflict)
	}
	return err
}

// ListByRun returns a run's entries ordered by seq.
func (s *Store) ListByRun(ctx context.Context, run journal.RunID) ([]journal.Entry, error) {
	raw, err := s.client.LRange(ctx, s.key(run), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	entries := make([]journal.Entry, 0, len(raw))
	for _, item := range raw {
		var e journal.Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("unmarshal journal entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Delete removes a run's journal.
func (s *Store) Delete(ctx context.Context, run journal.RunID) error {
	return s.client.Del(ctx, s.key(run)).Err()
}
