// Package journal records the kernel's result stream. Every output of every
// processed event becomes one Entry, keyed by run and by its position in the
// run's stream, so external auditors can rebuild the exact output sequence.
package journal

//go:generate mockgen -source=journal.go -destination=mocks/mocks.go -package=mocks Store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"authkernel/internal/kernel/models"
)

// RunID identifies one execution of an event log.
type RunID string

// NewRunID returns a fresh random run identifier.
func NewRunID() RunID {
	return RunID(uuid.NewString())
}

// ParseRunID validates s as a run identifier.
func ParseRunID(s string) (RunID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid run id %q: %w", s, err)
	}
	return RunID(id.String()), nil
}

func (r RunID) String() string { return string(r) }

// Entry is one kernel output in a run's stream. Seq is the 0-based position
// in the run's output stream; several entries share an event index when an
// event emits auxiliary outputs.
type Entry struct {
	RunID     RunID               `json:"run_id"`
	Seq       int                 `json:"seq"`
	EventType models.EventType    `json:"event_type"`
	Output    models.KernelOutput `json:"output"`
	Primary   bool                `json:"primary"`
	Failure   models.FailureCode  `json:"failure,omitempty"`
	Deadlock  models.DeadlockKind `json:"deadlock,omitempty"`
}

// Store persists journal entries. Implementations reject an entry whose
// (RunID, Seq) was already written with sentinel.ErrConflict.
type Store interface {
	Append(ctx context.Context, entries ...Entry) error
	ListByRun(ctx context.Context, run RunID) ([]Entry, error)
}

// EntriesFor expands a result into entries starting at seq. The primary
// output comes first, followed by the auxiliary outputs in emission order.
func EntriesFor(run RunID, seq int, eventType models.EventType, result models.KernelResult) []Entry {
	outputs := result.Outputs()
	entries := make([]Entry, len(outputs))
	for i, o := range outputs {
		entries[i] = Entry{
			RunID:     run,
			Seq:       seq + i,
			EventType: eventType,
			Output:    o,
			Primary:   i == 0,
			Failure:   result.Failure,
			Deadlock:  result.Deadlock,
		}
	}
	return entries
}

// EncodeJSONLines writes each item as one compact JSON document per line.
func EncodeJSONLines[T any](w io.Writer, items []T) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i, item := range items {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("encode line %d: %w", i, err)
		}
	}
	return nil
}

// DecodeJSONLines reads one JSON document per non-blank line.
func DecodeJSONLines[T any](r io.Reader) ([]T, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var out []T
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("decode line %d: %w", line, err)
		}
		out = append(out, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read line %d: %w", line+1, err)
	}
	return out, nil
}
