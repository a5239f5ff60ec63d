// Package testutil provides common test utilities for kernel, journal, and
// replay tests.
package testutil

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authkernel/internal/kernel/models"
)

// EncodeEventLog renders events as a JSON-lines event log.
func EncodeEventLog(t *testing.T, events ...models.Event) []byte {
	t.Helper()

	var buf bytes.Buffer
	for _, ev := range events {
		line, err := models.EncodeEvent(ev)
		require.NoError(t, err, "failed to encode %s event", ev.Type())
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// WriteEventLog writes events to a JSON-lines file in a per-test temporary
// directory and returns its path.
func WriteEventLog(t *testing.T, events ...models.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, EncodeEventLog(t, events...), 0o600), "failed to write event log")
	return path
}

// MustMarshal marshals a value to JSON string, failing the test on error.
func MustMarshal(t *testing.T, v any) string {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err, "failed to marshal value")
	return string(body)
}

// DecodeJSONLines unmarshals every non-empty line of data into a T.
func DecodeJSONLines[T any](t *testing.T, data []byte) []T {
	t.Helper()
	var out []T
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var v T
		require.NoError(t, json.Unmarshal(line, &v), "failed to unmarshal line %q", line)
		out = append(out, v)
	}
	require.NoError(t, scanner.Err(), "failed to scan JSON lines")
	return out
}

// AssertOutputs asserts the result's outputs, primary first, have exactly the
// expected types.
func AssertOutputs(t *testing.T, r models.KernelResult, expected ...models.OutputType) {
	t.Helper()
	got := make([]models.OutputType, 0, len(expected))
	for _, o := range r.Outputs() {
		got = append(got, o.OutputType)
	}
	assert.Equal(t, expected, got, "unexpected output types")
}

// AssertRefused asserts that some output of the result carries the reason.
func AssertRefused(t *testing.T, r models.KernelResult, expected models.ReasonCode) {
	t.Helper()
	for _, o := range r.Outputs() {
		if o.Reason() == expected {
			return
		}
	}
	assert.Failf(t, "expected refusal", "no output carries reason %q: %+v", expected, r.Outputs())
}

// AssertHashChain asserts that every output of every result is stamped with
// the same state hash as its result's new state.
func AssertHashChain(t *testing.T, results []models.KernelResult) {
	t.Helper()
	for i, r := range results {
		require.NotNil(t, r.NewState, "result %d has no state snapshot", i)
		for _, o := range r.Outputs() {
			assert.Equal(t, r.NewState.StateID, o.StateHash, "result %d output %s", i, o.OutputType)
		}
	}
}
