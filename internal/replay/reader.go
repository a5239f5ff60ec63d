package replay

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"authkernel/internal/kernel/models"
	"authkernel/pkg/platform/sentinel"
)

const maxLineBytes = 4 * 1024 * 1024

// ReadEvents parses a JSON-lines event log, one {"type","payload"} envelope
// per line. Blank lines and lines starting with '#' are skipped. Errors name
// the 1-based line number.
func ReadEvents(r io.Reader) ([]models.Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var events []models.Event
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		ev, err := models.DecodeEvent(raw)
		if err != nil {
			return nil, fmt.Errorf("event log line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event log after line %d: %w", line, err)
	}
	return events, nil
}

// ReadEventsFile reads the event log at path. A missing file is
// sentinel.ErrNotFound.
func ReadEventsFile(path string) ([]models.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("event log %s: %w", path, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	events, err := ReadEvents(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return events, nil
}
