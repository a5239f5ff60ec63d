package circuit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// outcome is one journal append result fed to the breaker.
type outcome bool

const (
	ok   outcome = true
	fail outcome = false
)

func replay(b *Breaker, outcomes ...outcome) (opened, closed int) {
	for _, o := range outcomes {
		var change Change
		if o == ok {
			_, change = b.RecordSuccess()
		} else {
			_, change = b.RecordFailure()
		}
		if change.Opened {
			opened++
		}
		if change.Closed {
			closed++
		}
	}
	return opened, closed
}

func TestBreaker_JournalAppendSequences(t *testing.T) {
	tests := []struct {
		name       string
		failures   int
		successes  int
		outcomes   []outcome
		wantOpen   bool
		wantOpened int
		wantClosed int
	}{
		{
			name:     "fresh breaker is closed",
			failures: 3,
		},
		{
			name:       "opens on the threshold failure",
			failures:   3,
			outcomes:   []outcome{fail, fail, fail},
			wantOpen:   true,
			wantOpened: 1,
		},
		{
			name:     "an append success resets the failure streak",
			failures: 3,
			outcomes: []outcome{fail, fail, ok, fail, fail},
		},
		{
			name:       "further failures while open do not reopen",
			failures:   1,
			outcomes:   []outcome{fail, fail, fail},
			wantOpen:   true,
			wantOpened: 1,
		},
		{
			name:       "closes after the success threshold",
			failures:   1,
			successes:  2,
			outcomes:   []outcome{fail, ok, ok},
			wantOpened: 1,
			wantClosed: 1,
		},
		{
			name:       "a failure while recovering restarts the success streak",
			failures:   1,
			successes:  3,
			outcomes:   []outcome{fail, ok, ok, fail, ok, ok},
			wantOpen:   true,
			wantOpened: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("journal-memory", WithFailureThreshold(tt.failures), WithSuccessThreshold(tt.successes))
			opened, closed := replay(b, tt.outcomes...)
			assert.Equal(t, tt.wantOpen, b.IsOpen())
			assert.Equal(t, tt.wantOpened, opened)
			assert.Equal(t, tt.wantClosed, closed)
		})
	}
}

func TestBreaker_RecordReportsFallback(t *testing.T) {
	b := New("journal-redis", WithFailureThreshold(2))
	assert.Equal(t, "journal-redis", b.Name())

	useFallback, _ := b.RecordFailure()
	assert.False(t, useFallback, "below threshold the store is still used")
	useFallback, _ = b.RecordFailure()
	assert.True(t, useFallback)

	usePrimary, _ := b.RecordSuccess()
	assert.False(t, usePrimary, "one success is not enough to trust the store again")
}

func TestBreaker_Reset(t *testing.T) {
	b := New("journal-postgres", WithFailureThreshold(1))
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	opened, _ := replay(b, fail)
	assert.Equal(t, 1, opened, "reset clears the streak so the next failure opens again")
}

func TestBreaker_Defaults(t *testing.T) {
	b := New("journal")

	opened, _ := replay(b, fail, fail, fail, fail)
	assert.Zero(t, opened)
	opened, _ = replay(b, fail)
	assert.Equal(t, 1, opened, "five consecutive failures open the breaker")

	_, closed := replay(b, ok, ok)
	assert.Equal(t, 1, closed, "two consecutive successes close it")
}

func TestBreaker_ConcurrentRecords(t *testing.T) {
	b := New("journal", WithFailureThreshold(81))
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				b.RecordFailure()
			}
		}()
	}
	wg.Wait()
	assert.False(t, b.IsOpen(), "no concurrent failure may be lost")
	_, change := b.RecordFailure()
	assert.True(t, change.Opened, "the 81st failure opens the breaker")
}
