package writeback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// flushRecorder records the table lists it is asked to flush.
type flushRecorder struct {
	mu     sync.Mutex
	calls  [][]string
	fail   bool
	during func()
}

func (r *flushRecorder) flush(_ context.Context, tables []string) error {
	if r.during != nil {
		r.during()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, tables)
	if r.fail {
		return errors.New("remote unavailable")
	}
	return nil
}

func (r *flushRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *flushRecorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

func (r *flushRecorder) setFail(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fail
}

func TestSchedulerDebouncesWrites(t *testing.T) {
	rec := &flushRecorder{}
	s := NewScheduler(100*time.Millisecond, rec.flush)

	s.MarkDirty("guilds")
	s.MarkDirty("users")
	s.MarkDirty("guilds")
	require.True(t, s.Armed())
	require.Zero(t, rec.count(), "nothing flushes before the deadline")

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(250 * time.Millisecond)

	require.Equal(t, [][]string{{"guilds", "users"}}, rec.snapshot())
	require.Empty(t, s.Dirty())
	require.False(t, s.Armed())
}

func TestSchedulerFlushesImmediatelyAfterDeadline(t *testing.T) {
	rec := &flushRecorder{}
	s := NewScheduler(time.Hour, rec.flush)

	s.mu.Lock()
	s.deadline = time.Now().Add(-time.Second)
	s.mu.Unlock()

	s.MarkDirty("guilds")
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)

	// The next permitted flush is one interval after the last one.
	require.Eventually(t, func() bool { return !s.Armed() }, time.Second, time.Millisecond)
	require.WithinDuration(t, time.Now().Add(time.Hour), s.Deadline(), time.Minute)
}

func TestSchedulerKeepsDirtyStateOnFailure(t *testing.T) {
	rec := &flushRecorder{fail: true}
	s := NewScheduler(20*time.Millisecond, rec.flush)

	s.MarkDirty("guilds")
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return !s.Armed() }, time.Second, time.Millisecond)

	// A failed flush is not retried on its own.
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, rec.count())
	require.Equal(t, []string{"guilds"}, s.Dirty())

	// The next write schedules it again.
	rec.setFail(false)
	s.MarkDirty("users")
	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, time.Millisecond)
	require.Equal(t, []string{"guilds", "users"}, rec.snapshot()[1])
	require.Eventually(t, func() bool { return len(s.Dirty()) == 0 }, time.Second, time.Millisecond)
}

func TestSchedulerRearmsForWritesDuringFlush(t *testing.T) {
	rec := &flushRecorder{}
	s := NewScheduler(20*time.Millisecond, rec.flush)

	var once sync.Once
	rec.during = func() { once.Do(func() { s.MarkDirty("guilds") }) }

	s.MarkDirty("guilds")
	require.Eventually(t, func() bool { return rec.count() == 2 }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(s.Dirty()) == 0 }, time.Second, time.Millisecond)
}

func TestSchedulerFlushNowAndClose(t *testing.T) {
	rec := &flushRecorder{}
	s := NewScheduler(time.Hour, rec.flush)

	require.NoError(t, s.FlushNow(context.Background()))
	require.Zero(t, rec.count(), "nothing dirty, nothing flushed")

	s.MarkDirty("a")
	require.NoError(t, s.FlushNow(context.Background()))
	require.Equal(t, 1, rec.count())

	s.MarkDirty("b")
	require.NoError(t, s.Close(context.Background()))
	require.Equal(t, [][]string{{"a"}, {"b"}}, rec.snapshot())
	require.False(t, s.Armed())

	s.MarkDirty("c")
	require.Empty(t, s.Dirty())
	require.False(t, s.Armed())
}
