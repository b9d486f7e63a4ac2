package writeback

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// FlushFunc persists the current state of the named tables.
type FlushFunc func(ctx context.Context, tables []string) error

// Scheduler debounces flushes of dirty tables. The first write after a
// flush arms one timer for the flush deadline, the earliest time the next
// flush is permitted; writes while it is armed only mark their table dirty,
// and the flush picks up whatever state the tables hold when it runs. A
// write arriving after the deadline has passed flushes immediately.
//
// Arming decisions are serialized by mu. Flushes are serialized by flushMu
// and run on the timer goroutine or the caller of FlushNow.
type Scheduler struct {
	interval time.Duration
	flush    FlushFunc

	mu       sync.Mutex
	deadline time.Time
	timer    *time.Timer
	armed    bool
	closed   bool
	gen      uint64
	dirty    map[string]uint64 // table -> generation of its latest mark

	flushMu sync.Mutex
}

// NewScheduler returns a Scheduler whose first flush is permitted one
// interval from now.
func NewScheduler(interval time.Duration, flush FlushFunc) *Scheduler {
	return &Scheduler{
		interval: interval,
		flush:    flush,
		deadline: time.Now().Add(interval),
		dirty:    make(map[string]uint64),
	}
}

// MarkDirty records a write to table and arms the flush timer unless it is
// already armed. The timer targets the stored deadline, the next permitted
// flush, rather than one interval from now.
func (s *Scheduler) MarkDirty(table string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.gen++
	s.dirty[table] = s.gen

	if !s.armed {
		s.arm()
	}
}

// arm starts the timer for the current deadline. s.mu must be held.
func (s *Scheduler) arm() {
	delay := time.Until(s.deadline)
	if delay < 0 {
		delay = 0
	}
	s.armed = true
	s.timer = time.AfterFunc(delay, s.fire)
}

func (s *Scheduler) fire() {
	err := s.FlushNow(context.Background())

	s.mu.Lock()
	defer s.mu.Unlock()

	s.armed = false
	s.deadline = time.Now().Add(s.interval)
	if s.closed {
		return
	}
	if err != nil {
		// Nothing is re-armed: the next write schedules a retry.
		return
	}
	if len(s.dirty) != 0 {
		s.arm()
	}
}

// FlushNow flushes every dirty table. On success it clears the marks that
// were not superseded by writes during the flush; on failure every mark is
// kept.
func (s *Scheduler) FlushNow(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	snapshot := make(map[string]uint64, len(s.dirty))
	for table, gen := range s.dirty {
		snapshot[table] = gen
	}
	s.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}
	tables := make([]string, 0, len(snapshot))
	for table := range snapshot {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	if err := s.flush(ctx, tables); err != nil {
		flushesTotal.WithLabelValues("failed").Inc()
		log.WithFields(log.Fields{
			"component": "writeback",
			"tables":    tables,
			"err":       err,
		}).Error("flush failed; tables stay dirty")
		return err
	}
	flushesTotal.WithLabelValues("ok").Inc()
	flushedTablesTotal.Add(float64(len(tables)))

	s.mu.Lock()
	for table, gen := range snapshot {
		if s.dirty[table] == gen {
			delete(s.dirty, table)
		}
	}
	s.mu.Unlock()
	return nil
}

// Dirty returns the tables awaiting a flush, sorted.
func (s *Scheduler) Dirty() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := make([]string, 0, len(s.dirty))
	for table := range s.dirty {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}

// IsDirty reports whether table awaits a flush.
func (s *Scheduler) IsDirty(table string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dirty[table]
	return ok
}

// Armed reports whether a flush timer is pending.
func (s *Scheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// Deadline returns the earliest time the next timed flush may run.
func (s *Scheduler) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

// Close stops the timer, ignores further writes and runs a final flush.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.armed = false
	s.mu.Unlock()

	return s.FlushNow(ctx)
}
