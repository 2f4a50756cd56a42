package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/fxstore/internal/testutil"
)

// testDB is the state used by engine tests. Handlers treat it as immutable
// and copy Log before appending.
type testDB struct {
	Counter int
	Log     []string
}

func (db testDB) withCounter(n int) testDB {
	db.Counter = n
	return db
}

func (db testDB) appendLog(entry string) testDB {
	db.Log = append(append([]string(nil), db.Log...), entry)
	return db
}

func newTestStore(initial testDB, opts ...Option) (*Store[testDB], *testutil.ManualScheduler) {
	sched := testutil.NewManualScheduler()
	base := []Option{
		WithLogger(slog.New(slog.DiscardHandler)),
		WithScheduler(sched),
	}
	return New(initial, append(base, opts...)...), sched
}

func incrementHandler(db testDB, _ Event) testDB {
	return db.withCounter(db.Counter + 1)
}

// callLog records effect invocations as "name:payload" strings.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, entry)
}

func (l *callLog) handler(name string) EffectHandler {
	return func(_ context.Context, payload any) error {
		l.add(fmt.Sprintf("%s:%v", name, payload))
		return nil
	}
}

func (l *callLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// recordSink collects observer records.
type recordSink struct {
	mu      sync.Mutex
	records []Record
}

func (s *recordSink) observe(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}

func (s *recordSink) all() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

func (s *recordSink) ofType(t RecordType) []Record {
	var out []Record
	for _, r := range s.all() {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}
