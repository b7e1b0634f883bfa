package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftline/driftline/internal/queue"
	"github.com/driftline/driftline/internal/store"
)

var tickNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func addSource(t *testing.T, st *store.Store, name string) int64 {
	t.Helper()
	id, err := st.InsertSource(1, name, store.KindFeed, "https://example.com/"+name+".xml", 30)
	if err != nil {
		t.Fatalf("inserting source: %v", err)
	}
	return id
}

type fakeFetcher struct {
	candidates []store.CandidateItem
	err        error
	calls      int
	lastSince  *time.Time
	onFetch    func()
}

func (f *fakeFetcher) Fetch(ctx context.Context, src store.Source, since *time.Time) ([]store.CandidateItem, error) {
	f.calls++
	f.lastSince = since
	if f.onFetch != nil {
		f.onFetch()
	}
	return f.candidates, f.err
}

func newTestScheduler(st *store.Store, q queue.Queue) *Scheduler {
	s := NewScheduler(st, q, 10, zerolog.Nop())
	s.now = func() time.Time { return tickNow }
	return s
}

func TestSchedulerEnqueuesDueSources(t *testing.T) {
	st := openTestStore(t)
	q := queue.NewMemory(10)
	a := addSource(t, st, "a")
	b := addSource(t, st, "b")

	newTestScheduler(st, q).Tick(context.Background())

	if q.Size() != 2 {
		t.Fatalf("expected 2 enqueued, got %d", q.Size())
	}
	for _, id := range []int64{a, b} {
		src, _ := st.GetSource(id)
		if src.FetchStatus != store.FetchQueued {
			t.Errorf("source %d: expected queued, got %q", id, src.FetchStatus)
		}
		if src.QueuedAt == nil {
			t.Errorf("source %d: expected queued_at stamped", id)
		}
	}
}

func TestSchedulerSkipsTickWhenSaturated(t *testing.T) {
	st := openTestStore(t)
	q := queue.NewMemory(1)
	q.Enqueue(99)
	id := addSource(t, st, "a")

	newTestScheduler(st, q).Tick(context.Background())

	src, _ := st.GetSource(id)
	if src.FetchStatus != store.FetchIdle {
		t.Errorf("expected source untouched under backpressure, got %q", src.FetchStatus)
	}
}

func TestSchedulerRevertsOnFullQueue(t *testing.T) {
	st := openTestStore(t)
	q := queue.NewMemory(1)
	addSource(t, st, "a")
	b := addSource(t, st, "b")

	newTestScheduler(st, q).Tick(context.Background())

	if q.Size() != 1 {
		t.Fatalf("expected 1 enqueued, got %d", q.Size())
	}
	// The second source was claimed, rejected by the full queue, reverted.
	src, _ := st.GetSource(b)
	if src.FetchStatus != store.FetchIdle {
		t.Errorf("expected reverted source idle, got %q", src.FetchStatus)
	}
}

func TestSchedulerDoesNotDoubleEnqueue(t *testing.T) {
	st := openTestStore(t)
	q := queue.NewMemory(10)
	addSource(t, st, "a")

	s := newTestScheduler(st, q)
	s.Tick(context.Background())
	s.Tick(context.Background())

	if q.Size() != 1 {
		t.Errorf("expected a queued source not re-enqueued, got depth %d", q.Size())
	}
}

func TestTriggerNow(t *testing.T) {
	st := openTestStore(t)
	q := queue.NewMemory(10)
	id := addSource(t, st, "a")

	s := newTestScheduler(st, q)
	if err := s.TriggerNow(id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Size() != 1 {
		t.Errorf("expected 1 enqueued, got %d", q.Size())
	}

	if err := s.TriggerNow(id); err == nil {
		t.Error("expected error for already-queued source")
	}
	if err := s.TriggerNow(404); err == nil {
		t.Error("expected error for missing source")
	}
}

func TestTriggerNowRejectsPausedSource(t *testing.T) {
	st := openTestStore(t)
	q := queue.NewMemory(10)
	id := addSource(t, st, "a")
	st.SetSourceStatus(id, store.SourcePaused)

	s := newTestScheduler(st, q)
	if err := s.TriggerNow(id); err == nil {
		t.Fatal("expected error for paused source")
	}
	if q.Size() != 0 {
		t.Errorf("expected nothing enqueued, got depth %d", q.Size())
	}
	src, _ := st.GetSource(id)
	if src.FetchStatus != store.FetchIdle {
		t.Errorf("expected no claim taken, got %q", src.FetchStatus)
	}
}

func TestWorkerFetchesAndStoresItems(t *testing.T) {
	st := openTestStore(t)
	id := addSource(t, st, "a")
	st.MarkSourceQueued(id, tickNow)

	f := &fakeFetcher{candidates: []store.CandidateItem{
		{GUID: "g1", Title: "One", Link: "https://example.com/1"},
		{GUID: "g2", Title: "Two", Link: "https://example.com/2"},
		{GUID: "", Title: "No guid"},
	}}
	w := NewWorker(st, f, zerolog.Nop())
	w.now = func() time.Time { return tickNow }

	w.Process(context.Background(), id)

	if f.calls != 1 {
		t.Fatalf("expected 1 fetch call, got %d", f.calls)
	}
	if f.lastSince != nil {
		t.Error("expected nil since for never-fetched source")
	}

	src, _ := st.GetSource(id)
	if src.FetchStatus != store.FetchIdle {
		t.Errorf("expected idle after fetch, got %q", src.FetchStatus)
	}
	if src.LastFetchedAt == nil || !src.LastFetchedAt.Equal(tickNow) {
		t.Errorf("expected last_fetched_at %v, got %v", tickNow, src.LastFetchedAt)
	}

	items, _ := st.ProcessableItems(100)
	if len(items) != 2 {
		t.Errorf("expected 2 stored items (guid-less skipped), got %d", len(items))
	}
}

func TestWorkerRecordsFailure(t *testing.T) {
	st := openTestStore(t)
	id := addSource(t, st, "a")
	st.MarkSourceQueued(id, tickNow)

	f := &fakeFetcher{err: errors.New("dns failure")}
	w := NewWorker(st, f, zerolog.Nop())
	w.now = func() time.Time { return tickNow }

	w.Process(context.Background(), id)

	src, _ := st.GetSource(id)
	if src.Status != store.SourceError {
		t.Errorf("expected error status, got %q", src.Status)
	}
	if src.FetchStatus != store.FetchIdle {
		t.Errorf("expected idle after failure, got %q", src.FetchStatus)
	}
	if src.LastError == nil || *src.LastError != "dns failure" {
		t.Error("expected failure message recorded")
	}
}

func TestWorkerSkipsPausedSource(t *testing.T) {
	st := openTestStore(t)
	id := addSource(t, st, "a")
	st.MarkSourceQueued(id, tickNow)
	st.SetSourceStatus(id, store.SourcePaused)

	f := &fakeFetcher{}
	w := NewWorker(st, f, zerolog.Nop())
	w.Process(context.Background(), id)

	if f.calls != 0 {
		t.Error("expected no fetch for paused source")
	}
	src, _ := st.GetSource(id)
	if src.FetchStatus != store.FetchIdle {
		t.Errorf("expected claim released, got %q", src.FetchStatus)
	}
}

func TestWorkerPreservesPauseAppliedMidFetch(t *testing.T) {
	st := openTestStore(t)
	id := addSource(t, st, "a")
	st.MarkSourceQueued(id, tickNow)

	f := &fakeFetcher{
		candidates: []store.CandidateItem{{GUID: "g1", Title: "One"}},
		onFetch:    func() { st.SetSourceStatus(id, store.SourcePaused) },
	}
	w := NewWorker(st, f, zerolog.Nop())
	w.now = func() time.Time { return tickNow }

	w.Process(context.Background(), id)

	src, _ := st.GetSource(id)
	if src.Status != store.SourcePaused {
		t.Errorf("source paused mid-fetch should stay paused, got %q", src.Status)
	}
	if src.FetchStatus != store.FetchIdle {
		t.Errorf("expected idle after fetch, got %q", src.FetchStatus)
	}
}

func TestWorkerPreservesPauseOnFailedFetch(t *testing.T) {
	st := openTestStore(t)
	id := addSource(t, st, "a")
	st.MarkSourceQueued(id, tickNow)

	f := &fakeFetcher{err: errors.New("dns failure")}
	f.onFetch = func() { st.SetSourceStatus(id, store.SourcePaused) }
	w := NewWorker(st, f, zerolog.Nop())
	w.now = func() time.Time { return tickNow }

	w.Process(context.Background(), id)

	src, _ := st.GetSource(id)
	if src.Status != store.SourcePaused {
		t.Errorf("source paused mid-fetch should stay paused, got %q", src.Status)
	}
	if src.LastError == nil || *src.LastError != "dns failure" {
		t.Error("expected failure message still recorded")
	}
}

func TestWorkerIgnoresMissingSource(t *testing.T) {
	st := openTestStore(t)
	f := &fakeFetcher{}
	w := NewWorker(st, f, zerolog.Nop())
	w.Process(context.Background(), 404)
	if f.calls != 0 {
		t.Error("expected no fetch for missing source")
	}
}

func TestWorkerPassesSinceOnRefetch(t *testing.T) {
	st := openTestStore(t)
	id := addSource(t, st, "a")

	st.MarkSourceQueued(id, tickNow)
	f := &fakeFetcher{}
	w := NewWorker(st, f, zerolog.Nop())
	w.now = func() time.Time { return tickNow }
	w.Process(context.Background(), id)

	st.MarkSourceQueued(id, tickNow.Add(time.Hour))
	w.Process(context.Background(), id)

	if f.lastSince == nil || !f.lastSince.Equal(tickNow) {
		t.Errorf("expected since = previous fetch time %v, got %v", tickNow, f.lastSince)
	}
}

func TestWorkerDeduplicatesAcrossFetches(t *testing.T) {
	st := openTestStore(t)
	id := addSource(t, st, "a")

	f := &fakeFetcher{candidates: []store.CandidateItem{{GUID: "g1", Title: "One"}}}
	w := NewWorker(st, f, zerolog.Nop())
	w.now = func() time.Time { return tickNow }

	st.MarkSourceQueued(id, tickNow)
	w.Process(context.Background(), id)
	st.MarkSourceQueued(id, tickNow.Add(time.Hour))
	w.Process(context.Background(), id)

	items, _ := st.ProcessableItems(100)
	if len(items) != 1 {
		t.Errorf("expected re-fetched guid stored once, got %d", len(items))
	}
}
