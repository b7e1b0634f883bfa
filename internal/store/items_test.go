package store

import (
	"testing"
	"time"
)

func candidate(guid, title string) CandidateItem {
	return CandidateItem{
		GUID:    guid,
		Title:   title,
		Link:    "https://example.com/" + guid,
		Content: "content of " + title,
	}
}

func addItem(t *testing.T, st *Store, sourceID int64, guid string) int64 {
	t.Helper()
	isNew, err := st.InsertItem(sourceID, candidate(guid, guid))
	if err != nil {
		t.Fatalf("inserting item: %v", err)
	}
	if !isNew {
		t.Fatalf("expected item %q to be new", guid)
	}
	items, err := st.ProcessableItems(100)
	if err != nil {
		t.Fatalf("listing items: %v", err)
	}
	for _, it := range items {
		if it.GUID == guid && it.SourceID == sourceID {
			return it.ID
		}
	}
	t.Fatalf("inserted item %q not found", guid)
	return 0
}

func testEnrichment() Enrichment {
	return Enrichment{
		Summary:   "A concise summary.",
		Tags:      []string{"go", "testing"},
		Sentiment: "neutral",
		Score:     7.5,
		Reasoning: "Relevant to stated interests.",
	}
}

func TestInsertItemDeduplicates(t *testing.T) {
	st := openTestStore(t)
	src := addSource(t, st, 1, "a")

	isNew, err := st.InsertItem(src, candidate("guid-1", "First"))
	if err != nil || !isNew {
		t.Fatalf("expected first insert to be new, isNew=%v err=%v", isNew, err)
	}
	isNew, err = st.InsertItem(src, candidate("guid-1", "Duplicate"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if isNew {
		t.Error("expected duplicate guid to be ignored")
	}
}

func TestSameGUIDAcrossSources(t *testing.T) {
	st := openTestStore(t)
	a := addSource(t, st, 1, "a")
	b := addSource(t, st, 1, "b")

	isNew, _ := st.InsertItem(a, candidate("shared", "From A"))
	if !isNew {
		t.Fatal("expected insert into source a to be new")
	}
	isNew, _ = st.InsertItem(b, candidate("shared", "From B"))
	if !isNew {
		t.Error("expected same guid under a different source to be new")
	}
}

func TestProcessableItemsExcludesQueuedAndDeleted(t *testing.T) {
	st := openTestStore(t)
	src := addSource(t, st, 1, "a")
	gone := addSource(t, st, 1, "gone")

	ready := addItem(t, st, src, "ready")
	queued := addItem(t, st, src, "queued")
	addItem(t, st, gone, "orphan")

	st.MarkItemQueued(queued, testNow)
	st.SetSourceStatus(gone, SourceDeleted)

	items, err := st.ProcessableItems(100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 processable item, got %d", len(items))
	}
	if items[0].ID != ready {
		t.Errorf("expected item %d, got %d", ready, items[0].ID)
	}
	if items[0].AccountID != 1 {
		t.Errorf("expected joined account ID 1, got %d", items[0].AccountID)
	}
}

func TestMarkItemQueuedIsExclusive(t *testing.T) {
	st := openTestStore(t)
	src := addSource(t, st, 1, "a")
	id := addItem(t, st, src, "g")

	ok, err := st.MarkItemQueued(id, testNow)
	if err != nil || !ok {
		t.Fatalf("expected first claim to succeed, ok=%v err=%v", ok, err)
	}
	ok, _ = st.MarkItemQueued(id, testNow)
	if ok {
		t.Error("expected second claim to fail")
	}
}

func TestFinishItemEnrichmentCharged(t *testing.T) {
	st := openTestStore(t)
	src := addSource(t, st, 1, "a")
	id := addItem(t, st, src, "g")
	st.SetCreditBalance(1, 2, testNow)
	st.MarkItemQueued(id, testNow)

	charged, err := st.FinishItemEnrichment(id, 1, testEnrichment(), testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !charged {
		t.Fatal("expected charge to succeed")
	}

	item, _ := st.GetItem(id)
	if item.Status != ItemProcessed {
		t.Errorf("expected processed, got %q", item.Status)
	}
	if item.Summary == nil || *item.Summary != "A concise summary." {
		t.Error("expected summary persisted")
	}
	if len(item.Tags) != 2 || item.Tags[0] != "go" {
		t.Errorf("expected tags round-tripped, got %v", item.Tags)
	}
	if item.Score == nil || *item.Score != 7.5 {
		t.Error("expected score persisted")
	}
	if item.QueuedAt != nil {
		t.Error("expected queued_at cleared")
	}
	if item.ProcessedAt == nil {
		t.Error("expected processed_at stamped")
	}

	balance, _ := st.CreditBalance(1)
	if balance != 1 {
		t.Errorf("expected balance 1 after charge, got %d", balance)
	}
}

func TestFinishItemEnrichmentWithoutCredit(t *testing.T) {
	st := openTestStore(t)
	src := addSource(t, st, 1, "a")
	id := addItem(t, st, src, "g")
	st.MarkItemQueued(id, testNow)

	charged, err := st.FinishItemEnrichment(id, 1, testEnrichment(), testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if charged {
		t.Fatal("expected charge to fail with no balance")
	}

	item, _ := st.GetItem(id)
	if item.Status != ItemSummarized {
		t.Errorf("expected summarized, got %q", item.Status)
	}
	if item.Summary == nil {
		t.Error("expected enrichment output kept")
	}
	if item.ProcessedAt != nil {
		t.Error("expected no processed_at for uncharged item")
	}
}

func TestSummarizedItemStaysSelectable(t *testing.T) {
	st := openTestStore(t)
	src := addSource(t, st, 1, "a")
	id := addItem(t, st, src, "g")
	st.MarkItemQueued(id, testNow)
	st.FinishItemEnrichment(id, 1, testEnrichment(), testNow)

	items, _ := st.ProcessableItems(100)
	if len(items) != 1 || items[0].ID != id {
		t.Fatalf("expected summarized item re-selectable, got %v", items)
	}
	if items[0].Status != ItemSummarized {
		t.Errorf("expected summarized status, got %q", items[0].Status)
	}
}

func TestChargeProcessedItemPromotes(t *testing.T) {
	st := openTestStore(t)
	src := addSource(t, st, 1, "a")
	id := addItem(t, st, src, "g")
	st.MarkItemQueued(id, testNow)
	st.FinishItemEnrichment(id, 1, testEnrichment(), testNow)

	st.SetCreditBalance(1, 1, testNow)
	st.MarkItemQueued(id, testNow)
	charged, err := st.ChargeProcessedItem(id, 1, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !charged {
		t.Fatal("expected promotion charge to succeed")
	}

	item, _ := st.GetItem(id)
	if item.Status != ItemProcessed {
		t.Errorf("expected processed after promotion, got %q", item.Status)
	}
	balance, _ := st.CreditBalance(1)
	if balance != 0 {
		t.Errorf("expected balance 0, got %d", balance)
	}
}

func TestChargeProcessedItemWithoutCredit(t *testing.T) {
	st := openTestStore(t)
	src := addSource(t, st, 1, "a")
	id := addItem(t, st, src, "g")
	st.MarkItemQueued(id, testNow)
	st.FinishItemEnrichment(id, 1, testEnrichment(), testNow)

	st.MarkItemQueued(id, testNow)
	charged, err := st.ChargeProcessedItem(id, 1, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if charged {
		t.Fatal("expected charge to fail")
	}

	item, _ := st.GetItem(id)
	if item.Status != ItemSummarized {
		t.Errorf("expected item to stay summarized, got %q", item.Status)
	}
	if item.QueuedAt != nil {
		t.Error("expected queued_at cleared even without charge")
	}
}

func TestFailItemEnrichmentRetriesThenTerminal(t *testing.T) {
	st := openTestStore(t)
	src := addSource(t, st, 1, "a")
	id := addItem(t, st, src, "g")

	for attempt := 1; attempt <= 3; attempt++ {
		st.MarkItemQueued(id, testNow)
		terminal, err := st.FailItemEnrichment(id, "provider timeout", 3)
		if err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", attempt, err)
		}
		if attempt < 3 && terminal {
			t.Errorf("attempt %d: expected non-terminal", attempt)
		}
		if attempt == 3 && !terminal {
			t.Error("expected terminal on final attempt")
		}
	}

	item, _ := st.GetItem(id)
	if item.Status != ItemError {
		t.Errorf("expected error status, got %q", item.Status)
	}
	if item.RetryCount != 3 {
		t.Errorf("expected retry_count 3, got %d", item.RetryCount)
	}
	if item.LastError == nil || *item.LastError != "provider timeout" {
		t.Error("expected last_error recorded")
	}

	items, _ := st.ProcessableItems(100)
	if len(items) != 0 {
		t.Errorf("expected terminal item excluded from selection, got %d", len(items))
	}
}

func TestFailItemEnrichmentReselectable(t *testing.T) {
	st := openTestStore(t)
	src := addSource(t, st, 1, "a")
	id := addItem(t, st, src, "g")

	st.MarkItemQueued(id, testNow)
	st.FailItemEnrichment(id, "flaky", 3)

	items, _ := st.ProcessableItems(100)
	if len(items) != 1 {
		t.Fatalf("expected failed item re-selectable, got %d", len(items))
	}
	if items[0].RetryCount != 1 {
		t.Errorf("expected retry_count 1, got %d", items[0].RetryCount)
	}
}

func TestResetStuckItems(t *testing.T) {
	st := openTestStore(t)
	src := addSource(t, st, 1, "a")
	stuck := addItem(t, st, src, "stuck")
	recent := addItem(t, st, src, "recent")

	st.MarkItemQueued(stuck, testNow.Add(-time.Hour))
	st.MarkItemQueued(recent, testNow.Add(-time.Minute))

	n, err := st.ResetStuckItems(testNow.Add(-10 * time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 reset, got %d", n)
	}

	item, _ := st.GetItem(stuck)
	if item.QueuedAt != nil {
		t.Error("expected stuck marker cleared")
	}
	item, _ = st.GetItem(recent)
	if item.QueuedAt == nil {
		t.Error("expected recent marker untouched")
	}
}

func TestProcessedItemsSinceOrdering(t *testing.T) {
	st := openTestStore(t)
	src := addSource(t, st, 1, "a")
	st.SetCreditBalance(1, 10, testNow)

	scores := map[string]float64{"low": 2, "high": 9, "mid": 5}
	ids := make(map[string]int64)
	for guid, score := range scores {
		id := addItem(t, st, src, guid)
		ids[guid] = id
		st.MarkItemQueued(id, testNow)
		e := testEnrichment()
		e.Score = score
		if _, err := st.FinishItemEnrichment(id, 1, e, testNow); err != nil {
			t.Fatalf("finishing %q: %v", guid, err)
		}
	}

	items, err := st.ProcessedItemsSince([]int64{src}, testNow.Add(-time.Hour), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ID != ids["high"] || items[1].ID != ids["mid"] {
		t.Errorf("expected score-descending order, got %d then %d", items[0].ID, items[1].ID)
	}
}

func TestProcessedItemsSinceWindow(t *testing.T) {
	st := openTestStore(t)
	src := addSource(t, st, 1, "a")
	st.SetCreditBalance(1, 10, testNow)

	old := addItem(t, st, src, "old")
	st.MarkItemQueued(old, testNow)
	st.FinishItemEnrichment(old, 1, testEnrichment(), testNow.Add(-2*time.Hour))

	fresh := addItem(t, st, src, "fresh")
	st.MarkItemQueued(fresh, testNow)
	st.FinishItemEnrichment(fresh, 1, testEnrichment(), testNow)

	items, err := st.ProcessedItemsSince([]int64{src}, testNow.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].ID != fresh {
		t.Errorf("expected only the fresh item, got %v", items)
	}
}

func TestProcessedItemsSinceEmptySources(t *testing.T) {
	st := openTestStore(t)
	items, err := st.ProcessedItemsSince(nil, testNow, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if items != nil {
		t.Errorf("expected nil for empty source set, got %v", items)
	}
}
