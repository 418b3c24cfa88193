package storage

import (
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(id string) ExecutionRecord {
	return ExecutionRecord{
		ID:            id,
		Question:      "find AI trends",
		Steps:         []string{"open browser", "search AI trends", "summarize"},
		Result:        "summary of AI trends",
		Rating:        5,
		Success:       true,
		ExecutionTime: 42.5,
		TaskType:      "research",
		Keywords:      []string{"ai", "trends", "search"},
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestIndexesExist verifies the migration creates the expected indexes.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{
		"idx_records_created", "idx_records_rating", "idx_records_task_type",
		"idx_keyword_index_keyword", "idx_keyword_index_record",
	}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestInsertAndGetRecord(t *testing.T) {
	s := openTestStore(t)

	want := testRecord("rec-001")
	if err := s.InsertRecord(want); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}

	got, err := s.GetRecord("rec-001")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}

	if got.Question != want.Question || got.Rating != want.Rating || !got.Success {
		t.Errorf("round-trip mismatch: got %+v", got)
	}
	if len(got.Steps) != 3 || got.Steps[1] != "search AI trends" {
		t.Errorf("steps = %v, want %v", got.Steps, want.Steps)
	}
	if len(got.Keywords) != 3 {
		t.Errorf("keywords = %v, want %v", got.Keywords, want.Keywords)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
}

func TestGetRecordNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetRecord("missing"); err != ErrNotFound {
		t.Errorf("GetRecord(missing) error = %v, want ErrNotFound", err)
	}
}

// TestUpsertReplacesIndex re-inserts a record with new keywords and verifies
// the keyword index holds only the new entries (no duplicates, no leftovers).
func TestUpsertReplacesIndex(t *testing.T) {
	s := openTestStore(t)

	rec := testRecord("rec-up")
	if err := s.InsertRecord(rec); err != nil {
		t.Fatalf("first InsertRecord: %v", err)
	}

	rec.Keywords = []string{"ai", "news"}
	rec.Result = "updated"
	if err := s.InsertRecord(rec); err != nil {
		t.Fatalf("second InsertRecord: %v", err)
	}

	var recordCount int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM execution_records").Scan(&recordCount); err != nil {
		t.Fatalf("counting records: %v", err)
	}
	if recordCount != 1 {
		t.Errorf("record count = %d, want 1", recordCount)
	}

	var indexCount int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM keyword_index WHERE record_id = 'rec-up'").Scan(&indexCount); err != nil {
		t.Fatalf("counting index rows: %v", err)
	}
	if indexCount != 2 {
		t.Errorf("index row count = %d, want 2", indexCount)
	}

	got, err := s.GetRecord("rec-up")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.Result != "updated" {
		t.Errorf("result = %q, want %q", got.Result, "updated")
	}
}

func TestDeleteRecord(t *testing.T) {
	s := openTestStore(t)

	if err := s.InsertRecord(testRecord("rec-del")); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}

	if err := s.DeleteRecord("rec-del"); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}

	if _, err := s.GetRecord("rec-del"); err != ErrNotFound {
		t.Errorf("GetRecord after delete error = %v, want ErrNotFound", err)
	}

	// Index rows must be gone too (referential integrity).
	var indexCount int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM keyword_index WHERE record_id = 'rec-del'").Scan(&indexCount); err != nil {
		t.Fatalf("counting index rows: %v", err)
	}
	if indexCount != 0 {
		t.Errorf("index rows remaining after delete: %d", indexCount)
	}

	if err := s.DeleteRecord("rec-del"); err != ErrNotFound {
		t.Errorf("second DeleteRecord error = %v, want ErrNotFound", err)
	}
}

func TestListRecent(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := testRecord(fmt.Sprintf("rec-%d", i))
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.InsertRecord(rec); err != nil {
			t.Fatalf("InsertRecord %d: %v", i, err)
		}
	}

	records, err := s.ListRecent(3)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[0].ID != "rec-4" || records[2].ID != "rec-2" {
		t.Errorf("unexpected order: %s, %s, %s", records[0].ID, records[1].ID, records[2].ID)
	}
}

func TestSearchByKeywordsEmptyQuery(t *testing.T) {
	s := openTestStore(t)

	if err := s.InsertRecord(testRecord("rec-1")); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}

	records, err := s.SearchByKeywords(nil, 5)
	if err != nil {
		t.Fatalf("SearchByKeywords(nil): %v", err)
	}
	if records != nil {
		t.Errorf("got %d records for empty query, want none", len(records))
	}
}

func TestSearchByKeywordsScoring(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Two keyword matches, rating 4.
	a := testRecord("rec-a")
	a.Rating = 4
	a.Keywords = []string{"ai", "trends"}
	a.CreatedAt = base
	// One keyword match, rating 5. Quality bias must put this first:
	// a: 2 + 8 + 1 + 1.5 = 12.5, b: 1 + 10 + 1 + 3 = 15.
	b := testRecord("rec-b")
	b.Rating = 5
	b.Keywords = []string{"ai"}
	b.CreatedAt = base.Add(time.Minute)

	for _, rec := range []ExecutionRecord{a, b} {
		if err := s.InsertRecord(rec); err != nil {
			t.Fatalf("InsertRecord %s: %v", rec.ID, err)
		}
	}

	records, err := s.SearchByKeywords([]string{"ai", "trends"}, 5)
	if err != nil {
		t.Fatalf("SearchByKeywords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].ID != "rec-b" {
		t.Errorf("first result = %s, want rec-b (quality-biased ranking)", records[0].ID)
	}
	if records[0].Score != 15.0 {
		t.Errorf("rec-b score = %v, want 15.0", records[0].Score)
	}
	if records[1].Score != 12.5 {
		t.Errorf("rec-a score = %v, want 12.5", records[1].Score)
	}
}

// TestSearchEqualMatchRatingTieBreak checks that with equal match counts the
// higher-rated record ranks first.
func TestSearchEqualMatchRatingTieBreak(t *testing.T) {
	s := openTestStore(t)

	four := testRecord("rec-4star")
	four.Rating = 4
	four.Keywords = []string{"ai"}
	five := testRecord("rec-5star")
	five.Rating = 5
	five.Keywords = []string{"ai"}

	for _, rec := range []ExecutionRecord{four, five} {
		if err := s.InsertRecord(rec); err != nil {
			t.Fatalf("InsertRecord %s: %v", rec.ID, err)
		}
	}

	records, err := s.SearchByKeywords([]string{"ai"}, 5)
	if err != nil {
		t.Fatalf("SearchByKeywords: %v", err)
	}
	if len(records) != 2 || records[0].ID != "rec-5star" {
		t.Errorf("expected rec-5star first, got %+v", records)
	}
}

// TestSearchDuplicateQueryKeywords verifies a duplicated query keyword does
// not multiply the match count.
func TestSearchDuplicateQueryKeywords(t *testing.T) {
	s := openTestStore(t)

	rec := testRecord("rec-dup")
	rec.Rating = 5
	rec.Keywords = []string{"ai"}
	if err := s.InsertRecord(rec); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}

	records, err := s.SearchByKeywords([]string{"ai", "ai", "ai"}, 5)
	if err != nil {
		t.Fatalf("SearchByKeywords: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	// matchCount 1 + rating 10 + success 1 + quality 3
	if records[0].Score != 15.0 {
		t.Errorf("score = %v, want 15.0", records[0].Score)
	}
}

func TestSearchLimit(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 10; i++ {
		rec := testRecord(fmt.Sprintf("rec-%d", i))
		rec.Keywords = []string{"ai"}
		if err := s.InsertRecord(rec); err != nil {
			t.Fatalf("InsertRecord %d: %v", i, err)
		}
	}

	records, err := s.SearchByKeywords([]string{"ai"}, 3)
	if err != nil {
		t.Fatalf("SearchByKeywords: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("got %d records, want 3", len(records))
	}
}

func TestStatisticsEmpty(t *testing.T) {
	s := openTestStore(t)

	stats, err := s.Statistics()
	if err != nil {
		t.Fatalf("Statistics on empty store: %v", err)
	}
	if stats.TotalRecords != 0 || stats.SuccessRate != 0 {
		t.Errorf("empty store stats = %+v, want zeroed", stats)
	}
	if len(stats.RatingCounts) != 0 || len(stats.TaskTypeCounts) != 0 {
		t.Errorf("empty store histograms not empty: %+v", stats)
	}
}

func TestStatistics(t *testing.T) {
	s := openTestStore(t)

	ratings := []int{5, 5, 4}
	types := []string{"research", "research", "shopping"}
	success := []bool{true, true, false}
	for i := range ratings {
		rec := testRecord(fmt.Sprintf("rec-%d", i))
		rec.Rating = ratings[i]
		rec.TaskType = types[i]
		rec.Success = success[i]
		if err := s.InsertRecord(rec); err != nil {
			t.Fatalf("InsertRecord %d: %v", i, err)
		}
	}

	stats, err := s.Statistics()
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.TotalRecords != 3 {
		t.Errorf("total = %d, want 3", stats.TotalRecords)
	}
	if stats.RatingCounts[5] != 2 || stats.RatingCounts[4] != 1 {
		t.Errorf("rating histogram = %v", stats.RatingCounts)
	}
	if stats.TaskTypeCounts["research"] != 2 || stats.TaskTypeCounts["shopping"] != 1 {
		t.Errorf("task type histogram = %v", stats.TaskTypeCounts)
	}
	want := 2.0 / 3.0
	if diff := stats.SuccessRate - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("success rate = %v, want %v", stats.SuccessRate, want)
	}
}
