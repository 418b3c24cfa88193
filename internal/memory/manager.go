package memory

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyqbyj/taskmem/internal/keywords"
	"github.com/hyqbyj/taskmem/internal/storage"
)

// AdmissionThreshold is the minimum rating a completed execution needs to be
// admitted into the store. Records below it are never created, so every
// stored record is a known-good strategy.
const AdmissionThreshold = 4

// Admit reports whether an execution with the given rating belongs in memory.
func Admit(rating int) bool {
	return rating >= AdmissionThreshold
}

// StoreRequest carries one completed execution to be rated and stored.
type StoreRequest struct {
	Question      string   `json:"question"`
	Steps         []string `json:"steps"`
	Result        string   `json:"result"`
	Rating        int      `json:"rating"`
	TaskType      string   `json:"task_type"`
	Success       bool     `json:"success"`
	ExecutionTime float64  `json:"execution_time"`
}

// Outcome describes what happened to a store attempt. Storage problems are
// reported here rather than as errors: a memory failure must never abort the
// workflow that produced the execution.
type Outcome struct {
	Stored   bool   `json:"stored"`
	RecordID string `json:"record_id,omitempty"`
	Message  string `json:"message"`
}

// Manager owns the admission gate and record lifecycle around the store.
type Manager struct {
	store     *storage.Store
	extractor keywords.Extractor

	// now is swappable for deterministic ids in tests.
	now func() time.Time
}

// NewManager wires a Manager to its store and keyword extractor.
func NewManager(store *storage.Store, extractor keywords.Extractor) *Manager {
	return &Manager{store: store, extractor: extractor, now: time.Now}
}

// StoreExecution applies the rating gate and, if the execution is admitted,
// extracts keywords and inserts the record. The gate runs first so rejected
// executions never pay the extraction cost.
func (m *Manager) StoreExecution(ctx context.Context, req StoreRequest) Outcome {
	if req.Rating < 1 || req.Rating > 5 {
		return Outcome{Stored: false, Message: fmt.Sprintf("rating must be between 1 and 5, got %d", req.Rating)}
	}
	if !Admit(req.Rating) {
		return Outcome{Stored: false, Message: fmt.Sprintf("rating %d is below the storage threshold of %d; execution not stored", req.Rating, AdmissionThreshold)}
	}

	createdAt := m.now().UTC()
	rec := storage.ExecutionRecord{
		ID:            recordID(req.Question, createdAt),
		Question:      req.Question,
		Steps:         req.Steps,
		Result:        req.Result,
		Rating:        req.Rating,
		Success:       req.Success,
		ExecutionTime: req.ExecutionTime,
		TaskType:      req.TaskType,
		Keywords:      m.extractor.Extract(ctx, req.Question, req.Steps),
		CreatedAt:     createdAt,
	}

	if err := m.store.InsertRecord(rec); err != nil {
		slog.Warn("storing execution record failed", "record_id", rec.ID, "error", err)
		return Outcome{Stored: false, Message: fmt.Sprintf("storing execution record failed: %v", err)}
	}

	slog.Info("execution record stored", "record_id", rec.ID, "rating", rec.Rating, "keywords", len(rec.Keywords))
	return Outcome{Stored: true, RecordID: rec.ID, Message: fmt.Sprintf("execution record stored: %s", rec.ID)}
}

// FindSimilar extracts keywords from the question with the same extractor
// used at storage time and returns the best-matching records. An empty
// keyword set short-circuits to an empty result without a store scan.
func (m *Manager) FindSimilar(ctx context.Context, question string, limit int) ([]storage.ExecutionRecord, error) {
	kws := m.extractor.Extract(ctx, question, nil)
	if len(kws) == 0 {
		return nil, nil
	}
	return m.store.SearchByKeywords(kws, limit)
}

// GetRecord returns a stored record by id.
func (m *Manager) GetRecord(id string) (storage.ExecutionRecord, error) {
	return m.store.GetRecord(id)
}

// ListRecent returns up to limit records, most recent first.
func (m *Manager) ListRecent(limit int) ([]storage.ExecutionRecord, error) {
	return m.store.ListRecent(limit)
}

// DeleteRecord removes a record and its index entries.
func (m *Manager) DeleteRecord(id string) error {
	return m.store.DeleteRecord(id)
}

// Statistics returns aggregate counts over the memory contents.
func (m *Manager) Statistics() (storage.Statistics, error) {
	return m.store.Statistics()
}

// recordID derives a stable content key from the question and creation
// instant, so re-inserting the same logical record replaces it in place.
func recordID(question string, createdAt time.Time) string {
	sum := md5.Sum([]byte(question + "_" + createdAt.Format(time.RFC3339)))
	return hex.EncodeToString(sum[:])[:12]
}
