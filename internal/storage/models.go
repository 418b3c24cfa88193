package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ExecutionRecord is one completed task attempt admitted into memory.
// Steps and Keywords are stored as JSON arrays in SQLite.
type ExecutionRecord struct {
	ID            string    `json:"id"`
	Question      string    `json:"question"`
	Steps         []string  `json:"steps"`
	Result        string    `json:"result"`
	Rating        int       `json:"rating"`
	Success       bool      `json:"success"`
	ExecutionTime float64   `json:"execution_time"`
	TaskType      string    `json:"task_type"`
	Keywords      []string  `json:"keywords"`
	CreatedAt     time.Time `json:"created_at"`

	// Score is the weighted relevance score computed by SearchByKeywords.
	// Zero for records fetched by id or by listing.
	Score float64 `json:"score,omitempty"`
}

// Statistics aggregates the contents of the memory store.
type Statistics struct {
	TotalRecords   int            `json:"total_records"`
	RatingCounts   map[int]int    `json:"rating_distribution"`
	TaskTypeCounts map[string]int `json:"task_type_distribution"`
	SuccessRate    float64        `json:"success_rate"`
}
