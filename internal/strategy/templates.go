package strategy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hyqbyj/taskmem/internal/storage"
)

// templateScanLimit bounds how many recent records feed template grouping.
const templateScanLimit = 100

// maxExamplesPerType caps the examples kept for each task type.
const maxExamplesPerType = 5

// RecentLister is the record listing slice of the memory manager.
type RecentLister interface {
	ListRecent(limit int) ([]storage.ExecutionRecord, error)
}

// TemplateExample is one proven execution for a task type.
type TemplateExample struct {
	Question  string   `json:"question"`
	Steps     []string `json:"steps"`
	Rating    int      `json:"rating"`
	CreatedAt string   `json:"created_at"`
}

// Template groups the best stored executions of one task type.
type Template struct {
	TaskType string            `json:"task_type"`
	Count    int               `json:"count"`
	Examples []TemplateExample `json:"best_examples"`
}

// Templates groups recent successful records by task type, best-rated first.
func Templates(lister RecentLister) ([]Template, error) {
	records, err := lister.ListRecent(templateScanLimit)
	if err != nil {
		return nil, fmt.Errorf("listing records for templates: %w", err)
	}

	byType := make(map[string][]storage.ExecutionRecord)
	for _, rec := range records {
		if rec.Rating < 4 || !rec.Success {
			continue
		}
		byType[rec.TaskType] = append(byType[rec.TaskType], rec)
	}

	templates := make([]Template, 0, len(byType))
	for taskType, recs := range byType {
		sort.SliceStable(recs, func(i, j int) bool {
			return recs[i].Rating > recs[j].Rating
		})

		count := len(recs)
		if len(recs) > maxExamplesPerType {
			recs = recs[:maxExamplesPerType]
		}
		examples := make([]TemplateExample, len(recs))
		for i, rec := range recs {
			examples[i] = TemplateExample{
				Question:  rec.Question,
				Steps:     rec.Steps,
				Rating:    rec.Rating,
				CreatedAt: rec.CreatedAt.Format("2006-01-02 15:04:05"),
			}
		}
		templates = append(templates, Template{TaskType: taskType, Count: count, Examples: examples})
	}

	// Deterministic output order for API consumers.
	sort.Slice(templates, func(i, j int) bool {
		return templates[i].TaskType < templates[j].TaskType
	})
	return templates, nil
}

// FormatForDisplay renders a suggestion for terminal output.
func FormatForDisplay(s Suggestion) string {
	if !s.HasSuggestions {
		return "No relevant past strategies; execution steps will be planned from scratch."
	}

	var sb strings.Builder
	sb.WriteString(s.Message)
	sb.WriteString("\n\nSuggested steps:\n")
	for i, step := range s.Steps {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, step)
	}
	fmt.Fprintf(&sb, "\nConfidence: %.1f%%\n", s.Confidence*100)

	if len(s.Records) > 0 {
		sb.WriteString("\nBased on:\n")
		for _, ref := range s.Records {
			fmt.Fprintf(&sb, "- %s (%d stars)\n", ref.Question, ref.Rating)
		}
	}
	return sb.String()
}
