package strategy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hyqbyj/taskmem/internal/storage"
)

const (
	// DefaultRecordLimit is how many ranked records feed a suggestion.
	DefaultRecordLimit = 5
	// DefaultMaxSteps caps the deduplicated suggested step list.
	DefaultMaxSteps = 15
	// DefaultScoreScale divides the ranker score before it scales a record's
	// weight. Tunable: the magnitude is a heuristic, not a law.
	DefaultScoreScale = 10.0
)

// SimilarFinder is the slice of the memory manager the synthesizer needs.
type SimilarFinder interface {
	FindSimilar(ctx context.Context, question string, limit int) ([]storage.ExecutionRecord, error)
}

// RecordRef points at a record that contributed to a suggestion.
type RecordRef struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Rating    int       `json:"rating"`
	TaskType  string    `json:"task_type"`
	CreatedAt time.Time `json:"created_at"`
	Score     float64   `json:"score"`
}

// Suggestion is a weighted, deduplicated step list synthesized from past
// executions, with a [0,1] confidence estimating how trustworthy it is.
type Suggestion struct {
	HasSuggestions bool        `json:"has_suggestions"`
	Message        string      `json:"message"`
	Steps          []string    `json:"suggested_steps"`
	Confidence     float64     `json:"confidence"`
	Records        []RecordRef `json:"similar_records,omitempty"`
}

// Synthesizer turns ranked records into strategy suggestions.
type Synthesizer struct {
	finder      SimilarFinder
	recordLimit int
	maxSteps    int
	scoreScale  float64
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithRecordLimit sets how many similar records are consulted.
func WithRecordLimit(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.recordLimit = n
		}
	}
}

// WithMaxSteps sets the cap on the suggested step list.
func WithMaxSteps(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.maxSteps = n
		}
	}
}

// WithScoreScale sets the divisor applied to ranker scores when they scale
// record weights.
func WithScoreScale(scale float64) Option {
	return func(s *Synthesizer) {
		if scale > 0 {
			s.scoreScale = scale
		}
	}
}

// NewSynthesizer creates a Synthesizer over the given record finder.
func NewSynthesizer(finder SimilarFinder, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		finder:      finder,
		recordLimit: DefaultRecordLimit,
		maxSteps:    DefaultMaxSteps,
		scoreScale:  DefaultScoreScale,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Suggest finds executions similar to the question and synthesizes a
// suggestion from them. Lookup failures degrade to "no suggestions" — the
// caller plans without memory rather than failing.
func (s *Synthesizer) Suggest(ctx context.Context, question string) Suggestion {
	records, err := s.finder.FindSimilar(ctx, question, s.recordLimit)
	if err != nil {
		return Suggestion{Message: fmt.Sprintf("similar record lookup failed: %v", err)}
	}
	if len(records) == 0 {
		return Suggestion{Message: "no similar past executions found"}
	}
	return Synthesize(records, s.maxSteps, s.scoreScale)
}

type weightedStep struct {
	step   string
	weight float64
}

// Synthesize converts ranked records into a Suggestion. Records are expected
// to be rating-admitted already; the filter is re-applied anyway so a caller
// handing over unfiltered records cannot poison the suggestion.
func Synthesize(records []storage.ExecutionRecord, maxSteps int, scoreScale float64) Suggestion {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	if scoreScale <= 0 {
		scoreScale = DefaultScoreScale
	}

	var (
		steps         []weightedStep
		confidenceSum float64
		weightSum     float64
		contributing  []RecordRef
		fiveStarCount int
	)

	for _, rec := range records {
		if rec.Rating < 4 || !rec.Success {
			continue
		}

		weight := recordWeight(rec.Rating)
		if rec.Score > 0 {
			weight *= 1 + rec.Score/scoreScale
		}

		for _, step := range rec.Steps {
			steps = append(steps, weightedStep{step: step, weight: weight})
		}

		confidenceSum += ((float64(rec.Rating)/5.0)*0.8 + 0.2) * weight
		weightSum += weight
		if rec.Rating == 5 {
			fiveStarCount++
		}
		contributing = append(contributing, RecordRef{
			ID:        rec.ID,
			Question:  rec.Question,
			Rating:    rec.Rating,
			TaskType:  rec.TaskType,
			CreatedAt: rec.CreatedAt,
			Score:     rec.Score,
		})
	}

	if len(steps) == 0 {
		return Suggestion{Message: "similar records found but none of usable quality"}
	}

	// Stable sort keeps ranked order among equal weights.
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].weight > steps[j].weight
	})

	seen := make(map[string]struct{}, len(steps))
	unique := make([]string, 0, maxSteps)
	for _, ws := range steps {
		if _, ok := seen[ws.step]; ok {
			continue
		}
		seen[ws.step] = struct{}{}
		unique = append(unique, ws.step)
		if len(unique) >= maxSteps {
			break
		}
	}

	// Weighted mean keeps confidence in [0,1] and strictly increasing when a
	// higher-rated record joins the set; the raw sum would saturate the clamp.
	confidence := confidenceSum / weightSum
	if fiveStarCount > 0 {
		confidence *= 1 + float64(fiveStarCount)*0.1
	}
	confidence = clamp01(confidence)

	return Suggestion{
		HasSuggestions: true,
		Message: fmt.Sprintf("suggestion built from %d high-quality records (%d five-star)",
			len(contributing), fiveStarCount),
		Steps:      unique,
		Confidence: confidence,
		Records:    contributing,
	}
}

func recordWeight(rating int) float64 {
	switch {
	case rating == 5:
		return 3.0
	case rating == 4:
		return 1.5
	default:
		return 1.0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
