package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/hyqbyj/taskmem/internal/memory"
	"github.com/hyqbyj/taskmem/internal/plan"
)

// Session tracks one task execution from plan to rating. It is a plain value
// owned by the orchestrating caller; nothing global points at it, so two
// concurrent executions cannot clobber each other's state.
type Session struct {
	ID        string
	Question  string
	Plan      plan.Plan
	StartedAt time.Time

	steps      []string
	result     string
	finishedAt time.Time
}

// New starts a session for the question under the given plan.
func New(question string, p plan.Plan) *Session {
	return &Session{
		ID:        uuid.New().String(),
		Question:  question,
		Plan:      p,
		StartedAt: time.Now(),
	}
}

// AddStep records one executed step in order.
func (s *Session) AddStep(step string) {
	if step == "" {
		return
	}
	s.steps = append(s.steps, step)
}

// Steps returns a copy of the steps recorded so far.
func (s *Session) Steps() []string {
	out := make([]string, len(s.steps))
	copy(out, s.steps)
	return out
}

// Finish marks the session complete with its final result.
func (s *Session) Finish(result string) {
	s.result = result
	s.finishedAt = time.Now()
}

// Elapsed returns the execution duration in seconds. Before Finish it
// measures against the current time.
func (s *Session) Elapsed() float64 {
	end := s.finishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.StartedAt).Seconds()
}

// Outcome builds the memory store request for this session under the user's
// rating. Success mirrors the admission rule: a four-star-or-better run
// counts as successful.
func (s *Session) Outcome(rating int) memory.StoreRequest {
	return memory.StoreRequest{
		Question:      s.Question,
		Steps:         s.Steps(),
		Result:        s.result,
		Rating:        rating,
		TaskType:      s.Plan.TaskType,
		Success:       memory.Admit(rating),
		ExecutionTime: s.Elapsed(),
	}
}
