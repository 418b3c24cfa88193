package plan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError reports a model response that could not be turned into a Plan.
// Callers fall back to DefaultPlan rather than failing the task.
type ParseError struct {
	Response string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing plan response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParsePlanResponse extracts a Plan from free-form model output. It tolerates
// markdown code fences and surrounding prose: the candidate JSON is whatever
// sits between the first '{' and the last '}'.
func ParsePlanResponse(text string) (Plan, error) {
	candidate := stripCodeFences(strings.TrimSpace(text))

	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start < 0 || end <= start {
		return Plan{}, &ParseError{Response: text, Err: fmt.Errorf("no JSON object found")}
	}
	candidate = candidate[start : end+1]

	var p Plan
	if err := json.Unmarshal([]byte(candidate), &p); err != nil {
		return Plan{}, &ParseError{Response: text, Err: err}
	}
	if p.TaskType == "" {
		p.TaskType = "simple"
	}
	if p.MaxSteps <= 0 {
		p.MaxSteps = 8
	}
	return p, nil
}

func stripCodeFences(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}
	// Keep only the fenced body when the response wraps the JSON in a
	// ```json ... ``` block.
	first := strings.Index(text, "```")
	rest := text[first+3:]
	if nl := strings.Index(rest, "\n"); nl >= 0 {
		// Drop the language tag line.
		if lang := strings.TrimSpace(rest[:nl]); lang == "" || lang == "json" {
			rest = rest[nl+1:]
		}
	}
	if closing := strings.Index(rest, "```"); closing >= 0 {
		rest = rest[:closing]
	}
	return rest
}
