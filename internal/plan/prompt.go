package plan

import (
	"fmt"
	"strings"

	"github.com/hyqbyj/taskmem/internal/storage"
	"github.com/hyqbyj/taskmem/internal/strategy"
)

// adoptionThreshold is the suggestion confidence above which the prompt tells
// the planner to follow the remembered steps verbatim instead of merely
// consulting them.
const adoptionThreshold = 0.7

const analysisInstructions = `You are a task planning engine for browser automation. Analyze the task and produce exactly ONE JSON object, no other text, prose, or markdown:

{
  "task_type": "simple or complex",
  "max_steps": number,
  "needs_login": true or false,
  "execution_strategy": "concrete numbered steps, one per line, like: 1. action\n2. action",
  "success_factors": ["key point 1", "key point 2"]
}

The execution_strategy field must contain concrete step-by-step actions, never a vague summary.`

// BuildAnalysisPrompt renders the task analysis prompt, embedding proven past
// executions and the synthesized suggestion so the planner can reuse them.
func BuildAnalysisPrompt(question string, similar []storage.ExecutionRecord, suggestion strategy.Suggestion) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n", question)

	if len(similar) > 0 {
		sb.WriteString("\nProven past executions (prefer these verified approaches):\n")
		for i, rec := range similar {
			fmt.Fprintf(&sb, "\nCase %d (%d stars)\nQuestion: %s\n", i+1, rec.Rating, rec.Question)
			if len(rec.Steps) > 0 {
				sb.WriteString("Verified steps:\n")
				for _, step := range rec.Steps {
					fmt.Fprintf(&sb, "  - %s\n", step)
				}
			}
			if rec.ExecutionTime > 0 {
				fmt.Fprintf(&sb, "Execution time: %.1fs\n", rec.ExecutionTime)
			}
			if rec.TaskType != "" {
				fmt.Fprintf(&sb, "Task type: %s\n", rec.TaskType)
			}
		}
	}

	if suggestion.HasSuggestions {
		fmt.Fprintf(&sb, "\nStrategy suggestion (confidence %.0f%%):\n", suggestion.Confidence*100)
		if suggestion.Confidence > adoptionThreshold {
			sb.WriteString("Confidence is high: adopt these steps as the execution_strategy, adjusting only details that do not fit the current task.\n")
		} else {
			sb.WriteString("Confidence is moderate: treat these steps as reference material, not a script.\n")
		}
		for _, step := range suggestion.Steps {
			fmt.Fprintf(&sb, "  - %s\n", step)
		}
	}

	sb.WriteString("\n")
	sb.WriteString(analysisInstructions)
	return sb.String()
}
