package plan

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyqbyj/taskmem/internal/engine"
	"github.com/hyqbyj/taskmem/internal/storage"
	"github.com/hyqbyj/taskmem/internal/strategy"
)

// DefaultTimeout bounds a single plan analysis call.
const DefaultTimeout = 30 * time.Second

// Chatter is the chat completion slice of the engine the analyzer needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Analyzer plans task execution with a local model, informed by memory.
type Analyzer struct {
	client  Chatter
	model   string
	timeout time.Duration
}

// NewAnalyzer creates an Analyzer using the given engine client and model.
func NewAnalyzer(client Chatter, model string) *Analyzer {
	return &Analyzer{client: client, model: model, timeout: DefaultTimeout}
}

// Analyze builds an execution plan for the question, feeding the model the
// similar records and strategy suggestion. Any failure (engine down, timeout,
// unparseable response) degrades to DefaultPlan — planning never blocks a
// task.
func (a *Analyzer) Analyze(ctx context.Context, question string, similar []storage.ExecutionRecord, suggestion strategy.Suggestion) Plan {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	prompt := BuildAnalysisPrompt(question, similar, suggestion)
	messages := []engine.Message{{Role: "user", Content: prompt}}

	raw, err := a.client.Chat(ctx, a.model, messages, planSchema())
	if err != nil {
		slog.Warn("plan analysis chat failed", "error", err)
		return DefaultPlan(question)
	}

	p, err := ParsePlanResponse(raw)
	if err != nil {
		slog.Warn("plan response unparseable", "error", err)
		return DefaultPlan(question)
	}
	return p
}

// planSchema returns the JSON schema for structured plan output.
func planSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"task_type":          {Type: "string", Description: "simple or complex"},
			"max_steps":          {Type: "integer", Description: "Estimated number of browser steps"},
			"needs_login":        {Type: "boolean", Description: "Whether the task requires signing in"},
			"execution_strategy": {Type: "string", Description: "Concrete numbered steps, one per line"},
			"success_factors":    {Type: "array", Description: "Key points for success", Items: &engine.SchemaProperty{Type: "string"}},
		},
		Required: []string{"task_type", "max_steps", "needs_login", "execution_strategy", "success_factors"},
	}
}
