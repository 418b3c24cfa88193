package keywords

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hyqbyj/taskmem/internal/engine"
)

// DefaultTimeout bounds the LLM call; the extractor is the only
// unbounded-latency dependency on the storage path.
const DefaultTimeout = 3 * time.Second

// Chatter is the slice of the engine interface the extractor needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Extractor produces the keyword set shared by storage-time indexing and
// query-time matching. Implementations never fail: on any extraction problem
// they fall back to deterministic tokenization.
type Extractor interface {
	Extract(ctx context.Context, question string, steps []string) []string
}

// LLMExtractor asks a fast local model for the most important keywords.
type LLMExtractor struct {
	client  Chatter
	model   string
	timeout time.Duration
}

// NewLLMExtractor creates an extractor using the given engine and model name.
// A non-positive timeout falls back to DefaultTimeout.
func NewLLMExtractor(client Chatter, model string, timeout time.Duration) *LLMExtractor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &LLMExtractor{client: client, model: model, timeout: timeout}
}

const extractionPrompt = `Extract the 5-10 most important keywords from the task below for similarity matching against past tasks. Keywords must be single lowercase words or short CJK terms taken from the text. Respond with ONLY a JSON object conforming to the schema.`

// Extract returns keywords for the question plus steps. On timeout, chat
// failure, or malformed output it logs and falls back to Tokenize — keyword
// extraction must never block or fail a store or query.
func (e *LLMExtractor) Extract(ctx context.Context, question string, steps []string) []string {
	if question == "" && len(steps) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.client.Chat(ctx, e.model, buildPrompt(question, steps), extractionSchema())
	if err != nil {
		slog.Debug("keyword extraction chat failed, using tokenizer", "error", err)
		return Tokenize(question, steps)
	}

	var result struct {
		Keywords []string `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		slog.Debug("keyword extraction returned malformed JSON, using tokenizer", "error", err, "response", raw)
		return Tokenize(question, steps)
	}

	kws := normalize(result.Keywords)
	if len(kws) == 0 {
		return Tokenize(question, steps)
	}
	return kws
}

func buildPrompt(question string, steps []string) []engine.Message {
	content := "Task: " + question
	for _, step := range steps {
		content += "\nStep: " + step
	}
	return []engine.Message{
		{Role: "system", Content: extractionPrompt},
		{Role: "user", Content: content},
	}
}

func extractionSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"keywords": {
				Type:        "array",
				Description: "5-10 lowercase keywords for similarity matching",
				Items:       &engine.SchemaProperty{Type: "string"},
			},
		},
		Required: []string{"keywords"},
	}
}

// Static is an Extractor that only tokenizes. Used when no inference engine
// is configured.
type Static struct{}

func (Static) Extract(_ context.Context, question string, steps []string) []string {
	return Tokenize(question, steps)
}
