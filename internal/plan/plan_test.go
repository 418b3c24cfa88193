package plan

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hyqbyj/taskmem/internal/engine"
	"github.com/hyqbyj/taskmem/internal/storage"
	"github.com/hyqbyj/taskmem/internal/strategy"
)

func TestParsePlanResponse(t *testing.T) {
	cases := []struct {
		name     string
		response string
		want     Plan
	}{
		{
			name:     "bare json",
			response: `{"task_type":"complex","max_steps":12,"needs_login":true,"execution_strategy":"1. open site","success_factors":["be patient"]}`,
			want:     Plan{TaskType: "complex", MaxSteps: 12, NeedsLogin: true, ExecutionStrategy: "1. open site", SuccessFactors: []string{"be patient"}},
		},
		{
			name:     "fenced json",
			response: "```json\n{\"task_type\":\"simple\",\"max_steps\":5,\"execution_strategy\":\"1. search\"}\n```",
			want:     Plan{TaskType: "simple", MaxSteps: 5, ExecutionStrategy: "1. search"},
		},
		{
			name:     "surrounding prose",
			response: "Here is the plan:\n{\"task_type\":\"simple\",\"max_steps\":3}\nGood luck!",
			want:     Plan{TaskType: "simple", MaxSteps: 3},
		},
		{
			name:     "missing fields get defaults",
			response: `{"execution_strategy":"1. go"}`,
			want:     Plan{TaskType: "simple", MaxSteps: 8, ExecutionStrategy: "1. go"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParsePlanResponse(tc.response)
			if err != nil {
				t.Fatalf("ParsePlanResponse: %v", err)
			}
			if got.TaskType != tc.want.TaskType || got.MaxSteps != tc.want.MaxSteps ||
				got.NeedsLogin != tc.want.NeedsLogin || got.ExecutionStrategy != tc.want.ExecutionStrategy {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestParsePlanResponseErrors(t *testing.T) {
	for _, response := range []string{"", "no json here", "{broken", "}{"} {
		if _, err := ParsePlanResponse(response); err == nil {
			t.Fatalf("expected error for %q", response)
		} else {
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected ParseError, got %T", err)
			}
		}
	}
}

func TestBuildAnalysisPrompt(t *testing.T) {
	similar := []storage.ExecutionRecord{{
		Question:      "find AI trends",
		Steps:         []string{"open search engine", "search for AI trends"},
		Rating:        5,
		ExecutionTime: 12.5,
		TaskType:      "search",
	}}
	suggestion := strategy.Suggestion{
		HasSuggestions: true,
		Steps:          []string{"open search engine"},
		Confidence:     0.9,
	}

	prompt := BuildAnalysisPrompt("find machine learning news", similar, suggestion)
	for _, want := range []string{
		"find machine learning news",
		"Case 1 (5 stars)",
		"open search engine",
		"confidence 90%",
		"adopt these steps",
		"execution_strategy",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestBuildAnalysisPromptModerateConfidence(t *testing.T) {
	suggestion := strategy.Suggestion{HasSuggestions: true, Steps: []string{"search"}, Confidence: 0.5}
	prompt := BuildAnalysisPrompt("find news", nil, suggestion)
	if !strings.Contains(prompt, "reference material") {
		t.Fatalf("expected soft-reference wording:\n%s", prompt)
	}
	if strings.Contains(prompt, "adopt these steps") {
		t.Fatalf("moderate confidence must not demand adoption:\n%s", prompt)
	}
}

type fakeChatter struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeChatter) Chat(_ context.Context, _ string, messages []engine.Message, _ *engine.Schema) (string, error) {
	for _, m := range messages {
		f.prompts = append(f.prompts, m.Content)
	}
	return f.response, f.err
}

func TestAnalyze(t *testing.T) {
	chatter := &fakeChatter{response: `{"task_type":"complex","max_steps":10,"execution_strategy":"1. open site"}`}
	a := NewAnalyzer(chatter, "qwen3:4b")

	got := a.Analyze(context.Background(), "find AI trends", nil, strategy.Suggestion{})
	if got.TaskType != "complex" || got.MaxSteps != 10 {
		t.Fatalf("unexpected plan %+v", got)
	}
	if len(chatter.prompts) != 1 || !strings.Contains(chatter.prompts[0], "find AI trends") {
		t.Fatalf("prompt not sent: %v", chatter.prompts)
	}
}

func TestAnalyzeFallsBackOnError(t *testing.T) {
	a := NewAnalyzer(&fakeChatter{err: errors.New("connection refused")}, "qwen3:4b")
	got := a.Analyze(context.Background(), "find AI trends", nil, strategy.Suggestion{})
	want := DefaultPlan("find AI trends")
	if got.TaskType != want.TaskType || got.MaxSteps != want.MaxSteps || got.ExecutionStrategy != want.ExecutionStrategy {
		t.Fatalf("expected default plan, got %+v", got)
	}
}

func TestAnalyzeFallsBackOnGarbage(t *testing.T) {
	a := NewAnalyzer(&fakeChatter{response: "I cannot help with that."}, "qwen3:4b")
	got := a.Analyze(context.Background(), "find AI trends", nil, strategy.Suggestion{})
	if got.TaskType != "simple" || got.MaxSteps != 8 {
		t.Fatalf("expected default plan, got %+v", got)
	}
}
