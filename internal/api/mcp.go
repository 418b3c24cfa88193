package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hyqbyj/taskmem/internal/memory"
	"github.com/hyqbyj/taskmem/internal/plan"
	"github.com/hyqbyj/taskmem/internal/session"
	"github.com/hyqbyj/taskmem/internal/storage"
	"github.com/hyqbyj/taskmem/internal/strategy"
)

// Planner builds an execution plan for a question, informed by memory.
type Planner interface {
	Analyze(ctx context.Context, question string, similar []storage.ExecutionRecord, suggestion strategy.Suggestion) plan.Plan
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Memory    Memory
	Suggester Suggester
	Templates strategy.RecentLister
	Planner   Planner
	Sessions  *session.Registry

	// SimilarLimit is the default result count for find_similar when the
	// caller does not pass one. Zero means the built-in default.
	SimilarLimit int
}

func (d MCPDeps) similarLimit() int {
	if d.SimilarLimit > 0 {
		return d.SimilarLimit
	}
	return defaultSimilarLimit
}

// NewMCPServer creates an MCP server with all taskmem tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"taskmem",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("taskmem — execution memory for browser automation: stores rated task executions and suggests proven strategies for similar tasks."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("store_execution",
			mcp.WithDescription("Store a completed task execution with its user rating. Only executions rated 4 stars or better are kept."),
			mcp.WithString("question", mcp.Description("The task question or goal"), mcp.Required()),
			mcp.WithArray("steps", mcp.Description("Executed steps in order")),
			mcp.WithString("result", mcp.Description("Final result or answer")),
			mcp.WithNumber("rating", mcp.Description("User rating, 1 to 5 stars"), mcp.Required()),
			mcp.WithString("task_type", mcp.Description("Task category, e.g. search or download")),
			mcp.WithBoolean("success", mcp.Description("Whether the execution succeeded")),
			mcp.WithNumber("execution_time", mcp.Description("Execution duration in seconds")),
		),
		mcpStoreExecution(deps),
	)

	s.AddTool(
		mcp.NewTool("find_similar",
			mcp.WithDescription("Find past executions similar to a task question, ranked by keyword overlap and quality."),
			mcp.WithString("question", mcp.Description("Task question to match against"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results")),
		),
		mcpFindSimilar(deps),
	)

	s.AddTool(
		mcp.NewTool("get_suggestions",
			mcp.WithDescription("Synthesize suggested execution steps from similar high-quality past executions."),
			mcp.WithString("question", mcp.Description("Task question to suggest steps for"), mcp.Required()),
		),
		mcpGetSuggestions(deps),
	)

	s.AddTool(
		mcp.NewTool("get_statistics",
			mcp.WithDescription("Return aggregate statistics over stored executions: totals, rating distribution, success rate."),
		),
		mcpGetStatistics(deps),
	)

	s.AddTool(
		mcp.NewTool("analyze_task",
			mcp.WithDescription("Build an execution plan for a task, informed by similar past executions and suggested strategies."),
			mcp.WithString("question", mcp.Description("The task question or goal"), mcp.Required()),
		),
		mcpAnalyzeTask(deps),
	)

	s.AddTool(
		mcp.NewTool("begin_session",
			mcp.WithDescription("Analyze a task and start an execution session for it. Returns the session id and the plan."),
			mcp.WithString("question", mcp.Description("The task question or goal"), mcp.Required()),
		),
		mcpBeginSession(deps),
	)

	s.AddTool(
		mcp.NewTool("record_step",
			mcp.WithDescription("Record one executed step on an in-flight session."),
			mcp.WithString("session_id", mcp.Description("Session id returned by begin_session"), mcp.Required()),
			mcp.WithString("step", mcp.Description("The step that was executed"), mcp.Required()),
		),
		mcpRecordStep(deps),
	)

	s.AddTool(
		mcp.NewTool("finish_session",
			mcp.WithDescription("Finish an execution session with its result and user rating, storing it into memory when the rating qualifies."),
			mcp.WithString("session_id", mcp.Description("Session id returned by begin_session"), mcp.Required()),
			mcp.WithNumber("rating", mcp.Description("User rating, 1 to 5 stars"), mcp.Required()),
			mcp.WithString("result", mcp.Description("Final result or answer")),
		),
		mcpFinishSession(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"memory://statistics",
			"Memory Statistics",
			mcp.WithResourceDescription("Aggregate statistics over stored executions as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStatistics(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"memory://templates",
			"Strategy Templates",
			mcp.WithResourceDescription("Best stored executions grouped by task type"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceTemplates(deps),
	)

	return s
}

func mcpStoreExecution(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		rating, err := req.RequireInt("rating")
		if err != nil {
			return mcpError("rating is required"), nil
		}

		storeReq := memory.StoreRequest{
			Question:      question,
			Steps:         req.GetStringSlice("steps", nil),
			Result:        req.GetString("result", ""),
			Rating:        rating,
			TaskType:      req.GetString("task_type", ""),
			Success:       req.GetBool("success", memory.Admit(rating)),
			ExecutionTime: req.GetFloat("execution_time", 0),
		}

		outcome := deps.Memory.StoreExecution(ctx, storeReq)
		b, err := json.Marshal(outcome)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal outcome: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpFindSimilar(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		limit := req.GetInt("limit", deps.similarLimit())
		if limit <= 0 {
			limit = deps.similarLimit()
		}
		if limit > 50 {
			limit = 50
		}

		records, err := deps.Memory.FindSimilar(ctx, question, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("similar search failed: %v", err)), nil
		}
		if len(records) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(records)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetSuggestions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		suggestion := deps.Suggester.Suggest(ctx, question)
		b, err := json.Marshal(suggestion)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal suggestion: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetStatistics(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Memory.Statistics()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to compute statistics: %v", err)), nil
		}

		b, err := json.Marshal(stats)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal statistics: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

// analyzePlan runs the full planning pipeline: similar lookup, strategy
// suggestion, plan analysis. A failed lookup degrades to planning without
// memory context.
func analyzePlan(ctx context.Context, deps MCPDeps, question string) plan.Plan {
	similar, err := deps.Memory.FindSimilar(ctx, question, strategy.DefaultRecordLimit)
	if err != nil {
		similar = nil
	}
	suggestion := deps.Suggester.Suggest(ctx, question)
	return deps.Planner.Analyze(ctx, question, similar, suggestion)
}

func mcpAnalyzeTask(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		p := analyzePlan(ctx, deps, question)
		b, err := json.Marshal(p)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal plan: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpBeginSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		p := analyzePlan(ctx, deps, question)
		sess := deps.Sessions.Begin(question, p)

		b, err := json.Marshal(map[string]any{
			"session_id": sess.ID,
			"plan":       p,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal session: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecordStep(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		step, err := req.RequireString("step")
		if err != nil {
			return mcpError("step is required"), nil
		}

		if err := deps.Sessions.AddStep(id, step); err != nil {
			return mcpError(fmt.Sprintf("unknown session %s", id)), nil
		}
		return mcpText("recorded"), nil
	}
}

func mcpFinishSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		rating, err := req.RequireInt("rating")
		if err != nil {
			return mcpError("rating is required"), nil
		}
		if rating < 1 || rating > 5 {
			return mcpError("rating must be between 1 and 5"), nil
		}

		storeReq, err := deps.Sessions.Finish(id, req.GetString("result", ""), rating)
		if err != nil {
			return mcpError(fmt.Sprintf("unknown session %s", id)), nil
		}

		outcome := deps.Memory.StoreExecution(ctx, storeReq)
		b, err := json.Marshal(outcome)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal outcome: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceStatistics(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := deps.Memory.Statistics()
		if err != nil {
			return nil, fmt.Errorf("failed to compute statistics: %w", err)
		}

		b, err := json.Marshal(stats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal statistics: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceTemplates(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		templates, err := strategy.Templates(deps.Templates)
		if err != nil {
			return nil, fmt.Errorf("failed to build templates: %w", err)
		}

		b, err := json.Marshal(templates)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal templates: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
