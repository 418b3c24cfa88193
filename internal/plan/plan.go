package plan

// Plan is the structured execution plan for a browsing task.
type Plan struct {
	TaskType          string   `json:"task_type"`
	MaxSteps          int      `json:"max_steps"`
	NeedsLogin        bool     `json:"needs_login"`
	ExecutionStrategy string   `json:"execution_strategy"`
	SuccessFactors    []string `json:"success_factors"`
}

// DefaultPlan is the conservative plan used when analysis is unavailable or
// unparseable.
func DefaultPlan(question string) Plan {
	return Plan{
		TaskType:          "simple",
		MaxSteps:          8,
		ExecutionStrategy: "execute the task with the default step-by-step strategy: " + question,
	}
}
