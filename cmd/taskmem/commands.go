package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyqbyj/taskmem/internal/config"
	"github.com/hyqbyj/taskmem/internal/memory"
	"github.com/hyqbyj/taskmem/internal/storage"
	"github.com/hyqbyj/taskmem/internal/strategy"
)

// --- store ---

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Store a completed task execution with its rating",
	Long: `Store a completed task execution with its rating.

Only executions rated 4 stars or better are kept.

Examples:
  taskmem store --question "find AI trends" --rating 5 --steps "open search engine,search for AI trends" --result "found 3 articles"
  taskmem store --question "download report" --rating 4 --task-type download --time 42.5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		question, _ := cmd.Flags().GetString("question")
		stepsStr, _ := cmd.Flags().GetString("steps")
		result, _ := cmd.Flags().GetString("result")
		rating, _ := cmd.Flags().GetInt("rating")
		taskType, _ := cmd.Flags().GetString("task-type")
		execTime, _ := cmd.Flags().GetFloat64("time")
		failed, _ := cmd.Flags().GetBool("failed")

		if question == "" {
			return fmt.Errorf("--question is required")
		}

		var steps []string
		if stepsStr != "" {
			steps = strings.Split(stepsStr, ",")
			for i := range steps {
				steps[i] = strings.TrimSpace(steps[i])
			}
		}

		req := memory.StoreRequest{
			Question:      question,
			Steps:         steps,
			Result:        result,
			Rating:        rating,
			TaskType:      taskType,
			Success:       !failed && memory.Admit(rating),
			ExecutionTime: execTime,
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/executions", req)
		if err != nil {
			return err
		}

		var outcome memory.Outcome
		if err := decodeJSON(resp, &outcome); err != nil {
			return err
		}

		if outcome.Stored {
			printSuccess("Stored execution %s (%s)", outcome.RecordID, memory.RatingLabel(rating))
		} else {
			printWarning("%s", outcome.Message)
		}
		fmt.Println(memory.QualityFeedback(rating))
		return nil
	},
}

func init() {
	storeCmd.Flags().String("question", "", "the task question or goal")
	storeCmd.Flags().String("steps", "", "comma-separated executed steps")
	storeCmd.Flags().String("result", "", "final result or answer")
	storeCmd.Flags().Int("rating", 0, "user rating, 1 to 5 stars")
	storeCmd.Flags().String("task-type", "", "task category, e.g. search or download")
	storeCmd.Flags().Float64("time", 0, "execution duration in seconds")
	storeCmd.Flags().Bool("failed", false, "mark the execution as failed")
}

// --- similar ---

var similarCmd = &cobra.Command{
	Use:   "similar <question>",
	Short: "Find past executions similar to a question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/similar?q=%s&limit=%d", url.QueryEscape(args[0]), limit))
		if err != nil {
			return err
		}

		var records []storage.ExecutionRecord
		if err := decodeJSON(resp, &records); err != nil {
			return err
		}

		if len(records) == 0 {
			printWarning("No similar executions found")
			return nil
		}

		for _, rec := range records {
			fmt.Printf("%s  %s  (%s, score %.1f)\n",
				colorize(colorBold, rec.ID), rec.Question, memory.RatingLabel(rec.Rating), rec.Score)
			for _, step := range rec.Steps {
				fmt.Printf("    - %s\n", step)
			}
		}
		return nil
	},
}

func init() {
	similarCmd.Flags().Int("limit", 5, "maximum number of results")
}

// --- suggest ---

var suggestCmd = &cobra.Command{
	Use:   "suggest <question>",
	Short: "Suggest execution steps from similar past executions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/suggestions?q="+url.QueryEscape(args[0]))
		if err != nil {
			return err
		}

		var suggestion strategy.Suggestion
		if err := decodeJSON(resp, &suggestion); err != nil {
			return err
		}

		fmt.Println(strategy.FormatForDisplay(suggestion))
		return nil
	},
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show statistics over stored executions",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/statistics")
		if err != nil {
			return err
		}

		var stats storage.Statistics
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printStatus("Total records", "%d", stats.TotalRecords)
		printStatus("Success rate", "%.0f%%", stats.SuccessRate*100)
		for rating := 5; rating >= 1; rating-- {
			if count, ok := stats.RatingCounts[rating]; ok {
				printStatus(memory.RatingLabel(rating), "%d", count)
			}
		}
		for taskType, count := range stats.TaskTypeCounts {
			printStatus("Type "+taskType, "%d", count)
		}
		return nil
	},
}

// --- records ---

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Manage stored execution records",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent execution records",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/executions?limit=%d", limit))
		if err != nil {
			return err
		}

		var records []storage.ExecutionRecord
		if err := decodeJSON(resp, &records); err != nil {
			return err
		}

		if len(records) == 0 {
			printWarning("No records stored yet")
			return nil
		}

		for _, rec := range records {
			fmt.Printf("%s  %s  %s  %s\n",
				colorize(colorBold, rec.ID),
				rec.CreatedAt.Format("2006-01-02 15:04"),
				memory.RatingLabel(rec.Rating),
				rec.Question)
		}
		return nil
	},
}

var recordsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an execution record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/executions/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted record %s", args[0])
		return nil
	},
}

func init() {
	recordsListCmd.Flags().Int("limit", 20, "maximum number of records")
	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsDeleteCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
