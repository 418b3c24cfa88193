package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hyqbyj/taskmem/internal/api"
	"github.com/hyqbyj/taskmem/internal/config"
	"github.com/hyqbyj/taskmem/internal/engine"
	"github.com/hyqbyj/taskmem/internal/keywords"
	"github.com/hyqbyj/taskmem/internal/memory"
	"github.com/hyqbyj/taskmem/internal/plan"
	"github.com/hyqbyj/taskmem/internal/session"
	"github.com/hyqbyj/taskmem/internal/storage"
	"github.com/hyqbyj/taskmem/internal/strategy"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the taskmem server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running taskmem server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show taskmem system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "taskmem.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "taskmem version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	apiToken, err := config.GetAPIToken(cfg.Memory.DataDir)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Refuse to start twice: probe the health endpoint before claiming the
	// PID file.
	pidPath := pidFilePath(cfg.Memory.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("taskmem is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("taskmem is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Keyword extraction works without a model; the engine only improves it.
	ollama := engine.NewOllama(cfg.Ollama.BaseURL)
	var extractor keywords.Extractor = keywords.Static{}
	if err := engine.EnsureReady(ctx, ollama, cfg.Ollama.FastModel, os.Stderr); err != nil {
		slog.Warn("inference engine unavailable, using tokenizer-only keyword extraction", "error", err)
	} else {
		extractor = keywords.NewLLMExtractor(ollama, cfg.Ollama.FastModel, cfg.ExtractionTimeout())
	}

	store, err := storage.Open(cfg.Memory.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	manager := memory.NewManager(store, extractor)
	synthesizer := strategy.NewSynthesizer(manager,
		strategy.WithRecordLimit(cfg.Memory.SuggestionRecords),
		strategy.WithMaxSteps(cfg.Memory.MaxSuggestedSteps),
		strategy.WithScoreScale(cfg.Memory.ScoreScale),
	)

	appHandler := api.NewAppHandler(api.AppDeps{
		Memory:       manager,
		Suggester:    synthesizer,
		Templates:    manager,
		Token:        apiToken,
		SimilarLimit: cfg.Memory.SimilarLimit,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Memory:       manager,
		Suggester:    synthesizer,
		Templates:    manager,
		Planner:      plan.NewAnalyzer(ollama, cfg.Ollama.FastModel),
		Sessions:     session.NewRegistry(),
		SimilarLimit: cfg.Memory.SimilarLimit,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "taskmem listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("MCP server started (stdio transport)")
		if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Memory.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("taskmem is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop taskmem (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to taskmem (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Fast model", "%s", cfg.Ollama.FastModel)

	// Show record counts if server is running.
	apiToken, tokenErr := config.GetAPIToken(cfg.Memory.DataDir)
	if tokenErr == nil && resp != nil && resp.StatusCode == 200 {
		statsResp, err := apiGet(client, serverURL+"/statistics", apiToken)
		if err == nil {
			var stats storage.Statistics
			if decodeJSON(statsResp, &stats) == nil {
				printStatus("Records", "%d", stats.TotalRecords)
				printStatus("Success rate", "%.0f%%", stats.SuccessRate*100)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Memory.DataDir)
	return nil
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
