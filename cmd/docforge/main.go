package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/mpataki/docforge/internal/analyzer"
	"github.com/mpataki/docforge/internal/config"
	"github.com/mpataki/docforge/internal/correlate"
	"github.com/mpataki/docforge/internal/diagram"
	"github.com/mpataki/docforge/internal/executor"
	"github.com/mpataki/docforge/internal/job"
	"github.com/mpataki/docforge/internal/llm"
	"github.com/mpataki/docforge/internal/logging"
	"github.com/mpataki/docforge/internal/mcpserver"
	"github.com/mpataki/docforge/internal/models"
	"github.com/mpataki/docforge/internal/orchestrator"
	"github.com/mpataki/docforge/internal/storage"
	"github.com/mpataki/docforge/internal/tui"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "docforge",
		Short:         "Generate Word documents from Lua scripts",
		Long:          "Docforge runs generated document scripts in a sandbox, repairs failing scripts and splits the result into reusable snippets.",
		Version:       version,
		RunE:          runTUI,
		SilenceUsage:  true,
	}
	rootCmd.PersistentFlags().String("config", "", "config file (default ~/.docforge/config.yaml)")

	rootCmd.AddCommand(newGenerateCommand())
	rootCmd.AddCommand(newExecCommand())
	rootCmd.AddCommand(newAnalyzeCommand())
	rootCmd.AddCommand(newPreviewCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newMCPCommand())
	rootCmd.AddCommand(newWorkerCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds what every command that touches runs needs.
type app struct {
	cfg   *config.Config
	log   *slog.Logger
	store *storage.Storage
	orch  *orchestrator.Orchestrator
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return newApp(cfg, logging.New(cfg.Logging.Level, cfg.Logging.Format))
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var regen orchestrator.Regenerator
	if cfg.LLM.Endpoint != "" {
		regen = llm.NewClient(llm.Config{
			Endpoint: cfg.LLM.Endpoint,
			Model:    cfg.LLM.Model,
			APIKey:   cfg.LLM.APIKey,
			Timeout:  cfg.LLM.Timeout,
			Logger:   log,
		})
	}

	orch := orchestrator.New(orchestrator.Config{
		Storage:       store,
		RunsDir:       cfg.RunsDir(),
		Executor:      executor.New(executor.Isolation(cfg.Execution.Isolation), log),
		Regenerator:   regen,
		Limits:        limits(cfg),
		Diagrams:      diagramSpec(cfg),
		MaxErrorLoops: cfg.Workflow.MaxErrorLoops,
		DocumentName:  cfg.Workflow.DocumentName,
		Analyzer:      analyzerOptions(cfg, log),
		Logger:        log,
	})
	return &app{cfg: cfg, log: log, store: store, orch: orch}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func limits(cfg *config.Config) executor.Limits {
	return executor.Limits{
		Timeout:          cfg.Execution.Timeout,
		Grace:            cfg.Execution.Grace,
		MaxScriptBytes:   cfg.Execution.MaxScriptBytes,
		MaxOutputBytes:   cfg.Execution.MaxOutputBytes,
		MaxArtifactBytes: cfg.Execution.MaxArtifactBytes,
	}
}

func diagramSpec(cfg *config.Config) diagram.Spec {
	d := cfg.Diagrams
	return diagram.Spec{
		Renderer: d.Renderer,
		MmdcPath: d.MmdcPath,
		Options: diagram.Options{
			Theme:      d.Theme,
			Width:      d.Width,
			Height:     d.Height,
			Background: d.Background,
		},
		Timeout: d.Timeout,
	}
}

func analyzerOptions(cfg *config.Config, log *slog.Logger) analyzer.Options {
	return analyzer.Options{
		ChartLookback:  cfg.Analyzer.ChartLookback,
		ChartLookahead: cfg.Analyzer.ChartLookahead,
		Logger:         log,
	}
}

func loadJobs(cfg *config.Config) (map[string]*models.Job, error) {
	jobs, err := job.LoadAll([]string{cfg.UserJobDir, cfg.ProjectJobDir})
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}
	return jobs, nil
}

func parseRunID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid run ID: %w", err)
	}
	return id, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	logFile, err := os.OpenFile(filepath.Join(cfg.DataDir, "docforge.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	a, err := newApp(cfg, logging.NewWriter(logFile, cfg.Logging.Level, cfg.Logging.Format))
	if err != nil {
		return err
	}
	defer a.Close()

	jobs, err := loadJobs(a.cfg)
	if err != nil {
		return err
	}

	p := tea.NewProgram(tui.NewApp(a.orch, jobs), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func newGenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <job>",
		Short: "Run a job: execute its script and repair it on failure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			jobs, err := loadJobs(a.cfg)
			if err != nil {
				return err
			}
			j, ok := jobs[args[0]]
			if !ok {
				return fmt.Errorf("job %q not found", args[0])
			}
			if cmd.Flags().Changed("max-error-loops") {
				n, _ := cmd.Flags().GetInt("max-error-loops")
				j.MaxErrorLoops = &n
			}
			if err := job.Validate(j); err != nil {
				return err
			}
			return runJob(a, j)
		},
	}
	cmd.Flags().Int("max-error-loops", 0, "override the number of repair attempts")
	return cmd
}

func newExecCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <script.lua>",
		Short: "Execute a script file, or re-execute an edited script for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if !strings.HasSuffix(path, ".lua") {
				return fmt.Errorf("not a Lua script: %s", path)
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			runFlag, _ := cmd.Flags().GetString("run")
			if runFlag != "" {
				runID, err := parseRunID(runFlag)
				if err != nil {
					return err
				}
				return reviseRun(a, runID, path)
			}

			abs, err := filepath.Abs(path)
			if err != nil {
				return err
			}
			j := &models.Job{
				Name:   strings.TrimSuffix(filepath.Base(path), ".lua"),
				Script: abs,
			}
			if name, _ := cmd.Flags().GetString("name"); name != "" {
				j.DocumentName = name
			}
			if noRepair, _ := cmd.Flags().GetBool("no-repair"); noRepair {
				zero := 0
				j.MaxErrorLoops = &zero
			}
			if err := job.Validate(j); err != nil {
				return err
			}
			return runJob(a, j)
		},
	}
	cmd.Flags().String("run", "", "execute into a new revision of this run")
	cmd.Flags().String("name", "", "document file name")
	cmd.Flags().Bool("no-repair", false, "do not regenerate the script on failure")
	return cmd
}

func runJob(a *app, j *models.Job) error {
	ctx, cancel := signalContext()
	defer cancel()

	orch := a.orch.ForJob(j)
	script, err := orch.InitialScript(ctx, j)
	if err != nil {
		return err
	}
	run, err := orch.StartRun(j)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}

	fmt.Printf("Created run #%d\n", run.ID)
	fmt.Printf("Directory: %s\n", run.Dir)

	out, err := orch.Run(ctx, run, script)
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}

	for _, at := range out.Attempts {
		printAttempt(at)
	}
	fmt.Printf("Run completed with status: %s\n", out.Run.Status)
	fmt.Printf("Document: %s\n", out.ArtifactPath)
	fmt.Printf("Snippets: %d diagram(s), %d table(s), %d chart(s)\n",
		len(out.Package.Diagrams), len(out.Package.Tables), len(out.Package.Charts))
	if !out.Success {
		return fmt.Errorf("script failed after %d attempt(s): %s", len(out.Attempts), out.Run.Error)
	}
	return nil
}

func reviseRun(a *app, runID int64, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	rev, err := a.orch.Revise(ctx, runID, string(data))
	if err != nil {
		return err
	}
	if rev.Dir != "" {
		fmt.Printf("Revision: %s\n", rev.Dir)
	}
	if !rev.Result.Success {
		return fmt.Errorf("%s: %s", rev.Result.Kind, rev.Result.Error)
	}
	fmt.Printf("Document: %s\n", rev.Result.ArtifactPath)
	return nil
}

func printAttempt(at *models.Attempt) {
	if at.Outcome.Success {
		fmt.Printf("  %d. %s [ok, %dms]\n", at.Index+1, at.Stage, at.DurationMs)
		return
	}
	fmt.Printf("  %d. %s [%s] %s\n", at.Index+1, at.Stage, at.Outcome.Kind, truncate(at.Outcome.Message, 80))
}

func newAnalyzeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <script.lua>",
		Short: "Split a script into diagram, table and chart snippets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := logging.New(cfg.Logging.Level, cfg.Logging.Format)

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read script: %w", err)
			}
			pkg := analyzer.Analyze(models.Script{Source: string(data), Stage: models.StageFinal}, analyzerOptions(cfg, log))

			if md, _ := cmd.Flags().GetBool("markdown"); md {
				return printMarkdown(pkg)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(pkg)
		},
	}
	cmd.Flags().Bool("markdown", false, "print Markdown instead of JSON")
	return cmd
}

func newPreviewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "preview <run-id>",
		Short: "Show the snippets of a finished run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.orch.GetRun(runID)
			if err != nil {
				return fmt.Errorf("failed to get run: %w", err)
			}
			pkg, err := a.orch.Snippets(run)
			if err != nil {
				return fmt.Errorf("failed to read snippets: %w", err)
			}
			if pkg.Len() == 0 {
				fmt.Println("No snippets.")
				return nil
			}
			return printMarkdown(pkg)
		},
	}
}

func printMarkdown(pkg models.SnippetPackage) error {
	md, err := correlate.Markdown(pkg)
	if err != nil {
		return err
	}
	fmt.Print(md)
	return nil
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.orch.ListRuns(20)
			if err != nil {
				return err
			}

			if len(runs) == 0 {
				fmt.Println("No runs found.")
				return nil
			}

			for _, run := range runs {
				fmt.Printf("#%d %s [%s] %s  %s\n",
					run.ID, run.JobName, run.Status,
					storage.FormatTimeAgo(run.CreatedAt), truncate(run.DocumentName, 40))
			}

			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show run status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.orch.GetRun(runID)
			if err != nil {
				return fmt.Errorf("failed to get run: %w", err)
			}

			fmt.Printf("Run #%d: %s\n", run.ID, run.JobName)
			fmt.Printf("Key: %s\n", run.Key)
			fmt.Printf("Status: %s\n", run.Status)
			fmt.Printf("Directory: %s\n", run.Dir)
			if run.ArtifactPath != "" {
				fmt.Printf("Document: %s\n", run.ArtifactPath)
			}
			fmt.Printf("Regenerations: %d\n", run.ErrorRecovery)
			if run.Error != "" {
				fmt.Printf("Error: %s\n", run.Error)
			}

			attempts, err := a.orch.GetAttemptsForRun(runID)
			if err != nil {
				return err
			}
			if len(attempts) > 0 {
				fmt.Println("\nAttempts:")
				for _, at := range attempts {
					printAttempt(at)
				}
			}

			return nil
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and its directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.orch.GetRun(runID)
			if err != nil {
				return fmt.Errorf("failed to get run: %w", err)
			}
			if !run.Status.Terminal() {
				return fmt.Errorf("run %d is still %s", runID, run.Status)
			}
			if err := a.orch.DeleteRun(runID); err != nil {
				return err
			}

			fmt.Printf("Deleted run #%d\n", runID)
			return nil
		},
	}
}

func newMCPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve analyze and validate tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// stdout carries the protocol.
			log := logging.NewWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

			ctx, cancel := signalContext()
			defer cancel()

			srv := mcpserver.New(mcpserver.Config{
				Version:        version,
				MaxScriptBytes: cfg.Execution.MaxScriptBytes,
				Analyzer:       analyzerOptions(cfg, log),
				Logger:         log,
			})
			err = srv.Run(ctx, &mcp.StdioTransport{})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Execute one script request from stdin",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.NewWriter(os.Stderr, "warn", "text")
			return executor.RunWorker(cmd.Context(), os.Stdin, os.Stdout, executor.New(executor.InProcess, log))
		},
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
