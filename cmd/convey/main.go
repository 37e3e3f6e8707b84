package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conveyci/convey/internal/config"
	"github.com/conveyci/convey/pkg/dispatch"
	"github.com/conveyci/convey/pkg/models"
	"github.com/conveyci/convey/pkg/observability"
	"github.com/conveyci/convey/pkg/runner"
	"github.com/conveyci/convey/pkg/server"
	"github.com/conveyci/convey/pkg/store"
	"github.com/conveyci/convey/pkg/workflow"
)

func main() {
	root := &cobra.Command{
		Use:           "convey",
		Short:         "convey runs CI workflow declarations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(validateCmd(), runCmd(), serveCmd(), runsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow.yaml>",
		Short: "Parse and validate a workflow declaration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := workflow.Load(args[0])
			if err != nil {
				var verr *workflow.ValidationError
				if errors.As(err, &verr) {
					for _, p := range verr.Problems {
						fmt.Fprintln(os.Stderr, " -", p)
					}
				}
				return err
			}
			fmt.Printf("%s: ok (%d job(s))\n", wf.Name, len(wf.Jobs))
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	var (
		eventType string
		branch    string
		jobName   string
		workDir   string
	)

	cmd := &cobra.Command{
		Use:   "run <workflow.yaml>",
		Short: "Run a workflow locally against a synthetic event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := workflow.Load(args[0])
			if err != nil {
				return err
			}

			ev := models.Event{Type: models.EventType(eventType), Branch: branch}
			if !workflow.Matches(wf, ev) {
				return fmt.Errorf("workflow %s does not trigger on %s to %s", wf.Name, eventType, branch)
			}

			log := slog.New(slog.NewTextHandler(os.Stderr, nil))
			metrics := observability.NewMetricsRegistry()

			var failed bool
			for _, name := range jobNames(wf, jobName) {
				job, ok := wf.Jobs[name]
				if !ok {
					return fmt.Errorf("job %q not declared in %s", name, wf.Name)
				}
				run := &models.RunRecord{
					ID:           fmt.Sprintf("local-%d", time.Now().Unix()),
					WorkflowName: wf.Name,
					JobName:      name,
					Event:        ev,
					State:        models.RunQueued,
				}
				fmt.Printf("== %s / %s\n", wf.Name, name)
				r := runner.New(runner.NewExecutor(workDir), &stepPrinter{}, metrics, log)
				err := r.RunJob(cmd.Context(), run, job)
				fmt.Printf("== %s / %s: %s\n", wf.Name, name, run.State)
				if run.Error != "" {
					fmt.Println("run error:", run.Error)
				}
				if err != nil {
					failed = true
				}
			}
			if failed {
				return fmt.Errorf("run failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&eventType, "event", "push", "event type (push or pull_request)")
	cmd.Flags().StringVar(&branch, "branch", "main", "event branch")
	cmd.Flags().StringVar(&jobName, "job", "", "run only this job")
	cmd.Flags().StringVar(&workDir, "workdir", ".", "working directory for steps")
	return cmd
}

func jobNames(wf *models.Workflow, only string) []string {
	if only != "" {
		return []string{only}
	}
	names := make([]string, 0, len(wf.Jobs))
	for name := range wf.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// stepPrinter streams step results to stdout as the runner persists
// them, instead of waiting for the whole job to finish.
type stepPrinter struct {
	printed int
}

func (p *stepPrinter) UpdateRun(run *models.RunRecord) error {
	for ; p.printed < len(run.Steps); p.printed++ {
		printStep(run.Steps[p.printed])
	}
	return nil
}

func (p *stepPrinter) AppendRunLog(string, models.RunLog) error { return nil }

func printStep(step models.StepResult) {
	status := fmt.Sprintf("exit %d", step.ExitCode)
	if step.Suppressed {
		status += " (suppressed)"
	}
	fmt.Printf("-- %s [%s]\n", step.Name, status)
	if step.Output != "" {
		fmt.Print(step.Output)
	}
	if step.Error != "" {
		fmt.Println("   error:", step.Error)
	}
}

func serveCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the workflow daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			log := slog.New(slog.NewTextHandler(os.Stderr, nil))
			slog.SetDefault(log)

			st, err := store.NewSQLiteStore(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(); err != nil {
				return fmt.Errorf("migrate store: %w", err)
			}

			metrics := observability.NewMetricsRegistry()
			exec := runner.NewExecutor(cfg.WorkDir)
			exec.Shell = cfg.Shell
			r := runner.New(exec, st, metrics, log)
			r.StepTimeout = cfg.StepTimeout

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d := dispatch.New(st, r, metrics, log, cfg.QueueSize)
			d.Start(ctx, cfg.Workers)
			defer d.Stop()

			srv := &http.Server{
				Addr:    cfg.ListenAddr,
				Handler: server.New(st, d, metrics, log).Router(),
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			log.Info("daemon listening", "addr", cfg.ListenAddr, "db", cfg.DBPath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "", "path to config file")
	return cmd
}

func runsCmd() *cobra.Command {
	var serverAddr string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect runs on a running daemon",
	}
	cmd.PersistentFlags().StringVar(&serverAddr, "server", "http://localhost:8080", "daemon base URL")

	list := &cobra.Command{
		Use:   "list [workflow]",
		Short: "List recent runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint := serverAddr + "/api/v1/runs"
			if len(args) == 1 {
				endpoint += "?workflow=" + url.QueryEscape(args[0])
			}
			var payload struct {
				Runs []models.RunRecord `json:"runs"`
			}
			if err := getJSON(endpoint, &payload); err != nil {
				return err
			}
			for _, run := range payload.Runs {
				fmt.Printf("%s  %-9s  %s/%s  %s\n",
					run.ID, run.State, run.WorkflowName, run.JobName,
					run.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	logs := &cobra.Command{
		Use:   "logs <run-id>",
		Short: "Show a run's log lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload struct {
				Logs []models.RunLog `json:"logs"`
			}
			endpoint := serverAddr + "/api/v1/runs/" + url.PathEscape(args[0]) + "/logs"
			if err := getJSON(endpoint, &payload); err != nil {
				return err
			}
			for _, l := range payload.Logs {
				fmt.Printf("%s [%s] step=%d %s\n",
					l.Timestamp.Format(time.RFC3339), l.Level, l.Step, l.Message)
			}
			return nil
		},
	}

	cmd.AddCommand(list, logs)
	return cmd
}

func getJSON(endpoint string, out interface{}) error {
	resp, err := http.Get(endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s: %s", endpoint, resp.Status, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
