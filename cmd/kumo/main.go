// Command kumo is the CLI surface of the orchestration core: tiered request
// routing, graph runs per scope, router tuning, and the metrics dashboard.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/kumo"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// appFlags are the options shared by every subcommand that builds an App.
type appFlags struct {
	dbPath       string
	routerConfig string
	modelCall    string
}

func (f *appFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.dbPath, "db", "", "SQLite database path (default KUMO_DB_PATH)")
	cmd.Flags().StringVar(&f.routerConfig, "router-config", "", "router config YAML path")
	cmd.Flags().StringVar(&f.modelCall, "model-call", "stub", "model call mode: stub|local|local:<model>|cloud|cloud:<model>")
}

func (f *appFlags) newApp() (*kumo.App, error) {
	opts := []kumo.Option{
		kumo.WithVersion(version),
		kumo.WithModelCallMode(f.modelCall),
	}
	if f.dbPath != "" {
		opts = append(opts, kumo.WithDBPath(f.dbPath))
	}
	if f.routerConfig != "" {
		opts = append(opts, kumo.WithRouterConfig(f.routerConfig))
	}
	return kumo.New(opts...)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kumo",
		Short:         "Cognitive routing and graph orchestration core",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunRouterCmd())
	for _, scope := range []struct{ name, scopeType, graph string }{
		{"run-cert", "cert", "graphs/certification.yaml"},
		{"run-dossier", "topic", "graphs/dossier.yaml"},
		{"run-story", "story", "graphs/story.yaml"},
		{"run-lab", "lab", "graphs/lab.yaml"},
	} {
		root.AddCommand(newRunScopeCmd(scope.name, scope.scopeType, scope.graph))
	}
	root.AddCommand(newTuneRouterCmd())
	root.AddCommand(newDashboardCmd())
	return root
}

func newRunRouterCmd() *cobra.Command {
	flags := &appFlags{}
	cmd := &cobra.Command{
		Use:   "run-router <request>",
		Short: "Dispatch a request through the tier 0..3 chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := flags.newApp()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(context.Background()) }()

			result, err := app.Dispatch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	flags.register(cmd)
	return cmd
}

func newRunScopeCmd(name, scopeType, defaultGraph string) *cobra.Command {
	flags := &appFlags{}
	var id, sources, graphPath, resumeID string
	var maxTokens int
	var maxCost float64

	cmd := &cobra.Command{
		Use:   name + " --id <id>",
		Short: fmt.Sprintf("Execute the %s graph for a scope", scopeType),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := flags.newApp()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(context.Background()) }()

			extra := map[string]any{}
			if sources != "" {
				extra["seed_sources"] = sources
			}
			outcome, err := app.ExecuteGraph(cmd.Context(), kumo.RunRequest{
				GraphPath:   graphPath,
				ScopeType:   scopeType,
				ScopeID:     id,
				Extra:       extra,
				MaxTokens:   maxTokens,
				MaxCostUSD:  maxCost,
				ResumeRunID: resumeID,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s finished: %s (tokens=%d cost=$%.4f)\n",
				outcome.RunID, outcome.Status, outcome.TokensIn+outcome.TokensOut, outcome.CostUSD)
			if outcome.NeedsReview {
				fmt.Fprintln(cmd.OutOrStdout(), "run flagged for human review")
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&id, "id", "", "scope identifier")
	cmd.Flags().StringVar(&sources, "sources", "", "seed source list or path")
	cmd.Flags().StringVar(&graphPath, "graph", defaultGraph, "graph definition YAML path")
	cmd.Flags().StringVar(&resumeID, "resume", "", "resume a checkpointed run by id")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "run token budget (0 = unlimited)")
	cmd.Flags().Float64Var(&maxCost, "max-cost", 0, "run cost budget in USD (0 = unlimited)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newTuneRouterCmd() *cobra.Command {
	flags := &appFlags{}
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tune-router --db <path>",
		Short: "Analyze routing decisions and suggest threshold adjustments",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := flags.newApp()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(context.Background()) }()

			text, raw, err := app.TuneReport(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				fmt.Fprintln(cmd.OutOrStdout(), string(raw))
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), text)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the report as JSON")
	return cmd
}

func newDashboardCmd() *cobra.Command {
	flags := &appFlags{}
	var port int
	cmd := &cobra.Command{
		Use:   "dashboard --port <p>",
		Short: "Serve the metrics dashboard (/metrics /runs /routing /health)",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []kumo.Option{kumo.WithVersion(version)}
			if flags.dbPath != "" {
				opts = append(opts, kumo.WithDBPath(flags.dbPath))
			}
			if port != 0 {
				opts = append(opts, kumo.WithPort(port))
			}
			app, err := kumo.New(opts...)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(context.Background()) }()
			return app.ServeDashboard(cmd.Context())
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&port, "port", 0, "dashboard port (default KUMO_PORT)")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
