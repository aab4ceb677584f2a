package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mpataki/polyrun/internal/config"
	"github.com/mpataki/polyrun/internal/models"
	"github.com/mpataki/polyrun/internal/orchestrator"
	"github.com/mpataki/polyrun/internal/polyglot"
	"github.com/mpataki/polyrun/internal/spec"
	"github.com/mpataki/polyrun/internal/storage"
	"github.com/mpataki/polyrun/internal/tui"

	_ "github.com/mpataki/polyrun/internal/polyglot/javascript"
	_ "github.com/mpataki/polyrun/internal/polyglot/lua"
	_ "github.com/mpataki/polyrun/internal/polyglot/starlark"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "polyrun",
		Short: "Polyglot script task runner",
		Long:  "polyrun evaluates JavaScript, Lua and Starlark scripts against workflow variables, inline or once per record of a dataset.",
		RunE:  runTUI,
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newEvalCommand())
	rootCmd.AddCommand(newTransformCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newBlobCommand())
	rootCmd.AddCommand(newLanguagesCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env is everything a command needs to reach the data directory
type env struct {
	cfg   *config.Config
	store *storage.Storage
	blobs *storage.BlobStore
}

func openEnv() (*env, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	blobs, err := store.Blobs(cfg.BlobsDir())
	if err != nil {
		store.Close()
		return nil, err
	}

	return &env{cfg: cfg, store: store, blobs: blobs}, nil
}

func (e *env) Close() error {
	return e.store.Close()
}

// orchestrator logs runs to stderr as well as to the run history
func (e *env) orchestrator(console bool) *orchestrator.Orchestrator {
	var handler slog.Handler
	if console {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: e.cfg.LogLevel})
	}
	return orchestrator.New(e.store, e.blobs, e.cfg.WorkspacesDir(), handler, e.cfg.LogLevel)
}

func runTUI(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	tasks, err := spec.LoadAll([]string{".polyrun/tasks", e.cfg.TasksDir()})
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}

	app := tui.NewApp(e.orchestrator(false), tasks)
	p := tea.NewProgram(app, tea.WithAltScreen())

	_, err = p.Run()
	return err
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <task.yaml>",
		Short: "Run a task file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := spec.Parse(args[0])
			if err != nil {
				return err
			}
			return execute(cmd.Context(), def)
		},
	}
}

func newEvalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a script once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := taskFromFlags(cmd, models.TaskKindEval)
			if err != nil {
				return err
			}
			def.Outputs, _ = cmd.Flags().GetStringSlice("output")
			return execute(cmd.Context(), def)
		},
	}

	addScriptFlags(cmd)
	cmd.Flags().StringSliceP("output", "o", nil, "Output names to read back after evaluation")
	return cmd
}

func newTransformCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Run a script once per input record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := taskFromFlags(cmd, models.TaskKindTransform)
			if err != nil {
				return err
			}
			def.From, _ = cmd.Flags().GetString("from")
			def.Concurrent, _ = cmd.Flags().GetInt("concurrent")
			return execute(cmd.Context(), def)
		},
	}

	addScriptFlags(cmd)
	cmd.Flags().String("from", "", "Input records: a polyrun:// URI of JSON lines, or inline JSON")
	cmd.Flags().Int("concurrent", 0, "Number of parallel workers (at least 2 to enable)")
	cmd.MarkFlagRequired("from")
	return cmd
}

func addScriptFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("lang", "l", "javascript", "Script language ("+strings.Join(polyglot.Languages(), ", ")+")")
	cmd.Flags().StringP("script", "s", "", "Script source")
	cmd.Flags().StringP("file", "f", "", "Read the script from a file")
	cmd.Flags().StringArray("var", nil, "Variable as name=value; values are parsed as YAML")
	cmd.Flags().String("id", "", "Task id recorded with the run")
}

func taskFromFlags(cmd *cobra.Command, kind models.TaskKind) (*models.TaskDef, error) {
	lang, _ := cmd.Flags().GetString("lang")
	script, _ := cmd.Flags().GetString("script")
	file, _ := cmd.Flags().GetString("file")
	vars, _ := cmd.Flags().GetStringArray("var")
	id, _ := cmd.Flags().GetString("id")

	if file != "" {
		if script != "" {
			return nil, fmt.Errorf("--script and --file are mutually exclusive")
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read script: %w", err)
		}
		script = string(data)
	}
	if id == "" {
		id = string(kind)
	}

	def := &models.TaskDef{
		ID:       id,
		Type:     kind,
		Language: lang,
		Script:   script,
	}

	node, err := variablesNode(vars)
	if err != nil {
		return nil, err
	}
	def.Variables = node
	return def, nil
}

// variablesNode builds the variables mapping from name=value pairs
func variablesNode(pairs []string) (yaml.Node, error) {
	node := yaml.Node{Kind: yaml.MappingNode}
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return yaml.Node{}, fmt.Errorf("invalid variable %q, expected name=value", pair)
		}

		value := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: raw}
		if raw != "" {
			var doc yaml.Node
			if err := yaml.Unmarshal([]byte(raw), &doc); err == nil && len(doc.Content) > 0 {
				value = doc.Content[0]
			}
		}

		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name},
			value,
		)
	}
	return node, nil
}

// execute runs a task and prints its outcome
func execute(ctx context.Context, def *models.TaskDef) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	orch := e.orchestrator(true)
	run, err := orch.Run(ctx, def)
	if run == nil {
		return err
	}

	fmt.Printf("Run #%d %s\n", run.ID, run.Status)
	if run.Outputs != "" {
		fmt.Println(run.Outputs)
	}
	if run.Result != "" {
		fmt.Printf("Result: %s\n", run.Result)
	}
	if run.OutputURI != "" {
		fmt.Printf("Output: %s\n", run.OutputURI)
	}
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}
	return nil
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show run status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run ID: %w", err)
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			run, err := e.store.GetRun(runID)
			if err != nil {
				return fmt.Errorf("failed to get run: %w", err)
			}

			fmt.Printf("Run #%d: %s\n", run.ID, run.TaskID)
			fmt.Printf("Status: %s\n", run.Status)
			fmt.Printf("Task: %s (%s)\n", run.Kind, run.Language)
			fmt.Printf("Workspace: %s\n", run.WorkspacePath)
			if run.OutputURI != "" {
				fmt.Printf("Output: %s\n", run.OutputURI)
			}
			if run.Outputs != "" {
				fmt.Printf("Outputs: %s\n", run.Outputs)
			}
			if run.Result != "" {
				fmt.Printf("Result: %s\n", run.Result)
			}
			if run.Error != "" {
				fmt.Printf("Error: %s\n", run.Error)
			}

			metrics, err := e.store.MetricsForRun(runID)
			if err != nil {
				return err
			}

			if len(metrics) > 0 {
				fmt.Println("\nMetrics:")
				for _, m := range metrics {
					fmt.Printf("  %s = %g\n", m.Counter.Name, m.Counter.Value)
				}
			}

			return nil
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			runs, err := e.store.ListRuns(20)
			if err != nil {
				return err
			}

			if len(runs) == 0 {
				fmt.Println("No runs found.")
				return nil
			}

			for _, run := range runs {
				fmt.Printf("#%d %s [%s] %s/%s %s\n",
					run.ID, truncate(run.TaskID, 30), run.Status, run.Kind, run.Language,
					storage.FormatTimeAgo(run.CreatedAt))
			}

			return nil
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and its workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run ID: %w", err)
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.orchestrator(false).DeleteRun(runID); err != nil {
				return fmt.Errorf("failed to delete run: %w", err)
			}

			fmt.Printf("Deleted run #%d\n", runID)
			return nil
		},
	}
}

func newBlobCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blob",
		Short: "Store and fetch files in the blob store",
	}

	put := &cobra.Command{
		Use:   "put <file>",
		Short: "Store a file and print its URI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			uri, err := e.blobs.PutFile(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to store %s: %w", args[0], err)
			}
			fmt.Println(uri)
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get <uri>",
		Short: "Write a stored file to stdout or --out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			r, err := e.blobs.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			var w io.Writer = os.Stdout
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			_, err = io.Copy(w, r)
			return err
		},
	}
	get.Flags().StringP("out", "o", "", "Write to this file instead of stdout")

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored files",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			blobs, err := e.blobs.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, b := range blobs {
				fmt.Printf("%s  %8s  %s\n", b.URI, humanize.Bytes(uint64(b.Size)), storage.FormatTimeAgo(b.CreatedAt))
			}
			return nil
		},
	}

	cmd.AddCommand(put, get, list)
	return cmd
}

func newLanguagesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List the available script languages",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, id := range polyglot.Languages() {
				fmt.Println(id)
			}
		},
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
