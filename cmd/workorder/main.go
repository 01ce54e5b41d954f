package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quayside/workorder/pkg/config"
	"github.com/quayside/workorder/pkg/engine"
	"github.com/quayside/workorder/pkg/llm"
	"github.com/quayside/workorder/pkg/matcher"
	"github.com/quayside/workorder/pkg/probe"
	"github.com/quayside/workorder/pkg/processor"
	"github.com/quayside/workorder/pkg/recipe"
)

// Version is set at build time via ldflags.
var version = "dev"

func main() {
	loadDotEnv() // load .env file if present (gitignored)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv reads a .env file from the working directory and sets any
// variables that aren't already set in the environment. Lines are KEY=VALUE
// (or KEY="VALUE"); comments (#) and blanks are skipped. The .env file is
// gitignored so secrets never end up in source control.
func loadDotEnv() {
	f, err := os.Open(".env")
	if err != nil {
		return // no .env file — that's fine
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "workorder",
	Short: "Work-order DML assistant",
	Long:  "workorder — matches free-text work orders to change recipes and generates reviewable DML. It never executes the statements it produces.",
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [recipe.json]",
	Short: "Validate a recipe document against the schema and domain rules",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	filePath := args[0]

	_, errs := recipe.ValidateFile(filePath)
	var fatal, warnings []*recipe.ValidationError
	for _, e := range errs {
		if e.Severity == "warning" {
			warnings = append(warnings, e)
		} else {
			fatal = append(fatal, e)
		}
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "  warning [%s] %s\n", w.Phase, w.Message)
		if w.Path != "" {
			fmt.Fprintf(os.Stderr, "    at: %s\n", w.Path)
		}
	}
	if len(fatal) > 0 {
		fmt.Fprintf(os.Stderr, "Validation failed: %d error(s)\n\n", len(fatal))
		for i, e := range fatal {
			fmt.Fprintf(os.Stderr, "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(os.Stderr, "     at: %s\n", e.Path)
			}
		}
		return fmt.Errorf("%s is not a valid recipe", filePath)
	}
	fmt.Printf("%s: OK\n", filePath)
	return nil
}

// --- catalog ---

var catalogDir string

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Load the recipe catalog and list what it contains",
	Args:  cobra.NoArgs,
	RunE:  runCatalog,
}

func runCatalog(cmd *cobra.Command, args []string) error {
	store, status, err := recipe.NewStore(catalogDir, zap.NewNop())
	if err != nil {
		return err
	}
	for _, rc := range store.ListAll() {
		fmt.Printf("%-32s %s (%d steps)\n", rc.WorkOrderType, rc.Description, len(rc.Steps))
	}
	if len(status.Errors) > 0 {
		fmt.Fprintf(os.Stderr, "\n%d file(s) rejected:\n", len(status.Errors))
		for _, fe := range status.Errors {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", fe.File, fe.Reason)
		}
		return fmt.Errorf("catalog loaded with errors")
	}
	return nil
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Export the recipe JSON Schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := recipe.GenerateJSONSchema()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

// --- run ---

var (
	runConfigPath string
	runParams     []string
	runTimeout    time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run [work-order text]",
	Short: "Process one work order and print the DML artifact as JSON",
	Long:  "Process one work order through intent gating, recipe matching, and the recipe engine. Reads the work-order text from the argument, or from stdin when omitted.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	text, err := workOrderText(args)
	if err != nil {
		return err
	}
	params, err := parseParams(runParams)
	if err != nil {
		return err
	}

	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	store, status, err := recipe.NewStore(cfg.RecipeDir, log)
	if err != nil {
		return err
	}
	if status.Loaded == 0 {
		return fmt.Errorf("no recipes loaded from %s", cfg.RecipeDir)
	}

	client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout.Std(),
	})
	if err != nil {
		return err
	}

	pr, closeProbe, err := buildProbe(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeProbe()

	eng := engine.New(pr, engine.WithProbeTimeout(cfg.Probe.Timeout.Std()))
	proc := processor.New(store, matcher.New(client, log), eng, nil, cfg.TraceDir, log)

	art, err := proc.Run(ctx, processor.Request{Text: text, Params: params})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(art); err != nil {
		return err
	}
	if art.Status != engine.StatusCompleted {
		return fmt.Errorf("run finished with status %s", art.Status)
	}
	return nil
}

func buildProbe(ctx context.Context, cfg *config.Config) (engine.Probe, func(), error) {
	switch cfg.Probe.Kind {
	case config.ProbePostgres:
		p, err := probe.NewPostgresProbe(ctx, cfg.Probe.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { p.Close() }, nil
	default:
		p, err := probe.NewMCPProbe(ctx, probe.MCPConfig{
			BaseURL: cfg.Probe.MCP.BaseURL,
			Token:   cfg.Probe.MCP.Token,
			Tool:    cfg.Probe.MCP.Tool,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, func() { p.Close() }, nil
	}
}

func workOrderText(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read work order from stdin: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("work-order text is empty")
	}
	return text, nil
}

func parseParams(kvs []string) (map[string]any, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", kv)
		}
		params[parts[0]] = parts[1]
	}
	return params, nil
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("workorder", version)
	},
}

func init() {
	catalogCmd.Flags().StringVar(&catalogDir, "dir", "recipes", "Recipe catalog directory")

	runCmd.Flags().StringVar(&runConfigPath, "config", "workorder.yaml", "Path to the service config file")
	runCmd.Flags().StringArrayVar(&runParams, "param", nil, "Seed a context parameter (key=value), repeatable")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Overall run timeout (0 for none)")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}
