// Command terrasite turns natural-language siting requests into executed
// geospatial filter plans.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"terrasite/internal/config"
	"terrasite/internal/embedding"
	"terrasite/internal/knowledge"
	"terrasite/internal/llm"
	"terrasite/internal/logging"
	"terrasite/internal/orchestrator"
	"terrasite/internal/plan"
	"terrasite/internal/prompt"
	"terrasite/internal/retrieval"
	"terrasite/internal/tools"
	"terrasite/internal/tools/geofilter"
	"terrasite/internal/work"
)

var (
	configPath string
	review     bool
)

func main() {
	root := &cobra.Command{
		Use:   "terrasite",
		Short: "Adaptive plan-and-execute engine for geospatial siting",
		Long: `terrasite turns natural-language siting requests into executable
geospatial filter plans, runs them, and replans on failure using a
hybrid knowledge retrieval engine.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "terrasite.yaml", "config file path")

	runCmd := &cobra.Command{
		Use:   "run <request>",
		Short: "Plan and execute a siting request",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runTask,
	}
	runCmd.Flags().BoolVar(&review, "review", false, "review the plan interactively before execution")

	planCmd := &cobra.Command{
		Use:   "plan <request>",
		Short: "Generate a plan without executing it",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPlan,
	}

	knowledgeCmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Manage the knowledge store",
	}
	knowledgeCmd.AddCommand(
		&cobra.Command{
			Use:   "seed",
			Short: "Load the built-in deployment rules and equipment facts",
			RunE:  runSeed,
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Show entry counts per category",
			RunE:  runStats,
		},
	)

	root.AddCommand(runCmd, planCmd, knowledgeCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles the wired engine components.
type app struct {
	cfg      *config.Config
	store    *knowledge.SQLiteStore
	embedder embedding.Engine
	orch     *orchestrator.Orchestrator
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
	logging.Sync()
}

// buildApp loads config and wires the full stack.
func buildApp(ctx context.Context, reviewer orchestrator.ReviewFunc) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logging.Initialize(cfg.Logging.Level, cfg.Logging.JSONFormat); err != nil {
		return nil, err
	}

	store, err := knowledge.OpenStore(knowledge.StoreConfig{
		DatabasePath:        cfg.Store.DatabasePath,
		MaxExecutionEntries: cfg.Store.MaxExecutionEntries,
	})
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	llmTimeout, err := cfg.LLMTimeout()
	if err != nil {
		store.Close()
		return nil, err
	}
	client := llm.NewChatClient(llm.ChatConfig{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     llmTimeout,
	})

	registry := tools.NewRegistry()
	geofilter.RegisterAll(registry, geofilter.Config{
		BaseLayerPath: cfg.Orchestrator.BaseLayer,
		ResultDir:     cfg.Orchestrator.ResultDir,
	})

	units, err := store.Units(ctx)
	if err != nil {
		logging.Get(logging.CategoryBoot).Warn("unit vocabulary unavailable", zap.Error(err))
	}

	retriever := retrieval.NewEngine(store, embedder, retrieval.Config{
		TopK:                     cfg.Retrieval.TopK,
		MinK:                     cfg.Retrieval.MinK,
		Oversample:               cfg.Retrieval.Oversample,
		MaxDistance:              cfg.Retrieval.MaxDistance,
		RelaxedDistanceIncrement: cfg.Retrieval.RelaxedDistanceIncrement,
		SemanticWeight:           cfg.Retrieval.SemanticWeight,
		KeywordWeight:            cfg.Retrieval.KeywordWeight,
		MetadataBoostUnit:        cfg.Retrieval.MetadataBoostUnit,
		MetadataBoostType:        cfg.Retrieval.MetadataBoostType,
	}, retrieval.Vocabulary{Units: units, Tools: registry.Names()})

	templates, err := prompt.LoadTemplates(cfg.Prompt.TemplatesPath)
	if err != nil {
		store.Close()
		return nil, err
	}
	assembler := prompt.NewContextAssembler(retriever, registry)

	planner := plan.NewStage(client, assembler, templates, registry, store, embedder, units)

	stepTimeout, err := cfg.StepTimeout()
	if err != nil {
		store.Close()
		return nil, err
	}
	executor := work.NewExecutor(registry, client, templates, store, embedder, work.Config{
		StepTimeout: stepTimeout,
		InferParams: true,
	})

	orch := orchestrator.New(planner, executor, reviewer, orchestrator.Config{
		MaxRetries: cfg.Orchestrator.MaxRetries,
	})

	return &app{cfg: cfg, store: store, embedder: embedder, orch: orch}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runTask(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	var reviewer orchestrator.ReviewFunc
	if review {
		reviewer = consoleReviewer
	}

	a, err := buildApp(ctx, reviewer)
	if err != nil {
		return err
	}
	defer a.close()

	request := strings.Join(args, " ")
	task, err := a.orch.Run(ctx, request)
	if err != nil {
		return err
	}

	printTask(task)
	if task.State != orchestrator.StateSucceeded {
		return fmt.Errorf("task %s failed: %s", task.ID, task.Error)
	}
	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := buildApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.close()

	p, err := a.orch.Plan(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Println(p.Serialize())
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := buildApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.close()

	n, err := knowledge.Seed(ctx, a.store, a.embedder)
	if err != nil {
		return err
	}
	fmt.Printf("seeded %d entries\n", n)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := buildApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.close()

	for _, cat := range knowledge.AllCategories {
		n, err := a.store.Count(ctx, cat)
		if err != nil {
			return err
		}
		fmt.Printf("%-12s %d\n", cat, n)
	}
	return nil
}

// consoleReviewer shows the plan and reads approval or feedback from
// stdin. Any answer other than y/yes becomes revision feedback.
func consoleReviewer(ctx context.Context, p *plan.Plan) (bool, string, error) {
	fmt.Println("Proposed plan:")
	fmt.Println(p.Serialize())
	fmt.Print("Approve? [y/feedback]: ")

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, "", err
	}
	line = strings.TrimSpace(line)

	switch strings.ToLower(line) {
	case "y", "yes", "":
		return true, "", nil
	}
	return false, line, nil
}

func printTask(task *orchestrator.Task) {
	fmt.Printf("task %s: %s\n", task.ID, task.State)
	for _, a := range task.Attempts {
		status := "failed"
		if a.Outcome != nil && a.Outcome.Succeeded {
			status = "succeeded"
		}
		fmt.Printf("  attempt %d: %s\n", a.Number, status)
		if a.Outcome != nil {
			for _, s := range flattenSteps(a.Outcome) {
				line := fmt.Sprintf("    step %d %s: %s", s.StepID, s.Type, s.Status)
				if s.Error != "" {
					line += " (" + s.Error + ")"
				}
				fmt.Println(line)
			}
			if a.Outcome.FinalOutput != "" {
				fmt.Printf("    result: %s\n", a.Outcome.FinalOutput)
			}
		}
	}
	if task.State == orchestrator.StateSucceeded {
		if out := finalOutputJSON(task); out != "" {
			fmt.Println(out)
		}
	}
}

func flattenSteps(o *work.Outcome) []work.StepResult {
	if len(o.SubOutcomes) == 0 {
		return o.Steps
	}
	var steps []work.StepResult
	for _, sub := range o.SubOutcomes {
		steps = append(steps, sub.Steps...)
	}
	return steps
}

func finalOutputJSON(task *orchestrator.Task) string {
	last := task.Attempts[len(task.Attempts)-1].Outcome
	if last == nil {
		return ""
	}
	summary := map[string]any{"final_output": last.FinalOutput}
	if len(last.SubOutcomes) > 0 {
		outputs := make([]string, 0, len(last.SubOutcomes))
		for _, sub := range last.SubOutcomes {
			outputs = append(outputs, string(sub.FinalOutput))
		}
		summary["sub_outputs"] = outputs
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return ""
	}
	return string(data)
}
