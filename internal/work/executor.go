// Package work executes validated plans step by step against the tool
// registry. A filter chain stops at its first failure; sub-plans of a
// multi-task plan run independently and concurrently.
package work

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"go.uber.org/zap"

	"terrasite/internal/embedding"
	"terrasite/internal/knowledge"
	"terrasite/internal/llm"
	"terrasite/internal/logging"
	"terrasite/internal/plan"
	"terrasite/internal/prompt"
	"terrasite/internal/tools"
)

// StepStatus is the terminal state of one step.
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

// StepResult records one executed step.
type StepResult struct {
	StepID int            `json:"step_id"`
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
	Status StepStatus     `json:"status"`
	Output tools.Resource `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Outcome is the result of executing one plan. A multi-task plan's
// Outcome aggregates one sub-outcome per sub-plan and succeeds only when
// all of them do.
type Outcome struct {
	Goal        string         `json:"goal"`
	Succeeded   bool           `json:"succeeded"`
	Steps       []StepResult   `json:"steps,omitempty"`
	SubOutcomes []Outcome      `json:"sub_outcomes,omitempty"`
	FinalOutput tools.Resource `json:"final_output,omitempty"`

	// FailureDetail names the failing step's tool, params and error. It
	// feeds the revision stage verbatim.
	FailureDetail string `json:"failure_detail,omitempty"`
}

// Config holds executor configuration.
type Config struct {
	// StepTimeout bounds each tool invocation.
	StepTimeout time.Duration

	// InferParams enables LLM repair of step parameters that fail schema
	// validation.
	InferParams bool
}

// DefaultConfig returns executor defaults.
func DefaultConfig() Config {
	return Config{StepTimeout: 120 * time.Second, InferParams: true}
}

// Executor runs plans.
type Executor struct {
	registry  *tools.Registry
	client    llm.Client
	templates prompt.Templates
	memory    plan.Memory
	embedder  embedding.Engine
	cfg       Config
}

// NewExecutor creates an executor. client may be nil to disable parameter
// inference; memory and embedder may be nil to disable execution memory.
func NewExecutor(registry *tools.Registry, client llm.Client, templates prompt.Templates,
	memory plan.Memory, embedder embedding.Engine, cfg Config) *Executor {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 120 * time.Second
	}
	return &Executor{
		registry:  registry,
		client:    client,
		templates: templates,
		memory:    memory,
		embedder:  embedder,
		cfg:       cfg,
	}
}

// Execute runs the plan to completion or first failure and returns the
// outcome. The returned error is reserved for context cancellation;
// domain failures land in the outcome.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan) (*Outcome, error) {
	if p.IsMulti() {
		return e.executeMulti(ctx, p)
	}
	return e.executeChain(ctx, p)
}

// executeMulti runs each sub-plan concurrently. Sub-plans are
// independent, so one failing never cancels its siblings.
func (e *Executor) executeMulti(ctx context.Context, p *plan.Plan) (*Outcome, error) {
	out := &Outcome{Goal: p.Goal, SubOutcomes: make([]Outcome, len(p.SubPlans))}

	var g errgroup.Group
	for i := range p.SubPlans {
		g.Go(func() error {
			sub, err := e.executeChain(ctx, &p.SubPlans[i])
			if err != nil {
				return err
			}
			out.SubOutcomes[i] = *sub
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out.Succeeded = true
	for _, sub := range out.SubOutcomes {
		if !sub.Succeeded {
			out.Succeeded = false
			if out.FailureDetail == "" {
				out.FailureDetail = sub.FailureDetail
			}
		}
	}
	return out, nil
}

// executeChain runs a step chain in order, feeding each step the previous
// step's output layer, and stops at the first failure.
func (e *Executor) executeChain(ctx context.Context, p *plan.Plan) (*Outcome, error) {
	log := logging.Get(logging.CategoryWork)
	out := &Outcome{Goal: p.Goal}

	var prev tools.Resource
	for i := range p.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		step := p.Steps[i]

		result := e.runStep(ctx, step, prev)
		out.Steps = append(out.Steps, result)
		e.recordExecution(ctx, result)

		if result.Status == StepFailed {
			out.FailureDetail = failureDetail(result)
			log.Warn("chain halted",
				zap.Int("step", step.StepID),
				zap.String("tool", step.Type),
				zap.String("error", result.Error))
			return out, nil
		}
		prev = result.Output
	}

	out.Succeeded = true
	out.FinalOutput = prev
	log.Info("chain complete", zap.String("goal", p.Goal), zap.Int("steps", len(out.Steps)))
	return out, nil
}

// runStep resolves, validates and invokes one tool.
func (e *Executor) runStep(ctx context.Context, step plan.Step, input tools.Resource) StepResult {
	result := StepResult{StepID: step.StepID, Type: step.Type, Params: step.Params}

	tool, err := e.registry.Resolve(step.Type)
	if err != nil {
		result.Status = StepFailed
		result.Error = err.Error()
		return result
	}

	params := prepareParams(step.Params, tool, input)
	if err := tool.Schema.Validate(params); err != nil {
		params, err = e.repairParams(ctx, step, tool, params, err)
		if err != nil {
			result.Status = StepFailed
			result.Error = err.Error()
			return result
		}
	}
	result.Params = params

	stepCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()

	output, err := tool.Execute(stepCtx, params, input)
	if err != nil {
		result.Status = StepFailed
		result.Error = err.Error()
		return result
	}

	result.Status = StepSucceeded
	result.Output = output
	return result
}

// prepareParams copies the step params and auto-fills the tool's input
// parameter from the previous step's output when the plan left it unset.
func prepareParams(params map[string]any, tool *tools.Tool, input tools.Resource) map[string]any {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	if tool.InputParam != "" && input != "" {
		if _, set := out[tool.InputParam]; !set {
			out[tool.InputParam] = string(input)
		}
	}
	return out
}

// repairParams asks the model for corrected parameters, once, and
// validates the answer. Without a client the original validation error
// stands.
func (e *Executor) repairParams(ctx context.Context, step plan.Step, tool *tools.Tool,
	params map[string]any, verr error) (map[string]any, error) {
	if !e.cfg.InferParams || e.client == nil {
		return nil, verr
	}

	log := logging.Get(logging.CategoryWork)
	log.Info("inferring step parameters",
		zap.Int("step", step.StepID),
		zap.String("tool", step.Type),
		zap.Error(verr))

	givenJSON, _ := json.Marshal(params)
	schemaJSON, _ := json.Marshal(tool.Schema)
	p := fmt.Sprintf(e.templates.ParamInference, tool.Name, step.Description, givenJSON, schemaJSON)

	raw, err := e.client.Complete(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("%w: inference failed: %v", tools.ErrParameterValidation, err)
	}
	inferred, err := plan.ExtractObject(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: inference produced no parameters: %v", tools.ErrParameterValidation, err)
	}
	if err := tool.Schema.Validate(inferred); err != nil {
		return nil, err
	}
	return inferred, nil
}

// recordExecution appends the step result to the rolling execution
// history, best effort.
func (e *Executor) recordExecution(ctx context.Context, r StepResult) {
	if e.memory == nil || e.embedder == nil {
		return
	}

	paramsJSON, _ := json.Marshal(r.Params)
	text := fmt.Sprintf("Tool %s executed with params %s: %s", r.Type, paramsJSON, r.Status)
	if r.Status == StepFailed {
		text += ", error: " + r.Error
	} else if r.Output != "" {
		text += ", output: " + string(r.Output)
	}

	vec, err := embedding.EmbedPassage(ctx, e.embedder, text)
	if err != nil {
		logging.Get(logging.CategoryWork).Debug("execution not recorded", zap.Error(err))
		return
	}
	_, err = e.memory.Add(ctx, knowledge.Entry{
		Category:  knowledge.CategoryExecutions,
		Text:      text,
		Metadata:  map[string]string{"tool": r.Type, "status": string(r.Status)},
		Embedding: vec,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Get(logging.CategoryWork).Debug("execution not recorded", zap.Error(err))
	}
}

// failureDetail renders a failed step for the revision prompt.
func failureDetail(r StepResult) string {
	paramsJSON, _ := json.Marshal(r.Params)
	return fmt.Sprintf("Step %d (%s) with params %s failed: %s", r.StepID, r.Type, paramsJSON, r.Error)
}
