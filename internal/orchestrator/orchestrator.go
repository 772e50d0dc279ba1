// Package orchestrator drives a siting task through its lifecycle: plan,
// optional review, execute, and bounded replanning on failure.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"terrasite/internal/logging"
	"terrasite/internal/plan"
	"terrasite/internal/work"
)

// State is a task lifecycle state.
type State string

const (
	StatePlanned    State = "PLANNED"
	StateReviewed   State = "REVIEWED"
	StateExecuting  State = "EXECUTING"
	StateReplanning State = "REPLANNING"
	StateSucceeded  State = "SUCCEEDED"
	StateFailed     State = "FAILED"
)

// ErrRetriesExhausted marks a task that failed on every allowed attempt.
var ErrRetriesExhausted = errors.New("retry budget exhausted")

// Attempt is one execute round: the plan that ran and what happened.
type Attempt struct {
	Number  int           `json:"number"`
	Plan    *plan.Plan    `json:"plan"`
	Outcome *work.Outcome `json:"outcome,omitempty"`
}

// Task is the full record of one orchestrated request. A failed task
// keeps its complete attempt history for diagnosis.
type Task struct {
	ID      string `json:"id"`
	Request string `json:"request"`
	State   State  `json:"state"`

	// Attempts holds at most MaxRetries+1 entries.
	Attempts []Attempt `json:"attempts"`

	// Error describes the terminal failure, empty on success.
	Error string `json:"error,omitempty"`
}

// CurrentPlan returns the plan of the latest attempt.
func (t *Task) CurrentPlan() *plan.Plan {
	if len(t.Attempts) == 0 {
		return nil
	}
	return t.Attempts[len(t.Attempts)-1].Plan
}

// ReviewFunc inspects a plan before execution. Returning approved=false
// with feedback sends the plan back for revision; review rounds never
// consume the retry budget.
type ReviewFunc func(ctx context.Context, p *plan.Plan) (approved bool, feedback string, err error)

// Config holds orchestrator configuration.
type Config struct {
	// MaxRetries is the number of replan rounds after the first failed
	// execution. The whole task gets MaxRetries+1 execution attempts.
	MaxRetries int
}

// DefaultConfig returns orchestration defaults.
func DefaultConfig() Config {
	return Config{MaxRetries: 3}
}

// Orchestrator owns the plan/review/execute/replan loop.
type Orchestrator struct {
	planner  *plan.Stage
	executor *work.Executor
	reviewer ReviewFunc
	cfg      Config
}

// New creates an orchestrator. reviewer may be nil to skip the review
// state entirely.
func New(planner *plan.Stage, executor *work.Executor, reviewer ReviewFunc, cfg Config) *Orchestrator {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Orchestrator{planner: planner, executor: executor, reviewer: reviewer, cfg: cfg}
}

// Plan generates a plan without executing it.
func (o *Orchestrator) Plan(ctx context.Context, request string) (*plan.Plan, error) {
	return o.planner.Generate(ctx, request)
}

// Run drives a request to a terminal state. The returned error is non-nil
// only for infrastructure failures (cancellation, plan generation);
// execution failures land in the task as StateFailed with full history.
func (o *Orchestrator) Run(ctx context.Context, request string) (*Task, error) {
	log := logging.Get(logging.CategoryOrchestrator)

	task := &Task{
		ID:      uuid.NewString(),
		Request: request,
	}
	log.Info("task started", zap.String("task_id", task.ID))

	p, err := o.planner.Generate(ctx, request)
	if err != nil {
		task.State = StateFailed
		task.Error = err.Error()
		return task, err
	}
	task.State = StatePlanned

	p, err = o.review(ctx, task, p)
	if err != nil {
		task.State = StateFailed
		task.Error = err.Error()
		return task, err
	}

	for attempt := 1; attempt <= o.cfg.MaxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			task.State = StateFailed
			task.Error = err.Error()
			return task, err
		}

		task.State = StateExecuting
		log.Info("executing plan",
			zap.String("task_id", task.ID),
			zap.Int("attempt", attempt))

		outcome, err := o.executor.Execute(ctx, p)
		if err != nil {
			task.State = StateFailed
			task.Error = err.Error()
			return task, err
		}
		task.Attempts = append(task.Attempts, Attempt{Number: attempt, Plan: p, Outcome: outcome})

		if outcome.Succeeded {
			task.State = StateSucceeded
			log.Info("task succeeded",
				zap.String("task_id", task.ID),
				zap.Int("attempts", attempt),
				zap.String("final_output", string(outcome.FinalOutput)))
			return task, nil
		}

		if attempt > o.cfg.MaxRetries {
			break
		}

		task.State = StateReplanning
		log.Info("replanning after failure",
			zap.String("task_id", task.ID),
			zap.Int("attempt", attempt),
			zap.String("detail", outcome.FailureDetail))

		p, err = o.planner.Revise(ctx, request, p, plan.Revision{
			Reason: plan.ReasonExecutionFailure,
			Detail: outcome.FailureDetail,
		})
		if err != nil {
			task.State = StateFailed
			task.Error = err.Error()
			return task, err
		}
	}

	task.State = StateFailed
	task.Error = fmt.Sprintf("%v after %d attempts", ErrRetriesExhausted, len(task.Attempts))
	log.Warn("task failed",
		zap.String("task_id", task.ID),
		zap.Int("attempts", len(task.Attempts)))
	return task, nil
}

// review runs the approval loop. Each rejection sends the plan back for
// revision with the reviewer's feedback.
func (o *Orchestrator) review(ctx context.Context, task *Task, p *plan.Plan) (*plan.Plan, error) {
	if o.reviewer == nil {
		return p, nil
	}

	log := logging.Get(logging.CategoryOrchestrator)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		approved, feedback, err := o.reviewer(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("review failed: %w", err)
		}
		if approved {
			task.State = StateReviewed
			return p, nil
		}

		log.Info("plan rejected by reviewer",
			zap.String("task_id", task.ID),
			zap.String("feedback", feedback))

		p, err = o.planner.Revise(ctx, task.Request, p, plan.Revision{
			Reason: plan.ReasonUserFeedback,
			Detail: feedback,
		})
		if err != nil {
			return nil, err
		}
	}
}
