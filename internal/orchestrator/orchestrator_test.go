package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"terrasite/internal/knowledge"
	"terrasite/internal/plan"
	"terrasite/internal/prompt"
	"terrasite/internal/retrieval"
	"terrasite/internal/tools"
	"terrasite/internal/work"
)

func TestMain(m *testing.M) {
	// opencensus (pulled in transitively by google.golang.org/genai) starts a
	// background worker goroutine in init that cannot be stopped.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

// scriptedClient replays canned completions.
type scriptedClient struct {
	mu        sync.Mutex
	responses []string
}

func (c *scriptedClient) Complete(ctx context.Context, p string) (string, error) {
	return c.CompleteWithSystem(ctx, "", p)
}

func (c *scriptedClient) CompleteWithSystem(context.Context, string, string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.responses) == 0 {
		return "", errors.New("script exhausted")
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

type emptyRetriever struct{}

func (emptyRetriever) Retrieve(context.Context, retrieval.Query, []knowledge.Category) []retrieval.ScoredCandidate {
	return nil
}

// failingTool fails its first n invocations, then succeeds.
type failingTool struct {
	mu        sync.Mutex
	failures  int
	callCount int
}

func (f *failingTool) execute(context.Context, map[string]any, tools.Resource) (tools.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount++
	if f.callCount <= f.failures {
		return "", errors.New("no features survived")
	}
	return "result/final.geojson", nil
}

func (f *failingTool) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

const plannerResponse = "```json\n" +
	`{"goal": "site artillery", "steps": [{"step_id": 1, "description": "clear", "type": "buffer", "params": {"buffer_distance": 600}}]}` +
	"\n```"

// newHarness wires a full orchestrator around a scripted model and one
// tool that fails the given number of times.
func newHarness(client *scriptedClient, toolFailures, maxRetries int, reviewer ReviewFunc) (*Orchestrator, *failingTool) {
	ft := &failingTool{failures: toolFailures}

	reg := tools.NewRegistry()
	reg.MustRegister(&tools.Tool{
		Name:        "buffer",
		Description: "test tool",
		Schema: tools.ParamSchema{
			Required: []string{"buffer_distance"},
			Properties: map[string]tools.Property{
				"buffer_distance": {Type: "number"},
			},
		},
		Execute: ft.execute,
	})

	assembler := prompt.NewContextAssembler(emptyRetriever{}, reg)
	planner := plan.NewStage(client, assembler, prompt.DefaultTemplates(), reg, nil, nil, nil)
	executor := work.NewExecutor(reg, client, prompt.DefaultTemplates(), nil, nil, work.Config{})

	return New(planner, executor, reviewer, Config{MaxRetries: maxRetries}), ft
}

func TestRunSucceedsFirstAttempt(t *testing.T) {
	client := &scriptedClient{responses: []string{plannerResponse}}
	orch, ft := newHarness(client, 0, 3, nil)

	task, err := orch.Run(context.Background(), "site the artillery")
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, task.State)
	assert.NotEmpty(t, task.ID)
	require.Len(t, task.Attempts, 1)
	assert.True(t, task.Attempts[0].Outcome.Succeeded)
	assert.Equal(t, tools.Resource("result/final.geojson"), task.Attempts[0].Outcome.FinalOutput)
	assert.Equal(t, 1, ft.calls())
}

func TestRunReplansUntilSuccess(t *testing.T) {
	// Plan, then two replans after failures, then success on attempt 3.
	client := &scriptedClient{responses: []string{plannerResponse, plannerResponse, plannerResponse}}
	orch, ft := newHarness(client, 2, 3, nil)

	task, err := orch.Run(context.Background(), "site the artillery")
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, task.State)
	require.Len(t, task.Attempts, 3)
	assert.False(t, task.Attempts[0].Outcome.Succeeded)
	assert.False(t, task.Attempts[1].Outcome.Succeeded)
	assert.True(t, task.Attempts[2].Outcome.Succeeded)
	assert.Equal(t, 3, ft.calls())
}

func TestRunExhaustsRetryBudget(t *testing.T) {
	responses := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		responses = append(responses, plannerResponse)
	}
	client := &scriptedClient{responses: responses}
	orch, ft := newHarness(client, 100, 3, nil)

	task, err := orch.Run(context.Background(), "site the artillery")
	require.NoError(t, err)

	assert.Equal(t, StateFailed, task.State)
	assert.Contains(t, task.Error, "retry budget exhausted")

	// MaxRetries+1 attempts, full history preserved.
	require.Len(t, task.Attempts, 4)
	for i, a := range task.Attempts {
		assert.Equal(t, i+1, a.Number)
		assert.False(t, a.Outcome.Succeeded)
		assert.Contains(t, a.Outcome.FailureDetail, "no features survived")
	}
	assert.Equal(t, 4, ft.calls())
}

func TestRunZeroRetries(t *testing.T) {
	client := &scriptedClient{responses: []string{plannerResponse}}
	orch, ft := newHarness(client, 100, 0, nil)

	task, err := orch.Run(context.Background(), "site the artillery")
	require.NoError(t, err)

	assert.Equal(t, StateFailed, task.State)
	assert.Len(t, task.Attempts, 1)
	assert.Equal(t, 1, ft.calls())
}

func TestRunPlanGenerationFails(t *testing.T) {
	client := &scriptedClient{responses: []string{"no json", "still no json"}}
	orch, _ := newHarness(client, 0, 3, nil)

	task, err := orch.Run(context.Background(), "site the artillery")
	require.Error(t, err)
	assert.ErrorIs(t, err, plan.ErrPlanGeneration)
	assert.Equal(t, StateFailed, task.State)
	assert.Empty(t, task.Attempts)
}

func TestReviewFeedbackDoesNotConsumeBudget(t *testing.T) {
	// One initial plan, one revision after feedback, then execution.
	client := &scriptedClient{responses: []string{plannerResponse, plannerResponse}}

	reviews := 0
	reviewer := func(_ context.Context, p *plan.Plan) (bool, string, error) {
		reviews++
		if reviews == 1 {
			return false, "use a wider buffer", nil
		}
		return true, "", nil
	}

	orch, _ := newHarness(client, 0, 3, reviewer)

	task, err := orch.Run(context.Background(), "site the artillery")
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, task.State)
	assert.Equal(t, 2, reviews)
	// The rejected plan never reached execution.
	assert.Len(t, task.Attempts, 1)
}

func TestReviewError(t *testing.T) {
	client := &scriptedClient{responses: []string{plannerResponse}}
	reviewer := func(context.Context, *plan.Plan) (bool, string, error) {
		return false, "", fmt.Errorf("reviewer offline")
	}

	orch, _ := newHarness(client, 0, 3, reviewer)

	task, err := orch.Run(context.Background(), "site the artillery")
	require.Error(t, err)
	assert.Equal(t, StateFailed, task.State)
	assert.Contains(t, task.Error, "reviewer offline")
}

func TestRunCancelledBetweenStates(t *testing.T) {
	client := &scriptedClient{responses: []string{plannerResponse}}
	orch, ft := newHarness(client, 0, 3, nil)

	ctx, cancel := context.WithCancel(context.Background())
	reviewer := func(context.Context, *plan.Plan) (bool, string, error) {
		cancel()
		return true, "", nil
	}
	orch.reviewer = reviewer

	task, err := orch.Run(ctx, "site the artillery")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, task.State)
	assert.Equal(t, 0, ft.calls())
}

func TestCurrentPlan(t *testing.T) {
	task := &Task{}
	assert.Nil(t, task.CurrentPlan())

	p := &plan.Plan{Goal: "g", Steps: []plan.Step{{StepID: 1, Type: "buffer"}}}
	task.Attempts = append(task.Attempts, Attempt{Number: 1, Plan: p})
	assert.Equal(t, p, task.CurrentPlan())
}
