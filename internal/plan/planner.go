package plan

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"terrasite/internal/embedding"
	"terrasite/internal/knowledge"
	"terrasite/internal/llm"
	"terrasite/internal/logging"
	"terrasite/internal/prompt"
	"terrasite/internal/tools"
)

// Memory is the write side of the knowledge store used by the stages to
// record tasks and revisions.
type Memory interface {
	Add(ctx context.Context, e knowledge.Entry) (string, error)
}

// Stage holds the collaborators shared by planning and revision.
type Stage struct {
	client    llm.Client
	assembler *prompt.ContextAssembler
	templates prompt.Templates
	registry  *tools.Registry
	memory    Memory
	embedder  embedding.Engine

	// units is the known unit vocabulary, used to spot multi-task requests.
	units []string
}

// NewStage creates the planning stage. memory and embedder may be nil, in
// which case task recording is skipped.
func NewStage(client llm.Client, assembler *prompt.ContextAssembler, templates prompt.Templates,
	registry *tools.Registry, memory Memory, embedder embedding.Engine, units []string) *Stage {
	return &Stage{
		client:    client,
		assembler: assembler,
		templates: templates,
		registry:  registry,
		memory:    memory,
		embedder:  embedder,
		units:     units,
	}
}

// Generate produces a validated plan for a siting request. Multi-task
// requests yield a plan of sub-plans. The model gets one repair attempt
// when its first plan fails validation.
func (s *Stage) Generate(ctx context.Context, request string) (*Plan, error) {
	log := logging.Get(logging.CategoryPlan)

	evidence := s.assembler.EvidenceBlock(ctx, request, nil,
		[]knowledge.Category{knowledge.CategoryKnowledge, knowledge.CategoryEquipment})
	toolsBlock := s.assembler.ToolsBlock()

	var userPrompt string
	if s.isMultiTask(request) {
		log.Info("request classified as multi-task")
		userPrompt = fmt.Sprintf(s.templates.MultiPlanUser, request, toolsBlock, evidence)
	} else {
		userPrompt = fmt.Sprintf(s.templates.PlanUser, request, toolsBlock, evidence)
	}

	p, err := s.generateValidated(ctx, s.templates.PlanSystem, userPrompt)
	if err != nil {
		return nil, err
	}

	s.recordTask(ctx, request, p)

	log.Info("plan generated",
		zap.String("goal", p.Goal),
		zap.Int("steps", len(p.Steps)),
		zap.Int("sub_plans", len(p.SubPlans)))
	return p, nil
}

// generateValidated runs one completion, parses and validates the plan,
// and re-prompts exactly once with the validation error on failure.
func (s *Stage) generateValidated(ctx context.Context, system, user string) (*Plan, error) {
	raw, err := s.client.CompleteWithSystem(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanGeneration, err)
	}

	p, verr := s.parseAndCheck(raw)
	if verr == nil {
		return p, nil
	}

	logging.Get(logging.CategoryPlan).Warn("plan rejected, re-prompting once", zap.Error(verr))

	repair := fmt.Sprintf("%s\n\nYour previous response was rejected: %v\nProduce a corrected plan.", user, verr)
	raw, err = s.client.CompleteWithSystem(ctx, system, repair)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanGeneration, err)
	}
	p, verr = s.parseAndCheck(raw)
	if verr != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanGeneration, verr)
	}
	return p, nil
}

// parseAndCheck parses a raw response and validates both structure and
// tool types against the registry. Step params are validated later, at
// execution time, where missing ones can still be inferred.
func (s *Stage) parseAndCheck(raw string) (*Plan, error) {
	p, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	check := func(steps []Step) error {
		for _, st := range steps {
			if !s.registry.Has(st.Type) {
				return fmt.Errorf("%w: step %d references unknown tool %q", ErrPlanInvalid, st.StepID, st.Type)
			}
		}
		return nil
	}

	if p.IsMulti() {
		for i := range p.SubPlans {
			if err := check(p.SubPlans[i].Steps); err != nil {
				return nil, err
			}
		}
		return p, nil
	}
	return p, check(p.Steps)
}

// recordTask stores the request/plan pair in task memory, best effort.
func (s *Stage) recordTask(ctx context.Context, request string, p *Plan) {
	if s.memory == nil || s.embedder == nil {
		return
	}

	text := fmt.Sprintf("Task: %s\nPlan: %s", request, p.Serialize())
	vec, err := embedding.EmbedPassage(ctx, s.embedder, text)
	if err != nil {
		logging.Get(logging.CategoryPlan).Warn("task not recorded", zap.Error(err))
		return
	}
	_, err = s.memory.Add(ctx, knowledge.Entry{
		Category:  knowledge.CategoryTasks,
		Text:      text,
		Metadata:  map[string]string{"type": "task"},
		Embedding: vec,
	})
	if err != nil {
		logging.Get(logging.CategoryPlan).Warn("task not recorded", zap.Error(err))
	}
}

// isMultiTask reports whether a request names at least two distinct units
// together with a conjunction cue.
func (s *Stage) isMultiTask(request string) bool {
	lower := strings.ToLower(request)

	mentioned := 0
	for _, u := range s.units {
		if strings.Contains(lower, strings.ToLower(u)) {
			mentioned++
		}
	}
	if mentioned < 2 {
		return false
	}

	for _, cue := range []string{" and ", ";", "以及", "和", "同时", "分别"} {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}
