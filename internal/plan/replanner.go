package plan

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"terrasite/internal/knowledge"
	"terrasite/internal/logging"
)

// RevisionReason says why a plan is being revised.
type RevisionReason string

const (
	// ReasonUserFeedback means a reviewer rejected the plan.
	ReasonUserFeedback RevisionReason = "user_feedback"

	// ReasonExecutionFailure means a step failed during execution.
	ReasonExecutionFailure RevisionReason = "execution_failure"
)

// Revision describes what went wrong with the previous plan.
type Revision struct {
	Reason RevisionReason

	// Detail carries the reviewer feedback or, for execution failures, the
	// failing step's type, params and error rendered as text.
	Detail string
}

// Revise produces a corrected complete plan from the previous one and the
// failure detail. Equipment evidence is retrieved against the serialized
// previous plan, so capability facts about the tools and units it already
// committed to come back even when the request text never names them.
func (s *Stage) Revise(ctx context.Context, request string, prev *Plan, rev Revision) (*Plan, error) {
	log := logging.Get(logging.CategoryReplan)

	prevJSON := prev.Serialize()

	ruleEvidence := s.assembler.EvidenceBlock(ctx, request, nil,
		[]knowledge.Category{knowledge.CategoryKnowledge, knowledge.CategoryExecutions})
	equipEvidence := s.assembler.EvidenceBlock(ctx, prevJSON, nil,
		[]knowledge.Category{knowledge.CategoryEquipment})

	evidence := ruleEvidence
	if equipEvidence != "(no relevant knowledge found)" {
		evidence += "\n\n" + equipEvidence
	}

	detail := fmt.Sprintf("Reason: %s\n%s", rev.Reason, rev.Detail)
	userPrompt := fmt.Sprintf(s.templates.ReplanUser,
		request, prevJSON, detail, s.assembler.ToolsBlock(), evidence)

	p, err := s.generateValidated(ctx, s.templates.ReplanSystem, userPrompt)
	if err != nil {
		return nil, err
	}

	log.Info("plan revised",
		zap.String("reason", string(rev.Reason)),
		zap.Int("steps", len(p.Steps)),
		zap.Int("sub_plans", len(p.SubPlans)))
	return p, nil
}
