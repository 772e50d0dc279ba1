package prompt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"terrasite/internal/knowledge"
	"terrasite/internal/retrieval"
	"terrasite/internal/tools"
)

// Retriever is the evidence capability the assembler consumes.
type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query, scope []knowledge.Category) []retrieval.ScoredCandidate
}

// ContextAssembler builds the evidence and tool blocks the plan stages
// splice into their prompts. Output is deterministic for a given store
// state: sections follow scope order and candidates keep their ranking.
type ContextAssembler struct {
	retriever Retriever
	registry  *tools.Registry
}

// NewContextAssembler creates an assembler over the given retriever and
// tool registry.
func NewContextAssembler(retriever Retriever, registry *tools.Registry) *ContextAssembler {
	return &ContextAssembler{retriever: retriever, registry: registry}
}

// EvidenceBlock retrieves ranked evidence for each category in scope and
// renders it as one annotated text block. Categories are queried
// concurrently. An empty block reads "(no relevant knowledge found)" so
// prompts never carry a dangling header.
func (a *ContextAssembler) EvidenceBlock(ctx context.Context, text string, keywords []string, scope []knowledge.Category) string {
	if len(scope) == 0 {
		scope = []knowledge.Category{knowledge.CategoryKnowledge, knowledge.CategoryEquipment}
	}

	results := make([][]retrieval.ScoredCandidate, len(scope))
	g, gctx := errgroup.WithContext(ctx)
	for i, cat := range scope {
		g.Go(func() error {
			q := retrieval.Query{
				RawText:    text,
				Keywords:   keywords,
				Categories: []knowledge.Category{cat},
			}
			results[i] = a.retriever.Retrieve(gctx, q, scope)
			return nil
		})
	}
	// Workers never return errors; retrieval is best-effort.
	_ = g.Wait()

	var b strings.Builder
	for i, cat := range scope {
		if len(results[i]) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s\n", sectionTitle(cat))
		for _, c := range results[i] {
			flag := ""
			if c.LowConfidence {
				flag = " [low confidence]"
			}
			fmt.Fprintf(&b, "- %s%s\n", c.Entry.Text, flag)
		}
		b.WriteString("\n")
	}

	if b.Len() == 0 {
		return "(no relevant knowledge found)"
	}
	return strings.TrimRight(b.String(), "\n")
}

// ToolsBlock renders every registered tool's contract: name, description,
// input parameter and JSON schema. Tools appear in sorted name order.
func (a *ContextAssembler) ToolsBlock() string {
	var b strings.Builder
	for _, name := range a.registry.Names() {
		tool, err := a.registry.Resolve(name)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "### %s\n%s\n", tool.Name, tool.Description)
		if tool.InputParam != "" {
			fmt.Fprintf(&b, "Input layer parameter: %s\n", tool.InputParam)
		}
		schema, err := json.Marshal(tool.Schema)
		if err == nil {
			fmt.Fprintf(&b, "Schema: %s\n", schema)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func sectionTitle(cat knowledge.Category) string {
	switch cat {
	case knowledge.CategoryKnowledge:
		return "Deployment rules"
	case knowledge.CategoryEquipment:
		return "Equipment facts"
	case knowledge.CategoryExecutions:
		return "Past executions"
	case knowledge.CategoryTasks:
		return "Past tasks"
	default:
		return string(cat)
	}
}
