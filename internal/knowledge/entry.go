// Package knowledge holds the knowledge entries that ground every planning
// decision, and the SQLite-backed store they live in.
package knowledge

// Category names a knowledge collection. Retrieval routing restricts the
// candidate pool to one or more categories.
type Category string

const (
	// CategoryKnowledge holds deployment rules per unit type.
	CategoryKnowledge Category = "knowledge"

	// CategoryEquipment holds equipment capability facts (ranges).
	CategoryEquipment Category = "equipment"

	// CategoryTasks holds past task/plan pairs.
	CategoryTasks Category = "tasks"

	// CategoryExecutions holds the rolling tool execution history.
	CategoryExecutions Category = "executions"
)

// AllCategories is the full enabled retrieval scope.
var AllCategories = []Category{CategoryKnowledge, CategoryEquipment, CategoryTasks, CategoryExecutions}

// Entry is an immutable knowledge record. Entries are written by ingestion
// (or seeding) and read-only to the planning core.
type Entry struct {
	ID        string            `json:"id"`
	Category  Category          `json:"category"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float32         `json:"-"`
}

// Unit returns the unit name this entry is about, if any.
func (e *Entry) Unit() string {
	return e.Metadata["unit"]
}

// Type returns the entry's metadata type tag, if any.
func (e *Entry) Type() string {
	return e.Metadata["type"]
}
