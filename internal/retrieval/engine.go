// Package retrieval scores and ranks knowledge entries against a query.
// Ranking is hybrid: a semantic score from embedding distance, a keyword
// score from signal-token overlap, and additive metadata boosts, combined
// into one final score. A two-tier distance gate trades strictness for
// availability: when too few candidates pass the strict threshold, the
// filter is relaxed once and the extra candidates are flagged low
// confidence rather than silently promoted.
package retrieval

import (
	"context"
	"sort"
	"strings"

	"terrasite/internal/embedding"
	"terrasite/internal/knowledge"
	"terrasite/internal/logging"

	"go.uber.org/zap"
)

// Query is one retrieval request.
type Query struct {
	RawText string

	// Keywords extends the signal tokens extracted from RawText.
	Keywords []string

	// Categories, when set, skips routing and pins the candidate pool.
	Categories []knowledge.Category
}

// ScoredCandidate is one ranked knowledge entry with its score breakdown.
type ScoredCandidate struct {
	Entry         knowledge.Entry
	Distance      float64
	SemanticScore float64
	KeywordScore  float64
	MetadataBoost float64
	FinalScore    float64

	// LowConfidence marks candidates that only passed the relaxed
	// distance threshold. Consumers must disclose or down-weight them.
	LowConfidence bool
}

// Config holds the ranking weights and quality-gate thresholds.
type Config struct {
	TopK                     int
	MinK                     int
	Oversample               int
	MaxDistance              float64
	RelaxedDistanceIncrement float64
	SemanticWeight           float64
	KeywordWeight            float64
	MetadataBoostUnit        float64
	MetadataBoostType        float64
}

// DefaultConfig returns the tuned production thresholds.
func DefaultConfig() Config {
	return Config{
		TopK:                     5,
		MinK:                     2,
		Oversample:               3,
		MaxDistance:              0.35,
		RelaxedDistanceIncrement: 0.5,
		SemanticWeight:           0.6,
		KeywordWeight:            0.4,
		MetadataBoostUnit:        0.15,
		MetadataBoostType:        0.05,
	}
}

// Engine retrieves and ranks knowledge entries.
type Engine struct {
	store    knowledge.Store
	embedder embedding.Engine
	cfg      Config
	vocab    Vocabulary
}

// NewEngine creates a retrieval engine over the given store and embedder.
func NewEngine(store knowledge.Store, embedder embedding.Engine, cfg Config, vocab Vocabulary) *Engine {
	if cfg.TopK <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{store: store, embedder: embedder, cfg: cfg, vocab: vocab}
}

// Retrieve returns at most TopK candidates ordered by descending final
// score. Retrieval is best-effort context: when the store or embedder is
// unavailable the result is empty, never an error.
func (e *Engine) Retrieve(ctx context.Context, q Query, scope []knowledge.Category) []ScoredCandidate {
	log := logging.Get(logging.CategoryRetrieval)

	pool := q.Categories
	if len(pool) == 0 {
		pool = e.route(q.RawText, scope)
	}

	queryVec, err := embedding.EmbedQuery(ctx, e.embedder, q.RawText)
	if err != nil {
		log.Warn("query embedding unavailable, returning no evidence", zap.Error(err))
		return nil
	}

	hits, err := e.store.Query(ctx, queryVec, pool, e.cfg.TopK*e.cfg.Oversample)
	if err != nil {
		log.Warn("knowledge store unavailable, returning no evidence", zap.Error(err))
		return nil
	}
	if len(hits) == 0 {
		return nil
	}

	signals := e.extractSignals(q)
	candidates := make([]ScoredCandidate, len(hits))
	for i, h := range hits {
		candidates[i] = e.score(h, signals)
	}

	// Rank globally across all routed categories.
	sortByFinalScore(candidates)

	gated := e.applyQualityGate(candidates)
	if len(gated) > e.cfg.TopK {
		gated = gated[:e.cfg.TopK]
	}

	log.Debug("retrieval complete",
		zap.String("query", truncate(q.RawText, 80)),
		zap.Int("pool", len(hits)),
		zap.Int("returned", len(gated)))
	return gated
}

// score computes the hybrid score breakdown for one hit.
func (e *Engine) score(h knowledge.Hit, signals querySignals) ScoredCandidate {
	c := ScoredCandidate{
		Entry:    h.Entry,
		Distance: h.Distance,
	}

	// Monotonic transform of cosine distance [0,2] onto [0,1].
	c.SemanticScore = clamp01(1 - h.Distance/2)
	c.KeywordScore = keywordScore(signals.tokens, h.Entry.Text)

	if signals.unit != "" && strings.EqualFold(h.Entry.Unit(), signals.unit) {
		c.MetadataBoost += e.cfg.MetadataBoostUnit
	}
	if signals.typeTag != "" && h.Entry.Type() == signals.typeTag {
		c.MetadataBoost += e.cfg.MetadataBoostType
	}

	c.FinalScore = e.cfg.SemanticWeight*c.SemanticScore +
		e.cfg.KeywordWeight*c.KeywordScore +
		c.MetadataBoost
	return c
}

// applyQualityGate keeps candidates under the strict distance threshold,
// relaxing exactly once when fewer than MinK survive. Candidates admitted
// only by the relaxed threshold are marked low confidence.
func (e *Engine) applyQualityGate(candidates []ScoredCandidate) []ScoredCandidate {
	strict := make([]ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Distance <= e.cfg.MaxDistance {
			strict = append(strict, c)
		}
	}
	if len(strict) >= e.cfg.MinK {
		return strict
	}

	relaxedMax := e.cfg.MaxDistance + e.cfg.RelaxedDistanceIncrement
	relaxed := make([]ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Distance > relaxedMax {
			continue
		}
		if c.Distance > e.cfg.MaxDistance {
			c.LowConfidence = true
		}
		relaxed = append(relaxed, c)
	}

	if len(relaxed) > len(strict) {
		logging.Get(logging.CategoryRetrieval).Info("distance gate relaxed",
			zap.Int("strict", len(strict)),
			zap.Int("relaxed", len(relaxed)),
			zap.Float64("relaxed_max", relaxedMax))
	}
	return relaxed
}

// keywordScore is the fraction of signal tokens present in the candidate
// text, verbatim or as substrings.
func keywordScore(tokens []string, text string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	matched := 0
	for _, tok := range tokens {
		if strings.Contains(lower, strings.ToLower(tok)) {
			matched++
		}
	}
	return clamp01(float64(matched) / float64(len(tokens)))
}

func sortByFinalScore(cs []ScoredCandidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].FinalScore > cs[j].FinalScore
	})
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
