// Package logging provides categorized structured logging for terrasite.
// Every subsystem gets a named zap logger derived from one shared root, so
// log output can be filtered per category (retrieval, plan, work, ...).
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryBoot         Category = "boot"
	CategoryConfig       Category = "config"
	CategoryStore        Category = "store"
	CategoryEmbedding    Category = "embedding"
	CategoryRetrieval    Category = "retrieval"
	CategoryPrompt       Category = "prompt"
	CategoryLLM          Category = "llm"
	CategoryPlan         Category = "plan"
	CategoryReplan       Category = "replan"
	CategoryWork         Category = "work"
	CategoryTools        Category = "tools"
	CategoryOrchestrator Category = "orchestrator"
)

var (
	mu      sync.RWMutex
	root    *zap.Logger
	loggers = make(map[Category]*zap.Logger)
)

func init() {
	root = zap.NewNop()
}

// Initialize installs the process-wide root logger. level is one of
// debug/info/warn/error; json selects the production JSON encoder instead
// of the console encoder. Safe to call more than once; later calls replace
// the root and drop cached category loggers.
func Initialize(level string, json bool) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if json {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	root = logger
	loggers = make(map[Category]*zap.Logger)
	return nil
}

// Get returns the named logger for a category.
func Get(cat Category) *zap.Logger {
	mu.RLock()
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}
	l := root.Named(string(cat))
	loggers[cat] = l
	return l
}

// Sync flushes buffered log entries. Call on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
