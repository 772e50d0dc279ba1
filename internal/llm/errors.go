package llm

import "errors"

// Completion client errors.
var (
	// ErrTimeout is returned when an LLM call exceeds its deadline.
	ErrTimeout = errors.New("llm call timed out")

	// ErrUpstream is returned for any other provider-side failure.
	ErrUpstream = errors.New("llm upstream error")
)
