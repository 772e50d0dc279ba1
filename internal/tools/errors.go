package tools

import "errors"

// Tool registry errors.
var (
	// ErrUnknownTool is returned when a plan references an unregistered type.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrParameterValidation is returned when step params fail the schema.
	ErrParameterValidation = errors.New("parameter validation failed")

	// ErrToolNameEmpty is returned when a tool has no name.
	ErrToolNameEmpty = errors.New("tool name cannot be empty")

	// ErrToolExecuteNil is returned when a tool has no execute function.
	ErrToolExecuteNil = errors.New("tool execute function cannot be nil")

	// ErrToolAlreadyRegistered is returned when registering a duplicate.
	ErrToolAlreadyRegistered = errors.New("tool already registered")
)
