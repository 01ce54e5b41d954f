package engine

import "github.com/quayside/workorder/pkg/recipe"

// Status is the terminal status of a run.
type Status string

const (
	// StatusCompleted means the recipe terminated normally with at least
	// one generated statement.
	StatusCompleted Status = "completed"
	// StatusUserError means a RETURN_ERROR step fired: the work order
	// itself is invalid and the operator gets the rendered message.
	StatusUserError Status = "user_error"
	// StatusEngineError means the run itself broke. Any partially
	// accumulated DML is discarded.
	StatusEngineError Status = "engine_error"
)

// ErrorKind classifies engine failures.
type ErrorKind string

const (
	ErrQueryFailed    ErrorKind = "query_failed"
	ErrEval           ErrorKind = "eval_error"
	ErrRender         ErrorKind = "render_error"
	ErrBadJump        ErrorKind = "bad_jump"
	ErrIterationLimit ErrorKind = "iteration_limit"
	ErrNoDML          ErrorKind = "no_dml_produced"
	ErrCancelled      ErrorKind = "cancelled"
)

// TraceEntry is one visited step of the in-memory run trace, in execution
// order.
type TraceEntry struct {
	Step      int         `json:"step"`
	Operation recipe.Kind `json:"operation"`
	Decision  string      `json:"decision"`
}

// RunResult is the outcome of one recipe run.
type RunResult struct {
	Status         Status       `json:"status"`
	DML            []DMLRecord  `json:"dml,omitempty"`
	AffectedTables []string     `json:"affected_tables,omitempty"`
	Risk           Risk         `json:"risk,omitempty"`
	Message        string       `json:"message,omitempty"` // user message or engine detail
	Kind           ErrorKind    `json:"kind,omitempty"`    // set on engine errors
	Step           int          `json:"step,omitempty"`    // failing step on engine errors
	Context        []Binding    `json:"context,omitempty"`
	Trace          []TraceEntry `json:"trace,omitempty"`
}
