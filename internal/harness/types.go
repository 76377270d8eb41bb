package harness

// Step outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeAborted   = "aborted"
)

// TraceEvent records one executed step.
type TraceEvent struct {
	// Step is the 1-based step index.
	Step int `json:"step"`

	// Kind is the Action kind that ran.
	Kind string `json:"kind"`

	// Label is the step's "as" label, if any.
	Label string `json:"as,omitempty"`

	// Input is the step input; nil for undos.
	Input map[string]any `json:"input,omitempty"`

	// Target is the label of the Action an undo step reverted.
	Target string `json:"target,omitempty"`

	// Outcome is OutcomeCommitted or OutcomeAborted.
	Outcome string `json:"outcome"`

	// Error is the error code of an aborted step.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario.
type Result struct {
	// Pass is true when every step behaved as expected and every assertion
	// held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors describes each failed expectation.
	Errors []string `json:"errors,omitempty"`

	// Actions maps step labels to Action ids.
	Actions map[string]string `json:"-"`

	// Final holds the franchises and movies projections after the last step.
	Final map[string]any `json:"final"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		Actions: make(map[string]string),
		Final:   make(map[string]any),
	}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
