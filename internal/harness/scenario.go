package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a sequence of Actions and undos followed by assertions on the
// resulting graph.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Actor runs every step that does not name its own. Defaults to the
	// system actor.
	Actor string `yaml:"actor,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step runs one Action. Exactly one of Run and Undo is set.
type Step struct {
	// Run is the Action kind to execute.
	Run string `yaml:"run,omitempty"`

	// Undo is the label of an earlier step whose Action is reverted.
	Undo string `yaml:"undo,omitempty"`

	// As labels the committed Action for later steps and assertions.
	As string `yaml:"as,omitempty"`

	// Actor overrides the scenario actor (slug or id).
	Actor string `yaml:"actor,omitempty"`

	Input map[string]any `yaml:"input,omitempty"`

	// ExpectError is the error code the step must abort with. Empty means
	// the step must commit.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Assertion checks the graph after the last step.
type Assertion struct {
	// Type is one of AssertQuery, AssertActionCount, AssertReverted.
	Type string `yaml:"type"`

	// Query names the projection (query).
	Query string `yaml:"query,omitempty"`

	// Expect is the expected projection (query).
	Expect any `yaml:"expect,omitempty"`

	// Count is the expected number of Actions (action_count).
	Count int `yaml:"count,omitempty"`

	// Action and By are step labels (reverted).
	Action string `yaml:"action,omitempty"`
	By     string `yaml:"by,omitempty"`
}

// Assertion types.
const (
	AssertQuery       = "query"
	AssertActionCount = "action_count"
	AssertReverted    = "reverted"
)

// Projections accepted by query assertions.
const (
	QueryFranchises = "franchises"
	QueryMovies     = "movies"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	labels := make(map[string]bool)
	for i, step := range s.Steps {
		n := i + 1
		switch {
		case step.Run == "" && step.Undo == "":
			return fmt.Errorf("step %d: one of run or undo is required", n)
		case step.Run != "" && step.Undo != "":
			return fmt.Errorf("step %d: run and undo are mutually exclusive", n)
		case step.Undo != "" && step.Input != nil:
			return fmt.Errorf("step %d: undo takes no input", n)
		case step.Undo != "" && !labels[step.Undo]:
			return fmt.Errorf("step %d: undo of unknown label %q", n, step.Undo)
		}
		if step.As == "" {
			continue
		}
		if labels[step.As] {
			return fmt.Errorf("step %d: duplicate label %q", n, step.As)
		}
		if step.ExpectError != "" {
			return fmt.Errorf("step %d: a failing step cannot be labelled", n)
		}
		labels[step.As] = true
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a, labels); err != nil {
			return fmt.Errorf("assertion %d: %w", i+1, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion, labels map[string]bool) error {
	switch a.Type {
	case AssertQuery:
		if a.Query != QueryFranchises && a.Query != QueryMovies {
			return fmt.Errorf("unknown query %q", a.Query)
		}
	case AssertActionCount:
		if a.Count < 0 {
			return fmt.Errorf("count must not be negative")
		}
	case AssertReverted:
		if !labels[a.Action] {
			return fmt.Errorf("unknown label %q", a.Action)
		}
		if !labels[a.By] {
			return fmt.Errorf("unknown label %q", a.By)
		}
	default:
		return fmt.Errorf("unknown type %q", a.Type)
	}
	return nil
}
