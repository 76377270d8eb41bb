package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/actiongraph/internal/ir"
)

// Snapshot is what golden files record: the step trace and the final
// projections. It refers to Actions by label, so it is independent of ids and
// timestamps.
type Snapshot struct {
	Scenario string
	Trace    []TraceEvent
	Final    map[string]any
}

// toCanonicalMap converts the snapshot to plain values for
// ir.MarshalCanonical.
func (s *Snapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		m := map[string]any{
			"step":    event.Step,
			"kind":    event.Kind,
			"outcome": event.Outcome,
		}
		if event.Label != "" {
			m["as"] = event.Label
		}
		if event.Input != nil {
			m["input"] = event.Input
		}
		if event.Target != "" {
			m["target"] = event.Target
		}
		if event.Error != "" {
			m["error"] = event.Error
		}
		trace[i] = m
	}
	return map[string]any{
		"scenario": s.Scenario,
		"trace":    trace,
		"final":    s.Final,
	}
}

// Canonical renders the snapshot as canonical JSON.
func (s *Snapshot) Canonical() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden executes a scenario, fails the test on any unexpected step
// outcome or assertion, and compares the snapshot with
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, e := range result.Errors {
		t.Errorf("%s: %s", scenario.Name, e)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := Snapshot{Scenario: scenarioName, Trace: result.Trace, Final: result.Final}
	data, err := snapshot.Canonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
