package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/create_undo_redo.yaml")
	require.NoError(t, err)

	assert.Equal(t, "create_undo_redo", s.Name)
	require.Len(t, s.Steps, 7)
	assert.Equal(t, "CreateFranchise", s.Steps[0].Run)
	assert.Equal(t, "a1", s.Steps[0].As)
	assert.Equal(t, "mcu", s.Steps[0].Input["id"])
	assert.Equal(t, 2014, s.Steps[1].Input["year"])
	assert.Equal(t, "a2", s.Steps[4].Undo)
	assert.Equal(t, "ALREADY_UNDONE", s.Steps[4].ExpectError)
	require.Len(t, s.Assertions, 5)
	assert.Equal(t, AssertActionCount, s.Assertions[2].Type)
	assert.Equal(t, 6, s.Assertions[2].Count)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/nope.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read scenario")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    "name: x\ndescription: d\nstep: []\n",
			wantErr: "field step not found",
		},
		{
			name:    "missing name",
			yaml:    "description: d\nsteps:\n  - run: A\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: x\nsteps:\n  - run: A\n",
			wantErr: "description is required",
		},
		{
			name:    "no steps",
			yaml:    "name: x\ndescription: d\n",
			wantErr: "steps list is required",
		},
		{
			name:    "empty step",
			yaml:    "name: x\ndescription: d\nsteps:\n  - as: a\n",
			wantErr: "one of run or undo",
		},
		{
			name:    "run and undo",
			yaml:    "name: x\ndescription: d\nsteps:\n  - run: A\n    as: a\n  - run: B\n    undo: a\n",
			wantErr: "mutually exclusive",
		},
		{
			name:    "undo with input",
			yaml:    "name: x\ndescription: d\nsteps:\n  - run: A\n    as: a\n  - undo: a\n    input: {x: 1}\n",
			wantErr: "undo takes no input",
		},
		{
			name:    "undo of later label",
			yaml:    "name: x\ndescription: d\nsteps:\n  - undo: a\n  - run: A\n    as: a\n",
			wantErr: `unknown label "a"`,
		},
		{
			name:    "duplicate label",
			yaml:    "name: x\ndescription: d\nsteps:\n  - run: A\n    as: a\n  - run: B\n    as: a\n",
			wantErr: `duplicate label "a"`,
		},
		{
			name:    "labelled failure",
			yaml:    "name: x\ndescription: d\nsteps:\n  - run: A\n    as: a\n    expect_error: X\n",
			wantErr: "cannot be labelled",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: x\ndescription: d\nsteps:\n  - run: A\nassertions:\n  - type: vibes\n",
			wantErr: `unknown type "vibes"`,
		},
		{
			name:    "unknown query",
			yaml:    "name: x\ndescription: d\nsteps:\n  - run: A\nassertions:\n  - type: query\n    query: actors\n",
			wantErr: `unknown query "actors"`,
		},
		{
			name:    "reverted unknown label",
			yaml:    "name: x\ndescription: d\nsteps:\n  - run: A\n    as: a\nassertions:\n  - type: reverted\n    action: a\n    by: b\n",
			wantErr: `unknown label "b"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
