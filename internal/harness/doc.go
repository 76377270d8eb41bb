// Package harness runs catalog scenarios against a fresh graph and checks the
// outcome of every step.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: create_undo_redo
//	description: "Undo two creates, then redo them"
//	steps:
//	  - run: CreateFranchise
//	    as: a1
//	    input: { id: mcu, name: Marvel Cinematic Universe }
//	  - undo: a1
//	    as: u1
//	  - undo: a1
//	    expect_error: ALREADY_UNDONE
//	assertions:
//	  - type: query
//	    query: franchises
//	    expect: []
//	  - type: action_count
//	    count: 2
//	  - type: reverted
//	    action: a1
//	    by: u1
//
// A step either runs an Action kind with an input or undoes the Action an
// earlier step labelled with "as". Steps without expect_error must commit;
// steps with it must abort with that error code.
//
// # Assertion Types
//
//   - query: a catalog projection (franchises or movies) equals expect
//   - action_count: the number of recorded Actions
//   - reverted: a labelled Action was undone by another labelled Action
//
// # Determinism
//
// Every scenario runs on an in-memory store with sequential ids and the
// deterministic clock, so the trace and the final projections are stable
// enough for golden comparison. Snapshots refer to Actions by label, never by
// id.
package harness
