// Package harness provides conformance testing for gooi app specs.
//
// The harness compiles an app spec, scripts the domain layer with semantic
// fixtures, drives invocations through the real kernel, and checks the
// result envelopes as executable contract tests.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	spec: ../specs/chat              # CUE package dir or file
//	fixtures: ../fixtures/chat.yaml  # semantic fixtures
//	principal: { subject: alice }    # default principal
//	replay_ttl: 60                   # optional, seconds
//	steps:
//	  - name: post
//	    invoke: mutation:submit_message
//	    surface: http
//	    request:
//	      path: { channel: general }
//	      body: { text: hello }
//	    idempotency_key: k1
//	    expect:
//	      ok: true
//	      output: { author: alice }
//	      signals: [message.created]
//	      affected_queries: [list_messages]
//	  - invoke: query:list_messages
//	    input: { channel: general }
//	    anonymous: true
//	    advance: 90s
//	    expect:
//	      code: access_denied_error
//	      stage: policy_gate.evaluate
//	assertions:
//	  - type: execution_count
//	    entrypoint: mutation:submit_message
//	    count: 1
//
// A step without an expect clause must succeed.
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - invocation_count: Verifies an entrypoint was invoked exactly N times
//   - invocation_order: Verifies entrypoints first appear in the given order
//   - execution_count: Verifies the domain layer ran an entrypoint N times
//     (replays and pipeline failures do not execute)
//   - signal_emitted: Verifies a signal was emitted N times by fresh runs
//   - envelope_log: Verifies the envelope log row count
//
// # Deterministic Testing
//
// Every scenario runs with:
//   - Deterministic clock (testutil.DeterministicClock), moved by "advance"
//   - Sequential trace and invocation ids (testutil.SequenceIdentity)
//   - In-memory SQLite replay store and envelope log (isolated per run)
//   - A local binding plan backed by binding.MemoryProvider
//
// This ensures identical envelopes across runs for golden file comparison.
//
// # Usage
//
// Run one scenario:
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/chat_refresh.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//
// Run a directory of scenarios:
//
//	paths, err := harness.DiscoverScenarios([]string{"testdata/scenarios"})
//	suite := harness.RunSuite(ctx, paths)
//
// Compare against a golden trace in tests:
//
//	result, err := harness.RunWithGolden(t, scenario)
package harness
