// Package harness runs provisioning scenarios against the simulated chain.
//
// A scenario seeds remote state, runs the provisioner one or more times and
// asserts on what happened. Runs use an in-memory SQLite store for
// deployment records and the run journal, so final_state assertions see the
// same tables the CLI writes.
//
// # Scenario Format
//
//	name: durable_low_balance
//	description: "A configured subscription below one token is topped up"
//	config: networks.cue
//	network: sepolia
//	verifier: true
//	runs: 2
//	chain:
//	  decimals: 18
//	  subscription: { balance: "250000000000000000", configured: true }
//	  deployment: { address: "0x..." }
//	  failures: { addConsumer: "execution reverted" }
//	assertions:
//	  - type: trace_count
//	    method: transferAndCall
//	    count: 1
//	  - type: step_action
//	    run: 2
//	    step: funding
//	    action: skipped
//
// # Assertion Types
//
//   - trace_contains: a chain call with positionally matching args was made
//   - trace_order: chain calls were first made in the given order
//   - trace_count: a chain call was made exactly N times
//   - final_state: a store table row has the expected values
//   - step_action: a run recorded the given action for a step
//   - run_error: a run aborted, optionally at a given step and message
//   - subscription: final balance floor and consumer count
//
// # Deterministic Testing
//
// Run ids come from testutil.SequentialRunIDs and block heights from the
// chain's block clock, so snapshots are byte-identical across runs and can
// be compared with golden files.
package harness
