// Package provision implements the idempotent Raffle provisioning pipeline.
//
// A run executes six steps strictly in order, each consuming the previous
// step's resolved output:
//
//	classify -> subscription -> funding -> deployment -> consumer -> verification
//
// The network's Environment is classified once and selects a Strategy.
// The ephemeral strategy assumes fresh state and acts unconditionally against
// mock contracts. The durable strategy reconciles existing remote state: it
// reuses configured subscriptions, tops up only below the funding threshold,
// reuses recorded deployments and registers the consumer only when absent.
//
// Failures in subscription creation, funding or deployment abort the run with
// a *StepError wrapping the remote error. A missing deployment record is an
// expected branch, not an error. Verification failures are logged and
// swallowed.
//
// All remote collaborators are reached through the interfaces in
// contracts.go; internal/chain provides the on-chain implementations and
// internal/simchain an in-memory one.
package provision
