package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neftyr/raffle-deploy/internal/provision"
)

func loadTestdataScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return scenario
}

func stepActions(res *provision.Result) []string {
	out := make([]string, len(res.Steps))
	for i, s := range res.Steps {
		out[i] = string(s.Step) + "=" + string(s.Action)
	}
	return out
}

func TestRun_TestdataScenariosPass(t *testing.T) {
	paths, err := DiscoverScenarios("testdata/scenarios")
	require.NoError(t, err)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(context.Background(), scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
		})
	}
}

func TestRun_EphemeralFreshChain(t *testing.T) {
	result, err := Run(context.Background(), loadTestdataScenario(t, "ephemeral_fresh_chain"))
	require.NoError(t, err)
	require.Len(t, result.Runs, 1)

	run := result.Runs[0]
	require.False(t, run.Failed())
	want := []string{
		"classify=classified",
		"subscription=created",
		"funding=funded",
		"deployment=deployed",
		"consumer=added",
		"verification=skipped",
	}
	if diff := cmp.Diff(want, stepActions(run.Result)); diff != "" {
		t.Errorf("step actions mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "run-0001", run.Result.RunID)
	assert.Equal(t, uint64(1), run.Result.SubscriptionID)
	assert.Equal(t, "0xDc64a140Aa3E981100a9becA4E685f962f0cF6C9", run.Result.Deployment.Address.Hex())
}

func TestRun_DurableRerunIsNoOp(t *testing.T) {
	result, err := Run(context.Background(), loadTestdataScenario(t, "durable_rerun_noop"))
	require.NoError(t, err)
	require.Len(t, result.Runs, 2)

	first, second := result.Runs[0].Result, result.Runs[1].Result
	assert.Equal(t, first.Deployment.Address, second.Deployment.Address)
	assert.Equal(t, first.SubscriptionID, second.SubscriptionID)
	assert.True(t, second.DeploymentReused)
	assert.False(t, second.Funding.Funded)
	assert.False(t, second.Consumer.Added)
	assert.Equal(t, "run-0002", second.RunID)

	// The second run only reads.
	mutating := map[string]bool{"createSubscription": true, "transferAndCall": true, "deploy": true, "addConsumer": true}
	for _, call := range result.Trace[8:] {
		assert.False(t, mutating[call.Method], "second run called %s", call.Method)
	}
}

func TestRun_FailureIsRecordedNotReturned(t *testing.T) {
	result, err := Run(context.Background(), loadTestdataScenario(t, "durable_deploy_failure"))
	require.NoError(t, err)
	require.Len(t, result.Runs, 1)

	run := result.Runs[0]
	require.True(t, run.Failed())
	assert.Equal(t, provision.StepDeployment, provision.FailedStep(run.Err))
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
}

func TestRun_FailingAssertionsReported(t *testing.T) {
	scenario := loadTestdataScenario(t, "ephemeral_fresh_chain")
	two := 2
	scenario.Assertions = []Assertion{
		{Type: AssertTraceCount, Method: "deploy", Count: &two},
		{Type: AssertStepAction, Step: "verification", Action: "verified"},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "2 calls to deploy")
	assert.Contains(t, result.Errors[1], "verification step verified")
}

func TestRun_UnknownNetwork(t *testing.T) {
	scenario := loadTestdataScenario(t, "ephemeral_fresh_chain")
	scenario.Network = "mainnet"

	_, err := Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `network "mainnet" not found`)
}

func TestRun_Deterministic(t *testing.T) {
	scenario := loadTestdataScenario(t, "durable_first_run")

	r1, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	r2, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	s1, err := Snapshot(scenario.Name, r1)
	require.NoError(t, err)
	s2, err := Snapshot(scenario.Name, r2)
	require.NoError(t, err)
	assert.Equal(t, string(s1), string(s2))
}
