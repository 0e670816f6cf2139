package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/neftyr/raffle-deploy/internal/provision"
)

func beginTestRun(t *testing.T, s *Store, id, network string) {
	t.Helper()
	err := s.BeginRun(context.Background(), provision.RunInfo{ID: id, Network: network, Environment: "durable"})
	if err != nil {
		t.Fatalf("BeginRun() failed: %v", err)
	}
}

func TestJournal_RecordsStepsInOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	beginTestRun(t, s, "run-0001", "sepolia")

	outcomes := []provision.StepOutcome{
		{Step: provision.StepClassify, Action: provision.ActionClassified, Detail: map[string]any{"environment": "durable"}},
		{Step: provision.StepSubscription, Action: provision.ActionReused, Detail: map[string]any{"subscription_id": uint64(1234)}},
		{Step: provision.StepDeployment, Action: provision.ActionDeployed, Detail: map[string]any{
			"address": common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0"),
		}},
		{Step: provision.StepVerification, Action: provision.ActionSkipped},
	}
	for _, o := range outcomes {
		if err := s.RecordStep(ctx, "run-0001", o); err != nil {
			t.Fatalf("RecordStep() failed: %v", err)
		}
	}
	if err := s.FinishRun(ctx, "run-0001", nil); err != nil {
		t.Fatalf("FinishRun() failed: %v", err)
	}

	run, err := s.ReadRun(ctx, "run-0001")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if run.Status != RunSucceeded || run.Error != "" {
		t.Errorf("status = %q error = %q, want succeeded", run.Status, run.Error)
	}
	if len(run.Steps) != 4 {
		t.Fatalf("steps = %d, want 4", len(run.Steps))
	}
	for i, st := range run.Steps {
		if st.Index != i || st.Step != string(outcomes[i].Step) || st.Action != string(outcomes[i].Action) {
			t.Errorf("step %d = %+v", i, st)
		}
	}
	if run.Steps[1].Detail != `{"subscription_id":"1234"}` {
		t.Errorf("detail = %s", run.Steps[1].Detail)
	}
	if run.Steps[3].Detail != `{}` {
		t.Errorf("nil detail stored as %s, want {}", run.Steps[3].Detail)
	}
}

func TestJournal_FailedRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	beginTestRun(t, s, "run-0001", "sepolia")

	runErr := &provision.StepError{Step: provision.StepFunding, Err: errors.New("insufficient LINK")}
	if err := s.FinishRun(ctx, "run-0001", runErr); err != nil {
		t.Fatalf("FinishRun() failed: %v", err)
	}

	run, err := s.ReadRun(ctx, "run-0001")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if run.Status != RunFailed {
		t.Errorf("status = %q, want failed", run.Status)
	}
	if run.Error != "funding step failed: insufficient LINK" {
		t.Errorf("error = %q", run.Error)
	}
}

func TestJournal_BeginRunIdempotent(t *testing.T) {
	s := createTestStore(t)
	beginTestRun(t, s, "run-0001", "sepolia")
	beginTestRun(t, s, "run-0001", "sepolia")

	runs, err := s.ListRuns(context.Background(), "sepolia", 0)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("runs = %d, want 1", len(runs))
	}
}

func TestJournal_ListRunsNewestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"run-a", "run-b", "run-c"} {
		beginTestRun(t, s, id, "sepolia")
		if err := s.RecordStep(ctx, id, provision.StepOutcome{Step: provision.StepClassify, Action: provision.ActionClassified}); err != nil {
			t.Fatalf("RecordStep() failed: %v", err)
		}
	}
	beginTestRun(t, s, "other", "goerli")

	runs, err := s.ListRuns(ctx, "sepolia", 2)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-c" || runs[1].ID != "run-b" {
		t.Fatalf("ListRuns() = %+v, want run-c, run-b", runs)
	}
	if len(runs[0].Steps) != 1 {
		t.Errorf("steps = %d, want 1", len(runs[0].Steps))
	}

	all, err := s.ListRuns(ctx, "sepolia", 0)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListRuns(limit 0) = %d runs, want 3", len(all))
	}
}

func TestJournal_UnknownRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.FinishRun(ctx, "nope", nil); err == nil || !strings.Contains(err.Error(), "unknown run") {
		t.Errorf("FinishRun() error = %v, want unknown run", err)
	}
	if _, err := s.ReadRun(ctx, "nope"); err == nil {
		t.Error("ReadRun() succeeded for unknown run")
	}
	err := s.RecordStep(ctx, "nope", provision.StepOutcome{Step: provision.StepClassify, Action: provision.ActionClassified})
	if err == nil {
		t.Error("RecordStep() succeeded for unknown run")
	}
}

func TestJournal_RejectsNonCanonicalDetail(t *testing.T) {
	s := createTestStore(t)
	beginTestRun(t, s, "run-0001", "sepolia")

	err := s.RecordStep(context.Background(), "run-0001", provision.StepOutcome{
		Step:   provision.StepFunding,
		Action: provision.ActionFunded,
		Detail: map[string]any{"ratio": 0.5},
	})
	if err == nil {
		t.Error("RecordStep() accepted a float detail")
	}
}
