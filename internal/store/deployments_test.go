package store

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/neftyr/raffle-deploy/internal/provision"
)

func TestGetDeployment_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetDeployment(context.Background(), "sepolia", provision.RaffleContract)
	if !errors.Is(err, provision.ErrDeploymentNotFound) {
		t.Fatalf("GetDeployment() error = %v, want ErrDeploymentNotFound", err)
	}
}

func TestSaveDeployment_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rec := createTestRecord("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0", math.MaxUint64)

	if err := s.SaveDeployment(ctx, "sepolia", rec); err != nil {
		t.Fatalf("SaveDeployment() failed: %v", err)
	}

	got, err := s.GetDeployment(ctx, "sepolia", provision.RaffleContract)
	if err != nil {
		t.Fatalf("GetDeployment() failed: %v", err)
	}
	if got.Address != rec.Address {
		t.Errorf("Address = %s, want %s", got.Address.Hex(), rec.Address.Hex())
	}
	if got.TxHash != rec.TxHash {
		t.Errorf("TxHash = %s, want %s", got.TxHash.Hex(), rec.TxHash.Hex())
	}
	if got.BlockNumber != rec.BlockNumber {
		t.Errorf("BlockNumber = %d, want %d", got.BlockNumber, rec.BlockNumber)
	}
	if !got.Args.Equal(rec.Args) {
		t.Errorf("Args = %v, want %v", got.Args.Strings(), rec.Args.Strings())
	}
	if got.Args.SubscriptionID != math.MaxUint64 {
		t.Errorf("SubscriptionID = %d, want max uint64", got.Args.SubscriptionID)
	}
}

func TestSaveDeployment_ScopedByNetwork(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.SaveDeployment(ctx, "sepolia", createTestRecord("0x01", 1)); err != nil {
		t.Fatalf("SaveDeployment() failed: %v", err)
	}

	_, err := s.GetDeployment(ctx, "goerli", provision.RaffleContract)
	if !errors.Is(err, provision.ErrDeploymentNotFound) {
		t.Errorf("GetDeployment(goerli) error = %v, want ErrDeploymentNotFound", err)
	}
}

func TestSaveDeployment_OverwritesCurrent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := createTestRecord("0x01", 1)
	second := createTestRecord("0x02", 2)
	for _, rec := range []provision.DeploymentRecord{first, second} {
		if err := s.SaveDeployment(ctx, "hardhat", rec); err != nil {
			t.Fatalf("SaveDeployment() failed: %v", err)
		}
	}

	got, err := s.GetDeployment(ctx, "hardhat", provision.RaffleContract)
	if err != nil {
		t.Fatalf("GetDeployment() failed: %v", err)
	}
	if got.Address != second.Address {
		t.Errorf("Address = %s, want latest %s", got.Address.Hex(), second.Address.Hex())
	}

	n, err := s.DeploymentHistory(ctx, "hardhat", provision.RaffleContract)
	if err != nil {
		t.Fatalf("DeploymentHistory() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("history = %d, want 2", n)
	}
}

func TestSaveDeployment_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rec := createTestRecord("0x01", 1)

	for i := 0; i < 3; i++ {
		if err := s.SaveDeployment(ctx, "sepolia", rec); err != nil {
			t.Fatalf("SaveDeployment() iteration %d failed: %v", i, err)
		}
	}

	n, err := s.DeploymentHistory(ctx, "sepolia", provision.RaffleContract)
	if err != nil {
		t.Fatalf("DeploymentHistory() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("history = %d, want 1", n)
	}

	var seq int64
	if err := s.db.QueryRow("SELECT seq FROM deployments").Scan(&seq); err != nil {
		t.Fatalf("query seq: %v", err)
	}
	if seq != 1 {
		t.Errorf("seq = %d, want 1 (identical re-save must not touch the row)", seq)
	}
}

func TestListDeployments(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	empty, err := s.ListDeployments(ctx, "sepolia")
	if err != nil {
		t.Fatalf("ListDeployments() failed: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("ListDeployments() = %v, want empty non-nil slice", empty)
	}

	mock := createTestRecord("0x02", 1)
	mock.ContractName = "VRFCoordinatorV2Mock"
	for _, rec := range []provision.DeploymentRecord{createTestRecord("0x01", 1), mock} {
		if err := s.SaveDeployment(ctx, "sepolia", rec); err != nil {
			t.Fatalf("SaveDeployment() failed: %v", err)
		}
	}

	got, err := s.ListDeployments(ctx, "sepolia")
	if err != nil {
		t.Fatalf("ListDeployments() failed: %v", err)
	}
	if len(got) != 2 || got[0].ContractName != "Raffle" || got[1].ContractName != "VRFCoordinatorV2Mock" {
		t.Errorf("ListDeployments() = %+v, want Raffle then VRFCoordinatorV2Mock", got)
	}
}

func TestUnmarshalArgs_Errors(t *testing.T) {
	tests := []string{
		`{`,
		`["a"]`,
		`["0x01","x","0x00","1","1","1"]`,
		`["0x01","1","0x00","x","1","1"]`,
		`["0x01","1","0x00","1","x","1"]`,
		`["0x01","1","0x00","1","1","99999999999"]`,
	}
	for _, data := range tests {
		if _, err := unmarshalArgs(data); err == nil {
			t.Errorf("unmarshalArgs(%s) succeeded, want error", data)
		}
	}
}
