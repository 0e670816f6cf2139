package provision

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Coordinator is the VRF coordinator as seen by the pipeline. Write methods
// return once the underlying transaction is confirmed to the depth the
// implementation was configured with.
type Coordinator interface {
	Address() common.Address
	CreateSubscription(ctx context.Context) (uint64, error)
	Subscription(ctx context.Context, id uint64) (Subscription, error)
	AddConsumer(ctx context.Context, id uint64, consumer common.Address) error
}

// MockCoordinator is the coordinator available on ephemeral networks. It can
// credit a subscription directly without a funding token.
type MockCoordinator interface {
	Coordinator
	FundSubscription(ctx context.Context, id uint64, amount *big.Int) error
}

// FundingToken is the ERC-677 token (LINK) used to fund durable subscriptions.
type FundingToken interface {
	Decimals(ctx context.Context) (uint8, error)
	TransferAndCall(ctx context.Context, to common.Address, amount *big.Int, data []byte) error
}

// ContractDeployer deploys a named contract and waits for confirmations.
type ContractDeployer interface {
	Deploy(ctx context.Context, name string, args ConstructorArgs, confirmations uint64) (DeploymentRecord, error)
}

// DeploymentStore persists deployment records per network. GetDeployment
// returns an error wrapping ErrDeploymentNotFound when nothing is recorded.
type DeploymentStore interface {
	GetDeployment(ctx context.Context, network, name string) (DeploymentRecord, error)
	SaveDeployment(ctx context.Context, network string, rec DeploymentRecord) error
}

// Verifier submits a deployed contract's source to a block explorer.
type Verifier interface {
	Verify(ctx context.Context, address common.Address, args ConstructorArgs) error
}

// RunInfo describes a run when it starts.
type RunInfo struct {
	ID          string
	Network     string
	Environment string
}

// StepRecorder journals runs and their step outcomes.
type StepRecorder interface {
	BeginRun(ctx context.Context, run RunInfo) error
	RecordStep(ctx context.Context, runID string, outcome StepOutcome) error
	FinishRun(ctx context.Context, runID string, runErr error) error
}

// RunIDGenerator produces run identifiers.
// Implemented by UUIDv7Generator and testutil.SequentialRunIDs.
type RunIDGenerator interface {
	Generate() string
}
