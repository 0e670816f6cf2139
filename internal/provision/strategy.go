package provision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/neftyr/raffle-deploy/internal/network"
)

// Strategy is the environment-specific behaviour of the pipeline steps.
// It is chosen once per run from the classified Policy.
type Strategy interface {
	Environment() network.Environment
	ResolveSubscription(ctx context.Context) (uint64, Action, error)
	EnsureFunded(ctx context.Context, subID uint64) (FundingOutcome, error)
	ReconcileDeployment(ctx context.Context, subID uint64) (DeploymentRecord, bool, error)
	EnsureConsumer(ctx context.Context, subID uint64, consumer common.Address) (ConsumerOutcome, error)
	Verify(ctx context.Context, rec DeploymentRecord) Action
}

// Dependencies are the remote collaborators of a run.
type Dependencies struct {
	// Coordinator must implement MockCoordinator on ephemeral networks.
	Coordinator Coordinator
	// FundingToken is required on durable networks.
	FundingToken FundingToken
	Deployer     ContractDeployer
	Store        DeploymentStore
	// Verifier is optional. A nil Verifier skips verification.
	Verifier Verifier
}

type strategyBase struct {
	policy  network.Policy
	cfg     network.NetworkConfig
	funding FundingPolicy
	deps    Dependencies
	logger  *slog.Logger
}

// NewStrategy selects the strategy for policy and checks that deps carries
// what it needs.
func NewStrategy(policy network.Policy, cfg network.NetworkConfig, deps Dependencies, funding FundingPolicy, logger *slog.Logger) (Strategy, error) {
	if deps.Coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if deps.Deployer == nil {
		return nil, fmt.Errorf("deployer is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("deployment store is required")
	}
	if err := funding.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	base := strategyBase{policy: policy, cfg: cfg, funding: funding, deps: deps, logger: logger}

	switch policy.Environment {
	case network.Ephemeral:
		mock, ok := deps.Coordinator.(MockCoordinator)
		if !ok {
			return nil, ErrMockRequired
		}
		return &ephemeralStrategy{strategyBase: base, mock: mock}, nil
	case network.Durable:
		if deps.FundingToken == nil {
			return nil, fmt.Errorf("funding token is required on durable network %q", policy.Network)
		}
		return &durableStrategy{strategyBase: base}, nil
	default:
		return nil, fmt.Errorf("unknown environment %s", policy.Environment)
	}
}

func (b *strategyBase) Environment() network.Environment {
	return b.policy.Environment
}

func (b *strategyBase) deploy(ctx context.Context, subID uint64) (DeploymentRecord, error) {
	args := NewConstructorArgs(b.cfg, b.deps.Coordinator.Address(), subID)
	b.logger.Info("deploying contract",
		"contract", RaffleContract,
		"network", b.policy.Network,
		"args", args.Strings(),
		"confirmations", b.policy.Confirmations)

	rec, err := b.deps.Deployer.Deploy(ctx, RaffleContract, args, b.policy.Confirmations)
	if err != nil {
		return DeploymentRecord{}, fmt.Errorf("deploy %s: %w", RaffleContract, err)
	}
	// The contract exists on chain now; an interrupt must not lose its record.
	if err := b.deps.Store.SaveDeployment(context.WithoutCancel(ctx), b.policy.Network, rec); err != nil {
		return DeploymentRecord{}, fmt.Errorf("save %s deployment: %w", RaffleContract, err)
	}
	b.logger.Info("contract deployed",
		"contract", RaffleContract,
		"address", rec.Address.Hex(),
		"tx", rec.TxHash.Hex(),
		"block", rec.BlockNumber)
	return rec, nil
}
