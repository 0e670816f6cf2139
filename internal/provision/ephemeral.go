package provision

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ephemeralStrategy assumes a fresh local chain: every step acts without
// checking remote state first.
type ephemeralStrategy struct {
	strategyBase
	mock MockCoordinator
}

func (s *ephemeralStrategy) ResolveSubscription(ctx context.Context) (uint64, Action, error) {
	id, err := s.mock.CreateSubscription(ctx)
	if err != nil {
		return 0, ActionFailed, fmt.Errorf("create subscription on mock coordinator: %w", err)
	}
	s.logger.Info("subscription created", "coordinator", s.mock.Address().Hex(), "subscription_id", id)
	return id, ActionCreated, nil
}

func (s *ephemeralStrategy) EnsureFunded(ctx context.Context, subID uint64) (FundingOutcome, error) {
	amount := new(big.Int).Set(s.funding.MockAmount)
	if err := s.mock.FundSubscription(ctx, subID, amount); err != nil {
		return FundingOutcome{}, fmt.Errorf("fund subscription %d: %w", subID, err)
	}
	s.logger.Info("subscription funded", "subscription_id", subID, "amount", amount.String())
	return FundingOutcome{Funded: true, Amount: amount}, nil
}

func (s *ephemeralStrategy) ReconcileDeployment(ctx context.Context, subID uint64) (DeploymentRecord, bool, error) {
	rec, err := s.deploy(ctx, subID)
	return rec, false, err
}

func (s *ephemeralStrategy) EnsureConsumer(ctx context.Context, subID uint64, consumer common.Address) (ConsumerOutcome, error) {
	if err := s.mock.AddConsumer(ctx, subID, consumer); err != nil {
		return ConsumerOutcome{}, fmt.Errorf("add consumer %s to subscription %d: %w", consumer.Hex(), subID, err)
	}
	s.logger.Info("consumer added", "subscription_id", subID, "consumer", consumer.Hex())
	return ConsumerOutcome{Added: true}, nil
}

func (s *ephemeralStrategy) Verify(context.Context, DeploymentRecord) Action {
	s.logger.Debug("verification skipped on ephemeral network", "network", s.policy.Network)
	return ActionSkipped
}
