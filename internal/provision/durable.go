package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// durableStrategy reconciles against state that outlives the run. Every
// mutating call is preceded by a read that can make it unnecessary.
type durableStrategy struct {
	strategyBase
}

func (s *durableStrategy) ResolveSubscription(ctx context.Context) (uint64, Action, error) {
	if id := s.cfg.SubscriptionID; id != 0 {
		s.logger.Info("using configured subscription", "subscription_id", id)
		return id, ActionReused, nil
	}
	id, err := s.deps.Coordinator.CreateSubscription(ctx)
	if err != nil {
		return 0, ActionFailed, fmt.Errorf("create subscription: %w", err)
	}
	s.logger.Info("subscription created",
		"coordinator", s.deps.Coordinator.Address().Hex(),
		"subscription_id", id)
	s.logger.Warn("set subscription_id in the network config to reuse this subscription on the next run",
		"network", s.policy.Network,
		"subscription_id", id)
	return id, ActionCreated, nil
}

func (s *durableStrategy) EnsureFunded(ctx context.Context, subID uint64) (FundingOutcome, error) {
	onchain, err := s.deps.FundingToken.Decimals(ctx)
	if err != nil {
		return FundingOutcome{}, fmt.Errorf("read funding token decimals: %w", err)
	}
	if onchain != s.funding.Decimals {
		return FundingOutcome{}, fmt.Errorf("%w: configured %d, token reports %d", ErrDecimalsMismatch, s.funding.Decimals, onchain)
	}

	sub, err := s.deps.Coordinator.Subscription(ctx, subID)
	if err != nil {
		return FundingOutcome{}, fmt.Errorf("read subscription %d: %w", subID, err)
	}
	whole := WholeUnits(sub.Balance, s.funding.Decimals)
	s.logger.Info("subscription balance",
		"subscription_id", subID,
		"balance", sub.Balance.String(),
		"whole_units", whole.String())

	if whole.Cmp(s.funding.Threshold) >= 0 {
		s.logger.Info("subscription funded above threshold", "subscription_id", subID, "threshold", s.funding.Threshold.String())
		return FundingOutcome{BalanceBefore: sub.Balance, BalanceAfter: sub.Balance}, nil
	}

	amount := s.funding.TokenAmount
	s.logger.Info("funding subscription", "subscription_id", subID, "amount", amount.String())
	coordinator := s.deps.Coordinator.Address()
	if err := s.deps.FundingToken.TransferAndCall(ctx, coordinator, amount, EncodeSubscriptionID(subID)); err != nil {
		return FundingOutcome{}, fmt.Errorf("transferAndCall to %s: %w", coordinator.Hex(), err)
	}

	updated, err := s.deps.Coordinator.Subscription(ctx, subID)
	if err != nil {
		return FundingOutcome{}, fmt.Errorf("re-read subscription %d: %w", subID, err)
	}
	s.logger.Info("subscription funded",
		"subscription_id", subID,
		"balance", updated.Balance.String(),
		"whole_units", WholeUnits(updated.Balance, s.funding.Decimals).String())
	return FundingOutcome{
		Funded:        true,
		Amount:        amount,
		BalanceBefore: sub.Balance,
		BalanceAfter:  updated.Balance,
	}, nil
}

func (s *durableStrategy) ReconcileDeployment(ctx context.Context, subID uint64) (DeploymentRecord, bool, error) {
	rec, err := s.deps.Store.GetDeployment(ctx, s.policy.Network, RaffleContract)
	switch {
	case err == nil:
		s.logger.Info("contract already deployed", "contract", RaffleContract, "address", rec.Address.Hex())
		want := NewConstructorArgs(s.cfg, s.deps.Coordinator.Address(), subID)
		if !rec.Args.Equal(want) {
			s.logger.Warn("recorded deployment was built with different constructor args",
				"contract", RaffleContract,
				"recorded", rec.Args.Strings(),
				"current", want.Strings())
		}
		return rec, true, nil
	case errors.Is(err, ErrDeploymentNotFound):
		s.logger.Info("contract not deployed yet", "contract", RaffleContract, "network", s.policy.Network)
	default:
		return DeploymentRecord{}, false, fmt.Errorf("look up %s deployment: %w", RaffleContract, err)
	}

	rec, err = s.deploy(ctx, subID)
	return rec, false, err
}

func (s *durableStrategy) EnsureConsumer(ctx context.Context, subID uint64, consumer common.Address) (ConsumerOutcome, error) {
	sub, err := s.deps.Coordinator.Subscription(ctx, subID)
	if err != nil {
		return ConsumerOutcome{}, fmt.Errorf("read subscription %d: %w", subID, err)
	}
	if sub.HasConsumer(consumer) {
		s.logger.Info("consumer already registered", "subscription_id", subID, "consumer", consumer.Hex())
		return ConsumerOutcome{Consumers: sub.Consumers}, nil
	}

	if err := s.deps.Coordinator.AddConsumer(ctx, subID, consumer); err != nil {
		return ConsumerOutcome{}, fmt.Errorf("add consumer %s to subscription %d: %w", consumer.Hex(), subID, err)
	}
	updated, err := s.deps.Coordinator.Subscription(ctx, subID)
	if err != nil {
		return ConsumerOutcome{}, fmt.Errorf("re-read subscription %d: %w", subID, err)
	}
	s.logger.Info("consumer added", "subscription_id", subID, "consumers", addressStrings(updated.Consumers))
	return ConsumerOutcome{Added: true, Consumers: updated.Consumers}, nil
}

func (s *durableStrategy) Verify(ctx context.Context, rec DeploymentRecord) Action {
	if s.deps.Verifier == nil {
		s.logger.Info("verification skipped: no explorer API key", "network", s.policy.Network)
		return ActionSkipped
	}
	s.logger.Info("verifying contract", "contract", rec.ContractName, "address", rec.Address.Hex())
	if err := s.deps.Verifier.Verify(ctx, rec.Address, rec.Args); err != nil {
		s.logger.Warn("verification failed", "address", rec.Address.Hex(), "error", err)
		return ActionFailed
	}
	s.logger.Info("contract verified", "address", rec.Address.Hex())
	return ActionVerified
}

func addressStrings(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}
