package provision

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/google/uuid"

	"github.com/neftyr/raffle-deploy/internal/network"
)

// UUIDv7Generator generates time-sortable UUIDv7 run ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Provisioner runs the provisioning pipeline for one network.
//
// A Provisioner is not safe for concurrent use. Two runs against the same
// durable network at the same time can both observe missing state and
// duplicate subscriptions or consumers.
type Provisioner struct {
	policy   network.Policy
	cfg      network.NetworkConfig
	deps     Dependencies
	funding  FundingPolicy
	logger   *slog.Logger
	recorder StepRecorder
	runIDs   RunIDGenerator
	strategy Strategy
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provisioner) {
		p.logger = logger
	}
}

// WithRecorder journals every step outcome.
func WithRecorder(r StepRecorder) Option {
	return func(p *Provisioner) {
		p.recorder = r
	}
}

// WithRunIDGenerator replaces the UUIDv7 run id generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(p *Provisioner) {
		p.runIDs = g
	}
}

// WithFundingPolicy overrides the amounts and threshold derived from the
// network config.
func WithFundingPolicy(f FundingPolicy) Option {
	return func(p *Provisioner) {
		p.funding = f
	}
}

// New builds a Provisioner for the classified network.
func New(policy network.Policy, cfg network.NetworkConfig, deps Dependencies, opts ...Option) (*Provisioner, error) {
	p := &Provisioner{
		policy:  policy,
		cfg:     cfg,
		deps:    deps,
		funding: fundingPolicyFor(cfg),
		logger:  slog.Default(),
		runIDs:  UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if err := cfg.Validate(policy.Environment); err != nil {
		return nil, fmt.Errorf("invalid network config: %w", err)
	}

	strategy, err := NewStrategy(policy, cfg, deps, p.funding, p.logger)
	if err != nil {
		return nil, err
	}
	p.strategy = strategy
	return p, nil
}

// Policy returns the classified policy the provisioner runs with.
func (p *Provisioner) Policy() network.Policy {
	return p.policy
}

// Run executes the pipeline. On failure it returns the partial Result along
// with a *StepError naming the step that aborted the run.
func (p *Provisioner) Run(ctx context.Context) (*Result, error) {
	res := &Result{
		RunID:  p.runIDs.Generate(),
		Policy: p.policy,
	}
	log := p.logger.With("run_id", res.RunID, "network", p.policy.Network)

	if p.recorder != nil {
		if err := p.recorder.BeginRun(ctx, RunInfo{
			ID:          res.RunID,
			Network:     p.policy.Network,
			Environment: p.policy.Environment.String(),
		}); err != nil {
			log.Warn("journal: begin run failed", "error", err)
		}
	}

	log.Info("network classified",
		"environment", p.policy.Environment.String(),
		"confirmations", p.policy.Confirmations,
		"mocks", p.policy.MocksAvailable)
	p.record(ctx, res, StepClassify, ActionClassified, map[string]any{
		"environment":   p.policy.Environment.String(),
		"confirmations": p.policy.Confirmations,
	})

	subID, action, err := p.strategy.ResolveSubscription(ctx)
	if err != nil {
		return p.fail(ctx, res, StepSubscription, err)
	}
	res.SubscriptionID = subID
	p.record(ctx, res, StepSubscription, action, map[string]any{"subscription_id": subID})

	funding, err := p.strategy.EnsureFunded(ctx, subID)
	if err != nil {
		return p.fail(ctx, res, StepFunding, err)
	}
	res.Funding = funding
	p.record(ctx, res, StepFunding, fundingAction(funding), fundingDetail(funding))

	rec, reused, err := p.strategy.ReconcileDeployment(ctx, subID)
	if err != nil {
		return p.fail(ctx, res, StepDeployment, err)
	}
	res.Deployment = rec
	res.DeploymentReused = reused
	deployAction := ActionDeployed
	if reused {
		deployAction = ActionReused
	}
	p.record(ctx, res, StepDeployment, deployAction, map[string]any{
		"address":   rec.Address,
		"args_hash": rec.Args.Hash(),
	})

	consumer, err := p.strategy.EnsureConsumer(ctx, subID, rec.Address)
	if err != nil {
		return p.fail(ctx, res, StepConsumer, err)
	}
	res.Consumer = consumer
	consumerAction := ActionSkipped
	if consumer.Added {
		consumerAction = ActionAdded
	}
	p.record(ctx, res, StepConsumer, consumerAction, map[string]any{"consumer": rec.Address})

	res.Verification = p.strategy.Verify(ctx, rec)
	p.record(ctx, res, StepVerification, res.Verification, map[string]any{"address": rec.Address})

	if p.recorder != nil {
		if err := p.recorder.FinishRun(ctx, res.RunID, nil); err != nil {
			log.Warn("journal: finish run failed", "error", err)
		}
	}
	log.Info("provisioning complete",
		"subscription_id", subID,
		"raffle", rec.Address.Hex(),
		"deployment_reused", reused,
		"consumer_added", consumer.Added,
		"verification", string(res.Verification))
	return res, nil
}

func (p *Provisioner) record(ctx context.Context, res *Result, step Step, action Action, detail map[string]any) {
	outcome := StepOutcome{Step: step, Action: action, Detail: detail}
	res.Steps = append(res.Steps, outcome)
	if p.recorder == nil {
		return
	}
	if err := p.recorder.RecordStep(ctx, res.RunID, outcome); err != nil {
		p.logger.Warn("journal: record step failed", "run_id", res.RunID, "step", string(step), "error", err)
	}
}

func (p *Provisioner) fail(ctx context.Context, res *Result, step Step, err error) (*Result, error) {
	stepErr := &StepError{Step: step, Err: err}
	p.logger.Error("provisioning aborted", "run_id", res.RunID, "step", string(step), "error", err)
	p.record(ctx, res, step, ActionFailed, map[string]any{"error": err.Error()})
	if p.recorder != nil {
		if ferr := p.recorder.FinishRun(ctx, res.RunID, stepErr); ferr != nil {
			p.logger.Warn("journal: finish run failed", "run_id", res.RunID, "error", ferr)
		}
	}
	return res, stepErr
}

func fundingAction(f FundingOutcome) Action {
	if f.Funded {
		return ActionFunded
	}
	return ActionSkipped
}

func fundingDetail(f FundingOutcome) map[string]any {
	detail := map[string]any{}
	for key, v := range map[string]*big.Int{
		"amount":         f.Amount,
		"balance_before": f.BalanceBefore,
		"balance_after":  f.BalanceAfter,
	} {
		if v != nil {
			detail[key] = v
		}
	}
	return detail
}
