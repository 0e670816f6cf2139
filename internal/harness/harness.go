package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/neftyr/raffle-deploy/internal/network"
	"github.com/neftyr/raffle-deploy/internal/provision"
	"github.com/neftyr/raffle-deploy/internal/simchain"
	"github.com/neftyr/raffle-deploy/internal/store"
	"github.com/neftyr/raffle-deploy/internal/testutil"
)

// Harness is the scenario execution environment: a simulated chain, an
// in-memory store and deterministic run ids.
type Harness struct {
	store  *store.Store
	chain  *simchain.Chain
	runIDs *testutil.SequentialRunIDs
	logger *slog.Logger
	policy network.Policy
	cfg    network.NetworkConfig
}

// Option configures scenario execution.
type Option func(*Harness)

// WithLogger sets the logger handed to the provisioner. Default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs on a fresh simulated chain and in-memory database.
// Execution flow:
// 1. Load the network config and classify the network
// 2. Seed the chain and store
// 3. Run the provisioner the requested number of times
// 4. Evaluate assertions
//
// A failing provisioner run is recorded in the result, not returned as an
// error. Errors are reserved for scenarios that cannot be set up.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:  st,
		runIDs: testutil.NewSequentialRunIDs(scenario.RunIDPrefix),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}

	chainOpts := []simchain.Option{}
	if scenario.Chain.Decimals != nil {
		chainOpts = append(chainOpts, simchain.WithDecimals(*scenario.Chain.Decimals))
	}
	h.chain = simchain.New(chainOpts...)

	if err := h.configure(scenario); err != nil {
		return nil, err
	}
	if err := h.seed(ctx, scenario.Chain); err != nil {
		return nil, fmt.Errorf("failed to seed chain: %w", err)
	}

	result := NewResult()
	runs := scenario.Runs
	if runs == 0 {
		runs = 1
	}
	for i := 0; i < runs; i++ {
		if i > 0 && scenario.RestartBetweenRuns {
			h.chain.Reset()
		}
		outcome, err := h.runOnce(ctx, scenario.Verifier)
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", i+1, err)
		}
		result.Runs = append(result.Runs, outcome)
	}
	result.Trace = h.chain.Trace()

	actx := &AssertionContext{
		Store: st,
		Chain: h.chain,
		Ctx:   ctx,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

// configure loads the network config and points it at the simulated
// coordinator and funding token.
func (h *Harness) configure(scenario *Scenario) error {
	cfg, err := network.Load(scenario.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	netCfg, err := cfg.Network(scenario.Network)
	if err != nil {
		return err
	}
	netCfg.Coordinator = h.chain.Address()
	netCfg.FundingToken = h.chain.TokenAddress()
	h.cfg = netCfg
	h.policy = cfg.Policy(scenario.Network)
	return nil
}

func (h *Harness) seed(ctx context.Context, setup ChainSetup) error {
	subID := h.cfg.SubscriptionID
	if sub := setup.Subscription; sub != nil {
		balance, _ := new(big.Int).SetString(sub.Balance, 10)
		consumers := make([]common.Address, len(sub.Consumers))
		for i, c := range sub.Consumers {
			consumers[i] = common.HexToAddress(c)
		}
		subID = h.chain.SeedSubscription(balance, consumers...)
		if sub.Configured {
			h.cfg.SubscriptionID = subID
		}
	}

	if dep := setup.Deployment; dep != nil {
		args := provision.NewConstructorArgs(h.cfg, h.chain.Address(), subID)
		if dep.EntranceFee != "" {
			args.EntranceFee, _ = new(big.Int).SetString(dep.EntranceFee, 10)
		}
		addr := common.HexToAddress(dep.Address)
		rec := provision.DeploymentRecord{
			ContractName: provision.RaffleContract,
			Address:      addr,
			Args:         args,
			TxHash:       crypto.Keccak256Hash(addr.Bytes()),
		}
		h.chain.SeedDeployment(h.policy.Network, rec)
		if err := h.store.SaveDeployment(ctx, h.policy.Network, rec); err != nil {
			return err
		}
	}

	for method, msg := range setup.Failures {
		h.chain.FailOn(method, errors.New(msg))
	}
	return nil
}

func (h *Harness) runOnce(ctx context.Context, withVerifier bool) (RunOutcome, error) {
	deps := provision.Dependencies{
		Coordinator:  h.chain,
		FundingToken: h.chain,
		Deployer:     h.chain,
		Store:        h.store,
	}
	if !h.policy.MocksAvailable {
		deps.Coordinator = h.chain.LiveCoordinator()
	}
	if withVerifier {
		deps.Verifier = h.chain
	}

	p, err := provision.New(h.policy, h.cfg, deps,
		provision.WithLogger(h.logger),
		provision.WithRecorder(h.store),
		provision.WithRunIDGenerator(h.runIDs),
	)
	if err != nil {
		return RunOutcome{}, err
	}

	res, runErr := p.Run(ctx)
	return RunOutcome{Result: res, Err: runErr}, nil
}
