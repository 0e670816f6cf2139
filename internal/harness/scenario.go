package harness

import (
	"bytes"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/neftyr/raffle-deploy/internal/provision"
)

// Scenario defines a provisioning scenario.
// Scenarios seed a simulated chain, run the provisioner one or more times
// against it and assert on the resulting call trace, step outcomes and
// final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config is the path to a CUE network config.
	// Relative paths are resolved against the scenario file's directory.
	Config string `yaml:"config"`

	// Network selects the network from Config.
	Network string `yaml:"network"`

	// Chain seeds remote state before the first run.
	Chain ChainSetup `yaml:"chain,omitempty"`

	// Verifier wires a block explorer into durable runs.
	Verifier bool `yaml:"verifier,omitempty"`

	// Runs is how many times the provisioner runs. Default 1.
	Runs int `yaml:"runs,omitempty"`

	// RestartBetweenRuns discards chain state between runs, as restarting a
	// local node does. Stored deployments survive.
	RestartBetweenRuns bool `yaml:"restart_between_runs,omitempty"`

	// RunIDPrefix prefixes the deterministic run ids. Default "run".
	RunIDPrefix string `yaml:"run_id_prefix,omitempty"`

	// Assertions validate the trace, step outcomes and final state.
	Assertions []Assertion `yaml:"assertions"`
}

// ChainSetup is the remote state present before the first run.
type ChainSetup struct {
	// Decimals is the funding token's on-chain decimals. Default 18.
	Decimals *uint8 `yaml:"decimals,omitempty"`

	// Subscription seeds an existing subscription.
	Subscription *SubscriptionSetup `yaml:"subscription,omitempty"`

	// Deployment seeds a stored Raffle deployment.
	Deployment *DeploymentSetup `yaml:"deployment,omitempty"`

	// Failures maps a chain method name to the error it returns.
	Failures map[string]string `yaml:"failures,omitempty"`
}

// SubscriptionSetup describes a seeded subscription.
type SubscriptionSetup struct {
	// Balance in the token's smallest unit, as a decimal string.
	Balance string `yaml:"balance"`

	// Consumers already registered on the subscription.
	Consumers []string `yaml:"consumers,omitempty"`

	// Configured writes the seeded id into the network's subscription_id.
	Configured bool `yaml:"configured,omitempty"`
}

// DeploymentSetup describes a seeded deployment record.
type DeploymentSetup struct {
	Address string `yaml:"address"`

	// EntranceFee replaces the configured fee in the recorded args, which
	// makes the record stale.
	EntranceFee string `yaml:"entrance_fee,omitempty"`
}

// Assertion validates the outcome of a scenario.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": a chain call with matching args was made
	// - "trace_order": chain calls were first made in this order
	// - "trace_count": a chain call was made exactly N times
	// - "final_state": a store table row has the expected values
	// - "step_action": a run's step ended with the given action
	// - "run_error": a run failed at the given step
	// - "subscription": the subscription's final balance and consumers
	Type string `yaml:"type"`

	// Method is the chain method name (trace_contains, trace_count).
	Method string `yaml:"method,omitempty"`

	// Args are matched positionally against the call's args (trace_contains).
	// "*" matches any value. Extra call args are ignored.
	Args []string `yaml:"args,omitempty"`

	// Methods is the expected call order (trace_order).
	Methods []string `yaml:"methods,omitempty"`

	// Count is the expected number of calls (trace_count) or of consumers
	// (subscription).
	Count *int `yaml:"count,omitempty"`

	// Table, Where and Expect select and check a store row (final_state).
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`

	// Run is the 1-based run index (step_action, run_error, subscription).
	// Zero means the last run.
	Run int `yaml:"run,omitempty"`

	// Step and Action name a step outcome (step_action, run_error).
	Step   string `yaml:"step,omitempty"`
	Action string `yaml:"action,omitempty"`

	// Contains is a substring of the run's error (run_error).
	Contains string `yaml:"contains,omitempty"`

	// MinBalance is the minimum final balance (subscription).
	MinBalance string `yaml:"min_balance,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertStepAction    = "step_action"
	AssertRunError      = "run_error"
	AssertSubscription  = "subscription"
)

// LoadScenario reads and parses a scenario YAML file. The config path is
// resolved relative to the file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the config path relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Config != "" && !filepath.IsAbs(scenario.Config) && basePath != "" {
		scenario.Config = filepath.Join(basePath, scenario.Config)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Config == "" {
		return fmt.Errorf("config is required")
	}
	if s.Network == "" {
		return fmt.Errorf("network is required")
	}
	if s.Runs < 0 {
		return fmt.Errorf("runs must be non-negative")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if _, err := os.Stat(s.Config); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", s.Config)
	}

	if err := validateChainSetup(&s.Chain); err != nil {
		return err
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}

	return nil
}

func validateChainSetup(c *ChainSetup) error {
	if sub := c.Subscription; sub != nil {
		if _, ok := new(big.Int).SetString(sub.Balance, 10); !ok {
			return fmt.Errorf("chain.subscription.balance %q is not a decimal integer", sub.Balance)
		}
		for i, addr := range sub.Consumers {
			if !common.IsHexAddress(addr) {
				return fmt.Errorf("chain.subscription.consumers[%d]: %q is not an address", i, addr)
			}
		}
	}
	if dep := c.Deployment; dep != nil {
		if !common.IsHexAddress(dep.Address) {
			return fmt.Errorf("chain.deployment.address %q is not an address", dep.Address)
		}
		if dep.EntranceFee != "" {
			if _, ok := new(big.Int).SetString(dep.EntranceFee, 10); !ok {
				return fmt.Errorf("chain.deployment.entrance_fee %q is not a decimal integer", dep.EntranceFee)
			}
		}
	}
	for method, msg := range c.Failures {
		if msg == "" {
			return fmt.Errorf("chain.failures[%s]: error message is required", method)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Run < 0 {
		return fmt.Errorf("assertions[%d]: run must be non-negative", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Method == "" {
			return fmt.Errorf("assertions[%d]: method is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Methods) == 0 {
			return fmt.Errorf("assertions[%d]: methods list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Method == "" {
			return fmt.Errorf("assertions[%d]: method is required for trace_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertStepAction:
		if a.Step == "" || a.Action == "" {
			return fmt.Errorf("assertions[%d]: step and action are required for step_action", index)
		}
		if !knownStep(a.Step) {
			return fmt.Errorf("assertions[%d]: unknown step %q", index, a.Step)
		}
	case AssertRunError:
		if a.Step != "" && !knownStep(a.Step) {
			return fmt.Errorf("assertions[%d]: unknown step %q", index, a.Step)
		}
	case AssertSubscription:
		if a.MinBalance == "" && a.Count == nil {
			return fmt.Errorf("assertions[%d]: min_balance or count is required for subscription", index)
		}
		if a.MinBalance != "" {
			if _, ok := new(big.Int).SetString(a.MinBalance, 10); !ok {
				return fmt.Errorf("assertions[%d]: min_balance %q is not a decimal integer", index, a.MinBalance)
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

func knownStep(name string) bool {
	switch provision.Step(name) {
	case provision.StepClassify, provision.StepSubscription, provision.StepFunding,
		provision.StepDeployment, provision.StepConsumer, provision.StepVerification:
		return true
	}
	return false
}
