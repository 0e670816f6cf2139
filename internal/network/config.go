package network

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultFundingTokenDecimals is the decimal scale of LINK. It is only a
// default: the durable funder checks it against the token's decimals().
const DefaultFundingTokenDecimals uint8 = 18

// NetworkConfig is the read-only provisioning input for one network.
type NetworkConfig struct {
	Name                 string
	ChainID              uint64
	RPCURL               string
	Coordinator          common.Address
	FundingToken         common.Address
	FundingTokenDecimals uint8
	// SubscriptionID 0 means "unset": a subscription is created on first run.
	SubscriptionID   uint64
	GasLane          common.Hash
	UpdateInterval   *big.Int
	EntranceFee      *big.Int
	CallbackGasLimit uint32
	VerifyAPIURL     string
	// Confirmations overrides DurableConfirmations when non-zero.
	Confirmations uint64
}

// Validate checks the fields the given environment depends on.
func (n NetworkConfig) Validate(env Environment) error {
	var errs []error
	if n.ChainID == 0 {
		errs = append(errs, fmt.Errorf("%s: chain_id is required", n.Name))
	}
	if n.Coordinator == (common.Address{}) {
		errs = append(errs, fmt.Errorf("%s: coordinator is required", n.Name))
	}
	if env == Durable && n.FundingToken == (common.Address{}) {
		errs = append(errs, fmt.Errorf("%s: funding_token is required on durable networks", n.Name))
	}
	if n.GasLane == (common.Hash{}) {
		errs = append(errs, fmt.Errorf("%s: gas_lane is required", n.Name))
	}
	if n.UpdateInterval == nil || n.UpdateInterval.Sign() <= 0 {
		errs = append(errs, fmt.Errorf("%s: update_interval must be positive", n.Name))
	}
	if n.EntranceFee == nil || n.EntranceFee.Sign() < 0 {
		errs = append(errs, fmt.Errorf("%s: entrance_fee must be a non-negative integer", n.Name))
	}
	if n.CallbackGasLimit == 0 {
		errs = append(errs, fmt.Errorf("%s: callback_gas_limit must be positive", n.Name))
	}
	return errors.Join(errs...)
}

// Config is the full configuration source: every known network plus the list
// of identifiers that are Ephemeral.
type Config struct {
	DevelopmentChains []string
	Networks          map[string]NetworkConfig
}

// Network returns the named network's configuration.
func (c *Config) Network(name string) (NetworkConfig, error) {
	n, ok := c.Networks[name]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("network %q not found in config (known: %v)", name, c.Names())
	}
	return n, nil
}

// Policy classifies the named network and applies its confirmation override.
func (c *Config) Policy(name string) Policy {
	p := Classify(name, c.DevelopmentChains)
	if n, ok := c.Networks[name]; ok {
		p = p.WithConfirmations(n.Confirmations)
	}
	return p
}

// Names returns configured network names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Networks))
	for name := range c.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
