package provision

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/neftyr/raffle-deploy/internal/network"
	"github.com/neftyr/raffle-deploy/internal/record"
)

// RaffleContract is the deployment name of the provisioned contract.
const RaffleContract = "Raffle"

// Subscription is the named view of a coordinator's getSubscription result.
// Adapters map the positional (balance, reqCount, owner, consumers) tuple into
// it once so no caller indexes into the tuple.
type Subscription struct {
	ID           uint64
	Balance      *big.Int
	RequestCount uint64
	Owner        common.Address
	Consumers    []common.Address
}

// HasConsumer reports whether addr is registered on the subscription.
func (s Subscription) HasConsumer(addr common.Address) bool {
	for _, c := range s.Consumers {
		if c == addr {
			return true
		}
	}
	return false
}

// ConstructorArgs are the Raffle constructor arguments. Their order is fixed
// by the contract's constructor signature:
//
//	constructor(address vrfCoordinatorV2, uint64 subscriptionId, bytes32 gasLane,
//	            uint256 interval, uint256 entranceFee, uint32 callbackGasLimit)
type ConstructorArgs struct {
	Coordinator      common.Address
	SubscriptionID   uint64
	GasLane          common.Hash
	UpdateInterval   *big.Int
	EntranceFee      *big.Int
	CallbackGasLimit uint32
}

// NewConstructorArgs builds the argument list for a resolved subscription on
// the given coordinator.
func NewConstructorArgs(cfg network.NetworkConfig, coordinator common.Address, subscriptionID uint64) ConstructorArgs {
	return ConstructorArgs{
		Coordinator:      coordinator,
		SubscriptionID:   subscriptionID,
		GasLane:          cfg.GasLane,
		UpdateInterval:   copyBig(cfg.UpdateInterval),
		EntranceFee:      copyBig(cfg.EntranceFee),
		CallbackGasLimit: cfg.CallbackGasLimit,
	}
}

// Values returns the arguments positionally, typed for ABI packing.
func (a ConstructorArgs) Values() []any {
	return []any{
		a.Coordinator,
		a.SubscriptionID,
		[32]byte(a.GasLane),
		a.UpdateInterval,
		a.EntranceFee,
		a.CallbackGasLimit,
	}
}

// Strings returns the arguments positionally in their display form.
func (a ConstructorArgs) Strings() []string {
	return []string{
		a.Coordinator.Hex(),
		new(big.Int).SetUint64(a.SubscriptionID).String(),
		a.GasLane.Hex(),
		bigString(a.UpdateInterval),
		bigString(a.EntranceFee),
		new(big.Int).SetUint64(uint64(a.CallbackGasLimit)).String(),
	}
}

// Canonical implements record.Canonicalizer.
func (a ConstructorArgs) Canonical() any {
	out := make([]any, 0, 6)
	for _, s := range a.Strings() {
		out = append(out, s)
	}
	return out
}

// Hash is the content hash of the ordered argument list.
func (a ConstructorArgs) Hash() string {
	return record.MustHash(record.DomainConstructorArgs, a)
}

// Equal reports whether both argument lists are identical position by position.
func (a ConstructorArgs) Equal(b ConstructorArgs) bool {
	as, bs := a.Strings(), b.Strings()
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// DeploymentRecord identifies a deployed contract and the arguments it was
// constructed with.
type DeploymentRecord struct {
	ContractName string
	Address      common.Address
	Args         ConstructorArgs
	TxHash       common.Hash
	BlockNumber  uint64
}

// Canonical implements record.Canonicalizer.
func (r DeploymentRecord) Canonical() any {
	return map[string]any{
		"contract_name": r.ContractName,
		"address":       r.Address,
		"args":          r.Args,
		"tx_hash":       r.TxHash,
		"block_number":  r.BlockNumber,
	}
}

// Step names a pipeline stage.
type Step string

const (
	StepClassify     Step = "classify"
	StepSubscription Step = "subscription"
	StepFunding      Step = "funding"
	StepDeployment   Step = "deployment"
	StepConsumer     Step = "consumer"
	StepVerification Step = "verification"
)

// Action is what a step ended up doing.
type Action string

const (
	ActionClassified Action = "classified"
	ActionCreated    Action = "created"
	ActionReused     Action = "reused"
	ActionFunded     Action = "funded"
	ActionSkipped    Action = "skipped"
	ActionDeployed   Action = "deployed"
	ActionAdded      Action = "added"
	ActionVerified   Action = "verified"
	ActionFailed     Action = "failed"
)

// StepOutcome is one journal entry. Detail must be canonical-encodable.
type StepOutcome struct {
	Step   Step
	Action Action
	Detail map[string]any
}

// FundingOutcome reports the funding step. BalanceAfter is nil when the
// balance was not re-read (ephemeral top-ups).
type FundingOutcome struct {
	Funded        bool
	Amount        *big.Int
	BalanceBefore *big.Int
	BalanceAfter  *big.Int
}

// ConsumerOutcome reports the consumer registration step. Consumers is the
// set after registration, nil when it was not queried (ephemeral).
type ConsumerOutcome struct {
	Added     bool
	Consumers []common.Address
}

// Result is the outcome of a completed (or partially completed) run.
type Result struct {
	RunID            string
	Policy           network.Policy
	SubscriptionID   uint64
	Funding          FundingOutcome
	Deployment       DeploymentRecord
	DeploymentReused bool
	Consumer         ConsumerOutcome
	Verification     Action
	Steps            []StepOutcome
}
