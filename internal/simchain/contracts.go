package simchain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/neftyr/raffle-deploy/internal/provision"
)

// Address returns the coordinator's address.
func (c *Chain) Address() common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coordinator
}

// TokenAddress returns the funding token's address.
func (c *Chain) TokenAddress() common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// CreateSubscription implements provision.Coordinator.
func (c *Chain) CreateSubscription(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(ctx, MethodCreateSubscription); err != nil {
		return 0, err
	}
	id := c.nextSubID
	c.nextSubID++
	c.subs[id] = &subscription{balance: new(big.Int), owner: c.deployer}
	c.mine()
	return id, nil
}

// Subscription implements provision.Coordinator.
func (c *Chain) Subscription(ctx context.Context, id uint64) (provision.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(ctx, MethodGetSubscription, u64(id)); err != nil {
		return provision.Subscription{}, err
	}
	sub, err := c.subscription(id)
	if err != nil {
		return provision.Subscription{}, err
	}
	return provision.Subscription{
		ID:           id,
		Balance:      new(big.Int).Set(sub.balance),
		RequestCount: sub.reqCount,
		Owner:        sub.owner,
		Consumers:    append([]common.Address(nil), sub.consumers...),
	}, nil
}

// AddConsumer implements provision.Coordinator. Adding an existing consumer
// still mines but leaves the set unchanged, as on VRFCoordinatorV2.
func (c *Chain) AddConsumer(ctx context.Context, id uint64, consumer common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(ctx, MethodAddConsumer, u64(id), consumer.Hex()); err != nil {
		return err
	}
	sub, err := c.subscription(id)
	if err != nil {
		return err
	}
	c.mine()
	for _, existing := range sub.consumers {
		if existing == consumer {
			return nil
		}
	}
	sub.consumers = append(sub.consumers, consumer)
	return nil
}

// FundSubscription implements provision.MockCoordinator.
func (c *Chain) FundSubscription(ctx context.Context, id uint64, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(ctx, MethodFundSubscription, u64(id), amount.String()); err != nil {
		return err
	}
	sub, err := c.subscription(id)
	if err != nil {
		return err
	}
	sub.balance.Add(sub.balance, amount)
	c.mine()
	return nil
}

// Decimals implements provision.FundingToken.
func (c *Chain) Decimals(ctx context.Context) (uint8, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(ctx, MethodDecimals); err != nil {
		return 0, err
	}
	return c.decimals, nil
}

// TransferAndCall implements provision.FundingToken. Transfers to the
// coordinator credit the subscription encoded in data.
func (c *Chain) TransferAndCall(ctx context.Context, to common.Address, amount *big.Int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(ctx, MethodTransferAndCall, to.Hex(), amount.String(), common.Bytes2Hex(data)); err != nil {
		return err
	}
	if to != c.coordinator {
		return fmt.Errorf("execution reverted: %s is not the coordinator", to.Hex())
	}
	if len(data) != 32 {
		return fmt.Errorf("execution reverted: InvalidCalldata")
	}
	id := new(big.Int).SetBytes(data)
	if !id.IsUint64() {
		return fmt.Errorf("execution reverted: InvalidSubscription(%s)", id)
	}
	sub, err := c.subscription(id.Uint64())
	if err != nil {
		return err
	}
	sub.balance.Add(sub.balance, amount)
	c.mine()
	return nil
}

// Deploy implements provision.ContractDeployer. The contract address is
// derived from the deployer and its nonce, and the call returns once the
// requested confirmations have been mined.
func (c *Chain) Deploy(ctx context.Context, name string, args provision.ConstructorArgs, confirmations uint64) (provision.DeploymentRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(ctx, MethodDeploy, append([]string{name}, args.Strings()...)...); err != nil {
		return provision.DeploymentRecord{}, err
	}
	if _, ok := c.code[args.Coordinator]; !ok {
		return provision.DeploymentRecord{}, fmt.Errorf("execution reverted: coordinator %s has no code", args.Coordinator.Hex())
	}
	hash := c.txHash(MethodDeploy)
	addr := crypto.CreateAddress(c.deployer, c.nonce)
	block := c.mine()
	if confirmations > 1 {
		c.clock.Advance(confirmations - 1)
	}
	c.code[addr] = name
	return provision.DeploymentRecord{
		ContractName: name,
		Address:      addr,
		Args:         args,
		TxHash:       hash,
		BlockNumber:  block,
	}, nil
}

// GetDeployment implements provision.DeploymentStore.
func (c *Chain) GetDeployment(ctx context.Context, network, name string) (provision.DeploymentRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(ctx, MethodGetDeployment, network, name); err != nil {
		return provision.DeploymentRecord{}, err
	}
	rec, ok := c.deployments[network][name]
	if !ok {
		return provision.DeploymentRecord{}, fmt.Errorf("%s on %s: %w", name, network, provision.ErrDeploymentNotFound)
	}
	return rec, nil
}

// SaveDeployment implements provision.DeploymentStore.
func (c *Chain) SaveDeployment(ctx context.Context, network string, rec provision.DeploymentRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(ctx, MethodSaveDeployment, network, rec.ContractName, rec.Address.Hex()); err != nil {
		return err
	}
	c.saveLocked(network, rec)
	return nil
}

func (c *Chain) saveLocked(network string, rec provision.DeploymentRecord) {
	if c.deployments[network] == nil {
		c.deployments[network] = make(map[string]provision.DeploymentRecord)
	}
	c.deployments[network][rec.ContractName] = rec
}

// Verify implements provision.Verifier.
func (c *Chain) Verify(ctx context.Context, address common.Address, args provision.ConstructorArgs) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(ctx, MethodVerify, address.Hex()); err != nil {
		return err
	}
	if _, ok := c.code[address]; !ok {
		return fmt.Errorf("unable to locate contract code at %s", address.Hex())
	}
	c.verified[address] = true
	return nil
}

// LiveCoordinator returns a view of the chain's coordinator without the mock
// funding method.
func (c *Chain) LiveCoordinator() provision.Coordinator {
	return liveCoordinator{c}
}

type liveCoordinator struct {
	c *Chain
}

func (l liveCoordinator) Address() common.Address { return l.c.Address() }

func (l liveCoordinator) CreateSubscription(ctx context.Context) (uint64, error) {
	return l.c.CreateSubscription(ctx)
}

func (l liveCoordinator) Subscription(ctx context.Context, id uint64) (provision.Subscription, error) {
	return l.c.Subscription(ctx, id)
}

func (l liveCoordinator) AddConsumer(ctx context.Context, id uint64, consumer common.Address) error {
	return l.c.AddConsumer(ctx, id, consumer)
}

// Dependencies wires the chain into every collaborator slot. The verifier is
// set only when withVerifier is true.
func (c *Chain) Dependencies(withVerifier bool) provision.Dependencies {
	deps := provision.Dependencies{
		Coordinator:  c,
		FundingToken: c,
		Deployer:     c,
		Store:        c,
	}
	if withVerifier {
		deps.Verifier = c
	}
	return deps
}
