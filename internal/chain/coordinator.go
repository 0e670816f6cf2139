package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lmittmann/w3"

	"github.com/neftyr/raffle-deploy/internal/provision"
)

var (
	funcCreateSubscription = w3.MustNewFunc("createSubscription()", "uint64 subId")
	funcGetSubscription    = w3.MustNewFunc(
		"getSubscription(uint64 subId)",
		"uint96 balance, uint64 reqCount, address owner, address[] consumers",
	)
	funcAddConsumer      = w3.MustNewFunc("addConsumer(uint64 subId, address consumer)", "")
	funcFundSubscription = w3.MustNewFunc("fundSubscription(uint64 subId, uint96 amount)", "")

	eventSubscriptionCreated = w3.MustNewEvent("SubscriptionCreated(uint64 indexed subId, address owner)")
)

// Coordinator is a deployed VRF coordinator.
type Coordinator struct {
	client  *Client
	address common.Address
}

// NewCoordinator binds the coordinator at addr.
func NewCoordinator(client *Client, addr common.Address) *Coordinator {
	return &Coordinator{client: client, address: addr}
}

func (c *Coordinator) Address() common.Address {
	return c.address
}

// CreateSubscription creates a subscription owned by the sending account and
// returns the id from its SubscriptionCreated event.
func (c *Coordinator) CreateSubscription(ctx context.Context) (uint64, error) {
	data, err := funcCreateSubscription.EncodeArgs()
	if err != nil {
		return 0, fmt.Errorf("encode createSubscription: %w", err)
	}
	receipt, err := c.client.Transact(ctx, c.address, data, CallGasLimit)
	if err != nil {
		return 0, fmt.Errorf("createSubscription: %w", err)
	}
	return SubscriptionIDFromReceipt(receipt, c.address)
}

// SubscriptionIDFromReceipt finds the first SubscriptionCreated event emitted
// by coordinator.
func SubscriptionIDFromReceipt(receipt *types.Receipt, coordinator common.Address) (uint64, error) {
	for _, log := range receipt.Logs {
		if log.Address != coordinator {
			continue
		}
		var (
			subID uint64
			owner common.Address
		)
		if err := eventSubscriptionCreated.DecodeArgs(log, &subID, &owner); err == nil {
			return subID, nil
		}
	}
	return 0, fmt.Errorf("tx %s: %w", receipt.TxHash.Hex(), provision.ErrSubscriptionEventMissing)
}

// Subscription reads the subscription and maps the positional result into a
// provision.Subscription.
func (c *Coordinator) Subscription(ctx context.Context, id uint64) (provision.Subscription, error) {
	var (
		balance   *big.Int
		reqCount  uint64
		owner     common.Address
		consumers []common.Address
	)
	if err := c.client.Call(ctx, c.address, funcGetSubscription, []any{id}, &balance, &reqCount, &owner, &consumers); err != nil {
		return provision.Subscription{}, fmt.Errorf("getSubscription(%d): %w", id, err)
	}
	return provision.Subscription{
		ID:           id,
		Balance:      balance,
		RequestCount: reqCount,
		Owner:        owner,
		Consumers:    consumers,
	}, nil
}

func (c *Coordinator) AddConsumer(ctx context.Context, id uint64, consumer common.Address) error {
	data, err := funcAddConsumer.EncodeArgs(id, consumer)
	if err != nil {
		return fmt.Errorf("encode addConsumer: %w", err)
	}
	if _, err := c.client.Transact(ctx, c.address, data, CallGasLimit); err != nil {
		return fmt.Errorf("addConsumer(%d, %s): %w", id, consumer.Hex(), err)
	}
	return nil
}

// MockCoordinator is a VRFCoordinatorV2Mock on a local chain.
type MockCoordinator struct {
	*Coordinator
}

// NewMockCoordinator binds the mock coordinator at addr.
func NewMockCoordinator(client *Client, addr common.Address) *MockCoordinator {
	return &MockCoordinator{Coordinator: NewCoordinator(client, addr)}
}

// FundSubscription credits the subscription directly, without a token.
func (m *MockCoordinator) FundSubscription(ctx context.Context, id uint64, amount *big.Int) error {
	data, err := funcFundSubscription.EncodeArgs(id, amount)
	if err != nil {
		return fmt.Errorf("encode fundSubscription: %w", err)
	}
	if _, err := m.client.Transact(ctx, m.address, data, CallGasLimit); err != nil {
		return fmt.Errorf("fundSubscription(%d): %w", id, err)
	}
	return nil
}
