package simchain

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/neftyr/raffle-deploy/internal/provision"
	"github.com/neftyr/raffle-deploy/internal/testutil"
)

// Method names used in call counts, traces and failure injection.
const (
	MethodCreateSubscription = "createSubscription"
	MethodGetSubscription    = "getSubscription"
	MethodFundSubscription   = "fundSubscription"
	MethodAddConsumer        = "addConsumer"
	MethodDecimals           = "decimals"
	MethodTransferAndCall    = "transferAndCall"
	MethodDeploy             = "deploy"
	MethodGetDeployment      = "getDeployment"
	MethodSaveDeployment     = "saveDeployment"
	MethodVerify             = "verify"
)

// DefaultDeployer is the first well-known local development account.
var DefaultDeployer = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

// Call is one recorded method invocation.
type Call struct {
	Block  uint64
	Method string
	Args   []string
}

// Canonical implements record.Canonicalizer.
func (c Call) Canonical() any {
	return map[string]any{
		"block":  c.Block,
		"method": c.Method,
		"args":   c.Args,
	}
}

type subscription struct {
	balance   *big.Int
	reqCount  uint64
	owner     common.Address
	consumers []common.Address
}

// Chain is the simulated chain. All methods are safe for concurrent use.
type Chain struct {
	mu          sync.Mutex
	clock       *testutil.BlockClock
	deployer    common.Address
	nonce       uint64
	coordinator common.Address
	token       common.Address
	decimals    uint8
	nextSubID   uint64
	subs        map[uint64]*subscription
	code        map[common.Address]string
	deployments map[string]map[string]provision.DeploymentRecord
	verified    map[common.Address]bool
	failures    map[string]error
	calls       map[string]int
	trace       []Call
}

// Option configures a Chain.
type Option func(*Chain)

// WithDecimals sets the funding token's on-chain decimals. Default 18.
func WithDecimals(d uint8) Option {
	return func(c *Chain) {
		c.decimals = d
	}
}

// WithBlockClock shares a block clock with the caller.
func WithBlockClock(clock *testutil.BlockClock) Option {
	return func(c *Chain) {
		c.clock = clock
	}
}

// WithDeployer sets the sending account.
func WithDeployer(addr common.Address) Option {
	return func(c *Chain) {
		c.deployer = addr
	}
}

// New creates a chain with a coordinator and funding token already deployed
// at the deployer's first two nonces.
func New(opts ...Option) *Chain {
	c := &Chain{
		clock:    testutil.NewBlockClock(),
		deployer: DefaultDeployer,
		decimals: 18,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.reset()
	return c
}

// Reset discards all chain state, as a restarted local node would. Recorded
// deployments, call counts and the trace are kept.
func (c *Chain) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock.Reset()
	deployments, calls, trace := c.deployments, c.calls, c.trace
	c.reset()
	c.deployments, c.calls, c.trace = deployments, calls, trace
}

func (c *Chain) reset() {
	c.nonce = 0
	c.nextSubID = 1
	c.subs = make(map[uint64]*subscription)
	c.code = make(map[common.Address]string)
	c.verified = make(map[common.Address]bool)
	c.coordinator = c.createContract("VRFCoordinatorV2Mock")
	c.token = c.createContract("LinkToken")
	if c.deployments == nil {
		c.deployments = make(map[string]map[string]provision.DeploymentRecord)
	}
	if c.failures == nil {
		c.failures = make(map[string]error)
	}
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
}

func (c *Chain) createContract(name string) common.Address {
	addr := crypto.CreateAddress(c.deployer, c.nonce)
	c.nonce++
	c.code[addr] = name
	return addr
}

// FailOn makes every subsequent call to method return err. A nil err clears
// the failure.
func (c *Chain) FailOn(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failures, method)
		return
	}
	c.failures[method] = err
}

// SeedSubscription creates a subscription outside any run and returns its id.
func (c *Chain) SeedSubscription(balance *big.Int, consumers ...common.Address) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.subs[id] = &subscription{
		balance:   new(big.Int).Set(balance),
		owner:     c.deployer,
		consumers: append([]common.Address(nil), consumers...),
	}
	return id
}

// SeedDeployment records a deployment outside any run. The contract is given
// code at rec.Address so it can be verified.
func (c *Chain) SeedDeployment(network string, rec provision.DeploymentRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saveLocked(network, rec)
	c.code[rec.Address] = rec.ContractName
}

// Balance returns a subscription's balance, or nil if it does not exist.
func (c *Chain) Balance(id uint64) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[id]
	if !ok {
		return nil
	}
	return new(big.Int).Set(sub.balance)
}

// Consumers returns a subscription's consumers.
func (c *Chain) Consumers(id uint64) []common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[id]
	if !ok {
		return nil
	}
	return append([]common.Address(nil), sub.consumers...)
}

// SubscriptionCount returns the number of subscriptions on the coordinator.
func (c *Chain) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Verified reports whether addr was successfully verified.
func (c *Chain) Verified(addr common.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verified[addr]
}

// Height returns the current block height.
func (c *Chain) Height() uint64 {
	return c.clock.Height()
}

// Calls returns how many times method was invoked, failed calls included.
func (c *Chain) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// CallCounts returns a copy of all call counts.
func (c *Chain) CallCounts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.calls))
	for k, v := range c.calls {
		out[k] = v
	}
	return out
}

// Methods returns the invoked method names in sorted order.
func (c *Chain) Methods() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.calls))
	for k := range c.calls {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Trace returns a copy of the recorded calls in order.
func (c *Chain) Trace() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.trace...)
}

// ClearTrace forgets recorded calls and counts.
func (c *Chain) ClearTrace() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trace = nil
	c.calls = make(map[string]int)
}

// begin records the call and returns the injected failure, if any. Callers
// must hold c.mu.
func (c *Chain) begin(ctx context.Context, method string, args ...string) error {
	c.calls[method]++
	c.trace = append(c.trace, Call{Block: c.clock.Height(), Method: method, Args: args})
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.failures[method]; err != nil {
		return err
	}
	return nil
}

func (c *Chain) txHash(method string) common.Hash {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], c.nonce)
	return crypto.Keccak256Hash([]byte(method), c.deployer.Bytes(), n[:])
}

// mine includes one transaction and returns its block.
func (c *Chain) mine() uint64 {
	c.nonce++
	return c.clock.Mine()
}

func u64(v uint64) string {
	return new(big.Int).SetUint64(v).String()
}

func (c *Chain) subscription(id uint64) (*subscription, error) {
	sub, ok := c.subs[id]
	if !ok {
		return nil, fmt.Errorf("execution reverted: InvalidSubscription(%d)", id)
	}
	return sub, nil
}
