package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lmittmann/w3"
	"github.com/lmittmann/w3/module/eth"
	"github.com/lmittmann/w3/w3types"
	"golang.org/x/time/rate"
)

// Gas limits used when a call does not set its own.
const (
	DeployGasLimit uint64 = 3_000_000
	CallGasLimit   uint64 = 500_000
)

// Default EIP-1559 fee caps, in wei.
var (
	DefaultGasFeeCap = big.NewInt(2_000_000_000)
	DefaultGasTipCap = big.NewInt(1_000_000_000)
)

// DefaultPollInterval paces receipt and block-number polling.
const DefaultPollInterval = 2 * time.Second

// TxFailedError is returned when a transaction was mined but reverted.
type TxFailedError struct {
	Hash   common.Hash
	Status uint64
}

func (e *TxFailedError) Error() string {
	return fmt.Sprintf("transaction %s failed with status %d", e.Hash.Hex(), e.Status)
}

// Client sends transactions from a single account.
//
// Transact and Deploy fetch the pending nonce for every transaction, so a
// Client must not be shared between concurrent runs.
type Client struct {
	rpc           *w3.Client
	chainID       *big.Int
	signer        types.Signer
	key           *ecdsa.PrivateKey
	from          common.Address
	gasFeeCap     *big.Int
	gasTipCap     *big.Int
	confirmations uint64
	poll          *rate.Limiter
	logger        *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithGasCaps sets the EIP-1559 fee and tip caps.
func WithGasCaps(feeCap, tipCap *big.Int) ClientOption {
	return func(c *Client) {
		c.gasFeeCap = feeCap
		c.gasTipCap = tipCap
	}
}

// WithConfirmations sets how many blocks Transact waits for, the mining block
// included. Default 1.
func WithConfirmations(n uint64) ClientOption {
	return func(c *Client) {
		c.confirmations = n
	}
}

// WithPollInterval sets the receipt polling interval.
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.poll = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// Dial connects to rpcURL and reads the chain id from the node.
func Dial(ctx context.Context, rpcURL string, key *ecdsa.PrivateKey, opts ...ClientOption) (*Client, error) {
	rpc, err := w3.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	var chainID uint64
	if err := rpc.CallCtx(ctx, eth.ChainID().Returns(&chainID)); err != nil {
		rpc.Close()
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	return NewClient(rpc, chainID, key, opts...), nil
}

// NewClient wraps an existing w3 client.
func NewClient(rpc *w3.Client, chainID uint64, key *ecdsa.PrivateKey, opts ...ClientOption) *Client {
	id := new(big.Int).SetUint64(chainID)
	c := &Client{
		rpc:           rpc,
		chainID:       id,
		signer:        types.NewLondonSigner(id),
		key:           key,
		from:          crypto.PubkeyToAddress(key.PublicKey),
		gasFeeCap:     DefaultGasFeeCap,
		gasTipCap:     DefaultGasTipCap,
		confirmations: 1,
		poll:          rate.NewLimiter(rate.Every(DefaultPollInterval), 1),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// From returns the sending account.
func (c *Client) From() common.Address {
	return c.from
}

// ChainID returns the chain id transactions are signed for.
func (c *Client) ChainID() uint64 {
	return c.chainID.Uint64()
}

// Close closes the underlying RPC connection.
func (c *Client) Close() error {
	return c.rpc.Close()
}

// Call executes a read-only contract call and decodes its returns.
func (c *Client) Call(ctx context.Context, to common.Address, fn w3types.Func, args []any, returns ...any) error {
	if err := c.rpc.CallCtx(ctx, eth.CallFunc(to, fn, args...).Returns(returns...)); err != nil {
		return fmt.Errorf("call %s: %w", to.Hex(), err)
	}
	return nil
}

// Code returns the runtime bytecode at addr.
func (c *Client) Code(ctx context.Context, addr common.Address) ([]byte, error) {
	var code []byte
	if err := c.rpc.CallCtx(ctx, eth.Code(addr, nil).Returns(&code)); err != nil {
		return nil, fmt.Errorf("get code %s: %w", addr.Hex(), err)
	}
	return code, nil
}

// Transact sends a call transaction and waits for the configured confirmations.
func (c *Client) Transact(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (*types.Receipt, error) {
	return c.send(ctx, &to, data, gasLimit, c.confirmations)
}

// DeployContract sends a contract-creation transaction and waits for
// confirmations.
func (c *Client) DeployContract(ctx context.Context, code []byte, gasLimit, confirmations uint64) (*types.Receipt, error) {
	return c.send(ctx, nil, code, gasLimit, confirmations)
}

func (c *Client) nonce(ctx context.Context) (uint64, error) {
	var nonce uint64
	if err := c.rpc.CallCtx(ctx, eth.Nonce(c.from, nil).Returns(&nonce)); err != nil {
		return 0, fmt.Errorf("get nonce: %w", err)
	}
	return nonce, nil
}

func (c *Client) send(ctx context.Context, to *common.Address, data []byte, gasLimit, confirmations uint64) (*types.Receipt, error) {
	nonce, err := c.nonce(ctx)
	if err != nil {
		return nil, err
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		To:        to,
		GasFeeCap: c.gasFeeCap,
		GasTipCap: c.gasTipCap,
		Gas:       gasLimit,
		Data:      data,
	})
	signedTx, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	var hash common.Hash
	if err := c.rpc.CallCtx(ctx, eth.SendTx(signedTx).Returns(&hash)); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}
	if hash != signedTx.Hash() {
		return nil, fmt.Errorf("send tx: node returned hash %s, signed %s", hash.Hex(), signedTx.Hash().Hex())
	}
	c.logger.Debug("transaction sent", "tx", hash.Hex(), "nonce", nonce)

	return c.WaitMined(ctx, signedTx.Hash(), confirmations)
}

// WaitMined polls until the transaction is mined and the chain head is
// confirmations-1 blocks past its block. A reverted transaction returns a
// *TxFailedError as soon as its receipt is seen.
func (c *Client) WaitMined(ctx context.Context, txHash common.Hash, confirmations uint64) (*types.Receipt, error) {
	receipt, err := c.waitReceipt(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, &TxFailedError{Hash: txHash, Status: receipt.Status}
	}
	if confirmations <= 1 {
		return receipt, nil
	}

	target := new(big.Int).Add(receipt.BlockNumber, new(big.Int).SetUint64(confirmations-1))
	for {
		var head *big.Int
		if err := c.rpc.CallCtx(ctx, eth.BlockNumber().Returns(&head)); err == nil && head.Cmp(target) >= 0 {
			c.logger.Debug("transaction confirmed", "tx", txHash.Hex(), "block", receipt.BlockNumber, "confirmations", confirmations)
			return receipt, nil
		}
		if err := c.pause(ctx); err != nil {
			return nil, err
		}
	}
}

func (c *Client) waitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	for {
		var receipt *types.Receipt
		err := c.rpc.CallCtx(ctx, eth.TxReceipt(txHash).Returns(&receipt))
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err := c.pause(ctx); err != nil {
			return nil, err
		}
	}
}

// pause blocks until the next poll is allowed. The limiter refuses waits that
// would overrun the context deadline, so those wait out the deadline instead.
func (c *Client) pause(ctx context.Context) error {
	if err := c.poll.Wait(ctx); err != nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}
