package chain

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/lmittmann/w3"
	"github.com/stretchr/testify/require"
)

const testChainID = 31337

// fakeNode is a minimal JSON-RPC node: it accepts signed transactions, mines
// one block per transaction and serves canned eth_call results keyed by
// selector.
type fakeNode struct {
	mu       sync.Mutex
	signer   types.Signer
	head     uint64
	nonces   map[common.Address]uint64
	receipts map[common.Hash]*types.Receipt
	// receiptDelay is how many receipt polls return null before the receipt.
	receiptDelay int
	polls        map[common.Hash]int
	sent         []*types.Transaction
	calls        map[[4]byte]func(input []byte) ([]byte, error)
	code         map[common.Address][]byte
	// onMine may change the receipt of every mined transaction.
	onMine func(tx *types.Transaction, r *types.Receipt)
	// wrongHash makes eth_sendRawTransaction answer with an unrelated hash.
	wrongHash bool
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		signer:   types.NewLondonSigner(big.NewInt(testChainID)),
		nonces:   make(map[common.Address]uint64),
		receipts: make(map[common.Hash]*types.Receipt),
		polls:    make(map[common.Hash]int),
		calls:    make(map[[4]byte]func([]byte) ([]byte, error)),
		code:     make(map[common.Address][]byte),
	}
}

func (n *fakeNode) handle(selector [4]byte, fn func(input []byte) ([]byte, error)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls[selector] = fn
}

func (n *fakeNode) sentTxs() []*types.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*types.Transaction(nil), n.sent...)
}

func (n *fakeNode) height() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.head
}

type ethService struct {
	n *fakeNode
}

func (s *ethService) ChainId() hexutil.Uint64 {
	return testChainID
}

func (s *ethService) GetTransactionCount(addr common.Address, _ *string) hexutil.Uint64 {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	return hexutil.Uint64(s.n.nonces[addr])
}

// BlockNumber mines an empty block on every call so confirmation waits make
// progress.
func (s *ethService) BlockNumber() hexutil.Uint64 {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	s.n.head++
	return hexutil.Uint64(s.n.head)
}

func (s *ethService) GetCode(addr common.Address, _ *string) hexutil.Bytes {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	return s.n.code[addr]
}

func (s *ethService) SendRawTransaction(data hexutil.Bytes) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(data); err != nil {
		return common.Hash{}, err
	}
	from, err := types.Sender(s.n.signer, tx)
	if err != nil {
		return common.Hash{}, err
	}

	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	if tx.Nonce() != s.n.nonces[from] {
		return common.Hash{}, fmt.Errorf("nonce too low: have %d, want %d", tx.Nonce(), s.n.nonces[from])
	}
	s.n.nonces[from]++
	s.n.head++
	s.n.sent = append(s.n.sent, tx)

	receipt := &types.Receipt{
		Type:              tx.Type(),
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: 21_000,
		GasUsed:           21_000,
		Logs:              []*types.Log{},
		TxHash:            tx.Hash(),
		BlockHash:         common.BigToHash(new(big.Int).SetUint64(s.n.head)),
		BlockNumber:       new(big.Int).SetUint64(s.n.head),
	}
	if tx.To() == nil {
		receipt.ContractAddress = crypto.CreateAddress(from, tx.Nonce())
		s.n.code[receipt.ContractAddress] = []byte{0x60, 0x80}
	}
	if s.n.onMine != nil {
		s.n.onMine(tx, receipt)
	}
	for _, l := range receipt.Logs {
		l.TxHash = tx.Hash()
		l.BlockNumber = s.n.head
	}
	receipt.Bloom = types.CreateBloom(types.Receipts{receipt})
	s.n.receipts[tx.Hash()] = receipt
	if s.n.wrongHash {
		return common.HexToHash("0xdead"), nil
	}
	return tx.Hash(), nil
}

func (s *ethService) GetTransactionReceipt(hash common.Hash) (*types.Receipt, error) {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	r, ok := s.n.receipts[hash]
	if !ok {
		return nil, nil
	}
	if s.n.polls[hash] < s.n.receiptDelay {
		s.n.polls[hash]++
		return nil, nil
	}
	return r, nil
}

type callArgs struct {
	To    *common.Address `json:"to"`
	Input hexutil.Bytes   `json:"input"`
	Data  hexutil.Bytes   `json:"data"`
}

func (s *ethService) Call(args callArgs, _ *string) (hexutil.Bytes, error) {
	input := args.Input
	if len(input) == 0 {
		input = args.Data
	}
	if len(input) < 4 {
		return nil, errors.New("execution reverted")
	}
	var sel [4]byte
	copy(sel[:], input[:4])

	s.n.mu.Lock()
	fn, ok := s.n.calls[sel]
	s.n.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("execution reverted: unknown selector %x", sel)
	}
	return fn(input)
}

var testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	return key
}

// newTestClient serves node in-process and returns a Client for it.
func newTestClient(t *testing.T, node *fakeNode, opts ...ClientOption) *Client {
	t.Helper()
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", &ethService{n: node}))
	rpcClient := rpc.DialInProc(server)

	opts = append([]ClientOption{WithPollInterval(time.Millisecond), WithLogger(quietLogger())}, opts...)
	c := NewClient(w3.NewClient(rpcClient), testChainID, testKey(t), opts...)
	t.Cleanup(func() {
		c.Close()
		server.Stop()
	})
	return c
}
