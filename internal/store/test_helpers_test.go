package store

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/neftyr/raffle-deploy/internal/provision"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRecord creates a Raffle deployment record with realistic args.
func createTestRecord(address string, subID uint64) provision.DeploymentRecord {
	return provision.DeploymentRecord{
		ContractName: provision.RaffleContract,
		Address:      common.HexToAddress(address),
		Args: provision.ConstructorArgs{
			Coordinator:      common.HexToAddress("0x8103B0A8A00be2DDC778e6e7eaa21791Cd364625"),
			SubscriptionID:   subID,
			GasLane:          common.HexToHash("0x474e34a077df58807dbe9c96d3c009b23b3c6d0cce433e59bbf5b34f823bc56c"),
			UpdateInterval:   big.NewInt(30),
			EntranceFee:      big.NewInt(10_000_000_000_000_000),
			CallbackGasLimit: 500_000,
		},
		TxHash:      common.HexToHash("0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"),
		BlockNumber: 4_812_345,
	}
}
