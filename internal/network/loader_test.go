package network

import (
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
development_chains: ["hardhat", "localhost"]

networks: {
	hardhat: {
		chain_id:           31337
		coordinator:        "0x5FbDB2315678afecb367f032d93F642f64180aa3"
		gas_lane:           "0x79d3d8832d904592c0bf9818b621522c988bb8b0c05cdc3b15aea1b6e8db0c15"
		update_interval:    30
		entrance_fee:       "10000000000000000"
		callback_gas_limit: 500000
	}
	sepolia: {
		chain_id:           11155111
		coordinator:        "0x8103B0A8A00be2DDC778e6e7eaa21791Cd364625"
		funding_token:      "0x779877A7B0D9E8603169DdbD7836e478b4624789"
		subscription_id:    1234
		gas_lane:           "0x474e34a077df58807dbe9c96d3c009b23b3c6d0cce433e59bbf5b34f823bc56c"
		update_interval:    30
		entrance_fee:       "10000000000000000"
		callback_gas_limit: 500000
		confirmations:      3
	}
}
`

func TestLoadBytesValid(t *testing.T) {
	cfg, err := LoadBytes("networks.cue", []byte(validConfig))
	require.NoError(t, err)

	assert.Equal(t, []string{"hardhat", "sepolia"}, cfg.Names())
	assert.Equal(t, []string{"hardhat", "localhost"}, cfg.DevelopmentChains)

	sepolia, err := cfg.Network("sepolia")
	require.NoError(t, err)
	assert.Equal(t, uint64(11155111), sepolia.ChainID)
	assert.Equal(t, common.HexToAddress("0x8103B0A8A00be2DDC778e6e7eaa21791Cd364625"), sepolia.Coordinator)
	assert.Equal(t, common.HexToAddress("0x779877A7B0D9E8603169DdbD7836e478b4624789"), sepolia.FundingToken)
	assert.Equal(t, uint64(1234), sepolia.SubscriptionID)
	assert.Equal(t, big.NewInt(30), sepolia.UpdateInterval)
	assert.Equal(t, big.NewInt(10000000000000000), sepolia.EntranceFee)
	assert.Equal(t, uint32(500000), sepolia.CallbackGasLimit)
	assert.Equal(t, DefaultFundingTokenDecimals, sepolia.FundingTokenDecimals)
}

func TestLoadBytesDefaults(t *testing.T) {
	cfg, err := LoadBytes("networks.cue", []byte(validConfig))
	require.NoError(t, err)

	hardhat, err := cfg.Network("hardhat")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), hardhat.SubscriptionID)
	assert.Equal(t, common.Address{}, hardhat.FundingToken)
	assert.Equal(t, uint8(18), hardhat.FundingTokenDecimals)
}

func TestConfigPolicy(t *testing.T) {
	cfg, err := LoadBytes("networks.cue", []byte(validConfig))
	require.NoError(t, err)

	assert.Equal(t, Ephemeral, cfg.Policy("hardhat").Environment)

	sepolia := cfg.Policy("sepolia")
	assert.Equal(t, Durable, sepolia.Environment)
	assert.Equal(t, uint64(3), sepolia.Confirmations)
}

func TestConfigUnknownNetwork(t *testing.T) {
	cfg, err := LoadBytes("networks.cue", []byte(validConfig))
	require.NoError(t, err)

	_, err = cfg.Network("mainnet")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `network "mainnet" not found`)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "networks.cue")
	require.NoError(t, os.WriteFile(path, []byte(validConfig), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Networks, 2)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.cue"))
	require.Error(t, err)

	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, ErrCodeNotFound, loadErr.Code)
}

func TestLoadSyntaxError(t *testing.T) {
	_, err := LoadBytes("broken.cue", []byte("networks: {"))
	require.Error(t, err)

	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, ErrCodeBuildFailed, loadErr.Code)
}

func TestLoadSchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"bad address", `
development_chains: []
networks: x: {
	chain_id: 1
	coordinator: "0x1234"
	gas_lane: "0x79d3d8832d904592c0bf9818b621522c988bb8b0c05cdc3b15aea1b6e8db0c15"
	update_interval: 30
	entrance_fee: "1"
	callback_gas_limit: 1
}`},
		{"fee not decimal", `
development_chains: []
networks: x: {
	chain_id: 1
	coordinator: "0x8103B0A8A00be2DDC778e6e7eaa21791Cd364625"
	gas_lane: "0x79d3d8832d904592c0bf9818b621522c988bb8b0c05cdc3b15aea1b6e8db0c15"
	update_interval: 30
	entrance_fee: "0.01 ether"
	callback_gas_limit: 1
}`},
		{"unknown field", `
development_chains: []
networks: x: {
	chain_id: 1
	coordinator: "0x8103B0A8A00be2DDC778e6e7eaa21791Cd364625"
	gas_lane: "0x79d3d8832d904592c0bf9818b621522c988bb8b0c05cdc3b15aea1b6e8db0c15"
	update_interval: 30
	entrance_fee: "1"
	callback_gas_limit: 1
	keepers_interval: 5
}`},
		{"missing gas lane", `
development_chains: []
networks: x: {
	chain_id: 1
	coordinator: "0x8103B0A8A00be2DDC778e6e7eaa21791Cd364625"
	update_interval: 30
	entrance_fee: "1"
	callback_gas_limit: 1
}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes("bad.cue", []byte(tt.src))
			require.Error(t, err)

			var loadErr *LoadError
			require.True(t, errors.As(err, &loadErr))
			assert.Equal(t, ErrCodeSchema, loadErr.Code)
		})
	}
}

func TestLoadDurableRequiresFundingToken(t *testing.T) {
	src := `
development_chains: ["hardhat"]
networks: goerli: {
	chain_id: 5
	coordinator: "0x2Ca8E0C643bDe4C2E08ab1fA0da3401AdAD7734D"
	gas_lane: "0x79d3d8832d904592c0bf9818b621522c988bb8b0c05cdc3b15aea1b6e8db0c15"
	update_interval: 30
	entrance_fee: "10000000000000000"
	callback_gas_limit: 500000
}`
	_, err := LoadBytes("networks.cue", []byte(src))
	require.Error(t, err)

	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, ErrCodeInvalid, loadErr.Code)
	assert.Contains(t, err.Error(), "funding_token is required")
}

func TestNetworkConfigValidate(t *testing.T) {
	err := NetworkConfig{Name: "empty"}.Validate(Durable)
	require.Error(t, err)
	for _, field := range []string{"chain_id", "coordinator", "funding_token", "gas_lane", "update_interval", "entrance_fee", "callback_gas_limit"} {
		assert.Contains(t, err.Error(), field)
	}
}
