package store

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/neftyr/raffle-deploy/internal/provision"
	"github.com/neftyr/raffle-deploy/internal/record"
)

// marshalArgs converts constructor args to canonical JSON TEXT for storage.
func marshalArgs(args provision.ConstructorArgs) (string, error) {
	data, err := record.MarshalCanonical(args)
	if err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}
	return string(data), nil
}

// unmarshalArgs parses the positional display strings written by marshalArgs.
func unmarshalArgs(data string) (provision.ConstructorArgs, error) {
	var fields []string
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return provision.ConstructorArgs{}, fmt.Errorf("unmarshal args: %w", err)
	}
	if len(fields) != 6 {
		return provision.ConstructorArgs{}, fmt.Errorf("unmarshal args: want 6 values, got %d", len(fields))
	}

	subID, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return provision.ConstructorArgs{}, fmt.Errorf("unmarshal args: subscription id: %w", err)
	}
	interval, ok := new(big.Int).SetString(fields[3], 10)
	if !ok {
		return provision.ConstructorArgs{}, fmt.Errorf("unmarshal args: interval %q", fields[3])
	}
	fee, ok := new(big.Int).SetString(fields[4], 10)
	if !ok {
		return provision.ConstructorArgs{}, fmt.Errorf("unmarshal args: entrance fee %q", fields[4])
	}
	gasLimit, err := strconv.ParseUint(fields[5], 10, 32)
	if err != nil {
		return provision.ConstructorArgs{}, fmt.Errorf("unmarshal args: callback gas limit: %w", err)
	}

	return provision.ConstructorArgs{
		Coordinator:      common.HexToAddress(fields[0]),
		SubscriptionID:   subID,
		GasLane:          common.HexToHash(fields[2]),
		UpdateInterval:   interval,
		EntranceFee:      fee,
		CallbackGasLimit: uint32(gasLimit),
	}, nil
}

// marshalDetail converts a step's detail map to canonical JSON TEXT.
func marshalDetail(detail map[string]any) (string, error) {
	if detail == nil {
		detail = map[string]any{}
	}
	data, err := record.MarshalCanonical(detail)
	if err != nil {
		return "", fmt.Errorf("marshal detail: %w", err)
	}
	return string(data), nil
}
