package provision

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/neftyr/raffle-deploy/internal/network"
)

// FundingPolicy holds the top-up amounts and the durable threshold.
type FundingPolicy struct {
	// Threshold is in whole token units. A durable subscription whose
	// normalized balance is below it gets topped up.
	Threshold *big.Int
	// MockAmount is credited on every ephemeral run, in base units.
	MockAmount *big.Int
	// TokenAmount is transferred on a durable top-up, in base units.
	TokenAmount *big.Int
	// Decimals is the expected scale of the funding token.
	Decimals uint8
}

// DefaultFundingPolicy funds one whole token and tops up below one whole token.
func DefaultFundingPolicy(decimals uint8) FundingPolicy {
	one := Pow10(decimals)
	return FundingPolicy{
		Threshold:   big.NewInt(1),
		MockAmount:  new(big.Int).Set(one),
		TokenAmount: new(big.Int).Set(one),
		Decimals:    decimals,
	}
}

// Validate rejects policies where a top-up could leave the balance below the
// threshold.
func (p FundingPolicy) Validate() error {
	if p.Threshold == nil || p.Threshold.Sign() < 0 {
		return fmt.Errorf("funding threshold must be non-negative")
	}
	if p.MockAmount == nil || p.MockAmount.Sign() <= 0 {
		return fmt.Errorf("mock funding amount must be positive")
	}
	if p.TokenAmount == nil || p.TokenAmount.Sign() <= 0 {
		return fmt.Errorf("token funding amount must be positive")
	}
	floor := new(big.Int).Mul(p.Threshold, Pow10(p.Decimals))
	if p.TokenAmount.Cmp(floor) < 0 {
		return fmt.Errorf("token funding amount %s is below threshold %s", p.TokenAmount, floor)
	}
	return nil
}

// Pow10 returns 10^n.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// WholeUnits truncates a base-unit balance to whole token units.
func WholeUnits(balance *big.Int, decimals uint8) *big.Int {
	if balance == nil {
		return new(big.Int)
	}
	return new(big.Int).Quo(balance, Pow10(decimals))
}

// EncodeSubscriptionID left-pads id to a 32-byte big-endian word, the payload
// the coordinator's onTokenTransfer expects.
func EncodeSubscriptionID(id uint64) []byte {
	return common.LeftPadBytes(new(big.Int).SetUint64(id).Bytes(), 32)
}

// fundingPolicyFor trusts the configured decimals as-is. Zero is a valid
// scale; the loader fills in the default when the field is omitted.
func fundingPolicyFor(cfg network.NetworkConfig) FundingPolicy {
	return DefaultFundingPolicy(cfg.FundingTokenDecimals)
}
