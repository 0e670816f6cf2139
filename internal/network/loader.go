package network

import (
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/ethereum/go-ethereum/common"
)

//go:embed schema.cue
var schemaSource string

// Error codes for configuration loading.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeNotFound    = "E002" // Config file not found
	ErrCodeReadFailed  = "E003" // Config file unreadable
	ErrCodeBuildFailed = "E004" // CUE syntax/build error
	ErrCodeSchema      = "E005" // Value does not satisfy #Config
	ErrCodeInvalid     = "E006" // Semantic validation failed after decoding
)

// LoadError represents a failure to load the configuration source.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
	Err     error
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

type rawNetwork struct {
	ChainID              uint64 `json:"chain_id"`
	RPCURL               string `json:"rpc_url"`
	Coordinator          string `json:"coordinator"`
	FundingToken         string `json:"funding_token"`
	FundingTokenDecimals uint8  `json:"funding_token_decimals"`
	SubscriptionID       uint64 `json:"subscription_id"`
	GasLane              string `json:"gas_lane"`
	UpdateInterval       uint64 `json:"update_interval"`
	EntranceFee          string `json:"entrance_fee"`
	CallbackGasLimit     uint32 `json:"callback_gas_limit"`
	VerifyAPIURL         string `json:"verify_api_url"`
	Confirmations        uint64 `json:"confirmations"`
}

type rawConfig struct {
	DevelopmentChains []string              `json:"development_chains"`
	Networks          map[string]rawNetwork `json:"networks"`
}

// Load reads and validates the CUE configuration file at path.
func Load(path string) (*Config, error) {
	src, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("config file not found: %s", path), Err: err}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeReadFailed, Message: fmt.Sprintf("reading config: %v", err), Err: err}
	}
	return LoadBytes(path, src)
}

// LoadBytes compiles src (named filename in positions), unifies it with the
// embedded schema and decodes it into a Config. Every network is validated
// for the environment it classifies as.
func LoadBytes(filename string, src []byte) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("embedded schema: %v", err), Err: err}
	}

	value := ctx.CompileBytes(src, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, cueLoadError(ErrCodeBuildFailed, "building config", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, cueLoadError(ErrCodeSchema, "config does not match schema", err)
	}

	var raw rawConfig
	if err := unified.Decode(&raw); err != nil {
		return nil, cueLoadError(ErrCodeSchema, "decoding config", err)
	}

	cfg := &Config{
		DevelopmentChains: raw.DevelopmentChains,
		Networks:          make(map[string]NetworkConfig, len(raw.Networks)),
	}
	var errs []error
	for name, rn := range raw.Networks {
		n, err := rn.toNetworkConfig(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := n.Validate(Classify(name, cfg.DevelopmentChains).Environment); err != nil {
			errs = append(errs, err)
			continue
		}
		cfg.Networks[name] = n
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		return nil, &LoadError{Code: ErrCodeInvalid, Message: err.Error(), Err: err}
	}
	return cfg, nil
}

func (rn rawNetwork) toNetworkConfig(name string) (NetworkConfig, error) {
	fee, ok := new(big.Int).SetString(rn.EntranceFee, 10)
	if !ok {
		return NetworkConfig{}, fmt.Errorf("%s: entrance_fee %q is not a decimal integer", name, rn.EntranceFee)
	}
	n := NetworkConfig{
		Name:                 name,
		ChainID:              rn.ChainID,
		RPCURL:               rn.RPCURL,
		Coordinator:          common.HexToAddress(rn.Coordinator),
		FundingTokenDecimals: rn.FundingTokenDecimals,
		SubscriptionID:       rn.SubscriptionID,
		GasLane:              common.HexToHash(rn.GasLane),
		UpdateInterval:       new(big.Int).SetUint64(rn.UpdateInterval),
		EntranceFee:          fee,
		CallbackGasLimit:     rn.CallbackGasLimit,
		VerifyAPIURL:         rn.VerifyAPIURL,
		Confirmations:        rn.Confirmations,
	}
	if rn.FundingToken != "" {
		n.FundingToken = common.HexToAddress(rn.FundingToken)
	}
	return n, nil
}

// cueLoadError converts a CUE error into a LoadError keeping the first
// reported position.
func cueLoadError(code, context string, err error) *LoadError {
	le := &LoadError{Code: code, Message: fmt.Sprintf("%s: %v", context, err), Err: err}
	var cerr cueerrors.Error
	if errors.As(err, &cerr) {
		if positions := cueerrors.Positions(cerr); len(positions) > 0 {
			le.Pos = positions[0]
		}
	}
	return le
}
