package cli

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/neftyr/raffle-deploy/internal/chain"
	"github.com/neftyr/raffle-deploy/internal/network"
	"github.com/neftyr/raffle-deploy/internal/provision"
	"github.com/neftyr/raffle-deploy/internal/store"
	"github.com/neftyr/raffle-deploy/internal/verify"
)

// Environment variables read by deploy. Flags take precedence.
const (
	EnvRPCURL       = "RPC_URL"
	EnvPrivateKey   = "PRIVATE_KEY"
	EnvExplorerKey  = "ETHERSCAN_API_KEY"
	EnvGasFeeCap    = "GAS_FEE_CAP"
	EnvGasTipCap    = "GAS_TIP_CAP"
	defaultConfig   = "networks.cue"
	defaultDatabase = "deployments.db"
)

// DeployOptions holds flags for the deploy command.
type DeployOptions struct {
	*RootOptions
	Network    string
	Config     string
	Database   string
	Artifact   string
	BuildInfo  string
	RPCURL     string
	PrivateKey string
}

// NewDeployCommand creates the deploy command.
func NewDeployCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeployOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Provision the Raffle contract on a network",
		Long: `Run the provisioning pipeline against a network.

The network is classified from the config's development_chains. Ephemeral
networks get a fresh subscription funded through the mock coordinator and a
fresh Raffle on every run. Durable networks reconcile against existing
state: the configured subscription is reused and only topped up below the
funding threshold, a stored deployment is reused when its constructor
arguments are unchanged, and the consumer is registered at most once.

Settings can come from the environment:
  RPC_URL            node endpoint (else the network's rpc_url)
  PRIVATE_KEY        hex-encoded deployer key
  ETHERSCAN_API_KEY  enables source verification on durable networks
  GAS_FEE_CAP        EIP-1559 fee cap in wei
  GAS_TIP_CAP        EIP-1559 tip cap in wei

Exit codes:
  0 - Raffle provisioned
  1 - A provisioning step failed
  2 - Command error (bad config, unreachable node, missing key)

Examples:
  raffle-deploy deploy --network hardhat
  raffle-deploy deploy --network sepolia --db ./deployments.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Network, "network", "", "network name from the config (required)")
	cmd.Flags().StringVar(&opts.Config, "config", defaultConfig, "path to the CUE network config")
	cmd.Flags().StringVar(&opts.Database, "db", defaultDatabase, "path to the SQLite deployment store")
	cmd.Flags().StringVar(&opts.Artifact, "artifact", "artifacts/Raffle.json", "compiled Raffle artifact")
	cmd.Flags().StringVar(&opts.BuildInfo, "build-info", "", "compiler build-info file, needed for verification")
	cmd.Flags().StringVar(&opts.RPCURL, "rpc-url", "", "node endpoint, overrides RPC_URL and the config")
	cmd.Flags().StringVar(&opts.PrivateKey, "private-key", "", "hex deployer key, overrides PRIVATE_KEY")
	_ = cmd.MarkFlagRequired("network")

	return cmd
}

// deployment is everything a run needs, assembled before any transaction
// is sent.
type deployment struct {
	policy   network.Policy
	netCfg   network.NetworkConfig
	key      *ecdsa.PrivateKey
	rpcURL   string
	artifact *chain.Artifact
	gasCaps  []chain.ClientOption
}

func runDeploy(opts *DeployOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	d, err := prepareDeployment(opts, formatter)
	if err != nil {
		return err
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	clientOpts := append([]chain.ClientOption{
		chain.WithConfirmations(d.policy.Confirmations),
		chain.WithLogger(logger),
	}, d.gasCaps...)
	logger.Info("connecting to node", "network", d.policy.Network, "rpc_url", d.rpcURL)
	client, err := chain.Dial(ctx, d.rpcURL, d.key, clientOpts...)
	if err != nil {
		return commandError(formatter, ErrCodeChain, "failed to connect to node", err)
	}
	defer client.Close()
	if client.ChainID() != d.netCfg.ChainID {
		msg := fmt.Sprintf("node reports chain id %d, %s expects %d", client.ChainID(), d.policy.Network, d.netCfg.ChainID)
		_ = formatter.Error(ErrCodeChain, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}
	logger.Debug("connected", "chain_id", client.ChainID(), "from", client.From().Hex())

	st, err := store.Open(opts.Database)
	if err != nil {
		return commandError(formatter, ErrCodeStore, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	deps := provision.Dependencies{
		Deployer: chain.NewDeployer(client, d.artifact),
		Store:    st,
	}
	if d.policy.MocksAvailable {
		deps.Coordinator = chain.NewMockCoordinator(client, d.netCfg.Coordinator)
	} else {
		deps.Coordinator = chain.NewCoordinator(client, d.netCfg.Coordinator)
		deps.FundingToken = chain.NewLinkToken(client, d.netCfg.FundingToken)
		verifier, err := newVerifier(opts, d, logger)
		if err != nil {
			return commandError(formatter, ErrCodeInput, "failed to set up verification", err)
		}
		if verifier != nil {
			deps.Verifier = verifier
		}
	}

	p, err := provision.New(d.policy, d.netCfg, deps,
		provision.WithLogger(logger),
		provision.WithRecorder(st),
	)
	if err != nil {
		return commandError(formatter, ErrCodeInput, "invalid provisioning setup", err)
	}

	res, runErr := p.Run(ctx)
	report := newDeployReport(res, runErr)
	if runErr != nil {
		_ = formatter.Failure(ErrCodeProvision, runErr.Error(), report)
		return WrapExitError(ExitFailure, "provisioning failed", runErr)
	}
	return formatter.Success(report)
}

// prepareDeployment resolves config, key and artifact before any chain
// access.
func prepareDeployment(opts *DeployOptions, formatter *OutputFormatter) (*deployment, error) {
	cfg, err := network.Load(opts.Config)
	if err != nil {
		return nil, configError(formatter, err)
	}
	netCfg, err := cfg.Network(opts.Network)
	if err != nil {
		return nil, commandError(formatter, ErrCodeNetwork, "unknown network", err)
	}
	d := &deployment{
		policy: cfg.Policy(opts.Network),
		netCfg: netCfg,
	}
	formatter.VerboseLog("Network %s classified as %s", d.policy.Network, d.policy.Environment)

	d.rpcURL = firstNonEmpty(opts.RPCURL, os.Getenv(EnvRPCURL), netCfg.RPCURL)
	if d.rpcURL == "" {
		return nil, commandError(formatter, ErrCodeInput, "no RPC endpoint",
			fmt.Errorf("set --rpc-url, %s or rpc_url for %s", EnvRPCURL, opts.Network))
	}

	d.key, err = parsePrivateKey(firstNonEmpty(opts.PrivateKey, os.Getenv(EnvPrivateKey)))
	if err != nil {
		return nil, commandError(formatter, ErrCodeInput, "invalid deployer key", err)
	}

	d.artifact, err = chain.LoadArtifact(opts.Artifact)
	if err != nil {
		return nil, commandError(formatter, ErrCodeInput, "failed to load artifact", err)
	}
	if err := d.artifact.CheckConstructor(chain.RaffleConstructorTypes); err != nil {
		return nil, commandError(formatter, ErrCodeInput, "artifact does not match the Raffle constructor", err)
	}

	d.gasCaps, err = gasCapOptions(os.Getenv)
	if err != nil {
		return nil, commandError(formatter, ErrCodeInput, "invalid gas caps", err)
	}
	return d, nil
}

// newVerifier returns nil when verification is not configured.
func newVerifier(opts *DeployOptions, d *deployment, logger *slog.Logger) (*verify.Client, error) {
	apiKey := os.Getenv(EnvExplorerKey)
	if apiKey == "" || d.netCfg.VerifyAPIURL == "" {
		logger.Info("verification not configured, skipping",
			"network", d.policy.Network,
			"api_key_set", apiKey != "",
			"verify_api_url", d.netCfg.VerifyAPIURL)
		return nil, nil
	}
	if opts.BuildInfo == "" {
		return nil, errors.New("--build-info is required when verification is configured")
	}
	buildInfo, err := chain.LoadBuildInfo(opts.BuildInfo)
	if err != nil {
		return nil, err
	}
	return verify.New(d.netCfg.VerifyAPIURL, apiKey, d.artifact, buildInfo, verify.WithLogger(logger))
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("set --private-key or %s", EnvPrivateKey)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		// The key itself is never echoed.
		return nil, errors.New("private key is not a 32-byte hex string")
	}
	return key, nil
}

// gasCapOptions reads the fee caps from the environment. An unset cap keeps
// the client default.
func gasCapOptions(getenv func(string) string) ([]chain.ClientOption, error) {
	feeCap, tipCap := chain.DefaultGasFeeCap, chain.DefaultGasTipCap
	set := false
	for _, v := range []struct {
		name string
		dst  **big.Int
	}{
		{EnvGasFeeCap, &feeCap},
		{EnvGasTipCap, &tipCap},
	} {
		raw := getenv(v.name)
		if raw == "" {
			continue
		}
		n, ok := new(big.Int).SetString(raw, 10)
		if !ok || n.Sign() <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer in wei, got %q", v.name, raw)
		}
		*v.dst = n
		set = true
	}
	if !set {
		return nil, nil
	}
	if tipCap.Cmp(feeCap) > 0 {
		return nil, fmt.Errorf("%s %s exceeds %s %s", EnvGasTipCap, tipCap, EnvGasFeeCap, feeCap)
	}
	return []chain.ClientOption{chain.WithGasCaps(feeCap, tipCap)}, nil
}

// configError reports a network.Load failure. A config that exists but is
// invalid is a validation failure; a missing or unreadable file is a
// command error.
func configError(formatter *OutputFormatter, err error) error {
	var loadErr *network.LoadError
	if !errors.As(err, &loadErr) {
		_ = formatter.Error(network.ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
	switch loadErr.Code {
	case network.ErrCodeNotFound, network.ErrCodeReadFailed:
		return WrapExitError(ExitCommandError, "failed to load config", err)
	default:
		return WrapExitError(ExitFailure, "invalid config", err)
	}
}

func commandError(formatter *OutputFormatter, code, message string, err error) error {
	_ = formatter.Error(code, fmt.Sprintf("%s: %v", message, err), nil)
	return WrapExitError(ExitCommandError, message, err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
