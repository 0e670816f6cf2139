package chain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/neftyr/raffle-deploy/internal/provision"
)

// RaffleConstructorTypes is the Raffle constructor signature the deployer
// encodes provision.ConstructorArgs against.
var RaffleConstructorTypes = []string{"address", "uint64", "bytes32", "uint256", "uint256", "uint32"}

// DefaultCompilerConstraint is the solc range the contracts are written for.
const DefaultCompilerConstraint = ">=0.8.7 <0.9.0"

// Artifact is a compiled contract as written by the Hardhat toolchain.
type Artifact struct {
	ContractName string
	SourceName   string
	ABI          abi.ABI
	Bytecode     []byte
}

type rawArtifact struct {
	ContractName string          `json:"contractName"`
	SourceName   string          `json:"sourceName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     string          `json:"bytecode"`
}

// LoadArtifact reads an artifact JSON file.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	a, err := ParseArtifact(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// ParseArtifact decodes artifact JSON. Bytecode with unlinked library
// placeholders is rejected.
func ParseArtifact(data []byte) (*Artifact, error) {
	var raw rawArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse artifact: %w", err)
	}
	if raw.ContractName == "" {
		return nil, errors.New("artifact has no contractName")
	}
	if strings.Contains(raw.Bytecode, "__$") {
		return nil, fmt.Errorf("%s bytecode has unlinked libraries", raw.ContractName)
	}
	bytecode, err := hexutil.Decode(raw.Bytecode)
	if err != nil {
		return nil, fmt.Errorf("%s bytecode: %w", raw.ContractName, err)
	}
	if len(bytecode) == 0 {
		return nil, fmt.Errorf("%s has no bytecode (abstract contract or interface?)", raw.ContractName)
	}
	parsed, err := abi.JSON(bytes.NewReader(raw.ABI))
	if err != nil {
		return nil, fmt.Errorf("%s abi: %w", raw.ContractName, err)
	}
	return &Artifact{
		ContractName: raw.ContractName,
		SourceName:   raw.SourceName,
		ABI:          parsed,
		Bytecode:     bytecode,
	}, nil
}

// FullyQualifiedName is "<sourceName>:<contractName>".
func (a *Artifact) FullyQualifiedName() string {
	return a.SourceName + ":" + a.ContractName
}

// CheckConstructor compares the constructor's input types with want.
func (a *Artifact) CheckConstructor(want []string) error {
	inputs := a.ABI.Constructor.Inputs
	got := make([]string, len(inputs))
	for i, in := range inputs {
		got[i] = in.Type.String()
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		return fmt.Errorf("%s constructor(%s) does not match expected (%s)",
			a.ContractName, strings.Join(got, ","), strings.Join(want, ","))
	}
	return nil
}

// EncodeConstructor ABI-encodes args for the Raffle constructor.
func (a *Artifact) EncodeConstructor(args provision.ConstructorArgs) ([]byte, error) {
	if err := a.CheckConstructor(RaffleConstructorTypes); err != nil {
		return nil, err
	}
	packed, err := a.ABI.Pack("", args.Values()...)
	if err != nil {
		return nil, fmt.Errorf("encode %s constructor: %w", a.ContractName, err)
	}
	return packed, nil
}

// BuildInfo is the compiler input Hardhat records next to its artifacts.
type BuildInfo struct {
	SolcVersion     string          `json:"solcVersion"`
	SolcLongVersion string          `json:"solcLongVersion"`
	Input           json.RawMessage `json:"input"`
}

// LoadBuildInfo reads a build-info JSON file.
func LoadBuildInfo(path string) (*BuildInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read build info: %w", err)
	}
	var info BuildInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse build info %s: %w", path, err)
	}
	if len(info.Input) == 0 {
		return nil, fmt.Errorf("build info %s has no compiler input", path)
	}
	return &info, nil
}

// CompilerVersion is the version string block explorers expect,
// e.g. "v0.8.7+commit.e28d00a7".
func (b *BuildInfo) CompilerVersion() string {
	v := b.SolcLongVersion
	if v == "" {
		v = b.SolcVersion
	}
	return "v" + strings.TrimPrefix(v, "v")
}

// CheckCompiler reports whether the recorded solc version satisfies
// constraint.
func (b *BuildInfo) CheckCompiler(constraint string) error {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("compiler constraint %q: %w", constraint, err)
	}
	v, err := semver.NewVersion(b.SolcVersion)
	if err != nil {
		return fmt.Errorf("solc version %q: %w", b.SolcVersion, err)
	}
	if ok, errs := c.Validate(v); !ok {
		return fmt.Errorf("solc %s does not satisfy %s: %w", v, constraint, errors.Join(errs...))
	}
	return nil
}
