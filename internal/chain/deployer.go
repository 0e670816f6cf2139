package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/neftyr/raffle-deploy/internal/provision"
)

// Deployer deploys artifacts by contract name.
type Deployer struct {
	client    *Client
	artifacts map[string]*Artifact
	gasLimit  uint64
}

// NewDeployer registers artifacts under their contract names.
func NewDeployer(client *Client, artifacts ...*Artifact) *Deployer {
	d := &Deployer{
		client:    client,
		artifacts: make(map[string]*Artifact, len(artifacts)),
		gasLimit:  DeployGasLimit,
	}
	for _, a := range artifacts {
		d.artifacts[a.ContractName] = a
	}
	return d
}

// Deploy implements provision.ContractDeployer.
func (d *Deployer) Deploy(ctx context.Context, name string, args provision.ConstructorArgs, confirmations uint64) (provision.DeploymentRecord, error) {
	a, ok := d.artifacts[name]
	if !ok {
		return provision.DeploymentRecord{}, fmt.Errorf("no artifact loaded for %s", name)
	}
	input, err := a.EncodeConstructor(args)
	if err != nil {
		return provision.DeploymentRecord{}, err
	}
	code := make([]byte, 0, len(a.Bytecode)+len(input))
	code = append(code, a.Bytecode...)
	code = append(code, input...)

	receipt, err := d.client.DeployContract(ctx, code, d.gasLimit, confirmations)
	if err != nil {
		return provision.DeploymentRecord{}, err
	}
	if receipt.ContractAddress == (common.Address{}) {
		return provision.DeploymentRecord{}, fmt.Errorf("%s deployment receipt %s has no contract address", name, receipt.TxHash.Hex())
	}
	return provision.DeploymentRecord{
		ContractName: name,
		Address:      receipt.ContractAddress,
		Args:         args,
		TxHash:       receipt.TxHash,
		BlockNumber:  receipt.BlockNumber.Uint64(),
	}, nil
}
