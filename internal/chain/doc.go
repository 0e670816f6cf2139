// Package chain adapts a JSON-RPC node to the provisioning collaborators.
//
// Client signs and sends EIP-1559 transactions and waits until they are
// mined and confirmed to the requested depth. Coordinator, MockCoordinator
// and LinkToken wrap the VRF coordinator and funding token contracts;
// Deployer deploys compiled artifacts with ABI-encoded constructor args.
package chain
