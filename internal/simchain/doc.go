// Package simchain is an in-memory stand-in for a VRF coordinator, its
// funding token, a contract deployer, a deployment store and a block
// explorer. It records every call in order so tests can assert call counts
// and compare traces against golden files, and it can be told to fail any
// method.
package simchain
