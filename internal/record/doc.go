// Package record provides canonical JSON encoding and content hashing for
// provisioning data: constructor arguments, deployment records and run traces.
//
// Canonical output follows RFC 8785: object keys sorted by UTF-16 code units,
// no HTML escaping, NFC-normalised strings and no floats. Large integers and
// on-chain identifiers are encoded as strings so that hashes are stable across
// platforms and never lose precision.
package record
