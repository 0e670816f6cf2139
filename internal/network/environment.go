package network

import (
	"fmt"
	"strings"
)

// Environment tells the pipeline whether remote state persists between runs.
type Environment int

const (
	// Ephemeral is a local simulation: fresh state per run, mocks available.
	Ephemeral Environment = iota + 1
	// Durable is a persistent network: remote state must be reconciled.
	Durable
)

// Confirmation depths per environment. Durable waits long enough to ride out
// shallow chain reorganisations before a transaction is treated as final.
const (
	EphemeralConfirmations uint64 = 1
	DurableConfirmations   uint64 = 6
)

func (e Environment) String() string {
	switch e {
	case Ephemeral:
		return "ephemeral"
	case Durable:
		return "durable"
	default:
		return fmt.Sprintf("environment(%d)", int(e))
	}
}

// Policy is the environment-dependent behaviour derived for one run.
// It is immutable once classified.
type Policy struct {
	Network        string
	Environment    Environment
	Confirmations  uint64
	MocksAvailable bool
}

// IsEphemeral reports whether the policy targets a disposable network.
func (p Policy) IsEphemeral() bool {
	return p.Environment == Ephemeral
}

// Classify derives the Policy for a network identifier. Names listed in
// developmentChains (case-insensitive) are Ephemeral; everything else is
// Durable.
func Classify(name string, developmentChains []string) Policy {
	for _, dev := range developmentChains {
		if strings.EqualFold(strings.TrimSpace(dev), strings.TrimSpace(name)) {
			return Policy{
				Network:        name,
				Environment:    Ephemeral,
				Confirmations:  EphemeralConfirmations,
				MocksAvailable: true,
			}
		}
	}
	return Policy{
		Network:       name,
		Environment:   Durable,
		Confirmations: DurableConfirmations,
	}
}

// WithConfirmations returns a copy of p using n confirmations for a Durable
// network. Ephemeral policies and n == 0 are returned unchanged.
func (p Policy) WithConfirmations(n uint64) Policy {
	if n == 0 || p.Environment != Durable {
		return p
	}
	p.Confirmations = n
	return p
}
