package provision

import (
	"errors"
	"fmt"
)

var (
	// ErrDeploymentNotFound is wrapped by DeploymentStore.GetDeployment when
	// the network has no record for the contract.
	ErrDeploymentNotFound = errors.New("deployment not found")

	// ErrSubscriptionEventMissing means createSubscription was mined but its
	// SubscriptionCreated event could not be found in the receipt.
	ErrSubscriptionEventMissing = errors.New("subscription created event missing from receipt")

	// ErrDecimalsMismatch means the configured funding token decimals differ
	// from the token's on-chain decimals().
	ErrDecimalsMismatch = errors.New("funding token decimals mismatch")

	// ErrMockRequired means an ephemeral run was given a coordinator that
	// cannot fund subscriptions directly.
	ErrMockRequired = errors.New("ephemeral network requires a mock coordinator")
)

// StepError reports which pipeline step aborted the run.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// FailedStep returns the step that aborted err's run, or "" if err is not a
// StepError.
func FailedStep(err error) Step {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}
