package harness

import (
	"github.com/neftyr/raffle-deploy/internal/provision"
	"github.com/neftyr/raffle-deploy/internal/simchain"
)

// RunOutcome is one provisioner run within a scenario.
type RunOutcome struct {
	// Result is the (possibly partial) provisioning result.
	Result *provision.Result

	// Err is the run's error, nil on success.
	Err error
}

// Failed reports whether the run aborted.
func (r RunOutcome) Failed() bool {
	return r.Err != nil
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool

	// Runs holds one entry per provisioner run, in order.
	Runs []RunOutcome

	// Trace contains every chain call across all runs.
	Trace []simchain.Call

	// Errors contains assertion failure messages.
	Errors []string
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Runs:   []RunOutcome{},
		Trace:  []simchain.Call{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// run returns the 1-based run n, or the last run when n is 0.
func (r *Result) run(n int) (RunOutcome, bool) {
	if len(r.Runs) == 0 {
		return RunOutcome{}, false
	}
	if n == 0 {
		n = len(r.Runs)
	}
	if n > len(r.Runs) {
		return RunOutcome{}, false
	}
	return r.Runs[n-1], true
}
