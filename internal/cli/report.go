package cli

import (
	"fmt"
	"io"
	"math/big"
	"sort"
	"strings"

	"github.com/neftyr/raffle-deploy/internal/provision"
)

// DeployReport is the outcome of one provisioning run as printed by deploy.
type DeployReport struct {
	RunID          string         `json:"run_id"`
	Network        string         `json:"network"`
	Environment    string         `json:"environment"`
	Confirmations  uint64         `json:"confirmations"`
	SubscriptionID uint64         `json:"subscription_id,omitempty"`
	Funding        *FundingReport `json:"funding,omitempty"`
	Raffle         *RaffleReport  `json:"raffle,omitempty"`
	Verification   string         `json:"verification,omitempty"`
	Steps          []StepReport   `json:"steps"`
	FailedStep     string         `json:"failed_step,omitempty"`
}

// FundingReport describes the funding step. Amounts are in the token's
// smallest unit.
type FundingReport struct {
	Funded        bool   `json:"funded"`
	Amount        string `json:"amount,omitempty"`
	BalanceBefore string `json:"balance_before,omitempty"`
	BalanceAfter  string `json:"balance_after,omitempty"`
}

// RaffleReport describes the reconciled Raffle deployment.
type RaffleReport struct {
	Address       string   `json:"address"`
	TxHash        string   `json:"tx_hash"`
	BlockNumber   uint64   `json:"block_number"`
	Reused        bool     `json:"reused"`
	ArgsHash      string   `json:"args_hash"`
	Args          []string `json:"args"`
	ConsumerAdded bool     `json:"consumer_added"`
}

// StepReport is one journaled step.
type StepReport struct {
	Step   string         `json:"step"`
	Action string         `json:"action"`
	Detail map[string]any `json:"detail,omitempty"`
}

// newDeployReport converts a (possibly partial) provisioning result. runErr
// marks the step that aborted the run.
func newDeployReport(res *provision.Result, runErr error) *DeployReport {
	r := &DeployReport{
		RunID:          res.RunID,
		Network:        res.Policy.Network,
		Environment:    res.Policy.Environment.String(),
		Confirmations:  res.Policy.Confirmations,
		SubscriptionID: res.SubscriptionID,
		Verification:   string(res.Verification),
		Steps:          make([]StepReport, 0, len(res.Steps)),
		FailedStep:     string(provision.FailedStep(runErr)),
	}
	for _, s := range res.Steps {
		r.Steps = append(r.Steps, StepReport{Step: string(s.Step), Action: string(s.Action), Detail: s.Detail})
	}
	if stepReached(res, provision.StepFunding) {
		r.Funding = &FundingReport{
			Funded:        res.Funding.Funded,
			Amount:        bigOrEmpty(res.Funding.Amount),
			BalanceBefore: bigOrEmpty(res.Funding.BalanceBefore),
			BalanceAfter:  bigOrEmpty(res.Funding.BalanceAfter),
		}
	}
	if stepReached(res, provision.StepDeployment) {
		rec := res.Deployment
		r.Raffle = &RaffleReport{
			Address:       rec.Address.Hex(),
			TxHash:        rec.TxHash.Hex(),
			BlockNumber:   rec.BlockNumber,
			Reused:        res.DeploymentReused,
			ArgsHash:      rec.Args.Hash(),
			Args:          rec.Args.Strings(),
			ConsumerAdded: res.Consumer.Added,
		}
	}
	return r
}

// stepReached reports whether step completed, successfully or as a no-op.
func stepReached(res *provision.Result, step provision.Step) bool {
	for _, s := range res.Steps {
		if s.Step == step && s.Action != provision.ActionFailed {
			return true
		}
	}
	return false
}

func bigOrEmpty(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

// WriteText implements TextRenderer.
func (r *DeployReport) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Run %s on %s (%s, %d confirmations)\n", r.RunID, r.Network, r.Environment, r.Confirmations)
	for _, s := range r.Steps {
		mark := "✓"
		if s.Action == string(provision.ActionFailed) {
			mark = "✗"
		}
		fmt.Fprintf(w, "  %s %-13s %-10s %s\n", mark, s.Step, s.Action, formatDetail(s.Detail))
	}
	if r.Raffle != nil && r.FailedStep == "" {
		state := "deployed"
		if r.Raffle.Reused {
			state = "reused"
		}
		fmt.Fprintf(w, "\nRaffle %s (%s) on subscription %d\n", r.Raffle.Address, state, r.SubscriptionID)
	}
	return nil
}

// formatDetail renders step detail as sorted key=value pairs.
func formatDetail(detail map[string]any) string {
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, detail[k])
	}
	return strings.Join(parts, " ")
}
