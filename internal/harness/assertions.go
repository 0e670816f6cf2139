package harness

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"sort"
	"strings"

	"github.com/neftyr/raffle-deploy/internal/provision"
	"github.com/neftyr/raffle-deploy/internal/simchain"
	"github.com/neftyr/raffle-deploy/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string          // Assertion type for categorization
	Expected string          // Human-readable expected outcome
	Actual   string          // Human-readable actual outcome
	Trace    []simchain.Call // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, call := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] #%d %s %v\n", i+1, call.Block, call.Method, call.Args)
		}
	}

	return buf.String()
}

// assertTraceContains checks if the trace contains a call to the method whose
// args match positionally.
func assertTraceContains(trace []simchain.Call, assertion Assertion) error {
	for _, call := range trace {
		if call.Method == assertion.Method && matchArgs(call.Args, assertion.Args) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("call %s with args %v", assertion.Method, assertion.Args),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if methods were first called in the specified order.
// Calls don't need to be consecutive (intervening calls are allowed).
func assertTraceOrder(trace []simchain.Call, assertion Assertion) error {
	positions := make(map[string]int)
	for i, call := range trace {
		if _, seen := positions[call.Method]; !seen {
			positions[call.Method] = i + 1 // 1-indexed for readability
		}
	}

	for _, method := range assertion.Methods {
		if positions[method] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all methods called: %v", assertion.Methods),
				Actual:   fmt.Sprintf("missing call: %s", method),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Methods); i++ {
		prev := assertion.Methods[i-1]
		curr := assertion.Methods[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("calls in order: %v", assertion.Methods),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks if the method was called exactly the specified
// number of times.
func assertTraceCount(trace []simchain.Call, assertion Assertion) error {
	count := 0
	for _, call := range trace {
		if call.Method == assertion.Method {
			count++
		}
	}

	if count != *assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d calls to %s", *assertion.Count, assertion.Method),
			Actual:   fmt.Sprintf("%d calls", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertStepAction checks the action a run recorded for a step.
func assertStepAction(result *Result, assertion Assertion) error {
	run, ok := result.run(assertion.Run)
	if !ok {
		return fmt.Errorf("step_action: run %d does not exist (%d runs)", assertion.Run, len(result.Runs))
	}
	for _, outcome := range run.Result.Steps {
		if string(outcome.Step) != assertion.Step {
			continue
		}
		if string(outcome.Action) == assertion.Action {
			return nil
		}
		return &AssertionError{
			Type:     AssertStepAction,
			Expected: fmt.Sprintf("%s step %s in run %s", assertion.Step, assertion.Action, run.Result.RunID),
			Actual:   fmt.Sprintf("%s step %s", assertion.Step, outcome.Action),
		}
	}
	return &AssertionError{
		Type:     AssertStepAction,
		Expected: fmt.Sprintf("%s step %s in run %s", assertion.Step, assertion.Action, run.Result.RunID),
		Actual:   fmt.Sprintf("step not reached (steps: %s)", stepSummary(run.Result.Steps)),
	}
}

// assertRunError checks that a run failed, optionally at a given step and
// with a given message.
func assertRunError(result *Result, assertion Assertion) error {
	run, ok := result.run(assertion.Run)
	if !ok {
		return fmt.Errorf("run_error: run %d does not exist (%d runs)", assertion.Run, len(result.Runs))
	}
	if run.Err == nil {
		return &AssertionError{
			Type:     AssertRunError,
			Expected: fmt.Sprintf("run %s to fail", run.Result.RunID),
			Actual:   "run succeeded",
		}
	}
	if assertion.Step != "" {
		if got := provision.FailedStep(run.Err); string(got) != assertion.Step {
			return &AssertionError{
				Type:     AssertRunError,
				Expected: fmt.Sprintf("failure at step %s", assertion.Step),
				Actual:   fmt.Sprintf("failure at step %q: %v", got, run.Err),
			}
		}
	}
	if assertion.Contains != "" && !strings.Contains(run.Err.Error(), assertion.Contains) {
		return &AssertionError{
			Type:     AssertRunError,
			Expected: fmt.Sprintf("error containing %q", assertion.Contains),
			Actual:   run.Err.Error(),
		}
	}
	return nil
}

// assertSubscription checks the final remote state of the subscription the
// selected run resolved.
func assertSubscription(chain *simchain.Chain, result *Result, assertion Assertion) error {
	run, ok := result.run(assertion.Run)
	if !ok {
		return fmt.Errorf("subscription: run %d does not exist (%d runs)", assertion.Run, len(result.Runs))
	}
	id := run.Result.SubscriptionID
	balance := chain.Balance(id)
	if balance == nil {
		return &AssertionError{
			Type:     AssertSubscription,
			Expected: fmt.Sprintf("subscription %d to exist", id),
			Actual:   "not found on coordinator",
		}
	}

	if assertion.MinBalance != "" {
		floor, _ := new(big.Int).SetString(assertion.MinBalance, 10)
		if balance.Cmp(floor) < 0 {
			return &AssertionError{
				Type:     AssertSubscription,
				Expected: fmt.Sprintf("balance of subscription %d >= %s", id, floor),
				Actual:   balance.String(),
			}
		}
	}
	if assertion.Count != nil {
		if got := len(chain.Consumers(id)); got != *assertion.Count {
			return &AssertionError{
				Type:     AssertSubscription,
				Expected: fmt.Sprintf("%d consumers on subscription %d", *assertion.Count, id),
				Actual:   fmt.Sprintf("%d consumers", got),
			}
		}
	}
	return nil
}

// assertFinalState checks if a store table contains the expected values.
// Queries the table with parameterized SQL and validates expected values
// using subset semantics.
//
// Security: Table and column names are validated against a whitelist pattern
// to prevent SQL injection via identifier interpolation.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.DB().QueryContext(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]any, len(columns))
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	keys := sortedKeys(assertion.Expect)
	for _, key := range keys {
		expectedValue := assertion.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}

	return nil
}

// buildWhereClause constructs parameterized WHERE clause from assertion.Where.
// Keys are sorted for determinism.
//
// Security: Column names are validated against a whitelist pattern to prevent
// SQL injection via identifier interpolation.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := sortedKeys(where)
	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}

	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML-decoded value to a SQL-compatible value.
func toSQLValue(v any) any {
	switch val := v.(type) {
	case string, int, int64, bool:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	keys := sortedKeys(where)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares expected YAML values with SQLite column values.
// SQLite returns int64 for integers and string or []byte for text.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}

	switch exp := expected.(type) {
	case string:
		act, ok := actual.(string)
		return ok && exp == act
	case int:
		act, ok := actual.(int64)
		return ok && int64(exp) == act
	case int64:
		act, ok := actual.(int64)
		return ok && exp == act
	case bool:
		if act, ok := actual.(bool); ok {
			return exp == act
		}
		act, ok := actual.(int64)
		return ok && exp == (act != 0)
	}
	return fmt.Sprint(expected) == fmt.Sprint(actual)
}

// matchArgs checks expected args positionally against actual args.
// "*" matches any value; extra actual args are ignored.
func matchArgs(actual, expected []string) bool {
	if len(expected) > len(actual) {
		return false
	}
	for i, want := range expected {
		if want != "*" && !strings.EqualFold(want, actual[i]) {
			return false
		}
	}
	return true
}

func stepSummary(steps []provision.StepOutcome) string {
	parts := make([]string, len(steps))
	for i, s := range steps {
		parts[i] = fmt.Sprintf("%s=%s", s.Step, s.Action)
	}
	return strings.Join(parts, ", ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Chain *simchain.Chain
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database and chain access for state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertStepAction:
			err = assertStepAction(result, assertion)
		case AssertRunError:
			err = assertRunError(result, assertion)
		case AssertSubscription:
			if actx == nil || actx.Chain == nil {
				err = fmt.Errorf("assertion[%d]: subscription requires chain context", i)
			} else {
				err = assertSubscription(actx.Chain, result, assertion)
			}
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}
