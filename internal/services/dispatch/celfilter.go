package dispatchsvc

import (
	"encoding/json"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/PhoenixWild29/APFA-Prod-sub001/internal/broker"
)

// celFilter wraps a compiled CEL program used to narrow dead-letter listings.
// When disabled, Eval always returns true.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("routing_key", cel.StringType),
		cel.Variable("attempts", cel.IntType),
		cel.Variable("error", cel.StringType),
		// Milliseconds since the task was submitted
		cel.Variable("age_ms", cel.IntType),
		// Parsed JSON payload for field filtering
		cel.Variable("json", cel.DynType),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return celFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the expression against a dead-lettered task. Evaluation
// errors count as non-matches.
func (f celFilter) Eval(t *broker.Task, nowMs int64) bool {
	if !f.enabled {
		return true
	}
	var jsonObj any
	_ = json.Unmarshal(t.Payload, &jsonObj)
	out, _, err := f.prog.Eval(map[string]any{
		"routing_key": t.RoutingKey,
		"attempts":    int64(t.Attempts),
		"error":       t.LastError,
		"age_ms":      nowMs - t.CreatedAtMs,
		"json":        jsonObj,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
