package flow

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
)

// Evaluator resolves a flow block's context-derived fields (a URL, a
// confirm message, an http body) against the session's accumulated context.
// It generalizes the teacher's boolean-only CEL condition evaluator
// (engine/task/cel_evaluator.go) to arbitrary CEL result values, since flow
// blocks need strings and maps back, not just booleans.
type Evaluator struct {
	env          *cel.Env
	costLimit    uint64
	programCache *ristretto.Cache[string, cel.Program]
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*evalConfig)

type evalConfig struct {
	costLimit uint64
}

// WithCostLimit overrides the per-evaluation CEL cost budget.
func WithCostLimit(limit uint64) EvaluatorOption {
	return func(c *evalConfig) { c.costLimit = limit }
}

// NewEvaluator builds a CEL environment over the session context, exposing
// the whole context map as a single dynamic `ctx` variable, so expressions
// read context entries through it (`ctx.integration.clientId`,
// `ctx.creds.clientId`). No other top-level variables are declared.
func NewEvaluator(opts ...EvaluatorOption) (*Evaluator, error) {
	cfg := evalConfig{costLimit: 1000}
	for _, opt := range opts {
		opt(&cfg)
	}
	env, err := cel.NewEnv(
		cel.HomogeneousAggregateLiterals(),
		cel.EagerlyValidateDeclarations(true),
		cel.DefaultUTCTimeZone(true),
		cel.Variable("ctx", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("flow: failed to create CEL environment: %w", err)
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, cel.Program]{
		NumCounters: 1000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("flow: failed to create program cache: %w", err)
	}
	return &Evaluator{env: env, costLimit: cfg.costLimit, programCache: cache}, nil
}

// Evaluate compiles (or fetches from cache) expr and runs it against
// sessionContext, returning the raw CEL result value.
func (e *Evaluator) Evaluate(ctx context.Context, expr string, sessionContext map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("flow: context canceled before evaluation: %w", err)
	}
	program, err := e.compile(expr)
	if err != nil {
		return nil, err
	}
	out, _, err := program.ContextEval(ctx, map[string]any{"ctx": sessionContext})
	if err != nil {
		return nil, fmt.Errorf("flow: evaluation failed: %w", err)
	}
	return out.Value(), nil
}

// EvaluateBool evaluates expr and requires a boolean result.
func (e *Evaluator) EvaluateBool(ctx context.Context, expr string, sessionContext map[string]any) (bool, error) {
	val, err := e.evaluateTyped(ctx, expr, sessionContext)
	if err != nil {
		return false, err
	}
	b, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("flow: expression %q did not produce a boolean result", expr)
	}
	return b, nil
}

func (e *Evaluator) evaluateTyped(ctx context.Context, expr string, sessionContext map[string]any) (ref.Val, error) {
	program, err := e.compile(expr)
	if err != nil {
		return nil, err
	}
	out, _, err := program.ContextEval(ctx, map[string]any{"ctx": sessionContext})
	if err != nil {
		return nil, fmt.Errorf("flow: evaluation failed: %w", err)
	}
	return out, nil
}

func (e *Evaluator) compile(expr string) (cel.Program, error) {
	if cached, ok := e.programCache.Get(expr); ok {
		return cached, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("flow: compilation failed: %w", issues.Err())
	}
	program, err := e.env.Program(ast, cel.CostLimit(e.costLimit))
	if err != nil {
		return nil, fmt.Errorf("flow: failed to build program: %w", err)
	}
	e.programCache.Set(expr, program, 1)
	e.programCache.Wait()
	return program, nil
}

// EvaluateString resolves a TemplatedString: its Literal if no Expr is set,
// otherwise the string produced by evaluating Expr.
func (e *Evaluator) EvaluateString(ctx context.Context, t TemplatedString, sessionContext map[string]any) (string, error) {
	if !t.isExpr() {
		return t.Literal, nil
	}
	val, err := e.Evaluate(ctx, t.Expr, sessionContext)
	if err != nil {
		return "", err
	}
	s, ok := val.(string)
	if !ok {
		return fmt.Sprintf("%v", val), nil
	}
	return s, nil
}

// EvaluateMap resolves a TemplatedMap.
func (e *Evaluator) EvaluateMap(ctx context.Context, t TemplatedMap, sessionContext map[string]any) (map[string]string, error) {
	if !t.isExpr() {
		return t.Literal, nil
	}
	val, err := e.Evaluate(ctx, t.Expr, sessionContext)
	if err != nil {
		return nil, err
	}
	raw, ok := val.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("flow: expression %q did not produce a map", t.Expr)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out, nil
}

// EvaluateValue resolves a TemplatedValue.
func (e *Evaluator) EvaluateValue(ctx context.Context, t TemplatedValue, sessionContext map[string]any) (any, error) {
	if !t.isExpr() {
		return t.Literal, nil
	}
	return e.Evaluate(ctx, t.Expr, sessionContext)
}
