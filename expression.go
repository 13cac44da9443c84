package fieldstore

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrNoEvaluator = errors.New("fieldstore: evaluator not configured")

// EngineOption configures an ExpressionEngine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	evaluator    Evaluator
	programCache ProgramCache
	functions    *FunctionRegistry
	logger       EvaluatorLogger
}

// WithEvaluator replaces the default expr evaluator.
func WithEvaluator(evaluator Evaluator) EngineOption {
	return func(cfg *engineConfig) {
		cfg.evaluator = evaluator
	}
}

// WithProgramCache registers a program cache used by the default evaluator.
func WithProgramCache(cache ProgramCache) EngineOption {
	return func(cfg *engineConfig) {
		cfg.programCache = cache
	}
}

// WithFunctionRegistry exposes registry helpers to the default evaluator.
func WithFunctionRegistry(registry *FunctionRegistry) EngineOption {
	return func(cfg *engineConfig) {
		if registry == nil {
			return
		}
		cfg.functions = registry.Clone()
	}
}

// WithCustomFunction registers fn under name.
func WithCustomFunction(name string, fn Function) EngineOption {
	return func(cfg *engineConfig) {
		if cfg.functions == nil {
			cfg.functions = NewFunctionRegistry()
		}
		_ = cfg.functions.Register(name, fn)
	}
}

// WithEvaluatorLogger attaches an evaluator logger.
func WithEvaluatorLogger(logger EvaluatorLogger) EngineOption {
	return func(cfg *engineConfig) {
		if logger == nil {
			cfg.logger = noopEvaluatorLogger{}
			return
		}
		cfg.logger = logger
	}
}

// ExpressionEngine evaluates expressions against the field registry and builds
// validation rules from them.
type ExpressionEngine struct {
	mu  sync.Mutex
	cfg engineConfig
}

// NewExpressionEngine builds an engine. Without WithEvaluator it lazily
// creates an expr evaluator wired to the configured cache and functions.
func NewExpressionEngine(opts ...EngineOption) *ExpressionEngine {
	cfg := engineConfig{logger: noopEvaluatorLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &ExpressionEngine{cfg: cfg}
}

// NewEvaluatorByName returns the built-in evaluator named engine: expr, cel or
// js (the latter only with the js_eval build tag).
func NewEvaluatorByName(engine string, cache ProgramCache, functions *FunctionRegistry) (Evaluator, error) {
	switch engine {
	case "", "expr":
		return NewExprEvaluator(ExprWithProgramCache(cache), ExprWithFunctionRegistry(functions)), nil
	case "cel":
		return NewCELEvaluator(CELWithProgramCache(cache), CELWithFunctionRegistry(functions)), nil
	case "js":
		if !jsEvaluatorAvailable() {
			return nil, fmt.Errorf("fieldstore: js evaluator requires the js_eval build tag: %w", ErrNoEvaluator)
		}
		return NewJSEvaluator(JSWithProgramCache(cache), JSWithFunctionRegistry(functions)), nil
	}
	return nil, fmt.Errorf("fieldstore: unknown evaluator %q: %w", engine, ErrNoEvaluator)
}

// Evaluate executes expr with ctx.
func (e *ExpressionEngine) Evaluate(ctx RuleContext, expr string) (any, error) {
	evaluator, err := e.resolveEvaluator()
	if err != nil {
		return nil, err
	}
	engine := evaluatorEngineName(evaluator)
	if expr == "" {
		return nil, emptyExpressionError(engine)
	}
	ctx = ctx.withDefaults()
	start := time.Now()
	value, evalErr := evaluator.Evaluate(ctx, expr)
	duration := time.Since(start)
	evalErr = evaluationError(engine, expr, ctx.fieldLabel(), evalErr)
	e.cfg.logger.LogEvaluation(EvaluatorLogEvent{
		Engine:   engine,
		Expr:     expr,
		Field:    ctx.fieldLabel(),
		Duration: duration,
		Err:      evalErr,
	})
	if evalErr != nil {
		return nil, evalErr
	}
	return value, nil
}

// Check compiles expr with fields declared, so misspelled identifiers are
// reported before any value is validated.
func (e *ExpressionEngine) Check(expr string, fields ...string) error {
	evaluator, err := e.resolveEvaluator()
	if err != nil {
		return err
	}
	_, err = evaluator.Compile(expr, CompileWithVariables(fields...))
	return err
}

// Rule builds a validation rule that passes when expr evaluates to true. The
// expression sees every field by name, the validated value as value and the
// current time as now. A non-boolean result or an evaluation error fails the
// rule with code "expression_error".
func (e *ExpressionEngine) Rule(field, expr string, opts ...RuleOption) Rule {
	cfg := applyRuleOptions("expression", opts)
	return func(vctx ValidationContext) Verdict {
		if cfg.skip(vctx) {
			return Pass()
		}
		ctx := RuleContext{Value: vctx.Value, Field: field}
		if vctx.Registry != nil {
			ctx.Snapshot = vctx.Registry.Values()
		}
		result, err := e.Evaluate(ctx, expr)
		if err != nil {
			return cfg.fail("expression_error", err.Error(), map[string]any{"expr": expr})
		}
		ok, isBool := result.(bool)
		if !isBool {
			return cfg.fail("expression_error", fmt.Sprintf("Expression %q did not return a boolean", expr), map[string]any{"expr": expr})
		}
		if ok {
			return Pass()
		}
		return cfg.fail("expression", fmt.Sprintf("Field does not satisfy %s", expr), map[string]any{"expr": expr})
	}
}

var (
	defaultEngineOnce sync.Once
	defaultEngine     *ExpressionEngine
)

// Expression builds a rule on a shared engine backed by the expr evaluator
// with a bounded program cache.
func Expression(field, expr string, opts ...RuleOption) Rule {
	defaultEngineOnce.Do(func() {
		var engineOpts []EngineOption
		if cache, err := NewLRUProgramCache(256); err == nil {
			engineOpts = append(engineOpts, WithProgramCache(cache))
		}
		defaultEngine = NewExpressionEngine(engineOpts...)
	})
	return defaultEngine.Rule(field, expr, opts...)
}

func (e *ExpressionEngine) resolveEvaluator() (Evaluator, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg.evaluator != nil {
		return e.cfg.evaluator, nil
	}
	var exprOpts []ExprEvaluatorOption
	if e.cfg.programCache != nil {
		exprOpts = append(exprOpts, ExprWithProgramCache(e.cfg.programCache))
	}
	if e.cfg.functions != nil {
		exprOpts = append(exprOpts, ExprWithFunctionRegistry(e.cfg.functions))
	}
	evaluator := NewExprEvaluator(exprOpts...)
	if evaluator == nil {
		return nil, ErrNoEvaluator
	}
	e.cfg.evaluator = evaluator
	return evaluator, nil
}

func evaluatorEngineName(e Evaluator) string {
	if e == nil {
		return "unknown"
	}
	switch fmt.Sprintf("%T", e) {
	case "*fieldstore.exprEvaluator":
		return "expr"
	case "*fieldstore.celEvaluator":
		return "cel"
	case "*fieldstore.jsEvaluator":
		return "js"
	default:
		return "custom"
	}
}
