package fieldstore

import (
	"fmt"
	"slices"
	"strings"

	exprlang "github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	exprvm "github.com/expr-lang/expr/vm"
)

// ExprEvaluatorOption configures an expr evaluator instance.
type ExprEvaluatorOption func(*exprEvaluator)

// ExprWithProgramCache shares compiled programs through cache.
func ExprWithProgramCache(cache ProgramCache) ExprEvaluatorOption {
	return func(e *exprEvaluator) {
		e.cache = cache
	}
}

// ExprWithFunctionRegistry exposes registry helpers as expr functions and
// through call(name, args...).
func ExprWithFunctionRegistry(registry *FunctionRegistry) ExprEvaluatorOption {
	return func(e *exprEvaluator) {
		if registry != nil {
			e.registry = registry.Clone()
		}
	}
}

type exprEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewExprEvaluator returns the default evaluator, backed by expr-lang/expr.
// Unknown identifiers evaluate to nil unless the rule was compiled with
// CompileWithVariables, in which case they are rejected at compile time.
func NewExprEvaluator(opts ...ExprEvaluatorOption) Evaluator {
	e := &exprEvaluator{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *exprEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	rule, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}
	return rule.Evaluate(ctx)
}

func (e *exprEvaluator) Compile(expression string, opts ...CompileOption) (CompiledRule, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, emptyExpressionError("expr")
	}
	declared := applyCompileOptions(opts).variables
	key := "expr:" + expression
	if len(declared) > 0 {
		declared = slices.Compact(slices.Sorted(slices.Values(declared)))
		key += "|" + strings.Join(declared, ",")
	}
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if program, ok := cached.(*exprvm.Program); ok {
				return &exprCompiledRule{evaluator: e, program: program, expression: expression}, nil
			}
		}
	}

	if len(declared) > 0 {
		if err := e.checkIdentifiers(expression, declared); err != nil {
			return nil, compileError("expr", expression, err)
		}
	}
	options := []exprlang.Option{
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	}
	for _, name := range e.registry.Names() {
		options = append(options, exprlang.Function(name, e.registryFunction(name)))
	}
	program, err := exprlang.Compile(expression, options...)
	if err != nil {
		return nil, compileError("expr", expression, err)
	}
	if e.cache != nil {
		e.cache.Set(key, program)
	}
	return &exprCompiledRule{evaluator: e, program: program, expression: expression}, nil
}

// identifierCollector records bare identifiers, minus those used as the
// callee of a call and the names bound by let.
type identifierCollector struct {
	idents  []*ast.IdentifierNode
	callees map[*ast.IdentifierNode]bool
	bound   map[string]bool
}

func (c *identifierCollector) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		c.idents = append(c.idents, n)
	case *ast.CallNode:
		if callee, ok := n.Callee.(*ast.IdentifierNode); ok {
			c.callees[callee] = true
		}
	case *ast.VariableDeclaratorNode:
		c.bound[n.Name] = true
	}
}

func (e *exprEvaluator) checkIdentifiers(expression string, declared []string) error {
	tree, err := parser.Parse(expression)
	if err != nil {
		return err
	}
	collector := &identifierCollector{
		callees: map[*ast.IdentifierNode]bool{},
		bound:   map[string]bool{},
	}
	ast.Walk(&tree.Node, collector)

	var unknown []string
	for _, ident := range collector.idents {
		name := ident.Value
		switch {
		case collector.callees[ident], collector.bound[name], strings.HasPrefix(name, "$"):
		case slices.Contains(reservedVariables, name), slices.Contains(declared, name):
		default:
			if !slices.Contains(unknown, name) {
				unknown = append(unknown, name)
			}
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("undeclared identifiers %s", strings.Join(unknown, ", "))
	}
	return nil
}

type exprCompiledRule struct {
	evaluator  *exprEvaluator
	program    *exprvm.Program
	expression string
}

func (r *exprCompiledRule) Evaluate(ctx RuleContext) (any, error) {
	if r.evaluator == nil || r.program == nil {
		return nil, evaluatorError("expr", errDetachedRule)
	}
	ctx = ctx.withDefaults()
	result, err := exprlang.Run(r.program, r.evaluator.environment(ctx))
	if err != nil {
		return nil, evaluationError("expr", r.expression, ctx.Field, err)
	}
	return result, nil
}

func (e *exprEvaluator) environment(ctx RuleContext) map[string]any {
	env := ctx.variables()
	if e.registry != nil {
		env["call"] = func(name string, arguments ...any) (any, error) {
			return e.registry.Call(name, arguments...)
		}
	}
	return env
}

func (e *exprEvaluator) registryFunction(name string) func(...any) (any, error) {
	return func(arguments ...any) (any, error) {
		return e.registry.Call(name, arguments...)
	}
}
