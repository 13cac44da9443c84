package fieldstore

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyExpression is returned when a rule or call names no expression.
var ErrEmptyExpression = errors.New("expression must not be empty")

var errDetachedRule = errors.New("compiled rule missing evaluator")

// Evaluation phases recorded on EvaluationError.
const (
	PhaseCompile  = "compile"
	PhaseEvaluate = "evaluate"
)

// EvaluationError reports a failed expression together with the engine, the
// field whose rule ran it and whether compiling or running it failed.
type EvaluationError struct {
	Engine string
	Expr   string
	Field  string
	Phase  string
	Err    error
}

func (e *EvaluationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "fieldstore: %s evaluator", e.Engine)
	if e.Phase != "" {
		b.WriteString(" " + e.Phase)
	}
	if e.Expr == "" {
		b.WriteString(" expr=<empty>")
	} else {
		fmt.Fprintf(&b, " expr=%q", e.Expr)
	}
	if e.Field != "" {
		b.WriteString(" field=" + e.Field)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *EvaluationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Compile reports whether the expression never compiled.
func (e *EvaluationError) Compile() bool {
	return e != nil && e.Phase == PhaseCompile
}

func emptyExpressionError(engine string) error {
	return &EvaluationError{Engine: engine, Phase: PhaseCompile, Err: ErrEmptyExpression}
}

// evaluatorError prefixes plain engine failures once.
func evaluatorError(engine string, err error) error {
	if err == nil {
		return nil
	}
	var evalErr *EvaluationError
	if errors.As(err, &evalErr) || strings.HasPrefix(err.Error(), "fieldstore:") {
		return err
	}
	return fmt.Errorf("fieldstore: %s evaluator: %w", engine, err)
}

func compileError(engine, expr string, err error) error {
	return annotate(&EvaluationError{Engine: engine, Expr: expr, Phase: PhaseCompile}, err)
}

func evaluationError(engine, expr, field string, err error) error {
	return annotate(&EvaluationError{Engine: engine, Expr: expr, Field: field, Phase: PhaseEvaluate}, err)
}

// annotate fills the blanks of an EvaluationError already in err's chain from
// meta, or wraps err in meta when there is none.
func annotate(meta *EvaluationError, err error) error {
	if err == nil {
		return nil
	}
	var existing *EvaluationError
	if !errors.As(err, &existing) {
		meta.Err = err
		return meta
	}
	if existing.Engine == "" {
		existing.Engine = meta.Engine
	}
	if existing.Expr == "" {
		existing.Expr = meta.Expr
	}
	if existing.Field == "" {
		existing.Field = meta.Field
	}
	if existing.Phase == "" {
		existing.Phase = meta.Phase
	}
	return existing
}
