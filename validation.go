package fieldstore

import (
	"reflect"
)

// ValidationError is the structured failure produced by a rule.
type ValidationError struct {
	Name    string         `json:"name"`
	Code    string         `json:"code"`
	Message string         `json:"message,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
}

// Verdict is the result of a rule: pass, fail without detail, or fail with
// one or more errors.
type Verdict struct {
	failed bool
	errs   []ValidationError
}

// Pass is the successful verdict.
func Pass() Verdict {
	return Verdict{}
}

// Fail builds a failed verdict. Without arguments the failure carries no
// detail.
func Fail(errs ...ValidationError) Verdict {
	return Verdict{failed: true, errs: errs}
}

// OK reports whether the rule passed.
func (v Verdict) OK() bool {
	return !v.failed
}

// Errors returns the detailed errors of a failed verdict.
func (v Verdict) Errors() []ValidationError {
	return v.errs
}

// FieldErrors is the error state of a field. A non-nil value with no entries
// means the field is invalid without detail.
type FieldErrors struct {
	All []ValidationError `json:"all"`
}

// First returns the first detailed error.
func (e *FieldErrors) First() (ValidationError, bool) {
	if e == nil || len(e.All) == 0 {
		return ValidationError{}, false
	}
	return e.All[0], true
}

// Registry gives rules read access to the other registered fields.
type Registry interface {
	Get(name string) (Field, bool)
	Exists(name string) bool
	Values() map[string]any
}

// ValidationContext is the input of a rule.
type ValidationContext struct {
	Value    any
	Registry Registry
}

// Rule validates a value.
type Rule func(ValidationContext) Verdict

// Schema computes the rules that apply to a value. Computing the schema from
// the context lets a field's rules depend on other fields.
type Schema func(ValidationContext) []Rule

// Rules builds a schema from a fixed rule list.
func Rules(rules ...Rule) Schema {
	return func(ValidationContext) []Rule {
		return rules
	}
}

// Validator runs a schema against a value. It returns nil when the value is
// valid.
type Validator interface {
	Validate(value any, schema Schema, registry Registry) *FieldErrors
}

// RuleValidator composes a schema with AllOf.
type RuleValidator struct {
	FailFast bool
}

// NewValidator builds the default validator.
func NewValidator(failFast bool) *RuleValidator {
	return &RuleValidator{FailFast: failFast}
}

func (v *RuleValidator) Validate(value any, schema Schema, registry Registry) *FieldErrors {
	if schema == nil {
		return nil
	}
	ctx := ValidationContext{Value: value, Registry: registry}
	verdict := AllOf(v.FailFast, schema(ctx)...)(ctx)
	if verdict.OK() {
		return nil
	}
	return &FieldErrors{All: verdict.Errors()}
}

// AllOf composes rules. In fail-fast mode the first failing rule decides and
// only its first error is kept; otherwise every rule runs and errors
// accumulate, one level deep. A failure without detail marks the result as
// failed without adding an entry.
func AllOf(failFast bool, rules ...Rule) Rule {
	return func(ctx ValidationContext) Verdict {
		failed := false
		var collected []ValidationError
		for _, rule := range rules {
			if rule == nil {
				continue
			}
			verdict := rule(ctx)
			if verdict.OK() {
				continue
			}
			if failFast {
				if errs := verdict.Errors(); len(errs) > 0 {
					return Fail(errs[0])
				}
				return Fail()
			}
			failed = true
			collected = append(collected, verdict.Errors()...)
		}
		if !failed {
			return Pass()
		}
		return Fail(collected...)
	}
}

func sameErrors(a, b *FieldErrors) bool {
	if a == nil || b == nil {
		return a == b
	}
	return reflect.DeepEqual(a.All, b.All)
}
