package fieldstore

import (
	"cmp"
	"fmt"
	"reflect"
	"strconv"
	"time"
	"unicode/utf8"
)

// Condition decides whether a conditional rule applies.
type Condition func(Registry) bool

// Is is a constant condition.
func Is(apply bool) Condition {
	return func(Registry) bool { return apply }
}

// FieldActive holds when the named field is registered with a non-empty
// value.
func FieldActive(name string) Condition {
	return func(registry Registry) bool {
		if registry == nil {
			return false
		}
		field, ok := registry.Get(name)
		return ok && isActiveValue(field.Value)
	}
}

// RuleOption customises a rule from the library.
type RuleOption func(*ruleConfig)

type ruleConfig struct {
	name    string
	message string
	onlyIf  Condition
	format  func(any) string
}

// Named overrides the error name.
func Named(name string) RuleOption {
	return func(cfg *ruleConfig) {
		cfg.name = name
	}
}

// Message overrides the error message.
func Message(message string) RuleOption {
	return func(cfg *ruleConfig) {
		cfg.message = message
	}
}

// OnlyIf skips the rule when cond does not hold.
func OnlyIf(cond Condition) RuleOption {
	return func(cfg *ruleConfig) {
		cfg.onlyIf = cond
	}
}

// Formatted renders bounds inside default messages.
func Formatted(format func(any) string) RuleOption {
	return func(cfg *ruleConfig) {
		cfg.format = format
	}
}

func applyRuleOptions(defaultName string, opts []RuleOption) ruleConfig {
	cfg := ruleConfig{name: defaultName, format: formatBound}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

func (cfg ruleConfig) fail(code, message string, params map[string]any) Verdict {
	if cfg.message != "" {
		message = cfg.message
	}
	return Fail(ValidationError{Name: cfg.name, Code: code, Message: message, Params: params})
}

func (cfg ruleConfig) skip(ctx ValidationContext) bool {
	return cfg.onlyIf != nil && !cfg.onlyIf(ctx.Registry)
}

// Required fails on nil, the empty string and empty lists.
func Required(opts ...RuleOption) Rule {
	cfg := applyRuleOptions("required", opts)
	return func(ctx ValidationContext) Verdict {
		if cfg.skip(ctx) || !isBlank(ctx.Value) {
			return Pass()
		}
		return cfg.fail("required", "Field is required", nil)
	}
}

// Filled fails when field is not registered or holds nil.
func Filled(field string, opts ...RuleOption) Rule {
	cfg := applyRuleOptions("filled", opts)
	return func(ctx ValidationContext) Verdict {
		if cfg.skip(ctx) {
			return Pass()
		}
		if ctx.Registry != nil {
			if other, ok := ctx.Registry.Get(field); ok && other.Value != nil {
				return Pass()
			}
		}
		return cfg.fail("empty", "Field is empty or not exists", map[string]any{"field": field})
	}
}

// Length bounds the number of characters of a string or items of a list.
func Length(min, max int, opts ...RuleOption) Rule {
	return lengthRule(&min, &max, opts)
}

// MinLength is Length without an upper bound.
func MinLength(min int, opts ...RuleOption) Rule {
	return lengthRule(&min, nil, opts)
}

// MaxLength is Length without a lower bound.
func MaxLength(max int, opts ...RuleOption) Rule {
	return lengthRule(nil, &max, opts)
}

func lengthRule(min, max *int, opts []RuleOption) Rule {
	cfg := applyRuleOptions("length", opts)
	return func(ctx ValidationContext) Verdict {
		if cfg.skip(ctx) || ctx.Value == nil {
			return Pass()
		}
		size, unit, ok := measure(ctx.Value)
		if !ok {
			return Pass()
		}
		if (min == nil || size >= *min) && (max == nil || size <= *max) {
			return Pass()
		}
		params := map[string]any{"length": size}
		switch {
		case min != nil && max != nil:
			params["min"], params["max"] = *min, *max
			return cfg.fail("invalid_length", fmt.Sprintf("Field must be between %d and %d %s", *min, *max, unit), params)
		case min != nil:
			params["min"] = *min
			return cfg.fail("invalid_min_length", fmt.Sprintf("Field must be greater than %d %s", *min, unit), params)
		default:
			params["max"] = *max
			return cfg.fail("invalid_max_length", fmt.Sprintf("Field must be less than %d %s", *max, unit), params)
		}
	}
}

func measure(value any) (int, string, bool) {
	if s, ok := value.(string); ok {
		return utf8.RuneCountInString(s), "characters", true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice {
		return rv.Len(), "items", true
	}
	return 0, "", false
}

// Range bounds a number or a date. A nil bound is open. Nil values pass.
func Range(min, max any, opts ...RuleOption) Rule {
	cfg := applyRuleOptions("range", opts)
	return func(ctx ValidationContext) Verdict {
		if cfg.skip(ctx) || ctx.Value == nil {
			return Pass()
		}
		if min != nil {
			if c, ok := compareBound(ctx.Value, min); ok && c < 0 {
				return rangeError(cfg, min, max)
			}
		}
		if max != nil {
			if c, ok := compareBound(ctx.Value, max); ok && c > 0 {
				return rangeError(cfg, min, max)
			}
		}
		return Pass()
	}
}

// AtLeast is Range with only a lower bound.
func AtLeast(min any, opts ...RuleOption) Rule {
	return Range(min, nil, opts...)
}

// AtMost is Range with only an upper bound.
func AtMost(max any, opts ...RuleOption) Rule {
	return Range(nil, max, opts...)
}

func rangeError(cfg ruleConfig, min, max any) Verdict {
	params := map[string]any{}
	switch {
	case min != nil && max != nil:
		params["min"], params["max"] = min, max
		return cfg.fail("invalid_range", fmt.Sprintf("Field must be between %s and %s", cfg.format(min), cfg.format(max)), params)
	case min != nil:
		params["min"] = min
		return cfg.fail("invalid_min_range", "Field must be greater than "+cfg.format(min), params)
	default:
		params["max"] = max
		return cfg.fail("invalid_max_range", "Field must be less than "+cfg.format(max), params)
	}
}

// After requires the value to be greater than or equal to bound. Nil values
// pass; combine with Required to demand a value.
func After(bound any, opts ...RuleOption) Rule {
	cfg := applyRuleOptions("after", opts)
	return func(ctx ValidationContext) Verdict {
		if cfg.skip(ctx) || ctx.Value == nil || bound == nil {
			return Pass()
		}
		if c, ok := compareBound(ctx.Value, bound); !ok || c >= 0 {
			return Pass()
		}
		return cfg.fail("after", "Field must be after "+cfg.format(bound), map[string]any{"bound": bound})
	}
}

// Before requires the value to be lower than or equal to bound. Nil values
// pass.
func Before(bound any, opts ...RuleOption) Rule {
	cfg := applyRuleOptions("before", opts)
	return func(ctx ValidationContext) Verdict {
		if cfg.skip(ctx) || ctx.Value == nil || bound == nil {
			return Pass()
		}
		if c, ok := compareBound(ctx.Value, bound); !ok || c <= 0 {
			return Pass()
		}
		return cfg.fail("before", "Field must be before "+cfg.format(bound), map[string]any{"bound": bound})
	}
}

// When applies rule only while cond holds.
func When(cond Condition, rule Rule) Rule {
	return func(ctx ValidationContext) Verdict {
		if cond != nil && !cond(ctx.Registry) {
			return Pass()
		}
		if rule == nil {
			return Pass()
		}
		return rule(ctx)
	}
}

// WhenAll applies rules, composed with AllOf, only while cond holds.
func WhenAll(cond Condition, failFast bool, rules ...Rule) Rule {
	return When(cond, AllOf(failFast, rules...))
}

// Not inverts rule: it fails when rule passes.
func Not(rule Rule) Rule {
	return func(ctx ValidationContext) Verdict {
		if rule != nil && !rule(ctx).OK() {
			return Pass()
		}
		return Fail(ValidationError{
			Name:    "not",
			Code:    "condition_met",
			Message: "The condition was met, but it should not be",
		})
	}
}

func compareBound(value, bound any) (int, bool) {
	if a, ok := value.(time.Time); ok {
		b, ok := bound.(time.Time)
		if !ok {
			return 0, false
		}
		return a.Compare(b), true
	}
	a, ok := toFloat(value)
	if !ok {
		return 0, false
	}
	b, ok := toFloat(bound)
	if !ok {
		return 0, false
	}
	return cmp.Compare(a.(float64), b.(float64)), true
}

func formatBound(value any) string {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format(time.DateOnly)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
