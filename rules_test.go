package fieldstore

import (
	"maps"
	"testing"
	"time"
)

type stubRegistry map[string]any

func (r stubRegistry) Get(name string) (Field, bool) {
	value, ok := r[name]
	return Field{Definition: Definition{Name: name}, Value: value}, ok
}

func (r stubRegistry) Exists(name string) bool {
	_, ok := r[name]
	return ok
}

func (r stubRegistry) Values() map[string]any {
	return maps.Clone(r)
}

func check(rule Rule, value any, registry Registry) Verdict {
	return rule(ValidationContext{Value: value, Registry: registry})
}

func firstError(t *testing.T, verdict Verdict) ValidationError {
	t.Helper()
	if verdict.OK() {
		t.Fatalf("expected failure")
	}
	errs := verdict.Errors()
	if len(errs) == 0 {
		t.Fatalf("expected detailed failure")
	}
	return errs[0]
}

func TestRequired(t *testing.T) {
	cases := []struct {
		name  string
		value any
		ok    bool
	}{
		{"nil", nil, false},
		{"empty string", "", false},
		{"empty list", []string{}, false},
		{"text", "boots", true},
		{"zero", float64(0), true},
		{"false", false, true},
		{"list", []string{"a"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := check(Required(), tc.value, nil).OK(); got != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, got)
			}
		})
	}

	err := firstError(t, check(Required(Named("query"), Message("Type something")), nil, nil))
	if err.Name != "query" || err.Code != "required" || err.Message != "Type something" {
		t.Fatalf("unexpected error %+v", err)
	}

	conditional := Required(OnlyIf(FieldActive("category")))
	if !check(conditional, nil, stubRegistry{"category": ""}).OK() {
		t.Fatalf("expected rule skipped while category is empty")
	}
	if check(conditional, nil, stubRegistry{"category": "shoes"}).OK() {
		t.Fatalf("expected rule applied once category is set")
	}
}

func TestFilled(t *testing.T) {
	rule := Filled("startDate")
	if !check(rule, nil, stubRegistry{"startDate": time.Now()}).OK() {
		t.Fatalf("expected pass when sibling holds a value")
	}
	err := firstError(t, check(rule, nil, stubRegistry{"startDate": nil}))
	if err.Code != "empty" || err.Params["field"] != "startDate" {
		t.Fatalf("unexpected error %+v", err)
	}
	if check(rule, nil, stubRegistry{}).OK() {
		t.Fatalf("expected failure for unknown sibling")
	}
}

func TestLengthRules(t *testing.T) {
	cases := []struct {
		name  string
		rule  Rule
		value any
		code  string
		msg   string
	}{
		{"between", Length(2, 4), "a", "invalid_length", "Field must be between 2 and 4 characters"},
		{"min", MinLength(3), "ab", "invalid_min_length", "Field must be greater than 3 characters"},
		{"max", MaxLength(1), []string{"a", "b"}, "invalid_max_length", "Field must be less than 1 items"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := firstError(t, check(tc.rule, tc.value, nil))
			if err.Code != tc.code || err.Message != tc.msg {
				t.Fatalf("unexpected error %+v", err)
			}
		})
	}

	// five runes, eleven bytes
	if check(MaxLength(4), "ñandú", nil).OK() {
		t.Fatalf("expected rune counting")
	}
	if !check(Length(1, 2), nil, nil).OK() || !check(Length(1, 2), float64(10), nil).OK() {
		t.Fatalf("nil and unmeasurable values pass")
	}
}

func TestRangeRules(t *testing.T) {
	if !check(Range(1, 10), float64(5), nil).OK() {
		t.Fatalf("expected in range")
	}
	err := firstError(t, check(Range(1, 10), float64(11), nil))
	if err.Code != "invalid_range" || err.Message != "Field must be between 1 and 10" {
		t.Fatalf("unexpected error %+v", err)
	}
	err = firstError(t, check(AtLeast(2.5), float64(1), nil))
	if err.Code != "invalid_min_range" || err.Message != "Field must be greater than 2.5" {
		t.Fatalf("unexpected error %+v", err)
	}

	june := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	err = firstError(t, check(AtMost(june), june.AddDate(0, 0, 1), nil))
	if err.Code != "invalid_max_range" || err.Message != "Field must be less than 2024-06-01" {
		t.Fatalf("unexpected error %+v", err)
	}
	if !check(Range(1, 10), nil, nil).OK() || !check(Range(1, 10), "text", nil).OK() {
		t.Fatalf("nil and incomparable values pass")
	}

	money := Formatted(func(v any) string { return "$" + formatBound(v) })
	err = firstError(t, check(AtLeast(5, money), float64(1), nil))
	if err.Message != "Field must be greater than $5" {
		t.Fatalf("unexpected formatted message %q", err.Message)
	}
}

func TestAfterAndBefore(t *testing.T) {
	start := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	if !check(After(start), start, nil).OK() {
		t.Fatalf("equal dates pass After")
	}
	err := firstError(t, check(After(start), start.AddDate(0, 0, -9), nil))
	if err.Code != "after" || err.Message != "Field must be after 2024-06-10" {
		t.Fatalf("unexpected error %+v", err)
	}
	err = firstError(t, check(Before(start), start.AddDate(0, 0, 1), nil))
	if err.Code != "before" {
		t.Fatalf("unexpected error %+v", err)
	}
	if !check(After(nil), start, nil).OK() || !check(Before(start), nil, nil).OK() {
		t.Fatalf("nil bound and nil value pass")
	}
	if !check(After(start), float64(1), nil).OK() {
		t.Fatalf("incomparable values pass")
	}
}

func TestAllOfFlattensOneLevel(t *testing.T) {
	silent := func(ValidationContext) Verdict { return Fail() }
	nested := AllOf(false, Required(), MinLength(3))

	verdict := check(AllOf(false, silent, nested), "", nil)
	if verdict.OK() || len(verdict.Errors()) != 2 {
		t.Fatalf("expected two flattened errors, got %+v", verdict.Errors())
	}

	verdict = check(AllOf(true, silent, nested), "", nil)
	if verdict.OK() || len(verdict.Errors()) != 0 {
		t.Fatalf("expected silent failure to stop fail-fast, got %+v", verdict.Errors())
	}

	verdict = check(AllOf(true, nested, Required()), "", nil)
	if len(verdict.Errors()) != 1 {
		t.Fatalf("expected one error in fail-fast mode, got %+v", verdict.Errors())
	}
	if !check(AllOf(true), nil, nil).OK() {
		t.Fatalf("empty composition passes")
	}
}

func TestWhenAndNot(t *testing.T) {
	rule := When(Is(false), Required())
	if !check(rule, nil, nil).OK() {
		t.Fatalf("expected skipped rule")
	}
	if check(When(Is(true), Required()), nil, nil).OK() {
		t.Fatalf("expected applied rule")
	}

	grouped := WhenAll(FieldActive("endDate"), false, Required(), MinLength(2))
	verdict := check(grouped, "", stubRegistry{"endDate": time.Now()})
	if len(verdict.Errors()) != 2 {
		t.Fatalf("expected both grouped errors, got %+v", verdict.Errors())
	}

	err := firstError(t, check(Not(Required()), "x", nil))
	if err.Code != "condition_met" {
		t.Fatalf("unexpected error %+v", err)
	}
	if !check(Not(Required()), "", nil).OK() {
		t.Fatalf("expected Not to pass when the inner rule fails")
	}
}

func TestValidatorReturnsNilForValidValues(t *testing.T) {
	validator := NewValidator(true)
	if errs := validator.Validate("boots", Rules(Required()), nil); errs != nil {
		t.Fatalf("expected nil, got %+v", errs)
	}
	errs := validator.Validate(nil, Rules(func(ValidationContext) Verdict { return Fail() }), nil)
	if errs == nil || len(errs.All) != 0 {
		t.Fatalf("expected failed state without detail, got %+v", errs)
	}
	if _, ok := errs.First(); ok {
		t.Fatalf("expected no first error")
	}
	if validator.Validate(nil, nil, nil) != nil {
		t.Fatalf("nil schema is valid")
	}
}
