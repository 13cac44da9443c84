package fieldstore

import (
	"maps"
	"slices"
	"time"
)

// errorTracker remembers which fields currently carry validation errors.
type errorTracker map[string]struct{}

func (t errorTracker) track(name string, errs *FieldErrors) {
	if errs != nil {
		t[name] = struct{}{}
		return
	}
	delete(t, name)
}

func (t errorTracker) has(names ...string) bool {
	if len(names) == 0 {
		return len(t) > 0
	}
	for _, name := range names {
		if _, ok := t[name]; ok {
			return true
		}
	}
	return false
}

// repository owns the field map. It is not safe for concurrent use; the store
// serializes every call under its mutex. It also serves as the Registry handed
// to validation rules.
type repository struct {
	fields    map[string]Field
	order     []string
	validator Validator
	errors    errorTracker
	now       func() time.Time
}

func newRepository(validator Validator, now func() time.Time) *repository {
	return &repository{
		fields:    make(map[string]Field),
		validator: validator,
		errors:    errorTracker{},
		now:       now,
	}
}

func (r *repository) Get(name string) (Field, bool) {
	field, ok := r.fields[name]
	return field, ok
}

func (r *repository) Exists(name string) bool {
	_, ok := r.fields[name]
	return ok
}

func (r *repository) Values() map[string]any {
	values := make(map[string]any, len(r.fields))
	for name, field := range r.fields {
		values[name] = field.Value
	}
	return values
}

func (r *repository) names() []string {
	return slices.Clone(r.order)
}

func (r *repository) all() []Field {
	out := make([]Field, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.fields[name])
	}
	return out
}

func (r *repository) validate(field Field, value any) *FieldErrors {
	if r.validator == nil || field.Validate == nil {
		return nil
	}
	return r.validator.Validate(value, field.Validate, r)
}

// create inserts field after validating its initial value. The existing
// registration is left untouched on duplicates.
func (r *repository) create(field Field, formatter Formatter) error {
	if _, exists := r.fields[field.Name]; exists {
		return &DuplicateFieldError{Name: field.Name, Registered: r.names(), formatter: formatter}
	}
	field.Errors = r.validate(field, field.Value)
	field.UpdatedAt = r.now()
	r.fields[field.Name] = field
	r.order = append(r.order, field.Name)
	r.errors.track(field.Name, field.Errors)
	return nil
}

func (r *repository) isDirty(field Field, value any) bool {
	return !valuesEqual(field.Type, field.Equal, field.Value, value)
}

// set overwrites the value when the field exists and value is dirty. It
// reports whether anything was written.
func (r *repository) set(name string, value any) bool {
	field, ok := r.fields[name]
	if !ok || !r.isDirty(field, value) {
		return false
	}
	r.override(field, value)
	return true
}

// override revalidates and writes value, errors and timestamp at once.
func (r *repository) override(field Field, value any) {
	field.Value = value
	field.Errors = r.validate(field, value)
	field.UpdatedAt = r.now()
	r.fields[field.Name] = field
	r.errors.track(field.Name, field.Errors)
}

// bulk resets every field to values[name] when present and non-nil, else to
// its default. It returns the touched names in registration order.
func (r *repository) bulk(values map[string]any) []string {
	var touched []string
	for _, name := range r.order {
		candidate, ok := values[name]
		if !ok || candidate == nil {
			candidate = r.fields[name].Default
		}
		if r.set(name, candidate) {
			touched = append(touched, name)
		}
	}
	return touched
}

func (r *repository) update(name string, meta Meta, formatter Formatter) (bool, error) {
	if meta.IsEmpty() {
		return false, nil
	}
	field, ok := r.fields[name]
	if !ok {
		return false, &FieldNotFoundError{Name: name, Operation: "update", formatter: formatter}
	}
	if meta.Submittable != nil {
		field.Submittable = *meta.Submittable
	}
	r.fields[name] = field
	return true, nil
}

func (r *repository) delete(name string) (Field, bool) {
	field, ok := r.fields[name]
	if !ok {
		return Field{}, false
	}
	delete(r.fields, name)
	delete(r.errors, name)
	r.order = slices.DeleteFunc(r.order, func(candidate string) bool { return candidate == name })
	return field, true
}

// clear drops every field and returns the ones that were hydrating.
func (r *repository) clear() []Field {
	var hydrating []Field
	for _, name := range r.order {
		if field := r.fields[name]; field.hydration != 0 {
			hydrating = append(hydrating, field)
		}
	}
	clear(r.fields)
	clear(r.errors)
	r.order = nil
	return hydrating
}

// revalidate reruns validators on current values, all fields when names is
// empty, and reports whether any error state changed.
func (r *repository) revalidate(names ...string) bool {
	if len(names) == 0 {
		names = r.order
	}
	changed := false
	for _, name := range names {
		field, ok := r.fields[name]
		if !ok {
			continue
		}
		errs := r.validate(field, field.Value)
		if sameErrors(field.Errors, errs) {
			continue
		}
		field.Errors = errs
		r.fields[name] = field
		r.errors.track(name, errs)
		changed = true
	}
	return changed
}

// markHydrating flags name as hydrating under token.
func (r *repository) markHydrating(name string, token uint64) {
	field, ok := r.fields[name]
	if !ok {
		return
	}
	field.IsHydrating = true
	field.hydration = token
	r.fields[name] = field
}

// settle clears the hydration flag when token is still current and applies
// value if dirty. It reports whether the hydration was current and whether the
// value changed.
func (r *repository) settle(name string, token uint64, value any) (current, dirty bool) {
	field, ok := r.fields[name]
	if !ok || field.hydration != token {
		return false, false
	}
	field.IsHydrating = false
	field.hydration = 0
	r.fields[name] = field
	return true, r.set(name, value)
}

func (r *repository) isHydrating() bool {
	for _, field := range r.fields {
		if field.IsHydrating {
			return true
		}
	}
	return false
}

// snapshot copies the field map for an immutable Collection.
func (r *repository) snapshot() (map[string]Field, []string) {
	return maps.Clone(r.fields), slices.Clone(r.order)
}
