// Package activity fans field store lifecycle events out to audit hooks.
package activity

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Event describes a store occurrence that can be fanned out to hooks. IDs are
// strings so call sites are not coupled to a UUID type.
type Event struct {
	Verb           string
	ActorID        string
	UserID         string
	TenantID       string
	ObjectType     string
	ObjectID       string
	Channel        string
	DefinitionCode string
	Recipients     []string
	Metadata       map[string]any
	OccurredAt     time.Time
}

// ActivityHook receives normalized events.
type ActivityHook interface {
	Notify(ctx context.Context, event Event) error
}

// HookFunc allows plain functions to satisfy ActivityHook.
type HookFunc func(ctx context.Context, event Event) error

// Notify dispatches to the underlying function.
func (fn HookFunc) Notify(ctx context.Context, event Event) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, event)
}

// Hooks fans out events to zero or more hooks.
type Hooks []ActivityHook

// Enabled reports whether there are any hooks to notify.
func (h Hooks) Enabled() bool {
	return len(h) > 0
}

// Notify forwards the normalized event to every hook and joins their errors.
// Events without a verb or object are dropped. A panicking hook is reported
// as a HookPanicError so the remaining hooks still run.
func (h Hooks) Notify(ctx context.Context, event Event) error {
	if len(h) == 0 {
		return nil
	}
	normalized := NormalizeEvent(event)
	if !normalized.Complete() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	for i, hook := range h {
		if hook == nil {
			continue
		}
		if err := notifyOne(ctx, i, hook, normalized); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HookPanicError wraps the value a hook panicked with.
type HookPanicError struct {
	Index int
	Verb  string
	Value any
}

func (e *HookPanicError) Error() string {
	return fmt.Sprintf("activity: hook %d panicked on %s: %v", e.Index, e.Verb, e.Value)
}

func notifyOne(ctx context.Context, index int, hook ActivityHook, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HookPanicError{Index: index, Verb: event.Verb, Value: r}
		}
	}()
	return hook.Notify(ctx, event)
}

// Complete reports whether the event names a verb and an object.
func (e Event) Complete() bool {
	return e.Verb != "" && e.ObjectType != "" && e.ObjectID != ""
}

// Touched returns the field names a state change event recorded, if any.
func (e Event) Touched() []string {
	names, _ := e.Metadata["touched"].([]string)
	return names
}

// NormalizeEvent trims identifiers, clones metadata and recipients and
// defaults the timestamp.
func NormalizeEvent(event Event) Event {
	normalized := event
	for _, id := range []*string{
		&normalized.Verb, &normalized.ActorID, &normalized.UserID, &normalized.TenantID,
		&normalized.ObjectType, &normalized.ObjectID, &normalized.Channel, &normalized.DefinitionCode,
	} {
		*id = strings.TrimSpace(*id)
	}
	normalized.Metadata = cloneMap(event.Metadata)
	normalized.Recipients = nil
	if len(event.Recipients) > 0 {
		normalized.Recipients = slices.Clone(event.Recipients)
	}
	if normalized.OccurredAt.IsZero() {
		normalized.OccurredAt = time.Now()
	}
	return normalized
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}
