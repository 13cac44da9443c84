package activity

import (
	"context"
	"slices"
	"strings"
)

// DefaultChannel is applied to events emitted without a channel.
const DefaultChannel = "fieldstore"

// Actor identifies who drives a store. Stores are usually bound to one
// session, so the actor is configured once and may be overridden per call
// through ContextWithActor.
type Actor struct {
	ActorID  string
	UserID   string
	TenantID string
}

// IsZero reports whether no identifier is set.
func (a Actor) IsZero() bool {
	return a.ActorID == "" && a.UserID == "" && a.TenantID == ""
}

type actorKey struct{}

// ContextWithActor attaches actor to ctx for Persist and Register calls.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor attached by ContextWithActor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}

// Config controls emission defaults.
type Config struct {
	Enabled bool
	Channel string
	// Actor fills events that carry no identifiers of their own.
	Actor Actor
}

// Emitter fans events out to hooks after applying the channel and actor
// defaults.
type Emitter struct {
	hooks   Hooks
	enabled bool
	channel string
	actor   Actor
}

func NewEmitter(hooks Hooks, cfg Config) *Emitter {
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = DefaultChannel
	}
	hooks = CloneHooks(hooks)
	return &Emitter{
		hooks:   hooks,
		enabled: cfg.Enabled && len(hooks) > 0,
		channel: channel,
		actor:   cfg.Actor,
	}
}

// Enabled reports whether emissions should be attempted.
func (e *Emitter) Enabled() bool {
	return e != nil && e.enabled
}

// Emit forwards event to every hook. An actor attached to ctx wins over the
// configured one; identifiers already set on event are kept.
func (e *Emitter) Emit(ctx context.Context, event Event) error {
	if !e.Enabled() {
		return nil
	}
	if strings.TrimSpace(event.Channel) == "" {
		event.Channel = e.channel
	}
	actor := e.actor
	if override, ok := ActorFromContext(ctx); ok {
		actor = override
	}
	if event.ActorID == "" {
		event.ActorID = actor.ActorID
	}
	if event.UserID == "" {
		event.UserID = actor.UserID
	}
	if event.TenantID == "" {
		event.TenantID = actor.TenantID
	}
	return e.hooks.Notify(ctx, event)
}

// CloneHooks drops nil hooks and never aliases the caller's slice.
func CloneHooks(hooks Hooks) Hooks {
	normalized := slices.DeleteFunc(slices.Clone(hooks), func(hook ActivityHook) bool {
		return hook == nil
	})
	if len(normalized) == 0 {
		return nil
	}
	return normalized
}
