// Package usersink forwards field store activity to a go-users ActivitySink.
//
// Identifiers that are not UUIDs cannot be stored in the typed record
// columns; the actor is then kept under Data["actor_ref"].
package usersink

import (
	"context"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/goliatone/go-fieldstore/pkg/activity"
	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/google/uuid"
)

// Hook adapts activity events to a go-users ActivitySink.
type Hook struct {
	Sink usertypes.ActivitySink
	// Verbs restricts forwarding to the listed verbs, for instance only
	// "fieldstore.persisted" to audit submitted searches. Empty forwards all.
	Verbs []string
}

// Notify forwards event when it is complete and its verb is selected.
func (h Hook) Notify(ctx context.Context, event activity.Event) error {
	if h.Sink == nil {
		return nil
	}
	record, ok := Record(event)
	if !ok {
		return nil
	}
	if len(h.Verbs) > 0 && !slices.Contains(h.Verbs, record.Verb) {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return h.Sink.Log(ctx, record)
}

// Record maps event into an ActivityRecord. It reports false for events
// without a verb or object.
func Record(event activity.Event) (usertypes.ActivityRecord, bool) {
	event = activity.NormalizeEvent(event)
	if !event.Complete() {
		return usertypes.ActivityRecord{}, false
	}

	data := cloneMap(event.Metadata)
	set := func(key string, value any) {
		if data == nil {
			data = map[string]any{}
		}
		data[key] = value
	}

	record := usertypes.ActivityRecord{
		ActorID:    parseUUID(event.ActorID),
		UserID:     parseUUID(event.UserID),
		TenantID:   parseUUID(event.TenantID),
		Verb:       event.Verb,
		ObjectType: event.ObjectType,
		ObjectID:   event.ObjectID,
		Channel:    event.Channel,
		OccurredAt: event.OccurredAt,
	}
	if record.OccurredAt.IsZero() {
		record.OccurredAt = time.Now()
	}
	if event.DefinitionCode != "" {
		set("definition_code", event.DefinitionCode)
	}
	if len(event.Recipients) > 0 {
		set("recipients", slices.Clone(event.Recipients))
	}
	if record.ActorID == uuid.Nil && event.ActorID != "" {
		set("actor_ref", event.ActorID)
	}
	if record.UserID == uuid.Nil && event.UserID != "" {
		set("user_ref", event.UserID)
	}
	record.Data = data
	return record, true
}

func parseUUID(input string) uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(input))
	if err != nil {
		return uuid.Nil
	}
	return id
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}
