package usersink_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-fieldstore/pkg/activity"
	"github.com/goliatone/go-fieldstore/pkg/activity/usersink"
	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/google/uuid"
)

type recordingSink struct {
	records []usertypes.ActivityRecord
	err     error
}

func (s *recordingSink) Log(_ context.Context, record usertypes.ActivityRecord) error {
	s.records = append(s.records, record)
	return s.err
}

func TestHookNotifyMapsEvent(t *testing.T) {
	sink := &recordingSink{}
	hook := usersink.Hook{Sink: sink}

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	actorID := uuid.New()
	userID := uuid.New()
	tenantID := uuid.New()
	objectID := uuid.New().String()

	event := activity.Event{
		Verb:           "fieldstore.set",
		ActorID:        actorID.String(),
		UserID:         userID.String(),
		TenantID:       tenantID.String(),
		ObjectType:     "fieldstore",
		ObjectID:       objectID,
		Channel:        "fieldstore",
		DefinitionCode: "fieldstore:set",
		Recipients:     []string{"recipient@example.com"},
		Metadata: map[string]any{
			"touched": "q",
		},
		OccurredAt: now,
	}

	if err := hook.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if len(sink.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(sink.records))
	}
	record := sink.records[0]
	if record.ActorID != actorID {
		t.Fatalf("expected actor %s got %s", actorID, record.ActorID)
	}
	if record.UserID != userID {
		t.Fatalf("expected user %s got %s", userID, record.UserID)
	}
	if record.TenantID != tenantID {
		t.Fatalf("expected tenant %s got %s", tenantID, record.TenantID)
	}
	if record.Verb != "fieldstore.set" || record.ObjectType != "fieldstore" || record.ObjectID != objectID {
		t.Fatalf("unexpected record payload: %+v", record)
	}
	if record.Channel != "fieldstore" {
		t.Fatalf("expected channel fieldstore got %q", record.Channel)
	}
	if record.OccurredAt != now {
		t.Fatalf("expected occurred_at %v got %v", now, record.OccurredAt)
	}
	if record.Data["definition_code"] != "fieldstore:set" {
		t.Fatalf("expected definition_code metadata got %v", record.Data["definition_code"])
	}
	if record.Data["touched"] != "q" {
		t.Fatalf("expected metadata passthrough got %v", record.Data["touched"])
	}
	recipients, ok := record.Data["recipients"].([]string)
	if !ok || len(recipients) != 1 || recipients[0] != "recipient@example.com" {
		t.Fatalf("expected recipients metadata got %v", record.Data["recipients"])
	}
}

func TestHookNotifySkipsMissingVerb(t *testing.T) {
	sink := &recordingSink{}
	hook := usersink.Hook{Sink: sink}

	_ = hook.Notify(context.Background(), activity.Event{})

	if len(sink.records) != 0 {
		t.Fatalf("expected no records for empty event, got %d", len(sink.records))
	}
}

func TestHookNotifyDefaultsTimestamp(t *testing.T) {
	sink := &recordingSink{}
	hook := usersink.Hook{Sink: sink}

	err := hook.Notify(context.Background(), activity.Event{
		Verb:       "fieldstore.register",
		ObjectType: "fieldstore",
		ObjectID:   "1",
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(sink.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(sink.records))
	}
	if sink.records[0].OccurredAt.IsZero() {
		t.Fatalf("expected occurred_at to be defaulted")
	}
}

func TestHookNotifyBuildsFromStoreEvent(t *testing.T) {
	sink := &recordingSink{}
	hook := usersink.Hook{Sink: sink}
	event := activity.BuildPersistedEvent(activity.StoreEventInput{
		ActorID: "reviewer",
		Values:  map[string]any{"q": "boots"},
		Store:   activity.StoreContext{ID: "orders"},
	})

	if err := hook.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(sink.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(sink.records))
	}
	record := sink.records[0]
	if record.Verb != "fieldstore.persisted" || record.ObjectID != "orders" {
		t.Fatalf("unexpected record %+v", record)
	}
	if record.ActorID != uuid.Nil || record.Data["actor_ref"] != "reviewer" {
		t.Fatalf("expected non-uuid actor kept as actor_ref, got %v / %v", record.ActorID, record.Data["actor_ref"])
	}
}

func TestHookVerbFilter(t *testing.T) {
	sink := &recordingSink{}
	hook := usersink.Hook{Sink: sink, Verbs: []string{"fieldstore.persisted"}}

	set := activity.BuildStateChangedEvent(activity.StoreEventInput{Operation: "set", Store: activity.StoreContext{ID: "orders"}})
	persisted := activity.BuildPersistedEvent(activity.StoreEventInput{UserID: "u42", Store: activity.StoreContext{ID: "orders"}})
	for _, event := range []activity.Event{set, persisted} {
		if err := hook.Notify(context.Background(), event); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}
	if len(sink.records) != 1 || sink.records[0].Verb != "fieldstore.persisted" {
		t.Fatalf("expected only the persisted event, got %+v", sink.records)
	}
	if sink.records[0].UserID != uuid.Nil || sink.records[0].Data["user_ref"] != "u42" {
		t.Fatalf("expected non-uuid user kept as user_ref, got %+v", sink.records[0])
	}
}

func TestRecordRejectsIncompleteEvents(t *testing.T) {
	if _, ok := usersink.Record(activity.Event{Verb: "fieldstore.set"}); ok {
		t.Fatalf("expected incomplete event to be rejected")
	}
}
