package activity

import (
	"strings"
	"time"
)

const (
	// ObjectStore is the object type of state change events.
	ObjectStore = "fieldstore"
	// ObjectSearch is the object type of persist events.
	ObjectSearch = "fieldstore.search"
)

// StoreContext identifies the store an event originates from.
type StoreContext struct {
	ID       string
	Label    string
	Version  uint64
	Metadata map[string]any
}

// StoreEventInput describes the common fields of store lifecycle events.
type StoreEventInput struct {
	ActorID        string
	UserID         string
	TenantID       string
	ObjectID       string
	Channel        string
	DefinitionCode string
	Recipients     []string
	Metadata       map[string]any
	Operation      string
	Touched        []string
	Values         map[string]any
	Store          StoreContext
	OccurredAt     time.Time
}

// BuildStateChangedEvent describes a committed mutation. The verb is
// "fieldstore.<operation>", or "fieldstore.commit" for untagged commits.
func BuildStateChangedEvent(input StoreEventInput) Event {
	operation := strings.TrimSpace(input.Operation)
	if operation == "" {
		operation = "commit"
	}
	return buildStoreEvent("fieldstore."+operation, ObjectStore, input)
}

// BuildPersistedEvent describes a submitted search written to the adapter.
func BuildPersistedEvent(input StoreEventInput) Event {
	return buildStoreEvent("fieldstore.persisted", ObjectSearch, input)
}

func buildStoreEvent(verb, objectType string, input StoreEventInput) Event {
	metadata := cloneMap(input.Metadata)
	if input.Operation != "" {
		metadata = ensureMetadata(metadata)
		metadata["operation"] = input.Operation
	}
	if len(input.Touched) > 0 {
		metadata = ensureMetadata(metadata)
		metadata["touched"] = append([]string{}, input.Touched...)
	}
	if len(input.Values) > 0 {
		metadata = ensureMetadata(metadata)
		metadata["values"] = cloneMap(input.Values)
	}
	if input.Store.ID != "" {
		metadata = ensureMetadata(metadata)
		metadata["store_id"] = input.Store.ID
		metadata["store_version"] = input.Store.Version
		if input.Store.Label != "" {
			metadata["store_label"] = input.Store.Label
		}
		if len(input.Store.Metadata) > 0 {
			metadata["store_metadata"] = cloneMap(input.Store.Metadata)
		}
	}

	var recipients []string
	if len(input.Recipients) > 0 {
		recipients = append([]string{}, input.Recipients...)
	}

	objectID := strings.TrimSpace(input.ObjectID)
	if objectID == "" {
		objectID = strings.TrimSpace(input.Store.ID)
	}
	if objectID == "" {
		objectID = objectType
	}

	return Event{
		Verb:           verb,
		ActorID:        strings.TrimSpace(input.ActorID),
		UserID:         strings.TrimSpace(input.UserID),
		TenantID:       strings.TrimSpace(input.TenantID),
		ObjectType:     objectType,
		ObjectID:       objectID,
		Channel:        strings.TrimSpace(input.Channel),
		DefinitionCode: strings.TrimSpace(input.DefinitionCode),
		Recipients:     recipients,
		Metadata:       metadata,
		OccurredAt:     input.OccurredAt,
	}
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
