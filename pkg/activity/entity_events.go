package activity

import (
	"fmt"
	"strings"
	"time"
)

const (
	VerbEntityCreated  = "entity.created"
	VerbEntitySaved    = "entity.saved"
	VerbEntityRemoved  = "entity.removed"
	VerbManagerCleaned = "entity.manager.cleaned"

	ObjectTypeEntity  = "entity"
	ObjectTypeManager = "entity.manager"
)

// EntityEventInput describes the fields shared by entity lifecycle events.
type EntityEventInput struct {
	ActorID    string
	UserID     string
	TenantID   string
	Channel    string
	ObjectType string
	Handle     string
	Table      string
	Mode       string
	KeyField   string
	KeyValue   any
	Count      int
	Metadata   map[string]any
	OccurredAt time.Time
}

// BuildEntityCreatedEvent describes a Builder registered for a handle.
func BuildEntityCreatedEvent(input EntityEventInput) Event {
	return buildEntityEvent(VerbEntityCreated, ObjectTypeEntity, input)
}

// BuildEntitySavedEvent describes an entity committed to the local mirror.
func BuildEntitySavedEvent(input EntityEventInput) Event {
	return buildEntityEvent(VerbEntitySaved, ObjectTypeEntity, input)
}

// BuildEntityRemovedEvent describes an entity dropped from the mirror.
func BuildEntityRemovedEvent(input EntityEventInput) Event {
	return buildEntityEvent(VerbEntityRemoved, ObjectTypeEntity, input)
}

// BuildManagerCleanedEvent describes a Manager drained by Clean. The object
// id falls back to the table name, then to the object type.
func BuildManagerCleanedEvent(input EntityEventInput) Event {
	input.Handle = ""
	return buildEntityEvent(VerbManagerCleaned, ObjectTypeManager, input)
}

func buildEntityEvent(verb, defaultObjectType string, input EntityEventInput) Event {
	metadata := cloneMap(input.Metadata)
	set := func(key string, value any) {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata[key] = value
	}
	if input.Handle != "" {
		set("handle", input.Handle)
	}
	if input.Table != "" {
		set("table", input.Table)
	}
	if input.Mode != "" {
		set("mode", input.Mode)
	}
	if input.KeyField != "" {
		set("key_field", input.KeyField)
	}
	if input.KeyValue != nil {
		set("key_value", input.KeyValue)
	}
	if verb == VerbManagerCleaned {
		set("count", input.Count)
	}

	objectType := strings.TrimSpace(input.ObjectType)
	if objectType == "" {
		objectType = defaultObjectType
	}

	return Event{
		Verb:       verb,
		ActorID:    strings.TrimSpace(input.ActorID),
		UserID:     strings.TrimSpace(input.UserID),
		TenantID:   strings.TrimSpace(input.TenantID),
		ObjectType: objectType,
		ObjectID:   entityObjectID(input, objectType),
		Channel:    strings.TrimSpace(input.Channel),
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}

func entityObjectID(input EntityEventInput, objectType string) string {
	if input.KeyValue != nil {
		if id := strings.TrimSpace(fmt.Sprint(input.KeyValue)); id != "" {
			return id
		}
	}
	if id := strings.TrimSpace(input.Handle); id != "" {
		return id
	}
	if id := strings.TrimSpace(input.Table); id != "" {
		return id
	}
	return objectType
}
