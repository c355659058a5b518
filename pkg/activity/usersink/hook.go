// Package usersink forwards entity lifecycle events to a go-users
// ActivitySink.
package usersink

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-entity/pkg/activity"
	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/google/uuid"
)

// Hook adapts activity events to a go-users ActivitySink.
type Hook struct {
	Sink usertypes.ActivitySink
	// Channel overrides the event channel when set.
	Channel string
}

// Notify maps the event into an ActivityRecord. Identity fields that are not
// UUIDs are recorded as uuid.Nil and preserved under Data.
func (h Hook) Notify(ctx context.Context, event activity.Event) error {
	if h.Sink == nil {
		return nil
	}

	normalized := activity.NormalizeEvent(event)
	if normalized.Verb == "" || normalized.ObjectType == "" || normalized.ObjectID == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	data := copyData(normalized.Metadata)
	channel := normalized.Channel
	if override := strings.TrimSpace(h.Channel); override != "" {
		channel = override
	}

	record := usertypes.ActivityRecord{
		ActorID:    identity(normalized.ActorID, "actor_ref", data),
		UserID:     identity(normalized.UserID, "user_ref", data),
		TenantID:   identity(normalized.TenantID, "tenant_ref", data),
		Verb:       normalized.Verb,
		ObjectType: normalized.ObjectType,
		ObjectID:   normalized.ObjectID,
		Channel:    channel,
		Data:       data,
		OccurredAt: normalized.OccurredAt,
	}
	if record.OccurredAt.IsZero() {
		record.OccurredAt = time.Now()
	}
	if len(record.Data) == 0 {
		record.Data = nil
	}

	return h.Sink.Log(ctx, record)
}

func identity(raw, refKey string, data map[string]any) uuid.UUID {
	if raw == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		data[refKey] = raw
		return uuid.Nil
	}
	return id
}

func copyData(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}
