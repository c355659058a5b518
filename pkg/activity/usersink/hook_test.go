package usersink_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-entity/pkg/activity"
	"github.com/goliatone/go-entity/pkg/activity/usersink"
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

func TestHookNotifyMapsSavedEvent(t *testing.T) {
	sink := &recordingSink{}
	hook := usersink.Hook{Sink: sink}

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	actorID := uuid.New()
	tenantID := uuid.New()

	event := activity.BuildEntitySavedEvent(activity.EntityEventInput{
		ActorID:    actorID.String(),
		TenantID:   tenantID.String(),
		Channel:    "users",
		Handle:     "Handle(user)#1234abcd",
		Table:      "users",
		KeyField:   "name",
		KeyValue:   "John",
		OccurredAt: now,
	})

	if err := hook.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(sink.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(sink.records))
	}
	record := sink.records[0]
	if record.ActorID != actorID || record.TenantID != tenantID {
		t.Fatalf("unexpected identity fields: %+v", record)
	}
	if record.UserID != uuid.Nil {
		t.Fatalf("expected nil user id, got %s", record.UserID)
	}
	if record.Verb != activity.VerbEntitySaved || record.ObjectType != activity.ObjectTypeEntity || record.ObjectID != "John" {
		t.Fatalf("unexpected record payload: %+v", record)
	}
	if record.Channel != "users" {
		t.Fatalf("expected channel users got %q", record.Channel)
	}
	if record.OccurredAt != now {
		t.Fatalf("expected occurred_at %v got %v", now, record.OccurredAt)
	}
	if record.Data["table"] != "users" || record.Data["key_field"] != "name" {
		t.Fatalf("expected metadata passthrough got %+v", record.Data)
	}
}

func TestHookNotifyKeepsNonUUIDActors(t *testing.T) {
	sink := &recordingSink{}
	hook := usersink.Hook{Sink: sink, Channel: "audit"}

	err := hook.Notify(context.Background(), activity.Event{
		Verb:       activity.VerbEntityRemoved,
		ActorID:    "system",
		ObjectType: activity.ObjectTypeEntity,
		ObjectID:   "42",
		Channel:    "entity",
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	record := sink.records[0]
	if record.ActorID != uuid.Nil {
		t.Fatalf("expected nil actor uuid, got %s", record.ActorID)
	}
	if record.Data["actor_ref"] != "system" {
		t.Fatalf("expected actor_ref preserved, got %+v", record.Data)
	}
	if record.Channel != "audit" {
		t.Fatalf("expected channel override, got %q", record.Channel)
	}
	if record.OccurredAt.IsZero() {
		t.Fatalf("expected occurred_at default")
	}
}

func TestHookNotifySkipsIncompleteEventsAndNilSink(t *testing.T) {
	sink := &recordingSink{}
	if err := (usersink.Hook{Sink: sink}).Notify(context.Background(), activity.Event{Verb: "x"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(sink.records) != 0 {
		t.Fatalf("expected no records, got %d", len(sink.records))
	}
	if err := (usersink.Hook{}).Notify(context.Background(), activity.Event{Verb: "x", ObjectType: "y", ObjectID: "z"}); err != nil {
		t.Fatalf("expected nil error for nil sink, got %v", err)
	}
}

func TestHookNotifyPropagatesSinkError(t *testing.T) {
	boom := errors.New("sink down")
	hook := usersink.Hook{Sink: &recordingSink{err: boom}}
	err := hook.Notify(context.Background(), activity.Event{Verb: "v", ObjectType: "o", ObjectID: "1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected sink error, got %v", err)
	}
}
