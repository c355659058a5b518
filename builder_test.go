package entity

import (
	"errors"
	"testing"
)

type account struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

func accountDefaults() account {
	return account{ID: "seeded", Name: "anonymous", Roles: []string{"reader"}}
}

func TestBuilderStripsKeyFromDefaults(t *testing.T) {
	b := NewBuilder(accountDefaults, WithKeyField[account]("id"))
	proto, err := b.Compute()
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if proto.ID != "" {
		t.Fatalf("expected key stripped, got %q", proto.ID)
	}
	if proto.Name != "anonymous" || len(proto.Roles) != 1 {
		t.Fatalf("expected defaults preserved, got %+v", proto)
	}
	if b.KeyField() != "id" {
		t.Fatalf("unexpected key field %q", b.KeyField())
	}
}

func TestBuilderSetAndCompute(t *testing.T) {
	b := NewBuilder(accountDefaults, WithKeyField[account]("ID"))
	b.Set("name", "John").Set("Email", "john@example.com")

	first, err := b.Compute()
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if first.Name != "John" || first.Email != "john@example.com" {
		t.Fatalf("unexpected prototype %+v", first)
	}

	first.Roles[0] = "mutated"
	second, err := b.Compute()
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if second.Roles[0] != "reader" {
		t.Fatalf("computed prototypes share state: %+v", second)
	}
}

func TestBuilderRejectsKeyField(t *testing.T) {
	for _, field := range []string{"ID", "id", "Id"} {
		b := NewBuilder(accountDefaults, WithKeyField[account]("id"))
		b.Set(field, "x")
		if _, err := b.Compute(); !errors.Is(err, ErrCannotOverrideExistingKey) {
			t.Fatalf("%s: expected ErrCannotOverrideExistingKey, got %v", field, err)
		}
	}
}

func TestBuilderErrorsAreSticky(t *testing.T) {
	b := NewBuilder(accountDefaults)
	b.Set("missing", 1).Set("name", "still applied")
	if err := b.Err(); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
	if _, err := b.Compute(); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("expected compute to surface staging error, got %v", err)
	}
}

func TestBuilderApplyKeepsKeyStripped(t *testing.T) {
	b := NewBuilder[account](nil, WithKeyField[account]("id"))
	b.Apply(func(a *account) {
		a.ID = "sneaky"
		a.Name = "Ann"
	})
	proto, err := b.Compute()
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if proto.ID != "" || proto.Name != "Ann" {
		t.Fatalf("unexpected prototype %+v", proto)
	}
}

func TestBuilderWithoutKeyFieldAllowsAnyField(t *testing.T) {
	b := NewBuilder(accountDefaults)
	b.Set("id", "manual")
	proto, err := b.Compute()
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if proto.ID != "manual" {
		t.Fatalf("expected id kept without key policy, got %q", proto.ID)
	}
}

func TestBuilderDefaultsAreCloned(t *testing.T) {
	shared := []string{"reader"}
	b := NewBuilder(func() account { return account{Roles: shared} })
	shared[0] = "admin"
	proto, _ := b.Compute()
	if proto.Roles[0] != "reader" {
		t.Fatalf("builder shares defaults state: %+v", proto)
	}
}
