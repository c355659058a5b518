package hydrate

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

type address struct {
	City string `json:"city"`
	Zip  string `json:"zip"`
}

type userRow struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Email   string   `json:"email"`
	Address address  `json:"address"`
	Tags    []string `json:"tags"`
}

func TestDecoderCases(t *testing.T) {
	cases := []struct {
		name      string
		ctx       Context
		input     map[string]any
		options   []DecoderOption[userRow]
		expect    userRow
		expectErr string
	}{
		{
			name:  "plain payload",
			ctx:   Context{Table: "users", Key: int64(1)},
			input: map[string]any{"id": 1, "name": "John", "address": map[string]any{"city": "Lisbon"}},
			expect: userRow{
				ID:      1,
				Name:    "John",
				Address: address{City: "Lisbon"},
			},
		},
		{
			name:  "pre-hook splits address",
			ctx:   Context{Table: "users"},
			input: map[string]any{"name": "Ann", "address": "Porto-4000"},
			options: []DecoderOption[userRow]{
				WithPreHook[userRow](splitAddress),
			},
			expect: userRow{Name: "Ann", Address: address{City: "Porto", Zip: "4000"}},
		},
		{
			name:  "post-hook tags with table",
			ctx:   Context{Table: "users", Key: "u1"},
			input: map[string]any{"name": "Bo"},
			options: []DecoderOption[userRow]{
				WithPostHook[userRow](tagWithRow),
			},
			expect: userRow{Name: "Bo", Tags: []string{"users[u1]"}},
		},
		{
			name:  "unknown fields rejected",
			ctx:   Context{Table: "users", Key: int64(9)},
			input: map[string]any{"name": "Cy", "nickname": "cy"},
			options: []DecoderOption[userRow]{
				WithDisallowUnknownFields[userRow](),
			},
			expectErr: `decode row "users[9]"`,
		},
		{
			name:  "pre-hook failure",
			ctx:   Context{Table: "users"},
			input: map[string]any{"address": "nowhere"},
			options: []DecoderOption[userRow]{
				WithPreHook[userRow](splitAddress),
			},
			expectErr: "pre-hook",
		},
		{
			name:  "custom decoder",
			ctx:   Context{Table: "users"},
			input: map[string]any{"raw": `{"name":"Di","email":"di@example.com"}`},
			options: []DecoderOption[userRow]{
				WithCustomDecoder[userRow](rawDecoder),
			},
			expect: userRow{Name: "Di", Email: "di@example.com"},
		},
		{
			name:      "nil payload",
			ctx:       Context{Table: "users"},
			expectErr: "payload is nil",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := NewDecoder[userRow](tc.options...).Decode(tc.ctx, tc.input)
			if tc.expectErr != "" {
				if err == nil {
					t.Fatalf("expected error %q, got nil", tc.expectErr)
				}
				if !strings.Contains(err.Error(), tc.expectErr) {
					t.Fatalf("expected error containing %q, got %v", tc.expectErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected decode error: %v", err)
			}
			if !reflect.DeepEqual(tc.expect, result) {
				t.Fatalf("decoded row mismatch:\nwant: %#v\n got: %#v", tc.expect, result)
			}
		})
	}
}

func TestDecodeJSONMergesExtraColumns(t *testing.T) {
	raw := []byte(`{"name":"John","id":0,"email":"john@example.com"}`)
	decoder := NewDecoder[userRow]()

	result, err := decoder.DecodeJSON(Context{Table: "users", Key: int64(9007199254740993)}, raw, map[string]any{"id": int64(9007199254740993)})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.ID != 9007199254740993 {
		t.Fatalf("expected key column to win without precision loss, got %d", result.ID)
	}
	if result.Name != "John" || result.Email != "john@example.com" {
		t.Fatalf("unexpected row %#v", result)
	}

	empty, err := decoder.DecodeJSON(Context{Table: "users"}, nil, map[string]any{"name": "Only"})
	if err != nil || empty.Name != "Only" {
		t.Fatalf("expected extra-only decode, got %#v, %v", empty, err)
	}

	if _, err := decoder.DecodeJSON(Context{Table: "users"}, []byte("{"), nil); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestDecodeDoesNotMutateInput(t *testing.T) {
	input := map[string]any{"address": "Faro-8000"}
	decoder := NewDecoder[userRow](WithPreHook[userRow](splitAddress))
	if _, err := decoder.Decode(Context{Table: "users"}, input); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if input["address"] != "Faro-8000" {
		t.Fatalf("input payload mutated: %#v", input)
	}
}

func TestWithUseNumberKeepsJSONNumbers(t *testing.T) {
	type loose struct {
		Value any `json:"value"`
	}
	decoder := NewDecoder[loose](WithUseNumber[loose]())
	result, err := decoder.Decode(Context{Table: "metrics"}, map[string]any{"value": 42})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := result.Value.(json.Number); !ok {
		t.Fatalf("expected json.Number, got %T", result.Value)
	}
}

func splitAddress(_ Context, payload map[string]any) (map[string]any, error) {
	value, ok := payload["address"].(string)
	if !ok || value == "" {
		return payload, nil
	}
	parts := strings.Split(value, "-")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid address %q", value)
	}
	payload["address"] = map[string]any{
		"city": strings.TrimSpace(parts[0]),
		"zip":  strings.TrimSpace(parts[1]),
	}
	return payload, nil
}

func tagWithRow(ctx Context, row *userRow) error {
	if row == nil {
		return errors.New("row is nil")
	}
	if len(row.Tags) == 0 {
		row.Tags = []string{ctx.String()}
	}
	return nil
}

func rawDecoder(ctx Context, payload map[string]any) (userRow, error) {
	var out userRow
	raw, ok := payload["raw"].(string)
	if !ok || raw == "" {
		return out, fmt.Errorf("missing raw body for row %q", ctx)
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return userRow{}, err
	}
	return out, nil
}
