package forms

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestChainedFieldOptionsAreLive(t *testing.T) {
	current := []Option{{Value: "s1", Label: "Set One"}}
	field := ChainedField{
		Query: func(ctx context.Context, chainValue string) ([]Option, error) {
			if chainValue != "space-1" {
				t.Errorf("chain value = %q, want space-1", chainValue)
			}
			return current, nil
		},
	}

	options, err := field.Options(context.Background(), "space-1")
	if err != nil {
		t.Fatalf("Options() error = %v", err)
	}
	if len(options) != 1 || options[0].Value != "s1" {
		t.Fatalf("unexpected options: %+v", options)
	}

	// A set added after the first call shows up on the next one.
	current = append(current, Option{Value: "s2", Label: "Set Two"})
	options, err = field.Options(context.Background(), "space-1")
	if err != nil {
		t.Fatalf("Options() error = %v", err)
	}
	if len(options) != 2 {
		t.Fatalf("expected fresh options on every call, got %+v", options)
	}
}

func TestChainedFieldValidate(t *testing.T) {
	field := ChainedField{
		Query: func(ctx context.Context, chainValue string) ([]Option, error) {
			return []Option{{Value: "s1"}, {Value: "s2"}}, nil
		},
	}

	ok, err := field.Validate(context.Background(), "space-1", "s2")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !ok {
		t.Fatal("expected s2 to validate")
	}

	ok, err = field.Validate(context.Background(), "space-1", "s9")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if ok {
		t.Fatal("expected unknown value to fail validation")
	}
}

func TestChainedFieldPropagatesQueryError(t *testing.T) {
	field := ChainedField{
		Query: func(ctx context.Context, chainValue string) ([]Option, error) {
			return nil, errors.New("db down")
		},
	}
	if _, err := field.Options(context.Background(), "x"); err == nil {
		t.Fatal("expected query error to propagate")
	}
	if _, err := field.Validate(context.Background(), "x", "y"); err == nil {
		t.Fatal("expected query error to propagate")
	}
}

func TestGroupOptionsSortsThenGroups(t *testing.T) {
	items := []GroupedItem{
		{GroupKey: "b", GroupLabel: "Beta", Option: Option{Value: "3"}},
		{GroupKey: "a", GroupLabel: "Alpha", Option: Option{Value: "1"}},
		{GroupKey: "b", GroupLabel: "Beta", Option: Option{Value: "4"}},
		{GroupKey: "a", GroupLabel: "Alpha", Option: Option{Value: "2"}},
	}

	got := GroupOptions(items)
	want := []OptionGroup{
		{Label: "Alpha", Options: []Option{{Value: "1"}, {Value: "2"}}},
		{Label: "Beta", Options: []Option{{Value: "3"}, {Value: "4"}}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GroupOptions() = %+v, want %+v", got, want)
	}

	// Input order must not change.
	if items[0].GroupKey != "b" || items[0].Option.Value != "3" {
		t.Fatal("GroupOptions() mutated its input")
	}
}

func TestGroupOptionsEmpty(t *testing.T) {
	if got := GroupOptions(nil); len(got) != 0 {
		t.Fatalf("GroupOptions(nil) = %+v, want empty", got)
	}
}
