// Package forms implements the select-field helpers behind the
// proposal-to-set selection endpoints.
package forms

import (
	"context"
	"sort"
)

// Option is one selectable choice.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// ChainedField derives its options from a query filtered by the value
// of another field. Options are fetched on every call so a choice made
// elsewhere is visible immediately.
type ChainedField struct {
	Query func(ctx context.Context, chainValue string) ([]Option, error)
}

func (f ChainedField) Options(ctx context.Context, chainValue string) ([]Option, error) {
	options, err := f.Query(ctx, chainValue)
	if err != nil {
		return nil, err
	}
	if options == nil {
		options = []Option{}
	}
	return options, nil
}

// Validate reports whether the chosen value is currently one of the
// chained options.
func (f ChainedField) Validate(ctx context.Context, chainValue, chosen string) (bool, error) {
	options, err := f.Query(ctx, chainValue)
	if err != nil {
		return false, err
	}
	for _, opt := range options {
		if opt.Value == chosen {
			return true, nil
		}
	}
	return false, nil
}

// OptionGroup is a labeled run of options.
type OptionGroup struct {
	Label   string   `json:"label"`
	Options []Option `json:"options"`
}

// GroupedItem is an option together with its grouping key and the
// label shown for the group.
type GroupedItem struct {
	GroupKey   string
	GroupLabel string
	Option     Option
}

// GroupOptions sorts the items by group key and coalesces consecutive
// equal keys into one group each. Input order inside a group is kept.
func GroupOptions(items []GroupedItem) []OptionGroup {
	sorted := make([]GroupedItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].GroupKey < sorted[j].GroupKey
	})

	var groups []OptionGroup
	var lastKey string
	for i, item := range sorted {
		if i > 0 && item.GroupKey == lastKey {
			groups[len(groups)-1].Options = append(groups[len(groups)-1].Options, item.Option)
			continue
		}
		groups = append(groups, OptionGroup{Label: item.GroupLabel, Options: []Option{item.Option}})
		lastKey = item.GroupKey
	}
	return groups
}
