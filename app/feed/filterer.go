package feed

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// Filterer applies a source group's include/exclude rules. A rule matches
// when the named item field contains the pattern, ignoring case.
type Filterer struct{}

func NewFilterer() *Filterer {
	return &Filterer{}
}

func (f *Filterer) Run(items []Item, source SourceConfig) []Item {
	if len(source.Filters) == 0 {
		return items
	}

	kept := make([]Item, 0, len(items))
	for _, item := range items {
		if reason := f.rejection(item, source.Filters); reason != "" {
			slog.Debug("Item filtered", "source", source.Name, "link", item.Link, "reason", reason)
			continue
		}
		kept = append(kept, item)
	}

	return kept
}

// rejection returns why the item is dropped, or "" when every rule passes.
// Excludes win over includes.
func (f *Filterer) rejection(item Item, filters []ConfigFilter) string {
	for _, filter := range filters {
		value := strings.ToLower(filterValue(item, filter.Field))
		contains := func(pattern string) bool {
			return strings.Contains(value, strings.ToLower(pattern))
		}

		if i := slices.IndexFunc(filter.Excludes, contains); i >= 0 {
			return fmt.Sprintf("%s contains %q", filter.Field, filter.Excludes[i])
		}
		if len(filter.Includes) > 0 && !slices.ContainsFunc(filter.Includes, contains) {
			return fmt.Sprintf("%s matches none of %q", filter.Field, filter.Includes)
		}
	}

	return ""
}

func filterValue(item Item, field string) string {
	switch field {
	case "title":
		return item.Title
	case "description":
		return item.Description
	case "link":
		return item.Link
	}
	return ""
}
