package feed

import (
	"slices"
)

type Aggregator struct {
	maxItems int
}

func NewAggregator(maxItems int) *Aggregator {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	return &Aggregator{maxItems: maxItems}
}

// Run merges per-source batches in source order, keeps the first item seen
// for each link, orders newest first (ties keep merge order) and caps the
// result at the configured size.
func (a *Aggregator) Run(batches [][]Item) []Item {
	seen := make(map[string]struct{})
	unique := make([]Item, 0)

	for _, batch := range batches {
		for _, item := range batch {
			if _, ok := seen[item.Link]; ok {
				continue
			}
			seen[item.Link] = struct{}{}
			unique = append(unique, item)
		}
	}

	slices.SortStableFunc(unique, func(x, y Item) int {
		return y.PublishedAt.Compare(x.PublishedAt)
	})

	if len(unique) > a.maxItems {
		unique = unique[:a.maxItems]
	}

	return unique
}

// Unique counts distinct links across batches.
func (a *Aggregator) Unique(batches [][]Item) int {
	seen := make(map[string]struct{})
	for _, batch := range batches {
		for _, item := range batch {
			seen[item.Link] = struct{}{}
		}
	}
	return len(seen)
}
