package tasks

import (
	"math"
	"sort"
)

// DerivedCategories returns the distinct non-absent category values present
// across the collection, sorted for stable output. The result is a view for
// building filter options and is never persisted.
func DerivedCategories(items []Task) []string {
	seen := make(map[string]struct{})
	categories := make([]string, 0)
	for _, item := range items {
		if item.Category == nil {
			continue
		}
		if _, ok := seen[*item.Category]; ok {
			continue
		}
		seen[*item.Category] = struct{}{}
		categories = append(categories, *item.Category)
	}
	sort.Strings(categories)
	return categories
}

// Progress returns the completed share of the collection as an integer
// percentage, rounded to nearest. An empty collection is 0, not a division
// by zero.
func Progress(items []Task) int {
	if len(items) == 0 {
		return 0
	}
	completed := 0
	for _, item := range items {
		if item.Completed {
			completed++
		}
	}
	return int(math.Round(float64(completed) / float64(len(items)) * 100))
}
