package reconciler

// Identifiable is anything keyed by a work item id.
type Identifiable interface {
	Identity() string
}

// DeduplicateWorkItems keeps the first occurrence of every id and preserves
// first-seen order. Applying it twice yields the same result as once.
func DeduplicateWorkItems[T Identifiable](items []T) []T {
	seen := make(map[string]struct{}, len(items))
	out := make([]T, 0, len(items))
	for _, item := range items {
		id := item.Identity()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, item)
	}
	return out
}
