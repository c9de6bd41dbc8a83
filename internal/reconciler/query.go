package reconciler

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"workfeed/pkg/models"
)

const (
	SortByID               = "id"
	SortByOwner            = "owner"
	SortByType             = "type"
	SortByPriority         = "priority"
	SortByStatus           = "status"
	SortByGWPCStatus       = "gwpcStatus"
	SortByExposureStatus   = "exposureStatus"
	SortByAutomationStatus = "automationStatus"
	SortBySubmissionID     = "submissionId"
)

var priorityRank = map[string]int{
	"Low":    0,
	"Medium": 1,
	"High":   2,
	"Urgent": 3,
}

// QueryOptions narrows and orders the all-known collection. Empty fields do
// not filter; an empty SortBy keeps arrival order.
type QueryOptions struct {
	Search     string
	Priority   string
	Status     string
	Owner      string
	Type       string
	Filter     string
	SortBy     string
	Descending bool
}

// Query returns the filtered and sorted view of all known work items.
func (r *Reconciler) Query(ctx context.Context, opts QueryOptions) ([]models.WorkItem, error) {
	less, err := comparator(opts.SortBy)
	if err != nil {
		return nil, err
	}

	var matchExpr func(models.WorkItem) (bool, error)
	if strings.TrimSpace(opts.Filter) != "" {
		filter, err := r.evaluator.CompileFilter(opts.Filter)
		if err != nil {
			return nil, err
		}
		matchExpr = func(item models.WorkItem) (bool, error) {
			return filter.Match(ctx, item)
		}
	}

	items := r.AllWorkItems()
	search := strings.ToLower(strings.TrimSpace(opts.Search))

	out := make([]models.WorkItem, 0, len(items))
	for _, item := range items {
		if !equalFold(opts.Priority, item.Priority) ||
			!equalFold(opts.Status, item.Status) ||
			!equalFold(opts.Owner, item.Owner) ||
			!equalFold(opts.Type, item.Type) {
			continue
		}
		if search != "" && !matchesSearch(item, search) {
			continue
		}
		if matchExpr != nil {
			ok, err := matchExpr(item)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, item)
	}

	if less != nil {
		slices.SortStableFunc(out, func(a, b models.WorkItem) int {
			if opts.Descending {
				return less(b, a)
			}
			return less(a, b)
		})
	}
	return out, nil
}

func equalFold(want, got string) bool {
	return want == "" || strings.EqualFold(want, got)
}

func matchesSearch(item models.WorkItem, search string) bool {
	for _, field := range []string{item.ID, item.Owner, item.Type, item.Status, item.SubmissionID, item.ExposureStatus} {
		if strings.Contains(strings.ToLower(field), search) {
			return true
		}
	}
	return false
}

func comparator(sortBy string) (func(a, b models.WorkItem) int, error) {
	byString := func(field func(models.WorkItem) string) func(a, b models.WorkItem) int {
		return func(a, b models.WorkItem) int {
			return strings.Compare(field(a), field(b))
		}
	}

	switch sortBy {
	case "":
		return nil, nil
	case SortByID:
		return compareIDs, nil
	case SortByOwner:
		return byString(func(w models.WorkItem) string { return w.Owner }), nil
	case SortByType:
		return byString(func(w models.WorkItem) string { return w.Type }), nil
	case SortByStatus:
		return byString(func(w models.WorkItem) string { return w.Status }), nil
	case SortByGWPCStatus:
		return byString(func(w models.WorkItem) string { return w.GWPCStatus }), nil
	case SortByExposureStatus:
		return byString(func(w models.WorkItem) string { return w.ExposureStatus }), nil
	case SortByAutomationStatus:
		return byString(func(w models.WorkItem) string { return w.AutomationStatus }), nil
	case SortBySubmissionID:
		return byString(func(w models.WorkItem) string { return w.SubmissionID }), nil
	case SortByPriority:
		return func(a, b models.WorkItem) int {
			return priorityRank[a.Priority] - priorityRank[b.Priority]
		}, nil
	default:
		return nil, fmt.Errorf("unsupported sort field: %s", sortBy)
	}
}

// compareIDs orders numeric ids numerically and falls back to string order.
func compareIDs(a, b models.WorkItem) int {
	return CompareIDs(a.ID, b.ID)
}

// CompareIDs compares two ids numerically when both are decimal integers of
// any length, lexicographically otherwise.
func CompareIDs(a, b string) int {
	if isDigits(a) && isDigits(b) {
		a = strings.TrimLeft(a, "0")
		b = strings.TrimLeft(b, "0")
		if len(a) != len(b) {
			if len(a) < len(b) {
				return -1
			}
			return 1
		}
	}
	return strings.Compare(a, b)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
