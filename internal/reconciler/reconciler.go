// Package reconciler holds the single authoritative view of work items fed by
// every transport.
package reconciler

import (
	"sync"
	"time"

	"workfeed/internal/logger"
	"workfeed/pkg/cel"
	"workfeed/pkg/metrics"
	"workfeed/pkg/models"
)

// Snapshot is the published state of the reconciler. Both collections are
// ordered most recent first.
type Snapshot struct {
	Version uint64                  `json:"version"`
	All     []models.WorkItem       `json:"all"`
	New     []models.WorkItemUpdate `json:"new"`
	At      time.Time               `json:"at"`
}

// Reconciler is an in-memory state machine. It performs no I/O and its
// operations cannot fail.
//
// Every id is accepted at most once across all transports; the first arrival
// wins and later copies are dropped.
type Reconciler struct {
	mu        sync.RWMutex
	all       []models.WorkItem
	fresh     []models.WorkItemUpdate
	known     map[string]struct{}
	version   uint64
	subs      map[int]chan Snapshot
	nextSub   int
	evaluator *cel.Evaluator
	logger    logger.Logger
}

func New(log logger.Logger) (*Reconciler, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, err
	}
	return &Reconciler{
		known:     make(map[string]struct{}),
		subs:      make(map[int]chan Snapshot),
		evaluator: evaluator,
		logger:    log,
	}, nil
}

// AddNewWorkItem records a newly arrived update in both collections. It
// returns false when the id is already known.
func (r *Reconciler) AddNewWorkItem(update models.WorkItemUpdate) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.known[update.ID]; ok {
		metrics.WorkItemsDuplicateTotal.WithLabelValues(update.Source).Inc()
		r.logger.Debugw("Dropping duplicate work item",
			"work_item_id", update.ID,
			"source", update.Source,
		)
		return false
	}

	r.known[update.ID] = struct{}{}
	r.all = prepend(r.all, update.WorkItem())
	r.fresh = prepend(r.fresh, update)
	r.publishLocked()
	return true
}

// MergeWorkItems merges a newest-first batch ahead of the existing items and
// returns the updates that were not known before. Accepted updates also
// enter the new collection.
func (r *Reconciler) MergeWorkItems(batch []models.WorkItemUpdate) []models.WorkItemUpdate {
	return r.merge(batch, true)
}

// SeedWorkItems loads an initial page into the all-known collection without
// marking the items as new.
func (r *Reconciler) SeedWorkItems(batch []models.WorkItemUpdate) []models.WorkItemUpdate {
	return r.merge(batch, false)
}

func (r *Reconciler) merge(batch []models.WorkItemUpdate, markNew bool) []models.WorkItemUpdate {
	batch = DeduplicateWorkItems(batch)

	r.mu.Lock()
	defer r.mu.Unlock()

	accepted := make([]models.WorkItemUpdate, 0, len(batch))
	for _, update := range batch {
		if _, ok := r.known[update.ID]; ok {
			metrics.WorkItemsDuplicateTotal.WithLabelValues(update.Source).Inc()
			continue
		}
		r.known[update.ID] = struct{}{}
		accepted = append(accepted, update)
	}
	if len(accepted) == 0 {
		return accepted
	}

	items := make([]models.WorkItem, 0, len(accepted)+len(r.all))
	for _, update := range accepted {
		items = append(items, update.WorkItem())
	}
	r.all = append(items, r.all...)

	if markNew {
		fresh := make([]models.WorkItemUpdate, 0, len(accepted)+len(r.fresh))
		fresh = append(fresh, accepted...)
		r.fresh = append(fresh, r.fresh...)
	}

	r.publishLocked()
	return accepted
}

// AcknowledgeNewWorkItem removes the first new entry with the given id. The
// item stays in the all-known collection. Unknown ids are a no-op.
func (r *Reconciler) AcknowledgeNewWorkItem(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, update := range r.fresh {
		if update.ID != id {
			continue
		}
		fresh := make([]models.WorkItemUpdate, 0, len(r.fresh)-1)
		fresh = append(fresh, r.fresh[:i]...)
		r.fresh = append(fresh, r.fresh[i+1:]...)
		r.publishLocked()
		return true
	}
	return false
}

// ClearNewWorkItems empties the new collection.
func (r *Reconciler) ClearNewWorkItems() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fresh = nil
	r.publishLocked()
}

func (r *Reconciler) AllWorkItems() []models.WorkItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.WorkItem(nil), r.all...)
}

func (r *Reconciler) NewWorkItems() []models.WorkItemUpdate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.WorkItemUpdate(nil), r.fresh...)
}

func (r *Reconciler) Lookup(id string) (models.WorkItem, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, item := range r.all {
		if item.ID == id {
			return item, true
		}
	}
	return models.WorkItem{}, false
}

func (r *Reconciler) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Subscribe returns a channel receiving a snapshot after every mutation.
// Slow subscribers skip intermediate snapshots; the latest one is kept.
func (r *Reconciler) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (r *Reconciler) snapshotLocked() Snapshot {
	return Snapshot{
		Version: r.version,
		All:     append([]models.WorkItem(nil), r.all...),
		New:     append([]models.WorkItemUpdate(nil), r.fresh...),
		At:      time.Now(),
	}
}

func (r *Reconciler) publishLocked() {
	r.version++
	metrics.SetWorkItemCounts(len(r.all), len(r.fresh))

	if len(r.subs) == 0 {
		return
	}
	snap := r.snapshotLocked()
	for _, ch := range r.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func prepend[T any](items []T, item T) []T {
	out := make([]T, 0, len(items)+1)
	out = append(out, item)
	return append(out, items...)
}
