package workflows

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lenslabs/webset-engine/pkg/taskstore"
	"github.com/lenslabs/webset-engine/pkg/upstream"
)

// Runtime defaults; config may override them at wiring time.
const (
	DefaultPollInterval        = 2 * time.Second
	DefaultStepTimeout         = 300 * time.Second
	DefaultResearchConcurrency = 3
	// DefaultItemMultiplier caps collection at 2x the requested count to
	// absorb over-recall without unbounded growth.
	DefaultItemMultiplier = 2
)

// StepTiming records one named step's duration for observability.
type StepTiming struct {
	Name       string `json:"name"`
	DurationMs int64  `json:"durationMs"`
}

// StepTracker records per-step durations and mirrors the current step into
// task progress.
type StepTracker struct {
	store   *taskstore.Store
	taskID  string
	total   int
	steps   []StepTiming
	current string
	started time.Time
	began   time.Time
}

// NewStepTracker creates a tracker for a workflow with the given total step
// count.
func NewStepTracker(store *taskstore.Store, taskID string, totalSteps int) *StepTracker {
	return &StepTracker{
		store:  store,
		taskID: taskID,
		total:  totalSteps,
		began:  time.Now(),
	}
}

// Begin closes the previous step, records its duration and marks the new
// step as current.
func (st *StepTracker) Begin(name string) {
	st.closeCurrent()
	st.current = name
	st.started = time.Now()
	_ = st.store.UpdateProgress(st.taskID, taskstore.Progress{
		Step:           name,
		CompletedSteps: len(st.steps),
		TotalSteps:     st.total,
	})
}

// End closes the current step.
func (st *StepTracker) End() {
	st.closeCurrent()
}

func (st *StepTracker) closeCurrent() {
	if st.current == "" {
		return
	}
	st.steps = append(st.steps, StepTiming{
		Name:       st.current,
		DurationMs: time.Since(st.started).Milliseconds(),
	})
	st.current = ""
}

// Steps returns the recorded timings.
func (st *StepTracker) Steps() []StepTiming {
	return st.steps
}

// DurationMs is the total elapsed time since the tracker was created.
func (st *StepTracker) DurationMs() int64 {
	return time.Since(st.began).Milliseconds()
}

// WebsetOwner tracks websets created (and therefore owned) by a workflow so
// cancellation can cancel them upstream, at most once each.
type WebsetOwner struct {
	mu        sync.Mutex
	client    upstream.Client
	logger    *zap.Logger
	owned     []string
	cancelled map[string]bool
}

// NewWebsetOwner creates an owner bound to the upstream client.
func NewWebsetOwner(client upstream.Client, logger *zap.Logger) *WebsetOwner {
	return &WebsetOwner{
		client:    client,
		logger:    logger,
		cancelled: make(map[string]bool),
	}
}

// Own registers a webset as created by this workflow.
func (o *WebsetOwner) Own(websetID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.owned = append(o.owned, websetID)
}

// IDs returns the owned webset ids.
func (o *WebsetOwner) IDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.owned...)
}

// CancelAll cancels every owned webset upstream, best-effort and at most
// once per webset.
func (o *WebsetOwner) CancelAll(ctx context.Context) {
	o.mu.Lock()
	ids := make([]string, 0, len(o.owned))
	for _, id := range o.owned {
		if !o.cancelled[id] {
			o.cancelled[id] = true
			ids = append(ids, id)
		}
	}
	o.mu.Unlock()

	for _, id := range ids {
		if err := o.client.CancelWebset(ctx, id); err != nil {
			o.logger.Debug("upstream cancel failed", zap.String("webset_id", id), zap.Error(err))
		}
	}
}

// CollectItems pulls up to max items from a webset. Callers derive max from
// their requested count via ItemCap.
func CollectItems(ctx context.Context, rt *Runtime, websetID string, max int) ([]upstream.WebsetItem, error) {
	items, err := rt.Client.ListItems(ctx, websetID, max)
	if err != nil {
		return nil, fmt.Errorf("list items for %s: %w", websetID, err)
	}
	return items, nil
}

// ItemCap returns the collection cap for a requested count.
func ItemCap(count int) int {
	if count <= 0 {
		count = 10
	}
	return count * DefaultItemMultiplier
}
