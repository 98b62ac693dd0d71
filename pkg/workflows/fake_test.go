package workflows

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lenslabs/webset-engine/pkg/apperrors"
	"github.com/lenslabs/webset-engine/pkg/taskstore"
	"github.com/lenslabs/webset-engine/pkg/upstream"
)

// fakeClient is a scripted in-memory upstream. Created websets report
// createStatus (idle by default, so polls return immediately) and serve the
// item set registered for their query.
type fakeClient struct {
	mu  sync.Mutex
	seq int

	createStatus  upstream.WebsetStatus
	itemsForQuery map[string][]upstream.WebsetItem

	websets     map[string]*upstream.Webset
	items       map[string][]upstream.WebsetItem
	cancelCalls map[string]int
	deleteCalls map[string]int
	monitors    []*upstream.CreateMonitorRequest
	monitorErr  error

	researchErr    error
	researchOutput func(req *upstream.CreateResearchRequest) *upstream.ResearchOutput
	researches     map[string]*upstream.Research
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		createStatus: upstream.WebsetStatusIdle,
		websets:      make(map[string]*upstream.Webset),
		items:        make(map[string][]upstream.WebsetItem),
		cancelCalls:  make(map[string]int),
		deleteCalls:  make(map[string]int),
		researches:   make(map[string]*upstream.Research),
	}
}

func (f *fakeClient) CreateWebset(ctx context.Context, req *upstream.CreateWebsetRequest) (*upstream.Webset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	id := fmt.Sprintf("ws_%d", f.seq)
	items := f.itemsForQuery[req.Search.Query]

	search := upstream.Search{
		Query:    req.Search.Query,
		Count:    req.Search.Count,
		Status:   "completed",
		Progress: upstream.SearchProgress{Found: len(items), Analyzed: len(items)},
	}
	for _, c := range req.Search.Criteria {
		search.Criteria = append(search.Criteria, upstream.Criterion{Description: c.Description})
	}

	ws := &upstream.Webset{
		ID:       id,
		Status:   f.createStatus,
		Searches: []upstream.Search{search},
	}
	for i, e := range req.Enrichments {
		ws.Enrichments = append(ws.Enrichments, upstream.Enrichment{
			ID:          fmt.Sprintf("enr_%d_%d", f.seq, i+1),
			Description: e.Description,
			Format:      e.Format,
		})
	}

	f.websets[id] = ws
	f.items[id] = items
	return cloneWebset(ws), nil
}

func (f *fakeClient) GetWebset(ctx context.Context, id string) (*upstream.Webset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ws, ok := f.websets[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return cloneWebset(ws), nil
}

func (f *fakeClient) CancelWebset(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls[id]++
	return nil
}

func (f *fakeClient) DeleteWebset(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls[id]++
	return nil
}

func (f *fakeClient) ListItems(ctx context.Context, websetID string, limit int) ([]upstream.WebsetItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items, ok := f.items[websetID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return append([]upstream.WebsetItem(nil), items...), nil
}

func (f *fakeClient) CreateMonitor(ctx context.Context, req *upstream.CreateMonitorRequest) (*upstream.Monitor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.monitorErr != nil {
		return nil, f.monitorErr
	}
	f.monitors = append(f.monitors, req)
	return &upstream.Monitor{ID: fmt.Sprintf("mon_%d", len(f.monitors)), WebsetID: req.WebsetID, Cadence: req.Cadence}, nil
}

func (f *fakeClient) CreateResearch(ctx context.Context, req *upstream.CreateResearchRequest) (*upstream.Research, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.researchErr != nil {
		return nil, f.researchErr
	}

	f.seq++
	output := &upstream.ResearchOutput{Content: "synthesized findings"}
	if f.researchOutput != nil {
		output = f.researchOutput(req)
	}
	r := &upstream.Research{
		ID:           fmt.Sprintf("res_%d", f.seq),
		Status:       upstream.ResearchStatusCompleted,
		Instructions: req.Instructions,
		Model:        req.Model,
		Output:       output,
	}
	f.researches[r.ID] = r
	return r, nil
}

func (f *fakeClient) GetResearch(ctx context.Context, id string) (*upstream.Research, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.researches[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return r, nil
}

func (f *fakeClient) PollResearch(ctx context.Context, id string, deadline time.Duration) (*upstream.Research, error) {
	return f.GetResearch(ctx, id)
}

func (f *fakeClient) setStatus(websetID string, status upstream.WebsetStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ws, ok := f.websets[websetID]; ok {
		ws.Status = status
	}
}

func (f *fakeClient) cancelCount(websetID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelCalls[websetID]
}

func cloneWebset(ws *upstream.Webset) *upstream.Webset {
	cp := *ws
	cp.Searches = append([]upstream.Search(nil), ws.Searches...)
	cp.Enrichments = append([]upstream.Enrichment(nil), ws.Enrichments...)
	return &cp
}

var _ upstream.Client = (*fakeClient)(nil)

// newTestRuntime wires a runtime with millisecond cadences for fast tests.
func newTestRuntime(t *testing.T, client upstream.Client) *Runtime {
	t.Helper()
	store := taskstore.New(zap.NewNop(), 0)
	t.Cleanup(store.Close)
	return &Runtime{
		Client:              client,
		Store:               store,
		Logger:              zap.NewNop(),
		PollInterval:        time.Millisecond,
		StepTimeout:         time.Second,
		ResearchConcurrency: DefaultResearchConcurrency,
	}
}

func newTestTask(t *testing.T, rt *Runtime, taskType string) string {
	t.Helper()
	task, err := rt.Store.Create(taskType, nil)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task.ID
}

// companyItem builds a company item for fixtures.
func companyItem(id, name, url string) upstream.WebsetItem {
	return upstream.WebsetItem{
		ID: id,
		Properties: upstream.ItemProperties{
			Type:    "company",
			URL:     url,
			Company: &upstream.CompanyProps{Name: name},
		},
	}
}
