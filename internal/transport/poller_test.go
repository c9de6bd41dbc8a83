package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"workfeed/internal/normalizer"
	"workfeed/pkg/logging"
	"workfeed/pkg/models"
)

type pollScript struct {
	mu        sync.Mutex
	requests  []*url.URL
	responses []func(w http.ResponseWriter)
}

func (s *pollScript) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	n := len(s.requests)
	s.requests = append(s.requests, r.URL)
	respond := s.responses[len(s.responses)-1]
	if n < len(s.responses) {
		respond = s.responses[n]
	}
	s.mu.Unlock()
	respond(w)
}

func (s *pollScript) urls() []*url.URL {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*url.URL(nil), s.requests...)
}

func respondJSON(v interface{}) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
}

func respondStatus(code int) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(code)
	}
}

func pollResponse(timestamp string, ids ...string) models.PollResponse {
	items := make([]models.WorkItemData, 0, len(ids))
	for _, id := range ids {
		items = append(items, models.NewWorkItemDataBuilder().WithID(id).Build())
	}
	return models.PollResponse{Items: items, Timestamp: timestamp}
}

func TestPoller_CursorFollowsPreviousTimestamp(t *testing.T) {
	script := &pollScript{responses: []func(http.ResponseWriter){
		respondJSON(pollResponse("t1", "1")),
		respondJSON(pollResponse("t2")),
		respondJSON(pollResponse("t3", "2")),
		respondJSON(pollResponse("t4")),
	}}
	srv := httptest.NewServer(script)
	defer srv.Close()

	rec := newRecorder()
	p := NewPoller(PollerConfig{URL: srv.URL + "/api/poll"}, rec.handle, rec.onError, testLogger())

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, p.PollOnce(ctx))
	}

	urls := script.urls()
	require.Len(t, urls, 4)
	assert.False(t, urls[0].Query().Has("since"))
	assert.Equal(t, "t1", urls[1].Query().Get("since"))
	assert.Equal(t, "t2", urls[2].Query().Get("since"))
	assert.Equal(t, "t3", urls[3].Query().Get("since"))
	assert.Equal(t, "t4", p.Cursor())
	assert.Equal(t, []string{"1", "2"}, envelopeIDs(t, rec.envelopes()))
}

func TestPoller_FailureKeepsCursor(t *testing.T) {
	script := &pollScript{responses: []func(http.ResponseWriter){
		respondJSON(pollResponse("t1")),
		respondStatus(http.StatusBadGateway),
		respondJSON(pollResponse("t2")),
	}}
	srv := httptest.NewServer(script)
	defer srv.Close()

	rec := newRecorder()
	p := NewPoller(PollerConfig{URL: srv.URL}, rec.handle, rec.onError, testLogger())
	ctx := context.Background()

	require.NoError(t, p.PollOnce(ctx))
	require.Error(t, p.PollOnce(ctx))
	assert.Equal(t, "t1", p.Cursor())
	assert.Error(t, p.Error())
	assert.Equal(t, 1, rec.errorCount())

	require.NoError(t, p.PollOnce(ctx))
	assert.NoError(t, p.Error())
	assert.Equal(t, "t1", script.urls()[2].Query().Get("since"))
}

func TestPoller_ForwardsNonEmptyFilters(t *testing.T) {
	script := &pollScript{responses: []func(http.ResponseWriter){respondJSON(pollResponse("t1"))}}
	srv := httptest.NewServer(script)
	defer srv.Close()

	p := NewPoller(PollerConfig{
		URL:     srv.URL,
		Filters: PollFilters{Search: "acme", Priority: "High", AssignedTo: "jo"},
	}, nil, nil, testLogger())
	require.NoError(t, p.PollOnce(context.Background()))

	q := script.urls()[0].Query()
	assert.Equal(t, "acme", q.Get("search"))
	assert.Equal(t, "High", q.Get("priority"))
	assert.Equal(t, "jo", q.Get("assigned_to"))
	assert.False(t, q.Has("status"))
	assert.False(t, q.Has("industry"))
}

func TestPoller_EndToEnd(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	script := &pollScript{responses: []func(http.ResponseWriter){
		respondJSON(pollResponse("t1", "1")),
		respondJSON(pollResponse("t2")),
	}}
	srv := httptest.NewServer(script)

	var (
		mu      sync.Mutex
		batches [][]models.WorkItemData
	)
	p := NewPoller(PollerConfig{URL: srv.URL, Interval: time.Millisecond}, nil, nil, testLogger())
	p.OnNewItems(func(items []models.WorkItemData) {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, items)
	})

	p.Start(context.Background())
	p.Start(context.Background())
	assert.True(t, p.IsPolling())

	require.Eventually(t, func() bool {
		return len(script.urls()) >= 3
	}, 5*time.Second, time.Millisecond)
	p.Stop()
	p.Stop()
	assert.False(t, p.IsPolling())

	mu.Lock()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 1)
	mu.Unlock()

	assert.Equal(t, "t2", script.urls()[2].Query().Get("since"))
	assert.Contains(t, script.urls()[2].RawQuery, "since=t2")

	srv.CloseClientConnections()
	srv.Close()
	http.DefaultClient.CloseIdleConnections()
}

func TestIdentityPoller_SeedsThenPollsSinceHighestID(t *testing.T) {
	var (
		mu      sync.Mutex
		queries []url.Values
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/workitems", r.URL.Path)
		mu.Lock()
		queries = append(queries, r.URL.Query())
		n := len(queries)
		mu.Unlock()

		var page []map[string]interface{}
		switch n {
		case 1:
			page = []map[string]interface{}{{"id": 9}, {"id": 8}, {"id": 8}, {"id": 2}}
		case 2:
			page = []map[string]interface{}{{"id": 11}, {"id": 10}, {"id": 10}}
		}
		respondJSON(page)(w)
	}))
	defer srv.Close()

	var (
		seeded []models.WorkItemData
		merged [][]models.WorkItemData
		source string
	)
	rec := newRecorder()
	p := NewIdentityPoller(IdentityPollerConfig{BaseURL: srv.URL, Limit: 20},
		func(_ context.Context, items []models.WorkItemData) { seeded = items },
		func(ctx context.Context, items []models.WorkItemData) {
			source = logging.GetTransport(ctx)
			merged = append(merged, items)
		},
		rec.onError, testLogger())

	ctx := context.Background()
	require.NoError(t, p.PollOnce(ctx))
	assert.Equal(t, []string{"9", "8", "2"}, dataIDs(t, seeded))
	assert.Empty(t, merged)
	assert.Equal(t, "9", p.HighestID())

	require.NoError(t, p.PollOnce(ctx))
	require.Len(t, merged, 1)
	assert.Equal(t, []string{"11", "10"}, dataIDs(t, merged[0]))
	assert.Equal(t, models.SourceIdentity, source)
	assert.Equal(t, "11", p.HighestID())

	// An empty page is not handed over.
	require.NoError(t, p.PollOnce(ctx))
	assert.Len(t, merged, 1)
	require.NoError(t, p.PollOnce(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "20", queries[0].Get("limit"))
	assert.False(t, queries[0].Has("since_id"))
	assert.Equal(t, "9", queries[1].Get("since_id"))
	assert.Equal(t, "11", queries[2].Get("since_id"))
}

func TestIdentityPoller_ErrorReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rec := newRecorder()
	p := NewIdentityPoller(IdentityPollerConfig{BaseURL: srv.URL}, nil, nil, rec.onError, testLogger())
	assert.Error(t, p.PollOnce(context.Background()))
	assert.Equal(t, 1, rec.errorCount())
	assert.NotEmpty(t, p.Status().Error)
	assert.Empty(t, p.HighestID())
}

func TestIdentityPoller_MergePanicIsContained(t *testing.T) {
	page := respondJSON([]map[string]interface{}{{"id": 1}})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { page(w) }))
	defer srv.Close()

	p := NewIdentityPoller(IdentityPollerConfig{BaseURL: srv.URL}, nil,
		func(context.Context, []models.WorkItemData) { panic("boom") },
		nil, testLogger())

	assert.NotPanics(t, func() {
		require.NoError(t, p.PollOnce(context.Background()))
	})
	assert.Equal(t, "1", p.HighestID())
}

func dataIDs(t *testing.T, items []models.WorkItemData) []string {
	t.Helper()
	ids := make([]string, 0, len(items))
	for _, item := range items {
		id, err := normalizer.CoerceID(item.ID)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}
