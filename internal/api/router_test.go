package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmckinley/versecheck/internal/analysis"
	"github.com/jmckinley/versecheck/internal/api"
	"github.com/jmckinley/versecheck/internal/api/handler"
	mw "github.com/jmckinley/versecheck/internal/api/middleware"
	"github.com/jmckinley/versecheck/internal/breaker"
	"github.com/jmckinley/versecheck/internal/cache"
	"github.com/jmckinley/versecheck/internal/inference"
	"github.com/jmckinley/versecheck/internal/inference/mock"
	"github.com/jmckinley/versecheck/internal/limiter"
	"github.com/jmckinley/versecheck/internal/store"
	"github.com/jmckinley/versecheck/pkg/models"
)

// newTestRouter wires the full stack against in-memory backends: real
// service, limiter, breaker and tiered cache, with a mock score provider.
func newTestRouter(t *testing.T, provider models.ScoreProvider) http.Handler {
	t.Helper()

	st := store.NewMemStore()
	fast := cache.NewMemoryCache(64)
	tiered := cache.NewTiered(fast, st, time.Hour)
	li := limiter.New(60000, 1000, 10)
	br := breaker.New(5, 30*time.Second)
	client := inference.NewClient(provider, tiered, li, br, "v1", 2*time.Second, time.Second)
	svc := analysis.NewService(st, tiered, client, analysis.Config{})

	return api.NewRouter(api.Dependencies{
		RateLimit:       mw.NewRateLimit(fast, 1000),
		AnalyzeHandler:  handler.NewAnalyzeHandler(svc),
		PollJobHandler:  handler.NewPollJobHandler(svc),
		RunBatchHandler: handler.NewRunBatchHandler(svc, 100),
	})
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "10.0.0.9:40000"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func dataOf(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data, ok := body["data"].(map[string]any)
	require.True(t, ok, "missing data envelope: %s", w.Body.String())
	return data
}

func TestAnalyzeLifecycleOverHTTP(t *testing.T) {
	router := newTestRouter(t, mock.NewMockProvider())

	// 1. Submit content.
	submit := do(t, router, "POST", "/api/v1/analyze",
		`{"title":"Amazing Grace","artist":"John Newton","lyrics":"Amazing grace, how sweet the sound"}`)
	require.Equal(t, http.StatusAccepted, submit.Code)
	jobID := dataOf(t, submit)["id"].(string)
	require.NotEmpty(t, jobID)

	// 2. Poll: still pending.
	poll := do(t, router, "GET", "/api/v1/analyze/"+jobID, "")
	require.Equal(t, http.StatusOK, poll.Code)
	assert.Equal(t, "pending", dataOf(t, poll)["status"])

	// 3. Re-submitting identical content returns the same job.
	resubmit := do(t, router, "POST", "/api/v1/analyze",
		`{"title":"amazing grace","artist":"JOHN NEWTON","lyrics":"Amazing  grace, how sweet the sound"}`)
	require.Equal(t, http.StatusAccepted, resubmit.Code)
	assert.Equal(t, jobID, dataOf(t, resubmit)["id"])

	// 4. Run the batch.
	run := do(t, router, "POST", "/api/v1/analyze/run", "")
	require.Equal(t, http.StatusOK, run.Code)
	runData := dataOf(t, run)
	assert.Equal(t, float64(1), runData["dispatched"])
	assert.Equal(t, float64(1), runData["report"].(map[string]any)["succeeded"])

	// 5. Poll: completed with the scored result.
	final := do(t, router, "GET", "/api/v1/analyze/"+jobID, "")
	require.Equal(t, http.StatusOK, final.Code)
	finalData := dataOf(t, final)
	assert.Equal(t, "completed", finalData["status"])
	result := finalData["last_result"].(map[string]any)
	assert.Equal(t, float64(96), result["score"])
	assert.Equal(t, "freely_listen", result["verdict"])
	assert.Equal(t, "full", result["quality"])
}

func TestRouterValidationErrors(t *testing.T) {
	router := newTestRouter(t, mock.NewMockProvider())

	missing := do(t, router, "POST", "/api/v1/analyze", `{"artist":"X"}`)
	assert.Equal(t, http.StatusBadRequest, missing.Code)

	badID := do(t, router, "GET", "/api/v1/analyze/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, badID.Code)
}

func TestRouterUnknownRoute(t *testing.T) {
	router := newTestRouter(t, mock.NewMockProvider())

	w := do(t, router, "GET", "/api/v1/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouterHealthNotWired(t *testing.T) {
	router := newTestRouter(t, mock.NewMockProvider())

	w := do(t, router, "GET", "/api/v1/health", "")
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestRouterRateLimitHeaders(t *testing.T) {
	router := newTestRouter(t, mock.NewMockProvider())

	w := do(t, router, "POST", "/api/v1/analyze",
		`{"title":"Song","lyrics":"words"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "1000", w.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
}
