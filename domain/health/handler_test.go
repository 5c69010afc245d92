package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engagic/engagic/domain/conductor"
	"github.com/engagic/engagic/domain/queue"
	"github.com/engagic/engagic/internal/config"
	"github.com/engagic/engagic/internal/jobs"
	"github.com/engagic/engagic/pkg/syshealth"
)

type fakePinger struct{ err error }

func (f *fakePinger) Ping(context.Context) error { return f.err }

type fakeStatser struct {
	stats *queue.Stats
	err   error
}

func (f *fakeStatser) Stats(context.Context) (*queue.Stats, error) { return f.stats, f.err }

type idleQueue struct{}

func (idleQueue) NextJob(context.Context, ...string) (*queue.Job, error)       { return nil, nil }
func (idleQueue) MarkComplete(context.Context, int64) error                    { return nil }
func (idleQueue) MarkFailed(context.Context, int64, string, int) (bool, error) { return false, nil }
func (idleQueue) MarkFailedPermanent(context.Context, int64, string) error     { return nil }

type idleHandler struct{ kinds []string }

func (h idleHandler) Kinds() []string                           { return h.kinds }
func (h idleHandler) Process(context.Context, *queue.Job) error { return nil }

func testPools() *conductor.Pools {
	log := slog.Default()
	return &conductor.Pools{
		Fetchers:   jobs.NewPool(jobs.WorkerConfig{Name: "fetcher"}, 1, idleQueue{}, idleHandler{kinds: []string{"sync_city"}}, log),
		Processors: jobs.NewPool(jobs.WorkerConfig{Name: "processor"}, 1, idleQueue{}, idleHandler{kinds: []string{"process_meeting"}}, log),
	}
}

func testHandler(ping error, statsErr error) *Handler {
	return &Handler{
		pool:      &fakePinger{err: ping},
		queue:     &fakeStatser{stats: &queue.Stats{Pending: 3, DeadLetter: 1}, err: statsErr},
		pools:     testPools(),
		scheduler: conductor.NewScheduler(slog.Default()),
		collector: syshealth.NewCollector(nil, slog.Default()),
		cfg:       &config.Config{},
		startAt:   time.Now().Add(-time.Minute),
	}
}

func doRequest(t *testing.T, h echo.HandlerFunc, path string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	require.NoError(t, h(c))
	return rec
}

func TestHealth_Healthy(t *testing.T) {
	rec := doRequest(t, testHandler(nil, nil).Health, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Checks["database"].Status)
	assert.Equal(t, "healthy", resp.Checks["queue"].Status)
	assert.NotEmpty(t, resp.Uptime)
}

func TestHealth_DatabaseDown(t *testing.T) {
	rec := doRequest(t, testHandler(errors.New("connection refused"), nil).Health, "/health")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "unhealthy", resp.Checks["database"].Status)
	assert.Contains(t, resp.Checks["database"].Message, "connection refused")
}

func TestHealth_QueueDown(t *testing.T) {
	rec := doRequest(t, testHandler(nil, errors.New("relation does not exist")).Health, "/health")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Checks["queue"].Status)
	assert.Equal(t, "healthy", resp.Checks["database"].Status)
}

func TestHealthz(t *testing.T) {
	rec := doRequest(t, testHandler(nil, nil).Healthz, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestStats(t *testing.T) {
	rec := doRequest(t, testHandler(nil, nil).Stats, "/stats")

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, resp.Queue.Pending)
	assert.Equal(t, 1, resp.Queue.DeadLetter)
	assert.Contains(t, resp.Workers, "fetcher")
	assert.Contains(t, resp.Workers, "processor")
	assert.NotNil(t, resp.System)
	assert.NotEmpty(t, resp.Version.Version)
}

func TestStats_QueueError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := testHandler(nil, errors.New("boom")).Stats(c)
	assert.Error(t, err)
}
