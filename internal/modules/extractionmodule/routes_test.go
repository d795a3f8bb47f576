package extractionmodule

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(m *Module) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	m.RegisterRoutes(router)
	return router
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRoutes_StartAndInspectJob(t *testing.T) {
	root, open := writeCohort(t, 2, 3, nil)
	m, _ := newTestModule(t, open)
	router := newTestRouter(m)

	body, err := json.Marshal(map[string]interface{}{"cohort_id": "c-1", "raw_root": root})
	require.NoError(t, err)

	w := doRequest(router, http.MethodPost, "/api/extraction/jobs", string(body))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var started JobView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	require.NotEmpty(t, started.ID)
	assert.Equal(t, 3, started.Config.BatchSize, "unset fields keep configured defaults")

	job, ok := m.Job(started.ID)
	require.True(t, ok)
	require.NoError(t, waitJob(t, job))

	w = doRequest(router, http.MethodGet, "/api/extraction/jobs/"+started.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var view JobView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, JobStatusCompleted, view.Status)
	assert.Equal(t, 100, view.Progress)

	w = doRequest(router, http.MethodGet, "/api/extraction/jobs/"+started.ID+"/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"instances":6`)

	w = doRequest(router, http.MethodGet, "/api/extraction/jobs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = doRequest(router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dicomingest_entities_inserted_total")
	assert.Contains(t, w.Body.String(), started.ID)
}

func TestRoutes_StartJobValidation(t *testing.T) {
	_, open := writeCohort(t, 1, 1, nil)
	m, _ := newTestModule(t, open)
	router := newTestRouter(m)

	w := doRequest(router, http.MethodPost, "/api/extraction/jobs", `{"cohort_id":"c","raw_root":"/x","min_batch_size":50,"max_batch_size":5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")

	w = doRequest(router, http.MethodPost, "/api/extraction/jobs", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoutes_UnknownJob(t *testing.T) {
	_, open := writeCohort(t, 1, 1, nil)
	m, _ := newTestModule(t, open)
	router := newTestRouter(m)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/extraction/jobs/nope"},
		{http.MethodGet, "/api/extraction/jobs/nope/metrics"},
		{http.MethodPost, "/api/extraction/jobs/nope/pause"},
		{http.MethodPost, "/api/extraction/jobs/nope/cancel"},
		{http.MethodPatch, "/api/extraction/jobs/nope/adaptive"},
	} {
		w := doRequest(router, tc.method, tc.path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, tc.path)
	}
}

func TestRoutes_AdaptiveRequiresPause(t *testing.T) {
	gate := make(chan struct{})
	root, open := writeCohort(t, 2, 2, gate)
	m, _ := newTestModule(t, open)
	router := newTestRouter(m)

	job, err := m.StartJob(t.Context(), jobConfig(m, root))
	require.NoError(t, err)
	defer close(gate)

	patch := `{"min_batch_size":5,"max_batch_size":50,"target_tx_ms":250}`

	w := doRequest(router, http.MethodPatch, "/api/extraction/jobs/"+job.ID+"/adaptive", patch)
	assert.Equal(t, http.StatusConflict, w.Code, "running job rejects patches")

	w = doRequest(router, http.MethodPost, "/api/extraction/jobs/"+job.ID+"/pause", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodPatch, "/api/extraction/jobs/"+job.ID+"/adaptive", patch)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var view JobView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, JobStatusPaused, view.Status)
	assert.Equal(t, 5, view.Config.MinBatchSize)
	assert.Equal(t, 50, view.Config.MaxBatchSize)
	assert.Equal(t, 250, view.Config.TargetTxMs)
	assert.True(t, view.Config.AdaptiveBatchingEnabled, "omitted fields keep their values")

	w = doRequest(router, http.MethodPatch, "/api/extraction/jobs/"+job.ID+"/adaptive", `{"min_batch_size":60,"max_batch_size":50}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodPost, "/api/extraction/jobs/"+job.ID+"/resume", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodPost, "/api/extraction/jobs/"+job.ID+"/resume", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(router, http.MethodPost, "/api/extraction/jobs/"+job.ID+"/cancel", "")
	require.Equal(t, http.StatusOK, w.Code)
}
