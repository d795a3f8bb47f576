package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/dicomingest/internal/config"
	"github.com/mantonx/dicomingest/internal/modules/modulemanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeModule struct {
	id     string
	health modulemanager.HealthState
}

func (m *fakeModule) ID() string                { return m.id }
func (m *fakeModule) Name() string              { return m.id }
func (m *fakeModule) Core() bool                { return false }
func (m *fakeModule) Migrate(db *gorm.DB) error { return nil }
func (m *fakeModule) Init() error               { return nil }

func (m *fakeModule) RegisterRoutes(r *gin.Engine) {
	r.GET("/api/"+m.id, func(c *gin.Context) { c.String(http.StatusOK, m.id) })
}

func (m *fakeModule) HealthCheck(ctx context.Context) modulemanager.HealthStatus {
	return modulemanager.HealthStatus{Status: m.health, LastChecked: time.Now()}
}

func newTestServer(t *testing.T, modules ...modulemanager.Module) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := modulemanager.NewRegistry(hclog.NewNullLogger())
	for _, m := range modules {
		registry.Register(m)
	}
	require.NoError(t, registry.LoadAll(nil))

	return New(config.ServerConfig{Listen: "127.0.0.1:0", ReadTimeout: time.Second, WriteTimeout: time.Second}, registry, hclog.NewNullLogger())
}

func TestServer_Health(t *testing.T) {
	tests := []struct {
		name   string
		states []modulemanager.HealthState
		code   int
		want   string
	}{
		{"all healthy", []modulemanager.HealthState{modulemanager.HealthStateHealthy, modulemanager.HealthStateHealthy}, http.StatusOK, "healthy"},
		{"degraded", []modulemanager.HealthState{modulemanager.HealthStateHealthy, modulemanager.HealthStateDegraded}, http.StatusOK, "degraded"},
		{"unhealthy", []modulemanager.HealthState{modulemanager.HealthStateDegraded, modulemanager.HealthStateUnhealthy}, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var modules []modulemanager.Module
			for i, state := range tt.states {
				modules = append(modules, &fakeModule{id: fmt.Sprintf("m%d", i), health: state})
			}
			s := newTestServer(t, modules...)

			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

			assert.Equal(t, tt.code, w.Code)
			assert.Contains(t, w.Body.String(), `"status":"`+tt.want+`"`)
			assert.Contains(t, w.Body.String(), `"m0"`)
		})
	}
}

func TestServer_ModuleRoutesAndCORS(t *testing.T) {
	s := newTestServer(t, &fakeModule{id: "jobs", health: modulemanager.HealthStateHealthy})

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "jobs", w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/jobs", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	s := newTestServer(t, &fakeModule{id: "jobs", health: modulemanager.HealthStateHealthy})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
