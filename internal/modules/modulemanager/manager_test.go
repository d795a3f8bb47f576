package modulemanager

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stubModule struct {
	id      string
	core    bool
	calls   *[]string
	initErr error
	shutErr error
}

func (m *stubModule) ID() string   { return m.id }
func (m *stubModule) Name() string { return "stub " + m.id }
func (m *stubModule) Core() bool   { return m.core }

func (m *stubModule) Migrate(*gorm.DB) error {
	*m.calls = append(*m.calls, "migrate:"+m.id)
	return nil
}

func (m *stubModule) Init() error {
	*m.calls = append(*m.calls, "init:"+m.id)
	return m.initErr
}

func (m *stubModule) Shutdown(context.Context) error {
	*m.calls = append(*m.calls, "shutdown:"+m.id)
	return m.shutErr
}

func (m *stubModule) RegisterRoutes(router *gin.Engine) {
	router.GET("/stub/"+m.id, func(c *gin.Context) { c.Status(http.StatusNoContent) })
}

func TestModuleRegistry_LoadAllInOrder(t *testing.T) {
	var calls []string
	r := NewRegistry(hclog.NewNullLogger())
	r.Register(&stubModule{id: "a", core: true, calls: &calls})
	r.Register(&stubModule{id: "b", calls: &calls})
	r.Register(&stubModule{id: "c", calls: &calls})
	r.DisableModule("c")

	require.NoError(t, r.LoadAll(nil))
	assert.Equal(t, []string{"migrate:a", "init:a", "migrate:b", "init:b"}, calls)
	assert.Len(t, r.ListModules(), 2)

	require.NoError(t, r.LoadAll(nil), "second load is a no-op")
	assert.Len(t, calls, 4)
}

func TestModuleRegistry_CoreCannotBeDisabled(t *testing.T) {
	var calls []string
	r := NewRegistry(hclog.NewNullLogger())
	r.Register(&stubModule{id: "core", core: true, calls: &calls})
	r.DisableModule("core")

	assert.Error(t, r.LoadAll(nil))
}

func TestModuleRegistry_InitError(t *testing.T) {
	var calls []string
	r := NewRegistry(hclog.NewNullLogger())
	r.Register(&stubModule{id: "a", calls: &calls, initErr: errors.New("boom")})

	err := r.LoadAll(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestModuleRegistry_ShutdownReverseOrder(t *testing.T) {
	var calls []string
	r := NewRegistry(hclog.NewNullLogger())
	r.Register(&stubModule{id: "a", calls: &calls})
	r.Register(&stubModule{id: "b", calls: &calls, shutErr: errors.New("stuck")})

	err := r.Shutdown(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"shutdown:b", "shutdown:a"}, calls)
}

func TestModuleRegistry_RoutesAndHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var calls []string
	r := NewRegistry(hclog.NewNullLogger())
	r.Register(&stubModule{id: "a", calls: &calls})

	router := gin.New()
	r.RegisterRoutes(router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stub/a", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	health := r.HealthCheck(context.Background())
	assert.Equal(t, HealthStateUnknown, health["a"].Status)
}
