package modulemanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"
)

// ModuleRegistry manages module registration and initialization. Modules
// load in registration order.
type ModuleRegistry struct {
	mu              sync.RWMutex
	modules         map[string]Module
	order           []string
	disabledModules map[string]bool
	initialized     bool
	logger          hclog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger hclog.Logger) *ModuleRegistry {
	return &ModuleRegistry{
		modules:         make(map[string]Module),
		disabledModules: make(map[string]bool),
		logger:          logger.Named("modules"),
	}
}

// Register adds a module to the registry
func (r *ModuleRegistry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		r.logger.Warn("module registered after initialization", "module", m.ID())
	}

	if _, exists := r.modules[m.ID()]; !exists {
		r.order = append(r.order, m.ID())
	}
	r.modules[m.ID()] = m
	r.logger.Debug("module registered", "module", m.ID(), "name", m.Name())
}

// DisableModule marks a module as disabled. Core modules cannot be disabled.
func (r *ModuleRegistry) DisableModule(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabledModules[id] = true
}

// LoadAll migrates and initializes every enabled module
func (r *ModuleRegistry) LoadAll(db *gorm.DB) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		r.logger.Warn("module system already initialized")
		return nil
	}

	enabled := r.enabledLocked()
	for _, id := range r.order {
		if r.disabledModules[id] && r.modules[id].Core() {
			return fmt.Errorf("attempted to disable core module: %s", id)
		}
	}

	for i, module := range enabled {
		r.logger.Debug("initializing module", "module", module.ID(), "step", fmt.Sprintf("%d/%d", i+1, len(enabled)))

		if err := module.Migrate(db); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", module.Name(), err)
		}
		if err := module.Init(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", module.Name(), err)
		}
		r.logger.Info("module loaded", "module", module.ID())
	}

	r.initialized = true
	return nil
}

// GetModule returns a registered module by ID
func (r *ModuleRegistry) GetModule(id string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[id]
	return m, ok
}

// ListModules returns enabled modules in load order
func (r *ModuleRegistry) ListModules() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabledLocked()
}

// RegisterRoutes registers routes for all modules that implement RouteRegistrar
func (r *ModuleRegistry) RegisterRoutes(router *gin.Engine) {
	for _, module := range r.ListModules() {
		if registrar, ok := module.(RouteRegistrar); ok {
			r.logger.Debug("registering routes", "module", module.ID())
			registrar.RegisterRoutes(router)
		}
	}
}

// HealthCheck collects the health of every module that reports one
func (r *ModuleRegistry) HealthCheck(ctx context.Context) map[string]HealthStatus {
	result := make(map[string]HealthStatus)
	for _, module := range r.ListModules() {
		if checker, ok := module.(HealthChecker); ok {
			result[module.ID()] = checker.HealthCheck(ctx)
			continue
		}
		result[module.ID()] = HealthStatus{Status: HealthStateUnknown, LastChecked: time.Now()}
	}
	return result
}

// Shutdown stops modules in reverse load order
func (r *ModuleRegistry) Shutdown(ctx context.Context) error {
	modules := r.ListModules()

	var errs []error
	for i := len(modules) - 1; i >= 0; i-- {
		if s, ok := modules[i].(Shutdowner); ok {
			if err := s.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to shut down %s: %w", modules[i].Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

func (r *ModuleRegistry) enabledLocked() []Module {
	out := make([]Module, 0, len(r.order))
	for _, id := range r.order {
		if r.disabledModules[id] && !r.modules[id].Core() {
			continue
		}
		out = append(out, r.modules[id])
	}
	return out
}
