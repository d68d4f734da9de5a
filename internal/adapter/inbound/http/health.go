package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// EngineStatus reports the state of the engine server.
type EngineStatus interface {
	// Addr returns the listen address, or "" when not listening.
	Addr() string
	Connections() int
}

// ChainStatus reports the active interceptor chain.
type ChainStatus interface {
	Interceptors() []string
}

// HealthChecker verifies component health.
type HealthChecker struct {
	engine  EngineStatus
	chain   ChainStatus
	version string
}

// NewHealthChecker creates a HealthChecker with optional components.
// Pass nil for components that aren't available.
func NewHealthChecker(engine EngineStatus, chain ChainStatus, version string) *HealthChecker {
	return &HealthChecker{engine: engine, chain: chain, version: version}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.engine != nil {
		if addr := h.engine.Addr(); addr != "" {
			checks["engine"] = fmt.Sprintf("ok: %s, %d connections", addr, h.engine.Connections())
		} else {
			// An engine that stopped listening cannot serve instrumented processes.
			checks["engine"] = "not listening"
			healthy = false
		}
	} else {
		checks["engine"] = "not configured"
	}

	if h.chain != nil {
		names := h.chain.Interceptors()
		if len(names) == 0 {
			checks["interceptors"] = "none"
		} else {
			checks["interceptors"] = strings.Join(names, ",")
		}
	} else {
		checks["interceptors"] = "not configured"
	}

	// Add Go runtime info
	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check()

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable) // 503
		} else {
			w.WriteHeader(http.StatusOK) // 200
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
