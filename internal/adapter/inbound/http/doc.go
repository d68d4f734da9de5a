// Package http provides the operations endpoint of the tapgate engine.
//
// # Endpoints
//
//	GET /health  - Component checks, 503 when the engine is not listening
//	GET /metrics - Prometheus metrics (namespace "tapgate")
//	GET /stats   - JSON snapshot of the router counters
//
// # Usage
//
//	reg := http.NewRegistry()
//	metrics := http.NewMetrics(reg)
//	router := service.NewRouter(chain, service.WithObserver(metrics))
//	srv := http.NewServer(reg, metrics,
//	    http.WithAddr("127.0.0.1:9464"),
//	    http.WithHealthChecker(http.NewHealthChecker(engine, router, version)),
//	    http.WithStats(router.Stats()),
//	)
//	err := srv.Start(ctx)
//
// Requests to /stats are recorded by MetricsMiddleware; /health and
// /metrics are not.
package http
