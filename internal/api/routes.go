package api

import "net/http"

// setupRoutes registers all run control plane endpoints on mux, using Go
// 1.22+ method+path patterns so path parameters are available via
// r.PathValue without a third-party router.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("POST /v1/tenants/{tenant_id}/runs/claim", s.handleClaim)
	mux.HandleFunc("GET /v1/tenants/{tenant_id}/runs", s.handleList)
	mux.HandleFunc("POST /v1/tenants/{tenant_id}/runs/reap-stale", s.handleReapStale)

	mux.HandleFunc("GET /v1/tenants/{tenant_id}/runs/{id}", s.handleGet)
	mux.HandleFunc("POST /v1/tenants/{tenant_id}/runs/{id}/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("POST /v1/tenants/{tenant_id}/runs/{id}/complete", s.handleComplete)
	mux.HandleFunc("POST /v1/tenants/{tenant_id}/runs/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /v1/tenants/{tenant_id}/runs/{id}/retry", s.handleRetry)
	mux.HandleFunc("GET /v1/tenants/{tenant_id}/runs/{id}/lineage", s.handleLineage)

	mux.HandleFunc("POST /v1/tenants/{tenant_id}/runs/{id}/logs", s.handleAppendLog)
	mux.HandleFunc("GET /v1/tenants/{tenant_id}/runs/{id}/logs", s.handleListLogs)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(r.Context()); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"ok": false, "reason": "transient", "status": 503}`))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok": true}`))
}
