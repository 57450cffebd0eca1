package server

import (
	"encoding/json"
	"net/http"

	"repoaudit/internal/gateway/handler"
	"repoaudit/internal/gateway/middleware"
)

func NewMux(
	allowedOrigins []string,
	auditHandler *handler.AuditHandler,
	watchHandler *handler.WatchHandler,
	traceHandler *handler.TraceHandler,
) http.Handler {
	mux := http.NewServeMux()

	// RPC Handlers
	auditHandler.Register(mux)

	// Streaming
	mux.HandleFunc("/ws/audit", watchHandler.HandleWatchWS)

	// Debug Handlers
	mux.HandleFunc("/debug/frontend-trace", traceHandler.HandleFrontendTrace)
	mux.HandleFunc("/debug/run-logs", traceHandler.HandleRunLogs)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})

	// Middleware
	return middleware.CORS(allowedOrigins, mux)
}
