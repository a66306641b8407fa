package httpx

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

const healthResponse = `{"status":"ok"}`

// healthHandler returns a simple 200 OK status for liveness checks.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, healthResponse); err != nil {
		// Nothing more to do if the client connection is gone.
		return
	}
}

// ReadinessCheck checks one dependency such as the database or Redis.
type ReadinessCheck func(ctx context.Context) error

const readinessTimeout = 2 * time.Second

type readinessHandler struct {
	checks map[string]ReadinessCheck
	logger *slog.Logger
}

type readinessBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// ServeHTTP runs every check and reports 503 when any of them fails.
func (h *readinessHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	body := readinessBody{Status: "ok", Checks: make(map[string]string, len(names))}
	code := http.StatusOK
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.WarnContext(ctx, "readiness check failed", "check", name, "error", err)
			body.Checks[name] = "unavailable"
			body.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		body.Checks[name] = "ok"
	}
	WriteJSON(w, code, body)
}
