// Package shield is the HTTP middleware for plume's ops API: security
// headers, request body caps, per-request IDs and loggers, SQLite-ruled
// rate limiting, and a maintenance gate.
//
// Usage:
//
//	st := shield.NewStack(db)
//	st.StartReloaders(ctx.Done())
//	r := chi.NewRouter()
//	for _, mw := range st.Chain {
//	    r.Use(mw)
//	}
//
// Rate limit rules and the maintenance flag live in SQLite (see Schema),
// so an operator can adjust both on a running service with nothing but
// the sqlite3 shell.
package shield

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// Middleware is a standard net/http middleware.
type Middleware = func(http.Handler) http.Handler

// Stack bundles the assembled middleware chain with the handles that
// carry background lifecycles.
type Stack struct {
	Chain       []Middleware
	Maintenance *MaintenanceMode
	Limiter     *RateLimiter
}

// NewStack assembles plume's standard API middleware, ordered maintenance
// gate, HEAD mapping, security headers, body cap, request IDs, rate
// limiter. Health probes bypass the gate and the limiter.
func NewStack(db *sql.DB) *Stack {
	probes := []string{"/healthz", "/readyz"}
	mm := NewMaintenanceMode(db, probes...)
	rl := NewRateLimiter(db, probes...)
	return &Stack{
		Chain: []Middleware{
			mm.Middleware,
			HeadToGet,
			SecurityHeaders(DefaultHeaders()),
			MaxBody(256 * 1024),
			RequestID,
			rl.Middleware,
		},
		Maintenance: mm,
		Limiter:     rl,
	}
}

// StartReloaders starts the rule and flag refresh loops. They stop when
// done is closed.
func (s *Stack) StartReloaders(done <-chan struct{}) {
	s.Maintenance.StartReloader(done)
	s.Limiter.StartReloader(done)
}
