package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/fortresslabs/identity/internal/auth"
	"github.com/fortresslabs/identity/internal/obs"
)

// ReadyProbe checks readiness dependencies (database ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP boundary layer. It resolves bearer tokens to
// principals, gates every user action through the authorization engine
// and maps core errors to stable machine-readable codes.
type API struct {
	mux     *http.ServeMux
	svc     *auth.Service
	engine  *auth.Engine
	graph   *auth.Graph
	probe   ReadyProbe
	version string

	secureCookies  bool
	allowedOrigins []string

	loginLimiter    *ipLimiter
	registerLimiter *ipLimiter
	refreshLimiter  *ipLimiter
}

// Option configures the API.
type Option func(*API)

// WithSecureCookies marks the token cookie Secure (production).
func WithSecureCookies(enabled bool) Option {
	return func(a *API) { a.secureCookies = enabled }
}

// WithAllowedOrigins sets the CORS allow-list in addition to localhost.
func WithAllowedOrigins(origins []string) Option {
	return func(a *API) { a.allowedOrigins = origins }
}

// New wires routes. Rate limits mirror the route throttles of the
// original deployment: 5/min login, 3/min register, 10/min refresh per
// client IP.
func New(svc *auth.Service, engine *auth.Engine, graph *auth.Graph, probe ReadyProbe, version string, opts ...Option) *API {
	a := &API{
		mux:             http.NewServeMux(),
		svc:             svc,
		engine:          engine,
		graph:           graph,
		probe:           probe,
		version:         version,
		loginLimiter:    newIPLimiter(5, time.Minute),
		registerLimiter: newIPLimiter(3, time.Minute),
		refreshLimiter:  newIPLimiter(10, time.Minute),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReady)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/api/v1/health", a.handleHealth)
	a.mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/api/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/api/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/api/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/api/v1/auth/password", a.handleChangePassword)
	a.mux.HandleFunc("/api/v1/auth/me", a.handleMe)
	a.mux.HandleFunc("/api/v1/users", a.handleUsers)
	a.mux.HandleFunc("/api/v1/users/", a.handleUserResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusNotFound, codeNotFound, "Resource not found.")
	})

	return a
}

// Handler assembles the middleware chain around the router.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RequestID(h)
	h = CORS(h, a.allowedOrigins)
	h = SecurityHeaders(h)
	h = Logging(h)
	return obs.Instrument(h)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "identity-api",
		"version": a.version,
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.probe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]any{"status": "ok"})
}
