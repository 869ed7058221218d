package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/berserksystems/instrumentality/internal/access"
	"github.com/berserksystems/instrumentality/internal/identity"
	"github.com/berserksystems/instrumentality/internal/ingest"
	"github.com/berserksystems/instrumentality/internal/logging"
	"github.com/berserksystems/instrumentality/internal/metrics"
	"github.com/berserksystems/instrumentality/internal/queue"
	"github.com/berserksystems/instrumentality/internal/ratelimit"
	"github.com/berserksystems/instrumentality/internal/recordmodel"
	"github.com/berserksystems/instrumentality/internal/registry"
)

// Server bundles every dependency the HTTP handlers call into. It holds no
// mutable state of its own: all shared mutable state lives in the stores
// reached through these fields, per the concurrency model.
type Server struct {
	Access     *access.Boundary
	Operators  identity.OperatorStore
	Referrals  identity.ReferralStore
	Registry   *registry.Registry
	Queue      *queue.Queue
	Ingest     *ingest.Pipeline
	Config     recordmodel.ConfigView
	Log        *logging.Logger
	Metrics    *metrics.Metrics
	RateLimit  *ratelimit.Limiter
	// RequestTimeout bounds every handler; recommended 5s per the spec.
	RequestTimeout time.Duration
	// Shutdown is invoked by the admin-only /halt endpoint.
	Shutdown func()
	// WithTx runs fn within a single database transaction. Used by handlers
	// that must make more than one store call atomically (e.g. redeeming a
	// referral and creating its operator in /users/register).
	WithTx func(ctx context.Context, fn func(ctx context.Context) error) error
}

// NewRouter builds the gorilla/mux router for the full endpoint table,
// wrapping it in the logging/recovery/rate-limit/timeout/metrics middleware
// chain. Grounded on the teacher's cmd/gateway/main.go assembly order:
// logging and recovery outermost, then metrics, then rate limiting, then
// the per-request timeout closest to the handlers.
func (s *Server) NewRouter() http.Handler {
	r := mux.NewRouter()

	r.Use(loggingMiddleware(s.Log))
	r.Use(recoveryMiddleware(s.Log))
	if s.Metrics != nil {
		r.Use(metrics.Middleware(s.Metrics))
		r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
	if s.RateLimit != nil {
		r.Use(s.RateLimit.Middleware)
	}
	r.Use(timeoutMiddleware(s.RequestTimeout))

	r.HandleFunc("/", s.handleFrontpage).Methods(http.MethodGet)
	r.HandleFunc("/types", s.handleTypes).Methods(http.MethodGet)

	r.HandleFunc("/users/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/users/invite", s.handleInvite).Methods(http.MethodGet)
	r.HandleFunc("/user/login", s.handleLogin).Methods(http.MethodGet)
	r.HandleFunc("/user/reset", s.handleResetKey).Methods(http.MethodGet)

	r.HandleFunc("/subjects/create", s.handleSubjectCreate).Methods(http.MethodPost)
	r.HandleFunc("/subjects/update", s.handleSubjectUpdate).Methods(http.MethodPost)
	r.HandleFunc("/subjects/delete", s.handleSubjectDelete).Methods(http.MethodDelete)

	r.HandleFunc("/groups/create", s.handleGroupCreate).Methods(http.MethodPost)
	r.HandleFunc("/groups/update", s.handleGroupUpdate).Methods(http.MethodPost)
	r.HandleFunc("/groups/delete", s.handleGroupDelete).Methods(http.MethodDelete)

	r.HandleFunc("/queue", s.handleQueueLease).Methods(http.MethodGet)
	r.HandleFunc("/add", s.handleAdd).Methods(http.MethodPost)
	r.HandleFunc("/view", s.handleView).Methods(http.MethodGet)
	r.HandleFunc("/halt", s.handleHalt).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, coordinatorNotFound())
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, coordinatorMethodNotAllowed())
	})

	return r
}

func (s *Server) authenticate(r *http.Request) (identity.Operator, error) {
	return s.Access.Authenticate(r)
}

func ctxWithOperator(ctx context.Context, op identity.Operator) context.Context {
	return access.WithOperator(ctx, op)
}
