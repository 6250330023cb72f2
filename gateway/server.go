// Package gateway exposes the HTTP API: narrative chat, credential claims,
// proposal lifecycle and governance views.
package gateway

import (
	"context"
	"crypto/subtle"
	_ "embed"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"qawakun/gateway/auth"
	"qawakun/gateway/middleware"
	"qawakun/issuance"
	"qawakun/proposals"
	"qawakun/store"
)

//go:embed default_game_options.json
var defaultGameOptions []byte

// Responder is the chat surface the API fronts.
type Responder interface {
	Reply(ctx context.Context, identity, userText string) (string, error)
}

// Config carries the server's HTTP-level settings.
type Config struct {
	AdminToken string

	// Static credentials trusted frontends exchange for a session token.
	AppUser     string
	AppPassword string

	RateLimits  map[string]middleware.RateLimit
	CORS        middleware.CORSConfig
	LogRequests bool
}

// Server wires the HTTP surface over the domain services.
type Server struct {
	cfg      Config
	auth     *auth.Service
	engine   Responder
	workflow *issuance.Workflow
	manager  *proposals.Manager
	store    *store.Store
	obs      *middleware.Observability
	limits   *middleware.RateLimiter
	logger   *slog.Logger
	router   chi.Router
}

// NewServer builds the API server and its routes.
func NewServer(cfg Config, authSvc *auth.Service, engine Responder, workflow *issuance.Workflow, manager *proposals.Manager, st *store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		auth:     authSvc,
		engine:   engine,
		workflow: workflow,
		manager:  manager,
		store:    st,
		obs: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: "qawakun",
			LogRequests: cfg.LogRequests,
		}, logger),
		limits: middleware.NewRateLimiter(cfg.RateLimits, logger),
		logger: logger.With("component", "gateway"),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(s.cfg.CORS))

	r.Method(http.MethodGet, "/healthz", s.instrument("healthz", http.HandlerFunc(s.handleHealth)))
	r.Method(http.MethodGet, "/metrics", s.obs.MetricsHandler())

	r.Method(http.MethodPost, "/login", s.public("login", s.handleLogin))

	r.Method(http.MethodPost, "/api", s.session("chat", s.handleChat))

	r.Method(http.MethodGet, "/nft-claim", s.session("claim", s.handleClaimStatus))
	r.Method(http.MethodPost, "/nft-claim", s.session("claim", s.handleClaim))
	r.Method(http.MethodPost, "/nft-claim/recover", s.session("claim", s.handleClaimRecover))

	r.Method(http.MethodGet, "/proposals", s.public("proposals", s.handleListProposals))
	r.Method(http.MethodPost, "/proposals", s.session("proposals", s.handleSubmitProposal))
	r.Method(http.MethodPut, "/proposals", s.session("proposals", s.handleSubmitProposal))
	r.Method(http.MethodGet, "/proposals/voting", s.public("proposals", s.handleVotingProposals))
	r.Method(http.MethodGet, "/proposals/pending", s.public("proposals", s.handlePendingProposals))
	r.Method(http.MethodGet, "/proposals/{wallet}", s.public("proposals", s.handleGetProposal))
	r.Method(http.MethodPost, "/proposals/{wallet}/vote", s.session("vote", s.handleVote))
	r.Method(http.MethodPut, "/proposals/{wallet}/status", s.admin("admin", s.handleUpdateStatus))
	r.Method(http.MethodPost, "/proposals/elevate", s.admin("admin", s.handleElevate))

	r.Method(http.MethodGet, "/governance/monthly", s.public("governance", s.handleMonthly))
	r.Method(http.MethodGet, "/governance/winning", s.public("governance", s.handleWinning))
	r.Method(http.MethodGet, "/governance/active", s.public("governance", s.handleActiveProposals))
	r.Method(http.MethodPost, "/governance/vote", s.admin("admin", s.handleGovernanceVote))
	r.Method(http.MethodPost, "/governance/execute-monthly", s.admin("admin", s.handleExecuteMonthly))

	r.Method(http.MethodGet, "/context", s.public("content", s.handleGetContext))
	r.Method(http.MethodPost, "/context", s.admin("admin", s.handleSetContext))
	r.Method(http.MethodGet, "/game-options", s.public("content", s.handleGetGameOptions))
	r.Method(http.MethodPost, "/game-options", s.admin("admin", s.handleSetGameOptions))

	return r
}

func (s *Server) instrument(route string, h http.Handler) http.Handler {
	return s.obs.Middleware(route)(h)
}

func (s *Server) public(group string, h http.HandlerFunc) http.Handler {
	return s.instrument(group, s.limits.Middleware(group)(h))
}

func (s *Server) session(group string, h http.HandlerFunc) http.Handler {
	return s.public(group, func(w http.ResponseWriter, r *http.Request) {
		middleware.Session(s.auth)(http.HandlerFunc(h)).ServeHTTP(w, r)
	})
}

func (s *Server) credentialsMatch(user, password string) bool {
	if s.cfg.AppUser == "" || s.cfg.AppPassword == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.AppUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.AppPassword)) == 1
	return userOK && passOK
}

func (s *Server) admin(group string, h http.HandlerFunc) http.Handler {
	return s.public(group, func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Admin-Token")
		if s.cfg.AdminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			http.Error(w, "admin token required", http.StatusForbidden)
			return
		}
		h(w, r)
	})
}
