package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/leadcore/intent-core/internal/http/handlers"
	"github.com/leadcore/intent-core/internal/http/middleware"
)

// AdminPaths require the admin bearer token when one is configured.
var AdminPaths = []string{
	"/agents",
	"/batch",
	"/offers/recompute",
	"/workflow/approve",
	"/workflow/reject",
	"/workflow/queue",
}

// SynchronousPaths run agents or recompute inline and are bounded by
// RouterDependencies.AdminTimeout.
var SynchronousPaths = []string{
	"/agents/run",
	"/batch/run",
	"/offers/recompute",
	"/workflow/approve",
}

// PublicPaths are called from landing pages on arbitrary origins.
var PublicPaths = []string{
	"/healthz",
	"/signal",
	"/next-step",
}

type RouterDependencies struct {
	API            *handlers.API
	Logger         *slog.Logger
	AdminToken     string
	AdminTimeout   time.Duration
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter wires routes and middleware. ctx bounds background middleware
// goroutines such as the rate limiter sweeper.
func NewRouter(ctx context.Context, deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", deps.API.Health)

	mux.HandleFunc("/signal", deps.API.Signal)
	mux.HandleFunc("/next-step", deps.API.NextStep)

	mux.HandleFunc("/workflow/route", deps.API.RouteWorkflow)
	mux.HandleFunc("/workflow/approve", deps.API.ApproveWorkflow)
	mux.HandleFunc("/workflow/reject", deps.API.RejectWorkflow)
	mux.HandleFunc("/workflow/queue", deps.API.WorkflowQueue)

	mux.HandleFunc("/offers/recommendation", deps.API.OfferRecommendation)
	mux.HandleFunc("/offers/recompute", deps.API.RecomputeOffers)

	mux.HandleFunc("/agents", deps.API.ListAgents)
	mux.HandleFunc("/agents/run", deps.API.RunAgent)
	mux.HandleFunc("/agents/traces", deps.API.Traces)
	mux.HandleFunc("/batch/run", deps.API.RunBatch)

	handler := http.Handler(mux)
	handler = middleware.Deadline(deps.AdminTimeout, SynchronousPaths...)(handler)
	handler = middleware.AdminAuth(deps.AdminToken, AdminPaths...)(handler)
	handler = middleware.RateLimit(ctx, deps.RateLimitRPS, deps.RateLimitBurst)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
		PublicPaths:    PublicPaths,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
