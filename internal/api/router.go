package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/continuumhq/continuum/internal/api/handlers"
	mw "github.com/continuumhq/continuum/internal/api/middleware"
	"github.com/continuumhq/continuum/internal/config"
	"github.com/continuumhq/continuum/internal/domain"
	"github.com/continuumhq/continuum/internal/oracle"
	"github.com/continuumhq/continuum/internal/service"
	"github.com/continuumhq/continuum/internal/store"
)

// App holds the router and the background verifier for lifecycle management.
type App struct {
	Router   *chi.Mux
	Verifier *service.Verifier
}

// NewApp wires stores, the oracle client, and the analysis services into the
// HTTP router. db may be nil when the in-memory store backend is selected.
func NewApp(cfg *config.Config, db *pgxpool.Pool, logger *zap.Logger) (*App, error) {
	var graphStore domain.GraphStore
	if cfg.StoreBackend == "postgres" {
		graphStore = store.NewPostgresGraphStore(db)
		logger.Info("using postgres graph store")
	} else {
		graphStore = store.NewMemoryGraphStore()
		logger.Info("using in-memory graph store")
	}

	oracleClient, err := oracle.NewClient(cfg.OracleProvider, cfg.OracleAPIKey, cfg.OracleBaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info("oracle client initialized", zap.String("provider", cfg.OracleProvider))

	// Services
	deps := service.NewDependencyGraph(cfg.Escalation.StructuralBreakDepth)
	drift := service.NewDriftAccumulator(cfg.Drift, deps, logger)
	topics := service.NewTopicTracker(cfg.Escalation.StanceInstability)
	extractor := service.NewExtractor(logger)
	detector := service.NewDetector(drift, logger)
	policy := service.NewEscalationPolicy(cfg.Escalation, drift, deps, topics, logger)
	analyzer := service.NewAnalyzer(extractor, detector, drift, deps, topics, policy, oracleClient, cfg.OracleExtraction, logger)
	verifier := service.NewVerifier(graphStore, oracleClient, logger)
	health := service.NewHealthReporter(drift, deps)

	conversationHandler := handlers.NewConversationHandler(graphStore, analyzer, verifier, health, logger)

	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))

	// Health and Prometheus metrics (no versioned prefix)
	r.Get("/health", healthHandler(db))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Post("/turns", conversationHandler.AnalyzeTurn)
			r.Post("/reconcile", conversationHandler.Reconcile)
			r.Get("/graph", conversationHandler.GetGraph)
			r.Get("/metrics", conversationHandler.GetMetrics)
			r.Delete("/", conversationHandler.Delete)
		})
	})

	return &App{Router: r, Verifier: verifier}, nil
}

func healthHandler(db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.Ping(r.Context()); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// Ensure stores and clients satisfy interfaces at compile time.
var (
	_ domain.GraphStore   = (*store.MemoryGraphStore)(nil)
	_ domain.GraphStore   = (*store.PostgresGraphStore)(nil)
	_ domain.OracleClient = (*oracle.K2Client)(nil)
	_ domain.OracleClient = (*oracle.MockClient)(nil)
)
