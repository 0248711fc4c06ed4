package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"snowgoose-backend/internal/handlers"
	"snowgoose-backend/internal/middleware"
	"snowgoose-backend/internal/websocket"
)

// Options holds the router settings that are not handlers.
type Options struct {
	FrontendURL     string
	ChatLimitPerMin int
	UploadsDir      string // served under /uploads when images are stored locally
	MetricsGatherer prometheus.Gatherer
	Logger          *zap.Logger
}

func New(
	jwtAuth *middleware.JWTAuth,
	chatHandler *handlers.ChatHandler,
	userHandler *handlers.UserHandler,
	catalogHandler *handlers.CatalogHandler,
	wsHub *websocket.Hub,
	opts Options,
) (http.Handler, func()) {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(opts.Logger.Named("http")))
	r.Use(middleware.CORS(opts.FrontendURL))

	chatLimiter := middleware.NewRateLimiter(opts.ChatLimitPerMin, time.Minute)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	if opts.MetricsGatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.MetricsGatherer, promhttp.HandlerOpts{}))
	}

	if opts.UploadsDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(opts.UploadsDir))))
	}

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Chat ────
		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Use(chatLimiter.Middleware)
			r.Post("/chat", chatHandler.Stream)
		})

		// ──── Catalog ────
		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/models", catalogHandler.ListModels)
			r.Get("/personas", catalogHandler.ListPersonas)
			r.Get("/output-formats", catalogHandler.ListOutputFormats)
		})

		// ──── User ────
		r.Route("/user", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/me", userHandler.GetMe)
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r, chatLimiter.Stop
}
