package http

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/portrait-api/internal/application/generation"
	"github.com/portrait-api/internal/application/verification"
	"github.com/portrait-api/internal/config"
	"github.com/portrait-api/internal/domain"
	"github.com/portrait-api/internal/transport/http/handler"
	appmiddleware "github.com/portrait-api/internal/transport/http/middleware"
)

// ImageSource opens stored artifacts for the image proxy.
type ImageSource interface {
	Open(ctx context.Context, key string) (io.ReadCloser, string, error)
}

// Deps holds the application services and adapters the router exposes.
type Deps struct {
	Generations   generation.Service
	Verifications verification.Service
	Images        ImageSource
	Tokens        appmiddleware.TokenVerifier
	Metrics       prometheus.Gatherer
}

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	if cfg.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Generation is expensive; each IP gets a small burst and then one run
	// every ten seconds.
	generateRL := appmiddleware.NewRateLimiter(rate.Limit(0.1), 3)
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(1), 5)

	healthH := handler.NewHealthHandler()
	genH := handler.NewGenerationHandler(deps.Generations, cfg.MaxPhotoBytes)
	verifyH := handler.NewVerificationHandler(deps.Verifications)
	imageH := handler.NewImageHandler(deps.Images)

	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health-check/{action}", healthH.Ping)
		r.Post("/health-check/{action}", healthH.Ping)

		r.With(generateRL.Limit, appmiddleware.OptionalAuth(deps.Tokens)).Post("/generations", genH.Generate)
		r.Get("/generations/by-email", genH.ByEmail)
		r.Get("/generations/{identifier}", genH.Status)
		r.With(sensitiveRL.Limit).Patch("/generations/{identifier}", genH.UpdateDetails)

		r.With(sensitiveRL.Limit).Post("/verification/{action}", verifyH.Action)

		r.Get("/images", imageH.Proxy)

		r.Group(func(r chi.Router) {
			r.Use(appmiddleware.Auth(deps.Tokens))
			r.Use(appmiddleware.RequireScope(domain.ScopeAdmin))

			r.Post("/admin/flush", genH.Flush)
		})
	})

	return r
}
