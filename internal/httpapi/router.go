// Package httpapi implements spec §6's HTTP surface: a chi router mounting
// health/status/model-management/inference endpoints over an
// *engine.Engine, plus the ambient middleware stack (request id, real ip,
// recoverer, compression, security headers, CORS, metrics, structured
// logging) the teacher's NewMux built for modeld's single /infer endpoint,
// generalized here across the full route table.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"exsaengine/internal/engine"
)

// NewMux builds the full router around eng, mirroring the teacher's
// NewMux(svc Service) shape but wired to internal/engine instead of a
// single Service interface, since spec §6 exposes many more operations
// than modeld's Infer/ListModels/Status/Ready quartet.
func NewMux(eng *engine.Engine) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   corsAllowedOrigins,
			AllowedMethods:   corsAllowedMethods,
			AllowedHeaders:   corsAllowedHeaders,
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	r.Use(MetricsMiddleware)

	h := &handlers{eng: eng}

	r.Get("/v1/health", h.health)
	r.Get("/v1/status", h.status)
	r.Get("/v1/model/info", h.modelInfo)
	r.Post("/v1/generate", h.generate)
	r.Post("/v1/chat/completions", h.chatCompletions)
	r.Post("/v1/embeddings", h.embeddings)
	r.Get("/v1/models/list", h.modelsList)
	r.Get("/v1/models/active", h.modelsActive)
	r.Post("/v1/models/load", h.modelsLoad)
	r.Post("/v1/models/reload", h.modelsReload)
	r.Post("/v1/models/unload", h.modelsUnload)

	// Kept for operational parity with the teacher's deployment tooling,
	// which health-checks /healthz and /readyz rather than /v1/health.
	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)

	return r
}
