package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"imagepump/internal/http/handlers"
	"imagepump/internal/infra"
	"imagepump/internal/middleware"
)

func NewRouter(app *handlers.App) http.Handler {
	logger := infra.NopLogger()
	if app.Logger != nil {
		logger = app.Logger
	}

	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(*logger),
		middleware.CORS(app.Config.CORSAllowedOrigins),
	)
	if app.Metrics != nil {
		r.Use(middleware.Metrics(app.Metrics))
	}

	r.Get("/metrics", app.MetricsHandler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/healthz", app.Health)
		r.Get("/providers", app.ListProviders)

		// Stateless endpoints.
		r.With(middleware.RateLimit(app.Config.RateLimitPerMin)).Post("/generate", app.Generate)
		r.Post("/compress", app.Compress)
		r.Post("/download", app.Download)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", app.ListJobs)
			r.Post("/", app.SubmitJobs)
			r.Post("/reset", app.ResetJobs)
			r.Post("/select-completed", app.SelectCompleted)
			r.Post("/deselect", app.Deselect)
			r.Delete("/{id}", app.DeleteJob)
			r.Get("/{id}/result", app.JobResult)
			r.Post("/{id}/select", app.ToggleSelect)
		})

		r.Route("/groups", func(r chi.Router) {
			r.Get("/", app.ListGroups)
			r.Post("/", app.CreateGroup)
			r.Post("/unassign", app.UnassignGroup)
			r.Patch("/{id}", app.UpdateGroup)
			r.Delete("/{id}", app.DeleteGroup)
			r.Post("/{id}/assign", app.AssignGroup)
		})

		r.Get("/prompt", app.GetPrompt)
		r.Put("/prompt", app.SetPrompt)
		r.Get("/settings", app.GetSettings)
		r.Put("/settings", app.PutSettings)

		r.Route("/runs", func(r chi.Router) {
			r.Post("/", app.StartRun)
			r.Get("/current", app.CurrentRun)
			r.Delete("/current", app.CancelRun)
		})

		r.Route("/deliveries", func(r chi.Router) {
			r.Get("/", app.ListDeliveries)
			r.Post("/", app.CreateDelivery)
			r.Get("/{name}", app.GetDelivery)
		})

		r.Get("/events", app.EventStream)
	})

	return r
}
