// Package httpapi assembles the chi router for the local authoring API.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"posterstudio/internal/http/handlers"
	"posterstudio/internal/middleware"
)

// NewRouter wires the authoring endpoints around the shared App container.
func NewRouter(app *handlers.App, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(*app.Log),
		middleware.CORS(allowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)

	r.Get("/templates", app.ListTemplates)

	r.Route("/stage1", func(r chi.Router) {
		r.Get("/", app.GetStage1)
		r.Put("/", app.PutStage1)
		r.Post("/material/{slot}", app.PostMaterial)
		r.Post("/template/{id}", app.PostTemplate)
		r.Get("/preview.png", app.Preview)
		r.Get("/layout", app.Layout)
	})

	r.Route("/prompts", func(r chi.Router) {
		r.Get("/", app.GetPrompts)
		r.Post("/", app.PostPrompts)
	})

	r.Post("/generate", app.Generate)
	r.Post("/generate/ab", app.GenerateAB)

	r.Route("/stage2", func(r chi.Router) {
		r.Get("/", app.GetStage2)
		r.Post("/promote/{n}", app.PromoteVariant)
		r.Get("/export.zip", app.ExportZip)
	})

	r.Post("/email", app.SendEmail)

	return r
}
