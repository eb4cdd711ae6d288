// Package handlers exposes the authoring pipeline over the local HTTP API.
package handlers

import (
	"encoding/json"
	"net/http"

	"posterstudio/internal/apiclient"
	"posterstudio/internal/assetstore"
	"posterstudio/internal/delivery"
	"posterstudio/internal/generate"
	"posterstudio/internal/infra"
	"posterstudio/internal/prompts"
	"posterstudio/internal/render"
	"posterstudio/internal/session"
	"posterstudio/internal/stage1"
	"posterstudio/internal/templates"
	"posterstudio/internal/uploader"
)

// App carries the wired pipeline components into the handlers.
type App struct {
	Log        *infra.Logger
	Bases      []string
	StaticBase string

	Assets       *assetstore.Store
	Sessions     *session.Store
	API          *apiclient.Client
	Uploader     *uploader.Uploader
	Model        *stage1.Model
	Registry     *templates.Registry
	Reconciler   *templates.Reconciler
	Composer     *prompts.Composer
	Presets      *prompts.Loader
	Renderer     *render.Renderer
	Orchestrator *generate.Orchestrator
	Mailer       *delivery.Mailer
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]string{"error": code, "message": message})
}
