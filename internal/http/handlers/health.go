package handlers

import (
	"net/http"

	"posterstudio/internal/apiclient"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	resolved := apiclient.ResolveBases(a.Bases...)
	healthy := 0
	for _, base := range resolved {
		if entry, ok := a.API.Cache().Fresh(base); ok && entry.OK {
			healthy++
		}
	}
	a.json(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"bases":         len(resolved),
		"bases_healthy": healthy,
	})
}
