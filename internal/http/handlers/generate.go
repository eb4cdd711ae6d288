package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"posterstudio/internal/domain"
	"posterstudio/internal/generate"
	"posterstudio/pkg/zip"
)

func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	a.runGeneration(w, r, false)
}

// GenerateAB runs a generation with at least two variants.
func (a *App) GenerateAB(w http.ResponseWriter, r *http.Request) {
	a.runGeneration(w, r, true)
}

func (a *App) runGeneration(w http.ResponseWriter, r *http.Request, ab bool) {
	var result *domain.Stage2Result
	var err error
	if ab {
		result, err = a.Orchestrator.GenerateAB(r.Context())
	} else {
		result, err = a.Orchestrator.Generate(r.Context())
	}
	if err != nil {
		_, reason := a.Orchestrator.Status()
		switch {
		case errors.Is(err, generate.ErrNotReady):
			a.error(w, http.StatusConflict, "stage1_incomplete", reason)
		case errors.Is(err, domain.ErrPayloadTooLarge):
			a.error(w, http.StatusRequestEntityTooLarge, "payload_too_large", reason)
		case errors.Is(err, domain.ErrConfigMissing):
			a.error(w, http.StatusServiceUnavailable, "config_missing", reason)
		default:
			a.error(w, http.StatusBadGateway, "generate_failed", reason)
		}
		return
	}
	a.json(w, http.StatusOK, map[string]any{"result": result})
}

func (a *App) GetStage2(w http.ResponseWriter, r *http.Request) {
	result, ok := a.Orchestrator.Result(r.Context())
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", "尚未生成海报")
		return
	}
	status, reason := a.Orchestrator.Status()
	a.json(w, http.StatusOK, map[string]any{
		"result": result,
		"status": status,
		"reason": reason,
	})
}

func (a *App) PromoteVariant(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "variant index must be an integer")
		return
	}
	result, err := a.Orchestrator.PromoteVariant(r.Context(), n)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	a.json(w, http.StatusOK, map[string]any{"result": result})
}

// ExportZip bundles the generated poster, its variants and the final prompt
// into one archive.
func (a *App) ExportZip(w http.ResponseWriter, r *http.Request) {
	result, ok := a.Orchestrator.Result(r.Context())
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", "尚未生成海报")
		return
	}
	var entries []zip.Entry
	if data := dataURLBytes(result.PosterImage.PreviewURL); data != nil {
		entries = append(entries, zip.Entry{Name: imageName(result.PosterImage, "poster"), Data: data})
	}
	for i, v := range result.Variants {
		if data := dataURLBytes(v.PreviewURL); data != nil {
			entries = append(entries, zip.Entry{Name: imageName(v, fmt.Sprintf("variant-%d", i+1)), Data: data})
		}
	}
	if result.Prompt != "" {
		entries = append(entries, zip.Entry{Name: "prompt.txt", Data: []byte(result.Prompt)})
	}
	archive, err := zip.Archive(entries)
	if err != nil {
		a.error(w, http.StatusConflict, "nothing_to_export", "没有可导出的本地图片")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="poster-export.zip"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

func imageName(ref domain.ImageRef, fallback string) string {
	if ref.Filename != "" {
		return ref.Filename
	}
	return fallback + ".png"
}

func dataURLBytes(value string) []byte {
	_, encoded, ok := strings.Cut(value, ";base64,")
	if !ok || !strings.HasPrefix(value, "data:") {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil
	}
	return data
}
