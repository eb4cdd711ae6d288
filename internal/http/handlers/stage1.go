package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"posterstudio/internal/domain"
	"posterstudio/internal/render"
	"posterstudio/internal/uploader"
)

// maxUploadBytes bounds one material upload.
const maxUploadBytes = 10 << 20

type stage1Response struct {
	Snapshot domain.Stage1Snapshot `json:"snapshot"`
	Complete bool                  `json:"complete"`
	Reason   string                `json:"reason,omitempty"`
}

func (a *App) stage1State() stage1Response {
	complete, reason := a.Model.StrictComplete()
	return stage1Response{Snapshot: a.Model.Snapshot(), Complete: complete, Reason: reason}
}

func (a *App) GetStage1(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, a.stage1State())
}

// PutStage1 replaces the whole snapshot. ?preserve_stage2=1 keeps the
// generated result; any other replacement sweeps it.
func (a *App) PutStage1(w http.ResponseWriter, r *http.Request) {
	var snap domain.Stage1Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid snapshot payload")
		return
	}
	preserve := r.URL.Query().Get("preserve_stage2") == "1"
	a.Model.Replace(r.Context(), snap, preserve)
	a.json(w, http.StatusOK, a.stage1State())
}

// PostMaterial accepts one multipart file for a material slot. Gallery
// uploads address an entry via the "entry" form field, creating one when
// absent.
func (a *App) PostMaterial(w http.ResponseWriter, r *http.Request) {
	slot := chi.URLParam(r, "slot")
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart payload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "missing file field")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable file")
		return
	}
	src := uploader.FileSource{
		Name:         header.Filename,
		MediaType:    header.Header.Get("Content-Type"),
		Data:         data,
		LastModified: time.Now(),
	}

	ctx := r.Context()
	var desc *domain.AssetDescriptor
	var localOnly bool
	switch slot {
	case domain.MaterialBrandLogo:
		desc, localOnly = a.Uploader.UploadLogo(ctx, src)
		if err := a.Model.SetAsset(ctx, slot, desc); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
	case domain.MaterialScenario, domain.MaterialProduct:
		desc, localOnly = a.Uploader.Upload(ctx, slot, src)
		if err := a.Model.SetAsset(ctx, slot, desc); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
	case domain.MaterialGallery:
		desc, localOnly = a.Uploader.Upload(ctx, slot, src)
		entryID := r.FormValue("entry")
		if entryID == "" {
			entryID, err = a.Model.AddGalleryEntry(ctx, domain.ModeUpload)
			if err != nil {
				a.error(w, http.StatusConflict, "gallery_full", err.Error())
				return
			}
		}
		if err := a.Model.UpdateGalleryEntry(ctx, entryID, func(e *domain.GalleryEntry) {
			e.Mode = domain.ModeUpload
			e.Asset = desc
		}); err != nil {
			a.error(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
	default:
		a.error(w, http.StatusNotFound, "not_found", "unknown material slot")
		return
	}

	a.json(w, http.StatusOK, map[string]any{
		"asset":      desc,
		"local_only": localOnly,
	})
}

// PostTemplate switches the active template and reconciles the state.
func (a *App) PostTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	spec, err := a.Registry.Spec(r.Context(), id)
	if err != nil {
		a.error(w, http.StatusBadGateway, "template_load_failed", "模板加载失败，请稍后重试")
		return
	}
	views := a.Reconciler.Apply(r.Context(), a.Model, spec)
	a.json(w, http.StatusOK, map[string]any{
		"materials": views,
		"state":     a.stage1State(),
	})
}

func (a *App) ListTemplates(w http.ResponseWriter, r *http.Request) {
	entries, err := a.Registry.List(r.Context())
	if err != nil {
		a.error(w, http.StatusBadGateway, "template_load_failed", "模板列表加载失败")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"templates": entries})
}

// Preview renders the pixel preview and records the preview-built flag when
// the snapshot passes strict completion.
func (a *App) Preview(w http.ResponseWriter, r *http.Request) {
	snap := a.Model.Snapshot()
	if snap.TemplateID == "" {
		a.error(w, http.StatusConflict, "no_template", "请先选择模板")
		return
	}
	spec, err := a.Registry.Spec(r.Context(), snap.TemplateID)
	if err != nil {
		a.error(w, http.StatusBadGateway, "template_load_failed", "模板加载失败，请稍后重试")
		return
	}
	data, err := a.Renderer.Render(r.Context(), &snap, spec)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "render_failed", "预览渲染失败")
		return
	}
	a.Model.MarkPreviewBuilt(r.Context(), render.LayoutPreviewText(&snap, spec))
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Layout returns the cheap textual layout preview.
func (a *App) Layout(w http.ResponseWriter, r *http.Request) {
	snap := a.Model.Snapshot()
	if snap.TemplateID == "" {
		a.error(w, http.StatusConflict, "no_template", "请先选择模板")
		return
	}
	spec, err := a.Registry.Spec(r.Context(), snap.TemplateID)
	if err != nil {
		a.error(w, http.StatusBadGateway, "template_load_failed", "模板加载失败，请稍后重试")
		return
	}
	a.json(w, http.StatusOK, map[string]string{
		"layout": render.LayoutPreviewText(&snap, spec),
	})
}
