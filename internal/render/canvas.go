// Package render paints the Stage-1 pixel preview: template slots filled
// with the authored text and materials, placeholders for whatever is still
// missing.
package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"

	"posterstudio/internal/assetstore"
	"posterstudio/internal/domain"
	"posterstudio/internal/infra"
)

// DefaultFontSize applies when a slot's font string carries no px value.
const DefaultFontSize = 16

// DefaultLineHeight is the multiplier between wrapped lines.
const DefaultLineHeight = 1.3

// Renderer paints poster previews. Image bytes are resolved from inline
// data URLs, the asset store, or a remote preview URL, in that order.
type Renderer struct {
	log        *infra.Logger
	assets     *assetstore.Store
	httpClient *http.Client
	fontTTF    *truetype.Font
}

// Options configures the renderer. FontPath may be empty; slots then render
// with the library's built-in face.
type Options struct {
	Assets     *assetstore.Store
	HTTPClient *http.Client
	Logger     *infra.Logger
	FontPath   string
}

// NewRenderer constructs a renderer. A missing or unparsable font file is
// logged and tolerated.
func NewRenderer(opts Options) *Renderer {
	log := opts.Logger
	if log == nil {
		log = infra.DiscardLogger()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	r := &Renderer{log: log, assets: opts.Assets, httpClient: httpClient}
	if opts.FontPath != "" {
		data, err := os.ReadFile(opts.FontPath)
		if err != nil {
			log.Warn().Err(err).Str("font", opts.FontPath).Msg("render: font unavailable, using built-in face")
			return r
		}
		ttf, err := truetype.Parse(data)
		if err != nil {
			log.Warn().Err(err).Str("font", opts.FontPath).Msg("render: font unparsable, using built-in face")
			return r
		}
		r.fontTTF = ttf
	}
	return r
}

// Render paints the snapshot onto the template and returns PNG bytes.
func (r *Renderer) Render(ctx context.Context, snap *domain.Stage1Snapshot, spec *domain.TemplateSpec) ([]byte, error) {
	w, h := spec.Size.Width, spec.Size.Height
	if w <= 0 || h <= 0 {
		w, h = 640, 900
	}
	dc := gg.NewContext(w, h)
	dc.SetColor(color.White)
	dc.Clear()

	// Slot keys follow the template registry contract; "logo" is the slot
	// name even though the material is addressed as "brand_logo".
	r.drawImageSlot(ctx, dc, spec.Slots["scenario"], snap.ScenarioAsset, snap.ScenarioMode, snap.ScenarioPrompt, "场景图", false)
	r.drawImageSlot(ctx, dc, spec.Slots["product"], snap.ProductAsset, snap.ProductMode, snap.ProductPrompt, "产品图", false)
	r.drawImageSlot(ctx, dc, spec.Slots["logo"], snap.BrandLogo, domain.ModeUpload, "", "品牌标志", false)

	r.drawTextSlot(dc, spec.Slots["title"], snap.Title)
	r.drawTextSlot(dc, spec.Slots["subtitle"], snap.Subtitle)
	r.drawTextSlot(dc, spec.Slots["brand_name"], snap.BrandName)
	r.drawTextSlot(dc, spec.Slots["agent_name"], snap.AgentName)
	r.drawTextSlot(dc, spec.Slots["series_description"], snap.SeriesDescription)

	for i, callout := range spec.FeatureCallouts {
		if i < len(snap.Features) {
			r.drawTextSlot(dc, callout.LabelBox, snap.Features[i])
		}
	}

	r.drawGallery(ctx, dc, spec, snap)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("render: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// drawGallery paints the strip: each cell shows its entry in grayscale, or a
// placeholder when the entry is absent or prompt-mode.
func (r *Renderer) drawGallery(ctx context.Context, dc *gg.Context, spec *domain.TemplateSpec, snap *domain.Stage1Snapshot) {
	for i, cell := range spec.Gallery.Items {
		if i >= len(snap.Gallery) {
			r.drawPlaceholder(dc, cell, fmt.Sprintf("小图 %d", i+1))
			continue
		}
		entry := snap.Gallery[i]
		label := entry.Caption
		if label == "" {
			label = fmt.Sprintf("小图 %d", i+1)
		}
		r.drawImageSlot(ctx, dc, cell, entry.Asset, entry.Mode, entry.Prompt, label, true)
	}
}

// drawImageSlot resolves and paints one image material; prompt-mode or
// unresolvable materials render as a dashed placeholder carrying the label.
func (r *Renderer) drawImageSlot(ctx context.Context, dc *gg.Context, slot domain.Slot, asset *domain.AssetDescriptor, mode domain.MaterialMode, prompt, label string, grayscale bool) {
	if slot.W <= 0 || slot.H <= 0 {
		return
	}
	if mode == domain.ModePrompt {
		if prompt != "" {
			label = label + "（提示词）"
		}
		r.drawPlaceholder(dc, slot, label)
		return
	}
	img := r.resolveImage(ctx, asset)
	if img == nil {
		r.drawPlaceholder(dc, slot, label)
		return
	}
	if grayscale {
		img = toGrayscale(img)
	}
	drawFitted(dc, slot, img)
}

// drawFitted scales the image into the slot. Contain letterboxes and
// centers; cover fills the slot and clips the overflow.
func drawFitted(dc *gg.Context, slot domain.Slot, img image.Image) {
	bounds := img.Bounds()
	iw, ih := float64(bounds.Dx()), float64(bounds.Dy())
	if iw <= 0 || ih <= 0 {
		return
	}
	scale := slot.W / iw
	if slot.Fit == "cover" {
		if s := slot.H / ih; s > scale {
			scale = s
		}
	} else {
		if s := slot.H / ih; s < scale {
			scale = s
		}
	}
	dw, dh := iw*scale, ih*scale
	dst := image.NewRGBA(image.Rect(0, 0, int(dw+0.5), int(dh+0.5)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	x := slot.X + (slot.W-dw)/2
	y := slot.Y + (slot.H-dh)/2
	dc.Push()
	dc.DrawRectangle(slot.X, slot.Y, slot.W, slot.H)
	dc.Clip()
	dc.DrawImage(dst, int(x+0.5), int(y+0.5))
	dc.Pop()
}

// drawPlaceholder paints a dashed outline with a centered label.
func (r *Renderer) drawPlaceholder(dc *gg.Context, slot domain.Slot, label string) {
	dc.Push()
	dc.SetRGB(0.96, 0.96, 0.96)
	dc.DrawRectangle(slot.X, slot.Y, slot.W, slot.H)
	dc.Fill()
	dc.SetRGB(0.6, 0.6, 0.6)
	dc.SetLineWidth(1.5)
	dc.SetDash(6, 4)
	dc.DrawRectangle(slot.X+1, slot.Y+1, slot.W-2, slot.H-2)
	dc.Stroke()
	dc.SetDash()
	r.setFace(dc, DefaultFontSize)
	dc.DrawStringAnchored(label, slot.X+slot.W/2, slot.Y+slot.H/2, 0.5, 0.5)
	dc.Pop()
}

// drawTextSlot wraps and paints text into the slot, truncating lines that
// would run past the box.
func (r *Renderer) drawTextSlot(dc *gg.Context, slot domain.Slot, text string) {
	if text == "" || slot.W <= 0 || slot.H <= 0 {
		return
	}
	size := ParseFontSize(slot.Font)
	r.setFace(dc, size)
	dc.SetColor(parseColor(slot.Color))

	lineHeight := slot.LineHeight
	if lineHeight <= 0 {
		lineHeight = DefaultLineHeight
	}
	step := size * lineHeight

	lines := WrapText(text, slot.W, func(s string) float64 {
		w, _ := dc.MeasureString(s)
		return w
	})
	maxLines := int(slot.H / step)
	if maxLines < 1 {
		maxLines = 1
	}
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	for i, line := range lines {
		y := slot.Y + float64(i)*step + size
		var x float64
		var anchor float64
		switch slot.Align {
		case "center":
			x, anchor = slot.X+slot.W/2, 0.5
		case "right":
			x, anchor = slot.X+slot.W, 1
		default:
			x, anchor = slot.X, 0
		}
		dc.DrawStringAnchored(line, x, y, anchor, 0)
	}
}

func (r *Renderer) setFace(dc *gg.Context, size float64) {
	if r.fontTTF == nil {
		return
	}
	dc.SetFontFace(truetype.NewFace(r.fontTTF, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	}))
}

// resolveImage turns a descriptor into pixels: inline data URL first, the
// asset store next, a remote preview URL last. Failures degrade to nil so
// the caller paints a placeholder.
func (r *Renderer) resolveImage(ctx context.Context, asset *domain.AssetDescriptor) image.Image {
	if asset == nil {
		return nil
	}
	if asset.HasDataURL() {
		if img := decodeDataURL(asset.PreviewURL); img != nil {
			return img
		}
	}
	if asset.StorageKey != "" && r.assets != nil {
		if value, ok := r.assets.Get(ctx, asset.StorageKey); ok {
			if img := decodeDataURL(value); img != nil {
				return img
			}
		}
	}
	if strings.HasPrefix(asset.PreviewURL, "http://") || strings.HasPrefix(asset.PreviewURL, "https://") {
		if img := r.fetchImage(ctx, asset.PreviewURL); img != nil {
			return img
		}
	}
	return nil
}

func (r *Renderer) fetchImage(ctx context.Context, url string) image.Image {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.log.Warn().Err(err).Str("url", url).Msg("render: preview fetch failed")
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	return img
}

func decodeDataURL(value string) image.Image {
	if !strings.HasPrefix(value, "data:") {
		return nil
	}
	_, encoded, ok := strings.Cut(value, ";base64,")
	if !ok {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil
	}
	return img
}

func toGrayscale(img image.Image) image.Image {
	bounds := img.Bounds()
	dst := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			dst.Set(x, y, color.RGBA{c.Y, c.Y, c.Y, 255})
		}
	}
	return dst
}

// ParseFontSize extracts the px value from a CSS-style font string such as
// "bold 28px sans-serif".
func ParseFontSize(fontSpec string) float64 {
	for _, field := range strings.Fields(fontSpec) {
		if v, ok := strings.CutSuffix(field, "px"); ok {
			if size, err := strconv.ParseFloat(v, 64); err == nil && size > 0 {
				return size
			}
		}
	}
	return DefaultFontSize
}

func parseColor(spec string) color.Color {
	spec = strings.TrimPrefix(strings.TrimSpace(spec), "#")
	if len(spec) != 6 {
		return color.Black
	}
	v, err := strconv.ParseUint(spec, 16, 32)
	if err != nil {
		return color.Black
	}
	return color.RGBA{uint8(v >> 16), uint8(v >> 8), uint8(v), 255}
}

// LayoutPreviewText summarizes slot placement as a cheap textual preview for
// the layout endpoint and the persisted snapshot.
func LayoutPreviewText(snap *domain.Stage1Snapshot, spec *domain.TemplateSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %dx%d\n", spec.Name, spec.Size.Width, spec.Size.Height)
	names := make([]string, 0, len(spec.Slots))
	for name := range spec.Slots {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		slot := spec.Slots[name]
		fmt.Fprintf(&b, "%s: (%.0f,%.0f) %.0fx%.0f\n", name, slot.X, slot.Y, slot.W, slot.H)
	}
	fmt.Fprintf(&b, "gallery: %d/%d\n", len(snap.Gallery), snap.GalleryLimit)
	return b.String()
}
