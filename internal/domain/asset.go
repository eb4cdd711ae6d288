package domain

import "strings"

// AssetDescriptor is a structured reference to one user-supplied visual
// material. It holds location hints, never the bytes: blob bytes live in the
// asset store and are addressed by StorageKey.
//
// At least one of StorageKey, PreviewURL, RemoteObjectKey is set on a
// non-nil descriptor. A descriptor whose PreviewURL is a data: URL also owns
// a StorageKey, so sweeping the store never orphans an inline preview.
type AssetDescriptor struct {
	StorageKey      string `json:"storage_key,omitempty"`
	PreviewURL      string `json:"preview_url,omitempty"`
	RemoteObjectKey string `json:"remote_object_key,omitempty"`
	FileName        string `json:"file_name,omitempty"`
	MediaType       string `json:"media_type,omitempty"`
	Size            int64  `json:"size,omitempty"`
	LastModified    int64  `json:"last_modified,omitempty"`
}

// HasLocation reports whether the descriptor still points anywhere.
func (d *AssetDescriptor) HasLocation() bool {
	if d == nil {
		return false
	}
	return d.StorageKey != "" || d.PreviewURL != "" || d.RemoteObjectKey != ""
}

// IsRemote reports whether the asset was accepted by the object store.
func (d *AssetDescriptor) IsRemote() bool {
	return d != nil && d.RemoteObjectKey != ""
}

// HasDataURL reports whether the preview is an inline data: URL.
func (d *AssetDescriptor) HasDataURL() bool {
	return d != nil && strings.HasPrefix(d.PreviewURL, "data:")
}

// ImageRef identifies one rendered poster image. PreviewURL and RemoteURL
// are transient hydration artifacts and are not persisted.
type ImageRef struct {
	StorageKey string `json:"storage_key,omitempty"`
	Filename   string `json:"filename,omitempty"`
	MediaType  string `json:"media_type,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`

	PreviewURL string `json:"preview_url,omitempty"`
	RemoteURL  string `json:"remote_url,omitempty"`
}
