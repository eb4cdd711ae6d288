// Package uploader obtains presigned upload URLs, streams files to the
// object store and returns canonical asset descriptors. Any remote failure
// degrades to a local-only asset held by the asset store.
package uploader

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"posterstudio/internal/apiclient"
	"posterstudio/internal/assetstore"
	"posterstudio/internal/domain"
	"posterstudio/internal/infra"
)

// FileSource is one user-selected file, fully read into memory.
type FileSource struct {
	Name         string
	MediaType    string
	Data         []byte
	LastModified time.Time
}

// Options configures the uploader.
type Options struct {
	API        *apiclient.Client
	Assets     *assetstore.Store
	Bases      []string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Uploader turns files into asset descriptors.
type Uploader struct {
	api        *apiclient.Client
	assets     *assetstore.Store
	bases      []string
	httpClient *http.Client
	logger     *infra.Logger
}

// NewUploader constructs an uploader with injected dependencies.
func NewUploader(opts Options) *Uploader {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Uploader{
		api:        opts.API,
		assets:     opts.Assets,
		bases:      opts.Bases,
		httpClient: httpClient,
		logger:     logger,
	}
}

type presignRequest struct {
	Folder      string `json:"folder"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

type presignResponse struct {
	PutURL    string `json:"put_url"`
	Key       string `json:"key"`
	PublicURL string `json:"public_url,omitempty"`
}

// Upload presigns and PUTs file into the object store under folder. On any
// remote failure it falls back to a local-only asset (data URL in the asset
// store) and reports localOnly=true so the caller can surface a warning.
func (u *Uploader) Upload(ctx context.Context, folder string, file FileSource) (*domain.AssetDescriptor, bool) {
	desc := &domain.AssetDescriptor{
		FileName:     file.Name,
		MediaType:    file.MediaType,
		Size:         int64(len(file.Data)),
		LastModified: file.LastModified.UnixMilli(),
	}
	presigned, err := u.presign(ctx, folder, file)
	if err == nil {
		err = u.putObject(ctx, presigned.PutURL, file)
		if err == nil {
			desc.RemoteObjectKey = presigned.Key
			desc.PreviewURL = presigned.PublicURL
			return desc, false
		}
	}
	u.logger.Warn().Err(fmt.Errorf("uploader: %w: %v", domain.ErrUploadFailed, err)).
		Str("folder", folder).Str("file", file.Name).
		Msg("uploader: remote upload failed, keeping local-only copy")

	dataURL := EncodeDataURL(file.MediaType, file.Data)
	desc.StorageKey = u.assets.Put(ctx, "", dataURL)
	desc.PreviewURL = dataURL
	return desc, true
}

// UploadLogo uploads the brand logo. The returned descriptor always owns a
// data URL in the asset store even when the remote upload succeeded: the
// server needs the logo inline.
func (u *Uploader) UploadLogo(ctx context.Context, file FileSource) (*domain.AssetDescriptor, bool) {
	desc, localOnly := u.Upload(ctx, "logo", file)
	if desc.StorageKey == "" {
		dataURL := EncodeDataURL(file.MediaType, file.Data)
		desc.StorageKey = u.assets.Put(ctx, "", dataURL)
	}
	return desc, localOnly
}

func (u *Uploader) presign(ctx context.Context, folder string, file FileSource) (*presignResponse, error) {
	req := presignRequest{
		Folder:      folder,
		Filename:    file.Name,
		ContentType: file.MediaType,
		Size:        int64(len(file.Data)),
	}
	resp, err := u.api.PostJSONWithRetry(ctx, u.bases, "/api/r2/presign-put", req, apiclient.DefaultRetry, nil)
	if err != nil {
		return nil, fmt.Errorf("uploader: presign: %w", err)
	}
	var decoded presignResponse
	if err := resp.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("uploader: decode presign response: %w", err)
	}
	if decoded.PutURL == "" || decoded.Key == "" {
		return nil, fmt.Errorf("uploader: presign response missing put_url or key")
	}
	return &decoded, nil
}

// putObject streams the raw bytes to the presigned URL. The PUT is
// unauthenticated; the URL itself carries the grant.
func (u *Uploader) putObject(ctx context.Context, putURL string, file FileSource) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, putURL, bytes.NewReader(file.Data))
	if err != nil {
		return fmt.Errorf("uploader: build put request: %w", err)
	}
	if file.MediaType != "" {
		req.Header.Set("Content-Type", file.MediaType)
	}
	resp, err := u.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("uploader: put object: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("uploader: put object status %d", resp.StatusCode)
	}
	return nil
}

// EncodeDataURL renders bytes as a data: URL usable by an image element.
func EncodeDataURL(mediaType string, data []byte) string {
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
