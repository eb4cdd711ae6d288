package domain

import "errors"

// Error taxonomy shared by every component. Low-level failures are caught at
// component boundaries and translated into one of these sentinels so callers
// can branch with errors.Is.
var (
	// ErrConfigMissing signals that no usable backend base is configured.
	ErrConfigMissing = errors.New("config missing")
	// ErrPayloadTooLarge signals that a request body tripped the size gate
	// before any network traffic was issued.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrRequestFailed signals that every base and retry was exhausted.
	ErrRequestFailed = errors.New("request failed")
	// ErrUploadFailed signals a presign or direct PUT failure; the upload
	// pipeline degrades to a local-only asset and continues.
	ErrUploadFailed = errors.New("upload failed")
	// ErrStorageQuota signals the session store rejected a write for space.
	ErrStorageQuota = errors.New("storage quota exceeded")
	// ErrAssetMissing signals rehydration found no blob for a storage key.
	ErrAssetMissing = errors.New("asset missing")
	// ErrTemplateLoadFailed signals the registry or a spec fetch failed.
	ErrTemplateLoadFailed = errors.New("template load failed")
)
