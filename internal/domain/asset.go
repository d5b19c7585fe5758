package domain

// MediaAsset is one output unit of a generation. DurableURL is set only when
// the upload succeeded; otherwise the asset keeps its provider SourceURL and
// is flagged Degraded.
type MediaAsset struct {
	SourceURL    string `json:"source_url,omitempty"`
	DurableURL   string `json:"durable_url,omitempty"`
	StorageKey   string `json:"storage_key,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	Format       string `json:"format,omitempty"`
	ByteSize     int64  `json:"byte_size,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Degraded     bool   `json:"degraded,omitempty"`
	UploadError  string `json:"upload_error,omitempty"`
}

// URL is the best address for the asset.
func (a MediaAsset) URL() string {
	if a.DurableURL != "" {
		return a.DurableURL
	}
	return a.SourceURL
}

// Persisted reports whether the asset reached durable storage.
func (a MediaAsset) Persisted() bool {
	return a.DurableURL != "" && !a.Degraded
}
