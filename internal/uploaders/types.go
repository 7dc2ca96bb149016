package uploaders

import (
	"context"

	"shorts-relay/internal/model"
)

const (
	PlatformYouTube        = "YouTube"
	PlatformTikTok         = "TikTok"
	PlatformInstagram      = "Instagram"
	PlatformInstagramGraph = "Instagram Graph"
	PlatformX              = "X"
)

// UploadResult is the outcome of one publisher for one media item.
// Success results carry ID and/or URL; failures carry Error.
type UploadResult struct {
	Success  bool              `json:"success"`
	Platform string            `json:"platform"`
	ID       string            `json:"id,omitempty"`
	IDLabel  string            `json:"id_label,omitempty"` // e.g. "publish id", used when there is no URL
	URL      string            `json:"url,omitempty"`
	Note     string            `json:"note,omitempty"`
	Error    string            `json:"error,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
}

// Uploader publishes a retrieved media item to one platform. Implementations must
// not modify or delete the item's file.
type Uploader interface {
	Upload(ctx context.Context, item *model.MediaItem) (*UploadResult, error)
	Platform() string
}

func succeeded(platform, id, url string) *UploadResult {
	return &UploadResult{Success: true, Platform: platform, ID: id, URL: url}
}

func failed(platform string, err error) (*UploadResult, error) {
	return &UploadResult{Success: false, Platform: platform, Error: err.Error()}, err
}
