package s3

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"shorts-relay/internal/logging"
	"shorts-relay/internal/model"
)

const presignTTL = time.Hour

// MediaHost puts a local video into the bucket so URL-ingest platforms can fetch it.
type MediaHost struct {
	client  Client
	prefix  string
	baseURL string // public bucket URL; presigned URLs are used when empty
	log     *logging.Logger
	now     func() time.Time
}

func NewMediaHost(client Client, prefix, publicBaseURL string, log *logging.Logger) *MediaHost {
	return &MediaHost{
		client:  client,
		prefix:  prefix,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		log:     log,
		now:     time.Now,
	}
}

// PublicURL uploads item and returns a fetchable URL. release deletes the object;
// it is safe to call more than once.
func (h *MediaHost) PublicURL(ctx context.Context, item *model.MediaItem) (string, func(), error) {
	name := item.SourceID
	if name == "" {
		name = strings.TrimSuffix(path.Base(item.Path), path.Ext(item.Path))
	}
	key := fmt.Sprintf("%s%s-%d.mp4", h.prefix, name, h.now().UnixNano())

	if err := h.client.PutFile(ctx, key, item.Path, "video/mp4"); err != nil {
		return "", nil, fmt.Errorf("host media: %w", err)
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		dctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := h.client.Delete(dctx, key); err != nil {
			h.log.Warnf("media host: delete %s: %v", key, err)
		}
	}

	if h.baseURL != "" {
		return h.baseURL + "/" + key, release, nil
	}
	u, err := h.client.PresignGet(ctx, key, presignTTL)
	if err != nil {
		release()
		return "", nil, fmt.Errorf("presign media: %w", err)
	}
	return u, release, nil
}
