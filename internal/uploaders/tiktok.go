package uploaders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"shorts-relay/internal/logging"
	"shorts-relay/internal/model"
)

const (
	tiktokAPIBase          = "https://open.tiktokapis.com"
	defaultTikTokChunkSize = 5 * 1024 * 1024
)

type TikTokConfig struct {
	AccessToken    string
	PrivacyLevel   string
	DisableComment bool
	DisableDuet    bool
	DisableStitch  bool
	TitlePrefix    string
	ChunkSize      int64
	PollInterval   time.Duration
	PollTimeout    time.Duration
}

// TikTokUploader uses the Content Posting API: init, byte-range PUTs, then status polling.
type TikTokUploader struct {
	cfg        TikTokConfig
	baseURL    string
	httpClient *http.Client
	clock      Clock
	log        *logging.Logger
}

func NewTikTokUploader(cfg TikTokConfig, log *logging.Logger) *TikTokUploader {
	if cfg.PrivacyLevel == "" {
		cfg.PrivacyLevel = "PUBLIC_TO_EVERYONE"
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultTikTokChunkSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 120 * time.Second
	}
	return &TikTokUploader{
		cfg:        cfg,
		baseURL:    tiktokAPIBase,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		clock:      realClock{},
		log:        log,
	}
}

func (t *TikTokUploader) Platform() string {
	return PlatformTikTok
}

func (t *TikTokUploader) Upload(ctx context.Context, item *model.MediaItem) (*UploadResult, error) {
	f, err := os.Open(item.Path)
	if err != nil {
		return failed(PlatformTikTok, model.Wrap(model.ErrTransfer, "open video", err))
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return failed(PlatformTikTok, model.Wrap(model.ErrTransfer, "stat video", err))
	}
	size := st.Size()
	chunks := planChunks(size, t.cfg.ChunkSize)
	if len(chunks) == 0 {
		return failed(PlatformTikTok, model.Errorf(model.ErrTransfer, "tiktok", "video file is empty"))
	}

	publishID, uploadURL, err := t.initUpload(ctx, buildTitle(item, t.cfg.TitlePrefix), size, len(chunks))
	if err != nil {
		return failed(PlatformTikTok, err)
	}
	t.log.Infof("tiktok: publish_id=%s, uploading %d chunk(s)", publishID, len(chunks))

	for i, c := range chunks {
		if err := t.putChunk(ctx, f, uploadURL, c, size); err != nil {
			return failed(PlatformTikTok, model.Wrap(model.ErrTransfer, fmt.Sprintf("tiktok chunk %d/%d", i+1, len(chunks)), err))
		}
	}

	var reason string
	p := poller{Clock: t.clock, Interval: t.cfg.PollInterval, Timeout: t.cfg.PollTimeout}
	attempts, err := p.poll(ctx, func(ctx context.Context) (bool, error) {
		status, failReason, err := t.fetchStatus(ctx, publishID)
		if err != nil {
			return false, err
		}
		switch status {
		case "PUBLISHED", "SUCCESS":
			return true, nil
		case "FAILED", "ERROR", "CANCELED", "CANCELLED":
			reason = failReason
			if reason == "" {
				reason = status
			}
			return false, model.Errorf(model.ErrProcessing, "tiktok publish failed", "%s", reason)
		}
		return false, nil
	})

	res := succeeded(PlatformTikTok, publishID, "")
	res.IDLabel = "publish id"
	switch {
	case errors.Is(err, errPollTimeout):
		// The publish id stays valid after we stop watching.
		t.log.Warnf("tiktok: %s still processing after %d status checks", publishID, attempts)
		res.Note = "still processing"
		return res, nil
	case err != nil:
		return failed(PlatformTikTok, err)
	}
	return res, nil
}

func (t *TikTokUploader) initUpload(ctx context.Context, title string, size int64, chunkCount int) (string, string, error) {
	payload := map[string]any{
		"post_info": map[string]any{
			"title":           truncateRunes(title, tiktokTitleLimit),
			"privacy_level":   t.cfg.PrivacyLevel,
			"disable_comment": t.cfg.DisableComment,
			"disable_duet":    t.cfg.DisableDuet,
			"disable_stitch":  t.cfg.DisableStitch,
		},
		"source_info": map[string]any{
			"source":            "FILE_UPLOAD",
			"video_size":        size,
			"chunk_size":        t.cfg.ChunkSize,
			"total_chunk_count": chunkCount,
		},
	}
	body, err := t.postJSON(ctx, "/v2/post/publish/video/init/", payload, "tiktok init")
	if err != nil {
		return "", "", err
	}
	publishID := gjson.GetBytes(body, "data.publish_id").String()
	uploadURL := gjson.GetBytes(body, "data.upload_url").String()
	if publishID == "" || uploadURL == "" {
		return "", "", model.Errorf(model.ErrProtocol, "tiktok init", "response missing publish_id or upload_url")
	}
	return publishID, uploadURL, nil
}

// putChunk reads exactly the window's bytes from f and PUTs them to uploadURL.
func (t *TikTokUploader) putChunk(ctx context.Context, f io.ReaderAt, uploadURL string, c byteRange, total int64) error {
	buf := make([]byte, c.Len())
	n, err := f.ReadAt(buf, c.Start)
	if n == 0 {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("no video bytes read at offset %d: %w", c.Start, err)
	}
	if int64(n) != c.Len() {
		return fmt.Errorf("short read at offset %d: got %d of %d bytes", c.Start, n, c.Len())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.ContentLength = int64(n)
	req.Header.Set("Content-Type", "video/mp4")
	req.Header.Set("Content-Range", c.ContentRange(total))

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

func (t *TikTokUploader) fetchStatus(ctx context.Context, publishID string) (status, failReason string, err error) {
	body, err := t.postJSON(ctx, "/v2/post/publish/status/fetch/", map[string]string{"publish_id": publishID}, "tiktok status")
	if err != nil {
		return "", "", err
	}
	status = strings.ToUpper(gjson.GetBytes(body, "data.status").String())
	return status, gjson.GetBytes(body, "data.fail_reason").String(), nil
}

// postJSON sends an authorised JSON POST and applies the API's error envelope rules:
// HTTP >= 400 or error.code other than "ok" is a protocol failure.
func (t *TikTokUploader) postJSON(ctx context.Context, path string, payload any, op string) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, model.Wrap(model.ErrTransfer, op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.Wrap(model.ErrTransfer, op, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, model.Errorf(model.ErrProtocol, op, "invalid JSON response (status %d)", resp.StatusCode)
	}

	code := gjson.GetBytes(body, "error.code").String()
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = gjson.GetBytes(body, "error").Raw
	}
	if resp.StatusCode >= 400 {
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		kind := model.ErrProtocol
		if resp.StatusCode == http.StatusUnauthorized {
			kind = model.ErrAuth
		}
		return nil, model.Errorf(kind, op, "status %d: %s", resp.StatusCode, msg)
	}
	if code != "" && code != "ok" {
		kind := model.ErrProtocol
		if strings.Contains(code, "token") {
			kind = model.ErrAuth
		}
		return nil, model.Errorf(kind, op, "%s", msg)
	}
	return body, nil
}
