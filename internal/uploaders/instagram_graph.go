package uploaders

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"shorts-relay/internal/logging"
	"shorts-relay/internal/model"
)

const graphAPIBase = "https://graph.facebook.com/v22.0"

// URLProvider makes a local media file fetchable over HTTP. release removes it again.
type URLProvider interface {
	PublicURL(ctx context.Context, item *model.MediaItem) (publicURL string, release func(), err error)
}

type InstagramGraphConfig struct {
	UserID        string
	AccessToken   string
	CaptionSuffix string
	PollInterval  time.Duration
	PollTimeout   time.Duration
}

// InstagramGraphUploader publishes a Reel by URL: create container, wait for
// processing, then media_publish.
type InstagramGraphUploader struct {
	cfg        InstagramGraphConfig
	host       URLProvider
	baseURL    string
	httpClient *http.Client
	clock      Clock
	log        *logging.Logger
}

func NewInstagramGraphUploader(cfg InstagramGraphConfig, host URLProvider, log *logging.Logger) *InstagramGraphUploader {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 180 * time.Second
	}
	return &InstagramGraphUploader{
		cfg:        cfg,
		host:       host,
		baseURL:    graphAPIBase,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		clock:      realClock{},
		log:        log,
	}
}

func (g *InstagramGraphUploader) Platform() string {
	return PlatformInstagramGraph
}

func (g *InstagramGraphUploader) Upload(ctx context.Context, item *model.MediaItem) (*UploadResult, error) {
	if g.host == nil {
		return failed(PlatformInstagramGraph, model.Errorf(model.ErrConfiguration, "instagram graph", "no public media host configured (set S3_* or MEDIA_PUBLIC_BASE_URL)"))
	}
	videoURL, release, err := g.host.PublicURL(ctx, item)
	if err != nil {
		return failed(PlatformInstagramGraph, model.Wrap(model.ErrTransfer, "instagram graph host media", err))
	}
	defer release()

	caption := truncateRunes(buildCaption(item, g.cfg.CaptionSuffix), instagramCaptionLimit)
	body, err := g.call(ctx, http.MethodPost, "/"+g.cfg.UserID+"/media", url.Values{
		"media_type":   {"REELS"},
		"video_url":    {videoURL},
		"caption":      {caption},
		"access_token": {g.cfg.AccessToken},
	}, "create")
	if err != nil {
		return failed(PlatformInstagramGraph, err)
	}
	creationID := gjson.GetBytes(body, "id").String()
	if creationID == "" {
		return failed(PlatformInstagramGraph, model.Errorf(model.ErrProtocol, "instagram graph create", "response has no id"))
	}
	g.log.Infof("instagram graph: container %s created, waiting for processing", creationID)

	p := poller{Clock: g.clock, Interval: g.cfg.PollInterval, Timeout: g.cfg.PollTimeout}
	_, err = p.poll(ctx, func(ctx context.Context) (bool, error) {
		body, err := g.call(ctx, http.MethodGet, "/"+creationID, url.Values{
			"fields":       {"status_code"},
			"access_token": {g.cfg.AccessToken},
		}, "status")
		if err != nil {
			return false, err
		}
		switch strings.ToUpper(gjson.GetBytes(body, "status_code").String()) {
		case "FINISHED":
			return true, nil
		case "ERROR":
			return false, model.Errorf(model.ErrProcessing, "instagram graph", "media processing failed")
		}
		return false, nil
	})
	if errors.Is(err, errPollTimeout) {
		// Nothing has been published yet, so there is no id worth reporting.
		return failed(PlatformInstagramGraph, model.Errorf(model.ErrProcessing, "instagram graph", "media processing timed out after %s", g.cfg.PollTimeout))
	}
	if err != nil {
		return failed(PlatformInstagramGraph, err)
	}

	body, err = g.call(ctx, http.MethodPost, "/"+g.cfg.UserID+"/media_publish", url.Values{
		"creation_id":  {creationID},
		"access_token": {g.cfg.AccessToken},
	}, "publish")
	if err != nil {
		return failed(PlatformInstagramGraph, err)
	}
	mediaID := gjson.GetBytes(body, "id").String()
	if mediaID == "" {
		return failed(PlatformInstagramGraph, model.Errorf(model.ErrProtocol, "instagram graph publish", "response has no media id"))
	}

	res := succeeded(PlatformInstagramGraph, mediaID, "")
	res.IDLabel = "media id"
	res.Details = map[string]string{"creation_id": creationID}
	return res, nil
}

// call performs one Graph request. POST bodies are form encoded; GET params go in
// the query string. Status >= 400 or an "error" object is a protocol failure for step.
func (g *InstagramGraphUploader) call(ctx context.Context, method, path string, params url.Values, step string) ([]byte, error) {
	op := "instagram graph " + step
	target := g.baseURL + path
	var reqBody io.Reader
	if method == http.MethodGet {
		target += "?" + params.Encode()
	} else {
		reqBody = strings.NewReader(params.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := g.httpClient.Do(req)
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

	errObj := gjson.GetBytes(body, "error")
	if resp.StatusCode >= 400 || errObj.Exists() {
		msg := errObj.Get("message").String()
		if msg == "" {
			msg = errObj.Raw
		}
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, model.Errorf(model.ErrProtocol, op, "status %d: %s", resp.StatusCode, msg)
	}
	return body, nil
}
