package uploaders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dghubble/oauth1"

	"shorts-relay/internal/logging"
	"shorts-relay/internal/model"
)

const (
	xAPIBase          = "https://api.x.com"
	xChunkSize        = 5 * 1024 * 1024
	xDefaultPollEvery = 2 * time.Second
)

type XConfig struct {
	ConsumerKey       string
	ConsumerSecret    string
	AccessToken       string
	AccessTokenSecret string
	PollTimeout       time.Duration
}

// XUploader handles X API uploads
type XUploader struct {
	cfg        XConfig
	baseURL    string
	httpClient *http.Client
	clock      Clock
	log        *logging.Logger
}

// NewXUploader signs every request with the user's OAuth 1.0a credentials.
func NewXUploader(cfg XConfig, log *logging.Logger) *XUploader {
	config := oauth1.NewConfig(cfg.ConsumerKey, cfg.ConsumerSecret)
	token := oauth1.NewToken(cfg.AccessToken, cfg.AccessTokenSecret)
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Minute
	}
	return &XUploader{
		cfg:        cfg,
		baseURL:    xAPIBase,
		httpClient: config.Client(context.Background(), token),
		clock:      realClock{},
		log:        log,
	}
}

// Platform returns the platform name
func (x *XUploader) Platform() string {
	return PlatformX
}

type xProcessingInfo struct {
	State          string `json:"state"`
	CheckAfterSecs int    `json:"check_after_secs"`
	Error          *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// mediaResponse covers initialize, finalize and status responses.
type mediaResponse struct {
	Data struct {
		ID             string           `json:"id"`
		MediaKey       string           `json:"media_key"`
		ProcessingInfo *xProcessingInfo `json:"processing_info"`
	} `json:"data"`
	Errors []map[string]interface{} `json:"errors"`
}

// postCreateResponse is the response from v2 tweets create
type postCreateResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
	Errors []map[string]interface{} `json:"errors"`
}

// Upload posts the video with the caption as tweet text.
func (x *XUploader) Upload(ctx context.Context, item *model.MediaItem) (*UploadResult, error) {
	text := RemoveShortsHashtag(buildCaption(item, ""))
	if text == "" {
		text = item.Title
	}
	text = truncateRunes(text, xTextLimit)

	mediaID, err := x.uploadMedia(ctx, item.Path)
	if err != nil {
		return failed(PlatformX, err)
	}
	x.log.Infof("x: media %s ready, creating post", mediaID)

	postJSON, _ := json.Marshal(map[string]interface{}{
		"text":  text,
		"media": map[string]interface{}{"media_ids": []string{mediaID}},
	})
	status, body, err := x.send(ctx, http.MethodPost, x.baseURL+"/2/tweets", "application/json", bytes.NewReader(postJSON))
	if err != nil {
		return failed(PlatformX, model.Wrap(model.ErrTransfer, "x post", err))
	}
	var postRes postCreateResponse
	_ = json.Unmarshal(body, &postRes)
	if status != http.StatusCreated && status != http.StatusOK {
		return failed(PlatformX, model.Errorf(kindForStatus(status), "x post", "%s", describeXError(status, body, postRes.Errors)))
	}
	if postRes.Data.ID == "" {
		return failed(PlatformX, model.Errorf(model.ErrProtocol, "x post", "response has no post id"))
	}

	res := succeeded(PlatformX, postRes.Data.ID, "https://x.com/i/web/status/"+postRes.Data.ID)
	res.Details = map[string]string{"media_id": mediaID, "text": text}
	return res, nil
}

// uploadMedia runs initialize, append per chunk, finalize, then waits for processing.
func (x *XUploader) uploadMedia(ctx context.Context, videoPath string) (string, error) {
	file, err := os.Open(videoPath)
	if err != nil {
		return "", model.Wrap(model.ErrTransfer, "open video", err)
	}
	defer file.Close()
	st, err := file.Stat()
	if err != nil {
		return "", model.Wrap(model.ErrTransfer, "stat video", err)
	}

	initJSON, _ := json.Marshal(map[string]interface{}{
		"media_type":     "video/mp4",
		"total_bytes":    st.Size(),
		"media_category": "tweet_video",
	})
	initRes, err := x.mediaCall(ctx, http.MethodPost, x.baseURL+"/2/media/upload/initialize", "application/json", bytes.NewReader(initJSON), "x media init")
	if err != nil {
		return "", err
	}
	mediaID := initRes.Data.ID
	if mediaID == "" {
		return "", model.Errorf(model.ErrProtocol, "x media init", "response has no media id")
	}

	for i, c := range planChunks(st.Size(), xChunkSize) {
		if err := x.appendChunk(ctx, file, mediaID, i, c); err != nil {
			return "", model.Wrap(model.ErrTransfer, fmt.Sprintf("x media append %d", i), err)
		}
	}

	finalRes, err := x.mediaCall(ctx, http.MethodPost, fmt.Sprintf("%s/2/media/upload/%s/finalize", x.baseURL, mediaID), "", nil, "x media finalize")
	if err != nil {
		return "", err
	}
	info := finalRes.Data.ProcessingInfo
	if info == nil {
		return mediaID, nil
	}

	interval := xDefaultPollEvery
	if info.CheckAfterSecs > 0 {
		interval = time.Duration(info.CheckAfterSecs) * time.Second
	}
	p := poller{Clock: x.clock, Interval: interval, Timeout: x.cfg.PollTimeout}
	first := true
	_, err = p.poll(ctx, func(ctx context.Context) (bool, error) {
		if !first {
			statusURL := fmt.Sprintf("%s/2/media/upload?command=STATUS&media_id=%s", x.baseURL, mediaID)
			res, err := x.mediaCall(ctx, http.MethodGet, statusURL, "", nil, "x media status")
			if err != nil {
				return false, err
			}
			if res.Data.ProcessingInfo != nil {
				info = res.Data.ProcessingInfo
			}
		}
		first = false
		switch info.State {
		case "succeeded":
			return true, nil
		case "failed":
			msg := "media processing failed"
			if info.Error != nil && info.Error.Message != "" {
				msg += ": " + info.Error.Message
			}
			return false, model.Errorf(model.ErrProcessing, "x media", "%s", msg)
		}
		return false, nil
	})
	if errors.Is(err, errPollTimeout) {
		return "", model.Errorf(model.ErrProcessing, "x media", "processing did not finish within %s", x.cfg.PollTimeout)
	}
	if err != nil {
		return "", err
	}
	return mediaID, nil
}

func (x *XUploader) appendChunk(ctx context.Context, f io.ReaderAt, mediaID string, index int, c byteRange) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("segment_index", strconv.Itoa(index)); err != nil {
		return err
	}
	part, err := writer.CreateFormFile("media", "video.mp4")
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, io.NewSectionReader(f, c.Start, c.Len())); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	status, respBody, err := x.send(ctx, http.MethodPost, fmt.Sprintf("%s/2/media/upload/%s/append", x.baseURL, mediaID), writer.FormDataContentType(), &body)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("status %d: %s", status, truncateRunes(string(respBody), 500))
	}
	return nil
}

func (x *XUploader) mediaCall(ctx context.Context, method, url, contentType string, body io.Reader, op string) (*mediaResponse, error) {
	status, respBody, err := x.send(ctx, method, url, contentType, body)
	if err != nil {
		return nil, model.Wrap(model.ErrTransfer, op, err)
	}
	var res mediaResponse
	jsonErr := json.Unmarshal(respBody, &res)
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusAccepted {
		return nil, model.Errorf(kindForStatus(status), op, "%s", describeXError(status, respBody, res.Errors))
	}
	if jsonErr != nil {
		return nil, model.Wrap(model.ErrProtocol, op, jsonErr)
	}
	return &res, nil
}

func (x *XUploader) send(ctx context.Context, method, url, contentType string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := x.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return resp.StatusCode, b, err
}

func kindForStatus(status int) error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return model.ErrAuth
	}
	return model.ErrProtocol
}

func describeXError(status int, body []byte, errs []map[string]interface{}) string {
	msg := fmt.Sprintf("status=%d", status)
	if len(errs) > 0 {
		if detail, ok := errs[0]["detail"].(string); ok {
			return msg + " | " + detail
		}
		if detail, ok := errs[0]["message"].(string); ok {
			return msg + " | " + detail
		}
	}
	if len(body) > 0 {
		msg += " | " + truncateRunes(string(body), 500)
	}
	return msg
}

var (
	shortsHashtagRe = regexp.MustCompile(`(?i)(?:^|\s)#shorts\b`)
	multiSpaceRe    = regexp.MustCompile(`[ \t]{2,}`)
)

// RemoveShortsHashtag removes #shorts hashtag from text
func RemoveShortsHashtag(s string) string {
	if s == "" {
		return s
	}
	result := shortsHashtagRe.ReplaceAllString(s, " ")
	result = multiSpaceRe.ReplaceAllString(result, " ")
	return strings.TrimSpace(result)
}
