package uploaders

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"shorts-relay/internal/model"
)

const (
	igWebBaseURL = "https://www.instagram.com"
	igAppID      = "936619743392459"
	igUserAgent  = "Mozilla/5.0 (iPhone; CPU iPhone OS 18_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.5 Mobile/15E148 Safari/604.1"
)

// igWebClient talks to the Instagram web endpoints with cookies held in the session.
type igWebClient struct {
	baseURL    string
	httpClient *http.Client
	clock      Clock

	configureInterval time.Duration
	configureTimeout  time.Duration
}

func newIGWebClient(baseURL string, httpClient *http.Client) *igWebClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &igWebClient{
		baseURL:           strings.TrimRight(baseURL, "/"),
		httpClient:        httpClient,
		clock:             realClock{},
		configureInterval: 5 * time.Second,
		configureTimeout:  2 * time.Minute,
	}
}

func newInstagramSession() *instagramSession {
	return &instagramSession{
		Cookies:  map[string]string{},
		DeviceID: randomHex(16),
		UUID:     randomHex(16),
	}
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(b)
}

// do sends req with the session's cookies and CSRF header and merges returned cookies.
func (c *igWebClient) do(sess *instagramSession, req *http.Request) (int, []byte, error) {
	if sess.Cookies == nil {
		sess.Cookies = map[string]string{}
	}
	if sess.Cookies["csrftoken"] == "" {
		sess.Cookies["csrftoken"] = randomHex(16)
	}
	req.Header.Set("User-Agent", igUserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("X-IG-App-ID", igAppID)
	req.Header.Set("X-CSRFToken", sess.Cookies["csrftoken"])
	req.Header.Set("X-Web-Device-Id", sess.DeviceID)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Origin", igWebBaseURL)
	req.Header.Set("Referer", igWebBaseURL+"/")
	cookies := make([]string, 0, len(sess.Cookies))
	for name, value := range sess.Cookies {
		cookies = append(cookies, name+"="+value)
	}
	req.Header.Set("Cookie", strings.Join(cookies, "; "))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	for _, ck := range resp.Cookies() {
		if ck.Value == "" || ck.Value == `""` {
			continue
		}
		sess.Cookies[ck.Name] = ck.Value
	}
	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, body, err
}

func isIGFailure(status int, body []byte) bool {
	if status >= 400 {
		return true
	}
	st := gjson.GetBytes(body, "status").String()
	return st != "" && st != "ok"
}

func (c *igWebClient) Probe(ctx context.Context, sess *instagramSession) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/feed/timeline/", nil)
	if err != nil {
		return err
	}
	status, body, err := c.do(sess, req)
	if err != nil {
		return model.Wrap(model.ErrTransfer, "instagram session probe", err)
	}
	if isIGFailure(status, body) || !gjson.ValidBytes(body) {
		return classifyInstagramError("instagram session probe", status, body, model.ErrAuth)
	}
	return nil
}

func (c *igWebClient) LoginBySessionID(ctx context.Context, sessionID string) (*instagramSession, error) {
	sess := newInstagramSession()
	sess.Cookies["sessionid"] = sessionID
	if unescaped, err := url.QueryUnescape(sessionID); err == nil {
		if uid, _, ok := strings.Cut(unescaped, ":"); ok {
			sess.Cookies["ds_user_id"] = uid
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/accounts/current_user/?edit=true", nil)
	if err != nil {
		return nil, err
	}
	status, body, err := c.do(sess, req)
	if err != nil {
		return nil, model.Wrap(model.ErrTransfer, "instagram sessionid login", err)
	}
	if isIGFailure(status, body) {
		return nil, classifyInstagramError("instagram sessionid login", status, body, model.ErrAuth)
	}
	uid := gjson.GetBytes(body, "user.pk").String()
	if uid == "" {
		uid = gjson.GetBytes(body, "user.pk_id").String()
	}
	if uid == "" {
		return nil, model.Errorf(model.ErrAuth, "instagram sessionid login", "session is not logged in")
	}
	sess.UserID = uid
	return sess, nil
}

func (c *igWebClient) LoginByPassword(ctx context.Context, username, password string) (*instagramSession, error) {
	sess := newInstagramSession()
	form := url.Values{
		"username":             {username},
		"enc_password":         {fmt.Sprintf("#PWD_INSTAGRAM_BROWSER:0:%d:%s", time.Now().Unix(), password)},
		"queryParams":          {"{}"},
		"optIntoOneTap":        {"false"},
		"trustedDeviceRecords": {"{}"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/web/accounts/login/ajax/", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	status, body, err := c.do(sess, req)
	if err != nil {
		return nil, model.Wrap(model.ErrTransfer, "instagram password login", err)
	}
	if isIGFailure(status, body) {
		return nil, classifyInstagramError("instagram password login", status, body, model.ErrAuth)
	}
	if gjson.GetBytes(body, "two_factor_required").Bool() {
		return nil, model.Errorf(model.ErrAuth, "instagram password login", "two-factor authentication required (log in from the app and set INSTAGRAM_SESSIONID)")
	}
	if !gjson.GetBytes(body, "authenticated").Bool() || sess.Cookies["sessionid"] == "" {
		return nil, model.Errorf(model.ErrAuth, "instagram password login", "invalid username or password")
	}
	sess.UserID = gjson.GetBytes(body, "userId").String()
	if sess.UserID == "" {
		sess.UserID = sess.Cookies["ds_user_id"]
	}
	return sess, nil
}

// UploadClip sends the file to rupload and configures it as a Reel. Configure is
// retried while Instagram is still transcoding.
func (c *igWebClient) UploadClip(ctx context.Context, sess *instagramSession, path, caption string) (*clipMedia, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, model.Wrap(model.ErrTransfer, "open video", err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, model.Wrap(model.ErrTransfer, "stat video", err)
	}

	uploadID := strconv.FormatInt(time.Now().UnixMilli(), 10)
	entity := fmt.Sprintf("%s_0_%d", uploadID, time.Now().Unix())
	params, _ := json.Marshal(map[string]string{
		"upload_id":                uploadID,
		"media_type":               "2",
		"is_clips_video":           "1",
		"xsharing_user_ids":        "[]",
		"upload_media_duration_ms": "0",
		"retry_context":            `{"num_step_auto_retry":0,"num_reupload":0,"num_step_manual_retry":0}`,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rupload_igvideo/"+entity, f)
	if err != nil {
		return nil, err
	}
	req.ContentLength = st.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Entity-Type", "video/mp4")
	req.Header.Set("X-Entity-Name", entity)
	req.Header.Set("X-Entity-Length", strconv.FormatInt(st.Size(), 10))
	req.Header.Set("Offset", "0")
	req.Header.Set("X-Instagram-Rupload-Params", string(params))
	status, body, err := c.do(sess, req)
	if err != nil {
		return nil, model.Wrap(model.ErrTransfer, "instagram rupload", err)
	}
	if isIGFailure(status, body) {
		return nil, classifyInstagramError("instagram rupload", status, body, model.ErrTransfer)
	}

	var media *clipMedia
	p := poller{Clock: c.clock, Interval: c.configureInterval, Timeout: c.configureTimeout}
	_, err = p.poll(ctx, func(ctx context.Context) (bool, error) {
		m, retry, err := c.configureClip(ctx, sess, uploadID, caption)
		if err != nil || retry {
			return false, err
		}
		media = m
		return true, nil
	})
	if errors.Is(err, errPollTimeout) {
		return nil, model.Errorf(model.ErrProcessing, "instagram configure", "transcode did not finish within %s", c.configureTimeout)
	}
	if err != nil {
		return nil, err
	}
	return media, nil
}

func (c *igWebClient) configureClip(ctx context.Context, sess *instagramSession, uploadID, caption string) (*clipMedia, bool, error) {
	form := url.Values{
		"upload_id":                     {uploadID},
		"caption":                       {caption},
		"source_type":                   {"library"},
		"clips_share_preview_to_feed":   {"1"},
		"disable_comments":              {"0"},
		"like_and_view_counts_disabled": {"0"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/media/configure_to_clips/", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	status, body, err := c.do(sess, req)
	if err != nil {
		return nil, false, model.Wrap(model.ErrTransfer, "instagram configure", err)
	}
	if strings.Contains(strings.ToLower(string(body)), "transcode not finished") {
		return nil, true, nil
	}
	if isIGFailure(status, body) {
		return nil, false, classifyInstagramError("instagram configure", status, body, model.ErrProtocol)
	}

	id := gjson.GetBytes(body, "media.id").String()
	if id == "" {
		id = gjson.GetBytes(body, "media.pk").String()
	}
	if id == "" {
		return nil, false, model.Errorf(model.ErrProtocol, "instagram configure", "response has no media id")
	}
	return &clipMedia{ID: id, Code: gjson.GetBytes(body, "media.code").String()}, false, nil
}
