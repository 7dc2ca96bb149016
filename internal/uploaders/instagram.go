package uploaders

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"shorts-relay/internal/credstore"
	"shorts-relay/internal/logging"
	"shorts-relay/internal/model"
)

// instagramSession is the persisted login state.
type instagramSession struct {
	UserID   string            `json:"user_id"`
	Cookies  map[string]string `json:"cookies"`
	DeviceID string            `json:"device_id"`
	UUID     string            `json:"uuid"`
	SavedAt  time.Time         `json:"saved_at"`
}

func (s *instagramSession) usable() bool {
	return s != nil && s.Cookies["sessionid"] != ""
}

type clipMedia struct {
	ID   string
	Code string
}

// instagramAPI is the private web API surface the uploader needs.
type instagramAPI interface {
	Probe(ctx context.Context, sess *instagramSession) error
	LoginBySessionID(ctx context.Context, sessionID string) (*instagramSession, error)
	LoginByPassword(ctx context.Context, username, password string) (*instagramSession, error)
	UploadClip(ctx context.Context, sess *instagramSession, path, caption string) (*clipMedia, error)
}

type InstagramConfig struct {
	Username      string
	Password      string
	SessionID     string
	SessionPath   string
	CaptionSuffix string
}

// InstagramUploader posts Reels through a logged-in web session. Login order is
// saved session, then INSTAGRAM_SESSIONID, then username and password.
type InstagramUploader struct {
	cfg   InstagramConfig
	api   instagramAPI
	store *credstore.Store
	log   *logging.Logger
	now   func() time.Time
}

func NewInstagramUploader(cfg InstagramConfig, store *credstore.Store, log *logging.Logger) *InstagramUploader {
	return &InstagramUploader{
		cfg:   cfg,
		api:   newIGWebClient(igWebBaseURL, nil),
		store: store,
		log:   log,
		now:   time.Now,
	}
}

func (i *InstagramUploader) Platform() string {
	return PlatformInstagram
}

func (i *InstagramUploader) Upload(ctx context.Context, item *model.MediaItem) (*UploadResult, error) {
	caption := truncateRunes(buildCaption(item, i.cfg.CaptionSuffix), instagramCaptionLimit)

	var media *clipMedia
	err := i.store.With(ctx, i.cfg.SessionPath, func(tx *credstore.Tx) error {
		sess, err := i.login(ctx, tx)
		if err != nil {
			return err
		}

		media, err = i.api.UploadClip(ctx, sess, item.Path, caption)
		if err != nil {
			return err
		}

		sess.SavedAt = i.now()
		if err := tx.WriteJSON(sess); err != nil {
			i.log.Warnf("instagram: reel published but session not saved: %v", err)
		}
		return nil
	})
	if err != nil {
		return failed(PlatformInstagram, err)
	}

	if media.Code != "" {
		res := succeeded(PlatformInstagram, media.ID, "https://www.instagram.com/reel/"+media.Code+"/")
		return res, nil
	}
	res := succeeded(PlatformInstagram, media.ID, "")
	res.IDLabel = "reel media id"
	return res, nil
}

// login walks the credential fallbacks. A failed probe of the saved session falls
// through without retrying it.
func (i *InstagramUploader) login(ctx context.Context, tx *credstore.Tx) (*instagramSession, error) {
	var attempts []string

	saved := &instagramSession{}
	found, err := tx.ReadJSON(saved)
	if err != nil {
		attempts = append(attempts, "saved session: "+err.Error())
	}
	if found && saved.usable() {
		err := i.api.Probe(ctx, saved)
		if err == nil {
			i.log.Infof("instagram: reusing saved session for user %s", saved.UserID)
			return saved, nil
		}
		attempts = append(attempts, "saved session: "+err.Error())
	}

	if sid := normalizeSessionID(i.cfg.SessionID); sid != "" {
		sess, err := i.api.LoginBySessionID(ctx, sid)
		if err == nil {
			i.log.Infof("instagram: logged in with INSTAGRAM_SESSIONID as user %s", sess.UserID)
			return sess, nil
		}
		attempts = append(attempts, "sessionid: "+err.Error())
	}

	if i.cfg.Username != "" && i.cfg.Password != "" {
		sess, err := i.api.LoginByPassword(ctx, i.cfg.Username, i.cfg.Password)
		if err == nil {
			i.log.Infof("instagram: logged in with password as user %s", sess.UserID)
			return sess, nil
		}
		attempts = append(attempts, "password: "+err.Error())
	}

	if len(attempts) == 0 {
		return nil, model.Errorf(model.ErrConfiguration, "instagram", "missing INSTAGRAM_SESSIONID or INSTAGRAM_USERNAME/INSTAGRAM_PASSWORD")
	}
	return nil, model.Errorf(model.ErrAuth, "instagram login failed", "%s", strings.Join(attempts, "; "))
}

// normalizeSessionID accepts either the bare value or a copied cookie header and
// returns just the sessionid value.
func normalizeSessionID(raw string) string {
	s := strings.TrimSpace(raw)
	if idx := strings.Index(s, "sessionid="); idx >= 0 {
		s = s[idx+len("sessionid="):]
		if end := strings.IndexByte(s, ';'); end >= 0 {
			s = s[:end]
		}
	}
	return strings.Trim(strings.TrimSpace(s), `"'`)
}

var (
	errInstagramBlocked   = errors.New("blocked or rate limited by Instagram (wait a while before retrying, or log in from the app and refresh INSTAGRAM_SESSIONID)")
	errInstagramChallenge = errors.New("Instagram requires a security challenge (approve the login in the Instagram app, then set INSTAGRAM_SESSIONID)")
)

// classifyInstagramError maps an error response to a failure with an actionable hint.
// fallback is the kind used when the response is neither blocked nor a challenge.
func classifyInstagramError(op string, status int, body []byte, fallback error) error {
	text := strings.ToLower(string(body))
	detail := fmt.Sprintf("status %d: %s", status, truncateRunes(strings.TrimSpace(string(body)), 300))
	switch {
	case status == http.StatusTooManyRequests || strings.Contains(text, "feedback_required") || strings.Contains(text, "wait a few minutes"):
		return &model.Error{Kind: model.ErrAuth, Op: op, Msg: detail, Err: errInstagramBlocked}
	case strings.Contains(text, "challenge_required") || strings.Contains(text, "checkpoint_required"):
		return &model.Error{Kind: model.ErrAuth, Op: op, Msg: detail, Err: errInstagramChallenge}
	}
	return model.Errorf(fallback, op, "%s", detail)
}
