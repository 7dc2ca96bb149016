package uploaders

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shorts-relay/internal/credstore"
	"shorts-relay/internal/logging"
	"shorts-relay/internal/model"
)

type fakeIG struct {
	probeErr    error
	sidErr      error
	passwordErr error
	uploadErr   error

	calls      []string
	gotSID     string
	gotCaption string
}

func (f *fakeIG) Probe(ctx context.Context, sess *instagramSession) error {
	f.calls = append(f.calls, "probe")
	return f.probeErr
}

func (f *fakeIG) LoginBySessionID(ctx context.Context, sessionID string) (*instagramSession, error) {
	f.calls = append(f.calls, "sessionid")
	f.gotSID = sessionID
	if f.sidErr != nil {
		return nil, f.sidErr
	}
	return &instagramSession{UserID: "from-sid", Cookies: map[string]string{"sessionid": sessionID}}, nil
}

func (f *fakeIG) LoginByPassword(ctx context.Context, username, password string) (*instagramSession, error) {
	f.calls = append(f.calls, "password")
	if f.passwordErr != nil {
		return nil, f.passwordErr
	}
	return &instagramSession{UserID: "from-password", Cookies: map[string]string{"sessionid": "pw-session"}}, nil
}

func (f *fakeIG) UploadClip(ctx context.Context, sess *instagramSession, path, caption string) (*clipMedia, error) {
	f.calls = append(f.calls, "upload:"+sess.UserID)
	f.gotCaption = caption
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return &clipMedia{ID: "3100_42", Code: "DAbCdEf"}, nil
}

func newInstagramTest(t *testing.T, cfg InstagramConfig, api *fakeIG) (*InstagramUploader, string) {
	sessionPath := filepath.Join(t.TempDir(), "state", "instagram_session.json")
	cfg.SessionPath = sessionPath
	u := NewInstagramUploader(cfg, credstore.New(credstore.FileBackend{}), logging.Discard())
	u.api = api
	u.now = func() time.Time { return time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC) }
	return u, sessionPath
}

func saveSession(t *testing.T, path string, sess instagramSession) {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	b, err := json.Marshal(sess)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
}

func readSession(t *testing.T, path string) *instagramSession {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var sess instagramSession
	require.NoError(t, json.Unmarshal(b, &sess))
	return &sess
}

func TestInstagramUsesSavedSessionFirst(t *testing.T) {
	api := &fakeIG{}
	u, path := newInstagramTest(t, InstagramConfig{SessionID: "sid", Username: "u", Password: "p"}, api)
	saveSession(t, path, instagramSession{UserID: "saved", Cookies: map[string]string{"sessionid": "old"}})

	res, err := u.Upload(context.Background(), &model.MediaItem{Path: "/tmp/v.mp4", Title: "Cat"})
	require.NoError(t, err)
	assert.Equal(t, []string{"probe", "upload:saved"}, api.calls)
	assert.Equal(t, "https://www.instagram.com/reel/DAbCdEf/", res.URL)
	assert.Equal(t, "3100_42", res.ID)
}

func TestInstagramProbeFailureFallsToSessionID(t *testing.T) {
	api := &fakeIG{probeErr: errors.New("login_required")}
	u, path := newInstagramTest(t, InstagramConfig{SessionID: `Cookie: csrftoken=a; sessionid="123%3Aabc"; ds_user_id=123`, Username: "u", Password: "p"}, api)
	saveSession(t, path, instagramSession{UserID: "saved", Cookies: map[string]string{"sessionid": "old"}})

	_, err := u.Upload(context.Background(), &model.MediaItem{Path: "/tmp/v.mp4"})
	require.NoError(t, err)
	assert.Equal(t, []string{"probe", "sessionid", "upload:from-sid"}, api.calls)
	assert.Equal(t, "123%3Aabc", api.gotSID)

	saved := readSession(t, path)
	require.NotNil(t, saved)
	assert.Equal(t, "from-sid", saved.UserID)
	assert.Equal(t, time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC), saved.SavedAt.UTC())
}

func TestInstagramFallsBackToPassword(t *testing.T) {
	api := &fakeIG{sidErr: errors.New("session expired")}
	u, _ := newInstagramTest(t, InstagramConfig{SessionID: "sid", Username: "u", Password: "p"}, api)

	_, err := u.Upload(context.Background(), &model.MediaItem{Path: "/tmp/v.mp4"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sessionid", "password", "upload:from-password"}, api.calls)
}

func TestInstagramAllLoginsFail(t *testing.T) {
	api := &fakeIG{
		probeErr:    errors.New("probe 401"),
		sidErr:      errors.New("session expired"),
		passwordErr: errors.New("challenge_required"),
	}
	u, path := newInstagramTest(t, InstagramConfig{SessionID: "sid", Username: "u", Password: "p"}, api)
	saveSession(t, path, instagramSession{UserID: "saved", Cookies: map[string]string{"sessionid": "old"}})

	res, err := u.Upload(context.Background(), &model.MediaItem{Path: "/tmp/v.mp4"})
	assert.ErrorIs(t, err, model.ErrAuth)
	assert.Contains(t, res.Error, "saved session: probe 401")
	assert.Contains(t, res.Error, "sessionid: session expired")
	assert.Contains(t, res.Error, "password: challenge_required")
	assert.Equal(t, "old", readSession(t, path).Cookies["sessionid"], "failed logins must not touch the saved session")
}

func TestInstagramMissingCredentials(t *testing.T) {
	api := &fakeIG{}
	u, _ := newInstagramTest(t, InstagramConfig{Username: "only-user"}, api)

	res, err := u.Upload(context.Background(), &model.MediaItem{Path: "/tmp/v.mp4"})
	assert.ErrorIs(t, err, model.ErrConfiguration)
	assert.Contains(t, res.Error, "missing INSTAGRAM_SESSIONID")
	assert.Empty(t, api.calls)
}

func TestInstagramUploadFailureDoesNotPersist(t *testing.T) {
	api := &fakeIG{uploadErr: model.Errorf(model.ErrTransfer, "instagram rupload", "status 500")}
	u, path := newInstagramTest(t, InstagramConfig{SessionID: "sid"}, api)

	_, err := u.Upload(context.Background(), &model.MediaItem{Path: "/tmp/v.mp4"})
	assert.ErrorIs(t, err, model.ErrTransfer)
	assert.Nil(t, readSession(t, path))
}

func TestInstagramCaption(t *testing.T) {
	api := &fakeIG{}
	u, _ := newInstagramTest(t, InstagramConfig{SessionID: "sid", CaptionSuffix: "#reels"}, api)

	_, err := u.Upload(context.Background(), &model.MediaItem{Path: "/tmp/v.mp4", Title: "Cat", Description: strings.Repeat("a", 3000)})
	require.NoError(t, err)
	assert.Len(t, api.gotCaption, instagramCaptionLimit)
}

func TestNormalizeSessionID(t *testing.T) {
	cases := map[string]string{
		"abc123":                                  "abc123",
		"  abc123  ":                              "abc123",
		`"abc123"`:                                "abc123",
		"sessionid=abc123":                        "abc123",
		"csrftoken=x; sessionid=abc123; mid=z":    "abc123",
		`sessionid="123%3Aabc%3A1"; ds_user_id=1`: "123%3Aabc%3A1",
		"":                                        "",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeSessionID(in), in)
	}
}

func TestClassifyInstagramError(t *testing.T) {
	err := classifyInstagramError("op", 429, []byte(`{"message":"Please wait a few minutes"}`), model.ErrAuth)
	assert.ErrorIs(t, err, errInstagramBlocked)
	assert.ErrorIs(t, err, model.ErrAuth)

	err = classifyInstagramError("op", 400, []byte(`{"message":"feedback_required","status":"fail"}`), model.ErrProtocol)
	assert.ErrorIs(t, err, errInstagramBlocked)

	err = classifyInstagramError("op", 400, []byte(`{"message":"checkpoint_required","checkpoint_url":"/challenge/"}`), model.ErrAuth)
	assert.ErrorIs(t, err, errInstagramChallenge)
	assert.Contains(t, err.Error(), "approve the login")

	err = classifyInstagramError("op", 500, []byte(`oops`), model.ErrTransfer)
	assert.ErrorIs(t, err, model.ErrTransfer)
	assert.NotErrorIs(t, err, errInstagramBlocked)
}
