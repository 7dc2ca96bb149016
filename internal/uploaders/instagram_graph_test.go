package uploaders

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shorts-relay/internal/logging"
	"shorts-relay/internal/model"
)

type fakeHost struct {
	released int
}

func (h *fakeHost) PublicURL(ctx context.Context, item *model.MediaItem) (string, func(), error) {
	return "https://cdn.example.com/media/clip.mp4", func() { h.released++ }, nil
}

type fakeGraph struct {
	mu           sync.Mutex
	statuses     []string
	statusCalls  int
	publishCalls int
	createForm   map[string]string
	createStatus int
	createBody   string
}

func (f *fakeGraph) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/1784/media", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.mu.Lock()
		f.createForm = map[string]string{
			"media_type":   r.PostForm.Get("media_type"),
			"video_url":    r.PostForm.Get("video_url"),
			"caption":      r.PostForm.Get("caption"),
			"access_token": r.PostForm.Get("access_token"),
		}
		f.mu.Unlock()
		if f.createStatus != 0 {
			w.WriteHeader(f.createStatus)
			io.WriteString(w, f.createBody)
			return
		}
		io.WriteString(w, `{"id":"creation-1"}`)
	})
	mux.HandleFunc("/creation-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "status_code", r.URL.Query().Get("fields"))
		f.mu.Lock()
		idx := f.statusCalls
		if idx >= len(f.statuses) {
			idx = len(f.statuses) - 1
		}
		status := f.statuses[idx]
		f.statusCalls++
		f.mu.Unlock()
		io.WriteString(w, `{"status_code":"`+status+`","id":"creation-1"}`)
	})
	mux.HandleFunc("/1784/media_publish", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "creation-1", r.PostForm.Get("creation_id"))
		f.mu.Lock()
		f.publishCalls++
		f.mu.Unlock()
		io.WriteString(w, `{"id":"17900000000000001"}`)
	})
	return mux
}

func newGraphTest(t *testing.T, fake *fakeGraph) (*InstagramGraphUploader, *fakeHost) {
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	host := &fakeHost{}
	u := NewInstagramGraphUploader(InstagramGraphConfig{UserID: "1784", AccessToken: "gtok", CaptionSuffix: "#reels"}, host, logging.Discard())
	u.baseURL = srv.URL
	u.httpClient = srv.Client()
	u.clock = newFakeClock()
	return u, host
}

func TestGraphUploadFinished(t *testing.T) {
	fake := &fakeGraph{statuses: []string{"IN_PROGRESS", "IN_PROGRESS", "FINISHED"}}
	u, host := newGraphTest(t, fake)

	res, err := u.Upload(context.Background(), &model.MediaItem{Path: "/tmp/x.mp4", Title: "Cat"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "17900000000000001", res.ID)
	assert.Equal(t, 3, fake.statusCalls)
	assert.Equal(t, 1, fake.publishCalls)
	assert.Equal(t, 1, host.released)

	assert.Equal(t, "REELS", fake.createForm["media_type"])
	assert.Equal(t, "https://cdn.example.com/media/clip.mp4", fake.createForm["video_url"])
	assert.Equal(t, "Cat\n\n#reels", fake.createForm["caption"])
	assert.Equal(t, "gtok", fake.createForm["access_token"])
}

func TestGraphProcessingErrorSkipsPublish(t *testing.T) {
	fake := &fakeGraph{statuses: []string{"IN_PROGRESS", "ERROR"}}
	u, host := newGraphTest(t, fake)

	res, err := u.Upload(context.Background(), &model.MediaItem{Path: "/tmp/x.mp4"})
	assert.ErrorIs(t, err, model.ErrProcessing)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "processing failed")
	assert.Equal(t, 0, fake.publishCalls)
	assert.Equal(t, 1, host.released)
}

func TestGraphTimeoutIsFailure(t *testing.T) {
	fake := &fakeGraph{statuses: []string{"IN_PROGRESS"}}
	u, _ := newGraphTest(t, fake)

	res, err := u.Upload(context.Background(), &model.MediaItem{Path: "/tmp/x.mp4"})
	assert.ErrorIs(t, err, model.ErrProcessing)
	assert.Contains(t, res.Error, "timed out")
	assert.Equal(t, 60, fake.statusCalls)
	assert.Equal(t, 0, fake.publishCalls)
}

func TestGraphCreateErrorLabelled(t *testing.T) {
	fake := &fakeGraph{
		statuses:     []string{"FINISHED"},
		createStatus: http.StatusBadRequest,
		createBody:   `{"error":{"message":"Invalid OAuth access token","type":"OAuthException","code":190}}`,
	}
	u, _ := newGraphTest(t, fake)

	res, err := u.Upload(context.Background(), &model.MediaItem{Path: "/tmp/x.mp4"})
	assert.ErrorIs(t, err, model.ErrProtocol)
	assert.Contains(t, res.Error, "instagram graph create")
	assert.Contains(t, res.Error, "Invalid OAuth access token")
	assert.Equal(t, 0, fake.statusCalls)
}

func TestGraphEmbeddedErrorOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/1784/media" {
			io.WriteString(w, `{"id":"creation-1"}`)
			return
		}
		io.WriteString(w, `{"error":{"message":"Unsupported get request"}}`)
	}))
	defer srv.Close()

	u := NewInstagramGraphUploader(InstagramGraphConfig{UserID: "1784", AccessToken: "t"}, &fakeHost{}, logging.Discard())
	u.baseURL = srv.URL
	u.clock = newFakeClock()
	res, err := u.Upload(context.Background(), &model.MediaItem{Path: "/tmp/x.mp4"})
	assert.ErrorIs(t, err, model.ErrProtocol)
	assert.Contains(t, res.Error, "instagram graph status")
}
