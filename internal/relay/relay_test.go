package relay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shorts-relay/internal/logging"
	"shorts-relay/internal/model"
	"shorts-relay/internal/uploaders"
)

type fakeRetriever struct {
	dir     string
	err     error
	partial bool
	calls   int
}

func (f *fakeRetriever) Download(ctx context.Context, videoID string) (*model.MediaItem, error) {
	f.calls++
	path := filepath.Join(f.dir, videoID+".mp4")
	if f.err != nil {
		if f.partial {
			_ = os.WriteFile(path, nil, 0o644)
			return &model.MediaItem{Path: path}, f.err
		}
		return nil, f.err
	}
	if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
		return nil, err
	}
	return &model.MediaItem{Path: path, Size: 5, Title: "Cat jumps", Description: "so high", SourceID: videoID}, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	results  []*uploaders.UploadResult
	items    []*model.MediaItem
	deadline time.Time
	fileSeen bool
	block    chan struct{}
}

func (f *fakePublisher) Publish(ctx context.Context, item *model.MediaItem) *uploaders.Report {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, item)
	f.deadline, _ = ctx.Deadline()
	_, err := os.Stat(item.Path)
	f.fileSeen = err == nil
	return &uploaders.Report{Results: f.results}
}

type fakeTitles struct {
	title string
	err   error
}

func (f fakeTitles) Rewrite(ctx context.Context, title, description string) (string, error) {
	return f.title, f.err
}

func ok(platform string) *uploaders.UploadResult {
	return &uploaders.UploadResult{Success: true, Platform: platform, ID: "id", URL: "https://example.com/id"}
}

func bad(platform string) *uploaders.UploadResult {
	return &uploaders.UploadResult{Platform: platform, Error: "boom"}
}

func TestProcessPublishesAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	ret := &fakeRetriever{dir: dir}
	pub := &fakePublisher{results: []*uploaders.UploadResult{ok(uploaders.PlatformYouTube), bad(uploaders.PlatformTikTok)}}
	s := NewService(ret, pub, Options{RequestTimeout: time.Minute}, logging.Discard())

	before := time.Now()
	rep, err := s.Process(context.Background(), "abcDEF123")
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Len(t, rep.Successes(), 1)

	assert.True(t, pub.fileSeen, "file exists while publishing")
	assert.NoFileExists(t, filepath.Join(dir, "abcDEF123.mp4"))
	assert.WithinDuration(t, before.Add(time.Minute), pub.deadline, 5*time.Second)
}

func TestProcessAllFailedStillCleansUp(t *testing.T) {
	dir := t.TempDir()
	pub := &fakePublisher{results: []*uploaders.UploadResult{bad(uploaders.PlatformYouTube)}}
	s := NewService(&fakeRetriever{dir: dir}, pub, Options{}, logging.Discard())

	rep, err := s.Process(context.Background(), "abcDEF123")
	assert.ErrorIs(t, err, uploaders.ErrAllFailed)
	require.NotNil(t, rep)
	assert.NoFileExists(t, filepath.Join(dir, "abcDEF123.mp4"))
}

func TestProcessRetrievalFailureShortCircuits(t *testing.T) {
	dir := t.TempDir()
	ret := &fakeRetriever{dir: dir, partial: true, err: model.Errorf(model.ErrRetrieval, "download", "downloaded file is empty")}
	pub := &fakePublisher{}
	s := NewService(ret, pub, Options{}, logging.Discard())

	rep, err := s.Process(context.Background(), "abcDEF123")
	assert.ErrorIs(t, err, model.ErrRetrieval)
	assert.Nil(t, rep)
	assert.Empty(t, pub.items, "publishers never run after a retrieval failure")
	assert.NoFileExists(t, filepath.Join(dir, "abcDEF123.mp4"))
}

func TestProcessCleanupRunsOnce(t *testing.T) {
	dir := t.TempDir()
	pub := &fakePublisher{results: []*uploaders.UploadResult{ok(uploaders.PlatformYouTube)}}
	s := NewService(&fakeRetriever{dir: dir}, pub, Options{}, logging.Discard())
	var removed []string
	s.remove = func(p string) error {
		removed = append(removed, p)
		return os.Remove(p)
	}

	_, err := s.Process(context.Background(), "abcDEF123")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "abcDEF123.mp4")}, removed)
}

func TestProcessRewritesTitleOnCopy(t *testing.T) {
	pub := &fakePublisher{results: []*uploaders.UploadResult{ok(uploaders.PlatformYouTube)}}
	s := NewService(&fakeRetriever{dir: t.TempDir()}, pub, Options{Titles: fakeTitles{title: "Gravity-Defying Cat"}}, logging.Discard())

	_, err := s.Process(context.Background(), "abcDEF123")
	require.NoError(t, err)
	require.Len(t, pub.items, 1)
	assert.Equal(t, "Gravity-Defying Cat", pub.items[0].Title)
	assert.Equal(t, "so high", pub.items[0].Description)
}

func TestProcessTitleRewriteFailureKeepsTitle(t *testing.T) {
	pub := &fakePublisher{results: []*uploaders.UploadResult{ok(uploaders.PlatformYouTube)}}
	s := NewService(&fakeRetriever{dir: t.TempDir()}, pub, Options{Titles: fakeTitles{title: "x", err: errors.New("quota")}}, logging.Discard())

	_, err := s.Process(context.Background(), "abcDEF123")
	require.NoError(t, err)
	assert.Equal(t, "Cat jumps", pub.items[0].Title)
}

func TestProcessRejectsDuplicates(t *testing.T) {
	pub := &fakePublisher{results: []*uploaders.UploadResult{ok(uploaders.PlatformYouTube)}}
	ret := &fakeRetriever{dir: t.TempDir()}
	s := NewService(ret, pub, Options{}, logging.Discard())

	_, err := s.Process(context.Background(), "abcDEF123")
	require.NoError(t, err)
	_, err = s.Process(context.Background(), "abcDEF123")
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, 1, ret.calls)

	_, err = s.Process(context.Background(), "otherID99")
	assert.NoError(t, err)
}

func TestProcessFailedVideoCanBeRetried(t *testing.T) {
	pub := &fakePublisher{results: []*uploaders.UploadResult{bad(uploaders.PlatformYouTube)}}
	ret := &fakeRetriever{dir: t.TempDir()}
	s := NewService(ret, pub, Options{}, logging.Discard())

	_, err := s.Process(context.Background(), "abcDEF123")
	assert.ErrorIs(t, err, uploaders.ErrAllFailed)
	_, err = s.Process(context.Background(), "abcDEF123")
	assert.ErrorIs(t, err, uploaders.ErrAllFailed)
	assert.Equal(t, 2, ret.calls)
}

func TestProcessRejectsInFlightDuplicate(t *testing.T) {
	pub := &fakePublisher{results: []*uploaders.UploadResult{ok(uploaders.PlatformYouTube)}, block: make(chan struct{})}
	s := NewService(&fakeRetriever{dir: t.TempDir()}, pub, Options{}, logging.Discard())

	done := make(chan error, 1)
	go func() {
		_, err := s.Process(context.Background(), "abcDEF123")
		done <- err
	}()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.inFlight["abcDEF123"]
	}, time.Second, 5*time.Millisecond)

	_, err := s.Process(context.Background(), "abcDEF123")
	assert.ErrorIs(t, err, ErrDuplicate)

	close(pub.block)
	assert.NoError(t, <-done)
}

func TestProcessAllowsDuplicatesWhenConfigured(t *testing.T) {
	pub := &fakePublisher{results: []*uploaders.UploadResult{ok(uploaders.PlatformYouTube)}}
	ret := &fakeRetriever{dir: t.TempDir()}
	s := NewService(ret, pub, Options{AllowDuplicates: true}, logging.Discard())

	for i := 0; i < 2; i++ {
		_, err := s.Process(context.Background(), "abcDEF123")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, ret.calls)
}
