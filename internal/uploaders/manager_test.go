package uploaders

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shorts-relay/internal/logging"
	"shorts-relay/internal/model"
)

type stubUploader struct {
	platform string
	delay    time.Duration
	result   *UploadResult
	err      error
	panicMsg string
	calls    atomic.Int32
}

func (s *stubUploader) Platform() string { return s.platform }

func (s *stubUploader) Upload(ctx context.Context, item *model.MediaItem) (*UploadResult, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return s.result, s.err
}

func okStub(platform, id, url string, delay time.Duration) *stubUploader {
	return &stubUploader{platform: platform, delay: delay, result: succeeded(platform, id, url)}
}

func failStub(platform, msg string) *stubUploader {
	err := errors.New(msg)
	return &stubUploader{platform: platform, result: &UploadResult{Platform: platform, Error: msg}, err: err}
}

var testItem = &model.MediaItem{Path: "/tmp/video.mp4", Title: "t"}

func TestPublishKeepsInvocationOrder(t *testing.T) {
	for _, sequential := range []bool{false, true} {
		m := NewManager(logging.Discard(), sequential,
			okStub(PlatformYouTube, "a", "https://youtu.be/a", 30*time.Millisecond),
			failStub(PlatformTikTok, "boom"),
			okStub(PlatformInstagram, "b", "", 0),
		)
		rep := m.Publish(context.Background(), testItem)

		require.Len(t, rep.Results, 3)
		assert.Equal(t, PlatformYouTube, rep.Results[0].Platform)
		assert.Equal(t, PlatformTikTok, rep.Results[1].Platform)
		assert.Equal(t, PlatformInstagram, rep.Results[2].Platform)
		assert.NoError(t, rep.Err(), "partial success is not an error")
		assert.Len(t, rep.Successes(), 2)
		assert.Len(t, rep.Failures(), 1)
	}
}

func TestPublishRecoversPanics(t *testing.T) {
	other := okStub(PlatformYouTube, "a", "https://youtu.be/a", 10*time.Millisecond)
	m := NewManager(logging.Discard(), false,
		&stubUploader{platform: PlatformTikTok, panicMsg: "nil map"},
		other,
	)
	rep := m.Publish(context.Background(), testItem)

	require.Len(t, rep.Results, 2)
	assert.False(t, rep.Results[0].Success)
	assert.Contains(t, rep.Results[0].Error, "nil map")
	assert.True(t, rep.Results[1].Success)
	assert.Equal(t, int32(1), other.calls.Load())
}

func TestPublishNormalisesResults(t *testing.T) {
	m := NewManager(logging.Discard(), true,
		&stubUploader{platform: "A", err: errors.New("no result")},
		&stubUploader{platform: "B"},
		&stubUploader{platform: "C", result: &UploadResult{Success: true}, err: errors.New("late failure")},
	)
	rep := m.Publish(context.Background(), testItem)

	assert.Equal(t, "no result", rep.Results[0].Error)
	assert.Equal(t, "uploader returned no result", rep.Results[1].Error)
	assert.False(t, rep.Results[2].Success)
	assert.Equal(t, "C", rep.Results[2].Platform)
	assert.ErrorIs(t, rep.Err(), ErrAllFailed)
}

func TestPublishAggregateFailures(t *testing.T) {
	rep := NewManager(logging.Discard(), false).Publish(context.Background(), testItem)
	assert.ErrorIs(t, rep.Err(), ErrNoPlatforms)

	rep = NewManager(logging.Discard(), false,
		failStub(PlatformYouTube, "quota exceeded"),
		failStub(PlatformTikTok, "missing TIKTOK_ACCESS_TOKEN"),
	).Publish(context.Background(), testItem)
	err := rep.Err()
	assert.ErrorIs(t, err, ErrAllFailed)
	assert.Contains(t, err.Error(), "YouTube: quota exceeded; TikTok: missing TIKTOK_ACCESS_TOKEN")
}

func TestAvailablePlatforms(t *testing.T) {
	m := NewManager(logging.Discard(), false, okStub("A", "", "", 0))
	m.AddUploader(okStub("B", "", "", 0))
	assert.Equal(t, []string{"A", "B"}, m.AvailablePlatforms())
}
