package relay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"shorts-relay/internal/logging"
	"shorts-relay/internal/model"
	"shorts-relay/internal/uploaders"
)

// ErrDuplicate rejects a video that is in flight or was already published by this process.
var ErrDuplicate = errors.New("video was already published or is being published")

type Retriever interface {
	Download(ctx context.Context, videoID string) (*model.MediaItem, error)
}

type Publisher interface {
	Publish(ctx context.Context, item *model.MediaItem) *uploaders.Report
}

type TitleRewriter interface {
	Rewrite(ctx context.Context, title, description string) (string, error)
}

type Options struct {
	RequestTimeout  time.Duration
	AllowDuplicates bool
	// Titles is optional; nil publishes the retrieved title unchanged.
	Titles TitleRewriter
}

// Service turns one video id into one publish report: retrieve, publish, clean up.
type Service struct {
	retriever Retriever
	publisher Publisher
	opts      Options
	log       *logging.Logger

	remove func(string) error

	mu        sync.Mutex
	inFlight  map[string]bool
	published map[string]bool
}

func NewService(retriever Retriever, publisher Publisher, opts Options, log *logging.Logger) *Service {
	return &Service{
		retriever: retriever,
		publisher: publisher,
		opts:      opts,
		log:       log,
		remove:    os.Remove,
		inFlight:  make(map[string]bool),
		published: make(map[string]bool),
	}
}

// Process retrieves the video and publishes it to every registered platform. The
// downloaded file is removed before Process returns, whatever the outcome. A non-nil
// report comes back whenever publishing ran, together with report.Err().
func (s *Service) Process(ctx context.Context, videoID string) (*uploaders.Report, error) {
	if !s.claim(videoID) {
		return nil, fmt.Errorf("%s: %w", videoID, ErrDuplicate)
	}
	success := false
	defer func() { s.release(videoID, success) }()

	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	item, err := s.retriever.Download(ctx, videoID)
	if item != nil {
		defer s.cleanup(item.Path)
	}
	if err != nil {
		return nil, err
	}
	s.log.Infof("relay: %s downloaded to %s (%d bytes) in %s", videoID, item.Path, item.Size, time.Since(start).Round(time.Millisecond))

	item = s.rewriteTitle(ctx, item)

	report := s.publisher.Publish(ctx, item)
	err = report.Err()
	success = err == nil
	if err != nil {
		s.log.Errorf("relay: %s: %v", videoID, err)
	} else {
		s.log.Infof("relay: %s published to %d/%d platforms in %s", videoID, len(report.Successes()), len(report.Results), time.Since(start).Round(time.Second))
	}
	return report, err
}

func (s *Service) rewriteTitle(ctx context.Context, item *model.MediaItem) *model.MediaItem {
	if s.opts.Titles == nil {
		return item
	}
	title, err := s.opts.Titles.Rewrite(ctx, item.Title, item.Description)
	if err != nil {
		s.log.Warnf("relay: title rewrite failed, keeping %q: %v", item.Title, err)
		return item
	}
	if title == "" || title == item.Title {
		return item
	}
	s.log.Infof("relay: title %q rewritten to %q", item.Title, title)
	return item.WithTitle(title)
}

func (s *Service) cleanup(path string) {
	if path == "" {
		return
	}
	if err := s.remove(path); err != nil && !os.IsNotExist(err) {
		s.log.Warnf("relay: remove %s: %v", path, err)
	}
}

// claim marks videoID in flight. Duplicates are only tracked when they are disallowed.
func (s *Service) claim(videoID string) bool {
	if s.opts.AllowDuplicates {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[videoID] || s.published[videoID] {
		return false
	}
	s.inFlight[videoID] = true
	return true
}

func (s *Service) release(videoID string, published bool) {
	if s.opts.AllowDuplicates {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, videoID)
	if published {
		s.published[videoID] = true
	}
}
