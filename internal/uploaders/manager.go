package uploaders

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"shorts-relay/internal/logging"
	"shorts-relay/internal/model"
)

// Manager fans a media item out to an ordered set of uploaders.
type Manager struct {
	uploaders  []Uploader
	sequential bool
	log        *logging.Logger
}

// NewManager keeps uploaders in the given order; results come back in that order.
func NewManager(log *logging.Logger, sequential bool, uploaders ...Uploader) *Manager {
	return &Manager{uploaders: uploaders, sequential: sequential, log: log}
}

// AddUploader appends an uploader to the end of the invocation order.
func (m *Manager) AddUploader(u Uploader) {
	m.uploaders = append(m.uploaders, u)
}

// AvailablePlatforms returns platform names in invocation order.
func (m *Manager) AvailablePlatforms() []string {
	platforms := make([]string, 0, len(m.uploaders))
	for _, u := range m.uploaders {
		platforms = append(platforms, u.Platform())
	}
	return platforms
}

// Publish runs every uploader against item. A failing or panicking uploader yields a
// failure result and never stops the others. Publish returns once all have finished.
func (m *Manager) Publish(ctx context.Context, item *model.MediaItem) *Report {
	results := make([]*UploadResult, len(m.uploaders))
	if m.sequential {
		for i, u := range m.uploaders {
			results[i] = m.run(ctx, u, item)
		}
		return &Report{Results: results}
	}

	var wg sync.WaitGroup
	for i, u := range m.uploaders {
		wg.Add(1)
		go func(i int, u Uploader) {
			defer wg.Done()
			results[i] = m.run(ctx, u, item)
		}(i, u)
	}
	wg.Wait()
	return &Report{Results: results}
}

func (m *Manager) run(ctx context.Context, u Uploader, item *model.MediaItem) (res *UploadResult) {
	platform := u.Platform()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorf("uploaders: %s panicked: %v\n%s", platform, r, debug.Stack())
			res = &UploadResult{Success: false, Platform: platform, Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	m.log.Infof("uploaders: %s: starting upload of %s", platform, item.Path)
	result, err := u.Upload(ctx, item)
	switch {
	case result == nil && err == nil:
		result = &UploadResult{Success: false, Platform: platform, Error: "uploader returned no result"}
	case result == nil:
		result = &UploadResult{Success: false, Platform: platform, Error: err.Error()}
	case err != nil && result.Success:
		result.Success = false
		result.Error = err.Error()
	case err != nil && result.Error == "":
		result.Error = err.Error()
	}
	if result.Platform == "" {
		result.Platform = platform
	}

	if result.Success {
		m.log.Infof("uploaders: %s: done in %s (id=%s url=%s)", platform, time.Since(start).Round(time.Millisecond), result.ID, result.URL)
	} else {
		m.log.Errorf("uploaders: %s: failed after %s: %s", platform, time.Since(start).Round(time.Millisecond), result.Error)
	}
	return result
}
