package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"
	"github.com/samber/lo"

	"shorts-relay/internal/logging"
	"shorts-relay/internal/model"
)

var shortsLinkRe = regexp.MustCompile(`(?:https?://)?(?:www\.|m\.)?(?:youtube\.com/shorts/|youtu\.be/)([A-Za-z0-9_-]{6,})`)

// ExtractVideoID returns the id of the first Shorts link in text.
func ExtractVideoID(text string) (string, bool) {
	m := shortsLinkRe.FindStringSubmatch(text)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

func CanonicalURL(id string) string {
	return "https://youtube.com/shorts/" + id
}

// videoClient is the part of youtube.Client the downloader uses.
type videoClient interface {
	GetVideoContext(ctx context.Context, id string) (*youtube.Video, error)
	GetStreamContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (io.ReadCloser, int64, error)
}

type Downloader struct {
	client videoClient
	dir    string
	log    *logging.Logger
	now    func() time.Time
}

func NewDownloader(dir string, log *logging.Logger) *Downloader {
	return &Downloader{client: &youtube.Client{}, dir: dir, log: log, now: time.Now}
}

// Download fetches the video into dir and returns its metadata. Partial files are
// removed on failure. Every error is classified as model.ErrRetrieval.
func (d *Downloader) Download(ctx context.Context, id string) (*model.MediaItem, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return nil, model.Wrap(model.ErrRetrieval, "create download dir", err)
	}

	video, err := d.client.GetVideoContext(ctx, id)
	if err != nil {
		return nil, model.Wrap(model.ErrRetrieval, "get video "+id, err)
	}

	candidates := rankFormats(video.Formats)
	if len(candidates) == 0 {
		return nil, model.Errorf(model.ErrRetrieval, "get video "+id, "no downloadable video formats")
	}

	path := filepath.Join(d.dir, fmt.Sprintf("%s-%d.mp4", id, d.now().UnixNano()))
	var lastErr error
	for i := range candidates {
		format := candidates[i]
		size, err := d.fetch(ctx, video, &format, path)
		if err == nil {
			d.log.Infof("sources: downloaded %s itag=%d (%s) %d bytes", id, format.ItagNo, format.QualityLabel, size)
			return &model.MediaItem{
				Path:        path,
				Size:        size,
				Title:       video.Title,
				Description: video.Description,
				SourceID:    id,
				SourceURL:   CanonicalURL(id),
				RetrievedAt: d.now(),
			}, nil
		}
		os.Remove(path)
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		d.log.Warnf("sources: format itag=%d for %s failed: %v", format.ItagNo, id, err)
	}
	return nil, model.Wrap(model.ErrRetrieval, "download "+id, lastErr)
}

func (d *Downloader) fetch(ctx context.Context, video *youtube.Video, format *youtube.Format, path string) (int64, error) {
	stream, _, err := d.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, stream)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errors.New("downloaded file is empty")
	}
	return n, nil
}

// rankFormats orders video formats by preference: progressive mp4 by quality, then
// other progressive formats, then video-only formats.
func rankFormats(formats youtube.FormatList) []youtube.Format {
	video := lo.Filter(formats, func(f youtube.Format, _ int) bool {
		return strings.HasPrefix(f.MimeType, "video/")
	})
	tier := func(f youtube.Format) int {
		progressive := f.AudioChannels > 0
		switch {
		case progressive && strings.HasPrefix(f.MimeType, "video/mp4"):
			return 0
		case progressive:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(video, func(i, j int) bool {
		ti, tj := tier(video[i]), tier(video[j])
		if ti != tj {
			return ti < tj
		}
		if video[i].Height != video[j].Height {
			return video[i].Height > video[j].Height
		}
		return video[i].Bitrate > video[j].Bitrate
	})
	return video
}
