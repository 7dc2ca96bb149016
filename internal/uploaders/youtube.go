package uploaders

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"shorts-relay/internal/credstore"
	"shorts-relay/internal/logging"
	"shorts-relay/internal/model"
)

const defaultYouTubeChunkSize = 8 * 1024 * 1024

type YouTubeConfig struct {
	ClientSecretsPath string
	TokenPath         string
	PrivacyStatus     string
	TitlePrefix       string
	DescriptionSuffix string
	CategoryID        string
	MadeForKids       bool
	ChunkSize         int
}

// YouTubeUploader publishes through a resumable videos.insert session.
type YouTubeUploader struct {
	cfg   YouTubeConfig
	store *credstore.Store
	flow  OAuthFlow
	log   *logging.Logger

	clientOptions []option.ClientOption
}

func NewYouTubeUploader(cfg YouTubeConfig, store *credstore.Store, flow OAuthFlow, log *logging.Logger) *YouTubeUploader {
	if cfg.PrivacyStatus == "" {
		cfg.PrivacyStatus = "public"
	}
	if cfg.CategoryID == "" {
		cfg.CategoryID = "22"
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultYouTubeChunkSize
	}
	return &YouTubeUploader{cfg: cfg, store: store, flow: flow, log: log}
}

func (y *YouTubeUploader) Platform() string {
	return PlatformYouTube
}

func (y *YouTubeUploader) Upload(ctx context.Context, item *model.MediaItem) (*UploadResult, error) {
	tok, err := y.token(ctx)
	if err != nil {
		return failed(PlatformYouTube, model.Wrap(model.ErrAuth, "youtube auth", err))
	}

	videoFile, err := os.Open(item.Path)
	if err != nil {
		return failed(PlatformYouTube, model.Wrap(model.ErrTransfer, "open video", err))
	}
	defer videoFile.Close()

	opts := append([]option.ClientOption{
		option.WithHTTPClient(oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))),
	}, y.clientOptions...)
	service, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return failed(PlatformYouTube, model.Wrap(model.ErrAuth, "youtube service", err))
	}

	title := truncateRunes(buildTitle(item, y.cfg.TitlePrefix), youtubeTitleLimit)
	description := truncateRunes(buildDescription(item, y.cfg.DescriptionSuffix), youtubeDescLimit)
	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       title,
			Description: description,
			CategoryId:  y.cfg.CategoryID,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           y.cfg.PrivacyStatus,
			SelfDeclaredMadeForKids: y.cfg.MadeForKids,
			ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
		},
	}

	call := service.Videos.Insert([]string{"snippet", "status"}, video)
	uploaded, err := call.Media(videoFile, googleapi.ChunkSize(y.cfg.ChunkSize)).Context(ctx).Do()
	if err != nil {
		return failed(PlatformYouTube, model.Wrap(model.ErrTransfer, "youtube upload", err))
	}
	if uploaded == nil || uploaded.Id == "" {
		return failed(PlatformYouTube, model.Errorf(model.ErrProtocol, "youtube upload", "response has no video id"))
	}

	res := succeeded(PlatformYouTube, uploaded.Id, "https://youtu.be/"+uploaded.Id)
	res.Details = map[string]string{"title": title}
	return res, nil
}

// token returns a valid access token, refreshing or re-authorising as needed. Any
// new token is persisted before it is returned, all under the token path's lock.
func (y *YouTubeUploader) token(ctx context.Context) (*oauth2.Token, error) {
	conf, err := LoadOAuthConfig(y.cfg.ClientSecretsPath)
	if err != nil {
		return nil, err
	}

	var tok *oauth2.Token
	err = y.store.With(ctx, y.cfg.TokenPath, func(tx *credstore.Tx) error {
		cached := &oauth2.Token{}
		found, err := tx.ReadJSON(cached)
		if err != nil {
			y.log.Warnf("youtube: ignoring unreadable token %s: %v", y.cfg.TokenPath, err)
			found = false
		}
		if found && cached.Valid() {
			tok = cached
			return nil
		}

		if found && cached.RefreshToken != "" {
			refreshed, err := conf.TokenSource(ctx, cached).Token()
			if err == nil {
				tok = refreshed
				return tx.WriteJSON(tok)
			}
			y.log.Warnf("youtube: token refresh failed, starting authorization flow: %v", err)
		}

		if y.flow == nil {
			return fmt.Errorf("no valid token at %s and no authorization flow configured", y.cfg.TokenPath)
		}
		fresh, err := y.flow(ctx, conf)
		if err != nil {
			return fmt.Errorf("authorization flow: %w", err)
		}
		if !fresh.Valid() {
			return fmt.Errorf("authorization flow returned an invalid token")
		}
		tok = fresh
		return tx.WriteJSON(tok)
	})
	if err != nil {
		return nil, err
	}
	return tok, nil
}
