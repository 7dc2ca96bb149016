package uploaders

import (
	"context"
	"os"

	"shorts-relay/internal"
	"shorts-relay/internal/credstore"
	"shorts-relay/internal/logging"
	"shorts-relay/internal/model"
)

// misconfigured stands in for an enabled platform whose credentials are missing so
// the report still names it.
type misconfigured struct {
	platform string
	reason   string
}

func (m misconfigured) Platform() string { return m.platform }

func (m misconfigured) Upload(ctx context.Context, item *model.MediaItem) (*UploadResult, error) {
	return failed(m.platform, model.Errorf(model.ErrConfiguration, "", "%s", m.reason))
}

// BuildManager registers the enabled platforms in a fixed order: YouTube, TikTok,
// Instagram, Instagram Graph, X. host may be nil when no public media host exists.
func BuildManager(cfg internal.Config, store *credstore.Store, host URLProvider, log *logging.Logger) *Manager {
	m := NewManager(log, cfg.PublishMode == "sequential")

	if cfg.EnableYouTube {
		m.AddUploader(NewYouTubeUploader(YouTubeConfig{
			ClientSecretsPath: cfg.YouTubeClientSecretsPath,
			TokenPath:         cfg.YouTubeTokenPath,
			PrivacyStatus:     cfg.YouTubePrivacyStatus,
			TitlePrefix:       cfg.YouTubeTitlePrefix,
			DescriptionSuffix: cfg.YouTubeDescriptionSuffix,
			CategoryID:        cfg.YouTubeCategoryID,
			MadeForKids:       cfg.YouTubeMadeForKids,
		}, store, FlowByName(cfg.YouTubeOAuthFlow, os.Stdin, os.Stdout), log))
	}

	if cfg.EnableTikTok {
		if cfg.TikTokAccessToken == "" {
			m.AddUploader(misconfigured{PlatformTikTok, "missing TIKTOK_ACCESS_TOKEN"})
		} else {
			m.AddUploader(NewTikTokUploader(TikTokConfig{
				AccessToken:    cfg.TikTokAccessToken,
				PrivacyLevel:   cfg.TikTokPrivacyLevel,
				DisableComment: cfg.TikTokDisableComment,
				DisableDuet:    cfg.TikTokDisableDuet,
				DisableStitch:  cfg.TikTokDisableStitch,
				TitlePrefix:    cfg.YouTubeTitlePrefix,
			}, log))
		}
	}

	if cfg.EnableInstagram {
		m.AddUploader(NewInstagramUploader(InstagramConfig{
			Username:      cfg.InstagramUsername,
			Password:      cfg.InstagramPassword,
			SessionID:     cfg.InstagramSessionID,
			SessionPath:   cfg.InstagramSessionPath,
			CaptionSuffix: cfg.InstagramCaptionSuffix,
		}, store, log))
	}

	if cfg.EnableInstagramGraph {
		switch {
		case cfg.InstagramGraphUserID == "" || cfg.InstagramGraphAccessToken == "":
			m.AddUploader(misconfigured{PlatformInstagramGraph, "missing INSTAGRAM_GRAPH_USER_ID or INSTAGRAM_GRAPH_ACCESS_TOKEN"})
		case host == nil:
			m.AddUploader(misconfigured{PlatformInstagramGraph, "missing S3_* settings to host the video at a public URL"})
		default:
			m.AddUploader(NewInstagramGraphUploader(InstagramGraphConfig{
				UserID:        cfg.InstagramGraphUserID,
				AccessToken:   cfg.InstagramGraphAccessToken,
				CaptionSuffix: cfg.InstagramCaptionSuffix,
			}, host, log))
		}
	}

	if cfg.EnableX {
		if cfg.XConsumerKey == "" || cfg.XConsumerSecret == "" || cfg.XAccessToken == "" || cfg.XAccessTokenSecret == "" {
			m.AddUploader(misconfigured{PlatformX, "missing X_CONSUMER_KEY, X_CONSUMER_SECRET, X_ACCESS_TOKEN or X_ACCESS_TOKEN_SECRET"})
		} else {
			m.AddUploader(NewXUploader(XConfig{
				ConsumerKey:       cfg.XConsumerKey,
				ConsumerSecret:    cfg.XConsumerSecret,
				AccessToken:       cfg.XAccessToken,
				AccessTokenSecret: cfg.XAccessTokenSecret,
			}, log))
		}
	}

	return m
}
