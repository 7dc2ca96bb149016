package internal

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	TelegramToken     string
	TelegramChannelID int64

	EnableYouTube        bool
	EnableTikTok         bool
	EnableInstagram      bool
	EnableInstagramGraph bool
	EnableX              bool

	YouTubeClientSecretsPath string
	YouTubeTokenPath         string
	YouTubePrivacyStatus     string // public, unlisted, private
	YouTubeTitlePrefix       string
	YouTubeDescriptionSuffix string
	YouTubeCategoryID        string
	YouTubeMadeForKids       bool
	YouTubeOAuthFlow         string // local_server or console

	TikTokAccessToken    string
	TikTokPrivacyLevel   string
	TikTokDisableComment bool
	TikTokDisableDuet    bool
	TikTokDisableStitch  bool

	InstagramUsername      string
	InstagramPassword      string
	InstagramSessionID     string // raw sessionid value or a full cookie string
	InstagramSessionPath   string
	InstagramCaptionSuffix string

	InstagramGraphUserID      string
	InstagramGraphAccessToken string
	MediaPublicBaseURL        string // if set, hosted media is served from here instead of presigned URLs

	XConsumerKey       string
	XConsumerSecret    string
	XAccessToken       string
	XAccessTokenSecret string

	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3MediaPrefix  string
	S3TokensPrefix string

	CredentialsStore string // file or s3

	DownloadDir           string
	DownloadMaxAge        time.Duration // stale downloads older than this are swept hourly
	AllowDuplicateUploads bool
	PublishMode           string // parallel or sequential
	RequestTimeout        time.Duration

	AITitles     bool
	GeminiAPIKey string
}

func LoadConfig() (Config, error) {
	cfg := Config{
		TelegramToken: strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),

		EnableYouTube:        getBool("ENABLE_YOUTUBE_UPLOAD", true),
		EnableTikTok:         getBool("ENABLE_TIKTOK_UPLOAD", false),
		EnableInstagram:      getBool("ENABLE_INSTAGRAM_UPLOAD", false),
		EnableInstagramGraph: getBool("ENABLE_INSTAGRAM_GRAPH_UPLOAD", false),
		EnableX:              getBool("ENABLE_X_UPLOAD", false),

		YouTubeClientSecretsPath: getEnv("YOUTUBE_CLIENT_SECRETS_PATH", "credentials.json"),
		YouTubeTokenPath:         getEnv("YOUTUBE_TOKEN_PATH", "token.json"),
		YouTubePrivacyStatus:     getEnv("YOUTUBE_PRIVACY_STATUS", "public"),
		YouTubeTitlePrefix:       os.Getenv("YOUTUBE_TITLE_PREFIX"),
		YouTubeDescriptionSuffix: getEnv("YOUTUBE_DESCRIPTION_SUFFIX", "#shorts"),
		YouTubeCategoryID:        getEnv("YOUTUBE_CATEGORY_ID", "22"),
		YouTubeMadeForKids:       getBool("YOUTUBE_MADE_FOR_KIDS", false),
		YouTubeOAuthFlow:         getEnv("YOUTUBE_OAUTH_FLOW", "local_server"),

		TikTokAccessToken:    strings.TrimSpace(os.Getenv("TIKTOK_ACCESS_TOKEN")),
		TikTokPrivacyLevel:   getEnv("TIKTOK_PRIVACY_LEVEL", "PUBLIC_TO_EVERYONE"),
		TikTokDisableComment: getBool("TIKTOK_DISABLE_COMMENT", false),
		TikTokDisableDuet:    getBool("TIKTOK_DISABLE_DUET", false),
		TikTokDisableStitch:  getBool("TIKTOK_DISABLE_STITCH", false),

		InstagramUsername:      strings.TrimSpace(os.Getenv("INSTAGRAM_USERNAME")),
		InstagramPassword:      strings.TrimSpace(os.Getenv("INSTAGRAM_PASSWORD")),
		InstagramSessionID:     strings.TrimSpace(os.Getenv("INSTAGRAM_SESSIONID")),
		InstagramSessionPath:   getEnv("INSTAGRAM_SESSION_PATH", "instagram_session.json"),
		InstagramCaptionSuffix: getEnv("INSTAGRAM_CAPTION_SUFFIX", "#reels"),

		InstagramGraphUserID:      strings.TrimSpace(os.Getenv("INSTAGRAM_GRAPH_USER_ID")),
		InstagramGraphAccessToken: strings.TrimSpace(os.Getenv("INSTAGRAM_GRAPH_ACCESS_TOKEN")),
		MediaPublicBaseURL:        strings.TrimRight(os.Getenv("MEDIA_PUBLIC_BASE_URL"), "/"),

		XConsumerKey:       os.Getenv("X_CONSUMER_KEY"),
		XConsumerSecret:    os.Getenv("X_CONSUMER_SECRET"),
		XAccessToken:       os.Getenv("X_ACCESS_TOKEN"),
		XAccessTokenSecret: os.Getenv("X_ACCESS_TOKEN_SECRET"),

		S3Endpoint:     os.Getenv("S3_ENDPOINT"),
		S3Region:       os.Getenv("S3_REGION"),
		S3Bucket:       os.Getenv("S3_BUCKET"),
		S3AccessKey:    firstNonEmpty(os.Getenv("S3_ACCESS_KEY"), os.Getenv("S3_ACCESS_KEY_ID")),
		S3SecretKey:    firstNonEmpty(os.Getenv("S3_SECRET_ACCESS_KEY"), os.Getenv("S3_SECRET_ACCESS_KEY_ID")),
		S3MediaPrefix:  getEnv("S3_MEDIA_PREFIX", "media/"),
		S3TokensPrefix: getEnv("S3_TOKENS_PREFIX", "tokens/"),

		CredentialsStore: strings.ToLower(getEnv("CREDENTIALS_STORE", "file")),

		DownloadDir:           getEnv("DOWNLOAD_DIR", "downloads"),
		DownloadMaxAge:        6 * time.Hour,
		AllowDuplicateUploads: getBool("ALLOW_DUPLICATE_UPLOADS", false),
		PublishMode:           strings.ToLower(getEnv("PUBLISH_MODE", "parallel")),
		RequestTimeout:        30 * time.Minute,

		AITitles:     getBool("AI_TITLES", false),
		GeminiAPIKey: firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY")),
	}

	channelRaw := strings.TrimSpace(os.Getenv("TELEGRAM_CHANNEL_ID"))
	if cfg.TelegramToken == "" || channelRaw == "" {
		return cfg, errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHANNEL_ID are required")
	}
	id, err := strconv.ParseInt(channelRaw, 10, 64)
	if err != nil {
		return cfg, fmt.Errorf("TELEGRAM_CHANNEL_ID: %w", err)
	}
	cfg.TelegramChannelID = id

	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return cfg, fmt.Errorf("REQUEST_TIMEOUT: invalid duration %q", v)
		}
		cfg.RequestTimeout = d
	}

	// DOWNLOAD_MAX_AGE, e.g. "6h", "90m"
	if v := os.Getenv("DOWNLOAD_MAX_AGE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return cfg, fmt.Errorf("DOWNLOAD_MAX_AGE: invalid duration %q", v)
		}
		cfg.DownloadMaxAge = d
	}
	// the sweep must never see a file that a live request may still be uploading
	if cfg.DownloadMaxAge < cfg.RequestTimeout {
		return cfg, fmt.Errorf("DOWNLOAD_MAX_AGE (%s) must be at least REQUEST_TIMEOUT (%s)", cfg.DownloadMaxAge, cfg.RequestTimeout)
	}

	switch cfg.PublishMode {
	case "parallel", "sequential":
	default:
		return cfg, fmt.Errorf("PUBLISH_MODE must be parallel or sequential, got %q", cfg.PublishMode)
	}
	switch cfg.CredentialsStore {
	case "file":
	case "s3":
		if !cfg.S3Configured() {
			return cfg, errors.New("CREDENTIALS_STORE=s3 requires S3_* env vars")
		}
	default:
		return cfg, fmt.Errorf("CREDENTIALS_STORE must be file or s3, got %q", cfg.CredentialsStore)
	}
	return cfg, nil
}

// S3Configured reports whether every S3 setting needed to build a client is present.
func (c Config) S3Configured() bool {
	return c.S3Endpoint != "" && c.S3Region != "" && c.S3Bucket != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func getBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y":
		return true
	default:
		return false
	}
}

func firstNonEmpty(v ...string) string {
	for _, s := range v {
		if s != "" {
			return s
		}
	}
	return ""
}
