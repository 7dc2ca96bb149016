package uploaders

import (
	"strings"

	"shorts-relay/internal/model"
)

const (
	youtubeTitleLimit     = 100
	youtubeDescLimit      = 5000
	tiktokTitleLimit      = 2200
	instagramCaptionLimit = 2200
	xTextLimit            = 280
)

const defaultTitle = "YouTube Short"

func buildTitle(item *model.MediaItem, prefix string) string {
	base := strings.TrimSpace(item.Title)
	if base == "" {
		base = defaultTitle
	}
	if prefix = strings.TrimSpace(prefix); prefix != "" {
		return prefix + " " + base
	}
	return base
}

func buildDescription(item *model.MediaItem, suffix string) string {
	return joinParagraphs(item.Description, suffix)
}

// buildCaption falls back to the title when the description is empty.
func buildCaption(item *model.MediaItem, suffix string) string {
	base := strings.TrimSpace(item.Description)
	if base == "" {
		base = item.Title
	}
	return joinParagraphs(base, suffix)
}

func joinParagraphs(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

// truncateRunes cuts s to at most n characters without splitting a UTF-8 sequence.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
