package model

import "time"

// MediaItem is a retrieved video on local disk plus the metadata it was published with.
// It is not mutated after retrieval; WithTitle returns a copy.
type MediaItem struct {
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	SourceID    string    `json:"source_id"`
	SourceURL   string    `json:"source_url"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// WithTitle returns a copy of the item carrying a different title.
func (m MediaItem) WithTitle(title string) *MediaItem {
	m.Title = title
	return &m
}
