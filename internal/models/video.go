package models

import "time"

// Video is a collected video. ExternalID is the sole dedup key.
type Video struct {
	ID          int64      `json:"id,omitempty"`
	ExternalID  string     `json:"video_id"`
	ChannelID   string     `json:"channel_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	PublishedAt time.Time  `json:"published_at"`
	SourceKind  SourceKind `json:"source_kind"`
	SourceRef   string     `json:"source_ref"`
	WatchState  WatchState `json:"watch_state"`
	IsNew       bool       `json:"is_new"`
	CreatedAt   time.Time  `json:"created_at"`
	Tags        []string   `json:"tags,omitempty"` // populated by read queries and by SaveVideos
}
