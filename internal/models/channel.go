package models

import "time"

// Channel is a registered external content source, collected independently of keywords.
type Channel struct {
	ID          int64     `json:"id,omitempty"`
	ExternalID  string    `json:"external_id"`
	Title       string    `json:"title"`
	UpdatedDate time.Time `json:"updated_date"`
	IsLive      bool      `json:"is_live"`
	LiveVideoID *string   `json:"live_video_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
