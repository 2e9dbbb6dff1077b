package models

import "time"

// Keyword is a search term submitted to the external video API.
// UpdatedDate is the calendar date of the last completed collection pass.
type Keyword struct {
	ID          int64         `json:"id,omitempty"`
	Text        string        `json:"keyword"`
	Source      KeywordSource `json:"source"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedDate time.Time     `json:"updated_date"`
	DeletedAt   *time.Time    `json:"deleted_at,omitempty"`
}
