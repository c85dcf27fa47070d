// Package domain holds the AdTopia records moved around by bulk operations.
package domain

import "time"

// AdCard is a promotional card as stored in the ad_cards table.
type AdCard struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Keywords    []string  `json:"keywords,omitempty"`
	Language    string    `json:"language,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
}

// GalleryImage is a row of the gallery_images table.
type GalleryImage struct {
	ID                 string    `json:"id"`
	URL                string    `json:"url"`
	Title              *string   `json:"title"`
	Description        *string   `json:"description"`
	GalleryContainerID *string   `json:"gallery_container_id"`
	Visible            *bool     `json:"visible"`
	Position           *int      `json:"position"`
	CreatedAt          time.Time `json:"created_at"`
}

// DisplayTitle returns the image title or "".
func (g GalleryImage) DisplayTitle() string {
	if g.Title == nil {
		return ""
	}
	return *g.Title
}

// ActivityEntry is a row of the admin_activity_log table.
type ActivityEntry struct {
	UserID    string         `json:"user_id"`
	Action    string         `json:"action"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitzero"`
}
