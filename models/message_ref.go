package models

import "time"

// MessageRef is the persisted backing of the channel/message registry
// cache. The cache is advisory — these rows are the authority, and the
// in-memory map is rebuilt from them at boot.
type MessageRef struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	EventID    string    `json:"event_id" gorm:"not null;index;uniqueIndex:idx_msgref_event_kind"`
	Kind       string    `json:"kind" gorm:"not null;uniqueIndex:idx_msgref_event_kind"`
	ChannelRef string    `json:"channel_ref"`
	MessageRef string    `json:"message_ref"`
	Archived   bool      `json:"archived" gorm:"default:false"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
