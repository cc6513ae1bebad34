package models

import "time"

// AuditLog is the append-only trail of score corrections and TO fiat.
// Rows are batch-flushed to the audit audience by a background worker;
// FlushedAt stays null until then.
type AuditLog struct {
	ID        string     `json:"id" gorm:"primaryKey"`
	EventID   string     `json:"event_id" gorm:"index"`
	GameID    string     `json:"game_id,omitempty" gorm:"index"`
	ActorID   string     `json:"actor_id"`
	Action    string     `json:"action"` // adjust, override, dispute, ...
	Detail    string     `json:"detail" gorm:"type:text"`
	FlushedAt *time.Time `json:"flushed_at,omitempty" gorm:"index"`
	CreatedAt time.Time  `json:"created_at" gorm:"autoCreateTime"`
}
