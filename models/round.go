package models

import "time"

// Round states.
const (
	RoundPending    = "pending"
	RoundInProgress = "in_progress"
	RoundComplete   = "complete"
)

// Round is one Swiss round of an event. (EventID, RoundNumber) is unique.
type Round struct {
	ID             string     `json:"id" gorm:"primaryKey"`
	EventID        string     `json:"event_id" gorm:"not null;index;uniqueIndex:idx_round_event_number"`
	RoundNumber    int        `json:"round_number" gorm:"not null;uniqueIndex:idx_round_event_number"`
	DayNumber      int        `json:"day_number" gorm:"default:1"`
	State          string     `json:"state" gorm:"default:'pending';index"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	DeadlineAt     *time.Time `json:"deadline_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	PairingsMsgRef string     `json:"pairings_msg_ref,omitempty"`
	CreatedAt      time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}
