package models

import "time"

// Registration states. "Chop" maps to pending, "Reserve" to interested,
// "Confirmed" to approved — the waitlist tiers TOs speak in.
const (
	RegInterested = "interested"
	RegPending    = "pending"
	RegApproved   = "approved"
	RegRejected   = "rejected"
	RegDropped    = "dropped"
)

// Registration is one player's entry on one event. (EventID, PlayerID)
// is unique; state transitions are CAS-guarded on the prior state.
type Registration struct {
	ID              string     `json:"id" gorm:"primaryKey"`
	EventID         string     `json:"event_id" gorm:"not null;index;uniqueIndex:idx_reg_event_player"`
	PlayerID        string     `json:"player_id" gorm:"not null;index;uniqueIndex:idx_reg_event_player"`
	Username        string     `json:"username"`
	Army            string     `json:"army"`
	Detachment      string     `json:"detachment"`
	ListText        string     `json:"list_text" gorm:"type:text"`
	State           string     `json:"state" gorm:"default:'interested';index"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	DroppedAt       *time.Time `json:"dropped_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	ReviewToken     string     `json:"review_token,omitempty"`
	CreatedAt       time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}
