package models

import (
	"strings"
	"time"
)

// Team states. A team is ready iff its active non-substitute roster is
// exactly the format's team size and every one of those lists is approved.
const (
	TeamForming = "forming"
	TeamReady   = "ready"
	TeamDropped = "dropped"
)

// Team member roles.
const (
	RoleCaptain    = "captain"
	RolePlayer     = "player"
	RoleSubstitute = "substitute"
)

// Team is a roster entered into a team-format event. Name is unique per
// event.
type Team struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	EventID   string    `json:"event_id" gorm:"not null;index;uniqueIndex:idx_team_event_name"`
	Name      string    `json:"name" gorm:"not null;uniqueIndex:idx_team_event_name"`
	CaptainID string    `json:"captain_id" gorm:"not null"`
	State     string    `json:"state" gorm:"default:'forming';index"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TeamMember is one player's seat on a team. A player holds at most one
// active seat per event.
type TeamMember struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	TeamID       string    `json:"team_id" gorm:"not null;index"`
	EventID      string    `json:"event_id" gorm:"not null;index"`
	PlayerID     string    `json:"player_id" gorm:"not null;index"`
	Role         string    `json:"role" gorm:"default:'player'"`
	Army         string    `json:"army"`
	Detachment   string    `json:"detachment"`
	ListText     string    `json:"list_text" gorm:"type:text"`
	ListApproved bool      `json:"list_approved" gorm:"default:false"`
	Active       bool      `json:"active" gorm:"default:true"`
	SortOrder    int       `json:"sort_order" gorm:"column:sort_order;default:0"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TeamStandingID builds the synthetic per-team standings key.
func TeamStandingID(teamID string) string {
	return "team_" + teamID
}

// IsTeamStanding reports whether a standings key is a synthetic team
// row rather than a player id. Literal prefix match: a player id that
// merely starts with "team" does not qualify.
func IsTeamStanding(playerID string) bool {
	return strings.HasPrefix(playerID, "team_")
}
