package models

import (
	"strings"
	"time"
)

// Standing is one player's accumulated record in one event. Rows are
// created on approval and never deleted; withdrawal flips Active off and
// keeps the results. Team standings are synthetic rows with
// PlayerID = "team_<id>" and the team counters populated.
type Standing struct {
	ID        string `json:"id" gorm:"primaryKey"`
	EventID   string `json:"event_id" gorm:"not null;index;uniqueIndex:idx_standing_event_player"`
	PlayerID  string `json:"player_id" gorm:"not null;uniqueIndex:idx_standing_event_player"`
	Username  string `json:"username"`
	TeamID    string `json:"team_id,omitempty" gorm:"index"`
	Wins      int    `json:"wins" gorm:"default:0"`
	Losses    int    `json:"losses" gorm:"default:0"`
	Draws     int    `json:"draws" gorm:"default:0"`
	VPTotal   int    `json:"vp_total" gorm:"default:0"`
	VPAgainst int    `json:"vp_against" gorm:"default:0"`
	VPDiff    int    `json:"vp_diff" gorm:"default:0"`
	WTCGp     int    `json:"wtc_gp" gorm:"column:wtc_gp;default:0"`
	HadBye    bool   `json:"had_bye" gorm:"default:false"`
	Active    bool   `json:"active" gorm:"default:true"`

	// Team-only counters (zero on player rows).
	TeamWins   int `json:"team_wins,omitempty" gorm:"default:0"`
	TeamLosses int `json:"team_losses,omitempty" gorm:"default:0"`
	TeamDraws  int `json:"team_draws,omitempty" gorm:"default:0"`
	TeamPoints int `json:"team_points,omitempty" gorm:"default:0"`
	GamePoints int `json:"game_points,omitempty" gorm:"default:0"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// IsTeamRow reports whether the standing is a synthetic team aggregate.
func (s *Standing) IsTeamRow() bool {
	return strings.HasPrefix(s.PlayerID, "team_")
}
