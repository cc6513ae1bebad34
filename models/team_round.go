package models

import "time"

// TeamRound states.
const (
	TeamRoundPairing  = "pairing"
	TeamRoundPlaying  = "playing"
	TeamRoundComplete = "complete"
)

// Picker sides, relative to the concrete teams of a TeamRound.
const (
	PickerTeamA = "team_a"
	PickerTeamB = "team_b"
)

// TeamRound is one team-vs-team matchup inside a round. TeamBID is empty
// on a walkover bye. LayoutPicker records the roll-off winner.
type TeamRound struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	RoundID      string    `json:"round_id" gorm:"not null;index"`
	EventID      string    `json:"event_id" gorm:"not null;index"`
	TeamAID      string    `json:"team_a_id" gorm:"not null"`
	TeamBID      string    `json:"team_b_id,omitempty"`
	State        string    `json:"state" gorm:"default:'pairing';index"`
	TeamAScore   int       `json:"team_a_score" gorm:"default:0"`
	TeamBScore   int       `json:"team_b_score" gorm:"default:0"`
	TeamAWin     *bool     `json:"team_a_win,omitempty"`
	LayoutPicker string    `json:"layout_picker,omitempty"` // team_a | team_b, set by roll-off
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// IsBye reports whether the matchup is a walkover.
func (tr *TeamRound) IsBye() bool {
	return tr.TeamBID == ""
}

// TeamPairing is one slot of a TeamRound: defender vs attacker, plus the
// player the defender's side refused, and the chosen layout/mission.
type TeamPairing struct {
	ID                string    `json:"id" gorm:"primaryKey"`
	TeamRoundID       string    `json:"team_round_id" gorm:"not null;index;uniqueIndex:idx_tp_round_slot"`
	Slot              int       `json:"slot" gorm:"not null;uniqueIndex:idx_tp_round_slot"`
	GameID            string    `json:"game_id,omitempty" gorm:"index"`
	DefenderPlayer    string    `json:"defender_player"`
	DefenderTeam      string    `json:"defender_team"`
	AttackerPlayer    string    `json:"attacker_player"`
	AttackerTeam      string    `json:"attacker_team"`
	RefusedPlayer     string    `json:"refused_player,omitempty"`
	LayoutNumber      *int      `json:"layout_number,omitempty"`
	MissionCode       string    `json:"mission_code,omitempty"`
	LayoutPickerTeam  string    `json:"layout_picker_team,omitempty"`  // team_a | team_b | "" (pre-assigned)
	MissionPickerTeam string    `json:"mission_picker_team,omitempty"` // team_a | team_b
	CreatedAt         time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
