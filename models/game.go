package models

import "time"

// Game states. Bye games are created in "bye" and flip to "complete" at
// round close, once the round-average VP is known.
const (
	GamePending   = "pending"
	GameSubmitted = "submitted"
	GameComplete  = "complete"
	GameDisputed  = "disputed"
	GameBye       = "bye"
)

// Game is a single table of play between two players (or one player and
// a bye). VPs are nullable until a result is submitted; if state is
// complete then both VPs and the winner are set, with equal VPs treated
// as a draw by the standings aggregator.
type Game struct {
	ID            string     `json:"id" gorm:"primaryKey"`
	RoundID       string     `json:"round_id" gorm:"not null;index"`
	EventID       string     `json:"event_id" gorm:"not null;index"`
	TeamPairingID string     `json:"team_pairing_id,omitempty" gorm:"index"`
	RoomNumber    *int       `json:"room_number,omitempty"`
	P1ID          string     `json:"p1" gorm:"column:p1_id;not null"`
	P2ID          string     `json:"p2,omitempty" gorm:"column:p2_id"` // empty on byes
	IsBye         bool       `json:"is_bye" gorm:"default:false"`
	P1VP          *int       `json:"p1_vp,omitempty"`
	P2VP          *int       `json:"p2_vp,omitempty"`
	WinnerID      string     `json:"winner_id,omitempty"`
	State         string     `json:"state" gorm:"default:'pending';index"`
	SubmittedBy   string     `json:"submitted_by,omitempty"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
	AdjNote       string     `json:"adj_note,omitempty"`
	CreatedAt     time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// Opponent returns the other player of the game, or "" for byes and
// non-participants.
func (g *Game) Opponent(playerID string) string {
	switch playerID {
	case g.P1ID:
		return g.P2ID
	case g.P2ID:
		return g.P1ID
	}
	return ""
}

// HasPlayer reports whether playerID is one of the two seats.
func (g *Game) HasPlayer(playerID string) bool {
	return playerID == g.P1ID || (g.P2ID != "" && playerID == g.P2ID)
}
