package models

import (
	"encoding/json"
	"time"
)

// Event formats. Only singles is accepted at public creation; team formats
// are gated behind deployment config until the team flow is fully rolled out.
const (
	FormatSingles = "singles"
	Format2v2     = "2v2"
	FormatTeams3  = "teams_3"
	FormatTeams5  = "teams_5"
	FormatTeams8  = "teams_8"
)

// Event lifecycle states.
const (
	EventAnnounced    = "announced"
	EventInterest     = "interest"
	EventRegistration = "registration"
	EventInProgress   = "in_progress"
	EventComplete     = "complete"
)

// Scoring modes for team events.
const (
	ScoringNTL = "ntl"
	ScoringWTC = "wtc"
)

// Event is a single tournament. Schedule slots, layouts and missions are
// persisted as ordered JSON lists; readers must tolerate missing columns
// on rows created before those fields existed.
type Event struct {
	ID               string    `json:"id" gorm:"primaryKey"`
	Name             string    `json:"name" gorm:"not null"`
	Format           string    `json:"format" gorm:"not null;default:'singles'"`
	PointsLimit      int       `json:"points_limit"`
	IndividualPoints int       `json:"individual_points"`
	MaxPlayers       int       `json:"max_players" gorm:"not null"`
	RoundCount       int       `json:"round_count" gorm:"not null"`
	RoundsPerDay     int       `json:"rounds_per_day" gorm:"default:3"`
	StartDate        time.Time `json:"start_date" gorm:"not null"`
	EndDate          time.Time `json:"end_date"`
	RulesCutoff      time.Time `json:"rules_cutoff"`
	RegDeadline      time.Time `json:"reg_deadline" gorm:"index"`
	State            string    `json:"state" gorm:"default:'announced';index"`
	CreatedBy        string    `json:"created_by"`
	ScoringMode      string    `json:"scoring_mode" gorm:"default:'ntl'"`
	ScheduleJSON     string    `json:"-" gorm:"type:text"`
	LayoutsJSON      string    `json:"-" gorm:"type:text"`
	MissionsJSON     string    `json:"-" gorm:"type:text"`
	CreatedAt        time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// ScheduleSlot is one block of the fixed event-day timetable.
type ScheduleSlot struct {
	Day      int       `json:"day"`
	Label    string    `json:"label"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Round    int       `json:"round,omitempty"` // 0 for non-round slots
}

// EventLayout is a table layout available at the event, numbered 1..n.
type EventLayout struct {
	Number int    `json:"number"`
	Name   string `json:"name"`
}

// EventMission is a mission in the event pool. ValidLayouts lists the
// layout numbers the mission may be played on; empty means any.
type EventMission struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	ValidLayouts []int  `json:"valid_layouts,omitempty"`
}

func (e *Event) ScheduleSlots() []ScheduleSlot {
	var slots []ScheduleSlot
	if e.ScheduleJSON != "" {
		_ = json.Unmarshal([]byte(e.ScheduleJSON), &slots)
	}
	return slots
}

func (e *Event) SetScheduleSlots(slots []ScheduleSlot) {
	b, _ := json.Marshal(slots)
	e.ScheduleJSON = string(b)
}

func (e *Event) Layouts() []EventLayout {
	var layouts []EventLayout
	if e.LayoutsJSON != "" {
		_ = json.Unmarshal([]byte(e.LayoutsJSON), &layouts)
	}
	return layouts
}

func (e *Event) SetLayouts(layouts []EventLayout) {
	b, _ := json.Marshal(layouts)
	e.LayoutsJSON = string(b)
}

func (e *Event) Missions() []EventMission {
	var missions []EventMission
	if e.MissionsJSON != "" {
		_ = json.Unmarshal([]byte(e.MissionsJSON), &missions)
	}
	return missions
}

func (e *Event) SetMissions(missions []EventMission) {
	b, _ := json.Marshal(missions)
	e.MissionsJSON = string(b)
}

// IsTeamFormat reports whether the event pairs teams rather than players.
func (e *Event) IsTeamFormat() bool {
	return e.Format != FormatSingles
}

// TeamSize returns the number of non-substitute players per team, or 1
// for singles.
func TeamSize(format string) int {
	switch format {
	case Format2v2:
		return 2
	case FormatTeams3:
		return 3
	case FormatTeams5:
		return 5
	case FormatTeams8:
		return 8
	default:
		return 1
	}
}

// RoundCountFor sizes the Swiss by roster: a 32-cap event runs 5 rounds,
// anything smaller runs 3.
func RoundCountFor(maxPlayers int) int {
	if maxPlayers == 32 {
		return 5
	}
	return 3
}
