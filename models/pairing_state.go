package models

import (
	"encoding/json"
	"time"
)

// Ritual steps, in the order a phase walks them. Layout and mission
// steps run once per slot of the phase; CurrentSlot says which.
const (
	StepAwaitRolloff   = "await_rolloff"
	StepAwaitDefenders = "await_defenders"
	StepAwaitAttackers = "await_attackers"
	StepAwaitChoice    = "await_choice"
	StepAwaitLayoutA   = "await_layout_a"
	StepAwaitMissionA  = "await_mission_a"
	StepAwaitLayoutB   = "await_layout_b"
	StepAwaitMissionB  = "await_mission_b"
	StepComplete       = "complete"
)

// PairingState is the durable cursor of one team-pairing ritual. Every
// captain input lands in a nullable column exactly once per phase; the
// coordinator only ever reveals a gate once both sides are populated.
// Crash recovery re-reads this row and resumes at CurrentStep.
type PairingState struct {
	ID            string     `json:"id" gorm:"primaryKey"`
	TeamRoundID   string     `json:"team_round_id" gorm:"not null;uniqueIndex"`
	EventID       string     `json:"event_id" gorm:"not null;index"`
	CurrentPhase  int        `json:"current_phase" gorm:"default:1"`
	CurrentStep   string     `json:"current_step" gorm:"default:'await_rolloff'"`
	CurrentSlot   int        `json:"current_slot" gorm:"default:0"`
	RollA         *int       `json:"roll_a,omitempty"`
	RollB         *int       `json:"roll_b,omitempty"`
	DefenderA     *string    `json:"defender_a,omitempty"`
	DefenderB     *string    `json:"defender_b,omitempty"`
	AttackersA    *string    `json:"attackers_a,omitempty" gorm:"type:text"` // JSON array of player ids
	AttackersB    *string    `json:"attackers_b,omitempty" gorm:"type:text"`
	ChoiceA       *string    `json:"choice_a,omitempty"`
	ChoiceB       *string    `json:"choice_b,omitempty"`
	GateDeadline  *time.Time `json:"gate_deadline,omitempty"`
	CreatedAt     time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// AttackersAList decodes the side-A attacker array; nil if unset.
func (ps *PairingState) AttackersAList() []string {
	return decodeIDList(ps.AttackersA)
}

// AttackersBList decodes the side-B attacker array; nil if unset.
func (ps *PairingState) AttackersBList() []string {
	return decodeIDList(ps.AttackersB)
}

func decodeIDList(raw *string) []string {
	if raw == nil || *raw == "" {
		return nil
	}
	var ids []string
	_ = json.Unmarshal([]byte(*raw), &ids)
	return ids
}

// EncodeIDList serializes a player id list for the attackers columns.
func EncodeIDList(ids []string) string {
	b, _ := json.Marshal(ids)
	return string(b)
}
