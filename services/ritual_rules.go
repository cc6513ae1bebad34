package services

import "swiss-tourney-system/models"

// The pairing ritual tables. Everything here is pure: the coordinator
// in ritual_service.go feeds it state and persists what comes back.

// PhaseCount returns how many defender/attacker/choice phases the
// format runs. Each phase yields two slots; closers fill the rest.
func PhaseCount(format string) int {
	switch format {
	case models.FormatTeams3:
		return 1
	case models.FormatTeams5:
		return 2
	case models.FormatTeams8:
		return 3
	default:
		return 0
	}
}

// SlotCount is the total number of pairings a matchup produces.
func SlotCount(format string) int {
	return models.TeamSize(format)
}

// Picker sides relative to the roll-off.
const (
	PickWinner = "winner"
	PickLoser  = "loser"
	PickNone   = "" // pre-assigned, nobody picks
)

// SlotPickers names who picks layout and mission for a slot, relative
// to the roll-off winner.
type SlotPickers struct {
	Layout  string
	Mission string
}

// PickersFor encodes the per-format pick tables.
//
//	teams_3: slot 1 -> (winner, loser); slots 2,3 -> (loser, winner)
//	teams_5: odd slots -> (winner, loser); even -> (loser, winner)
//	teams_8: winner lays out {1,4,5}, loser {2,3,6,7}; mission goes to
//	         the other side. Slot 8 is the scrum: layout pre-assigned,
//	         the roll-off loser picks mission only.
func PickersFor(format string, slot int) SlotPickers {
	switch format {
	case models.FormatTeams3:
		if slot == 1 {
			return SlotPickers{Layout: PickWinner, Mission: PickLoser}
		}
		return SlotPickers{Layout: PickLoser, Mission: PickWinner}
	case models.FormatTeams5:
		if slot%2 == 1 {
			return SlotPickers{Layout: PickWinner, Mission: PickLoser}
		}
		return SlotPickers{Layout: PickLoser, Mission: PickWinner}
	case models.FormatTeams8:
		if slot == 8 {
			return SlotPickers{Layout: PickNone, Mission: PickLoser}
		}
		switch slot {
		case 1, 4, 5:
			return SlotPickers{Layout: PickWinner, Mission: PickLoser}
		default:
			return SlotPickers{Layout: PickLoser, Mission: PickWinner}
		}
	}
	return SlotPickers{}
}

// PickerTeam resolves a relative picker to a concrete side given the
// roll-off winner ("team_a" or "team_b").
func PickerTeam(relative, winner string) string {
	switch relative {
	case PickWinner:
		return winner
	case PickLoser:
		if winner == models.PickerTeamA {
			return models.PickerTeamB
		}
		return models.PickerTeamA
	}
	return ""
}

// ResolveRolloff returns the winning side, or "" on a tie (reroll).
func ResolveRolloff(rollA, rollB int) string {
	switch {
	case rollA > rollB:
		return models.PickerTeamA
	case rollB > rollA:
		return models.PickerTeamB
	}
	return ""
}

// Eligible filters a roster down to players not yet placed in a slot.
// Refused players stay eligible: only defenders and chosen attackers
// are consumed by a phase.
func Eligible(roster []string, used map[string]bool) []string {
	var out []string
	for _, id := range roster {
		if !used[id] {
			out = append(out, id)
		}
	}
	return out
}

// AttackerCount is how many attackers a side offers once its defender
// is placed.
func AttackerCount(eligibleAfterDefender int) int {
	if eligibleAfterDefender < 2 {
		return eligibleAfterDefender
	}
	return 2
}

// SlotAssignment is one derived pairing.
type SlotAssignment struct {
	Slot           int
	DefenderPlayer string
	DefenderTeam   string
	AttackerPlayer string
	AttackerTeam   string
	RefusedPlayer  string
}

// DeriveChoiceSlots turns a completed choice gate into the phase's two
// slots. Side A's defender faces the attacker A chose out of B's pair;
// whoever A passed over is recorded as refused. Mirrored for B.
func DeriveChoiceSlots(phase int, teamA, teamB, defA, defB string, attA, attB []string, choiceA, choiceB string) [2]SlotAssignment {
	base := 2 * (phase - 1)
	return [2]SlotAssignment{
		{
			Slot:           base + 1,
			DefenderPlayer: defA,
			DefenderTeam:   teamA,
			AttackerPlayer: choiceA,
			AttackerTeam:   teamB,
			RefusedPlayer:  firstOther(attB, choiceA),
		},
		{
			Slot:           base + 2,
			DefenderPlayer: defB,
			DefenderTeam:   teamB,
			AttackerPlayer: choiceB,
			AttackerTeam:   teamA,
			RefusedPlayer:  firstOther(attA, choiceB),
		},
	}
}

func firstOther(list []string, chosen string) string {
	for _, id := range list {
		if id != chosen {
			return id
		}
	}
	return ""
}

// Contains reports membership in a player id list.
func Contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

// LayoutOptions removes layouts already used in the same matchup. If
// filtering empties the list, the full event list comes back — a small
// event can have fewer layouts than slots.
func LayoutOptions(all []models.EventLayout, usedNumbers []int) []models.EventLayout {
	used := make(map[int]bool, len(usedNumbers))
	for _, n := range usedNumbers {
		used[n] = true
	}
	var out []models.EventLayout
	for _, l := range all {
		if !used[l.Number] {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return all
	}
	return out
}

// MissionOptions filters the event missions to those valid on the
// chosen layout. Fallbacks: the full event list, then the global
// catalog.
func MissionOptions(eventMissions []models.EventMission, layout int) []models.EventMission {
	var out []models.EventMission
	for _, m := range eventMissions {
		if len(m.ValidLayouts) == 0 {
			out = append(out, m)
			continue
		}
		for _, n := range m.ValidLayouts {
			if n == layout {
				out = append(out, m)
				break
			}
		}
	}
	if len(out) > 0 {
		return out
	}
	if len(eventMissions) > 0 {
		return eventMissions
	}
	return DefaultMissionCatalog
}

// ScrumLayout is the 8s table-8 pre-assignment: the last layout in the
// event's published set, regardless of what the earlier tables picked.
func ScrumLayout(layouts []models.EventLayout) (int, bool) {
	if len(layouts) == 0 {
		return 0, false
	}
	return layouts[len(layouts)-1].Number, true
}

// DefaultMissionCatalog is the last-resort mission pool when an event
// was created without one.
var DefaultMissionCatalog = []models.EventMission{
	{Code: "take_and_hold", Name: "Take and Hold"},
	{Code: "purge_the_foe", Name: "Purge the Foe"},
	{Code: "scorched_earth", Name: "Scorched Earth"},
	{Code: "the_ritual", Name: "The Ritual"},
	{Code: "supply_drop", Name: "Supply Drop"},
	{Code: "terraform", Name: "Terraform"},
	{Code: "linchpin", Name: "Linchpin"},
	{Code: "burden_of_trust", Name: "Burden of Trust"},
}
