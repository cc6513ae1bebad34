package services

import (
	"testing"

	"swiss-tourney-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseAndSlotCounts(t *testing.T) {
	assert.Equal(t, 1, PhaseCount(models.FormatTeams3))
	assert.Equal(t, 2, PhaseCount(models.FormatTeams5))
	assert.Equal(t, 3, PhaseCount(models.FormatTeams8))
	assert.Equal(t, 0, PhaseCount(models.Format2v2))

	assert.Equal(t, 3, SlotCount(models.FormatTeams3))
	assert.Equal(t, 5, SlotCount(models.FormatTeams5))
	assert.Equal(t, 8, SlotCount(models.FormatTeams8))
}

func TestPickersForTeams3(t *testing.T) {
	assert.Equal(t, SlotPickers{Layout: PickWinner, Mission: PickLoser}, PickersFor(models.FormatTeams3, 1))
	assert.Equal(t, SlotPickers{Layout: PickLoser, Mission: PickWinner}, PickersFor(models.FormatTeams3, 2))
	assert.Equal(t, SlotPickers{Layout: PickLoser, Mission: PickWinner}, PickersFor(models.FormatTeams3, 3))
}

func TestPickersForTeams5Alternates(t *testing.T) {
	for slot := 1; slot <= 5; slot++ {
		got := PickersFor(models.FormatTeams5, slot)
		if slot%2 == 1 {
			assert.Equalf(t, PickWinner, got.Layout, "slot %d", slot)
		} else {
			assert.Equalf(t, PickLoser, got.Layout, "slot %d", slot)
		}
		assert.NotEqual(t, got.Layout, got.Mission)
	}
}

func TestPickersForTeams8(t *testing.T) {
	winnerLayouts := map[int]bool{1: true, 4: true, 5: true}
	for slot := 1; slot <= 7; slot++ {
		got := PickersFor(models.FormatTeams8, slot)
		if winnerLayouts[slot] {
			assert.Equalf(t, PickWinner, got.Layout, "slot %d", slot)
			assert.Equal(t, PickLoser, got.Mission)
		} else {
			assert.Equalf(t, PickLoser, got.Layout, "slot %d", slot)
			assert.Equal(t, PickWinner, got.Mission)
		}
	}
	// The scrum: nobody lays out, the roll-off loser picks the mission.
	scrum := PickersFor(models.FormatTeams8, 8)
	assert.Equal(t, PickNone, scrum.Layout)
	assert.Equal(t, PickLoser, scrum.Mission)
}

func TestPickerTeam(t *testing.T) {
	assert.Equal(t, models.PickerTeamA, PickerTeam(PickWinner, models.PickerTeamA))
	assert.Equal(t, models.PickerTeamB, PickerTeam(PickLoser, models.PickerTeamA))
	assert.Equal(t, models.PickerTeamA, PickerTeam(PickLoser, models.PickerTeamB))
	assert.Equal(t, "", PickerTeam(PickNone, models.PickerTeamA))
}

func TestResolveRolloff(t *testing.T) {
	assert.Equal(t, models.PickerTeamA, ResolveRolloff(5, 2))
	assert.Equal(t, models.PickerTeamB, ResolveRolloff(1, 6))
	assert.Equal(t, "", ResolveRolloff(4, 4))
}

func TestEligibleKeepsRefusedPlayers(t *testing.T) {
	roster := []string{"a1", "a2", "a3", "a4", "a5"}
	used := map[string]bool{"a1": true, "a3": true}
	assert.Equal(t, []string{"a2", "a4", "a5"}, Eligible(roster, used))
}

func TestAttackerCount(t *testing.T) {
	assert.Equal(t, 2, AttackerCount(4))
	assert.Equal(t, 2, AttackerCount(2))
	assert.Equal(t, 1, AttackerCount(1))
	assert.Equal(t, 0, AttackerCount(0))
}

func TestDeriveChoiceSlotsFiveASide(t *testing.T) {
	// Phase 1 of a 5s matchup: a1 and b1 defend, each side offers two
	// attackers, each captain picks one of the pair offered to them.
	slots := DeriveChoiceSlots(
		1, "teamA", "teamB",
		"a1", "b1",
		[]string{"a2", "a3"}, []string{"b2", "b3"},
		"b2", "a3",
	)

	require.Equal(t, 1, slots[0].Slot)
	assert.Equal(t, "a1", slots[0].DefenderPlayer)
	assert.Equal(t, "teamA", slots[0].DefenderTeam)
	assert.Equal(t, "b2", slots[0].AttackerPlayer)
	assert.Equal(t, "teamB", slots[0].AttackerTeam)
	assert.Equal(t, "b3", slots[0].RefusedPlayer)

	require.Equal(t, 2, slots[1].Slot)
	assert.Equal(t, "b1", slots[1].DefenderPlayer)
	assert.Equal(t, "a3", slots[1].AttackerPlayer)
	assert.Equal(t, "a2", slots[1].RefusedPlayer)

	// The refused players go back in the pool; only the seated four are
	// consumed heading into phase 2.
	used := map[string]bool{"a1": true, "a3": true, "b1": true, "b2": true}
	assert.Equal(t, []string{"a2", "a4", "a5"}, Eligible([]string{"a1", "a2", "a3", "a4", "a5"}, used))
	assert.Equal(t, []string{"b3", "b4", "b5"}, Eligible([]string{"b1", "b2", "b3", "b4", "b5"}, used))
}

func TestDeriveChoiceSlotsPhaseOffsets(t *testing.T) {
	slots := DeriveChoiceSlots(3, "A", "B", "a5", "b5",
		[]string{"a6", "a7"}, []string{"b6", "b7"}, "b7", "a6")
	assert.Equal(t, 5, slots[0].Slot)
	assert.Equal(t, 6, slots[1].Slot)
	assert.Equal(t, "b6", slots[0].RefusedPlayer)
	assert.Equal(t, "a7", slots[1].RefusedPlayer)
}

func TestPartnerSlot(t *testing.T) {
	assert.Equal(t, 2, partnerSlot(models.FormatTeams5, 1))
	assert.Equal(t, 4, partnerSlot(models.FormatTeams5, 3))
	assert.Equal(t, 0, partnerSlot(models.FormatTeams5, 5))
	assert.Equal(t, 0, partnerSlot(models.FormatTeams3, 3))
	assert.Equal(t, 8, partnerSlot(models.FormatTeams8, 7))
	assert.Equal(t, 0, partnerSlot(models.FormatTeams8, 2))
}

func TestLayoutOptionsFiltersUsed(t *testing.T) {
	all := []models.EventLayout{{Number: 1}, {Number: 2}, {Number: 3}}
	got := LayoutOptions(all, []int{2})
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Number)
	assert.Equal(t, 3, got[1].Number)

	// A small event can run out of fresh layouts; the full list comes back.
	assert.Equal(t, all, LayoutOptions(all, []int{1, 2, 3}))
}

func TestScrumLayoutIsLastPublishedLayout(t *testing.T) {
	// Table 8 always gets the event's final layout, even when an earlier
	// table already picked it.
	layout, ok := ScrumLayout(DefaultLayouts)
	require.True(t, ok)
	assert.Equal(t, 8, layout)

	layout, ok = ScrumLayout([]models.EventLayout{{Number: 2}, {Number: 5}})
	require.True(t, ok)
	assert.Equal(t, 5, layout)

	_, ok = ScrumLayout(nil)
	assert.False(t, ok)
}

func TestMissionOptions(t *testing.T) {
	missions := []models.EventMission{
		{Code: "anywhere"},
		{Code: "only_2", ValidLayouts: []int{2}},
	}
	got := MissionOptions(missions, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "anywhere", got[0].Code)

	got = MissionOptions(missions, 2)
	assert.Len(t, got, 2)

	// No event pool at all: the house catalog is the fallback.
	assert.Equal(t, DefaultMissionCatalog, MissionOptions(nil, 1))
}
