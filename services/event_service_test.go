package services

import (
	"testing"
	"time"

	"swiss-tourney-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundCountByPlayerCap(t *testing.T) {
	assert.Equal(t, 3, models.RoundCountFor(8))
	assert.Equal(t, 3, models.RoundCountFor(16))
	assert.Equal(t, 5, models.RoundCountFor(32))
}

func TestBuildScheduleThreeRounds(t *testing.T) {
	start := time.Date(2026, 9, 12, 0, 0, 0, 0, eventTZ)
	slots := buildSchedule(start, 3)

	require.Len(t, slots, 7)
	for _, slot := range slots {
		assert.Equal(t, 1, slot.Day)
		assert.True(t, slot.EndsAt.After(slot.StartsAt))
	}

	var rounds []int
	for _, slot := range slots {
		if slot.Round > 0 {
			rounds = append(rounds, slot.Round)
			assert.Equal(t, 3*time.Hour, slot.EndsAt.Sub(slot.StartsAt))
		}
	}
	assert.Equal(t, []int{1, 2, 3}, rounds)

	assert.Equal(t, "Briefing", slots[0].Label)
	assert.Equal(t, 8, slots[0].StartsAt.Hour())
	assert.Equal(t, 30, slots[0].StartsAt.Minute())
	assert.Equal(t, "Results", slots[len(slots)-1].Label)
}

func TestBuildScheduleFiveRoundsSpansTwoDays(t *testing.T) {
	start := time.Date(2026, 9, 12, 0, 0, 0, 0, eventTZ)
	slots := buildSchedule(start, 5)

	require.Len(t, slots, 12)

	var day2Rounds []int
	for _, slot := range slots {
		if slot.Day == 2 && slot.Round > 0 {
			day2Rounds = append(day2Rounds, slot.Round)
			assert.Equal(t, start.Day()+1, slot.StartsAt.Day())
		}
	}
	assert.Equal(t, []int{4, 5}, day2Rounds)
}

func TestAverageVPRoundsToNearest(t *testing.T) {
	vp := func(n int) *int { return &n }
	games := []models.Game{
		{P1VP: vp(70), P2VP: vp(55)},
		{P1VP: vp(80), P2VP: vp(45)},
		{P1VP: vp(62), P2VP: vp(66)},
	}
	assert.Equal(t, 63, averageVP(games))

	// Nothing finished yet: the bye scores zero.
	assert.Equal(t, 0, averageVP(nil))

	// Half-way values round up.
	games = []models.Game{{P1VP: vp(61), P2VP: vp(62)}}
	assert.Equal(t, 62, averageVP(games))
}
