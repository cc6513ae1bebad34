package services

import (
	"testing"
	"time"

	"swiss-tourney-system/models"

	"github.com/stretchr/testify/assert"
)

func TestRoundDurationDefaultsToSchedule(t *testing.T) {
	assert.Equal(t, 3*time.Hour, roundDuration(0))
	assert.Equal(t, 3*time.Hour, roundDuration(-15))
	assert.Equal(t, 90*time.Minute, roundDuration(90))
}

func TestStillPairingCountsUnsealedMatchups(t *testing.T) {
	trs := []models.TeamRound{
		{ID: "tr1", State: models.TeamRoundPairing},
		{ID: "tr2", State: models.TeamRoundPlaying},
		{ID: "tr3", State: models.TeamRoundComplete},
		{ID: "tr4", State: models.TeamRoundPairing},
	}
	assert.Equal(t, 2, stillPairing(trs))

	// A ritual mid-flight has not created all its games yet, so the
	// round must refuse to close even with zero unresolved games.
	assert.Equal(t, 1, stillPairing([]models.TeamRound{{State: models.TeamRoundPairing}}))
	assert.Equal(t, 0, stillPairing(nil))
	assert.Equal(t, 0, stillPairing([]models.TeamRound{{State: models.TeamRoundPlaying}}))
}
