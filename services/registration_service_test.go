package services

import (
	"testing"
	"time"

	"swiss-tourney-system/models"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reserveAt(playerID string, at time.Time) models.Registration {
	t := at
	return models.Registration{PlayerID: playerID, State: models.RegInterested, SubmittedAt: &t}
}

func TestNextReservesOldestSubmissionFirst(t *testing.T) {
	base := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	reserves := []models.Registration{
		reserveAt("p_dora", base.Add(time.Hour)),
		reserveAt("p_cleo", base),
		reserveAt("p_arlo", base.Add(2*time.Hour)),
		reserveAt("p_bram", base),
	}

	picked := nextReserves(reserves, 3)
	require.Len(t, picked, 3)
	assert.Equal(t, "p_bram", picked[0].PlayerID) // 09:00, id tiebreak
	assert.Equal(t, "p_cleo", picked[1].PlayerID) // 09:00
	assert.Equal(t, "p_dora", picked[2].PlayerID) // 10:00
}

func TestNextReservesCapsAtOpenSlots(t *testing.T) {
	base := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	reserves := []models.Registration{
		reserveAt("p1", base),
		reserveAt("p2", base.Add(time.Minute)),
	}

	assert.Len(t, nextReserves(reserves, 1), 1)
	assert.Len(t, nextReserves(reserves, 5), 2)
	assert.Nil(t, nextReserves(reserves, 0))
	assert.Nil(t, nextReserves(nil, 3))
}

func TestNextReservesNeverSubmittedSortLast(t *testing.T) {
	base := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	reserves := []models.Registration{
		{PlayerID: "p_ghost", State: models.RegInterested},
		reserveAt("p_early", base),
	}

	picked := nextReserves(reserves, 2)
	require.Len(t, picked, 2)
	assert.Equal(t, "p_early", picked[0].PlayerID)
	assert.Equal(t, "p_ghost", picked[1].PlayerID)
}

func TestConflictRetryWaitsOnInjectedClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := &RegistrationService{Clock: clock}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- s.withConflictRetry(func() error {
			calls++
			if calls == 1 {
				return NewError(KindStoreConflict, "busy")
			}
			return nil
		})
	}()

	clock.BlockUntil(1)
	clock.Advance(25 * time.Millisecond)
	require.NoError(t, <-done)
	assert.Equal(t, 2, calls)
}

func TestConflictRetryOnlyRetriesConflicts(t *testing.T) {
	s := &RegistrationService{Clock: clockwork.NewFakeClock()}

	calls := 0
	err := s.withConflictRetry(func() error {
		calls++
		return NewError(KindNotFound, "gone")
	})
	assert.True(t, IsKind(err, KindNotFound))
	assert.Equal(t, 1, calls)
}
