package services

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsKindUnwraps(t *testing.T) {
	err := NewError(KindRosterFull, "roster holds %d", 16)
	assert.True(t, IsKind(err, KindRosterFull))
	assert.False(t, IsKind(err, KindNotFound))

	wrapped := fmt.Errorf("approving: %w", err)
	assert.True(t, IsKind(wrapped, KindRosterFull))

	assert.False(t, IsKind(fmt.Errorf("plain"), KindRosterFull))
	assert.False(t, IsKind(nil, KindRosterFull))
}

func TestInvalidStateCarriesWantHave(t *testing.T) {
	err := ErrInvalidState("pending", "approved", "cannot relegate")
	assert.Equal(t, "pending", err.Want)
	assert.Equal(t, "approved", err.Have)
	assert.Contains(t, err.Error(), "want pending, have approved")
}

func TestEveryKindHasAStatus(t *testing.T) {
	kinds := []ErrorKind{
		KindNotFound, KindPermissionDenied, KindInvalidState, KindRosterFull,
		KindListsLocked, KindAlreadySubmitted, KindRitualTimeout,
		KindNoEligiblePlayers, KindFormatUnsupported, KindDuplicateTeamName,
		KindBelowMinimumRoster, KindRoundIncomplete, KindIllegalAdjustment,
		KindStoreConflict,
	}
	for _, k := range kinds {
		_, ok := statusByKind[k]
		assert.Truef(t, ok, "kind %s has no HTTP status", k)
	}
}
