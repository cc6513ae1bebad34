package services

import (
	"testing"

	"swiss-tourney-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyReverseOutcomeRoundTrip(t *testing.T) {
	s := models.Standing{Wins: 2, Losses: 1, VPTotal: 180, VPAgainst: 150, VPDiff: 30}
	before := s

	o := Outcome{OwnVP: 72, OppVP: 55}
	ApplyOutcome(&s, o)
	assert.Equal(t, 3, s.Wins)
	assert.Equal(t, 252, s.VPTotal)
	assert.Equal(t, 205, s.VPAgainst)
	assert.Equal(t, 47, s.VPDiff)

	ReverseOutcome(&s, o)
	assert.Equal(t, before, s)
}

func TestEqualVPsAreADraw(t *testing.T) {
	var s models.Standing
	ApplyOutcome(&s, Outcome{OwnVP: 60, OppVP: 60})
	assert.Equal(t, 0, s.Wins)
	assert.Equal(t, 1, s.Draws)
	assert.Equal(t, 0, s.Losses)
	assert.Equal(t, 0, s.VPDiff)
}

func TestByeCountsAsWinAndKeepsFlagOnReverse(t *testing.T) {
	var s models.Standing
	o := Outcome{OwnVP: 63, IsBye: true}
	ApplyOutcome(&s, o)
	assert.Equal(t, 1, s.Wins)
	assert.True(t, s.HadBye)

	// Reversal un-counts the win but never forgets the bye was awarded.
	ReverseOutcome(&s, o)
	assert.Equal(t, 0, s.Wins)
	assert.Equal(t, 0, s.VPTotal)
	assert.True(t, s.HadBye)
}

func TestAdjustmentReversalRestoresExactTotals(t *testing.T) {
	// A 100-0 result later corrected to 62-58: standings must read as
	// if the wrong result never happened.
	var winner, loser models.Standing

	wrong := Outcome{OwnVP: 100, OppVP: 0}
	ApplyOutcome(&winner, wrong)
	ApplyOutcome(&loser, Outcome{OwnVP: 0, OppVP: 100})

	ReverseOutcome(&winner, wrong)
	ReverseOutcome(&loser, Outcome{OwnVP: 0, OppVP: 100})
	ApplyOutcome(&winner, Outcome{OwnVP: 62, OppVP: 58})
	ApplyOutcome(&loser, Outcome{OwnVP: 58, OppVP: 62})

	assert.Equal(t, 1, winner.Wins)
	assert.Equal(t, 62, winner.VPTotal)
	assert.Equal(t, 4, winner.VPDiff)
	assert.Equal(t, 1, loser.Losses)
	assert.Equal(t, -4, loser.VPDiff)
}

func TestWTCGamePointsBuckets(t *testing.T) {
	cases := []struct {
		winnerVP, loserVP, winnerGP int
	}{
		{50, 50, 10},
		{55, 50, 10},
		{56, 50, 11},
		{60, 50, 11},
		{65, 50, 12},
		{70, 50, 13},
		{75, 50, 14},
		{80, 50, 15},
		{85, 50, 16},
		{90, 50, 17},
		{95, 50, 18},
		{100, 50, 19},
		{100, 49, 20},
		{100, 0, 20},
	}
	for _, tc := range cases {
		w, l := WTCGamePoints(tc.winnerVP, tc.loserVP)
		assert.Equalf(t, tc.winnerGP, w, "diff %d", tc.winnerVP-tc.loserVP)
		assert.Equal(t, 20, w+l, "GP split must always sum to 20")
	}
}

func TestNTLTeamResultThresholds(t *testing.T) {
	// Full 8s scale: maxGP 160, so the published 86/75 cutoffs apply
	// directly.
	assert.Equal(t, TeamResultWin, NTLTeamResult(86, 160))
	assert.Equal(t, TeamResultDraw, NTLTeamResult(85, 160))
	assert.Equal(t, TeamResultDraw, NTLTeamResult(75, 160))
	assert.Equal(t, TeamResultLoss, NTLTeamResult(74, 160))

	// 3s scale: maxGP 60, thresholds scale proportionally.
	assert.Equal(t, TeamResultWin, NTLTeamResult(33, 60))
	assert.Equal(t, TeamResultDraw, NTLTeamResult(32, 60))
	assert.Equal(t, TeamResultDraw, NTLTeamResult(29, 60))
	assert.Equal(t, TeamResultLoss, NTLTeamResult(28, 60))

	assert.Equal(t, TeamResultLoss, NTLTeamResult(10, 0))
}

func TestWTCTeamResult(t *testing.T) {
	assert.Equal(t, TeamResultWin, WTCTeamResult(92, 68))
	assert.Equal(t, TeamResultDraw, WTCTeamResult(80, 80))
	assert.Equal(t, TeamResultLoss, WTCTeamResult(68, 92))
}

func TestWalkoverGamePoints(t *testing.T) {
	assert.Equal(t, 30, WalkoverGamePoints(3))
	assert.Equal(t, 50, WalkoverGamePoints(5))
	assert.Equal(t, 80, WalkoverGamePoints(8))
}

func TestApplyReverseTeamOutcomeRoundTrip(t *testing.T) {
	s := models.Standing{TeamWins: 1, TeamPoints: 2, GamePoints: 92}
	before := s

	o := TeamOutcome{Result: TeamResultDraw, GamePoints: 80, VPFor: 300, VPAgainst: 290}
	ApplyTeamOutcome(&s, o)
	assert.Equal(t, 1, s.TeamDraws)
	assert.Equal(t, 3, s.TeamPoints)
	assert.Equal(t, 172, s.GamePoints)
	assert.Equal(t, 10, s.VPDiff)

	ReverseTeamOutcome(&s, o)
	assert.Equal(t, before, s)
}

func TestSortStandings(t *testing.T) {
	standings := []models.Standing{
		{PlayerID: "c", Wins: 2, VPDiff: 10, VPTotal: 150},
		{PlayerID: "a", Wins: 3, VPDiff: -5, VPTotal: 120},
		{PlayerID: "b", Wins: 2, VPDiff: 10, VPTotal: 160},
		{PlayerID: "d", Wins: 2, VPDiff: 4, VPTotal: 200},
	}
	SortStandings(standings)

	order := make([]string, len(standings))
	for i, s := range standings {
		order[i] = s.PlayerID
	}
	require.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestSortTeamStandings(t *testing.T) {
	standings := []models.Standing{
		{PlayerID: "team_y", TeamPoints: 4, GamePoints: 150, VPDiff: 20},
		{PlayerID: "team_x", TeamPoints: 6, GamePoints: 140, VPDiff: 0},
		{PlayerID: "team_z", TeamPoints: 4, GamePoints: 150, VPDiff: 35},
	}
	SortTeamStandings(standings)
	assert.Equal(t, "team_x", standings[0].PlayerID)
	assert.Equal(t, "team_z", standings[1].PlayerID)
	assert.Equal(t, "team_y", standings[2].PlayerID)
}

func TestClassifyTeamRound(t *testing.T) {
	// NTL scores each side against the proportional thresholds.
	resA, resB := ClassifyTeamRound(models.ScoringNTL, 90, 70, 160)
	assert.Equal(t, TeamResultWin, resA)
	assert.Equal(t, TeamResultLoss, resB)

	resA, resB = ClassifyTeamRound(models.ScoringNTL, 80, 78, 160)
	assert.Equal(t, TeamResultDraw, resA)
	assert.Equal(t, TeamResultDraw, resB)

	// WTC is head-to-head on game points.
	resA, resB = ClassifyTeamRound(models.ScoringWTC, 78, 82, 160)
	assert.Equal(t, TeamResultLoss, resA)
	assert.Equal(t, TeamResultWin, resB)

	resA, resB = ClassifyTeamRound(models.ScoringWTC, 80, 80, 160)
	assert.Equal(t, TeamResultDraw, resA)
	assert.Equal(t, TeamResultDraw, resB)
}

func TestTeamRoundRefoldMatchesDirectFold(t *testing.T) {
	// An adjustment to a game inside a finalized matchup must leave the
	// team standing exactly where folding the corrected outcome directly
	// would have: reverse the stale classification, fold the fresh one.
	history := models.Standing{PlayerID: "team_t1", TeamWins: 2, TeamPoints: 4, GamePoints: 190, VPTotal: 800, VPAgainst: 700, VPDiff: 100}

	stale := TeamOutcome{Result: TeamResultWin, GamePoints: 88, VPFor: 410, VPAgainst: 390}
	fresh := TeamOutcome{Result: TeamResultDraw, GamePoints: 80, VPFor: 395, VPAgainst: 405}

	adjusted := history
	ApplyTeamOutcome(&adjusted, stale)
	ReverseTeamOutcome(&adjusted, stale)
	ApplyTeamOutcome(&adjusted, fresh)

	direct := history
	ApplyTeamOutcome(&direct, fresh)
	assert.Equal(t, direct, adjusted)
}

func TestFilterStandingsSplitsTeamRows(t *testing.T) {
	rows := []models.Standing{
		{PlayerID: "p_alexw"},
		{PlayerID: models.TeamStandingID("t1")},
		{PlayerID: "teamXavier"}, // a player, despite the prefix-ish id
	}

	teams := FilterStandings(rows, true)
	require.Len(t, teams, 1)
	assert.Equal(t, "team_t1", teams[0].PlayerID)

	players := FilterStandings(rows, false)
	require.Len(t, players, 2)
	assert.Equal(t, "p_alexw", players[0].PlayerID)
	assert.Equal(t, "teamXavier", players[1].PlayerID)
}
