package services

import (
	"math"
	"sort"

	"swiss-tourney-system/models"
)

// Outcome is one player's view of a completed game: own and conceded
// VPs plus whether the game was a bye. Equal VPs classify as a draw —
// winner_id on the row is bookkeeping, never a standings input.
type Outcome struct {
	OwnVP int
	OppVP int
	IsBye bool
}

func (o Outcome) isWin() bool  { return o.IsBye || o.OwnVP > o.OppVP }
func (o Outcome) isDraw() bool { return !o.IsBye && o.OwnVP == o.OppVP }

// ApplyOutcome folds one game result into a standing. It is the exact
// inverse of ReverseOutcome; confirm/adjust paths rely on that.
func ApplyOutcome(s *models.Standing, o Outcome) {
	switch {
	case o.isWin():
		s.Wins++
	case o.isDraw():
		s.Draws++
	default:
		s.Losses++
	}
	s.VPTotal += o.OwnVP
	s.VPAgainst += o.OppVP
	s.VPDiff += o.OwnVP - o.OppVP
	if o.IsBye {
		s.HadBye = true
	}
}

// ReverseOutcome removes a previously applied result. HadBye is left
// set on bye reversal: the flag records that a bye was ever awarded, so
// the engine will not hand the same player a second one.
func ReverseOutcome(s *models.Standing, o Outcome) {
	switch {
	case o.isWin():
		s.Wins--
	case o.isDraw():
		s.Draws--
	default:
		s.Losses--
	}
	s.VPTotal -= o.OwnVP
	s.VPAgainst -= o.OppVP
	s.VPDiff -= o.OwnVP - o.OppVP
}

// WTCGamePoints maps a VP differential to the published 20-point split
// between winner and loser. The two values always sum to 20.
func WTCGamePoints(winnerVP, loserVP int) (winnerGP, loserGP int) {
	diff := winnerVP - loserVP
	if diff < 0 {
		diff = -diff
	}
	switch {
	case diff <= 5:
		winnerGP = 10
	case diff <= 10:
		winnerGP = 11
	case diff <= 15:
		winnerGP = 12
	case diff <= 20:
		winnerGP = 13
	case diff <= 25:
		winnerGP = 14
	case diff <= 30:
		winnerGP = 15
	case diff <= 35:
		winnerGP = 16
	case diff <= 40:
		winnerGP = 17
	case diff <= 45:
		winnerGP = 18
	case diff <= 50:
		winnerGP = 19
	default:
		winnerGP = 20
	}
	return winnerGP, 20 - winnerGP
}

// Team results of one TeamRound.
const (
	TeamResultWin  = "win"
	TeamResultDraw = "draw"
	TeamResultLoss = "loss"
)

// Team points per team-round result.
const (
	TPWin  = 2
	TPDraw = 1
	TPLoss = 0
)

// NTLTeamResult classifies a team's round by the proportional NTL
// thresholds: gp/maxGP >= 86/160 is a win, >= 75/160 a draw.
func NTLTeamResult(gamePoints, maxGamePoints int) string {
	if maxGamePoints <= 0 {
		return TeamResultLoss
	}
	switch {
	case gamePoints*160 >= 86*maxGamePoints:
		return TeamResultWin
	case gamePoints*160 >= 75*maxGamePoints:
		return TeamResultDraw
	default:
		return TeamResultLoss
	}
}

// WTCTeamResult classifies by head-to-head game points.
func WTCTeamResult(ownGP, oppGP int) string {
	switch {
	case ownGP > oppGP:
		return TeamResultWin
	case ownGP == oppGP:
		return TeamResultDraw
	default:
		return TeamResultLoss
	}
}

// ClassifyTeamRound scores both sides of a matchup under the event's
// scoring mode. maxGamePoints only matters for NTL.
func ClassifyTeamRound(mode string, scoreA, scoreB, maxGamePoints int) (resultA, resultB string) {
	if mode == models.ScoringNTL {
		return NTLTeamResult(scoreA, maxGamePoints), NTLTeamResult(scoreB, maxGamePoints)
	}
	return WTCTeamResult(scoreA, scoreB), WTCTeamResult(scoreB, scoreA)
}

// TeamPointsFor converts a team result into TP.
func TeamPointsFor(result string) int {
	switch result {
	case TeamResultWin:
		return TPWin
	case TeamResultDraw:
		return TPDraw
	default:
		return TPLoss
	}
}

// TeamOutcome is one team's view of a completed team round.
type TeamOutcome struct {
	Result     string
	GamePoints int
	VPFor      int
	VPAgainst  int
	IsBye      bool
}

// ApplyTeamOutcome folds a team-round result into the synthetic team
// standing. Exact inverse of ReverseTeamOutcome.
func ApplyTeamOutcome(s *models.Standing, o TeamOutcome) {
	switch o.Result {
	case TeamResultWin:
		s.TeamWins++
	case TeamResultDraw:
		s.TeamDraws++
	default:
		s.TeamLosses++
	}
	s.TeamPoints += TeamPointsFor(o.Result)
	s.GamePoints += o.GamePoints
	s.VPTotal += o.VPFor
	s.VPAgainst += o.VPAgainst
	s.VPDiff += o.VPFor - o.VPAgainst
	if o.IsBye {
		s.HadBye = true
	}
}

func ReverseTeamOutcome(s *models.Standing, o TeamOutcome) {
	switch o.Result {
	case TeamResultWin:
		s.TeamWins--
	case TeamResultDraw:
		s.TeamDraws--
	default:
		s.TeamLosses--
	}
	s.TeamPoints -= TeamPointsFor(o.Result)
	s.GamePoints -= o.GamePoints
	s.VPTotal -= o.VPFor
	s.VPAgainst -= o.VPAgainst
	s.VPDiff -= o.VPFor - o.VPAgainst
}

// WalkoverGamePoints is the GP a team bye scores: the walkover formula
// round(80 * team_size * 20 / 160), i.e. ten points per roster seat.
func WalkoverGamePoints(teamSize int) int {
	return int(math.Round(80.0 * float64(teamSize) * 20.0 / 160.0))
}

// FilterStandings keeps either the synthetic team rows or the player
// rows of an event's standings table.
func FilterStandings(standings []models.Standing, teamRows bool) []models.Standing {
	out := make([]models.Standing, 0, len(standings))
	for _, s := range standings {
		if models.IsTeamStanding(s.PlayerID) == teamRows {
			out = append(out, s)
		}
	}
	return out
}

// SortStandings orders player standings for display:
// wins desc, VP diff desc, VP total desc. Stable over the input order.
func SortStandings(standings []models.Standing) {
	sort.SliceStable(standings, func(i, j int) bool {
		a, b := standings[i], standings[j]
		if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		if a.VPDiff != b.VPDiff {
			return a.VPDiff > b.VPDiff
		}
		return a.VPTotal > b.VPTotal
	})
}

// SortTeamStandings orders team standings: TP desc, GP desc, VP diff desc.
func SortTeamStandings(standings []models.Standing) {
	sort.SliceStable(standings, func(i, j int) bool {
		a, b := standings[i], standings[j]
		if a.TeamPoints != b.TeamPoints {
			return a.TeamPoints > b.TeamPoints
		}
		if a.GamePoints != b.GamePoints {
			return a.GamePoints > b.GamePoints
		}
		return a.VPDiff > b.VPDiff
	})
}
