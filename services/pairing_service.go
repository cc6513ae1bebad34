package services

import (
	"sort"

	"swiss-tourney-system/models"
	"swiss-tourney-system/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PairingService turns ranked pools into persisted games and team
// rounds. The Swiss walk itself is pure; the service wraps it with
// store access and notification.
type PairingService struct {
	DB       *gorm.DB
	Notifier Notifier
	Log      *logrus.Logger
	Rooms    []int // known game-room numbers, ascending
}

func NewPairingService(db *gorm.DB, notifier Notifier, log *logrus.Logger, rooms []int) *PairingService {
	sorted := append([]int(nil), rooms...)
	sort.Ints(sorted)
	return &PairingService{DB: db, Notifier: notifier, Log: log, Rooms: sorted}
}

// RankedEntry is one pool member, already in rank order.
type RankedEntry struct {
	ID     string
	HadBye bool
}

// PairKey normalizes an unordered pair for history lookups.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// SwissPair walks a ranked pool front-to-back, pairing each head with
// the first opponent it has not already played. If every remaining
// opponent is a rematch, the head pairs with the very next entry — a
// forced rematch beats no pairing at all.
//
// An odd pool first gives a bye to the lowest-ranked entry that has
// never had one (or, failing that, simply the lowest-ranked entry).
func SwissPair(ranked []RankedEntry, played map[string]bool) (pairs [][2]string, bye string) {
	pool := append([]RankedEntry(nil), ranked...)

	if len(pool)%2 == 1 {
		byeIdx := len(pool) - 1
		for i := len(pool) - 1; i >= 0; i-- {
			if !pool[i].HadBye {
				byeIdx = i
				break
			}
		}
		bye = pool[byeIdx].ID
		pool = append(pool[:byeIdx], pool[byeIdx+1:]...)
	}

	for len(pool) > 0 {
		head := pool[0]
		match := 1
		for i := 1; i < len(pool); i++ {
			if !played[PairKey(head.ID, pool[i].ID)] {
				match = i
				break
			}
		}
		pairs = append(pairs, [2]string{head.ID, pool[match].ID})
		pool = append(pool[1:match], pool[match+1:]...)
	}
	return pairs, bye
}

// assignRoom returns the i-th known room number, or nil once the rooms
// run out.
func (ps *PairingService) assignRoom(i int) *int {
	if i < len(ps.Rooms) {
		room := ps.Rooms[i]
		return &room
	}
	return nil
}

// PairSingles builds the round's games from the active player standings
// and the event's pairing history, inside one transaction.
func (ps *PairingService) PairSingles(tx *gorm.DB, event *models.Event, round *models.Round) ([]models.Game, error) {
	var all []models.Standing
	if err := tx.Where("event_id = ? AND active = true", event.ID).
		Find(&all).Error; err != nil {
		return nil, err
	}
	standings := FilterStandings(all, false)
	if len(standings) < 2 {
		return nil, NewError(KindNoEligiblePlayers, "need at least 2 active players, have %d", len(standings))
	}

	// Rank: wins desc, VP diff desc; stable on approval order.
	sort.SliceStable(standings, func(i, j int) bool {
		if standings[i].Wins != standings[j].Wins {
			return standings[i].Wins > standings[j].Wins
		}
		return standings[i].VPDiff > standings[j].VPDiff
	})

	ranked := make([]RankedEntry, len(standings))
	for i, s := range standings {
		ranked[i] = RankedEntry{ID: s.PlayerID, HadBye: s.HadBye}
	}

	played, err := ps.singlesHistory(tx, event.ID)
	if err != nil {
		return nil, err
	}

	pairs, bye := SwissPair(ranked, played)

	games := make([]models.Game, 0, len(pairs)+1)
	for i, pair := range pairs {
		games = append(games, models.Game{
			ID:         utils.NewID(utils.PrefixGame),
			RoundID:    round.ID,
			EventID:    event.ID,
			RoomNumber: ps.assignRoom(i),
			P1ID:       pair[0],
			P2ID:       pair[1],
			State:      models.GamePending,
		})
	}
	if bye != "" {
		games = append(games, models.Game{
			ID:      utils.NewID(utils.PrefixGame),
			RoundID: round.ID,
			EventID: event.ID,
			P1ID:    bye,
			IsBye:   true,
			State:   models.GameBye,
		})
	}

	for i := range games {
		if err := tx.Create(&games[i]).Error; err != nil {
			return nil, err
		}
	}

	ps.Log.WithFields(logrus.Fields{
		"event_id": event.ID,
		"round":    round.RoundNumber,
		"pairs":    len(pairs),
		"bye":      bye,
	}).Info("singles round paired")
	return games, nil
}

func (ps *PairingService) singlesHistory(tx *gorm.DB, eventID string) (map[string]bool, error) {
	var games []models.Game
	if err := tx.Where("event_id = ? AND is_bye = false", eventID).Find(&games).Error; err != nil {
		return nil, err
	}
	played := make(map[string]bool, len(games))
	for _, g := range games {
		played[PairKey(g.P1ID, g.P2ID)] = true
	}
	return played, nil
}

// PairTeams builds the round's team matchups. A bye is a walkover
// applied to the team standing immediately: TP=2 and the fixed
// walkover GP. 2v2 sub-games are auto-assigned roster order against
// roster order; 3s/5s/8s get a PairingState and wait for the ritual.
func (ps *PairingService) PairTeams(tx *gorm.DB, event *models.Event, round *models.Round) ([]models.TeamRound, error) {
	var all []models.Standing
	if err := tx.Where("event_id = ? AND active = true", event.ID).
		Find(&all).Error; err != nil {
		return nil, err
	}
	standings := FilterStandings(all, true)
	if len(standings) < 2 {
		return nil, NewError(KindNoEligiblePlayers, "need at least 2 active teams, have %d", len(standings))
	}

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

	ranked := make([]RankedEntry, len(standings))
	for i, s := range standings {
		ranked[i] = RankedEntry{ID: s.TeamID, HadBye: s.HadBye}
	}

	played, err := ps.teamHistory(tx, event.ID)
	if err != nil {
		return nil, err
	}

	pairs, bye := SwissPair(ranked, played)

	teamRounds := make([]models.TeamRound, 0, len(pairs)+1)
	for _, pair := range pairs {
		tr := models.TeamRound{
			ID:      utils.NewID(utils.PrefixTeamRound),
			RoundID: round.ID,
			EventID: event.ID,
			TeamAID: pair[0],
			TeamBID: pair[1],
			State:   models.TeamRoundPairing,
		}
		if err := tx.Create(&tr).Error; err != nil {
			return nil, err
		}

		switch event.Format {
		case models.Format2v2:
			if err := ps.autoPair2v2(tx, event, &tr); err != nil {
				return nil, err
			}
		default:
			state := models.PairingState{
				ID:           utils.NewID("prs"),
				TeamRoundID:  tr.ID,
				EventID:      event.ID,
				CurrentPhase: 1,
				CurrentStep:  models.StepAwaitRolloff,
			}
			if err := tx.Create(&state).Error; err != nil {
				return nil, err
			}
		}
		teamRounds = append(teamRounds, tr)
	}

	if bye != "" {
		tr, err := ps.awardTeamWalkover(tx, event, round, bye)
		if err != nil {
			return nil, err
		}
		teamRounds = append(teamRounds, *tr)
	}

	ps.Log.WithFields(logrus.Fields{
		"event_id": event.ID,
		"round":    round.RoundNumber,
		"matchups": len(pairs),
		"bye_team": bye,
	}).Info("team round paired")
	return teamRounds, nil
}

func (ps *PairingService) teamHistory(tx *gorm.DB, eventID string) (map[string]bool, error) {
	var rounds []models.TeamRound
	if err := tx.Where("event_id = ? AND team_b_id <> ''", eventID).Find(&rounds).Error; err != nil {
		return nil, err
	}
	played := make(map[string]bool, len(rounds))
	for _, tr := range rounds {
		played[PairKey(tr.TeamAID, tr.TeamBID)] = true
	}
	return played, nil
}

// autoPair2v2 pairs the two rosters slot-for-slot in roster order. No
// ritual runs for 2v2.
func (ps *PairingService) autoPair2v2(tx *gorm.DB, event *models.Event, tr *models.TeamRound) error {
	rosterA, err := activeRoster(tx, tr.TeamAID)
	if err != nil {
		return err
	}
	rosterB, err := activeRoster(tx, tr.TeamBID)
	if err != nil {
		return err
	}
	size := models.TeamSize(event.Format)
	if len(rosterA) < size || len(rosterB) < size {
		return NewError(KindBelowMinimumRoster, "2v2 matchup %s is missing roster members", tr.ID)
	}

	for slot := 1; slot <= size; slot++ {
		a := rosterA[slot-1]
		b := rosterB[slot-1]
		game := models.Game{
			ID:      utils.NewID(utils.PrefixGame),
			RoundID: tr.RoundID,
			EventID: event.ID,
			P1ID:    a.PlayerID,
			P2ID:    b.PlayerID,
			State:   models.GamePending,
		}
		pairing := models.TeamPairing{
			ID:             utils.NewID(utils.PrefixTeamPairing),
			TeamRoundID:    tr.ID,
			Slot:           slot,
			DefenderPlayer: a.PlayerID,
			DefenderTeam:   tr.TeamAID,
			AttackerPlayer: b.PlayerID,
			AttackerTeam:   tr.TeamBID,
		}
		game.TeamPairingID = pairing.ID
		pairing.GameID = game.ID
		if err := tx.Create(&pairing).Error; err != nil {
			return err
		}
		if err := tx.Create(&game).Error; err != nil {
			return err
		}
	}
	return tx.Model(tr).Update("state", models.TeamRoundPlaying).Error
}

// awardTeamWalkover records the bye matchup and credits the walkover to
// the team standing in the same transaction as the pairing.
func (ps *PairingService) awardTeamWalkover(tx *gorm.DB, event *models.Event, round *models.Round, teamID string) (*models.TeamRound, error) {
	size := models.TeamSize(event.Format)
	gp := WalkoverGamePoints(size)
	tr := models.TeamRound{
		ID:         utils.NewID(utils.PrefixTeamRound),
		RoundID:    round.ID,
		EventID:    event.ID,
		TeamAID:    teamID,
		State:      models.TeamRoundComplete,
		TeamAScore: gp,
	}
	win := true
	tr.TeamAWin = &win
	if err := tx.Create(&tr).Error; err != nil {
		return nil, err
	}

	var standing models.Standing
	if err := tx.Where("event_id = ? AND player_id = ?", event.ID, models.TeamStandingID(teamID)).
		First(&standing).Error; err != nil {
		return nil, err
	}
	ApplyTeamOutcome(&standing, TeamOutcome{Result: TeamResultWin, GamePoints: gp, IsBye: true})
	if err := tx.Save(&standing).Error; err != nil {
		return nil, err
	}
	return &tr, nil
}

// activeRoster returns a team's active non-substitute members in roster
// order.
func activeRoster(tx *gorm.DB, teamID string) ([]models.TeamMember, error) {
	var members []models.TeamMember
	err := tx.Where("team_id = ? AND active = true AND role <> ?", teamID, models.RoleSubstitute).
		Order("\"sort_order\" ASC, created_at ASC").
		Find(&members).Error
	return members, err
}

// notifyPairings emits one PairingCard per game to each participant.
func (ps *PairingService) notifyPairings(event *models.Event, round *models.Round, games []models.Game) {
	for _, g := range games {
		body := map[string]interface{}{
			"round":  round.RoundNumber,
			"p1":     g.P1ID,
			"p2":     g.P2ID,
			"is_bye": g.IsBye,
		}
		if g.RoomNumber != nil {
			body["room"] = *g.RoomNumber
		}
		payload := Payload{Kind: PayloadPairingCard, EventID: event.ID, Body: body}
		ps.Notifier.Send(ToPrincipal(g.P1ID), payload)
		if g.P2ID != "" {
			ps.Notifier.Send(ToPrincipal(g.P2ID), payload)
		}
	}
}
