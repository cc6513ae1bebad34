package services

import (
	"errors"
	"math"
	"time"

	"swiss-tourney-system/models"
	"swiss-tourney-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RoundDuration matches the published schedule: three hours on the
// clock from pairing to deadline.
const RoundDuration = 3 * time.Hour

// RoundService opens, repairs and closes Swiss rounds. Pairing is
// delegated to PairingService; the 3s/5s/8s captain ritual to
// RitualService.
type RoundService struct {
	DB       *gorm.DB
	Notifier Notifier
	Pairing  *PairingService
	Ritual   *RitualService
	Registry *Registry
	Clock    clockwork.Clock
	Log      *logrus.Logger
}

func NewRoundService(db *gorm.DB, notifier Notifier, pairing *PairingService, ritual *RitualService, registry *Registry, clock clockwork.Clock, log *logrus.Logger) *RoundService {
	return &RoundService{DB: db, Notifier: notifier, Pairing: pairing, Ritual: ritual, Registry: registry, Clock: clock, Log: log}
}

// StartRound pairs and opens the event's next round. The first round
// also flips the event from registration to in_progress. The body may
// carry a custom clock; the schedule default is three hours.
func (s *RoundService) StartRound(c *fiber.Ctx) error {
	type Req struct {
		DurationMinutes int `json:"duration_minutes"`
	}
	var req Req
	_ = c.BodyParser(&req) // body is optional
	duration := roundDuration(req.DurationMinutes)

	eventID := c.Params("id")
	event, err := getEvent(s.DB, eventID)
	if err != nil {
		return Reply(c, err)
	}
	if event.State != models.EventRegistration && event.State != models.EventInProgress {
		return Reply(c, ErrInvalidState(models.EventInProgress, event.State, "event is not running"))
	}

	var round models.Round
	var games []models.Game
	var teamRounds []models.TeamRound
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		var prior []models.Round
		if err := tx.Where("event_id = ?", eventID).Order("round_number ASC").Find(&prior).Error; err != nil {
			return err
		}
		for _, r := range prior {
			if r.State != models.RoundComplete {
				return NewError(KindRoundIncomplete, "round %d is still open", r.RoundNumber)
			}
		}
		number := len(prior) + 1
		if number > event.RoundCount {
			return ErrInvalidState(models.EventComplete, event.State, "all %d rounds already played", event.RoundCount)
		}

		perDay := event.RoundsPerDay
		if perDay <= 0 {
			perDay = event.RoundCount
		}
		now := s.Clock.Now()
		deadline := now.Add(duration)
		round = models.Round{
			ID:          utils.NewID(utils.PrefixRound),
			EventID:     eventID,
			RoundNumber: number,
			DayNumber:   (number-1)/perDay + 1,
			State:       models.RoundInProgress,
			StartedAt:   &now,
			DeadlineAt:  &deadline,
		}
		if err := tx.Create(&round).Error; err != nil {
			return err
		}

		if event.IsTeamFormat() {
			var ready int64
			if err := tx.Model(&models.Team{}).
				Where("event_id = ? AND state = ?", eventID, models.TeamReady).
				Count(&ready).Error; err != nil {
				return err
			}
			if ready < 2 {
				return NewError(KindBelowMinimumRoster, "need at least 2 ready teams, have %d", ready)
			}
			teamRounds, err = s.Pairing.PairTeams(tx, event, &round)
			return err
		}
		games, err = s.Pairing.PairSingles(tx, event, &round)
		return err
	})
	if err != nil {
		return Reply(c, err)
	}

	if event.State == models.EventRegistration {
		if err := s.DB.Model(&models.Event{}).Where("id = ?", eventID).
			Update("state", models.EventInProgress).Error; err != nil {
			s.Log.WithError(err).Warn("event state flip failed")
		}
	}

	s.announce(event, &round, games, teamRounds)
	return c.JSON(fiber.Map{
		"message":      "round started",
		"round_id":     round.ID,
		"round_number": round.RoundNumber,
	})
}

// RepairRound throws away a round's pairings and deals again. Refused
// once any real result is on the books.
func (s *RoundService) RepairRound(c *fiber.Ctx) error {
	roundID := c.Params("id")
	round, err := s.loadRound(roundID)
	if err != nil {
		return Reply(c, err)
	}
	if round.State != models.RoundInProgress {
		return Reply(c, ErrInvalidState(models.RoundInProgress, round.State, "only an open round can be re-paired"))
	}
	event, err := getEvent(s.DB, round.EventID)
	if err != nil {
		return Reply(c, err)
	}

	var games []models.Game
	var teamRounds []models.TeamRound
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		var done int64
		if err := tx.Model(&models.Game{}).
			Where("round_id = ? AND is_bye = false AND state = ?", roundID, models.GameComplete).
			Count(&done).Error; err != nil {
			return err
		}
		if done > 0 {
			return ErrInvalidState(models.GamePending, models.GameComplete, "%d results already confirmed, cannot re-pair", done)
		}

		var trs []models.TeamRound
		if err := tx.Where("round_id = ?", roundID).Find(&trs).Error; err != nil {
			return err
		}
		for _, tr := range trs {
			// Walkover byes were credited at pairing time; take that back.
			if tr.IsBye() && tr.State == models.TeamRoundComplete {
				var standing models.Standing
				if err := tx.Where("event_id = ? AND player_id = ?", tr.EventID, models.TeamStandingID(tr.TeamAID)).
					First(&standing).Error; err != nil {
					return err
				}
				ReverseTeamOutcome(&standing, TeamOutcome{Result: TeamResultWin, GamePoints: tr.TeamAScore, IsBye: true})
				if err := tx.Save(&standing).Error; err != nil {
					return err
				}
			}
			s.Ritual.release(tr.ID)
			if err := tx.Where("team_round_id = ?", tr.ID).Delete(&models.PairingState{}).Error; err != nil {
				return err
			}
			if err := tx.Where("team_round_id = ?", tr.ID).Delete(&models.TeamPairing{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("round_id = ?", roundID).Delete(&models.Game{}).Error; err != nil {
			return err
		}
		if err := tx.Where("round_id = ?", roundID).Delete(&models.TeamRound{}).Error; err != nil {
			return err
		}

		if event.IsTeamFormat() {
			teamRounds, err = s.Pairing.PairTeams(tx, event, round)
			return err
		}
		games, err = s.Pairing.PairSingles(tx, event, round)
		return err
	})
	if err != nil {
		return Reply(c, err)
	}

	s.Log.WithFields(logrus.Fields{"round_id": roundID, "round": round.RoundNumber}).Info("round re-paired")
	s.announce(event, round, games, teamRounds)
	return c.JSON(fiber.Map{"message": "round re-paired", "round_id": roundID})
}

// CompleteRound closes the round: the bye is scored at the round
// average, team matchups are classified, and the standings go out.
func (s *RoundService) CompleteRound(c *fiber.Ctx) error {
	roundID := c.Params("id")
	round, err := s.loadRound(roundID)
	if err != nil {
		return Reply(c, err)
	}
	if round.State != models.RoundInProgress {
		return Reply(c, ErrInvalidState(models.RoundInProgress, round.State, "round is not open"))
	}
	event, err := getEvent(s.DB, round.EventID)
	if err != nil {
		return Reply(c, err)
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		var open int64
		if err := tx.Model(&models.Game{}).
			Where("round_id = ? AND is_bye = false AND state <> ?", roundID, models.GameComplete).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return NewError(KindRoundIncomplete, "%d games still unresolved", open)
		}

		if event.IsTeamFormat() {
			// A matchup still in its ritual has not created all its
			// games yet, so the open-game count alone cannot see it.
			var trs []models.TeamRound
			if err := tx.Where("round_id = ?", roundID).Find(&trs).Error; err != nil {
				return err
			}
			if n := stillPairing(trs); n > 0 {
				return NewError(KindRoundIncomplete, "%d matchups still in the pairing ritual", n)
			}
		}

		if err := s.scoreBye(tx, round); err != nil {
			return err
		}
		if event.IsTeamFormat() {
			if err := s.finalizeTeamRounds(tx, event, round); err != nil {
				return err
			}
		}

		now := s.Clock.Now()
		res := tx.Model(&models.Round{}).
			Where("id = ? AND state = ?", roundID, models.RoundInProgress).
			Updates(map[string]interface{}{"state": models.RoundComplete, "completed_at": &now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return NewError(KindStoreConflict, "round changed underneath")
		}
		return nil
	})
	if err != nil {
		return Reply(c, err)
	}

	s.publishStandings(event, round)
	s.Log.WithFields(logrus.Fields{"round_id": roundID, "round": round.RoundNumber}).Info("round complete ✅")
	return c.JSON(fiber.Map{"message": "round complete", "round_id": roundID})
}

// GetRound returns the round with its games.
func (s *RoundService) GetRound(c *fiber.Ctx) error {
	round, err := s.loadRound(c.Params("id"))
	if err != nil {
		return Reply(c, err)
	}
	var games []models.Game
	if err := s.DB.Where("round_id = ?", round.ID).Find(&games).Error; err != nil {
		return Reply(c, err)
	}
	return c.JSON(fiber.Map{"round": round, "games": games})
}

// ListRounds returns an event's rounds in order.
func (s *RoundService) ListRounds(c *fiber.Ctx) error {
	var rounds []models.Round
	if err := s.DB.Where("event_id = ?", c.Params("id")).
		Order("round_number ASC").Find(&rounds).Error; err != nil {
		return Reply(c, err)
	}
	return c.JSON(rounds)
}

// scoreBye gives the round's bye game the average VP of every finished
// table this round, zero if nobody finished.
func (s *RoundService) scoreBye(tx *gorm.DB, round *models.Round) error {
	var byes []models.Game
	if err := tx.Where("round_id = ? AND is_bye = true AND state = ?", round.ID, models.GameBye).
		Find(&byes).Error; err != nil {
		return err
	}
	if len(byes) == 0 {
		return nil
	}

	var played []models.Game
	if err := tx.Where("round_id = ? AND is_bye = false AND state = ?", round.ID, models.GameComplete).
		Find(&played).Error; err != nil {
		return err
	}
	avg := averageVP(played)

	now := s.Clock.Now()
	for _, bye := range byes {
		if err := tx.Model(&models.Game{}).Where("id = ?", bye.ID).Updates(map[string]interface{}{
			"p1_vp":        avg,
			"p2_vp":        0,
			"winner_id":    bye.P1ID,
			"state":        models.GameComplete,
			"confirmed_at": &now,
		}).Error; err != nil {
			return err
		}
		var standing models.Standing
		if err := tx.Where("event_id = ? AND player_id = ?", bye.EventID, bye.P1ID).
			First(&standing).Error; err != nil {
			return err
		}
		ApplyOutcome(&standing, Outcome{OwnVP: avg, IsBye: true})
		if err := tx.Save(&standing).Error; err != nil {
			return err
		}
	}
	return nil
}

// averageVP is the bye score: the rounded mean over every VP value
// posted this round, both sides of every table. Zero when nothing
// finished.
func averageVP(games []models.Game) int {
	sum, n := 0, 0
	for _, g := range games {
		if g.P1VP != nil {
			sum += *g.P1VP
			n++
		}
		if g.P2VP != nil {
			sum += *g.P2VP
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return int(math.Round(float64(sum) / float64(n)))
}

// finalizeTeamRounds classifies every playing matchup by the event's
// scoring mode and folds the results into the team standings.
func (s *RoundService) finalizeTeamRounds(tx *gorm.DB, event *models.Event, round *models.Round) error {
	var trs []models.TeamRound
	if err := tx.Where("round_id = ? AND state = ?", round.ID, models.TeamRoundPlaying).
		Find(&trs).Error; err != nil {
		return err
	}
	maxGP := 20 * SlotCount(event.Format)

	for _, tr := range trs {
		vpA, vpB, err := teamRoundVPs(tx, &tr)
		if err != nil {
			return err
		}
		resultA, resultB := ClassifyTeamRound(event.ScoringMode, tr.TeamAScore, tr.TeamBScore, maxGP)

		updates := map[string]interface{}{"state": models.TeamRoundComplete}
		switch {
		case resultA == TeamResultWin && resultB != TeamResultWin:
			win := true
			updates["team_a_win"] = &win
		case resultB == TeamResultWin && resultA != TeamResultWin:
			win := false
			updates["team_a_win"] = &win
		}
		if err := tx.Model(&models.TeamRound{}).Where("id = ?", tr.ID).Updates(updates).Error; err != nil {
			return err
		}

		if err := foldTeamStanding(tx, tr.EventID, tr.TeamAID, TeamOutcome{
			Result: resultA, GamePoints: tr.TeamAScore, VPFor: vpA, VPAgainst: vpB,
		}, false); err != nil {
			return err
		}
		if err := foldTeamStanding(tx, tr.EventID, tr.TeamBID, TeamOutcome{
			Result: resultB, GamePoints: tr.TeamBScore, VPFor: vpB, VPAgainst: vpA,
		}, false); err != nil {
			return err
		}
	}
	return nil
}

// foldTeamStanding moves a team-round outcome into (or back out of)
// the synthetic team standing. Shared by round close and adjustment.
func foldTeamStanding(tx *gorm.DB, eventID, teamID string, o TeamOutcome, reverse bool) error {
	var standing models.Standing
	if err := tx.Where("event_id = ? AND player_id = ?", eventID, models.TeamStandingID(teamID)).
		First(&standing).Error; err != nil {
		return err
	}
	if reverse {
		ReverseTeamOutcome(&standing, o)
	} else {
		ApplyTeamOutcome(&standing, o)
	}
	return tx.Save(&standing).Error
}

// teamRoundVPs sums the raw VPs of a matchup per side. p1 is always
// the defender seat, so the pairing says which side it counts for.
func teamRoundVPs(tx *gorm.DB, tr *models.TeamRound) (vpA, vpB int, err error) {
	var pairings []models.TeamPairing
	if err := tx.Where("team_round_id = ?", tr.ID).Find(&pairings).Error; err != nil {
		return 0, 0, err
	}
	for _, p := range pairings {
		var game models.Game
		if err := tx.First(&game, "id = ?", p.GameID).Error; err != nil {
			return 0, 0, err
		}
		if game.P1VP == nil || game.P2VP == nil {
			continue
		}
		if p.DefenderTeam == tr.TeamAID {
			vpA += *game.P1VP
			vpB += *game.P2VP
		} else {
			vpB += *game.P1VP
			vpA += *game.P2VP
		}
	}
	return vpA, vpB, nil
}

// announce deals the pairing cards and starts the ritual clocks.
func (s *RoundService) announce(event *models.Event, round *models.Round, games []models.Game, teamRounds []models.TeamRound) {
	if !event.IsTeamFormat() {
		s.Pairing.notifyPairings(event, round, games)
		return
	}
	for _, tr := range teamRounds {
		if tr.State == models.TeamRoundPairing && event.Format != models.Format2v2 {
			s.Ritual.Begin(tr.ID)
		}
		body := map[string]interface{}{
			"round":  round.RoundNumber,
			"team_a": tr.TeamAID,
			"team_b": tr.TeamBID,
			"is_bye": tr.IsBye(),
		}
		s.Notifier.Send(ToChannel(utils.ChannelName(event.Name, "pairings")), Payload{
			Kind:    PayloadPairingCard,
			EventID: event.ID,
			Body:    body,
		})
	}
}

// publishStandings posts the sorted table for the event.
func (s *RoundService) publishStandings(event *models.Event, round *models.Round) {
	var all []models.Standing
	if err := s.DB.Where("event_id = ?", event.ID).Find(&all).Error; err != nil {
		s.Log.WithError(err).Warn("standings load failed")
		return
	}
	standings := FilterStandings(all, event.IsTeamFormat())
	if event.IsTeamFormat() {
		SortTeamStandings(standings)
	} else {
		SortStandings(standings)
	}

	rows := make([]map[string]interface{}, len(standings))
	for i, st := range standings {
		rows[i] = map[string]interface{}{
			"rank":     i + 1,
			"name":     st.Username,
			"wins":     st.Wins,
			"draws":    st.Draws,
			"losses":   st.Losses,
			"vp_diff":  st.VPDiff,
			"vp_total": st.VPTotal,
		}
		if event.IsTeamFormat() {
			rows[i]["tp"] = st.TeamPoints
			rows[i]["gp"] = st.GamePoints
		}
	}
	channel := utils.ChannelName(event.Name, "standings")
	body := map[string]interface{}{
		"round": round.RoundNumber,
		"rows":  rows,
	}
	// Reuse the pinned card if one is on record, so the surface edits
	// in place instead of reposting.
	if ref, ok := s.Registry.Get(event.ID, "standings"); ok && ref.MessageRef != "" {
		body["message_ref"] = ref.MessageRef
	} else {
		_ = s.Registry.Put(event.ID, "standings", channel, "")
	}
	s.Notifier.Send(ToChannel(channel), Payload{
		Kind:    PayloadStandingsCard,
		EventID: event.ID,
		Body:    body,
	})
}

// roundDuration applies the schedule default when the request carries
// no clock of its own.
func roundDuration(minutes int) time.Duration {
	if minutes <= 0 {
		return RoundDuration
	}
	return time.Duration(minutes) * time.Minute
}

// stillPairing counts matchups whose ritual has not sealed yet.
func stillPairing(trs []models.TeamRound) int {
	n := 0
	for _, tr := range trs {
		if tr.State == models.TeamRoundPairing {
			n++
		}
	}
	return n
}

func (s *RoundService) loadRound(roundID string) (*models.Round, error) {
	var round models.Round
	if err := s.DB.First(&round, "id = ?", roundID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewError(KindNotFound, "round %s not found", roundID)
		}
		return nil, err
	}
	return &round, nil
}

// getEvent is the shared event fetch.
func getEvent(db *gorm.DB, eventID string) (*models.Event, error) {
	var event models.Event
	if err := db.First(&event, "id = ?", eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewError(KindNotFound, "event %s not found", eventID)
		}
		return nil, err
	}
	return &event, nil
}
