package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"swiss-tourney-system/models"
	"swiss-tourney-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AutoConfirmAfter is how long a submitted result waits for the
// opponent before the system confirms it.
const AutoConfirmAfter = 24 * time.Hour

// GameService owns the result lifecycle: submission, confirmation,
// dispute, TO override, the 24h auto-confirm and retroactive
// adjustment. Standings are touched exactly once per game, guarded by
// the submitted->complete CAS.
type GameService struct {
	DB       *gorm.DB
	Notifier Notifier
	Clock    clockwork.Clock
	Log      *logrus.Logger
	CrewRole string
}

func NewGameService(db *gorm.DB, notifier Notifier, clock clockwork.Clock, log *logrus.Logger, crewRole string) *GameService {
	return &GameService{DB: db, Notifier: notifier, Clock: clock, Log: log, CrewRole: crewRole}
}

// Submit records a result from one of the two players. VPs arrive
// oriented as (own, opponent) and are stored in table order.
func (s *GameService) Submit(c *fiber.Ctx) error {
	type Req struct {
		PlayerID string `json:"player_id"`
		OwnVP    *int   `json:"own_vp"`
		OppVP    *int   `json:"opp_vp"`
	}
	gameID := c.Params("id")
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.OwnVP == nil || req.OppVP == nil {
		return c.Status(400).JSON(fiber.Map{"error": "own_vp and opp_vp are required"})
	}
	if err := checkVPRange(*req.OwnVP, *req.OppVP); err != nil {
		return Reply(c, err)
	}

	game, err := s.loadGame(gameID)
	if err != nil {
		return Reply(c, err)
	}
	if game.IsBye {
		return Reply(c, ErrInvalidState(models.GamePending, models.GameBye, "bye games score themselves at round close"))
	}
	if !game.HasPlayer(req.PlayerID) {
		return Reply(c, NewError(KindPermissionDenied, "only the two players may submit this result"))
	}
	if game.State != models.GamePending {
		if game.State == models.GameSubmitted {
			return Reply(c, NewError(KindAlreadySubmitted, "result already submitted, waiting on confirmation"))
		}
		return Reply(c, ErrInvalidState(models.GamePending, game.State, "result cannot be submitted now"))
	}

	p1vp, p2vp := *req.OwnVP, *req.OppVP
	if req.PlayerID == game.P2ID {
		p1vp, p2vp = p2vp, p1vp
	}
	winner := game.P1ID
	if p2vp > p1vp {
		winner = game.P2ID
	}

	now := s.Clock.Now()
	res := s.DB.Model(&models.Game{}).
		Where("id = ? AND state = ?", game.ID, models.GamePending).
		Updates(map[string]interface{}{
			"state":        models.GameSubmitted,
			"p1_vp":        p1vp,
			"p2_vp":        p2vp,
			"winner_id":    winner,
			"submitted_by": req.PlayerID,
			"submitted_at": &now,
		})
	if res.Error != nil {
		return Reply(c, res.Error)
	}
	if res.RowsAffected == 0 {
		return Reply(c, NewError(KindStoreConflict, "game changed underneath, try again"))
	}

	opponent := game.Opponent(req.PlayerID)
	s.Notifier.Send(ToPrincipal(opponent), Payload{
		Kind:       PayloadResultConfirmCard,
		EventID:    game.EventID,
		ReplyToken: game.ID,
		Body: map[string]interface{}{
			"game_id": game.ID,
			"p1_vp":   p1vp,
			"p2_vp":   p2vp,
			"by":      req.PlayerID,
		},
	})
	return c.JSON(fiber.Map{"message": "result submitted", "game_id": game.ID})
}

// Confirm finalizes a submitted result. Allowed: the opponent of the
// submitter, or a TO. The submitted->complete CAS makes the standings
// application exactly-once; one local retry on a store conflict.
func (s *GameService) Confirm(c *fiber.Ctx) error {
	type Req struct {
		PlayerID string `json:"player_id"`
		IsTO     bool   `json:"is_to"`
	}
	gameID := c.Params("id")
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}

	game, err := s.loadGame(gameID)
	if err != nil {
		return Reply(c, err)
	}
	if !req.IsTO {
		if !game.HasPlayer(req.PlayerID) || req.PlayerID == game.SubmittedBy {
			return Reply(c, NewError(KindPermissionDenied, "only the opponent or a TO may confirm"))
		}
	}

	if err := s.confirmGame(game.ID); err != nil {
		return Reply(c, err)
	}
	return c.JSON(fiber.Map{"message": "result confirmed", "game_id": game.ID})
}

// confirmGame is the shared confirm path for players, TOs and the
// auto-confirm sweep.
func (s *GameService) confirmGame(gameID string) error {
	run := func() error {
		return s.DB.Transaction(func(tx *gorm.DB) error {
			var game models.Game
			if err := tx.First(&game, "id = ?", gameID).Error; err != nil {
				return err
			}
			if game.State != models.GameSubmitted {
				return ErrInvalidState(models.GameSubmitted, game.State, "nothing to confirm")
			}
			now := s.Clock.Now()
			res := tx.Model(&models.Game{}).
				Where("id = ? AND state = ?", gameID, models.GameSubmitted).
				Updates(map[string]interface{}{"state": models.GameComplete, "confirmed_at": &now})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return NewError(KindStoreConflict, "game changed underneath")
			}
			return s.applyGame(tx, &game)
		})
	}
	err := run()
	if IsKind(err, KindStoreConflict) {
		err = run()
	}
	return err
}

// Dispute freezes a submitted result and pages the judges. No
// standings effect.
func (s *GameService) Dispute(c *fiber.Ctx) error {
	type Req struct {
		PlayerID string `json:"player_id"`
		Reason   string `json:"reason"`
	}
	gameID := c.Params("id")
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}

	game, err := s.loadGame(gameID)
	if err != nil {
		return Reply(c, err)
	}
	if !game.HasPlayer(req.PlayerID) {
		return Reply(c, NewError(KindPermissionDenied, "only the two players may dispute"))
	}

	res := s.DB.Model(&models.Game{}).
		Where("id = ? AND state = ?", game.ID, models.GameSubmitted).
		Update("state", models.GameDisputed)
	if res.Error != nil {
		return Reply(c, res.Error)
	}
	if res.RowsAffected == 0 {
		return Reply(c, ErrInvalidState(models.GameSubmitted, game.State, "only submitted results can be disputed"))
	}

	s.audit(game.EventID, game.ID, req.PlayerID, "dispute", req.Reason)
	s.Notifier.Send(ToRole(s.CrewRole), Payload{
		Kind:    PayloadJudgeAlert,
		EventID: game.EventID,
		Body: map[string]interface{}{
			"game_id": game.ID,
			"by":      req.PlayerID,
			"reason":  req.Reason,
		},
	})
	return c.JSON(fiber.Map{"message": "result disputed", "game_id": game.ID})
}

// Override completes a submitted or disputed game by TO fiat,
// optionally rewriting the VPs first.
func (s *GameService) Override(c *fiber.Ctx) error {
	type Req struct {
		ActorID string `json:"actor_id"`
		P1VP    *int   `json:"p1_vp"`
		P2VP    *int   `json:"p2_vp"`
		Note    string `json:"note"`
	}
	gameID := c.Params("id")
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}

	game, err := s.loadGame(gameID)
	if err != nil {
		return Reply(c, err)
	}
	if game.State != models.GameSubmitted && game.State != models.GameDisputed {
		return Reply(c, ErrInvalidState(models.GameSubmitted, game.State, "only submitted or disputed games can be overridden"))
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{"state": models.GameSubmitted}
		if req.P1VP != nil && req.P2VP != nil {
			if err := checkVPRange(*req.P1VP, *req.P2VP); err != nil {
				return err
			}
			winner := game.P1ID
			if *req.P2VP > *req.P1VP {
				winner = game.P2ID
			}
			updates["p1_vp"] = *req.P1VP
			updates["p2_vp"] = *req.P2VP
			updates["winner_id"] = winner
			game.P1VP, game.P2VP = req.P1VP, req.P2VP
		}
		if game.P1VP == nil || game.P2VP == nil {
			return NewError(KindIllegalAdjustment, "no VPs on record; supply p1_vp and p2_vp")
		}
		res := tx.Model(&models.Game{}).
			Where("id = ? AND state IN ?", game.ID, []string{models.GameSubmitted, models.GameDisputed}).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return NewError(KindStoreConflict, "game changed underneath")
		}
		return nil
	})
	if err != nil {
		return Reply(c, err)
	}
	if err := s.confirmGame(game.ID); err != nil {
		return Reply(c, err)
	}

	s.audit(game.EventID, game.ID, req.ActorID, "override", req.Note)
	return c.JSON(fiber.Map{"message": "result set by TO", "game_id": game.ID})
}

// Adjust corrects an already complete game: the old delta is reversed,
// the new one applied, and both triples land in the audit trail.
func (s *GameService) Adjust(c *fiber.Ctx) error {
	type Req struct {
		ActorID string `json:"actor_id"`
		P1VP    *int   `json:"p1_vp"`
		P2VP    *int   `json:"p2_vp"`
		Note    string `json:"note"`
	}
	gameID := c.Params("id")
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.P1VP == nil || req.P2VP == nil {
		return c.Status(400).JSON(fiber.Map{"error": "p1_vp and p2_vp are required"})
	}

	game, err := s.loadGame(gameID)
	if err != nil {
		return Reply(c, err)
	}
	if game.State != models.GameComplete {
		return Reply(c, ErrInvalidState(models.GameComplete, game.State, "only complete games can be adjusted"))
	}
	if game.IsBye {
		return Reply(c, NewError(KindIllegalAdjustment, "bye games carry the round average, not a table result"))
	}
	if err := checkVPRange(*req.P1VP, *req.P2VP); err != nil {
		return Reply(c, err)
	}

	oldP1, oldP2 := *game.P1VP, *game.P2VP
	oldWinner := game.WinnerID
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		// A finalized matchup's classification was folded into the team
		// standings at round close; back it out before the scores move.
		var finalized *models.TeamRound
		var event *models.Event
		if game.TeamPairingID != "" {
			tr, err := teamRoundForGame(tx, game)
			if err != nil {
				return err
			}
			if tr.State == models.TeamRoundComplete {
				event, err = getEvent(tx, game.EventID)
				if err != nil {
					return err
				}
				if err := s.unfoldTeamRound(tx, event, tr); err != nil {
					return err
				}
				finalized = tr
			}
		}

		if err := s.reverseGame(tx, game); err != nil {
			return err
		}
		winner := game.P1ID
		if *req.P2VP > *req.P1VP {
			winner = game.P2ID
		}
		if err := tx.Model(&models.Game{}).Where("id = ?", game.ID).Updates(map[string]interface{}{
			"p1_vp":     *req.P1VP,
			"p2_vp":     *req.P2VP,
			"winner_id": winner,
			"adj_note":  req.Note,
		}).Error; err != nil {
			return err
		}
		game.P1VP, game.P2VP = req.P1VP, req.P2VP
		game.WinnerID = winner
		if err := s.applyGame(tx, game); err != nil {
			return err
		}

		if finalized != nil {
			return s.refoldTeamRound(tx, event, finalized.ID)
		}
		return nil
	})
	if err != nil {
		return Reply(c, err)
	}

	detail, _ := json.Marshal(fiber.Map{
		"old":  fiber.Map{"p1_vp": oldP1, "p2_vp": oldP2, "winner": oldWinner},
		"new":  fiber.Map{"p1_vp": *req.P1VP, "p2_vp": *req.P2VP, "winner": game.WinnerID},
		"note": req.Note,
	})
	s.audit(game.EventID, game.ID, req.ActorID, "adjust", string(detail))
	return c.JSON(fiber.Map{"message": "result adjusted", "game_id": game.ID})
}

// AutoConfirmSweep confirms every submitted result older than the
// confirmation window. Games that moved on since (disputed,
// overridden) are skipped; failures are logged and retried next tick.
func (s *GameService) AutoConfirmSweep() {
	cutoff := s.Clock.Now().Add(-AutoConfirmAfter)
	var games []models.Game
	if err := s.DB.Where("state = ? AND submitted_at <= ?", models.GameSubmitted, cutoff).
		Find(&games).Error; err != nil {
		s.Log.WithError(err).Warn("auto-confirm sweep query failed")
		return
	}
	for _, g := range games {
		if err := s.confirmGame(g.ID); err != nil {
			if IsKind(err, KindInvalidState) {
				continue // moved on since the query, fine
			}
			s.Log.WithError(err).WithField("game_id", g.ID).Warn("auto-confirm failed, will retry")
			continue
		}
		s.Log.WithField("game_id", g.ID).Info("result auto-confirmed after 24h")
	}
}

// GetGame returns a single game row.
func (s *GameService) GetGame(c *fiber.Ctx) error {
	game, err := s.loadGame(c.Params("id"))
	if err != nil {
		return Reply(c, err)
	}
	return c.JSON(game)
}

// applyGame folds a completed game into both players' standings and,
// for team events, the containing team round's GP totals.
func (s *GameService) applyGame(tx *gorm.DB, game *models.Game) error {
	return s.foldGame(tx, game, false)
}

// reverseGame removes a previously applied game. Strict inverse of
// applyGame.
func (s *GameService) reverseGame(tx *gorm.DB, game *models.Game) error {
	return s.foldGame(tx, game, true)
}

func (s *GameService) foldGame(tx *gorm.DB, game *models.Game, reverse bool) error {
	if game.P1VP == nil {
		return NewError(KindIllegalAdjustment, "game %s has no VPs on record", game.ID)
	}
	p1vp := *game.P1VP
	p2vp := 0
	if game.P2VP != nil {
		p2vp = *game.P2VP
	}

	gp1, gp2 := 0, 0
	if !game.IsBye {
		if p1vp >= p2vp {
			gp1, gp2 = WTCGamePoints(p1vp, p2vp)
		} else {
			gp2, gp1 = WTCGamePoints(p2vp, p1vp)
		}
	}

	if err := s.foldPlayer(tx, game.EventID, game.P1ID, Outcome{OwnVP: p1vp, OppVP: p2vp, IsBye: game.IsBye}, gp1, reverse); err != nil {
		return err
	}
	if game.P2ID != "" {
		if err := s.foldPlayer(tx, game.EventID, game.P2ID, Outcome{OwnVP: p2vp, OppVP: p1vp}, gp2, reverse); err != nil {
			return err
		}
	}

	if game.TeamPairingID != "" {
		if err := s.foldTeamRoundScore(tx, game, gp1, gp2, reverse); err != nil {
			return err
		}
	}
	return nil
}

func (s *GameService) foldPlayer(tx *gorm.DB, eventID, playerID string, o Outcome, gp int, reverse bool) error {
	var standing models.Standing
	if err := tx.Where("event_id = ? AND player_id = ?", eventID, playerID).First(&standing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NewError(KindNotFound, "no standing for player %s", playerID)
		}
		return err
	}
	if reverse {
		ReverseOutcome(&standing, o)
		standing.WTCGp -= gp
	} else {
		ApplyOutcome(&standing, o)
		standing.WTCGp += gp
	}
	return tx.Save(&standing).Error
}

// foldTeamRoundScore moves per-game GP onto the team round's running
// totals, keyed by which side the defender belongs to.
func (s *GameService) foldTeamRoundScore(tx *gorm.DB, game *models.Game, gp1, gp2 int, reverse bool) error {
	var pairing models.TeamPairing
	if err := tx.First(&pairing, "id = ?", game.TeamPairingID).Error; err != nil {
		return err
	}
	var tr models.TeamRound
	if err := tx.First(&tr, "id = ?", pairing.TeamRoundID).Error; err != nil {
		return err
	}

	// p1 is the defender seat.
	aGP, bGP := gp1, gp2
	if pairing.DefenderTeam != tr.TeamAID {
		aGP, bGP = gp2, gp1
	}
	if reverse {
		aGP, bGP = -aGP, -bGP
	}
	return tx.Model(&models.TeamRound{}).Where("id = ?", tr.ID).Updates(map[string]interface{}{
		"team_a_score": gorm.Expr("team_a_score + ?", aGP),
		"team_b_score": gorm.Expr("team_b_score + ?", bGP),
	}).Error
}

// teamRoundForGame resolves the matchup containing a team sub-game.
func teamRoundForGame(tx *gorm.DB, game *models.Game) (*models.TeamRound, error) {
	var pairing models.TeamPairing
	if err := tx.First(&pairing, "id = ?", game.TeamPairingID).Error; err != nil {
		return nil, err
	}
	var tr models.TeamRound
	if err := tx.First(&tr, "id = ?", pairing.TeamRoundID).Error; err != nil {
		return nil, err
	}
	return &tr, nil
}

// unfoldTeamRound backs the matchup's folded classification out of both
// team standings, using the pre-adjustment scores and VPs.
func (s *GameService) unfoldTeamRound(tx *gorm.DB, event *models.Event, tr *models.TeamRound) error {
	vpA, vpB, err := teamRoundVPs(tx, tr)
	if err != nil {
		return err
	}
	maxGP := 20 * SlotCount(event.Format)
	resultA, resultB := ClassifyTeamRound(event.ScoringMode, tr.TeamAScore, tr.TeamBScore, maxGP)
	if err := foldTeamStanding(tx, tr.EventID, tr.TeamAID, TeamOutcome{
		Result: resultA, GamePoints: tr.TeamAScore, VPFor: vpA, VPAgainst: vpB,
	}, true); err != nil {
		return err
	}
	return foldTeamStanding(tx, tr.EventID, tr.TeamBID, TeamOutcome{
		Result: resultB, GamePoints: tr.TeamBScore, VPFor: vpB, VPAgainst: vpA,
	}, true)
}

// refoldTeamRound reclassifies the matchup from its adjusted scores,
// refreshes team_a_win and folds the fresh outcome back in.
func (s *GameService) refoldTeamRound(tx *gorm.DB, event *models.Event, teamRoundID string) error {
	var tr models.TeamRound
	if err := tx.First(&tr, "id = ?", teamRoundID).Error; err != nil {
		return err
	}
	vpA, vpB, err := teamRoundVPs(tx, &tr)
	if err != nil {
		return err
	}
	maxGP := 20 * SlotCount(event.Format)
	resultA, resultB := ClassifyTeamRound(event.ScoringMode, tr.TeamAScore, tr.TeamBScore, maxGP)

	updates := map[string]interface{}{"team_a_win": nil}
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
	return foldTeamStanding(tx, tr.EventID, tr.TeamBID, TeamOutcome{
		Result: resultB, GamePoints: tr.TeamBScore, VPFor: vpB, VPAgainst: vpA,
	}, false)
}

func (s *GameService) loadGame(gameID string) (*models.Game, error) {
	var game models.Game
	if err := s.DB.First(&game, "id = ?", gameID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewError(KindNotFound, "game %s not found", gameID)
		}
		return nil, err
	}
	return &game, nil
}

func (s *GameService) audit(eventID, gameID, actorID, action, detail string) {
	entry := models.AuditLog{
		ID:      utils.NewID(utils.PrefixAudit),
		EventID: eventID,
		GameID:  gameID,
		ActorID: actorID,
		Action:  action,
		Detail:  detail,
	}
	if err := s.DB.Create(&entry).Error; err != nil {
		s.Log.WithError(err).Warn("audit write failed")
	}
}

func checkVPRange(vps ...int) error {
	for _, vp := range vps {
		if vp < 0 || vp > 200 {
			return NewError(KindIllegalAdjustment, fmt.Sprintf("VP %d out of range 0..200", vp))
		}
	}
	return nil
}
