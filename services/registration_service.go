package services

import (
	"errors"
	"sort"
	"time"

	"swiss-tourney-system/models"
	"swiss-tourney-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RegistrationService runs the Chop/Reserve/Confirmed waitlist. The one
// invariant that matters: |approved| never exceeds the event cap, and
// whenever a pending or approved player drops, the oldest reserve is
// promoted to pending inside the same transaction.
type RegistrationService struct {
	DB       *gorm.DB
	Notifier Notifier
	Registry *Registry
	Clock    clockwork.Clock
	Log      *logrus.Logger
	CrewRole string
}

func NewRegistrationService(db *gorm.DB, notifier Notifier, registry *Registry, clock clockwork.Clock, log *logrus.Logger, crewRole string) *RegistrationService {
	return &RegistrationService{DB: db, Notifier: notifier, Registry: registry, Clock: clock, Log: log, CrewRole: crewRole}
}

// SubmitInterest marks a player as interested (Reserve). Idempotent:
// an existing interested row is left alone, any other live state is a
// conflict.
func (s *RegistrationService) SubmitInterest(c *fiber.Ctx) error {
	type Req struct {
		PlayerID string `json:"player_id"`
		Username string `json:"username"`
	}
	eventID := c.Params("id")
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.PlayerID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "player_id is required"})
	}

	event, err := s.loadEvent(eventID)
	if err != nil {
		return Reply(c, err)
	}

	var reg models.Registration
	err = s.DB.Where("event_id = ? AND player_id = ?", eventID, req.PlayerID).First(&reg).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		now := s.Clock.Now()
		reg = models.Registration{
			ID:          utils.NewID(utils.PrefixRegistration),
			EventID:     eventID,
			PlayerID:    req.PlayerID,
			Username:    req.Username,
			State:       models.RegInterested,
			SubmittedAt: &now,
		}
		if err := s.DB.Create(&reg).Error; err != nil {
			return Reply(c, err)
		}
	case err != nil:
		return Reply(c, err)
	case reg.State == models.RegInterested:
		// already interested, nothing to do
	case reg.State == models.RegDropped || reg.State == models.RegRejected:
		now := s.Clock.Now()
		res := s.DB.Model(&models.Registration{}).
			Where("id = ? AND state = ?", reg.ID, reg.State).
			Updates(map[string]interface{}{"state": models.RegInterested, "submitted_at": &now})
		if res.Error != nil {
			return Reply(c, res.Error)
		}
		if res.RowsAffected == 0 {
			return Reply(c, NewError(KindStoreConflict, "registration changed underneath, try again"))
		}
		reg.State = models.RegInterested
	default:
		return Reply(c, ErrInvalidState(models.RegInterested, reg.State, "already registered"))
	}

	s.Notifier.Send(ToPrincipal(req.PlayerID), Payload{
		Kind:    PayloadInterestPrompt,
		EventID: event.ID,
		Body:    map[string]interface{}{"event_name": event.Name, "state": reg.State},
	})
	return c.JSON(reg)
}

// SubmitList upserts a registration to pending (Chop) with the list
// fields. Locked once the registration deadline passes or the event is
// under way. SubmittedAt is set once and kept — it drives promotion
// FIFO.
func (s *RegistrationService) SubmitList(c *fiber.Ctx) error {
	type Req struct {
		PlayerID   string `json:"player_id"`
		Username   string `json:"username"`
		Army       string `json:"army"`
		Detachment string `json:"detachment"`
		ListText   string `json:"list_text"`
	}
	eventID := c.Params("id")
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.PlayerID == "" || req.ListText == "" {
		return c.Status(400).JSON(fiber.Map{"error": "player_id and list_text are required"})
	}

	event, err := s.loadEvent(eventID)
	if err != nil {
		return Reply(c, err)
	}
	if err := s.checkListsOpen(event); err != nil {
		return Reply(c, err)
	}

	now := s.Clock.Now()
	var reg models.Registration
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		dbErr := tx.Where("event_id = ? AND player_id = ?", eventID, req.PlayerID).First(&reg).Error
		switch {
		case errors.Is(dbErr, gorm.ErrRecordNotFound):
			reg = models.Registration{
				ID:          utils.NewID(utils.PrefixRegistration),
				EventID:     eventID,
				PlayerID:    req.PlayerID,
				Username:    req.Username,
				Army:        req.Army,
				Detachment:  req.Detachment,
				ListText:    req.ListText,
				State:       models.RegPending,
				SubmittedAt: &now,
				ReviewToken: utils.NewID(utils.PrefixReview),
			}
			return tx.Create(&reg).Error
		case dbErr != nil:
			return dbErr
		}
		if reg.State == models.RegDropped || reg.State == models.RegRejected {
			return ErrInvalidState(models.RegInterested, reg.State, "registration is closed for this player")
		}
		updates := map[string]interface{}{
			"army":       req.Army,
			"detachment": req.Detachment,
			"list_text":  req.ListText,
		}
		if reg.State == models.RegInterested {
			updates["state"] = models.RegPending
		}
		if reg.SubmittedAt == nil {
			updates["submitted_at"] = &now
		}
		if reg.ReviewToken == "" {
			updates["review_token"] = utils.NewID(utils.PrefixReview)
		}
		if req.Username != "" {
			updates["username"] = req.Username
		}
		if err := tx.Model(&reg).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", reg.ID).First(&reg).Error
	})
	if err != nil {
		return Reply(c, err)
	}

	// Open (or refresh) the list review card for the crew.
	channel := utils.ChannelName(event.Name, "list-review", reg.Username)
	_ = s.Registry.Put(event.ID, "review-"+reg.PlayerID, channel, "")
	s.Notifier.Send(ToRole(s.CrewRole), Payload{
		Kind:       PayloadListReviewCard,
		EventID:    event.ID,
		ReplyToken: reg.ReviewToken,
		Body: map[string]interface{}{
			"player_id":  reg.PlayerID,
			"username":   reg.Username,
			"army":       utils.DisplayName(reg.Army),
			"detachment": utils.DisplayName(reg.Detachment),
			"channel":    channel,
		},
	})
	return c.JSON(reg)
}

// Approve confirms a Chop player. The roster cap is re-checked inside
// the transaction; the player's standing row is created here and lives
// for the rest of the event.
func (s *RegistrationService) Approve(c *fiber.Ctx) error {
	eventID := c.Params("id")
	playerID := c.Params("player_id")

	event, err := s.loadEvent(eventID)
	if err != nil {
		return Reply(c, err)
	}

	var reg models.Registration
	err = s.withConflictRetry(func() error {
		return s.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("event_id = ? AND player_id = ?", eventID, playerID).First(&reg).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return NewError(KindNotFound, "no registration for player %s", playerID)
				}
				return err
			}
			if reg.State != models.RegPending {
				return ErrInvalidState(models.RegPending, reg.State, "only Chop players can be confirmed")
			}

			var approved int64
			if err := tx.Model(&models.Registration{}).
				Where("event_id = ? AND state = ?", eventID, models.RegApproved).
				Count(&approved).Error; err != nil {
				return err
			}
			if int(approved)+1 > event.MaxPlayers {
				return NewError(KindRosterFull, "event is at its %d player cap", event.MaxPlayers)
			}

			now := s.Clock.Now()
			res := tx.Model(&models.Registration{}).
				Where("id = ? AND state = ?", reg.ID, models.RegPending).
				Updates(map[string]interface{}{"state": models.RegApproved, "approved_at": &now})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return NewError(KindStoreConflict, "registration changed underneath")
			}

			standing := models.Standing{
				ID:       utils.NewID("std"),
				EventID:  eventID,
				PlayerID: playerID,
				Username: reg.Username,
				Active:   true,
			}
			return tx.Create(&standing).Error
		})
	})
	if err != nil {
		return Reply(c, err)
	}

	s.Notifier.Send(ToPrincipal(playerID), Payload{
		Kind:    PayloadListReviewCard,
		EventID: eventID,
		Body:    map[string]interface{}{"result": "approved", "event_name": event.Name},
	})
	s.Notifier.Send(ToRole(s.CrewRole), Payload{
		Kind:    PayloadListReviewCard,
		EventID: eventID,
		Body:    map[string]interface{}{"result": "approved", "player_id": playerID},
	})
	return c.JSON(fiber.Map{"message": "player confirmed", "player_id": playerID})
}

// Relegate sends a Chop player back to Reserve. Nobody else moves.
func (s *RegistrationService) Relegate(c *fiber.Ctx) error {
	eventID := c.Params("id")
	playerID := c.Params("player_id")

	res := s.DB.Model(&models.Registration{}).
		Where("event_id = ? AND player_id = ? AND state = ?", eventID, playerID, models.RegPending).
		Update("state", models.RegInterested)
	if res.Error != nil {
		return Reply(c, res.Error)
	}
	if res.RowsAffected == 0 {
		return Reply(c, ErrInvalidState(models.RegPending, "?", "player is not on the Chop list"))
	}
	return c.JSON(fiber.Map{"message": "player moved to reserves", "player_id": playerID})
}

// Reject closes a registration with a reason. Rejection never triggers
// reserve promotion — only drops do.
func (s *RegistrationService) Reject(c *fiber.Ctx) error {
	type Req struct {
		Reason string `json:"reason"`
	}
	eventID := c.Params("id")
	playerID := c.Params("player_id")
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}

	var reg models.Registration
	if err := s.DB.Where("event_id = ? AND player_id = ?", eventID, playerID).First(&reg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Reply(c, NewError(KindNotFound, "no registration for player %s", playerID))
		}
		return Reply(c, err)
	}
	if reg.State == models.RegRejected || reg.State == models.RegDropped {
		return Reply(c, ErrInvalidState(models.RegPending, reg.State, "registration already closed"))
	}

	if err := s.DB.Model(&reg).Updates(map[string]interface{}{
		"state":            models.RegRejected,
		"rejection_reason": req.Reason,
	}).Error; err != nil {
		return Reply(c, err)
	}

	// Lock the review channel and DM the reason.
	if ref, ok := s.Registry.Get(eventID, "review-"+playerID); ok {
		_ = s.DB.Model(&models.MessageRef{}).Where("id = ?", ref.ID).Update("archived", true).Error
	}
	s.Notifier.Send(ToPrincipal(playerID), Payload{
		Kind:    PayloadListReviewCard,
		EventID: eventID,
		Body:    map[string]interface{}{"result": "rejected", "reason": req.Reason},
	})
	return c.JSON(fiber.Map{"message": "registration rejected", "player_id": playerID})
}

// Drop withdraws a player. Dropping from approved keeps their results
// but flips the standing inactive; dropping from pending or approved
// frees a slot, so reserve promotion runs in the same transaction.
func (s *RegistrationService) Drop(c *fiber.Ctx) error {
	eventID := c.Params("id")
	playerID := c.Params("player_id")

	event, err := s.loadEvent(eventID)
	if err != nil {
		return Reply(c, err)
	}

	var promoted []models.Registration
	err = s.withConflictRetry(func() error {
		promoted = nil
		return s.DB.Transaction(func(tx *gorm.DB) error {
			var reg models.Registration
			if err := tx.Where("event_id = ? AND player_id = ?", eventID, playerID).First(&reg).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return NewError(KindNotFound, "no registration for player %s", playerID)
				}
				return err
			}
			if reg.State == models.RegDropped {
				return ErrInvalidState("live", reg.State, "player already dropped")
			}
			prior := reg.State

			now := s.Clock.Now()
			res := tx.Model(&models.Registration{}).
				Where("id = ? AND state = ?", reg.ID, prior).
				Updates(map[string]interface{}{"state": models.RegDropped, "dropped_at": &now})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return NewError(KindStoreConflict, "registration changed underneath")
			}

			if prior == models.RegApproved {
				if err := tx.Model(&models.Standing{}).
					Where("event_id = ? AND player_id = ?", eventID, playerID).
					Update("active", false).Error; err != nil {
					return err
				}
			}

			if prior == models.RegPending || prior == models.RegApproved {
				var err error
				promoted, err = promoteReserves(tx, event)
				if err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return Reply(c, err)
	}

	for _, p := range promoted {
		s.Notifier.Send(ToPrincipal(p.PlayerID), Payload{
			Kind:    PayloadInterestPrompt,
			EventID: eventID,
			Body:    map[string]interface{}{"event_name": event.Name, "state": models.RegPending, "promoted": true},
		})
	}
	s.Log.WithFields(logrus.Fields{
		"event_id": eventID,
		"player":   playerID,
		"promoted": len(promoted),
	}).Info("player dropped")
	return c.JSON(fiber.Map{"message": "player dropped", "promoted": len(promoted)})
}

// PromoteReserves re-runs the promotion sweep. A no-op unless a slot
// opened since the last drop — safe to call at any time.
func (s *RegistrationService) PromoteReserves(c *fiber.Ctx) error {
	eventID := c.Params("id")
	event, err := s.loadEvent(eventID)
	if err != nil {
		return Reply(c, err)
	}
	var promoted []models.Registration
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		promoted, err = promoteReserves(tx, event)
		return err
	})
	if err != nil {
		return Reply(c, err)
	}
	return c.JSON(fiber.Map{"promoted": len(promoted)})
}

// ListRegistrations returns the event roster grouped the way the TO
// reads it: confirmed, chop, reserves, then closed rows.
func (s *RegistrationService) ListRegistrations(c *fiber.Ctx) error {
	eventID := c.Params("id")
	var regs []models.Registration
	if err := s.DB.Where("event_id = ?", eventID).
		Order("submitted_at ASC, player_id ASC").
		Find(&regs).Error; err != nil {
		return Reply(c, err)
	}
	grouped := fiber.Map{
		"approved":   filterRegs(regs, models.RegApproved),
		"pending":    filterRegs(regs, models.RegPending),
		"interested": filterRegs(regs, models.RegInterested),
		"rejected":   filterRegs(regs, models.RegRejected),
		"dropped":    filterRegs(regs, models.RegDropped),
	}
	return c.JSON(grouped)
}

func filterRegs(regs []models.Registration, state string) []models.Registration {
	out := []models.Registration{}
	for _, r := range regs {
		if r.State == state {
			out = append(out, r)
		}
	}
	return out
}

// promoteReserves fills open roster slots from the reserves. Selection
// is the pure nextReserves order; the writes run inside the caller's
// transaction so a drop and its promotion commit together.
func promoteReserves(tx *gorm.DB, event *models.Event) ([]models.Registration, error) {
	var approved, pending int64
	if err := tx.Model(&models.Registration{}).
		Where("event_id = ? AND state = ?", event.ID, models.RegApproved).
		Count(&approved).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&models.Registration{}).
		Where("event_id = ? AND state = ?", event.ID, models.RegPending).
		Count(&pending).Error; err != nil {
		return nil, err
	}
	open := event.MaxPlayers - int(approved) - int(pending)
	if open <= 0 {
		return nil, nil
	}

	var reserves []models.Registration
	if err := tx.Where("event_id = ? AND state = ?", event.ID, models.RegInterested).
		Find(&reserves).Error; err != nil {
		return nil, err
	}

	var promoted []models.Registration
	for _, reserve := range nextReserves(reserves, open) {
		res := tx.Model(&models.Registration{}).
			Where("id = ? AND state = ?", reserve.ID, models.RegInterested).
			Update("state", models.RegPending)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, NewError(KindStoreConflict, "reserve changed underneath")
		}
		reserve.State = models.RegPending
		promoted = append(promoted, reserve)
	}
	return promoted, nil
}

// nextReserves picks the promotion batch: oldest submission first,
// player id breaking ties, never-submitted rows last, capped at the
// number of open slots.
func nextReserves(reserves []models.Registration, open int) []models.Registration {
	if open <= 0 || len(reserves) == 0 {
		return nil
	}
	sorted := append([]models.Registration(nil), reserves...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		switch {
		case a.SubmittedAt == nil:
			return false
		case b.SubmittedAt == nil:
			return true
		case !a.SubmittedAt.Equal(*b.SubmittedAt):
			return a.SubmittedAt.Before(*b.SubmittedAt)
		}
		return a.PlayerID < b.PlayerID
	})
	if open > len(sorted) {
		open = len(sorted)
	}
	return sorted[:open]
}

func (s *RegistrationService) loadEvent(eventID string) (*models.Event, error) {
	var event models.Event
	if err := s.DB.First(&event, "id = ?", eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewError(KindNotFound, "event %s not found", eventID)
		}
		return nil, err
	}
	return &event, nil
}

// checkListsOpen enforces the submission window.
func (s *RegistrationService) checkListsOpen(event *models.Event) error {
	if event.State == models.EventInProgress || event.State == models.EventComplete {
		return NewError(KindListsLocked, "event is already under way")
	}
	if !event.RegDeadline.IsZero() && s.Clock.Now().After(event.RegDeadline) {
		return NewError(KindListsLocked, "registration deadline has passed")
	}
	return nil
}

// withConflictRetry runs fn, retrying exactly once on StoreConflict.
func (s *RegistrationService) withConflictRetry(fn func() error) error {
	err := fn()
	if IsKind(err, KindStoreConflict) {
		s.Clock.Sleep(25 * time.Millisecond)
		err = fn()
	}
	return err
}
