package services

import (
	"time"

	"swiss-tourney-system/models"
	"swiss-tourney-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Event days run on Malaysian time regardless of where the box hosting
// this lives.
var eventTZ = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Kuala_Lumpur")
	if err != nil {
		return time.FixedZone("MYT", 8*3600)
	}
	return loc
}()

// EventService owns the event lifecycle from announcement through the
// final rankings submission.
type EventService struct {
	DB               *gorm.DB
	Notifier         Notifier
	Registry         *Registry
	Clock            clockwork.Clock
	Log              *logrus.Logger
	AllowTeamFormats bool
}

func NewEventService(db *gorm.DB, notifier Notifier, registry *Registry, clock clockwork.Clock, log *logrus.Logger, allowTeamFormats bool) *EventService {
	return &EventService{DB: db, Notifier: notifier, Registry: registry, Clock: clock, Log: log, AllowTeamFormats: allowTeamFormats}
}

// CreateEvent announces a new tournament. Round count and the day
// timetable are derived from the player cap; the rules cutoff and
// registration deadline hang off the start date.
func (s *EventService) CreateEvent(c *fiber.Ctx) error {
	type Req struct {
		Name             string                `json:"name"`
		Format           string                `json:"format"`
		PointsLimit      int                   `json:"points_limit"`
		IndividualPoints int                   `json:"individual_points"`
		MaxPlayers       int                   `json:"max_players"`
		StartDate        time.Time             `json:"start_date"`
		ScoringMode      string                `json:"scoring_mode"`
		CreatedBy        string                `json:"created_by"`
		Layouts          []models.EventLayout  `json:"layouts"`
		Missions         []models.EventMission `json:"missions"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.Name == "" || req.StartDate.IsZero() {
		return c.Status(400).JSON(fiber.Map{"error": "name and start_date are required"})
	}
	if req.MaxPlayers != 8 && req.MaxPlayers != 16 && req.MaxPlayers != 32 {
		return c.Status(400).JSON(fiber.Map{"error": "max_players must be 8, 16 or 32"})
	}
	if req.Format == "" {
		req.Format = models.FormatSingles
	}
	if req.Format != models.FormatSingles && !s.AllowTeamFormats {
		return Reply(c, NewError(KindFormatUnsupported, "team formats are not enabled on this deployment"))
	}
	switch req.Format {
	case models.FormatSingles, models.Format2v2, models.FormatTeams3, models.FormatTeams5, models.FormatTeams8:
	default:
		return Reply(c, NewError(KindFormatUnsupported, "unknown format %s", req.Format))
	}
	if req.ScoringMode == "" {
		req.ScoringMode = models.ScoringNTL
	}
	if req.ScoringMode != models.ScoringNTL && req.ScoringMode != models.ScoringWTC {
		return c.Status(400).JSON(fiber.Map{"error": "scoring_mode must be ntl or wtc"})
	}

	rounds := models.RoundCountFor(req.MaxPlayers)
	start := req.StartDate.In(eventTZ)
	schedule := buildSchedule(start, rounds)
	end := schedule[len(schedule)-1].EndsAt

	layouts := req.Layouts
	if len(layouts) == 0 {
		layouts = DefaultLayouts
	}
	missions := req.Missions
	if len(missions) == 0 {
		missions = DefaultMissionCatalog
	}

	event := models.Event{
		ID:               utils.NewID(utils.PrefixEvent),
		Name:             req.Name,
		Format:           req.Format,
		PointsLimit:      req.PointsLimit,
		IndividualPoints: req.IndividualPoints,
		MaxPlayers:       req.MaxPlayers,
		RoundCount:       rounds,
		RoundsPerDay:     3,
		StartDate:        start,
		EndDate:          end,
		RulesCutoff:      start.AddDate(0, 0, -7),
		RegDeadline:      start.AddDate(0, 0, -2),
		State:            models.EventAnnounced,
		CreatedBy:        req.CreatedBy,
		ScoringMode:      req.ScoringMode,
	}
	event.SetScheduleSlots(schedule)
	event.SetLayouts(layouts)
	event.SetMissions(missions)

	if err := s.DB.Create(&event).Error; err != nil {
		return Reply(c, err)
	}

	s.Log.WithFields(logrus.Fields{
		"event_id": event.ID,
		"name":     event.Name,
		"format":   event.Format,
		"rounds":   rounds,
	}).Info("event announced 🏆")
	return c.Status(201).JSON(event)
}

// buildSchedule lays out the fixed timetable: a three-round opening
// day, and for a five-round event a second day with the last two.
func buildSchedule(start time.Time, rounds int) []models.ScheduleSlot {
	day1 := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, eventTZ)
	at := func(day time.Time, h, m int) time.Time {
		return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
	}

	slots := []models.ScheduleSlot{
		{Day: 1, Label: "Briefing", StartsAt: at(day1, 8, 30), EndsAt: at(day1, 9, 0)},
		{Day: 1, Label: "Round 1", StartsAt: at(day1, 9, 0), EndsAt: at(day1, 12, 0), Round: 1},
		{Day: 1, Label: "Lunch", StartsAt: at(day1, 12, 0), EndsAt: at(day1, 13, 0)},
		{Day: 1, Label: "Round 2", StartsAt: at(day1, 13, 0), EndsAt: at(day1, 16, 0), Round: 2},
		{Day: 1, Label: "Break", StartsAt: at(day1, 16, 0), EndsAt: at(day1, 16, 15)},
		{Day: 1, Label: "Round 3", StartsAt: at(day1, 16, 15), EndsAt: at(day1, 19, 15), Round: 3},
		{Day: 1, Label: "Results", StartsAt: at(day1, 19, 15), EndsAt: at(day1, 19, 30)},
	}
	if rounds <= 3 {
		return slots
	}

	day2 := day1.AddDate(0, 0, 1)
	slots = append(slots,
		models.ScheduleSlot{Day: 2, Label: "Briefing", StartsAt: at(day2, 8, 30), EndsAt: at(day2, 9, 0)},
		models.ScheduleSlot{Day: 2, Label: "Round 4", StartsAt: at(day2, 9, 0), EndsAt: at(day2, 12, 0), Round: 4},
		models.ScheduleSlot{Day: 2, Label: "Lunch", StartsAt: at(day2, 12, 0), EndsAt: at(day2, 13, 0)},
		models.ScheduleSlot{Day: 2, Label: "Round 5", StartsAt: at(day2, 13, 0), EndsAt: at(day2, 16, 0), Round: 5},
		models.ScheduleSlot{Day: 2, Label: "Results", StartsAt: at(day2, 16, 0), EndsAt: at(day2, 16, 15)},
	)
	return slots
}

// DefaultLayouts is the house terrain set used when an event is created
// without its own.
var DefaultLayouts = []models.EventLayout{
	{Number: 1, Name: "Layout 1"},
	{Number: 2, Name: "Layout 2"},
	{Number: 3, Name: "Layout 3"},
	{Number: 4, Name: "Layout 4"},
	{Number: 5, Name: "Layout 5"},
	{Number: 6, Name: "Layout 6"},
	{Number: 7, Name: "Layout 7"},
	{Number: 8, Name: "Layout 8"},
}

// OpenInterest moves an announced event into the interest window and
// posts the interest prompt.
func (s *EventService) OpenInterest(c *fiber.Ctx) error {
	event, err := s.transition(c.Params("id"), models.EventAnnounced, models.EventInterest)
	if err != nil {
		return Reply(c, err)
	}
	s.Notifier.Send(ToChannel(utils.ChannelName(event.Name, "signups")), Payload{
		Kind:    PayloadInterestPrompt,
		EventID: event.ID,
		Body: map[string]interface{}{
			"name":         event.Name,
			"format":       event.Format,
			"max_players":  event.MaxPlayers,
			"start_date":   event.StartDate,
			"reg_deadline": event.RegDeadline,
		},
	})
	return c.JSON(fiber.Map{"message": "interest window open", "event_id": event.ID})
}

// OpenRegistration moves the event from interest gathering to list
// submission.
func (s *EventService) OpenRegistration(c *fiber.Ctx) error {
	event, err := s.transition(c.Params("id"), models.EventInterest, models.EventRegistration)
	if err != nil {
		return Reply(c, err)
	}
	return c.JSON(fiber.Map{"message": "registration open", "event_id": event.ID})
}

// LockLists closes list submission: review threads are archived and the
// approved lists go public. Runs by TO hand or by the deadline sweep.
func (s *EventService) LockLists(c *fiber.Ctx) error {
	event, err := getEvent(s.DB, c.Params("id"))
	if err != nil {
		return Reply(c, err)
	}
	if err := s.lockLists(event); err != nil {
		return Reply(c, err)
	}
	return c.JSON(fiber.Map{"message": "lists locked", "event_id": event.ID})
}

func (s *EventService) lockLists(event *models.Event) error {
	if event.State != models.EventRegistration {
		return ErrInvalidState(models.EventRegistration, event.State, "lists can only be locked during registration")
	}
	if err := s.Registry.Archive(event.ID); err != nil {
		return err
	}

	var approved []models.Registration
	if err := s.DB.Where("event_id = ? AND state = ?", event.ID, models.RegApproved).
		Order("approved_at ASC").Find(&approved).Error; err != nil {
		return err
	}
	lists := make([]map[string]interface{}, len(approved))
	for i, reg := range approved {
		lists[i] = map[string]interface{}{
			"player":     reg.PlayerID,
			"username":   reg.Username,
			"army":       reg.Army,
			"detachment": reg.Detachment,
			"list":       reg.ListText,
		}
	}
	s.Notifier.Send(ToChannel(utils.ChannelName(event.Name, "lists")), Payload{
		Kind:    PayloadListReviewCard,
		EventID: event.ID,
		Body:    map[string]interface{}{"locked": true, "lists": lists},
	})

	s.Log.WithFields(logrus.Fields{"event_id": event.ID, "approved": len(approved)}).Info("lists locked 🔒")
	return nil
}

// LockExpiredRegistrations is the deadline sweep: any event still in
// registration past its deadline gets its lists locked.
func (s *EventService) LockExpiredRegistrations() {
	var events []models.Event
	if err := s.DB.Where("state = ? AND reg_deadline <= ?", models.EventRegistration, s.Clock.Now()).
		Find(&events).Error; err != nil {
		s.Log.WithError(err).Warn("registration deadline sweep failed")
		return
	}
	for i := range events {
		if err := s.lockLists(&events[i]); err != nil {
			s.Log.WithError(err).WithField("event_id", events[i].ID).Warn("deadline list lock failed")
		}
	}
}

// FinishEvent closes the book: final standings out, every completed
// game bundled into the rankings submission, event marked complete.
func (s *EventService) FinishEvent(c *fiber.Ctx) error {
	eventID := c.Params("id")
	event, err := getEvent(s.DB, eventID)
	if err != nil {
		return Reply(c, err)
	}
	if event.State != models.EventInProgress {
		return Reply(c, ErrInvalidState(models.EventInProgress, event.State, "event is not running"))
	}

	var complete int64
	if err := s.DB.Model(&models.Round{}).
		Where("event_id = ? AND state = ?", eventID, models.RoundComplete).
		Count(&complete).Error; err != nil {
		return Reply(c, err)
	}
	if int(complete) < event.RoundCount {
		return Reply(c, NewError(KindRoundIncomplete, "%d of %d rounds complete", complete, event.RoundCount))
	}

	res := s.DB.Model(&models.Event{}).
		Where("id = ? AND state = ?", eventID, models.EventInProgress).
		Update("state", models.EventComplete)
	if res.Error != nil {
		return Reply(c, res.Error)
	}
	if res.RowsAffected == 0 {
		return Reply(c, NewError(KindStoreConflict, "event changed underneath"))
	}

	s.publishFinalStandings(event)
	s.submitRankings(event)
	s.Log.WithFields(logrus.Fields{"event_id": eventID, "name": event.Name}).Info("event complete 🏁")
	return c.JSON(fiber.Map{"message": "event complete", "event_id": eventID})
}

func (s *EventService) publishFinalStandings(event *models.Event) {
	var all []models.Standing
	if err := s.DB.Where("event_id = ?", event.ID).Find(&all).Error; err != nil {
		s.Log.WithError(err).Warn("final standings load failed")
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
	body := map[string]interface{}{"final": true, "rows": rows}
	if ref, ok := s.Registry.Get(event.ID, "standings"); ok && ref.MessageRef != "" {
		body["message_ref"] = ref.MessageRef
	}
	s.Notifier.Send(ToChannel(channel), Payload{
		Kind:    PayloadStandingsCard,
		EventID: event.ID,
		Body:    body,
	})
}

// submitRankings bundles every real result for the external rankings
// body in one payload.
func (s *EventService) submitRankings(event *models.Event) {
	var games []models.Game
	if err := s.DB.Where("event_id = ? AND is_bye = false AND state = ?", event.ID, models.GameComplete).
		Find(&games).Error; err != nil {
		s.Log.WithError(err).Warn("rankings export load failed")
		return
	}
	results := make([]map[string]interface{}, 0, len(games))
	for _, g := range games {
		if g.P1VP == nil || g.P2VP == nil {
			continue
		}
		results = append(results, map[string]interface{}{
			"game_id": g.ID,
			"p1":      g.P1ID,
			"p2":      g.P2ID,
			"p1_vp":   *g.P1VP,
			"p2_vp":   *g.P2VP,
			"winner":  g.WinnerID,
		})
	}
	s.Notifier.Send(ToChannel(utils.ChannelName("rankings", "submissions")), Payload{
		Kind:    PayloadRankingSubmission,
		EventID: event.ID,
		Body: map[string]interface{}{
			"event":        event.Name,
			"format":       event.Format,
			"points_limit": event.PointsLimit,
			"results":      results,
		},
	})
}

// GetEvent returns the event with its decoded schedule.
func (s *EventService) GetEvent(c *fiber.Ctx) error {
	event, err := getEvent(s.DB, c.Params("id"))
	if err != nil {
		return Reply(c, err)
	}
	return c.JSON(fiber.Map{
		"event":    event,
		"schedule": event.ScheduleSlots(),
		"layouts":  event.Layouts(),
		"missions": event.Missions(),
	})
}

// ListEvents returns every event, newest first.
func (s *EventService) ListEvents(c *fiber.Ctx) error {
	var events []models.Event
	if err := s.DB.Order("created_at DESC").Find(&events).Error; err != nil {
		return Reply(c, err)
	}
	return c.JSON(events)
}

// GetStandings returns the sorted table as JSON.
func (s *EventService) GetStandings(c *fiber.Ctx) error {
	event, err := getEvent(s.DB, c.Params("id"))
	if err != nil {
		return Reply(c, err)
	}
	var all []models.Standing
	if err := s.DB.Where("event_id = ?", event.ID).Find(&all).Error; err != nil {
		return Reply(c, err)
	}
	standings := FilterStandings(all, event.IsTeamFormat())
	if event.IsTeamFormat() {
		SortTeamStandings(standings)
	} else {
		SortStandings(standings)
	}
	return c.JSON(standings)
}

// transition is a guarded single-step event state move.
func (s *EventService) transition(eventID, from, to string) (*models.Event, error) {
	event, err := getEvent(s.DB, eventID)
	if err != nil {
		return nil, err
	}
	res := s.DB.Model(&models.Event{}).
		Where("id = ? AND state = ?", eventID, from).
		Update("state", to)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrInvalidState(from, event.State, "event cannot move to %s", to)
	}
	event.State = to
	return event, nil
}
