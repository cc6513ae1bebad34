package services

import (
	"errors"
	"sync"
	"time"

	"swiss-tourney-system/models"
	"swiss-tourney-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// GateTimeout is how long a gate waits for captain input before the
// ritual locks and pages a TO.
const GateTimeout = 10 * time.Minute

// RitualService drives the captain pairing ritual for 3s/5s/8s team
// rounds. Each live matchup gets one runner goroutine; every captain
// submission is a command executed serially on that runner, so two
// captains typing at once can never interleave a gate. All cursor
// state lives in the PairingState row, which is what makes crash
// recovery a matter of re-reading the table.
type RitualService struct {
	DB       *gorm.DB
	Notifier Notifier
	Clock    clockwork.Clock
	Log      *logrus.Logger
	CrewRole string

	mu      sync.Mutex
	runners map[string]*ritualRunner
}

type ritualRunner struct {
	teamRoundID string
	cmds        chan func()
	stop        chan struct{}
}

func NewRitualService(db *gorm.DB, notifier Notifier, clock clockwork.Clock, log *logrus.Logger, crewRole string) *RitualService {
	return &RitualService{
		DB:       db,
		Notifier: notifier,
		Clock:    clock,
		Log:      log,
		CrewRole: crewRole,
		runners:  make(map[string]*ritualRunner),
	}
}

func (r *ritualRunner) run() {
	for {
		select {
		case fn := <-r.cmds:
			fn()
		case <-r.stop:
			return
		}
	}
}

func (s *RitualService) runner(teamRoundID string) *ritualRunner {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runners[teamRoundID]; ok {
		return r
	}
	r := &ritualRunner{
		teamRoundID: teamRoundID,
		cmds:        make(chan func(), 16),
		stop:        make(chan struct{}),
	}
	s.runners[teamRoundID] = r
	go r.run()
	return r
}

func (s *RitualService) release(teamRoundID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runners[teamRoundID]; ok {
		close(r.stop)
		delete(s.runners, teamRoundID)
	}
}

// exec runs fn on the matchup's runner and waits for its verdict.
func (s *RitualService) exec(teamRoundID string, fn func() error) error {
	reply := make(chan error, 1)
	s.runner(teamRoundID).cmds <- func() { reply <- fn() }
	return <-reply
}

// Begin spins up the runner for a freshly paired matchup and prompts
// the roll-off.
func (s *RitualService) Begin(teamRoundID string) {
	s.runner(teamRoundID).cmds <- func() {
		tr, ps, event, err := s.loadRitual(teamRoundID)
		if err != nil {
			s.Log.WithError(err).WithField("team_round_id", teamRoundID).Error("ritual begin failed")
			return
		}
		s.armGate(ps)
		s.prompt(tr, ps, event)
	}
}

// ResumeAll rebinds a runner to every matchup still mid-ritual. Called
// once on boot; the PairingState row says exactly which gate each one
// is waiting on.
func (s *RitualService) ResumeAll() error {
	var states []models.PairingState
	err := s.DB.
		Joins("JOIN team_rounds ON team_rounds.id = pairing_states.team_round_id").
		Where("team_rounds.state = ? AND pairing_states.current_step <> ?", models.TeamRoundPairing, models.StepComplete).
		Find(&states).Error
	if err != nil {
		return err
	}
	for i := range states {
		ps := states[i]
		s.runner(ps.TeamRoundID).cmds <- func() {
			tr, fresh, event, err := s.loadRitual(ps.TeamRoundID)
			if err != nil {
				s.Log.WithError(err).WithField("team_round_id", ps.TeamRoundID).Error("ritual resume failed")
				return
			}
			s.armGate(fresh)
			s.prompt(tr, fresh, event)
			s.Log.WithFields(logrus.Fields{
				"team_round_id": ps.TeamRoundID,
				"step":          fresh.CurrentStep,
				"phase":         fresh.CurrentPhase,
			}).Info("ritual resumed")
		}
	}
	if len(states) > 0 {
		s.Log.WithField("count", len(states)).Info("rituals rebound after restart")
	}
	return nil
}

// --- fiber handlers -------------------------------------------------

// SubmitRoll records one side's roll-off die. Ties clear both rolls
// and reprompt.
func (s *RitualService) SubmitRoll(c *fiber.Ctx) error {
	type Req struct {
		PlayerID string `json:"player_id"`
		Roll     int    `json:"roll"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.Roll < 1 || req.Roll > 6 {
		return c.Status(400).JSON(fiber.Map{"error": "roll must be 1..6"})
	}
	teamRoundID := c.Params("id")
	err := s.exec(teamRoundID, func() error {
		return s.handleRoll(teamRoundID, req.PlayerID, req.Roll)
	})
	if err != nil {
		return Reply(c, err)
	}
	return c.JSON(fiber.Map{"message": "roll recorded"})
}

// SubmitDefender records one side's secret defender for the current
// phase.
func (s *RitualService) SubmitDefender(c *fiber.Ctx) error {
	type Req struct {
		PlayerID string `json:"player_id"`
		Defender string `json:"defender"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	teamRoundID := c.Params("id")
	err := s.exec(teamRoundID, func() error {
		return s.handleDefender(teamRoundID, req.PlayerID, req.Defender)
	})
	if err != nil {
		return Reply(c, err)
	}
	return c.JSON(fiber.Map{"message": "defender locked in"})
}

// SubmitAttackers records one side's attacker pair for the current
// phase.
func (s *RitualService) SubmitAttackers(c *fiber.Ctx) error {
	type Req struct {
		PlayerID  string   `json:"player_id"`
		Attackers []string `json:"attackers"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	teamRoundID := c.Params("id")
	err := s.exec(teamRoundID, func() error {
		return s.handleAttackers(teamRoundID, req.PlayerID, req.Attackers)
	})
	if err != nil {
		return Reply(c, err)
	}
	return c.JSON(fiber.Map{"message": "attackers locked in"})
}

// SubmitChoice records which opposing attacker a side's defender will
// face.
func (s *RitualService) SubmitChoice(c *fiber.Ctx) error {
	type Req struct {
		PlayerID string `json:"player_id"`
		Choice   string `json:"choice"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	teamRoundID := c.Params("id")
	err := s.exec(teamRoundID, func() error {
		return s.handleChoice(teamRoundID, req.PlayerID, req.Choice)
	})
	if err != nil {
		return Reply(c, err)
	}
	return c.JSON(fiber.Map{"message": "choice locked in"})
}

// SubmitLayout records the layout pick for the slot currently on the
// table.
func (s *RitualService) SubmitLayout(c *fiber.Ctx) error {
	type Req struct {
		PlayerID string `json:"player_id"`
		Layout   int    `json:"layout"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	teamRoundID := c.Params("id")
	err := s.exec(teamRoundID, func() error {
		return s.handleLayout(teamRoundID, req.PlayerID, req.Layout)
	})
	if err != nil {
		return Reply(c, err)
	}
	return c.JSON(fiber.Map{"message": "layout picked"})
}

// SubmitMission records the mission pick for the slot currently on the
// table.
func (s *RitualService) SubmitMission(c *fiber.Ctx) error {
	type Req struct {
		PlayerID string `json:"player_id"`
		Mission  string `json:"mission"`
	}
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	teamRoundID := c.Params("id")
	err := s.exec(teamRoundID, func() error {
		return s.handleMission(teamRoundID, req.PlayerID, req.Mission)
	})
	if err != nil {
		return Reply(c, err)
	}
	return c.JSON(fiber.Map{"message": "mission picked"})
}

// Poke is the TO unlock for a timed-out gate: fresh deadline, fresh
// prompts.
func (s *RitualService) Poke(c *fiber.Ctx) error {
	teamRoundID := c.Params("id")
	err := s.exec(teamRoundID, func() error {
		tr, ps, event, err := s.loadRitual(teamRoundID)
		if err != nil {
			return err
		}
		if ps.CurrentStep == models.StepComplete {
			return ErrInvalidState(models.TeamRoundPairing, models.TeamRoundPlaying, "ritual already finished")
		}
		s.armGate(ps)
		s.prompt(tr, ps, event)
		s.Log.WithField("team_round_id", teamRoundID).Info("ritual gate re-armed by TO")
		return nil
	})
	if err != nil {
		return Reply(c, err)
	}
	return c.JSON(fiber.Map{"message": "ritual poked"})
}

// GetRitual exposes the matchup's cursor. Secret columns stay hidden
// until their gate has revealed.
func (s *RitualService) GetRitual(c *fiber.Ctx) error {
	_, ps, _, err := s.loadRitual(c.Params("id"))
	if err != nil {
		return Reply(c, err)
	}
	view := fiber.Map{
		"team_round_id": ps.TeamRoundID,
		"phase":         ps.CurrentPhase,
		"step":          ps.CurrentStep,
		"slot":          ps.CurrentSlot,
		"gate_deadline": ps.GateDeadline,
	}
	if ps.CurrentStep != models.StepAwaitDefenders && ps.DefenderA != nil {
		view["defender_a"], view["defender_b"] = ps.DefenderA, ps.DefenderB
	}
	if ps.CurrentStep != models.StepAwaitAttackers && ps.AttackersA != nil {
		view["attackers_a"], view["attackers_b"] = ps.AttackersAList(), ps.AttackersBList()
	}
	return c.JSON(view)
}

// --- gate handlers (runner goroutine only) --------------------------

func (s *RitualService) handleRoll(teamRoundID, playerID string, roll int) error {
	tr, ps, event, err := s.loadRitual(teamRoundID)
	if err != nil {
		return err
	}
	side, err := s.captainSide(tr, playerID)
	if err != nil {
		return err
	}
	if err := s.checkGateOpen(ps, models.StepAwaitRolloff); err != nil {
		return err
	}

	col := "roll_a"
	if side == models.PickerTeamB {
		col = "roll_b"
	}
	if err := s.fillState(ps, models.StepAwaitRolloff, col, roll); err != nil {
		return err
	}

	ps, err = s.reload(teamRoundID)
	if err != nil {
		return err
	}
	if ps.RollA == nil || ps.RollB == nil {
		return nil // waiting on the other captain
	}

	winner := ResolveRolloff(*ps.RollA, *ps.RollB)
	if winner == "" {
		// Tie: wipe both and start over.
		if err := s.DB.Model(&models.PairingState{}).Where("id = ?", ps.ID).
			Updates(map[string]interface{}{"roll_a": nil, "roll_b": nil}).Error; err != nil {
			return err
		}
		s.armGate(ps)
		s.promptBoth(tr, event, ps, map[string]interface{}{"note": "roll-off tied, roll again"})
		return nil
	}

	if err := s.DB.Model(&models.TeamRound{}).Where("id = ?", tr.ID).
		Update("layout_picker", winner).Error; err != nil {
		return err
	}
	return s.moveStep(tr, ps, event, models.StepAwaitRolloff, models.StepAwaitDefenders, 0)
}

func (s *RitualService) handleDefender(teamRoundID, playerID, defender string) error {
	tr, ps, event, err := s.loadRitual(teamRoundID)
	if err != nil {
		return err
	}
	side, err := s.captainSide(tr, playerID)
	if err != nil {
		return err
	}
	if err := s.checkGateOpen(ps, models.StepAwaitDefenders); err != nil {
		return err
	}

	eligible, err := s.eligibleFor(tr, event, side, "")
	if err != nil {
		return err
	}
	if !Contains(eligible, defender) {
		return NewError(KindNoEligiblePlayers, "%s is not an eligible defender", defender)
	}

	col := "defender_a"
	if side == models.PickerTeamB {
		col = "defender_b"
	}
	if err := s.fillState(ps, models.StepAwaitDefenders, col, defender); err != nil {
		return err
	}

	ps, err = s.reload(teamRoundID)
	if err != nil {
		return err
	}
	if ps.DefenderA == nil || ps.DefenderB == nil {
		return nil
	}
	return s.moveStep(tr, ps, event, models.StepAwaitDefenders, models.StepAwaitAttackers, 0)
}

func (s *RitualService) handleAttackers(teamRoundID, playerID string, attackers []string) error {
	tr, ps, event, err := s.loadRitual(teamRoundID)
	if err != nil {
		return err
	}
	side, err := s.captainSide(tr, playerID)
	if err != nil {
		return err
	}
	if err := s.checkGateOpen(ps, models.StepAwaitAttackers); err != nil {
		return err
	}

	ownDefender := deref(ps.DefenderA)
	if side == models.PickerTeamB {
		ownDefender = deref(ps.DefenderB)
	}
	eligible, err := s.eligibleFor(tr, event, side, ownDefender)
	if err != nil {
		return err
	}
	want := AttackerCount(len(eligible))
	if len(attackers) != want {
		return NewError(KindNoEligiblePlayers, "offer exactly %d attackers", want)
	}
	seen := map[string]bool{}
	for _, a := range attackers {
		if seen[a] || !Contains(eligible, a) {
			return NewError(KindNoEligiblePlayers, "%s is not an eligible attacker", a)
		}
		seen[a] = true
	}

	col := "attackers_a"
	if side == models.PickerTeamB {
		col = "attackers_b"
	}
	if err := s.fillState(ps, models.StepAwaitAttackers, col, models.EncodeIDList(attackers)); err != nil {
		return err
	}

	ps, err = s.reload(teamRoundID)
	if err != nil {
		return err
	}
	if ps.AttackersA == nil || ps.AttackersB == nil {
		return nil
	}
	return s.moveStep(tr, ps, event, models.StepAwaitAttackers, models.StepAwaitChoice, 0)
}

func (s *RitualService) handleChoice(teamRoundID, playerID, choice string) error {
	tr, ps, event, err := s.loadRitual(teamRoundID)
	if err != nil {
		return err
	}
	side, err := s.captainSide(tr, playerID)
	if err != nil {
		return err
	}
	if err := s.checkGateOpen(ps, models.StepAwaitChoice); err != nil {
		return err
	}

	// A picks out of B's offered attackers, and vice versa.
	offered := ps.AttackersBList()
	col := "choice_a"
	if side == models.PickerTeamB {
		offered = ps.AttackersAList()
		col = "choice_b"
	}
	if !Contains(offered, choice) {
		return NewError(KindNoEligiblePlayers, "%s was not offered as an attacker", choice)
	}
	if err := s.fillState(ps, models.StepAwaitChoice, col, choice); err != nil {
		return err
	}

	ps, err = s.reload(teamRoundID)
	if err != nil {
		return err
	}
	if ps.ChoiceA == nil || ps.ChoiceB == nil {
		return nil
	}
	return s.sealPhase(tr, ps, event)
}

// sealPhase turns a completed choice gate into the phase's two slots
// and opens the layout/mission picks for them.
func (s *RitualService) sealPhase(tr *models.TeamRound, ps *models.PairingState, event *models.Event) error {
	slots := DeriveChoiceSlots(
		ps.CurrentPhase, tr.TeamAID, tr.TeamBID,
		deref(ps.DefenderA), deref(ps.DefenderB),
		ps.AttackersAList(), ps.AttackersBList(),
		deref(ps.ChoiceA), deref(ps.ChoiceB),
	)
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		for _, sa := range slots[:] {
			if err := s.createSlot(tx, tr, event, sa); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.moveStep(tr, ps, event, models.StepAwaitChoice, models.StepAwaitLayoutA, slots[0].Slot)
}

func (s *RitualService) handleLayout(teamRoundID, playerID string, layout int) error {
	tr, ps, event, err := s.loadRitual(teamRoundID)
	if err != nil {
		return err
	}
	side, err := s.captainSide(tr, playerID)
	if err != nil {
		return err
	}
	step := ps.CurrentStep
	if step != models.StepAwaitLayoutA && step != models.StepAwaitLayoutB {
		return ErrInvalidState(models.StepAwaitLayoutA, step, "no layout pick is open")
	}
	if err := s.checkGateOpen(ps, step); err != nil {
		return err
	}

	pairing, err := s.slotPairing(tr.ID, ps.CurrentSlot)
	if err != nil {
		return err
	}
	if pairing.LayoutPickerTeam != side {
		return NewError(KindPermissionDenied, "the other side picks the layout for table %d", ps.CurrentSlot)
	}
	used, err := s.usedLayouts(tr.ID)
	if err != nil {
		return err
	}
	if !layoutAllowed(LayoutOptions(event.Layouts(), used), layout) {
		return NewError(KindNotFound, "layout %d is not available for this matchup", layout)
	}

	res := s.DB.Model(&models.TeamPairing{}).
		Where("id = ? AND layout_number IS NULL", pairing.ID).
		Update("layout_number", layout)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return NewError(KindAlreadySubmitted, "layout for table %d is already locked", ps.CurrentSlot)
	}

	next := models.StepAwaitMissionA
	if step == models.StepAwaitLayoutB {
		next = models.StepAwaitMissionB
	}
	return s.moveStep(tr, ps, event, step, next, ps.CurrentSlot)
}

func (s *RitualService) handleMission(teamRoundID, playerID, mission string) error {
	tr, ps, event, err := s.loadRitual(teamRoundID)
	if err != nil {
		return err
	}
	side, err := s.captainSide(tr, playerID)
	if err != nil {
		return err
	}
	step := ps.CurrentStep
	if step != models.StepAwaitMissionA && step != models.StepAwaitMissionB {
		return ErrInvalidState(models.StepAwaitMissionA, step, "no mission pick is open")
	}
	if err := s.checkGateOpen(ps, step); err != nil {
		return err
	}

	pairing, err := s.slotPairing(tr.ID, ps.CurrentSlot)
	if err != nil {
		return err
	}
	if pairing.MissionPickerTeam != side {
		return NewError(KindPermissionDenied, "the other side picks the mission for table %d", ps.CurrentSlot)
	}
	if pairing.LayoutNumber == nil {
		return ErrInvalidState(models.StepAwaitLayoutA, step, "layout must be picked first")
	}
	if !missionAllowed(MissionOptions(event.Missions(), *pairing.LayoutNumber), mission) {
		return NewError(KindNotFound, "mission %s is not valid on layout %d", mission, *pairing.LayoutNumber)
	}

	res := s.DB.Model(&models.TeamPairing{}).
		Where("id = ? AND mission_code = ''", pairing.ID).
		Update("mission_code", mission)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return NewError(KindAlreadySubmitted, "mission for table %d is already locked", ps.CurrentSlot)
	}
	return s.afterMission(tr, ps, event, step)
}

// afterMission decides where the cursor goes once a slot is fully
// dressed: the partner slot, the next phase, the closers, or done.
func (s *RitualService) afterMission(tr *models.TeamRound, ps *models.PairingState, event *models.Event, step string) error {
	phases := PhaseCount(event.Format)

	if step == models.StepAwaitMissionA {
		second := partnerSlot(event.Format, ps.CurrentSlot)
		if second == 0 {
			return s.finish(tr, ps, event, step)
		}
		return s.openSlot(tr, ps, event, step, second, models.StepAwaitLayoutB, models.StepAwaitMissionB)
	}

	// Mission B: end of a phase pair or of the closer pair.
	if ps.CurrentSlot == 2*ps.CurrentPhase && ps.CurrentPhase <= phases {
		if ps.CurrentPhase < phases {
			return s.nextPhase(tr, ps, event, step)
		}
		return s.startClosers(tr, ps, event, step)
	}
	return s.finish(tr, ps, event, step)
}

// openSlot advances the cursor to the given slot, skipping the layout
// step when the slot's layout is pre-assigned.
func (s *RitualService) openSlot(tr *models.TeamRound, ps *models.PairingState, event *models.Event, fromStep string, slot int, layoutStep, missionStep string) error {
	pairing, err := s.slotPairing(tr.ID, slot)
	if err != nil {
		return err
	}
	next := layoutStep
	if pairing.LayoutNumber != nil {
		next = missionStep
	}
	return s.moveStep(tr, ps, event, fromStep, next, slot)
}

// nextPhase resets the secret columns and reopens the defender gate.
// Rolls and the layout picker persist across phases.
func (s *RitualService) nextPhase(tr *models.TeamRound, ps *models.PairingState, event *models.Event, fromStep string) error {
	res := s.DB.Model(&models.PairingState{}).
		Where("id = ? AND current_step = ?", ps.ID, fromStep).
		Updates(map[string]interface{}{
			"current_phase": ps.CurrentPhase + 1,
			"current_step":  models.StepAwaitDefenders,
			"current_slot":  0,
			"defender_a":    nil,
			"defender_b":    nil,
			"attackers_a":   nil,
			"attackers_b":   nil,
			"choice_a":      nil,
			"choice_b":      nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return NewError(KindStoreConflict, "ritual state changed underneath")
	}
	fresh, err := s.reload(tr.ID)
	if err != nil {
		return err
	}
	s.armGate(fresh)
	s.prompt(tr, fresh, event)
	return nil
}

// startClosers fills the format's scripted final slots and opens their
// picks.
func (s *RitualService) startClosers(tr *models.TeamRound, ps *models.PairingState, event *models.Event, fromStep string) error {
	remA, remB, err := s.remaining(tr, event)
	if err != nil {
		return err
	}

	var closers []SlotAssignment
	switch event.Format {
	case models.FormatTeams3, models.FormatTeams5:
		// One player left per side: they play each other.
		if len(remA) == 0 || len(remB) == 0 {
			return NewError(KindNoEligiblePlayers, "matchup %s has no players left for the final table", tr.ID)
		}
		closers = append(closers, SlotAssignment{
			Slot:           SlotCount(event.Format),
			DefenderPlayer: remA[0],
			DefenderTeam:   tr.TeamAID,
			AttackerPlayer: remB[0],
			AttackerTeam:   tr.TeamBID,
		})
	case models.FormatTeams8:
		// Table 7 pairs the final phase's refused players; table 8 is
		// the scrum of whoever is left, on a pre-assigned layout.
		refA, refB, err := s.lastRefused(tr, ps.CurrentPhase)
		if err != nil {
			return err
		}
		if refA == "" && len(remA) > 0 {
			refA = remA[0]
		}
		if refB == "" && len(remB) > 0 {
			refB = remB[0]
		}
		closers = append(closers, SlotAssignment{
			Slot:           7,
			DefenderPlayer: refA,
			DefenderTeam:   tr.TeamAID,
			AttackerPlayer: refB,
			AttackerTeam:   tr.TeamBID,
		})
		lastA := firstOther(remA, refA)
		lastB := firstOther(remB, refB)
		closers = append(closers, SlotAssignment{
			Slot:           8,
			DefenderPlayer: lastA,
			DefenderTeam:   tr.TeamAID,
			AttackerPlayer: lastB,
			AttackerTeam:   tr.TeamBID,
		})
	default:
		return NewError(KindFormatUnsupported, "format %s has no ritual closers", event.Format)
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		for _, sa := range closers {
			if err := s.createSlot(tx, tr, event, sa); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// The scrum's layout is not picked, it is whatever is left.
	if event.Format == models.FormatTeams8 {
		if err := s.preassignScrumLayout(tr, event); err != nil {
			return err
		}
	}
	return s.openSlot(tr, ps, event, fromStep, closers[0].Slot, models.StepAwaitLayoutA, models.StepAwaitMissionA)
}

// finish marks the ritual complete, flips the matchup to playing and
// deals the pairing cards.
func (s *RitualService) finish(tr *models.TeamRound, ps *models.PairingState, event *models.Event, fromStep string) error {
	res := s.DB.Model(&models.PairingState{}).
		Where("id = ? AND current_step = ?", ps.ID, fromStep).
		Updates(map[string]interface{}{"current_step": models.StepComplete, "gate_deadline": nil})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return NewError(KindStoreConflict, "ritual state changed underneath")
	}
	if err := s.DB.Model(&models.TeamRound{}).
		Where("id = ? AND state = ?", tr.ID, models.TeamRoundPairing).
		Update("state", models.TeamRoundPlaying).Error; err != nil {
		return err
	}

	var pairings []models.TeamPairing
	if err := s.DB.Where("team_round_id = ?", tr.ID).Order("slot ASC").Find(&pairings).Error; err != nil {
		return err
	}
	for _, p := range pairings {
		body := map[string]interface{}{
			"table":    p.Slot,
			"defender": p.DefenderPlayer,
			"attacker": p.AttackerPlayer,
			"mission":  p.MissionCode,
		}
		if p.LayoutNumber != nil {
			body["layout"] = *p.LayoutNumber
		}
		payload := Payload{Kind: PayloadPairingCard, EventID: tr.EventID, Body: body}
		s.Notifier.Send(ToPrincipal(p.DefenderPlayer), payload)
		s.Notifier.Send(ToPrincipal(p.AttackerPlayer), payload)
	}

	s.Log.WithFields(logrus.Fields{
		"team_round_id": tr.ID,
		"tables":        len(pairings),
	}).Info("pairing ritual complete 🎲")
	s.release(tr.ID)
	return nil
}

// --- plumbing -------------------------------------------------------

// fillState is the write-once gate column write: it only lands while
// the step matches and the column is still NULL.
func (s *RitualService) fillState(ps *models.PairingState, step, col string, value interface{}) error {
	res := s.DB.Model(&models.PairingState{}).
		Where("id = ? AND current_phase = ? AND current_step = ? AND "+col+" IS NULL",
			ps.ID, ps.CurrentPhase, step).
		Update(col, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		fresh, err := s.reload(ps.TeamRoundID)
		if err != nil {
			return err
		}
		if fresh.CurrentStep != step || fresh.CurrentPhase != ps.CurrentPhase {
			return ErrInvalidState(step, fresh.CurrentStep, "that gate has moved on")
		}
		return NewError(KindAlreadySubmitted, "already locked in for this phase")
	}
	return nil
}

// moveStep advances the cursor and re-arms the gate clock.
func (s *RitualService) moveStep(tr *models.TeamRound, ps *models.PairingState, event *models.Event, from, to string, slot int) error {
	res := s.DB.Model(&models.PairingState{}).
		Where("id = ? AND current_step = ?", ps.ID, from).
		Updates(map[string]interface{}{"current_step": to, "current_slot": slot})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return NewError(KindStoreConflict, "ritual state changed underneath")
	}
	fresh, err := s.reload(tr.ID)
	if err != nil {
		return err
	}
	s.armGate(fresh)
	s.prompt(tr, fresh, event)
	return nil
}

// armGate stamps a fresh deadline and schedules the timeout check. The
// check re-reads the row and ignores itself if the cursor moved — a
// slow captain beats the clock by a hair sometimes, and that is fine.
func (s *RitualService) armGate(ps *models.PairingState) {
	deadline := s.Clock.Now().Add(GateTimeout)
	if err := s.DB.Model(&models.PairingState{}).Where("id = ?", ps.ID).
		Update("gate_deadline", deadline).Error; err != nil {
		s.Log.WithError(err).Warn("gate deadline write failed")
	}

	teamRoundID := ps.TeamRoundID
	phase, step, slot := ps.CurrentPhase, ps.CurrentStep, ps.CurrentSlot
	s.Clock.AfterFunc(GateTimeout, func() {
		s.runner(teamRoundID).cmds <- func() {
			fresh, err := s.reload(teamRoundID)
			if err != nil {
				return
			}
			if fresh.CurrentPhase != phase || fresh.CurrentStep != step || fresh.CurrentSlot != slot {
				return // gate already cleared
			}
			if fresh.GateDeadline == nil || s.Clock.Now().Before(*fresh.GateDeadline) {
				return // re-armed in the meantime
			}
			s.Notifier.Send(ToRole(s.CrewRole), Payload{
				Kind:    PayloadJudgeAlert,
				EventID: fresh.EventID,
				Body: map[string]interface{}{
					"team_round_id": teamRoundID,
					"step":          step,
					"phase":         phase,
					"reason":        "pairing ritual gate timed out",
				},
			})
			s.Log.WithFields(logrus.Fields{
				"team_round_id": teamRoundID,
				"step":          step,
			}).Warn("ritual gate timed out, waiting on a TO")
		}
	})
}

// checkGateOpen rejects input on a gate whose clock has run out; a TO
// poke reopens it.
func (s *RitualService) checkGateOpen(ps *models.PairingState, step string) error {
	if ps.CurrentStep != step {
		return ErrInvalidState(step, ps.CurrentStep, "that is not the gate on the table")
	}
	if ps.GateDeadline != nil && s.Clock.Now().After(*ps.GateDeadline) {
		return NewError(KindRitualTimeout, "gate timed out, a TO must poke the ritual")
	}
	return nil
}

func (s *RitualService) createSlot(tx *gorm.DB, tr *models.TeamRound, event *models.Event, sa SlotAssignment) error {
	winner := tr.LayoutPicker
	pickers := PickersFor(event.Format, sa.Slot)
	pairing := models.TeamPairing{
		ID:                utils.NewID(utils.PrefixTeamPairing),
		TeamRoundID:       tr.ID,
		Slot:              sa.Slot,
		DefenderPlayer:    sa.DefenderPlayer,
		DefenderTeam:      sa.DefenderTeam,
		AttackerPlayer:    sa.AttackerPlayer,
		AttackerTeam:      sa.AttackerTeam,
		RefusedPlayer:     sa.RefusedPlayer,
		LayoutPickerTeam:  PickerTeam(pickers.Layout, winner),
		MissionPickerTeam: PickerTeam(pickers.Mission, winner),
	}
	game := models.Game{
		ID:            utils.NewID(utils.PrefixGame),
		RoundID:       tr.RoundID,
		EventID:       tr.EventID,
		TeamPairingID: pairing.ID,
		P1ID:          sa.DefenderPlayer,
		P2ID:          sa.AttackerPlayer,
		State:         models.GamePending,
	}
	pairing.GameID = game.ID
	if err := tx.Create(&pairing).Error; err != nil {
		return err
	}
	return tx.Create(&game).Error
}

// preassignScrumLayout gives table 8 its fixed layout.
func (s *RitualService) preassignScrumLayout(tr *models.TeamRound, event *models.Event) error {
	layout, ok := ScrumLayout(event.Layouts())
	if !ok {
		return nil
	}
	return s.DB.Model(&models.TeamPairing{}).
		Where("team_round_id = ? AND slot = 8 AND layout_number IS NULL", tr.ID).
		Update("layout_number", layout).Error
}

// eligibleFor is a side's roster minus everyone already seated, minus
// an optional extra exclusion (the side's own fresh defender).
func (s *RitualService) eligibleFor(tr *models.TeamRound, event *models.Event, side, exclude string) ([]string, error) {
	teamID := tr.TeamAID
	if side == models.PickerTeamB {
		teamID = tr.TeamBID
	}
	members, err := activeRoster(s.DB, teamID)
	if err != nil {
		return nil, err
	}
	used, err := s.seatedPlayers(tr.ID)
	if err != nil {
		return nil, err
	}
	if exclude != "" {
		used[exclude] = true
	}
	roster := make([]string, len(members))
	for i, m := range members {
		roster[i] = m.PlayerID
	}
	return Eligible(roster, used), nil
}

// seatedPlayers is everyone already locked into a table of this
// matchup. Refused players are not seated.
func (s *RitualService) seatedPlayers(teamRoundID string) (map[string]bool, error) {
	var pairings []models.TeamPairing
	if err := s.DB.Where("team_round_id = ?", teamRoundID).Find(&pairings).Error; err != nil {
		return nil, err
	}
	used := make(map[string]bool, 2*len(pairings))
	for _, p := range pairings {
		used[p.DefenderPlayer] = true
		used[p.AttackerPlayer] = true
	}
	return used, nil
}

func (s *RitualService) remaining(tr *models.TeamRound, event *models.Event) ([]string, []string, error) {
	remA, err := s.eligibleFor(tr, event, models.PickerTeamA, "")
	if err != nil {
		return nil, nil, err
	}
	remB, err := s.eligibleFor(tr, event, models.PickerTeamB, "")
	if err != nil {
		return nil, nil, err
	}
	return remA, remB, nil
}

// lastRefused pulls the refused players out of the given phase's two
// pairings: the odd slot refuses a side-B player, the even slot a
// side-A player.
func (s *RitualService) lastRefused(tr *models.TeamRound, phase int) (refA, refB string, err error) {
	base := 2 * (phase - 1)
	var pairings []models.TeamPairing
	if err := s.DB.Where("team_round_id = ? AND slot IN ?", tr.ID, []int{base + 1, base + 2}).
		Find(&pairings).Error; err != nil {
		return "", "", err
	}
	for _, p := range pairings {
		if p.Slot == base+1 {
			refB = p.RefusedPlayer
		} else {
			refA = p.RefusedPlayer
		}
	}
	return refA, refB, nil
}

func (s *RitualService) usedLayouts(teamRoundID string) ([]int, error) {
	var pairings []models.TeamPairing
	if err := s.DB.Where("team_round_id = ? AND layout_number IS NOT NULL", teamRoundID).
		Find(&pairings).Error; err != nil {
		return nil, err
	}
	used := make([]int, 0, len(pairings))
	for _, p := range pairings {
		used = append(used, *p.LayoutNumber)
	}
	return used, nil
}

func (s *RitualService) slotPairing(teamRoundID string, slot int) (*models.TeamPairing, error) {
	var pairing models.TeamPairing
	err := s.DB.Where("team_round_id = ? AND slot = ?", teamRoundID, slot).First(&pairing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewError(KindNotFound, "no pairing at table %d yet", slot)
		}
		return nil, err
	}
	return &pairing, nil
}

// captainSide resolves a player to the side they captain, or denies.
func (s *RitualService) captainSide(tr *models.TeamRound, playerID string) (string, error) {
	var count int64
	if err := s.DB.Model(&models.TeamMember{}).
		Where("team_id = ? AND player_id = ? AND role = ? AND active = true", tr.TeamAID, playerID, models.RoleCaptain).
		Count(&count).Error; err != nil {
		return "", err
	}
	if count > 0 {
		return models.PickerTeamA, nil
	}
	if err := s.DB.Model(&models.TeamMember{}).
		Where("team_id = ? AND player_id = ? AND role = ? AND active = true", tr.TeamBID, playerID, models.RoleCaptain).
		Count(&count).Error; err != nil {
		return "", err
	}
	if count > 0 {
		return models.PickerTeamB, nil
	}
	return "", NewError(KindPermissionDenied, "only the two captains speak in the ritual")
}

func (s *RitualService) captains(tr *models.TeamRound) (string, string) {
	cap := func(teamID string) string {
		var member models.TeamMember
		err := s.DB.Where("team_id = ? AND role = ? AND active = true", teamID, models.RoleCaptain).
			First(&member).Error
		if err != nil {
			return ""
		}
		return member.PlayerID
	}
	return cap(tr.TeamAID), cap(tr.TeamBID)
}

// prompt tells whoever owes input what is wanted of them.
func (s *RitualService) prompt(tr *models.TeamRound, ps *models.PairingState, event *models.Event) {
	body := map[string]interface{}{
		"team_round_id": tr.ID,
		"step":          ps.CurrentStep,
		"phase":         ps.CurrentPhase,
		"deadline":      ps.GateDeadline,
	}
	switch ps.CurrentStep {
	case models.StepAwaitRolloff, models.StepAwaitDefenders, models.StepAwaitAttackers, models.StepAwaitChoice:
		s.promptBoth(tr, event, ps, body)
	case models.StepAwaitLayoutA, models.StepAwaitLayoutB, models.StepAwaitMissionA, models.StepAwaitMissionB:
		pairing, err := s.slotPairing(tr.ID, ps.CurrentSlot)
		if err != nil {
			return
		}
		body["table"] = ps.CurrentSlot
		picker := pairing.LayoutPickerTeam
		if ps.CurrentStep == models.StepAwaitMissionA || ps.CurrentStep == models.StepAwaitMissionB {
			picker = pairing.MissionPickerTeam
		}
		capA, capB := s.captains(tr)
		target := capA
		if picker == models.PickerTeamB {
			target = capB
		}
		if target != "" {
			s.Notifier.Send(ToPrincipal(target), Payload{Kind: PayloadRitualPrompt, EventID: tr.EventID, Body: body})
		}
	}
}

func (s *RitualService) promptBoth(tr *models.TeamRound, event *models.Event, ps *models.PairingState, extra map[string]interface{}) {
	body := map[string]interface{}{
		"team_round_id": tr.ID,
		"step":          ps.CurrentStep,
		"phase":         ps.CurrentPhase,
		"deadline":      ps.GateDeadline,
	}
	for k, v := range extra {
		body[k] = v
	}
	capA, capB := s.captains(tr)
	payload := Payload{Kind: PayloadRitualPrompt, EventID: tr.EventID, Body: body}
	if capA != "" {
		s.Notifier.Send(ToPrincipal(capA), payload)
	}
	if capB != "" {
		s.Notifier.Send(ToPrincipal(capB), payload)
	}
}

func (s *RitualService) loadRitual(teamRoundID string) (*models.TeamRound, *models.PairingState, *models.Event, error) {
	var tr models.TeamRound
	if err := s.DB.First(&tr, "id = ?", teamRoundID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil, NewError(KindNotFound, "team round %s not found", teamRoundID)
		}
		return nil, nil, nil, err
	}
	ps, err := s.reload(teamRoundID)
	if err != nil {
		return nil, nil, nil, err
	}
	var event models.Event
	if err := s.DB.First(&event, "id = ?", tr.EventID).Error; err != nil {
		return nil, nil, nil, err
	}
	return &tr, ps, &event, nil
}

func (s *RitualService) reload(teamRoundID string) (*models.PairingState, error) {
	var ps models.PairingState
	err := s.DB.Where("team_round_id = ?", teamRoundID).First(&ps).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewError(KindNotFound, "no ritual for team round %s", teamRoundID)
		}
		return nil, err
	}
	return &ps, nil
}

// partnerSlot is the second slot of a two-slot group, or 0 when the
// slot stands alone.
func partnerSlot(format string, slot int) int {
	if slot%2 == 1 && slot+1 <= SlotCount(format) {
		return slot + 1
	}
	return 0
}

func layoutAllowed(options []models.EventLayout, layout int) bool {
	for _, l := range options {
		if l.Number == layout {
			return true
		}
	}
	return false
}

func missionAllowed(options []models.EventMission, code string) bool {
	for _, m := range options {
		if m.Code == code {
			return true
		}
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
