package services

import (
	"errors"

	"swiss-tourney-system/models"
	"swiss-tourney-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TeamService manages rosters for team-format events. A team flips to
// ready exactly when its active non-substitute seats equal the format's
// team size and all of those lists are approved; any roster or list
// change re-derives the state.
type TeamService struct {
	DB       *gorm.DB
	Notifier Notifier
	Log      *logrus.Logger
}

func NewTeamService(db *gorm.DB, notifier Notifier, log *logrus.Logger) *TeamService {
	return &TeamService{DB: db, Notifier: notifier, Log: log}
}

// CreateTeam registers a new team; the creator becomes captain and
// takes the first seat.
func (s *TeamService) CreateTeam(c *fiber.Ctx) error {
	type Req struct {
		Name      string `json:"name"`
		CaptainID string `json:"captain_id"`
	}
	eventID := c.Params("id")
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.Name == "" || req.CaptainID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "name and captain_id are required"})
	}

	var event models.Event
	if err := s.DB.First(&event, "id = ?", eventID).Error; err != nil {
		return Reply(c, NewError(KindNotFound, "event %s not found", eventID))
	}
	if !event.IsTeamFormat() {
		return Reply(c, NewError(KindFormatUnsupported, "%s events do not take teams", event.Format))
	}

	var team models.Team
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var clash int64
		if err := tx.Model(&models.Team{}).
			Where("event_id = ? AND name = ? AND state <> ?", eventID, req.Name, models.TeamDropped).
			Count(&clash).Error; err != nil {
			return err
		}
		if clash > 0 {
			return NewError(KindDuplicateTeamName, "a team named %q already exists", req.Name)
		}
		if err := playerFreeForTeam(tx, eventID, req.CaptainID); err != nil {
			return err
		}

		team = models.Team{
			ID:        utils.NewID(utils.PrefixTeam),
			EventID:   eventID,
			Name:      req.Name,
			CaptainID: req.CaptainID,
			State:     models.TeamForming,
		}
		if err := tx.Create(&team).Error; err != nil {
			return err
		}
		captain := models.TeamMember{
			ID:       utils.NewID("mem"),
			TeamID:   team.ID,
			EventID:  eventID,
			PlayerID: req.CaptainID,
			Role:     models.RoleCaptain,
			Active:   true,
		}
		return tx.Create(&captain).Error
	})
	if err != nil {
		return Reply(c, err)
	}
	return c.Status(201).JSON(team)
}

// AddMember seats a player on the team. One active seat per player per
// event.
func (s *TeamService) AddMember(c *fiber.Ctx) error {
	type Req struct {
		PlayerID  string `json:"player_id"`
		Role      string `json:"role"`
		SortOrder int    `json:"sort_order"`
	}
	teamID := c.Params("team_id")
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.Role == "" {
		req.Role = models.RolePlayer
	}
	if req.Role != models.RolePlayer && req.Role != models.RoleSubstitute {
		return c.Status(400).JSON(fiber.Map{"error": "role must be player or substitute"})
	}

	team, err := s.loadTeam(teamID)
	if err != nil {
		return Reply(c, err)
	}
	if team.State == models.TeamDropped {
		return Reply(c, ErrInvalidState(models.TeamForming, team.State, "team has dropped"))
	}

	var member models.TeamMember
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := playerFreeForTeam(tx, team.EventID, req.PlayerID); err != nil {
			return err
		}
		member = models.TeamMember{
			ID:        utils.NewID("mem"),
			TeamID:    team.ID,
			EventID:   team.EventID,
			PlayerID:  req.PlayerID,
			Role:      req.Role,
			Active:    true,
			SortOrder: req.SortOrder,
		}
		if err := tx.Create(&member).Error; err != nil {
			return err
		}
		return s.refreshTeamState(tx, team)
	})
	if err != nil {
		return Reply(c, err)
	}
	return c.Status(201).JSON(member)
}

// RemoveMember deactivates a seat (results and list stay on file).
func (s *TeamService) RemoveMember(c *fiber.Ctx) error {
	teamID := c.Params("team_id")
	playerID := c.Params("player_id")

	team, err := s.loadTeam(teamID)
	if err != nil {
		return Reply(c, err)
	}
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.TeamMember{}).
			Where("team_id = ? AND player_id = ? AND active = true", teamID, playerID).
			Update("active", false)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return NewError(KindNotFound, "no active seat for player %s", playerID)
		}
		return s.refreshTeamState(tx, team)
	})
	if err != nil {
		return Reply(c, err)
	}
	return c.JSON(fiber.Map{"message": "member removed"})
}

// SetMemberList attaches a list to a seat; approval resets when the
// list changes.
func (s *TeamService) SetMemberList(c *fiber.Ctx) error {
	type Req struct {
		Army       string `json:"army"`
		Detachment string `json:"detachment"`
		ListText   string `json:"list_text"`
	}
	teamID := c.Params("team_id")
	playerID := c.Params("player_id")
	var req Req
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid JSON"})
	}

	team, err := s.loadTeam(teamID)
	if err != nil {
		return Reply(c, err)
	}
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.TeamMember{}).
			Where("team_id = ? AND player_id = ? AND active = true", teamID, playerID).
			Updates(map[string]interface{}{
				"army":          req.Army,
				"detachment":    req.Detachment,
				"list_text":     req.ListText,
				"list_approved": false,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return NewError(KindNotFound, "no active seat for player %s", playerID)
		}
		return s.refreshTeamState(tx, team)
	})
	if err != nil {
		return Reply(c, err)
	}
	return c.JSON(fiber.Map{"message": "list submitted"})
}

// ApproveMemberList marks a seat's list approved; the team may become
// ready as a result.
func (s *TeamService) ApproveMemberList(c *fiber.Ctx) error {
	teamID := c.Params("team_id")
	playerID := c.Params("player_id")

	team, err := s.loadTeam(teamID)
	if err != nil {
		return Reply(c, err)
	}
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.TeamMember{}).
			Where("team_id = ? AND player_id = ? AND active = true", teamID, playerID).
			Update("list_approved", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return NewError(KindNotFound, "no active seat for player %s", playerID)
		}
		return s.refreshTeamState(tx, team)
	})
	if err != nil {
		return Reply(c, err)
	}
	return c.JSON(fiber.Map{"message": "list approved"})
}

// DropTeam withdraws the whole roster; the team standing goes inactive
// but keeps its record.
func (s *TeamService) DropTeam(c *fiber.Ctx) error {
	teamID := c.Params("team_id")
	team, err := s.loadTeam(teamID)
	if err != nil {
		return Reply(c, err)
	}
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Team{}).
			Where("id = ? AND state <> ?", teamID, models.TeamDropped).
			Update("state", models.TeamDropped)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidState("live", models.TeamDropped, "team already dropped")
		}
		return tx.Model(&models.Standing{}).
			Where("event_id = ? AND player_id = ?", team.EventID, models.TeamStandingID(teamID)).
			Update("active", false).Error
	})
	if err != nil {
		return Reply(c, err)
	}
	return c.JSON(fiber.Map{"message": "team dropped"})
}

// GetTeams lists an event's teams with their rosters.
func (s *TeamService) GetTeams(c *fiber.Ctx) error {
	eventID := c.Params("id")
	var teams []models.Team
	if err := s.DB.Where("event_id = ?", eventID).Order("created_at ASC").Find(&teams).Error; err != nil {
		return Reply(c, err)
	}
	out := make([]fiber.Map, 0, len(teams))
	for _, t := range teams {
		var members []models.TeamMember
		s.DB.Where("team_id = ?", t.ID).Order("\"sort_order\" ASC, created_at ASC").Find(&members)
		out = append(out, fiber.Map{"team": t, "members": members})
	}
	return c.JSON(out)
}

func (s *TeamService) loadTeam(teamID string) (*models.Team, error) {
	var team models.Team
	if err := s.DB.First(&team, "id = ?", teamID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewError(KindNotFound, "team %s not found", teamID)
		}
		return nil, err
	}
	return &team, nil
}

// refreshTeamState re-derives forming/ready and keeps the synthetic
// team standing in step. The standing row is created on first ready
// and never deleted.
func (s *TeamService) refreshTeamState(tx *gorm.DB, team *models.Team) error {
	var event models.Event
	if err := tx.First(&event, "id = ?", team.EventID).Error; err != nil {
		return err
	}
	roster, err := activeRoster(tx, team.ID)
	if err != nil {
		return err
	}

	ready := len(roster) == models.TeamSize(event.Format)
	for _, m := range roster {
		if !m.ListApproved {
			ready = false
			break
		}
	}

	state := models.TeamForming
	if ready {
		state = models.TeamReady
	}
	if err := tx.Model(&models.Team{}).
		Where("id = ? AND state <> ?", team.ID, models.TeamDropped).
		Update("state", state).Error; err != nil {
		return err
	}

	if ready {
		standingID := models.TeamStandingID(team.ID)
		var count int64
		if err := tx.Model(&models.Standing{}).
			Where("event_id = ? AND player_id = ?", team.EventID, standingID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			standing := models.Standing{
				ID:       utils.NewID("std"),
				EventID:  team.EventID,
				PlayerID: standingID,
				Username: team.Name,
				TeamID:   team.ID,
				Active:   true,
			}
			if err := tx.Create(&standing).Error; err != nil {
				return err
			}
		}
		// Player standings ride along so per-player records exist for
		// team events too.
		for _, m := range roster {
			var n int64
			if err := tx.Model(&models.Standing{}).
				Where("event_id = ? AND player_id = ?", team.EventID, m.PlayerID).
				Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				st := models.Standing{
					ID:       utils.NewID("std"),
					EventID:  team.EventID,
					PlayerID: m.PlayerID,
					TeamID:   team.ID,
					Active:   true,
				}
				if err := tx.Create(&st).Error; err != nil {
					return err
				}
			}
		}
		s.Log.WithFields(logrus.Fields{"team_id": team.ID, "event_id": team.EventID}).Info("team ready")
	}
	return nil
}

// playerFreeForTeam rejects a player already holding an active seat in
// the event.
func playerFreeForTeam(tx *gorm.DB, eventID, playerID string) error {
	var count int64
	if err := tx.Model(&models.TeamMember{}).
		Joins("JOIN teams ON teams.id = team_members.team_id").
		Where("team_members.event_id = ? AND team_members.player_id = ? AND team_members.active = true AND teams.state <> ?",
			eventID, playerID, models.TeamDropped).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return NewError(KindPermissionDenied, "player %s is already on a team", playerID)
	}
	return nil
}
