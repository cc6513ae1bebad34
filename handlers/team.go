// handlers/team.go
package handlers

import (
	"swiss-tourney-system/middleware"
	"swiss-tourney-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupTeamRoutes(app *fiber.App, teamService *services.TeamService) {
	app.Get("/events/:id/teams", teamService.GetTeams)

	secured := app.Group("/", middleware.UserContextMiddleware())
	secured.Post("/events/:id/teams", teamService.CreateTeam)
	secured.Post("/teams/:team_id/members", teamService.AddMember)
	secured.Delete("/teams/:team_id/members/:player_id", teamService.RemoveMember)
	secured.Put("/teams/:team_id/members/:player_id/list", teamService.SetMemberList)
	secured.Post("/teams/:team_id/drop", teamService.DropTeam)

	crew := app.Group("/", middleware.UserContextMiddleware(), middleware.RequireCrew())
	crew.Post("/teams/:team_id/members/:player_id/approve-list", teamService.ApproveMemberList)
}
