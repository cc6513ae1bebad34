// handlers/ritual.go
package handlers

import (
	"swiss-tourney-system/middleware"
	"swiss-tourney-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupRitualRoutes(app *fiber.App, ritualService *services.RitualService) {
	app.Get("/rituals/:id", ritualService.GetRitual)

	secured := app.Group("/", middleware.UserContextMiddleware())
	secured.Post("/rituals/:id/roll", ritualService.SubmitRoll)
	secured.Post("/rituals/:id/defender", ritualService.SubmitDefender)
	secured.Post("/rituals/:id/attackers", ritualService.SubmitAttackers)
	secured.Post("/rituals/:id/choice", ritualService.SubmitChoice)
	secured.Post("/rituals/:id/layout", ritualService.SubmitLayout)
	secured.Post("/rituals/:id/mission", ritualService.SubmitMission)

	crew := app.Group("/", middleware.UserContextMiddleware(), middleware.RequireCrew())
	crew.Post("/rituals/:id/poke", ritualService.Poke)
}
