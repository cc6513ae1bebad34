// handlers/round.go
package handlers

import (
	"swiss-tourney-system/middleware"
	"swiss-tourney-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupRoundRoutes(app *fiber.App, roundService *services.RoundService) {
	app.Get("/events/:id/rounds", roundService.ListRounds)
	app.Get("/rounds/:id", roundService.GetRound)

	crew := app.Group("/", middleware.UserContextMiddleware(), middleware.RequireCrew())
	crew.Post("/events/:id/rounds", roundService.StartRound)
	crew.Post("/rounds/:id/repair", roundService.RepairRound)
	crew.Post("/rounds/:id/complete", roundService.CompleteRound)
}
