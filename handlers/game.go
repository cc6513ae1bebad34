// handlers/game.go
package handlers

import (
	"swiss-tourney-system/middleware"
	"swiss-tourney-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupGameRoutes(app *fiber.App, gameService *services.GameService) {
	app.Get("/games/:id", gameService.GetGame)

	secured := app.Group("/", middleware.UserContextMiddleware())
	secured.Post("/games/:id/result", gameService.Submit)
	secured.Post("/games/:id/confirm", gameService.Confirm)
	secured.Post("/games/:id/dispute", gameService.Dispute)

	crew := app.Group("/", middleware.UserContextMiddleware(), middleware.RequireCrew())
	crew.Post("/games/:id/override", gameService.Override)
	crew.Post("/games/:id/adjust", gameService.Adjust)
}
