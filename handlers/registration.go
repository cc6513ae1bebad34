// handlers/registration.go
package handlers

import (
	"swiss-tourney-system/middleware"
	"swiss-tourney-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupRegistrationRoutes(app *fiber.App, regService *services.RegistrationService) {
	secured := app.Group("/", middleware.UserContextMiddleware())
	secured.Post("/events/:id/interest", regService.SubmitInterest)
	secured.Post("/events/:id/list", regService.SubmitList)
	secured.Post("/events/:id/registrations/:player_id/drop", regService.Drop)

	crew := app.Group("/", middleware.UserContextMiddleware(), middleware.RequireCrew())
	crew.Get("/events/:id/registrations", regService.ListRegistrations)
	crew.Post("/events/:id/registrations/:player_id/approve", regService.Approve)
	crew.Post("/events/:id/registrations/:player_id/relegate", regService.Relegate)
	crew.Post("/events/:id/registrations/:player_id/reject", regService.Reject)
	crew.Post("/events/:id/registrations/promote", regService.PromoteReserves)
}
