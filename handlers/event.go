// handlers/event.go
package handlers

import (
	"swiss-tourney-system/middleware"
	"swiss-tourney-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupEventRoutes(app *fiber.App, eventService *services.EventService) {
	// 🔓 Reads — Gateway auth only, no user context needed
	app.Get("/events", eventService.ListEvents)
	app.Get("/events/:id", eventService.GetEvent)
	app.Get("/events/:id/standings", eventService.GetStandings)

	// 🔐 Lifecycle — crew only
	crew := app.Group("/", middleware.UserContextMiddleware(), middleware.RequireCrew())
	crew.Post("/events", eventService.CreateEvent)
	crew.Post("/events/:id/open-interest", eventService.OpenInterest)
	crew.Post("/events/:id/open-registration", eventService.OpenRegistration)
	crew.Post("/events/:id/lock-lists", eventService.LockLists)
	crew.Post("/events/:id/finish", eventService.FinishEvent)
}
