package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"swiss-tourney-system/handlers"
	"swiss-tourney-system/middleware"
	"swiss-tourney-system/models"
	"swiss-tourney-system/services"
	"swiss-tourney-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := godotenv.Load(); err != nil {
		log.Warn("⚠️  No .env file found, reading environment variables directly")
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}

	if err := db.AutoMigrate(
		&models.Event{},
		&models.Registration{},
		&models.Round{},
		&models.Game{},
		&models.Team{},
		&models.TeamMember{},
		&models.TeamRound{},
		&models.TeamPairing{},
		&models.PairingState{},
		&models.Standing{},
		&models.AuditLog{},
		&models.MessageRef{},
	); err != nil {
		log.WithError(err).Fatal("failed to migrate database")
	}

	app := fiber.New(fiber.Config{
		AppName: "swiss-tourney-system",
	})

	// 🔐 GLOBAL: only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	notifier := services.NewLogNotifier(log)
	registry := services.NewRegistry(db)
	if err := registry.Load(); err != nil {
		log.WithError(err).Fatal("failed to load message registry")
	}

	clock := clockwork.NewRealClock()
	crewRole := os.Getenv("CREW_ROLE_ID")
	allowTeams := strings.EqualFold(os.Getenv("ALLOW_TEAM_FORMATS"), "true")

	eventService := services.NewEventService(db, notifier, registry, clock, log, allowTeams)
	regService := services.NewRegistrationService(db, notifier, registry, clock, log, crewRole)
	teamService := services.NewTeamService(db, notifier, log)
	pairingService := services.NewPairingService(db, notifier, log, parseRooms(os.Getenv("GAME_ROOMS")))
	ritualService := services.NewRitualService(db, notifier, clock, log, crewRole)
	gameService := services.NewGameService(db, notifier, clock, log, crewRole)
	roundService := services.NewRoundService(db, notifier, pairingService, ritualService, registry, clock, log)

	// Rebind any ritual that a restart interrupted.
	if err := ritualService.ResumeAll(); err != nil {
		log.WithError(err).Fatal("failed to resume pairing rituals")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	auditWorker := workers.NewAuditFlushWorker(db, notifier, log)
	auditWorker.Start(ctx)

	services.StartSweeps(gameService, eventService, log)

	handlers.SetupEventRoutes(app, eventService)
	handlers.SetupRegistrationRoutes(app, regService)
	handlers.SetupTeamRoutes(app, teamService)
	handlers.SetupRoundRoutes(app, roundService)
	handlers.SetupGameRoutes(app, gameService)
	handlers.SetupRitualRoutes(app, ritualService)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}
	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.WithError(err).Error("server error")
		}
	}()
	log.Infof("✅ Server running on http://localhost:%s", port)

	<-ctx.Done()
	log.Info("Shutting down server...")
	_ = app.Shutdown()
}

// parseRooms reads the comma-separated room numbers, e.g. "1,2,3,4".
func parseRooms(raw string) []int {
	var rooms []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			rooms = append(rooms, n)
		}
	}
	return rooms
}
