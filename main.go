package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"replay-registry/handlers"
	"replay-registry/middleware"
	"replay-registry/models"
	"replay-registry/services"
	"replay-registry/utils"
	"replay-registry/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 100 * 1024 * 1024, // replay files are small, mass-check bodies can be large
	})

	app.Use(middleware.RequestID())
	app.Use(cors.New())

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	// TranslateError surfaces unique-constraint races as gorm.ErrDuplicatedKey,
	// which the ingestion path treats as the duplicate outcome.
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	// Catalog queries go to the read replica; without one, both handles share
	// the primary (dev setups).
	replicaDB := db
	if replicaDSN := os.Getenv("DATABASE_REPLICA_URL"); replicaDSN != "" {
		replicaDB, err = gorm.Open(postgres.Open(replicaDSN), &gorm.Config{TranslateError: true})
		if err != nil {
			log.Fatal("failed to connect to replica database:", err)
		}
	}

	if err := db.AutoMigrate(
		&models.GameMap{},
		&models.Hero{},
		&models.Replay{},
		&models.Player{},
		&models.Talent{},
		&models.Score{},
		&models.Ban{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	parserURL := os.Getenv("PARSER_SERVICE_URL")
	if parserURL == "" {
		log.Fatal("PARSER_SERVICE_URL environment variable not set")
	}
	relayURL := os.Getenv("RELAY_SERVICE_URL")
	if relayURL == "" {
		log.Fatal("RELAY_SERVICE_URL environment variable not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relayQueue := workers.NewRelayQueue(db, relayURL, 1024)
	relayQueue.Start(ctx)

	replayService := services.NewReplayService(db, replicaDB, services.NewParserClient(parserURL), utils.R2Store{}, relayQueue)
	replayService.StartRelayRetryScheduler()

	handlers.SetupReplayRoutes(app, replayService)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5200"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Println("✅ Relay upload worker running")

	<-ctx.Done()
	log.Println("Shutting down server...")
}
