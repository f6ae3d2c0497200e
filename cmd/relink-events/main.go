package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/vectorlink/irs-backend/internal/config"
	"github.com/vectorlink/irs-backend/internal/db"
	"github.com/vectorlink/irs-backend/internal/logging"
	"github.com/vectorlink/irs-backend/internal/spray"
)

// Repair pass: retries matching for spray events that persisted without a
// location, typically after a form-server outage or a late reference import.
func main() {
	limit := flag.Int("limit", 500, "max unmatched events to retry")
	flag.Parse()

	_ = godotenv.Load(".env.local")
	db.Connect()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid deployment config: ", err)
	}
	logger, err := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), "relink-events")
	if err != nil {
		log.Fatal("Failed to build logger: ", err)
	}
	defer logger.Sync()

	engine := spray.NewEngine(cfg, logger)
	relinked, err := engine.Pipeline.RelinkUnmatched(context.Background(), *limit)
	if err != nil {
		logger.Fatal("relink failed", zap.Int("relinked_before_failure", relinked), zap.Error(err))
	}
	logger.Info("relink complete", zap.Int("relinked", relinked))
}
