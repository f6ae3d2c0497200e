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

// Recounts every target area from its canonical events and rolls the counters
// up the hierarchy. Idempotent; run it after bulk imports or threshold
// changes.
func main() {
	flag.Parse()

	_ = godotenv.Load(".env.local")
	db.Connect()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid deployment config: ", err)
	}
	logger, err := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), "recompute-coverage")
	if err != nil {
		log.Fatal("Failed to build logger: ", err)
	}
	defer logger.Sync()

	engine := spray.NewEngine(cfg, logger)
	areas, err := engine.Aggregator.RecomputeAll(context.Background())
	if err != nil {
		logger.Fatal("recompute failed", zap.Error(err))
	}
	logger.Info("recompute complete", zap.Int("target_areas", areas))
}
