package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/vectorlink/irs-backend/internal/config"
	"github.com/vectorlink/irs-backend/internal/db"
	"github.com/vectorlink/irs-backend/internal/logging"
	"github.com/vectorlink/irs-backend/internal/middleware"
	"github.com/vectorlink/irs-backend/internal/spray"
)

func RootHandler(w http.ResponseWriter, r *http.Request) {
	response := "Server is up!"
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, response)
}

func main() {
	_ = godotenv.Load(".env.local")
	db.Connect()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid deployment config: ", err)
	}

	logger, err := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), "irs-backend")
	if err != nil {
		log.Fatal("Failed to build logger: ", err)
	}
	defer logger.Sync()

	port := os.Getenv("PORT")
	if port == "" {
		port = "5050"
	}

	handlers := spray.Init(cfg, logger)

	r := chi.NewRouter()
	r.Use(middleware.CORSMiddleware)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLogger(logger))
	r.Get("/", RootHandler)

	r.Mount("/spray", handlers.SetupRoutes())

	logger.Info("server listening", zap.String("port", port))

	if err := http.ListenAndServe("0.0.0.0:"+port, r); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
