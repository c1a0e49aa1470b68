package main // Entry point package

import (
	"database/sql"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/account-service/internal/auth"
	"github.com/iliyamo/account-service/internal/config"
	"github.com/iliyamo/account-service/internal/database"
	"github.com/iliyamo/account-service/internal/handler"
	"github.com/iliyamo/account-service/internal/middleware"
	"github.com/iliyamo/account-service/internal/queue"
	"github.com/iliyamo/account-service/internal/repository"
	"github.com/iliyamo/account-service/internal/router"
	queue_publisher "github.com/iliyamo/account-service/internal/service"
)

func main() {
	// Load .env when present; real deployments set the environment directly.
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer func(db *sql.DB) { _ = db.Close() }(db)

	tokens := auth.NewTokenService(cfg.JWTSecret)
	svc := auth.NewService(
		repository.NewIdentityRepo(db),
		auth.NewHasher(cfg.BcryptCost),
		tokens,
		queue_publisher.QueueNotifier{},
		auth.Config{
			AccessTTL: time.Duration(cfg.AccessTTLMin) * time.Minute,
			ResetTTL:  time.Duration(cfg.ResetTTLMin) * time.Minute,
			BaseURL:   cfg.BaseURL,
		},
	)

	// Drain the email queue in the background; the consumer reconnects
	// on broker failures and never takes the server down.
	go func() {
		if err := queue.StartEmailConsumer(); err != nil {
			log.Printf("email consumer stopped: %v", err)
		}
	}()

	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), config.NewRedisClient())

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(svc), tokens, limiter)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)

	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
