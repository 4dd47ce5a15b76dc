package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"

	"prepq-backend/billing"
	"prepq-backend/config"
	"prepq-backend/conn"
	"prepq-backend/ledger"
	"prepq-backend/llm"
	"prepq-backend/login"
	"prepq-backend/marketing"
	"prepq-backend/metrics"
	"prepq-backend/migrations"
	"prepq-backend/questions"
	"prepq-backend/sessions"
	"prepq-backend/subjects"
	"prepq-backend/summaries"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[main] %v", err)
	}

	db, err := conn.NewMySQL(cfg.DB)
	if err != nil {
		log.Fatalf("[main] mysql: %v", err)
	}
	migrations.Init(db)
	if err := migrations.Migrate(); err != nil {
		log.Fatalf("[main] migrate: %v", err)
	}
	if err := migrations.SeedDefaultUser(); err != nil {
		log.Printf("[main] seed: %v", err)
	}
	if err := migrations.SeedDefaultSubjects(); err != nil {
		log.Printf("[main] seed subjects: %v", err)
	}

	provider, err := llm.NewProvider(context.Background(), cfg)
	if err != nil {
		log.Fatalf("[main] llm: %v", err)
	}

	sessionStore, err := sessions.Open(cfg.SessionDBPath)
	if err != nil {
		log.Fatalf("[main] sessions: %v", err)
	}
	defer sessionStore.Close()

	store := ledger.NewRepository(db)
	gate := ledger.NewGate(store, cfg.CreditBypass)

	auth := login.NewHandler(cfg)
	identify := auth.IdentityFromRequest

	r := gin.Default()
	r.Use(auth.TokenExpiryHeader())

	auth.RegisterRoutes(r)
	ledger.NewHandler(gate, store, identify).RegisterRoutes(r)
	questions.NewHandler(questions.NewPipeline(provider), gate, sessionStore, identify).RegisterRoutes(r)
	sessions.NewHandler(sessionStore).RegisterRoutes(r)
	summaries.NewHandler(provider, gate, identify).RegisterRoutes(r)
	billing.NewHandler(billing.NewService(cfg, gate, store), identify).RegisterRoutes(r)
	subjects.NewHandler(subjects.NewRepository(db)).RegisterRoutes(r)
	metrics.RegisterRoutes(r)

	marketing.NewService(db).Start()

	log.Printf("[main] listening addr=%s provider=%s bypass=%v", cfg.Addr, cfg.Provider, cfg.CreditBypass)
	if err := r.Run(cfg.Addr); err != nil {
		log.Fatalf("[main] server: %v", err)
	}
}
