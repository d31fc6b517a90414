package main

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/clinicware/affiliate-engine/internal/affiliate"
	"github.com/clinicware/affiliate-engine/internal/cache"
	"github.com/clinicware/affiliate-engine/internal/commission"
	"github.com/clinicware/affiliate-engine/internal/competition"
	"github.com/clinicware/affiliate-engine/internal/config"
	"github.com/clinicware/affiliate-engine/internal/database"
	"github.com/clinicware/affiliate-engine/internal/events"
	"github.com/clinicware/affiliate-engine/internal/logger"
	"github.com/clinicware/affiliate-engine/internal/metrics"
	"github.com/clinicware/affiliate-engine/internal/payout"
	"github.com/clinicware/affiliate-engine/internal/payrail"
	"github.com/clinicware/affiliate-engine/internal/retention"
	"github.com/clinicware/affiliate-engine/internal/settings"
	"github.com/clinicware/affiliate-engine/internal/touch"
)

func main() {
	godotenv.Load()
	cfg := config.Load()
	log := logger.New("affiliate-scheduler", cfg.LogLevel)
	defer log.Sync()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalw("failed to connect to Redis", "error", err)
	}
	defer redisClient.Close()

	overlay, err := settings.LoadFileOverlay(cfg.DefaultsPath)
	if err != nil {
		log.Fatalw("failed to load program defaults", "error", err)
	}

	affiliates := affiliate.NewStore(db)
	touches := touch.NewStore(db)
	commissions := commission.NewStore(db)
	payouts := payout.NewStore(db)
	competitions := competition.NewStore(db)
	settingsSvc := settings.NewService(settings.NewStore(db), overlay)
	publisher := events.NewPublisher(cfg.ServiceURL)
	rail := payrail.NewClient(cfg.PayRailURL)

	batcher := payout.NewBatcher(db, payouts, settingsSvc, rail, publisher, log, cfg.PayoutBatchLimit)
	retentionJob := retention.NewJob(db, touches, log, cfg.RetentionBatch, cfg.RetentionMaxIter)
	competitionSvc := competition.NewService(db, competitions, affiliates, commissions, touches, publisher, log)

	scheduler := NewScheduler(commissions, batcher, retentionJob, competitionSvc, publisher, log, cfg.TickInterval)
	go scheduler.Run(context.Background())

	h := NewHandler(scheduler, db, redisClient, cfg.CronSecret, log)

	r := mux.NewRouter()
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")
	r.HandleFunc("/jobs/status", h.JobStatus).Methods("GET")
	r.HandleFunc("/jobs/payouts/run", h.requireCronSecret(h.TriggerPayouts)).Methods("POST")
	r.HandleFunc("/jobs/retention/run", h.requireCronSecret(h.TriggerRetention)).Methods("POST")
	r.HandleFunc("/jobs/competitions/recompute", h.requireCronSecret(h.TriggerCompetitions)).Methods("POST")
	r.HandleFunc("/jobs/maturation/run", h.requireCronSecret(h.TriggerMaturation)).Methods("POST")

	addr := ":" + cfg.Port
	log.Infow("affiliate scheduler starting", "addr", addr, "tick_interval", cfg.TickInterval)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalw("server stopped", "error", err)
	}
}
