package main

import (
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
	"github.com/clinicware/affiliate-engine/internal/fraud"
	"github.com/clinicware/affiliate-engine/internal/ipintel"
	"github.com/clinicware/affiliate-engine/internal/logger"
	"github.com/clinicware/affiliate-engine/internal/metrics"
	"github.com/clinicware/affiliate-engine/internal/migrations"
	"github.com/clinicware/affiliate-engine/internal/payout"
	"github.com/clinicware/affiliate-engine/internal/ratelimit"
	"github.com/clinicware/affiliate-engine/internal/refcode"
	"github.com/clinicware/affiliate-engine/internal/settings"
	"github.com/clinicware/affiliate-engine/internal/touch"
	"github.com/clinicware/affiliate-engine/internal/websocket"
)

func main() {
	godotenv.Load()
	cfg := config.Load()
	log := logger.New("affiliate-service", cfg.LogLevel)
	defer log.Sync()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()

	if err := migrations.Up(db.Conn); err != nil {
		log.Fatalw("failed to apply migrations", "error", err)
	}

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
	refCodes := refcode.NewStore(db)
	touches := touch.NewStore(db)
	commissions := commission.NewStore(db)
	payouts := payout.NewStore(db)
	competitions := competition.NewStore(db)
	settingsSvc := settings.NewService(settings.NewStore(db), overlay)

	intel := ipintel.NewClient(cfg.IPIntelURL)
	screener := fraud.NewScreener(redisClient, intel, log)
	publisher := events.NewPublisher(cfg.ServiceURL)
	engine := commission.NewEngine(commissions, touches, affiliates, settingsSvc, screener, redisClient, publisher, log)
	limiter := ratelimit.NewLimiter(redisClient, log, cfg.RateLimitPerMin, 0)

	hub := websocket.NewHub(log)
	go hub.Run()

	s := &Service{
		db:           db,
		cache:        redisClient,
		affiliates:   affiliates,
		refCodes:     refCodes,
		touches:      touches,
		commissions:  commissions,
		payouts:      payouts,
		competitions: competitions,
		settings:     settingsSvc,
		engine:       engine,
		limiter:      limiter,
		hub:          hub,
		logger:       log,
	}

	r := mux.NewRouter()

	r.HandleFunc("/health", s.Health).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")
	r.HandleFunc("/ws", hub.ServeWs)
	r.HandleFunc("/internal/events", s.IngestEvent).Methods("POST")

	// Public click tracking
	r.HandleFunc("/r/{code}", metrics.Middleware("/r/{code}", s.TrackRedirect)).Methods("GET")
	r.HandleFunc("/r/{code}/resolve", metrics.Middleware("/r/{code}/resolve", s.ResolveCode)).Methods("GET")
	r.HandleFunc("/r/{code}/touch", metrics.Middleware("/r/{code}/touch", s.TrackTouch)).Methods("POST")

	// Billing callbacks
	r.HandleFunc("/conversions", metrics.Middleware("/conversions", s.CreateConversion)).Methods("POST")
	r.HandleFunc("/refunds", metrics.Middleware("/refunds", s.CreateRefund)).Methods("POST")

	// Affiliates
	r.HandleFunc("/affiliates", s.CreateAffiliate).Methods("POST")
	r.HandleFunc("/affiliates", s.ListAffiliates).Methods("GET")
	r.HandleFunc("/affiliates/{id}", s.GetAffiliate).Methods("GET")
	r.HandleFunc("/affiliates/{id}/status", s.UpdateAffiliateStatus).Methods("PUT")
	r.HandleFunc("/affiliates/{id}/plan", s.UpdateAffiliatePlan).Methods("PUT")
	r.HandleFunc("/affiliates/{id}/codes", s.CreateRefCode).Methods("POST")
	r.HandleFunc("/affiliates/{id}/codes", s.ListRefCodes).Methods("GET")
	r.HandleFunc("/codes/{code_id}/active", s.SetRefCodeActive).Methods("PUT")
	r.HandleFunc("/affiliates/{id}/earnings", s.GetEarnings).Methods("GET")
	r.HandleFunc("/affiliates/{id}/commissions", s.ListCommissions).Methods("GET")
	r.HandleFunc("/affiliates/{id}/payouts", s.ListPayouts).Methods("GET")

	// Admin
	r.HandleFunc("/admin/clinics/{clinic_id}/settings", s.GetSettings).Methods("GET")
	r.HandleFunc("/admin/clinics/{clinic_id}/settings", s.UpdateSettings).Methods("PUT")
	r.HandleFunc("/admin/plans", s.CreatePlan).Methods("POST")
	r.HandleFunc("/admin/plans", s.ListPlans).Methods("GET")
	r.HandleFunc("/admin/plans/{id}/rules", s.CreateRule).Methods("POST")
	r.HandleFunc("/admin/plans/{id}/rules", s.ListRules).Methods("GET")
	r.HandleFunc("/admin/commissions/{id}/approve", s.ApproveCommission).Methods("POST")
	r.HandleFunc("/admin/commissions/{id}/reverse", s.ReverseCommission).Methods("POST")
	r.HandleFunc("/admin/leaderboard", s.AdminLeaderboard).Methods("GET")
	r.HandleFunc("/admin/competitions", s.CreateCompetition).Methods("POST")
	r.HandleFunc("/admin/competitions", s.ListCompetitions).Methods("GET")
	r.HandleFunc("/admin/competitions/{id}", s.GetCompetition).Methods("GET")
	r.HandleFunc("/admin/competitions/{id}", s.CancelCompetition).Methods("DELETE")
	r.HandleFunc("/admin/competitions/{id}/cancel", s.CancelCompetition).Methods("POST")
	r.HandleFunc("/admin/competitions/{id}/enroll", s.EnrollCompetition).Methods("POST")
	r.HandleFunc("/competitions/{id}/leaderboard", s.GetLeaderboard).Methods("GET")

	addr := ":" + cfg.Port
	log.Infow("affiliate service starting", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalw("server stopped", "error", err)
	}
}
