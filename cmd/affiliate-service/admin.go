package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/clinicware/affiliate-engine/internal/commission"
	"github.com/clinicware/affiliate-engine/internal/competition"
	"github.com/clinicware/affiliate-engine/internal/models"
	"github.com/clinicware/affiliate-engine/internal/settings"
)

// --- program settings ---

func (s *Service) GetSettings(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.settings.ForClinic(r.Context(), mux.Vars(r)["clinic_id"])
	if err != nil {
		s.logger.Errorw("failed to load settings", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

// UpdateSettings handles PUT /admin/clinics/{clinic_id}/settings. The body
// carries overrides; omitted fields fall back to the program defaults.
func (s *Service) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var o settings.Overrides
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg, verrs, err := s.settings.Update(r.Context(), mux.Vars(r)["clinic_id"], o)
	if err != nil {
		s.logger.Errorw("failed to update settings", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to update settings")
		return
	}
	if len(verrs) > 0 {
		respondJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:   "invalid settings",
			Details: verrs,
		})
		return
	}

	respondJSON(w, http.StatusOK, cfg)
}

// --- commission plans ---

func (s *Service) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ClinicID == "" || req.Name == "" {
		respondError(w, http.StatusBadRequest, "clinic_id and name are required")
		return
	}
	if req.BonusType != models.BonusTypePercent && req.BonusType != models.BonusTypeFlat {
		respondError(w, http.StatusBadRequest, "bonus_type must be PERCENT or FLAT")
		return
	}
	if req.PercentBps < 0 || req.PercentBps > 10000 || req.FlatAmountCents < 0 {
		respondError(w, http.StatusBadRequest, "rate out of range")
		return
	}

	plan, err := s.commissions.CreatePlan(r.Context(), &models.CommissionPlan{
		ClinicID:        req.ClinicID,
		Name:            req.Name,
		BonusType:       req.BonusType,
		PercentBps:      req.PercentBps,
		FlatAmountCents: req.FlatAmountCents,
		IsDefault:       req.IsDefault,
	})
	if err != nil {
		s.logger.Errorw("failed to create plan", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create plan")
		return
	}
	respondJSON(w, http.StatusCreated, plan)
}

func (s *Service) ListPlans(w http.ResponseWriter, r *http.Request) {
	clinicID := r.URL.Query().Get("clinic_id")
	if clinicID == "" {
		respondError(w, http.StatusBadRequest, "clinic_id is required")
		return
	}

	plans, err := s.commissions.ListPlans(r.Context(), clinicID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list plans")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"plans": plans})
}

func (s *Service) CreateRule(w http.ResponseWriter, r *http.Request) {
	planID := mux.Vars(r)["id"]

	var req createRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if (req.ProductID == nil) == (req.ProductBundleID == nil) {
		respondError(w, http.StatusBadRequest, "exactly one of product_id or product_bundle_id is required")
		return
	}
	if req.BonusType != models.BonusTypePercent && req.BonusType != models.BonusTypeFlat {
		respondError(w, http.StatusBadRequest, "bonus_type must be PERCENT or FLAT")
		return
	}

	rule, err := s.commissions.CreateRule(r.Context(), &models.ProductCommissionRule{
		PlanID:          planID,
		ProductID:       req.ProductID,
		ProductBundleID: req.ProductBundleID,
		BonusType:       req.BonusType,
		PercentBps:      req.PercentBps,
		FlatAmountCents: req.FlatAmountCents,
	})
	if err != nil {
		s.logger.Errorw("failed to create rule", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create rule")
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

func (s *Service) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.commissions.ListRules(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
}

// --- commission event moderation ---

func (s *Service) ApproveCommission(w http.ResponseWriter, r *http.Request) {
	ev, err := s.commissions.Approve(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		switch {
		case errors.Is(err, commission.ErrEventNotFound):
			respondError(w, http.StatusNotFound, "commission event not found")
		case errors.Is(err, commission.ErrInvalidTransition):
			respondError(w, http.StatusConflict, err.Error())
		default:
			s.logger.Errorw("failed to approve commission", "error", err)
			respondError(w, http.StatusInternalServerError, "failed to approve commission")
		}
		return
	}
	respondJSON(w, http.StatusOK, ev)
}

func (s *Service) ReverseCommission(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	ev, err := s.commissions.GetEvent(r.Context(), id)
	if err != nil {
		if errors.Is(err, commission.ErrEventNotFound) {
			respondError(w, http.StatusNotFound, "commission event not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load commission event")
		return
	}

	cfg, err := s.settings.ForClinic(r.Context(), ev.ClinicID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}

	out, err := s.commissions.Reverse(r.Context(), id, cfg.ClawbackEnabled)
	if err != nil {
		switch {
		case errors.Is(err, commission.ErrClawbackDisabled):
			respondError(w, http.StatusConflict, "clawback disabled for this clinic")
		case errors.Is(err, commission.ErrInvalidTransition):
			respondError(w, http.StatusConflict, err.Error())
		default:
			s.logger.Errorw("failed to reverse commission", "error", err)
			respondError(w, http.StatusInternalServerError, "failed to reverse commission")
		}
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// --- competitions ---

func (s *Service) CreateCompetition(w http.ResponseWriter, r *http.Request) {
	var req createCompetitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ClinicID == "" || req.Name == "" {
		respondError(w, http.StatusBadRequest, "clinic_id and name are required")
		return
	}

	c, err := s.competitions.Create(r.Context(), &models.Competition{
		ClinicID:   req.ClinicID,
		Name:       req.Name,
		Metric:     req.Metric,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
		AutoEnroll: req.AutoEnroll,
	})
	if err != nil {
		switch {
		case errors.Is(err, competition.ErrInvalidMetric), errors.Is(err, competition.ErrInvalidDates):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Errorw("failed to create competition", "error", err)
			respondError(w, http.StatusInternalServerError, "failed to create competition")
		}
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (s *Service) GetCompetition(w http.ResponseWriter, r *http.Request) {
	c, err := s.competitions.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, competition.ErrNotFound) {
			respondError(w, http.StatusNotFound, "competition not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get competition")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Service) ListCompetitions(w http.ResponseWriter, r *http.Request) {
	clinicID := r.URL.Query().Get("clinic_id")
	if clinicID == "" {
		respondError(w, http.StatusBadRequest, "clinic_id is required")
		return
	}

	list, err := s.competitions.ListByClinic(r.Context(), clinicID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list competitions")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"competitions": list})
}

func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := s.competitions.GetLeaderboard(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, competition.ErrNotFound) {
			respondError(w, http.StatusNotFound, "competition not found")
			return
		}
		s.logger.Errorw("failed to load leaderboard", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}
	respondJSON(w, http.StatusOK, board)
}

func (s *Service) CancelCompetition(w http.ResponseWriter, r *http.Request) {
	c, err := s.competitions.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, competition.ErrNotFound) {
			respondError(w, http.StatusNotFound, "competition not found or already completed")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to cancel competition")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// AdminLeaderboard handles GET /admin/leaderboard: ad-hoc standings over a
// rolling window, no competition required. Query params: clinic_id, metric
// (default REVENUE), period in days (default 30, "30d" accepted), limit.
func (s *Service) AdminLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	clinicID := q.Get("clinic_id")
	if clinicID == "" {
		respondError(w, http.StatusBadRequest, "clinic_id is required")
		return
	}

	metric := strings.ToUpper(q.Get("metric"))
	if metric == "" {
		metric = models.MetricRevenue
	}

	days, _ := strconv.Atoi(strings.TrimSuffix(q.Get("period"), "d"))
	if days <= 0 || days > 365 {
		days = 30
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	now := time.Now()
	board, err := s.competitions.AdHocLeaderboard(r.Context(), clinicID, metric, now.AddDate(0, 0, -days), now, limit)
	if err != nil {
		if errors.Is(err, competition.ErrInvalidMetric) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Errorw("failed to build leaderboard", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to build leaderboard")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"metric":      metric,
		"period_days": days,
		"rows":        board.Rows,
		"total_value": board.TotalValue,
	})
}

func (s *Service) EnrollCompetition(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AffiliateID == "" {
		respondError(w, http.StatusBadRequest, "affiliate_id is required")
		return
	}

	if err := s.competitions.Enroll(r.Context(), mux.Vars(r)["id"], req.AffiliateID); err != nil {
		s.logger.Errorw("failed to enroll affiliate", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to enroll affiliate")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"status": "enrolled"})
}
