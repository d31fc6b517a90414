package main

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/clinicware/affiliate-engine/internal/affiliate"
	"github.com/clinicware/affiliate-engine/internal/cache"
	"github.com/clinicware/affiliate-engine/internal/commission"
	"github.com/clinicware/affiliate-engine/internal/competition"
	"github.com/clinicware/affiliate-engine/internal/database"
	"github.com/clinicware/affiliate-engine/internal/events"
	"github.com/clinicware/affiliate-engine/internal/metrics"
	"github.com/clinicware/affiliate-engine/internal/payout"
	"github.com/clinicware/affiliate-engine/internal/ratelimit"
	"github.com/clinicware/affiliate-engine/internal/refcode"
	"github.com/clinicware/affiliate-engine/internal/settings"
	"github.com/clinicware/affiliate-engine/internal/touch"
	"github.com/clinicware/affiliate-engine/internal/websocket"
)

const visitorCookie = "aff_vid"

// Service bundles the handlers' dependencies.
type Service struct {
	db           *database.DB
	cache        *cache.Client
	affiliates   *affiliate.Store
	refCodes     *refcode.Store
	touches      *touch.Store
	commissions  *commission.Store
	payouts      *payout.Store
	competitions *competition.Store
	settings     *settings.Service
	engine       *commission.Engine
	limiter      *ratelimit.Limiter
	hub          *websocket.Hub
	logger       *zap.SugaredLogger
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Health reports dependency status.
func (s *Service) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":    "healthy",
		"database":  s.db.Health(),
		"websocket": s.hub.Stats(),
	}
	if err := s.cache.HealthCheck(); err != nil {
		status["redis"] = "unhealthy: " + err.Error()
		status["status"] = "degraded"
	} else {
		status["redis"] = "healthy"
	}
	respondJSON(w, http.StatusOK, status)
}

// --- public click tracking ---

// TrackRedirect handles GET /r/{code}: record the touch, drop the visitor
// cookie, bounce to the clinic page.
func (s *Service) TrackRedirect(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	q := r.URL.Query()

	clinicID := q.Get("clinic_id")
	if clinicID == "" {
		respondError(w, http.StatusBadRequest, "clinic_id is required")
		return
	}

	ip := clientIP(r)
	ipHash := touch.HashIP(ip)
	if !s.limiter.Allow(r.Context(), ipHash) {
		respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	landing := q.Get("to")
	if !strings.HasPrefix(landing, "/") {
		landing = "/"
	}

	res, err := s.refCodes.ResolvePublic(r.Context(), clinicID, code)
	if err != nil {
		if errors.Is(err, refcode.ErrNotFound) {
			// Unknown and inactive codes bounce exactly like valid ones, so
			// the redirect cannot be used to enumerate codes. No touch is
			// recorded.
			http.Redirect(w, r, landing, http.StatusFound)
			return
		}
		s.logger.Errorw("failed to resolve ref code", "code", code, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	cookieID := s.ensureVisitorCookie(w, r)
	userAgent := r.UserAgent()
	fingerprint := touch.Fingerprint(ipHash, userAgent)

	_, err = s.touches.Record(r.Context(), touch.Params{
		ClinicID:           clinicID,
		AffiliateID:        res.Affiliate.ID,
		RefCodeID:          res.RefCode.ID,
		VisitorFingerprint: fingerprint,
		IPAddressHash:      &ipHash,
		CookieID:           &cookieID,
		UserAgent:          optional(userAgent),
		UTMSource:          optional(q.Get("utm_source")),
		UTMMedium:          optional(q.Get("utm_medium")),
		UTMCampaign:        optional(q.Get("utm_campaign")),
		UTMTerm:            optional(q.Get("utm_term")),
		UTMContent:         optional(q.Get("utm_content")),
		SubIDs: [5]*string{
			optional(q.Get("sub_id1")), optional(q.Get("sub_id2")), optional(q.Get("sub_id3")),
			optional(q.Get("sub_id4")), optional(q.Get("sub_id5")),
		},
		LandingPage: optional(landing),
		Referrer:    optional(r.Referer()),
	})
	if err != nil {
		// A lost touch should not break the visitor's navigation.
		s.logger.Errorw("failed to record touch", "code", code, "error", err)
	} else {
		metrics.TouchesRecorded.Inc()
	}

	http.Redirect(w, r, landing, http.StatusFound)
}

// ResolveCode handles GET /r/{code}/resolve: the landing-page lookup.
// Unknown, inactive and suspended codes all come back as the same
// `{"valid":false}` body with a 200, so the endpoint reveals nothing about
// which codes exist.
func (s *Service) ResolveCode(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	clinicID := r.URL.Query().Get("clinic_id")
	if clinicID == "" {
		respondError(w, http.StatusBadRequest, "clinic_id is required")
		return
	}

	if !s.limiter.Allow(r.Context(), touch.HashIP(clientIP(r))) {
		respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	res, err := s.refCodes.ResolvePublic(r.Context(), clinicID, code)
	if err != nil {
		if errors.Is(err, refcode.ErrNotFound) {
			respondJSON(w, http.StatusOK, resolveResponse{Valid: false})
			return
		}
		s.logger.Errorw("failed to resolve ref code", "code", code, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondJSON(w, http.StatusOK, resolveResponse{
		Valid:         true,
		Code:          res.RefCode.Code,
		AffiliateName: res.Affiliate.DisplayName,
		ClinicID:      res.RefCode.ClinicID,
	})
}

// TrackTouch handles POST /r/{code}/touch for clients that track in-page.
func (s *Service) TrackTouch(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	var req touchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ClinicID == "" {
		respondError(w, http.StatusBadRequest, "clinic_id is required")
		return
	}

	ip := clientIP(r)
	ipHash := touch.HashIP(ip)
	if !s.limiter.Allow(r.Context(), ipHash) {
		respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	res, err := s.refCodes.ResolvePublic(r.Context(), req.ClinicID, code)
	if err != nil {
		if errors.Is(err, refcode.ErrNotFound) {
			// Uniform not-valid shape, same status as success: no
			// enumeration through this endpoint.
			respondJSON(w, http.StatusOK, resolveResponse{Valid: false})
			return
		}
		s.logger.Errorw("failed to resolve ref code", "code", code, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	cookieID := ""
	if req.CookieID != nil {
		cookieID = *req.CookieID
	}
	if cookieID == "" {
		cookieID = s.ensureVisitorCookie(w, r)
	}

	userAgent := r.UserAgent()
	fingerprint := req.VisitorFingerprint
	if fingerprint == "" {
		fingerprint = touch.Fingerprint(ipHash, userAgent)
	}

	t, err := s.touches.Record(r.Context(), touch.Params{
		ClinicID:           req.ClinicID,
		AffiliateID:        res.Affiliate.ID,
		RefCodeID:          res.RefCode.ID,
		VisitorFingerprint: fingerprint,
		IPAddressHash:      &ipHash,
		CookieID:           &cookieID,
		UserAgent:          optional(userAgent),
		UTMSource:          req.UTMSource,
		UTMMedium:          req.UTMMedium,
		UTMCampaign:        req.UTMCampaign,
		UTMTerm:            req.UTMTerm,
		UTMContent:         req.UTMContent,
		SubIDs:             [5]*string{req.SubID1, req.SubID2, req.SubID3, req.SubID4, req.SubID5},
		LandingPage:        req.LandingPage,
		Referrer:           req.Referrer,
	})
	if err != nil {
		s.logger.Errorw("failed to record touch", "code", code, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to record touch")
		return
	}

	metrics.TouchesRecorded.Inc()
	respondJSON(w, http.StatusCreated, touchResponse{TouchID: t.ID, CookieID: cookieID})
}

func (s *Service) ensureVisitorCookie(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(visitorCookie); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     visitorCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   365 * 24 * 60 * 60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// --- conversions ---

// CreateConversion handles POST /conversions from the billing system.
func (s *Service) CreateConversion(w http.ResponseWriter, r *http.Request) {
	var req conversionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ClinicID == "" || req.SourceEventID == "" {
		respondError(w, http.StatusBadRequest, "clinic_id and source_event_id are required")
		return
	}
	if req.OrderAmountCents <= 0 {
		respondError(w, http.StatusBadRequest, "order_amount_cents must be positive")
		return
	}

	conv := commission.Conversion{
		ClinicID:           req.ClinicID,
		SourceEventID:      req.SourceEventID,
		PatientID:          req.PatientID,
		OrderAmountCents:   req.OrderAmountCents,
		ProductID:          req.ProductID,
		ProductBundleID:    req.ProductBundleID,
		IsFirstPayment:     req.IsFirstPayment,
		VisitorFingerprint: req.VisitorFingerprint,
		CookieID:           req.CookieID,
		IPAddress:          req.IPAddress,
	}
	if req.OccurredAt != nil {
		conv.OccurredAt = *req.OccurredAt
	}

	result, err := s.engine.ProcessConversion(r.Context(), conv)
	if err != nil {
		// Commission failures never propagate to the billing caller; the
		// payment itself already happened.
		s.logger.Errorw("failed to process conversion", "source_event_id", req.SourceEventID, "error", err)
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "ACCEPTED"})
		return
	}

	status := http.StatusCreated
	if result.Status != commission.ResultCredited {
		status = http.StatusOK
	}
	respondJSON(w, status, result)
}

// CreateRefund handles POST /refunds.
func (s *Service) CreateRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ClinicID == "" || req.SourceEventID == "" {
		respondError(w, http.StatusBadRequest, "clinic_id and source_event_id are required")
		return
	}

	reversed, err := s.engine.ProcessRefund(r.Context(), req.ClinicID, req.SourceEventID)
	if err != nil {
		s.logger.Errorw("failed to process refund", "source_event_id", req.SourceEventID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to process refund")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"reversed_events": len(reversed),
		"events":          reversed,
	})
}

// --- affiliates ---

func (s *Service) CreateAffiliate(w http.ResponseWriter, r *http.Request) {
	var req createAffiliateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ClinicID == "" || req.UserID == "" || req.DisplayName == "" {
		respondError(w, http.StatusBadRequest, "clinic_id, user_id and display_name are required")
		return
	}

	aff, err := s.affiliates.Create(r.Context(), req.ClinicID, req.UserID, req.DisplayName, req.PlanID)
	if err != nil {
		s.logger.Errorw("failed to create affiliate", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create affiliate")
		return
	}

	if req.Code != "" {
		if _, err := s.refCodes.Create(r.Context(), req.ClinicID, aff.ID, req.Code); err != nil {
			if errors.Is(err, refcode.ErrCodeTaken) {
				respondError(w, http.StatusConflict, "referral code already in use")
				return
			}
			if errors.Is(err, refcode.ErrInvalidCode) {
				respondError(w, http.StatusBadRequest, err.Error())
				return
			}
			s.logger.Errorw("failed to create initial ref code", "affiliate_id", aff.ID, "error", err)
			respondError(w, http.StatusInternalServerError, "failed to create ref code")
			return
		}
	}

	respondJSON(w, http.StatusCreated, aff)
}

func (s *Service) GetAffiliate(w http.ResponseWriter, r *http.Request) {
	aff, err := s.affiliates.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, affiliate.ErrNotFound) {
			respondError(w, http.StatusNotFound, "affiliate not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get affiliate")
		return
	}
	respondJSON(w, http.StatusOK, aff)
}

func (s *Service) ListAffiliates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clinicID := q.Get("clinic_id")
	if clinicID == "" {
		respondError(w, http.StatusBadRequest, "clinic_id is required")
		return
	}

	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	affiliates, err := s.affiliates.ListByClinic(r.Context(), clinicID, q.Get("status"), limit, offset)
	if err != nil {
		s.logger.Errorw("failed to list affiliates", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list affiliates")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"affiliates": affiliates})
}

func (s *Service) UpdateAffiliateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	aff, err := s.affiliates.UpdateStatus(r.Context(), mux.Vars(r)["id"], req.Status)
	if err != nil {
		switch {
		case errors.Is(err, affiliate.ErrInvalidStatus):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, affiliate.ErrNotFound):
			respondError(w, http.StatusNotFound, "affiliate not found")
		default:
			respondError(w, http.StatusInternalServerError, "failed to update status")
		}
		return
	}
	respondJSON(w, http.StatusOK, aff)
}

func (s *Service) UpdateAffiliatePlan(w http.ResponseWriter, r *http.Request) {
	var req updatePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.affiliates.UpdatePlan(r.Context(), mux.Vars(r)["id"], req.PlanID); err != nil {
		if errors.Is(err, affiliate.ErrNotFound) {
			respondError(w, http.StatusNotFound, "affiliate not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to update plan")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// --- ref codes ---

func (s *Service) CreateRefCode(w http.ResponseWriter, r *http.Request) {
	affiliateID := mux.Vars(r)["id"]

	var req createCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ClinicID == "" {
		respondError(w, http.StatusBadRequest, "clinic_id is required")
		return
	}

	rc, err := s.refCodes.Create(r.Context(), req.ClinicID, affiliateID, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, refcode.ErrCodeTaken):
			respondError(w, http.StatusConflict, "referral code already in use")
		case errors.Is(err, refcode.ErrInvalidCode):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Errorw("failed to create ref code", "error", err)
			respondError(w, http.StatusInternalServerError, "failed to create ref code")
		}
		return
	}
	respondJSON(w, http.StatusCreated, rc)
}

func (s *Service) ListRefCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := s.refCodes.ListByAffiliate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list ref codes")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"codes": codes})
}

func (s *Service) SetRefCodeActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.refCodes.SetActive(r.Context(), mux.Vars(r)["code_id"], req.IsActive); err != nil {
		if errors.Is(err, refcode.ErrNotFound) {
			respondError(w, http.StatusNotFound, "ref code not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to update ref code")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// --- earnings ---

func (s *Service) GetEarnings(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	aff, err := s.affiliates.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, affiliate.ErrNotFound) {
			respondError(w, http.StatusNotFound, "affiliate not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load affiliate")
		return
	}

	sum, err := s.commissions.Earnings(r.Context(), id)
	if err != nil {
		s.logger.Errorw("failed to summarize earnings", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to summarize earnings")
		return
	}

	commissions, err := s.commissions.ListByAffiliate(r.Context(), id, "", 20, 0)
	if err != nil {
		s.logger.Errorw("failed to list commissions", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to summarize earnings")
		return
	}
	payouts, err := s.payouts.ListByAffiliate(r.Context(), id, 20, 0)
	if err != nil {
		s.logger.Errorw("failed to list payouts", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to summarize earnings")
		return
	}

	respondJSON(w, http.StatusOK, earningsResponse{
		EarningsSummary:      sum,
		LifetimeRevenueCents: aff.LifetimeRevenueCents,
		LifetimePaidCents:    aff.LifetimePaidCents,
		RecentCommissions:    commissions,
		RecentPayouts:        payouts,
	})
}

func (s *Service) ListCommissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	events, err := s.commissions.ListByAffiliate(r.Context(), mux.Vars(r)["id"], q.Get("status"), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list commissions")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"commissions": events})
}

func (s *Service) ListPayouts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	payouts, err := s.payouts.ListByAffiliate(r.Context(), mux.Vars(r)["id"], limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list payouts")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"payouts": payouts})
}

// --- internal event ingest for the dashboard hub ---

// IngestEvent handles POST /internal/events: collaborating processes push
// domain events here and the hub fans them out.
func (s *Service) IngestEvent(w http.ResponseWriter, r *http.Request) {
	var ev events.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		respondError(w, http.StatusBadRequest, "invalid event")
		return
	}
	if ev.Type == "" || ev.Event == "" {
		respondError(w, http.StatusBadRequest, "type and event are required")
		return
	}

	if err := s.hub.BroadcastEvent(ev.Type, ev.Event, ev.Data); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to broadcast event")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "broadcast"})
}
