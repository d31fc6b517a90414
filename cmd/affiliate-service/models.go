package main

import (
	"time"

	"github.com/clinicware/affiliate-engine/internal/commission"
	"github.com/clinicware/affiliate-engine/internal/models"
	"github.com/clinicware/affiliate-engine/internal/settings"
)

// errorResponse is the uniform error body.
type errorResponse struct {
	Error   string                     `json:"error"`
	Details []settings.ValidationError `json:"details,omitempty"`
}

// createAffiliateRequest registers a clinic user as an affiliate.
type createAffiliateRequest struct {
	ClinicID    string  `json:"clinic_id"`
	UserID      string  `json:"user_id"`
	DisplayName string  `json:"display_name"`
	PlanID      *string `json:"plan_id,omitempty"`
	Code        string  `json:"code,omitempty"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type updatePlanRequest struct {
	PlanID *string `json:"plan_id"`
}

type createCodeRequest struct {
	ClinicID string `json:"clinic_id"`
	Code     string `json:"code"`
}

type setActiveRequest struct {
	IsActive bool `json:"is_active"`
}

// touchRequest is the JSON variant of click tracking, used by embedded
// widgets that cannot follow a redirect.
type touchRequest struct {
	ClinicID           string  `json:"clinic_id"`
	VisitorFingerprint string  `json:"visitor_fingerprint,omitempty"`
	CookieID           *string `json:"cookie_id,omitempty"`
	UTMSource          *string `json:"utm_source,omitempty"`
	UTMMedium          *string `json:"utm_medium,omitempty"`
	UTMCampaign        *string `json:"utm_campaign,omitempty"`
	UTMTerm            *string `json:"utm_term,omitempty"`
	UTMContent         *string `json:"utm_content,omitempty"`
	SubID1             *string `json:"sub_id1,omitempty"`
	SubID2             *string `json:"sub_id2,omitempty"`
	SubID3             *string `json:"sub_id3,omitempty"`
	SubID4             *string `json:"sub_id4,omitempty"`
	SubID5             *string `json:"sub_id5,omitempty"`
	LandingPage        *string `json:"landing_page,omitempty"`
	Referrer           *string `json:"referrer,omitempty"`
}

type touchResponse struct {
	TouchID  string `json:"touch_id"`
	CookieID string `json:"cookie_id"`
}

// resolveResponse is the public code-resolution payload. Clinic name and
// branding belong to the clinic service; the platform gateway decorates them
// onto this shape before it reaches a landing page.
type resolveResponse struct {
	Valid         bool                   `json:"valid"`
	Code          string                 `json:"code,omitempty"`
	AffiliateName string                 `json:"affiliate_name,omitempty"`
	ClinicID      string                 `json:"clinic_id,omitempty"`
	ClinicName    string                 `json:"clinic_name,omitempty"`
	Branding      map[string]interface{} `json:"branding,omitempty"`
}

// conversionRequest is posted by the billing system when a patient pays.
type conversionRequest struct {
	ClinicID           string     `json:"clinic_id"`
	SourceEventID      string     `json:"source_event_id"`
	PatientID          *string    `json:"patient_id,omitempty"`
	OrderAmountCents   int64      `json:"order_amount_cents"`
	ProductID          string     `json:"product_id,omitempty"`
	ProductBundleID    string     `json:"product_bundle_id,omitempty"`
	IsFirstPayment     bool       `json:"is_first_payment"`
	VisitorFingerprint string     `json:"visitor_fingerprint,omitempty"`
	CookieID           *string    `json:"cookie_id,omitempty"`
	IPAddress          string     `json:"ip_address,omitempty"`
	OccurredAt         *time.Time `json:"occurred_at,omitempty"`
}

// refundRequest reverses the ledger entries of a billing event.
type refundRequest struct {
	ClinicID      string `json:"clinic_id"`
	SourceEventID string `json:"source_event_id"`
}

type createPlanRequest struct {
	ClinicID        string `json:"clinic_id"`
	Name            string `json:"name"`
	BonusType       string `json:"bonus_type"`
	PercentBps      int    `json:"percent_bps"`
	FlatAmountCents int64  `json:"flat_amount_cents"`
	IsDefault       bool   `json:"is_default"`
}

type createRuleRequest struct {
	ProductID       *string `json:"product_id,omitempty"`
	ProductBundleID *string `json:"product_bundle_id,omitempty"`
	BonusType       string  `json:"bonus_type"`
	PercentBps      int     `json:"percent_bps"`
	FlatAmountCents int64   `json:"flat_amount_cents"`
}

type createCompetitionRequest struct {
	ClinicID   string    `json:"clinic_id"`
	Name       string    `json:"name"`
	Metric     string    `json:"metric"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	AutoEnroll bool      `json:"auto_enroll"`
}

type enrollRequest struct {
	AffiliateID string `json:"affiliate_id"`
}

// earningsResponse is the affiliate dashboard summary: ledger balances plus
// lifetime aggregates and recent history.
type earningsResponse struct {
	*commission.EarningsSummary
	LifetimeRevenueCents int64                    `json:"lifetime_revenue_cents"`
	LifetimePaidCents    int64                    `json:"lifetime_paid_cents"`
	RecentCommissions    []models.CommissionEvent `json:"recent_commissions"`
	RecentPayouts        []models.Payout          `json:"recent_payouts"`
}
