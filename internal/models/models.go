// internal/models/models.go
package models

import (
	"time"
)

// Affiliate is a program participant within one clinic. Affiliates are never
// hard-deleted; lifecycle is expressed through Status only.
type Affiliate struct {
	ID                      string    `json:"id" db:"id"`
	ClinicID                string    `json:"clinic_id" db:"clinic_id"`
	UserID                  string    `json:"user_id" db:"user_id"`
	DisplayName             string    `json:"display_name" db:"display_name"`
	Status                  string    `json:"status" db:"status"`
	PlanID                  string    `json:"plan_id,omitempty" db:"plan_id"`
	LifetimeRevenueCents    int64     `json:"lifetime_revenue_cents" db:"lifetime_revenue_cents"`
	LifetimeCommissionCents int64     `json:"lifetime_commission_cents" db:"lifetime_commission_cents"`
	LifetimePaidCents       int64     `json:"lifetime_paid_cents" db:"lifetime_paid_cents"`
	CreatedAt               time.Time `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time `json:"updated_at" db:"updated_at"`
}

// RefCode is a public, clinic-scoped code bound to one affiliate. Several
// codes may point at the same affiliate for campaign tracking; (clinic_id,
// upper(code)) is unique.
type RefCode struct {
	ID          string    `json:"id" db:"id"`
	ClinicID    string    `json:"clinic_id" db:"clinic_id"`
	AffiliateID string    `json:"affiliate_id" db:"affiliate_id"`
	Code        string    `json:"code" db:"code"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Touch is one recorded visitor interaction. PII fields (fingerprint, ip
// hash, cookie id, user agent) are only ever mutated by the retention job.
// ConvertedAt is append-only: once set it is never cleared.
type Touch struct {
	ID                 string     `json:"id" db:"id"`
	ClinicID           string     `json:"clinic_id" db:"clinic_id"`
	AffiliateID        string     `json:"affiliate_id" db:"affiliate_id"`
	RefCodeID          string     `json:"ref_code_id" db:"ref_code_id"`
	VisitorFingerprint string     `json:"visitor_fingerprint" db:"visitor_fingerprint"`
	IPAddressHash      *string    `json:"ip_address_hash,omitempty" db:"ip_address_hash"`
	CookieID           *string    `json:"cookie_id,omitempty" db:"cookie_id"`
	UserAgent          *string    `json:"user_agent,omitempty" db:"user_agent"`
	UTMSource          *string    `json:"utm_source,omitempty" db:"utm_source"`
	UTMMedium          *string    `json:"utm_medium,omitempty" db:"utm_medium"`
	UTMCampaign        *string    `json:"utm_campaign,omitempty" db:"utm_campaign"`
	UTMTerm            *string    `json:"utm_term,omitempty" db:"utm_term"`
	UTMContent         *string    `json:"utm_content,omitempty" db:"utm_content"`
	SubID1             *string    `json:"sub_id1,omitempty" db:"sub_id1"`
	SubID2             *string    `json:"sub_id2,omitempty" db:"sub_id2"`
	SubID3             *string    `json:"sub_id3,omitempty" db:"sub_id3"`
	SubID4             *string    `json:"sub_id4,omitempty" db:"sub_id4"`
	SubID5             *string    `json:"sub_id5,omitempty" db:"sub_id5"`
	LandingPage        *string    `json:"landing_page,omitempty" db:"landing_page"`
	Referrer           *string    `json:"referrer,omitempty" db:"referrer"`
	PatientID          *string    `json:"patient_id,omitempty" db:"patient_id"`
	ConvertedAt        *time.Time `json:"converted_at,omitempty" db:"converted_at"`
	Archived           bool       `json:"archived" db:"archived"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
}

// CommissionEvent is one monetizable ledger entry tied to a source payment
// or order. Amounts are integer cents. CommissionAmountCents is immutable
// after creation; a clawback of a PAID event is expressed as a separate
// negative-adjustment event referencing the original via ReversalOf.
type CommissionEvent struct {
	ID                    string     `json:"id" db:"id"`
	ClinicID              string     `json:"clinic_id" db:"clinic_id"`
	AffiliateID           string     `json:"affiliate_id" db:"affiliate_id"`
	RefCodeID             *string    `json:"ref_code_id,omitempty" db:"ref_code_id"`
	TouchID               *string    `json:"touch_id,omitempty" db:"touch_id"`
	SourceEventID         string     `json:"source_event_id" db:"source_event_id"`
	Status                string     `json:"status" db:"status"`
	OrderAmountCents      int64      `json:"order_amount_cents" db:"order_amount_cents"`
	CommissionAmountCents int64      `json:"commission_amount_cents" db:"commission_amount_cents"`
	HoldUntil             time.Time  `json:"hold_until" db:"hold_until"`
	RiskFlagged           bool       `json:"risk_flagged" db:"risk_flagged"`
	PayoutID              *string    `json:"payout_id,omitempty" db:"payout_id"`
	ReversalOf            *string    `json:"reversal_of,omitempty" db:"reversal_of"`
	ApprovedAt            *time.Time `json:"approved_at,omitempty" db:"approved_at"`
	PaidAt                *time.Time `json:"paid_at,omitempty" db:"paid_at"`
	ReversedAt            *time.Time `json:"reversed_at,omitempty" db:"reversed_at"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at" db:"updated_at"`
}

// Payout is a batch settlement for one affiliate. Invariant: the sum of
// linked commission events equals GrossAmountCents.
type Payout struct {
	ID               string     `json:"id" db:"id"`
	ClinicID         string     `json:"clinic_id" db:"clinic_id"`
	AffiliateID      string     `json:"affiliate_id" db:"affiliate_id"`
	PeriodKey        string     `json:"period_key" db:"period_key"`
	Status           string     `json:"status" db:"status"`
	GrossAmountCents int64      `json:"gross_amount_cents" db:"gross_amount_cents"`
	FeeCents         int64      `json:"fee_cents" db:"fee_cents"`
	NetAmountCents   int64      `json:"net_amount_cents" db:"net_amount_cents"`
	EventCount       int        `json:"event_count" db:"event_count"`
	PaymentRef       string     `json:"payment_ref,omitempty" db:"payment_ref"`
	FailureReason    string     `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// CommissionPlan carries the default rate for affiliates assigned to it.
type CommissionPlan struct {
	ID              string    `json:"id" db:"id"`
	ClinicID        string    `json:"clinic_id" db:"clinic_id"`
	Name            string    `json:"name" db:"name"`
	BonusType       string    `json:"bonus_type" db:"bonus_type"`
	PercentBps      int       `json:"percent_bps" db:"percent_bps"`
	FlatAmountCents int64     `json:"flat_amount_cents" db:"flat_amount_cents"`
	IsDefault       bool      `json:"is_default" db:"is_default"`
	IsActive        bool      `json:"is_active" db:"is_active"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// ProductCommissionRule overrides a plan's rate for one product or bundle.
// Exactly one of ProductID/ProductBundleID is set, and BonusType selects
// which of PercentBps/FlatAmountCents applies.
type ProductCommissionRule struct {
	ID              string    `json:"id" db:"id"`
	PlanID          string    `json:"plan_id" db:"plan_id"`
	ProductID       *string   `json:"product_id,omitempty" db:"product_id"`
	ProductBundleID *string   `json:"product_bundle_id,omitempty" db:"product_bundle_id"`
	BonusType       string    `json:"bonus_type" db:"bonus_type"`
	PercentBps      int       `json:"percent_bps" db:"percent_bps"`
	FlatAmountCents int64     `json:"flat_amount_cents" db:"flat_amount_cents"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Competition is a time-boxed contest over one metric.
type Competition struct {
	ID         string    `json:"id" db:"id"`
	ClinicID   string    `json:"clinic_id" db:"clinic_id"`
	Name       string    `json:"name" db:"name"`
	Metric     string    `json:"metric" db:"metric"`
	Status     string    `json:"status" db:"status"`
	StartDate  time.Time `json:"start_date" db:"start_date"`
	EndDate    time.Time `json:"end_date" db:"end_date"`
	AutoEnroll bool      `json:"auto_enroll" db:"auto_enroll"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// CompetitionEntry holds a running value and a persisted rank so historical
// leaderboards stay stable after the competition closes.
type CompetitionEntry struct {
	ID            string    `json:"id" db:"id"`
	CompetitionID string    `json:"competition_id" db:"competition_id"`
	AffiliateID   string    `json:"affiliate_id" db:"affiliate_id"`
	CurrentValue  int64     `json:"current_value" db:"current_value"`
	Rank          int       `json:"rank" db:"rank"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Affiliate statuses
const (
	AffiliateStatusActive    = "ACTIVE"
	AffiliateStatusPaused    = "PAUSED"
	AffiliateStatusSuspended = "SUSPENDED"
	AffiliateStatusInactive  = "INACTIVE"
)

// Commission event statuses
const (
	CommissionStatusPending  = "PENDING"
	CommissionStatusApproved = "APPROVED"
	CommissionStatusPaid     = "PAID"
	CommissionStatusReversed = "REVERSED"
)

// Payout statuses
const (
	PayoutStatusProcessing = "PROCESSING"
	PayoutStatusCompleted  = "COMPLETED"
	PayoutStatusFailed     = "FAILED"
)

// Bonus types for plans and product rules
const (
	BonusTypePercent = "PERCENT"
	BonusTypeFlat    = "FLAT"
)

// Attribution models
const (
	AttributionFirstClick = "FIRST_CLICK"
	AttributionLastClick  = "LAST_CLICK"
	AttributionLinear     = "LINEAR"
)

// Competition statuses
const (
	CompetitionStatusScheduled = "SCHEDULED"
	CompetitionStatusActive    = "ACTIVE"
	CompetitionStatusCompleted = "COMPLETED"
	CompetitionStatusCancelled = "CANCELLED"
)

// Competition / leaderboard metrics
const (
	MetricClicks         = "CLICKS"
	MetricConversions    = "CONVERSIONS"
	MetricRevenue        = "REVENUE"
	MetricConversionRate = "CONVERSION_RATE"
	MetricNewCustomers   = "NEW_CUSTOMERS"
)

// Payout frequencies
const (
	PayoutFrequencyWeekly   = "weekly"
	PayoutFrequencyBiweekly = "biweekly"
	PayoutFrequencyMonthly  = "monthly"
)

// AnonymizedFingerprint is the sentinel the retention job writes over a
// touch's visitor fingerprint.
const AnonymizedFingerprint = "anonymized"
