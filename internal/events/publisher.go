// Package events publishes domain events to the affiliate service's
// WebSocket hub for live dashboards.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Publisher posts events to the hub's internal ingest endpoint.
type Publisher struct {
	serviceURL string
	httpClient *http.Client
}

func NewPublisher(serviceURL string) *Publisher {
	return &Publisher{
		serviceURL: serviceURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Event is the wire shape broadcast to dashboard subscribers.
type Event struct {
	Type  string      `json:"type"`
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

func (p *Publisher) Publish(ctx context.Context, eventType, eventName string, data interface{}) error {
	event := Event{
		Type:  eventType,
		Event: eventName,
		Data:  data,
	}

	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.serviceURL+"/internal/events", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event rejected with status: %d", resp.StatusCode)
	}

	return nil
}

// PublishAsync fires and forgets. Dashboard events are best-effort; a lost
// broadcast never blocks ledger work.
func (p *Publisher) PublishAsync(eventType, eventName string, data interface{}) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.Publish(ctx, eventType, eventName, data)
	}()
}

// Event type constants
const (
	TypeCommission  = "commission"
	TypePayout      = "payout"
	TypeCompetition = "competition"
	TypeScheduler   = "scheduler"
)

// Commission event names
const (
	CommissionCredited = "credited"
	CommissionApproved = "approved"
	CommissionReversed = "reversed"
	CommissionHeld     = "held"
)

// Payout event names
const (
	PayoutStarted   = "started"
	PayoutCompleted = "completed"
	PayoutFailed    = "failed"
)

// Competition event names
const (
	CompetitionRanked = "ranked"
	CompetitionClosed = "closed"
)

// Scheduler event names
const (
	JobStarted   = "job_started"
	JobCompleted = "job_completed"
	JobFailed    = "job_failed"
)

// CommissionEventData is the payload for commission broadcasts.
type CommissionEventData struct {
	EventID               string `json:"event_id"`
	ClinicID              string `json:"clinic_id"`
	AffiliateID           string `json:"affiliate_id"`
	Status                string `json:"status"`
	CommissionAmountCents int64  `json:"commission_amount_cents"`
	OrderAmountCents      int64  `json:"order_amount_cents,omitempty"`
	RiskFlagged           bool   `json:"risk_flagged,omitempty"`
}

// PayoutEventData is the payload for payout broadcasts.
type PayoutEventData struct {
	PayoutID       string `json:"payout_id"`
	ClinicID       string `json:"clinic_id"`
	AffiliateID    string `json:"affiliate_id"`
	PeriodKey      string `json:"period_key"`
	Status         string `json:"status"`
	NetAmountCents int64  `json:"net_amount_cents"`
	EventCount     int    `json:"event_count,omitempty"`
	FailureReason  string `json:"failure_reason,omitempty"`
}

// CompetitionEventData is the payload for leaderboard broadcasts.
type CompetitionEventData struct {
	CompetitionID string `json:"competition_id"`
	ClinicID      string `json:"clinic_id"`
	Status        string `json:"status"`
	Entries       int    `json:"entries,omitempty"`
}

// JobEventData is the payload for scheduler broadcasts.
type JobEventData struct {
	Job     string `json:"job"`
	Status  string `json:"status"`
	Detail  string `json:"detail,omitempty"`
	Elapsed string `json:"elapsed,omitempty"`
}

func (p *Publisher) PublishCommissionCredited(data CommissionEventData) {
	p.PublishAsync(TypeCommission, CommissionCredited, data)
}

func (p *Publisher) PublishCommissionApproved(data CommissionEventData) {
	p.PublishAsync(TypeCommission, CommissionApproved, data)
}

func (p *Publisher) PublishCommissionReversed(data CommissionEventData) {
	p.PublishAsync(TypeCommission, CommissionReversed, data)
}

func (p *Publisher) PublishCommissionHeld(data CommissionEventData) {
	p.PublishAsync(TypeCommission, CommissionHeld, data)
}

func (p *Publisher) PublishPayoutStarted(data PayoutEventData) {
	p.PublishAsync(TypePayout, PayoutStarted, data)
}

func (p *Publisher) PublishPayoutCompleted(data PayoutEventData) {
	p.PublishAsync(TypePayout, PayoutCompleted, data)
}

func (p *Publisher) PublishPayoutFailed(data PayoutEventData) {
	p.PublishAsync(TypePayout, PayoutFailed, data)
}

func (p *Publisher) PublishCompetitionRanked(data CompetitionEventData) {
	p.PublishAsync(TypeCompetition, CompetitionRanked, data)
}

func (p *Publisher) PublishJobCompleted(data JobEventData) {
	p.PublishAsync(TypeScheduler, JobCompleted, data)
}

func (p *Publisher) PublishJobFailed(data JobEventData) {
	p.PublishAsync(TypeScheduler, JobFailed, data)
}
