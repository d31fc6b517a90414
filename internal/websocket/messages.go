package websocket

import (
	"encoding/json"
	"time"
)

// Message types broadcast to dashboard subscribers.
const (
	TypeCommission  = "commission"
	TypePayout      = "payout"
	TypeCompetition = "competition"
	TypeScheduler   = "scheduler"
	TypeHealth      = "health"
	TypeHeartbeat   = "heartbeat"
)

// Commission events
const (
	EventCommissionCredited = "credited"
	EventCommissionApproved = "approved"
	EventCommissionReversed = "reversed"
	EventCommissionHeld     = "held"
)

// Payout events
const (
	EventPayoutStarted   = "started"
	EventPayoutCompleted = "completed"
	EventPayoutFailed    = "failed"
)

// Competition events
const (
	EventCompetitionRanked = "ranked"
	EventCompetitionClosed = "closed"
)

// Scheduler events
const (
	EventJobStarted   = "job_started"
	EventJobCompleted = "job_completed"
	EventJobFailed    = "job_failed"
)

// Message is one WebSocket frame.
type Message struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewMessage stamps a message with the current time.
func NewMessage(msgType, event string, data interface{}) *Message {
	return &Message{
		Type:      msgType,
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// HeartbeatData keeps idle connections visibly alive.
type HeartbeatData struct {
	ServerTime  time.Time `json:"server_time"`
	ClientCount int       `json:"client_count"`
}
