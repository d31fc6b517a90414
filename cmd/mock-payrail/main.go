// mock-payrail simulates the payment rail for local development. Transfers
// approve by default; amounts ending in 13 decline, so failure paths are
// reproducible.
package main

import (
	"encoding/json"
	"net/http"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/clinicware/affiliate-engine/internal/logger"
)

type transferRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	ClinicID       string `json:"clinic_id"`
	AffiliateID    string `json:"affiliate_id"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	Description    string `json:"description,omitempty"`
}

type transferResponse struct {
	Approved   bool   `json:"approved"`
	PaymentRef string `json:"payment_ref,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type server struct {
	mu   sync.Mutex
	seen map[string]transferResponse
}

func (s *server) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Idempotent replays get the original answer.
	if resp, ok := s.seen[req.IdempotencyKey]; ok {
		respond(w, resp)
		return
	}

	var resp transferResponse
	switch {
	case req.AmountCents <= 0:
		resp = transferResponse{Approved: false, Reason: "invalid amount"}
	case req.AmountCents%100 == 13:
		resp = transferResponse{Approved: false, Reason: "insufficient rail balance"}
	default:
		resp = transferResponse{Approved: true, PaymentRef: "ref_" + uuid.New().String()[:12]}
	}

	if req.IdempotencyKey != "" {
		s.seen[req.IdempotencyKey] = resp
	}
	respond(w, resp)
}

func respond(w http.ResponseWriter, resp transferResponse) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func main() {
	log := logger.New("mock-payrail", os.Getenv("LOG_LEVEL"))
	defer log.Sync()

	s := &server{seen: make(map[string]transferResponse)}

	r := mux.NewRouter()
	r.HandleFunc("/v1/transfers", s.transfer).Methods("POST")
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods("GET")

	port := os.Getenv("PORT")
	if port == "" {
		port = "8101"
	}

	log.Infow("mock payrail starting", "addr", ":"+port)
	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Fatalw("server stopped", "error", err)
	}
}
