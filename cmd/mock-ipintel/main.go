// mock-ipintel simulates the IP reputation service. Fixed prefixes map to
// signals so fraud scenarios can be exercised deterministically:
//
//	10.66.*  -> Tor exit node
//	10.77.*  -> VPN
//	10.88.*  -> proxy
package main

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/mux"

	"github.com/clinicware/affiliate-engine/internal/logger"
)

type signals struct {
	IsProxy     bool   `json:"is_proxy"`
	IsVPN       bool   `json:"is_vpn"`
	IsTor       bool   `json:"is_tor"`
	IsHosting   bool   `json:"is_hosting"`
	RiskScore   int    `json:"risk_score"`
	CountryCode string `json:"country_code,omitempty"`
}

func lookup(w http.ResponseWriter, r *http.Request) {
	ip := r.URL.Query().Get("ip")
	if ip == "" {
		http.Error(w, "ip is required", http.StatusBadRequest)
		return
	}

	var s signals
	switch {
	case strings.HasPrefix(ip, "10.66."):
		s = signals{IsTor: true, RiskScore: 95}
	case strings.HasPrefix(ip, "10.77."):
		s = signals{IsVPN: true, RiskScore: 60}
	case strings.HasPrefix(ip, "10.88."):
		s = signals{IsProxy: true, RiskScore: 70}
	default:
		s = signals{RiskScore: 5, CountryCode: "US"}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func main() {
	log := logger.New("mock-ipintel", os.Getenv("LOG_LEVEL"))
	defer log.Sync()

	r := mux.NewRouter()
	r.HandleFunc("/v1/lookup", lookup).Methods("GET")
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods("GET")

	port := os.Getenv("PORT")
	if port == "" {
		port = "8102"
	}

	log.Infow("mock ipintel starting", "addr", ":"+port)
	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Fatalw("server stopped", "error", err)
	}
}
