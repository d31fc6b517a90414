// Package ipintel wraps the IP reputation service used by fraud screening.
package ipintel

import (
	"context"
	"net/url"
	"time"

	"github.com/clinicware/affiliate-engine/internal/httpclient"
)

// Signals is the reputation verdict for one address. Zero value means "no
// signals", which screening treats as clean.
type Signals struct {
	IsProxy     bool   `json:"is_proxy"`
	IsVPN       bool   `json:"is_vpn"`
	IsTor       bool   `json:"is_tor"`
	IsHosting   bool   `json:"is_hosting"`
	RiskScore   int    `json:"risk_score"`
	CountryCode string `json:"country_code,omitempty"`
}

type Client struct {
	http *httpclient.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		http: httpclient.NewClient(baseURL, 3*time.Second),
	}
}

// Lookup fetches signals for a raw client IP. The caller decides how to
// handle lookup errors; fraud screening fails open on them.
func (c *Client) Lookup(ctx context.Context, ip string) (*Signals, error) {
	var s Signals
	if err := c.http.Get(ctx, "/v1/lookup?ip="+url.QueryEscape(ip), &s); err != nil {
		return nil, err
	}
	return &s, nil
}
