// Package fraud screens conversions before any commission is written.
//
// Screening never invents failures: when the IP reputation service is down
// or the velocity counters are unreadable, the conversion proceeds as if the
// missing signal were clean. Blocking a legitimate commission costs more
// than letting a borderline one mature through the hold window.
package fraud

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clinicware/affiliate-engine/internal/cache"
	"github.com/clinicware/affiliate-engine/internal/ipintel"
	"github.com/clinicware/affiliate-engine/internal/settings"
)

// Screening actions, in increasing severity.
const (
	ActionAllow = "ALLOW"
	ActionHold  = "HOLD"
	ActionBlock = "BLOCK"
)

// Decision is the screening outcome. Reasons carry the triggered checks for
// the audit log; an ALLOW has none.
type Decision struct {
	Action  string   `json:"action"`
	Reasons []string `json:"reasons,omitempty"`
}

// Allowed reports whether the conversion may create a commission at all.
func (d Decision) Allowed() bool {
	return d.Action != ActionBlock
}

// Hold reports whether the commission should get the extended hold and a
// risk flag.
func (d Decision) Hold() bool {
	return d.Action == ActionHold
}

const counterWindow = 48 * time.Hour

func dayCounterKey(affiliateID string, now time.Time) string {
	return fmt.Sprintf("fraud:conv:day:%s:%s", affiliateID, now.UTC().Format("2006-01-02"))
}

func ipCounterKey(affiliateID, ipHash string, now time.Time) string {
	return fmt.Sprintf("fraud:conv:ip:%s:%s:%s", affiliateID, ipHash, now.UTC().Format("2006-01-02"))
}

// decide applies the policy to already-gathered signals. Order matters:
// hard network blocks before velocity, so a Tor exit with low volume is
// still rejected when the clinic blocks Tor.
func decide(s settings.ProgramSettings, sig *ipintel.Signals, dayCount, ipCount int64) Decision {
	if !s.FraudEnabled {
		return Decision{Action: ActionAllow}
	}

	if sig != nil {
		if sig.IsTor && s.BlockTor {
			return Decision{Action: ActionBlock, Reasons: []string{"tor_exit_node"}}
		}
		if (sig.IsProxy || sig.IsVPN) && s.BlockProxyVPN {
			return Decision{Action: ActionBlock, Reasons: []string{"proxy_or_vpn"}}
		}
	}

	var reasons []string
	if dayCount > int64(s.MaxConversionsPerDay) {
		reasons = append(reasons, "daily_velocity_exceeded")
	}
	if ipCount > int64(s.MaxConversionsPerIP) {
		reasons = append(reasons, "ip_velocity_exceeded")
	}

	if len(reasons) > 0 {
		if s.AutoHoldOnHighRisk {
			return Decision{Action: ActionHold, Reasons: reasons}
		}
		return Decision{Action: ActionBlock, Reasons: reasons}
	}

	return Decision{Action: ActionAllow}
}

type Screener struct {
	cache  *cache.Client
	intel  *ipintel.Client
	logger *zap.SugaredLogger
}

func NewScreener(c *cache.Client, intel *ipintel.Client, logger *zap.SugaredLogger) *Screener {
	return &Screener{cache: c, intel: intel, logger: logger}
}

// Evaluate screens one conversion attempt. It increments the affiliate's
// velocity counters first, so the conversion that crosses a threshold is the
// one that gets held. IP may be empty when the billing event carried none.
func (s *Screener) Evaluate(ctx context.Context, cfg settings.ProgramSettings, affiliateID, ip, ipHash string) Decision {
	if !cfg.FraudEnabled {
		return Decision{Action: ActionAllow}
	}

	now := time.Now()

	dayCount, err := s.cache.IncrWindow(ctx, dayCounterKey(affiliateID, now), counterWindow)
	if err != nil {
		s.logger.Warnw("velocity counter unavailable, failing open", "affiliate_id", affiliateID, "error", err)
		dayCount = 0
	}

	var ipCount int64
	if ipHash != "" {
		ipCount, err = s.cache.IncrWindow(ctx, ipCounterKey(affiliateID, ipHash, now), counterWindow)
		if err != nil {
			s.logger.Warnw("ip velocity counter unavailable, failing open", "affiliate_id", affiliateID, "error", err)
			ipCount = 0
		}
	}

	var sig *ipintel.Signals
	if ip != "" {
		sig, err = s.intel.Lookup(ctx, ip)
		if err != nil {
			s.logger.Warnw("ip intel lookup failed, failing open", "affiliate_id", affiliateID, "error", err)
			sig = nil
		}
	}

	decision := decide(cfg, sig, dayCount, ipCount)
	if decision.Action != ActionAllow {
		s.logger.Infow("conversion screened",
			"affiliate_id", affiliateID,
			"action", decision.Action,
			"reasons", decision.Reasons,
		)
	}

	return decision
}
