package fraud

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clinicware/affiliate-engine/internal/ipintel"
	"github.com/clinicware/affiliate-engine/internal/settings"
)

func baseSettings() settings.ProgramSettings {
	s := settings.Defaults()
	s.FraudEnabled = true
	s.MaxConversionsPerDay = 10
	s.MaxConversionsPerIP = 3
	s.BlockTor = true
	s.BlockProxyVPN = false
	s.AutoHoldOnHighRisk = true
	return s
}

func TestDecideDisabledAllowsEverything(t *testing.T) {
	s := baseSettings()
	s.FraudEnabled = false

	d := decide(s, &ipintel.Signals{IsTor: true}, 1000, 1000)
	assert.Equal(t, ActionAllow, d.Action)
}

func TestDecideTorBlocked(t *testing.T) {
	d := decide(baseSettings(), &ipintel.Signals{IsTor: true}, 1, 1)
	assert.Equal(t, ActionBlock, d.Action)
	assert.Contains(t, d.Reasons, "tor_exit_node")
	assert.False(t, d.Allowed())
}

func TestDecideTorAllowedWhenNotBlocking(t *testing.T) {
	s := baseSettings()
	s.BlockTor = false

	d := decide(s, &ipintel.Signals{IsTor: true}, 1, 1)
	assert.Equal(t, ActionAllow, d.Action)
}

func TestDecideProxyVPN(t *testing.T) {
	s := baseSettings()
	s.BlockProxyVPN = true

	assert.Equal(t, ActionBlock, decide(s, &ipintel.Signals{IsProxy: true}, 1, 1).Action)
	assert.Equal(t, ActionBlock, decide(s, &ipintel.Signals{IsVPN: true}, 1, 1).Action)

	s.BlockProxyVPN = false
	assert.Equal(t, ActionAllow, decide(s, &ipintel.Signals{IsVPN: true}, 1, 1).Action)
}

func TestDecideVelocityHold(t *testing.T) {
	s := baseSettings()

	d := decide(s, nil, 11, 1)
	assert.Equal(t, ActionHold, d.Action)
	assert.Contains(t, d.Reasons, "daily_velocity_exceeded")
	assert.True(t, d.Allowed())
	assert.True(t, d.Hold())
}

func TestDecideVelocityBlockWithoutAutoHold(t *testing.T) {
	s := baseSettings()
	s.AutoHoldOnHighRisk = false

	d := decide(s, nil, 1, 4)
	assert.Equal(t, ActionBlock, d.Action)
	assert.Contains(t, d.Reasons, "ip_velocity_exceeded")
}

func TestDecideBothVelocityReasons(t *testing.T) {
	d := decide(baseSettings(), nil, 11, 4)
	assert.Equal(t, ActionHold, d.Action)
	assert.Len(t, d.Reasons, 2)
}

func TestDecideAtThresholdAllows(t *testing.T) {
	s := baseSettings()
	d := decide(s, nil, 10, 3)
	assert.Equal(t, ActionAllow, d.Action)
}

func TestDecideMissingSignalsFailsOpen(t *testing.T) {
	d := decide(baseSettings(), nil, 1, 1)
	assert.Equal(t, ActionAllow, d.Action)
	assert.Empty(t, d.Reasons)
}

func TestDecideTorBeforeVelocity(t *testing.T) {
	// A hard network block wins even when velocity would only hold.
	d := decide(baseSettings(), &ipintel.Signals{IsTor: true}, 100, 100)
	assert.Equal(t, ActionBlock, d.Action)
	assert.Equal(t, []string{"tor_exit_node"}, d.Reasons)
}
