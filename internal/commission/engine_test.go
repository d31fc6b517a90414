package commission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventSourceIDAlwaysCarriesOrdinal(t *testing.T) {
	assert.Equal(t, "pay_123#0", eventSourceID("pay_123", 0))
	assert.Equal(t, "pay_123#1", eventSourceID("pay_123", 1))
	assert.Equal(t, "pay_123#2", eventSourceID("pay_123", 2))
}

func TestEventSourceIDStableAcrossCreditCounts(t *testing.T) {
	// A redelivered billing event can attribute a different number of
	// touches than the first delivery did (new clicks, expired window). The
	// first ledger row of every delivery must land on the same key so the
	// unique index rejects the replay regardless of the count.
	firstOfSingle := eventSourceID("pay_123", 0)
	firstOfSplit := eventSourceID("pay_123", 0)
	assert.Equal(t, firstOfSingle, firstOfSplit)
}

func TestReplayKeyPerClinic(t *testing.T) {
	assert.Equal(t, "conv:seen:clinic-a:pay_123", replayKey("clinic-a", "pay_123"))
	assert.NotEqual(t, replayKey("clinic-a", "pay_123"), replayKey("clinic-b", "pay_123"))
}
