package attribution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicware/affiliate-engine/internal/models"
)

func mkTouches(n int) []models.Touch {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Touch, n)
	for i := range out {
		out[i] = models.Touch{
			ID:          string(rune('a' + i)),
			AffiliateID: "aff-" + string(rune('a'+i)),
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
		}
	}
	return out
}

func TestSelectFirstClick(t *testing.T) {
	touches := mkTouches(3)

	credits, err := Select(models.AttributionFirstClick, touches)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, touches[0].ID, credits[0].Touch.ID)
	assert.Equal(t, 1.0, credits[0].Weight)
}

func TestSelectFirstClickSkipsConvertedTouches(t *testing.T) {
	touches := mkTouches(3)
	converted := touches[0].CreatedAt.Add(time.Minute)
	touches[0].ConvertedAt = &converted

	credits, err := Select(models.AttributionFirstClick, touches)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	// The earliest touch already earned a conversion; the repeat purchase
	// credits the next-oldest click instead of the same one again.
	assert.Equal(t, touches[1].ID, credits[0].Touch.ID)
}

func TestSelectFirstClickAllConvertedIsOrganic(t *testing.T) {
	touches := mkTouches(2)
	for i := range touches {
		converted := touches[i].CreatedAt.Add(time.Minute)
		touches[i].ConvertedAt = &converted
	}

	_, err := Select(models.AttributionFirstClick, touches)
	assert.ErrorIs(t, err, ErrNoTouches)
}

func TestSelectLastClick(t *testing.T) {
	touches := mkTouches(3)

	credits, err := Select(models.AttributionLastClick, touches)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, touches[2].ID, credits[0].Touch.ID)
}

func TestSelectLinear(t *testing.T) {
	touches := mkTouches(4)

	credits, err := Select(models.AttributionLinear, touches)
	require.NoError(t, err)
	require.Len(t, credits, 4)

	var sum float64
	for _, c := range credits {
		assert.Equal(t, 0.25, c.Weight)
		sum += c.Weight
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestSelectSingleTouchAllModels(t *testing.T) {
	touches := mkTouches(1)

	for _, model := range []string{models.AttributionFirstClick, models.AttributionLastClick, models.AttributionLinear} {
		credits, err := Select(model, touches)
		require.NoError(t, err, model)
		require.Len(t, credits, 1, model)
		assert.Equal(t, 1.0, credits[0].Weight, model)
	}
}

func TestSelectNoTouches(t *testing.T) {
	_, err := Select(models.AttributionFirstClick, nil)
	assert.ErrorIs(t, err, ErrNoTouches)
}

func TestSelectUnknownModel(t *testing.T) {
	_, err := Select("BEST_CLICK", mkTouches(2))
	assert.Error(t, err)
}
