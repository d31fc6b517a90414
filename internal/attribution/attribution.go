// Package attribution selects which recorded touches earn credit for a
// conversion.
package attribution

import (
	"errors"

	"github.com/clinicware/affiliate-engine/internal/models"
)

// ErrNoTouches signals a conversion with no attributable touch inside the
// window. Callers treat this as an organic conversion, not a failure.
var ErrNoTouches = errors.New("no attributable touches in window")

// Credit assigns a share of the conversion to one touch. Weights always sum
// to 1.0 across a result.
type Credit struct {
	Touch  models.Touch
	Weight float64
}

// Select applies an attribution model to a visitor's in-window touches.
// Touches must already be filtered to the cookie window and sorted oldest
// first, which is how the touch store returns them.
//
// FIRST_CLICK and LAST_CLICK credit a single touch. FIRST_CLICK credits the
// earliest touch that has not already earned a conversion, so a repeat
// purchase credits a fresh click instead of re-crediting the first-ever one.
// LINEAR splits credit equally across every touch; cent-level remainders are
// settled later by the commission calculator, not here.
func Select(model string, touches []models.Touch) ([]Credit, error) {
	if len(touches) == 0 {
		return nil, ErrNoTouches
	}

	switch model {
	case models.AttributionFirstClick:
		for _, t := range touches {
			if t.ConvertedAt == nil {
				return []Credit{{Touch: t, Weight: 1}}, nil
			}
		}
		return nil, ErrNoTouches
	case models.AttributionLastClick:
		return []Credit{{Touch: touches[len(touches)-1], Weight: 1}}, nil
	case models.AttributionLinear:
		credits := make([]Credit, len(touches))
		w := 1.0 / float64(len(touches))
		for i, t := range touches {
			credits[i] = Credit{Touch: t, Weight: w}
		}
		return credits, nil
	default:
		return nil, errors.New("unknown attribution model: " + model)
	}
}
