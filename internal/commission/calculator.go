// Package commission computes, records and transitions affiliate commission
// events.
package commission

import (
	"github.com/clinicware/affiliate-engine/internal/models"
)

// Rate is the resolved commission rate applied to one order.
type Rate struct {
	BonusType       string
	PercentBps      int
	FlatAmountCents int64
	Source          string
}

// Rate resolution sources, recorded for audit logging.
const (
	RateSourceProductRule   = "product_rule"
	RateSourceBundleRule    = "bundle_rule"
	RateSourcePlan          = "plan"
	RateSourceClinicDefault = "clinic_default"
)

// ResolveRate picks the rate for an order. Precedence: a rule matching the
// exact product, then a rule matching the product's bundle, then the
// affiliate's plan, then the clinic-wide default percentage.
func ResolveRate(plan *models.CommissionPlan, rules []models.ProductCommissionRule, productID, bundleID string, defaultBps int) Rate {
	if productID != "" {
		for _, r := range rules {
			if r.ProductID != nil && *r.ProductID == productID {
				return Rate{BonusType: r.BonusType, PercentBps: r.PercentBps, FlatAmountCents: r.FlatAmountCents, Source: RateSourceProductRule}
			}
		}
	}
	if bundleID != "" {
		for _, r := range rules {
			if r.ProductBundleID != nil && *r.ProductBundleID == bundleID {
				return Rate{BonusType: r.BonusType, PercentBps: r.PercentBps, FlatAmountCents: r.FlatAmountCents, Source: RateSourceBundleRule}
			}
		}
	}
	if plan != nil {
		return Rate{BonusType: plan.BonusType, PercentBps: plan.PercentBps, FlatAmountCents: plan.FlatAmountCents, Source: RateSourcePlan}
	}
	return Rate{BonusType: models.BonusTypePercent, PercentBps: defaultBps, Source: RateSourceClinicDefault}
}

// ComputeAmount turns a rate and order amount into commission cents.
// Percentages round half-up at the cent; flat bonuses ignore the order size.
func ComputeAmount(rate Rate, orderAmountCents int64) int64 {
	switch rate.BonusType {
	case models.BonusTypeFlat:
		return rate.FlatAmountCents
	default:
		return (orderAmountCents*int64(rate.PercentBps) + 5000) / 10000
	}
}

// SplitLinear divides a total across n equal shares. Remainder cents land on
// the earliest shares, one each, so the split always sums exactly to total
// and the earliest touch never gets less than a later one.
func SplitLinear(totalCents int64, n int) []int64 {
	if n <= 0 {
		return nil
	}

	shares := make([]int64, n)
	base := totalCents / int64(n)
	remainder := totalCents % int64(n)

	for i := range shares {
		shares[i] = base
		if int64(i) < remainder {
			shares[i]++
		}
	}

	return shares
}
