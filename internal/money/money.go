// Package money provides integer-cent amounts and the three-way fee split.
//
// All amounts are in minor currency units (cents). Splits are computed in
// integer arithmetic so the parts always sum exactly to the total collected;
// any rounding remainder from the partner share division is absorbed by
// partner B.
package money

import (
	"fmt"
	"log/slog"
)

// BPSDenominator is the basis-point scale: 10000 bps = 100%.
const BPSDenominator = 10000

// Policy describes how the platform fee is divided between the two
// platform partner accounts. Shares are in basis points and should sum
// to 10000; a misconfigured policy is logged as a warning at startup,
// not treated as fatal.
type Policy struct {
	PartnerAShareBPS int
	PartnerBShareBPS int
}

// DefaultPolicy splits the platform fee 50/50.
func DefaultPolicy() Policy {
	return Policy{PartnerAShareBPS: 5000, PartnerBShareBPS: 5000}
}

// PolicyFromShareA builds a policy where partner B receives whatever
// partner A does not.
func PolicyFromShareA(shareABPS int) Policy {
	return Policy{PartnerAShareBPS: shareABPS, PartnerBShareBPS: BPSDenominator - shareABPS}
}

// Warn logs a warning if the shares do not sum to 100%. The split itself
// remains exact regardless: partner B absorbs the remainder of the
// platform fee after partner A's share is taken.
func (p Policy) Warn(logger *slog.Logger) {
	if p.PartnerAShareBPS+p.PartnerBShareBPS != BPSDenominator {
		logger.Warn("platform fee share policy does not sum to 100%",
			"partner_a_bps", p.PartnerAShareBPS,
			"partner_b_bps", p.PartnerBShareBPS,
		)
	}
}

// Split is the three-way division of a collected payment.
type Split struct {
	ProviderCents int64 `json:"providerCents"`
	PartnerACents int64 `json:"partnerACents"`
	PartnerBCents int64 `json:"partnerBCents"`
}

// Total returns the sum of all split components.
func (s Split) Total() int64 {
	return s.ProviderCents + s.PartnerACents + s.PartnerBCents
}

// ComputeSplit divides serviceFee+platformFee between the provider and the
// two platform partners. The provider keeps 100% of the service fee.
// Partner A receives round(platformFee * shareA); partner B receives the
// remainder, so the parts always sum exactly to the total.
//
// Negative inputs are clamped to zero. Pure function, no error conditions.
func ComputeSplit(serviceFeeCents, platformFeeCents int64, policy Policy) Split {
	if serviceFeeCents < 0 {
		serviceFeeCents = 0
	}
	if platformFeeCents < 0 {
		platformFeeCents = 0
	}

	// Round half up in integer arithmetic.
	partnerA := (platformFeeCents*int64(policy.PartnerAShareBPS) + BPSDenominator/2) / BPSDenominator
	if partnerA > platformFeeCents {
		partnerA = platformFeeCents
	}
	if partnerA < 0 {
		partnerA = 0
	}

	return Split{
		ProviderCents: serviceFeeCents,
		PartnerACents: partnerA,
		PartnerBCents: platformFeeCents - partnerA,
	}
}

// FormatCents renders an integer-cent amount as a decimal string, e.g.
// 12550 -> "125.50". Used for logs and operator-facing messages only;
// arithmetic always stays in cents.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
