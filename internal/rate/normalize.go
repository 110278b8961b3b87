package rate

import (
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

type rule struct {
	tier          Tier
	international bool
	transform     func(decimal.Decimal) decimal.Decimal
}

// Normalizer turns raw carrier quotes into a TierSet.
type Normalizer struct {
	rules map[string]rule
	intl  map[string]struct{}
	log   *zap.Logger
}

func NewNormalizer(cfg Config, log *zap.Logger) *Normalizer {
	if log == nil {
		log = zap.NewNop()
	}
	factor := decimal.NewFromInt(1).Add(cfg.EconomyMarkupPercent.Div(hundred))
	transforms := map[markup]func(decimal.Decimal) decimal.Decimal{
		markupEconomy:       func(c decimal.Decimal) decimal.Decimal { return c.Mul(factor) },
		markupStandard:      func(c decimal.Decimal) decimal.Decimal { return c.Add(cfg.DomesticSurcharge) },
		markupInternational: func(c decimal.Decimal) decimal.Decimal { return c.Add(cfg.InternationalSurcharge) },
	}

	rules := make(map[string]rule, len(services))
	for code, s := range services {
		rules[code] = rule{tier: s.tier, international: s.international, transform: transforms[s.markup]}
	}
	intl := make(map[string]struct{}, len(cfg.InternationalCountries))
	for _, c := range cfg.InternationalCountries {
		intl[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}
	return &Normalizer{rules: rules, intl: intl, log: log}
}

// IsInternational reports whether country routes to international tiers.
func (n *Normalizer) IsInternational(country string) bool {
	_, ok := n.intl[strings.ToUpper(strings.TrimSpace(country))]
	return ok
}

// Normalize filters quotes to the destination's scope, applies the markup for
// each service code once, and keeps the cheapest quote per tier. Candidates
// are compared at full precision; the kept amount is rounded half-up to cents. Quotes are read, never modified, so normalizing the same
// slice twice yields the same prices.
func (n *Normalizer) Normalize(quotes []Quote, destinationCountry string) TierSet {
	international := n.IsInternational(destinationCountry)
	best := make(map[Tier]*TierRate, len(AllTiers))
	exact := make(map[Tier]decimal.Decimal, len(AllTiers))

	for _, q := range quotes {
		r, ok := n.rules[q.ServiceCode]
		if !ok {
			n.log.Debug("dropping unmapped service", zap.String("service_code", q.ServiceCode))
			continue
		}
		if r.international != international {
			continue
		}
		cost, err := decimal.NewFromString(strings.TrimSpace(q.ShipmentCost))
		if err != nil || cost.IsNegative() {
			n.log.Debug("dropping malformed quote",
				zap.String("service_code", q.ServiceCode),
				zap.String("shipment_cost", q.ShipmentCost),
			)
			continue
		}

		amount := r.transform(cost)
		if cur, ok := exact[r.tier]; ok && !amount.LessThan(cur) {
			continue
		}
		exact[r.tier] = amount
		best[r.tier] = &TierRate{
			Amount:       amount.Round(2),
			DeliveryDays: q.DeliveryDays,
			ServiceCode:  q.ServiceCode,
			CarrierCode:  q.CarrierCode,
		}
	}

	if international {
		return InternationalTiers{
			USPSPriorityIntl: best[TierUSPSPriorityIntl],
			UPSWorldwide:     best[TierUPSWorldwide],
		}
	}
	return DomesticTiers{
		NoRush:       best[TierNoRush],
		UPSGround:    best[TierUPSGround],
		USPSPriority: best[TierUSPSPriority],
	}
}
