package server

import (
	"encoding/json"
	"time"

	"boxrate/internal/rate"
)

// PlatformRate is one tier in the shipping-platform presentation. An absent
// tier encodes as {}.
type PlatformRate struct {
	Amount       json.Number `json:"amount,omitempty"`
	DeliveryDays *int        `json:"delivery_days,omitempty"`
}

// PlatformRates always carries every tier key.
type PlatformRates map[rate.Tier]PlatformRate

func platformRates(ts rate.TierSet) PlatformRates {
	out := make(PlatformRates, len(rate.AllTiers))
	for tier, r := range ts.Map() {
		if r == nil {
			out[tier] = PlatformRate{}
			continue
		}
		out[tier] = PlatformRate{
			Amount:       json.Number(r.Amount.StringFixed(2)),
			DeliveryDays: r.DeliveryDays,
		}
	}
	return out
}

var serviceNames = map[rate.Tier]string{
	rate.TierNoRush:           "No Rush Shipping",
	rate.TierUPSGround:        "UPS Ground",
	rate.TierUSPSPriority:     "USPS Priority Mail",
	rate.TierUSPSPriorityIntl: "USPS Priority Mail International",
	rate.TierUPSWorldwide:     "UPS Worldwide Saver",
}

// CustomerRate is a rate in the Shopify CarrierService response format.
// TotalPrice is in the currency's subunit.
type CustomerRate struct {
	ServiceName     string `json:"service_name"`
	ServiceCode     string `json:"service_code"`
	TotalPrice      string `json:"total_price"`
	Description     string `json:"description,omitempty"`
	Currency        string `json:"currency"`
	MinDeliveryDate string `json:"min_delivery_date,omitempty"`
	MaxDeliveryDate string `json:"max_delivery_date,omitempty"`
}

const shopifyDateLayout = "2006-01-02 15:04:05 -0700"

// customerRates lists the populated tiers in presentation order.
func customerRates(ts rate.TierSet, currency string, now time.Time) []CustomerRate {
	m := ts.Map()
	out := make([]CustomerRate, 0, rate.Count(ts))
	for _, tier := range rate.AllTiers {
		r := m[tier]
		if r == nil {
			continue
		}
		cr := CustomerRate{
			ServiceName: serviceNames[tier],
			ServiceCode: string(tier),
			TotalPrice:  r.Amount.Shift(2).Round(0).String(),
			Currency:    currency,
		}
		if r.DeliveryDays != nil {
			d := now.AddDate(0, 0, *r.DeliveryDays).Format(shopifyDateLayout)
			cr.MinDeliveryDate = d
			cr.MaxDeliveryDate = d
		}
		out = append(out, cr)
	}
	return out
}
