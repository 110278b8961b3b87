package rate

import (
	"github.com/shopspring/decimal"
)

// Quote is a raw carrier rate as returned by a Gateway. ShipmentCost keeps the
// provider's textual value; it is parsed during normalization.
type Quote struct {
	ServiceCode  string `json:"serviceCode"`
	ShipmentCost string `json:"shipmentCost"`
	DeliveryDays *int   `json:"deliveryDays,omitempty"`
	CarrierCode  string `json:"carrierCode"`
}

// Tier is a carrier-agnostic shipping option exposed to callers.
type Tier string

const (
	TierNoRush           Tier = "no_rush"
	TierUPSGround        Tier = "ups_ground"
	TierUSPSPriority     Tier = "usps_priority"
	TierUSPSPriorityIntl Tier = "usps_priority_intl"
	TierUPSWorldwide     Tier = "ups_worldwide"
)

// AllTiers lists every tier in presentation order.
var AllTiers = []Tier{TierNoRush, TierUPSGround, TierUSPSPriority, TierUSPSPriorityIntl, TierUPSWorldwide}

// TierRate is the marked-up price chosen for a tier.
type TierRate struct {
	Amount       decimal.Decimal
	DeliveryDays *int
	ServiceCode  string
	CarrierCode  string
}

// TierSet is either DomesticTiers or InternationalTiers.
type TierSet interface {
	International() bool
	// Map projects the set onto every tier key; absent tiers map to nil.
	Map() map[Tier]*TierRate
	tierSet()
}

type DomesticTiers struct {
	NoRush       *TierRate
	UPSGround    *TierRate
	USPSPriority *TierRate
}

func (DomesticTiers) International() bool { return false }
func (DomesticTiers) tierSet()            {}

func (d DomesticTiers) Map() map[Tier]*TierRate {
	return map[Tier]*TierRate{
		TierNoRush:           d.NoRush,
		TierUPSGround:        d.UPSGround,
		TierUSPSPriority:     d.USPSPriority,
		TierUSPSPriorityIntl: nil,
		TierUPSWorldwide:     nil,
	}
}

type InternationalTiers struct {
	USPSPriorityIntl *TierRate
	UPSWorldwide     *TierRate
}

func (InternationalTiers) International() bool { return true }
func (InternationalTiers) tierSet()            {}

func (i InternationalTiers) Map() map[Tier]*TierRate {
	return map[Tier]*TierRate{
		TierNoRush:           nil,
		TierUPSGround:        nil,
		TierUSPSPriority:     nil,
		TierUSPSPriorityIntl: i.USPSPriorityIntl,
		TierUPSWorldwide:     i.UPSWorldwide,
	}
}

// Count returns the number of populated tiers.
func Count(ts TierSet) int {
	n := 0
	for _, r := range ts.Map() {
		if r != nil {
			n++
		}
	}
	return n
}

// Config carries the markup rules and the international destination set.
type Config struct {
	// EconomyMarkupPercent is applied proportionally to economy ground services.
	EconomyMarkupPercent decimal.Decimal
	// DomesticSurcharge is added to standard domestic services.
	DomesticSurcharge decimal.Decimal
	// InternationalSurcharge is added to international services.
	InternationalSurcharge decimal.Decimal
	// InternationalCountries are ISO-2 codes routed to international tiers.
	InternationalCountries []string
}

func DefaultConfig() Config {
	return Config{
		EconomyMarkupPercent:   decimal.NewFromInt(6),
		DomesticSurcharge:      decimal.RequireFromString("2.00"),
		InternationalSurcharge: decimal.RequireFromString("4.00"),
		InternationalCountries: []string{"CA", "MX", "AU"},
	}
}

type markup int

const (
	markupEconomy markup = iota
	markupStandard
	markupInternational
)

type service struct {
	tier          Tier
	markup        markup
	international bool
}

// services maps carrier service codes to the tier they feed. Codes not listed
// here are dropped during normalization.
var services = map[string]service{
	"usps_ground_advantage":            {tier: TierNoRush, markup: markupEconomy},
	"ups_ground_saver":                 {tier: TierNoRush, markup: markupEconomy},
	"ups_ground":                       {tier: TierUPSGround, markup: markupStandard},
	"usps_priority_mail":               {tier: TierUSPSPriority, markup: markupStandard},
	"usps_priority_mail_international": {tier: TierUSPSPriorityIntl, markup: markupInternational, international: true},
	"ups_worldwide_saver":              {tier: TierUPSWorldwide, markup: markupInternational, international: true},
}
