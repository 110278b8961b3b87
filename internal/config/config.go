package config

import (
	"time"

	"github.com/shopspring/decimal"

	"boxrate/internal/packing"
	"boxrate/internal/rate"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	ShipStation ShipStationConfig `mapstructure:"shipstation"`
	Shopify     ShopifyConfig     `mapstructure:"shopify"`
	Packing     PackingConfig     `mapstructure:"packing"`
	Rates       RatesConfig       `mapstructure:"rates"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTL      int    `mapstructure:"ttl"` // seconds
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ShipStationConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	APISecret      string `mapstructure:"api_secret"`
	FromPostalCode string `mapstructure:"from_postal_code"`
	Timeout        int    `mapstructure:"timeout"` // milliseconds
}

type ShopifyConfig struct {
	StoreDomain   string `mapstructure:"store_domain"`
	AccessToken   string `mapstructure:"access_token"`
	APIVersion    string `mapstructure:"api_version"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	CallbackURL   string `mapstructure:"callback_url"`
	ServiceName   string `mapstructure:"service_name"`
	Currency      string `mapstructure:"currency"`
	Timeout       int    `mapstructure:"timeout"` // milliseconds
	Concurrency   int    `mapstructure:"concurrency"`
}

type BoxConfig struct {
	Name   string  `mapstructure:"name"`
	Length float64 `mapstructure:"length"`
	Width  float64 `mapstructure:"width"`
	Height float64 `mapstructure:"height"`
}

type PackingConfig struct {
	CatalogPath    string    `mapstructure:"catalog_path"`
	DunnageRatio   float64   `mapstructure:"dunnage_ratio"`
	FallbackBox    BoxConfig `mapstructure:"fallback_box"`
	FallbackWeight float64   `mapstructure:"fallback_weight"` // pounds
	MaxItems       int       `mapstructure:"max_items"`       // units per cart
}

type RatesConfig struct {
	Provider               string   `mapstructure:"provider"`
	EconomyMarkupPercent   float64  `mapstructure:"economy_markup_percent"`
	DomesticSurcharge      float64  `mapstructure:"domestic_surcharge"`
	InternationalSurcharge float64  `mapstructure:"international_surcharge"`
	InternationalCountries []string `mapstructure:"international_countries"`
}

// RateConfig converts the markup settings for the normalizer.
func (c *Config) RateConfig() rate.Config {
	return rate.Config{
		EconomyMarkupPercent:   decimal.NewFromFloat(c.Rates.EconomyMarkupPercent),
		DomesticSurcharge:      decimal.NewFromFloat(c.Rates.DomesticSurcharge),
		InternationalSurcharge: decimal.NewFromFloat(c.Rates.InternationalSurcharge),
		InternationalCountries: c.Rates.InternationalCountries,
	}
}

func (c *Config) ShipStationGateway() rate.ShipStationConfig {
	return rate.ShipStationConfig{
		BaseURL:        c.ShipStation.BaseURL,
		APIKey:         c.ShipStation.APIKey,
		APISecret:      c.ShipStation.APISecret,
		FromPostalCode: c.ShipStation.FromPostalCode,
		Timeout:        GetDuration(c.ShipStation.Timeout),
	}
}

// FallbackBox is the box quoted when no catalog box is acceptable.
func (c *Config) FallbackBox() packing.Box {
	b := c.Packing.FallbackBox
	return packing.Box{Name: b.Name, Length: b.Length, Width: b.Width, Height: b.Height}
}

// GetDuration converts milliseconds from config to time.Duration.
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
