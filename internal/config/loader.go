package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// envAliases binds config keys to the flat environment names used by
// existing deployments. The dotted form (SHIPSTATION_API_KEY etc.) also works
// through AutomaticEnv.
var envAliases = map[string][]string{
	"server.port":                        {"PORT"},
	"database.url":                       {"DATABASE_URL"},
	"redis.address":                      {"REDIS_ADDR", "REDIS_ADDRESS"},
	"redis.password":                     {"REDIS_PASSWORD"},
	"redis.db":                           {"REDIS_DB"},
	"redis.ttl":                          {"REDIS_TTL"},
	"logging.level":                      {"LOG_LEVEL"},
	"logging.format":                     {"LOG_FORMAT"},
	"shipstation.base_url":               {"SHIPSTATION_BASE_URL"},
	"shipstation.api_key":                {"SHIPSTATION_API_KEY"},
	"shipstation.api_secret":             {"SHIPSTATION_API_SECRET"},
	"shipstation.from_postal_code":       {"SHIP_FROM_ZIP"},
	"shipstation.timeout":                {"SHIPSTATION_TIMEOUT"},
	"shopify.store_domain":               {"SHOPIFY_STORE_DOMAIN", "SHOPIFY_STORE"},
	"shopify.access_token":               {"SHOPIFY_ACCESS_TOKEN"},
	"shopify.api_version":                {"SHOPIFY_API_VERSION"},
	"shopify.webhook_secret":             {"SHOPIFY_API_SECRET"},
	"shopify.callback_url":               {"SHOPIFY_CALLBACK_URL"},
	"shopify.service_name":               {"SHOPIFY_SERVICE_NAME"},
	"shopify.currency":                   {"SHOPIFY_CURRENCY"},
	"shopify.timeout":                    {"SHOPIFY_TIMEOUT"},
	"shopify.concurrency":                {"SHOPIFY_CONCURRENCY"},
	"packing.catalog_path":               {"BOX_CONFIG_PATH"},
	"packing.dunnage_ratio":              {"DUNNAGE_RATIO"},
	"packing.fallback_box.name":          {"FALLBACK_BOX_NAME"},
	"packing.fallback_box.length":        {"FALLBACK_BOX_LENGTH"},
	"packing.fallback_box.width":         {"FALLBACK_BOX_WIDTH"},
	"packing.fallback_box.height":        {"FALLBACK_BOX_HEIGHT"},
	"packing.fallback_weight":            {"FALLBACK_WEIGHT"},
	"packing.max_items":                  {"MAX_ITEMS"},
	"rates.provider":                     {"RATE_PROVIDER"},
	"rates.economy_markup_percent":       {"ECONOMY_MARKUP_PERCENT"},
	"rates.domestic_surcharge":           {"DOMESTIC_SURCHARGE"},
	"rates.international_surcharge":      {"INTERNATIONAL_SURCHARGE"},
	"rates.international_countries":      {"INTERNATIONAL_COUNTRIES"},
}

// Load reads config.yaml (optional) from ./configs or the working directory,
// then applies .env and environment overrides.
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}
	return load(v)
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		if err := v.BindEnv(append([]string{key, strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	normalizeCountries(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() {
	paths := []string{".env", "../.env", "../../.env"}
	if root := findProjectRoot(); root != "" {
		paths = append(paths, filepath.Join(root, ".env"))
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			if err := godotenv.Load(p); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// setDefaults registers fallbacks with viper so an explicit zero from YAML or
// the environment survives Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("redis.ttl", 3600)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("shipstation.timeout", 15000)
	v.SetDefault("shopify.api_version", "2023-10")
	v.SetDefault("shopify.service_name", "BoxRate")
	v.SetDefault("shopify.currency", "USD")
	v.SetDefault("shopify.timeout", 10000)
	v.SetDefault("shopify.concurrency", 4)
	v.SetDefault("packing.dunnage_ratio", 0.25)
	v.SetDefault("packing.fallback_box.name", "Fallback 12x10x8")
	v.SetDefault("packing.fallback_box.length", 12)
	v.SetDefault("packing.fallback_box.width", 10)
	v.SetDefault("packing.fallback_box.height", 8)
	v.SetDefault("packing.fallback_weight", 2)
	v.SetDefault("packing.max_items", 200)
	v.SetDefault("rates.economy_markup_percent", 6)
	v.SetDefault("rates.domestic_surcharge", 2)
	v.SetDefault("rates.international_surcharge", 4)
	v.SetDefault("rates.international_countries", []string{"CA", "MX", "AU"})
}

func normalizeCountries(cfg *Config) {
	// Env values may arrive as one comma-separated element.
	var countries []string
	for _, c := range cfg.Rates.InternationalCountries {
		for _, part := range strings.Split(c, ",") {
			if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
				countries = append(countries, part)
			}
		}
	}
	cfg.Rates.InternationalCountries = countries
}

func validateConfig(cfg *Config) error {
	if cfg.Packing.DunnageRatio < 0 || cfg.Packing.DunnageRatio >= 1 {
		return fmt.Errorf("packing.dunnage_ratio must be in [0,1), got %v", cfg.Packing.DunnageRatio)
	}
	fb := cfg.Packing.FallbackBox
	if fb.Length <= 0 || fb.Width <= 0 || fb.Height <= 0 {
		return fmt.Errorf("packing.fallback_box dimensions must be positive")
	}
	if cfg.Packing.FallbackWeight <= 0 {
		return fmt.Errorf("packing.fallback_weight must be positive")
	}
	if cfg.Packing.MaxItems <= 0 {
		return fmt.Errorf("packing.max_items must be positive")
	}
	if cfg.Rates.EconomyMarkupPercent < 0 || cfg.Rates.DomesticSurcharge < 0 || cfg.Rates.InternationalSurcharge < 0 {
		return fmt.Errorf("rates markups and surcharges must not be negative")
	}
	if strings.EqualFold(strings.TrimSpace(cfg.Rates.Provider), "shipstation") {
		if cfg.ShipStation.APIKey == "" || cfg.ShipStation.APISecret == "" {
			return fmt.Errorf("shipstation.api_key and shipstation.api_secret are required")
		}
		if cfg.ShipStation.FromPostalCode == "" {
			return fmt.Errorf("shipstation.from_postal_code is required")
		}
	}
	return nil
}
