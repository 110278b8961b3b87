package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"boxrate/internal/config"
	"boxrate/internal/logger"
	"boxrate/internal/shopify"
)

// Registers the /carrier-service callback with the configured Shopify store.

var (
	callbackURL = flag.String("callback-url", "", "Public URL of the /carrier-service endpoint (default shopify.callback_url)")
	serviceName = flag.String("name", "", "Carrier service name shown at checkout (default shopify.service_name)")
	configPath  = flag.String("config", "", "Optional config file path")
)

func main() {
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	log, err := logger.New(cfg.Logging.Level, "console")
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer func() { _ = log.Sync() }()

	url := firstNonEmpty(*callbackURL, cfg.Shopify.CallbackURL)
	name := firstNonEmpty(*serviceName, cfg.Shopify.ServiceName)
	if url == "" {
		log.Fatal("callback url required (-callback-url or SHOPIFY_CALLBACK_URL)")
	}
	if cfg.Shopify.StoreDomain == "" || cfg.Shopify.AccessToken == "" {
		log.Fatal("shopify store domain and access token are required")
	}

	client := shopify.NewClient(shopify.Config{
		StoreDomain: cfg.Shopify.StoreDomain,
		AccessToken: cfg.Shopify.AccessToken,
		APIVersion:  cfg.Shopify.APIVersion,
		Timeout:     config.GetDuration(cfg.Shopify.Timeout),
	}, nil, log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	created, err := client.RegisterCarrierService(ctx, name, url)
	if err != nil {
		log.Error("carrier service registration failed", zap.Error(err))
		cancel()
		os.Exit(1)
	}
	if created {
		log.Info("carrier service registered", zap.String("name", name), zap.String("callback_url", url))
		return
	}
	log.Info("carrier service already registered", zap.String("name", name))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
