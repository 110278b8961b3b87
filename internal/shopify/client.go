// Package shopify reads variant dimensions from Shopify Admin metafields and
// registers the rate callback as a Shopify CarrierService.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"boxrate/internal/metrics"
	"boxrate/internal/packing"
)

// ErrLookupFailed is returned when the Admin API is unreachable or answers
// with an unexpected status.
var ErrLookupFailed = errors.New("shopify lookup failed")

const metafieldNamespace = "product"

type Config struct {
	StoreDomain string
	// BaseURL overrides https://<StoreDomain>.
	BaseURL     string
	AccessToken string
	APIVersion  string
	Timeout     time.Duration
	Concurrency int
}

// Dimensions are a variant's shipping measurements in inches and pounds.
type Dimensions struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Weight float64 `json:"weight"`
}

// Cache stores dimension records between requests.
type Cache interface {
	Get(ctx context.Context, variantID string) (*Dimensions, bool)
	Set(ctx context.Context, variantID string, d Dimensions)
}

type Client struct {
	cfg   Config
	http  *http.Client
	cb    *gobreaker.CircuitBreaker
	cache Cache
	log   *zap.Logger
}

func NewClient(cfg Config, cache Cache, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2023-10"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://" + cfg.StoreDomain
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "shopify",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		cb:    cb,
		cache: cache,
		log:   log,
	}
}

type metafield struct {
	Namespace string          `json:"namespace"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
}

// VariantDimensions returns the variant's measurements, or nil when any of
// the four metafields is missing or not a positive number.
func (c *Client) VariantDimensions(ctx context.Context, variantID string) (*Dimensions, error) {
	if c.cache != nil {
		if d, ok := c.cache.Get(ctx, variantID); ok {
			metrics.DimensionCache.WithLabelValues("hit").Inc()
			return d, nil
		}
		metrics.DimensionCache.WithLabelValues("miss").Inc()
	}

	path := fmt.Sprintf("/admin/api/%s/variants/%s/metafields.json", c.cfg.APIVersion, url.PathEscape(variantID))
	start := time.Now()
	res, err := c.cb.Execute(func() (interface{}, error) {
		raw, err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK)
		if isClientError(err) {
			// A stale or unknown variant is not an Admin API outage.
			return callResult{err: err}, nil
		}
		return callResult{body: raw}, err
	})
	if err == nil {
		err = res.(callResult).err
	}
	metrics.GatewayDuration.WithLabelValues("shopify", metrics.Outcome(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
		}
		return nil, err
	}

	var body struct {
		Metafields []metafield `json:"metafields"`
	}
	if err := json.Unmarshal(res.(callResult).body, &body); err != nil {
		return nil, fmt.Errorf("%w: decode metafields: %v", ErrLookupFailed, err)
	}

	d, found := Dimensions{}, 0
	for _, f := range body.Metafields {
		if f.Namespace != metafieldNamespace {
			continue
		}
		v, ok := parseNumber(f.Value)
		if !ok {
			continue
		}
		switch f.Key {
		case "length":
			d.Length = v
		case "width":
			d.Width = v
		case "height":
			d.Height = v
		case "weight":
			d.Weight = v
		default:
			continue
		}
		found++
	}
	item := packing.Item{ID: variantID, Length: d.Length, Width: d.Width, Height: d.Height, Weight: d.Weight}
	if found < 4 || !item.Valid() {
		c.log.Debug("variant dimensions incomplete", zap.String("variant_id", variantID))
		return nil, nil
	}
	if c.cache != nil {
		c.cache.Set(ctx, variantID, d)
	}
	return &d, nil
}

// do performs an Admin API call and returns the body when the status matches want.
func (c *Client) do(ctx context.Context, method, path string, payload any, want int) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Shopify-Access-Token", c.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrLookupFailed, err)
	}
	if resp.StatusCode != want {
		return raw, &StatusError{Code: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

// StatusError carries an unexpected Admin API response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("shopify status %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrLookupFailed }

type callResult struct {
	body []byte
	err  error
}

func isClientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code >= 400 && se.Code < 500
}

// parseNumber accepts a JSON number or a numeric string.
func parseNumber(raw json.RawMessage) (float64, bool) {
	s := strings.TrimSpace(string(raw))
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
