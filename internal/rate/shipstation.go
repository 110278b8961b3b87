package rate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"boxrate/internal/metrics"
)

const defaultShipStationURL = "https://ssapi.shipstation.com"

type ShipStationConfig struct {
	BaseURL        string
	APIKey         string
	APISecret      string
	FromPostalCode string
	Timeout        time.Duration
}

// ShipStation queries the ShipStation getrates endpoint across all carriers
// connected to the account.
type ShipStation struct {
	cfg    ShipStationConfig
	client *http.Client
	cb     *gobreaker.CircuitBreaker
	log    *zap.Logger
}

func NewShipStation(cfg ShipStationConfig, log *zap.Logger) *ShipStation {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultShipStationURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "shipstation",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
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
	return &ShipStation{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		cb:     cb,
		log:    log,
	}
}

type shipStationWeight struct {
	Value float64 `json:"value"`
	Units string  `json:"units"`
}

type shipStationDimensions struct {
	Units  string  `json:"units"`
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type shipStationRateRequest struct {
	CarrierCode    *string               `json:"carrierCode"`
	FromPostalCode string                `json:"fromPostalCode"`
	ToState        string                `json:"toState,omitempty"`
	ToCountry      string                `json:"toCountry"`
	ToPostalCode   string                `json:"toPostalCode"`
	ToCity         string                `json:"toCity,omitempty"`
	Weight         shipStationWeight     `json:"weight"`
	Dimensions     shipStationDimensions `json:"dimensions"`
	Confirmation   string                `json:"confirmation"`
	Residential    bool                  `json:"residential"`
}

type shipStationRate struct {
	ServiceName  string          `json:"serviceName"`
	ServiceCode  string          `json:"serviceCode"`
	ShipmentCost json.RawMessage `json:"shipmentCost"`
	OtherCost    json.RawMessage `json:"otherCost"`
	DeliveryDays json.RawMessage `json:"deliveryDays"`
	CarrierCode  string          `json:"carrierCode"`
}

func (s *ShipStation) GetRates(ctx context.Context, req Request) ([]Quote, error) {
	start := time.Now()
	res, err := s.cb.Execute(func() (interface{}, error) {
		quotes, err := s.fetch(ctx, req)
		if isClientError(err) {
			// A rejected request says nothing about ShipStation's health.
			return fetchResult{err: err}, nil
		}
		return fetchResult{quotes: quotes}, err
	})
	if err == nil {
		err = res.(fetchResult).err
	}
	metrics.GatewayDuration.WithLabelValues("shipstation", metrics.Outcome(err)).Observe(time.Since(start).Seconds())
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return res.(fetchResult).quotes, nil
}

type fetchResult struct {
	quotes []Quote
	err    error
}

// StatusError is a non-200 answer from the carrier backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("shipstation %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrGatewayStatus }

func isClientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code >= 400 && se.Code < 500
}

func (s *ShipStation) fetch(ctx context.Context, req Request) ([]Quote, error) {
	payload := shipStationRateRequest{
		FromPostalCode: s.cfg.FromPostalCode,
		ToState:        req.To.State,
		ToCountry:      req.To.Country,
		ToPostalCode:   req.To.PostalCode,
		ToCity:         req.To.City,
		Weight:         shipStationWeight{Value: req.Weight, Units: "pounds"},
		Dimensions: shipStationDimensions{
			Units:  "inches",
			Length: req.Dimensions.Length,
			Width:  req.Dimensions.Width,
			Height: req.Dimensions.Height,
		},
		Confirmation: "none",
		Residential:  false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode rate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(s.cfg.BaseURL, "/")+"/shipments/getrates", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(s.cfg.APIKey, s.cfg.APISecret)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("shipstation getrates: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read shipstation response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		s.log.Error("shipstation api error",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", truncate(raw, 512)),
		)
		return nil, &StatusError{Code: resp.StatusCode, Body: string(truncate(raw, 512))}
	}

	var rates []shipStationRate
	if err := json.Unmarshal(raw, &rates); err != nil {
		return nil, fmt.Errorf("decode shipstation rates: %w", err)
	}
	s.log.Debug("shipstation raw rates", zap.Int("count", len(rates)), zap.ByteString("body", truncate(raw, 4096)))

	quotes := make([]Quote, 0, len(rates))
	for _, r := range rates {
		quotes = append(quotes, Quote{
			ServiceCode:  r.ServiceCode,
			ShipmentCost: rawText(r.ShipmentCost),
			DeliveryDays: rawInt(r.DeliveryDays),
			CarrierCode:  r.CarrierCode,
		})
	}
	return quotes, nil
}

// rawText returns a JSON scalar as text, unquoting strings. null yields "".
func rawText(m json.RawMessage) string {
	s := strings.TrimSpace(string(m))
	if s == "" || s == "null" {
		return ""
	}
	if unq, err := strconv.Unquote(s); err == nil {
		return unq
	}
	return s
}

func rawInt(m json.RawMessage) *int {
	s := rawText(m)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
