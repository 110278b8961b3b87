package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"boxrate/internal/db"
	"boxrate/internal/packing"
	"boxrate/internal/rate"
)

type fakeLookup struct {
	items []packing.Item
	err   error
	got   map[string]int
}

func (f *fakeLookup) BuildItemList(_ context.Context, cart map[string]int) ([]packing.Item, error) {
	f.got = cart
	return f.items, f.err
}

type fakeGateway struct {
	quotes []rate.Quote
	err    error
	got    rate.Request
	calls  int
}

func (f *fakeGateway) GetRates(_ context.Context, req rate.Request) ([]rate.Quote, error) {
	f.got = req
	f.calls++
	return f.quotes, f.err
}

type memStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]db.Estimate
}

func (m *memStore) Save(_ context.Context, e *db.Estimate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if m.rows == nil {
		m.rows = map[uuid.UUID]db.Estimate{}
	}
	m.rows[e.ID] = *e
	return nil
}

func (m *memStore) Get(_ context.Context, id uuid.UUID) (*db.Estimate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rows[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &e, nil
}

func days(d int) *int { return &d }

var (
	testCatalog = []packing.Box{
		{Name: "Small", Length: 10, Width: 8, Height: 6, MaxWeight: 5},
		{Name: "Medium", Length: 12, Width: 10, Height: 8, MaxWeight: 20},
	}
	testFallback = packing.Box{Name: "Fallback 12x10x8", Length: 12, Width: 10, Height: 8}

	domesticQuotes = []rate.Quote{
		{ServiceCode: "usps_ground_advantage", ShipmentCost: "5.00", DeliveryDays: days(5), CarrierCode: "stamps_com"},
		{ServiceCode: "ups_ground_saver", ShipmentCost: "4.50", DeliveryDays: days(4), CarrierCode: "ups"},
		{ServiceCode: "ups_ground", ShipmentCost: "10.25", DeliveryDays: days(3), CarrierCode: "ups"},
		{ServiceCode: "usps_priority_mail", ShipmentCost: "8.00", CarrierCode: "stamps_com"},
	}
	internationalQuotes = []rate.Quote{
		{ServiceCode: "usps_priority_mail_international", ShipmentCost: "30.10", DeliveryDays: days(10), CarrierCode: "stamps_com"},
		{ServiceCode: "ups_worldwide_saver", ShipmentCost: "55.00", CarrierCode: "ups"},
	}
)

func testOptions(t *testing.T, lookup ItemLookup, gw rate.Gateway) Options {
	return Options{
		Catalog:        testCatalog,
		Engine:         packing.NewEngine(nil, 0.25, zaptest.NewLogger(t)),
		Gateway:        gw,
		Normalizer:     rate.NewNormalizer(rate.DefaultConfig(), zaptest.NewLogger(t)),
		Lookup:         lookup,
		FallbackBox:    testFallback,
		FallbackWeight: 2,
		WebhookSecret:  "shpss_test",
		Currency:       "USD",
		Logger:         zaptest.NewLogger(t),
	}
}

type estimateBody struct {
	Box           string             `json:"box"`
	BoxDimensions packing.Dimensions `json:"box_dimensions"`
	Weight        float64            `json:"weight"`
	Fallback      bool               `json:"fallback"`
	Rates         map[string]struct {
		Amount       json.Number `json:"amount"`
		DeliveryDays *int        `json:"delivery_days"`
	} `json:"rates"`
	EstimateID string `json:"estimate_id"`
}

func decodeEstimate(t *testing.T, rr *httptest.ResponseRecorder) estimateBody {
	t.Helper()
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var body estimateBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestHealthz(t *testing.T) {
	h := New(Options{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}

func TestRequestIDHeaderPresent(t *testing.T) {
	h := New(Options{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", rr.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	h := New(Options{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "boxrate_http_request_duration_seconds")
}

func TestEstimateShipping(t *testing.T) {
	lookup := &fakeLookup{items: []packing.Item{{ID: "111", Length: 10, Width: 8, Height: 6, Weight: 2}}}
	gw := &fakeGateway{quotes: domesticQuotes}
	h := New(testOptions(t, lookup, gw))

	req := httptest.NewRequest(http.MethodGet, "/estimate-shipping?zip=97201&111=1", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	body := decodeEstimate(t, rr)

	// Small has no room left for dunnage, Medium does.
	assert.Equal(t, "Medium", body.Box)
	assert.False(t, body.Fallback)
	assert.Equal(t, packing.Dimensions{Length: 12, Width: 10, Height: 8}, body.BoxDimensions)
	assert.Equal(t, map[string]int{"111": 1}, lookup.got)

	assert.Equal(t, "US", gw.got.To.Country)
	assert.Equal(t, "97201", gw.got.To.PostalCode)
	assert.Equal(t, 2.0, gw.got.Weight)

	require.Len(t, body.Rates, 5)
	assert.Equal(t, json.Number("4.77"), body.Rates["no_rush"].Amount)
	assert.Equal(t, 4, *body.Rates["no_rush"].DeliveryDays)
	assert.Equal(t, json.Number("12.25"), body.Rates["ups_ground"].Amount)
	assert.Equal(t, json.Number("10.00"), body.Rates["usps_priority"].Amount)
	assert.Nil(t, body.Rates["usps_priority"].DeliveryDays)
	assert.Empty(t, body.Rates["usps_priority_intl"].Amount)
	assert.Empty(t, body.Rates["ups_worldwide"].Amount)
	assert.Empty(t, body.EstimateID)
}

func TestEstimateShipping_EmptyRatesKeepAllKeys(t *testing.T) {
	lookup := &fakeLookup{items: []packing.Item{{ID: "1", Length: 2, Width: 2, Height: 2, Weight: 1}}}
	h := New(testOptions(t, lookup, &fakeGateway{}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/estimate-shipping?zip=97201&1=1", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var raw struct {
		Rates map[string]map[string]any `json:"rates"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw))
	require.Len(t, raw.Rates, 5)
	for tier, v := range raw.Rates {
		assert.Empty(t, v, tier)
	}
}

func TestEstimateShipping_FallbackWhenInfeasible(t *testing.T) {
	lookup := &fakeLookup{items: []packing.Item{{ID: "111", Length: 10, Width: 8, Height: 6, Weight: 7}}}
	gw := &fakeGateway{quotes: domesticQuotes}
	opts := testOptions(t, lookup, gw)
	opts.Catalog = testCatalog[:1]
	h := New(opts)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/estimate-shipping?zip=97201&111=1", nil))
	body := decodeEstimate(t, rr)

	assert.True(t, body.Fallback)
	assert.Equal(t, "Fallback 12x10x8", body.Box)
	assert.Equal(t, 2.0, body.Weight)
	assert.Equal(t, 2.0, gw.got.Weight)
	assert.Equal(t, packing.Dimensions{Length: 12, Width: 10, Height: 8}, gw.got.Dimensions)
}

func TestEstimateShipping_FallbackWhenNoItems(t *testing.T) {
	gw := &fakeGateway{quotes: domesticQuotes}
	h := New(testOptions(t, &fakeLookup{}, gw))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/estimate-shipping?zip=97201&999=2", nil))
	body := decodeEstimate(t, rr)

	assert.True(t, body.Fallback)
	assert.Equal(t, 1, gw.calls)
	assert.Equal(t, json.Number("4.77"), body.Rates["no_rush"].Amount)
}

func TestEstimateShipping_CountryOverride(t *testing.T) {
	lookup := &fakeLookup{items: []packing.Item{{ID: "1", Length: 2, Width: 2, Height: 2, Weight: 1}}}
	gw := &fakeGateway{quotes: append(append([]rate.Quote{}, domesticQuotes...), internationalQuotes...)}
	h := New(testOptions(t, lookup, gw))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/estimate-shipping?zip=K2P1L4&country=ca&1=1", nil))
	body := decodeEstimate(t, rr)

	assert.Equal(t, "CA", gw.got.To.Country)
	assert.Empty(t, body.Rates["no_rush"].Amount)
	assert.Empty(t, body.Rates["ups_ground"].Amount)
	assert.Empty(t, body.Rates["usps_priority"].Amount)
	assert.Equal(t, json.Number("34.10"), body.Rates["usps_priority_intl"].Amount)
	assert.Equal(t, json.Number("59.00"), body.Rates["ups_worldwide"].Amount)
}

func TestAssignBoxAndShipStation(t *testing.T) {
	lookup := &fakeLookup{items: []packing.Item{
		{ID: "a", Length: 4, Width: 4, Height: 4, Weight: 1},
		{ID: "a", Length: 4, Width: 4, Height: 4, Weight: 1},
	}}
	gw := &fakeGateway{quotes: domesticQuotes}
	store := &memStore{}
	opts := testOptions(t, lookup, gw)
	opts.Store = store
	h := New(opts)

	payload := `{"to_address":{"postal_code":"10001","country":"us","state":"NY","city":"New York"},"cart":{"a":2}}`
	req := httptest.NewRequest(http.MethodPost, "/assign-box-and-shipstation", strings.NewReader(payload))
	req.Header.Set("X-Request-ID", "req-42")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	body := decodeEstimate(t, rr)

	assert.Equal(t, "Small", body.Box)
	assert.Equal(t, 2.0, body.Weight)
	assert.Equal(t, map[string]int{"a": 2}, lookup.got)
	assert.Equal(t, rate.Address{PostalCode: "10001", Country: "US", State: "NY", City: "New York"}, gw.got.To)
	require.NotEmpty(t, body.EstimateID)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/estimates/"+body.EstimateID, nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var saved db.Estimate
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &saved))
	assert.Equal(t, "Small", saved.BoxName)
	assert.Equal(t, "req-42", saved.RequestID)
	assert.Equal(t, "10001", saved.PostalCode)
	assert.Contains(t, string(saved.Rates), `"no_rush":{"amount":4.77,"delivery_days":4}`)
}

func TestCarrierService(t *testing.T) {
	lookup := &fakeLookup{items: []packing.Item{{ID: "258644705304", Length: 2, Width: 2, Height: 2, Weight: 1}}}
	gw := &fakeGateway{quotes: append(append([]rate.Quote{}, domesticQuotes...), internationalQuotes...)}
	s := newServer(testOptions(t, lookup, gw))
	s.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	h := s.routes()

	payload := []byte(`{"rate":{
		"origin":{"country":"US","postal_code":"97201"},
		"destination":{"country":"CA","postal_code":"K2P 1L4","province":"ON","city":"Ottawa"},
		"items":[
			{"name":"Mug","variant_id":258644705304,"quantity":2,"requires_shipping":true},
			{"name":"Gift card","variant_id":1,"quantity":1,"requires_shipping":false},
			{"name":"Mug","variant_id":258644705304,"quantity":1}
		],
		"currency":"USD","locale":"en"}}`)
	req := httptest.NewRequest(http.MethodPost, "/carrier-service", bytes.NewReader(payload))
	req.Header.Set("X-Shopify-Hmac-Sha256", sign(payload, "shpss_test"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	assert.Equal(t, map[string]int{"258644705304": 3}, lookup.got)
	assert.Equal(t, rate.Address{PostalCode: "K2P 1L4", Country: "CA", State: "ON", City: "Ottawa"}, gw.got.To)

	var body struct {
		Rates []CustomerRate `json:"rates"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Rates, 2)
	assert.Equal(t, CustomerRate{
		ServiceName:     "USPS Priority Mail International",
		ServiceCode:     "usps_priority_intl",
		TotalPrice:      "3410",
		Currency:        "USD",
		MinDeliveryDate: "2024-03-11 12:00:00 +0000",
		MaxDeliveryDate: "2024-03-11 12:00:00 +0000",
	}, body.Rates[0])
	assert.Equal(t, "ups_worldwide", body.Rates[1].ServiceCode)
	assert.Equal(t, "5900", body.Rates[1].TotalPrice)
	assert.Empty(t, body.Rates[1].MinDeliveryDate)
}
