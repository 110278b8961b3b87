package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"boxrate/internal/db"
	"boxrate/internal/metrics"
	"boxrate/internal/packing"
	"boxrate/internal/rate"
	"boxrate/internal/shopify"
)

var (
	// ErrMissingCart is returned when a request names no variants.
	ErrMissingCart = errors.New("cart is empty")
	// ErrNoLookup is returned when no dimension lookup is configured.
	ErrNoLookup = errors.New("dimension lookup not configured")
	// ErrInvalidQuantity is returned for a non-positive line quantity.
	ErrInvalidQuantity = errors.New("quantity must be positive")
	// ErrTooManyItems is returned when a cart's total units exceed the cap.
	ErrTooManyItems = errors.New("cart exceeds item limit")
)

const defaultCountry = "US"

// DefaultMaxItems caps the total units in one cart.
const DefaultMaxItems = 200

// cartSize sums the cart's quantities and fails once the total passes limit.
// The running comparison never adds past limit, so it cannot overflow.
func cartSize(cart map[string]int, limit int) (int, error) {
	total := 0
	for id, qty := range cart {
		if qty <= 0 {
			return 0, fmt.Errorf("%w: variant %s", ErrInvalidQuantity, id)
		}
		if qty > limit-total {
			return 0, fmt.Errorf("%w of %d", ErrTooManyItems, limit)
		}
		total += qty
	}
	return total, nil
}

// checkCart writes a 400 and returns false when the cart cannot be quoted.
func (s *Server) checkCart(w http.ResponseWriter, cart map[string]int) bool {
	if len(cart) == 0 {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", ErrMissingCart.Error())
		return false
	}
	if _, err := cartSize(cart, s.maxItems); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_quantity", err.Error())
		return false
	}
	return true
}

// quote is the outcome of one box + rate pass for a cart.
type quote struct {
	Box        packing.Box
	Weight     float64
	Fallback   bool
	Reason     string
	Rejections []packing.Rejection
	Tiers      rate.TierSet
}

// quoteCart looks up the cart's items, picks a box and normalizes carrier
// rates for it. An infeasible pack or an empty item list quotes the fallback
// box and weight instead of failing.
func (s *Server) quoteCart(ctx context.Context, cart map[string]int, to rate.Address) (*quote, error) {
	if s.lookup == nil {
		return nil, ErrNoLookup
	}
	items, err := s.lookup.BuildItemList(ctx, cart)
	if err != nil {
		return nil, err
	}

	q := &quote{}
	res := s.engine.Select(items, s.catalog)
	if res.Selected {
		q.Box = res.Box
		q.Weight = packing.TotalWeight(res.Items)
		metrics.BoxSelections.WithLabelValues("selected", res.Box.Name).Inc()
	} else {
		q.Box = s.fallbackBox
		q.Weight = s.fallbackWeight
		q.Fallback = true
		q.Reason = res.Reason
		q.Rejections = res.Rejections
		metrics.BoxSelections.WithLabelValues("fallback", s.fallbackBox.Name).Inc()
		s.log.Info("using fallback box",
			zap.String("request_id", requestID(ctx)),
			zap.String("reason", res.Reason),
			zap.Int("items", len(items)),
			zap.Any("rejections", res.Rejections),
		)
	}

	quotes, err := s.gateway.GetRates(ctx, rate.Request{
		To:         to,
		Weight:     q.Weight,
		Dimensions: q.Box.Dimensions(),
	})
	if err != nil {
		return nil, err
	}
	q.Tiers = s.normalizer.Normalize(quotes, to.Country)
	for tier, r := range q.Tiers.Map() {
		if r != nil {
			metrics.TiersQuoted.WithLabelValues(string(tier)).Inc()
		}
	}
	return q, nil
}

// writeQuoteError maps upstream failures onto the error envelope.
func (s *Server) writeQuoteError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("quote failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
	switch {
	case errors.Is(err, ErrNoLookup):
		writeErrorJSON(w, http.StatusServiceUnavailable, "lookup_not_configured", "dimension lookup not configured")
	case errors.Is(err, shopify.ErrLookupFailed):
		writeErrorJSON(w, http.StatusBadGateway, "lookup_failed", "variant dimension lookup failed")
	case errors.Is(err, rate.ErrGatewayUnavailable):
		writeErrorJSON(w, http.StatusBadGateway, "gateway_unavailable", "carrier gateway unavailable")
	default:
		writeErrorJSON(w, http.StatusBadGateway, "gateway_error", "carrier rate request failed")
	}
}

type estimateResponse struct {
	Box           string             `json:"box"`
	BoxDimensions packing.Dimensions `json:"box_dimensions"`
	Weight        float64            `json:"weight"`
	Fallback      bool               `json:"fallback"`
	Rates         PlatformRates      `json:"rates"`
	EstimateID    string             `json:"estimate_id,omitempty"`
}

func (s *Server) respondEstimate(w http.ResponseWriter, r *http.Request, q *quote, to rate.Address) {
	resp := estimateResponse{
		Box:           q.Box.Name,
		BoxDimensions: q.Box.Dimensions(),
		Weight:        q.Weight,
		Fallback:      q.Fallback,
		Rates:         platformRates(q.Tiers),
	}
	if s.store != nil {
		if id, err := s.saveEstimate(r.Context(), q, to, resp.Rates); err != nil {
			s.log.Warn("failed to persist estimate", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		} else {
			resp.EstimateID = id.String()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) saveEstimate(ctx context.Context, q *quote, to rate.Address, rates PlatformRates) (uuid.UUID, error) {
	raw, err := json.Marshal(rates)
	if err != nil {
		return uuid.Nil, err
	}
	e := &db.Estimate{
		RequestID:     requestID(ctx),
		PostalCode:    to.PostalCode,
		Country:       to.Country,
		BoxName:       q.Box.Name,
		BoxDimensions: q.Box.Dimensions(),
		Weight:        q.Weight,
		Fallback:      q.Fallback,
		Rates:         raw,
	}
	if err := s.store.Save(ctx, e); err != nil {
		return uuid.Nil, err
	}
	return e.ID, nil
}

// handleEstimateShipping quotes a domestic cart given as query parameters:
// zip=<postal>&<variantID>=<qty>... with an optional country override.
func (s *Server) handleEstimateShipping(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	zip := strings.TrimSpace(q.Get("zip"))
	if zip == "" {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "zip required")
		return
	}
	country := strings.ToUpper(strings.TrimSpace(q.Get("country")))
	if country == "" {
		country = defaultCountry
	}

	cart := make(map[string]int)
	for key, vals := range q {
		if key == "zip" || key == "country" || len(vals) == 0 {
			continue
		}
		qty, err := strconv.Atoi(strings.TrimSpace(vals[0]))
		if err != nil || qty <= 0 {
			writeErrorJSON(w, http.StatusBadRequest, "invalid_quantity", "invalid quantity for variant "+key)
			return
		}
		cart[key] = qty
	}
	if !s.checkCart(w, cart) {
		return
	}

	to := rate.Address{PostalCode: zip, Country: country}
	res, err := s.quoteCart(r.Context(), cart, to)
	if err != nil {
		s.writeQuoteError(w, r, err)
		return
	}
	s.respondEstimate(w, r, res, to)
}

type assignRequest struct {
	ToAddress *rate.Address  `json:"to_address"`
	Cart      map[string]int `json:"cart"`
}

func (s *Server) handleAssignBox(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	if req.ToAddress == nil || strings.TrimSpace(req.ToAddress.PostalCode) == "" {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "to_address with postal_code required")
		return
	}
	if !s.checkCart(w, req.Cart) {
		return
	}

	to := *req.ToAddress
	to.Country = strings.ToUpper(strings.TrimSpace(to.Country))
	if to.Country == "" {
		to.Country = defaultCountry
	}
	res, err := s.quoteCart(r.Context(), req.Cart, to)
	if err != nil {
		s.writeQuoteError(w, r, err)
		return
	}
	s.respondEstimate(w, r, res, to)
}

func (s *Server) handleGetEstimate(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeErrorJSON(w, http.StatusServiceUnavailable, "db_unavailable", "estimate storage not configured")
		return
	}
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "invalid estimate id")
		return
	}
	e, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeErrorJSON(w, http.StatusNotFound, "resource_not_found", "estimate not found")
			return
		}
		s.log.Error("estimate lookup failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		writeErrorJSON(w, http.StatusInternalServerError, "db_error", "db error")
		return
	}
	writeJSON(w, http.StatusOK, e)
}
