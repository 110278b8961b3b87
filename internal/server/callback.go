package server

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"boxrate/internal/rate"
)

// ErrMissingDestination is returned when a callback carries no destination postal code.
var ErrMissingDestination = errors.New("missing destination")

// callbackRequest is the part of a Shopify rate callback needed to quote it.
type callbackRequest struct {
	To   rate.Address
	Cart map[string]int
}

// parseCallback reads a CarrierService rate request. Line items that do not
// require shipping or carry no variant id are ignored; repeated variants are
// summed, and the total may not exceed limit units.
func parseCallback(body []byte, limit int) (callbackRequest, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return callbackRequest{}, err
	}

	to := rate.Address{
		PostalCode: strings.TrimSpace(getString(payload, []string{"rate.destination.postal_code", "rate.destination.zip"})),
		Country:    strings.ToUpper(strings.TrimSpace(getString(payload, []string{"rate.destination.country", "rate.destination.country_code"}))),
		State:      getString(payload, []string{"rate.destination.province", "rate.destination.province_code"}),
		City:       getString(payload, []string{"rate.destination.city"}),
	}
	if to.PostalCode == "" {
		return callbackRequest{}, ErrMissingDestination
	}
	if to.Country == "" {
		to.Country = defaultCountry
	}

	cart := make(map[string]int)
	total := 0
	items, _ := getPath(payload, "rate.items").([]any)
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		if rs, ok := m["requires_shipping"].(bool); ok && !rs {
			continue
		}
		id := getID(m, "variant_id")
		if id == "" {
			continue
		}
		qty, ok := getInt(m, "quantity")
		if !ok || qty <= 0 {
			continue
		}
		if qty > limit-total {
			return callbackRequest{}, fmt.Errorf("%w of %d", ErrTooManyItems, limit)
		}
		total += qty
		cart[id] += qty
	}
	if len(cart) == 0 {
		return callbackRequest{}, ErrMissingCart
	}
	return callbackRequest{To: to, Cart: cart}, nil
}

// handleCarrierService answers Shopify's rate callback with the customer-facing
// rate list.
func (s *Server) handleCarrierService(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(s.webhookSecret) == "" {
		writeErrorJSON(w, http.StatusUnauthorized, "secret_not_configured", "webhook secret not configured")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "read_error", "read error")
		return
	}
	sigHeader := strings.TrimSpace(r.Header.Get("X-Shopify-Hmac-Sha256"))
	if sigHeader == "" {
		writeErrorJSON(w, http.StatusUnauthorized, "missing_signature", "missing signature")
		return
	}
	provided, err := base64.StdEncoding.DecodeString(sigHeader)
	if err != nil {
		writeErrorJSON(w, http.StatusUnauthorized, "invalid_signature_format", "invalid signature format")
		return
	}
	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), provided) {
		writeErrorJSON(w, http.StatusUnauthorized, "signature_mismatch", "signature mismatch")
		return
	}

	req, err := parseCallback(body, s.maxItems)
	if err != nil {
		switch {
		case errors.Is(err, ErrTooManyItems):
			writeErrorJSON(w, http.StatusBadRequest, "invalid_quantity", err.Error())
		case errors.Is(err, ErrMissingDestination):
			writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "destination postal code required")
		case errors.Is(err, ErrMissingCart):
			writeErrorJSON(w, http.StatusBadRequest, "invalid_request", ErrMissingCart.Error())
		default:
			writeErrorJSON(w, http.StatusBadRequest, "invalid_json", "invalid json")
		}
		return
	}

	q, err := s.quoteCart(r.Context(), req.Cart, req.To)
	if err != nil {
		s.writeQuoteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rates": customerRates(q.Tiers, s.currency, s.now()),
	})
}

// getString returns the first non-empty string from the candidate keys.
// Supports dot-path navigation for nested maps.
func getString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if v := getPath(m, k); v != nil {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

// getID reads an identifier that may arrive as a JSON number or a string.
func getID(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case json.Number:
		return v.String()
	case string:
		return strings.TrimSpace(v)
	}
	return ""
}

func getInt(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	}
	return 0, false
}

// getPath navigates a dot-separated key into nested maps.
func getPath(m map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var cur any = m
	for _, p := range parts {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := mm[p]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}
