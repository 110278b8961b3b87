package shopify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type carrierServicePayload struct {
	CarrierService carrierService `json:"carrier_service"`
}

type carrierService struct {
	Name             string `json:"name"`
	CallbackURL      string `json:"callback_url"`
	ServiceDiscovery bool   `json:"service_discovery"`
}

// RegisterCarrierService registers callbackURL as a CarrierService named name.
// It reports created=false without error when the service already exists.
func (c *Client) RegisterCarrierService(ctx context.Context, name, callbackURL string) (bool, error) {
	payload := carrierServicePayload{CarrierService: carrierService{
		Name:             name,
		CallbackURL:      callbackURL,
		ServiceDiscovery: true,
	}}
	path := fmt.Sprintf("/admin/api/%s/carrier_services.json", c.cfg.APIVersion)

	_, err := c.do(ctx, http.MethodPost, path, payload, http.StatusCreated)
	if err == nil {
		return true, nil
	}
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusUnprocessableEntity &&
		strings.Contains(strings.ToLower(se.Body), "already") {
		return false, nil
	}
	return false, err
}
