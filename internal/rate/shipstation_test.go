package rate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"boxrate/internal/packing"
)

func TestShipStation_GetRates(t *testing.T) {
	var got shipStationRateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/shipments/getrates", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"serviceName":"USPS Ground Advantage","serviceCode":"usps_ground_advantage","shipmentCost":5.00,"otherCost":0,"deliveryDays":4,"carrierCode":"stamps_com"},
			{"serviceName":"UPS Ground Saver","serviceCode":"ups_ground_saver","shipmentCost":"4.50","otherCost":0,"deliveryDays":"5","carrierCode":"ups"},
			{"serviceName":"UPS Ground","serviceCode":"ups_ground","shipmentCost":null,"otherCost":0,"deliveryDays":null,"carrierCode":"ups"}
		]`))
	}))
	defer srv.Close()

	gw := NewShipStation(ShipStationConfig{BaseURL: srv.URL, APIKey: "key", APISecret: "secret", FromPostalCode: "97201"}, zaptest.NewLogger(t))
	quotes, err := gw.GetRates(context.Background(), Request{
		To:         Address{PostalCode: "10001", Country: "US", State: "NY"},
		Weight:     2.5,
		Dimensions: packing.Dimensions{Length: 12, Width: 10, Height: 8},
	})

	require.NoError(t, err)
	assert.Equal(t, "97201", got.FromPostalCode)
	assert.Equal(t, "10001", got.ToPostalCode)
	assert.Equal(t, "pounds", got.Weight.Units)
	assert.Equal(t, 2.5, got.Weight.Value)
	assert.Equal(t, "inches", got.Dimensions.Units)
	assert.Equal(t, 12.0, got.Dimensions.Length)
	assert.Equal(t, "none", got.Confirmation)
	assert.Nil(t, got.CarrierCode)

	require.Len(t, quotes, 3)
	assert.Equal(t, "5.00", quotes[0].ShipmentCost)
	assert.Equal(t, 4, *quotes[0].DeliveryDays)
	assert.Equal(t, "4.50", quotes[1].ShipmentCost)
	assert.Equal(t, 5, *quotes[1].DeliveryDays)
	assert.Equal(t, "", quotes[2].ShipmentCost)
	assert.Nil(t, quotes[2].DeliveryDays)

	dom := NewNormalizer(DefaultConfig(), nil).Normalize(quotes, "US").(DomesticTiers)
	require.NotNil(t, dom.NoRush)
	assert.Equal(t, "4.77", dom.NoRush.Amount.StringFixed(2))
	assert.Nil(t, dom.UPSGround)
}

func TestShipStation_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"Message":"Authorization has been denied"}`))
	}))
	defer srv.Close()

	gw := NewShipStation(ShipStationConfig{BaseURL: srv.URL}, zaptest.NewLogger(t))
	_, err := gw.GetRates(context.Background(), Request{To: Address{Country: "US"}})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGatewayStatus)
	assert.Contains(t, err.Error(), "401")
}

func TestShipStation_OpensCircuit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	gw := NewShipStation(ShipStationConfig{BaseURL: srv.URL}, zaptest.NewLogger(t))
	for i := 0; i < 5; i++ {
		_, err := gw.GetRates(context.Background(), Request{})
		require.ErrorIs(t, err, ErrGatewayStatus)
	}
	_, err := gw.GetRates(context.Background(), Request{})

	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Equal(t, int32(5), calls.Load())
}

func TestShipStation_ClientErrorsKeepCircuitClosed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"Message":"Invalid postal code"}`))
	}))
	defer srv.Close()

	gw := NewShipStation(ShipStationConfig{BaseURL: srv.URL}, zaptest.NewLogger(t))
	for i := 0; i < 6; i++ {
		_, err := gw.GetRates(context.Background(), Request{To: Address{PostalCode: "bad"}})
		require.ErrorIs(t, err, ErrGatewayStatus)
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusBadRequest, se.Code)
	}
	assert.Equal(t, int32(6), calls.Load())
}

func TestRawText(t *testing.T) {
	assert.Equal(t, "", rawText(nil))
	assert.Equal(t, "", rawText(json.RawMessage("null")))
	assert.Equal(t, "1.5", rawText(json.RawMessage("1.5")))
	assert.Equal(t, "abc", rawText(json.RawMessage(`"abc"`)))
	assert.Nil(t, rawInt(json.RawMessage(`"x"`)))
}
