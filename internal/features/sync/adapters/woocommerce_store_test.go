package adapter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"robolabs-sync/internal/core/config"
	"robolabs-sync/internal/features/sync/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(handler http.HandlerFunc) (*WooCommerceStore, *httptest.Server) {
	server := httptest.NewServer(handler)
	store := NewWooCommerceStore(config.WooCommerceConfig{
		URL:            server.URL,
		ConsumerKey:    "ck_test",
		ConsumerSecret: "cs_test",
	})
	return store, server
}

// TestWooCommerceStore_Order_Success verifies order fetching and mapping,
// including refund totals and the sync metadata.
func TestWooCommerceStore_Order_Success(t *testing.T) {
	mockResponse := `{
		"id": 456,
		"number": "1001",
		"customer_id": 7,
		"currency": "EUR",
		"total": "23.15",
		"total_tax": "3.15",
		"shipping_total": "5.00",
		"shipping_tax": "1.05",
		"discount_total": "0.00",
		"date_created": "2026-03-10T12:00:00",
		"billing": {
			"first_name": "Jonas",
			"last_name": "Jonaitis",
			"company": "",
			"email": "jonas@example.com",
			"phone": "+37060000000",
			"address_1": "Gedimino pr. 1",
			"city": "Vilnius",
			"postcode": "01103",
			"country": "LT"
		},
		"line_items": [
			{
				"id": 1,
				"product_id": 11,
				"sku": "SKU-11",
				"name": "Widget",
				"quantity": 2,
				"subtotal": "10.00",
				"total": "10.00",
				"total_tax": "2.10"
			}
		],
		"refunds": [
			{"id": 9, "total": "-5.00"}
		],
		"meta_data": [
			{"key": "_billing_vat_number", "value": "LT100000000000"}
		]
	}`

	store, server := newTestStore(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wp-json/wc/v3/orders/456", r.URL.Path)

		expectedAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("ck_test:cs_test"))
		assert.Equal(t, expectedAuth, r.Header.Get("Authorization"))

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(mockResponse))
	})
	defer server.Close()

	order, err := store.Order(context.Background(), 456)

	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, int64(456), order.ID)
	assert.Equal(t, "1001", order.Number)
	assert.Equal(t, int64(7), order.CustomerID)
	assert.Equal(t, "EUR", order.Currency)
	assert.InDelta(t, 23.15, order.Total, 0.0001)
	assert.InDelta(t, 10.00, order.Subtotal, 0.0001)
	assert.InDelta(t, 5.00, order.TotalRefunded, 0.0001)
	assert.Equal(t, "LT100000000000", order.Billing.VATCode)

	require.Len(t, order.Lines, 1)
	assert.Equal(t, int64(11), order.Lines[0].ProductID)
	assert.Equal(t, 2, order.Lines[0].Quantity)
	assert.InDelta(t, 10.00, order.Lines[0].Total, 0.0001)
}

func TestWooCommerceStore_Order_NotFound(t *testing.T) {
	store, server := newTestStore(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer server.Close()

	_, err := store.Order(context.Background(), 456)
	assert.ErrorContains(t, err, "not found")
}

func TestWooCommerceStore_SyncState_FreshOrder(t *testing.T) {
	store, server := newTestStore(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": 456, "meta_data": []}`))
	})
	defer server.Close()

	state, err := store.SyncState(context.Background(), 456)

	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusUnsynced, state.Status)
	assert.Zero(t, state.RetryCount)
}

func TestWooCommerceStore_SyncState_RoundTrip(t *testing.T) {
	// The save writes meta_data; the read maps it back.
	var saved wcMetaUpdate

	store, server := newTestStore(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &saved))
			w.Write([]byte(`{}`))
			return
		}

		resp := map[string]any{"id": 456, "meta_data": saved.MetaData}
		json.NewEncoder(w).Encode(resp)
	})
	defer server.Close()

	ctx := context.Background()
	in := &domain.SyncState{
		Status:            domain.SyncStatusSynced,
		InvoiceRemoteID:   "501",
		InvoiceExternalID: "EWCINV456",
		PartnerRemoteID:   31,
		RetryCount:        2,
	}
	require.NoError(t, store.SaveSyncState(ctx, 456, in))

	out, err := store.SyncState(ctx, 456)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusSynced, out.Status)
	assert.Equal(t, "501", out.InvoiceRemoteID)
	assert.Equal(t, "EWCINV456", out.InvoiceExternalID)
	assert.Equal(t, int64(31), out.PartnerRemoteID)
	assert.Equal(t, 2, out.RetryCount)
}

func TestWooCommerceStore_Refund_NormalizesSigns(t *testing.T) {
	store, server := newTestStore(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/wp-json/wc/v3/orders/456/refunds/9", r.URL.Path)
		w.Write([]byte(`{
			"id": 9,
			"amount": "10.00",
			"line_items": [
				{"id": 2, "product_id": 11, "quantity": -1, "total": "-10.00", "total_tax": "-2.10"}
			]
		}`))
	})
	defer server.Close()

	refund, err := store.Refund(context.Background(), 456, 9)

	require.NoError(t, err)
	assert.InDelta(t, 10.00, refund.Amount, 0.0001)
	require.Len(t, refund.Lines, 1)
	assert.Equal(t, 1, refund.Lines[0].Quantity)
	assert.InDelta(t, 10.00, refund.Lines[0].Total, 0.0001)
	assert.InDelta(t, 2.10, refund.Lines[0].TotalTax, 0.0001)
}

func TestWooCommerceStore_ProductRef(t *testing.T) {
	store, server := newTestStore(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"id": 11,
			"sku": "SKU-11",
			"meta_data": [
				{"key": "_robolabs_product_id", "value": "41"},
				{"key": "_robolabs_product_external_id", "value": "EWCPRD11"}
			]
		}`))
	})
	defer server.Close()

	ref, err := store.ProductRef(context.Background(), 11)

	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, int64(41), ref.RemoteID)
	assert.Equal(t, "EWCPRD11", ref.ExternalID)
}

func TestWooCommerceStore_ProductRef_Absent(t *testing.T) {
	store, server := newTestStore(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": 11, "sku": "SKU-11", "meta_data": []}`))
	})
	defer server.Close()

	ref, err := store.ProductRef(context.Background(), 11)

	require.NoError(t, err)
	assert.Nil(t, ref)
}

func TestWooCommerceStore_AddOrderNote(t *testing.T) {
	var got map[string]any

	store, server := newTestStore(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/wp-json/wc/v3/orders/456/notes", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))
	})
	defer server.Close()

	require.NoError(t, store.AddOrderNote(context.Background(), 456, "RoboLabs invoice synced: 501"))
	assert.Equal(t, "RoboLabs invoice synced: 501", got["note"])
}

func TestWooCommerceStore_HealthCheck(t *testing.T) {
	store, server := newTestStore(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "per_page=1", r.URL.RawQuery)
		w.Write([]byte(`[]`))
	})
	defer server.Close()

	assert.NoError(t, store.HealthCheck(context.Background()))
}

func TestMetaString(t *testing.T) {
	assert.Equal(t, "41", metaString("41"))
	assert.Equal(t, "41", metaString(float64(41)))
	assert.Equal(t, "4.5", metaString(4.5))
	assert.Equal(t, "", metaString([]any{"x"}))
}
