package adapter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"robolabs-sync/internal/core/config"
	"robolabs-sync/internal/core/httpclient"
	"robolabs-sync/internal/core/logger"
	"robolabs-sync/internal/features/sync/domain"

	"go.uber.org/zap"
)

// Sync metadata keys persisted on WooCommerce records. The store of record
// carries the sync state so the service itself stays stateless.
const (
	metaSyncStatus        = "_robolabs_sync_status"
	metaInvoiceID         = "_robolabs_invoice_id"
	metaInvoiceExternalID = "_robolabs_invoice_external_id"
	metaPartnerID         = "_robolabs_partner_id"
	metaLastError         = "_robolabs_last_error"
	metaLastSync          = "_robolabs_last_sync"
	metaRetryCount        = "_robolabs_retry_count"
	metaRefundRetryCount  = "_robolabs_refund_retry_count"
	metaPendingJobID      = "_robolabs_pending_job_id"

	metaProductID         = "_robolabs_product_id"
	metaProductExternalID = "_robolabs_product_external_id"
	metaPartnerExternalID = "_robolabs_partner_external_id"
)

// WooCommerceStore implements the OrderStore port on top of the WooCommerce
// REST API (wp-json/wc/v3).
type WooCommerceStore struct {
	// client is the HTTP client used for API requests.
	client *http.Client
	// config holds the WooCommerce connection details.
	config config.WooCommerceConfig
}

// NewWooCommerceStore creates a new instance of WooCommerceStore.
func NewWooCommerceStore(cfg config.WooCommerceConfig) *WooCommerceStore {
	return &WooCommerceStore{
		client: httpclient.NewClient(10 * time.Second),
		config: cfg,
	}
}

// Order fetches an order and maps it, including the sync metadata and the
// refunded total, to the domain entity.
func (s *WooCommerceStore) Order(ctx context.Context, orderID int64) (*domain.Order, error) {
	var wc wcOrder
	if err := s.doJSON(ctx, http.MethodGet, fmt.Sprintf("/wp-json/wc/v3/orders/%d", orderID), nil, &wc); err != nil {
		return nil, err
	}
	return mapOrder(wc), nil
}

// Refund fetches one refund of an order. WooCommerce reports refund amounts
// as negative; the domain entity carries them positive.
func (s *WooCommerceStore) Refund(ctx context.Context, orderID, refundID int64) (*domain.Refund, error) {
	var wc wcRefund
	path := fmt.Sprintf("/wp-json/wc/v3/orders/%d/refunds/%d", orderID, refundID)
	if err := s.doJSON(ctx, http.MethodGet, path, nil, &wc); err != nil {
		return nil, err
	}

	refund := &domain.Refund{
		ID:      wc.ID,
		OrderID: orderID,
		Amount:  abs(parseAmount(wc.Amount)),
	}
	for _, item := range wc.LineItems {
		refund.Lines = append(refund.Lines, domain.OrderLine{
			ID:        item.ID,
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  absInt(item.Quantity),
			Total:     abs(parseAmount(item.Total)),
			TotalTax:  abs(parseAmount(item.TotalTax)),
		})
	}
	return refund, nil
}

// Product fetches a product by id.
func (s *WooCommerceStore) Product(ctx context.Context, productID int64) (*domain.Product, error) {
	var wc wcProduct
	if err := s.doJSON(ctx, http.MethodGet, fmt.Sprintf("/wp-json/wc/v3/products/%d", productID), nil, &wc); err != nil {
		return nil, err
	}
	return &domain.Product{
		ID:    wc.ID,
		SKU:   wc.SKU,
		Name:  wc.Name,
		Price: parseAmount(wc.Price),
	}, nil
}

// SyncState reads the order's sync metadata. Orders without any sync
// metadata yield a fresh unsynced state.
func (s *WooCommerceStore) SyncState(ctx context.Context, orderID int64) (*domain.SyncState, error) {
	var wc wcOrder
	if err := s.doJSON(ctx, http.MethodGet, fmt.Sprintf("/wp-json/wc/v3/orders/%d", orderID), nil, &wc); err != nil {
		return nil, err
	}
	return syncStateFromMeta(wc.MetaData), nil
}

// SaveSyncState writes the full sync metadata set back onto the order.
func (s *WooCommerceStore) SaveSyncState(ctx context.Context, orderID int64, state *domain.SyncState) error {
	lastSync := ""
	if !state.LastSyncAt.IsZero() {
		lastSync = state.LastSyncAt.UTC().Format(time.RFC3339)
	}

	update := wcMetaUpdate{MetaData: []wcMetaData{
		{Key: metaSyncStatus, Value: string(state.Status)},
		{Key: metaInvoiceID, Value: state.InvoiceRemoteID},
		{Key: metaInvoiceExternalID, Value: state.InvoiceExternalID},
		{Key: metaPartnerID, Value: strconv.FormatInt(state.PartnerRemoteID, 10)},
		{Key: metaLastError, Value: state.LastError},
		{Key: metaLastSync, Value: lastSync},
		{Key: metaRetryCount, Value: strconv.Itoa(state.RetryCount)},
		{Key: metaRefundRetryCount, Value: strconv.Itoa(state.RefundRetryCount)},
		{Key: metaPendingJobID, Value: state.PendingJobID},
	}}

	return s.putJSON(ctx, fmt.Sprintf("/wp-json/wc/v3/orders/%d", orderID), update)
}

// ProductRef reads the cached RoboLabs ref off a product, or nil when the
// product has never been synced.
func (s *WooCommerceStore) ProductRef(ctx context.Context, productID int64) (*domain.RemoteRef, error) {
	var wc wcProduct
	if err := s.doJSON(ctx, http.MethodGet, fmt.Sprintf("/wp-json/wc/v3/products/%d", productID), nil, &wc); err != nil {
		return nil, err
	}
	return refFromMeta(wc.MetaData, metaProductID, metaProductExternalID), nil
}

// SaveProductRef caches the RoboLabs ref on the product record.
func (s *WooCommerceStore) SaveProductRef(ctx context.Context, productID int64, ref domain.RemoteRef) error {
	update := wcMetaUpdate{MetaData: []wcMetaData{
		{Key: metaProductID, Value: strconv.FormatInt(ref.RemoteID, 10)},
		{Key: metaProductExternalID, Value: ref.ExternalID},
	}}
	return s.putJSON(ctx, fmt.Sprintf("/wp-json/wc/v3/products/%d", productID), update)
}

// CustomerRef reads the cached partner ref off a customer account, or nil.
func (s *WooCommerceStore) CustomerRef(ctx context.Context, customerID int64) (*domain.RemoteRef, error) {
	var wc wcCustomer
	if err := s.doJSON(ctx, http.MethodGet, fmt.Sprintf("/wp-json/wc/v3/customers/%d", customerID), nil, &wc); err != nil {
		return nil, err
	}
	return refFromMeta(wc.MetaData, metaPartnerID, metaPartnerExternalID), nil
}

// SaveCustomerRef caches the partner ref on the customer account.
func (s *WooCommerceStore) SaveCustomerRef(ctx context.Context, customerID int64, ref domain.RemoteRef) error {
	update := wcMetaUpdate{MetaData: []wcMetaData{
		{Key: metaPartnerID, Value: strconv.FormatInt(ref.RemoteID, 10)},
		{Key: metaPartnerExternalID, Value: ref.ExternalID},
	}}
	return s.putJSON(ctx, fmt.Sprintf("/wp-json/wc/v3/customers/%d", customerID), update)
}

// AddOrderNote appends a private note to the order's timeline.
func (s *WooCommerceStore) AddOrderNote(ctx context.Context, orderID int64, note string) error {
	body := map[string]any{"note": note}
	path := fmt.Sprintf("/wp-json/wc/v3/orders/%d/notes", orderID)

	req, err := s.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	return s.execute(req, nil)
}

// HealthCheck verifies that the WooCommerce API is reachable and credentials
// are valid.
func (s *WooCommerceStore) HealthCheck(ctx context.Context) error {
	var orders []wcOrder
	return s.doJSON(ctx, http.MethodGet, "/wp-json/wc/v3/orders?per_page=1", nil, &orders)
}

func (s *WooCommerceStore) doJSON(ctx context.Context, method, path string, body, out any) error {
	req, err := s.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	return s.execute(req, out)
}

func (s *WooCommerceStore) putJSON(ctx context.Context, path string, body any) error {
	req, err := s.newRequest(ctx, http.MethodPut, path, body)
	if err != nil {
		return err
	}
	return s.execute(req, nil)
}

func (s *WooCommerceStore) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.URL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Basic Auth using optimized string building
	authVal := make([]byte, 0, len(s.config.ConsumerKey)+len(s.config.ConsumerSecret)+1)
	authVal = fmt.Appendf(authVal, "%s:%s", s.config.ConsumerKey, s.config.ConsumerSecret)
	encoded := base64.StdEncoding.EncodeToString(authVal)
	req.Header.Add("Authorization", "Basic "+encoded)

	return req, nil
}

func (s *WooCommerceStore) execute(req *http.Request, out any) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("woocommerce resource not found: %s", req.URL.Path)
		}
		return fmt.Errorf("woocommerce API returned status: %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// mapOrder converts a raw WooCommerce order response into a domain Order.
func mapOrder(wc wcOrder) *domain.Order {
	order := &domain.Order{
		ID:            wc.ID,
		Number:        wc.Number,
		CustomerID:    wc.CustomerID,
		Currency:      wc.Currency,
		TotalTax:      parseAmount(wc.TotalTax),
		ShippingTotal: parseAmount(wc.ShippingTotal),
		ShippingTax:   parseAmount(wc.ShippingTax),
		DiscountTotal: parseAmount(wc.DiscountTotal),
		Total:         parseAmount(wc.Total),
		CreatedAt:     time.Time(wc.DateCreated),
		Billing: domain.Billing{
			FirstName: wc.Billing.FirstName,
			LastName:  wc.Billing.LastName,
			Company:   wc.Billing.Company,
			Email:     wc.Billing.Email,
			Phone:     wc.Billing.Phone,
			Address1:  wc.Billing.Address1,
			Address2:  wc.Billing.Address2,
			City:      wc.Billing.City,
			Postcode:  wc.Billing.Postcode,
			Country:   wc.Billing.Country,
			VATCode:   vatCodeFromMeta(wc.MetaData),
		},
	}

	subtotal := 0.0
	for _, item := range wc.LineItems {
		subtotal += parseAmount(item.Subtotal)
		order.Lines = append(order.Lines, domain.OrderLine{
			ID:        item.ID,
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Total:     parseAmount(item.Total),
			TotalTax:  parseAmount(item.TotalTax),
		})
	}
	order.Subtotal = subtotal

	// Refund totals arrive negative on the order's refunds collection.
	refunded := 0.0
	for _, r := range wc.Refunds {
		refunded += parseAmount(r.Total)
	}
	order.TotalRefunded = abs(refunded)

	return order
}

func syncStateFromMeta(meta []wcMetaData) *domain.SyncState {
	state := &domain.SyncState{Status: domain.SyncStatusUnsynced}

	for _, m := range meta {
		value := metaString(m.Value)
		switch m.Key {
		case metaSyncStatus:
			if value != "" {
				state.Status = domain.SyncStatus(value)
			}
		case metaInvoiceID:
			state.InvoiceRemoteID = value
		case metaInvoiceExternalID:
			state.InvoiceExternalID = value
		case metaPartnerID:
			state.PartnerRemoteID, _ = strconv.ParseInt(value, 10, 64)
		case metaLastError:
			state.LastError = value
		case metaLastSync:
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				state.LastSyncAt = t
			}
		case metaRetryCount:
			state.RetryCount, _ = strconv.Atoi(value)
		case metaRefundRetryCount:
			state.RefundRetryCount, _ = strconv.Atoi(value)
		case metaPendingJobID:
			state.PendingJobID = value
		}
	}

	return state
}

func refFromMeta(meta []wcMetaData, idKey, externalKey string) *domain.RemoteRef {
	ref := &domain.RemoteRef{}
	for _, m := range meta {
		switch m.Key {
		case idKey:
			ref.RemoteID, _ = strconv.ParseInt(metaString(m.Value), 10, 64)
		case externalKey:
			ref.ExternalID = metaString(m.Value)
		}
	}
	if ref.RemoteID == 0 {
		return nil
	}
	return ref
}

// vatCodeFromMeta finds the buyer's VAT number among the keys the common
// EU-VAT plugins use.
func vatCodeFromMeta(meta []wcMetaData) string {
	for _, m := range meta {
		switch m.Key {
		case "_billing_vat_number", "vat_number", "_vat_number":
			if value := metaString(m.Value); value != "" {
				return value
			}
		}
	}
	return ""
}

// metaString renders a metadata value as a string. WooCommerce metadata
// values arrive as strings or numbers depending on how they were written.
func metaString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func parseAmount(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		logger.Get().Warn("Failed to parse amount", zap.String("amount", s), zap.Error(err))
		return 0
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// internal structs for mapping

// wcOrder represents the JSON structure of an order from WooCommerce API.
// Money fields arrive as decimal strings.
type wcOrder struct {
	ID            int64             `json:"id"`
	Number        string            `json:"number"`
	CustomerID    int64             `json:"customer_id"`
	Currency      string            `json:"currency"`
	Total         string            `json:"total"`
	TotalTax      string            `json:"total_tax"`
	ShippingTotal string            `json:"shipping_total"`
	ShippingTax   string            `json:"shipping_tax"`
	DiscountTotal string            `json:"discount_total"`
	DateCreated   wcTime            `json:"date_created"`
	Billing       wcBilling         `json:"billing"`
	LineItems     []wcLineItem      `json:"line_items"`
	Refunds       []wcRefundSummary `json:"refunds"`
	MetaData      []wcMetaData      `json:"meta_data"`
}

// wcBilling holds billing contact information.
type wcBilling struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address1  string `json:"address_1"`
	Address2  string `json:"address_2"`
	City      string `json:"city"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
}

// wcLineItem represents a product line in a WooCommerce order or refund.
type wcLineItem struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Subtotal  string `json:"subtotal"`
	Total     string `json:"total"`
	TotalTax  string `json:"total_tax"`
}

// wcRefundSummary is the condensed refund entry carried on the order itself.
type wcRefundSummary struct {
	ID    int64  `json:"id"`
	Total string `json:"total"`
}

// wcRefund is the full refund record from the refunds endpoint.
type wcRefund struct {
	ID        int64        `json:"id"`
	Amount    string       `json:"amount"`
	LineItems []wcLineItem `json:"line_items"`
}

// wcProduct represents a product from the WooCommerce API.
type wcProduct struct {
	ID       int64        `json:"id"`
	SKU      string       `json:"sku"`
	Name     string       `json:"name"`
	Price    string       `json:"price"`
	MetaData []wcMetaData `json:"meta_data"`
}

// wcCustomer represents a customer account from the WooCommerce API.
type wcCustomer struct {
	ID       int64        `json:"id"`
	Email    string       `json:"email"`
	MetaData []wcMetaData `json:"meta_data"`
}

// wcMetaData represents a key-value pair in WooCommerce metadata.
type wcMetaData struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// wcMetaUpdate is the write shape for metadata updates.
type wcMetaUpdate struct {
	MetaData []wcMetaData `json:"meta_data"`
}

// wcTime handles WooCommerce's date format.
type wcTime time.Time

// UnmarshalJSON parses the custom date format used by WooCommerce.
func (t *wcTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), "\"")
	// WooCommerce usually returns ISO8601 "2018-12-19T14:48:25"
	if s == "null" || s == "" {
		*t = wcTime(time.Time{})
		return nil
	}
	parsed, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		// Try with timezone just in case
		parsed, err = time.Parse(time.RFC3339, s)
	}
	if err != nil {
		logger.Get().Warn("Failed to parse date", zap.String("date", s), zap.Error(err))
		return nil
	}
	*t = wcTime(parsed)
	return nil
}
