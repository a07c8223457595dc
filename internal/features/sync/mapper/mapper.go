package mapper

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"robolabs-sync/internal/features/sync/domain"

	"github.com/shopspring/decimal"
)

// Tax modes. With pass-through the store's tax amounts travel on each line;
// otherwise the tax field is omitted and RoboLabs computes it.
const (
	TaxModePassTaxes  = "pass_taxes"
	TaxModeRoboDecide = "robo_decide"
)

// External id prefixes. One per record type so ids never collide across types.
const (
	prefixPartner  = "EWCUSR"
	prefixProduct  = "EWCPRD"
	prefixInvoice  = "EWCINV"
	prefixCredit   = "EWCREF"
	// ShippingExternalID identifies the single shared shipping product.
	ShippingExternalID = "EWCSHIP"
	// ShippingSKU is the store-side SKU of the shared shipping product.
	ShippingSKU = "WC-SHIPPING"
)

// codeLength caps every external id, prefix included.
const codeLength = 20

// Config holds the invoicing defaults payload builders depend on.
type Config struct {
	JournalID         string
	CategID           string
	InvoiceType       string
	CreditInvoiceType string
	TaxMode           string
	Language          string
}

// Mapper builds RoboLabs payloads from store entities. All methods are pure:
// same input, same output, no I/O.
type Mapper struct {
	cfg Config
}

// New creates a Mapper with the given invoicing defaults.
func New(cfg Config) Mapper {
	return Mapper{cfg: cfg}
}

// PartnerExternalID derives the deterministic partner id for an order's
// customer: the hashed lower-cased billing email when present, else the
// order id. Stable across retries and restarts.
func PartnerExternalID(order *domain.Order) string {
	email := strings.TrimSpace(order.Billing.Email)
	if email != "" {
		sum := md5.Sum([]byte(strings.ToLower(email)))
		return compactCode(prefixPartner, strings.ToUpper(hex.EncodeToString(sum[:])))
	}

	return compactCode(prefixPartner, strconv.FormatInt(order.ID, 10))
}

// ProductExternalID derives the deterministic product id.
func ProductExternalID(productID int64) string {
	return compactCode(prefixProduct, strconv.FormatInt(productID, 10))
}

// InvoiceExternalID derives the deterministic invoice id for an order.
func InvoiceExternalID(orderID int64) string {
	return compactCode(prefixInvoice, strconv.FormatInt(orderID, 10))
}

// CreditExternalID derives the deterministic credit note id. Distinct refunds
// of the same order yield distinct ids.
func CreditExternalID(orderID, refundID int64) string {
	return compactCode(prefixCredit, strconv.FormatInt(orderID, 10)+strconv.FormatInt(refundID, 10))
}

// compactCode produces a fixed-length alphanumeric code: prefix plus the
// upper-cased payload stripped of non-alphanumerics, truncated to codeLength.
func compactCode(prefix, raw string) string {
	prefix = stripNonAlnum(strings.ToUpper(prefix))
	raw = stripNonAlnum(strings.ToUpper(raw))

	maxPayload := codeLength - len(prefix)
	if maxPayload < 1 {
		maxPayload = 1
	}
	if len(raw) > maxPayload {
		raw = raw[:maxPayload]
	}

	code := prefix + raw
	if len(code) > codeLength {
		code = code[:codeLength]
	}
	return code
}

func stripNonAlnum(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PartnerPayload is the remote partner (customer contact) record.
type PartnerPayload struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Street    string `json:"street"`
	City      string `json:"city"`
	Zip       string `json:"zip"`
	Country   string `json:"country"`
	Language  string `json:"language"`
	IsCompany bool   `json:"is_company"`
	Customer  bool   `json:"customer"`
	Supplier  bool   `json:"supplier"`
	VATCode   string `json:"vat_code"`
}

// BuildPartnerPayload maps an order's billing contact to a partner record.
// Company name wins over the personal name; a missing name falls back to the
// email local part, then to "Guest".
func (m Mapper) BuildPartnerPayload(order *domain.Order) PartnerPayload {
	b := order.Billing

	name := strings.TrimSpace(strings.TrimSpace(b.FirstName) + " " + strings.TrimSpace(b.LastName))
	if b.Company != "" {
		name = b.Company
	} else if name == "" {
		name = fallbackName(b.Email)
	}

	streetParts := make([]string, 0, 2)
	if b.Address1 != "" {
		streetParts = append(streetParts, b.Address1)
	}
	if b.Address2 != "" {
		streetParts = append(streetParts, b.Address2)
	}

	return PartnerPayload{
		Code:      PartnerExternalID(order),
		Name:      name,
		Email:     b.Email,
		Phone:     b.Phone,
		Street:    strings.Join(streetParts, " "),
		City:      b.City,
		Zip:       b.Postcode,
		Country:   b.Country,
		Language:  m.languageCode(),
		IsCompany: b.Company != "" || b.VATCode != "",
		Customer:  true,
		Supplier:  false,
		VATCode:   b.VATCode,
	}
}

func fallbackName(email string) string {
	if email == "" {
		return "Guest"
	}
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}

func (m Mapper) languageCode() string {
	if strings.HasPrefix(strings.ToLower(m.cfg.Language), "lt") {
		return "LT"
	}
	return "EN"
}

// ProductPayload is the remote product record.
type ProductPayload struct {
	DefaultCode string `json:"default_code"`
	Name        string `json:"name"`
	CategID     string `json:"categ_id"`
	Price       string `json:"price"`
	Type        string `json:"type"`
}

// BuildProductPayload maps a store product to a remote product record.
func (m Mapper) BuildProductPayload(product *domain.Product) ProductPayload {
	return ProductPayload{
		DefaultCode: ProductExternalID(product.ID),
		Name:        product.Name,
		CategID:     m.cfg.CategID,
		Price:       money(product.Price),
		Type:        "product",
	}
}

// ShippingProductPayload is the shared synthetic shipping product record.
type ShippingProductPayload struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	SKU        string `json:"sku"`
	CategID    string `json:"categ_id"`
}

// BuildShippingProductPayload builds the one shared shipping product.
func (m Mapper) BuildShippingProductPayload() ShippingProductPayload {
	return ShippingProductPayload{
		ExternalID: ShippingExternalID,
		Name:       "Shipping",
		SKU:        ShippingSKU,
		CategID:    m.cfg.CategID,
	}
}

// LineItem is one invoice or credit note line.
type LineItem struct {
	ProductID int64  `json:"product_id"`
	Qty       int    `json:"qty"`
	Price     string `json:"price"`
	// Tax is present only in pass-through tax mode.
	Tax string `json:"tax,omitempty"`
}

// BuildLineItem maps an order line to an invoice line. Unit price is the line
// total divided by quantity; zero-quantity lines price at zero rather than
// faulting.
func (m Mapper) BuildLineItem(line domain.OrderLine, productID int64) LineItem {
	unitPrice := 0.0
	if line.Quantity > 0 {
		unitPrice = line.Total / float64(line.Quantity)
	}

	item := LineItem{
		ProductID: productID,
		Qty:       line.Quantity,
		Price:     money(unitPrice),
	}
	if m.cfg.TaxMode == TaxModePassTaxes {
		item.Tax = money(line.TotalTax)
	}
	return item
}

// BuildShippingLine maps the order's shipping total to a single line.
func (m Mapper) BuildShippingLine(order *domain.Order, productID int64) LineItem {
	item := LineItem{
		ProductID: productID,
		Qty:       1,
		Price:     money(order.ShippingTotal),
	}
	if m.cfg.TaxMode == TaxModePassTaxes {
		item.Tax = money(order.ShippingTax)
	}
	return item
}

// BuildDiscountLine maps the order discount to a negative line, or nil when
// there is no discount.
func (m Mapper) BuildDiscountLine(order *domain.Order, productID int64) *LineItem {
	if order.DiscountTotal <= 0 {
		return nil
	}

	return &LineItem{
		ProductID: productID,
		Qty:       1,
		Price:     money(-order.DiscountTotal),
	}
}

// InvoicePayload is the remote invoice record.
type InvoicePayload struct {
	Number      string     `json:"number"`
	ExternalID  string     `json:"external_id"`
	Currency    string     `json:"currency"`
	InvoiceType string     `json:"invoice_type"`
	JournalID   string     `json:"journal_id"`
	PartnerID   int64      `json:"partner_id"`
	DateInvoice string     `json:"date_invoice"`
	Subtotal    string     `json:"subtotal"`
	Tax         string     `json:"tax"`
	Total       string     `json:"total"`
	Lines       []LineItem `json:"invoice_lines"`
}

// BuildInvoicePayload maps an order to an invoice record.
func (m Mapper) BuildInvoicePayload(order *domain.Order, partnerID int64, lines []LineItem) InvoicePayload {
	return InvoicePayload{
		Number:      order.Number,
		ExternalID:  InvoiceExternalID(order.ID),
		Currency:    order.Currency,
		InvoiceType: m.cfg.InvoiceType,
		JournalID:   m.cfg.JournalID,
		PartnerID:   partnerID,
		DateInvoice: invoiceDate(order.CreatedAt),
		Subtotal:    money(order.Subtotal),
		Tax:         money(order.TotalTax),
		Total:       money(order.Total),
		Lines:       lines,
	}
}

// CreditPayload is the remote credit note record.
type CreditPayload struct {
	Number      string     `json:"number"`
	ExternalID  string     `json:"external_id"`
	Currency    string     `json:"currency"`
	InvoiceType string     `json:"invoice_type"`
	JournalID   string     `json:"journal_id"`
	PartnerID   int64      `json:"partner_id"`
	DateInvoice string     `json:"date_invoice"`
	Lines       []LineItem `json:"invoice_lines"`
}

// BuildCreditPayload maps a refund to a credit note against the order.
func (m Mapper) BuildCreditPayload(order *domain.Order, partnerID int64, lines []LineItem, refundID int64) CreditPayload {
	return CreditPayload{
		Number:      order.Number + "-CR",
		ExternalID:  CreditExternalID(order.ID, refundID),
		Currency:    order.Currency,
		InvoiceType: m.cfg.CreditInvoiceType,
		JournalID:   m.cfg.JournalID,
		PartnerID:   partnerID,
		DateInvoice: invoiceDate(order.CreatedAt),
		Lines:       lines,
	}
}

func invoiceDate(createdAt time.Time) string {
	if createdAt.IsZero() {
		return time.Now().UTC().Format("2006-01-02")
	}
	return createdAt.Format("2006-01-02")
}

// money renders a monetary amount rounded to two decimal places, with
// trailing zeros kept ("10.00", not "10").
func money(v float64) string {
	return decimal.NewFromFloat(v).Round(2).StringFixed(2)
}
