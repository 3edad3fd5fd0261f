package domain

import (
	"strings"
	"time"
)

type Category string

const (
	CategoryFrame     Category = "frame"
	CategoryEyeglass  Category = "eyeglass"
	CategorySunglass  Category = "sunglass"
	CategoryAccessory Category = "accessory"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryFrame, CategoryEyeglass, CategorySunglass, CategoryAccessory:
		return true
	}
	return false
}

// DefaultTaxRate is the GST percent applied when a product carries no
// explicit rate.
func DefaultTaxRate(c Category) int {
	if c == CategoryFrame || c == CategoryEyeglass {
		return 5
	}
	return 18
}

type PaymentMethod string

const (
	PaymentCash  PaymentMethod = "cash"
	PaymentUPI   PaymentMethod = "upi"
	PaymentCard  PaymentMethod = "card"
	PaymentOther PaymentMethod = "other"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentUPI, PaymentCard, PaymentOther:
		return true
	}
	return false
}

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
)

type Product struct {
	ID               string   `json:"id"`
	SKU              string   `json:"sku"`
	Name             string   `json:"name"`
	Category         Category `json:"category"`
	Price            int64    `json:"price"`
	TaxRate          int      `json:"taxRate"`
	ShopifyProductID string   `json:"shopifyProductId,omitempty"`
	ShopifyVariantID string   `json:"shopifyVariantId,omitempty"`
	InventoryItemID  string   `json:"inventoryItemId,omitempty"`
	Active           bool     `json:"active"`
}

type Store struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Location          string `json:"location,omitempty"`
	ShopifyLocationID string `json:"shopifyLocationId,omitempty"`
	Active            bool   `json:"active"`
}

type InventoryRecord struct {
	ProductID string    `json:"productId"`
	StoreID   string    `json:"storeId"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Customer struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Phone            string     `json:"phone"`
	Email            string     `json:"email,omitempty"`
	GSTNumber        string     `json:"gstNumber,omitempty"`
	TotalPurchases   int64      `json:"totalPurchases"`
	LastPurchaseDate *time.Time `json:"lastPurchaseDate,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

type CustomerInput struct {
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	GSTNumber string `json:"gstNumber"`
}

// Normalize trims all fields, lowercases the email and uppercases the GST number.
func (c CustomerInput) Normalize() CustomerInput {
	return CustomerInput{
		Name:      strings.TrimSpace(c.Name),
		Phone:     strings.TrimSpace(c.Phone),
		Email:     strings.ToLower(strings.TrimSpace(c.Email)),
		GSTNumber: strings.ToUpper(strings.TrimSpace(c.GSTNumber)),
	}
}

type SaleItem struct {
	ProductID       string `json:"productId"`
	Name            string `json:"name"`
	SKU             string `json:"sku"`
	Quantity        int    `json:"quantity"`
	UnitPrice       int64  `json:"unitPrice"`
	Discount        int64  `json:"discount"`
	DiscountedPrice int64  `json:"discountedPrice"`
	TaxRate         int    `json:"taxRate"`
	TaxAmount       int64  `json:"taxAmount"`
	TotalAmount     int64  `json:"totalAmount"`
}

type Sale struct {
	ID            string        `json:"id"`
	InvoiceNumber string        `json:"invoiceNumber"`
	StoreID       string        `json:"storeId"`
	CashierID     string        `json:"cashierId"`
	CustomerID    string        `json:"customerId,omitempty"`
	Items         []SaleItem    `json:"items"`
	Subtotal      int64         `json:"subtotal"`
	TotalDiscount int64         `json:"totalDiscount"`
	TotalTax      int64         `json:"totalTax"`
	TotalAmount   int64         `json:"totalAmount"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	Notes         string        `json:"notes,omitempty"`
	SaleDate      time.Time     `json:"saleDate"`
}

// SaleState tracks a sale through Validating, StockReserved, Priced and
// Committed. Aborted is reachable from any non-terminal state.
type SaleState string

const (
	SaleValidating    SaleState = "validating"
	SaleStockReserved SaleState = "stock_reserved"
	SalePriced        SaleState = "priced"
	SaleCommitted     SaleState = "committed"
	SaleAborted       SaleState = "aborted"
)

type SaleItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Discount  int64  `json:"discount"`
}

type SaleRequest struct {
	StoreID       string            `json:"storeId"`
	Items         []SaleItemRequest `json:"items"`
	Customer      *CustomerInput    `json:"customer,omitempty"`
	PaymentMethod PaymentMethod     `json:"paymentMethod"`
	Notes         string            `json:"notes"`
}

// SaleFilter selects sales. From is inclusive, To exclusive.
type SaleFilter struct {
	StoreID   string
	CashierID string
	From      *time.Time
	To        *time.Time
	Limit     int
}

type SalesStats struct {
	TotalSales    int   `json:"totalSales"`
	TotalRevenue  int64 `json:"totalRevenue"`
	TotalDiscount int64 `json:"totalDiscount"`
	TotalTax      int64 `json:"totalTax"`
	AvgSaleAmount int64 `json:"avgSaleAmount"`
}

// InventoryLevel is one tuple of an external inventory snapshot.
type InventoryLevel struct {
	LocationID string `json:"locationId"`
	ItemID     string `json:"itemId"`
	Available  int    `json:"available"`
}

type ReconcileMode string

const (
	ReconcileIncremental ReconcileMode = "incremental"
	ReconcileRebuild     ReconcileMode = "rebuild"
	ReconcileBackfill    ReconcileMode = "backfill"
)

func (m ReconcileMode) Valid() bool {
	switch m {
	case ReconcileIncremental, ReconcileRebuild, ReconcileBackfill:
		return true
	}
	return false
}

type ReconcileRequest struct {
	Mode ReconcileMode `json:"mode"`
}

// ReconcileError is one per-item failure in a reconciliation report. Code
// is an apperr code such as UnresolvedReference or NegativeQuantity.
type ReconcileError struct {
	Code       string `json:"code"`
	ProductID  string `json:"productId,omitempty"`
	StoreID    string `json:"storeId,omitempty"`
	LocationID string `json:"locationId,omitempty"`
	ItemID     string `json:"itemId,omitempty"`
	Error      string `json:"error"`
}

type ReconcileReport struct {
	Mode             ReconcileMode    `json:"mode"`
	TotalProducts    int              `json:"totalProducts"`
	TotalStores      int              `json:"totalStores"`
	SnapshotEntries  int              `json:"snapshotEntries"`
	Cleared          int              `json:"cleared,omitempty"`
	Created          int              `json:"created"`
	Updated          int              `json:"updated"`
	Existing         int              `json:"existing,omitempty"`
	WithSnapshotData int              `json:"withSnapshotData"`
	WithZeroQuantity int              `json:"withZeroQuantity"`
	Errors           []ReconcileError `json:"errors"`
	Verification     []StoreQuantity  `json:"verification,omitempty"`
	Cancelled        bool             `json:"cancelled"`
	StartedAt        time.Time        `json:"startedAt"`
	FinishedAt       time.Time        `json:"finishedAt"`
}

type StoreQuantity struct {
	StoreID   string `json:"storeId"`
	StoreName string `json:"storeName"`
	Records   int    `json:"records"`
	Quantity  int    `json:"quantity"`
}

type LowStockProduct struct {
	ProductID string `json:"productId"`
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
}

type InventorySummary struct {
	TotalProducts  int               `json:"totalProducts"`
	TotalInventory int               `json:"totalInventory"`
	ByStore        []StoreQuantity   `json:"byStore"`
	LowStock       []LowStockProduct `json:"lowStock"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	Role        string `json:"role"`
	StoreID     string `json:"storeId,omitempty"`
	ExpiresAt   string `json:"expiresAt"`
}

// Actor is the authenticated caller. StoreID is the cashier's assigned store.
type Actor struct {
	Username string
	Role     string
	StoreID  string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	StoreID   string
	Active    bool
	CreatedAt time.Time
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	StoreID  string `json:"storeId"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	StoreID   string    `json:"storeId"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}
