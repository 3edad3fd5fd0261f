package store

import (
	"context"
	"errors"
	"time"

	"voyapos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidInput      = errors.New("invalid input")
	ErrDuplicateInvoice  = errors.New("duplicate invoice number")
	ErrNegativeQuantity  = errors.New("negative ledger quantity")
)

// Catalog is the read-only view of products and stores owned by catalog
// management.
type Catalog interface {
	GetStore(ctx context.Context, storeID string) (*domain.Store, error)
	GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	ListActiveProducts(ctx context.Context) ([]domain.Product, error)
	ListActiveStores(ctx context.Context) ([]domain.Store, error)
}

// CatalogWriter loads catalog records. Catalog sync itself lives outside this
// service; the writer backs seeding and tests.
type CatalogWriter interface {
	SaveStore(ctx context.Context, s domain.Store) error
	SaveProduct(ctx context.Context, p domain.Product) error
}

// Ledger is the authoritative (product, store) -> quantity table.
type Ledger interface {
	// GetQuantity returns 0 when no record exists.
	GetQuantity(ctx context.Context, productID string, storeID string) (int, error)
	// TryDecrement checks and decrements in one conditional statement. ok is
	// false, and nothing changes, when stock is short or the record is absent.
	TryDecrement(ctx context.Context, productID string, storeID string, amount int) (newQty int, ok bool, err error)
	// Upsert sets the absolute quantity, creating the record if absent.
	Upsert(ctx context.Context, productID string, storeID string, qty int) (created bool, err error)
	// EnsureRecord creates a zero record when the pair has none and leaves
	// existing quantities alone.
	EnsureRecord(ctx context.Context, productID string, storeID string) (created bool, err error)
	// ClearAll removes every record. Outside RebuildLedger it leaves the
	// ledger empty until the caller repopulates it.
	ClearAll(ctx context.Context) (removed int, err error)
	ListInventory(ctx context.Context) ([]domain.InventoryRecord, error)
}

// SaleTx is the unit of work for committing one sale. Every call made
// through it commits or rolls back together.
type SaleTx interface {
	TryDecrement(ctx context.Context, productID string, storeID string, amount int) (newQty int, ok bool, err error)
	// NextInvoiceSequence reserves the next per-store counter value. The
	// counter row stays locked until the unit of work ends.
	NextInvoiceSequence(ctx context.Context, storeID string) (int, error)
	// UpsertCustomer finds a customer by phone or creates one, refreshing
	// name, email and GST number when provided.
	UpsertCustomer(ctx context.Context, in domain.CustomerInput, at time.Time) (*domain.Customer, error)
	AddCustomerPurchase(ctx context.Context, customerID string, amount int64, at time.Time) error
	InsertSale(ctx context.Context, sale domain.Sale) error
}

// RebuildTx is the exclusive unit of work for a destructive ledger rebuild.
// Sales cannot decrement stock while it is open.
type RebuildTx interface {
	ClearAll(ctx context.Context) (removed int, err error)
	Upsert(ctx context.Context, productID string, storeID string, qty int) (created bool, err error)
}

type SalesReader interface {
	GetSale(ctx context.Context, saleID string) (*domain.Sale, error)
	// ListSales returns the newest sales first.
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	// SalesTotals fills every SalesStats field except AvgSaleAmount.
	SalesTotals(ctx context.Context, filter domain.SaleFilter) (domain.SalesStats, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	Catalog
	CatalogWriter
	Ledger
	SalesReader
	UserStore
	// RunSaleTx runs fn in one transaction. fn may be invoked again when the
	// backend reports a retryable conflict, so it must not keep state across
	// calls.
	RunSaleTx(ctx context.Context, fn func(tx SaleTx) error) error
	// RebuildLedger runs fn while holding exclusive access to the ledger. An
	// error or cancelled context restores the previous ledger.
	RebuildLedger(ctx context.Context, fn func(tx RebuildTx) error) error
}
