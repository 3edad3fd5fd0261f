package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voyapos/backend/internal/apperr"
	"voyapos/backend/internal/cache"
	"voyapos/backend/internal/domain"
	"voyapos/backend/internal/events"
	"voyapos/backend/internal/store"
	"voyapos/backend/internal/store/memory"
)

var (
	adminActor   = domain.Actor{Username: "admin", Role: domain.RoleAdmin}
	managerActor = domain.Actor{Username: "manager", Role: domain.RoleManager}
	cashierActor = domain.Actor{Username: "cashier", Role: domain.RoleCashier, StoreID: "store-downtown"}
)

type fakeFetcher struct {
	mu     sync.Mutex
	levels []domain.InventoryLevel
	err    error
	onCall func()
	calls  int
}

func (f *fakeFetcher) FetchInventorySnapshot(_ context.Context, _ []string) ([]domain.InventoryLevel, error) {
	f.mu.Lock()
	f.calls++
	onCall := f.onCall
	f.mu.Unlock()
	if onCall != nil {
		onCall()
	}
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.InventoryLevel(nil), f.levels...), nil
}

type fixture struct {
	svc      *Service
	repo     *memory.Store
	recorder *events.Recorder
	fetcher  *fakeFetcher
	locker   *cache.MemoryLocker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     memory.NewSeeded(),
		recorder: &events.Recorder{},
		fetcher:  &fakeFetcher{},
		locker:   cache.NewMemoryLocker(),
	}
	f.svc = New(f.repo, Options{
		Cache:     cache.NewMemory(),
		Locker:    f.locker,
		Publisher: f.recorder,
		Fetcher:   f.fetcher,
	})
	return f
}

func (f *fixture) quantity(t *testing.T, productID string, storeID string) int {
	t.Helper()
	qty, err := f.repo.GetQuantity(context.Background(), productID, storeID)
	require.NoError(t, err)
	return qty
}

func (f *fixture) setQuantity(t *testing.T, productID string, storeID string, qty int) {
	t.Helper()
	_, err := f.repo.Upsert(context.Background(), productID, storeID, qty)
	require.NoError(t, err)
}

func asCashier() context.Context { return WithActor(context.Background(), cashierActor) }
func asManager() context.Context { return WithActor(context.Background(), managerActor) }
func asAdmin() context.Context   { return WithActor(context.Background(), adminActor) }

func oneLine(productID string, qty int) domain.SaleRequest {
	return domain.SaleRequest{
		StoreID: "store-downtown",
		Items:   []domain.SaleItemRequest{{ProductID: productID, Quantity: qty}},
	}
}

func requireCode(t *testing.T, err error, code string) *apperr.Error {
	t.Helper()
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.Truef(t, ok, "expected *apperr.Error, got %T: %v", err, err)
	require.Equal(t, code, appErr.Code, appErr.Error())
	return appErr
}

func TestCreateSalePricesDecrementsAndNumbers(t *testing.T) {
	f := newFixture(t)

	sale, err := f.svc.CreateSale(asCashier(), domain.SaleRequest{
		StoreID:       "store-downtown",
		Items:         []domain.SaleItemRequest{{ProductID: "prod-aviator", Quantity: 2, Discount: 9900}},
		PaymentMethod: domain.PaymentUPI,
	})
	require.NoError(t, err)

	assert.Equal(t, "DOWNVOYA0001", sale.InvoiceNumber)
	assert.Equal(t, "cashier", sale.CashierID)
	assert.Equal(t, domain.PaymentUPI, sale.PaymentMethod)
	require.Len(t, sale.Items, 1)
	item := sale.Items[0]
	assert.Equal(t, int64(240000), item.DiscountedPrice)
	assert.Equal(t, int64(24000), item.TaxAmount)
	assert.Equal(t, int64(504000), item.TotalAmount)
	assert.Equal(t, int64(499800), sale.Subtotal)
	assert.Equal(t, int64(19800), sale.TotalDiscount)
	assert.Equal(t, sale.Subtotal-sale.TotalDiscount+sale.TotalTax, sale.TotalAmount)

	assert.Equal(t, 2, f.quantity(t, "prod-aviator", "store-downtown"))

	stored, err := f.svc.GetSale(asCashier(), sale.ID)
	require.NoError(t, err)
	assert.Equal(t, sale.InvoiceNumber, stored.InvoiceNumber)

	recorded := f.recorder.Events()
	require.Len(t, recorded, 1)
	committed, ok := recorded[0].(events.SaleCommitted)
	require.True(t, ok)
	assert.Equal(t, sale.ID, committed.SaleID)
	assert.Equal(t, []events.SoldItem{{ProductID: "prod-aviator", Quantity: 2, RemainingQty: 2}}, committed.Items)
}

func TestCreateSaleDefaultsToCashAndWalkIn(t *testing.T) {
	f := newFixture(t)

	req := oneLine("prod-case", 1)
	req.Customer = &domain.CustomerInput{Name: "Walk in"}
	sale, err := f.svc.CreateSale(asCashier(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCash, sale.PaymentMethod)
	assert.Empty(t, sale.CustomerID)
}

func TestCreateSaleFourthInvoiceContinuesSequence(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier()

	for i := 0; i < 3; i++ {
		_, err := f.svc.CreateSale(ctx, oneLine("prod-case", 1))
		require.NoError(t, err)
	}
	sale, err := f.svc.CreateSale(ctx, oneLine("prod-case", 1))
	require.NoError(t, err)
	assert.Equal(t, "DOWNVOYA0004", sale.InvoiceNumber)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	f := newFixture(t)
	f.setQuantity(t, "prod-polar", "store-downtown", 5)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateSale(asCashier(), oneLine("prod-polar", 3))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		appErr := requireCode(t, err, apperr.CodeInsufficientStock)
		assert.Equal(t, "prod-polar", appErr.ProductID)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 2, f.quantity(t, "prod-polar", "store-downtown"))
}

func TestConcurrentSalesGetUniqueGaplessInvoices(t *testing.T) {
	f := newFixture(t)
	f.setQuantity(t, "prod-cloth", "store-downtown", 100)
	const n = 20

	var wg sync.WaitGroup
	numbers := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sale, err := f.svc.CreateSale(asCashier(), oneLine("prod-cloth", 1))
			numbers[i], errs[i] = sale.InvoiceNumber, err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	sort.Strings(numbers)
	for i, number := range numbers {
		assert.Equal(t, fmt.Sprintf("DOWNVOYA%04d", i+1), number)
	}
	assert.Equal(t, 100-n, f.quantity(t, "prod-cloth", "store-downtown"))
}

func TestCreateSaleRollsBackWhenAnyLineIsShort(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier()
	before := f.quantity(t, "prod-aviator", "store-downtown")

	_, err := f.svc.CreateSale(ctx, domain.SaleRequest{
		StoreID: "store-downtown",
		Items: []domain.SaleItemRequest{
			{ProductID: "prod-polar", Quantity: 500},
			{ProductID: "prod-aviator", Quantity: 1},
		},
		Customer: &domain.CustomerInput{Name: "Asha", Phone: "9800000001"},
	})
	appErr := requireCode(t, err, apperr.CodeInsufficientStock)
	assert.Equal(t, "prod-polar", appErr.ProductID)
	assert.Contains(t, appErr.Message, "Polarized Sunglasses")

	assert.Equal(t, before, f.quantity(t, "prod-aviator", "store-downtown"))
	sales, err := f.svc.ListSales(ctx, domain.SaleFilter{})
	require.NoError(t, err)
	assert.Empty(t, sales)
	assert.Empty(t, f.recorder.Events())

	sale, err := f.svc.CreateSale(ctx, oneLine("prod-aviator", 1))
	require.NoError(t, err)
	assert.Equal(t, "DOWNVOYA0001", sale.InvoiceNumber)
}

func TestCreateSaleMergesDuplicateLines(t *testing.T) {
	f := newFixture(t)
	f.setQuantity(t, "prod-bluecut", "store-downtown", 4)
	ctx := asCashier()

	_, err := f.svc.CreateSale(ctx, domain.SaleRequest{
		StoreID: "store-downtown",
		Items: []domain.SaleItemRequest{
			{ProductID: "prod-bluecut", Quantity: 3},
			{ProductID: "prod-bluecut", Quantity: 2},
		},
	})
	requireCode(t, err, apperr.CodeInsufficientStock)
	assert.Equal(t, 4, f.quantity(t, "prod-bluecut", "store-downtown"))

	sale, err := f.svc.CreateSale(ctx, domain.SaleRequest{
		StoreID: "store-downtown",
		Items: []domain.SaleItemRequest{
			{ProductID: "prod-bluecut", Quantity: 2},
			{ProductID: "prod-bluecut", Quantity: 2},
		},
	})
	require.NoError(t, err)
	require.Len(t, sale.Items, 1)
	assert.Equal(t, 4, sale.Items[0].Quantity)
	assert.Equal(t, 0, f.quantity(t, "prod-bluecut", "store-downtown"))
}

func TestCreateSaleValidation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.SaveStore(context.Background(), domain.Store{ID: "store-closed", Name: "Closed", Active: false}))

	cases := []struct {
		name string
		ctx  context.Context
		req  domain.SaleRequest
		code string
	}{
		{"no items", asCashier(), domain.SaleRequest{StoreID: "store-downtown"}, apperr.CodeValidation},
		{"zero quantity", asCashier(), oneLine("prod-aviator", 0), apperr.CodeValidation},
		{"unknown product", asCashier(), oneLine("prod-missing", 1), apperr.CodeProductNotFound},
		{"unknown store", asAdmin(), domain.SaleRequest{StoreID: "store-nowhere", Items: []domain.SaleItemRequest{{ProductID: "prod-aviator", Quantity: 1}}}, apperr.CodeStoreNotFound},
		{"inactive store", asAdmin(), domain.SaleRequest{StoreID: "store-closed", Items: []domain.SaleItemRequest{{ProductID: "prod-aviator", Quantity: 1}}}, apperr.CodeValidation},
		{"discount above price", asCashier(), domain.SaleRequest{StoreID: "store-downtown", Items: []domain.SaleItemRequest{{ProductID: "prod-case", Quantity: 1, Discount: 50000}}}, apperr.CodeInvalidPricingInput},
		{"unknown payment method", asCashier(), domain.SaleRequest{StoreID: "store-downtown", PaymentMethod: "barter", Items: []domain.SaleItemRequest{{ProductID: "prod-case", Quantity: 1}}}, apperr.CodeValidation},
		{"cashier other store", asCashier(), domain.SaleRequest{StoreID: "store-delhi", Items: []domain.SaleItemRequest{{ProductID: "prod-case", Quantity: 1}}}, apperr.CodeForbidden},
		{"anonymous", context.Background(), oneLine("prod-case", 1), apperr.CodeForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateSale(tc.ctx, tc.req)
			requireCode(t, err, tc.code)
		})
	}
	assert.Empty(t, f.recorder.Events())
}

func TestCreateSaleReusesCustomerByPhone(t *testing.T) {
	f := newFixture(t)
	ctx := asCashier()

	req := oneLine("prod-case", 1)
	req.Customer = &domain.CustomerInput{Name: "Asha", Phone: " 9800000001 ", Email: "ASHA@EXAMPLE.COM"}
	first, err := f.svc.CreateSale(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, first.CustomerID)

	req.Customer = &domain.CustomerInput{Name: "Asha K", Phone: "9800000001"}
	second, err := f.svc.CreateSale(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.CustomerID, second.CustomerID)
}

func TestCreateSaleInvalidatesInventorySummary(t *testing.T) {
	f := newFixture(t)

	before, err := f.svc.InventorySummary(asManager())
	require.NoError(t, err)

	_, err = f.svc.CreateSale(asCashier(), oneLine("prod-case", 2))
	require.NoError(t, err)

	after, err := f.svc.InventorySummary(asManager())
	require.NoError(t, err)
	assert.Equal(t, before.TotalInventory-2, after.TotalInventory)
}

func TestSalesAreScopedToCashierStore(t *testing.T) {
	f := newFixture(t)

	delhi, err := f.svc.CreateSale(asAdmin(), domain.SaleRequest{
		StoreID: "store-delhi",
		Items:   []domain.SaleItemRequest{{ProductID: "prod-case", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, "DELHVOYA0001", delhi.InvoiceNumber)
	_, err = f.svc.CreateSale(asCashier(), oneLine("prod-case", 2))
	require.NoError(t, err)

	own, err := f.svc.ListSales(asCashier(), domain.SaleFilter{})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "store-downtown", own[0].StoreID)

	_, err = f.svc.ListSales(asCashier(), domain.SaleFilter{StoreID: "store-delhi"})
	requireCode(t, err, apperr.CodeForbidden)
	_, err = f.svc.GetSale(asCashier(), delhi.ID)
	requireCode(t, err, apperr.CodeForbidden)
	_, err = f.svc.GetSale(asAdmin(), "sale-missing")
	requireCode(t, err, apperr.CodeSaleNotFound)

	all, err := f.svc.ListSales(asManager(), domain.SaleFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	stats, err := f.svc.SalesStats(asManager(), domain.SaleFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalSales)
	assert.Equal(t, delhi.TotalAmount*3, stats.TotalRevenue)
	assert.Equal(t, (delhi.TotalAmount*3+1)/2, stats.AvgSaleAmount)

	cashierStats, err := f.svc.SalesStats(asCashier(), domain.SaleFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, cashierStats.TotalSales)
}

func TestSalesStatsRejectsInvertedRange(t *testing.T) {
	f := newFixture(t)
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)

	_, err := f.svc.SalesStats(asManager(), domain.SaleFilter{From: &from, To: &to})
	requireCode(t, err, apperr.CodeValidation)
}

func TestReconcileIncrementalIsIdempotent(t *testing.T) {
	f := newFixture(t)
	untouched := f.quantity(t, "prod-wayfarer", "store-downtown")
	f.fetcher.levels = []domain.InventoryLevel{
		{LocationID: "71000001", ItemID: "43000001", Available: 10},
		{LocationID: "71000002", ItemID: "43000002", Available: 0},
		{LocationID: "79999999", ItemID: "43000001", Available: 3},
		{LocationID: "71000001", ItemID: "49999999", Available: 1},
	}

	report, err := f.svc.Reconcile(asAdmin(), domain.ReconcileIncremental)
	require.NoError(t, err)
	assert.Equal(t, 4, report.SnapshotEntries)
	assert.Equal(t, 2, report.Updated)
	assert.Equal(t, 0, report.Created)
	assert.Equal(t, 2, report.WithSnapshotData)
	assert.Equal(t, 0, report.WithZeroQuantity)
	require.Len(t, report.Errors, 2)
	for _, e := range report.Errors {
		assert.Equal(t, apperr.CodeUnresolvedReference, e.Code)
	}
	assert.False(t, report.Cancelled)

	assert.Equal(t, 10, f.quantity(t, "prod-aviator", "store-downtown"))
	assert.Equal(t, 0, f.quantity(t, "prod-wayfarer", "store-delhi"))
	assert.Equal(t, untouched, f.quantity(t, "prod-wayfarer", "store-downtown"))

	first, err := f.repo.ListInventory(context.Background())
	require.NoError(t, err)
	_, err = f.svc.Reconcile(asAdmin(), domain.ReconcileIncremental)
	require.NoError(t, err)
	second, err := f.repo.ListInventory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, quantities(first), quantities(second))

	recorded := f.recorder.Events()
	require.Len(t, recorded, 2)
	assert.Equal(t, events.TypeInventoryReconciled, recorded[0].EventType())
}

func quantities(records []domain.InventoryRecord) map[string]int {
	out := make(map[string]int, len(records))
	for _, rec := range records {
		out[rec.ProductID+"@"+rec.StoreID] = rec.Quantity
	}
	return out
}

func TestReconcileRebuildWritesEveryMappedPair(t *testing.T) {
	f := newFixture(t)
	f.setQuantity(t, "prod-aviator", "store-warehouse", 9)
	f.fetcher.levels = []domain.InventoryLevel{
		{LocationID: "71000001", ItemID: "43000001", Available: 10},
		{LocationID: "71000003", ItemID: "43000004", Available: -2},
	}

	report, err := f.svc.Reconcile(asAdmin(), domain.ReconcileRebuild)
	require.NoError(t, err)
	assert.Equal(t, 19, report.Cleared)
	assert.Equal(t, 18, report.Created)
	assert.Equal(t, 2, report.WithSnapshotData)
	assert.Equal(t, 16, report.WithZeroQuantity)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "prod-polar", report.Errors[0].ProductID)
	assert.Equal(t, apperr.CodeNegativeQuantity, report.Errors[0].Code)
	require.Len(t, report.Verification, 3)

	records, err := f.repo.ListInventory(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 18)
	got := quantities(records)
	assert.Equal(t, 10, got["prod-aviator@store-downtown"])
	assert.Equal(t, 0, got["prod-polar@store-mgroad"])
	assert.Equal(t, 0, got["prod-cloth@store-delhi"])
	_, warehouse := got["prod-aviator@store-warehouse"]
	assert.False(t, warehouse)

	total := 0
	for _, sq := range report.Verification {
		assert.Equal(t, 6, sq.Records)
		total += sq.Quantity
	}
	assert.Equal(t, 10, total)
}

func TestReconcileRebuildCancelKeepsPreviousLedger(t *testing.T) {
	f := newFixture(t)
	before, err := f.repo.ListInventory(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(asAdmin())
	defer cancel()
	f.fetcher.levels = []domain.InventoryLevel{{LocationID: "71000001", ItemID: "43000001", Available: 10}}
	f.fetcher.onCall = cancel

	report, err := f.svc.Reconcile(ctx, domain.ReconcileRebuild)
	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	assert.Zero(t, report.Created)

	after, err := f.repo.ListInventory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, quantities(before), quantities(after))
}

func TestReconcileIncrementalStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(asAdmin())
	defer cancel()
	f.fetcher.levels = []domain.InventoryLevel{{LocationID: "71000001", ItemID: "43000001", Available: 10}}
	f.fetcher.onCall = cancel

	report, err := f.svc.Reconcile(ctx, domain.ReconcileIncremental)
	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	assert.Zero(t, report.Updated)
	assert.Equal(t, 4, f.quantity(t, "prod-aviator", "store-downtown"))
}

func TestReconcileFetchFailureLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	f.fetcher.err = errors.New("connection reset")
	before, err := f.repo.ListInventory(context.Background())
	require.NoError(t, err)

	for _, mode := range []domain.ReconcileMode{domain.ReconcileIncremental, domain.ReconcileRebuild} {
		_, err := f.svc.Reconcile(asAdmin(), mode)
		appErr := requireCode(t, err, apperr.CodeExternalFetchFailed)
		assert.Equal(t, 502, appErr.HTTPStatus())
	}

	after, err := f.repo.ListInventory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, quantities(before), quantities(after))
	assert.Empty(t, f.recorder.Events())
}

func TestReconcileRejectsConcurrentRun(t *testing.T) {
	f := newFixture(t)
	unlock, ok, err := f.locker.TryLock(context.Background(), reconcileLockName, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.Reconcile(asAdmin(), domain.ReconcileBackfill)
	appErr := requireCode(t, err, apperr.CodeReconcileInProgress)
	assert.Equal(t, 409, appErr.HTTPStatus())

	unlock()
	_, err = f.svc.Reconcile(asAdmin(), domain.ReconcileBackfill)
	require.NoError(t, err)
}

func TestReconcileBackfillKeepsExistingQuantities(t *testing.T) {
	f := newFixture(t)
	_, err := f.repo.ClearAll(context.Background())
	require.NoError(t, err)
	f.setQuantity(t, "prod-aviator", "store-downtown", 7)

	report, err := f.svc.Reconcile(asAdmin(), domain.ReconcileBackfill)
	require.NoError(t, err)
	assert.Equal(t, 17, report.Created)
	assert.Equal(t, 1, report.Existing)
	assert.Equal(t, 0, f.fetcher.calls)
	assert.Equal(t, 7, f.quantity(t, "prod-aviator", "store-downtown"))

	records, err := f.repo.ListInventory(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 18)
}

func TestReconcileRequiresAdminAndKnownMode(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Reconcile(asManager(), domain.ReconcileIncremental)
	requireCode(t, err, apperr.CodeForbidden)
	_, err = f.svc.Reconcile(asAdmin(), "resync")
	requireCode(t, err, apperr.CodeValidation)
}

func TestReconcileWithoutSnapshotSource(t *testing.T) {
	svc := New(memory.NewSeeded(), Options{})

	_, err := svc.Reconcile(asAdmin(), domain.ReconcileIncremental)
	requireCode(t, err, apperr.CodeExternalFetchFailed)
	_, err = svc.Reconcile(asAdmin(), domain.ReconcileBackfill)
	require.NoError(t, err)
}

func TestInventorySummaryLowStock(t *testing.T) {
	f := newFixture(t)
	for _, storeID := range []string{"store-downtown", "store-delhi", "store-mgroad"} {
		f.setQuantity(t, "prod-cloth", storeID, 0)
		f.setQuantity(t, "prod-case", storeID, 1)
	}

	summary, err := f.svc.InventorySummary(asManager())
	require.NoError(t, err)
	assert.Equal(t, 6, summary.TotalProducts)
	require.Len(t, summary.LowStock, 1)
	assert.Equal(t, domain.LowStockProduct{ProductID: "prod-case", SKU: "AC-CAS-001", Name: "Hard Shell Case", Quantity: 3}, summary.LowStock[0])

	byStoreTotal := 0
	for _, sq := range summary.ByStore {
		byStoreTotal += sq.Quantity
	}
	assert.Equal(t, summary.TotalInventory, byStoreTotal)

	_, err = f.svc.InventorySummary(asCashier())
	requireCode(t, err, apperr.CodeForbidden)
}

func TestGetQuantityScopesCashier(t *testing.T) {
	f := newFixture(t)

	rec, err := f.svc.GetQuantity(asCashier(), "prod-aviator", "")
	require.NoError(t, err)
	assert.Equal(t, "store-downtown", rec.StoreID)
	assert.Equal(t, 4, rec.Quantity)

	_, err = f.svc.GetQuantity(asCashier(), "prod-aviator", "store-delhi")
	requireCode(t, err, apperr.CodeForbidden)

	rec, err = f.svc.GetQuantity(asAdmin(), "prod-unknown", "store-delhi")
	require.NoError(t, err)
	assert.Zero(t, rec.Quantity)
}

// hookedRepo wraps the seeded store so tests can interleave work with a
// read that has already loaded its data, and fail chosen ledger writes.
type hookedRepo struct {
	*memory.Store
	afterListInventory func()
	afterSalesTotals   func()
	upsertErrs         map[string]error
}

func (r *hookedRepo) ListInventory(ctx context.Context) ([]domain.InventoryRecord, error) {
	records, err := r.Store.ListInventory(ctx)
	if hook := r.afterListInventory; hook != nil {
		r.afterListInventory = nil
		hook()
	}
	return records, err
}

func (r *hookedRepo) SalesTotals(ctx context.Context, filter domain.SaleFilter) (domain.SalesStats, error) {
	stats, err := r.Store.SalesTotals(ctx, filter)
	if hook := r.afterSalesTotals; hook != nil {
		r.afterSalesTotals = nil
		hook()
	}
	return stats, err
}

func (r *hookedRepo) Upsert(ctx context.Context, productID string, storeID string, qty int) (bool, error) {
	if err := r.upsertErrs[productID+"@"+storeID]; err != nil {
		return false, err
	}
	return r.Store.Upsert(ctx, productID, storeID, qty)
}

func newHookedService(repo *hookedRepo, fetcher SnapshotFetcher) *Service {
	return New(repo, Options{
		Cache:   cache.NewMemory(),
		Locker:  cache.NewMemoryLocker(),
		Fetcher: fetcher,
	})
}

func TestInventorySummaryDoesNotCacheReadOverlappingSale(t *testing.T) {
	repo := &hookedRepo{Store: memory.NewSeeded()}
	svc := newHookedService(repo, nil)

	repo.afterListInventory = func() {
		_, err := svc.CreateSale(asCashier(), oneLine("prod-case", 3))
		require.NoError(t, err)
	}
	stale, err := svc.InventorySummary(asManager())
	require.NoError(t, err)

	fresh, err := svc.InventorySummary(asManager())
	require.NoError(t, err)
	assert.Equal(t, stale.TotalInventory-3, fresh.TotalInventory)

	records, err := repo.Store.ListInventory(context.Background())
	require.NoError(t, err)
	ledger := 0
	for _, rec := range records {
		ledger += rec.Quantity
	}
	assert.Equal(t, ledger, fresh.TotalInventory)
}

func TestSalesStatsDoesNotCacheReadOverlappingSale(t *testing.T) {
	repo := &hookedRepo{Store: memory.NewSeeded()}
	svc := newHookedService(repo, nil)

	repo.afterSalesTotals = func() {
		_, err := svc.CreateSale(asCashier(), oneLine("prod-case", 1))
		require.NoError(t, err)
	}
	stale, err := svc.SalesStats(asManager(), domain.SaleFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, stale.TotalSales)

	fresh, err := svc.SalesStats(asManager(), domain.SaleFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.TotalSales)
}

func TestReconcileIncrementalTypesWriteFailures(t *testing.T) {
	repo := &hookedRepo{
		Store: memory.NewSeeded(),
		upsertErrs: map[string]error{
			"prod-aviator@store-downtown": fmt.Errorf("write: %w", store.ErrInvalidInput),
			"prod-wayfarer@store-delhi":   errors.New("disk full"),
		},
	}
	fetcher := &fakeFetcher{levels: []domain.InventoryLevel{
		{LocationID: "71000001", ItemID: "43000001", Available: 7},
		{LocationID: "71000002", ItemID: "43000002", Available: 7},
		{LocationID: "71000003", ItemID: "43000003", Available: 7},
	}}
	svc := newHookedService(repo, fetcher)

	report, err := svc.Reconcile(asAdmin(), domain.ReconcileIncremental)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)

	codes := make(map[string]string, len(report.Errors))
	for _, e := range report.Errors {
		codes[e.ProductID+"@"+e.StoreID] = e.Code
	}
	assert.Equal(t, map[string]string{
		"prod-aviator@store-downtown": apperr.CodeValidation,
		"prod-wayfarer@store-delhi":   apperr.CodeInternal,
	}, codes)
}
