package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"voyapos/backend/internal/apperr"
	"voyapos/backend/internal/cache"
	"voyapos/backend/internal/domain"
	"voyapos/backend/internal/events"
	"voyapos/backend/internal/invoice"
	"voyapos/backend/internal/pricing"
	"voyapos/backend/internal/store"
	"voyapos/backend/internal/xid"
)

const (
	defaultSaleListLimit = 50
	maxSaleListLimit     = 100
)

// saleRun follows one sale through its states. Aborted is terminal and can
// be entered from any state except Committed.
type saleRun struct {
	state   domain.SaleState
	storeID string
	logger  *zap.Logger
}

var saleTransitions = map[domain.SaleState]domain.SaleState{
	domain.SaleValidating:    domain.SaleStockReserved,
	domain.SaleStockReserved: domain.SalePriced,
	domain.SalePriced:        domain.SaleCommitted,
}

func (s *Service) startSale(storeID string, cashier string) *saleRun {
	return &saleRun{
		state:   domain.SaleValidating,
		storeID: storeID,
		logger:  s.logger.With(zap.String("store_id", storeID), zap.String("cashier", cashier)),
	}
}

// begin resets the run when the store retries the unit of work.
func (r *saleRun) begin() {
	if r.state != domain.SaleValidating {
		r.logger.Debug("sale transaction retried", zap.String("from", string(r.state)))
		r.state = domain.SaleValidating
	}
}

func (r *saleRun) advance(to domain.SaleState) {
	if saleTransitions[r.state] != to {
		r.logger.Error("illegal sale state transition", zap.String("from", string(r.state)), zap.String("to", string(to)))
		return
	}
	r.state = to
}

func (r *saleRun) abort(err error) {
	if r.state == domain.SaleCommitted || r.state == domain.SaleAborted {
		return
	}
	from := r.state
	r.state = domain.SaleAborted
	r.logger.Info("sale aborted", zap.String("from", string(from)), zap.Error(err))
}

// pricedLine is one merged request line resolved against the catalog.
type pricedLine struct {
	product domain.Product
	line    pricing.Line
}

// CreateSale validates a sale request and commits it in one unit of work:
// stock decrements, invoice number, customer record and the sale itself.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleRequest) (domain.Sale, error) {
	actor, err := requireActor(ctx, domain.RoleCashier, domain.RoleManager, domain.RoleAdmin)
	if err != nil {
		return domain.Sale{}, err
	}
	storeID, err := scopeStore(actor, req.StoreID)
	if err != nil {
		return domain.Sale{}, err
	}

	run := s.startSale(storeID, actor.Username)
	sale, remaining, err := s.createSale(ctx, run, actor, storeID, req)
	if err != nil {
		run.abort(err)
		return domain.Sale{}, err
	}
	run.advance(domain.SaleCommitted)
	run.logger.Info("sale committed",
		zap.String("invoice", sale.InvoiceNumber),
		zap.Int64("total_amount", sale.TotalAmount),
		zap.Int("lines", len(sale.Items)),
	)

	s.invalidate(ctx, cache.PrefixInventory, cache.PrefixSales)
	s.publish(ctx, saleCommittedEvent(sale, remaining))
	return sale, nil
}

func (s *Service) createSale(ctx context.Context, run *saleRun, actor domain.Actor, storeID string, req domain.SaleRequest) (domain.Sale, map[string]int, error) {
	if storeID == "" {
		return domain.Sale{}, nil, apperr.Validation("storeId is required", "storeId")
	}
	method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(string(req.PaymentMethod))))
	if method == "" {
		method = domain.PaymentCash
	}
	if !method.Valid() {
		return domain.Sale{}, nil, apperr.Validation("unsupported payment method", "paymentMethod")
	}
	items, err := normalizeItems(req.Items)
	if err != nil {
		return domain.Sale{}, nil, err
	}
	var customer *domain.CustomerInput
	if req.Customer != nil {
		in := req.Customer.Normalize()
		if in.Phone != "" {
			customer = &in
		}
	}

	st, err := s.repo.GetStore(ctx, storeID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Sale{}, nil, apperr.StoreNotFound(storeID)
	}
	if err != nil {
		return domain.Sale{}, nil, mapError(err, "failed to load store")
	}
	if !st.Active {
		return domain.Sale{}, nil, apperr.Validation("store is not active", "storeId")
	}

	lines, err := s.priceItems(ctx, items)
	if err != nil {
		return domain.Sale{}, nil, err
	}

	var (
		sale      domain.Sale
		remaining map[string]int
	)
	err = s.repo.RunSaleTx(ctx, func(tx store.SaleTx) error {
		run.begin()
		remaining = make(map[string]int, len(lines))
		for _, pl := range lines {
			if err := ctx.Err(); err != nil {
				return err
			}
			left, ok, err := tx.TryDecrement(ctx, pl.product.ID, st.ID, pl.line.Quantity)
			if err != nil {
				return fmt.Errorf("decrement %s: %w", pl.product.ID, err)
			}
			if !ok {
				return apperr.InsufficientStock(pl.product.ID, pl.product.Name, pl.line.Quantity)
			}
			remaining[pl.product.ID] = left
		}
		run.advance(domain.SaleStockReserved)

		seq, err := tx.NextInvoiceSequence(ctx, st.ID)
		if err != nil {
			return fmt.Errorf("reserve invoice sequence: %w", err)
		}
		number, err := invoice.Number(st.Name, seq)
		if err != nil {
			return apperr.SequenceExhausted(st.ID, err)
		}
		sale = buildSale(st.ID, actor.Username, number, method, strings.TrimSpace(req.Notes), lines, s.now())
		run.advance(domain.SalePriced)

		if customer != nil {
			c, err := tx.UpsertCustomer(ctx, *customer, sale.SaleDate)
			if err != nil {
				return fmt.Errorf("upsert customer: %w", err)
			}
			if err := tx.AddCustomerPurchase(ctx, c.ID, sale.TotalAmount, sale.SaleDate); err != nil {
				return fmt.Errorf("update customer stats: %w", err)
			}
			sale.CustomerID = c.ID
		}

		if err := tx.InsertSale(ctx, sale); err != nil {
			if errors.Is(err, store.ErrDuplicateInvoice) {
				return apperr.DuplicateInvoice(sale.InvoiceNumber, err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Sale{}, nil, apperr.StoreNotFound(storeID)
		}
		return domain.Sale{}, nil, mapError(err, "failed to commit sale")
	}
	return sale, remaining, nil
}

// normalizeItems merges duplicate product lines and orders them by product
// id, which is also the lock order for stock decrements.
func normalizeItems(items []domain.SaleItemRequest) ([]domain.SaleItemRequest, error) {
	if len(items) == 0 {
		return nil, apperr.Validation("at least one item is required", "items")
	}
	merged := make(map[string]domain.SaleItemRequest, len(items))
	for _, item := range items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		if item.ProductID == "" {
			return nil, apperr.Validation("productId is required", "items.productId")
		}
		if item.Quantity < 1 {
			return nil, apperr.Validation("quantity must be at least 1", "items.quantity")
		}
		prev, ok := merged[item.ProductID]
		if !ok {
			merged[item.ProductID] = item
			continue
		}
		if prev.Discount != item.Discount {
			return nil, apperr.Validation("duplicate lines for a product must carry the same discount", "items.discount")
		}
		prev.Quantity += item.Quantity
		merged[item.ProductID] = prev
	}

	out := make([]domain.SaleItemRequest, 0, len(merged))
	for _, item := range merged {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (s *Service) priceItems(ctx context.Context, items []domain.SaleItemRequest) ([]pricedLine, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.GetProducts(ctx, ids)
	if err != nil {
		return nil, mapError(err, "failed to load products")
	}

	lines := make([]pricedLine, 0, len(items))
	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok || !product.Active {
			return nil, apperr.ProductNotFound(item.ProductID)
		}
		line, err := pricing.Calculate(pricing.Input{
			UnitPrice:      product.Price,
			Discount:       item.Discount,
			TaxRatePercent: product.TaxRate,
			Quantity:       item.Quantity,
		})
		if err != nil {
			return nil, apperr.InvalidPricingInput(product.ID, err)
		}
		lines = append(lines, pricedLine{product: product, line: line})
	}
	return lines, nil
}

func buildSale(storeID string, cashier string, number string, method domain.PaymentMethod, notes string, lines []pricedLine, at time.Time) domain.Sale {
	priced := make([]pricing.Line, 0, len(lines))
	items := make([]domain.SaleItem, 0, len(lines))
	for _, pl := range lines {
		priced = append(priced, pl.line)
		items = append(items, domain.SaleItem{
			ProductID:       pl.product.ID,
			Name:            pl.product.Name,
			SKU:             pl.product.SKU,
			Quantity:        pl.line.Quantity,
			UnitPrice:       pl.line.UnitPrice,
			Discount:        pl.line.Discount,
			DiscountedPrice: pl.line.DiscountedPrice,
			TaxRate:         pl.line.TaxRatePercent,
			TaxAmount:       pl.line.TaxAmount,
			TotalAmount:     pl.line.Total,
		})
	}
	totals := pricing.Sum(priced)

	return domain.Sale{
		ID:            xid.New("sale"),
		InvoiceNumber: number,
		StoreID:       storeID,
		CashierID:     cashier,
		Items:         items,
		Subtotal:      totals.Subtotal,
		TotalDiscount: totals.TotalDiscount,
		TotalTax:      totals.TotalTax,
		TotalAmount:   totals.TotalAmount,
		PaymentMethod: method,
		Notes:         notes,
		SaleDate:      at,
	}
}

func saleCommittedEvent(sale domain.Sale, remaining map[string]int) events.SaleCommitted {
	items := make([]events.SoldItem, 0, len(sale.Items))
	for _, item := range sale.Items {
		items = append(items, events.SoldItem{
			ProductID:    item.ProductID,
			Quantity:     item.Quantity,
			RemainingQty: remaining[item.ProductID],
		})
	}
	return events.SaleCommitted{
		SaleID:        sale.ID,
		InvoiceNumber: sale.InvoiceNumber,
		StoreID:       sale.StoreID,
		CashierID:     sale.CashierID,
		CustomerID:    sale.CustomerID,
		TotalAmount:   sale.TotalAmount,
		Items:         items,
		OccurredAt:    sale.SaleDate,
	}
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.Sale{}, apperr.Validation("sale id is required", "id")
	}

	sale, err := s.repo.GetSale(ctx, saleID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Sale{}, apperr.SaleNotFound(saleID)
	}
	if err != nil {
		return domain.Sale{}, mapError(err, "failed to load sale")
	}
	if actor.Role == domain.RoleCashier && sale.StoreID != actor.StoreID {
		return domain.Sale{}, apperr.Forbidden("cashier may only access the assigned store")
	}
	return *sale, nil
}

// ListSales returns the newest sales first, at most maxSaleListLimit.
func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	filter, err := s.scopeFilter(ctx, filter)
	if err != nil {
		return nil, err
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultSaleListLimit
	case filter.Limit > maxSaleListLimit:
		filter.Limit = maxSaleListLimit
	}

	sales, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return nil, mapError(err, "failed to list sales")
	}
	if sales == nil {
		sales = []domain.Sale{}
	}
	return sales, nil
}

func (s *Service) SalesStats(ctx context.Context, filter domain.SaleFilter) (domain.SalesStats, error) {
	filter, err := s.scopeFilter(ctx, filter)
	if err != nil {
		return domain.SalesStats{}, err
	}

	key := salesStatsKey(filter)
	var stats domain.SalesStats
	if s.cached(ctx, key, &stats) {
		return stats, nil
	}
	gen := s.cacheGeneration()

	stats, err = s.repo.SalesTotals(ctx, filter)
	if err != nil {
		return domain.SalesStats{}, mapError(err, "failed to aggregate sales")
	}
	stats.AvgSaleAmount = pricing.Average(stats.TotalRevenue, stats.TotalSales)
	s.remember(ctx, key, stats, gen)
	return stats, nil
}

func (s *Service) scopeFilter(ctx context.Context, filter domain.SaleFilter) (domain.SaleFilter, error) {
	actor, err := requireActor(ctx, domain.RoleCashier, domain.RoleManager, domain.RoleAdmin)
	if err != nil {
		return domain.SaleFilter{}, err
	}
	filter.StoreID, err = scopeStore(actor, filter.StoreID)
	if err != nil {
		return domain.SaleFilter{}, err
	}
	filter.CashierID = strings.TrimSpace(filter.CashierID)
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return domain.SaleFilter{}, apperr.Validation("startDate must be before endDate", "startDate")
	}
	return filter, nil
}

func salesStatsKey(filter domain.SaleFilter) string {
	bound := func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%sstats:%s:%s:%s:%s", cache.PrefixSales,
		defaultString(filter.StoreID, "*"),
		defaultString(filter.CashierID, "*"),
		bound(filter.From),
		bound(filter.To),
	)
}
