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
	"voyapos/backend/internal/reconcile"
	"voyapos/backend/internal/store"
)

const (
	reconcileLockName     = "inventory-reconcile"
	reconcileLockTTL      = 30 * time.Minute
	rebuildProgressEvery  = 1000
	inventorySummaryKey   = cache.PrefixInventory + "summary"
	errSnapshotNotEnabled = "external inventory snapshot source is not configured"
)

// Reconcile aligns the ledger with the external snapshot. Only one run may
// be active at a time. A cancelled run returns its partial report with
// Cancelled set and a nil error.
func (s *Service) Reconcile(ctx context.Context, mode domain.ReconcileMode) (domain.ReconcileReport, error) {
	if _, err := requireActor(ctx, domain.RoleAdmin); err != nil {
		return domain.ReconcileReport{}, err
	}
	mode = domain.ReconcileMode(strings.ToLower(strings.TrimSpace(string(mode))))
	if mode == "" {
		mode = domain.ReconcileIncremental
	}
	if !mode.Valid() {
		return domain.ReconcileReport{}, apperr.Validation("mode must be incremental, rebuild or backfill", "mode")
	}

	unlock, ok, err := s.locker.TryLock(ctx, reconcileLockName, reconcileLockTTL)
	if err != nil {
		return domain.ReconcileReport{}, apperr.Internal("failed to acquire reconciliation lock", err)
	}
	if !ok {
		return domain.ReconcileReport{}, apperr.ReconcileInProgress()
	}
	defer unlock()

	log := s.logger.With(zap.String("mode", string(mode)))
	report := domain.ReconcileReport{
		Mode:      mode,
		Errors:    []domain.ReconcileError{},
		StartedAt: s.now(),
	}

	idx, err := s.loadIndex(ctx)
	if err != nil {
		return domain.ReconcileReport{}, err
	}
	report.TotalProducts = idx.TotalProducts()
	report.TotalStores = idx.TotalStores()
	log.Info("reconciliation started",
		zap.Int("products", report.TotalProducts),
		zap.Int("stores", report.TotalStores),
	)

	switch mode {
	case domain.ReconcileIncremental:
		err = s.reconcileIncremental(ctx, idx, &report)
	case domain.ReconcileRebuild:
		err = s.reconcileRebuild(ctx, idx, &report, log)
	case domain.ReconcileBackfill:
		err = s.reconcileBackfill(ctx, idx, &report)
	}
	if err != nil {
		log.Error("reconciliation failed", zap.Error(err))
		return domain.ReconcileReport{}, err
	}
	report.FinishedAt = s.now()

	if report.Created+report.Updated+report.Cleared > 0 {
		s.invalidate(ctx, cache.PrefixInventory)
	}
	log.Info("reconciliation finished",
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("existing", report.Existing),
		zap.Int("cleared", report.Cleared),
		zap.Int("errors", len(report.Errors)),
		zap.Bool("cancelled", report.Cancelled),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	s.publish(ctx, events.InventoryReconciled{
		Mode:       string(report.Mode),
		Cleared:    report.Cleared,
		Created:    report.Created,
		Updated:    report.Updated,
		Errors:     len(report.Errors),
		Cancelled:  report.Cancelled,
		OccurredAt: report.FinishedAt,
	})
	return report, nil
}

func (s *Service) loadIndex(ctx context.Context) (*reconcile.Index, error) {
	products, err := s.repo.ListActiveProducts(ctx)
	if err != nil {
		return nil, mapError(err, "failed to load products")
	}
	stores, err := s.repo.ListActiveStores(ctx)
	if err != nil {
		return nil, mapError(err, "failed to load stores")
	}
	return reconcile.NewIndex(products, stores), nil
}

// fetchSnapshot returns cancelled=true when ctx ended during the fetch.
func (s *Service) fetchSnapshot(ctx context.Context, idx *reconcile.Index) (levels []domain.InventoryLevel, cancelled bool, err error) {
	itemIDs := idx.ItemIDs()
	if len(itemIDs) == 0 {
		return nil, false, nil
	}
	if s.fetcher == nil {
		return nil, false, apperr.ExternalFetchFailed(errors.New(errSnapshotNotEnabled))
	}
	levels, err = s.fetcher.FetchInventorySnapshot(ctx, itemIDs)
	if err != nil {
		if ctx.Err() != nil {
			return nil, true, nil
		}
		return nil, false, apperr.ExternalFetchFailed(err)
	}
	return levels, false, nil
}

func applyPlanCounts(report *domain.ReconcileReport, plan reconcile.Plan) {
	report.SnapshotEntries = plan.SnapshotEntries
	report.WithSnapshotData = plan.WithSnapshotData
	report.WithZeroQuantity = plan.WithZeroQuantity
	report.Errors = append(report.Errors, plan.Errors...)
}

// reconcileIncremental upserts only pairs present in the snapshot. A
// cancelled run keeps the writes already applied.
func (s *Service) reconcileIncremental(ctx context.Context, idx *reconcile.Index, report *domain.ReconcileReport) error {
	levels, cancelled, err := s.fetchSnapshot(ctx, idx)
	if err != nil {
		return err
	}
	if cancelled {
		report.Cancelled = true
		return nil
	}

	plan := reconcile.PlanIncremental(idx, levels)
	applyPlanCounts(report, plan)
	for _, w := range plan.Writes {
		if ctx.Err() != nil {
			report.Cancelled = true
			return nil
		}
		created, err := s.repo.Upsert(ctx, w.ProductID, w.StoreID, w.Quantity)
		if err != nil {
			if isCancellation(err) {
				report.Cancelled = true
				return nil
			}
			report.Errors = append(report.Errors, writeFailure(w.ProductID, w.StoreID, err))
			continue
		}
		if created {
			report.Created++
		} else {
			report.Updated++
		}
	}
	return nil
}

// writeFailure records a failed ledger write under the code of its typed
// error.
func writeFailure(productID string, storeID string, err error) domain.ReconcileError {
	code := apperr.CodeInternal
	if appErr, ok := apperr.As(mapError(err, "failed to write ledger record")); ok {
		code = appErr.Code
	}
	return domain.ReconcileError{
		Code:      code,
		ProductID: productID,
		StoreID:   storeID,
		Error:     err.Error(),
	}
}

// reconcileRebuild replaces the whole ledger in one exclusive unit of work.
// Cancellation or failure leaves the previous ledger in place.
func (s *Service) reconcileRebuild(ctx context.Context, idx *reconcile.Index, report *domain.ReconcileReport, log *zap.Logger) error {
	levels, cancelled, err := s.fetchSnapshot(ctx, idx)
	if err != nil {
		return err
	}
	if cancelled {
		report.Cancelled = true
		return nil
	}

	plan := reconcile.PlanRebuild(idx, levels)
	applyPlanCounts(report, plan)

	var cleared, created, updated int
	err = s.repo.RebuildLedger(ctx, func(tx store.RebuildTx) error {
		cleared, created, updated = 0, 0, 0
		removed, err := tx.ClearAll(ctx)
		if err != nil {
			return fmt.Errorf("clear ledger: %w", err)
		}
		cleared = removed
		for i, w := range plan.Writes {
			if err := ctx.Err(); err != nil {
				return err
			}
			isNew, err := tx.Upsert(ctx, w.ProductID, w.StoreID, w.Quantity)
			if err != nil {
				return fmt.Errorf("write %s@%s: %w", w.ProductID, w.StoreID, err)
			}
			if isNew {
				created++
			} else {
				updated++
			}
			if (i+1)%rebuildProgressEvery == 0 {
				log.Info("rebuild progress", zap.Int("written", i+1), zap.Int("total", len(plan.Writes)))
			}
		}
		return nil
	})
	if err != nil {
		if isCancellation(err) {
			report.Cancelled = true
			return nil
		}
		return mapError(err, "failed to rebuild inventory ledger")
	}
	report.Cleared = cleared
	report.Created = created
	report.Updated = updated

	records, err := s.repo.ListInventory(ctx)
	if err != nil {
		log.Warn("rebuild verification skipped", zap.Error(err))
		return nil
	}
	report.Verification = reconcile.Verify(idx, records)
	for _, sq := range report.Verification {
		log.Info("rebuild verification",
			zap.String("store_id", sq.StoreID),
			zap.String("store", sq.StoreName),
			zap.Int("records", sq.Records),
			zap.Int("quantity", sq.Quantity),
		)
	}
	return nil
}

// reconcileBackfill creates zero records for mapped pairs that have none.
// Existing quantities are never touched and no snapshot is fetched.
func (s *Service) reconcileBackfill(ctx context.Context, idx *reconcile.Index, report *domain.ReconcileReport) error {
	for _, pair := range idx.MappedPairs() {
		if ctx.Err() != nil {
			report.Cancelled = true
			return nil
		}
		created, err := s.repo.EnsureRecord(ctx, pair.ProductID, pair.StoreID)
		if err != nil {
			if isCancellation(err) {
				report.Cancelled = true
				return nil
			}
			report.Errors = append(report.Errors, writeFailure(pair.ProductID, pair.StoreID, err))
			continue
		}
		if created {
			report.Created++
			report.WithZeroQuantity++
		} else {
			report.Existing++
		}
	}
	return nil
}

// InventorySummary totals active products' stock overall and per active
// store. Low stock lists products with 0 < total < threshold.
func (s *Service) InventorySummary(ctx context.Context) (domain.InventorySummary, error) {
	if _, err := requireActor(ctx, domain.RoleManager, domain.RoleAdmin); err != nil {
		return domain.InventorySummary{}, err
	}

	var summary domain.InventorySummary
	if s.cached(ctx, inventorySummaryKey, &summary) {
		return summary, nil
	}
	gen := s.cacheGeneration()

	products, err := s.repo.ListActiveProducts(ctx)
	if err != nil {
		return domain.InventorySummary{}, mapError(err, "failed to load products")
	}
	stores, err := s.repo.ListActiveStores(ctx)
	if err != nil {
		return domain.InventorySummary{}, mapError(err, "failed to load stores")
	}
	records, err := s.repo.ListInventory(ctx)
	if err != nil {
		return domain.InventorySummary{}, mapError(err, "failed to load inventory")
	}

	summary = buildSummary(products, stores, records, s.lowStockThreshold)
	s.remember(ctx, inventorySummaryKey, summary, gen)
	return summary, nil
}

func buildSummary(products []domain.Product, stores []domain.Store, records []domain.InventoryRecord, threshold int) domain.InventorySummary {
	byProduct := make(map[string]int, len(products))
	for _, p := range products {
		byProduct[p.ID] = 0
	}
	byStore := make(map[string]*domain.StoreQuantity, len(stores))
	summary := domain.InventorySummary{
		TotalProducts: len(products),
		ByStore:       make([]domain.StoreQuantity, len(stores)),
		LowStock:      []domain.LowStockProduct{},
	}
	for i, st := range stores {
		summary.ByStore[i] = domain.StoreQuantity{StoreID: st.ID, StoreName: st.Name}
		byStore[st.ID] = &summary.ByStore[i]
	}

	for _, rec := range records {
		if _, ok := byProduct[rec.ProductID]; !ok {
			continue
		}
		sq, ok := byStore[rec.StoreID]
		if !ok {
			continue
		}
		byProduct[rec.ProductID] += rec.Quantity
		sq.Records++
		sq.Quantity += rec.Quantity
		summary.TotalInventory += rec.Quantity
	}

	for _, p := range products {
		total := byProduct[p.ID]
		if total > 0 && total < threshold {
			summary.LowStock = append(summary.LowStock, domain.LowStockProduct{
				ProductID: p.ID,
				SKU:       p.SKU,
				Name:      p.Name,
				Quantity:  total,
			})
		}
	}
	sort.Slice(summary.LowStock, func(i, j int) bool {
		if summary.LowStock[i].Quantity != summary.LowStock[j].Quantity {
			return summary.LowStock[i].Quantity < summary.LowStock[j].Quantity
		}
		return summary.LowStock[i].ProductID < summary.LowStock[j].ProductID
	})
	return summary
}

// GetQuantity reads one ledger entry; an absent record reads as 0.
func (s *Service) GetQuantity(ctx context.Context, productID string, storeID string) (domain.InventoryRecord, error) {
	actor, err := requireActor(ctx, domain.RoleCashier, domain.RoleManager, domain.RoleAdmin)
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	storeID, err = scopeStore(actor, storeID)
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.InventoryRecord{}, apperr.Validation("productId is required", "productId")
	}
	if storeID == "" {
		return domain.InventoryRecord{}, apperr.Validation("storeId is required", "storeId")
	}

	qty, err := s.repo.GetQuantity(ctx, productID, storeID)
	if err != nil {
		return domain.InventoryRecord{}, mapError(err, "failed to read inventory")
	}
	return domain.InventoryRecord{ProductID: productID, StoreID: storeID, Quantity: qty}, nil
}
