package reconcile

import (
	"sort"

	"voyapos/backend/internal/apperr"
	"voyapos/backend/internal/domain"
)

const (
	errUnknownLocation = "location is not mapped to an active store"
	errUnknownItem     = "inventory item is not mapped to an active product"
	errNegativeClamped = "negative available quantity clamped to 0"
)

type Pair struct {
	ProductID string
	StoreID   string
}

// Write is one absolute ledger quantity to apply.
type Write struct {
	Pair
	Quantity     int
	FromSnapshot bool
}

// Plan is the deterministic outcome of matching a snapshot against the
// catalog. Writes are ordered by store then product.
type Plan struct {
	Writes           []Write
	Errors           []domain.ReconcileError
	SnapshotEntries  int
	WithSnapshotData int
	WithZeroQuantity int
}

// Index resolves external identifiers to active catalog records.
type Index struct {
	products        []domain.Product
	stores          []domain.Store
	storeByLocation map[string]domain.Store
	productByItem   map[string]domain.Product
}

// NewIndex keeps active records only. When two products share an inventory
// item id the lowest product id wins.
func NewIndex(products []domain.Product, stores []domain.Store) *Index {
	idx := &Index{
		storeByLocation: make(map[string]domain.Store, len(stores)),
		productByItem:   make(map[string]domain.Product, len(products)),
	}
	for _, p := range products {
		if !p.Active {
			continue
		}
		idx.products = append(idx.products, p)
		if p.InventoryItemID == "" {
			continue
		}
		if prev, ok := idx.productByItem[p.InventoryItemID]; ok && prev.ID < p.ID {
			continue
		}
		idx.productByItem[p.InventoryItemID] = p
	}
	for _, st := range stores {
		if !st.Active {
			continue
		}
		idx.stores = append(idx.stores, st)
		if st.ShopifyLocationID != "" {
			idx.storeByLocation[st.ShopifyLocationID] = st
		}
	}
	sort.Slice(idx.products, func(i, j int) bool { return idx.products[i].ID < idx.products[j].ID })
	sort.Slice(idx.stores, func(i, j int) bool { return idx.stores[i].ID < idx.stores[j].ID })
	return idx
}

func (idx *Index) TotalProducts() int { return len(idx.products) }

// TotalStores counts active stores that carry a location mapping.
func (idx *Index) TotalStores() int { return len(idx.storeByLocation) }

// ItemIDs lists the distinct inventory item ids to request from the snapshot
// source, sorted.
func (idx *Index) ItemIDs() []string {
	ids := make([]string, 0, len(idx.productByItem))
	for id := range idx.productByItem {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MappedPairs is every active product crossed with every active store that
// has a location mapping, ordered by store then product.
func (idx *Index) MappedPairs() []Pair {
	pairs := make([]Pair, 0, len(idx.products)*len(idx.storeByLocation))
	for _, st := range idx.stores {
		if st.ShopifyLocationID == "" {
			continue
		}
		for _, p := range idx.products {
			pairs = append(pairs, Pair{ProductID: p.ID, StoreID: st.ID})
		}
	}
	return pairs
}

// resolve maps snapshot tuples to ledger pairs. Later duplicates of a pair
// replace earlier ones.
func (idx *Index) resolve(levels []domain.InventoryLevel) (map[Pair]int, []domain.ReconcileError) {
	resolved := make(map[Pair]int, len(levels))
	errs := make([]domain.ReconcileError, 0)
	for _, lvl := range levels {
		st, storeOK := idx.storeByLocation[lvl.LocationID]
		p, productOK := idx.productByItem[lvl.ItemID]
		switch {
		case !storeOK:
			errs = append(errs, domain.ReconcileError{
				Code: apperr.CodeUnresolvedReference, ProductID: p.ID, LocationID: lvl.LocationID, ItemID: lvl.ItemID, Error: errUnknownLocation,
			})
			continue
		case !productOK:
			errs = append(errs, domain.ReconcileError{
				Code: apperr.CodeUnresolvedReference, StoreID: st.ID, LocationID: lvl.LocationID, ItemID: lvl.ItemID, Error: errUnknownItem,
			})
			continue
		}

		qty := lvl.Available
		if qty < 0 {
			errs = append(errs, domain.ReconcileError{
				Code: apperr.CodeNegativeQuantity, ProductID: p.ID, StoreID: st.ID, LocationID: lvl.LocationID, ItemID: lvl.ItemID, Error: errNegativeClamped,
			})
			qty = 0
		}
		resolved[Pair{ProductID: p.ID, StoreID: st.ID}] = qty
	}
	return resolved, errs
}

// PlanIncremental writes only pairs present in the snapshot.
func PlanIncremental(idx *Index, levels []domain.InventoryLevel) Plan {
	resolved, errs := idx.resolve(levels)
	plan := Plan{Errors: errs, SnapshotEntries: len(levels), Writes: make([]Write, 0, len(resolved))}
	for pair, qty := range resolved {
		plan.Writes = append(plan.Writes, Write{Pair: pair, Quantity: qty, FromSnapshot: true})
	}
	sortWrites(plan.Writes)
	plan.count()
	return plan
}

// PlanRebuild writes every mapped pair, defaulting to 0 where the snapshot
// has no data. WithSnapshotData and WithZeroQuantity split the writes into
// matched and defaulted pairs.
func PlanRebuild(idx *Index, levels []domain.InventoryLevel) Plan {
	resolved, errs := idx.resolve(levels)
	pairs := idx.MappedPairs()
	plan := Plan{Errors: errs, SnapshotEntries: len(levels), Writes: make([]Write, 0, len(pairs))}
	for _, pair := range pairs {
		qty, ok := resolved[pair]
		plan.Writes = append(plan.Writes, Write{Pair: pair, Quantity: qty, FromSnapshot: ok})
	}
	plan.count()
	return plan
}

func (p *Plan) count() {
	for _, w := range p.Writes {
		if w.FromSnapshot {
			p.WithSnapshotData++
		} else {
			p.WithZeroQuantity++
		}
	}
}

func sortWrites(writes []Write) {
	sort.Slice(writes, func(i, j int) bool {
		if writes[i].StoreID != writes[j].StoreID {
			return writes[i].StoreID < writes[j].StoreID
		}
		return writes[i].ProductID < writes[j].ProductID
	})
}

// Verify sums the ledger per mapped store, for the post-rebuild report.
func Verify(idx *Index, records []domain.InventoryRecord) []domain.StoreQuantity {
	byStore := make(map[string]*domain.StoreQuantity, len(idx.storeByLocation))
	out := make([]domain.StoreQuantity, 0, len(idx.storeByLocation))
	for _, st := range idx.stores {
		if st.ShopifyLocationID == "" {
			continue
		}
		out = append(out, domain.StoreQuantity{StoreID: st.ID, StoreName: st.Name})
	}
	for i := range out {
		byStore[out[i].StoreID] = &out[i]
	}
	for _, rec := range records {
		if sq, ok := byStore[rec.StoreID]; ok {
			sq.Records++
			sq.Quantity += rec.Quantity
		}
	}
	return out
}
