package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"voyapos/backend/internal/domain"
	"voyapos/backend/internal/store"
	"voyapos/backend/internal/xid"
)

type ledgerKey struct {
	productID string
	storeID   string
}

// Store keeps everything in maps behind one RWMutex. Units of work hold the
// write lock for their whole duration and undo their changes on failure.
type Store struct {
	mu                sync.RWMutex
	products          map[string]domain.Product
	stores            map[string]domain.Store
	inventory         map[ledgerKey]domain.InventoryRecord
	sales             map[string]domain.Sale
	invoiceNumbers    map[string]string
	sequences         map[string]int
	customersByID     map[string]domain.Customer
	customerIDByPhone map[string]string
	usersByUsername   map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:          make(map[string]domain.Product),
		stores:            make(map[string]domain.Store),
		inventory:         make(map[ledgerKey]domain.InventoryRecord),
		sales:             make(map[string]domain.Sale),
		invoiceNumbers:    make(map[string]string),
		sequences:         make(map[string]int),
		customersByID:     make(map[string]domain.Customer),
		customerIDByPhone: make(map[string]string),
		usersByUsername:   make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and
// SEED_CASHIER_PASSWORD. If unset, dev defaults are used with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
		storeID  string
	}{
		{"admin", adminPwd, domain.RoleAdmin, ""},
		{"manager", managerPwd, domain.RoleManager, ""},
		{"cashier", cashierPwd, domain.RoleCashier, "store-downtown"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			StoreID:   u.storeID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with demo stores, products, stock and users.
func NewSeeded() *Store {
	s := New()

	stores := []domain.Store{
		{ID: "store-downtown", Name: "Downtown", Location: "Connaught Place", ShopifyLocationID: "71000001", Active: true},
		{ID: "store-delhi", Name: "Delhi Saket", Location: "Saket", ShopifyLocationID: "71000002", Active: true},
		{ID: "store-mgroad", Name: "MG Road", Location: "Bengaluru", ShopifyLocationID: "71000003", Active: true},
		{ID: "store-warehouse", Name: "Warehouse", Location: "Gurugram", Active: true},
	}
	products := []domain.Product{
		{ID: "prod-aviator", SKU: "FR-AVI-001", Name: "Aviator Metal Frame", Category: domain.CategoryFrame, Price: 249900, InventoryItemID: "43000001", Active: true},
		{ID: "prod-wayfarer", SKU: "FR-WAY-002", Name: "Wayfarer Acetate Frame", Category: domain.CategoryFrame, Price: 189900, InventoryItemID: "43000002", Active: true},
		{ID: "prod-bluecut", SKU: "EG-BLU-001", Name: "Blue Cut Eyeglasses", Category: domain.CategoryEyeglass, Price: 149900, InventoryItemID: "43000003", Active: true},
		{ID: "prod-polar", SKU: "SG-POL-001", Name: "Polarized Sunglasses", Category: domain.CategorySunglass, Price: 299900, InventoryItemID: "43000004", Active: true},
		{ID: "prod-case", SKU: "AC-CAS-001", Name: "Hard Shell Case", Category: domain.CategoryAccessory, Price: 49900, InventoryItemID: "43000005", Active: true},
		{ID: "prod-cloth", SKU: "AC-CLO-002", Name: "Microfiber Cloth", Category: domain.CategoryAccessory, Price: 9900, Active: true},
	}

	for _, st := range stores {
		s.stores[st.ID] = st
	}
	now := time.Now().UTC()
	for i, p := range products {
		p.TaxRate = domain.DefaultTaxRate(p.Category)
		s.products[p.ID] = p
		for j, st := range stores {
			if st.ShopifyLocationID == "" {
				continue
			}
			key := ledgerKey{productID: p.ID, storeID: st.ID}
			s.inventory[key] = domain.InventoryRecord{ProductID: p.ID, StoreID: st.ID, Quantity: 4 + (i+j)%7, UpdatedAt: now}
		}
	}
	s.usersByUsername = seedUsers()

	return s
}

func (s *Store) SaveStore(_ context.Context, st domain.Store) error {
	if strings.TrimSpace(st.ID) == "" || strings.TrimSpace(st.Name) == "" {
		return store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stores[st.ID] = st
	return nil
}

func (s *Store) SaveProduct(_ context.Context, p domain.Product) error {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.SKU) == "" || p.Price < 0 || p.TaxRate < 0 {
		return store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	return nil
}

func (s *Store) GetStore(_ context.Context, storeID string) (*domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stores[storeID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &st, nil
}

func (s *Store) GetProducts(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) ListActiveProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListActiveStores(_ context.Context) ([]domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Store, 0, len(s.stores))
	for _, st := range s.stores {
		if st.Active {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetQuantity(_ context.Context, productID string, storeID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inventory[ledgerKey{productID: productID, storeID: storeID}].Quantity, nil
}

func (s *Store) TryDecrement(ctx context.Context, productID string, storeID string, amount int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &unitOfWork{s: s}
	return tx.TryDecrement(ctx, productID, storeID, amount)
}

func (s *Store) Upsert(ctx context.Context, productID string, storeID string, qty int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &unitOfWork{s: s}
	return tx.Upsert(ctx, productID, storeID, qty)
}

func (s *Store) EnsureRecord(_ context.Context, productID string, storeID string) (bool, error) {
	if productID == "" || storeID == "" {
		return false, store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ledgerKey{productID: productID, storeID: storeID}
	if _, ok := s.inventory[key]; ok {
		return false, nil
	}
	s.inventory[key] = domain.InventoryRecord{ProductID: productID, StoreID: storeID, Quantity: 0, UpdatedAt: time.Now().UTC()}
	return true, nil
}

func (s *Store) ClearAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &unitOfWork{s: s}
	return tx.ClearAll(ctx)
}

func (s *Store) ListInventory(_ context.Context) ([]domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.InventoryRecord, 0, len(s.inventory))
	for _, rec := range s.inventory {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StoreID != out[j].StoreID {
			return out[i].StoreID < out[j].StoreID
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out, nil
}

func (s *Store) RunSaleTx(ctx context.Context, fn func(tx store.SaleTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &unitOfWork{s: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) RebuildLedger(ctx context.Context, fn func(tx store.RebuildTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := make(map[ledgerKey]domain.InventoryRecord, len(s.inventory))
	for k, v := range s.inventory {
		previous[k] = v
	}

	tx := &unitOfWork{s: s}
	err := fn(tx)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.inventory = previous
		return err
	}
	return nil
}

func (s *Store) GetSale(_ context.Context, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sale, ok := s.sales[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Sale, 0, 16)
	for _, sale := range s.sales {
		if matchesFilter(sale, filter) {
			out = append(out, *cloneSale(sale))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SaleDate.Equal(out[j].SaleDate) {
			return out[i].SaleDate.After(out[j].SaleDate)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) SalesTotals(_ context.Context, filter domain.SaleFilter) (domain.SalesStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats domain.SalesStats
	for _, sale := range s.sales {
		if !matchesFilter(sale, filter) {
			continue
		}
		stats.TotalSales++
		stats.TotalRevenue += sale.TotalAmount
		stats.TotalDiscount += sale.TotalDiscount
		stats.TotalTax += sale.TotalTax
	}
	return stats, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalidInput
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// unitOfWork operates on the store maps while the caller holds s.mu. Each
// mutation pushes an undo step; rollback replays them in reverse.
type unitOfWork struct {
	s    *Store
	undo []func()
}

func (u *unitOfWork) rollback() {
	for i := len(u.undo) - 1; i >= 0; i-- {
		u.undo[i]()
	}
	u.undo = nil
}

func (u *unitOfWork) TryDecrement(_ context.Context, productID string, storeID string, amount int) (int, bool, error) {
	if amount < 1 {
		return 0, false, store.ErrInvalidInput
	}
	key := ledgerKey{productID: productID, storeID: storeID}
	rec, ok := u.s.inventory[key]
	if !ok || rec.Quantity < amount {
		return rec.Quantity, false, nil
	}
	prev := rec
	rec.Quantity -= amount
	rec.UpdatedAt = time.Now().UTC()
	u.s.inventory[key] = rec
	u.undo = append(u.undo, func() { u.s.inventory[key] = prev })
	return rec.Quantity, true, nil
}

func (u *unitOfWork) Upsert(_ context.Context, productID string, storeID string, qty int) (bool, error) {
	if productID == "" || storeID == "" {
		return false, store.ErrInvalidInput
	}
	if qty < 0 {
		return false, store.ErrNegativeQuantity
	}
	key := ledgerKey{productID: productID, storeID: storeID}
	_, exists := u.s.inventory[key]
	u.s.inventory[key] = domain.InventoryRecord{ProductID: productID, StoreID: storeID, Quantity: qty, UpdatedAt: time.Now().UTC()}
	return !exists, nil
}

func (u *unitOfWork) ClearAll(_ context.Context) (int, error) {
	removed := len(u.s.inventory)
	u.s.inventory = make(map[ledgerKey]domain.InventoryRecord)
	return removed, nil
}

func (u *unitOfWork) NextInvoiceSequence(_ context.Context, storeID string) (int, error) {
	if _, ok := u.s.stores[storeID]; !ok {
		return 0, store.ErrNotFound
	}
	prev, seeded := u.s.sequences[storeID]
	next := prev + 1
	if !seeded {
		count := 0
		for _, sale := range u.s.sales {
			if sale.StoreID == storeID {
				count++
			}
		}
		next = count + 1
	}
	u.s.sequences[storeID] = next
	u.undo = append(u.undo, func() {
		if seeded {
			u.s.sequences[storeID] = prev
		} else {
			delete(u.s.sequences, storeID)
		}
	})
	return next, nil
}

func (u *unitOfWork) UpsertCustomer(_ context.Context, in domain.CustomerInput, at time.Time) (*domain.Customer, error) {
	if in.Phone == "" {
		return nil, store.ErrInvalidInput
	}
	if id, ok := u.s.customerIDByPhone[in.Phone]; ok {
		prev := u.s.customersByID[id]
		updated := prev
		if in.Name != "" {
			updated.Name = in.Name
		}
		if in.Email != "" {
			updated.Email = in.Email
		}
		if in.GSTNumber != "" {
			updated.GSTNumber = in.GSTNumber
		}
		u.s.customersByID[id] = updated
		u.undo = append(u.undo, func() { u.s.customersByID[id] = prev })
		return cloneCustomer(updated), nil
	}

	customer := domain.Customer{
		ID:        xid.New("cust"),
		Name:      in.Name,
		Phone:     in.Phone,
		Email:     in.Email,
		GSTNumber: in.GSTNumber,
		CreatedAt: at,
	}
	u.s.customersByID[customer.ID] = customer
	u.s.customerIDByPhone[customer.Phone] = customer.ID
	u.undo = append(u.undo, func() {
		delete(u.s.customersByID, customer.ID)
		delete(u.s.customerIDByPhone, customer.Phone)
	})
	return cloneCustomer(customer), nil
}

func (u *unitOfWork) AddCustomerPurchase(_ context.Context, customerID string, amount int64, at time.Time) error {
	prev, ok := u.s.customersByID[customerID]
	if !ok {
		return store.ErrNotFound
	}
	updated := prev
	updated.TotalPurchases += amount
	purchasedAt := at
	updated.LastPurchaseDate = &purchasedAt
	u.s.customersByID[customerID] = updated
	u.undo = append(u.undo, func() { u.s.customersByID[customerID] = prev })
	return nil
}

func (u *unitOfWork) InsertSale(_ context.Context, sale domain.Sale) error {
	if sale.ID == "" || sale.InvoiceNumber == "" || len(sale.Items) == 0 {
		return store.ErrInvalidInput
	}
	if _, exists := u.s.sales[sale.ID]; exists {
		return store.ErrInvalidInput
	}
	if _, exists := u.s.invoiceNumbers[sale.InvoiceNumber]; exists {
		return fmt.Errorf("%w: %s", store.ErrDuplicateInvoice, sale.InvoiceNumber)
	}
	u.s.sales[sale.ID] = *cloneSale(sale)
	u.s.invoiceNumbers[sale.InvoiceNumber] = sale.ID
	u.undo = append(u.undo, func() {
		delete(u.s.sales, sale.ID)
		delete(u.s.invoiceNumbers, sale.InvoiceNumber)
	})
	return nil
}

func matchesFilter(sale domain.Sale, filter domain.SaleFilter) bool {
	if filter.StoreID != "" && sale.StoreID != filter.StoreID {
		return false
	}
	if filter.CashierID != "" && sale.CashierID != filter.CashierID {
		return false
	}
	if filter.From != nil && sale.SaleDate.Before(*filter.From) {
		return false
	}
	if filter.To != nil && !sale.SaleDate.Before(*filter.To) {
		return false
	}
	return true
}

func cloneSale(sale domain.Sale) *domain.Sale {
	copied := sale
	copied.Items = slices.Clone(sale.Items)
	return &copied
}

func cloneCustomer(c domain.Customer) *domain.Customer {
	copied := c
	if c.LastPurchaseDate != nil {
		at := *c.LastPurchaseDate
		copied.LastPurchaseDate = &at
	}
	return &copied
}
