package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"voyapos/backend/internal/domain"
	"voyapos/backend/internal/store"
	"voyapos/backend/internal/xid"
)

// timeLayout is fixed width so TEXT columns compare in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is a single-writer SQLite repository. The pool holds exactly one
// connection, so an open transaction serializes every other caller.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logger.Info("sqlite store ready", zap.String("path", path))
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS stores (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		location TEXT,
		shopify_location_id TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		CHECK(active IN (0, 1))
	);

	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		sku TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		price INTEGER NOT NULL,
		tax_rate INTEGER NOT NULL,
		shopify_product_id TEXT,
		shopify_variant_id TEXT,
		inventory_item_id TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		CHECK(category IN ('frame', 'eyeglass', 'sunglass', 'accessory')),
		CHECK(price >= 0),
		CHECK(tax_rate >= 0),
		CHECK(active IN (0, 1))
	);

	CREATE TABLE IF NOT EXISTS inventory_records (
		product_id TEXT NOT NULL,
		store_id TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (product_id, store_id),
		FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE CASCADE,
		FOREIGN KEY (store_id) REFERENCES stores(id) ON DELETE CASCADE,
		CHECK(quantity >= 0)
	);

	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT UNIQUE NOT NULL,
		email TEXT,
		gst_number TEXT,
		total_purchases INTEGER NOT NULL DEFAULT 0,
		last_purchase_date TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS invoice_sequences (
		store_id TEXT PRIMARY KEY,
		last_value INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (store_id) REFERENCES stores(id) ON DELETE CASCADE,
		CHECK(last_value > 0)
	);

	CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		invoice_number TEXT UNIQUE NOT NULL,
		store_id TEXT NOT NULL,
		cashier_id TEXT NOT NULL,
		customer_id TEXT,
		subtotal INTEGER NOT NULL,
		total_discount INTEGER NOT NULL,
		total_tax INTEGER NOT NULL,
		total_amount INTEGER NOT NULL,
		payment_method TEXT NOT NULL,
		notes TEXT,
		sale_date TEXT NOT NULL,
		FOREIGN KEY (store_id) REFERENCES stores(id),
		FOREIGN KEY (customer_id) REFERENCES customers(id),
		CHECK(payment_method IN ('cash', 'upi', 'card', 'other'))
	);

	CREATE TABLE IF NOT EXISTS sale_items (
		sale_id TEXT NOT NULL,
		line_no INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		name TEXT NOT NULL,
		sku TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price INTEGER NOT NULL,
		discount INTEGER NOT NULL,
		discounted_price INTEGER NOT NULL,
		tax_rate INTEGER NOT NULL,
		tax_amount INTEGER NOT NULL,
		total_amount INTEGER NOT NULL,
		PRIMARY KEY (sale_id, line_no),
		FOREIGN KEY (sale_id) REFERENCES sales(id) ON DELETE CASCADE,
		CHECK(quantity > 0)
	);

	CREATE TABLE IF NOT EXISTS app_users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		store_id TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK(role IN ('admin', 'manager', 'cashier'))
	);

	CREATE INDEX IF NOT EXISTS idx_inventory_records_store ON inventory_records(store_id);
	CREATE INDEX IF NOT EXISTS idx_sales_store_date ON sales(store_id, sale_date);
	CREATE INDEX IF NOT EXISTS idx_sales_cashier ON sales(cashier_id);
	CREATE INDEX IF NOT EXISTS idx_products_item ON products(inventory_item_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) SaveStore(ctx context.Context, st domain.Store) error {
	if strings.TrimSpace(st.ID) == "" || strings.TrimSpace(st.Name) == "" {
		return store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stores (id, name, location, shopify_location_id, active)
		VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			location = excluded.location,
			shopify_location_id = excluded.shopify_location_id,
			active = excluded.active
	`, st.ID, st.Name, nullIfEmpty(st.Location), nullIfEmpty(st.ShopifyLocationID), st.Active)
	return err
}

func (s *Store) SaveProduct(ctx context.Context, p domain.Product) error {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.SKU) == "" || p.Price < 0 || p.TaxRate < 0 {
		return store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, category, price, tax_rate, shopify_product_id, shopify_variant_id, inventory_item_id, active)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			sku = excluded.sku,
			name = excluded.name,
			category = excluded.category,
			price = excluded.price,
			tax_rate = excluded.tax_rate,
			shopify_product_id = excluded.shopify_product_id,
			shopify_variant_id = excluded.shopify_variant_id,
			inventory_item_id = excluded.inventory_item_id,
			active = excluded.active
	`, p.ID, p.SKU, p.Name, p.Category, p.Price, p.TaxRate,
		nullIfEmpty(p.ShopifyProductID), nullIfEmpty(p.ShopifyVariantID), nullIfEmpty(p.InventoryItemID), p.Active)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintUnique) || isConstraint(err, sqlite3.ErrConstraintCheck) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) GetStore(ctx context.Context, storeID string) (*domain.Store, error) {
	var st domain.Store
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(location,''), COALESCE(shopify_location_id,''), active
		FROM stores
		WHERE id = ?
	`, storeID).Scan(&st.ID, &st.Name, &st.Location, &st.ShopifyLocationID, &st.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}

const productColumns = `id, sku, name, category, price, tax_rate, COALESCE(shopify_product_id,''),
	COALESCE(shopify_variant_id,''), COALESCE(inventory_item_id,''), active`

func scanProducts(rows *sql.Rows) ([]domain.Product, error) {
	defer rows.Close()
	products := make([]domain.Product, 0, 32)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.Price, &p.TaxRate,
			&p.ShopifyProductID, &p.ShopifyVariantID, &p.InventoryItemID, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE id IN (`+placeholders(len(productIDs))+`)`,
		stringArgs(productIDs)...)
	if err != nil {
		return nil, err
	}
	products, err := scanProducts(rows)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		result[p.ID] = p
	}
	return result, nil
}

func (s *Store) ListActiveProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return scanProducts(rows)
}

func (s *Store) ListActiveStores(ctx context.Context) ([]domain.Store, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(location,''), COALESCE(shopify_location_id,''), active
		FROM stores
		WHERE active = 1
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stores := make([]domain.Store, 0, 8)
	for rows.Next() {
		var st domain.Store
		if err := rows.Scan(&st.ID, &st.Name, &st.Location, &st.ShopifyLocationID, &st.Active); err != nil {
			return nil, err
		}
		stores = append(stores, st)
	}
	return stores, rows.Err()
}

func (s *Store) GetQuantity(ctx context.Context, productID string, storeID string) (int, error) {
	return getQuantity(ctx, s.db, productID, storeID)
}

func (s *Store) TryDecrement(ctx context.Context, productID string, storeID string, amount int) (int, bool, error) {
	return tryDecrement(ctx, s.db, productID, storeID, amount)
}

func (s *Store) Upsert(ctx context.Context, productID string, storeID string, qty int) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	created, err := upsertRecord(ctx, tx, productID, storeID, qty)
	if err != nil {
		return false, err
	}
	return created, tx.Commit()
}

func (s *Store) EnsureRecord(ctx context.Context, productID string, storeID string) (bool, error) {
	if productID == "" || storeID == "" {
		return false, store.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_records (product_id, store_id, quantity, updated_at)
		VALUES (?,?,0,?)
		ON CONFLICT(product_id, store_id) DO NOTHING
	`, productID, storeID, formatTime(time.Now()))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *Store) ClearAll(ctx context.Context) (int, error) {
	return clearAll(ctx, s.db)
}

func (s *Store) ListInventory(ctx context.Context) ([]domain.InventoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, store_id, quantity, updated_at
		FROM inventory_records
		ORDER BY store_id, product_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.InventoryRecord, 0, 64)
	for rows.Next() {
		var rec domain.InventoryRecord
		var updatedAt string
		if err := rows.Scan(&rec.ProductID, &rec.StoreID, &rec.Quantity, &updatedAt); err != nil {
			return nil, err
		}
		rec.UpdatedAt = parseTime(updatedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) RunSaleTx(ctx context.Context, fn func(tx store.SaleTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&saleTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) RebuildLedger(ctx context.Context, fn func(tx store.RebuildTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&rebuildTx{tx: tx}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.Commit()
}

const saleColumns = `id, invoice_number, store_id, cashier_id, COALESCE(customer_id,''), subtotal, total_discount,
	total_tax, total_amount, payment_method, COALESCE(notes,''), sale_date`

func scanSale(scan func(dest ...any) error) (domain.Sale, error) {
	var sale domain.Sale
	var saleDate string
	err := scan(&sale.ID, &sale.InvoiceNumber, &sale.StoreID, &sale.CashierID, &sale.CustomerID, &sale.Subtotal,
		&sale.TotalDiscount, &sale.TotalTax, &sale.TotalAmount, &sale.PaymentMethod, &sale.Notes, &saleDate)
	sale.SaleDate = parseTime(saleDate)
	return sale, err
}

func (s *Store) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = ?`, saleID).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sales := []domain.Sale{sale}
	if err := s.attachItems(ctx, sales); err != nil {
		return nil, err
	}
	return &sales[0], nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	where, args := saleWhere(filter)
	query := `SELECT ` + saleColumns + ` FROM sales` + where + ` ORDER BY sale_date DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	sales := make([]domain.Sale, 0, 16)
	for rows.Next() {
		sale, err := scanSale(rows.Scan)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	// The single connection must be released before the items query.
	_ = rows.Close()

	if err := s.attachItems(ctx, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) attachItems(ctx context.Context, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	index := make(map[string]int, len(sales))
	ids := make([]string, 0, len(sales))
	for i, sale := range sales {
		index[sale.ID] = i
		ids = append(ids, sale.ID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, product_id, name, sku, quantity, unit_price, discount, discounted_price, tax_rate, tax_amount, total_amount
		FROM sale_items
		WHERE sale_id IN (`+placeholders(len(ids))+`)
		ORDER BY sale_id, line_no
	`, stringArgs(ids)...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var saleID string
		var item domain.SaleItem
		if err := rows.Scan(&saleID, &item.ProductID, &item.Name, &item.SKU, &item.Quantity, &item.UnitPrice,
			&item.Discount, &item.DiscountedPrice, &item.TaxRate, &item.TaxAmount, &item.TotalAmount); err != nil {
			return err
		}
		i := index[saleID]
		sales[i].Items = append(sales[i].Items, item)
	}
	return rows.Err()
}

func (s *Store) SalesTotals(ctx context.Context, filter domain.SaleFilter) (domain.SalesStats, error) {
	where, args := saleWhere(filter)
	var stats domain.SalesStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_amount),0), COALESCE(SUM(total_discount),0), COALESCE(SUM(total_tax),0)
		FROM sales`+where, args...).Scan(&stats.TotalSales, &stats.TotalRevenue, &stats.TotalDiscount, &stats.TotalTax)
	return stats, err
}

func saleWhere(filter domain.SaleFilter) (string, []any) {
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if filter.StoreID != "" {
		clauses = append(clauses, "store_id = ?")
		args = append(args, filter.StoreID)
	}
	if filter.CashierID != "" {
		clauses = append(clauses, "cashier_id = ?")
		args = append(args, filter.CashierID)
	}
	if filter.From != nil {
		clauses = append(clauses, "sale_date >= ?")
		args = append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		clauses = append(clauses, "sale_date < ?")
		args = append(args, formatTime(*filter.To))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, store_id, active, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?)
	`, user.Username, user.Password, user.Role, nullIfEmpty(user.StoreID), user.Active,
		formatTime(user.CreatedAt), formatTime(time.Now()))
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintPrimaryKey) || isConstraint(err, sqlite3.ErrConstraintCheck) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, COALESCE(store_id,''), active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		var createdAt string
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.StoreID, &user.Active, &createdAt); err != nil {
			return nil, err
		}
		user.CreatedAt = parseTime(createdAt)
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = ?, updated_at = ?
		WHERE username = ?
	`, password, formatTime(time.Now()), username)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// saleTx and rebuildTx must only use tx: touching s.db while the single
// connection is checked out would block forever.
type saleTx struct {
	tx *sql.Tx
}

func (t *saleTx) TryDecrement(ctx context.Context, productID string, storeID string, amount int) (int, bool, error) {
	return tryDecrement(ctx, t.tx, productID, storeID, amount)
}

func (t *saleTx) NextInvoiceSequence(ctx context.Context, storeID string) (int, error) {
	var exists int
	err := t.tx.QueryRowContext(ctx, `SELECT 1 FROM stores WHERE id = ?`, storeID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}

	var next int
	err = t.tx.QueryRowContext(ctx, `
		INSERT INTO invoice_sequences (store_id, last_value, updated_at)
		VALUES (?, (SELECT COUNT(*) FROM sales WHERE store_id = ?) + 1, ?)
		ON CONFLICT(store_id) DO UPDATE SET
			last_value = invoice_sequences.last_value + 1,
			updated_at = excluded.updated_at
		RETURNING last_value
	`, storeID, storeID, formatTime(time.Now())).Scan(&next)
	return next, err
}

func (t *saleTx) UpsertCustomer(ctx context.Context, in domain.CustomerInput, at time.Time) (*domain.Customer, error) {
	if in.Phone == "" {
		return nil, store.ErrInvalidInput
	}
	var c domain.Customer
	var lastPurchase sql.NullString
	var createdAt string
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO customers (id, name, phone, email, gst_number, total_purchases, created_at)
		VALUES (?,?,?,?,?,0,?)
		ON CONFLICT(phone) DO UPDATE SET
			name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE customers.name END,
			email = COALESCE(excluded.email, customers.email),
			gst_number = COALESCE(excluded.gst_number, customers.gst_number)
		RETURNING id, name, phone, COALESCE(email,''), COALESCE(gst_number,''), total_purchases, last_purchase_date, created_at
	`, xid.New("cust"), in.Name, in.Phone, nullIfEmpty(in.Email), nullIfEmpty(in.GSTNumber), formatTime(at)).
		Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.GSTNumber, &c.TotalPurchases, &lastPurchase, &createdAt)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = parseTime(createdAt)
	if lastPurchase.Valid {
		ts := parseTime(lastPurchase.String)
		c.LastPurchaseDate = &ts
	}
	return &c, nil
}

func (t *saleTx) AddCustomerPurchase(ctx context.Context, customerID string, amount int64, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE customers
		SET total_purchases = total_purchases + ?, last_purchase_date = ?
		WHERE id = ?
	`, amount, formatTime(at), customerID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *saleTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	if sale.ID == "" || sale.InvoiceNumber == "" || len(sale.Items) == 0 {
		return store.ErrInvalidInput
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (id, invoice_number, store_id, cashier_id, customer_id, subtotal, total_discount,
			total_tax, total_amount, payment_method, notes, sale_date)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
	`, sale.ID, sale.InvoiceNumber, sale.StoreID, sale.CashierID, nullIfEmpty(sale.CustomerID), sale.Subtotal,
		sale.TotalDiscount, sale.TotalTax, sale.TotalAmount, sale.PaymentMethod, nullIfEmpty(sale.Notes), formatTime(sale.SaleDate))
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintUnique) && strings.Contains(err.Error(), "invoice_number") {
			return fmt.Errorf("%w: %s", store.ErrDuplicateInvoice, sale.InvoiceNumber)
		}
		if isConstraint(err, sqlite3.ErrConstraintPrimaryKey) || isConstraint(err, sqlite3.ErrConstraintCheck) {
			return store.ErrInvalidInput
		}
		return err
	}

	for i, item := range sale.Items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, line_no, product_id, name, sku, quantity, unit_price, discount,
				discounted_price, tax_rate, tax_amount, total_amount)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		`, sale.ID, i+1, item.ProductID, item.Name, item.SKU, item.Quantity, item.UnitPrice, item.Discount,
			item.DiscountedPrice, item.TaxRate, item.TaxAmount, item.TotalAmount)
		if err != nil {
			if isConstraint(err, sqlite3.ErrConstraintCheck) {
				return store.ErrInvalidInput
			}
			return err
		}
	}
	return nil
}

type rebuildTx struct {
	tx *sql.Tx
}

func (t *rebuildTx) ClearAll(ctx context.Context) (int, error) {
	return clearAll(ctx, t.tx)
}

func (t *rebuildTx) Upsert(ctx context.Context, productID string, storeID string, qty int) (bool, error) {
	return upsertRecord(ctx, t.tx, productID, storeID, qty)
}

func getQuantity(ctx context.Context, q querier, productID string, storeID string) (int, error) {
	var qty int
	err := q.QueryRowContext(ctx, `
		SELECT quantity FROM inventory_records WHERE product_id = ? AND store_id = ?
	`, productID, storeID).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return qty, err
}

func tryDecrement(ctx context.Context, q querier, productID string, storeID string, amount int) (int, bool, error) {
	if amount < 1 {
		return 0, false, store.ErrInvalidInput
	}
	var qty int
	err := q.QueryRowContext(ctx, `
		UPDATE inventory_records
		SET quantity = quantity - ?, updated_at = ?
		WHERE product_id = ? AND store_id = ? AND quantity >= ?
		RETURNING quantity
	`, amount, formatTime(time.Now()), productID, storeID, amount).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		current, err := getQuantity(ctx, q, productID, storeID)
		return current, false, err
	}
	if err != nil {
		return 0, false, err
	}
	return qty, true, nil
}

func upsertRecord(ctx context.Context, q querier, productID string, storeID string, qty int) (bool, error) {
	if productID == "" || storeID == "" {
		return false, store.ErrInvalidInput
	}
	if qty < 0 {
		return false, store.ErrNegativeQuantity
	}

	var exists int
	err := q.QueryRowContext(ctx, `
		SELECT 1 FROM inventory_records WHERE product_id = ? AND store_id = ?
	`, productID, storeID).Scan(&exists)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	created := errors.Is(err, sql.ErrNoRows)

	_, err = q.ExecContext(ctx, `
		INSERT INTO inventory_records (product_id, store_id, quantity, updated_at)
		VALUES (?,?,?,?)
		ON CONFLICT(product_id, store_id) DO UPDATE SET
			quantity = excluded.quantity,
			updated_at = excluded.updated_at
	`, productID, storeID, qty, formatTime(time.Now()))
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintCheck) {
			return false, store.ErrNegativeQuantity
		}
		if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return false, fmt.Errorf("%w: unknown product or store", store.ErrInvalidInput)
		}
		return false, err
	}
	return created, nil
}

func clearAll(ctx context.Context, q querier) (int, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM inventory_records`)
	if err != nil {
		return 0, err
	}
	removed, err := res.RowsAffected()
	return int(removed), err
}

func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == code
	}
	return false
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(val string) time.Time {
	t, err := time.Parse(timeLayout, val)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
