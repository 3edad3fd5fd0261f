package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"voyapos/backend/internal/domain"
	"voyapos/backend/internal/store"
	"voyapos/backend/internal/xid"
)

//go:embed schema.sql
var schema string

const maxTxAttempts = 3

type Store struct {
	db *sql.DB
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveStore(ctx context.Context, st domain.Store) error {
	if strings.TrimSpace(st.ID) == "" || strings.TrimSpace(st.Name) == "" {
		return store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stores (id, name, location, shopify_location_id, active)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			location = EXCLUDED.location,
			shopify_location_id = EXCLUDED.shopify_location_id,
			active = EXCLUDED.active
	`, st.ID, st.Name, nullIfEmpty(st.Location), nullIfEmpty(st.ShopifyLocationID), st.Active)
	return err
}

func (s *Store) SaveProduct(ctx context.Context, p domain.Product) error {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.SKU) == "" || p.Price < 0 || p.TaxRate < 0 {
		return store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, category, price, tax_rate, shopify_product_id, shopify_variant_id, inventory_item_id, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			sku = EXCLUDED.sku,
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			price = EXCLUDED.price,
			tax_rate = EXCLUDED.tax_rate,
			shopify_product_id = EXCLUDED.shopify_product_id,
			shopify_variant_id = EXCLUDED.shopify_variant_id,
			inventory_item_id = EXCLUDED.inventory_item_id,
			active = EXCLUDED.active
	`, p.ID, p.SKU, p.Name, p.Category, p.Price, p.TaxRate,
		nullIfEmpty(p.ShopifyProductID), nullIfEmpty(p.ShopifyVariantID), nullIfEmpty(p.InventoryItemID), p.Active)
	if err != nil {
		if isUniqueViolation(err) || isCheckViolation(err) {
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
		WHERE id = $1
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
	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.Price, &p.TaxRate,
			&p.ShopifyProductID, &p.ShopifyVariantID, &p.InventoryItemID, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, productIDs)
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
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE active = true ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return scanProducts(rows)
}

func (s *Store) ListActiveStores(ctx context.Context) ([]domain.Store, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(location,''), COALESCE(shopify_location_id,''), active
		FROM stores
		WHERE active = true
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stores := make([]domain.Store, 0, 16)
	for rows.Next() {
		var st domain.Store
		if err := rows.Scan(&st.ID, &st.Name, &st.Location, &st.ShopifyLocationID, &st.Active); err != nil {
			return nil, err
		}
		stores = append(stores, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stores, nil
}

func (s *Store) GetQuantity(ctx context.Context, productID string, storeID string) (int, error) {
	return getQuantity(ctx, s.db, productID, storeID)
}

func (s *Store) TryDecrement(ctx context.Context, productID string, storeID string, amount int) (int, bool, error) {
	return tryDecrement(ctx, s.db, productID, storeID, amount)
}

func (s *Store) Upsert(ctx context.Context, productID string, storeID string, qty int) (bool, error) {
	return upsertRecord(ctx, s.db, productID, storeID, qty)
}

func (s *Store) EnsureRecord(ctx context.Context, productID string, storeID string) (bool, error) {
	if productID == "" || storeID == "" {
		return false, store.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_records (product_id, store_id, quantity, updated_at)
		VALUES ($1,$2,0,now())
		ON CONFLICT (product_id, store_id) DO NOTHING
	`, productID, storeID)
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

	records := make([]domain.InventoryRecord, 0, 256)
	for rows.Next() {
		var rec domain.InventoryRecord
		if err := rows.Scan(&rec.ProductID, &rec.StoreID, &rec.Quantity, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.UpdatedAt = rec.UpdatedAt.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// RunSaleTx uses READ COMMITTED: the conditional decrement re-evaluates its
// predicate after acquiring the row lock, which is all the sale needs.
// Serialization failures and deadlocks are retried.
func (s *Store) RunSaleTx(ctx context.Context, fn func(tx store.SaleTx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runSaleTx(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*25) * time.Millisecond):
		}
	}
	return err
}

func (s *Store) runSaleTx(ctx context.Context, fn func(tx store.SaleTx) error) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := fn(&saleTx{tx: pgTx}); err != nil {
		return err
	}
	return pgTx.Commit()
}

// RebuildLedger holds an EXCLUSIVE table lock: readers continue, but every
// decrement waits until the rebuild commits or rolls back.
func (s *Store) RebuildLedger(ctx context.Context, fn func(tx store.RebuildTx) error) error {
	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if _, err := pgTx.ExecContext(ctx, `LOCK TABLE inventory_records IN EXCLUSIVE MODE`); err != nil {
		return err
	}
	if err := fn(&rebuildTx{tx: pgTx}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return pgTx.Commit()
}

const saleColumns = `id, invoice_number, store_id, cashier_id, COALESCE(customer_id,''), subtotal, total_discount,
	total_tax, total_amount, payment_method, COALESCE(notes,''), sale_date`

func scanSale(scan func(dest ...any) error) (domain.Sale, error) {
	var sale domain.Sale
	err := scan(&sale.ID, &sale.InvoiceNumber, &sale.StoreID, &sale.CashierID, &sale.CustomerID, &sale.Subtotal,
		&sale.TotalDiscount, &sale.TotalTax, &sale.TotalAmount, &sale.PaymentMethod, &sale.Notes, &sale.SaleDate)
	sale.SaleDate = sale.SaleDate.UTC()
	return sale, err
}

func (s *Store) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, saleID).Scan)
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
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows.Scan)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
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
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no
	`, ids)
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
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.StoreID != "" {
		add("store_id = $%d", filter.StoreID)
	}
	if filter.CashierID != "" {
		add("cashier_id = $%d", filter.CashierID)
	}
	if filter.From != nil {
		add("sale_date >= $%d", filter.From.UTC())
	}
	if filter.To != nil {
		add("sale_date < $%d", filter.To.UTC())
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
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, user.Username, user.Password, user.Role, nullIfEmpty(user.StoreID), user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) || isCheckViolation(err) {
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
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.StoreID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
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

type saleTx struct {
	tx *sql.Tx
}

func (t *saleTx) TryDecrement(ctx context.Context, productID string, storeID string, amount int) (int, bool, error) {
	return tryDecrement(ctx, t.tx, productID, storeID, amount)
}

// NextInvoiceSequence seeds a missing counter from the store's existing sale
// count, so numbering continues across the switch to counter rows.
func (t *saleTx) NextInvoiceSequence(ctx context.Context, storeID string) (int, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `SELECT true FROM stores WHERE id = $1`, storeID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}

	var next int
	err = t.tx.QueryRowContext(ctx, `
		INSERT INTO invoice_sequences (store_id, last_value, updated_at)
		VALUES ($1, (SELECT COUNT(*) FROM sales WHERE store_id = $1) + 1, now())
		ON CONFLICT (store_id) DO UPDATE SET
			last_value = invoice_sequences.last_value + 1,
			updated_at = now()
		RETURNING last_value
	`, storeID).Scan(&next)
	return next, err
}

func (t *saleTx) UpsertCustomer(ctx context.Context, in domain.CustomerInput, at time.Time) (*domain.Customer, error) {
	if in.Phone == "" {
		return nil, store.ErrInvalidInput
	}
	var c domain.Customer
	var lastPurchase sql.NullTime
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO customers (id, name, phone, email, gst_number, total_purchases, created_at)
		VALUES ($1,$2,$3,$4,$5,0,$6)
		ON CONFLICT (phone) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), customers.name),
			email = COALESCE(EXCLUDED.email, customers.email),
			gst_number = COALESCE(EXCLUDED.gst_number, customers.gst_number)
		RETURNING id, name, phone, COALESCE(email,''), COALESCE(gst_number,''), total_purchases, last_purchase_date, created_at
	`, xid.New("cust"), in.Name, in.Phone, nullIfEmpty(in.Email), nullIfEmpty(in.GSTNumber), at).
		Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.GSTNumber, &c.TotalPurchases, &lastPurchase, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	if lastPurchase.Valid {
		ts := lastPurchase.Time.UTC()
		c.LastPurchaseDate = &ts
	}
	return &c, nil
}

func (t *saleTx) AddCustomerPurchase(ctx context.Context, customerID string, amount int64, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE customers
		SET total_purchases = total_purchases + $2, last_purchase_date = $3
		WHERE id = $1
	`, customerID, amount, at)
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
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, sale.ID, sale.InvoiceNumber, sale.StoreID, sale.CashierID, nullIfEmpty(sale.CustomerID), sale.Subtotal,
		sale.TotalDiscount, sale.TotalTax, sale.TotalAmount, sale.PaymentMethod, nullIfEmpty(sale.Notes), sale.SaleDate)
	if err != nil {
		if isConstraintViolation(err, "23505", "sales_invoice_number_key") {
			return fmt.Errorf("%w: %s", store.ErrDuplicateInvoice, sale.InvoiceNumber)
		}
		if isUniqueViolation(err) || isCheckViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}

	for i, item := range sale.Items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, line_no, product_id, name, sku, quantity, unit_price, discount,
				discounted_price, tax_rate, tax_amount, total_amount)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`, sale.ID, i+1, item.ProductID, item.Name, item.SKU, item.Quantity, item.UnitPrice, item.Discount,
			item.DiscountedPrice, item.TaxRate, item.TaxAmount, item.TotalAmount)
		if err != nil {
			if isCheckViolation(err) {
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
		SELECT quantity FROM inventory_records WHERE product_id = $1 AND store_id = $2
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
		SET quantity = quantity - $3, updated_at = now()
		WHERE product_id = $1 AND store_id = $2 AND quantity >= $3
		RETURNING quantity
	`, productID, storeID, amount).Scan(&qty)
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

	var created bool
	err := q.QueryRowContext(ctx, `
		INSERT INTO inventory_records (product_id, store_id, quantity, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (product_id, store_id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			updated_at = now()
		RETURNING (xmax = 0)
	`, productID, storeID, qty).Scan(&created)
	if err != nil {
		if isCheckViolation(err) {
			return false, store.ErrNegativeQuantity
		}
		if isForeignKeyViolation(err) {
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

func isUniqueViolation(err error) bool {
	return isConstraintViolation(err, "23505", "")
}

func isCheckViolation(err error) bool {
	return isConstraintViolation(err, "23514", "")
}

func isForeignKeyViolation(err error) bool {
	return isConstraintViolation(err, "23503", "")
}

func isConstraintViolation(err error, code string, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	return false
}

// isRetryable reports serialization failures and deadlocks.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
