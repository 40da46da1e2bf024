/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements the installment persistence and directory interfaces using
  SQLite. store/postgres implements the same contract for PostgreSQL.

INTERFACES IMPLEMENTED:
  installment.Store:             Batch inserts (sales, references, installments)
  installment.Reader:            Read-back of submissions
  installment.CustomerDirectory: Customers ordered by first name
  installment.PolicyDirectory:   Withdrawal-day policies

BATCH ATOMICITY:
  Each Insert* call runs in its own SQL transaction: the whole batch is
  written or nothing is. A submission's three batches are NOT wrapped in a
  common transaction.

KEY TABLES:
  customers:           Customer directory
  withdrawal_policies: Withdrawal-day policies
  sales:               One row per submission
  payment_references:  Collection channels, unique code
  installments:        One row per reference per month

INDEXES:
  - idx_references_code: Enforces unique reference codes
  - idx_installments_sale_due: Schedule read-back (hot path)
  - idx_installments_due_status: Withdrawal day listing

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. SQLite allows a single writer.

USAGE:
  store, err := sqlite.New("./data/installments.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  allocator := installment.NewAllocator(store, store, store, logger)

SEE ALSO:
  - installment/store.go: Interface definitions
  - installment/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/installments/installment"
)

const dateLayout = "2006-01-02"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Compile-time interface checks
var (
	_ installment.Store             = (*Store)(nil)
	_ installment.Reader            = (*Store)(nil)
	_ installment.CustomerDirectory = (*Store)(nil)
	_ installment.PolicyDirectory   = (*Store)(nil)
	_ installment.DirectoryWriter   = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		collection_account_number TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_customers_first_name
		ON customers(first_name);

	CREATE TABLE IF NOT EXISTS withdrawal_policies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		withdrawal_day INTEGER NOT NULL CHECK (withdrawal_day BETWEEN 1 AND 31),
		type INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS sales (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		product_name TEXT NOT NULL,
		total_amount INTEGER NOT NULL,
		paid_amount INTEGER NOT NULL,
		status TEXT NOT NULL,
		withdrawal_policy_id INTEGER,
		duration_months INTEGER,
		monthly_amount INTEGER,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sales_customer
		ON sales(customer_id);

	-- Owned by sales: deleting a sale removes its references
	CREATE TABLE IF NOT EXISTS payment_references (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sale_id INTEGER NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		code TEXT NOT NULL,
		amount INTEGER NOT NULL,
		valid_from TEXT NOT NULL,
		valid_to TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_references_code
		ON payment_references(code);
	CREATE INDEX IF NOT EXISTS idx_references_sale
		ON payment_references(sale_id);

	-- Owned by sales; reference_id is NULL only for fallback rows
	CREATE TABLE IF NOT EXISTS installments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sale_id INTEGER NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		reference_id INTEGER REFERENCES payment_references(id),
		due_date TEXT NOT NULL,
		amount INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		outcome_code TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_installments_sale_due
		ON installments(sale_id, due_date);
	CREATE INDEX IF NOT EXISTS idx_installments_due_status
		ON installments(due_date, status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// BATCH INSERTS (installment.Store interface)
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertBatch runs one INSERT per record inside a single SQL transaction and
// collects the generated ids in input order.
func (s *Store) insertBatch(ctx context.Context, n int, insert func(db execer, i int) (sql.Result, error)) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	ids := make([]int64, n)
	for i := 0; i < n; i++ {
		res, err := insert(sqlTx, i)
		if err != nil {
			if isUniqueConstraintError(err) {
				return nil, installment.ErrDuplicateCode
			}
			return nil, err
		}
		if ids[i], err = res.LastInsertId(); err != nil {
			return nil, fmt.Errorf("failed to read inserted id: %w", err)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}
	return ids, nil
}

// InsertSales adds sales atomically.
func (s *Store) InsertSales(ctx context.Context, sales []installment.Sale) ([]installment.SaleID, error) {
	query := `
		INSERT INTO sales
		(customer_id, kind, product_name, total_amount, paid_amount, status,
		 withdrawal_policy_id, duration_months, monthly_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	raw, err := s.insertBatch(ctx, len(sales), func(db execer, i int) (sql.Result, error) {
		sale := sales[i]
		return db.ExecContext(ctx, query,
			sale.CustomerID, sale.Kind, sale.ProductName,
			sale.TotalAmount, sale.PaidAmount, sale.Status,
			nullPolicy(sale.WithdrawalPolicyID),
			nullInt(sale.DurationMonths),
			nullAmount(sale.MonthlyAmount),
			sale.CreatedAt.UTC().Format(time.RFC3339),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert sales: %w", err)
	}

	ids := make([]installment.SaleID, len(raw))
	for i, id := range raw {
		ids[i] = installment.SaleID(id)
	}
	return ids, nil
}

// InsertReferences adds references atomically. A duplicate code rejects
// the whole batch with installment.ErrDuplicateCode.
func (s *Store) InsertReferences(ctx context.Context, refs []installment.PaymentReference) ([]installment.ReferenceID, error) {
	query := `
		INSERT INTO payment_references (sale_id, code, amount, valid_from, valid_to)
		VALUES (?, ?, ?, ?, ?)
	`
	raw, err := s.insertBatch(ctx, len(refs), func(db execer, i int) (sql.Result, error) {
		ref := refs[i]
		return db.ExecContext(ctx, query,
			ref.SaleID, ref.Code, ref.Amount,
			ref.Validity.Start.Format(dateLayout),
			ref.Validity.End.Format(dateLayout),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert references: %w", err)
	}

	ids := make([]installment.ReferenceID, len(raw))
	for i, id := range raw {
		ids[i] = installment.ReferenceID(id)
	}
	return ids, nil
}

// InsertInstallments adds installment rows atomically.
func (s *Store) InsertInstallments(ctx context.Context, rows []installment.Installment) ([]installment.InstallmentID, error) {
	query := `
		INSERT INTO installments (sale_id, reference_id, due_date, amount, status, outcome_code)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	raw, err := s.insertBatch(ctx, len(rows), func(db execer, i int) (sql.Result, error) {
		row := rows[i]
		return db.ExecContext(ctx, query,
			row.SaleID, nullReference(row.ReferenceID),
			row.DueDate.Format(dateLayout),
			row.Amount, row.Status, row.OutcomeCode,
		)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert installments: %w", err)
	}

	ids := make([]installment.InstallmentID, len(raw))
	for i, id := range raw {
		ids[i] = installment.InstallmentID(id)
	}
	return ids, nil
}

// =============================================================================
// READERS (installment.Reader interface)
// =============================================================================

// GetSale retrieves a sale by ID.
func (s *Store) GetSale(ctx context.Context, id installment.SaleID) (*installment.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		sale      installment.Sale
		policyID  sql.NullInt64
		months    sql.NullInt64
		monthly   sql.NullInt64
		createdAt string
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, kind, product_name, total_amount, paid_amount, status,
		       withdrawal_policy_id, duration_months, monthly_amount, created_at
		FROM sales WHERE id = ?`, id,
	).Scan(&sale.ID, &sale.CustomerID, &sale.Kind, &sale.ProductName,
		&sale.TotalAmount, &sale.PaidAmount, &sale.Status,
		&policyID, &months, &monthly, &createdAt)

	if err == sql.ErrNoRows {
		return nil, installment.ErrSaleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sale: %w", err)
	}

	if policyID.Valid {
		p := installment.PolicyID(policyID.Int64)
		sale.WithdrawalPolicyID = &p
	}
	if months.Valid {
		m := int(months.Int64)
		sale.DurationMonths = &m
	}
	if monthly.Valid {
		a := installment.Amount(monthly.Int64)
		sale.MonthlyAmount = &a
	}
	sale.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &sale, nil
}

// ListReferences returns the references of a sale in creation order.
func (s *Store) ListReferences(ctx context.Context, saleID installment.SaleID) ([]installment.PaymentReference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, code, amount, valid_from, valid_to
		FROM payment_references
		WHERE sale_id = ?
		ORDER BY id ASC`, saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query references: %w", err)
	}
	defer rows.Close()

	var refs []installment.PaymentReference
	for rows.Next() {
		var (
			ref      installment.PaymentReference
			from, to string
		)
		if err := rows.Scan(&ref.ID, &ref.SaleID, &ref.Code, &ref.Amount, &from, &to); err != nil {
			return nil, fmt.Errorf("failed to scan reference: %w", err)
		}
		ref.Validity.Start, _ = time.Parse(dateLayout, from)
		ref.Validity.End, _ = time.Parse(dateLayout, to)
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// ListInstallments returns a sale's rows by due date, then reference order.
func (s *Store) ListInstallments(ctx context.Context, saleID installment.SaleID) ([]installment.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryInstallments(ctx, `
		SELECT id, sale_id, reference_id, due_date, amount, status, outcome_code
		FROM installments
		WHERE sale_id = ?
		ORDER BY due_date ASC, reference_id ASC, id ASC`, saleID)
}

// ListDueInstallments returns pending rows due on day across all sales.
func (s *Store) ListDueInstallments(ctx context.Context, day time.Time) ([]installment.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryInstallments(ctx, `
		SELECT id, sale_id, reference_id, due_date, amount, status, outcome_code
		FROM installments
		WHERE due_date = ? AND status = ?
		ORDER BY sale_id ASC, reference_id ASC, id ASC`,
		day.Format(dateLayout), installment.InstallmentPending)
}

func (s *Store) queryInstallments(ctx context.Context, query string, args ...any) ([]installment.Installment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query installments: %w", err)
	}
	defer rows.Close()

	var result []installment.Installment
	for rows.Next() {
		var (
			row   installment.Installment
			refID sql.NullInt64
			due   string
		)
		if err := rows.Scan(&row.ID, &row.SaleID, &refID, &due, &row.Amount, &row.Status, &row.OutcomeCode); err != nil {
			return nil, fmt.Errorf("failed to scan installment: %w", err)
		}
		if refID.Valid {
			id := installment.ReferenceID(refID.Int64)
			row.ReferenceID = &id
		}
		row.DueDate, _ = time.Parse(dateLayout, due)
		result = append(result, row)
	}
	return result, rows.Err()
}

// =============================================================================
// DIRECTORIES
// =============================================================================

// SaveCustomer inserts a customer and returns its id.
func (s *Store) SaveCustomer(ctx context.Context, c installment.Customer) (installment.CustomerID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account := sql.NullString{}
	if c.CollectionAccountNumber != nil {
		account = sql.NullString{String: *c.CollectionAccountNumber, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO customers (first_name, last_name, collection_account_number) VALUES (?, ?, ?)",
		c.FirstName, c.LastName, account,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save customer: %w", err)
	}
	id, err := res.LastInsertId()
	return installment.CustomerID(id), err
}

// ListCustomers returns all customers ordered by first name.
func (s *Store) ListCustomers(ctx context.Context) ([]installment.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, first_name, last_name, collection_account_number FROM customers ORDER BY first_name COLLATE NOCASE, id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []installment.Customer
	for rows.Next() {
		var (
			c       installment.Customer
			account sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &account); err != nil {
			return nil, err
		}
		if account.Valid {
			c.CollectionAccountNumber = &account.String
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// SaveWithdrawalPolicy inserts a withdrawal policy and returns its id.
func (s *Store) SaveWithdrawalPolicy(ctx context.Context, p installment.WithdrawalPolicy) (installment.PolicyID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO withdrawal_policies (name, withdrawal_day, type) VALUES (?, ?, ?)",
		p.Name, p.WithdrawalDay, p.Type,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save withdrawal policy: %w", err)
	}
	id, err := res.LastInsertId()
	return installment.PolicyID(id), err
}

// ListWithdrawalPolicies returns all policies in creation order.
func (s *Store) ListWithdrawalPolicies(ctx context.Context) ([]installment.WithdrawalPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, withdrawal_day, type FROM withdrawal_policies ORDER BY id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []installment.WithdrawalPolicy
	for rows.Next() {
		var p installment.WithdrawalPolicy
		if err := rows.Scan(&p.ID, &p.Name, &p.WithdrawalDay, &p.Type); err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// Reset deletes every row. Development only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"installments", "payment_references", "sales", "withdrawal_policies", "customers"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}

	// Restart AUTOINCREMENT sequences so ids begin at 1 again.
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sqlite_sequence WHERE name IN (?, ?, ?, ?, ?)`,
		tables[0], tables[1], tables[2], tables[3], tables[4]); err != nil {
		return fmt.Errorf("failed to reset id sequences: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullAmount(v *installment.Amount) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullPolicy(v *installment.PolicyID) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullReference(v *installment.ReferenceID) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
