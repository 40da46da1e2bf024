/*
Package postgres provides a PostgreSQL-backed implementation of the storage
interfaces, through the pgx database/sql driver.

Same contract as store/sqlite: each Insert* call is one transaction, and the
three batches of a submission are independent. Ids come back through
RETURNING, in input order.

SCHEMA:
  Created on New with CREATE TABLE IF NOT EXISTS. Money columns are BIGINT
  integer units; due dates are DATE.
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/warp/installments/installment"
)

// Store implements all storage interfaces using PostgreSQL.
type Store struct {
	db *sql.DB
}

var (
	_ installment.Store             = (*Store)(nil)
	_ installment.Reader            = (*Store)(nil)
	_ installment.CustomerDirectory = (*Store)(nil)
	_ installment.PolicyDirectory   = (*Store)(nil)
	_ installment.DirectoryWriter   = (*Store)(nil)
)

// Options tunes the connection pool. Zero values keep database/sql defaults.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// New opens the database, checks connectivity and applies the schema.
func New(ctx context.Context, dsn string, opts Options) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS customers (
		id BIGSERIAL PRIMARY KEY,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		collection_account_number TEXT
	);

	CREATE TABLE IF NOT EXISTS withdrawal_policies (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		withdrawal_day INTEGER NOT NULL CHECK (withdrawal_day BETWEEN 1 AND 31),
		type INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS sales (
		id BIGSERIAL PRIMARY KEY,
		customer_id BIGINT NOT NULL,
		kind TEXT NOT NULL,
		product_name TEXT NOT NULL,
		total_amount BIGINT NOT NULL,
		paid_amount BIGINT NOT NULL,
		status TEXT NOT NULL,
		withdrawal_policy_id BIGINT,
		duration_months INTEGER,
		monthly_amount BIGINT,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS payment_references (
		id BIGSERIAL PRIMARY KEY,
		sale_id BIGINT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		code TEXT NOT NULL UNIQUE,
		amount BIGINT NOT NULL,
		valid_from DATE NOT NULL,
		valid_to DATE NOT NULL
	);

	CREATE TABLE IF NOT EXISTS installments (
		id BIGSERIAL PRIMARY KEY,
		sale_id BIGINT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		reference_id BIGINT REFERENCES payment_references(id),
		due_date DATE NOT NULL,
		amount BIGINT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		outcome_code TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_installments_sale_due ON installments(sale_id, due_date);
	CREATE INDEX IF NOT EXISTS idx_installments_due_status ON installments(due_date, status);
	`)
	return err
}

// =============================================================================
// BATCH INSERTS
// =============================================================================

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// insertBatch runs one INSERT ... RETURNING id per record in one transaction.
func (s *Store) insertBatch(ctx context.Context, n int, insert func(q queryer, i int) *sql.Row) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids := make([]int64, n)
	for i := 0; i < n; i++ {
		if err := insert(tx, i).Scan(&ids[i]); err != nil {
			if isUniqueViolation(err) {
				return nil, installment.ErrDuplicateCode
			}
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}
	return ids, nil
}

func (s *Store) InsertSales(ctx context.Context, sales []installment.Sale) ([]installment.SaleID, error) {
	const query = `
		INSERT INTO sales
		(customer_id, kind, product_name, total_amount, paid_amount, status,
		 withdrawal_policy_id, duration_months, monthly_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	raw, err := s.insertBatch(ctx, len(sales), func(q queryer, i int) *sql.Row {
		sale := sales[i]
		var (
			policyID, monthly sql.NullInt64
			months            sql.NullInt32
		)
		if sale.WithdrawalPolicyID != nil {
			policyID = sql.NullInt64{Int64: int64(*sale.WithdrawalPolicyID), Valid: true}
		}
		if sale.MonthlyAmount != nil {
			monthly = sql.NullInt64{Int64: int64(*sale.MonthlyAmount), Valid: true}
		}
		if sale.DurationMonths != nil {
			months = sql.NullInt32{Int32: int32(*sale.DurationMonths), Valid: true}
		}
		return q.QueryRowContext(ctx, query,
			int64(sale.CustomerID), string(sale.Kind), sale.ProductName,
			int64(sale.TotalAmount), int64(sale.PaidAmount), string(sale.Status),
			policyID, months, monthly, sale.CreatedAt.UTC(),
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

func (s *Store) InsertReferences(ctx context.Context, refs []installment.PaymentReference) ([]installment.ReferenceID, error) {
	const query = `
		INSERT INTO payment_references (sale_id, code, amount, valid_from, valid_to)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	raw, err := s.insertBatch(ctx, len(refs), func(q queryer, i int) *sql.Row {
		ref := refs[i]
		return q.QueryRowContext(ctx, query,
			int64(ref.SaleID), ref.Code, int64(ref.Amount),
			ref.Validity.Start, ref.Validity.End,
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

func (s *Store) InsertInstallments(ctx context.Context, rows []installment.Installment) ([]installment.InstallmentID, error) {
	const query = `
		INSERT INTO installments (sale_id, reference_id, due_date, amount, status, outcome_code)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	raw, err := s.insertBatch(ctx, len(rows), func(q queryer, i int) *sql.Row {
		row := rows[i]
		var refID sql.NullInt64
		if row.ReferenceID != nil {
			refID = sql.NullInt64{Int64: int64(*row.ReferenceID), Valid: true}
		}
		return q.QueryRowContext(ctx, query,
			int64(row.SaleID), refID, row.DueDate,
			int64(row.Amount), string(row.Status), row.OutcomeCode,
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
// READERS
// =============================================================================

func (s *Store) GetSale(ctx context.Context, id installment.SaleID) (*installment.Sale, error) {
	var (
		sale                    installment.Sale
		customerID, total, paid int64
		kind, status            string
		policyID, monthly       sql.NullInt64
		months                  sql.NullInt32
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, kind, product_name, total_amount, paid_amount, status,
		       withdrawal_policy_id, duration_months, monthly_amount, created_at
		FROM sales WHERE id = $1`, int64(id),
	).Scan((*int64)(&sale.ID), &customerID, &kind, &sale.ProductName, &total, &paid, &status,
		&policyID, &months, &monthly, &sale.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, installment.ErrSaleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sale: %w", err)
	}

	sale.CustomerID = installment.CustomerID(customerID)
	sale.Kind = installment.SaleKind(kind)
	sale.Status = installment.SaleStatus(status)
	sale.TotalAmount = installment.Amount(total)
	sale.PaidAmount = installment.Amount(paid)
	if policyID.Valid {
		p := installment.PolicyID(policyID.Int64)
		sale.WithdrawalPolicyID = &p
	}
	if months.Valid {
		m := int(months.Int32)
		sale.DurationMonths = &m
	}
	if monthly.Valid {
		a := installment.Amount(monthly.Int64)
		sale.MonthlyAmount = &a
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	return &sale, nil
}

func (s *Store) ListReferences(ctx context.Context, saleID installment.SaleID) ([]installment.PaymentReference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, amount, valid_from, valid_to
		FROM payment_references
		WHERE sale_id = $1
		ORDER BY id`, int64(saleID))
	if err != nil {
		return nil, fmt.Errorf("failed to query references: %w", err)
	}
	defer rows.Close()

	var refs []installment.PaymentReference
	for rows.Next() {
		ref := installment.PaymentReference{SaleID: saleID}
		var id, amount int64
		if err := rows.Scan(&id, &ref.Code, &amount, &ref.Validity.Start, &ref.Validity.End); err != nil {
			return nil, fmt.Errorf("failed to scan reference: %w", err)
		}
		ref.ID = installment.ReferenceID(id)
		ref.Amount = installment.Amount(amount)
		ref.Validity.Start = dateOnly(ref.Validity.Start)
		ref.Validity.End = dateOnly(ref.Validity.End)
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (s *Store) ListInstallments(ctx context.Context, saleID installment.SaleID) ([]installment.Installment, error) {
	return s.queryInstallments(ctx, `
		SELECT id, sale_id, reference_id, due_date, amount, status, outcome_code
		FROM installments
		WHERE sale_id = $1
		ORDER BY due_date, reference_id NULLS FIRST, id`, int64(saleID))
}

func (s *Store) ListDueInstallments(ctx context.Context, day time.Time) ([]installment.Installment, error) {
	return s.queryInstallments(ctx, `
		SELECT id, sale_id, reference_id, due_date, amount, status, outcome_code
		FROM installments
		WHERE due_date = $1 AND status = $2
		ORDER BY sale_id, reference_id NULLS FIRST, id`,
		dateOnly(day), string(installment.InstallmentPending))
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
			row           installment.Installment
			id, sale, amt int64
			refID         sql.NullInt64
			status        string
		)
		if err := rows.Scan(&id, &sale, &refID, &row.DueDate, &amt, &status, &row.OutcomeCode); err != nil {
			return nil, fmt.Errorf("failed to scan installment: %w", err)
		}
		row.ID = installment.InstallmentID(id)
		row.SaleID = installment.SaleID(sale)
		row.Amount = installment.Amount(amt)
		row.Status = installment.InstallmentStatus(status)
		row.DueDate = dateOnly(row.DueDate)
		if refID.Valid {
			r := installment.ReferenceID(refID.Int64)
			row.ReferenceID = &r
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// =============================================================================
// DIRECTORIES
// =============================================================================

func (s *Store) SaveCustomer(ctx context.Context, c installment.Customer) (installment.CustomerID, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO customers (first_name, last_name, collection_account_number)
		 VALUES ($1, $2, $3) RETURNING id`,
		c.FirstName, c.LastName, c.CollectionAccountNumber,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to save customer: %w", err)
	}
	return installment.CustomerID(id), nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]installment.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, first_name, last_name, collection_account_number
		FROM customers
		ORDER BY lower(first_name), id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []installment.Customer
	for rows.Next() {
		var (
			c       installment.Customer
			id      int64
			account sql.NullString
		)
		if err := rows.Scan(&id, &c.FirstName, &c.LastName, &account); err != nil {
			return nil, err
		}
		c.ID = installment.CustomerID(id)
		if account.Valid {
			c.CollectionAccountNumber = &account.String
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *Store) SaveWithdrawalPolicy(ctx context.Context, p installment.WithdrawalPolicy) (installment.PolicyID, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO withdrawal_policies (name, withdrawal_day, type) VALUES ($1, $2, $3) RETURNING id`,
		p.Name, p.WithdrawalDay, p.Type,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to save withdrawal policy: %w", err)
	}
	return installment.PolicyID(id), nil
}

func (s *Store) ListWithdrawalPolicies(ctx context.Context) ([]installment.WithdrawalPolicy, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, withdrawal_day, type FROM withdrawal_policies ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []installment.WithdrawalPolicy
	for rows.Next() {
		var (
			p  installment.WithdrawalPolicy
			id int64
		)
		if err := rows.Scan(&id, &p.Name, &p.WithdrawalDay, &p.Type); err != nil {
			return nil, err
		}
		p.ID = installment.PolicyID(id)
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// Reset truncates every table. Development only.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		TRUNCATE installments, payment_references, sales, withdrawal_policies, customers
		RESTART IDENTITY CASCADE`)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func dateOnly(t time.Time) time.Time {
	return installment.Date(t.Year(), t.Month(), t.Day())
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
