// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/installments/installment"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements installment.Store, installment.Reader and both
// directories. IDs are sequential per collection, starting at 1.
type Memory struct {
	mu           sync.RWMutex
	sales        map[installment.SaleID]installment.Sale
	references   []installment.PaymentReference
	installments []installment.Installment
	codes        map[string]bool
	customers    []installment.Customer
	policies     []installment.WithdrawalPolicy

	nextSale        int64
	nextReference   int64
	nextInstallment int64
}

func NewMemory() *Memory {
	return &Memory{
		sales: make(map[installment.SaleID]installment.Sale),
		codes: make(map[string]bool),
	}
}

// InsertSales adds sales atomically.
func (m *Memory) InsertSales(_ context.Context, sales []installment.Sale) ([]installment.SaleID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]installment.SaleID, len(sales))
	for i, s := range sales {
		m.nextSale++
		s.ID = installment.SaleID(m.nextSale)
		m.sales[s.ID] = s
		ids[i] = s.ID
	}
	return ids, nil
}

// InsertReferences adds references atomically. A duplicate code anywhere
// in the batch or the store rejects the whole batch.
func (m *Memory) InsertReferences(_ context.Context, refs []installment.PaymentReference) ([]installment.ReferenceID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check all codes first (atomic check)
	seen := make(map[string]bool, len(refs))
	for _, r := range refs {
		if m.codes[r.Code] || seen[r.Code] {
			return nil, installment.ErrDuplicateCode
		}
		if _, ok := m.sales[r.SaleID]; !ok {
			return nil, installment.ErrSaleNotFound
		}
		seen[r.Code] = true
	}

	ids := make([]installment.ReferenceID, len(refs))
	for i, r := range refs {
		m.nextReference++
		r.ID = installment.ReferenceID(m.nextReference)
		m.references = append(m.references, r)
		m.codes[r.Code] = true
		ids[i] = r.ID
	}
	return ids, nil
}

// InsertInstallments adds installment rows atomically.
func (m *Memory) InsertInstallments(_ context.Context, rows []installment.Installment) ([]installment.InstallmentID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range rows {
		if _, ok := m.sales[r.SaleID]; !ok {
			return nil, installment.ErrSaleNotFound
		}
	}

	ids := make([]installment.InstallmentID, len(rows))
	for i, r := range rows {
		m.nextInstallment++
		r.ID = installment.InstallmentID(m.nextInstallment)
		m.installments = append(m.installments, r)
		ids[i] = r.ID
	}
	return ids, nil
}

func (m *Memory) GetSale(_ context.Context, id installment.SaleID) (*installment.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sales[id]
	if !ok {
		return nil, installment.ErrSaleNotFound
	}
	return &s, nil
}

func (m *Memory) ListReferences(_ context.Context, saleID installment.SaleID) ([]installment.PaymentReference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []installment.PaymentReference
	for _, r := range m.references {
		if r.SaleID == saleID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *Memory) ListInstallments(_ context.Context, saleID installment.SaleID) ([]installment.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []installment.Installment
	for _, r := range m.installments {
		if r.SaleID == saleID {
			result = append(result, r)
		}
	}
	sortInstallments(result)
	return result, nil
}

func (m *Memory) ListDueInstallments(_ context.Context, day time.Time) ([]installment.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	day = installment.Date(day.Year(), day.Month(), day.Day())
	var result []installment.Installment
	for _, r := range m.installments {
		if r.Status == installment.InstallmentPending && r.DueDate.Equal(day) {
			result = append(result, r)
		}
	}
	sortInstallments(result)
	return result, nil
}

// sortInstallments orders by due date, then by reference creation order.
// Installment IDs are assigned in generation order, which already encodes
// reference order within a month.
func sortInstallments(rows []installment.Installment) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].DueDate.Equal(rows[j].DueDate) {
			return rows[i].DueDate.Before(rows[j].DueDate)
		}
		return rows[i].ID < rows[j].ID
	})
}

// =============================================================================
// DIRECTORIES
// =============================================================================

// AddCustomer registers a customer, assigning an ID when c.ID is zero.
func (m *Memory) AddCustomer(c installment.Customer) installment.CustomerID {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.ID == 0 {
		c.ID = installment.CustomerID(len(m.customers) + 1)
	}
	m.customers = append(m.customers, c)
	return c.ID
}

// AddPolicy registers a withdrawal policy, assigning an ID when p.ID is zero.
func (m *Memory) AddPolicy(p installment.WithdrawalPolicy) installment.PolicyID {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ID == 0 {
		p.ID = installment.PolicyID(len(m.policies) + 1)
	}
	m.policies = append(m.policies, p)
	return p.ID
}

// SaveCustomer is AddCustomer behind the seeding signature shared with the
// SQL stores.
func (m *Memory) SaveCustomer(_ context.Context, c installment.Customer) (installment.CustomerID, error) {
	return m.AddCustomer(c), nil
}

// SaveWithdrawalPolicy is AddPolicy behind the seeding signature.
func (m *Memory) SaveWithdrawalPolicy(_ context.Context, p installment.WithdrawalPolicy) (installment.PolicyID, error) {
	return m.AddPolicy(p), nil
}

// ListCustomers returns customers ordered by first name.
func (m *Memory) ListCustomers(_ context.Context) ([]installment.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]installment.Customer, len(m.customers))
	copy(result, m.customers)
	sort.SliceStable(result, func(i, j int) bool {
		return strings.ToLower(result[i].FirstName) < strings.ToLower(result[j].FirstName)
	})
	return result, nil
}

// ListWithdrawalPolicies returns policies in registration order.
func (m *Memory) ListWithdrawalPolicies(_ context.Context) ([]installment.WithdrawalPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]installment.WithdrawalPolicy, len(m.policies))
	copy(result, m.policies)
	return result, nil
}

// Reset drops every record and restarts id sequences.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sales = make(map[installment.SaleID]installment.Sale)
	m.codes = make(map[string]bool)
	m.references = nil
	m.installments = nil
	m.customers = nil
	m.policies = nil
	m.nextSale, m.nextReference, m.nextInstallment = 0, 0, 0
	return nil
}
