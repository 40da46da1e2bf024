/*
store.go - Persistence and directory interfaces

PURPOSE:
  Defines the boundary between the allocation engine and the outside world.
  The engine writes through Store and reads the two directories; it never
  touches a database directly.

KEY INTERFACES:
  Store:             Batch inserts for sales, references, installments
  Reader:            Read-back of what a submission produced
  CustomerDirectory: Customer identities (read-only)
  PolicyDirectory:   Withdrawal-day policies (read-only)

BATCH CONTRACT:
  Each Insert* call is atomic on its own: either every record of the batch
  is written and an ID is returned for each, in input order, or none is.
  Nothing is atomic ACROSS calls. A submission issues up to three calls and
  a failure in a later one leaves the earlier ones committed.

IMPLEMENTATIONS:
  - installment/store/memory.go: In-memory for testing
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/postgres.go: PostgreSQL

SEE ALSO:
  - allocation.go: The only writer
*/
package installment

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Batch inserts
// =============================================================================

// Store persists the three record sets of a submission.
// IDs in the input records are ignored; returned IDs match input order.
type Store interface {
	InsertSales(ctx context.Context, sales []Sale) ([]SaleID, error)
	InsertReferences(ctx context.Context, refs []PaymentReference) ([]ReferenceID, error)
	InsertInstallments(ctx context.Context, rows []Installment) ([]InstallmentID, error)
}

// Reader reads back persisted records.
type Reader interface {
	// GetSale returns ErrSaleNotFound for an unknown id.
	GetSale(ctx context.Context, id SaleID) (*Sale, error)

	// ListReferences returns the references of a sale in creation order.
	ListReferences(ctx context.Context, saleID SaleID) ([]PaymentReference, error)

	// ListInstallments returns the rows of a sale ordered by due date, then
	// by reference creation order.
	ListInstallments(ctx context.Context, saleID SaleID) ([]Installment, error)

	// ListDueInstallments returns pending rows of all sales due on day.
	ListDueInstallments(ctx context.Context, day time.Time) ([]Installment, error)
}

// =============================================================================
// DIRECTORIES - Read-only collaborators
// =============================================================================

// CustomerDirectory lists customers ordered by first name.
type CustomerDirectory interface {
	ListCustomers(ctx context.Context) ([]Customer, error)
}

// PolicyDirectory lists withdrawal-day policies.
type PolicyDirectory interface {
	ListWithdrawalPolicies(ctx context.Context) ([]WithdrawalPolicy, error)
}

// DirectoryWriter seeds the two directories. Used by demo scenarios and
// tests; the allocator never writes to a directory.
type DirectoryWriter interface {
	SaveCustomer(ctx context.Context, c Customer) (CustomerID, error)
	SaveWithdrawalPolicy(ctx context.Context, p WithdrawalPolicy) (PolicyID, error)
}

// DefaultPolicy picks the policy of type DefaultPolicyType, or else the first
// one listed. ok is false when policies is empty.
func DefaultPolicy(policies []WithdrawalPolicy) (WithdrawalPolicy, bool) {
	if len(policies) == 0 {
		return WithdrawalPolicy{}, false
	}
	for _, p := range policies {
		if p.Type == DefaultPolicyType {
			return p, true
		}
	}
	return policies[0], true
}
