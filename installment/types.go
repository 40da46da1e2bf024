/*
Package installment provides the installment allocation and schedule engine.

PURPOSE:
  Turns a sale (total price, down payment, duration, withdrawal-day policy)
  into a deterministic set of records:
  - Sale: the purchase itself
  - PaymentReference: 1-5 collection channels sharing the monthly amount
  - Installment: one expected withdrawal per reference per month

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: integer currency units, never fractional
  - Sale / PaymentReference / Installment: the three persisted record sets
  - Customer / WithdrawalPolicy: read-only directory records

DESIGN PRINCIPLES:
  1. Exactness: reference amounts always sum to the monthly amount
  2. Determinism: clock and reference codes are injected collaborators
  3. Copy, don't derive: an installment carries its own amount, copied
     from its reference at generation time

SEE ALSO:
  - split.go: ReferenceSplitter
  - schedule.go: ScheduleGenerator
  - allocation.go: Allocator (submission orchestration)
*/
package installment

import "time"

// =============================================================================
// AMOUNT - Integer currency units
// =============================================================================

// Amount is a quantity of money in integer currency units.
type Amount int64

// Sum returns the total of the given amounts.
func Sum(amounts []Amount) Amount {
	var total Amount
	for _, a := range amounts {
		total += a
	}
	return total
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SaleID int64
type ReferenceID int64
type InstallmentID int64
type CustomerID int64
type PolicyID int64

// =============================================================================
// SALE
// =============================================================================

type SaleKind string

const (
	KindCash        SaleKind = "cash"
	KindInstallment SaleKind = "installment"
)

// IsValid reports whether k is a known sale kind.
func (k SaleKind) IsValid() bool {
	return k == KindCash || k == KindInstallment
}

type SaleStatus string

const (
	SaleCompleted SaleStatus = "completed"
	SaleActive    SaleStatus = "active"
)

// Sale is one purchase transaction.
//
// INVARIANTS:
//   - cash: PaidAmount == TotalAmount, Status == completed, policy/months/monthly nil
//   - installment: Status == active at creation, *DurationMonths >= 1
type Sale struct {
	ID                 SaleID
	CustomerID         CustomerID
	Kind               SaleKind
	ProductName        string
	TotalAmount        Amount
	PaidAmount         Amount
	Status             SaleStatus
	WithdrawalPolicyID *PolicyID
	DurationMonths     *int
	MonthlyAmount      *Amount
	CreatedAt          time.Time
}

// =============================================================================
// PAYMENT REFERENCE
// =============================================================================

// PaymentReference is one recurring collection channel for a sale.
// Immutable once created.
type PaymentReference struct {
	ID       ReferenceID
	SaleID   SaleID
	Code     string
	Amount   Amount
	Validity ValidityWindow
}

// =============================================================================
// INSTALLMENT
// =============================================================================

type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
)

// OutcomeNotReported is the withdrawal outcome code of a row the external
// withdrawal system has not reported on yet.
const OutcomeNotReported = "not_reported"

// Installment is one expected withdrawal event for one reference in one
// calendar month. ReferenceID is nil only for the fallback row emitted when
// a plan carries no references.
type Installment struct {
	ID          InstallmentID
	SaleID      SaleID
	ReferenceID *ReferenceID
	DueDate     time.Time
	Amount      Amount
	Status      InstallmentStatus
	OutcomeCode string
}

// =============================================================================
// DIRECTORY RECORDS (read-only)
// =============================================================================

// Customer is a customer identity returned by the customer directory.
type Customer struct {
	ID                      CustomerID
	FirstName               string
	LastName                string
	CollectionAccountNumber *string
}

// DefaultPolicyType marks the withdrawal policy chosen when a submission
// names none.
const DefaultPolicyType = 1

// WithdrawalPolicy configures on which day of the month withdrawals occur.
type WithdrawalPolicy struct {
	ID            PolicyID
	Name          string
	WithdrawalDay int
	Type          int
}
