/*
allocation.go - Sale submission orchestration

PURPOSE:
  Validates a sale submission, branches on cash vs installment, runs the
  ReferenceSplitter and ScheduleGenerator, and writes the three record sets.

SUBMISSION FLOW:
  1. Validate input (no store call before this passes)
  2. Resolve customer and withdrawal policy through the directories
  3. monthly = floor((installmentPrice - downPayment) / months)
  4. InsertSales        -> sale id          (failure: StoreWriteError)
  5. InsertReferences   -> reference ids    (failure: PartialSubmissionError)
  6. InsertInstallments -> installment ids  (failure: PartialSubmissionError)

  Cash sales stop after step 4: no references, no installments.

NOT IDEMPOTENT:
  There is no dedup key. Submitting the same input twice creates two sales.
  Retrying after a PartialSubmissionError also creates a new sale; the
  orphaned rows reported by the error are left for the caller.

SEE ALSO:
  - split.go / schedule.go: The two computations
  - errors.go: Error types
*/
package installment

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// SaleInput is a submission as collected from the caller.
// Optional fields are nil when not provided.
type SaleInput struct {
	CustomerID         CustomerID
	Kind               SaleKind
	ProductName        string
	CashPrice          Amount
	InstallmentPrice   *Amount
	DownPayment        *Amount
	Months             *int
	WithdrawalPolicyID *PolicyID
}

// Allocator is the submission orchestrator.
type Allocator struct {
	Store     Store
	Customers CustomerDirectory
	Policies  PolicyDirectory
	Splitter  *ReferenceSplitter
	Schedule  *ScheduleGenerator
	Logger    *zap.Logger
}

// NewAllocator wires an allocator with default splitter limits, UUID
// reference codes and the system clock.
func NewAllocator(store Store, customers CustomerDirectory, policies PolicyDirectory, logger *zap.Logger) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{
		Store:     store,
		Customers: customers,
		Policies:  policies,
		Splitter:  NewReferenceSplitter(UUIDCodes{}),
		Schedule:  NewScheduleGenerator(SystemClock{}),
		Logger:    logger,
	}
}

// MonthlyInstallmentAmount returns (price - downPayment) / months, floored
// to integer currency units.
func MonthlyInstallmentAmount(price, downPayment Amount, months int) Amount {
	if months < 1 {
		return 0
	}
	financed := price - downPayment
	if financed <= 0 {
		return 0
	}
	return financed / Amount(months)
}

// Submit validates and persists one sale. It returns the new sale id, or a
// *ValidationError, *StoreWriteError or *PartialSubmissionError.
func (a *Allocator) Submit(ctx context.Context, in SaleInput) (SaleID, error) {
	log := a.Logger.With(
		zap.Int64("customer_id", int64(in.CustomerID)),
		zap.String("kind", string(in.Kind)),
	)

	if err := validate(in); err != nil {
		log.Warn("sale rejected", zap.Error(err))
		return 0, err
	}
	if err := a.checkCustomer(ctx, in.CustomerID); err != nil {
		log.Warn("sale rejected", zap.Error(err))
		return 0, err
	}

	now := a.Schedule.Clock.Now()
	sale := Sale{
		CustomerID:  in.CustomerID,
		Kind:        in.Kind,
		ProductName: strings.TrimSpace(in.ProductName),
		CreatedAt:   now,
	}

	if in.Kind == KindCash {
		sale.TotalAmount = in.CashPrice
		sale.PaidAmount = in.CashPrice
		sale.Status = SaleCompleted

		saleID, err := a.insertSale(ctx, sale)
		if err != nil {
			log.Error("sale write failed", zap.String("step", string(StepSale)), zap.Error(err))
			return 0, err
		}
		log.Info("cash sale created", zap.Int64("sale_id", int64(saleID)))
		return saleID, nil
	}

	policy, err := a.resolvePolicy(ctx, in.WithdrawalPolicyID)
	if err != nil {
		log.Warn("sale rejected", zap.Error(err))
		return 0, err
	}

	months := *in.Months
	down := Amount(0)
	if in.DownPayment != nil {
		down = *in.DownPayment
	}
	monthly := MonthlyInstallmentAmount(*in.InstallmentPrice, down, months)

	dueDates, err := a.Schedule.DueDates(months, policy.WithdrawalDay)
	if err != nil {
		// The policy carries an unusable day; nothing has been written yet.
		return 0, invalid("withdrawal_policy_id", "policy %d: %v", policy.ID, err)
	}

	policyID := policy.ID
	sale.TotalAmount = *in.InstallmentPrice
	sale.PaidAmount = down
	sale.Status = SaleActive
	sale.WithdrawalPolicyID = &policyID
	sale.DurationMonths = &months
	sale.MonthlyAmount = &monthly

	saleID, err := a.insertSale(ctx, sale)
	if err != nil {
		log.Error("sale write failed", zap.String("step", string(StepSale)), zap.Error(err))
		return 0, err
	}
	log = log.With(zap.Int64("sale_id", int64(saleID)))

	refs, err := a.Splitter.References(saleID, monthly, WindowFor(dueDates))
	if err != nil {
		return 0, a.partial(log, StepReferences, saleID, nil, err)
	}
	refIDs, err := a.Store.InsertReferences(ctx, refs)
	if err == nil && len(refIDs) != len(refs) {
		err = fmt.Errorf("store returned %d ids for %d references", len(refIDs), len(refs))
	}
	if err != nil {
		return 0, a.partial(log, StepReferences, saleID, nil, err)
	}
	for i := range refs {
		refs[i].ID = refIDs[i]
	}

	rows, err := a.Schedule.Generate(SchedulePlan{
		SaleID:        saleID,
		References:    refs,
		MonthlyAmount: monthly,
		Months:        months,
		WithdrawalDay: policy.WithdrawalDay,
	})
	if err != nil {
		return 0, a.partial(log, StepInstallments, saleID, refIDs, err)
	}
	if _, err := a.Store.InsertInstallments(ctx, rows); err != nil {
		return 0, a.partial(log, StepInstallments, saleID, refIDs, err)
	}

	log.Info("installment sale created",
		zap.Int64("monthly_amount", int64(monthly)),
		zap.Int("references", len(refs)),
		zap.Int("installments", len(rows)),
		zap.Int64("policy_id", int64(policy.ID)),
	)
	return saleID, nil
}

func (a *Allocator) insertSale(ctx context.Context, sale Sale) (SaleID, error) {
	ids, err := a.Store.InsertSales(ctx, []Sale{sale})
	if err == nil && len(ids) != 1 {
		err = fmt.Errorf("store returned %d ids for 1 sale", len(ids))
	}
	if err != nil {
		return 0, &StoreWriteError{Step: StepSale, Err: err}
	}
	return ids[0], nil
}

func (a *Allocator) partial(log *zap.Logger, step Step, saleID SaleID, refIDs []ReferenceID, err error) error {
	log.Error("partial submission",
		zap.String("step", string(step)),
		zap.Int("committed_references", len(refIDs)),
		zap.Error(err),
	)
	return &PartialSubmissionError{
		Step:         step,
		SaleID:       saleID,
		ReferenceIDs: refIDs,
		Err:          &StoreWriteError{Step: step, Err: err},
	}
}

func (a *Allocator) checkCustomer(ctx context.Context, id CustomerID) error {
	if a.Customers == nil {
		return nil
	}
	customers, err := a.Customers.ListCustomers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list customers: %w", err)
	}
	for _, c := range customers {
		if c.ID == id {
			return nil
		}
	}
	return invalid("customer_id", "unknown customer %d", id)
}

func (a *Allocator) resolvePolicy(ctx context.Context, id *PolicyID) (WithdrawalPolicy, error) {
	if a.Policies == nil {
		return WithdrawalPolicy{}, invalid("withdrawal_policy_id", "no policy directory configured")
	}
	policies, err := a.Policies.ListWithdrawalPolicies(ctx)
	if err != nil {
		return WithdrawalPolicy{}, fmt.Errorf("failed to list withdrawal policies: %w", err)
	}

	if id != nil {
		for _, p := range policies {
			if p.ID == *id {
				return p, nil
			}
		}
		return WithdrawalPolicy{}, invalid("withdrawal_policy_id", "unknown policy %d", *id)
	}

	policy, ok := DefaultPolicy(policies)
	if !ok {
		return WithdrawalPolicy{}, invalid("withdrawal_policy_id", "no withdrawal policy available")
	}
	return policy, nil
}

func validate(in SaleInput) error {
	if in.CustomerID == 0 {
		return invalid("customer_id", "required")
	}
	if !in.Kind.IsValid() {
		return invalid("kind", "must be %q or %q", KindCash, KindInstallment)
	}
	if strings.TrimSpace(in.ProductName) == "" {
		return invalid("product_name", "required")
	}

	if in.Kind == KindCash {
		if in.CashPrice <= 0 {
			return invalid("cash_price", "must be greater than zero")
		}
		return nil
	}

	if in.InstallmentPrice == nil {
		return invalid("installment_price", "required")
	}
	if *in.InstallmentPrice <= 0 {
		return invalid("installment_price", "must be greater than zero")
	}
	if in.DownPayment != nil {
		if *in.DownPayment < 0 {
			return invalid("down_payment", "must not be negative")
		}
		if *in.DownPayment > *in.InstallmentPrice {
			return invalid("down_payment", "must not exceed installment price")
		}
	}
	if in.Months == nil {
		return invalid("months", "required")
	}
	if *in.Months < 1 {
		return invalid("months", "must be at least 1")
	}
	if *in.Months > MaxDurationMonths {
		return invalid("months", "must be at most %d", MaxDurationMonths)
	}
	return nil
}
