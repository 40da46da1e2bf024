package installment

import (
	"fmt"
	"time"
)

// =============================================================================
// SCHEDULE GENERATOR - References x months -> installment rows
// =============================================================================

// SchedulePlan is the input of ScheduleGenerator.Generate.
//
// References must already carry their store-assigned IDs. When References
// is empty the generator emits one fallback row per month carrying
// MonthlyAmount and no reference.
type SchedulePlan struct {
	SaleID        SaleID
	References    []PaymentReference
	MonthlyAmount Amount
	Months        int
	WithdrawalDay int
}

// MaxDurationMonths is the longest schedule a sale may carry (50 years).
const MaxDurationMonths = 600

// ScheduleGenerator lays out the due-date timeline of a sale.
//
// The first due month is the month after Clock.Now(); installments never
// fall in the creation month itself. The creation month is read in
// Location, UTC when nil.
type ScheduleGenerator struct {
	Clock    Clock
	Location *time.Location
}

// NewScheduleGenerator returns a generator reading the given clock.
func NewScheduleGenerator(clock Clock) *ScheduleGenerator {
	if clock == nil {
		clock = SystemClock{}
	}
	return &ScheduleGenerator{Clock: clock}
}

// DueDates returns one due date per month for months consecutive months,
// starting the month after now. withdrawalDay is clamped to the last valid
// day of each month.
func (g *ScheduleGenerator) DueDates(months, withdrawalDay int) ([]time.Time, error) {
	if months < 1 || months > MaxDurationMonths {
		return nil, fmt.Errorf("%w: months must be 1..%d, got %d", ErrInvalidSchedule, MaxDurationMonths, months)
	}
	if withdrawalDay < 1 || withdrawalDay > 31 {
		return nil, fmt.Errorf("%w: withdrawal day must be 1..31, got %d", ErrInvalidSchedule, withdrawalDay)
	}

	loc := g.Location
	if loc == nil {
		loc = time.UTC
	}
	start := StartOfMonth(g.Clock.Now().In(loc))
	dates := make([]time.Time, months)
	for i := range dates {
		// Month arithmetic from day 1 so the offset never skips a short month.
		month := start.AddDate(0, i+1, 0)
		dates[i] = DayInMonth(month.Year(), month.Month(), withdrawalDay)
	}
	return dates, nil
}

// Generate returns the installment rows of plan: grouped by month in
// ascending order, and within a month in plan.References order.
// Row count is Months * len(References), or Months for the fallback.
func (g *ScheduleGenerator) Generate(plan SchedulePlan) ([]Installment, error) {
	dates, err := g.DueDates(plan.Months, plan.WithdrawalDay)
	if err != nil {
		return nil, err
	}

	perMonth := len(plan.References)
	if perMonth == 0 {
		perMonth = 1
	}

	rows := make([]Installment, 0, len(dates)*perMonth)
	for _, due := range dates {
		if len(plan.References) == 0 {
			rows = append(rows, newInstallment(plan.SaleID, nil, due, plan.MonthlyAmount))
			continue
		}
		for _, ref := range plan.References {
			refID := ref.ID
			rows = append(rows, newInstallment(plan.SaleID, &refID, due, ref.Amount))
		}
	}
	return rows, nil
}

func newInstallment(saleID SaleID, refID *ReferenceID, due time.Time, amount Amount) Installment {
	return Installment{
		SaleID:      saleID,
		ReferenceID: refID,
		DueDate:     due,
		Amount:      amount,
		Status:      InstallmentPending,
		OutcomeCode: OutcomeNotReported,
	}
}
