package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/installments/installment"
	"github.com/warp/installments/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seed(t *testing.T, store *sqlite.Store) (installment.CustomerID, installment.PolicyID) {
	t.Helper()
	ctx := context.Background()

	account := "FR7630001007941234567890185"
	customerID, err := store.SaveCustomer(ctx, installment.Customer{
		FirstName:               "Amina",
		LastName:                "Diallo",
		CollectionAccountNumber: &account,
	})
	require.NoError(t, err)

	policyID, err := store.SaveWithdrawalPolicy(ctx, installment.WithdrawalPolicy{
		Name:          "Fifteenth",
		WithdrawalDay: 15,
		Type:          installment.DefaultPolicyType,
	})
	require.NoError(t, err)
	return customerID, policyID
}

func newAllocator(t *testing.T, store *sqlite.Store, now time.Time) *installment.Allocator {
	a := installment.NewAllocator(store, store, store, zaptest.NewLogger(t))
	a.Schedule = installment.NewScheduleGenerator(installment.FixedClock{At: now})
	a.Splitter = installment.NewReferenceSplitter(&installment.SequenceCodes{Prefix: "T"})
	return a
}

func TestStore_InstallmentSubmissionRoundTrip(t *testing.T) {
	// GIVEN: A customer, a default policy and a sale of 3000 over 3 months
	store := newTestStore(t)
	customerID, policyID := seed(t, store)
	allocator := newAllocator(t, store, time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	price := installment.Amount(3000)
	months := 3

	// WHEN: Submitting it
	saleID, err := allocator.Submit(ctx, installment.SaleInput{
		CustomerID:       customerID,
		Kind:             installment.KindInstallment,
		ProductName:      "Fridge",
		CashPrice:        2800,
		InstallmentPrice: &price,
		Months:           &months,
	})
	require.NoError(t, err)

	// THEN: The sale reads back with its plan
	sale, err := store.GetSale(ctx, saleID)
	require.NoError(t, err)
	assert.Equal(t, installment.SaleActive, sale.Status)
	assert.Equal(t, installment.Amount(3000), sale.TotalAmount)
	require.NotNil(t, sale.MonthlyAmount)
	assert.Equal(t, installment.Amount(1000), *sale.MonthlyAmount)
	require.NotNil(t, sale.WithdrawalPolicyID)
	assert.Equal(t, policyID, *sale.WithdrawalPolicyID)
	require.NotNil(t, sale.DurationMonths)
	assert.Equal(t, 3, *sale.DurationMonths)

	// AND: 1000 splits into two references of 500
	refs, err := store.ListReferences(ctx, saleID)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "T-000001", refs[0].Code)
	assert.Equal(t, installment.Amount(500), refs[0].Amount)
	assert.Equal(t, installment.Date(2026, time.February, 15), refs[0].Validity.Start)
	assert.Equal(t, installment.Date(2026, time.April, 15), refs[0].Validity.End)

	// AND: 6 rows, grouped by month in reference order
	rows, err := store.ListInstallments(ctx, saleID)
	require.NoError(t, err)
	require.Len(t, rows, 6)
	for i, row := range rows {
		require.NotNil(t, row.ReferenceID)
		assert.Equal(t, refs[i%2].ID, *row.ReferenceID)
		assert.Equal(t, installment.Amount(500), row.Amount)
		assert.Equal(t, installment.InstallmentPending, row.Status)
		assert.Equal(t, installment.OutcomeNotReported, row.OutcomeCode)
	}
	assert.Equal(t, installment.Date(2026, time.February, 15), rows[0].DueDate)
	assert.Equal(t, installment.Date(2026, time.April, 15), rows[5].DueDate)
}

func TestStore_CashSaleHasNoSchedule(t *testing.T) {
	// GIVEN: A customer
	store := newTestStore(t)
	customerID, _ := seed(t, store)
	allocator := newAllocator(t, store, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	// WHEN: Submitting a cash sale
	saleID, err := allocator.Submit(ctx, installment.SaleInput{
		CustomerID:  customerID,
		Kind:        installment.KindCash,
		ProductName: "Kettle",
		CashPrice:   450,
	})
	require.NoError(t, err)

	// THEN: Only the sale row exists
	sale, err := store.GetSale(ctx, saleID)
	require.NoError(t, err)
	assert.Equal(t, installment.SaleCompleted, sale.Status)
	assert.Equal(t, sale.TotalAmount, sale.PaidAmount)
	assert.Nil(t, sale.MonthlyAmount)
	assert.Nil(t, sale.WithdrawalPolicyID)

	refs, err := store.ListReferences(ctx, saleID)
	require.NoError(t, err)
	assert.Empty(t, refs)

	rows, err := store.ListInstallments(ctx, saleID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStore_DuplicateReferenceCodeRejectsBatch(t *testing.T) {
	// GIVEN: A sale with one committed reference
	store := newTestStore(t)
	customerID, _ := seed(t, store)
	ctx := context.Background()

	saleIDs, err := store.InsertSales(ctx, []installment.Sale{{
		CustomerID: customerID, Kind: installment.KindInstallment, ProductName: "TV",
		TotalAmount: 1000, Status: installment.SaleActive, CreatedAt: time.Now(),
	}})
	require.NoError(t, err)

	_, err = store.InsertReferences(ctx, []installment.PaymentReference{
		{SaleID: saleIDs[0], Code: "ABC", Amount: 500},
	})
	require.NoError(t, err)

	// WHEN: Inserting a batch where the second code is taken
	_, err = store.InsertReferences(ctx, []installment.PaymentReference{
		{SaleID: saleIDs[0], Code: "XYZ", Amount: 500},
		{SaleID: saleIDs[0], Code: "ABC", Amount: 500},
	})

	// THEN: The batch fails as a whole
	assert.True(t, errors.Is(err, installment.ErrDuplicateCode))
	refs, err := store.ListReferences(ctx, saleIDs[0])
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}

func TestStore_GetSaleNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSale(context.Background(), 42)

	assert.ErrorIs(t, err, installment.ErrSaleNotFound)
}

func TestStore_ListDueInstallments(t *testing.T) {
	// GIVEN: Two sales with schedules on the 15th
	store := newTestStore(t)
	customerID, _ := seed(t, store)
	allocator := newAllocator(t, store, time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for _, p := range []installment.Amount{300, 1200} {
		price := p
		months := 2
		_, err := allocator.Submit(ctx, installment.SaleInput{
			CustomerID:       customerID,
			Kind:             installment.KindInstallment,
			ProductName:      "Phone",
			CashPrice:        price,
			InstallmentPrice: &price,
			Months:           &months,
		})
		require.NoError(t, err)
	}

	// WHEN: Listing what is due on June 15
	due, err := store.ListDueInstallments(ctx, installment.Date(2026, time.June, 15))
	require.NoError(t, err)

	// THEN: One row for the first sale (150), one for the second (600)
	require.Len(t, due, 2)
	assert.Equal(t, installment.Amount(150), due[0].Amount)
	assert.Equal(t, installment.Amount(600), due[1].Amount)

	// AND: Nothing is due the day after
	none, err := store.ListDueInstallments(ctx, installment.Date(2026, time.June, 16))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_ListCustomersOrderedByFirstName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"zoé", "Bruno", "adèle"} {
		_, err := store.SaveCustomer(ctx, installment.Customer{FirstName: name, LastName: "X"})
		require.NoError(t, err)
	}

	customers, err := store.ListCustomers(ctx)
	require.NoError(t, err)
	require.Len(t, customers, 3)
	assert.Equal(t, "adèle", customers[0].FirstName)
	assert.Equal(t, "Bruno", customers[1].FirstName)
	assert.Equal(t, "zoé", customers[2].FirstName)
	assert.Nil(t, customers[0].CollectionAccountNumber)
}

func TestStore_Reset(t *testing.T) {
	store := newTestStore(t)
	seed(t, store)
	ctx := context.Background()
	cash := func(customerID installment.CustomerID) []installment.Sale {
		return []installment.Sale{{
			CustomerID: customerID, Kind: installment.KindCash, ProductName: "Lamp",
			TotalAmount: 10, PaidAmount: 10, Status: installment.SaleCompleted, CreatedAt: time.Now().UTC(),
		}}
	}
	_, err := store.InsertSales(ctx, cash(1))
	require.NoError(t, err)

	require.NoError(t, store.Reset(ctx))

	customers, err := store.ListCustomers(ctx)
	require.NoError(t, err)
	assert.Empty(t, customers)
	policies, err := store.ListWithdrawalPolicies(ctx)
	require.NoError(t, err)
	assert.Empty(t, policies)

	// AND: Id sequences restart at 1
	customerID, policyID := seed(t, store)
	assert.Equal(t, installment.CustomerID(1), customerID)
	assert.Equal(t, installment.PolicyID(1), policyID)
	ids, err := store.InsertSales(ctx, cash(customerID))
	require.NoError(t, err)
	assert.Equal(t, installment.SaleID(1), ids[0])
}
