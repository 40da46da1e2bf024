/*
handlers_test.go - Unit tests for API handlers

Tests for:
- Sale submission (cash, installment, validation, partial failures)
- Sale read-back and schedule listing
- Directory listings and the withdrawal day view
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/installments/installment"
	"github.com/warp/installments/installment/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testNow = time.Date(2026, time.January, 20, 9, 30, 0, 0, time.UTC)

type testServer struct {
	router http.Handler
	store  *store.Memory
}

func newTestServer(t *testing.T, backend Backend) *testServer {
	t.Helper()
	mem := store.NewMemory()
	if backend == nil {
		backend = mem
	}

	logger := zaptest.NewLogger(t)
	allocator := installment.NewAllocator(backend, backend, backend, logger)
	allocator.Schedule = installment.NewScheduleGenerator(installment.FixedClock{At: testNow})

	scheduler := NewWithdrawalScheduler(backend, logger)
	scheduler.Clock = installment.FixedClock{At: testNow}

	h := NewHandler(backend, allocator, scheduler, logger)
	return &testServer{router: NewRouter(h), store: mem}
}

// seedDirectories adds one customer and the default policy on the 15th.
func seedDirectories(t *testing.T, dir installment.DirectoryWriter) (installment.CustomerID, installment.PolicyID) {
	t.Helper()
	ctx := context.Background()
	policyID, err := dir.SaveWithdrawalPolicy(ctx, installment.WithdrawalPolicy{
		Name: "Mid month", WithdrawalDay: 15, Type: installment.DefaultPolicyType,
	})
	require.NoError(t, err)
	customerID, err := dir.SaveCustomer(ctx, installment.Customer{FirstName: "Sofia", LastName: "Ramirez"})
	require.NoError(t, err)
	return customerID, policyID
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// failingInstallments fails the third batch of every submission.
type failingInstallments struct {
	*store.Memory
}

func (f failingInstallments) InsertInstallments(context.Context, []installment.Installment) ([]installment.InstallmentID, error) {
	return nil, errors.New("disk full")
}

// =============================================================================
// SUBMISSION
// =============================================================================

func TestSubmitSale_Installment(t *testing.T) {
	// GIVEN: A customer and a default policy on the 15th
	srv := newTestServer(t, nil)
	customerID, _ := seedDirectories(t, srv.store)

	// WHEN: Submitting 3000 over 3 months with 0 down
	rec := srv.do(t, http.MethodPost, "/api/sales", map[string]any{
		"customer_id":       customerID,
		"kind":              "installment",
		"product_name":      "Washing machine",
		"cash_price":        2700,
		"installment_price": "3000",
		"down_payment":      0,
		"months":            3,
	})

	// THEN: 201 with the sale id
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[SaleCreatedResponse](t, rec)
	assert.Equal(t, int64(1), created.ID)

	// AND: The detail view shows 2 references of 500 and 6 installments
	rec = srv.do(t, http.MethodGet, "/api/sales/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[SaleDetailResponse](t, rec)

	assert.Equal(t, "active", detail.Sale.Status)
	require.NotNil(t, detail.Sale.MonthlyAmount)
	assert.Equal(t, int64(1000), *detail.Sale.MonthlyAmount)
	require.Len(t, detail.References, 2)
	assert.Equal(t, int64(500), detail.References[0].Amount)
	assert.Len(t, detail.References[0].Code, 32)
	assert.Equal(t, "2026-02-15", detail.References[0].ValidFrom)
	assert.Equal(t, "2026-04-15", detail.References[0].ValidUntil)

	require.Len(t, detail.Installments, 6)
	assert.Equal(t, "2026-02-15", detail.Installments[0].DueDate)
	assert.Equal(t, "2026-02-15", detail.Installments[1].DueDate)
	assert.Equal(t, "2026-03-15", detail.Installments[2].DueDate)
	assert.Equal(t, "not_reported", detail.Installments[0].OutcomeCode)
	assert.Equal(t, "pending", detail.Installments[0].Status)
}

func TestSubmitSale_Cash(t *testing.T) {
	// GIVEN: A customer
	srv := newTestServer(t, nil)
	customerID, _ := seedDirectories(t, srv.store)

	// WHEN: Submitting a cash sale
	rec := srv.do(t, http.MethodPost, "/api/sales", map[string]any{
		"customer_id":  customerID,
		"kind":         "cash",
		"product_name": "Toaster",
		"cash_price":   80,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// THEN: Completed, fully paid, no schedule
	rec = srv.do(t, http.MethodGet, "/api/sales/1", nil)
	detail := decode[SaleDetailResponse](t, rec)
	assert.Equal(t, "completed", detail.Sale.Status)
	assert.Equal(t, int64(80), detail.Sale.PaidAmount)
	assert.Equal(t, int64(80), detail.Sale.TotalAmount)
	assert.Empty(t, detail.References)
	assert.Empty(t, detail.Installments)
}

func TestSubmitSale_ValidationErrors(t *testing.T) {
	srv := newTestServer(t, nil)
	customerID, _ := seedDirectories(t, srv.store)

	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{
			name:  "missing months",
			body:  map[string]any{"customer_id": customerID, "kind": "installment", "product_name": "TV", "installment_price": 1000},
			field: "months",
		},
		{
			name:  "fractional price",
			body:  map[string]any{"customer_id": customerID, "kind": "cash", "product_name": "TV", "cash_price": "10.50"},
			field: "cash_price",
		},
		{
			name:  "unknown kind",
			body:  map[string]any{"customer_id": customerID, "kind": "lease", "product_name": "TV"},
			field: "kind",
		},
		{
			name:  "unknown customer",
			body:  map[string]any{"customer_id": 99, "kind": "cash", "product_name": "TV", "cash_price": 10},
			field: "customer_id",
		},
		{
			name:  "down payment above price",
			body:  map[string]any{"customer_id": customerID, "kind": "installment", "product_name": "TV", "installment_price": 100, "down_payment": 200, "months": 2},
			field: "down_payment",
		},
		{
			name:  "price beyond int64",
			body:  map[string]any{"customer_id": customerID, "kind": "installment", "product_name": "TV", "installment_price": json.Number("18446744073709569616"), "months": 2},
			field: "installment_price",
		},
		{
			name:  "duration too long",
			body:  map[string]any{"customer_id": customerID, "kind": "installment", "product_name": "TV", "installment_price": 1000, "months": installment.MaxDurationMonths + 1},
			field: "months",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodPost, "/api/sales", tt.body)

			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, "validation_error", resp.Code)
			details, ok := resp.Details.(map[string]any)
			require.True(t, ok)
			assert.Equal(t, tt.field, details["field"])
		})
	}

	// Nothing was written
	_, err := srv.store.GetSale(context.Background(), 1)
	assert.ErrorIs(t, err, installment.ErrSaleNotFound)
}

func TestSubmitSale_MalformedBody(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/sales", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitSale_PartialSubmission(t *testing.T) {
	// GIVEN: A backend whose installment batch always fails
	mem := store.NewMemory()
	customerID, _ := seedDirectories(t, mem)
	srv := newTestServer(t, failingInstallments{Memory: mem})

	// WHEN: Submitting an installment sale
	rec := srv.do(t, http.MethodPost, "/api/sales", map[string]any{
		"customer_id":       customerID,
		"kind":              "installment",
		"product_name":      "Sofa",
		"installment_price": 1200,
		"months":            2,
	})

	// THEN: 500 partial_submission naming the step and the orphaned sale
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "partial_submission", resp.Code)
	details := resp.Details.(map[string]any)
	assert.Equal(t, "installments", details["step"])
	assert.Equal(t, float64(1), details["sale_id"])
	assert.Len(t, details["reference_ids"], 1)

	// AND: The sale and reference rows stay committed
	sale, err := mem.GetSale(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, installment.SaleActive, sale.Status)
	rows, err := mem.ListInstallments(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSubmitSale_TwiceCreatesTwoSales(t *testing.T) {
	srv := newTestServer(t, nil)
	customerID, _ := seedDirectories(t, srv.store)
	body := map[string]any{
		"customer_id": customerID, "kind": "cash", "product_name": "Lamp", "cash_price": 40,
	}

	first := decode[SaleCreatedResponse](t, srv.do(t, http.MethodPost, "/api/sales", body))
	second := decode[SaleCreatedResponse](t, srv.do(t, http.MethodPost, "/api/sales", body))

	assert.NotEqual(t, first.ID, second.ID)
}

// =============================================================================
// READ-BACK
// =============================================================================

func TestGetSale_NotFoundAndBadID(t *testing.T) {
	srv := newTestServer(t, nil)

	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/api/sales/7", nil).Code)
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/api/sales/7/installments", nil).Code)
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodGet, "/api/sales/abc", nil).Code)
}

// =============================================================================
// DIRECTORIES AND WITHDRAWALS
// =============================================================================

func TestListDirectories(t *testing.T) {
	srv := newTestServer(t, nil)
	ctx := context.Background()
	for _, name := range []string{"Zoe", "adam", "Maya"} {
		_, err := srv.store.SaveCustomer(ctx, installment.Customer{FirstName: name, LastName: "L"})
		require.NoError(t, err)
	}
	_, err := srv.store.SaveWithdrawalPolicy(ctx, installment.WithdrawalPolicy{Name: "A", WithdrawalDay: 1})
	require.NoError(t, err)
	_, err = srv.store.SaveWithdrawalPolicy(ctx, installment.WithdrawalPolicy{Name: "B", WithdrawalDay: 20, Type: installment.DefaultPolicyType})
	require.NoError(t, err)

	customers := decode[[]CustomerDTO](t, srv.do(t, http.MethodGet, "/api/customers", nil))
	require.Len(t, customers, 3)
	assert.Equal(t, "adam", customers[0].FirstName)
	assert.Equal(t, "Maya", customers[1].FirstName)
	assert.Equal(t, "Zoe", customers[2].FirstName)

	policies := decode[[]WithdrawalPolicyDTO](t, srv.do(t, http.MethodGet, "/api/withdrawal-policies", nil))
	require.Len(t, policies, 2)
	assert.False(t, policies[0].Default)
	assert.True(t, policies[1].Default)
}

func TestListWithdrawals(t *testing.T) {
	// GIVEN: Two installment sales on the 15th
	srv := newTestServer(t, nil)
	customerID, _ := seedDirectories(t, srv.store)
	for _, price := range []int{1000, 3000} {
		rec := srv.do(t, http.MethodPost, "/api/sales", map[string]any{
			"customer_id": customerID, "kind": "installment", "product_name": "Phone",
			"installment_price": price, "months": 2,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	// WHEN: Listing withdrawals for February 15
	rec := srv.do(t, http.MethodGet, "/api/withdrawals?date=2026-02-15", nil)

	// THEN: 500 from the first sale + 3 x 500 from the second
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[WithdrawalsResponse](t, rec)
	assert.Equal(t, "2026-02-15", resp.Date)
	assert.Equal(t, 4, resp.Count)
	assert.Equal(t, int64(2000), resp.Total)

	// AND: Bad or missing dates are rejected
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodGet, "/api/withdrawals", nil).Code)
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodGet, "/api/withdrawals?date=15/02/2026", nil).Code)
}

func TestHealthAndUnknownRoute(t *testing.T) {
	srv := newTestServer(t, nil)

	assert.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/api/health", nil).Code)
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/api/nope", nil).Code)
}
