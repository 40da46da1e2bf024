/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  installment domain types.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Prices arrive as JSON numbers or strings and are decoded with
  shopspring/decimal. Amounts must be whole currency units; fractional
  values are rejected in toSaleInput. Responses carry integers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/installments/installment"
)

const dateLayout = "2006-01-02"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// SubmitSaleRequest is the body of POST /api/sales.
type SubmitSaleRequest struct {
	CustomerID         int64            `json:"customer_id"`
	Kind               string           `json:"kind"`
	ProductName        string           `json:"product_name"`
	CashPrice          decimal.Decimal  `json:"cash_price"`
	InstallmentPrice   *decimal.Decimal `json:"installment_price,omitempty"`
	DownPayment        *decimal.Decimal `json:"down_payment,omitempty"`
	Months             *int             `json:"months,omitempty"`
	WithdrawalPolicyID *int64           `json:"withdrawal_policy_id,omitempty"`
}

// toSaleInput converts the request, rejecting fractional amounts.
func (r SubmitSaleRequest) toSaleInput() (installment.SaleInput, error) {
	in := installment.SaleInput{
		CustomerID:  installment.CustomerID(r.CustomerID),
		Kind:        installment.SaleKind(r.Kind),
		ProductName: r.ProductName,
		Months:      r.Months,
	}

	cash, err := wholeAmount("cash_price", r.CashPrice)
	if err != nil {
		return in, err
	}
	in.CashPrice = cash

	if r.InstallmentPrice != nil {
		v, err := wholeAmount("installment_price", *r.InstallmentPrice)
		if err != nil {
			return in, err
		}
		in.InstallmentPrice = &v
	}
	if r.DownPayment != nil {
		v, err := wholeAmount("down_payment", *r.DownPayment)
		if err != nil {
			return in, err
		}
		in.DownPayment = &v
	}
	if r.WithdrawalPolicyID != nil {
		id := installment.PolicyID(*r.WithdrawalPolicyID)
		in.WithdrawalPolicyID = &id
	}
	return in, nil
}

func wholeAmount(field string, d decimal.Decimal) (installment.Amount, error) {
	if !d.Equal(d.Truncate(0)) {
		return 0, &installment.ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be a whole amount, got %s", d.String()),
		}
	}
	if d.GreaterThan(maxAmount) || d.LessThan(minAmount) {
		return 0, &installment.ValidationError{
			Field:   field,
			Message: fmt.Sprintf("out of range, got %s", d.String()),
		}
	}
	return installment.Amount(d.IntPart()), nil
}

var (
	maxAmount = decimal.NewFromInt(math.MaxInt64)
	minAmount = decimal.NewFromInt(math.MinInt64)
)

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// SaleCreatedResponse is returned by POST /api/sales.
type SaleCreatedResponse struct {
	ID int64 `json:"id"`
}

type CustomerDTO struct {
	ID                      int64   `json:"id"`
	FirstName               string  `json:"first_name"`
	LastName                string  `json:"last_name"`
	CollectionAccountNumber *string `json:"collection_account_number,omitempty"`
}

type WithdrawalPolicyDTO struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	WithdrawalDay int    `json:"withdrawal_day"`
	Type          int    `json:"type"`
	Default       bool   `json:"default"`
}

type SaleDTO struct {
	ID                 int64  `json:"id"`
	CustomerID         int64  `json:"customer_id"`
	Kind               string `json:"kind"`
	ProductName        string `json:"product_name"`
	TotalAmount        int64  `json:"total_amount"`
	PaidAmount         int64  `json:"paid_amount"`
	Status             string `json:"status"`
	WithdrawalPolicyID *int64 `json:"withdrawal_policy_id,omitempty"`
	DurationMonths     *int   `json:"duration_months,omitempty"`
	MonthlyAmount      *int64 `json:"monthly_amount,omitempty"`
	CreatedAt          string `json:"created_at"`
}

type ReferenceDTO struct {
	ID         int64  `json:"id"`
	Code       string `json:"code"`
	Amount     int64  `json:"amount"`
	ValidFrom  string `json:"valid_from"`
	ValidUntil string `json:"valid_until"`
}

type InstallmentDTO struct {
	ID          int64  `json:"id"`
	SaleID      int64  `json:"sale_id"`
	ReferenceID *int64 `json:"reference_id"`
	DueDate     string `json:"due_date"`
	Amount      int64  `json:"amount"`
	Status      string `json:"status"`
	OutcomeCode string `json:"outcome_code"`
}

// SaleDetailResponse is returned by GET /api/sales/{id}.
type SaleDetailResponse struct {
	Sale         SaleDTO          `json:"sale"`
	References   []ReferenceDTO   `json:"references"`
	Installments []InstallmentDTO `json:"installments"`
}

// WithdrawalsResponse is returned by GET /api/withdrawals.
type WithdrawalsResponse struct {
	Date         string           `json:"date"`
	Count        int              `json:"count"`
	Total        int64            `json:"total"`
	Installments []InstallmentDTO `json:"installments"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioResponse reports what a scenario seeded.
type LoadScenarioResponse struct {
	ScenarioID string                `json:"scenario_id"`
	Customers  []CustomerDTO         `json:"customers"`
	Policies   []WithdrawalPolicyDTO `json:"withdrawal_policies"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// PartialSubmissionDetails is the Details payload of a partial_submission error.
type PartialSubmissionDetails struct {
	Step         string  `json:"step"`
	SaleID       int64   `json:"sale_id"`
	ReferenceIDs []int64 `json:"reference_ids,omitempty"`
	Cause        string  `json:"cause"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toCustomerDTO(c installment.Customer) CustomerDTO {
	return CustomerDTO{
		ID:                      int64(c.ID),
		FirstName:               c.FirstName,
		LastName:                c.LastName,
		CollectionAccountNumber: c.CollectionAccountNumber,
	}
}

func toPolicyDTO(p installment.WithdrawalPolicy, def bool) WithdrawalPolicyDTO {
	return WithdrawalPolicyDTO{
		ID:            int64(p.ID),
		Name:          p.Name,
		WithdrawalDay: p.WithdrawalDay,
		Type:          p.Type,
		Default:       def,
	}
}

func toSaleDTO(s installment.Sale) SaleDTO {
	dto := SaleDTO{
		ID:             int64(s.ID),
		CustomerID:     int64(s.CustomerID),
		Kind:           string(s.Kind),
		ProductName:    s.ProductName,
		TotalAmount:    int64(s.TotalAmount),
		PaidAmount:     int64(s.PaidAmount),
		Status:         string(s.Status),
		DurationMonths: s.DurationMonths,
		CreatedAt:      s.CreatedAt.Format(time.RFC3339),
	}
	if s.WithdrawalPolicyID != nil {
		id := int64(*s.WithdrawalPolicyID)
		dto.WithdrawalPolicyID = &id
	}
	if s.MonthlyAmount != nil {
		m := int64(*s.MonthlyAmount)
		dto.MonthlyAmount = &m
	}
	return dto
}

func toReferenceDTOs(refs []installment.PaymentReference) []ReferenceDTO {
	dtos := make([]ReferenceDTO, len(refs))
	for i, r := range refs {
		dtos[i] = ReferenceDTO{
			ID:         int64(r.ID),
			Code:       r.Code,
			Amount:     int64(r.Amount),
			ValidFrom:  r.Validity.Start.Format(dateLayout),
			ValidUntil: r.Validity.End.Format(dateLayout),
		}
	}
	return dtos
}

func toInstallmentDTOs(rows []installment.Installment) []InstallmentDTO {
	dtos := make([]InstallmentDTO, len(rows))
	for i, r := range rows {
		dto := InstallmentDTO{
			ID:          int64(r.ID),
			SaleID:      int64(r.SaleID),
			DueDate:     r.DueDate.Format(dateLayout),
			Amount:      int64(r.Amount),
			Status:      string(r.Status),
			OutcomeCode: r.OutcomeCode,
		}
		if r.ReferenceID != nil {
			id := int64(*r.ReferenceID)
			dto.ReferenceID = &id
		}
		dtos[i] = dto
	}
	return dtos
}
