package installment

import "fmt"

// =============================================================================
// REFERENCE SPLITTER - Monthly amount -> collection channels
// =============================================================================

const (
	// DefaultMinReferenceAmount is the smallest per-channel amount the
	// withdrawal system accepts without relaxation.
	DefaultMinReferenceAmount Amount = 500

	// DefaultMaxReferences caps the number of channels per sale.
	DefaultMaxReferences = 5
)

// ReferenceSplitter divides a monthly amount across 1..MaxReferences
// payment references.
//
// RULE:
//
//	n    = largest n in 1..MaxReferences with monthly/n >= MinAmount, else 1
//	base = floor(monthly / n)
//	amounts[0..n-2] = base, amounts[n-1] = base + (monthly - base*n)
//
// The last entry absorbs the truncation remainder, so the split is exact.
// The minimum is best effort: below MinAmount the split degrades to a single
// reference instead of failing.
type ReferenceSplitter struct {
	MinAmount     Amount
	MaxReferences int
	Codes         CodeGenerator
}

// NewReferenceSplitter returns a splitter with the default 500 / 5 limits.
func NewReferenceSplitter(codes CodeGenerator) *ReferenceSplitter {
	return &ReferenceSplitter{
		MinAmount:     DefaultMinReferenceAmount,
		MaxReferences: DefaultMaxReferences,
		Codes:         codes,
	}
}

// Count returns the number of references monthly will be split into.
func (s *ReferenceSplitter) Count(monthly Amount) int {
	maxRefs := s.MaxReferences
	if maxRefs < 1 || monthly <= 0 {
		return 1
	}
	for n := maxRefs; n > 1; n-- {
		// Integer division matches monthly/n >= min for non-negative amounts.
		if monthly/Amount(n) >= s.MinAmount {
			return n
		}
	}
	return 1
}

// Split returns the per-reference amounts for monthly, in reference order.
func (s *ReferenceSplitter) Split(monthly Amount) ([]Amount, error) {
	if monthly < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeAmount, monthly)
	}

	n := s.Count(monthly)
	base := monthly / Amount(n)

	amounts := make([]Amount, n)
	for i := range amounts {
		amounts[i] = base
	}
	amounts[n-1] += monthly - base*Amount(n)
	return amounts, nil
}

// References splits monthly and binds each share to a fresh reference code.
// The returned references carry no ID yet; the store assigns them.
func (s *ReferenceSplitter) References(saleID SaleID, monthly Amount, validity ValidityWindow) ([]PaymentReference, error) {
	amounts, err := s.Split(monthly)
	if err != nil {
		return nil, err
	}

	codes := s.Codes
	if codes == nil {
		codes = UUIDCodes{}
	}

	refs := make([]PaymentReference, len(amounts))
	for i, amount := range amounts {
		code, err := codes.NextCode()
		if err != nil {
			return nil, err
		}
		refs[i] = PaymentReference{
			SaleID:   saleID,
			Code:     code,
			Amount:   amount,
			Validity: validity,
		}
	}
	return refs, nil
}
