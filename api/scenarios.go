/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Populates the customer and withdrawal-policy directories with demo data
	so sales can be submitted against a fresh database.

AVAILABLE SCENARIOS:

	standard:          Four customers, policies on the 5th (default), 15th, 31st
	end-of-month:      One customer, a single policy on the 31st
	no-default-policy: Policies without a default type; the first one wins

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Save withdrawal policies
 3. Save customers

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "standard"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/installments/installment"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	policies  []installment.WithdrawalPolicy
	customers []installment.Customer
}

func account(s string) *string { return &s }

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "standard",
			Name:        "Standard",
			Description: "Four customers; withdrawals on the 5th (default), 15th or last day",
		},
		policies: []installment.WithdrawalPolicy{
			{Name: "Early month", WithdrawalDay: 5, Type: installment.DefaultPolicyType},
			{Name: "Mid month", WithdrawalDay: 15},
			{Name: "End of month", WithdrawalDay: 31},
		},
		customers: []installment.Customer{
			{FirstName: "Sofia", LastName: "Ramirez", CollectionAccountNumber: account("ES9121000418450200051332")},
			{FirstName: "Ahmed", LastName: "Benali", CollectionAccountNumber: account("FR1420041010050500013M02606")},
			{FirstName: "Marta", LastName: "Kowalska"},
			{FirstName: "Daniel", LastName: "Okafor", CollectionAccountNumber: account("DE89370400440532013000")},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "end-of-month",
			Name:        "End of Month",
			Description: "Single policy on the 31st, clamped to 28/29/30 in short months",
		},
		policies: []installment.WithdrawalPolicy{
			{Name: "Last day", WithdrawalDay: 31, Type: installment.DefaultPolicyType},
		},
		customers: []installment.Customer{
			{FirstName: "Lucía", LastName: "Fernández"},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "no-default-policy",
			Name:        "No Default Policy",
			Description: "No policy has the default type; sales without a policy use the first one",
		},
		policies: []installment.WithdrawalPolicy{
			{Name: "Tenth", WithdrawalDay: 10},
			{Name: "Twentieth", WithdrawalDay: 20},
		},
		customers: []installment.Customer{
			{FirstName: "Yuki", LastName: "Tanaka"},
			{FirstName: "Omar", LastName: "Haddad"},
		},
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var chosen *scenario
	for i := range scenarios {
		if scenarios[i].ID == req.ScenarioID {
			chosen = &scenarios[i]
			break
		}
	}
	if chosen == nil {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	resp, err := loadScenario(ctx, h.Store, *chosen)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.Logger.Info("scenario loaded",
		zap.String("scenario", chosen.ID),
		zap.Int("customers", len(resp.Customers)),
		zap.Int("policies", len(resp.Policies)),
	)
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadScenario(ctx context.Context, dir installment.DirectoryWriter, s scenario) (*LoadScenarioResponse, error) {
	resp := &LoadScenarioResponse{
		ScenarioID: s.ID,
		Customers:  make([]CustomerDTO, 0, len(s.customers)),
		Policies:   make([]WithdrawalPolicyDTO, 0, len(s.policies)),
	}

	saved := make([]installment.WithdrawalPolicy, 0, len(s.policies))
	for _, p := range s.policies {
		id, err := dir.SaveWithdrawalPolicy(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", p.Name, err)
		}
		p.ID = id
		saved = append(saved, p)
	}
	def, hasDefault := installment.DefaultPolicy(saved)
	for _, p := range saved {
		resp.Policies = append(resp.Policies, toPolicyDTO(p, hasDefault && p.ID == def.ID))
	}

	for _, c := range s.customers {
		id, err := dir.SaveCustomer(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("customer %s %s: %w", c.FirstName, c.LastName, err)
		}
		c.ID = id
		resp.Customers = append(resp.Customers, toCustomerDTO(c))
	}
	return resp, nil
}
