/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the database with realistic
  data for demos of the weekly planner. Every scenario works on the week of
  Monday 2024-06-03.

AVAILABLE SCENARIOS:
  move:      one open-ended allocation on Wednesday, to drag onto another
             day and Move
  transfer:  an employee booked at one site, ready to be transferred to
             another mid-stint
  busy-week: two sites with teams, employees, external services, purchases
             and a quote

HOW SCENARIOS WORK:
  1. Reset database (clear all data)
  2. Create work sites, teams and employees
  3. Create allocations through the Service (validated, published on the feed)

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "transfer"}

NOTE:
  Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler
  - cmd/server/main.go: -seed flag
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/canteiro/planner/allocation"
)

// ErrUnknownScenario is returned for an ID not in the scenario list.
var ErrUnknownScenario = errors.New("unknown scenario")

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "move",
		Name:        "Move a card",
		Description: "João Pereira starts at Residencial Aurora on Wednesday with no end date. Drag the card to Friday and choose Move.",
	},
	{
		ID:          "transfer",
		Name:        "Transfer an employee",
		Description: "João Pereira is at Residencial Aurora from 06-05 to 06-10. Allocate him to Galpão Norte from 06-07 and confirm the transfer.",
	},
	{
		ID:          "busy-week",
		Name:        "Busy week",
		Description: "Two sites with teams, employees, an external service, purchases and a quote.",
	},
}

// Scenarios lists the demo scenarios.
func Scenarios() []ScenarioDTO {
	return append([]ScenarioDTO(nil), scenarios...)
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	err := h.LoadScenarioByID(r.Context(), req.ScenarioID)
	if errors.Is(err, ErrUnknownScenario) {
		writeError(w, http.StatusBadRequest, "Unknown scenario", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// LoadScenarioByID resets the store and loads scenario id.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	var load func(context.Context) error
	switch id {
	case "move":
		load = h.loadMoveScenario
	case "transfer":
		load = h.loadTransferScenario
	case "busy-week":
		load = h.loadBusyWeekScenario
	default:
		return fmt.Errorf("%w: %q", ErrUnknownScenario, id)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	h.currentScenario = ""
	if err := h.seedDirectory(ctx); err != nil {
		return fmt.Errorf("directory: %w", err)
	}
	if err := load(ctx); err != nil {
		return err
	}
	h.currentScenario = id
	h.log.Info().Str("scenario", id).Msg("scenario loaded")
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) seedDirectory(ctx context.Context) error {
	for _, s := range []allocation.WorkSite{
		{ID: "S1", Name: "Residencial Aurora", Address: "Rua das Flores, 120"},
		{ID: "S2", Name: "Galpão Norte", Address: "Rodovia BR-101, km 12"},
	} {
		if err := h.Store.SaveWorkSite(ctx, s); err != nil {
			return err
		}
	}
	for _, t := range []allocation.Team{
		{ID: "T1", Name: "Alvenaria"},
		{ID: "T2", Name: "Elétrica"},
	} {
		if err := h.Store.SaveTeam(ctx, t); err != nil {
			return err
		}
	}
	for _, e := range []allocation.Employee{
		{ID: "E1", Name: "João Pereira", Role: "pedreiro"},
		{ID: "E2", Name: "Maria Souza", Role: "eletricista"},
		{ID: "E3", Name: "Carlos Lima", Role: "mestre de obras"},
	} {
		if err := h.Store.SaveEmployee(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadMoveScenario(ctx context.Context) error {
	return h.createAll(ctx,
		dailyRate("S1", allocation.EmployeeRef{EmployeeID: "E1"}, "2024-06-05", "", "180"),
	)
}

func (h *Handler) loadTransferScenario(ctx context.Context) error {
	return h.createAll(ctx,
		dailyRate("S1", allocation.EmployeeRef{EmployeeID: "E1"}, "2024-06-05", "2024-06-10", "180"),
		dailyRate("S2", allocation.TeamRef{TeamID: "T2"}, "2024-06-07", "2024-06-14", "950"),
	)
}

func (h *Handler) loadBusyWeekScenario(ctx context.Context) error {
	concrete := dailyRate("S1", allocation.ExternalServiceRef{Label: "Bombeamento de concreto"}, "2024-06-04", "2024-06-04", "2400")
	concrete.Payment.Type = allocation.PaymentLumpSum

	bricks := dailyRate("S1", allocation.PurchaseRef{Description: "Tijolos cerâmicos (8 milheiros)"}, "2024-06-03", "", "5200")
	bricks.Payment.Type = allocation.PaymentLumpSum
	bricks.Status = allocation.StatusApproved

	roof := dailyRate("S2", allocation.PurchaseRef{Quote: true, Description: "Telhas termoacústicas"}, "2024-06-06", "", "18750.00")
	roof.Payment.Type = allocation.PaymentLumpSum
	roof.Status = allocation.StatusPending

	wiring := dailyRate("S2", allocation.ExternalServiceRef{Label: "Cabeamento estruturado"}, "2024-06-05", "2024-06-07", "35")
	wiring.Payment.Type = allocation.PaymentPerMeter

	return h.createAll(ctx,
		dailyRate("S1", allocation.TeamRef{TeamID: "T1"}, "2024-06-03", "2024-06-21", "1200"),
		dailyRate("S1", allocation.EmployeeRef{EmployeeID: "E1"}, "2024-06-03", "2024-06-05", "180"),
		dailyRate("S2", allocation.EmployeeRef{EmployeeID: "E1"}, "2024-06-06", "", "180"),
		dailyRate("S2", allocation.EmployeeRef{EmployeeID: "E2"}, "2024-06-04", "2024-06-08", "220"),
		dailyRate("S1", allocation.EmployeeRef{EmployeeID: "E3"}, "2024-06-03", "", "300"),
		concrete, bricks, roof, wiring,
	)
}

func (h *Handler) createAll(ctx context.Context, list ...allocation.Allocation) error {
	for _, a := range list {
		if _, err := h.Service.Create(ctx, a); err != nil {
			return fmt.Errorf("allocation at %s on %s: %w", a.WorkSiteID, a.Start, err)
		}
	}
	return nil
}

func dailyRate(site string, r allocation.Resource, start, end, amount string) allocation.Allocation {
	a := allocation.Allocation{
		WorkSiteID: site,
		Resource:   r,
		Start:      allocation.MustDate(start),
		Payment: allocation.Payment{
			Type:   allocation.PaymentDailyRate,
			Amount: decimal.RequireFromString(amount),
		},
	}
	if end != "" {
		a.End = allocation.DatePtr(allocation.MustDate(end))
	}
	return a
}
