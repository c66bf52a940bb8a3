/*
handlers_test.go - End-to-end tests for the HTTP API

Tests for:
- Allocation CRUD and range retrieval
- Error payloads: validation (400), conflict (409), transfer failure (422)
- Transfer endpoint
- Cost summary, health, metrics
- Websocket change feed
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canteiro/planner/allocation"
	"github.com/canteiro/planner/api"
	"github.com/canteiro/planner/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	*httptest.Server
	handler *api.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveWorkSite(ctx, allocation.WorkSite{ID: "S1", Name: "Residencial Aurora"}))
	require.NoError(t, store.SaveWorkSite(ctx, allocation.WorkSite{ID: "S2", Name: "Galpão Norte"}))
	require.NoError(t, store.SaveTeam(ctx, allocation.Team{ID: "T1", Name: "Alvenaria"}))
	require.NoError(t, store.SaveEmployee(ctx, allocation.Employee{ID: "E1", Name: "João Pereira"}))

	h := api.NewHandler(store, api.WithToday(func() allocation.Date { return allocation.MustDate("2024-06-07") }))
	srv := httptest.NewServer(api.NewRouter(h, api.DefaultConfig()))
	t.Cleanup(func() {
		h.Hub.Close()
		srv.Close()
	})
	return &testServer{Server: srv, handler: h}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func employeeRequest(site, start, end string) api.AllocationRequest {
	req := api.AllocationRequest{
		WorkSiteID:    site,
		ResourceKind:  "employee",
		EmployeeID:    "E1",
		StartDate:     allocation.MustDate(start),
		PaymentType:   "daily_rate",
		PaymentAmount: decimal.RequireFromString("180"),
	}
	if end != "" {
		req.EndDate = allocation.DatePtr(allocation.MustDate(end))
	}
	return req
}

func (s *testServer) create(t *testing.T, req api.AllocationRequest) api.AllocationDTO {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/allocations", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[api.AllocationDTO](t, resp)
}

// =============================================================================
// ALLOCATION CRUD
// =============================================================================

func TestCreateAllocation_ResolvesNames(t *testing.T) {
	s := newTestServer(t)

	created := s.create(t, employeeRequest("S1", "2024-06-05", ""))

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Residencial Aurora", created.WorkSiteName)
	assert.Equal(t, "João Pereira", created.EmployeeName)
	assert.Equal(t, "active", created.Status)
	assert.Nil(t, created.EndDate)

	resp := s.do(t, http.MethodGet, "/api/allocations/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[api.AllocationDTO](t, resp)
	assert.Equal(t, created, got)
}

func TestListAllocations_RangeAndFilters(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: allocations inside and outside the week of 2024-06-03
	inWeek := s.create(t, employeeRequest("S1", "2024-06-05", "2024-06-05"))
	s.create(t, employeeRequest("S1", "2024-06-10", "2024-06-10"))
	s.create(t, api.AllocationRequest{
		WorkSiteID: "S2", ResourceKind: "purchase", Label: "Cimento CP-II",
		StartDate: allocation.MustDate("2024-06-04"), PaymentType: "lump_sum",
		PaymentAmount: decimal.RequireFromString("1250.00"),
	})

	// WHEN: listing the week
	resp := s.do(t, http.MethodGet, "/api/allocations?start=2024-06-03&end=2024-06-09", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	week := decode[[]api.AllocationDTO](t, resp)

	// THEN: only the two starting in the week
	assert.Len(t, week, 2)

	resp = s.do(t, http.MethodGet, "/api/allocations?start=2024-06-03&end=2024-06-09&work_site_id=S1&category=labor", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	labor := decode[[]api.AllocationDTO](t, resp)
	require.Len(t, labor, 1)
	assert.Equal(t, inWeek.ID, labor[0].ID)

	resp = s.do(t, http.MethodGet, "/api/allocations?start=2024-06-03&end=2024-06-09&category=purchase", nil)
	purchases := decode[[]api.AllocationDTO](t, resp)
	require.Len(t, purchases, 1)
	assert.Equal(t, "pending", purchases[0].Status)
}

func TestListAllocations_BadQuery(t *testing.T) {
	s := newTestServer(t)

	for _, q := range []string{
		"",
		"?start=2024-06-03",
		"?start=06/03/2024&end=2024-06-09",
		"?start=2024-06-03&end=2024-06-09&category=tools",
	} {
		resp := s.do(t, http.MethodGet, "/api/allocations"+q, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
		assert.Equal(t, api.CodeBadRequest, decode[api.ErrorResponse](t, resp).Code, q)
	}
}

func TestUpdateAllocation_Move(t *testing.T) {
	s := newTestServer(t)
	created := s.create(t, employeeRequest("S1", "2024-06-05", ""))

	friday := allocation.MustDate("2024-06-07")
	resp := s.do(t, http.MethodPatch, "/api/allocations/"+created.ID, api.NewUpdateRequest(allocation.MovePatch(friday)))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	moved := decode[api.AllocationDTO](t, resp)
	assert.Equal(t, created.ID, moved.ID)
	assert.Equal(t, friday, moved.StartDate)
	require.NotNil(t, moved.EndDate)
	assert.Equal(t, friday, *moved.EndDate)
}

func TestUpdateAllocation_ClearEndDate(t *testing.T) {
	s := newTestServer(t)
	created := s.create(t, employeeRequest("S1", "2024-06-05", "2024-06-07"))

	resp := s.do(t, http.MethodPatch, "/api/allocations/"+created.ID, map[string]any{"clear_end_date": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, decode[api.AllocationDTO](t, resp).EndDate)
}

func TestDeleteAllocation(t *testing.T) {
	s := newTestServer(t)
	created := s.create(t, employeeRequest("S1", "2024-06-05", ""))

	resp := s.do(t, http.MethodDelete, "/api/allocations/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/allocations/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, api.CodeNotFound, decode[api.ErrorResponse](t, resp).Code)

	resp = s.do(t, http.MethodDelete, "/api/allocations/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// ERROR PAYLOADS
// =============================================================================

func TestCreateAllocation_ValidationError(t *testing.T) {
	s := newTestServer(t)

	req := employeeRequest("S1", "2024-06-05", "2024-06-04")
	resp := s.do(t, http.MethodPost, "/api/allocations", req)

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, api.CodeValidation, body.Code)
	assert.Equal(t, "end_date", body.Field)
}

func TestCreateAllocation_UnknownReference(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/allocations", employeeRequest("S9", "2024-06-05", ""))

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, api.CodeUnknownReference, decode[api.ErrorResponse](t, resp).Code)
}

func TestCreateAllocation_ConflictPayload(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: E1 at S1 from 06-05 to 06-10
	existing := s.create(t, employeeRequest("S1", "2024-06-05", "2024-06-10"))

	// WHEN: E1 is allocated to S2 from 06-07
	resp := s.do(t, http.MethodPost, "/api/allocations", employeeRequest("S2", "2024-06-07", ""))

	// THEN: 409 naming the conflicting allocation
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, api.CodeConflict, body.Code)
	assert.Equal(t, "employee", body.ConflictField)
	require.NotNil(t, body.ConflictingAllocation)
	assert.Equal(t, existing.ID, body.ConflictingAllocation.ID)
	assert.Equal(t, "E1", body.ConflictingAllocation.EmployeeID)
	assert.Equal(t, "Residencial Aurora", body.ConflictingAllocation.WorkSiteName)
	require.NotNil(t, body.ConflictingAllocation.StartDate)
	assert.Equal(t, allocation.MustDate("2024-06-05"), *body.ConflictingAllocation.StartDate)
	require.NotNil(t, body.ConflictingAllocation.EndDate)
	assert.Equal(t, allocation.MustDate("2024-06-10"), *body.ConflictingAllocation.EndDate)
}

// =============================================================================
// TRANSFER
// =============================================================================

func TestTransferAllocation(t *testing.T) {
	s := newTestServer(t)
	existing := s.create(t, employeeRequest("S1", "2024-06-05", "2024-06-10"))

	resp := s.do(t, http.MethodPost, "/api/allocations/transfer", api.TransferRequestDTO{
		ConflictingAllocationID: existing.ID,
		Allocation:              employeeRequest("S2", "2024-06-07", ""),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[api.TransferResultDTO](t, resp)

	assert.Equal(t, existing.ID, res.Truncated.ID)
	require.NotNil(t, res.Truncated.EndDate)
	assert.Equal(t, allocation.MustDate("2024-06-06"), *res.Truncated.EndDate)
	assert.Equal(t, "S2", res.Allocation.WorkSiteID)
	assert.Equal(t, "Galpão Norte", res.Allocation.WorkSiteName)
	assert.Equal(t, allocation.MustDate("2024-06-07"), res.Allocation.StartDate)
}

func TestTransferAllocation_FailureIs422(t *testing.T) {
	s := newTestServer(t)
	existing := s.create(t, employeeRequest("S1", "2024-06-05", "2024-06-10"))

	// Starting on the conflicting allocation's first day would leave it empty.
	resp := s.do(t, http.MethodPost, "/api/allocations/transfer", api.TransferRequestDTO{
		ConflictingAllocationID: existing.ID,
		Allocation:              employeeRequest("S2", "2024-06-05", ""),
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, api.CodeTransferFailed, body.Code)
	assert.NotEmpty(t, body.Reason)
	require.NotNil(t, body.ConflictingAllocation)
	assert.Equal(t, existing.ID, body.ConflictingAllocation.ID)

	// Nothing was applied.
	resp = s.do(t, http.MethodGet, "/api/allocations/"+existing.ID, nil)
	got := decode[api.AllocationDTO](t, resp)
	require.NotNil(t, got.EndDate)
	assert.Equal(t, allocation.MustDate("2024-06-10"), *got.EndDate)
}

func TestTransferAllocation_BadResourceIs422(t *testing.T) {
	s := newTestServer(t)
	existing := s.create(t, employeeRequest("S1", "2024-06-05", "2024-06-10"))

	req := employeeRequest("S2", "2024-06-07", "")
	req.ResourceKind = "crane"
	resp := s.do(t, http.MethodPost, "/api/allocations/transfer", api.TransferRequestDTO{
		ConflictingAllocationID: existing.ID,
		Allocation:              req,
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, api.CodeTransferFailed, decode[api.ErrorResponse](t, resp).Code)
}

// =============================================================================
// DIRECTORY, COSTS, OPERATIONS
// =============================================================================

func TestDirectory_SaveAndList(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/employees", api.EmployeeDTO{Name: "Ana Costa", Role: "armadora"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	saved := decode[api.EmployeeDTO](t, resp)
	assert.NotEmpty(t, saved.ID)

	resp = s.do(t, http.MethodGet, "/api/employees", nil)
	employees := decode[[]api.EmployeeDTO](t, resp)
	assert.Contains(t, employees, saved)

	resp = s.do(t, http.MethodPost, "/api/worksites", api.WorkSiteDTO{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "name", decode[api.ErrorResponse](t, resp).Field)
}

func TestGetCosts(t *testing.T) {
	s := newTestServer(t)
	s.create(t, employeeRequest("S1", "2024-06-03", "2024-06-05"))
	s.create(t, api.AllocationRequest{
		WorkSiteID: "S1", ResourceKind: "purchase", Label: "Areia média",
		StartDate: allocation.MustDate("2024-06-04"), PaymentType: "lump_sum",
		PaymentAmount: decimal.RequireFromString("800"), Status: "approved",
	})

	resp := s.do(t, http.MethodGet, "/api/worksites/S1/costs?as_of=2024-06-30", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sum := decode[api.CostSummaryDTO](t, resp)

	assert.True(t, sum.Labor.Equal(decimal.RequireFromString("540")), sum.Labor.String())
	assert.Equal(t, 3, sum.LaborDays)
	assert.True(t, sum.PurchasesApproved.Equal(decimal.RequireFromString("800")))
	assert.True(t, sum.Total.Equal(decimal.RequireFromString("1340")))

	// Default as_of is today (2024-06-07 here).
	resp = s.do(t, http.MethodGet, "/api/worksites/S1/costs", nil)
	assert.Equal(t, allocation.MustDate("2024-06-07"), decode[api.CostSummaryDTO](t, resp).AsOf)

	resp = s.do(t, http.MethodGet, "/api/worksites/S9/costs", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "requests_total")
}

func TestCORSPreflightAllowsPatch(t *testing.T) {
	s := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, s.URL+"/api/allocations/x", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodPatch)
}

// =============================================================================
// CHANGE FEED
// =============================================================================

func dialFeed(t *testing.T, s *testServer, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/api/allocations/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestFeed_PublishesWrites(t *testing.T) {
	s := newTestServer(t)
	conn := dialFeed(t, s, "")
	require.Eventually(t, func() bool { return s.handler.Hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	created := s.create(t, employeeRequest("S1", "2024-06-05", ""))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev api.EventDTO
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, string(allocation.EventCreated), ev.Type)
	assert.Equal(t, created.ID, ev.AllocationID)
	assert.Equal(t, "S1", ev.WorkSiteID)
	assert.Equal(t, allocation.MustDate("2024-06-05"), ev.Date)
}

func TestFeed_FiltersByWorkSite(t *testing.T) {
	s := newTestServer(t)
	conn := dialFeed(t, s, "?work_site_id=S2")
	require.Eventually(t, func() bool { return s.handler.Hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	// GIVEN: a write at S1, then one at S2
	s.create(t, employeeRequest("S1", "2024-06-03", "2024-06-03"))
	atS2 := s.create(t, employeeRequest("S2", "2024-06-05", ""))

	// THEN: the S2 subscriber sees only the second
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev api.EventDTO
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, atS2.ID, ev.AllocationID)
}

func TestFeed_CloseDisconnectsSubscribers(t *testing.T) {
	s := newTestServer(t)
	conn := dialFeed(t, s, "")
	require.Eventually(t, func() bool { return s.handler.Hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	s.handler.Hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Equal(t, 0, s.handler.Hub.Subscribers())
}
