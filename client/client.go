/*
client.go - Typed HTTP client for the allocation API

PURPOSE:
  Lets a planner (or any Go program) talk to the REST API. Client satisfies
  planner.API, so a Planner runs unchanged against the in-process service in
  tests and against a remote server here.

ERRORS:
  Error responses are decoded back into the allocation error taxonomy, so
  callers classify them with errors.Is / errors.As exactly as they would
  against the in-process service:
    validation        -> *allocation.ValidationError
    conflict          -> *allocation.ConflictError (with the conflicting record)
    transfer_failed   -> *allocation.TransferError
    not_found         -> allocation.ErrNotFound
    unknown_reference -> allocation.ErrUnknownReference
  Anything else is a *StatusError. Failures to reach the server at all wrap
  planner.ErrTransport.

SEE ALSO:
  - api/handlers.go: The server side of every call
  - watch.go:        Change feed subscription
*/
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/canteiro/planner/allocation"
	"github.com/canteiro/planner/api"
	"github.com/canteiro/planner/planner"
)

var _ planner.API = (*Client)(nil)

// StatusError is an error response the client has no richer type for.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Client calls the allocation API at a base URL such as
// "http://localhost:8080".
type Client struct {
	baseURL string
	http    *http.Client
	dialer  *websocket.Dialer
	log     zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		dialer:  websocket.DefaultDialer,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

// List returns the allocations starting within the query range.
func (c *Client) List(ctx context.Context, q allocation.Query) ([]allocation.Allocation, error) {
	v := url.Values{}
	v.Set("start", q.From.String())
	v.Set("end", q.To.String())
	if q.WorkSiteID != "" {
		v.Set("work_site_id", q.WorkSiteID)
	}
	if q.Category != "" {
		v.Set("category", string(q.Category))
	}

	var dtos []api.AllocationDTO
	if err := c.do(ctx, http.MethodGet, "/api/allocations?"+v.Encode(), nil, &dtos); err != nil {
		return nil, err
	}
	list := make([]allocation.Allocation, 0, len(dtos))
	for _, d := range dtos {
		a, err := api.FromAllocationDTO(d)
		if err != nil {
			return nil, fmt.Errorf("allocation %s: %w", d.ID, err)
		}
		list = append(list, a)
	}
	return list, nil
}

func (c *Client) Get(ctx context.Context, id allocation.ID) (*allocation.Allocation, error) {
	var dto api.AllocationDTO
	if err := c.do(ctx, http.MethodGet, "/api/allocations/"+url.PathEscape(string(id)), nil, &dto); err != nil {
		return nil, err
	}
	return fromDTO(dto)
}

func (c *Client) Create(ctx context.Context, a allocation.Allocation) (*allocation.Allocation, error) {
	var dto api.AllocationDTO
	if err := c.do(ctx, http.MethodPost, "/api/allocations", api.NewAllocationRequest(a), &dto); err != nil {
		return nil, err
	}
	return fromDTO(dto)
}

func (c *Client) Update(ctx context.Context, id allocation.ID, p allocation.Patch) (*allocation.Allocation, error) {
	var dto api.AllocationDTO
	if err := c.do(ctx, http.MethodPatch, "/api/allocations/"+url.PathEscape(string(id)), api.NewUpdateRequest(p), &dto); err != nil {
		return nil, err
	}
	return fromDTO(dto)
}

func (c *Client) Delete(ctx context.Context, id allocation.ID) error {
	return c.do(ctx, http.MethodDelete, "/api/allocations/"+url.PathEscape(string(id)), nil, nil)
}

// Transfer asks the server to truncate req.ConflictingID and write the new
// allocation in one transaction.
func (c *Client) Transfer(ctx context.Context, req allocation.TransferRequest) (*allocation.TransferResult, error) {
	body := api.TransferRequestDTO{
		ConflictingAllocationID: string(req.ConflictingID),
		Allocation:              api.NewAllocationRequest(req.Allocation),
		ReplacesID:              string(req.ReplacesID),
	}
	var dto api.TransferResultDTO
	if err := c.do(ctx, http.MethodPost, "/api/allocations/transfer", body, &dto); err != nil {
		return nil, err
	}
	truncated, err := api.FromAllocationDTO(dto.Truncated)
	if err != nil {
		return nil, err
	}
	created, err := api.FromAllocationDTO(dto.Allocation)
	if err != nil {
		return nil, err
	}
	return &allocation.TransferResult{Truncated: truncated, Allocation: created}, nil
}

// =============================================================================
// DIRECTORY AND REPORTS
// =============================================================================

func (c *Client) WorkSites(ctx context.Context) ([]api.WorkSiteDTO, error) {
	var out []api.WorkSiteDTO
	err := c.do(ctx, http.MethodGet, "/api/worksites", nil, &out)
	return out, err
}

func (c *Client) SaveWorkSite(ctx context.Context, w api.WorkSiteDTO) (api.WorkSiteDTO, error) {
	var out api.WorkSiteDTO
	err := c.do(ctx, http.MethodPost, "/api/worksites", w, &out)
	return out, err
}

func (c *Client) Teams(ctx context.Context) ([]api.TeamDTO, error) {
	var out []api.TeamDTO
	err := c.do(ctx, http.MethodGet, "/api/teams", nil, &out)
	return out, err
}

func (c *Client) SaveTeam(ctx context.Context, t api.TeamDTO) (api.TeamDTO, error) {
	var out api.TeamDTO
	err := c.do(ctx, http.MethodPost, "/api/teams", t, &out)
	return out, err
}

func (c *Client) Employees(ctx context.Context) ([]api.EmployeeDTO, error) {
	var out []api.EmployeeDTO
	err := c.do(ctx, http.MethodGet, "/api/employees", nil, &out)
	return out, err
}

func (c *Client) SaveEmployee(ctx context.Context, e api.EmployeeDTO) (api.EmployeeDTO, error) {
	var out api.EmployeeDTO
	err := c.do(ctx, http.MethodPost, "/api/employees", e, &out)
	return out, err
}

// Costs returns the spend of a work site. A zero asOf lets the server use
// its current date.
func (c *Client) Costs(ctx context.Context, workSiteID string, asOf allocation.Date) (api.CostSummaryDTO, error) {
	path := "/api/worksites/" + url.PathEscape(workSiteID) + "/costs"
	if !asOf.IsZero() {
		path += "?as_of=" + asOf.String()
	}
	var out api.CostSummaryDTO
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// LoadScenario replaces the server's data with a demo scenario.
func (c *Client) LoadScenario(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": id}, nil)
}

// =============================================================================
// TRANSPORT
// =============================================================================

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: %w", planner.ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return fmt.Errorf("%w: %w", planner.ErrTransport, err)
	}
	defer resp.Body.Close()

	c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).Msg("request")

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(method, path, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %w", planner.ErrTransport, method, path, err)
	}
	return nil
}

func decodeError(method, path string, resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read error body: %w", planner.ErrTransport, err)
	}

	var body api.ErrorResponse
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		return &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	ca := body.ConflictingAllocation
	switch body.Code {
	case api.CodeValidation:
		return &allocation.ValidationError{Field: body.Field, Message: body.Error}

	case api.CodeConflict:
		if ca != nil && ca.StartDate != nil {
			return &allocation.ConflictError{
				Field:      body.ConflictField,
				EmployeeID: ca.EmployeeID,
				Conflicting: allocation.ConflictDetails{
					ID:           allocation.ID(ca.ID),
					WorkSiteID:   ca.WorkSiteID,
					WorkSiteName: ca.WorkSiteName,
					Start:        *ca.StartDate,
					End:          ca.EndDate,
				},
			}
		}
		return fmt.Errorf("%s %s: %w: %s", method, path, allocation.ErrConflict, body.Error)

	case api.CodeTransferFailed:
		te := &allocation.TransferError{Reason: body.Reason}
		if ca != nil {
			te.ConflictingID = allocation.ID(ca.ID)
		}
		if details, ok := body.Details.(string); ok && details != "" {
			te.Cause = errors.New(details)
		}
		return te

	case api.CodeNotFound:
		return fmt.Errorf("%s %s: %w", method, path, allocation.ErrNotFound)

	case api.CodeUnknownReference:
		return fmt.Errorf("%s %s: %w", method, path, allocation.ErrUnknownReference)
	}
	return &StatusError{StatusCode: resp.StatusCode, Code: body.Code, Message: body.Error}
}

func fromDTO(d api.AllocationDTO) (*allocation.Allocation, error) {
	a, err := api.FromAllocationDTO(d)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
