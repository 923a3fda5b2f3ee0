package helioflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Helioflow HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Project represents the API project model.
type Project struct {
	ID              string  `json:"id"`
	FirmID          string  `json:"firm_id"`
	Name            string  `json:"name"`
	Address         string  `json:"address,omitempty"`
	Status          string  `json:"status"`
	StatusSchema    string  `json:"status_schema"`
	CrewID          *string `json:"crew_id,omitempty"`
	InvoiceNumber   *string `json:"invoice_number,omitempty"`
	InvoiceURL      *string `json:"invoice_url,omitempty"`
	ReclamationOpen bool    `json:"reclamation_open"`
}

// Reclamation represents a complaint on a project.
type Reclamation struct {
	ID              string  `json:"id"`
	ProjectID       string  `json:"project_id"`
	Description     string  `json:"description"`
	Deadline        string  `json:"deadline"`
	Status          string  `json:"status"`
	OriginalCrewID  string  `json:"original_crew_id"`
	CurrentCrewID   string  `json:"current_crew_id"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
	ResolutionNotes *string `json:"resolution_notes,omitempty"`
}

// Suggestion is a date-driven transition hint.
type Suggestion struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	FirmID     string         `json:"firm_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, name, address string) (Project, error) {
	body := map[string]any{
		"name":    name,
		"address": address,
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", body, &resp)
	return resp, err
}

// GetProject fetches a project by id.
func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "v0/projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// SetStatus advances a project's status.
func (c *Client) SetStatus(ctx context.Context, projectID, status string, fastForward bool) (Project, error) {
	body := map[string]any{
		"status":       status,
		"fast_forward": fastForward,
	}
	var resp Project
	endpoint := fmt.Sprintf("v0/projects/%s/status", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// Suggest returns the suggested next transition for a project, or nil.
func (c *Client) Suggest(ctx context.Context, projectID string) (*Suggestion, error) {
	var resp struct {
		Suggestion *Suggestion `json:"suggestion"`
	}
	endpoint := fmt.Sprintf("v0/projects/%s/status/suggestion", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Suggestion, err
}

// CreateReclamation opens a complaint on a project.
func (c *Client) CreateReclamation(ctx context.Context, projectID, description, deadline, crewID string) (Reclamation, error) {
	body := map[string]any{
		"description": description,
		"deadline":    deadline,
		"crew_id":     crewID,
	}
	var resp Reclamation
	endpoint := fmt.Sprintf("v0/projects/%s/reclamations", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// AcceptReclamation accepts a pending reclamation.
func (c *Client) AcceptReclamation(ctx context.Context, id string) (Reclamation, error) {
	var resp Reclamation
	err := c.do(ctx, http.MethodPost, c.reclamationPath(id, "accept"), nil, &resp)
	return resp, err
}

// RejectReclamation rejects a pending reclamation with a reason.
func (c *Client) RejectReclamation(ctx context.Context, id, reason string) (Reclamation, error) {
	body := map[string]any{"reason": reason}
	var resp Reclamation
	err := c.do(ctx, http.MethodPost, c.reclamationPath(id, "reject"), body, &resp)
	return resp, err
}

// TakeReclamation claims a rejected reclamation from the pool.
func (c *Client) TakeReclamation(ctx context.Context, id string) (Reclamation, error) {
	var resp Reclamation
	err := c.do(ctx, http.MethodPost, c.reclamationPath(id, "take"), nil, &resp)
	return resp, err
}

// StartReclamation marks a reclamation as in progress.
func (c *Client) StartReclamation(ctx context.Context, id string) (Reclamation, error) {
	var resp Reclamation
	err := c.do(ctx, http.MethodPost, c.reclamationPath(id, "start"), nil, &resp)
	return resp, err
}

// CompleteReclamation resolves a reclamation.
func (c *Client) CompleteReclamation(ctx context.Context, id, notes string) (Reclamation, error) {
	body := map[string]any{"notes": notes}
	var resp Reclamation
	err := c.do(ctx, http.MethodPost, c.reclamationPath(id, "complete"), body, &resp)
	return resp, err
}

// Reclamations lists complaints by scope ("assigned", "available" or "all").
func (c *Client) Reclamations(ctx context.Context, scope string) ([]Reclamation, error) {
	endpoint := "v0/reclamations"
	if scope != "" {
		endpoint += "?scope=" + url.QueryEscape(scope)
	}
	var resp []Reclamation
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) reclamationPath(id, action string) string {
	return fmt.Sprintf("v0/reclamations/%s/%s", url.PathEscape(id), action)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
