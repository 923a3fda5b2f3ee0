// Package invoicing talks to the external invoicing backend. Creating an
// invoice is the side effect of moving a project into the invoiced status.
package invoicing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"helioflow/internal/domain"
)

const defaultTimeout = 10 * time.Second

// Invoice is the result of a successful create call.
type Invoice struct {
	Number string `json:"number"`
	URL    string `json:"url"`
}

// Service creates invoices for projects.
type Service interface {
	CreateInvoice(ctx context.Context, project domain.Project) (Invoice, error)
}

// Client is an HTTP-backed Service.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string, timeoutSeconds int) *Client {
	timeout := defaultTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type createRequest struct {
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
	Address     string `json:"address,omitempty"`
	WorkEndDate string `json:"work_end_date,omitempty"`
}

func (c *Client) CreateInvoice(ctx context.Context, project domain.Project) (Invoice, error) {
	body := createRequest{
		ProjectID:   project.ID,
		ProjectName: project.Name,
		Address:     project.Address,
	}
	if project.WorkEndDate != nil {
		body.WorkEndDate = *project.WorkEndDate
	}
	data, err := json.Marshal(body)
	if err != nil {
		return Invoice{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/invoices", bytes.NewReader(data))
	if err != nil {
		return Invoice{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	res, err := c.HTTP.Do(req)
	if err != nil {
		return Invoice{}, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return Invoice{}, fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	var inv Invoice
	if err := json.NewDecoder(res.Body).Decode(&inv); err != nil {
		return Invoice{}, err
	}
	if strings.TrimSpace(inv.Number) == "" {
		return Invoice{}, fmt.Errorf("invoicing response missing number")
	}
	return inv, nil
}

// Stub returns deterministic invoices without any network call. Used by the
// CLI when no invoicing backend is configured, and by tests.
type Stub struct {
	Prefix string
	seq    atomic.Int64
}

func (s *Stub) CreateInvoice(_ context.Context, project domain.Project) (Invoice, error) {
	seq := s.seq.Add(1)
	prefix := s.Prefix
	if prefix == "" {
		prefix = "INV"
	}
	number := fmt.Sprintf("%s-%s-%04d", prefix, strings.ToUpper(shortID(project.ID)), seq)
	return Invoice{Number: number, URL: "stub://invoices/" + number}, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
