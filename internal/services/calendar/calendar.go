// Package calendar pushes schedule entries to the external calendar backend.
// Calendar failures never block workflow operations.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Second

// Entry is a scheduled slot for a crew.
type Entry struct {
	CrewID    string `json:"crew_id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	Date      string `json:"date"`
}

// Service schedules calendar entries.
type Service interface {
	ScheduleEntry(ctx context.Context, entry Entry) error
}

// Client is an HTTP-backed Service.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: defaultTimeout},
	}
}

func (c *Client) ScheduleEntry(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/entries", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	res, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

// Noop discards all entries.
type Noop struct{}

func (Noop) ScheduleEntry(context.Context, Entry) error { return nil }
