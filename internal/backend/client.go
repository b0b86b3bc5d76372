// Package backend talks to the reminder service: it reads pending reminders
// and writes the done status on confirmation.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sandeepkv93/remindd/internal/model"
)

var ErrNoBaseURL = errors.New("backend: base url not configured")

// StatusError is a non-2xx response from the reminder service.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// NotFound reports whether the reminder no longer exists upstream.
func (e *StatusError) NotFound() bool { return e.Code == http.StatusNotFound }

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrNoBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("backend: parse base url: %w", err)
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type wireReminder struct {
	ID               int64  `json:"id"`
	TaskText         string `json:"task_text"`
	ScheduledTimeUTC string `json:"scheduled_time_utc"`
	Status           string `json:"status"`
}

type listResponse struct {
	Success   bool           `json:"success"`
	Reminders []wireReminder `json:"reminders"`
}

// ListReminders fetches pending reminders. Rows that do not parse are
// logged and skipped.
func (c *Client) ListReminders(ctx context.Context) ([]model.Reminder, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/reminders?status=pending", nil)
	if err != nil {
		return nil, err
	}
	wire, err := decodeList(body)
	if err != nil {
		return nil, fmt.Errorf("backend: decode reminders: %w", err)
	}

	out := make([]model.Reminder, 0, len(wire))
	for _, w := range wire {
		rem, convErr := w.toModel()
		if convErr != nil {
			c.logger.Warn("skipping malformed reminder", zap.Int64("reminder_id", w.ID), zap.Error(convErr))
			continue
		}
		out = append(out, rem)
	}
	return out, nil
}

// SetStatus writes a reminder status. Only the follow-up machine calls it,
// and only on confirmation.
func (c *Client) SetStatus(ctx context.Context, reminderID int64, status model.Status) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: %s", model.ErrInvalidStatus, status)
	}
	payload, err := json.Marshal(map[string]string{"status": string(status)})
	if err != nil {
		return fmt.Errorf("backend: marshal status: %w", err)
	}
	path := "/api/reminders/" + strconv.FormatInt(reminderID, 10) + "/status"
	if _, err := c.do(ctx, http.MethodPatch, path, payload); err != nil {
		return err
	}
	c.logger.Info("reminder status written", zap.Int64("reminder_id", reminderID), zap.String("status", string(status)))
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("backend: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

func decodeList(body []byte) ([]wireReminder, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var bare []wireReminder
		if err := json.Unmarshal(trimmed, &bare); err != nil {
			return nil, err
		}
		return bare, nil
	}
	var wrapped listResponse
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Reminders, nil
}

func (w wireReminder) toModel() (model.Reminder, error) {
	at, err := model.ParseScheduledTime(w.ScheduledTimeUTC)
	if err != nil {
		return model.Reminder{}, err
	}
	status, err := model.ParseStatus(w.Status)
	if err != nil {
		return model.Reminder{}, err
	}
	return model.Reminder{ID: w.ID, TaskText: w.TaskText, ScheduledAt: at, Status: status}, nil
}
