// Package sinks provides runlog.Sink implementations.
package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/edge-cache-warmer/internal/runlog"
)

const defaultWebhookTimeout = 20 * time.Second

// Webhook posts the whole batch to a spreadsheet web app. The app creates one
// sheet per run label.
type Webhook struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	SheetName string   `json:"sheetName"`
	RunID     string   `json:"runId"`
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
}

type webhookReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// NewWebhook returns a webhook sink. A nil client gets a 20s timeout.
func NewWebhook(url string, client *http.Client) (*Webhook, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("webhook url is required")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	return &Webhook{url: url, client: client}, nil
}

// Name implements runlog.Sink.
func (w *Webhook) Name() string { return "webhook" }

// Write implements runlog.Sink. The batch is acknowledged only by a 2xx reply
// whose body carries ok=true.
func (w *Webhook) Write(ctx context.Context, batch runlog.Batch) error {
	payload := webhookPayload{
		SheetName: batch.Label,
		RunID:     batch.RunID,
		Columns:   runlog.Columns,
		Rows:      make([][]any, 0, len(batch.Rows)),
	}
	for _, row := range batch.Rows {
		payload.Rows = append(payload.Rows, row.Values())
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read webhook reply: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var reply webhookReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return fmt.Errorf("decode webhook reply: %w", err)
	}
	if !reply.OK {
		if reply.Error != "" {
			return fmt.Errorf("webhook rejected batch: %s", reply.Error)
		}
		return errors.New("webhook rejected batch")
	}
	return nil
}
