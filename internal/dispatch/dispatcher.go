// Package dispatch notifies the downstream dataset-processing service.
// Delivery is at-most-once with no retry: a notification either lands
// or is logged and lost. Nothing here ever surfaces to the client
// response path.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Notifier is the dispatcher consumed by the API layer. Both calls are
// fire-and-forget from the caller's perspective; the error return
// exists so dispatch failures can be observed in tests and logs.
type Notifier interface {
	ProcessDataset(ctx context.Context, key, userID string) error
	DuplicateDataset(ctx context.Context, oldID, newID string) error
}

// Dispatcher posts JSON notifications to the processing service.
type Dispatcher struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// New creates a Dispatcher for the given base endpoint.
func New(endpoint string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// ProcessDataset notifies that an uploaded object is ready to process.
func (d *Dispatcher) ProcessDataset(ctx context.Context, key, userID string) error {
	return d.post(ctx, "/datasets/process_dataset", map[string]string{
		"key":    key,
		"userId": userID,
	})
}

// DuplicateDataset asks for an asynchronous clone of one dataset's
// objects into another's key space. Completion is signalled back via
// the jobs callback, not by this call returning.
func (d *Dispatcher) DuplicateDataset(ctx context.Context, oldID, newID string) error {
	return d.post(ctx, "/datasets/jobs/duplicate_dataset", map[string]string{
		"oldDatasetId": oldID,
		"newDatasetId": newID,
	})
}

func (d *Dispatcher) post(ctx context.Context, path string, payload map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("dispatch failed",
			zap.String("path", path),
			zap.Error(err),
		)
		return fmt.Errorf("dispatch %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		d.logger.Warn("dispatch rejected",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("dispatch %s: status %d", path, resp.StatusCode)
	}
	return nil
}
