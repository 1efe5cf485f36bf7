package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// ObjectWriter writes one object, failing when it already exists.
type ObjectWriter interface {
	WriteIfAbsent(ctx context.Context, bucket, object, contentType string, data []byte) error
}

// GCSWriter writes objects to Cloud Storage.
type GCSWriter struct {
	client *storage.Client
}

// NewGCSWriter wraps a Cloud Storage client.
func NewGCSWriter(client *storage.Client) *GCSWriter {
	return &GCSWriter{client: client}
}

// WriteIfAbsent uploads data with a does-not-exist precondition.
func (w *GCSWriter) WriteIfAbsent(ctx context.Context, bucket, object, contentType string, data []byte) error {
	writer := w.client.Bucket(bucket).Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

// WebhookArchive stores raw provider payloads for audit and replay.
type WebhookArchive struct {
	writer ObjectWriter
	bucket string
}

// NewWebhookArchive returns nil when no bucket is configured; a nil archive discards payloads.
func NewWebhookArchive(writer ObjectWriter, bucket string) (*WebhookArchive, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, nil
	}
	if writer == nil {
		return nil, errors.New("storage: object writer is required")
	}
	return &WebhookArchive{writer: writer, bucket: bucket}, nil
}

// Store writes the payload under webhooks/{provider}/YYYY/MM/DD/{eventId}.json. A payload that
// was already archived by an earlier delivery is not an error.
func (a *WebhookArchive) Store(ctx context.Context, provider, eventID string, at time.Time, payload []byte) (string, error) {
	if a == nil {
		return "", nil
	}
	object, err := BuildObjectPath(PurposeWebhookPayload, PathParams{Provider: provider, EventID: eventID, At: at})
	if err != nil {
		return "", err
	}
	if err := a.writer.WriteIfAbsent(ctx, a.bucket, object, "application/json", payload); err != nil {
		if isPreconditionFailed(err) {
			return object, nil
		}
		return "", fmt.Errorf("storage: archive %s: %w", object, err)
	}
	return object, nil
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}

// ReportArchive keeps reconciliation sweep reports next to the webhook payloads.
type ReportArchive struct {
	writer ObjectWriter
	bucket string
}

// NewReportArchive returns nil when no bucket is configured.
func NewReportArchive(writer ObjectWriter, bucket string) (*ReportArchive, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, nil
	}
	if writer == nil {
		return nil, errors.New("storage: object writer is required")
	}
	return &ReportArchive{writer: writer, bucket: bucket}, nil
}

// StoreReconcileReport writes report under reports/reconcile/YYYY/MM/DD/{runId}.json.
func (a *ReportArchive) StoreReconcileReport(ctx context.Context, runID string, at time.Time, report []byte) (string, error) {
	if a == nil {
		return "", nil
	}
	object, err := BuildObjectPath(PurposeReconcileReport, PathParams{RunID: runID, At: at})
	if err != nil {
		return "", err
	}
	if err := a.writer.WriteIfAbsent(ctx, a.bucket, object, "application/json", report); err != nil {
		return "", fmt.Errorf("storage: report %s: %w", object, err)
	}
	return "gs://" + a.bucket + "/" + object, nil
}
