package storage

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ObjectPurpose selects the layout of an object key.
type ObjectPurpose string

const (
	PurposeWebhookPayload  ObjectPurpose = "webhook-payload"
	PurposeReconcileReport ObjectPurpose = "reconcile-report"
)

// PathParams provide the identifiers used to compose object keys.
type PathParams struct {
	Provider string
	EventID  string
	RunID    string
	At       time.Time
}

// PathBuilder composes the object path for a given purpose.
type PathBuilder func(PathParams) (string, error)

var (
	pathBuilders = map[ObjectPurpose]PathBuilder{
		PurposeWebhookPayload:  buildWebhookPayloadPath,
		PurposeReconcileReport: buildReconcileReportPath,
	}
	pathBuildersMu sync.RWMutex
)

// RegisterPathBuilder overrides or registers a builder for a specific purpose.
func RegisterPathBuilder(purpose ObjectPurpose, builder PathBuilder) {
	pathBuildersMu.Lock()
	defer pathBuildersMu.Unlock()
	if builder == nil {
		delete(pathBuilders, purpose)
		return
	}
	pathBuilders[purpose] = builder
}

// BuildObjectPath resolves the object path for the given purpose.
func BuildObjectPath(purpose ObjectPurpose, params PathParams) (string, error) {
	pathBuildersMu.RLock()
	builder, ok := pathBuilders[purpose]
	pathBuildersMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("storage: unsupported object purpose %q", purpose)
	}
	return builder(params)
}

// webhooks/{provider}/YYYY/MM/DD/{eventId}.json
func buildWebhookPayloadPath(params PathParams) (string, error) {
	provider, err := validateSegment("provider", strings.ToLower(params.Provider))
	if err != nil {
		return "", err
	}
	eventID, err := validateSegment("eventID", params.EventID)
	if err != nil {
		return "", err
	}
	at, err := requireTime(params.At)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("webhooks/%s/%s/%s.json", provider, at.Format("2006/01/02"), eventID), nil
}

// reports/reconcile/YYYY/MM/DD/{runId}.json
func buildReconcileReportPath(params PathParams) (string, error) {
	runID, err := validateSegment("runID", params.RunID)
	if err != nil {
		return "", err
	}
	at, err := requireTime(params.At)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("reports/reconcile/%s/%s.json", at.Format("2006/01/02"), runID), nil
}

func requireTime(at time.Time) (time.Time, error) {
	if at.IsZero() {
		return time.Time{}, fmt.Errorf("storage: timestamp is required")
	}
	return at.UTC(), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
