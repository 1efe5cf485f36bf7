package storage

import (
	"testing"
	"time"
)

func TestBuildWebhookPayloadPath(t *testing.T) {
	at := time.Date(2025, 3, 7, 23, 30, 0, 0, time.FixedZone("JST", 9*3600))
	path, err := BuildObjectPath(PurposeWebhookPayload, PathParams{Provider: "Stripe", EventID: "evt_123", At: at})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "webhooks/stripe/2025/03/07/evt_123.json"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildReconcileReportPath(t *testing.T) {
	path, err := BuildObjectPath(PurposeReconcileReport, PathParams{RunID: "run-1", At: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "reports/reconcile/2025/01/02/run-1.json" {
		t.Fatalf("unexpected path %s", path)
	}
}

func TestBuildObjectPathRejectsInvalidInput(t *testing.T) {
	cases := []PathParams{
		{Provider: "stripe", EventID: "../evt", At: time.Now()},
		{Provider: "stripe", EventID: "a/b", At: time.Now()},
		{Provider: "stripe", EventID: "evt_1"},
		{EventID: "evt_1", At: time.Now()},
	}
	for _, params := range cases {
		if _, err := BuildObjectPath(PurposeWebhookPayload, params); err == nil {
			t.Fatalf("expected error for %+v", params)
		}
	}
	if _, err := BuildObjectPath(ObjectPurpose("unknown"), PathParams{}); err == nil {
		t.Fatalf("expected error for unknown purpose")
	}
}
