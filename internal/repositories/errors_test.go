package repositories

import (
	"errors"
	"testing"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/retry"
)

func TestRepositoryErrorMatchesSentinelAndCause(t *testing.T) {
	cause := errors.New("constraint failed")
	err := NewError(CodeDuplicateOrderNumber, "orders.create", cause)

	if !errors.Is(err, ErrDuplicateOrderNumber) {
		t.Fatalf("expected sentinel match")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause match")
	}
	if errors.Is(err, ErrStaleState) {
		t.Fatalf("unexpected stale match")
	}
	if !err.IsConflict() || err.IsNotFound() || err.IsUnavailable() {
		t.Fatalf("unexpected classification for %v", err)
	}
}

func TestRepositoryErrorRetryClassification(t *testing.T) {
	if retry.DefaultClassifier(NewError(CodeUnavailable, "orders.get", errors.New("down"))) != retry.ClassTransient {
		t.Fatalf("expected unavailable to be transient")
	}
	for _, code := range []ErrorCode{CodeNotFound, CodeStaleState, CodeEventAlreadyApplied} {
		if retry.DefaultClassifier(NewError(code, "op", nil)) != retry.ClassPermanent {
			t.Fatalf("expected %s to be permanent", code)
		}
	}
}
