package firestore

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassifiesStatusCodes(t *testing.T) {
	tests := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{code: codes.NotFound, notFound: true},
		{code: codes.AlreadyExists, conflict: true},
		{code: codes.FailedPrecondition, conflict: true},
		{code: codes.Unavailable, unavailable: true},
		{code: codes.DeadlineExceeded, unavailable: true},
		{code: codes.Aborted, unavailable: true},
		{code: codes.PermissionDenied},
	}
	for _, tc := range tests {
		err := WrapError("orders.get", status.Error(tc.code, "boom"))
		var fsErr *Error
		if !errors.As(err, &fsErr) {
			t.Fatalf("%s: expected *Error, got %T", tc.code, err)
		}
		if fsErr.IsNotFound() != tc.notFound || fsErr.IsConflict() != tc.conflict || fsErr.IsUnavailable() != tc.unavailable {
			t.Fatalf("%s: unexpected classification notFound=%v conflict=%v unavailable=%v", tc.code, fsErr.IsNotFound(), fsErr.IsConflict(), fsErr.IsUnavailable())
		}
	}
}

func TestWrapErrorPassesThroughNonStatusErrors(t *testing.T) {
	sentinel := errors.New("stale")
	if got := WrapError("tx", sentinel); got != sentinel {
		t.Fatalf("expected sentinel passthrough, got %v", got)
	}
	if got := WrapError("tx", status.Error(codes.Canceled, "cancel")); !errors.Is(got, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", got)
	}
	if WrapError("tx", nil) != nil {
		t.Fatalf("expected nil")
	}
}

func TestIsAlreadyExists(t *testing.T) {
	if !IsAlreadyExists(status.Error(codes.AlreadyExists, "dup")) {
		t.Fatalf("expected raw status to match")
	}
	if !IsAlreadyExists(WrapError("create", status.Error(codes.AlreadyExists, "dup"))) {
		t.Fatalf("expected wrapped error to match")
	}
	if IsAlreadyExists(errors.New("other")) {
		t.Fatalf("unexpected match")
	}
}
