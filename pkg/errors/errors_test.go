package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("db down")
	err := Wrap(CodeDependency, cause, "loading quote")

	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected wrapped error to match cause")
	}
	if err.Code() != CodeDependency {
		t.Fatalf("unexpected code %s", err.Code())
	}
}

func TestAsFindsTypedErrorInChain(t *testing.T) {
	inner := New(CodeConcurrentModification, "quote version mismatch")
	wrapped := fmt.Errorf("advancing quote: %w", inner)

	typed := As(wrapped)
	if typed == nil {
		t.Fatal("expected typed error in chain")
	}
	if typed.Code() != CodeConcurrentModification {
		t.Fatalf("unexpected code %s", typed.Code())
	}
}

func TestIsCode(t *testing.T) {
	err := New(CodeInsufficientCapacity, "no gpus left")
	if !IsCode(err, CodeInsufficientCapacity) {
		t.Fatal("expected IsCode to match")
	}
	if IsCode(err, CodeNotFound) {
		t.Fatal("expected IsCode mismatch for different code")
	}
	if IsCode(nil, CodeNotFound) {
		t.Fatal("nil error should never match")
	}
}

func TestMetadataForUnknownCodeFallsBack(t *testing.T) {
	meta := MetadataFor(Code("BOGUS"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal fallback, got %d", meta.HTTPStatus)
	}
}

func TestMetadataForDomainCodes(t *testing.T) {
	if got := MetadataFor(CodeInsufficientCapacity).HTTPStatus; got != http.StatusConflict {
		t.Fatalf("expected 409 for capacity, got %d", got)
	}
	if got := MetadataFor(CodePaymentPermanentFailure).HTTPStatus; got != http.StatusPaymentRequired {
		t.Fatalf("expected 402 for permanent payment failure, got %d", got)
	}
	if !MetadataFor(CodePaymentRetryableFailure).Retryable {
		t.Fatal("retryable payment failure should be flagged retryable")
	}
}

func TestDumpCollectsChain(t *testing.T) {
	cause := stdErrors.New("socket closed")
	err := Wrap(CodeDependency, cause, "charge call")

	dump := Dump(err)
	if dump.Code != CodeDependency {
		t.Fatalf("unexpected dump code %s", dump.Code)
	}
	if len(dump.Chain) < 2 {
		t.Fatalf("expected at least 2 chain entries, got %d", len(dump.Chain))
	}
}
