package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(cause, DatabaseError)
	if !stderrors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be reachable")
	}
	if err.Code.HTTPStatus() != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", err.Code.HTTPStatus())
	}
}

func TestGetErrorThroughFmtWrap(t *testing.T) {
	inner := New(TestCasesNotFound)
	outer := fmt.Errorf("load: %w", inner)
	if GetCode(outer) != TestCasesNotFound {
		t.Fatalf("expected code to survive fmt wrapping")
	}
	if GetError(outer).Code.HTTPStatus() != http.StatusNotFound {
		t.Fatalf("expected 404")
	}
}

func TestGetErrorDefaultsToInternal(t *testing.T) {
	if GetCode(stderrors.New("boom")) != InternalServerError {
		t.Fatalf("expected internal server error")
	}
	if GetCode(nil) != Success {
		t.Fatalf("nil should map to success")
	}
	if !Is(Newf(InvalidParams, "code is required"), InvalidParams) {
		t.Fatalf("expected Is to match")
	}
}
