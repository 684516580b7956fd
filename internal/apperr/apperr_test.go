package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKind(t *testing.T) {
	err := fmt.Errorf("settle order: %w", New(ErrInsufficientStock, "variant %s has %d units", "v1", 0))
	if got := Kind(err); got != ErrInsufficientStock {
		t.Fatalf("Kind: got %v, want %v", got, ErrInsufficientStock)
	}
	if !IsBusiness(err) {
		t.Error("expected business error")
	}
	if err.Error() != "settle order: insufficient stock: variant v1 has 0 units" {
		t.Errorf("message: got %q", err.Error())
	}
}

func TestKind_SystemError(t *testing.T) {
	err := errors.New("connection reset")
	if Kind(err) != nil {
		t.Errorf("expected nil kind for system error")
	}
	if IsBusiness(err) {
		t.Error("system error reported as business error")
	}
}
