package apperr

import (
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", ErrNotFound, http.StatusNotFound},
		{"invalid transition", ErrInvalidTransition, http.StatusConflict},
		{"invalid state", ErrInvalidState, http.StatusConflict},
		{"forbidden", ErrForbidden, http.StatusForbidden},
		{"amount mismatch", ErrAmountMismatch, http.StatusBadRequest},
		{"signature invalid", ErrSignatureInvalid, http.StatusBadRequest},
		{"upstream failure", ErrUpstreamFailure, http.StatusBadGateway},
		{"unclassified", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestHTTPStatus_Wrapped(t *testing.T) {
	err := fmt.Errorf("appointment 42: %w", ErrInvalidTransition)
	if got := HTTPStatus(err); got != http.StatusConflict {
		t.Errorf("wrapped error status = %d, want %d", got, http.StatusConflict)
	}
}

func TestToHTTP(t *testing.T) {
	he := ToHTTP(fmt.Errorf("payment 7: %w", ErrNotFound))
	if he.Code != http.StatusNotFound {
		t.Errorf("code = %d, want %d", he.Code, http.StatusNotFound)
	}
	if he.Message != "payment 7: not found" {
		t.Errorf("message = %v", he.Message)
	}
}
