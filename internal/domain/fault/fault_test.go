package fault

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsStatus(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("get hub: %w", &UpstreamError{Status: http.StatusNotFound})

	if !IsStatus(wrapped, http.StatusNotFound) {
		t.Error("IsStatus(wrapped 404, 404) = false, want true")
	}
	if IsStatus(wrapped, http.StatusInternalServerError) {
		t.Error("IsStatus(wrapped 404, 500) = true, want false")
	}
	if IsStatus(errors.New("boom"), http.StatusNotFound) {
		t.Error("IsStatus(plain error) = true, want false")
	}
}

func TestUpstreamError_SafeMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   string
	}{
		{http.StatusNotFound, "resource not found"},
		{http.StatusBadRequest, "request rejected by upstream service"},
		{http.StatusForbidden, "access denied by upstream service"},
		{http.StatusTooManyRequests, "upstream service is busy, retry later"},
		{http.StatusBadGateway, "upstream service error"},
	}
	for _, tt := range tests {
		e := &UpstreamError{Status: tt.status}
		if got := e.SafeMessage(); got != tt.want {
			t.Errorf("SafeMessage(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
