package bcma

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestMapError_StatusCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown session", ErrSessionNotFound, http.StatusNotFound},
		{"unknown order", ErrOrderNotFound, http.StatusNotFound},
		{"active session conflict", ErrSessionActive, http.StatusConflict},
		{"duplicate administration", ErrDuplicateAdministration, http.StatusConflict},
		{"terminal session", ErrSessionTerminal, http.StatusConflict},
		{"scan not expected", ErrScanNotExpected, http.StatusConflict},
		{"override not allowed", ErrOverrideNotAllowed, http.StatusUnprocessableEntity},
		{"rights unsatisfied", ErrRightsUnsatisfied, http.StatusUnprocessableEntity},
		{"inactive order", ErrOrderInactive, http.StatusUnprocessableEntity},
		{"wrapped inactive order", fmt.Errorf("order 42: %w", ErrOrderInactive), http.StatusUnprocessableEntity},
		{"storage outage", errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpErr, ok := mapError(tt.err).(*echo.HTTPError)
			if !ok {
				t.Fatalf("expected echo.HTTPError, got %T", mapError(tt.err))
			}
			if httpErr.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, httpErr.Code)
			}
		})
	}
}
