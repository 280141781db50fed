package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teemow/accountbroker/internal/authflow"
	"github.com/teemow/accountbroker/internal/credentials"
)

func TestErrorStatus(t *testing.T) {
	storeDown := fmt.Errorf("%w: delete: %w", credentials.ErrStoreUnavailable, errors.New("timeout"))

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid account", credentials.ErrInvalidAccount, http.StatusBadRequest},
		{"invalid state", authflow.ErrInvalidState, http.StatusBadRequest},
		{"not authenticated", credentials.ErrNotAuthenticated, http.StatusUnauthorized},
		{"rejected", fmt.Errorf("%w: invalid_grant", credentials.ErrProviderRejected), http.StatusUnauthorized},
		{"store unavailable", storeDown, http.StatusServiceUnavailable},
		{
			"rejected but not purged",
			&credentials.AccountError{
				Op:      "refresh credential",
				Account: "a@x.com",
				Err:     fmt.Errorf("%w: invalid_grant: %w", credentials.ErrProviderRejected, storeDown),
			},
			http.StatusServiceUnavailable,
		},
		{"invalid response", credentials.ErrInvalidResponse, http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorStatus(tt.err, http.StatusInternalServerError))
		})
	}
}
