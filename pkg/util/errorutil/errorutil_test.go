package errorutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestToDomainErrorMapsStorageErrors(t *testing.T) {
	malformed := fmt.Errorf("select ticket: %w", &pgconn.PgError{Code: "22P02", Message: `invalid input syntax for type uuid: "abc"`})

	cases := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"no rows", pgx.ErrNoRows, CodeNotFound, http.StatusNotFound},
		{"malformed uuid", malformed, CodeNotFound, http.StatusNotFound},
		{"deadline", context.DeadlineExceeded, CodeTimeout, http.StatusGatewayTimeout},
		{"other", errors.New("connection reset"), CodeInternal, http.StatusInternalServerError},
		{"domain", NewStaleState("moved on", nil), CodeStaleState, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ToDomainError(tc.err)
			assert.Equal(t, tc.code, got.Code)
			assert.Equal(t, tc.status, got.HTTPStatus)
		})
	}
}

func TestTransient(t *testing.T) {
	assert.False(t, Transient(nil))
	assert.False(t, Transient(NewNotFound("ticket", nil)))
	assert.False(t, Transient(context.Canceled))
	assert.False(t, Transient(fmt.Errorf("get: %w", &pgconn.PgError{Code: "22P02"})))
	assert.False(t, Transient(&pgconn.PgError{Code: "23503"}))
	assert.True(t, Transient(&pgconn.PgError{Code: "40001"}))
	assert.True(t, Transient(errors.New("connection reset")))
}
