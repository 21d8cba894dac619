package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Daskott/sentinel/server/clock"
	"github.com/Daskott/sentinel/server/guard"
	"github.com/stretchr/testify/assert"
)

func TestWriteGuardErrorRetryAfter(t *testing.T) {
	fakeClock := clock.NewFake(time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC))
	defer func(previous clock.Clock) { serverClock = previous }(serverClock)
	serverClock = fakeClock

	tests := []struct {
		description string
		until       time.Time
		retryAfter  string
	}{
		{"whole seconds", fakeClock.Now().Add(90 * time.Second), "90"},
		{"rounded up", fakeClock.Now().Add(1500 * time.Millisecond), "2"},
		{"already lapsed", fakeClock.Now().Add(-time.Minute), "0"},
	}

	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			writeGuardError(recorder, &guard.LockedError{Until: tc.until})

			assert.Equal(t, http.StatusLocked, recorder.Code)
			assert.Equal(t, tc.retryAfter, recorder.Header().Get("Retry-After"))
		})
	}
}

func TestWriteGuardErrorStatuses(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{guard.ErrInvalidCredentials, http.StatusUnauthorized},
		{guard.ErrChallengeInvalid, http.StatusBadRequest},
		{guard.ErrIdentityNotFound, http.StatusNotFound},
	}

	for _, tc := range tests {
		recorder := httptest.NewRecorder()
		writeGuardError(recorder, tc.err)
		assert.Equal(t, tc.status, recorder.Code, tc.err.Error())
	}
}
