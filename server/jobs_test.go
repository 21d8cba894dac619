package server

import (
	"context"
	"testing"

	"github.com/Daskott/sentinel/server/twilio"
	"github.com/Daskott/sentinel/server/work"
	"github.com/Daskott/sentinel/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUintArg(t *testing.T) {
	tests := []struct {
		description string
		args        map[string]interface{}
		expected    uint
		expectErr   bool
	}{
		{"json number", map[string]interface{}{"user_id": float64(12)}, 12, false},
		{"uint", map[string]interface{}{"user_id": uint(3)}, 3, false},
		{"missing", map[string]interface{}{}, 0, true},
		{"fraction", map[string]interface{}{"user_id": 1.5}, 0, true},
		{"negative", map[string]interface{}{"user_id": float64(-1)}, 0, true},
		{"string", map[string]interface{}{"user_id": "12"}, 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			value, err := uintArg(tc.args, "user_id")
			assert.Equal(t, tc.expectErr, err != nil)
			assert.Equal(t, tc.expected, value)
		})
	}
}

func TestSendChallengeCode(t *testing.T) {
	id, _ := createTestUser(t, "priya", "9876500012")

	// Nothing pending, nothing to send
	assert.Nil(t, sendChallengeCode(map[string]interface{}{"user_id": float64(id)}))

	_, err := accountGuard.IssueChallenge(context.Background(), id)
	require.Nil(t, err)

	// Twilio is not configured in tests, so the job fails & will be retried
	err = sendChallengeCode(map[string]interface{}{"user_id": float64(id)})
	assert.ErrorIs(t, err, twilio.ErrNotConfigured)

	assert.NotNil(t, sendChallengeCode(map[string]interface{}{}))
}

func TestBackupWithoutStorage(t *testing.T) {
	assert.NotNil(t, backupSqliteDb(nil))
}

func TestClearExpiredChallengesJob(t *testing.T) {
	assert.Nil(t, clearExpiredChallenges(nil))
}

func TestEnqueuePeriodicJobs(t *testing.T) {
	wpa := work.NewWorkerAdapter("UTC")

	err := enqueuePeriodicJobs(wpa, &shared.ServerConfig{})
	assert.Nil(t, err)

	err = enqueuePeriodicJobs(work.NewWorkerAdapter("UTC"), &shared.ServerConfig{
		Google: shared.GoogleConfig{Storage: shared.StorageConfig{
			EnableSqliteBackupAndSync: true,
			SqliteBackupSchedule:      "not a cron expression",
		}},
	})
	assert.NotNil(t, err)

	assert.ErrorIs(t, registerJobHandlers(workerPool), work.ErrDuplicateHandler)
}
