package server

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/Daskott/sentinel/server/guard"
	"github.com/Daskott/sentinel/server/models"
	"github.com/Daskott/sentinel/server/work"
	"github.com/Daskott/sentinel/shared"
)

const (
	SEND_CHALLENGE_CODE_HANDLER      = "sendChallengeCode"
	BACKUP_SQLITE_DB_HANDLER         = "backupSqliteDb"
	CLEAR_EXPIRED_CHALLENGES_HANDLER = "clearExpiredChallenges"

	CLEAR_EXPIRED_CHALLENGES_SCHEDULE = "*/15 * * * *"
)

// sendChallengeCode texts the user's pending verification code. A code
// that expired while the job waited in the queue is not sent.
func sendChallengeCode(args map[string]interface{}) error {
	uid, err := uintArg(args, "user_id")
	if err != nil {
		return err
	}

	identity, pending, err := accountGuard.PendingChallenge(context.Background(), uid)
	if errors.Is(err, guard.ErrChallengeInvalid) {
		logg.Infof("No pending verification code for user %v, nothing to send", uid)
		return nil
	}

	if err != nil {
		return err
	}

	minutesLeft := int(math.Ceil(pending.ExpiresAt.Sub(serverClock.Now()).Minutes()))
	body := fmt.Sprintf("Your sentinel verification code is %v. It expires in %v minute(s).", pending.Code, minutesLeft)

	_, err = smsClient.Send(smsSender, identity.PhoneNumber, body)
	return err
}

func backupSqliteDb(map[string]interface{}) error {
	if gStorage == nil {
		return errors.New("backupSqliteDb: google storage is not configured")
	}

	err := models.CheckpointWAL()
	if err != nil {
		return err
	}

	dbFilePath, err := models.DbFilePath(configDir)
	if err != nil {
		return err
	}

	return gStorage.UploadFile(dbFilePath)
}

func clearExpiredChallenges(map[string]interface{}) error {
	cleared, err := models.ClearExpiredChallenges(serverClock.Now())
	if err != nil {
		return err
	}

	if cleared > 0 {
		logg.Infof("Cleared %v expired verification code(s)", cleared)
	}
	return nil
}

func registerJobHandlers(wpa *work.WorkerPoolAdapter) error {
	handlers := map[string]work.Handler{
		SEND_CHALLENGE_CODE_HANDLER:      sendChallengeCode,
		BACKUP_SQLITE_DB_HANDLER:         backupSqliteDb,
		CLEAR_EXPIRED_CHALLENGES_HANDLER: clearExpiredChallenges,
	}

	for name, handler := range handlers {
		err := wpa.Register(name, handler)
		if err != nil {
			return err
		}
	}

	return nil
}

func enqueuePeriodicJobs(wpa *work.WorkerPoolAdapter, config *shared.ServerConfig) error {
	err := wpa.PeriodicallyPerform(CLEAR_EXPIRED_CHALLENGES_SCHEDULE, work.JobParams{
		Name:    CLEAR_EXPIRED_CHALLENGES_HANDLER,
		Handler: CLEAR_EXPIRED_CHALLENGES_HANDLER,
	})
	if err != nil {
		return err
	}

	if !config.Google.Storage.EnableSqliteBackupAndSync {
		return nil
	}

	return wpa.PeriodicallyPerform(config.Google.Storage.SqliteBackupSchedule, work.JobParams{
		Name:    BACKUP_SQLITE_DB_HANDLER,
		Handler: BACKUP_SQLITE_DB_HANDLER,
	})
}

func uintArg(args map[string]interface{}, name string) (uint, error) {
	// Job args round-trip through JSON, so numbers come back as float64
	switch value := args[name].(type) {
	case float64:
		if value < 0 || value != math.Trunc(value) {
			return 0, fmt.Errorf("%v must be a positive integer, got %v", name, value)
		}
		return uint(value), nil
	case uint:
		return value, nil
	case int:
		if value < 0 {
			return 0, fmt.Errorf("%v must be a positive integer, got %v", name, value)
		}
		return uint(value), nil
	default:
		return 0, fmt.Errorf("%v is missing or not a number", name)
	}
}
