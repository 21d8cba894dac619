package models

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/Daskott/sentinel/server/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	auth.PasswordHashCost = bcrypt.MinCost
	InitializeTestDb()
	os.Exit(m.Run())
}

var userSeq int

func createTestUser(t *testing.T) *User {
	userSeq++
	user := &User{
		Username:    fmt.Sprintf("tourist%v", userSeq),
		FirstName:   "tony",
		LastName:    "stark",
		PhoneNumber: fmt.Sprintf("+1416555%04d", userSeq),
		Email:       fmt.Sprintf("tourist%v@avengers.com", userSeq),
		Password:    "very-secure",
	}

	require.Nil(t, CreateUser(user))
	return user
}

func TestCreateUserHashesPassword(t *testing.T) {
	user := createTestUser(t)

	found, err := FindUserForLogin(context.Background(), user.Username, "")
	require.Nil(t, err)
	assert.True(t, auth.CheckPasswordHash("very-secure", found.Password))
	assert.True(t, found.Active)
	assert.Equal(t, uint(1), found.Version)

	found, err = FindUserForLogin(context.Background(), "unknown", user.PhoneNumber)
	require.Nil(t, err)
	assert.Equal(t, user.ID, found.ID)

	withoutPassword, err := FindUserBy("id", user.ID)
	require.Nil(t, err)
	assert.Empty(t, withoutPassword.Password)
}

func TestUpdateUserSecurityStateComparesVersion(t *testing.T) {
	user := createTestUser(t)
	ctx := context.Background()
	lockedUntil := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	version, err := UpdateUserSecurityState(ctx, user.ID, 1, SecurityState{
		FailedLoginAttempts: 5,
		LockedUntil:         &lockedUntil,
	})
	require.Nil(t, err)
	assert.Equal(t, uint(2), version)

	// A writer still holding version 1 loses
	_, err = UpdateUserSecurityState(ctx, user.ID, 1, SecurityState{})
	assert.True(t, errors.Is(err, ErrStaleRecord))

	_, err = UpdateUserSecurityState(ctx, 999999, 1, SecurityState{})
	assert.True(t, errors.Is(err, ErrNotFound))

	found, err := FindUserWithSecurityState(ctx, user.ID)
	require.Nil(t, err)
	assert.Equal(t, 5, found.FailedLoginAttempts)
	require.NotNil(t, found.LockedUntil)
	assert.True(t, lockedUntil.Equal(*found.LockedUntil))
	assert.Equal(t, uint(2), found.Version)
}

func TestClearExpiredChallenges(t *testing.T) {
	user := createTestUser(t)
	ctx := context.Background()
	expiredAt := time.Now().Add(-time.Minute)

	_, err := UpdateUserSecurityState(ctx, user.ID, 1, SecurityState{
		ChallengeCode:      "123456",
		ChallengeExpiresAt: &expiredAt,
	})
	require.Nil(t, err)

	cleared, err := ClearExpiredChallenges(time.Now())
	require.Nil(t, err)
	assert.True(t, cleared >= 1)

	found, err := FindUserWithSecurityState(ctx, user.ID)
	require.Nil(t, err)
	assert.Empty(t, found.ChallengeCode)
	assert.Nil(t, found.ChallengeExpiresAt)
	assert.Equal(t, uint(3), found.Version)
}

func TestEmergencyContact(t *testing.T) {
	user := createTestUser(t)

	require.Nil(t, user.SetEmergencyContact("pepper potts", "+919876543210", "spouse"))

	found, err := FindUserBy("id", user.ID)
	require.Nil(t, err)
	assert.True(t, found.HasEmergencyContact())
	assert.Equal(t, "spouse", found.EmergencyContactRelationship)

	require.Nil(t, found.ClearEmergencyContact())
	found, err = FindUserBy("id", user.ID)
	require.Nil(t, err)
	assert.False(t, found.HasEmergencyContact())
}

func TestAddressBookHasSinglePrimaryContact(t *testing.T) {
	user := createTestUser(t)

	require.Nil(t, user.AddContact(&Contact{Name: "happy", PhoneNumber: "+14165550001", IsPrimary: true}))
	require.Nil(t, user.AddContact(&Contact{Name: "rhodey", PhoneNumber: "+14165550002", IsPrimary: true}))
	require.Nil(t, user.AddContact(&Contact{Name: "vision", PhoneNumber: "+14165550003"}))

	contacts, paging, err := user.FetchContacts(1)
	require.Nil(t, err)
	assert.Equal(t, int64(3), paging.Total)
	require.Len(t, contacts, 3)
	assert.Equal(t, "rhodey", contacts[0].Name)
	assert.True(t, contacts[0].IsPrimary)
	assert.False(t, contacts[1].IsPrimary)

	require.Nil(t, user.DeleteContact(contacts[2].ID))
	assert.True(t, errors.Is(user.DeleteContact(contacts[2].ID), ErrNotFound))
}

func TestAlertsAreReturnedMostRecentFirst(t *testing.T) {
	user := createTestUser(t)
	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Second)
	lat, lon := 12.9, 77.6

	for i := 0; i < 3; i++ {
		alert := &Alert{
			UserID:      user.ID,
			FirstName:   user.FirstName,
			TriggeredAt: start.Add(time.Duration(i) * time.Minute),
			Category:    SOS_ALERT_CATEGORY,
			Latitude:    &lat,
			Longitude:   &lon,
			NotifiedContacts: []AlertContact{
				{PhoneNumber: "+911123978046", Position: 0},
				{PhoneNumber: user.PhoneNumber, Position: 1},
			},
		}
		require.Nil(t, CreateAlert(ctx, alert))
		assert.NotZero(t, alert.ID)
		assert.Equal(t, ACTIVE_ALERT, alert.Status)
	}

	alerts, err := FetchAlertsByUser(ctx, user.ID, 2, 0)
	require.Nil(t, err)
	require.Len(t, alerts, 2)
	assert.True(t, alerts[0].TriggeredAt.After(alerts[1].TriggeredAt))
	assert.Equal(t, []string{"+911123978046", user.PhoneNumber}, alerts[0].Destinations())
	assert.True(t, alerts[0].HasLocation())

	alerts, err = FetchAlertsByUser(ctx, user.ID, 10, 2)
	require.Nil(t, err)
	assert.Len(t, alerts, 1)
}

func TestResolveAlert(t *testing.T) {
	user := createTestUser(t)
	alert := &Alert{UserID: user.ID, TriggeredAt: time.Now(), Category: SOS_ALERT_CATEGORY}
	require.Nil(t, CreateAlert(context.Background(), alert))

	assert.NotNil(t, alert.Resolve(ACTIVE_ALERT, 1, "", time.Now()))

	require.Nil(t, alert.Resolve(RESOLVED_ALERT, 1, "tourist found safe", time.Now()))

	found, err := FindAlert(alert.ID)
	require.Nil(t, err)
	assert.Equal(t, RESOLVED_ALERT, found.Status)
	assert.Equal(t, "tourist found safe", found.ResolutionNotes)
	require.NotNil(t, found.ResolvedBy)

	// Resolution only happens once
	err = found.Resolve(CANCELLED_ALERT, 1, "", time.Now())
	assert.True(t, errors.Is(err, ErrAlertNotActive))
}

func TestCreateUniqueJobByName(t *testing.T) {
	require.Nil(t, CreateUniqueJobByName("sendChallengeCode_1", "sendChallengeCode", `{"user_id":1}`))

	err := CreateUniqueJobByName("sendChallengeCode_1", "sendChallengeCode", `{"user_id":1}`)
	assert.True(t, errors.Is(err, ErrDuplicateJob))

	job, err := FirstJob(ENQUEUED_JOB, false)
	require.Nil(t, err)

	claimed, err := job.MarkAsClaimed()
	require.Nil(t, err)
	assert.True(t, claimed)

	claimed, err = job.MarkAsClaimed()
	require.Nil(t, err)
	assert.False(t, claimed, "a job can only be claimed once")

	stats, err := CurrentJobsStats()
	require.Nil(t, err)
	assert.Equal(t, int64(1), stats.InProgressJobCount)
}

func TestDeactivateUser(t *testing.T) {
	user := createTestUser(t)
	ctx := context.Background()

	require.Nil(t, DeactivateUser(user.ID))

	found, err := FindUserWithSecurityState(ctx, user.ID)
	require.Nil(t, err)
	assert.False(t, found.Active)
	assert.Equal(t, uint(2), found.Version, "deactivation should invalidate in-flight security writes")

	assert.True(t, errors.Is(DeactivateUser(999999), ErrNotFound))
}

func TestCreateJobUnlessEnqueued(t *testing.T) {
	name := "sendChallengeCode_77"
	require.Nil(t, CreateJobUnlessEnqueued(name, "sendChallengeCode", `{"user_id":77}`))

	err := CreateJobUnlessEnqueued(name, "sendChallengeCode", `{"user_id":77}`)
	assert.True(t, errors.Is(err, ErrDuplicateJob))

	inProgress, err := FindJobStatus(IN_PROGRESS_JOB)
	require.Nil(t, err)
	require.Nil(t, db.Model(&Job{}).Where("name = ?", name).Update("job_status_id", inProgress.ID).Error)

	require.Nil(t, CreateJobUnlessEnqueued(name, "sendChallengeCode", `{"user_id":77}`))

	var count int64
	require.Nil(t, db.Model(&Job{}).Where("name = ?", name).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	err = CreateUniqueJobByName(name, "sendChallengeCode", `{"user_id":77}`)
	assert.True(t, errors.Is(err, ErrDuplicateJob))
}
