package guard

import (
	"context"

	"github.com/Daskott/sentinel/server/models"
	"github.com/pkg/errors"
)

// GormStore keeps identities in the users table. Writes go through
// models.UpdateUserSecurityState, which compares and bumps the version.
type GormStore struct {
	normalizePhoneNumber func(string) (string, bool)
}

// NewGormStore takes the phone normalizer so a login identifier typed in
// any format still matches the stored canonical number.
func NewGormStore(normalizePhoneNumber func(string) (string, bool)) *GormStore {
	return &GormStore{normalizePhoneNumber: normalizePhoneNumber}
}

func (s *GormStore) FindByIdentifier(ctx context.Context, identifier string) (*Identity, error) {
	phoneNumber := ""
	if s.normalizePhoneNumber != nil {
		phoneNumber, _ = s.normalizePhoneNumber(identifier)
	}

	user, err := models.FindUserForLogin(ctx, identifier, phoneNumber)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrIdentityNotFound
	}

	if err != nil {
		return nil, err
	}

	return identityFromUser(user), nil
}

func (s *GormStore) FindByID(ctx context.Context, id uint) (*Identity, error) {
	user, err := models.FindUserWithSecurityState(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrIdentityNotFound
	}

	if err != nil {
		return nil, err
	}

	return identityFromUser(user), nil
}

func (s *GormStore) Save(ctx context.Context, identity *Identity) error {
	version, err := models.UpdateUserSecurityState(ctx, identity.ID, identity.Version, securityStateFromIdentity(identity))
	if errors.Is(err, models.ErrStaleRecord) {
		return ErrStaleIdentity
	}

	if errors.Is(err, models.ErrNotFound) {
		return ErrIdentityNotFound
	}

	if err != nil {
		return err
	}

	identity.Version = version
	return nil
}

func identityFromUser(user *models.User) *Identity {
	identity := &Identity{
		ID:                  user.ID,
		Username:            user.Username,
		PhoneNumber:         user.PhoneNumber,
		PasswordHash:        user.Password,
		Active:              user.Active,
		PhoneVerified:       user.PhoneVerified,
		DocumentsApproved:   user.DocumentsApproved,
		LastAuthenticatedAt: user.LastLoginAt,
		Version:             user.Version,
		Lockout:             Unlocked{Attempts: user.FailedLoginAttempts},
		Challenge:           NoChallenge{},
	}

	if user.LockedUntil != nil {
		identity.Lockout = Locked{Attempts: user.FailedLoginAttempts, Until: *user.LockedUntil}
	}

	if user.ChallengeCode != "" && user.ChallengeExpiresAt != nil {
		identity.Challenge = PendingChallenge{Code: user.ChallengeCode, ExpiresAt: *user.ChallengeExpiresAt}
	}

	return identity
}

func securityStateFromIdentity(identity *Identity) models.SecurityState {
	state := models.SecurityState{
		LastLoginAt:       identity.LastAuthenticatedAt,
		PhoneVerified:     identity.PhoneVerified,
		DocumentsApproved: identity.DocumentsApproved,
	}

	switch lockout := identity.Lockout.(type) {
	case Locked:
		until := lockout.Until
		state.FailedLoginAttempts = lockout.Attempts
		state.LockedUntil = &until
	case Unlocked:
		state.FailedLoginAttempts = lockout.Attempts
	}

	if pending, ok := identity.Challenge.(PendingChallenge); ok {
		expiresAt := pending.ExpiresAt
		state.ChallengeCode = pending.Code
		state.ChallengeExpiresAt = &expiresAt
	}

	return state
}
