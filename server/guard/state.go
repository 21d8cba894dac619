package guard

import "time"

// Identity is the guard's view of a user: credentials, verification flags
// and the two state axes it owns.
type Identity struct {
	ID                  uint
	Username            string
	PhoneNumber         string
	PasswordHash        string
	Active              bool
	PhoneVerified       bool
	DocumentsApproved   bool
	Lockout             LockoutState
	Challenge           ChallengeState
	LastAuthenticatedAt *time.Time

	// Version is the optimistic-lock token the store compares on save.
	Version uint
}

// LockoutState is either Unlocked or Locked.
type LockoutState interface {
	FailedAttempts() int
	isLockoutState()
}

type Unlocked struct {
	Attempts int
}

// Locked holds the absolute time the lock ends. Whether it still applies
// is always decided against the current time, never stored.
type Locked struct {
	Attempts int
	Until    time.Time
}

func (u Unlocked) FailedAttempts() int { return u.Attempts }
func (Unlocked) isLockoutState() {}

func (l Locked) FailedAttempts() int { return l.Attempts }
func (Locked) isLockoutState() {}

func (l Locked) ActiveAt(now time.Time) bool {
	return now.Before(l.Until)
}

// ChallengeState is either NoChallenge or PendingChallenge.
type ChallengeState interface {
	isChallengeState()
}

type NoChallenge struct{}

type PendingChallenge struct {
	Code      string
	ExpiresAt time.Time
}

func (NoChallenge) isChallengeState() {}
func (PendingChallenge) isChallengeState() {}

func (p PendingChallenge) ExpiredAt(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
