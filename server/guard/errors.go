package guard

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrLocked             = errors.New("account is temporarily locked")
	ErrInvalidCredentials = errors.New("username/password is invalid")
	ErrChallengeInvalid   = errors.New("verification code is invalid or has expired")
	ErrIdentityNotFound   = errors.New("identity not found")
	ErrStaleIdentity      = errors.New("identity was modified concurrently")
)

// LockedError is returned by Authenticate while a lock is in force.
// errors.Is(err, ErrLocked) holds for it.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%v until %v", ErrLocked, e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Is(target error) bool {
	return target == ErrLocked
}

// RetryAfter is how long until the lock ends, as seen from 'now'.
func (e *LockedError) RetryAfter(now time.Time) time.Duration {
	if now.After(e.Until) {
		return 0
	}
	return e.Until.Sub(now)
}
