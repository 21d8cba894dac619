// Package guard decides who may use the account: password checks with
// progressive lockout, and the one-time codes used to verify a phone number.
package guard

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/Daskott/sentinel/colors"
	"github.com/Daskott/sentinel/server/auth"
	"github.com/Daskott/sentinel/server/clock"
	"github.com/Daskott/sentinel/server/logger"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	MAX_FAILED_ATTEMPTS = 5
	LOCK_DURATION       = 2 * time.Hour
	CHALLENGE_TTL       = 10 * time.Minute
	CHALLENGE_DIGITS    = 6

	// How many times a read-modify-write is retried when another request
	// saved the same identity in between.
	maxSaveAttempts = 3
)

var (
	challengeSpace = big.NewInt(1000000)

	dummyHashOnce sync.Once
	dummyHash     string
)

type Store interface {
	// FindByIdentifier looks an identity up by username or phone number.
	FindByIdentifier(ctx context.Context, identifier string) (*Identity, error)
	FindByID(ctx context.Context, id uint) (*Identity, error)
	// Save writes the security state if identity.Version is still current
	// and bumps identity.Version, otherwise returns ErrStaleIdentity.
	Save(ctx context.Context, identity *Identity) error
}

// VerificationUpdate describes which verification flags to set once a
// caller is satisfied, e.g. after a successful VerifyChallenge or an admin
// override. Nil fields are left unchanged.
type VerificationUpdate struct {
	PhoneVerified     *bool
	DocumentsApproved *bool
	ClearChallenge    bool
}

// CodeSource draws a challenge number in [0, 1000000).
type CodeSource func() (int64, error)

type Guard struct {
	store      Store
	clock      clock.Clock
	codeSource CodeSource
	logg       *zap.SugaredLogger
}

type Option func(*Guard)

func WithClock(c clock.Clock) Option {
	return func(g *Guard) {
		g.clock = c
	}
}

func WithLogger(logg *zap.SugaredLogger) Option {
	return func(g *Guard) {
		g.logg = logg
	}
}

func WithCodeSource(source CodeSource) Option {
	return func(g *Guard) {
		g.codeSource = source
	}
}

func New(store Store, opts ...Option) (*Guard, error) {
	if store == nil {
		return nil, errors.New("guard store is required")
	}

	g := &Guard{
		store:      store,
		clock:      clock.Real,
		codeSource: randomCode,
		logg:       logger.NewNopLogger(),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// Authenticate checks 'secret' for the identity behind 'identifier'.
//
// While a lock is in force it fails with *LockedError without looking at
// the secret or counting the attempt. A wrong secret bumps the failure
// count and the 5th consecutive one locks the account for 2 hours. A
// correct secret resets the count and any expired lock.
func (g *Guard) Authenticate(ctx context.Context, identifier, secret string) (*Identity, error) {
	var lastHash string
	var lastMatch bool

	for attempt := 1; ; attempt++ {
		identity, err := g.store.FindByIdentifier(ctx, identifier)
		if errors.Is(err, ErrIdentityNotFound) {
			// Spend the same time as a real comparison so unknown
			// identifiers can't be told apart from wrong passwords.
			auth.CheckPasswordHash(secret, fallbackHash())
			return nil, ErrInvalidCredentials
		}

		if err != nil {
			return nil, errors.Wrap(err, "authenticate")
		}

		if !identity.Active {
			auth.CheckPasswordHash(secret, fallbackHash())
			return nil, ErrInvalidCredentials
		}

		now := g.clock.Now()

		if locked, ok := identity.Lockout.(Locked); ok {
			if locked.ActiveAt(now) {
				return nil, &LockedError{Until: locked.Until}
			}

			// The lock has run out, the account starts over.
			identity.Lockout = Unlocked{}
		}

		if identity.PasswordHash != lastHash {
			lastHash = identity.PasswordHash
			lastMatch = auth.CheckPasswordHash(secret, identity.PasswordHash)
		}

		if lastMatch {
			identity.Lockout = Unlocked{}
			identity.LastAuthenticatedAt = &now
		} else {
			identity.Lockout = nextLockout(identity.Lockout, now)
		}

		err = g.store.Save(ctx, identity)
		if errors.Is(err, ErrStaleIdentity) && attempt < maxSaveAttempts {
			g.logInfof("identity %v changed during authentication, retrying", identity.ID)
			continue
		}

		if err != nil {
			return nil, errors.Wrap(err, "authenticate")
		}

		if !lastMatch {
			if locked, ok := identity.Lockout.(Locked); ok {
				g.logInfof("identity %v locked until %v after %v failed attempts",
					identity.ID, locked.Until, locked.Attempts)
			}
			return nil, ErrInvalidCredentials
		}

		return identity, nil
	}
}

// IssueChallenge stores a new 6 digit code valid for 10 minutes, replacing
// any previous one, and returns it for out-of-band delivery.
func (g *Guard) IssueChallenge(ctx context.Context, identityID uint) (string, error) {
	code, err := g.generateCode()
	if err != nil {
		return "", errors.Wrap(err, "issue challenge")
	}

	err = g.modify(ctx, identityID, func(identity *Identity, now time.Time) error {
		identity.Challenge = PendingChallenge{Code: code, ExpiresAt: now.Add(CHALLENGE_TTL)}
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "issue challenge")
	}

	return code, nil
}

// VerifyChallenge reports whether 'code' matches the pending challenge and
// has not expired. It never clears the challenge; see ConsumeChallenge.
func (g *Guard) VerifyChallenge(ctx context.Context, identityID uint, code string) (bool, error) {
	identity, err := g.store.FindByID(ctx, identityID)
	if err != nil {
		return false, errors.Wrap(err, "verify challenge")
	}

	pending, ok := identity.Challenge.(PendingChallenge)
	if !ok {
		return false, nil
	}

	if pending.ExpiredAt(g.clock.Now()) {
		return false, nil
	}

	return subtle.ConstantTimeCompare([]byte(pending.Code), []byte(code)) == 1, nil
}

// PendingChallenge returns the identity together with its unexpired
// challenge, or ErrChallengeInvalid when there is none to deliver.
func (g *Guard) PendingChallenge(ctx context.Context, identityID uint) (*Identity, PendingChallenge, error) {
	identity, err := g.store.FindByID(ctx, identityID)
	if err != nil {
		return nil, PendingChallenge{}, errors.Wrap(err, "pending challenge")
	}

	pending, ok := identity.Challenge.(PendingChallenge)
	if !ok || pending.ExpiredAt(g.clock.Now()) {
		return identity, PendingChallenge{}, ErrChallengeInvalid
	}

	return identity, pending, nil
}

// ConsumeChallenge applies 'update' to the identity's verification flags.
func (g *Guard) ConsumeChallenge(ctx context.Context, identityID uint, update VerificationUpdate) error {
	err := g.modify(ctx, identityID, func(identity *Identity, now time.Time) error {
		if update.ClearChallenge {
			identity.Challenge = NoChallenge{}
		}

		if update.PhoneVerified != nil {
			identity.PhoneVerified = *update.PhoneVerified
		}

		if update.DocumentsApproved != nil {
			identity.DocumentsApproved = *update.DocumentsApproved
		}
		return nil
	})

	return errors.Wrap(err, "consume challenge")
}

// ConfirmPhoneNumber is the self-service flow: verify the code, then clear
// it and mark the phone number verified.
func (g *Guard) ConfirmPhoneNumber(ctx context.Context, identityID uint, code string) error {
	ok, err := g.VerifyChallenge(ctx, identityID, code)
	if err != nil {
		return err
	}

	if !ok {
		return ErrChallengeInvalid
	}

	verified := true
	return g.ConsumeChallenge(ctx, identityID, VerificationUpdate{
		PhoneVerified:  &verified,
		ClearChallenge: true,
	})
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

// modify runs a read-modify-write of one identity, re-reading on conflict.
func (g *Guard) modify(ctx context.Context, identityID uint, apply func(*Identity, time.Time) error) error {
	for attempt := 1; ; attempt++ {
		identity, err := g.store.FindByID(ctx, identityID)
		if err != nil {
			return err
		}

		err = apply(identity, g.clock.Now())
		if err != nil {
			return err
		}

		err = g.store.Save(ctx, identity)
		if errors.Is(err, ErrStaleIdentity) && attempt < maxSaveAttempts {
			continue
		}

		return err
	}
}

func (g *Guard) generateCode() (string, error) {
	n, err := g.codeSource()
	if err != nil {
		return "", err
	}

	if n < 0 || n >= challengeSpace.Int64() {
		return "", fmt.Errorf("challenge number %v out of range", n)
	}

	return fmt.Sprintf("%0*d", CHALLENGE_DIGITS, n), nil
}

func randomCode() (int64, error) {
	n, err := rand.Int(rand.Reader, challengeSpace)
	if err != nil {
		return 0, err
	}
	return n.Int64(), nil
}

func (g *Guard) logInfof(template string, args ...interface{}) {
	g.logg.Infof(colors.Yellow("[account guard] ")+template, args...)
}

func nextLockout(current LockoutState, now time.Time) LockoutState {
	attempts := 1
	if current != nil {
		attempts = current.FailedAttempts() + 1
	}

	if attempts >= MAX_FAILED_ATTEMPTS {
		return Locked{Attempts: attempts, Until: now.Add(LOCK_DURATION)}
	}

	return Unlocked{Attempts: attempts}
}

func fallbackHash() string {
	dummyHashOnce.Do(func() {
		dummyHash, _ = auth.HashPassword("sentinel-fallback-password")
	})
	return dummyHash
}
