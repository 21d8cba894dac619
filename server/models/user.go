package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Daskott/sentinel/server/auth"
	"gorm.io/gorm"
)

var (
	allFieldsExceptPassword = []string{"id",
		"username",
		"first_name",
		"last_name",
		"phone_number",
		"email",
		"nationality",
		"role_id",
		"active",
		"phone_verified",
		"documents_approved",
		"emergency_contact_name",
		"emergency_contact_phone",
		"emergency_contact_relationship",
		"last_login_at",
		"created_at",
		"updated_at",
	}

	updatableFields = []string{"first_name",
		"last_name",
		"email",
		"nationality",
		"password",
	}
)

// User is the registered tourist identity. The lockout and challenge
// columns are owned by the account guard and only written through
// UpdateUserSecurityState.
type User struct {
	BaseModel
	Username          string `json:"username" validate:"required,alphanum,min=3,max=32" gorm:"not null;unique"`
	FirstName         string `json:"first_name" validate:"required"`
	LastName          string `json:"last_name" validate:"required"`
	PhoneNumber       string `json:"phone_number" validate:"required,phone_number" gorm:"not null;unique"`
	Email             string `json:"email" validate:"required,email" gorm:"not null;unique"`
	Nationality       string `json:"nationality"`
	Password          string `json:"password,omitempty" validate:"required,password" gorm:"not null"`
	RoleID            uint   `json:"role_id" gorm:"null"`
	Active            bool   `json:"active" gorm:"not null;default:true"`
	PhoneVerified     bool   `json:"phone_verified" gorm:"not null;default:false"`
	DocumentsApproved bool   `json:"documents_approved" gorm:"not null;default:false"`

	EmergencyContactName         string `json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone        string `json:"emergency_contact_phone,omitempty"`
	EmergencyContactRelationship string `json:"emergency_contact_relationship,omitempty"`

	FailedLoginAttempts int        `json:"-" gorm:"not null;default:0"`
	LockedUntil         *time.Time `json:"-"`
	ChallengeCode       string     `json:"-"`
	ChallengeExpiresAt  *time.Time `json:"-"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	Version             uint       `json:"-" gorm:"not null;default:1"`

	Contacts []Contact `json:"contacts,omitempty" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

// SecurityState is the set of columns the account guard reads and writes
// in one compare-and-swap.
type SecurityState struct {
	FailedLoginAttempts int
	LockedUntil         *time.Time
	ChallengeCode       string
	ChallengeExpiresAt  *time.Time
	LastLoginAt         *time.Time
	PhoneVerified       bool
	DocumentsApproved   bool
}

func (user *User) FullName() string {
	return fmt.Sprintf("%s %s", user.FirstName, user.LastName)
}

func (user *User) HasEmergencyContact() bool {
	return user.EmergencyContactPhone != ""
}

func (user *User) SecurityState() SecurityState {
	return SecurityState{
		FailedLoginAttempts: user.FailedLoginAttempts,
		LockedUntil:         user.LockedUntil,
		ChallengeCode:       user.ChallengeCode,
		ChallengeExpiresAt:  user.ChallengeExpiresAt,
		LastLoginAt:         user.LastLoginAt,
		PhoneVerified:       user.PhoneVerified,
		DocumentsApproved:   user.DocumentsApproved,
	}
}

func (user *User) Update(data map[string]interface{}) error {
	if data["password"] != nil {
		passwordHash, err := auth.HashPassword(data["password"].(string))
		if err != nil {
			return err
		}
		data["password"] = passwordHash
	}

	return db.Model(&User{}).Where("id = ?", user.ID).Select(updatableFields).Updates(data).Error
}

// SetEmergencyContact replaces the single emergency contact of the user.
func (user *User) SetEmergencyContact(name, phoneNumber, relationship string) error {
	err := db.Model(&User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
		"emergency_contact_name":         name,
		"emergency_contact_phone":        phoneNumber,
		"emergency_contact_relationship": relationship,
	}).Error
	if err != nil {
		return err
	}

	user.EmergencyContactName = name
	user.EmergencyContactPhone = phoneNumber
	user.EmergencyContactRelationship = relationship
	return nil
}

func (user *User) ClearEmergencyContact() error {
	return user.SetEmergencyContact("", "", "")
}

func (user *User) IsAdmin() (bool, error) {
	if user.RoleID == 0 {
		return false, nil
	}

	adminRole, err := FindRole(ADMIN_USER_ROLE)
	if err != nil {
		return false, err
	}

	return adminRole.ID == user.RoleID, nil
}

func (user *User) AddContact(contact *Contact) error {
	contact.UserID = user.ID

	return db.Transaction(func(tx *gorm.DB) error {
		// Only one primary contact per user
		if contact.IsPrimary {
			err := tx.Model(&Contact{}).Where("user_id = ?", user.ID).Update("is_primary", false).Error
			if err != nil {
				return err
			}
		}

		return tx.Create(contact).Error
	})
}

func (user *User) FetchContacts(page int) ([]Contact, *Paging, error) {
	var total int64
	contacts := []Contact{}

	err := db.Model(&Contact{}).Where("user_id = ?", user.ID).Count(&total).Error
	if err != nil {
		return nil, nil, err
	}

	err = db.Scopes(paginate(page, MAX_PAGE_SIZE)).
		Where("user_id = ?", user.ID).Order("is_primary desc, id asc").Find(&contacts).Error
	if err != nil {
		return nil, nil, err
	}

	return contacts, newPaging(int64(page), MAX_PAGE_SIZE, total), nil
}

func (user *User) DeleteContact(id interface{}) error {
	res := db.Where("user_id = ?", user.ID).Delete(&Contact{}, id)
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func FindUserBy(field string, value interface{}) (*User, error) {
	user := User{}
	err := db.Select(allFieldsExceptPassword).First(&user, fmt.Sprintf("%v = ?", field), value).Error
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// FindUserForLogin looks a user up by username or phone number and,
// unlike FindUserBy, includes the password hash and security columns.
// An exact username match wins over another user's phone number.
func FindUserForLogin(ctx context.Context, username, phoneNumber string) (*User, error) {
	user := User{}

	err := db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err == nil {
		return &user, nil
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) || phoneNumber == "" {
		return nil, err
	}

	err = db.WithContext(ctx).Where("phone_number = ?", phoneNumber).First(&user).Error
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// FindUserWithSecurityState loads a user including the guard-owned columns.
func FindUserWithSecurityState(ctx context.Context, id interface{}) (*User, error) {
	user := User{}
	err := db.WithContext(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// UpdateUserSecurityState writes 'state' only if the row is still at
// 'version', and returns the new version. ErrStaleRecord means another
// request won the race and the caller should re-read.
func UpdateUserSecurityState(ctx context.Context, userID, version uint, state SecurityState) (uint, error) {
	res := db.WithContext(ctx).Model(&User{}).
		Where("id = ? AND version = ?", userID, version).
		Updates(map[string]interface{}{
			"failed_login_attempts": state.FailedLoginAttempts,
			"locked_until":          state.LockedUntil,
			"challenge_code":        state.ChallengeCode,
			"challenge_expires_at":  state.ChallengeExpiresAt,
			"last_login_at":         state.LastLoginAt,
			"phone_verified":        state.PhoneVerified,
			"documents_approved":    state.DocumentsApproved,
			"version":               gorm.Expr("version + 1"),
		})

	if res.Error != nil {
		return 0, res.Error
	}

	if res.RowsAffected == 0 {
		var count int64
		err := db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Count(&count).Error
		if err != nil {
			return 0, err
		}

		if count == 0 {
			return 0, ErrNotFound
		}
		return 0, ErrStaleRecord
	}

	return version + 1, nil
}

// ClearExpiredChallenges drops every challenge that expired before 'now'
// and returns how many were cleared.
func ClearExpiredChallenges(now time.Time) (int64, error) {
	res := db.Model(&User{}).
		Where("challenge_expires_at IS NOT NULL AND challenge_expires_at <= ?", now).
		Updates(map[string]interface{}{
			"challenge_code":       "",
			"challenge_expires_at": nil,
			"version":              gorm.Expr("version + 1"),
		})

	return res.RowsAffected, res.Error
}

func CreateUser(user *User) error {
	passwordHash, err := auth.HashPassword(user.Password)
	if err != nil {
		return err
	}
	user.Password = passwordHash
	user.Active = true
	user.Version = 1

	return db.Create(user).Error
}

// DeactivateUser blocks any further login. Alerts raised by the user are
// kept.
func DeactivateUser(id interface{}) error {
	res := db.Model(&User{}).Where("id = ?", id).
		Updates(map[string]interface{}{"active": false, "version": gorm.Expr("version + 1")})
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func AtLeastOneUserExists() (bool, error) {
	err := db.First(&User{}).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}
