package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	ACTIVE_ALERT    = "active"
	RESOLVED_ALERT  = "resolved"
	CANCELLED_ALERT = "cancelled"

	SOS_ALERT_CATEGORY = "sos"
)

var (
	AlertStatusNameMap = map[string]bool{
		ACTIVE_ALERT:    true,
		RESOLVED_ALERT:  true,
		CANCELLED_ALERT: true,
	}

	ErrAlertNotActive = errors.New("only an active alert can be resolved or cancelled")
)

// Alert is the record of one emergency trigger. The user snapshot, location,
// trigger time, category and notified contacts never change after creation,
// only the status and resolution columns do. Alerts are never deleted.
type Alert struct {
	BaseModel
	UserID uint `json:"user_id" gorm:"not null;index"`

	Username    string `json:"username"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
	Email       string `json:"email"`
	Nationality string `json:"nationality,omitempty"`

	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`

	TriggeredAt      time.Time      `json:"triggered_at" gorm:"not null;index"`
	Status           string         `json:"status" gorm:"not null;default:active"`
	Category         string         `json:"category" gorm:"not null"`
	NotifiedContacts []AlertContact `json:"notified_contacts" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`

	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy      *uint      `json:"resolved_by,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`
}

type AlertContact struct {
	BaseModel
	AlertID     uint   `json:"-" gorm:"not null;index"`
	PhoneNumber string `json:"phone_number" gorm:"not null"`
	Position    int    `json:"position"`
}

func (alert *Alert) HasLocation() bool {
	return alert.Latitude != nil && alert.Longitude != nil
}

// Destinations returns the notified phone numbers in dispatch order.
func (alert *Alert) Destinations() []string {
	destinations := make([]string, len(alert.NotifiedContacts))
	for i, contact := range alert.NotifiedContacts {
		destinations[i] = contact.PhoneNumber
	}
	return destinations
}

// Resolve moves an active alert to 'status' (resolved or cancelled).
func (alert *Alert) Resolve(status string, resolverID uint, notes string, at time.Time) error {
	if status != RESOLVED_ALERT && status != CANCELLED_ALERT {
		return errors.New("status must be either 'resolved' or 'cancelled'")
	}

	res := db.Model(&Alert{}).
		Where("id = ? AND status = ?", alert.ID, ACTIVE_ALERT).
		Updates(map[string]interface{}{
			"status":           status,
			"resolved_at":      at,
			"resolved_by":      resolverID,
			"resolution_notes": notes,
		})
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected == 0 {
		return ErrAlertNotActive
	}

	alert.Status = status
	alert.ResolvedAt = &at
	alert.ResolvedBy = &resolverID
	alert.ResolutionNotes = notes
	return nil
}

// CreateAlert persists the alert together with its notified contacts.
func CreateAlert(ctx context.Context, alert *Alert) error {
	if alert.Status == "" {
		alert.Status = ACTIVE_ALERT
	}

	return db.WithContext(ctx).Create(alert).Error
}

func FindAlert(id interface{}) (*Alert, error) {
	alert := Alert{}
	err := db.Preload("NotifiedContacts", orderByPosition).First(&alert, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	return &alert, nil
}

// FetchAlertsByUser returns the user's alerts, most recent first.
func FetchAlertsByUser(ctx context.Context, userID uint, limit, offset int) ([]Alert, error) {
	alerts := []Alert{}

	if offset < 0 {
		offset = 0
	}

	err := db.WithContext(ctx).
		Preload("NotifiedContacts", orderByPosition).
		Where("user_id = ?", userID).
		Order("triggered_at desc, id desc").
		Limit(clampPageSize(limit)).Offset(offset).
		Find(&alerts).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	return alerts, nil
}

func orderByPosition(db *gorm.DB) *gorm.DB {
	return db.Order("position asc")
}
