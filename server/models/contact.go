package models

// Contact is an entry in the user's address book. It is separate from the
// single emergency contact kept on User, which is what alerts are sent to.
type Contact struct {
	BaseModel
	Name         string `json:"name" validate:"required"`
	PhoneNumber  string `json:"phone_number" validate:"required,phone_number" gorm:"not null"`
	Relationship string `json:"relationship"`
	IsPrimary    bool   `json:"is_primary" gorm:"default:false"`
	UserID       uint   `json:"user_id" gorm:"not null;index"`
}
