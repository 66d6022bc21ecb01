package user

import (
	"time"
)

// User represents a registered account.
type User struct {
	ID           string  `gorm:"primaryKey;type:text"`
	Username     string  `gorm:"uniqueIndex;not null;type:text"`
	DisplayName  *string `gorm:"column:displayname;type:text"`
	PasswordHash string  `gorm:"not null;type:text"`
	Email        string  `gorm:"uniqueIndex;not null;type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName returns the table name for the User entity.
func (User) TableName() string {
	return "users"
}

// Profile is the public view of a user.
type Profile struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	DisplayName *string `json:"displayname,omitempty"`
}

// Profile returns the public view of u.
func (u *User) Profile() Profile {
	return Profile{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName}
}

// Token is an issued session token.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	ExpiresAt   time.Time `json:"-"`
}

// Claims is the verified identity carried by a token.
type Claims struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}
