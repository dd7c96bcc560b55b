package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// User is a registered account. Name and AvatarURL are what other
// participants see next to the user's messages.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	AvatarURL    string    `json:"avatarUrl"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Participant is the public view of a user inside a conversation roster.
type Participant struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

func (u *User) Participant() Participant {
	return Participant{ID: u.ID, Name: u.Name, AvatarURL: u.AvatarURL}
}

type CreateUserRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

func (r *CreateUserRequest) Validate() error {
	r.Username = strings.TrimSpace(r.Username)
	usernameLen := utf8.RuneCountInString(r.Username)
	if usernameLen < 3 || usernameLen > 32 {
		return fmt.Errorf("username must be between 3 and 32 characters")
	}
	for _, ch := range r.Username {
		if !isValidUsernameChar(ch) {
			return fmt.Errorf("username can only contain letters, numbers, and underscores")
		}
	}

	if utf8.RuneCountInString(r.Password) < 6 {
		return fmt.Errorf("password must be at least 6 characters")
	}

	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		r.Name = r.Username
	}
	if utf8.RuneCountInString(r.Name) > 32 {
		return fmt.Errorf("name must be at most 32 characters")
	}

	r.AvatarURL = strings.TrimSpace(r.AvatarURL)
	return nil
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r *LoginRequest) Validate() error {
	r.Username = strings.TrimSpace(r.Username)
	if r.Username == "" {
		return fmt.Errorf("username is required")
	}
	if r.Password == "" {
		return fmt.Errorf("password is required")
	}
	return nil
}

func isValidUsernameChar(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') ||
		(ch >= 'A' && ch <= 'Z') ||
		(ch >= '0' && ch <= '9') ||
		ch == '_'
}
