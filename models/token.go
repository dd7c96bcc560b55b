package models

import "github.com/golang-jwt/jwt/v5"

// TokenClaims is the payload of an access token. The socket handshake and the
// REST middleware both resolve the caller from it without touching storage.
type TokenClaims struct {
	UserID   int64  `json:"uid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// AuthTokens is returned by register and login.
type AuthTokens struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"` // seconds
	User        User   `json:"user"`
}
