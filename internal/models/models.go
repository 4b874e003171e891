package models

import "time"

type AuthMethod string

const (
	AuthMethodLocal    AuthMethod = "local"
	AuthMethodExternal AuthMethod = "external"
)

type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

type User struct {
	ID             string
	Email          string
	PassHash       []byte
	ExternalID     string
	Name           string
	Phone          string
	AuthMethod     AuthMethod
	ProfilePicture string
	IsAdmin        bool
	CreatedAt      time.Time
}

// * HasCredential reports whether the account can sign in by any strategy.
func (u User) HasCredential() bool {
	return len(u.PassHash) > 0 || u.ExternalID != ""
}

// Token is the persisted record of one issued signed token.
// Only the sha256 hash of the signed string is stored.
type Token struct {
	ID        string
	UserID    string
	TokenHash string
	Kind      TokenKind
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// ExternalProfile is what an OAuth provider tells us about the signed-in account.
type ExternalProfile struct {
	ExternalID    string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// Identity is the resolved caller attached to a request.
type Identity struct {
	UserID  string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	IsAdmin bool   `json:"isAdmin"`
}

type Message struct {
	Email   string `json:"to"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Purpose string `json:"purpose"`
}
