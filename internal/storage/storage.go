package storage

import "errors"

var (
	ErrUserExists      = errors.New("user already exists")
	ErrUserNotFound    = errors.New("user not found")
	ErrTokenNotFound   = errors.New("token not found")
	ErrExternalIDTaken = errors.New("external id already linked")
	ErrSessionNotFound = errors.New("session not found")
)
