package auth

import "booking_service/internal/models"

// Strategy is one of the supported ways to prove an identity: Local or
// External. The set is closed.
type Strategy interface {
	Name() string
	strategy()
}

// Local authenticates with an email and password.
type Local struct {
	Email    string
	Password string
}

func (Local) Name() string { return "local" }
func (Local) strategy()    {}

// External authenticates with a profile returned by an OAuth provider.
type External struct {
	Profile models.ExternalProfile
}

func (External) Name() string { return "external" }
func (External) strategy()    {}
