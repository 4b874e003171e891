package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"booking_service/internal/auth/tokens"
	sl "booking_service/internal/lib/logger/sl"
	"booking_service/internal/models"
	"booking_service/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("incorrect email or password")
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailNotVerified   = errors.New("external account email is not verified")
	ErrUnknownStrategy    = errors.New("unknown authentication strategy")
	ErrPasswordTooLong    = errors.New("password must be at most 72 bytes")
)

// bcrypt only looks at the first 72 bytes and refuses longer input.
const maxPasswordBytes = 72

type UserSaver interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	UpdateUser(ctx context.Context, user models.User) error
	SetAdmin(ctx context.Context, id string, isAdmin bool) error
}

type UserProvider interface {
	User(ctx context.Context, email string) (models.User, error)
	UserByID(ctx context.Context, id string) (models.User, error)
	UserByExternalID(ctx context.Context, externalID string) (models.User, error)
	CountUsers(ctx context.Context) (int64, error)
	Users(ctx context.Context) ([]models.User, error)
}

type TokenService interface {
	Issue(ctx context.Context, user models.User, kind models.TokenKind) (tokens.Issued, error)
	Refresh(ctx context.Context, raw string) (tokens.Issued, error)
	Revoke(ctx context.Context, raw string) error
	RevokeAll(ctx context.Context, userID string) (int64, error)
}

// Notifier is told about accounts created by either strategy.
type Notifier interface {
	AccountCreated(ctx context.Context, user models.User)
}

type Auth struct {
	log         *slog.Logger
	usrSaver    UserSaver
	usrProvider UserProvider
	tokens      TokenService
	notifier    Notifier
	hashCost    int
	now         func() time.Time

	// * compared against when there is no real hash, so that unknown emails
	// cost the same as wrong passwords
	dummyOnce sync.Once
	dummyHash []byte
	compare   func(hash, password []byte) error
}

// Grant is what a successful registration or login hands to the client.
type Grant struct {
	User    models.User
	Access  tokens.Issued
	Refresh tokens.Issued
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Phone    string
}

func New(
	log *slog.Logger,
	userSaver UserSaver,
	userProvider UserProvider,
	tokenService TokenService,
	notifier Notifier,
) *Auth {
	return &Auth{
		log:         log,
		usrSaver:    userSaver,
		usrProvider: userProvider,
		tokens:      tokenService,
		notifier:    notifier,
		hashCost:    bcrypt.DefaultCost,
		now:         time.Now,
		compare:     bcrypt.CompareHashAndPassword,
	}
}

// WithHashCost sets the bcrypt cost used for new password hashes.
func (a *Auth) WithHashCost(cost int) *Auth {
	a.hashCost = cost
	return a
}

func (a *Auth) WithClock(now func() time.Time) *Auth {
	a.now = now
	return a
}

// * RegisterNewUser creates a local account and signs it in.
// The very first account in the system becomes an administrator.
func (a *Auth) RegisterNewUser(ctx context.Context, in RegisterInput) (Grant, error) {
	const op = "auth.RegisterNewUser"

	log := a.log.With(slog.String("op", op))

	log.Info("registering new user")

	if len(in.Password) > maxPasswordBytes {
		return Grant{}, ErrPasswordTooLong
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(in.Password), a.hashCost)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return Grant{}, fmt.Errorf("%s: %w", op, err)
	}

	first, err := a.isFirstUser(ctx)
	if err != nil {
		log.Error("failed to count users", sl.Err(err))
		return Grant{}, fmt.Errorf("%s: %w", op, err)
	}

	user, err := a.usrSaver.CreateUser(ctx, models.User{
		ID:         uuid.NewString(),
		Email:      normalizeEmail(in.Email),
		PassHash:   passHash,
		Name:       strings.TrimSpace(in.Name),
		Phone:      strings.TrimSpace(in.Phone),
		AuthMethod: models.AuthMethodLocal,
		IsAdmin:    first,
		CreatedAt:  a.now(),
	})
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			log.Warn("user already exists")
			return Grant{}, fmt.Errorf("%s: %w", op, ErrUserExists)
		}

		log.Error("failed to save user", sl.Err(err))
		return Grant{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user registered", slog.String("uid", user.ID), slog.Bool("admin", user.IsAdmin))

	a.notifier.AccountCreated(ctx, user)

	return a.grant(ctx, user)
}

// * Login authenticates with the chosen strategy and issues a token pair.
func (a *Auth) Login(ctx context.Context, strategy Strategy) (Grant, error) {
	const op = "auth.Login"

	user, err := a.Authenticate(ctx, strategy)
	if err != nil {
		return Grant{}, err
	}

	grant, err := a.grant(ctx, user)
	if err != nil {
		return Grant{}, fmt.Errorf("%s: %w", op, err)
	}

	a.log.Info("user logged in successfully",
		slog.String("op", op),
		slog.String("uid", user.ID),
		slog.String("strategy", strategy.Name()),
	)

	return grant, nil
}

// Authenticate resolves the strategy's credentials to a user.
func (a *Auth) Authenticate(ctx context.Context, strategy Strategy) (models.User, error) {
	switch s := strategy.(type) {
	case Local:
		return a.authenticateLocal(ctx, s)
	case External:
		return a.authenticateExternal(ctx, s)
	default:
		return models.User{}, ErrUnknownStrategy
	}
}

func (a *Auth) authenticateLocal(ctx context.Context, s Local) (models.User, error) {
	const op = "auth.authenticateLocal"

	log := a.log.With(slog.String("op", op))

	user, err := a.usrProvider.User(ctx, normalizeEmail(s.Email))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			a.burnCompare(s.Password)
			log.Info("invalid credentials")
			return models.User{}, ErrInvalidCredentials
		}

		log.Error("failed to get user", sl.Err(err))
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	if len(user.PassHash) == 0 {
		a.burnCompare(s.Password)
		log.Info("invalid credentials", slog.String("uid", user.ID))
		return models.User{}, ErrInvalidCredentials
	}

	if err := a.compare(user.PassHash, []byte(s.Password)); err != nil {
		log.Info("invalid credentials", slog.String("uid", user.ID))
		return models.User{}, ErrInvalidCredentials
	}

	return user, nil
}

// authenticateExternal matches by external id, then links by email, then
// creates a new account.
func (a *Auth) authenticateExternal(ctx context.Context, s External) (models.User, error) {
	const op = "auth.authenticateExternal"

	log := a.log.With(slog.String("op", op))

	p := s.Profile
	if p.ExternalID == "" || p.Email == "" {
		return models.User{}, ErrInvalidCredentials
	}
	if !p.EmailVerified {
		return models.User{}, ErrEmailNotVerified
	}

	user, err := a.usrProvider.UserByExternalID(ctx, p.ExternalID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrUserNotFound) {
		log.Error("failed to get user by external id", sl.Err(err))
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	email := normalizeEmail(p.Email)

	user, err = a.usrProvider.User(ctx, email)
	switch {
	case err == nil:
		user.ExternalID = p.ExternalID
		user.AuthMethod = models.AuthMethodExternal
		if user.ProfilePicture == "" {
			user.ProfilePicture = p.Picture
		}

		if err := a.usrSaver.UpdateUser(ctx, user); err != nil {
			log.Error("failed to link external id", sl.Err(err))
			return models.User{}, fmt.Errorf("%s: %w", op, err)
		}

		log.Info("external identity linked", slog.String("uid", user.ID))

		return user, nil
	case !errors.Is(err, storage.ErrUserNotFound):
		log.Error("failed to get user by email", sl.Err(err))
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	first, err := a.isFirstUser(ctx)
	if err != nil {
		log.Error("failed to count users", sl.Err(err))
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	name := strings.TrimSpace(p.Name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}

	user, err = a.usrSaver.CreateUser(ctx, models.User{
		ID:             uuid.NewString(),
		Email:          email,
		ExternalID:     p.ExternalID,
		Name:           name,
		AuthMethod:     models.AuthMethodExternal,
		ProfilePicture: p.Picture,
		IsAdmin:        first,
		CreatedAt:      a.now(),
	})
	if err != nil {
		log.Error("failed to create external user", sl.Err(err))
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("external user created", slog.String("uid", user.ID), slog.Bool("admin", user.IsAdmin))

	a.notifier.AccountCreated(ctx, user)

	return user, nil
}

// * Refresh mints a new access token from a refresh token.
func (a *Auth) Refresh(ctx context.Context, refreshToken string) (tokens.Issued, error) {
	const op = "auth.Refresh"

	issued, err := a.tokens.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, tokens.ErrInvalidToken) ||
			errors.Is(err, tokens.ErrTokenRevoked) ||
			errors.Is(err, tokens.ErrWrongKind) {
			a.log.Info("refresh rejected", slog.String("op", op), sl.Err(err))
			return tokens.Issued{}, ErrInvalidCredentials
		}

		a.log.Error("failed to refresh token", slog.String("op", op), sl.Err(err))
		return tokens.Issued{}, fmt.Errorf("%s: %w", op, err)
	}

	return issued, nil
}

// * Logout revokes the presented access token, if any.
func (a *Auth) Logout(ctx context.Context, accessToken string) error {
	const op = "auth.Logout"

	if accessToken == "" {
		return nil
	}

	if err := a.tokens.Revoke(ctx, accessToken); err != nil {
		a.log.Error("failed to revoke token", slog.String("op", op), sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	a.log.Info("logout successful", slog.String("op", op))

	return nil
}

func (a *Auth) Profile(ctx context.Context, userID string) (models.User, error) {
	const op = "auth.Profile"

	user, err := a.usrProvider.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (a *Auth) Users(ctx context.Context) ([]models.User, error) {
	const op = "auth.Users"

	users, err := a.usrProvider.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return users, nil
}

// SetAdmin promotes or demotes an account explicitly.
func (a *Auth) SetAdmin(ctx context.Context, userID string, isAdmin bool) error {
	const op = "auth.SetAdmin"

	if err := a.usrSaver.SetAdmin(ctx, userID, isAdmin); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	a.log.Info("admin flag changed", slog.String("op", op), slog.String("uid", userID), slog.Bool("admin", isAdmin))

	return nil
}

func (a *Auth) RevokeUserTokens(ctx context.Context, userID string) (int64, error) {
	const op = "auth.RevokeUserTokens"

	if _, err := a.Profile(ctx, userID); err != nil {
		return 0, err
	}

	n, err := a.tokens.RevokeAll(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

func (a *Auth) grant(ctx context.Context, user models.User) (Grant, error) {
	access, err := a.tokens.Issue(ctx, user, models.TokenKindAccess)
	if err != nil {
		return Grant{}, err
	}

	refresh, err := a.tokens.Issue(ctx, user, models.TokenKindRefresh)
	if err != nil {
		return Grant{}, err
	}

	return Grant{User: user, Access: access, Refresh: refresh}, nil
}

func (a *Auth) isFirstUser(ctx context.Context) (bool, error) {
	n, err := a.usrProvider.CountUsers(ctx)
	if err != nil {
		return false, err
	}

	return n == 0, nil
}

// burnCompare runs one bcrypt comparison against a throwaway hash.
func (a *Auth) burnCompare(password string) {
	a.dummyOnce.Do(func() {
		a.dummyHash, _ = bcrypt.GenerateFromPassword([]byte(uuid.NewString()), a.hashCost)
	})

	_ = a.compare(a.dummyHash, []byte(password))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
