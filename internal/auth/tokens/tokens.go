// Package tokens issues, verifies, refreshes and revokes the signed access and
// refresh tokens handed to clients. Every issued token is recorded in a Store
// so that it can be revoked before its natural expiry.
package tokens

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"booking_service/internal/lib/jwt"
	sl "booking_service/internal/lib/logger/sl"
	"booking_service/internal/models"
	"booking_service/internal/storage"

	"github.com/google/uuid"
)

const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token revoked")
	ErrWrongKind    = errors.New("wrong token kind")
	ErrNoSecret     = errors.New("token secret is not configured")
)

type Store interface {
	SaveToken(ctx context.Context, token models.Token) error
	TokenByHash(ctx context.Context, hash string) (models.Token, error)
	RevokeToken(ctx context.Context, hash string) error
	RevokeUserTokens(ctx context.Context, userID string) (int64, error)
}

type Config struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// StrictRevocation makes Verify reject tokens that have no stored record.
	StrictRevocation bool
}

type Issued struct {
	Token     string
	ExpiresAt time.Time
}

type Service struct {
	log    *slog.Logger
	store  Store
	secret []byte
	issuer string
	ttl    map[models.TokenKind]time.Duration
	strict bool
	now    func() time.Time
}

func New(log *slog.Logger, store Store, cfg Config) (*Service, error) {
	const op = "tokens.New"

	if cfg.Secret == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoSecret)
	}

	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}

	return &Service{
		log:    log,
		store:  store,
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl: map[models.TokenKind]time.Duration{
			models.TokenKindAccess:  cfg.AccessTTL,
			models.TokenKindRefresh: cfg.RefreshTTL,
		},
		strict: cfg.StrictRevocation,
		now:    time.Now,
	}, nil
}

// WithClock replaces the time source. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) TTL(kind models.TokenKind) time.Duration {
	return s.ttl[kind]
}

// Issue signs a new token of the given kind for user and records it.
// Earlier tokens of the same user stay valid.
func (s *Service) Issue(ctx context.Context, user models.User, kind models.TokenKind) (Issued, error) {
	return s.issue(ctx, user.ID, user.IsAdmin, kind)
}

func (s *Service) issue(ctx context.Context, userID string, admin bool, kind models.TokenKind) (Issued, error) {
	const op = "tokens.Issue"

	ttl, ok := s.ttl[kind]
	if !ok {
		return Issued{}, fmt.Errorf("%s: %w", op, ErrWrongKind)
	}

	now := s.now()

	signed, expiresAt, err := jwt.NewToken(userID, admin, kind, s.issuer, s.secret, ttl, now)
	if err != nil {
		return Issued{}, fmt.Errorf("%s: %w", op, err)
	}

	err = s.store.SaveToken(ctx, models.Token{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: Hash(signed),
		Kind:      kind,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	})
	if err != nil {
		return Issued{}, fmt.Errorf("%s: %w", op, err)
	}

	return Issued{Token: signed, ExpiresAt: expiresAt}, nil
}

// Verify checks signature and expiry, then consults the store. A revoked
// record invalidates the token. A missing record only invalidates it in
// strict mode.
func (s *Service) Verify(ctx context.Context, raw string) (*jwt.Claims, error) {
	const op = "tokens.Verify"

	log := s.log.With(slog.String("op", op))

	claims, err := jwt.Parse(raw, s.secret, s.now)
	if err != nil {
		return nil, ErrInvalidToken
	}

	record, err := s.store.TokenByHash(ctx, Hash(raw))
	switch {
	case err == nil:
		if record.Revoked {
			return nil, ErrTokenRevoked
		}
	case errors.Is(err, storage.ErrTokenNotFound):
		if s.strict {
			return nil, ErrInvalidToken
		}
		log.Warn("token has no stored record, accepting on signature", slog.String("uid", claims.UserID()))
	default:
		if s.strict {
			return nil, ErrInvalidToken
		}
		log.Warn("token record lookup failed, accepting on signature", sl.Err(err))
	}

	return claims, nil
}

// Refresh mints a new access token from a valid refresh token. The refresh
// token itself is neither rotated nor revoked.
func (s *Service) Refresh(ctx context.Context, raw string) (Issued, error) {
	const op = "tokens.Refresh"

	claims, err := s.Verify(ctx, raw)
	if err != nil {
		return Issued{}, err
	}

	if claims.Kind != models.TokenKindRefresh {
		return Issued{}, ErrWrongKind
	}

	issued, err := s.issue(ctx, claims.UserID(), claims.Admin, models.TokenKindAccess)
	if err != nil {
		return Issued{}, fmt.Errorf("%s: %w", op, err)
	}

	return issued, nil
}

// Revoke marks the record of raw as revoked. Unknown tokens are ignored.
func (s *Service) Revoke(ctx context.Context, raw string) error {
	const op = "tokens.Revoke"

	err := s.store.RevokeToken(ctx, Hash(raw))
	if err != nil && !errors.Is(err, storage.ErrTokenNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RevokeAll revokes every token recorded for userID.
func (s *Service) RevokeAll(ctx context.Context, userID string) (int64, error) {
	const op = "tokens.RevokeAll"

	n, err := s.store.RevokeUserTokens(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("user tokens revoked", slog.String("op", op), slog.String("uid", userID), slog.Int64("count", n))

	return n, nil
}

// Hash is the lookup key a token is stored under.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
