package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"booking_service/internal/config"
	"booking_service/internal/models"
	"booking_service/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	uniqueViolation           = "23505"
	invalidTextRepresentation = "22P02"
	externalIDConstraint      = "users_external_id_key"
	userColumns               = `id::text, email, password_hash, external_id, name, phone, auth_method, profile_picture, is_admin, created_at`
	tokenColumns              = `id::text, user_id::text, token_hash, kind, expires_at, revoked, created_at`
)

type PostgresRepo struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg config.Postgres) (*PostgresRepo, error) {
	const op = "storage.postgres.New"

	poolConfig, err := pgxpool.ParseConfig(dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse config: %w", op, err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create pool: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: failed to ping database: %w", op, err)
	}

	return &PostgresRepo{pool: pool}, nil
}

// * Migrate applies the embedded schema migrations.
func (r *PostgresRepo) Migrate(ctx context.Context) error {
	const op = "storage.postgres.Migrate"

	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	const op = "storage.postgres.CreateUser"

	query := `
		INSERT INTO users (id, email, password_hash, external_id, name, phone, auth_method, profile_picture, is_admin, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
	`

	_, err := r.pool.Exec(ctx, query,
		u.ID,
		u.Email,
		u.PassHash,
		nullable(u.ExternalID),
		u.Name,
		u.Phone,
		string(u.AuthMethod),
		u.ProfilePicture,
		u.IsAdmin,
		u.CreatedAt,
	)
	if err != nil {
		if uerr := uniqueErr(err); uerr != nil {
			return models.User{}, uerr
		}

		return models.User{}, fmt.Errorf("%s: failed to save user: %w", op, err)
	}

	return u, nil
}

func (r *PostgresRepo) UpdateUser(ctx context.Context, u models.User) error {
	const op = "storage.postgres.UpdateUser"

	query := `
		UPDATE users
		SET email = $2, password_hash = $3, external_id = $4, name = $5, phone = $6,
		    auth_method = $7, profile_picture = $8, is_admin = $9
		WHERE id = $1;
	`

	tag, err := r.pool.Exec(ctx, query,
		u.ID,
		u.Email,
		u.PassHash,
		nullable(u.ExternalID),
		u.Name,
		u.Phone,
		string(u.AuthMethod),
		u.ProfilePicture,
		u.IsAdmin,
	)
	if err != nil {
		if uerr := uniqueErr(err); uerr != nil {
			return uerr
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrUserNotFound
	}

	return nil
}

func (r *PostgresRepo) User(ctx context.Context, email string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1);`

	return r.queryUser(ctx, "storage.postgres.User", query, email)
}

func (r *PostgresRepo) UserByID(ctx context.Context, id string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1::uuid;`

	return r.queryUser(ctx, "storage.postgres.UserByID", query, id)
}

func (r *PostgresRepo) UserByExternalID(ctx context.Context, externalID string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE external_id = $1;`

	return r.queryUser(ctx, "storage.postgres.UserByExternalID", query, externalID)
}

func (r *PostgresRepo) CountUsers(ctx context.Context) (int64, error) {
	const op = "storage.postgres.CountUsers"

	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

func (r *PostgresRepo) Users(ctx context.Context) ([]models.User, error) {
	const op = "storage.postgres.Users"

	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at;`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return users, nil
}

func (r *PostgresRepo) SetAdmin(ctx context.Context, id string, isAdmin bool) error {
	const op = "storage.postgres.SetAdmin"

	tag, err := r.pool.Exec(ctx, `UPDATE users SET is_admin = $2 WHERE id = $1::uuid`, id, isAdmin)
	if err != nil {
		if malformedID(err) {
			return storage.ErrUserNotFound
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrUserNotFound
	}

	return nil
}

func (r *PostgresRepo) SaveToken(ctx context.Context, t models.Token) error {
	const op = "storage.postgres.SaveToken"

	query := `
		INSERT INTO tokens (id, user_id, token_hash, kind, expires_at, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (token_hash) DO NOTHING;
	`

	_, err := r.pool.Exec(ctx, query, t.ID, t.UserID, t.TokenHash, string(t.Kind), t.ExpiresAt, t.Revoked, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) TokenByHash(ctx context.Context, hash string) (models.Token, error) {
	const op = "storage.postgres.TokenByHash"

	query := `SELECT ` + tokenColumns + ` FROM tokens WHERE token_hash = $1;`

	var (
		t    models.Token
		kind string
	)

	err := r.pool.QueryRow(ctx, query, hash).Scan(
		&t.ID,
		&t.UserID,
		&t.TokenHash,
		&kind,
		&t.ExpiresAt,
		&t.Revoked,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Token{}, storage.ErrTokenNotFound
		}

		return models.Token{}, fmt.Errorf("%s: %w", op, err)
	}

	t.Kind = models.TokenKind(kind)

	return t, nil
}

func (r *PostgresRepo) RevokeToken(ctx context.Context, hash string) error {
	const op = "storage.postgres.RevokeToken"

	tag, err := r.pool.Exec(ctx, `UPDATE tokens SET revoked = TRUE WHERE token_hash = $1`, hash)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrTokenNotFound
	}

	return nil
}

func (r *PostgresRepo) RevokeUserTokens(ctx context.Context, userID string) (int64, error) {
	const op = "storage.postgres.RevokeUserTokens"

	tag, err := r.pool.Exec(ctx, `UPDATE tokens SET revoked = TRUE WHERE user_id = $1::uuid AND NOT revoked`, userID)
	if err != nil {
		if malformedID(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

// PruneTokens deletes token records created before the cutoff.
func (r *PostgresRepo) PruneTokens(ctx context.Context, createdBefore time.Time) (int64, error) {
	const op = "storage.postgres.PruneTokens"

	tag, err := r.pool.Exec(ctx, `DELETE FROM tokens WHERE created_at < $1`, createdBefore)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

func (r *PostgresRepo) Close() {
	r.pool.Close()
}

func (r *PostgresRepo) queryUser(ctx context.Context, op, query string, arg any) (models.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || malformedID(err) {
			return models.User{}, storage.ErrUserNotFound
		}

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

func scanUser(row pgx.Row) (models.User, error) {
	var (
		u          models.User
		externalID *string
		method     string
	)

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PassHash,
		&externalID,
		&u.Name,
		&u.Phone,
		&method,
		&u.ProfilePicture,
		&u.IsAdmin,
		&u.CreatedAt,
	)
	if err != nil {
		return models.User{}, err
	}

	if externalID != nil {
		u.ExternalID = *externalID
	}
	u.AuthMethod = models.AuthMethod(method)

	return u, nil
}

func uniqueErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return nil
	}

	if pgErr.ConstraintName == externalIDConstraint {
		return storage.ErrExternalIDTaken
	}

	return storage.ErrUserExists
}

// malformedID reports whether err is postgres refusing a non-uuid id. No
// row can match such an id.
func malformedID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// * dsn builds the connection string for the pool.
func dsn(cfg config.Postgres) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s database=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.DBName,
		cfg.SSLMode,
	)
}
