// Package mongo is the document-store alternative to the PostgreSQL store.
// Token records carry a TTL index on created_at, so the retention cap is
// enforced by the server itself.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"booking_service/internal/config"
	"booking_service/internal/models"
	"booking_service/internal/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	usersCollection  = "users"
	tokensCollection = "tokens"
	externalIDIndex  = "external_id_unique"
)

type userDoc struct {
	ID             string    `bson:"_id"`
	Email          string    `bson:"email"`
	EmailLower     string    `bson:"email_lower"`
	PassHash       []byte    `bson:"password_hash,omitempty"`
	ExternalID     string    `bson:"external_id,omitempty"`
	Name           string    `bson:"name"`
	Phone          string    `bson:"phone"`
	AuthMethod     string    `bson:"auth_method"`
	ProfilePicture string    `bson:"profile_picture"`
	IsAdmin        bool      `bson:"is_admin"`
	CreatedAt      time.Time `bson:"created_at"`
}

type tokenDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	TokenHash string    `bson:"token_hash"`
	Kind      string    `bson:"kind"`
	ExpiresAt time.Time `bson:"expires_at"`
	Revoked   bool      `bson:"revoked"`
	CreatedAt time.Time `bson:"created_at"`
}

type MongoRepo struct {
	client *mongo.Client
	users  *mongo.Collection
	tokens *mongo.Collection
}

func New(ctx context.Context, cfg config.Mongo) (*MongoRepo, error) {
	const op = "storage.mongo.New"

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to connect: %w", op, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%s: failed to ping: %w", op, err)
	}

	db := client.Database(cfg.Database)

	return &MongoRepo{
		client: client,
		users:  db.Collection(usersCollection),
		tokens: db.Collection(tokensCollection),
	}, nil
}

// * EnsureIndexes creates the uniqueness indexes and the token TTL index.
func (r *MongoRepo) EnsureIndexes(ctx context.Context, retention time.Duration) error {
	const op = "storage.mongo.EnsureIndexes"

	_, err := r.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email_lower", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("email_unique"),
		},
		{
			Keys: bson.D{{Key: "external_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName(externalIDIndex).
				SetPartialFilterExpression(bson.M{"external_id": bson.M{"$type": "string"}}),
		},
		{
			Keys: bson.D{{Key: "created_at", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("%s: users: %w", op, err)
	}

	_, err = r.tokens.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "token_hash", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(retention.Seconds())),
		},
	})
	if err != nil {
		return fmt.Errorf("%s: tokens: %w", op, err)
	}

	return nil
}

func (r *MongoRepo) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	const op = "storage.mongo.CreateUser"

	if _, err := r.users.InsertOne(ctx, toUserDoc(u)); err != nil {
		if derr := duplicateErr(err); derr != nil {
			return models.User{}, derr
		}

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

func (r *MongoRepo) UpdateUser(ctx context.Context, u models.User) error {
	const op = "storage.mongo.UpdateUser"

	res, err := r.users.ReplaceOne(ctx, bson.M{"_id": u.ID}, toUserDoc(u))
	if err != nil {
		if derr := duplicateErr(err); derr != nil {
			return derr
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	if res.MatchedCount == 0 {
		return storage.ErrUserNotFound
	}

	return nil
}

func (r *MongoRepo) User(ctx context.Context, email string) (models.User, error) {
	return r.findUser(ctx, "storage.mongo.User", bson.M{"email_lower": strings.ToLower(email)})
}

func (r *MongoRepo) UserByID(ctx context.Context, id string) (models.User, error) {
	return r.findUser(ctx, "storage.mongo.UserByID", bson.M{"_id": id})
}

func (r *MongoRepo) UserByExternalID(ctx context.Context, externalID string) (models.User, error) {
	if externalID == "" {
		return models.User{}, storage.ErrUserNotFound
	}

	return r.findUser(ctx, "storage.mongo.UserByExternalID", bson.M{"external_id": externalID})
}

func (r *MongoRepo) CountUsers(ctx context.Context) (int64, error) {
	const op = "storage.mongo.CountUsers"

	n, err := r.users.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

func (r *MongoRepo) Users(ctx context.Context) ([]models.User, error) {
	const op = "storage.mongo.Users"

	cur, err := r.users.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	users := make([]models.User, 0, len(docs))
	for _, d := range docs {
		users = append(users, d.model())
	}

	return users, nil
}

func (r *MongoRepo) SetAdmin(ctx context.Context, id string, isAdmin bool) error {
	const op = "storage.mongo.SetAdmin"

	res, err := r.users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"is_admin": isAdmin}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if res.MatchedCount == 0 {
		return storage.ErrUserNotFound
	}

	return nil
}

func (r *MongoRepo) SaveToken(ctx context.Context, t models.Token) error {
	const op = "storage.mongo.SaveToken"

	doc := tokenDoc{
		ID:        t.ID,
		UserID:    t.UserID,
		TokenHash: t.TokenHash,
		Kind:      string(t.Kind),
		ExpiresAt: t.ExpiresAt,
		Revoked:   t.Revoked,
		CreatedAt: t.CreatedAt,
	}

	if _, err := r.tokens.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *MongoRepo) TokenByHash(ctx context.Context, hash string) (models.Token, error) {
	const op = "storage.mongo.TokenByHash"

	var d tokenDoc
	if err := r.tokens.FindOne(ctx, bson.M{"token_hash": hash}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Token{}, storage.ErrTokenNotFound
		}

		return models.Token{}, fmt.Errorf("%s: %w", op, err)
	}

	return models.Token{
		ID:        d.ID,
		UserID:    d.UserID,
		TokenHash: d.TokenHash,
		Kind:      models.TokenKind(d.Kind),
		ExpiresAt: d.ExpiresAt,
		Revoked:   d.Revoked,
		CreatedAt: d.CreatedAt,
	}, nil
}

func (r *MongoRepo) RevokeToken(ctx context.Context, hash string) error {
	const op = "storage.mongo.RevokeToken"

	res, err := r.tokens.UpdateOne(ctx, bson.M{"token_hash": hash}, bson.M{"$set": bson.M{"revoked": true}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if res.MatchedCount == 0 {
		return storage.ErrTokenNotFound
	}

	return nil
}

func (r *MongoRepo) RevokeUserTokens(ctx context.Context, userID string) (int64, error) {
	const op = "storage.mongo.RevokeUserTokens"

	res, err := r.tokens.UpdateMany(ctx,
		bson.M{"user_id": userID, "revoked": false},
		bson.M{"$set": bson.M{"revoked": true}},
	)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return res.ModifiedCount, nil
}

// PruneTokens removes expired-by-retention records immediately instead of
// waiting for the TTL monitor, which runs about once a minute.
func (r *MongoRepo) PruneTokens(ctx context.Context, createdBefore time.Time) (int64, error) {
	const op = "storage.mongo.PruneTokens"

	res, err := r.tokens.DeleteMany(ctx, bson.M{"created_at": bson.M{"$lt": createdBefore}})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return res.DeletedCount, nil
}

// Drop removes both collections. Used by tests.
func (r *MongoRepo) Drop(ctx context.Context) error {
	if err := r.users.Drop(ctx); err != nil {
		return err
	}
	return r.tokens.Drop(ctx)
}

func (r *MongoRepo) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = r.client.Disconnect(ctx)
}

func (r *MongoRepo) findUser(ctx context.Context, op string, filter bson.M) (models.User, error) {
	var d userDoc
	if err := r.users.FindOne(ctx, filter).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.User{}, storage.ErrUserNotFound
		}

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return d.model(), nil
}

func toUserDoc(u models.User) userDoc {
	return userDoc{
		ID:             u.ID,
		Email:          u.Email,
		EmailLower:     strings.ToLower(u.Email),
		PassHash:       u.PassHash,
		ExternalID:     u.ExternalID,
		Name:           u.Name,
		Phone:          u.Phone,
		AuthMethod:     string(u.AuthMethod),
		ProfilePicture: u.ProfilePicture,
		IsAdmin:        u.IsAdmin,
		CreatedAt:      u.CreatedAt,
	}
}

func (d userDoc) model() models.User {
	return models.User{
		ID:             d.ID,
		Email:          d.Email,
		PassHash:       d.PassHash,
		ExternalID:     d.ExternalID,
		Name:           d.Name,
		Phone:          d.Phone,
		AuthMethod:     models.AuthMethod(d.AuthMethod),
		ProfilePicture: d.ProfilePicture,
		IsAdmin:        d.IsAdmin,
		CreatedAt:      d.CreatedAt,
	}
}

func duplicateErr(err error) error {
	if !mongo.IsDuplicateKeyError(err) {
		return nil
	}

	if strings.Contains(err.Error(), externalIDIndex) {
		return storage.ErrExternalIDTaken
	}

	return storage.ErrUserExists
}
