// Package oauth talks to the external identity provider.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"booking_service/internal/models"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var ErrProfile = errors.New("provider returned an unusable profile")

type Provider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (models.ExternalProfile, error)
}

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	UserInfoURL  string
}

type Google struct {
	conf        *oauth2.Config
	userInfoURL string
}

func NewGoogle(cfg Config) *Google {
	return &Google{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: cfg.UserInfoURL,
	}
}

// WithEndpoint points the token exchange somewhere else. Used by tests.
func (g *Google) WithEndpoint(e oauth2.Endpoint) *Google {
	g.conf.Endpoint = e
	return g
}

func (g *Google) AuthCodeURL(state string) string {
	return g.conf.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

type userInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// * Exchange trades the authorization code for a token and fetches the
// account profile with it.
func (g *Google) Exchange(ctx context.Context, code string) (models.ExternalProfile, error) {
	const op = "oauth.Google.Exchange"

	tok, err := g.conf.Exchange(ctx, code)
	if err != nil {
		return models.ExternalProfile{}, fmt.Errorf("%s: exchange: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return models.ExternalProfile{}, fmt.Errorf("%s: %w", op, err)
	}

	res, err := g.conf.Client(ctx, tok).Do(req)
	if err != nil {
		return models.ExternalProfile{}, fmt.Errorf("%s: userinfo: %w", op, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return models.ExternalProfile{}, fmt.Errorf("%s: userinfo status %d", op, res.StatusCode)
	}

	var info userInfo
	if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
		return models.ExternalProfile{}, fmt.Errorf("%s: %w", op, err)
	}

	if info.Sub == "" || info.Email == "" {
		return models.ExternalProfile{}, fmt.Errorf("%s: %w", op, ErrProfile)
	}

	return models.ExternalProfile{
		ExternalID:    info.Sub,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		Name:          info.Name,
		Picture:       info.Picture,
	}, nil
}

// NewState returns a random value for the state parameter.
func NewState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
