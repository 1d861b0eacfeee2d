package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies the bearer token for API requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a personal access token or fine-grained token.
type StaticToken string

// Token returns the token itself.
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// AppTokenSource authenticates as a GitHub App installation. Installation
// tokens are cached until shortly before they expire.
type AppTokenSource struct {
	hc             *http.Client
	baseURL        string
	appID          int64
	installationID int64
	privateKeyPEM  []byte

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	now       func() time.Time
}

// NewAppTokenSource creates a token source for a GitHub App installation.
func NewAppTokenSource(baseURL string, appID, installationID int64, privateKeyPEM string) (*AppTokenSource, error) {
	if _, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM)); err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &AppTokenSource{
		hc:             &http.Client{Timeout: 10 * time.Second},
		baseURL:        baseURL,
		appID:          appID,
		installationID: installationID,
		privateKeyPEM:  []byte(privateKeyPEM),
		now:            time.Now,
	}, nil
}

// Token returns a valid installation token, minting a new one when needed.
func (s *AppTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Add(time.Minute).Before(s.expiresAt) {
		return s.token, nil
	}

	token, expiresAt, err := s.generateInstallationToken(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expiresAt = expiresAt
	return token, nil
}

// appJWT signs the short-lived JWT that identifies the App itself.
func (s *AppTokenSource) appJWT() (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(s.privateKeyPEM)
	if err != nil {
		return "", fmt.Errorf("parsing private key: %w", err)
	}

	now := s.now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		Issuer:    strconv.FormatInt(s.appID, 10),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

func (s *AppTokenSource) generateInstallationToken(ctx context.Context) (string, time.Time, error) {
	signed, err := s.appJWT()
	if err != nil {
		return "", time.Time{}, err
	}

	apiURL := fmt.Sprintf("%s/app/installations/%d/access_tokens", s.baseURL, s.installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, nil)
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Authorization", "Bearer "+signed)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := s.hc.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("requesting installation token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", time.Time{}, &APIError{
			Method:     http.MethodPost,
			Path:       "/app/installations/{id}/access_tokens",
			StatusCode: resp.StatusCode,
			Message:    "failed to get installation token",
		}
	}

	var tokenResp struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", time.Time{}, fmt.Errorf("decoding installation token: %w", err)
	}
	return tokenResp.Token, tokenResp.ExpiresAt, nil
}
