package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/foodscan/internal/classifier"
)

// TokenSource supplies the bearer token issued by the external login flow.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Static is a fixed token.
type Static string

// Token returns the static value.
func (s Static) Token(ctx context.Context) (string, error) {
	return strings.TrimSpace(string(s)), nil
}

// File reads the token from a file on every call so that a refreshed login is
// picked up without restarting.
type File struct {
	Path string
}

// Token returns the trimmed file contents.
func (f File) Token(ctx context.Context) (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: token file %s not found", classifier.ErrAuth, f.Path)
		}
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// NewSource prefers an explicit token over a token file.
func NewSource(token, path string) TokenSource {
	if strings.TrimSpace(token) != "" || strings.TrimSpace(path) == "" {
		return Static(token)
	}
	return File{Path: path}
}

// Preflight rejects tokens that cannot succeed: empty ones, and JWTs whose exp
// claim has passed. Other tokens are treated as opaque and accepted.
func Preflight(token string, now time.Time) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: token missing", classifier.ErrAuth)
	}
	if strings.Count(token, ".") != 2 {
		return nil
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(now) {
		return fmt.Errorf("%w: token expired at %s", classifier.ErrAuth, claims.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// Resolve fetches a token from src and preflights it.
func Resolve(ctx context.Context, src TokenSource) (string, error) {
	token, err := src.Token(ctx)
	if err != nil {
		return "", err
	}
	if err := Preflight(token, time.Now()); err != nil {
		return "", err
	}
	return strings.TrimSpace(token), nil
}
