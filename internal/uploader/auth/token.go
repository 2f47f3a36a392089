// Package auth supplies and validates the bearer token used for CMS calls.
//
// The client never verifies the token signature (the server does that); it
// only inspects the expiry claim so an obviously dead credential is not put
// on the wire.
package auth

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/afero"
)

// now is a test seam.
var now = time.Now

// TokenSource yields the current bearer token, if any.
type TokenSource interface {
	// Current returns the stored token, or "" when the user is logged out.
	Current() (string, error)
}

// IsExpired reports whether token will be expired leeway from now.
// Unparsable tokens and tokens without an exp claim count as expired, so a
// bad credential fails closed instead of reaching the server.
func IsExpired(token string, leeway time.Duration) bool {
	if token == "" {
		return true
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}

	return !now().Add(leeway).Before(exp.Time)
}

// Store is a file-backed TokenSource kept in the app's data directory, the
// desktop analog of the mobile keychain slot.
type Store struct {
	fs   afero.Fs
	path string
}

func NewStore(fs afero.Fs, path string) *Store {
	return &Store{fs: fs, path: path}
}

// Current returns the stored token. A missing file means logged out, not an
// error.
func (s *Store) Current() (string, error) {
	b, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Save persists the token, replacing any previous one.
func (s *Store) Save(token string) error {
	if err := afero.WriteFile(s.fs, s.path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

// Clear removes the stored token. Clearing an absent token is a no-op.
func (s *Store) Clear() error {
	err := s.fs.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token: %w", err)
	}
	return nil
}
