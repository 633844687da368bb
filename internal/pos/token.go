package pos

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Token is a bearer token as returned by the token endpoint and stored in
// the token file.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	ExpiresAt   int64  `json:"expires_at,omitempty"`
}

// stamp fills ExpiresAt from ExpiresIn if the server did not send it.
func (t *Token) stamp(now time.Time) {
	if t.ExpiresAt == 0 && t.ExpiresIn > 0 {
		t.ExpiresAt = now.Unix() + t.ExpiresIn
	}
}

// Valid reports whether the token can still be used at now.
func (t *Token) Valid(now time.Time) bool {
	return t != nil && t.AccessToken != "" && t.ExpiresAt > now.Unix()
}

// loadToken reads the cached token. A missing or unreadable cache yields a
// nil token and no error: the caller simply logs in again.
func loadToken(path string) *Token {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil || len(data) == 0 {
		return nil
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil
	}
	tok.stamp(time.Now())
	return &tok
}

// saveToken writes the token cache, creating its directory if needed.
func saveToken(path string, tok *Token) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("%w: %w", ErrTokenCache, err)
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTokenCache, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("%w: %w", ErrTokenCache, err)
	}
	return nil
}

// clearToken empties the token cache.
func clearToken(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrTokenCache, err)
	}
	return nil
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
