package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mediasim/internal/simerr"
)

// SessionEnv overrides where the session file lives.
const SessionEnv = "SIMCTL_SESSION"

// Session remembers which API server simctl talks to and the admin token it
// presents.
type Session struct {
	APIBaseURL string    `json:"api_base_url"`
	AdminToken string    `json:"admin_token,omitempty"`
	SavedAt    time.Time `json:"saved_at"`
}

// SessionPath is $SIMCTL_SESSION, or ~/.simctl/session.json.
func SessionPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(SessionEnv)); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".simctl", "session.json"), nil
}

// normalizeBaseURL accepts an absolute http(s) URL and drops trailing slashes.
func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: api url %q must be an absolute http(s) url", simerr.ErrInvalidArgument, raw)
	}
	return raw, nil
}

// SaveSession writes s with a normalized URL and the current time.
func SaveSession(s Session) (Session, error) {
	base, err := normalizeBaseURL(s.APIBaseURL)
	if err != nil {
		return Session{}, err
	}
	s.APIBaseURL = base
	s.AdminToken = strings.TrimSpace(s.AdminToken)
	s.SavedAt = time.Now().UTC().Truncate(time.Second)

	path, err := SessionPath()
	if err != nil {
		return Session{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return Session{}, err
	}
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return Session{}, err
	}
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return Session{}, err
	}
	return s, nil
}

// LoadSession reads the saved session. A missing file wraps fs.ErrNotExist.
func LoadSession() (Session, error) {
	path, err := SessionPath()
	if err != nil {
		return Session{}, err
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return Session{}, fmt.Errorf("read session %s: %w", path, err)
	}
	if _, err := normalizeBaseURL(s.APIBaseURL); err != nil {
		return Session{}, fmt.Errorf("session %s: %w", path, err)
	}
	return s, nil
}

// ClearSession removes the session file and reports whether one existed.
func ClearSession() (bool, error) {
	path, err := SessionPath()
	if err != nil {
		return false, err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}
