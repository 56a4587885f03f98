package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrNotLoggedIn is returned when a protected call is attempted without a token.
var ErrNotLoggedIn = errors.New("not logged in")

type state struct {
	Token      string    `json:"token"`
	Email      string    `json:"email,omitempty"`
	LoggedInAt time.Time `json:"logged_in_at"`
}

// Session holds the bearer token shared by every protected request.
// It is set at login, read on each call and cleared at logout.
// When a path is configured the token survives process restarts.
type Session struct {
	path string

	mu      sync.RWMutex
	current state
}

// New returns an empty session persisted at path. An empty path keeps it in memory only.
func New(path string) *Session {
	return &Session{path: path}
}

// Load restores a session from path. A missing file yields a logged-out session.
func Load(path string) (*Session, error) {
	s := New(path)
	if strings.TrimSpace(path) == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}
	if err := json.Unmarshal(data, &s.current); err != nil {
		return nil, fmt.Errorf("invalid session file: %w", err)
	}
	return s, nil
}

// Set stores a fresh token.
func (s *Session) Set(token, email string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token is required")
	}
	next := state{Token: token, Email: email, LoggedInAt: time.Now().UTC()}
	if err := s.write(next); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return nil
}

// Token returns the current token or ErrNotLoggedIn.
func (s *Session) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current.Token == "" {
		return "", ErrNotLoggedIn
	}
	return s.current.Token, nil
}

func (s *Session) Email() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Email
}

func (s *Session) LoggedIn() bool {
	_, err := s.Token()
	return err == nil
}

// Clear forgets the token and removes the persisted copy.
func (s *Session) Clear() error {
	s.mu.Lock()
	s.current = state{}
	s.mu.Unlock()

	if strings.TrimSpace(s.path) == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

func (s *Session) write(next state) error {
	if strings.TrimSpace(s.path) == "" {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}

	content, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}
