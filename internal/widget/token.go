package widget

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Token is what the widget remembers between visits.
type Token struct {
	SessionID       string `json:"session_id"`
	CustomerContact string `json:"customer_contact"`
}

// TokenStore persists the customer's Token. Load returns nil, nil when
// nothing is stored.
type TokenStore interface {
	Load() (*Token, error)
	Save(Token) error
	Clear() error
}

// FileTokenStore keeps the token as JSON under the user's config directory.
type FileTokenStore struct {
	path string
}

// NewFileTokenStore uses path, or <config dir>/pixode/support-session.json
// when path is empty.
func NewFileTokenStore(path string) (*FileTokenStore, error) {
	if path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user config dir: %w", err)
		}
		path = filepath.Join(configDir, "pixode", "support-session.json")
	}
	return &FileTokenStore{path: path}, nil
}

func (s *FileTokenStore) Path() string { return s.path }

func (s *FileTokenStore) Load() (*Token, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session token: %w", err)
	}

	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("failed to parse session token: %w", err)
	}
	if tok.SessionID == "" && tok.CustomerContact == "" {
		return nil, nil
	}
	return &tok, nil
}

func (s *FileTokenStore) Save(tok Token) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session token: %w", err)
	}
	// The contact is personal data.
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session token: %w", err)
	}
	return nil
}

func (s *FileTokenStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session token: %w", err)
	}
	return nil
}

// MemoryTokenStore forgets everything when the process exits.
type MemoryTokenStore struct {
	mu  sync.Mutex
	tok *Token
}

func (s *MemoryTokenStore) Load() (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tok == nil {
		return nil, nil
	}
	cp := *s.tok
	return &cp, nil
}

func (s *MemoryTokenStore) Save(tok Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = &tok
	return nil
}

func (s *MemoryTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = nil
	return nil
}
