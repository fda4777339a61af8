// Package state persists the agent's credentials and device registration.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// State is the persisted agent identity.
type State struct {
	APIURL       string `json:"apiUrl,omitempty"`
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	TenantID     string `json:"tenantId,omitempty"`
	UserID       string `json:"userId,omitempty"`
	DeviceID     string `json:"deviceId,omitempty"`
}

// LoggedIn reports whether an access token is present.
func (s State) LoggedIn() bool { return s.AccessToken != "" }

// Store guards the state file. Every update rewrites it atomically.
type Store struct {
	mu   sync.Mutex
	path string
	cur  State
}

// Open loads path, starting empty when the file does not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read agent state: %w", err)
	}
	if err := json.Unmarshal(data, &s.cur); err != nil {
		return nil, fmt.Errorf("failed to parse agent state: %w", err)
	}
	return s, nil
}

// Get returns a copy of the current state.
func (s *Store) Get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Update applies fn and persists the result. The in-memory state is left
// unchanged when the write fails.
func (s *Store) Update(fn func(*State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cur
	fn(&next)
	if err := s.save(next); err != nil {
		return err
	}
	s.cur = next
	return nil
}

// Tokens returns the current access and refresh tokens.
func (s *Store) Tokens() (access, refresh string) {
	st := s.Get()
	return st.AccessToken, st.RefreshToken
}

// SaveTokens stores a refreshed token pair.
func (s *Store) SaveTokens(access, refresh string) error {
	return s.Update(func(st *State) {
		st.AccessToken = access
		st.RefreshToken = refresh
	})
}

// DeviceID returns the registered device id, or nil before registration.
func (s *Store) DeviceID() *string {
	st := s.Get()
	if st.DeviceID == "" {
		return nil
	}
	return &st.DeviceID
}

func (s *Store) save(st State) (err error) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to persist agent state: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to persist agent state: %w", err)
	}

	// Same directory so the rename is atomic.
	tmp, err := os.CreateTemp(dir, "state-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to persist agent state: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to persist agent state: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to persist agent state: %w", err)
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to persist agent state: %w", err)
	}
	return nil
}
