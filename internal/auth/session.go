package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/4xmen/cineadmin/internal/db"
	"github.com/4xmen/cineadmin/internal/models"
)

// Namespace is the key the credential and admin profile persist under.
const Namespace = "admin-auth"

type KV interface {
	Get(namespace string) (string, error)
	Put(namespace, value string) error
	Delete(namespace string) error
}

type state struct {
	AccessToken string        `json:"accessToken"`
	Admin       *models.Admin `json:"admin"`
}

// Session is the persisted sign-in state: access token plus admin profile.
type Session struct {
	kv        KV
	now       func() time.Time
	mu        sync.RWMutex
	state     state
	listeners []func(token string)
}

func NewSession(kv KV) (*Session, error) {
	s := &Session{kv: kv, now: time.Now}

	raw, err := kv.Get(Namespace)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return s, nil
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), &s.state); err != nil {
		// a corrupt record is treated as signed out
		s.state = state{}
	}
	return s, nil
}

// OnChange registers fn to be called with the new effective token after
// every SetAuth or Logout.
func (s *Session) OnChange(fn func(token string)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Session) SetAuth(token string, admin *models.Admin) error {
	data, err := json.Marshal(state{AccessToken: token, Admin: admin})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.kv.Put(Namespace, string(data)); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = state{AccessToken: token, Admin: admin}
	listeners := append([]func(string){}, s.listeners...)
	s.mu.Unlock()

	effective := s.Token()
	for _, fn := range listeners {
		fn(effective)
	}
	return nil
}

func (s *Session) Logout() error {
	err := s.kv.Delete(Namespace)

	s.mu.Lock()
	s.state = state{}
	listeners := append([]func(string){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn("")
	}
	return err
}

// Token returns the stored credential, or "" when none is stored or it has
// expired.
func (s *Session) Token() string {
	s.mu.RLock()
	token := s.state.AccessToken
	s.mu.RUnlock()

	if token == "" {
		return ""
	}
	if exp, ok := ExpiresAt(token); ok && !s.now().Before(exp) {
		return ""
	}
	return token
}

func (s *Session) Admin() *models.Admin {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.Admin == nil {
		return nil
	}
	admin := *s.state.Admin
	return &admin
}
